package assignment

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/engagement-simulator/core"
	"github.com/signalsfoundry/engagement-simulator/internal/hierarchy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAgent struct {
	id    string
	state core.KinematicState
}

func (a *fakeAgent) ID() string                 { return a.id }
func (a *fakeAgent) State() core.KinematicState { return a.state }
func (a *fakeAgent) IsTerminated() bool         { return false }

func node(tree *hierarchy.Tree, id string, pos, vel core.Vec3) hierarchy.NodeID {
	return tree.NewAgentNode(&fakeAgent{id: id, state: core.KinematicState{Position: pos, Velocity: vel}})
}

type fakeRecorder struct {
	mu       sync.Mutex
	pairs    map[string]int
	failures map[string]int
	clamps   int
	depth    int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{pairs: map[string]int{}, failures: map[string]int{}}
}

func (r *fakeRecorder) ObserveAssignment(strategy string, pairs int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairs[strategy] += pairs
}

func (r *fakeRecorder) IncSolverFailures(strategy string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[strategy]++
}

func (r *fakeRecorder) AddCostClamps(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clamps += n
}

func (r *fakeRecorder) SetQueueDepth(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.depth = n
}

type failingSolver struct{}

func (failingSolver) Solve(context.Context, [][]float64) (Status, []Pair) { return StatusFailed, nil }

func totalCost(costs [][]float64, pairs []Pair) float64 {
	sum := 0.0
	for _, p := range pairs {
		sum += costs[p.Row][p.Col]
	}
	return sum
}

// bruteForce returns the minimum cost over all matchings of size
// min(rows, cols).
func bruteForce(costs [][]float64) float64 {
	rows, cols := len(costs), len(costs[0])
	if rows > cols {
		return bruteForce(transpose(costs))
	}
	used := make([]bool, cols)
	best := math.Inf(1)
	var walk func(row int, sum float64)
	walk = func(row int, sum float64) {
		if row == rows {
			best = math.Min(best, sum)
			return
		}
		for c := 0; c < cols; c++ {
			if used[c] {
				continue
			}
			used[c] = true
			walk(row+1, sum+costs[row][c])
			used[c] = false
		}
	}
	walk(0, 0)
	return best
}

func requireValidMatching(t *testing.T, rows, cols int, pairs []Pair) {
	t.Helper()
	require.LessOrEqual(t, len(pairs), min(rows, cols))
	seenRow, seenCol := map[int]bool{}, map[int]bool{}
	for _, p := range pairs {
		require.False(t, seenRow[p.Row], "row %d matched twice", p.Row)
		require.False(t, seenCol[p.Col], "col %d matched twice", p.Col)
		seenRow[p.Row], seenCol[p.Col] = true, true
	}
}

func TestHungarianSolverKnownMatrix(t *testing.T) {
	costs := [][]float64{
		{4, 1, 3},
		{2, 0, 5},
		{3, 2, 2},
	}
	status, pairs := HungarianSolver{}.Solve(context.Background(), costs)
	require.Equal(t, StatusOK, status)
	require.Len(t, pairs, 3)
	assert.InDelta(t, 5, totalCost(costs, pairs), 1e-9)
}

func TestHungarianSolverMatchesBruteForce(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	for trial := 0; trial < 200; trial++ {
		rows, cols := 1+r.IntN(6), 1+r.IntN(6)
		costs := make([][]float64, rows)
		for i := range costs {
			costs[i] = make([]float64, cols)
			for j := range costs[i] {
				costs[i][j] = math.Round(r.Float64()*1000) - 200
			}
		}
		status, pairs := HungarianSolver{}.Solve(context.Background(), costs)
		require.Equal(t, StatusOK, status)
		require.Len(t, pairs, min(rows, cols))
		requireValidMatching(t, rows, cols, pairs)
		assert.InDelta(t, bruteForce(costs), totalCost(costs, pairs), 1e-6, "trial %d (%dx%d)", trial, rows, cols)
	}
}

func TestHungarianSolverRejectsBadInput(t *testing.T) {
	ctx := context.Background()

	status, _ := HungarianSolver{}.Solve(ctx, [][]float64{{1, math.NaN()}, {0, 1}})
	assert.Equal(t, StatusFailed, status)

	status, _ = HungarianSolver{}.Solve(ctx, [][]float64{{1, 2}, {3}})
	assert.Equal(t, StatusFailed, status)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	status, _ = HungarianSolver{}.Solve(cancelled, [][]float64{{1}})
	assert.Equal(t, StatusFailed, status)

	status, pairs := HungarianSolver{}.Solve(ctx, nil)
	assert.Equal(t, StatusOK, status)
	assert.Empty(t, pairs)
}

func TestCostBasedProducesValidMatching(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 5))
	for trial := 0; trial < 25; trial++ {
		tree := hierarchy.NewTree()
		var first, second []hierarchy.NodeID
		for i := 0; i < 1+r.IntN(8); i++ {
			first = append(first, node(tree, "f"+string(rune('a'+i)), core.Vec3{X: r.Float64() * 1e4, Z: r.Float64() * 1e4}, core.Vec3{Z: 300}))
		}
		for i := 0; i < 1+r.IntN(8); i++ {
			second = append(second, node(tree, "s"+string(rune('a'+i)), core.Vec3{X: r.Float64() * 1e4, Z: 2e4}, core.Vec3{Z: -200}))
		}
		for _, a := range []*CostBased{NewMinDistance(tree, nil, nil), NewMaxSpeed(tree, nil, nil)} {
			items := a.Assign(context.Background(), first, second)
			require.Len(t, items, min(len(first), len(second)))
			seenFirst, seenSecond := map[hierarchy.NodeID]bool{}, map[hierarchy.NodeID]bool{}
			for _, it := range items {
				require.False(t, seenFirst[it.First])
				require.False(t, seenSecond[it.Second])
				seenFirst[it.First], seenSecond[it.Second] = true, true
			}
		}
	}
}

func TestMinDistancePrefersNearestPairs(t *testing.T) {
	tree := hierarchy.NewTree()
	a := node(tree, "a", core.Vec3{}, core.Vec3{})
	b := node(tree, "b", core.Vec3{X: 1000}, core.Vec3{})
	x := node(tree, "x", core.Vec3{X: 1000, Z: 10}, core.Vec3{})
	y := node(tree, "y", core.Vec3{Z: 10}, core.Vec3{})

	rec := newFakeRecorder()
	items := NewMinDistance(tree, nil, rec).Assign(context.Background(), []hierarchy.NodeID{a, b}, []hierarchy.NodeID{x, y})
	assert.Equal(t, []Item{{First: a, Second: y}, {First: b, Second: x}}, items)
	assert.Equal(t, 2, rec.pairs["min_distance"])
	assert.Zero(t, rec.clamps)
}

func TestCostBasedSolverFailureYieldsNothing(t *testing.T) {
	tree := hierarchy.NewTree()
	a := node(tree, "a", core.Vec3{}, core.Vec3{})
	x := node(tree, "x", core.Vec3{Z: 1}, core.Vec3{})

	rec := newFakeRecorder()
	assigner := &CostBased{Name: "test", Tree: tree, Cost: MinDistanceCost, Solver: failingSolver{}, Metrics: rec}
	assert.Empty(t, assigner.Assign(context.Background(), []hierarchy.NodeID{a}, []hierarchy.NodeID{x}))
	assert.Equal(t, 1, rec.failures["test"])
	assert.Zero(t, rec.pairs["test"])
}

func TestCostBasedClampsCosts(t *testing.T) {
	tree := hierarchy.NewTree()
	a := node(tree, "a", core.Vec3{}, core.Vec3{})
	b := node(tree, "b", core.Vec3{}, core.Vec3{})
	x := node(tree, "x", core.Vec3{}, core.Vec3{})

	huge := func(_ *hierarchy.Tree, first, _ hierarchy.NodeID) float64 {
		if first == a {
			return math.Inf(1)
		}
		return -1e15
	}
	rec := newFakeRecorder()
	assigner := &CostBased{Name: "huge", Tree: tree, Cost: huge, Solver: HungarianSolver{}, Metrics: rec}
	items := assigner.Assign(context.Background(), []hierarchy.NodeID{a, b}, []hierarchy.NodeID{x})
	assert.Equal(t, []Item{{First: b, Second: x}}, items)
	assert.Equal(t, 2, rec.clamps)
}

func TestCostBasedEmptyInputs(t *testing.T) {
	tree := hierarchy.NewTree()
	a := node(tree, "a", core.Vec3{}, core.Vec3{})
	assigner := NewMinDistance(tree, nil, nil)
	assert.Empty(t, assigner.Assign(context.Background(), nil, []hierarchy.NodeID{a}))
	assert.Empty(t, assigner.Assign(context.Background(), []hierarchy.NodeID{a}, nil))
}

func TestRoundRobin(t *testing.T) {
	tree := hierarchy.NewTree()
	a, b, c := tree.NewNode("A"), tree.NewNode("B"), tree.NewNode("C")
	x, y := tree.NewNode("X"), tree.NewNode("Y")

	items := RoundRobin{}.Assign(context.Background(), []hierarchy.NodeID{a, b, c}, []hierarchy.NodeID{x, y})
	assert.Equal(t, []Item{{a, x}, {b, y}, {c, x}}, items)
	assert.Empty(t, RoundRobin{}.Assign(context.Background(), []hierarchy.NodeID{a}, nil))
	assert.Empty(t, RoundRobin{}.Assign(context.Background(), nil, []hierarchy.NodeID{x}))
}

func TestThreatPriorityPrefersUncoveredThenDangerous(t *testing.T) {
	tree := hierarchy.NewTree()
	slowFar := node(tree, "slow-far", core.Vec3{Z: 10000}, core.Vec3{Z: -100})
	fastNear := node(tree, "fast-near", core.Vec3{Z: 2000}, core.Vec3{Z: -400})
	covered := node(tree, "covered", core.Vec3{Z: 500}, core.Vec3{Z: -500})
	p1 := node(tree, "p1", core.Vec3{}, core.Vec3{})
	p2 := node(tree, "p2", core.Vec3{}, core.Vec3{})
	p3 := node(tree, "p3", core.Vec3{}, core.Vec3{})
	p4 := node(tree, "p4", core.Vec3{}, core.Vec3{})
	existing := node(tree, "existing", core.Vec3{}, core.Vec3{})
	require.NoError(t, tree.SetTarget(existing, covered))

	a := ThreatPriority{Tree: tree}
	items := a.Assign(context.Background(),
		[]hierarchy.NodeID{p1, p2, p3, p4},
		[]hierarchy.NodeID{slowFar, covered, fastNear},
	)
	assert.Equal(t, []Item{{p1, fastNear}, {p2, slowFar}, {p3, covered}, {p4, fastNear}}, items)
}

func TestThreatLevel(t *testing.T) {
	assert.InDelta(t, 0.1, ThreatLevel(core.KinematicState{Position: core.Vec3{Z: 1000}, Velocity: core.Vec3{X: 100}}, core.Vec3{}), 1e-12)
	assert.Zero(t, ThreatLevel(core.KinematicState{}, core.Vec3{}))
}

type blockingAssigner struct{ release chan struct{} }

func (b blockingAssigner) Assign(ctx context.Context, _, _ []hierarchy.NodeID) []Item {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil
}

func TestAssignAsyncDeliversResult(t *testing.T) {
	tree := hierarchy.NewTree()
	a, x := tree.NewNode("a"), tree.NewNode("x")

	select {
	case res := <-AssignAsync(context.Background(), RoundRobin{}, []hierarchy.NodeID{a}, []hierarchy.NodeID{x}):
		require.NoError(t, res.Err)
		assert.Equal(t, []Item{{a, x}}, res.Items)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for assignment")
	}
}

func TestAssignAsyncCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := AssignAsync(ctx, blockingAssigner{release: make(chan struct{})}, nil, nil)
	cancel()

	select {
	case res := <-ch:
		assert.ErrorIs(t, res.Err, context.Canceled)
		assert.Nil(t, res.Items)
	case <-time.After(time.Second):
		t.Fatal("cancellation did not resolve the future")
	}
}

func TestQueueDrainsInBatches(t *testing.T) {
	tree := hierarchy.NewTree()
	ids := make([]hierarchy.NodeID, 5)
	for i := range ids {
		ids[i] = tree.NewNode("p")
	}
	rec := newFakeRecorder()
	q := NewQueue(2, rec)
	q.Push(ids...)
	q.Push(ids[0])
	require.Equal(t, 5, q.Len())
	assert.Equal(t, 5, rec.depth)

	var seen []hierarchy.NodeID
	handled := q.Drain(func(id hierarchy.NodeID) bool {
		seen = append(seen, id)
		return id != ids[0]
	})
	assert.Equal(t, 1, handled)
	assert.Equal(t, ids[:2], seen)
	assert.Equal(t, 4, q.Len())
	assert.Equal(t, 4, rec.depth)

	seen = nil
	q.Drain(func(id hierarchy.NodeID) bool {
		seen = append(seen, id)
		return true
	})
	assert.Equal(t, []hierarchy.NodeID{ids[2], ids[3]}, seen)

	q.Drain(func(hierarchy.NodeID) bool { return true })
	assert.Zero(t, q.Len())
	assert.Zero(t, rec.depth)
}

func TestAssignAsyncPreparesCostsSynchronously(t *testing.T) {
	tree := hierarchy.NewTree()
	a := node(tree, "a", core.Vec3{}, core.Vec3{})
	x := node(tree, "x", core.Vec3{Z: 100}, core.Vec3{})
	calls := 0
	counting := func(tree *hierarchy.Tree, first, second hierarchy.NodeID) float64 {
		calls++
		return MinDistanceCost(tree, first, second)
	}
	assigner := &CostBased{Name: "counting", Tree: tree, Cost: counting}

	ch := AssignAsync(context.Background(), assigner, []hierarchy.NodeID{a}, []hierarchy.NodeID{x})
	assert.Equal(t, 1, calls, "costs must be computed before AssignAsync returns")
	res := <-ch
	require.NoError(t, res.Err)
	assert.Equal(t, []Item{{a, x}}, res.Items)
}
