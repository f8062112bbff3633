package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/signalsfoundry/engagement-simulator/core"
	"github.com/signalsfoundry/engagement-simulator/internal/cluster"
	"github.com/signalsfoundry/engagement-simulator/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAgent struct {
	id    string
	state core.KinematicState
	dead  bool
	perf  model.Performance
}

func (a *fakeAgent) ID() string                     { return a.id }
func (a *fakeAgent) State() core.KinematicState     { return a.state }
func (a *fakeAgent) IsTerminated() bool             { return a.dead }
func (a *fakeAgent) Performance() model.Performance { return a.perf }

func at(id string, p core.Vec3) *fakeAgent {
	return &fakeAgent{id: id, state: core.KinematicState{Position: p}}
}

type recordedRefresh struct {
	algorithm string
	clusters  int
}

type fakeRecorder struct {
	refreshes []recordedRefresh
}

func (r *fakeRecorder) ObserveClusterRefresh(algorithm string, clusters int, _ time.Duration) {
	r.refreshes = append(r.refreshes, recordedRefresh{algorithm, clusters})
}

func requireSymmetric(t *testing.T, tree *Tree, ids []NodeID) {
	t.Helper()
	for _, a := range ids {
		for _, b := range ids {
			targets := tree.Target(a) == b
			pursues := false
			for _, p := range tree.Pursuers(b) {
				if p == a {
					pursues = true
				}
			}
			require.Equal(t, targets, pursues, "target/pursuer asymmetry between %s and %s", tree.Label(a), tree.Label(b))
		}
	}
}

func TestTargetPursuerSymmetry(t *testing.T) {
	tree := NewTree()
	ids := make([]NodeID, 6)
	for i := range ids {
		ids[i] = tree.NewNode(fmt.Sprintf("n%d", i))
	}

	r := cluster.NewRand(42)
	for step := 0; step < 500; step++ {
		a := ids[r.IntN(len(ids))]
		if r.IntN(4) == 0 {
			tree.ClearTarget(a)
		} else {
			require.NoError(t, tree.SetTarget(a, ids[r.IntN(len(ids))]))
		}
		requireSymmetric(t, tree, ids)
	}
}

func TestSetTargetUnknownNode(t *testing.T) {
	tree := NewTree()
	a := tree.NewNode("a")
	err := tree.SetTarget(a, NodeID{1})
	assert.True(t, errors.Is(err, ErrNodeNotFound))
	assert.True(t, tree.Target(a).IsNil())
}

func TestDerivedKinematicsFollowActiveChildren(t *testing.T) {
	tree := NewTree()
	a := &fakeAgent{id: "a", state: core.KinematicState{Position: core.Vec3{X: 10}, Velocity: core.Vec3{Z: 2}}}
	b := &fakeAgent{id: "b", state: core.KinematicState{Position: core.Vec3{X: 20}, Velocity: core.Vec3{Z: 4}}}
	group := tree.NewNode("group")
	require.NoError(t, tree.AddChild(group, tree.NewAgentNode(a)))
	require.NoError(t, tree.AddChild(group, tree.NewAgentNode(b)))

	assert.Equal(t, core.Vec3{X: 15}, tree.Position(group))
	assert.Equal(t, core.Vec3{Z: 3}, tree.Velocity(group))
	assert.InDelta(t, 3, tree.Speed(group), 1e-12)
	assert.False(t, tree.IsTerminated(group))

	a.dead = true
	assert.Equal(t, core.Vec3{X: 20}, tree.Position(group))
	assert.Len(t, tree.ActiveChildren(group), 1)

	b.dead = true
	assert.Equal(t, core.KinematicState{}, tree.State(group))
	assert.True(t, tree.IsTerminated(group))

	assert.True(t, tree.IsTerminated(tree.NewNode("empty")))
}

func TestAddChildRejectsCycles(t *testing.T) {
	tree := NewTree()
	a, b, c := tree.NewNode("a"), tree.NewNode("b"), tree.NewNode("c")
	require.NoError(t, tree.AddChild(a, b))
	require.NoError(t, tree.AddChild(b, c))
	require.NoError(t, tree.AddChild(a, b))
	assert.Len(t, tree.Children(a), 1)

	assert.ErrorIs(t, tree.AddChild(c, a), ErrCycle)
	assert.ErrorIs(t, tree.AddChild(a, a), ErrCycle)
	assert.ErrorIs(t, tree.AddChild(a, NodeID{9}), ErrNodeNotFound)
}

func TestResolveTargetClearsStaleReference(t *testing.T) {
	tree := NewTree()
	threat := at("t1", core.Vec3{})
	pursuer := tree.NewAgentNode(at("i1", core.Vec3{}))
	target := tree.NewAgentNode(threat)
	require.NoError(t, tree.SetTarget(pursuer, target))

	got, ok := tree.ResolveTarget(pursuer)
	require.True(t, ok)
	assert.Equal(t, target, got)

	threat.dead = true
	_, ok = tree.ResolveTarget(pursuer)
	assert.False(t, ok)
	assert.True(t, tree.Target(pursuer).IsNil())
	assert.Empty(t, tree.Pursuers(target))
}

func TestHandleTerminatedDetachesNode(t *testing.T) {
	tree := NewTree()
	threat := tree.NewAgentNode(at("t1", core.Vec3{}))
	p1 := tree.NewAgentNode(at("i1", core.Vec3{}))
	p2 := tree.NewAgentNode(at("i2", core.Vec3{}))
	group := tree.NewNode("swarm")
	require.NoError(t, tree.AddChild(group, threat))
	require.NoError(t, tree.SetTarget(p1, threat))
	require.NoError(t, tree.SetTarget(p2, threat))
	require.NoError(t, tree.SetTarget(threat, p1))
	tree.AddLaunched(p1, p2)

	orphaned := tree.HandleTerminated("t1")
	assert.ElementsMatch(t, []NodeID{p1, p2}, orphaned)
	assert.False(t, tree.Exists(threat))
	assert.True(t, tree.Target(p1).IsNil())
	assert.True(t, tree.Target(p2).IsNil())
	assert.Empty(t, tree.Pursuers(p1))
	assert.Empty(t, tree.Children(group))
	_, ok := tree.NodeForAgent("t1")
	assert.False(t, ok)

	assert.Nil(t, tree.HandleTerminated("unknown"))
}

func TestPerformanceFallsBackToFirstActiveAgent(t *testing.T) {
	tree := NewTree()
	a := &fakeAgent{id: "a", dead: true, perf: model.Performance{Mass: 1}}
	b := &fakeAgent{id: "b", perf: model.Performance{Mass: 2}}
	group := tree.NewNode("g")
	require.NoError(t, tree.AddChild(group, tree.NewAgentNode(a)))
	require.NoError(t, tree.AddChild(group, tree.NewAgentNode(b)))

	p, ok := tree.Performance(group)
	require.True(t, ok)
	assert.Equal(t, 2.0, p.Mass)
}

func TestRefKinematics(t *testing.T) {
	tree := NewTree()
	a := at("a", core.Vec3{Y: 5})
	id := tree.NewAgentNode(a)

	s, ok := tree.Ref(id).Kinematics()
	require.True(t, ok)
	assert.Equal(t, core.Vec3{Y: 5}, s.Position)

	a.dead = true
	_, ok = tree.Ref(id).Kinematics()
	assert.False(t, ok)
}

func TestIsEscapingPursuers(t *testing.T) {
	tree := NewTree()
	asset := tree.NewAgentNode(at("asset", core.Vec3{Z: 1000}))
	threat := tree.NewAgentNode(&fakeAgent{id: "t", state: core.KinematicState{Velocity: core.Vec3{Z: 100}}})
	require.NoError(t, tree.SetTarget(threat, asset))

	chaser := tree.NewAgentNode(&fakeAgent{id: "chaser", state: core.KinematicState{
		Position: core.Vec3{Z: -5000}, Velocity: core.Vec3{Z: 200},
	}})
	require.NoError(t, tree.SetTarget(chaser, threat))
	assert.True(t, tree.IsEscapingPursuers(threat))

	blocker := tree.NewAgentNode(&fakeAgent{id: "blocker", state: core.KinematicState{
		Position: core.Vec3{Z: 500}, Velocity: core.Vec3{Z: -300},
	}})
	require.NoError(t, tree.SetTarget(blocker, threat))
	assert.False(t, tree.IsEscapingPursuers(threat))
}

func TestIsEscapingPursuersStationaryEngager(t *testing.T) {
	tree := NewTree()
	asset := tree.NewAgentNode(at("asset", core.Vec3{Z: 1000}))
	threat := tree.NewAgentNode(&fakeAgent{id: "t", state: core.KinematicState{Velocity: core.Vec3{Z: 100}}})
	require.NoError(t, tree.SetTarget(threat, asset))

	// Parked beyond the asset: the threat closes on it but never meets it.
	parked := tree.NewAgentNode(at("parked", core.Vec3{Z: 3000}))
	require.NoError(t, tree.SetTarget(parked, threat))
	assert.True(t, tree.IsEscapingPursuers(threat))
}

func TestEngagersIncludeGroupPursuers(t *testing.T) {
	tree := NewTree()
	asset := tree.NewAgentNode(at("asset", core.Vec3{Z: 1000}))
	threat := tree.NewAgentNode(&fakeAgent{id: "t", state: core.KinematicState{Velocity: core.Vec3{Z: 100}}})
	require.NoError(t, tree.SetTarget(threat, asset))
	group := tree.NewNode("cluster")
	swarm := tree.NewNode("swarm")
	require.NoError(t, tree.AddChild(group, threat))
	require.NoError(t, tree.AddChild(swarm, group))

	carrier := tree.NewAgentNode(&fakeAgent{id: "carrier", state: core.KinematicState{
		Position: core.Vec3{Z: 500}, Velocity: core.Vec3{Z: -300},
	}})
	require.NoError(t, tree.SetTarget(carrier, group))
	launcher := tree.NewAgentNode(at("launcher", core.Vec3{Z: -8000}))
	require.NoError(t, tree.SetTarget(launcher, swarm))

	assert.Empty(t, tree.ActivePursuers(threat))
	assert.ElementsMatch(t, []NodeID{carrier, launcher}, tree.Engagers(threat))
	assert.Equal(t, []NodeID{group}, tree.Parents(threat))
	assert.False(t, tree.IsEscapingPursuers(threat), "the carrier chasing the cluster blocks the threat")
}

type engagement struct {
	tree     *Tree
	launcher NodeID
	swarm    NodeID
	threats  []*fakeAgent
}

// newEngagement builds a launcher targeting a swarm of two tight groups of
// three threats, 5 km apart.
func newEngagement(t *testing.T, opts ...Option) *engagement {
	t.Helper()
	tree := NewTree(opts...)
	e := &engagement{tree: tree, swarm: tree.NewNode("swarm")}
	e.launcher = tree.NewAgentNode(at("launcher", core.Vec3{}))
	centres := []core.Vec3{{Z: 5000}, {X: 5000, Z: 5000}}
	for g, c := range centres {
		for i := 0; i < 3; i++ {
			a := at(fmt.Sprintf("t%d%d", g, i), c.Add(core.Vec3{X: float64(i) * 10}))
			e.threats = append(e.threats, a)
			require.NoError(t, tree.AddChild(e.swarm, tree.NewAgentNode(a)))
		}
	}
	require.NoError(t, tree.SetTarget(e.launcher, e.swarm))
	return e
}

// clusterNear returns the cluster targeted by one of the launcher's slots
// that lies within 100 m of p.
func (e *engagement) clusterNear(t *testing.T, p core.Vec3) NodeID {
	t.Helper()
	for _, slot := range e.tree.Slots(e.launcher) {
		target := e.tree.Target(slot)
		if e.tree.Position(target).DistanceTo(p) < 100 {
			return target
		}
	}
	t.Fatalf("no cluster near %v", p)
	return Nil
}

func (e *engagement) slotFor(t *testing.T, cluster NodeID) NodeID {
	t.Helper()
	for _, slot := range e.tree.Slots(e.launcher) {
		if e.tree.Target(slot) == cluster {
			return slot
		}
	}
	t.Fatalf("no slot for cluster %s", cluster)
	return Nil
}

func TestRecursiveClusterSplitsTargets(t *testing.T) {
	rec := &fakeRecorder{}
	e := newEngagement(t, WithMetricsRecorder(rec))

	require.NoError(t, e.tree.RecursiveCluster(context.Background(), e.launcher, 3))

	slots := e.tree.Slots(e.launcher)
	require.Len(t, slots, 2)
	for _, slot := range slots {
		assert.Len(t, e.tree.ActiveChildren(e.tree.Target(slot)), 3)
	}
	require.Len(t, rec.refreshes, 1)
	assert.Equal(t, recordedRefresh{algorithmAgglomerative, 2}, rec.refreshes[0])
}

func TestRecursiveClusterConstrainedKMeans(t *testing.T) {
	rec := &fakeRecorder{}
	e := newEngagement(t,
		WithClusterConfig(ClusterConfig{Compact: CompactConstrainedKMeans, MaxRadius: 1000}),
		WithRand(cluster.NewRand(3)),
		WithMetricsRecorder(rec),
	)

	require.NoError(t, e.tree.RecursiveCluster(context.Background(), e.launcher, 3))

	slots := e.tree.Slots(e.launcher)
	require.Len(t, slots, 2)
	for _, slot := range slots {
		assert.Len(t, e.tree.ActiveChildren(e.tree.Target(slot)), 3)
	}
	require.Len(t, rec.refreshes, 1)
	assert.Equal(t, recordedRefresh{algorithmConstrainedKMeans, 2}, rec.refreshes[0])
}

func TestRecursiveClusterLeavesSmallTargetsAlone(t *testing.T) {
	e := newEngagement(t)
	require.NoError(t, e.tree.RecursiveCluster(context.Background(), e.launcher, 6))
	assert.Empty(t, e.tree.Children(e.launcher))
	assert.ErrorIs(t, e.tree.RecursiveCluster(context.Background(), NodeID{7}, 3), ErrNodeNotFound)
}

func TestRefreshClustersReplacesSlots(t *testing.T) {
	e := newEngagement(t)
	ctx := context.Background()
	require.NoError(t, e.tree.RecursiveCluster(ctx, e.launcher, 3))
	before := e.tree.Len()

	e.threats[0].dead = true
	require.NoError(t, e.tree.RefreshClusters(ctx, e.launcher, 3))

	slots := e.tree.Slots(e.launcher)
	require.Len(t, slots, 2)
	sizes := []int{
		len(e.tree.ActiveChildren(e.tree.Target(slots[0]))),
		len(e.tree.ActiveChildren(e.tree.Target(slots[1]))),
	}
	assert.ElementsMatch(t, []int{2, 3}, sizes)
	assert.Equal(t, before, e.tree.Len(), "retired slots and clusters must leave the arena")

	e.threats[3].dead = true
	e.threats[4].dead = true
	require.NoError(t, e.tree.RefreshClusters(ctx, e.launcher, 3))
	assert.Empty(t, e.tree.Children(e.launcher))
	assert.Equal(t, 8, e.tree.Len())
}

func TestRefreshClustersKeepsCoverage(t *testing.T) {
	e := newEngagement(t)
	ctx := context.Background()
	require.NoError(t, e.tree.RecursiveCluster(ctx, e.launcher, 3))
	sub := e.tree.NewAgentNode(at("i1", core.Vec3{}))
	require.True(t, e.tree.AssignNewTarget(e.launcher, sub, 1))
	chased := e.tree.Target(sub)

	require.NoError(t, e.tree.RefreshClusters(ctx, e.launcher, 3))
	assert.Equal(t, chased, e.tree.Target(sub), "pursuer keeps chasing the retired cluster")
	assert.False(t, e.tree.IsTerminated(chased))

	covered := 0
	for _, slot := range e.tree.Slots(e.launcher) {
		if launched := e.tree.Launched(slot); len(launched) > 0 {
			assert.Equal(t, []NodeID{sub}, launched)
			assert.ElementsMatch(t, e.tree.ActiveChildren(chased), e.tree.ActiveChildren(e.tree.Target(slot)))
			covered++
		}
	}
	assert.Equal(t, 1, covered)
}

func TestRefreshClustersUsesPartitioningForDenseTargets(t *testing.T) {
	rec := &fakeRecorder{}
	e := newEngagement(t,
		WithClusterConfig(ClusterConfig{MaxSubNodes: 2}),
		WithRand(cluster.NewRand(1)),
		WithMetricsRecorder(rec),
	)
	require.NoError(t, e.tree.RefreshClusters(context.Background(), e.launcher, 2))

	require.Len(t, rec.refreshes, 1)
	assert.Equal(t, algorithmFuzzy, rec.refreshes[0].algorithm)

	total := 0
	for _, slot := range e.tree.Slots(e.launcher) {
		total += len(e.tree.ActiveChildren(e.tree.Target(slot)))
	}
	assert.Equal(t, 6, total)
	assert.LessOrEqual(t, len(e.tree.Slots(e.launcher)), 2)
}

func TestAssignNewTargetPicksNearestUncoveredSlot(t *testing.T) {
	e := newEngagement(t)
	require.NoError(t, e.tree.RecursiveCluster(context.Background(), e.launcher, 3))
	clusterA := e.clusterNear(t, core.Vec3{X: 10, Z: 5000})
	clusterB := e.clusterNear(t, core.Vec3{X: 5010, Z: 5000})

	sub1 := e.tree.NewAgentNode(at("i1", core.Vec3{X: 5000, Z: 4000}))
	sub2 := e.tree.NewAgentNode(at("i2", core.Vec3{}))
	sub3 := e.tree.NewAgentNode(at("i3", core.Vec3{}))

	require.True(t, e.tree.AssignNewTarget(e.launcher, sub1, 1))
	assert.Equal(t, clusterB, e.tree.Target(sub1))
	require.True(t, e.tree.AssignNewTarget(e.launcher, sub2, 1))
	assert.Equal(t, clusterA, e.tree.Target(sub2))
	assert.Equal(t, []NodeID{sub2}, e.tree.Launched(e.slotFor(t, clusterA)))

	assert.False(t, e.tree.AssignNewTarget(e.launcher, sub3, 1))
	assert.True(t, e.tree.Target(sub3).IsNil())
	assert.False(t, e.tree.AssignNewTarget(e.launcher, sub3, 0))
}

func TestReassignTargetOnlyMovesRedundantPursuers(t *testing.T) {
	e := newEngagement(t)
	require.NoError(t, e.tree.RecursiveCluster(context.Background(), e.launcher, 3))
	clusterA := e.clusterNear(t, core.Vec3{X: 10, Z: 5000})
	clusterB := e.clusterNear(t, core.Vec3{X: 5010, Z: 5000})

	a1 := at("i1", core.Vec3{X: 5000, Z: 4000})
	a2 := at("i2", core.Vec3{})
	sub1 := e.tree.NewAgentNode(a1)
	sub2 := e.tree.NewAgentNode(a2)
	require.True(t, e.tree.AssignNewTarget(e.launcher, sub1, 1))
	require.True(t, e.tree.AssignNewTarget(e.launcher, sub2, 1))

	a2.dead = true
	assert.False(t, e.tree.IsCovered(clusterA, Nil))
	assert.False(t, e.tree.ReassignTarget(e.launcher, clusterA), "the only pursuer of B must stay on B")

	sub3 := e.tree.NewAgentNode(at("i3", core.Vec3{X: 100, Z: 1000}))
	require.NoError(t, e.tree.SetTarget(sub3, clusterB))
	e.tree.AddLaunched(e.slotFor(t, clusterB), sub3)
	assert.True(t, e.tree.IsCovered(clusterB, sub1))

	require.True(t, e.tree.ReassignTarget(e.launcher, clusterA))
	assert.Equal(t, clusterA, e.tree.Target(sub3))
	assert.Equal(t, clusterB, e.tree.Target(sub1))
	assert.Contains(t, e.tree.Launched(e.slotFor(t, clusterA)), sub3)
	requireSymmetric(t, e.tree, []NodeID{sub1, sub2, sub3, clusterA, clusterB})
}
