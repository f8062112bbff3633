package planning

import (
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/signalsfoundry/engagement-simulator/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTable() *LazyTable {
	return NewLazyTable(Points([]DataPoint{
		{Input: LaunchAngleInput{Distance: 1, Altitude: 100}, Output: LaunchAngleOutput{LaunchAngle: 90, TimeToPosition: 10}},
		{Input: LaunchAngleInput{Distance: 60, Altitude: 1}, Output: LaunchAngleOutput{LaunchAngle: 20, TimeToPosition: 13}},
		{Input: LaunchAngleInput{Distance: 80, Altitude: 1}, Output: LaunchAngleOutput{LaunchAngle: 15, TimeToPosition: 16}},
		{Input: LaunchAngleInput{Distance: 100, Altitude: 1}, Output: LaunchAngleOutput{LaunchAngle: 10, TimeToPosition: 20}},
	}))
}

func newTestPlanner(t *testing.T, table *LazyTable, pos, vel core.Vec3) *IterativeLaunchPlanner {
	t.Helper()
	angles, err := NewLaunchAnglePlanner(table)
	require.NoError(t, err)
	target := StaticSource(core.KinematicState{Position: pos, Velocity: vel})
	return NewIterativeLaunchPlanner(angles, LinearExtrapolator{Source: target})
}

func assertVecNear(t *testing.T, want, got core.Vec3) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, 1e-6, "x")
	assert.InDelta(t, want.Y, got.Y, 1e-6, "y")
	assert.InDelta(t, want.Z, got.Z, 1e-6, "z")
}

func TestLinearExtrapolator(t *testing.T) {
	src := StaticSource(core.KinematicState{
		Position:     core.Vec3{X: 1, Y: 2, Z: 3},
		Velocity:     core.Vec3{X: 10},
		Acceleration: core.Vec3{Y: -1},
	})
	got := LinearExtrapolator{Source: src}.Predict(2.5)
	assert.Equal(t, core.Vec3{X: 26, Y: 2, Z: 3}, got.Position)
	assert.Equal(t, core.Vec3{X: 10}, got.Velocity)
	assert.Equal(t, core.Vec3{Y: -1}, got.Acceleration)

	assert.Equal(t, core.KinematicState{}, LinearExtrapolator{}.Predict(5))
}

func TestKDTreeMatchesBruteForce(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	points := make([]Point2, 300)
	for i := range points {
		points[i] = Point2{r.Float64() * 1000, r.Float64() * 1000}
	}
	tree := NewKDTree(points, func(p Point2) Point2 { return p })
	require.Equal(t, len(points), tree.Len())

	for q := 0; q < 200; q++ {
		target := Point2{r.Float64()*1200 - 100, r.Float64()*1200 - 100}
		got, ok := tree.Nearest(target)
		require.True(t, ok)
		best := math.Inf(1)
		for _, p := range points {
			best = math.Min(best, p.distance(target))
		}
		assert.InDelta(t, best, got.distance(target), 1e-9)
	}

	_, ok := NewKDTree([]Point2{}, func(p Point2) Point2 { return p }).Nearest(Point2{})
	assert.False(t, ok)
}

func TestLoadLaunchTable(t *testing.T) {
	csv := `distance,altitude,angle,time
# comment
1, 100, 90, 10

60,1,20,13
bad,row
`
	points, err := LoadLaunchTable(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, DataPoint{
		Input:  LaunchAngleInput{Distance: 1, Altitude: 100},
		Output: LaunchAngleOutput{LaunchAngle: 90, TimeToPosition: 10},
	}, points[0])

	_, err = LoadLaunchTable(strings.NewReader("distance,altitude,angle,time\n"))
	assert.ErrorIs(t, err, ErrNoLaunchData)
}

func TestLazyTableLoadsOnceAndFailsAtConstruction(t *testing.T) {
	calls := 0
	table := NewLazyTable(func() ([]DataPoint, error) {
		calls++
		return []DataPoint{{Input: LaunchAngleInput{Distance: 1}, Output: LaunchAngleOutput{LaunchAngle: 5, TimeToPosition: 1}}}, nil
	})
	assert.Zero(t, calls)
	for i := 0; i < 3; i++ {
		_, err := NewLaunchAnglePlanner(table)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, calls)

	_, err := NewLaunchAnglePlanner(NewLazyTable(Points(nil)))
	assert.ErrorIs(t, err, ErrNoLaunchData)

	boom := errors.New("boom")
	_, err = NewLaunchAnglePlanner(NewLazyTable(func() ([]DataPoint, error) { return nil, boom }))
	assert.ErrorIs(t, err, boom)

	_, err = NewLaunchAnglePlanner(NewLazyTable(CSVFile("does-not-exist.csv")))
	assert.Error(t, err)
}

func TestLaunchAnglePlannerInterceptPositionKeepsAzimuth(t *testing.T) {
	angles, err := NewLaunchAnglePlanner(testTable())
	require.NoError(t, err)

	origin := core.Vec3{X: 10, Z: 10}
	got := angles.InterceptPosition(origin, core.Vec3{X: 10, Y: 1, Z: -62})
	assertVecNear(t, core.Vec3{X: 10, Y: 1, Z: -70}, got)

	out := angles.PlanTarget(origin, core.Vec3{X: 10, Y: 95, Z: 10})
	assert.Equal(t, LaunchAngleOutput{LaunchAngle: 90, TimeToPosition: 10}, out)
}

func TestNormalizedLaunchVector(t *testing.T) {
	plan := LaunchPlan{ShouldLaunch: true, LaunchAngle: 45, InterceptPosition: core.Vec3{X: 100, Z: 1000}}
	got := plan.NormalizedLaunchVector(core.Vec3{X: 100})
	assertVecNear(t, core.Vec3{Y: math.Sqrt2 / 2, Z: math.Sqrt2 / 2}, got)
	assert.InDelta(t, 1, got.Norm(), 1e-12)
}

func TestIterativePlannerInterceptAtDataPoint(t *testing.T) {
	planner := newTestPlanner(t, testTable(), core.Vec3{X: 1, Y: 110}, core.Vec3{Y: -1})
	plan, iterations := planner.Plan(core.Vec3{})
	require.True(t, plan.ShouldLaunch)
	assert.Equal(t, 90.0, plan.LaunchAngle)
	assertVecNear(t, core.Vec3{X: 1, Y: 100}, plan.InterceptPosition)
	assert.Equal(t, 2, iterations)
}

func TestIterativePlannerInterceptNearDataPoint(t *testing.T) {
	planner := newTestPlanner(t, testTable(), core.Vec3{X: 1, Y: 110}, core.Vec3{Y: -1.1})
	plan, _ := planner.Plan(core.Vec3{})
	require.True(t, plan.ShouldLaunch)
	assert.Equal(t, 90.0, plan.LaunchAngle)
	assertVecNear(t, core.Vec3{X: 1, Y: 99}, plan.InterceptPosition)
}

func TestIterativePlannerInterceptBetweenDataPoints(t *testing.T) {
	planner := newTestPlanner(t, testTable(), core.Vec3{X: 126, Y: 1}, core.Vec3{X: -5})
	plan, _ := planner.Plan(core.Vec3{})
	require.True(t, plan.ShouldLaunch)
	assert.Equal(t, 20.0, plan.LaunchAngle)
	assertVecNear(t, core.Vec3{X: 61, Y: 1}, plan.InterceptPosition)
}

func TestIterativePlannerDivergingFromOrigin(t *testing.T) {
	planner := newTestPlanner(t, testTable(), core.Vec3{Y: 1, Z: -80}, core.Vec3{Z: -1})
	plan, _ := planner.Plan(core.Vec3{})
	assert.False(t, plan.ShouldLaunch)
}

func TestIterativePlannerDivergingFromInterceptPoint(t *testing.T) {
	planner := newTestPlanner(t, testTable(), core.Vec3{X: 1, Y: 105}, core.Vec3{Y: 1})
	plan, _ := planner.Plan(core.Vec3{})
	assert.False(t, plan.ShouldLaunch)
}

func TestIterativePlannerTooFarFromInterceptPoint(t *testing.T) {
	planner := newTestPlanner(t, testTable(), core.Vec3{X: 1, Y: 2000}, core.Vec3{Y: -1})
	plan, _ := planner.Plan(core.Vec3{})
	assert.False(t, plan.ShouldLaunch)
}

type planCounter struct {
	launches, holds, iterations int
}

func (c *planCounter) ObserveLaunchPlan(shouldLaunch bool, iterations int) {
	if shouldLaunch {
		c.launches++
	} else {
		c.holds++
	}
	c.iterations += iterations
}

func TestIterativePlannerConvergesOnApproachingTarget(t *testing.T) {
	table := NewLazyTable(StraightLineTable(800, 20000, 5000, 500))
	planner := newTestPlanner(t, table, core.Vec3{Y: 2000, Z: 15000}, core.Vec3{Z: -250})
	rec := &planCounter{}
	planner.Metrics = rec

	plan, iterations := planner.Plan(core.Vec3{})
	require.True(t, plan.ShouldLaunch)
	assert.LessOrEqual(t, iterations, DefaultMaxIterations)
	assert.Less(t, iterations, DefaultMaxIterations, "should converge before the cap")

	angles, err := NewLaunchAnglePlanner(table)
	require.NoError(t, err)
	snapped := angles.InterceptPosition(core.Vec3{}, plan.InterceptPosition)
	assert.Less(t, snapped.DistanceTo(plan.InterceptPosition), DefaultInterceptPositionThreshold)

	assert.Equal(t, 1, rec.launches)
	assert.Equal(t, iterations, rec.iterations)
}

func TestStraightLineTable(t *testing.T) {
	points, err := StraightLineTable(500, 1000, 500, 500)()
	require.NoError(t, err)
	require.Len(t, points, 6)
	last := points[len(points)-1]
	assert.Equal(t, LaunchAngleInput{Distance: 1000, Altitude: 500}, last.Input)
	assert.InDelta(t, math.Hypot(1000, 500)/500, last.Output.TimeToPosition, 1e-12)

	_, err = StraightLineTable(0, 1000, 500, 500)()
	assert.ErrorIs(t, err, ErrNoLaunchData)
}

func TestIterativePlannerWithoutCollaborators(t *testing.T) {
	plan, iterations := (&IterativeLaunchPlanner{}).Plan(core.Vec3{})
	assert.Equal(t, NoLaunch(), plan)
	assert.Zero(t, iterations)
}
