package planning

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/engagement-simulator/core"
)

// LaunchAnglePlanner answers launch angle and flight time queries from a
// nearest-neighbour launch table.
type LaunchAnglePlanner struct {
	table *NearestNeighborInterpolator2D
}

// NewLaunchAnglePlanner forces the table to load. A missing or empty table
// is an error here rather than at query time.
func NewLaunchAnglePlanner(table *LazyTable) (*LaunchAnglePlanner, error) {
	if table == nil {
		return nil, fmt.Errorf("NewLaunchAnglePlanner: %w", ErrNoLaunchData)
	}
	idx, err := table.Interpolator()
	if err != nil {
		return nil, fmt.Errorf("NewLaunchAnglePlanner: %w", err)
	}
	return &LaunchAnglePlanner{table: idx}, nil
}

// Plan returns the nearest table entry for input.
func (p *LaunchAnglePlanner) Plan(input LaunchAngleInput) LaunchAngleOutput {
	s, _ := p.table.Interpolate(input.Distance, input.Altitude)
	return LaunchAngleOutput{LaunchAngle: s.Values[0], TimeToPosition: s.Values[1]}
}

// PlanTarget plans against target as seen from origin.
func (p *LaunchAnglePlanner) PlanTarget(origin, target core.Vec3) LaunchAngleOutput {
	return p.Plan(relativeInput(origin, target))
}

// InterceptPosition snaps target to the nearest table entry, keeping its
// azimuth around origin.
func (p *LaunchAnglePlanner) InterceptPosition(origin, target core.Vec3) core.Vec3 {
	in := relativeInput(origin, target)
	s, _ := p.table.Interpolate(in.Distance, in.Altitude)
	rel := core.ToCylindrical(target.Sub(origin))
	snapped := core.Cylindrical{Radius: s.At[0], Azimuth: rel.Azimuth, Height: s.At[1]}
	return origin.Add(snapped.Cartesian())
}

func relativeInput(origin, target core.Vec3) LaunchAngleInput {
	rel := target.Sub(origin)
	return LaunchAngleInput{
		Distance: math.Hypot(rel.X, rel.Z),
		Altitude: rel.Y,
	}
}
