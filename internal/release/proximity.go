package release

import (
	"context"
	"math"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/engagement-simulator/core"
	"github.com/signalsfoundry/engagement-simulator/internal/assignment"
	"github.com/signalsfoundry/engagement-simulator/internal/hierarchy"
	"github.com/signalsfoundry/engagement-simulator/internal/logging"
	"github.com/signalsfoundry/engagement-simulator/internal/observability"
	"github.com/signalsfoundry/engagement-simulator/internal/planning"
)

const (
	// DefaultPredictionTime is how far ahead target positions are
	// extrapolated before the proximity test.
	DefaultPredictionTime = 0.6
	// DefaultMinDistance triggers a release regardless of bearing.
	DefaultMinDistance = 1000.0
	// DefaultMaxDistance bounds the bearing trigger.
	DefaultMaxDistance = 2500.0
	// DefaultMaxBearing is the off-boresight angle, in degrees, past which a
	// target inside DefaultMaxDistance triggers a release.
	DefaultMaxBearing = 30.0

	fanOutAngle = 60.0
)

// ProximityStrategy releases every remaining sub-agent at once when any
// targeted slot's target is close, or far off the carrier's nose and not too
// far away. Sub-agents fan out radially around the carrier's velocity and are
// then paired with the targets by Assigner.
type ProximityStrategy struct {
	Tree     *hierarchy.Tree
	Assigner assignment.Assigner
	Spawner  Spawner

	PredictionTime float64
	MinDistance    float64
	MaxDistance    float64
	MaxBearing     float64

	Log     logging.Logger
	Metrics Recorder
}

// Name implements Strategy.
func (s *ProximityStrategy) Name() string { return "proximity" }

// Release implements Strategy.
func (s *ProximityStrategy) Release(ctx context.Context, carrier Carrier) []Launch {
	slots := targetedSlots(s.Tree, carrier)
	if len(slots) == 0 || s.Spawner == nil || s.Assigner == nil {
		return nil
	}

	slotFor := make(map[hierarchy.NodeID]hierarchy.NodeID, len(slots))
	var targets []hierarchy.NodeID
	for _, slot := range slots {
		target := s.Tree.Target(slot)
		if _, seen := slotFor[target]; seen {
			continue
		}
		slotFor[target] = slot
		targets = append(targets, target)
	}

	trigger := false
	for _, target := range targets {
		if s.ShouldRelease(carrier.State, s.Tree.Ref(target)) {
			trigger = true
			break
		}
	}
	if !trigger {
		return nil
	}

	ctx, span := observability.StartSpan(ctx, "release.Proximity",
		attribute.Int("targets", len(targets)),
		attribute.Int("remaining", carrier.Remaining),
	)
	defer span.End()
	log := logging.OrNoop(s.Log)

	var released []hierarchy.NodeID
	for _, v := range FanOut(carrier.State.Velocity, carrier.Remaining) {
		id, err := s.Spawner.Spawn(ctx, carrier, core.KinematicState{Position: carrier.State.Position, Velocity: v})
		if err != nil {
			log.Warn(ctx, "sub-agent spawn failed", logging.Err(err))
			continue
		}
		released = append(released, id)
	}

	targetOf := make(map[hierarchy.NodeID]hierarchy.NodeID, len(released))
	for _, it := range s.Assigner.Assign(ctx, released, targets) {
		if err := s.Tree.SetTarget(it.First, it.Second); err != nil {
			continue
		}
		s.Tree.AddLaunched(slotFor[it.Second], it.First)
		targetOf[it.First] = it.Second
	}

	launches := make([]Launch, 0, len(released))
	for _, id := range released {
		launches = append(launches, Launch{Node: id, Target: targetOf[id], Plan: planning.LaunchPlan{ShouldLaunch: true}})
	}
	log.Info(ctx, "mass release",
		logging.String("carrier", s.Tree.Label(carrier.Node)),
		logging.Int("released", len(launches)),
		logging.Int("targets", len(targets)),
	)
	span.SetAttributes(attribute.Int("released", len(launches)))
	if s.Metrics != nil && len(launches) > 0 {
		s.Metrics.AddReleases(s.Name(), len(launches))
	}
	return launches
}

// ShouldRelease applies the distance and bearing tests to the target's
// predicted position.
func (s *ProximityStrategy) ShouldRelease(carrier core.KinematicState, target planning.Source) bool {
	if _, ok := target.Kinematics(); !ok {
		return false
	}
	predicted := planning.LinearExtrapolator{Source: target}.Predict(positive(s.PredictionTime, DefaultPredictionTime))
	toTarget := predicted.Position.Sub(carrier.Position)
	distance := toTarget.Norm()
	if distance < positive(s.MinDistance, DefaultMinDistance) {
		return true
	}
	lateral := toTarget.ProjectOnPlane(carrier.Velocity).Norm()
	sinBearing := math.Min(math.Max(lateral/distance, 0), 1)
	bearing := core.Rad2Deg(math.Asin(sinBearing))
	return bearing > positive(s.MaxBearing, DefaultMaxBearing) && distance < positive(s.MaxDistance, DefaultMaxDistance)
}

// FanOut returns n release velocities spread evenly around velocity, each
// turned 60 degrees off it.
func FanOut(velocity core.Vec3, n int) []core.Vec3 {
	if n <= 0 {
		return nil
	}
	perpendicular := velocity.Cross(core.WorldUp)
	if perpendicular.IsZero() {
		perpendicular = core.WorldRight.Scale(velocity.Norm())
	}
	maxRadians := core.Deg2Rad(fanOutAngle)
	out := make([]core.Vec3, n)
	for i := range out {
		lateral := perpendicular.RotateAbout(velocity, core.Deg2Rad(float64(i)*360/float64(n)))
		out[i] = core.RotateTowards(velocity, lateral, maxRadians, math.Cos(maxRadians))
	}
	return out
}

func positive(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}
