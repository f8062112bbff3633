package release

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/engagement-simulator/core"
	"github.com/signalsfoundry/engagement-simulator/internal/hierarchy"
	"github.com/signalsfoundry/engagement-simulator/internal/logging"
	"github.com/signalsfoundry/engagement-simulator/internal/observability"
	"github.com/signalsfoundry/engagement-simulator/internal/planning"
)

// initialSpeed gives a freshly released sub-agent a heading before its boost.
const initialSpeed = 1e-3

// PlannerStrategy releases one sub-agent per targeted slot that nobody has
// been launched at yet, as soon as the iterative launch planner says so.
type PlannerStrategy struct {
	Tree    *hierarchy.Tree
	Angles  planning.AnglePlanner
	Spawner Spawner

	Log         logging.Logger
	Metrics     Recorder
	PlanMetrics planning.PlanRecorder
}

// Name implements Strategy.
func (s *PlannerStrategy) Name() string { return "planner" }

// Release implements Strategy.
func (s *PlannerStrategy) Release(ctx context.Context, carrier Carrier) []Launch {
	slots := targetedSlots(s.Tree, carrier)
	if len(slots) == 0 || s.Spawner == nil {
		return nil
	}
	ctx, span := observability.StartSpan(ctx, "release.Planner",
		attribute.Int("slots", len(slots)),
		attribute.Int("remaining", carrier.Remaining),
	)
	defer span.End()
	log := logging.OrNoop(s.Log)

	origin := carrier.State.Position
	var launches []Launch
	for _, slot := range slots {
		if len(launches) >= carrier.Remaining {
			break
		}
		if len(s.Tree.Launched(slot)) > 0 {
			continue
		}
		target := s.Tree.Target(slot)
		planner := planning.NewIterativeLaunchPlanner(s.Angles, planning.LinearExtrapolator{Source: s.Tree.Ref(target)})
		planner.Metrics = s.PlanMetrics
		plan, iterations := planner.Plan(origin)
		if !plan.ShouldLaunch {
			continue
		}

		initial := core.KinematicState{
			Position: origin,
			Velocity: plan.NormalizedLaunchVector(origin).Scale(initialSpeed),
		}
		id, err := s.Spawner.Spawn(ctx, carrier, initial)
		if err != nil {
			log.Warn(ctx, "sub-agent spawn failed", logging.Err(err))
			continue
		}
		if err := s.Tree.SetTarget(id, target); err != nil {
			log.Warn(ctx, "released sub-agent not in hierarchy", logging.Err(err))
			continue
		}
		s.Tree.AddLaunched(slot, id)
		launches = append(launches, Launch{Node: id, Target: target, Plan: plan})

		log.Info(ctx, "launching sub-agent",
			logging.String("target", s.Tree.Label(target)),
			logging.Float64("launch_angle_deg", plan.LaunchAngle),
			logging.Any("intercept_position", plan.InterceptPosition),
			logging.Int("iterations", iterations),
		)
	}

	span.SetAttributes(attribute.Int("released", len(launches)))
	if s.Metrics != nil && len(launches) > 0 {
		s.Metrics.AddReleases(s.Name(), len(launches))
	}
	return launches
}
