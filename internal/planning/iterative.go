package planning

import (
	"github.com/signalsfoundry/engagement-simulator/core"
)

const (
	// DefaultMaxIterations bounds the fixed-point search.
	DefaultMaxIterations = 10
	// DefaultConvergenceThreshold is how far, in metres, the intercept point
	// may still move between iterations once converged.
	DefaultConvergenceThreshold = 10.0
	// DefaultInterceptPositionThreshold is the largest allowed gap, in
	// metres, between the table intercept point and the predicted target.
	DefaultInterceptPositionThreshold = 1000.0
	// DefaultCoDirectionalCosine rejects plans whose launch direction is
	// this aligned with the target's motion, since the interceptor would be
	// chasing the target from behind.
	DefaultCoDirectionalCosine = 0.9
)

// AnglePlanner is the table lookup the iterative planner depends on.
// *LaunchAnglePlanner satisfies it.
type AnglePlanner interface {
	PlanTarget(origin, target core.Vec3) LaunchAngleOutput
	InterceptPosition(origin, target core.Vec3) core.Vec3
}

// PlanRecorder receives planning outcomes.
type PlanRecorder interface {
	ObserveLaunchPlan(shouldLaunch bool, iterations int)
}

// IterativeLaunchPlanner alternates between the launch table's flight time
// and the predictor's target position until the intercept point settles.
type IterativeLaunchPlanner struct {
	Angles    AnglePlanner
	Predictor Predictor

	MaxIterations              int
	ConvergenceThreshold       float64
	InterceptPositionThreshold float64
	CoDirectionalCosine        float64

	Metrics PlanRecorder
}

// NewIterativeLaunchPlanner uses the default thresholds.
func NewIterativeLaunchPlanner(angles AnglePlanner, predictor Predictor) *IterativeLaunchPlanner {
	return &IterativeLaunchPlanner{
		Angles:                     angles,
		Predictor:                  predictor,
		MaxIterations:              DefaultMaxIterations,
		ConvergenceThreshold:       DefaultConvergenceThreshold,
		InterceptPositionThreshold: DefaultInterceptPositionThreshold,
		CoDirectionalCosine:        DefaultCoDirectionalCosine,
	}
}

// Plan decides whether an interceptor at origin should launch now. It also
// returns the number of iterations run. Running out of iterations is not a
// failure: the last iterate is checked like a converged one.
func (p *IterativeLaunchPlanner) Plan(origin core.Vec3) (LaunchPlan, int) {
	plan, iterations := p.plan(origin)
	if p.Metrics != nil {
		p.Metrics.ObserveLaunchPlan(plan.ShouldLaunch, iterations)
	}
	return plan, iterations
}

func (p *IterativeLaunchPlanner) plan(origin core.Vec3) (LaunchPlan, int) {
	if p.Angles == nil || p.Predictor == nil {
		return NoLaunch(), 0
	}
	maxIterations := p.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	convergence := orDefault(p.ConvergenceThreshold, DefaultConvergenceThreshold)
	gap := orDefault(p.InterceptPositionThreshold, DefaultInterceptPositionThreshold)
	coDirectional := orDefault(p.CoDirectionalCosine, DefaultCoDirectionalCosine)

	initial := p.Predictor.Predict(0)
	trial := initial.Position
	intercept := trial
	var out LaunchAngleOutput
	var predicted core.Vec3

	iterations := 0
	for iterations < maxIterations {
		iterations++
		out = p.Angles.PlanTarget(origin, trial)
		predicted = p.Predictor.Predict(out.TimeToPosition).Position
		next := p.Angles.InterceptPosition(origin, predicted)
		moved := next.DistanceTo(intercept)
		intercept, trial = next, next
		if moved < convergence {
			break
		}
	}

	motion := initial.Velocity.Normalize()
	if intercept.Sub(initial.Position).Dot(motion) < 0 {
		return NoLaunch(), iterations
	}
	if intercept.Sub(origin).Normalize().Dot(motion) > coDirectional {
		return NoLaunch(), iterations
	}
	if intercept.DistanceTo(predicted) >= gap {
		return NoLaunch(), iterations
	}
	return LaunchPlan{
		ShouldLaunch:      true,
		LaunchAngle:       out.LaunchAngle,
		InterceptPosition: predicted,
	}, iterations
}

func orDefault(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}
