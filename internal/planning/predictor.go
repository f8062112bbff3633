// Package planning predicts target motion and decides when and where to
// release interceptors.
package planning

import "github.com/signalsfoundry/engagement-simulator/core"

// Source exposes the current kinematics of a tracked node. The boolean is
// false once the node is gone. hierarchy.Ref satisfies it.
type Source interface {
	Kinematics() (core.KinematicState, bool)
}

// Predictor extrapolates a source's state.
type Predictor interface {
	Predict(t float64) core.KinematicState
}

// LinearExtrapolator holds velocity and acceleration constant and moves the
// position along the velocity.
type LinearExtrapolator struct {
	Source Source
}

// Predict returns the state t seconds ahead, or the zero state when the
// source is missing or gone.
func (l LinearExtrapolator) Predict(t float64) core.KinematicState {
	if l.Source == nil {
		return core.KinematicState{}
	}
	s, ok := l.Source.Kinematics()
	if !ok {
		return core.KinematicState{}
	}
	return core.KinematicState{
		Position:     s.Position.Add(s.Velocity.Scale(t)),
		Velocity:     s.Velocity,
		Acceleration: s.Acceleration,
	}
}

// StaticSource is a fixed state, used for scripted targets and tests.
type StaticSource core.KinematicState

// Kinematics implements Source.
func (s StaticSource) Kinematics() (core.KinematicState, bool) {
	return core.KinematicState(s), true
}
