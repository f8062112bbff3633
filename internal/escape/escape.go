// Package escape decides whether a target is getting away from its pursuer
// and how a pursued agent evades.
package escape

import (
	"fmt"

	"github.com/signalsfoundry/engagement-simulator/core"
	"github.com/signalsfoundry/engagement-simulator/internal/hierarchy"
	"github.com/signalsfoundry/engagement-simulator/model"
)

// Situation is a pursuer and its target at one instant.
type Situation struct {
	Pursuer            core.KinematicState
	PursuerPerformance model.Performance
	Target             core.KinematicState

	// Objective is the position of the target's own live target, when
	// HasObjective is set.
	Objective    core.Vec3
	HasObjective bool
}

func (s Situation) relative() core.Transformation {
	return core.RelativeTransformation(s.Pursuer, core.FrameFromHeading(s.Pursuer.Velocity), s.Target)
}

// Detector reports whether a target is escaping its pursuer.
type Detector interface {
	Name() string
	IsEscaping(s Situation) bool
}

// Geometric declares an escape when the pursuer is farther from the target
// than the target is from its objective, or is not between the two.
type Geometric struct{}

// Name implements Detector.
func (Geometric) Name() string { return "geometric" }

// IsEscaping implements Detector.
func (Geometric) IsEscaping(s Situation) bool {
	rel := s.relative()
	if !s.HasObjective {
		return rel.Velocity.Range < 0
	}
	toObjective := s.Objective.Sub(s.Target.Position)
	return rel.Position.Range > toObjective.Norm() ||
		rel.Position.Cartesian.Neg().Dot(toObjective) < 0
}

// Speed declares an escape when the pursuer, after flying to the target's
// current position, would be no faster than the target is now. Without an
// objective it falls back to the range rate.
type Speed struct{}

// Name implements Detector.
func (Speed) Name() string { return "speed" }

// IsEscaping implements Detector.
func (Speed) IsEscaping(s Situation) bool {
	if !s.HasObjective {
		return s.relative().Velocity.Range < 0
	}
	retained := core.FractionalSpeed(s.PursuerPerformance, s.Pursuer, s.Target.Position)
	return retained*s.Pursuer.Speed() <= s.Target.Speed()
}

// Time declares an escape when, head-on, the target reaches its objective
// before the pursuer reaches the target. Chasing from behind it compares
// speeds.
type Time struct{}

// Name implements Detector.
func (Time) Name() string { return "time" }

// IsEscaping implements Detector.
func (Time) IsEscaping(s Situation) bool {
	rel := s.relative()
	if !s.HasObjective {
		return rel.Velocity.Range < 0
	}
	toObjective := s.Objective.Sub(s.Target.Position)
	if rel.Position.Cartesian.Neg().Dot(toObjective) > 0 {
		targetTime := toObjective.Norm() / s.Target.Speed()
		pursuerTime := rel.Position.Range / s.Pursuer.Speed()
		return targetTime < pursuerTime
	}
	return s.Target.Speed() > s.Pursuer.Speed()
}

// NewDetector maps a config name onto a Detector.
func NewDetector(name string) (Detector, error) {
	switch name {
	case "", "geometric":
		return Geometric{}, nil
	case "speed":
		return Speed{}, nil
	case "time":
		return Time{}, nil
	default:
		return nil, fmt.Errorf("unknown escape detector %q", name)
	}
}

// SituationOf reads the situation of pursuer from the tree. It reports false
// when the pursuer has no live target.
func SituationOf(tree *hierarchy.Tree, pursuer hierarchy.NodeID) (Situation, bool) {
	target, ok := tree.ResolveTarget(pursuer)
	if !ok {
		return Situation{}, false
	}
	perf, ok := tree.Performance(pursuer)
	if !ok {
		perf = model.DefaultPerformance()
	}
	s := Situation{
		Pursuer:            tree.State(pursuer),
		PursuerPerformance: perf,
		Target:             tree.State(target),
	}
	if objective, ok := tree.ResolveTarget(target); ok {
		s.Objective = tree.Position(objective)
		s.HasObjective = true
	}
	return s, true
}

// IsEscaping evaluates d for pursuer. A pursuer without a live target has
// nothing escaping it.
func IsEscaping(d Detector, tree *hierarchy.Tree, pursuer hierarchy.NodeID) bool {
	s, ok := SituationOf(tree, pursuer)
	if !ok {
		return false
	}
	return d.IsEscaping(s)
}
