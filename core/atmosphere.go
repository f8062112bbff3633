package core

import (
	"math"

	"github.com/signalsfoundry/engagement-simulator/model"
)

const (
	// SeaLevelAirDensity in kg/m^3.
	SeaLevelAirDensity = 1.204
	// AirDensityScaleHeightKm is the exponential atmosphere scale height.
	AirDensityScaleHeightKm = 10.4
	// Gravity is standard gravity in m/s^2.
	Gravity = 9.80665
	// EarthMeanRadius in metres.
	EarthMeanRadius = 6378137.0

	// MinFractionalSpeed bounds FractionalSpeed away from zero.
	MinFractionalSpeed = 1e-6
)

// AirDensityAtAltitude returns the exponential-atmosphere density at altitude
// metres above sea level.
func AirDensityAtAltitude(altitude float64) float64 {
	return SeaLevelAirDensity * math.Exp(-altitude/(AirDensityScaleHeightKm*1000))
}

// GravityAtAltitude returns gravitational acceleration at altitude metres.
func GravityAtAltitude(altitude float64) float64 {
	r := EarthMeanRadius / (EarthMeanRadius + altitude)
	return Gravity * r * r
}

// MaxNormalAcceleration is the lift-limited normal acceleration available at
// speed, scaling quadratically from the reference speed.
func MaxNormalAcceleration(p model.Performance, speed float64) float64 {
	ref := p.ReferenceSpeed
	if ref <= 0 {
		ref = 1
	}
	ratio := speed / ref
	return ratio * ratio * p.MaxReferenceNormalAcceleration * Gravity
}

// FractionalSpeed estimates the share of its current speed an agent retains
// after flying to target. Speed decays exponentially with the travelled
// distance (drag time constant) and with the bearing change (lift-drag time
// constant); turning additionally costs the arc flown at the minimum turn
// radius. The result is at least MinFractionalSpeed.
func FractionalSpeed(p model.Performance, state KinematicState, target Vec3) float64 {
	distanceTimeConstant := math.Inf(1)
	denominator := AirDensityAtAltitude(state.Position.Y) * p.DragCoefficient * p.CrossSectionalArea
	if denominator > Epsilon {
		distanceTimeConstant = 2 * p.Mass / denominator
	}
	angleTimeConstant := p.LiftDragRatio
	if angleTimeConstant <= 0 {
		angleTimeConstant = 1
	}

	speed := state.Speed()
	minTurnRadius := 0.0
	if maxNormal := MaxNormalAcceleration(p, speed); maxNormal > Epsilon {
		minTurnRadius = speed * speed / maxNormal
	}

	toTarget := target.Sub(state.Position)
	distance := toTarget.Norm()
	angle := state.Velocity.Angle(toTarget)

	exponent := angle / angleTimeConstant
	if !math.IsInf(distanceTimeConstant, 1) && distanceTimeConstant > Epsilon {
		exponent += (distance + angle*minTurnRadius) / distanceTimeConstant
	}
	return math.Max(math.Exp(-exponent), MinFractionalSpeed)
}
