package core

import "math"

// Epsilon gates every division and normalisation in the geometry layer.
const Epsilon = 1e-12

// Vec3 is a world-frame vector in metres. Y is up.
type Vec3 struct {
	X, Y, Z float64
}

var (
	// Zero is the zero vector.
	Zero = Vec3{}
	// WorldUp is the world +Y axis.
	WorldUp = Vec3{Y: 1}
	// WorldForward is the world +Z axis.
	WorldForward = Vec3{Z: 1}
	// WorldRight is the world +X axis.
	WorldRight = Vec3{X: 1}
)

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	return v.Sub(other).Norm()
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// SqrNorm returns the squared Euclidean norm.
func (v Vec3) SqrNorm() float64 {
	return v.Dot(v)
}

// Add returns v + other.
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Scale returns v * s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

// Neg returns -v.
func (v Vec3) Neg() Vec3 {
	return Vec3{X: -v.X, Y: -v.Y, Z: -v.Z}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// Cross returns v × other.
func (v Vec3) Cross(other Vec3) Vec3 {
	return Vec3{
		X: v.Y*other.Z - v.Z*other.Y,
		Y: v.Z*other.X - v.X*other.Z,
		Z: v.X*other.Y - v.Y*other.X,
	}
}

// Normalize returns the unit vector in the direction of v, or the zero vector
// when v is shorter than Epsilon.
func (v Vec3) Normalize() Vec3 {
	n := v.Norm()
	if n <= Epsilon {
		return Zero
	}
	return v.Scale(1 / n)
}

// IsZero reports whether v is shorter than Epsilon.
func (v Vec3) IsZero() bool {
	return v.SqrNorm() <= Epsilon*Epsilon
}

// Project returns the projection of v onto the direction of onto.
func (v Vec3) Project(onto Vec3) Vec3 {
	d := onto.SqrNorm()
	if d <= Epsilon*Epsilon {
		return Zero
	}
	return onto.Scale(v.Dot(onto) / d)
}

// ProjectOnPlane removes the component of v along normal.
func (v Vec3) ProjectOnPlane(normal Vec3) Vec3 {
	return v.Sub(v.Project(normal))
}

// Angle returns the unsigned angle between v and other in radians. Degenerate
// inputs yield zero.
func (v Vec3) Angle(other Vec3) float64 {
	d := math.Sqrt(v.SqrNorm() * other.SqrNorm())
	if d <= Epsilon {
		return 0
	}
	return math.Acos(clamp(v.Dot(other)/d, -1, 1))
}

// Lerp linearly interpolates between v and other with t clamped to [0, 1].
func (v Vec3) Lerp(other Vec3, t float64) Vec3 {
	t = clamp(t, 0, 1)
	return v.Add(other.Sub(v).Scale(t))
}

// RotateAbout rotates v by rad radians about axis using the right-hand rule.
// A zero axis leaves v unchanged.
func (v Vec3) RotateAbout(axis Vec3, rad float64) Vec3 {
	k := axis.Normalize()
	if k.IsZero() {
		return v
	}
	cos, sin := math.Cos(rad), math.Sin(rad)
	return v.Scale(cos).
		Add(k.Cross(v).Scale(sin)).
		Add(k.Scale(k.Dot(v) * (1 - cos)))
}

// RotateTowards turns current toward target by at most maxRadians and moves
// its magnitude toward target's by at most maxMagnitude. When either vector is
// zero it moves current toward target as a point instead.
func RotateTowards(current, target Vec3, maxRadians, maxMagnitude float64) Vec3 {
	curMag, targetMag := current.Norm(), target.Norm()
	if curMag <= Epsilon || targetMag <= Epsilon {
		delta := target.Sub(current)
		if d := delta.Norm(); d > maxMagnitude && d > Epsilon {
			return current.Add(delta.Scale(maxMagnitude / d))
		}
		return target
	}
	mag := curMag
	if diff := targetMag - curMag; math.Abs(diff) <= maxMagnitude {
		mag = targetMag
	} else {
		mag += Sign(diff) * maxMagnitude
	}
	dir := current.Scale(1 / curMag)
	angle := current.Angle(target)
	if angle <= Epsilon {
		return dir.Scale(mag)
	}
	axis := current.Cross(target)
	if axis.IsZero() {
		axis = current.Cross(WorldUp)
		if axis.IsZero() {
			axis = WorldRight
		}
	}
	return dir.RotateAbout(axis, math.Min(angle, maxRadians)).Scale(mag)
}

// ClosestApproach returns the minimum distance between two points moving
// linearly from a0 to a1 and from b0 to b1 over the same interval.
func ClosestApproach(a0, a1, b0, b1 Vec3) float64 {
	r0 := a0.Sub(b0)
	dr := a1.Sub(b1).Sub(r0)
	d := dr.SqrNorm()
	if d <= Epsilon*Epsilon {
		return r0.Norm()
	}
	s := clamp(-r0.Dot(dr)/d, 0, 1)
	return r0.Add(dr.Scale(s)).Norm()
}

// Horizontal returns v with its vertical component removed.
func (v Vec3) Horizontal() Vec3 {
	return Vec3{X: v.X, Z: v.Z}
}

// Mean returns the component-wise mean of vs, or the zero vector when vs is
// empty.
func Mean(vs []Vec3) Vec3 {
	if len(vs) == 0 {
		return Zero
	}
	var sum Vec3
	for _, v := range vs {
		sum = sum.Add(v)
	}
	return sum.Scale(1 / float64(len(vs)))
}

// Sign returns -1 for negative values and +1 otherwise.
func Sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// Deg2Rad converts degrees to radians.
func Deg2Rad(deg float64) float64 { return deg * math.Pi / 180 }

// Rad2Deg converts radians to degrees.
func Rad2Deg(rad float64) float64 { return rad * 180 / math.Pi }
