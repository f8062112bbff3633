package core

import "math"

// Spherical is a (range, azimuth, elevation) triple with angles in degrees.
// Azimuth is measured from +Z toward +X and elevation from the horizontal
// plane toward +Y.
type Spherical struct {
	Range     float64
	Azimuth   float64
	Elevation float64
}

// Cylindrical is a (radius, azimuth, height) triple with azimuth in degrees
// measured from +Z toward +X.
type Cylindrical struct {
	Radius  float64
	Azimuth float64
	Height  float64
}

// ToSpherical converts a Cartesian vector.
func ToSpherical(v Vec3) Spherical {
	r := v.Norm()
	if r <= Epsilon {
		return Spherical{}
	}
	return Spherical{
		Range:     r,
		Azimuth:   Rad2Deg(math.Atan2(v.X, v.Z)),
		Elevation: Rad2Deg(math.Atan2(v.Y, math.Hypot(v.X, v.Z))),
	}
}

// Cartesian converts back to a world-frame vector.
func (s Spherical) Cartesian() Vec3 {
	az := Deg2Rad(s.Azimuth)
	el := Deg2Rad(s.Elevation)
	return Vec3{
		X: s.Range * math.Cos(el) * math.Sin(az),
		Y: s.Range * math.Sin(el),
		Z: s.Range * math.Cos(el) * math.Cos(az),
	}
}

// ToCylindrical converts a Cartesian vector.
func ToCylindrical(v Vec3) Cylindrical {
	r := math.Hypot(v.X, v.Z)
	var az float64
	if r > Epsilon {
		az = Rad2Deg(math.Atan2(v.X, v.Z))
	}
	return Cylindrical{Radius: r, Azimuth: az, Height: v.Y}
}

// Cartesian converts back to a world-frame vector.
func (c Cylindrical) Cartesian() Vec3 {
	az := Deg2Rad(c.Azimuth)
	return Vec3{
		X: c.Radius * math.Sin(az),
		Y: c.Height,
		Z: c.Radius * math.Cos(az),
	}
}
