package geom

import "math"

// Polar is a direction in spherical coordinates. Azimuth is measured in the
// x/y plane from the x axis, elevation from that plane toward z; both in
// radians.
type Polar struct {
	Azimuth   float64 `msgpack:"azimuth" json:"azimuth"`
	Elevation float64 `msgpack:"elevation" json:"elevation"`
	Length    float64 `msgpack:"length" json:"length"`
}

// Vector converts p to cartesian form.
func (p Polar) Vector() Vector {
	c := math.Cos(p.Elevation)
	return Vector{
		X: p.Length * c * math.Cos(p.Azimuth),
		Y: p.Length * c * math.Sin(p.Azimuth),
		Z: p.Length * math.Sin(p.Elevation),
	}
}

// PolarOf converts v to spherical form. The zero vector maps to the zero
// direction.
func PolarOf(v Vector) Polar {
	l := v.Length()
	if l == 0 {
		return Polar{}
	}
	return Polar{
		Azimuth:   math.Atan2(v.Y, v.X),
		Elevation: math.Asin(v.Z / l),
		Length:    l,
	}
}
