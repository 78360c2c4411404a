package geom

import (
	"fmt"
	"math"
)

// Vector is an immutable 3D vector. All operations return a new value.
type Vector struct {
	X float64 `msgpack:"x" json:"x" yaml:"x"`
	Y float64 `msgpack:"y" json:"y" yaml:"y"`
	Z float64 `msgpack:"z" json:"z" yaml:"z"`
}

// Zero is the origin.
var Zero = Vector{}

func V(x, y, z float64) Vector {
	return Vector{X: x, Y: y, Z: z}
}

func (v Vector) Add(o Vector) Vector {
	return Vector{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

func (v Vector) Sub(o Vector) Vector {
	return Vector{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

func (v Vector) Scale(f float64) Vector {
	return Vector{X: v.X * f, Y: v.Y * f, Z: v.Z * f}
}

func (v Vector) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

func (v Vector) Distance(o Vector) float64 {
	return v.Sub(o).Length()
}

// Normalize returns the unit vector in the direction of v. The zero vector
// normalizes to itself.
func (v Vector) Normalize() Vector {
	l := v.Length()
	if l == 0 {
		return v
	}
	return v.Scale(1 / l)
}

// Limit caps the length of v at max.
func (v Vector) Limit(max float64) Vector {
	if l := v.Length(); l > max && l > 0 {
		return v.Scale(max / l)
	}
	return v
}

func (v Vector) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f)", v.X, v.Y, v.Z)
}
