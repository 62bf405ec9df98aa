// Package tf keeps a time-stamped tree of coordinate frames and answers
// "where is frame A relative to frame B at time t" queries.
package tf

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// normTolerance is how far from 1 a rotation's norm may drift before
// Normalize is required.
const normTolerance = 1e-6

// Transform is a rigid transform: rotate by Rotation, then translate by
// Translation. Rotation must be a unit quaternion.
type Transform struct {
	Translation r3.Vec
	Rotation    quat.Number
}

// Identity returns the transform that leaves points unchanged.
func Identity() Transform {
	return Transform{Rotation: quat.Number{Real: 1}}
}

// NewTransform builds a transform from a translation and an (x, y, z, w)
// quaternion, normalising the rotation. A zero quaternion is an error.
func NewTransform(x, y, z, qx, qy, qz, qw float64) (Transform, error) {
	t := Transform{
		Translation: r3.Vec{X: x, Y: y, Z: z},
		Rotation:    quat.Number{Real: qw, Imag: qx, Jmag: qy, Kmag: qz},
	}
	return t.Normalize()
}

// Normalize scales the rotation to unit length.
func (t Transform) Normalize() (Transform, error) {
	n := quat.Abs(t.Rotation)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return Transform{}, fmt.Errorf("invalid rotation quaternion %v", t.Rotation)
	}
	if math.Abs(n-1) > normTolerance {
		t.Rotation = quat.Scale(1/n, t.Rotation)
	}
	return t, nil
}

// Apply maps point p through the transform.
func (t Transform) Apply(p r3.Vec) r3.Vec {
	return r3.Add(r3.Rotation(t.Rotation).Rotate(p), t.Translation)
}

// Compose returns the transform that applies o first and then t.
func (t Transform) Compose(o Transform) Transform {
	return Transform{
		Translation: t.Apply(o.Translation),
		Rotation:    quat.Mul(t.Rotation, o.Rotation),
	}
}

// Inverse returns the transform undoing t.
func (t Transform) Inverse() Transform {
	inv := quat.Conj(t.Rotation)
	return Transform{
		Translation: r3.Scale(-1, r3.Rotation(inv).Rotate(t.Translation)),
		Rotation:    inv,
	}
}

// Matrix returns the transform as a 4x4 row-major homogeneous matrix.
func (t Transform) Matrix() [16]float64 {
	w, x, y, z := t.Rotation.Real, t.Rotation.Imag, t.Rotation.Jmag, t.Rotation.Kmag
	return [16]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y), t.Translation.X,
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x), t.Translation.Y,
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y), t.Translation.Z,
		0, 0, 0, 1,
	}
}

// Interpolate blends a and b: linear in translation, spherical in rotation.
// ratio 0 gives a, 1 gives b.
func Interpolate(a, b Transform, ratio float64) Transform {
	return Transform{
		Translation: r3.Add(a.Translation, r3.Scale(ratio, r3.Sub(b.Translation, a.Translation))),
		Rotation:    Slerp(a.Rotation, b.Rotation, ratio),
	}
}

// Slerp spherically interpolates between unit quaternions along the
// shorter arc.
func Slerp(q0, q1 quat.Number, ratio float64) quat.Number {
	if dot(q0, q1) < 0 {
		q1 = quat.Scale(-1, q1)
	}
	// (q1 q0⁻¹)^ratio q0
	delta := quat.Mul(q1, quat.Conj(q0))
	return quat.Mul(quat.PowReal(delta, ratio), q0)
}

func dot(a, b quat.Number) float64 {
	return a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
}

// Position returns the translation.
func (t Transform) Position() r3.Vec { return t.Translation }

// Orientation returns the rotation as (x, y, z, w).
func (t Transform) Orientation() (x, y, z, w float64) {
	return t.Rotation.Imag, t.Rotation.Jmag, t.Rotation.Kmag, t.Rotation.Real
}
