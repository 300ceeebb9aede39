// Package affine fits affine maps between corresponding 3D point sets.
// A fit from four affinely independent points is exact, so fitting the
// same correspondence in both directions yields mutually inverse maps.
package affine

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// maxCond bounds the condition number of the homogeneous source matrix.
// Anything above it is treated as affinely dependent input.
const maxCond = 1e12

// ErrDegenerate is returned when the source points do not span 3D space.
var ErrDegenerate = errors.New("affine: points are affinely dependent")

// Map is an affine transform p -> Linear*p + Offset.
type Map struct {
	Linear *mat.Dense // 3x3
	Offset r3.Vec
}

// Identity returns the identity map.
func Identity() *Map {
	return &Map{
		Linear: mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}),
	}
}

// Fit returns the least-squares affine map sending src[i] to dst[i].
// At least four correspondences are required.
func Fit(src, dst []r3.Vec) (*Map, error) {
	if len(src) != len(dst) {
		return nil, fmt.Errorf("affine: %d source points but %d target points", len(src), len(dst))
	}
	n := len(src)
	if n < 4 {
		return nil, fmt.Errorf("affine: need at least 4 points, got %d: %w", n, ErrDegenerate)
	}

	// Homogeneous rows [x y z 1]; solving A*X = B gives X as the 4x3
	// transposed augmented matrix of the map.
	a := mat.NewDense(n, 4, nil)
	b := mat.NewDense(n, 3, nil)
	for i := range src {
		a.SetRow(i, []float64{src[i].X, src[i].Y, src[i].Z, 1})
		b.SetRow(i, []float64{dst[i].X, dst[i].Y, dst[i].Z})
	}

	var qr mat.QR
	qr.Factorize(a)
	if c := qr.Cond(); !(c <= maxCond) {
		return nil, ErrDegenerate
	}

	var x mat.Dense
	if err := qr.SolveTo(&x, false, b); err != nil {
		return nil, fmt.Errorf("affine: solve: %w", ErrDegenerate)
	}

	m := &Map{Linear: mat.NewDense(3, 3, nil)}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Linear.Set(i, j, x.At(j, i))
		}
	}
	m.Offset = r3.Vec{X: x.At(3, 0), Y: x.At(3, 1), Z: x.At(3, 2)}
	return m, nil
}

// Apply maps a single point.
func (m *Map) Apply(p r3.Vec) r3.Vec {
	l := m.Linear
	return r3.Vec{
		X: l.At(0, 0)*p.X + l.At(0, 1)*p.Y + l.At(0, 2)*p.Z + m.Offset.X,
		Y: l.At(1, 0)*p.X + l.At(1, 1)*p.Y + l.At(1, 2)*p.Z + m.Offset.Y,
		Z: l.At(2, 0)*p.X + l.At(2, 1)*p.Y + l.At(2, 2)*p.Z + m.Offset.Z,
	}
}

// ApplyAll maps every point into a new slice, preserving order.
func (m *Map) ApplyAll(pts []r3.Vec) []r3.Vec {
	out := make([]r3.Vec, len(pts))
	for i, p := range pts {
		out[i] = m.Apply(p)
	}
	return out
}

// Inverse returns the inverse map, or ErrDegenerate if the linear part
// is singular.
func (m *Map) Inverse() (*Map, error) {
	var inv mat.Dense
	if err := inv.Inverse(m.Linear); err != nil {
		return nil, fmt.Errorf("affine: invert: %w", ErrDegenerate)
	}
	o := &Map{Linear: &inv}
	t := o.Apply(m.Offset)
	o.Offset = r3.Scale(-1, t)
	return o, nil
}

// Compose returns the map applying b first, then m.
func (m *Map) Compose(b *Map) *Map {
	var l mat.Dense
	l.Mul(m.Linear, b.Linear)
	return &Map{Linear: &l, Offset: m.Apply(b.Offset)}
}
