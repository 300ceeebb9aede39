package ffd

import (
	"fmt"

	"github.com/chazu/morph/pkg/affine"
	"gonum.org/v1/gonum/spatial/r3"
)

// referenceFrame is the unit cube corner basis {e1, e2, e3, 0}.
var referenceFrame = []r3.Vec{{X: 1}, {Y: 1}, {Z: 1}, {}}

// Deformer applies free form deformation. The zero value is ready to use.
type Deformer struct{}

// New returns a Deformer.
func New() *Deformer {
	return &Deformer{}
}

// Frame holds the pair of affine maps between the physical box and the
// unit reference cube, both relative to the box origin.
type Frame struct {
	Origin  r3.Vec
	Forward *affine.Map
	Inverse *affine.Map
}

// NewFrame fits the box frame of p. It fails with affine.ErrDegenerate when
// the origin and the three vertices do not span a volume.
func NewFrame(p *Parameters) (*Frame, error) {
	physical := []r3.Vec{
		r3.Sub(p.Vertex1, p.Origin),
		r3.Sub(p.Vertex2, p.Origin),
		r3.Sub(p.Vertex3, p.Origin),
		{},
	}
	fwd, err := affine.Fit(physical, referenceFrame)
	if err != nil {
		return nil, fmt.Errorf("ffd: lattice box: %w", err)
	}
	inv, err := affine.Fit(referenceFrame, physical)
	if err != nil {
		return nil, fmt.Errorf("ffd: lattice box: %w", err)
	}
	return &Frame{Origin: p.Origin, Forward: fwd, Inverse: inv}, nil
}

// ToReference maps a physical point into the unit reference cube.
func (f *Frame) ToReference(pt r3.Vec) r3.Vec {
	return f.Forward.Apply(r3.Sub(pt, f.Origin))
}

// ToPhysical maps a reference point back to physical space.
func (f *Frame) ToPhysical(ref r3.Vec) r3.Vec {
	return r3.Add(f.Inverse.Apply(ref), f.Origin)
}

// Inside reports whether a reference point lies in the closed unit cube.
func Inside(ref r3.Vec) bool {
	return ref.X >= 0 && ref.X <= 1 &&
		ref.Y >= 0 && ref.Y <= 1 &&
		ref.Z >= 0 && ref.Z <= 1
}

// Perform deforms points with the lattice described by p. The result has
// the same length and order as points. Points outside the lattice box are
// not displaced. p is not modified.
func (d *Deformer) Perform(points PointCloud, p *Parameters) (PointCloud, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("ffd: %w", err)
	}
	frame, err := NewFrame(p)
	if err != nil {
		return nil, err
	}

	nx, ny, nz := p.Shape[0], p.Shape[1], p.Shape[2]
	bx := make([]float64, nx)
	by := make([]float64, ny)
	bz := make([]float64, nz)

	out := make(PointCloud, len(points))
	for n, pt := range points {
		ref := frame.ToReference(pt)
		if !Inside(ref) {
			out[n] = frame.ToPhysical(ref)
			continue
		}

		bernsteinInto(bx, ref.X)
		bernsteinInto(by, ref.Y)
		bernsteinInto(bz, ref.Z)

		var shift r3.Vec
		for i := 0; i < nx; i++ {
			for j := 0; j < ny; j++ {
				bxy := bx[i] * by[j]
				for k := 0; k < nz; k++ {
					w := bxy * bz[k]
					shift.X += w * p.MuX.At(i, j, k)
					shift.Y += w * p.MuY.At(i, j, k)
					shift.Z += w * p.MuZ.At(i, j, k)
				}
			}
		}
		out[n] = frame.ToPhysical(r3.Add(ref, shift))
	}
	return out, nil
}

// ControlPoints returns the physical positions of the displaced control
// points in (i, j, k) order, k fastest. Undisplaced control points sit on
// a regular grid spanning the box; a single layer sits on the box face.
func ControlPoints(p *Parameters) ([]r3.Vec, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("ffd: %w", err)
	}
	frame, err := NewFrame(p)
	if err != nil {
		return nil, err
	}

	nx, ny, nz := p.Shape[0], p.Shape[1], p.Shape[2]
	pts := make([]r3.Vec, 0, p.NumControlPoints())
	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			for k := 0; k < nz; k++ {
				ref := r3.Vec{
					X: gridCoord(i, nx) + p.MuX.At(i, j, k),
					Y: gridCoord(j, ny) + p.MuY.At(i, j, k),
					Z: gridCoord(k, nz) + p.MuZ.At(i, j, k),
				}
				pts = append(pts, frame.ToPhysical(ref))
			}
		}
	}
	return pts, nil
}

func gridCoord(i, n int) float64 {
	if n == 1 {
		return 0
	}
	return float64(i) / float64(n-1)
}
