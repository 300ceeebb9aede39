package ffd

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Grid is a dense nx*ny*nz array of control weights in row-major order.
type Grid struct {
	Shape [3]int
	Data  []float64
}

// NewGrid returns a zeroed grid.
func NewGrid(nx, ny, nz int) *Grid {
	return &Grid{Shape: [3]int{nx, ny, nz}, Data: make([]float64, nx*ny*nz)}
}

func (g *Grid) offset(i, j, k int) int {
	return (i*g.Shape[1]+j)*g.Shape[2] + k
}

// At returns the weight at control point (i, j, k).
func (g *Grid) At(i, j, k int) float64 {
	return g.Data[g.offset(i, j, k)]
}

// Set stores the weight at control point (i, j, k).
func (g *Grid) Set(i, j, k int, v float64) {
	g.Data[g.offset(i, j, k)] = v
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	return &Grid{Shape: g.Shape, Data: append([]float64(nil), g.Data...)}
}

// Parameters describes the lattice box and its control displacements.
// Displacements are expressed in the box's reference (unit cube) units.
type Parameters struct {
	Origin  r3.Vec
	Vertex1 r3.Vec
	Vertex2 r3.Vec
	Vertex3 r3.Vec
	Shape   [3]int

	MuX, MuY, MuZ *Grid
}

// NewParameters returns parameters for a box with zero displacements.
func NewParameters(origin, v1, v2, v3 r3.Vec, nx, ny, nz int) *Parameters {
	return &Parameters{
		Origin:  origin,
		Vertex1: v1,
		Vertex2: v2,
		Vertex3: v3,
		Shape:   [3]int{nx, ny, nz},
		MuX:     NewGrid(nx, ny, nz),
		MuY:     NewGrid(nx, ny, nz),
		MuZ:     NewGrid(nx, ny, nz),
	}
}

// NewUnitParameters returns a lattice on the unit cube at the origin.
func NewUnitParameters(nx, ny, nz int) *Parameters {
	return NewParameters(r3.Vec{}, r3.Vec{X: 1}, r3.Vec{Y: 1}, r3.Vec{Z: 1}, nx, ny, nz)
}

// Validate checks the control shape against the displacement grids.
// Box degeneracy is detected later by the affine fit.
func (p *Parameters) Validate() error {
	for a, n := range p.Shape {
		if n < 1 {
			return fmt.Errorf("control shape %v: axis %d must be positive: %w", p.Shape, a, ErrShapeMismatch)
		}
	}
	for c, g := range p.grids() {
		if g == nil {
			return fmt.Errorf("displacement grid %s is missing: %w", channelName(c), ErrShapeMismatch)
		}
		if g.Shape != p.Shape || len(g.Data) != p.NumControlPoints() {
			return fmt.Errorf("displacement grid %s has shape %v, want %v: %w",
				channelName(c), g.Shape, p.Shape, ErrShapeMismatch)
		}
	}
	return nil
}

// NumControlPoints returns nx*ny*nz.
func (p *Parameters) NumControlPoints() int {
	return p.Shape[0] * p.Shape[1] * p.Shape[2]
}

// NumCoordinates returns the length of the flattened control vector.
func (p *Parameters) NumCoordinates() int {
	return 3 * p.NumControlPoints()
}

// ControlIndex returns the flattened index of channel c (0=x, 1=y, 2=z)
// of control point (i, j, k).
func (p *Parameters) ControlIndex(i, j, k, c int) int {
	return ((i*p.Shape[1]+j)*p.Shape[2]+k)*3 + c
}

// AllIndices returns every flattened control index in order.
func (p *Parameters) AllIndices() []int {
	idx := make([]int, p.NumCoordinates())
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// Flatten returns the control displacements interleaved as
// [x000, y000, z000, x001, ...].
func (p *Parameters) Flatten() []float64 {
	out := make([]float64, p.NumCoordinates())
	for c, g := range p.grids() {
		for n, v := range g.Data {
			out[3*n+c] = v
		}
	}
	return out
}

// SetFlat loads displacements from the layout produced by Flatten.
func (p *Parameters) SetFlat(flat []float64) error {
	if len(flat) != p.NumCoordinates() {
		return fmt.Errorf("flat control vector has %d values, want %d: %w",
			len(flat), p.NumCoordinates(), ErrShapeMismatch)
	}
	for c, g := range p.grids() {
		for n := range g.Data {
			g.Data[n] = flat[3*n+c]
		}
	}
	return nil
}

// Coordinate returns the flattened control value at index idx.
func (p *Parameters) Coordinate(idx int) float64 {
	return p.grids()[idx%3].Data[idx/3]
}

// SetCoordinate stores the flattened control value at index idx.
func (p *Parameters) SetCoordinate(idx int, v float64) {
	p.grids()[idx%3].Data[idx/3] = v
}

// Clone returns a deep copy so callers can thread state without aliasing.
func (p *Parameters) Clone() *Parameters {
	c := *p
	if p.MuX != nil {
		c.MuX = p.MuX.Clone()
	}
	if p.MuY != nil {
		c.MuY = p.MuY.Clone()
	}
	if p.MuZ != nil {
		c.MuZ = p.MuZ.Clone()
	}
	return &c
}

func (p *Parameters) grids() [3]*Grid {
	return [3]*Grid{p.MuX, p.MuY, p.MuZ}
}

func channelName(c int) string {
	return [3]string{"x", "y", "z"}[c]
}

// BoxVertices returns the three edge vertices of a box with the given
// origin and side lengths whose local axes are rotated by rot.
// A nil rot leaves the box axis aligned.
func BoxVertices(origin, length r3.Vec, rot func(r3.Vec) r3.Vec) (v1, v2, v3 r3.Vec) {
	if rot == nil {
		rot = func(v r3.Vec) r3.Vec { return v }
	}
	v1 = r3.Add(origin, rot(r3.Vec{X: length.X}))
	v2 = r3.Add(origin, rot(r3.Vec{Y: length.Y}))
	v3 = r3.Add(origin, rot(r3.Vec{Z: length.Z}))
	return v1, v2, v3
}
