// Package cffd enforces a single scalar constraint F(deformed points) = c
// on a free form deformation by correcting a chosen subset of control
// coordinates with a weighted minimum-norm update.
//
// The functional is linearized in the chosen coordinates by finite
// differences. For functionals that are linear in those coordinates (the
// enclosed volume is linear in any single displacement channel of an
// axis-aligned lattice) one step is exact; otherwise the step is repeated
// until the residual falls under the tolerance.
package cffd

import (
	"errors"
	"fmt"
	"math"

	"github.com/chazu/morph/pkg/ffd"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrEmptyIndexSet is returned when a correction has no variables.
	ErrEmptyIndexSet = errors.New("cffd: empty control index set")
	// ErrIndexRange is returned for a control index outside the lattice.
	ErrIndexRange = errors.New("cffd: control index out of range")
	// ErrWeightMatrix is returned when the weight matrix is not SPD or
	// does not match the index count.
	ErrWeightMatrix = errors.New("cffd: weight matrix must be symmetric positive definite and sized to the index set")
	// ErrInsensitive is returned when the functional does not respond to
	// any of the chosen control coordinates.
	ErrInsensitive = errors.New("cffd: functional is insensitive to the chosen control indices")
	// ErrNotConverged is returned when the iteration budget runs out.
	ErrNotConverged = errors.New("cffd: correction did not converge")
)

// Functional is a scalar quantity of a deformed point cloud.
type Functional interface {
	Evaluate(points ffd.PointCloud) float64
}

// FunctionalFunc adapts a plain function to Functional.
type FunctionalFunc func(points ffd.PointCloud) float64

// Evaluate calls f.
func (f FunctionalFunc) Evaluate(points ffd.PointCloud) float64 {
	return f(points)
}

// Lattice is the deformation the corrector drives.
type Lattice interface {
	Perform(points ffd.PointCloud, p *ffd.Parameters) (ffd.PointCloud, error)
}

// Constraint selects the control coordinates to move, their weighting and
// the target value. A nil Weight means identity.
type Constraint struct {
	Indices []int
	Weight  *mat.SymDense
	Target  float64
}

// Identity returns an n x n identity weight matrix, or nil when n < 1.
func Identity(n int) *mat.SymDense {
	if n <= 0 {
		return nil
	}
	m := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		m.SetSym(i, i, 1)
	}
	return m
}

const (
	defaultTolerance     = 1e-10
	defaultMaxIterations = 20
	defaultStep          = 1.0
)

// Corrector solves single-constraint corrections.
type Corrector struct {
	Lattice    Lattice
	Functional Functional

	// Tolerance is relative to max(1, |target|).
	Tolerance     float64
	MaxIterations int
	// Step is the finite difference increment in control units.
	Step float64
}

// NewCorrector returns a Corrector with default settings.
func NewCorrector(l Lattice, f Functional) *Corrector {
	return &Corrector{
		Lattice:       l,
		Functional:    f,
		Tolerance:     defaultTolerance,
		MaxIterations: defaultMaxIterations,
		Step:          defaultStep,
	}
}

// Correct returns the deformed points and the corrected parameters for
// which the functional meets c.Target. state is not modified.
func (c *Corrector) Correct(points ffd.PointCloud, state *ffd.Parameters, con Constraint) (ffd.PointCloud, *ffd.Parameters, error) {
	n := len(con.Indices)
	if n == 0 {
		return nil, nil, ErrEmptyIndexSet
	}
	for _, idx := range con.Indices {
		if idx < 0 || idx >= state.NumCoordinates() {
			return nil, nil, fmt.Errorf("index %d not in [0,%d): %w", idx, state.NumCoordinates(), ErrIndexRange)
		}
	}

	weight := con.Weight
	if weight == nil {
		weight = Identity(n)
	}
	if weight.SymmetricDim() != n {
		return nil, nil, fmt.Errorf("weight is %dx%d for %d indices: %w",
			weight.SymmetricDim(), weight.SymmetricDim(), n, ErrWeightMatrix)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(weight); !ok {
		return nil, nil, ErrWeightMatrix
	}

	params := state.Clone()
	tol := c.tolerance() * math.Max(1, math.Abs(con.Target))

	for iter := 0; ; iter++ {
		pts, err := c.Lattice.Perform(points, params)
		if err != nil {
			return nil, nil, err
		}
		value := c.Functional.Evaluate(pts)
		residual := con.Target - value
		if math.Abs(residual) <= tol {
			return pts, params, nil
		}
		if iter >= c.maxIterations() {
			return nil, nil, fmt.Errorf("residual %g after %d iterations: %w", residual, iter, ErrNotConverged)
		}

		grad, err := c.gradient(points, params, con.Indices, value)
		if err != nil {
			return nil, nil, err
		}

		// delta = M^-1 a^T (a M^-1 a^T)^-1 residual
		var w mat.VecDense
		if err := chol.SolveVecTo(&w, grad); err != nil {
			return nil, nil, fmt.Errorf("cffd: %w", err)
		}
		s := mat.Dot(grad, &w)
		if s == 0 || math.IsNaN(s) {
			return nil, nil, ErrInsensitive
		}
		scale := residual / s
		for k, idx := range con.Indices {
			params.SetCoordinate(idx, params.Coordinate(idx)+scale*w.AtVec(k))
		}
	}
}

// gradient estimates dF/dx for each index by forward differences around
// params, where base is F at params.
func (c *Corrector) gradient(points ffd.PointCloud, params *ffd.Parameters, indices []int, base float64) (*mat.VecDense, error) {
	h := c.step()
	grad := mat.NewVecDense(len(indices), nil)
	probe := params.Clone()
	for k, idx := range indices {
		orig := probe.Coordinate(idx)
		probe.SetCoordinate(idx, orig+h)
		pts, err := c.Lattice.Perform(points, probe)
		if err != nil {
			return nil, err
		}
		grad.SetVec(k, (c.Functional.Evaluate(pts)-base)/h)
		probe.SetCoordinate(idx, orig)
	}
	return grad, nil
}

func (c *Corrector) tolerance() float64 {
	if c.Tolerance > 0 {
		return c.Tolerance
	}
	return defaultTolerance
}

func (c *Corrector) maxIterations() int {
	if c.MaxIterations > 0 {
		return c.MaxIterations
	}
	return defaultMaxIterations
}

func (c *Corrector) step() float64 {
	if c.Step > 0 {
		return c.Step
	}
	return defaultStep
}
