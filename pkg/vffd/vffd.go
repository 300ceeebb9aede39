// Package vffd implements volume-constrained free form deformation: a
// lattice deformation whose control displacements are corrected so the
// deformed closed mesh encloses a requested volume.
//
// The volume deficit is split across the x, y and z displacement channels
// by the axis weights and corrected one channel at a time, then a final
// correction over all controlled coordinates removes any residual.
package vffd

import (
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/chazu/morph/pkg/cffd"
	"github.com/chazu/morph/pkg/ffd"
	"github.com/chazu/morph/pkg/mesh"
	"gonum.org/v1/gonum/mat"
)

// ErrAxisWeights is returned when every axis weight is zero.
var ErrAxisWeights = errors.New("vffd: axis weights must not all be zero")

// Volume is six times the signed volume enclosed by Triangles. The mesh
// must be closed and consistently wound; this is not checked.
type Volume struct {
	Triangles []mesh.Triangle
}

// Evaluate implements cffd.Functional.
func (v Volume) Evaluate(points ffd.PointCloud) float64 {
	return mesh.SignedVolume(points, v.Triangles)
}

// Spec is the constraint setup for one Deform call.
type Spec struct {
	// Params is the starting lattice state. It is never modified.
	Params *ffd.Parameters
	// Indices are flattened control coordinates free to move
	// (see ffd.Parameters.ControlIndex).
	Indices []int
	// AxisWeights share the volume deficit between the x, y and z
	// channels. Absolute values are normalized to sum to one.
	AxisWeights [3]float64
	// TargetVolume is the required value of the Volume functional.
	TargetVolume float64
}

// DefaultAxisWeights splits the deficit evenly.
var DefaultAxisWeights = [3]float64{1.0 / 3, 1.0 / 3, 1.0 / 3}

// Result is the outcome of Deform.
type Result struct {
	Points ffd.PointCloud
	Params *ffd.Parameters
	// Volume is the Volume functional of Points.
	Volume float64
	// AxisTargets are the local targets used by the x, y and z passes.
	AxisTargets [3]float64
	// AxisWeights are the normalized weights actually used.
	AxisWeights [3]float64
	// Weight is the weight matrix of the last correction.
	Weight *mat.SymDense
}

// Deformer composes a lattice deformation with a single-constraint
// corrector.
type Deformer struct {
	Lattice cffd.Lattice
	// Tolerance and MaxIterations configure each correction; zero values
	// use the cffd defaults.
	Tolerance     float64
	MaxIterations int
	Logger        *log.Logger
}

// New returns a Deformer driving lattice.
func New(lattice cffd.Lattice) *Deformer {
	return &Deformer{Lattice: lattice}
}

// Deform deforms points with spec.Params and corrects the controlled
// displacements until the mesh given by triangles encloses
// spec.TargetVolume. spec is not modified.
func (d *Deformer) Deform(points ffd.PointCloud, triangles []mesh.Triangle, spec Spec) (*Result, error) {
	weights, err := normalizeAxisWeights(spec.AxisWeights)
	if err != nil {
		return nil, err
	}

	vol := Volume{Triangles: triangles}
	corrector := cffd.NewCorrector(d.Lattice, vol)
	if d.Tolerance > 0 {
		corrector.Tolerance = d.Tolerance
	}
	if d.MaxIterations > 0 {
		corrector.MaxIterations = d.MaxIterations
	}

	groups := splitByAxis(spec.Indices)

	state := spec.Params
	deformed, err := d.Lattice.Perform(points, state)
	if err != nil {
		return nil, err
	}
	diff := spec.TargetVolume - vol.Evaluate(deformed)

	res := &Result{AxisWeights: weights}
	for axis, idx := range groups {
		current := vol.Evaluate(deformed)
		target := current + weights[axis]*diff
		res.AxisTargets[axis] = target

		if len(idx) == 0 {
			if weights[axis] == 0 {
				d.logf("vffd: axis %s: no indices, skipped", axisName(axis))
				continue
			}
			return nil, fmt.Errorf("vffd: axis %s: %w", axisName(axis), cffd.ErrEmptyIndexSet)
		}

		weight := cffd.Identity(len(idx))
		pts, next, err := corrector.Correct(points, state, cffd.Constraint{
			Indices: idx,
			Weight:  weight,
			Target:  target,
		})
		if err != nil {
			return nil, fmt.Errorf("vffd: axis %s: %w", axisName(axis), err)
		}
		deformed, state, res.Weight = pts, next, weight
		d.logf("vffd: axis %s: %d indices, target %g, volume %g",
			axisName(axis), len(idx), target, vol.Evaluate(deformed))
	}

	if len(spec.Indices) == 0 {
		return nil, fmt.Errorf("vffd: final pass: %w", cffd.ErrEmptyIndexSet)
	}
	weight := cffd.Identity(len(spec.Indices))
	pts, final, err := corrector.Correct(points, state, cffd.Constraint{
		Indices: spec.Indices,
		Weight:  weight,
		Target:  spec.TargetVolume,
	})
	if err != nil {
		return nil, fmt.Errorf("vffd: final pass: %w", err)
	}

	res.Points = pts
	res.Params = final
	res.Volume = vol.Evaluate(pts)
	res.Weight = weight
	d.logf("vffd: final: %d indices, target %g, volume %g", len(spec.Indices), spec.TargetVolume, res.Volume)
	return res, nil
}

func (d *Deformer) logf(format string, args ...interface{}) {
	if d.Logger != nil {
		d.Logger.Printf(format, args...)
	}
}

func normalizeAxisWeights(w [3]float64) ([3]float64, error) {
	var sum float64
	for i := range w {
		w[i] = math.Abs(w[i])
		sum += w[i]
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return w, ErrAxisWeights
	}
	for i := range w {
		w[i] /= sum
	}
	return w, nil
}

// splitByAxis partitions flattened control indices by channel (index mod 3).
func splitByAxis(indices []int) [3][]int {
	var groups [3][]int
	for _, idx := range indices {
		c := idx % 3
		if c < 0 {
			c += 3
		}
		groups[c] = append(groups[c], idx)
	}
	return groups
}

func axisName(axis int) string {
	return [3]string{"x", "y", "z"}[axis]
}
