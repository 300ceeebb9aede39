package engine

import (
	"errors"
	"log"

	"github.com/chazu/morph/pkg/ffd"
	"github.com/chazu/morph/pkg/mesh"
	"github.com/chazu/morph/pkg/vffd"
)

var (
	// ErrNoMesh is returned by Run when the script declared no mesh.
	ErrNoMesh = errors.New("engine: script declares no mesh")
	// ErrNoLattice is returned by Run when the script declared no lattice.
	ErrNoLattice = errors.New("engine: script declares no lattice")
)

// Job is a deformation described by a script.
type Job struct {
	Mesh   *mesh.Mesh
	Params *ffd.Parameters
	// Volume is nil for a plain lattice deformation.
	Volume *VolumeConstraint

	Logger *log.Logger
}

// VolumeConstraint asks for the deformed mesh to enclose a given volume.
type VolumeConstraint struct {
	// Target is the enclosed volume. When nil, Scale times the
	// undeformed volume is used.
	Target *float64
	Scale  float64
	// AxisWeights share the correction between the x, y and z channels.
	AxisWeights [3]float64
	// Axes selects the channels whose displacements may be corrected.
	Axes [3]bool
}

// DefaultVolumeConstraint keeps the undeformed volume and corrects every
// channel evenly.
func DefaultVolumeConstraint() *VolumeConstraint {
	return &VolumeConstraint{
		Scale:       1,
		AxisWeights: vffd.DefaultAxisWeights,
		Axes:        [3]bool{true, true, true},
	}
}

// Output is the result of running a Job.
type Output struct {
	Mesh          *mesh.Mesh
	Params        *ffd.Parameters
	InitialVolume float64
	Volume        float64
	// AxisTargets are the enclosed volumes aimed for by the x, y and z
	// passes of a volume correction.
	AxisTargets [3]float64
	// Constrained is set when a volume correction ran.
	Constrained *vffd.Result
}

// Run deforms the job's mesh. The job is not modified.
func (j *Job) Run() (*Output, error) {
	if j.Mesh == nil || j.Mesh.IsEmpty() {
		return nil, ErrNoMesh
	}
	if j.Params == nil {
		return nil, ErrNoLattice
	}
	if err := j.Mesh.Validate(); err != nil {
		return nil, err
	}

	initial := j.Mesh.Volume()
	out := &Output{InitialVolume: initial}

	if j.Volume == nil {
		pts, err := ffd.New().Perform(j.Mesh.Points, j.Params)
		if err != nil {
			return nil, err
		}
		out.Mesh = j.Mesh.WithPoints(pts)
		out.Params = j.Params.Clone()
		out.Volume = out.Mesh.Volume()
		j.logf("morph: lattice %v, volume %g -> %g", j.Params.Shape, initial, out.Volume)
		return out, nil
	}

	target := j.Volume.Scale * initial
	if j.Volume.Target != nil {
		target = *j.Volume.Target
	}

	d := vffd.New(ffd.New())
	d.Logger = j.Logger
	res, err := d.Deform(j.Mesh.Points, j.Mesh.Triangles, vffd.Spec{
		Params:       j.Params,
		Indices:      j.Volume.indices(j.Params),
		AxisWeights:  j.Volume.AxisWeights,
		TargetVolume: 6 * target,
	})
	if err != nil {
		return nil, err
	}
	for i, t := range res.AxisTargets {
		out.AxisTargets[i] = t / 6
	}

	out.Mesh = j.Mesh.WithPoints(res.Points)
	out.Params = res.Params
	out.Volume = out.Mesh.Volume()
	out.Constrained = res
	j.logf("morph: lattice %v, volume %g -> %g (target %g)", j.Params.Shape, initial, out.Volume, target)
	return out, nil
}

func (j *Job) logf(format string, args ...interface{}) {
	if j.Logger != nil {
		j.Logger.Printf(format, args...)
	}
}

func (v *VolumeConstraint) indices(p *ffd.Parameters) []int {
	var idx []int
	for _, i := range p.AllIndices() {
		if v.Axes[i%3] {
			idx = append(idx, i)
		}
	}
	return idx
}
