package main

import (
	"log"

	"github.com/chazu/morph/pkg/engine"
	"github.com/chazu/morph/pkg/ffd"
	"github.com/chazu/morph/pkg/mesh"
	"github.com/chazu/morph/pkg/tessellate"
)

// colorPalette assigns distinct colors to output meshes.
var colorPalette = []string{
	"#4A90D9", "#E67E22", "#2ECC71", "#9B59B6",
	"#E74C3C", "#1ABC9C", "#F39C12", "#3498DB",
}

// App runs deformation scripts and converts the outcome to JSON-ready
// data.
type App struct {
	engine *engine.Engine
	// Params, when set, replaces the lattice a script declares.
	Params *ffd.Parameters
	// Volume, when set, replaces the volume constraint a script declares.
	Volume *engine.VolumeConstraint
	// ShowLattice adds a mesh marking the final control points.
	ShowLattice bool
	Logger      *log.Logger
}

// MeshData is the JSON mesh format: flat arrays plus a display color.
type MeshData struct {
	mesh.Flat
	Color string `json:"color"`
}

// EvalErrorData is a JSON-serializable eval error.
type EvalErrorData struct {
	Line    int    `json:"line"`
	Col     int    `json:"col"`
	Message string `json:"message"`
}

// VolumeData reports the enclosed volumes of a run.
type VolumeData struct {
	Initial     float64    `json:"initial"`
	Final       float64    `json:"final"`
	AxisTargets [3]float64 `json:"axisTargets"`
}

// EvalResult is the full result of evaluating a script.
type EvalResult struct {
	Meshes []MeshData      `json:"meshes"`
	Volume *VolumeData     `json:"volume,omitempty"`
	Errors []EvalErrorData `json:"errors"`
	Params *ffd.Parameters `json:"-"`
}

// NewApp creates an App with an sdfx-backed engine.
func NewApp() *App {
	return &App{engine: engine.NewEngine()}
}

// Evaluate runs source and returns the original and deformed meshes.
func (a *App) Evaluate(source string) EvalResult {
	result := EvalResult{
		Meshes: []MeshData{},
		Errors: []EvalErrorData{},
	}

	// Step 1: Evaluate the script into a job.
	job, evalErrs, err := a.engine.Evaluate(source)
	if err != nil {
		a.logf("evaluate: fatal error: %v", err)
		result.Errors = append(result.Errors, EvalErrorData{Message: err.Error()})
		return result
	}
	if len(evalErrs) > 0 {
		for _, e := range evalErrs {
			result.Errors = append(result.Errors, EvalErrorData{
				Line:    e.Line,
				Col:     e.Col,
				Message: e.Message,
			})
		}
		return result
	}
	if job.Mesh == nil {
		return result
	}

	// Step 2: Apply command line overrides and deform.
	if a.Params != nil {
		job.Params = a.Params
	}
	if a.Volume != nil {
		job.Volume = a.Volume
	}
	job.Logger = a.Logger
	out, err := job.Run()
	if err != nil {
		a.logf("deform: %v", err)
		result.Errors = append(result.Errors, EvalErrorData{Message: "deformation failed: " + err.Error()})
		return result
	}

	// Step 3: Convert meshes to the flat format.
	job.Mesh.Name = "original"
	out.Mesh.Name = "deformed"
	meshes := []*mesh.Mesh{job.Mesh, out.Mesh}
	if a.ShowLattice {
		cage, err := tessellate.Lattice(out.Params, 0)
		if err != nil {
			a.logf("tessellate: %v", err)
			result.Errors = append(result.Errors, EvalErrorData{Message: "lattice tessellation failed: " + err.Error()})
			return result
		}
		meshes = append(meshes, cage)
	}
	for i, m := range meshes {
		result.Meshes = append(result.Meshes, MeshData{
			Flat:  *m.Flatten(),
			Color: colorPalette[i%len(colorPalette)],
		})
	}
	result.Volume = &VolumeData{
		Initial:     out.InitialVolume,
		Final:       out.Volume,
		AxisTargets: out.AxisTargets,
	}
	result.Params = out.Params
	return result
}

func (a *App) logf(format string, args ...interface{}) {
	if a.Logger != nil {
		a.Logger.Printf(format, args...)
	}
}
