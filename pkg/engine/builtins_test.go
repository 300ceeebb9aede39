package engine

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/chazu/morph/pkg/cffd"
	"github.com/chazu/morph/pkg/kernel"
	"github.com/chazu/morph/pkg/mesh"
	"gonum.org/v1/gonum/spatial/r3"
)

// ---------------------------------------------------------------------------
// Preprocessing tests
// ---------------------------------------------------------------------------

func TestPreprocessKeywords(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect string
	}{
		{
			name:   "simple keyword",
			input:  `(sphere :radius 2)`,
			expect: `(sphere "__kw_radius" 2)`,
		},
		{
			name:   "multiple keywords",
			input:  `(displace 1 0 0 :x 0.2 :z -0.1)`,
			expect: `(displace 1 0 0 "__kw_x" 0.2 "__kw_z" -0.1)`,
		},
		{
			name:   "keyword in string preserved",
			input:  `"thing with :keyword inside"`,
			expect: `"thing with :keyword inside"`,
		},
		{
			name:   "assignment operator preserved",
			input:  `(def x := 10)`,
			expect: `(def x := 10)`,
		},
		{
			name:   "kebab-case identifier",
			input:  `(preserve-volume :scale 1.2)`,
			expect: `(preserve_volume "__kw_scale" 1.2)`,
		},
		{
			name:   "minus operator preserved",
			input:  `(- 10 5)`,
			expect: `(- 10 5)`,
		},
		{
			name:   "negative literal preserved",
			input:  `(vec3 -1 -0.5 0)`,
			expect: `(vec3 -1 -0.5 0)`,
		},
		{
			name:   "comment converted to // style",
			input:  `;; comment with :keyword`,
			expect: `// comment with :keyword`,
		},
		{
			name:   "hyphen in keyword preserved",
			input:  `:max-iter`,
			expect: `"__kw_max-iter"`,
		},
		{
			name:   "trailing comment",
			input:  "(cube) ; unit cube\n(lattice)",
			expect: "(cube) // unit cube\n(lattice)",
		},
		{
			name:   "escaped quote in string",
			input:  `"a \":b" :c`,
			expect: `"a \":b" "__kw_c"`,
		},
		{
			name:   "backtick string preserved",
			input:  "`x-y :z` a-b",
			expect: "`x-y :z` a_b",
		},
		{
			name:   "unterminated string",
			input:  `"open :k`,
			expect: `"open :k`,
		},
		{
			name:   "trailing colon",
			input:  `x :`,
			expect: `x :`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := preprocessSource(tt.input)
			if got != tt.expect {
				t.Errorf("preprocessSource(%q) = %q, want %q", tt.input, got, tt.expect)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Stub kernel
// ---------------------------------------------------------------------------

type stubSolid struct {
	minBB, maxBB r3.Vec
}

func (s *stubSolid) BoundingBox() (min, max r3.Vec) { return s.minBB, s.maxBB }

// stubKernel meshes every solid as its bounding box.
type stubKernel struct{}

func (k *stubKernel) Box(x, y, z float64) (kernel.Solid, error) {
	return &stubSolid{maxBB: r3.Vec{X: x, Y: y, Z: z}}, nil
}

func (k *stubKernel) Sphere(radius float64) (kernel.Solid, error) {
	r := r3.Vec{X: radius, Y: radius, Z: radius}
	return &stubSolid{minBB: r3.Scale(-1, r), maxBB: r}, nil
}

func (k *stubKernel) Cylinder(height, radius float64) (kernel.Solid, error) {
	return &stubSolid{
		minBB: r3.Vec{X: -radius, Y: -radius},
		maxBB: r3.Vec{X: radius, Y: radius, Z: height},
	}, nil
}

func (k *stubKernel) Union(a, _ kernel.Solid) kernel.Solid        { return a }
func (k *stubKernel) Difference(a, _ kernel.Solid) kernel.Solid   { return a }
func (k *stubKernel) Intersection(a, _ kernel.Solid) kernel.Solid { return a }

func (k *stubKernel) Translate(s kernel.Solid, v r3.Vec) kernel.Solid {
	min, max := s.BoundingBox()
	return &stubSolid{minBB: r3.Add(min, v), maxBB: r3.Add(max, v)}
}

func (k *stubKernel) Rotate(s kernel.Solid, _ r3.Vec) kernel.Solid { return s }

func (k *stubKernel) ToMesh(s kernel.Solid) (*mesh.Mesh, error) {
	min, max := s.BoundingBox()
	return mesh.Cuboid(min, max), nil
}

var _ kernel.Kernel = (*stubKernel)(nil)

func evalJob(t *testing.T, source string) *Job {
	t.Helper()
	eng := &Engine{Kernel: &stubKernel{}}
	job, evalErrs, err := eng.Evaluate(source)
	if err != nil {
		t.Fatalf("fatal error: %v", err)
	}
	if len(evalErrs) > 0 {
		t.Fatalf("eval errors: %v", evalErrs)
	}
	return job
}

func evalErrors(t *testing.T, source string) []EvalError {
	t.Helper()
	eng := &Engine{Kernel: &stubKernel{}}
	job, evalErrs, err := eng.Evaluate(source)
	if err != nil {
		t.Fatalf("fatal error: %v", err)
	}
	if job != nil {
		t.Fatalf("expected nil job, got %+v", job)
	}
	if len(evalErrs) == 0 {
		t.Fatal("expected eval errors")
	}
	return evalErrs
}

// ---------------------------------------------------------------------------
// Builtin tests
// ---------------------------------------------------------------------------

func TestCubeMesh(t *testing.T) {
	job := evalJob(t, `(cube :min (vec3 -1 0 0) :max (vec3 1 1 3))`)
	if job.Mesh == nil {
		t.Fatal("expected mesh")
	}
	if v := job.Mesh.Volume(); math.Abs(v-6) > 1e-12 {
		t.Errorf("volume = %v, want 6", v)
	}
	if !job.Mesh.IsClosed() {
		t.Error("cube mesh should be closed")
	}
}

func TestCubeDefaultsToUnit(t *testing.T) {
	job := evalJob(t, `(cube :min (vec3 2 2 2))`)
	min, max := job.Mesh.Bounds()
	if min != (r3.Vec{X: 2, Y: 2, Z: 2}) || max != (r3.Vec{X: 3, Y: 3, Z: 3}) {
		t.Errorf("bounds = %v %v", min, max)
	}
}

func TestSolidMesh(t *testing.T) {
	job := evalJob(t, `
(def s (sphere :radius 2))
(mesh (translate s (vec3 10 0 0)))
`)
	if job.Mesh == nil {
		t.Fatal("expected mesh")
	}
	min, max := job.Mesh.Bounds()
	if min.X != 8 || max.X != 12 {
		t.Errorf("x bounds = [%v, %v], want [8, 12]", min.X, max.X)
	}
	if !strings.Contains(job.Mesh.Name, "sphere") {
		t.Errorf("mesh name = %q", job.Mesh.Name)
	}
}

func TestBooleanBuiltins(t *testing.T) {
	job := evalJob(t, `(mesh (difference (box :size (vec3 2 2 2)) (cylinder :height 3 :radius 0.5)))`)
	if v := job.Mesh.Volume(); math.Abs(v-8) > 1e-12 {
		t.Errorf("stub volume = %v, want 8", v)
	}
}

func TestLattice(t *testing.T) {
	job := evalJob(t, `
(lattice :origin (vec3 1 2 3) :length (vec3 2 3 4) :shape (list 3 2 4))
(displace 2 1 3 :x 0.5 :z -0.25)
`)
	p := job.Params
	if p == nil {
		t.Fatal("expected lattice")
	}
	if p.Shape != [3]int{3, 2, 4} {
		t.Errorf("shape = %v", p.Shape)
	}
	if p.Vertex1 != (r3.Vec{X: 3, Y: 2, Z: 3}) || p.Vertex3 != (r3.Vec{X: 1, Y: 2, Z: 7}) {
		t.Errorf("vertices = %v %v", p.Vertex1, p.Vertex3)
	}
	if got := p.MuX.At(2, 1, 3); got != 0.5 {
		t.Errorf("MuX = %v, want 0.5", got)
	}
	if got := p.MuZ.At(2, 1, 3); got != -0.25 {
		t.Errorf("MuZ = %v, want -0.25", got)
	}
	if got := p.MuY.At(2, 1, 3); got != 0 {
		t.Errorf("MuY = %v, want 0", got)
	}
}

func TestLatticeRotation(t *testing.T) {
	job := evalJob(t, `(lattice :length (vec3 2 1 1) :rotation (vec3 0 0 90))`)
	v1 := job.Params.Vertex1
	if math.Abs(v1.X) > 1e-12 || math.Abs(v1.Y-2) > 1e-12 {
		t.Errorf("rotated vertex1 = %v, want (0, 2, 0)", v1)
	}
}

func TestDisplaceAccumulatesByChannel(t *testing.T) {
	job := evalJob(t, `
(lattice)
(displace 0 0 0 :x 0.1)
(displace 0 0 0 :y 0.2)
`)
	p := job.Params
	if p.MuX.At(0, 0, 0) != 0.1 || p.MuY.At(0, 0, 0) != 0.2 {
		t.Errorf("displacement = (%v, %v)", p.MuX.At(0, 0, 0), p.MuY.At(0, 0, 0))
	}
}

func TestPreserveVolume(t *testing.T) {
	job := evalJob(t, `(preserve-volume :scale 1.5 :weights (vec3 1 2 1) :axes (list :x :z))`)
	vc := job.Volume
	if vc == nil {
		t.Fatal("expected volume constraint")
	}
	if vc.Scale != 1.5 || vc.Target != nil {
		t.Errorf("scale/target = %v/%v", vc.Scale, vc.Target)
	}
	if vc.AxisWeights != [3]float64{1, 2, 1} {
		t.Errorf("weights = %v", vc.AxisWeights)
	}
	if vc.Axes != [3]bool{true, false, true} {
		t.Errorf("axes = %v", vc.Axes)
	}

	job = evalJob(t, `(preserve-volume)`)
	if *job.Volume != *DefaultVolumeConstraint() {
		t.Errorf("default constraint = %+v", job.Volume)
	}
}

func TestBuiltinErrors(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{"vec3 arity", `(vec3 1 2)`},
		{"vec3 type", `(vec3 1 "a" 2)`},
		{"displace before lattice", `(displace 0 0 0 :x 1)`},
		{"displace out of range", `(lattice) (displace 2 0 0 :x 1)`},
		{"displace arity", `(lattice) (displace 0 0 :x 1)`},
		{"bad shape", `(lattice :shape (list 2 0 2))`},
		{"shape length", `(lattice :shape (list 2 2))`},
		{"fractional shape", `(lattice :shape (list 2 2.5 2))`},
		{"inverted cube", `(cube :min (vec3 1 1 1) :max (vec3 0 2 2))`},
		{"mesh without solid", `(mesh (vec3 1 1 1))`},
		{"bad axis", `(preserve-volume :axes (list :w))`},
		{"union arity", `(union (sphere))`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := evalErrors(t, tt.source)
			if errs[0].Message == "" {
				t.Error("empty error message")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Job.Run tests
// ---------------------------------------------------------------------------

const bulge = `
(cube :min (vec3 0 0 0) :max (vec3 1 1 1))
(lattice :origin (vec3 -0.5 -0.5 -0.5) :length (vec3 2 2 2) :shape (list 2 2 2))
(displace 1 1 1 :x 0.3 :y 0.2)
`

func TestRunPlainDeformation(t *testing.T) {
	out, err := evalJob(t, bulge).Run()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.InitialVolume != 1 {
		t.Errorf("initial volume = %v, want 1", out.InitialVolume)
	}
	if out.Volume <= 1 {
		t.Errorf("volume = %v, want growth", out.Volume)
	}
	if out.Constrained != nil {
		t.Error("unconstrained run reported a correction")
	}
}

func TestPreserveVolumeTarget(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   *float64
	}{
		{"unset", `(preserve-volume :scale 2)`, nil},
		{"zero", `(preserve-volume :target 0)`, new(float64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evalJob(t, tt.source).Volume.Target
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("target = %v, want %v", got, tt.want)
			}
			if got != nil && *got != *tt.want {
				t.Errorf("target = %v, want %v", *got, *tt.want)
			}
		})
	}
}

func TestRunPreservesVolume(t *testing.T) {
	tests := []struct {
		name   string
		extra  string
		target float64
	}{
		{"keep", `(preserve-volume)`, 1},
		{"scale", `(preserve-volume :scale 1.4)`, 1.4},
		{"absolute", `(preserve-volume :target 0.9 :weights (vec3 0 0 1))`, 0.9},
		{"z only", `(preserve-volume :weights (vec3 0 0 1) :axes (list :z))`, 1},
		{"zero target", `(preserve-volume :target 0 :scale 2)`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := evalJob(t, bulge+tt.extra)
			out, err := job.Run()
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if math.Abs(out.Volume-tt.target) > 1e-6 {
				t.Errorf("volume = %v, want %v", out.Volume, tt.target)
			}
			if out.Constrained == nil {
				t.Fatal("expected correction result")
			}
			if math.Abs(out.AxisTargets[2]-tt.target) > 1e-6 {
				t.Errorf("z pass target = %v, want %v", out.AxisTargets[2], tt.target)
			}
			if job.Params.MuX.At(1, 1, 1) != 0.3 {
				t.Error("Run modified the job's lattice")
			}
		})
	}
}

func TestRunErrors(t *testing.T) {
	if _, err := evalJob(t, `(lattice)`).Run(); !errors.Is(err, ErrNoMesh) {
		t.Errorf("no mesh: error = %v, want ErrNoMesh", err)
	}
	if _, err := evalJob(t, `(cube)`).Run(); !errors.Is(err, ErrNoLattice) {
		t.Errorf("no lattice: error = %v, want ErrNoLattice", err)
	}
	_, err := evalJob(t, bulge+`(preserve-volume :axes (list :z))`).Run()
	if !errors.Is(err, cffd.ErrEmptyIndexSet) {
		t.Errorf("weighted axis without indices: error = %v, want ErrEmptyIndexSet", err)
	}
}
