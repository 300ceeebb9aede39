package engine

import (
	"fmt"
	"math"
	"strings"

	"github.com/chazu/morph/pkg/ffd"
	"github.com/chazu/morph/pkg/kernel"
	"github.com/chazu/morph/pkg/kernel/sdfx"
	"github.com/chazu/morph/pkg/mesh"
	zygo "github.com/glycerine/zygomys/zygo"
	"gonum.org/v1/gonum/spatial/r3"
)

// ---------------------------------------------------------------------------
// Custom Sexp types for passing Go values through the zygomys environment
// ---------------------------------------------------------------------------

// sexpVec3 wraps an r3.Vec.
type sexpVec3 struct {
	vec r3.Vec
}

func (v *sexpVec3) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(vec3 %g %g %g)", v.vec.X, v.vec.Y, v.vec.Z)
}
func (v *sexpVec3) Type() *zygo.RegisteredType { return nil }

// sexpSolid wraps a kernel.Solid so it can flow between solid builtins
// and `mesh`.
type sexpSolid struct {
	solid kernel.Solid
	desc  string
}

func (s *sexpSolid) SexpString(ps *zygo.PrintState) string {
	return "(" + s.desc + ")"
}
func (s *sexpSolid) Type() *zygo.RegisteredType { return nil }

// ---------------------------------------------------------------------------
// Keyword argument parsing
// ---------------------------------------------------------------------------

// kwPrefix is the marker prepended to keyword names by preprocessSource.
const kwPrefix = "__kw_"

// isKW returns the keyword name of a preprocessed keyword string.
func isKW(s zygo.Sexp) (string, bool) {
	str, ok := s.(*zygo.SexpStr)
	if !ok {
		return "", false
	}
	if strings.HasPrefix(str.S, kwPrefix) {
		return str.S[len(kwPrefix):], true
	}
	return "", false
}

// kwArgs holds the result of parsing a mixed positional+keyword argument list.
type kwArgs struct {
	kw         map[string]zygo.Sexp
	positional []zygo.Sexp
}

// parseArgs separates args into keyword and positional arguments.
func parseArgs(args []zygo.Sexp) kwArgs {
	result := kwArgs{kw: make(map[string]zygo.Sexp)}
	i := 0
	for i < len(args) {
		name, ok := isKW(args[i])
		if ok {
			if i+1 < len(args) {
				result.kw[name] = args[i+1]
				i += 2
			} else {
				// Trailing keyword acts as a flag.
				result.kw[name] = zygo.SexpNull
				i++
			}
		} else {
			result.positional = append(result.positional, args[i])
			i++
		}
	}
	return result
}

// ---------------------------------------------------------------------------
// Value extraction helpers
// ---------------------------------------------------------------------------

func toFloat64(s zygo.Sexp) (float64, error) {
	switch v := s.(type) {
	case *zygo.SexpInt:
		return float64(v.Val), nil
	case *zygo.SexpFloat:
		return v.Val, nil
	}
	return 0, fmt.Errorf("expected number, got %T (%s)", s, s.SexpString(nil))
}

func toInt(s zygo.Sexp) (int, error) {
	switch v := s.(type) {
	case *zygo.SexpInt:
		return int(v.Val), nil
	case *zygo.SexpFloat:
		if v.Val == math.Trunc(v.Val) {
			return int(v.Val), nil
		}
	}
	return 0, fmt.Errorf("expected integer, got %T (%s)", s, s.SexpString(nil))
}

// toKeywordString extracts a keyword name or plain string from a Sexp.
func toKeywordString(s zygo.Sexp) (string, error) {
	str, ok := s.(*zygo.SexpStr)
	if !ok {
		return "", fmt.Errorf("expected keyword or string, got %T (%s)", s, s.SexpString(nil))
	}
	return strings.TrimPrefix(str.S, kwPrefix), nil
}

// toAxis converts :x, :y or :z to a channel number.
func toAxis(s zygo.Sexp) (int, error) {
	name, err := toKeywordString(s)
	if err != nil {
		return 0, fmt.Errorf("expected axis keyword (:x, :y, :z): %w", err)
	}
	switch name {
	case "x":
		return 0, nil
	case "y":
		return 1, nil
	case "z":
		return 2, nil
	}
	return 0, fmt.Errorf("invalid axis %q, expected x, y, or z", name)
}

func toVec3(s zygo.Sexp) (r3.Vec, error) {
	if v, ok := s.(*sexpVec3); ok {
		return v.vec, nil
	}
	return r3.Vec{}, fmt.Errorf("expected vec3, got %T (%s)", s, s.SexpString(nil))
}

func toSolid(s zygo.Sexp) (*sexpSolid, error) {
	if v, ok := s.(*sexpSolid); ok {
		return v, nil
	}
	return nil, fmt.Errorf("expected solid, got %T (%s)", s, s.SexpString(nil))
}

// sexpListToSlice converts a SexpPair (Lisp list) or SexpArray to a Go slice.
func sexpListToSlice(s zygo.Sexp) ([]zygo.Sexp, error) {
	switch v := s.(type) {
	case *zygo.SexpPair:
		return zygo.ListToArray(v)
	case *zygo.SexpArray:
		return v.Val, nil
	case *zygo.SexpSentinel:
		if v == zygo.SexpNull {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("expected list or array, got %T", s)
}

func toTriple(s zygo.Sexp) ([3]int, error) {
	items, err := sexpListToSlice(s)
	if err != nil {
		return [3]int{}, err
	}
	if len(items) != 3 {
		return [3]int{}, fmt.Errorf("expected 3 integers, got %d", len(items))
	}
	var out [3]int
	for i, item := range items {
		if out[i], err = toInt(item); err != nil {
			return [3]int{}, err
		}
	}
	return out, nil
}

// vec3 reads an optional vec3 keyword argument.
func (a kwArgs) vec3(fn, key string, def r3.Vec) (r3.Vec, error) {
	v, ok := a.kw[key]
	if !ok {
		return def, nil
	}
	vec, err := toVec3(v)
	if err != nil {
		return r3.Vec{}, fmt.Errorf("%s: %s: %w", fn, key, err)
	}
	return vec, nil
}

// float reads an optional numeric keyword argument.
func (a kwArgs) float(fn, key string, def float64) (float64, error) {
	v, ok := a.kw[key]
	if !ok {
		return def, nil
	}
	f, err := toFloat64(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %s: %w", fn, key, err)
	}
	return f, nil
}

// ---------------------------------------------------------------------------
// Builtin registration
// ---------------------------------------------------------------------------

// builder accumulates the Job a script describes.
type builder struct {
	kernel kernel.Kernel
	job    *Job
}

// registerBuiltins installs the deformation DSL into a zygomys environment.
// Source must go through preprocessSource first so :keyword tokens are
// recognizable.
func registerBuiltins(env *zygo.Zlisp, b *builder) {

	// (vec3 1 2 3)
	env.AddFunction("vec3", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 3 {
			return zygo.SexpNull, fmt.Errorf("vec3 requires exactly 3 arguments, got %d", len(args))
		}
		var c [3]float64
		for i := range c {
			f, err := toFloat64(args[i])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("vec3: %s: %w", [3]string{"x", "y", "z"}[i], err)
			}
			c[i] = f
		}
		return &sexpVec3{vec: r3.Vec{X: c[0], Y: c[1], Z: c[2]}}, nil
	})

	// -----------------------------------------------------------------------
	// Solids
	// -----------------------------------------------------------------------

	// (box :size (vec3 2 1 1)), min corner at the origin
	env.AddFunction("box", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		size, err := pa.vec3("box", "size", r3.Vec{X: 1, Y: 1, Z: 1})
		if err != nil {
			return zygo.SexpNull, err
		}
		s, err := b.kernel.Box(size.X, size.Y, size.Z)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("box: %w", err)
		}
		return &sexpSolid{solid: s, desc: fmt.Sprintf("box %gx%gx%g", size.X, size.Y, size.Z)}, nil
	})

	// (sphere :radius 1)
	env.AddFunction("sphere", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		r, err := pa.float("sphere", "radius", 1)
		if err != nil {
			return zygo.SexpNull, err
		}
		s, err := b.kernel.Sphere(r)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("sphere: %w", err)
		}
		return &sexpSolid{solid: s, desc: fmt.Sprintf("sphere r=%g", r)}, nil
	})

	// (cylinder :height 2 :radius 0.5), axis along z
	env.AddFunction("cylinder", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		h, err := pa.float("cylinder", "height", 1)
		if err != nil {
			return zygo.SexpNull, err
		}
		r, err := pa.float("cylinder", "radius", 0.5)
		if err != nil {
			return zygo.SexpNull, err
		}
		s, err := b.kernel.Cylinder(h, r)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("cylinder: %w", err)
		}
		return &sexpSolid{solid: s, desc: fmt.Sprintf("cylinder h=%g r=%g", h, r)}, nil
	})

	// (translate solid (vec3 1 0 0)) and (rotate solid (vec3 0 0 45))
	for _, op := range []string{"translate", "rotate"} {
		op := op
		env.AddFunction(op, func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			if len(args) != 2 {
				return zygo.SexpNull, fmt.Errorf("%s requires a solid and a vec3", op)
			}
			s, err := toSolid(args[0])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", op, err)
			}
			v, err := toVec3(args[1])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", op, err)
			}
			var out kernel.Solid
			if op == "translate" {
				out = b.kernel.Translate(s.solid, v)
			} else {
				out = b.kernel.Rotate(s.solid, v)
			}
			return &sexpSolid{solid: out, desc: op + " " + s.desc}, nil
		})
	}

	// (union a b ...), (difference a b ...), (intersection a b ...)
	booleans := map[string]func(a, b kernel.Solid) kernel.Solid{
		"union":        b.kernel.Union,
		"difference":   b.kernel.Difference,
		"intersection": b.kernel.Intersection,
	}
	for op, fn := range booleans {
		op, fn := op, fn
		env.AddFunction(op, func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			if len(args) < 2 {
				return zygo.SexpNull, fmt.Errorf("%s requires at least 2 solids, got %d", op, len(args))
			}
			acc, err := toSolid(args[0])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", op, err)
			}
			out := acc.solid
			for i, a := range args[1:] {
				s, err := toSolid(a)
				if err != nil {
					return zygo.SexpNull, fmt.Errorf("%s: argument %d: %w", op, i+2, err)
				}
				out = fn(out, s.solid)
			}
			return &sexpSolid{solid: out, desc: op}, nil
		})
	}

	// -----------------------------------------------------------------------
	// Job
	// -----------------------------------------------------------------------

	// (mesh solid) tessellates solid into the mesh to deform.
	env.AddFunction("mesh", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) != 1 {
			return zygo.SexpNull, fmt.Errorf("mesh requires one solid")
		}
		s, err := toSolid(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("mesh: %w", err)
		}
		k := b.kernel
		if v, ok := pa.kw["cells"]; ok {
			cells, err := toInt(v)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("mesh: cells: %w", err)
			}
			if _, ok := k.(*sdfx.SdfxKernel); ok {
				k = &sdfx.SdfxKernel{Cells: cells}
			}
		}
		m, err := k.ToMesh(s.solid)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("mesh: %w", err)
		}
		m.Name = s.desc
		b.job.Mesh = m
		return zygo.SexpNull, nil
	})

	// (cube :min (vec3 0 0 0) :max (vec3 1 1 1)) sets an exact box mesh.
	env.AddFunction("cube", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		lo, err := pa.vec3("cube", "min", r3.Vec{})
		if err != nil {
			return zygo.SexpNull, err
		}
		hi, err := pa.vec3("cube", "max", r3.Add(lo, r3.Vec{X: 1, Y: 1, Z: 1}))
		if err != nil {
			return zygo.SexpNull, err
		}
		if hi.X <= lo.X || hi.Y <= lo.Y || hi.Z <= lo.Z {
			return zygo.SexpNull, fmt.Errorf("cube: max %v must exceed min %v on every axis", hi, lo)
		}
		b.job.Mesh = mesh.Cuboid(lo, hi)
		return zygo.SexpNull, nil
	})

	// (lattice :origin (vec3 0 0 0) :length (vec3 1 1 1) :rotation (vec3 0 0 0)
	//          :shape (list 2 2 2))
	env.AddFunction("lattice", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		origin, err := pa.vec3("lattice", "origin", r3.Vec{})
		if err != nil {
			return zygo.SexpNull, err
		}
		length, err := pa.vec3("lattice", "length", r3.Vec{X: 1, Y: 1, Z: 1})
		if err != nil {
			return zygo.SexpNull, err
		}
		rot, err := pa.vec3("lattice", "rotation", r3.Vec{})
		if err != nil {
			return zygo.SexpNull, err
		}
		shape := [3]int{2, 2, 2}
		if v, ok := pa.kw["shape"]; ok {
			if shape, err = toTriple(v); err != nil {
				return zygo.SexpNull, fmt.Errorf("lattice: shape: %w", err)
			}
		}
		for i, n := range shape {
			if n <= 0 {
				return zygo.SexpNull, fmt.Errorf("lattice: shape[%d] = %d: %w", i, n, ffd.ErrShapeMismatch)
			}
		}
		v1, v2, v3 := ffd.BoxVertices(origin, length, func(v r3.Vec) r3.Vec {
			return sdfx.RotatePoint(rot, v)
		})
		b.job.Params = ffd.NewParameters(origin, v1, v2, v3, shape[0], shape[1], shape[2])
		return zygo.SexpNull, nil
	})

	// (displace 1 0 0 :x 0.2 :y 0 :z -0.1)
	env.AddFunction("displace", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		p := b.job.Params
		if p == nil {
			return zygo.SexpNull, fmt.Errorf("displace: no lattice declared")
		}
		pa := parseArgs(args)
		if len(pa.positional) != 3 {
			return zygo.SexpNull, fmt.Errorf("displace requires i j k, got %d positional arguments", len(pa.positional))
		}
		idx, err := toTriple(&zygo.SexpArray{Val: pa.positional})
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("displace: %w", err)
		}
		for c, n := range idx {
			if n < 0 || n >= p.Shape[c] {
				return zygo.SexpNull, fmt.Errorf("displace: index %v outside shape %v: %w", idx, p.Shape, ffd.ErrShapeMismatch)
			}
		}
		grids := [3]*ffd.Grid{p.MuX, p.MuY, p.MuZ}
		for c, key := range [3]string{"x", "y", "z"} {
			v, err := pa.float("displace", key, grids[c].At(idx[0], idx[1], idx[2]))
			if err != nil {
				return zygo.SexpNull, err
			}
			grids[c].Set(idx[0], idx[1], idx[2], v)
		}
		return zygo.SexpNull, nil
	})

	// (preserve-volume :scale 1.2 :weights (vec3 1 1 1) :axes (list :x :y))
	// (preserve-volume :target 1.5)
	env.AddFunction("preserve_volume", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		vc := DefaultVolumeConstraint()
		var err error
		if vc.Scale, err = pa.float("preserve-volume", "scale", vc.Scale); err != nil {
			return zygo.SexpNull, err
		}
		if _, ok := pa.kw["target"]; ok {
			v, err := pa.float("preserve-volume", "target", 0)
			if err != nil {
				return zygo.SexpNull, err
			}
			vc.Target = &v
		}
		w, err := pa.vec3("preserve-volume", "weights", r3.Vec{X: vc.AxisWeights[0], Y: vc.AxisWeights[1], Z: vc.AxisWeights[2]})
		if err != nil {
			return zygo.SexpNull, err
		}
		vc.AxisWeights = [3]float64{w.X, w.Y, w.Z}
		if v, ok := pa.kw["axes"]; ok {
			items, err := sexpListToSlice(v)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("preserve-volume: axes: %w", err)
			}
			vc.Axes = [3]bool{}
			for _, item := range items {
				a, err := toAxis(item)
				if err != nil {
					return zygo.SexpNull, fmt.Errorf("preserve-volume: axes: %w", err)
				}
				vc.Axes[a] = true
			}
		}
		b.job.Volume = vc
		return zygo.SexpNull, nil
	})
}
