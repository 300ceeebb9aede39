// Package params reads lattice parameters from YAML files.
//
// A file names the box either by its origin and three edge vertices:
//
//	origin: [0, 0, 0]
//	vertices:
//	  - [1, 0, 0]
//	  - [0, 1, 0]
//	  - [0, 0, 1]
//	shape: [2, 2, 2]
//
// or by its origin, side lengths and rotation in degrees about x, y and z:
//
//	origin: [-1, -1, -1]
//	length: [2, 2, 2]
//	rotation: [0, 0, 45]
//	shape: [3, 2, 2]
//	displacements:
//	  - index: [1, 0, 0]
//	    x: 0.2
//
// Control points without a displacement entry stay at zero.
package params

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/chazu/morph/pkg/ffd"
	"github.com/chazu/morph/pkg/kernel/sdfx"
	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"
)

// File is the YAML layout of a parameter file.
type File struct {
	Origin        [3]float64     `yaml:"origin"`
	Vertices      [][3]float64   `yaml:"vertices,omitempty"`
	Length        *[3]float64    `yaml:"length,omitempty"`
	Rotation      [3]float64     `yaml:"rotation,omitempty"`
	Shape         [3]int         `yaml:"shape"`
	Displacements []Displacement `yaml:"displacements,omitempty"`
}

// Displacement sets the weights of one control point.
type Displacement struct {
	Index [3]int  `yaml:"index"`
	X     float64 `yaml:"x,omitempty"`
	Y     float64 `yaml:"y,omitempty"`
	Z     float64 `yaml:"z,omitempty"`
}

// Load reads and decodes the parameter file at path.
func Load(path string) (*ffd.Parameters, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	p, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Decode reads one YAML parameter document from r.
func Decode(r io.Reader) (*ffd.Parameters, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("params: empty document")
		}
		return nil, fmt.Errorf("params: %w", err)
	}
	return f.Parameters()
}

// Parameters converts the file into lattice parameters.
func (f *File) Parameters() (*ffd.Parameters, error) {
	for i, n := range f.Shape {
		if n <= 0 {
			return nil, fmt.Errorf("params: shape[%d] = %d: %w", i, n, ffd.ErrShapeMismatch)
		}
	}

	origin := vec(f.Origin)
	var v1, v2, v3 r3.Vec
	switch {
	case f.Length != nil && len(f.Vertices) > 0:
		return nil, errors.New("params: vertices and length are mutually exclusive")
	case f.Length != nil:
		rot := f.Rotation
		v1, v2, v3 = ffd.BoxVertices(origin, vec(*f.Length), func(v r3.Vec) r3.Vec {
			return sdfx.RotatePoint(vec(rot), v)
		})
	case len(f.Vertices) == 3:
		if f.Rotation != ([3]float64{}) {
			return nil, errors.New("params: rotation requires length")
		}
		v1, v2, v3 = vec(f.Vertices[0]), vec(f.Vertices[1]), vec(f.Vertices[2])
	default:
		return nil, fmt.Errorf("params: need 3 vertices or a length, got %d vertices: %w",
			len(f.Vertices), ffd.ErrShapeMismatch)
	}

	p := ffd.NewParameters(origin, v1, v2, v3, f.Shape[0], f.Shape[1], f.Shape[2])
	for _, d := range f.Displacements {
		i, j, k := d.Index[0], d.Index[1], d.Index[2]
		if i < 0 || i >= f.Shape[0] || j < 0 || j >= f.Shape[1] || k < 0 || k >= f.Shape[2] {
			return nil, fmt.Errorf("params: displacement index %v outside shape %v: %w",
				d.Index, f.Shape, ffd.ErrShapeMismatch)
		}
		p.MuX.Set(i, j, k, d.X)
		p.MuY.Set(i, j, k, d.Y)
		p.MuZ.Set(i, j, k, d.Z)
	}
	return p, nil
}

// FromParameters is the inverse of Parameters. Only nonzero control
// points are listed and the box is written as vertices.
func FromParameters(p *ffd.Parameters) *File {
	f := &File{
		Origin:   arr(p.Origin),
		Vertices: [][3]float64{arr(p.Vertex1), arr(p.Vertex2), arr(p.Vertex3)},
		Shape:    p.Shape,
	}
	for i := 0; i < p.Shape[0]; i++ {
		for j := 0; j < p.Shape[1]; j++ {
			for k := 0; k < p.Shape[2]; k++ {
				d := Displacement{
					Index: [3]int{i, j, k},
					X:     p.MuX.At(i, j, k),
					Y:     p.MuY.At(i, j, k),
					Z:     p.MuZ.At(i, j, k),
				}
				if d.X != 0 || d.Y != 0 || d.Z != 0 {
					f.Displacements = append(f.Displacements, d)
				}
			}
		}
	}
	return f
}

// Encode writes p to w as YAML.
func Encode(w io.Writer, p *ffd.Parameters) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(FromParameters(p)); err != nil {
		return err
	}
	return enc.Close()
}

func vec(a [3]float64) r3.Vec {
	return r3.Vec{X: a[0], Y: a[1], Z: a[2]}
}

func arr(v r3.Vec) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}
