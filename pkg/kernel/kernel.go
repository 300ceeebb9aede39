// Package kernel defines the abstract geometry kernel used to produce
// closed input meshes for deformation. Implementations (sdfx) build
// solids and tessellate them into indexed meshes.
package kernel

import (
	"github.com/chazu/morph/pkg/mesh"
	"gonum.org/v1/gonum/spatial/r3"
)

// Solid is an opaque handle to a geometry kernel solid.
type Solid interface {
	// BoundingBox returns the axis-aligned bounding box.
	BoundingBox() (min, max r3.Vec)
}

// Kernel is the abstract geometry kernel interface.
type Kernel interface {
	// Primitives
	Box(x, y, z float64) (Solid, error)
	Sphere(radius float64) (Solid, error)
	Cylinder(height, radius float64) (Solid, error)

	// Boolean operations
	Union(a, b Solid) Solid
	Difference(a, b Solid) Solid
	Intersection(a, b Solid) Solid

	// Transforms
	Translate(s Solid, v r3.Vec) Solid
	Rotate(s Solid, degrees r3.Vec) Solid // Euler angles, applied X then Y then Z

	// ToMesh tessellates s into a welded, outward-oriented mesh.
	ToMesh(s Solid) (*mesh.Mesh, error)
}
