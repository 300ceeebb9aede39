// Package tessellate turns lattices into triangle meshes for display: a
// marker box at every displaced control point, merged into one mesh.
package tessellate

import (
	"fmt"

	"github.com/chazu/morph/pkg/ffd"
	"github.com/chazu/morph/pkg/mesh"
	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultMarkerScale sizes control point markers relative to the smallest
// lattice cell edge.
const DefaultMarkerScale = 0.1

// Lattice returns one mesh holding a cube of edge size centered on each
// displaced control point of p. A size <= 0 picks DefaultMarkerScale of
// the smallest cell edge. The tessellator never modifies p.
func Lattice(p *ffd.Parameters, size float64) (*mesh.Mesh, error) {
	pts, err := ffd.ControlPoints(p)
	if err != nil {
		return nil, fmt.Errorf("tessellate: %w", err)
	}
	if size <= 0 {
		size = DefaultMarkerScale * minCellEdge(p)
	}

	half := r3.Vec{X: size / 2, Y: size / 2, Z: size / 2}
	markers := make([]*mesh.Mesh, len(pts))
	for n, c := range pts {
		markers[n] = mesh.Cuboid(r3.Sub(c, half), r3.Add(c, half))
	}
	return Merge("lattice", markers...), nil
}

// Merge concatenates meshes into one, renumbering triangle indices.
func Merge(name string, parts ...*mesh.Mesh) *mesh.Mesh {
	out := &mesh.Mesh{Name: name}
	for _, m := range parts {
		if m == nil {
			continue
		}
		base := len(out.Points)
		out.Points = append(out.Points, m.Points...)
		for _, t := range m.Triangles {
			out.Triangles = append(out.Triangles, mesh.Triangle{t[0] + base, t[1] + base, t[2] + base})
		}
	}
	return out
}

// minCellEdge is the shortest undisplaced lattice cell edge; a single
// layer counts the full box edge.
func minCellEdge(p *ffd.Parameters) float64 {
	edges := [3]r3.Vec{
		r3.Sub(p.Vertex1, p.Origin),
		r3.Sub(p.Vertex2, p.Origin),
		r3.Sub(p.Vertex3, p.Origin),
	}
	shortest := 0.0
	for c, e := range edges {
		cells := p.Shape[c] - 1
		if cells < 1 {
			cells = 1
		}
		l := r3.Norm(e) / float64(cells)
		if c == 0 || l < shortest {
			shortest = l
		}
	}
	return shortest
}
