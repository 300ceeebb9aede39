// Package mesh defines indexed triangle meshes used as deformation input:
// a point cloud plus triangles referencing it by vertex index.
package mesh

import (
	"errors"
	"fmt"
	"math"

	"github.com/chazu/morph/pkg/ffd"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrTriangleIndex is returned for a triangle referencing a missing vertex.
var ErrTriangleIndex = errors.New("mesh: triangle vertex index out of range")

// Triangle is a face given by three vertex indices, counter-clockwise when
// seen from outside.
type Triangle [3]int

// Mesh is an indexed triangle mesh.
type Mesh struct {
	Name      string
	Points    ffd.PointCloud
	Triangles []Triangle
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int {
	return len(m.Points)
}

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int {
	return len(m.Triangles)
}

// IsEmpty returns true if the mesh has no geometry.
func (m *Mesh) IsEmpty() bool {
	return len(m.Points) == 0
}

// Validate checks every triangle index against the vertex count.
func (m *Mesh) Validate() error {
	n := len(m.Points)
	for t, tri := range m.Triangles {
		for _, v := range tri {
			if v < 0 || v >= n {
				return fmt.Errorf("triangle %d references vertex %d of %d: %w", t, v, n, ErrTriangleIndex)
			}
		}
	}
	return nil
}

// WithPoints returns a mesh sharing the connectivity of m with new
// vertex positions.
func (m *Mesh) WithPoints(pts ffd.PointCloud) *Mesh {
	return &Mesh{Name: m.Name, Points: pts, Triangles: m.Triangles}
}

// SignedVolume returns six times the signed volume enclosed by the
// triangles: the sum of det([a; b; c]) over faces. It is the enclosed
// volume only for closed, consistently oriented surfaces.
func SignedVolume(pts ffd.PointCloud, tris []Triangle) float64 {
	var v float64
	for _, t := range tris {
		v += r3.Dot(pts[t[0]], r3.Cross(pts[t[1]], pts[t[2]]))
	}
	return v
}

// Volume returns the enclosed volume of m.
func (m *Mesh) Volume() float64 {
	return SignedVolume(m.Points, m.Triangles) / 6
}

// IsClosed reports whether every directed edge is matched by exactly one
// opposite edge, i.e. the surface is closed and consistently oriented.
func (m *Mesh) IsClosed() bool {
	if len(m.Triangles) == 0 {
		return false
	}
	edges := make(map[[2]int]int, 3*len(m.Triangles))
	for _, t := range m.Triangles {
		for e := 0; e < 3; e++ {
			edges[[2]int{t[e], t[(e+1)%3]}]++
		}
	}
	for e, n := range edges {
		if n != 1 || edges[[2]int{e[1], e[0]}] != 1 {
			return false
		}
	}
	return true
}

// Flip reverses the winding of every triangle in place.
func (m *Mesh) Flip() {
	for i, t := range m.Triangles {
		m.Triangles[i] = Triangle{t[0], t[2], t[1]}
	}
}

// Bounds returns the axis-aligned bounding box of the vertices.
func (m *Mesh) Bounds() (min, max r3.Vec) {
	if len(m.Points) == 0 {
		return min, max
	}
	min, max = m.Points[0], m.Points[0]
	for _, p := range m.Points[1:] {
		min = r3.Vec{X: math.Min(min.X, p.X), Y: math.Min(min.Y, p.Y), Z: math.Min(min.Z, p.Z)}
		max = r3.Vec{X: math.Max(max.X, p.X), Y: math.Max(max.Y, p.Y), Z: math.Max(max.Z, p.Z)}
	}
	return min, max
}

// Cuboid returns the closed 12-triangle box spanning min..max with
// outward-facing triangles.
func Cuboid(min, max r3.Vec) *Mesh {
	pts := ffd.PointCloud{
		{X: min.X, Y: min.Y, Z: min.Z}, // 0
		{X: max.X, Y: min.Y, Z: min.Z}, // 1
		{X: max.X, Y: max.Y, Z: min.Z}, // 2
		{X: min.X, Y: max.Y, Z: min.Z}, // 3
		{X: min.X, Y: min.Y, Z: max.Z}, // 4
		{X: max.X, Y: min.Y, Z: max.Z}, // 5
		{X: max.X, Y: max.Y, Z: max.Z}, // 6
		{X: min.X, Y: max.Y, Z: max.Z}, // 7
	}
	tris := []Triangle{
		{0, 2, 1}, {0, 3, 2}, // bottom
		{4, 5, 6}, {4, 6, 7}, // top
		{0, 1, 5}, {0, 5, 4}, // front
		{3, 7, 6}, {3, 6, 2}, // back
		{0, 4, 7}, {0, 7, 3}, // left
		{1, 2, 6}, {1, 6, 5}, // right
	}
	return &Mesh{Name: "cuboid", Points: pts, Triangles: tris}
}

// Weld builds an indexed mesh from a triangle soup, merging vertices that
// coincide to within eps. Degenerate triangles left after merging are dropped.
func Weld(soup [][3]r3.Vec, eps float64) *Mesh {
	if eps <= 0 {
		eps = 1e-9
	}
	m := &Mesh{}
	index := make(map[[3]int64]int)
	key := func(p r3.Vec) [3]int64 {
		return [3]int64{
			int64(math.Round(p.X / eps)),
			int64(math.Round(p.Y / eps)),
			int64(math.Round(p.Z / eps)),
		}
	}
	for _, tri := range soup {
		var t Triangle
		for j, p := range tri {
			k := key(p)
			id, ok := index[k]
			if !ok {
				id = len(m.Points)
				index[k] = id
				m.Points = append(m.Points, p)
			}
			t[j] = id
		}
		if t[0] == t[1] || t[1] == t[2] || t[0] == t[2] {
			continue
		}
		m.Triangles = append(m.Triangles, t)
	}
	return m
}
