package mesh

import "math"

// Flat is a mesh in render-ready flat arrays: 3 floats per vertex for
// positions and normals, 3 indices per triangle.
type Flat struct {
	Vertices []float32 `json:"vertices"`
	Normals  []float32 `json:"normals"`
	Indices  []uint32  `json:"indices"`
	PartName string    `json:"partName"`
}

// Flatten converts m to flat arrays with area-weighted vertex normals.
func (m *Mesh) Flatten() *Flat {
	f := &Flat{
		Vertices: make([]float32, 0, 3*len(m.Points)),
		Indices:  make([]uint32, 0, 3*len(m.Triangles)),
		PartName: m.Name,
	}
	for _, p := range m.Points {
		f.Vertices = append(f.Vertices, float32(p.X), float32(p.Y), float32(p.Z))
	}
	for _, t := range m.Triangles {
		f.Indices = append(f.Indices, uint32(t[0]), uint32(t[1]), uint32(t[2]))
	}
	f.Normals = vertexNormals(m)
	return f
}

// vertexNormals averages the unnormalized face normals incident on each
// vertex, so larger faces weigh more.
func vertexNormals(m *Mesh) []float32 {
	acc := make([]float64, 3*len(m.Points))
	for _, t := range m.Triangles {
		a, b, c := m.Points[t[0]], m.Points[t[1]], m.Points[t[2]]

		e1x, e1y, e1z := b.X-a.X, b.Y-a.Y, b.Z-a.Z
		e2x, e2y, e2z := c.X-a.X, c.Y-a.Y, c.Z-a.Z

		nx := e1y*e2z - e1z*e2y
		ny := e1z*e2x - e1x*e2z
		nz := e1x*e2y - e1y*e2x

		for _, idx := range t {
			acc[idx*3+0] += nx
			acc[idx*3+1] += ny
			acc[idx*3+2] += nz
		}
	}

	normals := make([]float32, len(acc))
	for i := 0; i < len(m.Points); i++ {
		nx, ny, nz := acc[i*3], acc[i*3+1], acc[i*3+2]
		length := math.Sqrt(nx*nx + ny*ny + nz*nz)
		if length > 1e-12 {
			normals[i*3+0] = float32(nx / length)
			normals[i*3+1] = float32(ny / length)
			normals[i*3+2] = float32(nz / length)
		}
	}
	return normals
}
