package ffd

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrShapeMismatch is returned when array shapes disagree with what the
// lattice or point layout requires.
var ErrShapeMismatch = errors.New("ffd: shape mismatch")

// PointCloud is an ordered set of mesh vertex positions. Index is vertex id.
type PointCloud []r3.Vec

// PointsFromRows builds a PointCloud from an n x 3 row layout.
func PointsFromRows(rows [][]float64) (PointCloud, error) {
	pts := make(PointCloud, len(rows))
	for i, row := range rows {
		if len(row) != 3 {
			return nil, fmt.Errorf("point %d has %d coordinates, want 3: %w", i, len(row), ErrShapeMismatch)
		}
		pts[i] = r3.Vec{X: row[0], Y: row[1], Z: row[2]}
	}
	return pts, nil
}

// PointsFromFlat builds a PointCloud from packed [x0,y0,z0, x1,...] values.
func PointsFromFlat(flat []float64) (PointCloud, error) {
	if len(flat)%3 != 0 {
		return nil, fmt.Errorf("%d values is not a multiple of 3: %w", len(flat), ErrShapeMismatch)
	}
	pts := make(PointCloud, len(flat)/3)
	for i := range pts {
		pts[i] = r3.Vec{X: flat[3*i], Y: flat[3*i+1], Z: flat[3*i+2]}
	}
	return pts, nil
}

// Rows returns the points as an n x 3 row layout.
func (pc PointCloud) Rows() [][]float64 {
	rows := make([][]float64, len(pc))
	for i, p := range pc {
		rows[i] = []float64{p.X, p.Y, p.Z}
	}
	return rows
}

// Clone returns a copy of the cloud.
func (pc PointCloud) Clone() PointCloud {
	return append(PointCloud(nil), pc...)
}
