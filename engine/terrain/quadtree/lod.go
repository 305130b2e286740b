package quadtree

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrLODTableLength is returned when the threshold table does not have one entry per level.
	ErrLODTableLength = errors.New("quadtree: lod distance table length does not match level count")

	// ErrNonMonotonicLOD is returned when the threshold table is not strictly increasing
	// from the finest to the coarsest level.
	ErrNonMonotonicLOD = errors.New("quadtree: lod distances must be strictly increasing")
)

// DefaultLODDistances is the shipped threshold table, indexed by LOD. A node at LOD L is drawn
// when its distance to the snapped camera exceeds DefaultLODDistances[L]; otherwise it
// subdivides. Each entry roughly doubles the previous so the falloff is geometric.
var DefaultLODDistances = []float32{0, 64, 96, 224, 480, 992, 2016, 65535}

// ValidateLODDistances checks the threshold table against the layout.
//
// The table must hold at least Levels() entries and be strictly increasing from LOD 0 upwards.
// Only the first Levels() entries are used; the shipped table carries one spare sentinel.
//
// Parameters:
//   - layout: the tree layout the table will drive
//   - distances: the threshold table indexed by LOD
//
// Returns:
//   - error: ErrLODTableLength or ErrNonMonotonicLOD wrapped with details, or nil
func ValidateLODDistances(layout Layout, distances []float32) error {
	if len(distances) < layout.Levels() {
		return fmt.Errorf("%w: need %d entries, got %d", ErrLODTableLength, layout.Levels(), len(distances))
	}
	for i := 1; i < len(distances); i++ {
		if !(distances[i] > distances[i-1]) {
			return fmt.Errorf("%w: entry %d (%g) <= entry %d (%g)", ErrNonMonotonicLOD, i, distances[i], i-1, distances[i-1])
		}
	}
	for i, d := range distances {
		if math.IsNaN(float64(d)) || d < 0 {
			return fmt.Errorf("%w: entry %d is %g", ErrNonMonotonicLOD, i, d)
		}
	}
	return nil
}

// LastDistance returns the threshold of the next-coarser level, passed to the selection kernel
// for LOD transition flags. Tables without a sentinel entry above MaxLOD yield +Inf for the roots.
func LastDistance(distances []float32, lod int) float32 {
	if lod+1 >= len(distances) {
		return float32(math.Inf(1))
	}
	return distances[lod+1]
}

// SnapToGrid snaps a world x/z position to the nearest lower multiple of grid.
// The selection kernels always see a snapped camera so sub-patch motion does not pop LODs.
func SnapToGrid(x, z, grid float32) (float32, float32) {
	if grid <= 0 {
		return x, z
	}
	return float32(math.Floor(float64(x/grid))) * grid, float32(math.Floor(float64(z/grid))) * grid
}
