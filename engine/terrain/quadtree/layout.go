// Package quadtree holds the node addressing scheme, the LOD threshold table and the level
// selection kernels of the GPU-resident terrain quad-tree, both as WGSL sources and as host
// kernels operating on the same little-endian word layouts.
package quadtree

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidLayout is returned by Layout.Validate when a layout cannot address any nodes.
	ErrInvalidLayout = errors.New("quadtree: invalid layout")
)

// Layout describes the shape of the terrain quad-tree and where it sits in the world.
//
// LOD numbering runs from 0 (finest patches) to MaxLOD (the root grid). Node ids are flattened
// per level with IndexBase, so the root level occupies the lowest ids and every finer level
// follows in one contiguous block.
type Layout struct {
	// MaxLOD is the coarsest LOD; the tree has MaxLOD+1 levels.
	MaxLOD int `yaml:"max_lod"`
	// RootSideNodes is the side length of the root grid (4 gives 16 roots).
	RootSideNodes int `yaml:"root_side_nodes"`
	// RootNodeSize is the world-space footprint of a single root node.
	RootNodeSize float32 `yaml:"root_node_size"`
	// Origin is the world-space x/z of the terrain's minimum corner.
	Origin [2]float32 `yaml:"origin"`
}

// DefaultLayout returns the 7-level, 4x4 root layout with 1024m roots and 16m finest patches.
func DefaultLayout() Layout {
	return Layout{
		MaxLOD:        6,
		RootSideNodes: 4,
		RootNodeSize:  1024,
	}
}

// Validate checks that the layout describes a usable tree.
//
// Returns:
//   - error: ErrInvalidLayout wrapped with the offending field, or nil
func (l Layout) Validate() error {
	switch {
	case l.MaxLOD < 0 || l.MaxLOD > 12:
		return fmt.Errorf("%w: max lod %d out of range [0, 12]", ErrInvalidLayout, l.MaxLOD)
	case l.RootSideNodes <= 0 || l.RootSideNodes&(l.RootSideNodes-1) != 0:
		// Bakes sample one height-range texel per node, which only covers the footprint when
		// every level side is a power of two.
		return fmt.Errorf("%w: root side nodes must be a positive power of two, got %d", ErrInvalidLayout, l.RootSideNodes)
	case l.RootNodeSize <= 0:
		return fmt.Errorf("%w: root node size must be positive, got %f", ErrInvalidLayout, l.RootNodeSize)
	}
	if total := l.totalNodes64(); total > math.MaxUint32 {
		return fmt.Errorf("%w: %d nodes overflow 32-bit node ids", ErrInvalidLayout, total)
	}
	return nil
}

func (l Layout) totalNodes64() uint64 {
	if l.RootSideNodes > 1<<16 {
		return math.MaxUint64
	}
	roots := uint64(l.RootSideNodes) * uint64(l.RootSideNodes)
	return roots * (((uint64(1) << (2 * uint64(l.MaxLOD+1))) - 1) / 3)
}

// Levels returns the number of levels in the tree.
func (l Layout) Levels() int {
	return l.MaxLOD + 1
}

// Roots returns the number of root nodes.
func (l Layout) Roots() uint32 {
	return uint32(l.RootSideNodes * l.RootSideNodes)
}

// depth converts an LOD to its distance from the root level.
func (l Layout) depth(lod int) uint32 {
	return uint32(l.MaxLOD - lod)
}

// LevelNodes returns the number of nodes at the given LOD.
func (l Layout) LevelNodes(lod int) uint32 {
	return l.Roots() << (2 * l.depth(lod))
}

// IndexBase returns the first flattened id of the given LOD:
// roots * (4^(MaxLOD-lod) - 1) / 3.
func (l Layout) IndexBase(lod int) uint32 {
	return l.Roots() * (((uint32(1) << (2 * l.depth(lod))) - 1) / 3)
}

// DepthBase returns the first flattened id of the level at the given depth from the root
// grid. DepthBase(0) is always 0 and DepthBase(d) == IndexBase(MaxLOD-d).
func (l Layout) DepthBase(depth int) uint32 {
	return l.IndexBase(l.MaxLOD - depth)
}

// TotalNodes returns the number of nodes across every level.
func (l Layout) TotalNodes() uint32 {
	return l.IndexBase(-1)
}

// LevelOf returns the LOD that owns the flattened id.
//
// Returns:
//   - int: the owning LOD
//   - bool: false when id is outside the tree
func (l Layout) LevelOf(id uint32) (int, bool) {
	for lod := l.MaxLOD; lod >= 0; lod-- {
		if id >= l.IndexBase(lod) && id < l.IndexBase(lod)+l.LevelNodes(lod) {
			return lod, true
		}
	}
	return 0, false
}

// Child returns the id of quadrant q (bit0 = +x half, bit1 = +z half) of the node id at lod.
// The result lives at lod-1.
func (l Layout) Child(lod int, id uint32, q uint32) uint32 {
	return l.IndexBase(lod-1) + 4*(id-l.IndexBase(lod)) + q
}

// Parent returns the id of the node at lod+1 that contains the node id at lod.
func (l Layout) Parent(lod int, id uint32) uint32 {
	return l.IndexBase(lod+1) + (id-l.IndexBase(lod))/4
}

// LevelSide returns the number of nodes along one side of the level grid.
func (l Layout) LevelSide(lod int) uint32 {
	return uint32(l.RootSideNodes) << l.depth(lod)
}

// NodeSize returns the world-space footprint side length of nodes at lod.
func (l Layout) NodeSize(lod int) float32 {
	return l.RootNodeSize / float32(uint32(1)<<l.depth(lod))
}

// WorldSize returns the side length of the whole terrain.
func (l Layout) WorldSize() float32 {
	return float32(l.RootSideNodes) * l.RootNodeSize
}

// Decode returns the grid coordinates of the node id within its level grid.
// Local indices are the row-major root index followed by two bits per depth.
func (l Layout) Decode(lod int, id uint32) (x, z uint32) {
	depth := l.depth(lod)
	local := id - l.IndexBase(lod)
	root := local >> (2 * depth)
	path := local & ((uint32(1) << (2 * depth)) - 1)

	x = root % uint32(l.RootSideNodes)
	z = root / uint32(l.RootSideNodes)
	for d := uint32(0); d < depth; d++ {
		q := (path >> (2 * (depth - 1 - d))) & 3
		x = x<<1 | (q & 1)
		z = z<<1 | (q >> 1)
	}
	return x, z
}

// Encode is the inverse of Decode.
func (l Layout) Encode(lod int, x, z uint32) uint32 {
	depth := l.depth(lod)
	rootX, rootZ := x>>depth, z>>depth
	local := rootZ*uint32(l.RootSideNodes) + rootX
	for d := int(depth) - 1; d >= 0; d-- {
		q := (x>>uint32(d))&1 | ((z>>uint32(d))&1)<<1
		local = local<<2 | q
	}
	return l.IndexBase(lod) + local
}

// NodeCenter returns the world-space x/z centre of the node footprint.
func (l Layout) NodeCenter(lod int, id uint32) (float32, float32) {
	x, z := l.Decode(lod, id)
	size := l.NodeSize(lod)
	return l.Origin[0] + (float32(x)+0.5)*size, l.Origin[1] + (float32(z)+0.5)*size
}

// RootIDs returns the seed ids of the root level in row-major order.
func (l Layout) RootIDs() []uint32 {
	ids := make([]uint32, l.Roots())
	for i := range ids {
		ids[i] = l.IndexBase(l.MaxLOD) + uint32(i)
	}
	return ids
}
