package bake

import (
	_ "embed"
	"encoding/binary"
	"math"
	"math/bits"

	"github.com/Carmen-Shannon/oxy-terrain/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/heightrange"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/quadtree"
)

// NodeAABBShaderSource builds the AABBs of one level from the height-range chain.
//
//go:embed assets/node_aabb_bake.wgsl
var NodeAABBShaderSource string

// NodeDataShaderSource flattens AABBs into NodeData records.
//
//go:embed assets/node_data_bake.wgsl
var NodeDataShaderSource string

// WorkgroupSize matches @workgroup_size in both node passes.
const WorkgroupSize = 64

// Options controls how heights become world-space boxes.
type Options struct {
	HeightScale  float32
	HeightOrigin float32
	MinExtentY   float32
}

// aabbParams mirrors AABBParams in node_aabb_bake.wgsl (64 bytes).
type aabbParams struct {
	IndexBase   uint32
	LevelNodes  uint32
	Depth       uint32
	RootSide    uint32
	MipOffset   uint32
	MipSide     uint32
	LevelSide   uint32
	_           uint32
	OriginX     float32
	OriginZ     float32
	NodeSize    float32
	HeightScale float32
	HeightOrig  float32
	MinExtentY  float32
	_           [2]float32
}

const aabbParamsWords = 16

// SampleMip returns the mip whose texels match the footprint of a node on a level with
// levelSide nodes per side, clamped to the chain.
func SampleMip(heightmapSide, levelSide uint32) int {
	if levelSide == 0 || levelSide >= heightmapSide {
		return 0
	}
	mip := bits.Len32(heightmapSide/levelSide) - 1
	n, err := heightrange.MipCount(heightmapSide)
	if err != nil {
		return 0
	}
	return min(mip, n-1)
}

func newAABBParams(layout quadtree.Layout, heightmapSide uint32, lod int, opts Options) aabbParams {
	mip := SampleMip(heightmapSide, layout.LevelSide(lod))
	return aabbParams{
		IndexBase:   layout.IndexBase(lod),
		LevelNodes:  layout.LevelNodes(lod),
		Depth:       uint32(layout.MaxLOD - lod),
		RootSide:    uint32(layout.RootSideNodes),
		MipOffset:   heightrange.MipOffset(heightmapSide, mip),
		MipSide:     heightrange.MipSide(heightmapSide, mip),
		LevelSide:   layout.LevelSide(lod),
		OriginX:     layout.Origin[0],
		OriginZ:     layout.Origin[1],
		NodeSize:    layout.NodeSize(lod),
		HeightScale: opts.HeightScale,
		HeightOrig:  opts.HeightOrigin,
		MinExtentY:  opts.MinExtentY,
	}
}

func (p *aabbParams) marshal() []byte {
	buf := make([]byte, aabbParamsWords*4)
	u := []uint32{p.IndexBase, p.LevelNodes, p.Depth, p.RootSide, p.MipOffset, p.MipSide, p.LevelSide, 0}
	f := []float32{p.OriginX, p.OriginZ, p.NodeSize, p.HeightScale, p.HeightOrig, p.MinExtentY, 0, 0}
	for i, v := range u {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	for i, v := range f {
		binary.LittleEndian.PutUint32(buf[(8+i)*4:], math.Float32bits(v))
	}
	return buf
}

func (p *aabbParams) fromWords(w []uint32) {
	p.IndexBase, p.LevelNodes, p.Depth, p.RootSide = w[0], w[1], w[2], w[3]
	p.MipOffset, p.MipSide, p.LevelSide = w[4], w[5], w[6]
	p.OriginX = math.Float32frombits(w[8])
	p.OriginZ = math.Float32frombits(w[9])
	p.NodeSize = math.Float32frombits(w[10])
	p.HeightScale = math.Float32frombits(w[11])
	p.HeightOrig = math.Float32frombits(w[12])
	p.MinExtentY = math.Float32frombits(w[13])
}

// decode matches decode() in node_aabb_bake.wgsl.
func (p *aabbParams) decode(node uint32) (x, z uint32) {
	root := node >> (2 * p.Depth)
	x, z = root%p.RootSide, root/p.RootSide
	for d := uint32(0); d < p.Depth; d++ {
		q := (node >> (2 * (p.Depth - 1 - d))) & 3
		x = x<<1 | q&1
		z = z<<1 | q>>1
	}
	return x, z
}

// nodeAABB computes the box of one node from the packed chain words.
func (p *aabbParams) nodeAABB(ranges []uint32, node uint32) quadtree.GPUNodeAABB {
	x, z := p.decode(node)
	tx := min((x*2+1)*p.MipSide/(2*p.LevelSide), p.MipSide-1)
	tz := min((z*2+1)*p.MipSide/(2*p.LevelSide), p.MipSide-1)
	t := 2 * (p.MipOffset + tz*p.MipSide + tx)
	lo, hi := math.Float32frombits(ranges[t]), math.Float32frombits(ranges[t+1])

	half := p.NodeSize * 0.5
	return quadtree.GPUNodeAABB{
		Extent: [3]float32{half, max((hi-lo)*0.5*p.HeightScale, p.MinExtentY), half},
		Position: [3]float32{
			p.OriginX + (float32(x)+0.5)*p.NodeSize,
			p.HeightOrig + (lo+hi)*0.5*p.HeightScale,
			p.OriginZ + (float32(z)+0.5)*p.NodeSize,
		},
	}
}

// nodeAABBKernel is the host twin of node_aabb_bake.wgsl.
func nodeAABBKernel(provider bind_group_provider.BindGroupProvider, _ [3]uint32, first, count uint32) {
	var p aabbParams
	p.fromWords(provider.HostBuffer(0).Words())
	ranges := provider.HostBuffer(1).Words()
	aabbs := provider.HostBuffer(2).Words()
	for i := first; i < min(first+count, p.LevelNodes); i++ {
		quadtree.PutNodeAABB(aabbs, p.IndexBase+i, p.nodeAABB(ranges, i))
	}
}

// nodeDataKernel is the host twin of node_data_bake.wgsl.
func nodeDataKernel(provider bind_group_provider.BindGroupProvider, _ [3]uint32, first, count uint32) {
	n := provider.HostBuffer(0).Words()[0]
	aabbs := provider.HostBuffer(1).Words()
	nodeData := provider.HostBuffer(2).Words()
	for i := first; i < min(first+count, n); i++ {
		quadtree.PutNodeData(nodeData, i, quadtree.NodeDataFromAABB(quadtree.NodeAABBAt(aabbs, i)))
	}
}

func heightRangeMip0Kernel(provider bind_group_provider.BindGroupProvider, grid [3]uint32, first, count uint32) {
	var p heightrange.GPUHeightRangeParams
	p.FromWords(provider.HostBuffer(0).Words())
	heightrange.Mip0Range(&p, provider.HostBuffer(1).Words(), provider.HostBuffer(2).Words(), grid, first, count)
}

func heightRangeReduceKernel(provider bind_group_provider.BindGroupProvider, grid [3]uint32, first, count uint32) {
	var p heightrange.GPUHeightRangeParams
	p.FromWords(provider.HostBuffer(0).Words())
	heightrange.ReduceRange(&p, provider.HostBuffer(2).Words(), grid, first, count)
}

func workgroups(n uint32) uint32 {
	return (n + WorkgroupSize - 1) / WorkgroupSize
}
