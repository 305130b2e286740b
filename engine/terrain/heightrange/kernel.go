package heightrange

import (
	_ "embed"
	"math"
)

// Mip0ShaderSource is the WGSL pass that seeds mip 0 from the heightmap.
//
//go:embed assets/height_range_mip0.wgsl
var Mip0ShaderSource string

// ReduceShaderSource is the WGSL pass that builds one mip from the previous one.
//
//go:embed assets/height_range_reduce.wgsl
var ReduceShaderSource string

// WorkgroupSide matches @workgroup_size(8, 8) in both passes.
const WorkgroupSide = 8

// Workgroups returns the x and y dispatch size covering a dstSide square.
func Workgroups(dstSide uint32) uint32 {
	return (dstSide + WorkgroupSide - 1) / WorkgroupSide
}

// Mip0Range is the host twin of height_range_mip0.wgsl for invocations [first, first+count).
//
// Parameters:
//   - p: the pass parameters
//   - heights: the heightmap as f32 bit patterns
//   - ranges: the packed chain as vec2<f32> bit patterns
//   - grid: the global invocation grid of the dispatch
//   - first, count: the flattened invocation range
func Mip0Range(p *GPUHeightRangeParams, heights, ranges []uint32, grid [3]uint32, first, count uint32) {
	for i := first; i < first+count; i++ {
		x, y := i%grid[0], (i/grid[0])%grid[1]
		if x >= p.DstSide || y >= p.DstSide {
			continue
		}
		h := heights[y*p.SrcSide+x]
		dst := 2 * (p.DstOffset + y*p.DstSide + x)
		ranges[dst] = h
		ranges[dst+1] = h
	}
}

// ReduceRange is the host twin of height_range_reduce.wgsl for invocations [first, first+count).
//
// Parameters:
//   - p: the pass parameters
//   - ranges: the packed chain as vec2<f32> bit patterns
//   - grid: the global invocation grid of the dispatch
//   - first, count: the flattened invocation range
func ReduceRange(p *GPUHeightRangeParams, ranges []uint32, grid [3]uint32, first, count uint32) {
	at := func(idx uint32) Range {
		return Range{Min: math.Float32frombits(ranges[2*idx]), Max: math.Float32frombits(ranges[2*idx+1])}
	}
	for i := first; i < first+count; i++ {
		x, y := i%grid[0], (i/grid[0])%grid[1]
		if x >= p.DstSide || y >= p.DstSide {
			continue
		}
		s := p.SrcOffset + 2*y*p.SrcSide + 2*x
		r := at(s).Union(at(s + 1)).Union(at(s + p.SrcSide)).Union(at(s + p.SrcSide + 1))
		dst := 2 * (p.DstOffset + y*p.DstSide + x)
		ranges[dst] = math.Float32bits(r.Min)
		ranges[dst+1] = math.Float32bits(r.Max)
	}
}
