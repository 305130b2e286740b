package quadtree

import (
	_ "embed"
	"math"
)

// SelectShaderSource is the WGSL selection tick, dispatched once per level.
//
//go:embed assets/select.wgsl
var SelectShaderSource string

// ResetDrawArgsShaderSource is the WGSL pass that clears instanceCount once per frame.
//
//go:embed assets/reset_draw_args.wgsl
var ResetDrawArgsShaderSource string

// ResetCandidatesShaderSource is the WGSL pass that empties a candidate list.
//
//go:embed assets/reset_candidates.wgsl
var ResetCandidatesShaderSource string

// SelectWorkgroupSize matches @workgroup_size in select.wgsl.
const SelectWorkgroupSize = 64

// SelectWorkgroups returns the fixed dispatch size of a selection tick. The host never reads
// the live candidate count, so every tick covers the full list capacity.
func SelectWorkgroups(candidateCapacity uint32) uint32 {
	return (candidateCapacity + SelectWorkgroupSize - 1) / SelectWorkgroupSize
}

// SelectBuffers groups the word images a selection tick reads and writes.
type SelectBuffers struct {
	AABBs         []uint32
	CandidatesIn  []uint32
	CandidatesOut []uint32
	DrawArgs      []uint32
	CullResults   []uint32
}

// SelectRange runs the selection tick for invocations [first, first+count). It is the host
// twin of select.wgsl and follows it statement for statement.
func SelectRange(level *GPULevelUniforms, frame *GPUFrameUniforms, b SelectBuffers, first, count uint32) {
	live := min(b.CandidatesIn[0], level.CandidateCapacity)
	end := min(first+count, live)
	cam := [2]float32{frame.Camera[0], frame.Camera[2]}

	for i := first; i < end; i++ {
		id := b.CandidatesIn[candidateHeaderWords+i]
		node := NodeAABBAt(b.AABBs, id)
		if OutsideFrustum(frame.Planes, node.Position, node.Extent) {
			continue
		}

		dist := distance2(cam, [2]float32{node.Position[0], node.Position[2]})
		if level.LOD == 0 || dist > level.CurrDistance {
			slot := ReserveInstance(b.DrawArgs, level.ResultCapacity)
			if slot == InvalidSlot {
				continue
			}
			b.CullResults[slot*CullResultWords] = id
			b.CullResults[slot*CullResultWords+1] = lodTransition(level, [2]float32{node.Position[0], node.Position[2]}, node.Extent[0]*2, cam)
			continue
		}

		slot := reserve(b.CandidatesOut, 0, 4, level.CandidateCapacity)
		if slot == InvalidSlot {
			continue
		}
		child := level.NextBase + 4*(id-level.CurrBase)
		for q := range uint32(4) {
			b.CandidatesOut[candidateHeaderWords+slot+q] = child + q
		}
	}
}

// OutsideFrustum reports whether the box lies entirely behind any of the inward-facing planes.
func OutsideFrustum(planes [6][4]float32, center, extent [3]float32) bool {
	for _, p := range planes {
		d := p[0]*center[0] + p[1]*center[1] + p[2]*center[2] + p[3]
		r := abs32(p[0])*extent[0] + abs32(p[1])*extent[1] + abs32(p[2])*extent[2]
		if d < -r {
			return true
		}
	}
	return false
}

// Edge bits of the LOD transition mask.
const (
	EdgeNegX uint32 = 1 << iota
	EdgePosX
	EdgeNegZ
	EdgePosZ
)

var edgeDirs = [4][2]float32{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}

func lodTransition(level *GPULevelUniforms, center [2]float32, size float32, cam [2]float32) uint32 {
	if level.LOD >= level.MaxLOD {
		return 0
	}
	coarse := size * 2
	world := float32(level.RootSide) * level.RootNodeSize
	var flags uint32
	for i, dir := range edgeDirs {
		px := center[0] + dir[0]*size - level.Origin[0]
		pz := center[1] + dir[1]*size - level.Origin[1]
		if px < 0 || pz < 0 || px >= world || pz >= world {
			continue
		}
		neighbour := [2]float32{
			level.Origin[0] + (floor32(px/coarse)+0.5)*coarse,
			level.Origin[1] + (floor32(pz/coarse)+0.5)*coarse,
		}
		if distance2(cam, neighbour) > level.LastDistance {
			flags |= 1 << uint32(i)
		}
	}
	return flags
}

func distance2(a, b [2]float32) float32 {
	dx, dz := a[0]-b[0], a[1]-b[1]
	return float32(math.Sqrt(float64(dx*dx + dz*dz)))
}

func abs32(v float32) float32 {
	return math.Float32frombits(math.Float32bits(v) &^ (1 << 31))
}

func floor32(v float32) float32 {
	return float32(math.Floor(float64(v)))
}
