package terrain

import (
	"bytes"
	_ "embed"
	"encoding/binary"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-terrain/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/quadtree"
)

// DrawShaderSource is the WGSL vertex and fragment source of the terrain draw.
//
//go:embed assets/terrain.wgsl
var DrawShaderSource string

const (
	pipelineResetDrawArgs   = "terrain.reset_draw_args"
	pipelineResetCandidates = "terrain.reset_candidates"
	pipelineSelect          = "terrain.select"
	pipelineDraw            = "terrain.draw"
)

// Bindings of the selection kernel, as declared in select.wgsl.
const (
	selectFrameBinding         = 0
	selectLevelBinding         = 1
	selectAABBBinding          = 2
	selectCandidatesInBinding  = 3
	selectCandidatesOutBinding = 4
	selectDrawArgsBinding      = 5
	selectCullResultsBinding   = 6
)

// PaletteSize is the number of LOD tint colours the draw shader indexes.
const PaletteSize = 16

// GPURenderUniforms mirrors RenderUniforms in terrain.wgsl.
// Size: 464 bytes.
type GPURenderUniforms struct {
	ViewProj       [16]float32             // offset   0: column-major
	HeightOffset   [4]float32              // offset  64: height clipmap centre
	SplatOffset    [4]float32              // offset  80: splat clipmap centre
	FinestLevels   [4]uint32               // offset  96: x height, y splat
	LODColors      [PaletteSize][4]float32 // offset 112
	LayerColors    [4][4]float32           // offset 368
	HeightScale    float32                 // offset 432
	HeightOrigin   float32                 // offset 436
	PatchSpan      float32                 // offset 440
	TintStrength   float32                 // offset 444
	MaxLOD         uint32                  // offset 448
	FinestNodeSize float32                 // offset 452
	PatchUnit      float32                 // offset 456
	_              float32                 // offset 460
}

// Size returns the size of the GPURenderUniforms struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (464)
func (g *GPURenderUniforms) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPURenderUniforms struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (g *GPURenderUniforms) Marshal() []byte {
	var buf bytes.Buffer
	buf.Grow(g.Size())
	// Every field is fixed size, so Write cannot fail.
	_ = binary.Write(&buf, binary.LittleEndian, g)
	return buf.Bytes()
}

// GPUClipmapInfo mirrors ClipmapInfo in terrain.wgsl.
// Size: 32 bytes.
type GPUClipmapInfo struct {
	Side      uint32
	Levels    uint32
	_         [2]uint32
	TexelSize float32 // world size of one finest-level texel
	_         [3]float32
}

// Size returns the size of the GPUClipmapInfo struct in bytes.
func (g *GPUClipmapInfo) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUClipmapInfo struct for GPU upload.
func (g *GPUClipmapInfo) Marshal() []byte {
	var buf bytes.Buffer
	buf.Grow(g.Size())
	_ = binary.Write(&buf, binary.LittleEndian, g)
	return buf.Bytes()
}

// selectKernel is the host twin of select.wgsl.
func selectKernel(provider bind_group_provider.BindGroupProvider, _ [3]uint32, first, count uint32) {
	var frame quadtree.GPUFrameUniforms
	frame.FromWords(provider.HostBuffer(selectFrameBinding).Words())
	var level quadtree.GPULevelUniforms
	level.FromWords(provider.HostBuffer(selectLevelBinding).Words())

	quadtree.SelectRange(&level, &frame, quadtree.SelectBuffers{
		AABBs:         provider.HostBuffer(selectAABBBinding).Words(),
		CandidatesIn:  provider.HostBuffer(selectCandidatesInBinding).Words(),
		CandidatesOut: provider.HostBuffer(selectCandidatesOutBinding).Words(),
		DrawArgs:      provider.HostBuffer(selectDrawArgsBinding).Words(),
		CullResults:   provider.HostBuffer(selectCullResultsBinding).Words(),
	}, first, count)
}

// resetCandidatesKernel is the host twin of reset_candidates.wgsl.
func resetCandidatesKernel(provider bind_group_provider.BindGroupProvider, _ [3]uint32, first, _ uint32) {
	if first == 0 {
		quadtree.ResetCandidates(provider.HostBuffer(0).Words())
	}
}

// resetDrawArgsKernel is the host twin of reset_draw_args.wgsl.
func resetDrawArgsKernel(provider bind_group_provider.BindGroupProvider, _ [3]uint32, first, _ uint32) {
	if first == 0 {
		quadtree.ResetDrawArgs(provider.HostBuffer(0).Words())
	}
}
