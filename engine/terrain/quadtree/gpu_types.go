package quadtree

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"
)

// Word offsets and strides of the buffers shared between the host kernels and WGSL.
const (
	drawArgsInstanceCountWord = 1

	// DrawArgsWords is the length of the indirect draw record in u32 words.
	DrawArgsWords = 5
	// CullResultWords is the stride of one cull result record in u32 words.
	CullResultWords = 2
	// NodeAABBWords is the stride of one node AABB record in u32 words.
	NodeAABBWords = 6
	// NodeDataWords is the stride of one node data record in u32 words.
	NodeDataWords = 3
)

// GPUFrameUniformsSource is the canonical WGSL definition of the FrameUniforms struct.
// Matches GPUFrameUniforms layout exactly (112 bytes).
//
//go:embed assets/frame_uniforms.wgsl
var GPUFrameUniformsSource string

// GPUFrameUniforms carries the per-frame inputs shared by every selection tick: the six
// inward-facing frustum planes (xyz normal, w distance) and the grid-snapped camera position.
// Size: 112 bytes.
type GPUFrameUniforms struct {
	Planes [6][4]float32 // offset  0: array<vec4<f32>, 6>
	Camera [4]float32    // offset 96: snapped camera xyz, w unused
}

// Size returns the size of the GPUFrameUniforms struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (112)
func (g *GPUFrameUniforms) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUFrameUniforms struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (g *GPUFrameUniforms) Marshal() []byte {
	buf := make([]byte, g.Size())
	for p := range 6 {
		for c := range 4 {
			binary.LittleEndian.PutUint32(buf[(p*4+c)*4:], math.Float32bits(g.Planes[p][c]))
		}
	}
	for c := range 4 {
		binary.LittleEndian.PutUint32(buf[96+c*4:], math.Float32bits(g.Camera[c]))
	}
	return buf
}

// FromWords decodes the struct from a host buffer word image.
func (g *GPUFrameUniforms) FromWords(w []uint32) {
	for p := range 6 {
		for c := range 4 {
			g.Planes[p][c] = math.Float32frombits(w[p*4+c])
		}
	}
	for c := range 4 {
		g.Camera[c] = math.Float32frombits(w[24+c])
	}
}

// GPULevelUniformsSource is the canonical WGSL definition of the LevelUniforms struct.
// Matches GPULevelUniforms layout exactly (64 bytes).
//
//go:embed assets/level_uniforms.wgsl
var GPULevelUniformsSource string

// GPULevelUniforms holds the static per-tick parameters of one selection level. One record is
// written per level at startup and never changes afterwards.
// Size: 64 bytes.
type GPULevelUniforms struct {
	LOD               uint32     // offset  0
	CurrBase          uint32     // offset  4: IndexBase(LOD)
	NextBase          uint32     // offset  8: IndexBase(LOD-1), unused at LOD 0
	CandidateCapacity uint32     // offset 12
	ResultCapacity    uint32     // offset 16
	RootSide          uint32     // offset 20
	MaxLOD            uint32     // offset 24
	_pad0             uint32     // offset 28
	CurrDistance      float32    // offset 32: split threshold of this level
	LastDistance      float32    // offset 36: threshold of the next-coarser level
	RootNodeSize      float32    // offset 40
	_pad1             float32    // offset 44
	Origin            [2]float32 // offset 48
	_pad2             [2]float32 // offset 56
}

// NewLevelUniforms builds the uniform record for one LOD.
//
// Parameters:
//   - layout: the tree layout
//   - distances: the validated LOD threshold table
//   - lod: the level the record drives
//   - candidateCapacity: id slots per candidate list
//   - resultCapacity: cull result slots
//
// Returns:
//   - GPULevelUniforms: the populated record
func NewLevelUniforms(layout Layout, distances []float32, lod int, candidateCapacity, resultCapacity uint32) GPULevelUniforms {
	u := GPULevelUniforms{
		LOD:               uint32(lod),
		CurrBase:          layout.IndexBase(lod),
		CandidateCapacity: candidateCapacity,
		ResultCapacity:    resultCapacity,
		RootSide:          uint32(layout.RootSideNodes),
		MaxLOD:            uint32(layout.MaxLOD),
		CurrDistance:      distances[lod],
		LastDistance:      LastDistance(distances, lod),
		RootNodeSize:      layout.RootNodeSize,
		Origin:            layout.Origin,
	}
	if lod > 0 {
		u.NextBase = layout.IndexBase(lod - 1)
	}
	return u
}

// Size returns the size of the GPULevelUniforms struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (64)
func (g *GPULevelUniforms) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPULevelUniforms struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (g *GPULevelUniforms) Marshal() []byte {
	buf := make([]byte, g.Size())
	binary.LittleEndian.PutUint32(buf[0:], g.LOD)
	binary.LittleEndian.PutUint32(buf[4:], g.CurrBase)
	binary.LittleEndian.PutUint32(buf[8:], g.NextBase)
	binary.LittleEndian.PutUint32(buf[12:], g.CandidateCapacity)
	binary.LittleEndian.PutUint32(buf[16:], g.ResultCapacity)
	binary.LittleEndian.PutUint32(buf[20:], g.RootSide)
	binary.LittleEndian.PutUint32(buf[24:], g.MaxLOD)
	binary.LittleEndian.PutUint32(buf[32:], math.Float32bits(g.CurrDistance))
	binary.LittleEndian.PutUint32(buf[36:], math.Float32bits(g.LastDistance))
	binary.LittleEndian.PutUint32(buf[40:], math.Float32bits(g.RootNodeSize))
	binary.LittleEndian.PutUint32(buf[48:], math.Float32bits(g.Origin[0]))
	binary.LittleEndian.PutUint32(buf[52:], math.Float32bits(g.Origin[1]))
	return buf
}

// FromWords decodes the struct from a host buffer word image.
func (g *GPULevelUniforms) FromWords(w []uint32) {
	g.LOD = w[0]
	g.CurrBase = w[1]
	g.NextBase = w[2]
	g.CandidateCapacity = w[3]
	g.ResultCapacity = w[4]
	g.RootSide = w[5]
	g.MaxLOD = w[6]
	g.CurrDistance = math.Float32frombits(w[8])
	g.LastDistance = math.Float32frombits(w[9])
	g.RootNodeSize = math.Float32frombits(w[10])
	g.Origin[0] = math.Float32frombits(w[12])
	g.Origin[1] = math.Float32frombits(w[13])
}

// GPUIndirectArgsSource is the canonical WGSL definition of the IndirectArgs struct.
// Matches GPUIndirectArgs layout exactly (20 bytes) and WebGPU's DrawIndexedIndirect record.
//
//go:embed assets/indirect_args.wgsl
var GPUIndirectArgsSource string

// GPUIndirectArgs is the indexed indirect draw record consumed by DrawIndexedIndirect.
// IndexCount is written once from the patch mesh; InstanceCount is reset every frame and
// bumped once per accepted node.
// Size: 20 bytes.
type GPUIndirectArgs struct {
	IndexCount    uint32 // offset  0
	InstanceCount uint32 // offset  4
	FirstIndex    uint32 // offset  8
	BaseVertex    int32  // offset 12
	FirstInstance uint32 // offset 16
}

// Size returns the size of the GPUIndirectArgs struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (20)
func (g *GPUIndirectArgs) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUIndirectArgs struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (g *GPUIndirectArgs) Marshal() []byte {
	buf := make([]byte, g.Size())
	binary.LittleEndian.PutUint32(buf[0:], g.IndexCount)
	binary.LittleEndian.PutUint32(buf[4:], g.InstanceCount)
	binary.LittleEndian.PutUint32(buf[8:], g.FirstIndex)
	binary.LittleEndian.PutUint32(buf[12:], uint32(g.BaseVertex))
	binary.LittleEndian.PutUint32(buf[16:], g.FirstInstance)
	return buf
}

// UnmarshalIndirectArgs decodes a draw record read back from the GPU.
//
// Returns:
//   - GPUIndirectArgs: the decoded record
//   - error: an error if data is shorter than 20 bytes
func UnmarshalIndirectArgs(data []byte) (GPUIndirectArgs, error) {
	if len(data) < DrawArgsWords*4 {
		return GPUIndirectArgs{}, fmt.Errorf("quadtree: draw record needs %d bytes, got %d", DrawArgsWords*4, len(data))
	}
	return GPUIndirectArgs{
		IndexCount:    binary.LittleEndian.Uint32(data[0:]),
		InstanceCount: binary.LittleEndian.Uint32(data[4:]),
		FirstIndex:    binary.LittleEndian.Uint32(data[8:]),
		BaseVertex:    int32(binary.LittleEndian.Uint32(data[12:])),
		FirstInstance: binary.LittleEndian.Uint32(data[16:]),
	}, nil
}

// GPUCullResultSource is the canonical WGSL definition of the CullResult struct.
//
//go:embed assets/cull_result.wgsl
var GPUCullResultSource string

// GPUCullResult is one accepted instance: the node id and its 4-bit LOD transition mask
// (1 = -x, 2 = +x, 4 = -z, 8 = +z).
// Size: 8 bytes.
type GPUCullResult struct {
	ID            uint32
	LODTransition uint32
}

// UnmarshalCullResults decodes the first n records of a cull result buffer.
func UnmarshalCullResults(data []byte, n int) []GPUCullResult {
	n = min(n, len(data)/(CullResultWords*4))
	out := make([]GPUCullResult, n)
	for i := range out {
		out[i].ID = binary.LittleEndian.Uint32(data[i*8:])
		out[i].LODTransition = binary.LittleEndian.Uint32(data[i*8+4:])
	}
	return out
}

// GPUNodeAABBSource is the canonical WGSL definition of the NodeAABB struct.
// Six scalars keep the record at 24 bytes with no vec3 padding.
//
//go:embed assets/node_aabb.wgsl
var GPUNodeAABBSource string

// GPUNodeAABB is the world-space bounding box of one node, as persisted in the node store.
// Size: 24 bytes.
type GPUNodeAABB struct {
	Extent   [3]float32 // half size
	Position [3]float32 // centre
}

// GPUNodeDataSource is the canonical WGSL definition of the NodeData struct.
//
//go:embed assets/node_data.wgsl
var GPUNodeDataSource string

// GPUNodeData is the instance placement record of one node.
// Size: 12 bytes.
type GPUNodeData struct {
	PositionX float32
	PositionZ float32
	Scale     float32
}

// NodeDataFromAABB flattens an AABB record into its placement record.
func NodeDataFromAABB(a GPUNodeAABB) GPUNodeData {
	return GPUNodeData{PositionX: a.Position[0], PositionZ: a.Position[2], Scale: 2 * a.Extent[0]}
}

// GPUCandidateListSource is the WGSL definition of a writable candidate list.
//
//go:embed assets/candidate_list.wgsl
var GPUCandidateListSource string

// GPUCandidateListReadSource is the WGSL definition of a read-only candidate list.
//
//go:embed assets/candidate_list_read.wgsl
var GPUCandidateListReadSource string

// MarshalFloats packs float32 values into a little-endian byte slice.
func MarshalFloats(values []float32) []byte {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// UnmarshalFloats unpacks a little-endian byte slice into float32 values.
func UnmarshalFloats(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

// MarshalUint32s packs u32 values into a little-endian byte slice.
func MarshalUint32s(values []uint32) []byte {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return buf
}

// NodeAABBAt decodes AABB record i from a word image.
func NodeAABBAt(words []uint32, i uint32) GPUNodeAABB {
	w := words[i*NodeAABBWords : i*NodeAABBWords+NodeAABBWords]
	return GPUNodeAABB{
		Extent:   [3]float32{math.Float32frombits(w[0]), math.Float32frombits(w[1]), math.Float32frombits(w[2])},
		Position: [3]float32{math.Float32frombits(w[3]), math.Float32frombits(w[4]), math.Float32frombits(w[5])},
	}
}

// PutNodeAABB encodes AABB record i into a word image.
func PutNodeAABB(words []uint32, i uint32, a GPUNodeAABB) {
	w := words[i*NodeAABBWords : i*NodeAABBWords+NodeAABBWords]
	for c := range 3 {
		w[c] = math.Float32bits(a.Extent[c])
		w[3+c] = math.Float32bits(a.Position[c])
	}
}

// PutNodeData encodes node data record i into a word image.
func PutNodeData(words []uint32, i uint32, d GPUNodeData) {
	w := words[i*NodeDataWords : i*NodeDataWords+NodeDataWords]
	w[0] = math.Float32bits(d.PositionX)
	w[1] = math.Float32bits(d.PositionZ)
	w[2] = math.Float32bits(d.Scale)
}

// NodeDataAt decodes node data record i from a word image.
func NodeDataAt(words []uint32, i uint32) GPUNodeData {
	w := words[i*NodeDataWords : i*NodeDataWords+NodeDataWords]
	return GPUNodeData{
		PositionX: math.Float32frombits(w[0]),
		PositionZ: math.Float32frombits(w[1]),
		Scale:     math.Float32frombits(w[2]),
	}
}
