package heightrange

import (
	_ "embed"
	"encoding/binary"
	"unsafe"
)

// GPUHeightRangeParamsSource is the canonical WGSL definition of the HeightRangeParams struct.
// Matches GPUHeightRangeParams layout exactly (16 bytes).
//
//go:embed assets/height_range_params.wgsl
var GPUHeightRangeParamsSource string

// GPUHeightRangeParams addresses the source and destination mips of one pass inside the packed
// chain. The mip 0 pass reads the heightmap, so its SrcOffset is 0 and SrcSide is the heightmap side.
// Size: 16 bytes.
type GPUHeightRangeParams struct {
	SrcOffset uint32 // offset  0
	DstOffset uint32 // offset  4
	SrcSide   uint32 // offset  8
	DstSide   uint32 // offset 12
}

// Mip0Params returns the parameters of the mip 0 generation pass.
func Mip0Params(side uint32) GPUHeightRangeParams {
	return GPUHeightRangeParams{SrcSide: side, DstSide: side}
}

// ReduceParams returns the parameters of the pass that builds mip m+1 from mip m.
func ReduceParams(side uint32, m int) GPUHeightRangeParams {
	return GPUHeightRangeParams{
		SrcOffset: MipOffset(side, m),
		DstOffset: MipOffset(side, m+1),
		SrcSide:   MipSide(side, m),
		DstSide:   MipSide(side, m+1),
	}
}

// Size returns the size of the GPUHeightRangeParams struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (16)
func (g *GPUHeightRangeParams) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUHeightRangeParams struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (g *GPUHeightRangeParams) Marshal() []byte {
	buf := make([]byte, g.Size())
	binary.LittleEndian.PutUint32(buf[0:], g.SrcOffset)
	binary.LittleEndian.PutUint32(buf[4:], g.DstOffset)
	binary.LittleEndian.PutUint32(buf[8:], g.SrcSide)
	binary.LittleEndian.PutUint32(buf[12:], g.DstSide)
	return buf
}

// FromWords decodes the struct from a host buffer word image.
func (g *GPUHeightRangeParams) FromWords(w []uint32) {
	g.SrcOffset = w[0]
	g.DstOffset = w[1]
	g.SrcSide = w[2]
	g.DstSide = w[3]
}
