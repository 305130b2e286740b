// Package heightrange builds the min/max height mip chain used to tighten quad-tree node
// bounding boxes during the offline bake.
package heightrange

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/bits"
)

var (
	// ErrNotPowerOfTwo is returned when the source heightmap is not a square power-of-two grid.
	ErrNotPowerOfTwo = errors.New("heightrange: heightmap must be a square power of two")
)

// Range is the height interval covered by one texel of one mip.
type Range struct {
	Min float32
	Max float32
}

// Union returns the smallest range covering both r and o.
func (r Range) Union(o Range) Range {
	return Range{Min: min(r.Min, o.Min), Max: max(r.Max, o.Max)}
}

// Chain is a full height-range mip chain packed mip after mip, mip 0 first. Mip m is a
// Side>>m square grid stored row-major (z rows of x texels).
type Chain struct {
	Side   uint32
	Ranges []Range
}

// MipCount returns log2(side)+1, the number of mips in a chain down to a single texel.
//
// Returns:
//   - int: the mip count
//   - error: ErrNotPowerOfTwo if side is zero or not a power of two
func MipCount(side uint32) (int, error) {
	if side == 0 || side&(side-1) != 0 {
		return 0, fmt.Errorf("%w: side %d", ErrNotPowerOfTwo, side)
	}
	return bits.TrailingZeros32(side) + 1, nil
}

// MipSide returns the side length of mip m.
func MipSide(side uint32, m int) uint32 {
	return max(side>>uint32(m), 1)
}

// MipOffset returns the index of the first texel of mip m in the packed chain.
func MipOffset(side uint32, m int) uint32 {
	var off uint32
	for i := range m {
		s := MipSide(side, i)
		off += s * s
	}
	return off
}

// PackedLen returns the total texel count of a full chain.
func PackedLen(side uint32) uint32 {
	n, err := MipCount(side)
	if err != nil {
		return 0
	}
	return MipOffset(side, n)
}

// Build computes the chain on the host. It is the reference the GPU passes are checked against.
//
// Parameters:
//   - heights: row-major samples of a side x side heightmap
//   - side: the heightmap side length
//
// Returns:
//   - *Chain: the packed chain
//   - error: ErrNotPowerOfTwo, or an error if the sample count does not match side²
func Build(heights []float32, side uint32) (*Chain, error) {
	mips, err := MipCount(side)
	if err != nil {
		return nil, err
	}
	if uint64(len(heights)) != uint64(side)*uint64(side) {
		return nil, fmt.Errorf("heightrange: expected %d samples for side %d, got %d", side*side, side, len(heights))
	}

	c := &Chain{Side: side, Ranges: make([]Range, PackedLen(side))}
	for i, h := range heights {
		c.Ranges[i] = Range{Min: h, Max: h}
	}
	for m := 1; m < mips; m++ {
		src := c.Mip(m - 1)
		dst := c.Mip(m)
		srcSide := MipSide(side, m-1)
		dstSide := MipSide(side, m)
		for z := range dstSide {
			for x := range dstSide {
				s := 2*z*srcSide + 2*x
				dst[z*dstSide+x] = src[s].Union(src[s+1]).Union(src[s+srcSide]).Union(src[s+srcSide+1])
			}
		}
	}
	return c, nil
}

// Mips returns the number of mips in the chain.
func (c *Chain) Mips() int {
	n, _ := MipCount(c.Side)
	return n
}

// Mip returns the texels of mip m as a sub-slice of the packed chain.
func (c *Chain) Mip(m int) []Range {
	s := MipSide(c.Side, m)
	off := MipOffset(c.Side, m)
	return c.Ranges[off : off+s*s]
}

// At returns texel (x, z) of mip m.
func (c *Chain) At(m int, x, z uint32) Range {
	return c.Mip(m)[z*MipSide(c.Side, m)+x]
}

// Marshal packs the chain as little-endian vec2<f32> pairs, the GPU buffer layout.
func (c *Chain) Marshal() []byte {
	buf := make([]byte, len(c.Ranges)*8)
	for i, r := range c.Ranges {
		binary.LittleEndian.PutUint32(buf[i*8:], math.Float32bits(r.Min))
		binary.LittleEndian.PutUint32(buf[i*8+4:], math.Float32bits(r.Max))
	}
	return buf
}

// UnmarshalChain decodes a packed chain read back from the GPU.
//
// Parameters:
//   - data: the packed vec2<f32> buffer
//   - side: the mip 0 side length
//
// Returns:
//   - *Chain: the decoded chain
//   - error: ErrNotPowerOfTwo, or an error if data is too short
func UnmarshalChain(data []byte, side uint32) (*Chain, error) {
	if _, err := MipCount(side); err != nil {
		return nil, err
	}
	n := PackedLen(side)
	if uint64(len(data)) < uint64(n)*8 {
		return nil, fmt.Errorf("heightrange: packed chain needs %d bytes, got %d", n*8, len(data))
	}
	c := &Chain{Side: side, Ranges: make([]Range, n)}
	for i := range c.Ranges {
		c.Ranges[i].Min = math.Float32frombits(binary.LittleEndian.Uint32(data[i*8:]))
		c.Ranges[i].Max = math.Float32frombits(binary.LittleEndian.Uint32(data[i*8+4:]))
	}
	return c, nil
}
