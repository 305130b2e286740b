package heightrange

import (
	"errors"
	"math"
	"testing"
)

func sampleHeights(side uint32) []float32 {
	h := make([]float32, side*side)
	for z := range side {
		for x := range side {
			h[z*side+x] = float32(math.Sin(float64(x)*0.7)*0.5+0.5) * float32(z+1) / float32(side)
		}
	}
	return h
}

func TestMipCount(t *testing.T) {
	tests := []struct {
		side    uint32
		want    int
		wantErr bool
	}{
		{1, 1, false},
		{2, 2, false},
		{4096, 13, false},
		{0, 0, true},
		{3, 0, true},
		{1000, 0, true},
	}
	for _, tt := range tests {
		got, err := MipCount(tt.side)
		if tt.wantErr {
			if !errors.Is(err, ErrNotPowerOfTwo) {
				t.Errorf("side %d: expected ErrNotPowerOfTwo, got %v", tt.side, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("side %d: expected %d, got %d (%v)", tt.side, tt.want, got, err)
		}
	}
}

func TestMipOffsets(t *testing.T) {
	if got := MipOffset(8, 0); got != 0 {
		t.Errorf("expected mip 0 at 0, got %d", got)
	}
	if got := MipOffset(8, 1); got != 64 {
		t.Errorf("expected mip 1 at 64, got %d", got)
	}
	if got := MipOffset(8, 3); got != 64+16+4 {
		t.Errorf("expected mip 3 at 84, got %d", got)
	}
	if got := PackedLen(8); got != 85 {
		t.Errorf("expected 85 texels, got %d", got)
	}
}

func TestBuildKnownValues(t *testing.T) {
	heights := []float32{
		1, 2, 9, 0,
		3, 4, 5, 5,
		0, 0, 7, 8,
		0, 6, 1, 2,
	}
	c, err := Build(heights, 4)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if c.Mips() != 3 {
		t.Fatalf("expected 3 mips, got %d", c.Mips())
	}
	if got := c.At(0, 2, 0); got != (Range{9, 9}) {
		t.Errorf("expected mip 0 texel (2,0) = {9 9}, got %v", got)
	}
	want1 := []Range{{1, 4}, {0, 9}, {0, 6}, {1, 8}}
	for i, w := range want1 {
		if got := c.Mip(1)[i]; got != w {
			t.Errorf("mip 1 texel %d: expected %v, got %v", i, w, got)
		}
	}
	if got := c.At(2, 0, 0); got != (Range{0, 9}) {
		t.Errorf("expected root texel {0 9}, got %v", got)
	}
}

func TestBuildRejectsBadInput(t *testing.T) {
	if _, err := Build(make([]float32, 9), 3); !errors.Is(err, ErrNotPowerOfTwo) {
		t.Errorf("expected ErrNotPowerOfTwo, got %v", err)
	}
	if _, err := Build(make([]float32, 15), 4); err == nil {
		t.Error("expected an error for a short sample slice")
	}
}

// Each texel of mip m must cover every mip 0 texel beneath it.
func TestBuildCoversFinerMips(t *testing.T) {
	const side = 32
	c, err := Build(sampleHeights(side), side)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	for m := 1; m < c.Mips(); m++ {
		ms := MipSide(side, m)
		scale := uint32(side) / ms
		for z := range ms {
			for x := range ms {
				r := c.At(m, x, z)
				for dz := range scale {
					for dx := range scale {
						h := c.At(0, x*scale+dx, z*scale+dz)
						if h.Min < r.Min || h.Max > r.Max {
							t.Fatalf("mip %d texel (%d,%d) range %v does not cover %v", m, x, z, r, h)
						}
					}
				}
			}
		}
	}
}

func TestHostKernelsMatchBuild(t *testing.T) {
	const side = 16
	heights := sampleHeights(side)
	want, err := Build(heights, side)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	heightWords := make([]uint32, len(heights))
	for i, h := range heights {
		heightWords[i] = math.Float32bits(h)
	}
	ranges := make([]uint32, 2*PackedLen(side))

	run := func(dstSide uint32, fn func(grid [3]uint32, first, count uint32)) {
		g := Workgroups(dstSide) * WorkgroupSide
		grid := [3]uint32{g, g, 1}
		// split into uneven chunks the way the worker pool would
		total := g * g
		for first := uint32(0); first < total; first += 37 {
			fn(grid, first, min(37, total-first))
		}
	}

	p0 := Mip0Params(side)
	run(side, func(grid [3]uint32, first, count uint32) {
		Mip0Range(&p0, heightWords, ranges, grid, first, count)
	})
	for m := 0; m < want.Mips()-1; m++ {
		p := ReduceParams(side, m)
		run(p.DstSide, func(grid [3]uint32, first, count uint32) {
			ReduceRange(&p, ranges, grid, first, count)
		})
	}

	got, err := UnmarshalChain(marshalWords(ranges), side)
	if err != nil {
		t.Fatalf("UnmarshalChain failed: %v", err)
	}
	for i := range want.Ranges {
		if got.Ranges[i] != want.Ranges[i] {
			t.Fatalf("texel %d: expected %v, got %v", i, want.Ranges[i], got.Ranges[i])
		}
	}
}

func TestParamsLayout(t *testing.T) {
	p := ReduceParams(8, 1)
	if p.SrcOffset != 64 || p.DstOffset != 80 || p.SrcSide != 4 || p.DstSide != 2 {
		t.Errorf("unexpected reduce params %+v", p)
	}
	if p.Size() != 16 {
		t.Errorf("expected 16 bytes, got %d", p.Size())
	}
	var back GPUHeightRangeParams
	data := p.Marshal()
	words := make([]uint32, 4)
	for i := range words {
		words[i] = uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
	}
	back.FromWords(words)
	if back != p {
		t.Errorf("expected %+v, got %+v", p, back)
	}
}

func marshalWords(words []uint32) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		out[i*4] = byte(w)
		out[i*4+1] = byte(w >> 8)
		out[i*4+2] = byte(w >> 16)
		out[i*4+3] = byte(w >> 24)
	}
	return out
}
