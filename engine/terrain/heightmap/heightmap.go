// Package heightmap loads square terrain heightmaps into normalised float samples.
package heightmap

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/tiff"
)

var (
	// ErrNotSquare is returned when the decoded image is not square.
	ErrNotSquare = errors.New("heightmap: image must be square")

	// ErrUnsupportedFormat is returned for file extensions the loader does not know.
	ErrUnsupportedFormat = errors.New("heightmap: unsupported format")
)

// Heightmap is a side x side grid of heights in [0, 1], stored row-major with z rows of x samples.
type Heightmap struct {
	Side    uint32
	Samples []float32
}

// New wraps existing samples.
//
// Parameters:
//   - side: the grid side length
//   - samples: side*side row-major heights
//
// Returns:
//   - *Heightmap: the heightmap
//   - error: an error if the sample count does not match side²
func New(side uint32, samples []float32) (*Heightmap, error) {
	if uint64(len(samples)) != uint64(side)*uint64(side) {
		return nil, fmt.Errorf("heightmap: expected %d samples for side %d, got %d", side*side, side, len(samples))
	}
	return &Heightmap{Side: side, Samples: samples}, nil
}

// Load reads a heightmap from disk. PNG and TIFF go through image.Decode and keep 16 bits of
// precision when the file has them; .r16 and .raw are headerless little-endian uint16 grids.
//
// Parameters:
//   - path: the file to read
//
// Returns:
//   - *Heightmap: the decoded heightmap
//   - error: ErrUnsupportedFormat, ErrNotSquare, or a read/decode error
func Load(path string) (*Heightmap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("heightmap: failed to read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".tif", ".tiff":
		return Decode(bytes.NewReader(data))
	case ".r16", ".raw":
		return DecodeR16(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Decode decodes any registered image format (PNG, TIFF) into a heightmap using its 16-bit luminance.
func Decode(r io.Reader) (*Heightmap, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("heightmap: failed to decode image: %w", err)
	}
	return FromImage(img)
}

// FromImage converts an image to a heightmap. Gray16 images are read directly, everything else
// goes through color.Gray16Model.
func FromImage(img image.Image) (*Heightmap, error) {
	b := img.Bounds()
	if b.Dx() != b.Dy() || b.Dx() == 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrNotSquare, b.Dx(), b.Dy())
	}
	side := uint32(b.Dx())
	h := &Heightmap{Side: side, Samples: make([]float32, side*side)}

	gray, isGray := img.(*image.Gray16)
	for z := range b.Dy() {
		for x := range b.Dx() {
			var v uint16
			if isGray {
				v = gray.Gray16At(b.Min.X+x, b.Min.Y+z).Y
			} else {
				v = color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+z)).(color.Gray16).Y
			}
			h.Samples[uint32(z)*side+uint32(x)] = float32(v) / math.MaxUint16
		}
	}
	return h, nil
}

// DecodeR16 decodes a headerless little-endian uint16 grid. The side is inferred from the length.
func DecodeR16(data []byte) (*Heightmap, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("heightmap: r16 data has odd length %d", len(data))
	}
	n := len(data) / 2
	side := uint32(math.Sqrt(float64(n)))
	if uint64(side)*uint64(side) != uint64(n) || n == 0 {
		return nil, fmt.Errorf("%w: %d samples", ErrNotSquare, n)
	}
	h := &Heightmap{Side: side, Samples: make([]float32, n)}
	for i := range n {
		h.Samples[i] = float32(binary.LittleEndian.Uint16(data[i*2:])) / math.MaxUint16
	}
	return h, nil
}

// EncodeR16 packs the heightmap as little-endian uint16, the inverse of DecodeR16.
func (h *Heightmap) EncodeR16() []byte {
	out := make([]byte, len(h.Samples)*2)
	for i, s := range h.Samples {
		v := math.Round(float64(min(max(s, 0), 1)) * math.MaxUint16)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// At returns the sample at (x, z), clamping to the edge.
func (h *Heightmap) At(x, z int) float32 {
	last := int(h.Side) - 1
	x = min(max(x, 0), last)
	z = min(max(z, 0), last)
	return h.Samples[z*int(h.Side)+x]
}

// Sample bilinearly filters the heightmap at normalised coordinates u, v in [0, 1].
func (h *Heightmap) Sample(u, v float32) float32 {
	fx := u*float32(h.Side) - 0.5
	fz := v*float32(h.Side) - 0.5
	x0, z0 := int(math.Floor(float64(fx))), int(math.Floor(float64(fz)))
	tx, tz := fx-float32(x0), fz-float32(z0)

	a := h.At(x0, z0)*(1-tx) + h.At(x0+1, z0)*tx
	b := h.At(x0, z0+1)*(1-tx) + h.At(x0+1, z0+1)*tx
	return a*(1-tz) + b*tz
}

// Range returns the lowest and highest sample.
func (h *Heightmap) Range() (lo, hi float32) {
	if len(h.Samples) == 0 {
		return 0, 0
	}
	lo, hi = h.Samples[0], h.Samples[0]
	for _, s := range h.Samples[1:] {
		lo = min(lo, s)
		hi = max(hi, s)
	}
	return lo, hi
}
