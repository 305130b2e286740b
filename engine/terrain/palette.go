package terrain

import (
	"github.com/lucasb-eyer/go-colorful"
)

// LODPalette spreads levels evenly around the hue wheel, LOD 0 first. Colours are linear RGB
// since the draw target is an sRGB surface. Levels beyond PaletteSize repeat the last colour.
//
// Parameters:
//   - levels: the number of LODs to colour
//
// Returns:
//   - [PaletteSize][4]float32: the tint table uploaded with the render uniforms
func LODPalette(levels int) [PaletteSize][4]float32 {
	var out [PaletteSize][4]float32
	levels = min(max(levels, 1), PaletteSize)
	for i := range PaletteSize {
		n := min(i, levels-1)
		c := colorful.Hsv(float64(n)*300/float64(levels), 0.7, 0.95)
		r, g, b := c.LinearRgb()
		out[i] = [4]float32{float32(r), float32(g), float32(b), 1}
	}
	return out
}

// DefaultLayerColors is the albedo of the four splat layers: grass, rock, dirt and snow.
func DefaultLayerColors() [4][4]float32 {
	hsv := [4][3]float64{
		{100, 0.55, 0.45},
		{30, 0.08, 0.5},
		{28, 0.45, 0.4},
		{210, 0.04, 0.95},
	}
	var out [4][4]float32
	for i, v := range hsv {
		r, g, b := colorful.Hsv(v[0], v[1], v[2]).LinearRgb()
		out[i] = [4]float32{float32(r), float32(g), float32(b), 1}
	}
	return out
}
