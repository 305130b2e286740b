package terrain

import (
	"fmt"
	"math"

	"github.com/Carmen-Shannon/oxy-terrain/engine/renderer"
	"github.com/Carmen-Shannon/oxy-terrain/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-terrain/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-terrain/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/heightmap"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/quadtree"
	"github.com/cogentcore/webgpu/wgpu"
)

// ClipmapProvider is a camera-centred texture cache the draw samples from. The terrain only
// binds it; streaming and residency belong to the provider.
type ClipmapProvider interface {
	// CameraOffset returns the world position the finest clipmap level is centred on.
	CameraOffset() [3]float32

	// FinestUpToDate returns, per clipmap, the finest level whose texels are valid this frame.
	FinestUpToDate() []uint32

	// Bindings returns the bind group the draw binds at the provider's declared group.
	Bindings() bind_group_provider.BindGroupProvider
}

// StaticClipmap is a single-level clipmap covering the whole terrain. It never streams, so
// level 0 is always up to date.
type StaticClipmap struct {
	provider bind_group_provider.BindGroupProvider
	info     GPUClipmapInfo
	centre   [3]float32
}

var _ ClipmapProvider = &StaticClipmap{}

// NewHeightClipmap uploads a heightmap as the height clipmap of a terrain laid out as layout.
// Samples stay normalised; the draw applies the height scale and origin.
//
// Parameters:
//   - r: the renderer the draw runs on
//   - layout: the tree layout the heightmap covers
//   - hm: the heightmap
//
// Returns:
//   - *StaticClipmap: the clipmap
//   - error: a shader or buffer error
func NewHeightClipmap(r renderer.Renderer, layout quadtree.Layout, hm *heightmap.Heightmap) (*StaticClipmap, error) {
	return newStaticClipmap(r, shader.AnnotationArgClipmapHeight, layout, hm.Side, quadtree.MarshalFloats(hm.Samples))
}

// NewSplatClipmap uploads a side x side grid of packed layer weights (see PackSplat).
func NewSplatClipmap(r renderer.Renderer, layout quadtree.Layout, side uint32, weights []uint32) (*StaticClipmap, error) {
	if uint64(len(weights)) != uint64(side)*uint64(side) {
		return nil, fmt.Errorf("terrain: expected %d splat texels for side %d, got %d", side*side, side, len(weights))
	}
	return newStaticClipmap(r, shader.AnnotationArgClipmapSplat, layout, side, quadtree.MarshalUint32s(weights))
}

// NewUniformSplatClipmap covers the terrain with a single layer.
func NewUniformSplatClipmap(r renderer.Renderer, layout quadtree.Layout, layer int) (*StaticClipmap, error) {
	var w [4]float32
	w[min(max(layer, 0), 3)] = 1
	return NewSplatClipmap(r, layout, 1, []uint32{PackSplat(w)})
}

// PackSplat packs four layer weights in [0, 1] the way unpack4x8unorm reads them, first layer
// in the low byte.
func PackSplat(weights [4]float32) uint32 {
	var packed uint32
	for i, w := range weights {
		v := uint32(math.Round(float64(min(max(w, 0), 1)) * 255))
		packed |= v << (8 * i)
	}
	return packed
}

func newStaticClipmap(r renderer.Renderer, identity shader.AnnotationArg, layout quadtree.Layout, side uint32, texels []byte) (*StaticClipmap, error) {
	if side == 0 {
		return nil, fmt.Errorf("terrain: %s clipmap side must be positive", identity)
	}
	draw, err := newDrawPipeline()
	if err != nil {
		return nil, err
	}
	vs := draw.Shader(shader.ShaderTypeVertex)
	group, infoBinding, ok := vs.ProviderBinding(identity, shader.AnnotationArgClipmapInfo)
	if !ok {
		return nil, fmt.Errorf("terrain: draw shader declares no %s clipmap info", identity)
	}
	_, texelBinding, ok := vs.ProviderBinding(identity, shader.AnnotationArgClipmapTexels)
	if !ok {
		return nil, fmt.Errorf("terrain: draw shader declares no %s clipmap texels", identity)
	}

	provider := bind_group_provider.NewBindGroupProvider(fmt.Sprintf("terrain.%s", identity))
	if err := r.InitBindGroup(provider, renderer.PipelineBindGroupLayout(draw, group), nil, map[int]uint64{
		texelBinding: uint64(len(texels)),
	}); err != nil {
		return nil, fmt.Errorf("terrain: %s clipmap: %w", identity, err)
	}

	world := layout.WorldSize()
	c := &StaticClipmap{
		provider: provider,
		info:     GPUClipmapInfo{Side: side, Levels: 1, TexelSize: world / float32(side)},
		centre:   [3]float32{layout.Origin[0] + world/2, 0, layout.Origin[1] + world/2},
	}
	if err := r.WriteBuffers([]bind_group_provider.BufferWrite{
		{Provider: provider, Binding: infoBinding, Data: c.info.Marshal()},
		{Provider: provider, Binding: texelBinding, Data: texels},
	}); err != nil {
		provider.Release()
		return nil, err
	}
	return c, nil
}

func (c *StaticClipmap) CameraOffset() [3]float32 {
	return c.centre
}

func (c *StaticClipmap) FinestUpToDate() []uint32 {
	return []uint32{0}
}

func (c *StaticClipmap) Bindings() bind_group_provider.BindGroupProvider {
	return c.provider
}

// Info returns the resolution record uploaded for the clipmap.
func (c *StaticClipmap) Info() GPUClipmapInfo {
	return c.info
}

// Release frees the clipmap buffers.
func (c *StaticClipmap) Release() {
	c.provider.Release()
}

// newDrawPipeline compiles the draw shader into an unregistered render pipeline. Clipmaps use
// it to create bind groups compatible with the registered one.
func newDrawPipeline() (pipeline.Pipeline, error) {
	vs, err := shader.NewShader(pipelineDraw+".vs", shader.ShaderTypeVertex, DrawShaderSource)
	if err != nil {
		return nil, fmt.Errorf("terrain: draw vertex shader: %w", err)
	}
	fs, err := shader.NewShader(pipelineDraw+".fs", shader.ShaderTypeFragment, DrawShaderSource)
	if err != nil {
		return nil, fmt.Errorf("terrain: draw fragment shader: %w", err)
	}
	return pipeline.NewPipeline(pipelineDraw, pipeline.PipelineTypeRender,
		pipeline.WithVertexShader(vs),
		pipeline.WithFragmentShader(fs),
		pipeline.WithCullMode(wgpu.CullModeBack),
		pipeline.WithFrontFace(wgpu.FrontFaceCCW),
	), nil
}
