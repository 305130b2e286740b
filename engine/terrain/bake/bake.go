// Package bake turns a heightmap into the persisted per-node records of the terrain quad-tree.
// The work runs as compute passes on a renderer, so the same code bakes on a GPU or on the
// host backend.
package bake

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Carmen-Shannon/oxy-terrain/engine/renderer"
	"github.com/Carmen-Shannon/oxy-terrain/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-terrain/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-terrain/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/heightmap"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/heightrange"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/nodestore"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/quadtree"
	"github.com/Carmen-Shannon/oxy-terrain/internal/logger"
	"go.uber.org/zap"
)

const (
	pipelineMip0     = "bake.height_range_mip0"
	pipelineReduce   = "bake.height_range_reduce"
	pipelineNodeAABB = "bake.node_aabb"
	pipelineNodeData = "bake.node_data"
)

// ErrNoComputeSupport is returned when the renderer cannot run compute passes.
var ErrNoComputeSupport = errors.New("bake: renderer does not support compute")

// Result is everything a bake produces.
type Result struct {
	Store *nodestore.Store
	Chain *heightrange.Chain
}

// Baker runs the offline passes on a renderer.
type Baker struct {
	r       renderer.Renderer
	layout  quadtree.Layout
	opts    Options
	shaders map[string]shader.Shader
	log     *zap.Logger
}

// NewBaker compiles the bake shaders and registers their pipelines on r.
//
// Parameters:
//   - r: the renderer the passes run on
//   - layout: the tree layout to bake
//   - opts: height mapping options
//
// Returns:
//   - *Baker: the baker
//   - error: ErrNoComputeSupport, an invalid layout, or a shader/pipeline error
func NewBaker(r renderer.Renderer, layout quadtree.Layout, opts Options) (*Baker, error) {
	if !r.SupportsCompute() {
		return nil, ErrNoComputeSupport
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}

	b := &Baker{
		r:       r,
		layout:  layout,
		opts:    opts,
		shaders: make(map[string]shader.Shader),
		log:     logger.Named("bake"),
	}

	sources := []struct {
		key    string
		src    string
		kernel pipeline.Kernel
	}{
		{pipelineMip0, heightrange.Mip0ShaderSource, heightRangeMip0Kernel},
		{pipelineReduce, heightrange.ReduceShaderSource, heightRangeReduceKernel},
		{pipelineNodeAABB, NodeAABBShaderSource, nodeAABBKernel},
		{pipelineNodeData, NodeDataShaderSource, nodeDataKernel},
	}
	pipelines := make([]pipeline.Pipeline, 0, len(sources))
	for _, s := range sources {
		sh, err := shader.NewShader(s.key, shader.ShaderTypeCompute, s.src)
		if err != nil {
			return nil, fmt.Errorf("bake: %s: %w", s.key, err)
		}
		b.shaders[s.key] = sh
		pipelines = append(pipelines, pipeline.NewPipeline(s.key, pipeline.PipelineTypeCompute,
			pipeline.WithComputeShader(sh),
			pipeline.WithKernel(s.kernel),
		))
	}
	if err := r.RegisterPipelines(pipelines...); err != nil {
		return nil, err
	}
	return b, nil
}

// Bake runs the height-range chain, then one AABB pass per level from the root level down,
// then the NodeData pass. Each sequence is read back before the next starts.
//
// Parameters:
//   - hm: the source heightmap; its side must be a power of two
//
// Returns:
//   - *Result: the baked store and the height-range chain it was built from
//   - error: ErrNotPowerOfTwo, or a renderer error; nothing is returned partially
func (b *Baker) Bake(hm *heightmap.Heightmap) (*Result, error) {
	start := time.Now()

	chain, err := b.heightRanges(hm)
	if err != nil {
		return nil, err
	}
	aabbs, err := b.nodeAABBs(chain)
	if err != nil {
		return nil, err
	}
	defer aabbs.Release()

	aabbBytes, err := b.r.ReadBuffer(aabbs, 2)
	if err != nil {
		return nil, fmt.Errorf("bake: aabb readback: %w", err)
	}
	nodeBytes, err := b.nodeData(aabbs)
	if err != nil {
		return nil, err
	}

	store, err := nodestore.FromBytes(b.layout, aabbBytes, nodeBytes)
	if err != nil {
		return nil, err
	}

	b.log.Info("bake complete",
		zap.Uint32("heightmap_side", hm.Side),
		zap.Int("mips", chain.Mips()),
		zap.Int("levels", b.layout.Levels()),
		zap.Uint32("nodes", b.layout.TotalNodes()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &Result{Store: store, Chain: chain}, nil
}

func (b *Baker) provider(label, key string, sizes map[int]uint64, opts ...bind_group_provider.BindGroupProviderOption) (bind_group_provider.BindGroupProvider, error) {
	p := bind_group_provider.NewBindGroupProvider(label, opts...)
	if err := b.r.InitBindGroup(p, b.shaders[key].BindGroupLayoutDescriptor(0), nil, sizes); err != nil {
		return nil, fmt.Errorf("bake: %s: %w", label, err)
	}
	return p, nil
}

// heightRanges runs the mip 0 pass and one reduction per remaining mip, all in one sequence.
func (b *Baker) heightRanges(hm *heightmap.Heightmap) (*heightrange.Chain, error) {
	side := hm.Side
	mips, err := heightrange.MipCount(side)
	if err != nil {
		return nil, err
	}

	mip0, err := b.provider("bake.height_range_mip0", pipelineMip0, map[int]uint64{
		1: uint64(side) * uint64(side) * 4,
		2: uint64(heightrange.PackedLen(side)) * 8,
	})
	if err != nil {
		return nil, err
	}
	defer mip0.Release()

	params := heightrange.Mip0Params(side)
	writes := []bind_group_provider.BufferWrite{
		{Provider: mip0, Binding: 0, Data: params.Marshal()},
		{Provider: mip0, Binding: 1, Data: quadtree.MarshalFloats(hm.Samples)},
	}

	reduce := make([]bind_group_provider.BindGroupProvider, 0, mips-1)
	defer func() {
		for _, p := range reduce {
			p.Release()
		}
	}()
	for m := 0; m < mips-1; m++ {
		p, err := b.provider(fmt.Sprintf("bake.height_range_reduce.%d", m), pipelineReduce, nil,
			bind_group_provider.WithSharedBuffer(2, mip0, 2),
		)
		if err != nil {
			return nil, err
		}
		reduce = append(reduce, p)
		rp := heightrange.ReduceParams(side, m)
		writes = append(writes, bind_group_provider.BufferWrite{Provider: p, Binding: 0, Data: rp.Marshal()})
	}
	if err := b.r.WriteBuffers(writes); err != nil {
		return nil, err
	}

	if err := b.r.BeginComputeFrame(); err != nil {
		return nil, err
	}
	g := heightrange.Workgroups(side)
	if err := b.r.DispatchCompute(pipelineMip0, mip0, [3]uint32{g, g, 1}); err != nil {
		b.r.EndComputeFrame()
		return nil, err
	}
	for m, p := range reduce {
		g := heightrange.Workgroups(heightrange.MipSide(side, m+1))
		if err := b.r.DispatchCompute(pipelineReduce, p, [3]uint32{g, g, 1}); err != nil {
			b.r.EndComputeFrame()
			return nil, err
		}
	}
	b.r.EndComputeFrame()

	data, err := b.r.ReadBuffer(mip0, 2)
	if err != nil {
		return nil, fmt.Errorf("bake: height range readback: %w", err)
	}
	chain, err := heightrange.UnmarshalChain(data, side)
	if err != nil {
		return nil, err
	}
	b.log.Debug("height range chain built", zap.Uint32("side", side), zap.Int("mips", mips))
	return chain, nil
}

// nodeAABBs uploads the chain and fills the AABB buffer level by level. The returned provider
// owns the AABB buffer at binding 2; the caller releases it.
func (b *Baker) nodeAABBs(chain *heightrange.Chain) (owner bind_group_provider.BindGroupProvider, err error) {
	levels := make([]bind_group_provider.BindGroupProvider, 0, b.layout.Levels())
	defer func() {
		for i, p := range levels {
			if i > 0 || err != nil {
				p.Release()
			}
		}
	}()

	var writes []bind_group_provider.BufferWrite
	for lod := b.layout.MaxLOD; lod >= 0; lod-- {
		label := fmt.Sprintf("bake.node_aabb.%d", lod)
		var p bind_group_provider.BindGroupProvider
		if len(levels) == 0 {
			p, err = b.provider(label, pipelineNodeAABB, map[int]uint64{
				1: uint64(len(chain.Ranges)) * 8,
				2: uint64(b.layout.TotalNodes()) * quadtree.NodeAABBWords * 4,
			})
		} else {
			p, err = b.provider(label, pipelineNodeAABB, nil,
				bind_group_provider.WithSharedBuffer(1, levels[0], 1),
				bind_group_provider.WithSharedBuffer(2, levels[0], 2),
			)
		}
		if err != nil {
			return nil, err
		}
		levels = append(levels, p)

		params := newAABBParams(b.layout, chain.Side, lod, b.opts)
		writes = append(writes, bind_group_provider.BufferWrite{Provider: p, Binding: 0, Data: params.marshal()})
	}

	writes = append(writes, bind_group_provider.BufferWrite{Provider: levels[0], Binding: 1, Data: chain.Marshal()})
	if err = b.r.WriteBuffers(writes); err != nil {
		return nil, err
	}

	if err = b.r.BeginComputeFrame(); err != nil {
		return nil, err
	}
	defer b.r.EndComputeFrame()
	for i, p := range levels {
		groups := workgroups(b.layout.LevelNodes(b.layout.MaxLOD - i))
		if err = b.r.DispatchCompute(pipelineNodeAABB, p, [3]uint32{groups, 1, 1}); err != nil {
			return nil, err
		}
	}
	return levels[0], nil
}

// nodeData flattens the AABB buffer owned by aabbs and returns the read-back records.
func (b *Baker) nodeData(aabbs bind_group_provider.BindGroupProvider) ([]byte, error) {
	total := b.layout.TotalNodes()
	p, err := b.provider("bake.node_data", pipelineNodeData, map[int]uint64{
		2: uint64(total) * quadtree.NodeDataWords * 4,
	}, bind_group_provider.WithSharedBuffer(1, aabbs, 2))
	if err != nil {
		return nil, err
	}
	defer p.Release()

	if err := b.r.WriteBuffers([]bind_group_provider.BufferWrite{
		{Provider: p, Binding: 0, Data: quadtree.MarshalUint32s([]uint32{total, 0, 0, 0})},
	}); err != nil {
		return nil, err
	}
	if err := b.r.BeginComputeFrame(); err != nil {
		return nil, err
	}
	if err := b.r.DispatchCompute(pipelineNodeData, p, [3]uint32{workgroups(total), 1, 1}); err != nil {
		b.r.EndComputeFrame()
		return nil, err
	}
	b.r.EndComputeFrame()

	data, err := b.r.ReadBuffer(p, 2)
	if err != nil {
		return nil, fmt.Errorf("bake: node data readback: %w", err)
	}
	return data, nil
}

// Reference computes the same records as Bake entirely on the host from a prebuilt chain.
//
// Parameters:
//   - layout: the tree layout
//   - chain: the height-range chain of the source heightmap
//   - opts: height mapping options
//
// Returns:
//   - *nodestore.Store: the expected store
func Reference(layout quadtree.Layout, chain *heightrange.Chain, opts Options) *nodestore.Store {
	ranges := make([]uint32, len(chain.Ranges)*2)
	for i, r := range chain.Ranges {
		ranges[2*i] = math.Float32bits(r.Min)
		ranges[2*i+1] = math.Float32bits(r.Max)
	}

	n := layout.TotalNodes()
	s := &nodestore.Store{
		Layout:   layout,
		AABBs:    make([]quadtree.GPUNodeAABB, n),
		NodeData: make([]quadtree.GPUNodeData, n),
	}
	for lod := layout.MaxLOD; lod >= 0; lod-- {
		p := newAABBParams(layout, chain.Side, lod, opts)
		for i := range p.LevelNodes {
			a := p.nodeAABB(ranges, i)
			s.AABBs[p.IndexBase+i] = a
			s.NodeData[p.IndexBase+i] = quadtree.NodeDataFromAABB(a)
		}
	}
	return s
}
