// Package terrain runs the per-frame quad-tree LOD selection on the GPU and draws the selected
// nodes with a single indexed indirect draw. The host never reads selection results back on the
// frame path; it only writes the frame inputs and records a fixed sequence of dispatches.
package terrain

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-terrain/common"
	"github.com/Carmen-Shannon/oxy-terrain/engine/renderer"
	"github.com/Carmen-Shannon/oxy-terrain/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-terrain/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-terrain/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/nodestore"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/patch"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/quadtree"
	"github.com/Carmen-Shannon/oxy-terrain/internal/logger"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

var (
	// ErrNoComputeSupport is returned when the renderer cannot dispatch compute pipelines.
	ErrNoComputeSupport = errors.New("terrain: renderer does not support compute")

	// ErrMissingHeightClipmap is returned when no height clipmap provider was configured.
	ErrMissingHeightClipmap = errors.New("terrain: height clipmap provider is required")

	// ErrMissingSplatClipmap is returned when no splat clipmap provider was configured.
	ErrMissingSplatClipmap = errors.New("terrain: splat clipmap provider is required")

	// ErrCapacity is returned when a list capacity cannot hold the roots or is zero.
	ErrCapacity = errors.New("terrain: invalid list capacity")

	// ErrStatsPending is returned by LatestStats until the first readback has completed.
	ErrStatsPending = errors.New("terrain: no stats read back yet")
)

// ViewKind identifies which view a Render call draws for. Only the game view runs selection.
type ViewKind int

const (
	ViewGame ViewKind = iota
	ViewScene
	ViewPreview
)

func (v ViewKind) String() string {
	switch v {
	case ViewGame:
		return "game"
	case ViewScene:
		return "scene"
	case ViewPreview:
		return "preview"
	default:
		return fmt.Sprintf("view(%d)", int(v))
	}
}

// Camera is the view the terrain selects and draws for.
type Camera interface {
	ViewProjection() mgl32.Mat4
	Position() mgl32.Vec3
}

// Terrain owns the selection buffers of one terrain and records its frame work on a renderer.
type Terrain struct {
	mu  sync.Mutex
	r   renderer.Renderer
	log *zap.Logger

	layout quadtree.Layout
	store  *nodestore.Store
	cam    Camera

	height ClipmapProvider
	splat  ClipmapProvider

	distances         []float32
	candidateCapacity uint32
	resultCapacity    uint32
	heightScale       float32
	heightOrigin      float32
	patchSize         int
	patchUnit         float32
	tintStrength      float32
	layerColors       [4][4]float32
	palette           [PaletteSize][4]float32

	mesh *patch.Mesh

	meshProvider bind_group_provider.BindGroupProvider
	// drawArgs owns the indirect draw record at binding 0.
	drawArgs bind_group_provider.BindGroupProvider
	// lists[i] owns physical candidate buffer i at binding 0.
	lists [2]bind_group_provider.BindGroupProvider
	// selects is indexed by LOD. selects[MaxLOD] owns the frame uniforms, AABBs and cull results.
	selects   []bind_group_provider.BindGroupProvider
	selection bind_group_provider.BindGroupProvider

	uniformsBinding int

	lastFrame uint64
	selected  bool

	// statsMu guards the asynchronous stats readback, which completes outside mu.
	statsMu      sync.Mutex
	statsPending int
	statsArgs    []byte
	statsResults []byte
	statsErr     error
	latestStats  *Stats
}

// NewTerrain builds the selection and draw resources for store on r.
//
// Parameters:
//   - r: the renderer; it must support compute
//   - store: the baked node store
//   - cam: the camera selection and draw follow
//   - options: variadic TerrainBuilderOption functions; WithHeightClipmap and WithSplatClipmap are required
//
// Returns:
//   - *Terrain: the terrain, ready to Render
//   - error: ErrNoComputeSupport, ErrMissingHeightClipmap, ErrMissingSplatClipmap, ErrCapacity,
//     an invalid layout or LOD table, or a shader/buffer error
func NewTerrain(r renderer.Renderer, store *nodestore.Store, cam Camera, options ...TerrainBuilderOption) (*Terrain, error) {
	t := &Terrain{
		r:                 r,
		log:               logger.Named("terrain"),
		store:             store,
		cam:               cam,
		distances:         append([]float32(nil), quadtree.DefaultLODDistances...),
		candidateCapacity: 1024,
		resultCapacity:    2048,
		heightScale:       1,
		patchSize:         patch.DefaultSize,
		patchUnit:         patch.DefaultUnit,
		layerColors:       DefaultLayerColors(),
	}
	for _, opt := range options {
		opt(t)
	}

	if !r.SupportsCompute() {
		return nil, ErrNoComputeSupport
	}
	if t.height == nil {
		return nil, ErrMissingHeightClipmap
	}
	if t.splat == nil {
		return nil, ErrMissingSplatClipmap
	}
	if store == nil || cam == nil {
		return nil, errors.New("terrain: node store and camera are required")
	}
	t.layout = store.Layout
	if err := t.layout.Validate(); err != nil {
		return nil, err
	}
	if err := quadtree.ValidateLODDistances(t.layout, t.distances); err != nil {
		return nil, err
	}
	if t.candidateCapacity < t.layout.Roots() {
		return nil, fmt.Errorf("%w: candidate capacity %d cannot hold %d roots", ErrCapacity, t.candidateCapacity, t.layout.Roots())
	}
	if t.resultCapacity == 0 {
		return nil, fmt.Errorf("%w: result capacity must be positive", ErrCapacity)
	}

	mesh, err := patch.New(t.patchSize, t.patchUnit)
	if err != nil {
		return nil, err
	}
	t.mesh = mesh
	t.palette = LODPalette(t.layout.Levels())

	if err := t.registerPipelines(); err != nil {
		return nil, err
	}
	if err := t.initBuffers(); err != nil {
		t.Release()
		return nil, err
	}

	t.log.Info("terrain ready",
		zap.Int("levels", t.layout.Levels()),
		zap.Uint32("nodes", t.layout.TotalNodes()),
		zap.Uint32("candidate_capacity", t.candidateCapacity),
		zap.Uint32("result_capacity", t.resultCapacity),
		zap.Int("patch_indices", mesh.IndexCount()),
	)
	return t, nil
}

func (t *Terrain) registerPipelines() error {
	computes := []struct {
		key    string
		src    string
		kernel pipeline.Kernel
	}{
		{pipelineResetDrawArgs, quadtree.ResetDrawArgsShaderSource, resetDrawArgsKernel},
		{pipelineResetCandidates, quadtree.ResetCandidatesShaderSource, resetCandidatesKernel},
		{pipelineSelect, quadtree.SelectShaderSource, selectKernel},
	}
	pipelines := make([]pipeline.Pipeline, 0, len(computes)+1)
	for _, c := range computes {
		sh, err := shader.NewShader(c.key, shader.ShaderTypeCompute, c.src)
		if err != nil {
			return fmt.Errorf("terrain: %s: %w", c.key, err)
		}
		pipelines = append(pipelines, pipeline.NewPipeline(c.key, pipeline.PipelineTypeCompute,
			pipeline.WithComputeShader(sh),
			pipeline.WithKernel(c.kernel),
		))
	}
	draw, err := newDrawPipeline()
	if err != nil {
		return err
	}
	pipelines = append(pipelines, draw)
	return t.r.RegisterPipelines(pipelines...)
}

func (t *Terrain) provider(label, key string, group int, usage map[int]wgpu.BufferUsage, sizes map[int]uint64, opts ...bind_group_provider.BindGroupProviderOption) (bind_group_provider.BindGroupProvider, error) {
	p := bind_group_provider.NewBindGroupProvider(label, opts...)
	if err := t.r.InitBindGroup(p, renderer.PipelineBindGroupLayout(t.r.Pipeline(key), group), usage, sizes); err != nil {
		return nil, fmt.Errorf("terrain: %s: %w", label, err)
	}
	return p, nil
}

// initBuffers creates every buffer once. Owners are created before the providers that share
// their buffers, and only owners are written to.
func (t *Terrain) initBuffers() error {
	var err error
	t.meshProvider = bind_group_provider.NewBindGroupProvider("terrain.patch")
	if err = t.r.InitMeshBuffers(t.meshProvider, t.mesh.VertexBytes(), t.mesh.IndexBytes(), t.mesh.IndexCount()); err != nil {
		return fmt.Errorf("terrain: patch mesh: %w", err)
	}

	t.drawArgs, err = t.provider("terrain.draw_args", pipelineResetDrawArgs, 0,
		map[int]wgpu.BufferUsage{0: wgpu.BufferUsageIndirect}, nil)
	if err != nil {
		return err
	}
	listBytes := uint64(quadtree.CandidateListWords(t.candidateCapacity)) * 4
	for i := range t.lists {
		t.lists[i], err = t.provider(fmt.Sprintf("terrain.candidates.%d", i), pipelineResetCandidates, 0, nil,
			map[int]uint64{0: listBytes})
		if err != nil {
			return err
		}
	}

	total := uint64(t.layout.TotalNodes())
	writes := []bind_group_provider.BufferWrite{{
		Provider: t.drawArgs,
		Binding:  0,
		Data:     (&quadtree.GPUIndirectArgs{IndexCount: uint32(t.mesh.IndexCount())}).Marshal(),
	}}

	t.selects = make([]bind_group_provider.BindGroupProvider, t.layout.Levels())
	maxLOD := t.layout.MaxLOD
	for lod := maxLOD; lod >= 0; lod-- {
		label := fmt.Sprintf("terrain.select.%d", lod)
		shared := []bind_group_provider.BindGroupProviderOption{
			bind_group_provider.WithSharedBuffer(selectCandidatesInBinding, t.lists[lod%2], 0),
			bind_group_provider.WithSharedBuffer(selectCandidatesOutBinding, t.lists[(lod+1)%2], 0),
			bind_group_provider.WithSharedBuffer(selectDrawArgsBinding, t.drawArgs, 0),
		}
		var p bind_group_provider.BindGroupProvider
		if lod == maxLOD {
			p, err = t.provider(label, pipelineSelect, 0, nil, map[int]uint64{
				selectAABBBinding:        total * quadtree.NodeAABBWords * 4,
				selectCullResultsBinding: uint64(t.resultCapacity) * quadtree.CullResultWords * 4,
			}, shared...)
		} else {
			owner := t.selects[maxLOD]
			p, err = t.provider(label, pipelineSelect, 0, nil, nil, append(shared,
				bind_group_provider.WithSharedBuffer(selectFrameBinding, owner, selectFrameBinding),
				bind_group_provider.WithSharedBuffer(selectAABBBinding, owner, selectAABBBinding),
				bind_group_provider.WithSharedBuffer(selectCullResultsBinding, owner, selectCullResultsBinding),
			)...)
		}
		if err != nil {
			return err
		}
		t.selects[lod] = p

		level := quadtree.NewLevelUniforms(t.layout, t.distances, lod, t.candidateCapacity, t.resultCapacity)
		writes = append(writes, bind_group_provider.BufferWrite{Provider: p, Binding: selectLevelBinding, Data: level.Marshal()})
	}
	writes = append(writes, bind_group_provider.BufferWrite{
		Provider: t.selects[maxLOD], Binding: selectAABBBinding, Data: t.store.AABBBytes(),
	})

	if err = t.initSelection(total, &writes); err != nil {
		return err
	}
	return t.r.WriteBuffers(writes)
}

// initSelection creates the draw's selection group. Binding indices come from the provider
// annotations of the draw shader.
func (t *Terrain) initSelection(total uint64, writes *[]bind_group_provider.BufferWrite) error {
	draw := t.r.Pipeline(pipelineDraw)
	vs := draw.Shader(shader.ShaderTypeVertex)
	group, uniforms, ok := vs.ProviderBinding(shader.AnnotationArgSelection, shader.AnnotationArgRenderUniforms)
	if !ok {
		return errors.New("terrain: draw shader declares no render uniforms")
	}
	_, results, ok := vs.ProviderBinding(shader.AnnotationArgSelection, shader.AnnotationArgCullResults)
	if !ok {
		return errors.New("terrain: draw shader declares no cull results")
	}
	_, nodeData, ok := vs.ProviderBinding(shader.AnnotationArgSelection, shader.AnnotationArgNodeDataRole)
	if !ok {
		return errors.New("terrain: draw shader declares no node data")
	}
	if group != 0 {
		return fmt.Errorf("terrain: selection group must be 0, draw shader declares %d", group)
	}

	var err error
	t.selection, err = t.provider("terrain.selection", pipelineDraw, group, nil, map[int]uint64{
		nodeData: total * quadtree.NodeDataWords * 4,
	}, bind_group_provider.WithSharedBuffer(results, t.selects[t.layout.MaxLOD], selectCullResultsBinding))
	if err != nil {
		return err
	}
	t.uniformsBinding = uniforms
	*writes = append(*writes, bind_group_provider.BufferWrite{Provider: t.selection, Binding: nodeData, Data: t.store.NodeDataBytes()})
	return nil
}

// Render records one frame: selection when view is the game view and frame is new, then the
// indirect draw of whatever the last selection produced.
//
// Parameters:
//   - view: the view being drawn
//   - frame: the caller's frame counter
//
// Returns:
//   - error: a renderer error
func (t *Terrain) Render(view ViewKind, frame uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if view == ViewGame && (!t.selected || frame != t.lastFrame) {
		if err := t.selectNodes(); err != nil {
			return err
		}
		t.lastFrame, t.selected = frame, true
	}

	u := t.renderUniforms()
	if err := t.r.WriteBuffers([]bind_group_provider.BufferWrite{
		{Provider: t.selection, Binding: t.uniformsBinding, Data: u.Marshal()},
	}); err != nil {
		return err
	}
	if err := t.r.BeginFrame(); err != nil {
		return err
	}
	defer t.r.EndFrame()
	return t.r.DrawCallIndirect(pipelineDraw, t.meshProvider, t.drawArgs, 0, t.DrawBindings())
}

// selectNodes writes the frame inputs and records the fixed dispatch sequence: one draw record
// reset, then one candidate reset and one selection tick per level from MaxLOD down to 0.
func (t *Terrain) selectNodes() error {
	pos := t.cam.Position()
	x, z := quadtree.SnapToGrid(pos.X(), pos.Z(), t.layout.NodeSize(0))
	frame := quadtree.GPUFrameUniforms{
		Planes: common.ExtractFrustum(t.cam.ViewProjection()).GPUPlanes(),
		Camera: [4]float32{x, pos.Y(), z, 0},
	}
	seed := quadtree.MarshalUint32s(quadtree.SeedWords(t.layout))
	maxLOD := t.layout.MaxLOD
	if err := t.r.WriteBuffers([]bind_group_provider.BufferWrite{
		{Provider: t.selects[maxLOD], Binding: selectFrameBinding, Data: frame.Marshal()},
		{Provider: t.lists[0], Binding: 0, Data: seed},
		{Provider: t.lists[1], Binding: 0, Data: seed},
	}); err != nil {
		return err
	}

	if err := t.r.BeginComputeFrame(); err != nil {
		return err
	}
	defer t.r.EndComputeFrame()

	one := [3]uint32{1, 1, 1}
	if err := t.r.DispatchCompute(pipelineResetDrawArgs, t.drawArgs, one); err != nil {
		return err
	}
	groups := [3]uint32{quadtree.SelectWorkgroups(t.candidateCapacity), 1, 1}
	for lod := maxLOD; lod >= 0; lod-- {
		if err := t.r.DispatchCompute(pipelineResetCandidates, t.lists[(lod+1)%2], one); err != nil {
			return err
		}
		if err := t.r.DispatchCompute(pipelineSelect, t.selects[lod], groups); err != nil {
			return err
		}
	}
	return nil
}

func (t *Terrain) renderUniforms() GPURenderUniforms {
	ho, so := t.height.CameraOffset(), t.splat.CameraOffset()
	u := GPURenderUniforms{
		ViewProj:       [16]float32(t.cam.ViewProjection()),
		HeightOffset:   [4]float32{ho[0], ho[1], ho[2], 0},
		SplatOffset:    [4]float32{so[0], so[1], so[2], 0},
		LODColors:      t.palette,
		LayerColors:    t.layerColors,
		HeightScale:    t.heightScale,
		HeightOrigin:   t.heightOrigin,
		PatchSpan:      float32(t.mesh.Size) * t.mesh.Unit,
		TintStrength:   t.tintStrength,
		MaxLOD:         uint32(t.layout.MaxLOD),
		FinestNodeSize: t.layout.NodeSize(0),
		PatchUnit:      t.mesh.Unit,
	}
	if f := t.height.FinestUpToDate(); len(f) > 0 {
		u.FinestLevels[0] = f[0]
	}
	if f := t.splat.FinestUpToDate(); len(f) > 0 {
		u.FinestLevels[1] = f[0]
	}
	return u
}

// DrawBindings returns the bind groups of the terrain draw in group order: the selection group
// (render uniforms, cull results, node data), then the height and splat clipmaps.
func (t *Terrain) DrawBindings() []bind_group_provider.BindGroupProvider {
	return []bind_group_provider.BindGroupProvider{t.selection, t.height.Bindings(), t.splat.Bindings()}
}

// DrawArgs returns the provider owning the indirect draw record at binding 0.
func (t *Terrain) DrawArgs() bind_group_provider.BindGroupProvider {
	return t.drawArgs
}

// SetTintStrength changes the LOD debug tint from the next Render on, clamped to [0, 1].
func (t *Terrain) SetTintStrength(strength float32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tintStrength = min(max(strength, 0), 1)
}

// TintStrength returns the current LOD debug tint.
func (t *Terrain) TintStrength() float32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tintStrength
}

// Layout returns the tree layout of the node store.
func (t *Terrain) Layout() quadtree.Layout {
	return t.layout
}

// Stats is a read-back snapshot of the last selection.
type Stats struct {
	Draw      quadtree.GPUIndirectArgs
	Results   []quadtree.GPUCullResult
	PerLOD    []uint32
	Saturated bool
}

// Stats reads back the draw record and the cull results. It blocks on the GPU and is meant for
// tools and tests; frame loops use RequestStats and LatestStats instead.
//
// Returns:
//   - *Stats: the snapshot
//   - error: a readback error
func (t *Terrain) Stats() (*Stats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	args, err := t.r.ReadBuffer(t.drawArgs, 0)
	if err != nil {
		return nil, err
	}
	results, err := t.r.ReadBuffer(t.selects[t.layout.MaxLOD], selectCullResultsBinding)
	if err != nil {
		return nil, err
	}
	return t.buildStats(args, results)
}

// RequestStats starts a non-blocking readback of the draw record and the cull results. The
// snapshot becomes visible through LatestStats once both copies land, which on WGPU is a later
// Present. A request made while one is in flight is dropped.
//
// Returns:
//   - error: a failure to stage the copies
func (t *Terrain) RequestStats() error {
	t.statsMu.Lock()
	if t.statsPending > 0 {
		t.statsMu.Unlock()
		return nil
	}
	t.statsPending = 2
	t.statsArgs, t.statsResults, t.statsErr = nil, nil, nil
	t.statsMu.Unlock()

	t.mu.Lock()
	args, results := t.drawArgs, t.selects[t.layout.MaxLOD]
	t.mu.Unlock()

	if err := t.r.ReadBufferAsync(args, 0, func(data []byte, err error) {
		t.statsRead(&t.statsArgs, data, err)
	}); err != nil {
		t.statsMu.Lock()
		t.statsPending = 0
		t.statsMu.Unlock()
		return err
	}
	if err := t.r.ReadBufferAsync(results, selectCullResultsBinding, func(data []byte, err error) {
		t.statsRead(&t.statsResults, data, err)
	}); err != nil {
		t.statsRead(&t.statsResults, nil, err)
		return err
	}
	return nil
}

// LatestStats returns the snapshot of the most recent completed RequestStats.
//
// Returns:
//   - *Stats: the snapshot
//   - error: ErrStatsPending when no readback has completed yet
func (t *Terrain) LatestStats() (*Stats, error) {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	if t.latestStats == nil {
		return nil, ErrStatsPending
	}
	return t.latestStats, nil
}

func (t *Terrain) statsRead(dst *[]byte, data []byte, err error) {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()

	*dst = data
	if err != nil && t.statsErr == nil {
		t.statsErr = err
	}
	if t.statsPending--; t.statsPending > 0 {
		return
	}
	if t.statsErr != nil {
		t.log.Warn("stats readback failed", zap.Error(t.statsErr))
		return
	}
	s, err := t.buildStats(t.statsArgs, t.statsResults)
	if err != nil {
		t.log.Warn("stats readback failed", zap.Error(err))
		return
	}
	t.latestStats = s
}

func (t *Terrain) buildStats(argsData, resultsData []byte) (*Stats, error) {
	args, err := quadtree.UnmarshalIndirectArgs(argsData)
	if err != nil {
		return nil, err
	}
	s := &Stats{
		Draw:      args,
		Results:   quadtree.UnmarshalCullResults(resultsData, int(args.InstanceCount)),
		PerLOD:    make([]uint32, t.layout.Levels()),
		Saturated: args.InstanceCount >= t.resultCapacity,
	}
	for _, r := range s.Results {
		if lod, ok := t.layout.LevelOf(r.ID); ok {
			s.PerLOD[lod]++
		}
	}
	if s.Saturated {
		t.log.Debug("cull results saturated",
			zap.Uint32("instances", args.InstanceCount),
			zap.Uint32("capacity", t.resultCapacity),
		)
	}
	return s, nil
}

// Release frees every buffer the terrain owns. Clipmaps belong to the caller.
func (t *Terrain) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.selection != nil {
		t.selection.Release()
	}
	for _, p := range t.selects {
		if p != nil {
			p.Release()
		}
	}
	for _, p := range t.lists {
		if p != nil {
			p.Release()
		}
	}
	if t.drawArgs != nil {
		t.drawArgs.Release()
	}
	if t.meshProvider != nil {
		t.meshProvider.Release()
	}
	t.selection, t.selects, t.drawArgs, t.meshProvider = nil, nil, nil, nil
	t.lists = [2]bind_group_provider.BindGroupProvider{}
}
