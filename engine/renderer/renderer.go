package renderer

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/Carmen-Shannon/oxy-terrain/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-terrain/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-terrain/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

var (
	// ErrPipelineNotFound is returned when a pipeline key has not been registered.
	ErrPipelineNotFound = errors.New("renderer: pipeline not found")

	// ErrBindingNotFound is returned when a provider has no buffer at the requested binding.
	ErrBindingNotFound = errors.New("renderer: binding has no buffer")
)

// Surface is the part of a window the renderer presents to. window.Window satisfies it.
type Surface interface {
	SurfaceDescriptor() *wgpu.SurfaceDescriptor
	Width() int
	Height() int
}

// renderer is the implementation of the Renderer interface.
type renderer struct {
	mu *sync.Mutex

	pipelineCache map[string]pipeline.Pipeline

	backendType RendererBackendType
	backend     RendererBackend

	// Pre-creation config collected from builder options
	forceFallbackAdapter bool
	pendingPresentMode   *PresentMode
	pendingMSAA          *MSAASampleCount
	workers              int
	queueSize            int
	width                int
	height               int
}

// Renderer defines the interface for the rendering system.
//
// This is a high-level API designed to simplify rendering tasks into a streamlined and idiomatic flow.
// The Renderer manages a cache of pipelines keyed by PipelineKey and forwards work to a backend,
// either WebGPU or the host worker pool.
type Renderer interface {
	// BackendType returns the backend the renderer was created with.
	BackendType() RendererBackendType

	// SupportsCompute reports whether the backend can dispatch compute pipelines.
	SupportsCompute() bool

	// Pipeline retrieves the cached Pipeline associated with the given key.
	// If the Pipeline does not exist, this will return nil.
	//
	// Parameters:
	//   - key: the unique identifier for the Pipeline to retrieve
	//
	// Returns:
	//   - pipeline.Pipeline: the Pipeline associated with the key, or nil if not found
	Pipeline(key string) pipeline.Pipeline

	// Pipelines retrieves the entire cache of Pipelines.
	//
	// Returns:
	//   - map[string]pipeline.Pipeline: a map of pipeline keys to their corresponding Pipeline objects
	Pipelines() map[string]pipeline.Pipeline

	// RegisterPipelines registers one or more pipelines by creating the corresponding backend
	// pipeline objects (render or compute), then caching them by PipelineKey.
	// Pipelines whose keys are already registered are skipped.
	//
	// Parameters:
	//   - pipelines: the Pipelines to register
	//
	// Returns:
	//   - error: an error if pipeline creation fails
	RegisterPipelines(pipelines ...pipeline.Pipeline) error

	// Resize reconfigures the frame targets for a new size.
	//
	// Parameters:
	//   - width: the new width in pixels
	//   - height: the new height in pixels
	Resize(width, height int)

	// SetPresentMode sets the surface present mode. A call to Resize is required after changing
	// this for the new mode to take effect.
	//
	// Parameters:
	//   - mode: the PresentMode to use
	SetPresentMode(mode PresentMode)

	// InitMeshBuffers creates the vertex and index buffers for a mesh and stores them on the provider.
	//
	// Parameters:
	//   - provider: the BindGroupProvider to receive the buffers
	//   - vertexData: the raw vertex bytes
	//   - indexData: the raw uint32 index bytes
	//   - indexCount: the number of indices
	//
	// Returns:
	//   - error: an error if buffer creation fails
	InitMeshBuffers(provider bind_group_provider.BindGroupProvider, vertexData, indexData []byte, indexCount int) error

	// InitBindGroup creates any buffer the descriptor needs that the provider does not already hold,
	// then builds the provider's bind group. Shared buffers set through ShareBuffer are reused.
	//
	// Parameters:
	//   - provider: the BindGroupProvider to initialise
	//   - descriptor: the bind group layout, usually taken from a Shader
	//   - bufferUsageOverrides: extra usage flags per binding
	//   - bufferSizeOverrides: buffer sizes per binding, replacing MinBindingSize
	//
	// Returns:
	//   - error: an error if any buffer or the bind group could not be created
	InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, bufferUsageOverrides map[int]wgpu.BufferUsage, bufferSizeOverrides map[int]uint64) error

	// WriteBuffers uploads data to provider bindings. On WGPU every write lands before the
	// commands of the next submission, so per-pass parameters need their own buffers.
	//
	// Parameters:
	//   - writes: the writes to apply in order
	//
	// Returns:
	//   - error: the first write that could not be applied
	WriteBuffers(writes []bind_group_provider.BufferWrite) error

	// ReadBuffer copies a provider binding back to the host, blocking until the device is idle.
	//
	// Parameters:
	//   - provider: the BindGroupProvider that owns the buffer
	//   - binding: the binding index
	//
	// Returns:
	//   - []byte: the buffer contents
	//   - error: ErrBindingNotFound, or a mapping failure
	ReadBuffer(provider bind_group_provider.BindGroupProvider, binding int) ([]byte, error)

	// ReadBufferAsync requests a copy of a provider binding without blocking. On WGPU done runs
	// from a later Present once the copy is mapped; on the CPU backend it runs before returning.
	// done must not call back into the renderer.
	//
	// Parameters:
	//   - provider: the BindGroupProvider that owns the buffer
	//   - binding: the binding index
	//   - done: receives the buffer contents or a mapping failure
	//
	// Returns:
	//   - error: ErrBindingNotFound, or a failure to stage the copy
	ReadBufferAsync(provider bind_group_provider.BindGroupProvider, binding int, done func([]byte, error)) error

	// BeginComputeFrame starts batching all compute dispatches of a frame into one submission.
	// Must be paired with EndComputeFrame.
	//
	// Returns:
	//   - error: an error if the command encoder could not be created
	BeginComputeFrame() error

	// EndComputeFrame submits the dispatches recorded since BeginComputeFrame.
	EndComputeFrame()

	// DispatchCompute looks up the cached compute Pipeline by key and records one dispatch.
	// Dispatches execute in recording order and each sees the writes of the previous one.
	//
	// Parameters:
	//   - pipelineKey: the unique identifier for the cached compute Pipeline to use
	//   - computeProvider: the BindGroupProvider whose BindGroup will be set on the compute pass
	//   - workGroupCount: the number of workgroups to dispatch in the x, y, and z dimensions
	//
	// Returns:
	//   - error: ErrPipelineNotFound if the key is not registered
	DispatchCompute(pipelineKey string, computeProvider bind_group_provider.BindGroupProvider, workGroupCount [3]uint32) error

	// BeginFrame acquires the frame target and begins the main render pass.
	// Must be paired with EndFrame.
	//
	// Returns:
	//   - error: an error if the target could not be acquired
	BeginFrame() error

	// DrawCall encodes a single instanced draw command within the current render pass.
	//
	// Parameters:
	//   - pipelineKey: the unique identifier for the cached render Pipeline to use
	//   - meshProvider: the BindGroupProvider holding vertex and index buffers
	//   - instanceCount: the number of instances to draw
	//   - bindGroups: providers whose BindGroups are set at their slice index
	//
	// Returns:
	//   - error: ErrPipelineNotFound if the key is not registered
	DrawCall(pipelineKey string, meshProvider bind_group_provider.BindGroupProvider, instanceCount uint32, bindGroups []bind_group_provider.BindGroupProvider) error

	// DrawCallIndirect encodes an indexed draw whose arguments were written by a compute pass.
	// The instance count is never read back on the WGPU backend.
	//
	// Parameters:
	//   - pipelineKey: the unique identifier for the cached render Pipeline to use
	//   - meshProvider: the BindGroupProvider holding vertex and index buffers
	//   - argsProvider: the BindGroupProvider owning the DrawIndexedIndirect arguments (20 bytes)
	//   - argsBinding: the binding of the arguments on argsProvider
	//   - bindGroups: providers whose BindGroups are set at their slice index
	//
	// Returns:
	//   - error: ErrPipelineNotFound or ErrBindingNotFound
	DrawCallIndirect(pipelineKey string, meshProvider bind_group_provider.BindGroupProvider, argsProvider bind_group_provider.BindGroupProvider, argsBinding int, bindGroups []bind_group_provider.BindGroupProvider) error

	// EndFrame ends the current render pass and submits it. Call Present afterwards.
	EndFrame()

	// Present presents the frame and releases the acquired target.
	Present()

	// Release frees every cached pipeline and the backend.
	Release()
}

var _ Renderer = &renderer{}

// NewRenderer creates a new Renderer with the specified backend. When surface is nil the
// renderer is headless: WGPU requests an adapter without a surface and renders to an
// offscreen target sized by WithSize.
//
// Parameters:
//   - backendType: the type of backend to use
//   - surface: the window to present to, or nil
//   - options: variadic list of RendererBuilderOption functions to configure the Renderer
//
// Returns:
//   - Renderer: the configured Renderer
//   - error: an error if the backend could not acquire a device
func NewRenderer(backendType RendererBackendType, surface Surface, options ...RendererBuilderOption) (Renderer, error) {
	r := &renderer{
		mu:            &sync.Mutex{},
		pipelineCache: make(map[string]pipeline.Pipeline),
		backendType:   backendType,
		workers:       max(runtime.NumCPU()-1, 1),
		queueSize:     256,
		width:         1,
		height:        1,
	}

	// Apply options first so config flags (e.g. forceFallbackAdapter) are
	// available before the backend requests a GPU adapter.
	for _, opt := range options {
		opt(r)
	}

	msaa := MSAA4x
	if r.pendingMSAA != nil {
		msaa = *r.pendingMSAA
	}

	width, height := r.width, r.height
	switch backendType {
	case BackendTypeCPU:
		r.backend = newCPURendererBackend(r.workers, r.queueSize)
	case BackendTypeWGPU:
		fallthrough
	default:
		var desc *wgpu.SurfaceDescriptor
		if surface != nil {
			desc = surface.SurfaceDescriptor()
			width, height = surface.Width(), surface.Height()
		}
		b, err := newWGPURendererBackend(desc, r.forceFallbackAdapter, msaa)
		if err != nil {
			return nil, err
		}
		r.backend = b
	}

	if r.pendingPresentMode != nil {
		r.backend.SetPresentMode(*r.pendingPresentMode)
	}

	r.backend.ConfigureSurface(width, height)
	return r, nil
}

func (r *renderer) BackendType() RendererBackendType {
	return r.backendType
}

func (r *renderer) SupportsCompute() bool {
	return r.backend.SupportsCompute()
}

func (r *renderer) Resize(width, height int) {
	r.backend.ConfigureSurface(width, height)
}

func (r *renderer) SetPresentMode(mode PresentMode) {
	r.backend.SetPresentMode(mode)
}

func (r *renderer) Pipeline(key string) pipeline.Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipelineCache[key]
}

func (r *renderer) Pipelines() map[string]pipeline.Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipelineCache
}

func (r *renderer) RegisterPipelines(pipelines ...pipeline.Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range pipelines {
		key := p.PipelineKey()
		if _, exists := r.pipelineCache[key]; exists {
			continue
		}
		switch p.Type() {
		case pipeline.PipelineTypeCompute:
			if err := r.backend.RegisterComputePipeline(p); err != nil {
				return fmt.Errorf("register %q: %w", key, err)
			}
		case pipeline.PipelineTypeRender:
			if err := r.backend.RegisterRenderPipeline(p); err != nil {
				return fmt.Errorf("register %q: %w", key, err)
			}
		}
		r.pipelineCache[key] = p
	}
	return nil
}

func (r *renderer) InitMeshBuffers(provider bind_group_provider.BindGroupProvider, vertexData, indexData []byte, indexCount int) error {
	return r.backend.InitMeshBuffers(provider, vertexData, indexData, indexCount)
}

func (r *renderer) InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, bufferUsageOverrides map[int]wgpu.BufferUsage, bufferSizeOverrides map[int]uint64) error {
	return r.backend.InitBindGroup(provider, descriptor, bufferUsageOverrides, bufferSizeOverrides)
}

func (r *renderer) WriteBuffers(writes []bind_group_provider.BufferWrite) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backend.WriteBuffers(writes)
}

func (r *renderer) ReadBuffer(provider bind_group_provider.BindGroupProvider, binding int) ([]byte, error) {
	return r.backend.ReadBuffer(provider, binding)
}

func (r *renderer) ReadBufferAsync(provider bind_group_provider.BindGroupProvider, binding int, done func([]byte, error)) error {
	return r.backend.ReadBufferAsync(provider, binding, done)
}

func (r *renderer) BeginComputeFrame() error {
	return r.backend.BeginComputeFrame()
}

func (r *renderer) EndComputeFrame() {
	r.backend.EndComputeFrame()
}

func (r *renderer) DispatchCompute(pipelineKey string, computeProvider bind_group_provider.BindGroupProvider, workGroupCount [3]uint32) error {
	r.mu.Lock()
	p, exists := r.pipelineCache[pipelineKey]
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: compute %q", ErrPipelineNotFound, pipelineKey)
	}

	r.backend.DispatchCompute(p, computeProvider, workGroupCount)
	return nil
}

func (r *renderer) BeginFrame() error {
	return r.backend.BeginFrame()
}

func (r *renderer) DrawCall(pipelineKey string, meshProvider bind_group_provider.BindGroupProvider, instanceCount uint32, bindGroups []bind_group_provider.BindGroupProvider) error {
	r.mu.Lock()
	p, exists := r.pipelineCache[pipelineKey]
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: render %q", ErrPipelineNotFound, pipelineKey)
	}

	r.backend.DrawCall(p, meshProvider, instanceCount, bindGroups)
	return nil
}

func (r *renderer) DrawCallIndirect(pipelineKey string, meshProvider bind_group_provider.BindGroupProvider, argsProvider bind_group_provider.BindGroupProvider, argsBinding int, bindGroups []bind_group_provider.BindGroupProvider) error {
	r.mu.Lock()
	p, exists := r.pipelineCache[pipelineKey]
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: render %q", ErrPipelineNotFound, pipelineKey)
	}
	if argsProvider.Buffer(argsBinding) == nil && argsProvider.HostBuffer(argsBinding) == nil {
		return fmt.Errorf("%w: indirect args at %d on %q", ErrBindingNotFound, argsBinding, argsProvider.Label())
	}

	r.backend.DrawCallIndirect(p, meshProvider, argsProvider, argsBinding, bindGroups)
	return nil
}

func (r *renderer) EndFrame() {
	r.backend.EndFrame()
}

func (r *renderer) Present() {
	r.backend.Present()
}

func (r *renderer) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pipelineCache {
		p.Release()
	}
	r.pipelineCache = make(map[string]pipeline.Pipeline)
	r.backend.Release()
}

// PipelineBindGroupLayout returns the layout descriptor a bind group must be created with to bind
// at group on p. Render pipelines merge the vertex and fragment declarations so the visibility
// matches the pipeline layout the backend builds.
//
// Parameters:
//   - p: the pipeline the bind group will be used with
//   - group: the group index
//
// Returns:
//   - wgpu.BindGroupLayoutDescriptor: the descriptor, empty if the group is not declared
func PipelineBindGroupLayout(p pipeline.Pipeline, group int) wgpu.BindGroupLayoutDescriptor {
	if p.Type() == pipeline.PipelineTypeCompute {
		if cs := p.Shader(shader.ShaderTypeCompute); cs != nil {
			return cs.BindGroupLayoutDescriptor(group)
		}
		return wgpu.BindGroupLayoutDescriptor{}
	}
	vs, fs := p.Shader(shader.ShaderTypeVertex), p.Shader(shader.ShaderTypeFragment)
	if vs == nil || fs == nil {
		return wgpu.BindGroupLayoutDescriptor{}
	}
	return mergeBindGroupLayouts(vs.BindGroupLayoutDescriptors(), fs.BindGroupLayoutDescriptors())[group]
}
