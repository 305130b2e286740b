package renderer

import (
	"github.com/Carmen-Shannon/oxy-terrain/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-terrain/engine/renderer/pipeline"
	"github.com/cogentcore/webgpu/wgpu"
)

// RendererBackendType identifies the backend implementation used by the Renderer.
type RendererBackendType int

const (
	// BackendTypeWGPU selects the WebGPU-based rendering backend.
	BackendTypeWGPU RendererBackendType = iota

	// BackendTypeCPU selects the host backend. Compute pipelines run their Kernel on a worker
	// pool over host buffers and draws only report their arguments. Used by tests and by the
	// bake tool on machines without a usable adapter.
	BackendTypeCPU
)

// String returns the config name of the backend type.
func (t RendererBackendType) String() string {
	switch t {
	case BackendTypeCPU:
		return "cpu"
	default:
		return "wgpu"
	}
}

// ParseBackendType maps a config name to a RendererBackendType. Unknown names select WGPU.
func ParseBackendType(name string) RendererBackendType {
	if name == "cpu" {
		return BackendTypeCPU
	}
	return BackendTypeWGPU
}

// PresentMode controls how rendered frames are presented to the display surface.
type PresentMode int

const (
	// PresentModeVSync waits for the next vertical blank before presenting, capping frame rate
	// to the monitor's refresh rate. Eliminates tearing.
	PresentModeVSync PresentMode = iota

	// PresentModeUncapped presents frames immediately without waiting for vertical blank.
	// May cause screen tearing but provides the lowest latency.
	PresentModeUncapped
)

// MSAASampleCount controls the number of samples used for multisample anti-aliasing (MSAA).
// WebGPU guarantees support for 1 (off) and 4; higher values are adapter-dependent.
type MSAASampleCount uint32

const (
	// MSAAOff disables multisample anti-aliasing (sample count 1).
	MSAAOff MSAASampleCount = 1

	// MSAA4x enables 4× multisample anti-aliasing. This is the default.
	MSAA4x MSAASampleCount = 4
)

// RendererBackend is the interface every backend implements. The Renderer resolves pipeline
// keys against its cache and forwards everything else unchanged.
type RendererBackend interface {
	// ConfigureSurface (re)creates the render targets for the given size.
	ConfigureSurface(width, height int)

	// SetPresentMode sets the present mode used by the next ConfigureSurface.
	SetPresentMode(mode PresentMode)

	// SupportsCompute reports whether compute pipelines can be dispatched.
	SupportsCompute() bool

	// RegisterRenderPipeline creates the backend objects for a render pipeline.
	RegisterRenderPipeline(p pipeline.Pipeline) error

	// RegisterComputePipeline creates the backend objects for a compute pipeline.
	RegisterComputePipeline(p pipeline.Pipeline) error

	// InitMeshBuffers uploads vertex and index data and stores the buffers on the provider.
	InitMeshBuffers(provider bind_group_provider.BindGroupProvider, vertexData, indexData []byte, indexCount int) error

	// InitBindGroup creates the missing buffers described by descriptor and builds the bind group.
	// Buffers already present on the provider, including shared ones, are reused.
	InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, bufferUsageOverrides map[int]wgpu.BufferUsage, bufferSizeOverrides map[int]uint64) error

	// WriteBuffers uploads each write to its provider binding.
	WriteBuffers(writes []bind_group_provider.BufferWrite) error

	// ReadBuffer copies the full contents of a provider binding back to the host.
	// Any pending compute frame must have been ended first.
	ReadBuffer(provider bind_group_provider.BindGroupProvider, binding int) ([]byte, error)

	// ReadBufferAsync stages a copy of a provider binding and calls done once it is mapped,
	// without waiting on the device. Pending copies are advanced by Present.
	ReadBufferAsync(provider bind_group_provider.BindGroupProvider, binding int, done func([]byte, error)) error

	// BeginComputeFrame starts batching compute dispatches.
	BeginComputeFrame() error

	// EndComputeFrame submits the batched dispatches.
	EndComputeFrame()

	// DispatchCompute records one dispatch of p over workGroupCount workgroups.
	DispatchCompute(p pipeline.Pipeline, computeProvider bind_group_provider.BindGroupProvider, workGroupCount [3]uint32)

	// BeginFrame acquires the frame target and begins the main render pass.
	BeginFrame() error

	// DrawCall encodes an instanced indexed draw.
	DrawCall(p pipeline.Pipeline, meshProvider bind_group_provider.BindGroupProvider, instanceCount uint32, bindGroups []bind_group_provider.BindGroupProvider)

	// DrawCallIndirect encodes an indexed draw whose arguments live at argsBinding of argsProvider.
	DrawCallIndirect(p pipeline.Pipeline, meshProvider bind_group_provider.BindGroupProvider, argsProvider bind_group_provider.BindGroupProvider, argsBinding int, bindGroups []bind_group_provider.BindGroupProvider)

	// EndFrame ends the render pass and submits it.
	EndFrame()

	// Present shows the frame.
	Present()

	// Release frees the backend's device objects.
	Release()
}
