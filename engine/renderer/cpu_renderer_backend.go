package renderer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-terrain/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-terrain/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-terrain/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-terrain/internal/logger"
	"github.com/cogentcore/webgpu/wgpu"
	"go.uber.org/zap"
)

// minInvocationsPerTask keeps tiny dispatches from being split into more tasks than they are worth.
const minInvocationsPerTask = 64

// drawRecord is what the host backend keeps of each draw in the current frame.
type drawRecord struct {
	pipelineKey   string
	indexCount    uint32
	instanceCount uint32
	firstIndex    uint32
	bindGroups    int
}

// cpuRendererBackendImpl runs compute pipelines through their host Kernel. A dispatch is split into
// contiguous invocation ranges handed to a worker pool, and a WaitGroup barrier ends every dispatch
// so the next one sees its writes, the same ordering a single compute submission gives on a GPU.
type cpuRendererBackendImpl struct {
	mu      *sync.Mutex
	pool    worker.DynamicWorkerPool
	workers int
	log     *zap.Logger

	inComputeFrame bool
	inFrame        bool
	taskID         int

	width, height int

	draws     []drawRecord
	lastDraws []drawRecord
}

var _ RendererBackend = &cpuRendererBackendImpl{}

func newCPURendererBackend(workers, queueSize int) *cpuRendererBackendImpl {
	return &cpuRendererBackendImpl{
		mu:      &sync.Mutex{},
		pool:    worker.NewDynamicWorkerPool(workers, queueSize, 1*time.Second),
		workers: workers,
		log:     logger.Named("renderer.cpu"),
	}
}

func (b *cpuRendererBackendImpl) ConfigureSurface(width, height int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.width, b.height = width, height
}

func (b *cpuRendererBackendImpl) SetPresentMode(PresentMode) {}

func (b *cpuRendererBackendImpl) SupportsCompute() bool {
	return true
}

func (b *cpuRendererBackendImpl) RegisterRenderPipeline(p pipeline.Pipeline) error {
	if p.Shader(shader.ShaderTypeVertex) == nil || p.Shader(shader.ShaderTypeFragment) == nil {
		return errors.New("both vertex and fragment shaders must be set to create a render pipeline")
	}
	return nil
}

func (b *cpuRendererBackendImpl) RegisterComputePipeline(p pipeline.Pipeline) error {
	if p.Shader(shader.ShaderTypeCompute) == nil {
		return errors.New("compute shader must be set to create a compute pipeline")
	}
	if p.Kernel() == nil {
		return fmt.Errorf("compute pipeline %q has no host kernel", p.PipelineKey())
	}
	return nil
}

func (b *cpuRendererBackendImpl) InitMeshBuffers(provider bind_group_provider.BindGroupProvider, vertexData, indexData []byte, indexCount int) error {
	if len(indexData) < indexCount*4 {
		return fmt.Errorf("index data holds %d bytes, need %d for %d indices", len(indexData), indexCount*4, indexCount)
	}
	provider.SetIndexCount(indexCount)
	return nil
}

func (b *cpuRendererBackendImpl) InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, _ map[int]wgpu.BufferUsage, bufferSizeOverrides map[int]uint64) error {
	for _, entry := range descriptor.Entries {
		binding := int(entry.Binding)
		if provider.HostBuffer(binding) != nil {
			continue
		}
		size := entry.Buffer.MinBindingSize
		if overrideSize, ok := bufferSizeOverrides[binding]; ok {
			size = overrideSize
		}
		if size == 0 {
			return fmt.Errorf("binding %d of %q has no size", binding, provider.Label())
		}
		provider.SetHostBuffer(binding, bind_group_provider.NewHostBuffer(size))
	}
	return nil
}

func (b *cpuRendererBackendImpl) WriteBuffers(writes []bind_group_provider.BufferWrite) error {
	for _, w := range writes {
		buf := w.Provider.HostBuffer(w.Binding)
		if buf == nil {
			continue
		}
		if err := buf.Write(w.Offset, w.Data); err != nil {
			return fmt.Errorf("write %q binding %d: %w", w.Provider.Label(), w.Binding, err)
		}
	}
	return nil
}

func (b *cpuRendererBackendImpl) ReadBuffer(provider bind_group_provider.BindGroupProvider, binding int) ([]byte, error) {
	buf := provider.HostBuffer(binding)
	if buf == nil {
		return nil, fmt.Errorf("%w: %q binding %d", ErrBindingNotFound, provider.Label(), binding)
	}
	return buf.Bytes(), nil
}

// ReadBufferAsync completes immediately: host buffers are current as soon as a dispatch returns.
func (b *cpuRendererBackendImpl) ReadBufferAsync(provider bind_group_provider.BindGroupProvider, binding int, done func([]byte, error)) error {
	data, err := b.ReadBuffer(provider, binding)
	if err != nil {
		return err
	}
	done(data, nil)
	return nil
}

func (b *cpuRendererBackendImpl) BeginComputeFrame() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inComputeFrame = true
	return nil
}

func (b *cpuRendererBackendImpl) EndComputeFrame() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inComputeFrame = false
}

func (b *cpuRendererBackendImpl) DispatchCompute(p pipeline.Pipeline, computeProvider bind_group_provider.BindGroupProvider, workGroupCount [3]uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.inComputeFrame {
		b.log.Warn("dispatch outside a compute frame dropped", zap.String("pipeline", p.PipelineKey()))
		return
	}

	wg := p.Shader(shader.ShaderTypeCompute).WorkgroupSize()
	grid := [3]uint32{
		workGroupCount[0] * max(wg[0], 1),
		workGroupCount[1] * max(wg[1], 1),
		workGroupCount[2] * max(wg[2], 1),
	}
	total := grid[0] * grid[1] * grid[2]
	if total == 0 {
		return
	}

	kernel := p.Kernel()
	chunk := max((total+uint32(b.workers)-1)/uint32(b.workers), minInvocationsPerTask)
	if chunk >= total {
		kernel(computeProvider, grid, 0, total)
		return
	}

	// Workers are reused across dispatches; the WaitGroup is the per-dispatch barrier since
	// pool.Wait() only returns once workers idle-exit.
	var barrier sync.WaitGroup
	for first := uint32(0); first < total; first += chunk {
		count := min(chunk, total-first)
		barrier.Add(1)
		id := b.taskID
		b.taskID++
		start := first
		b.pool.SubmitTask(worker.Task{
			ID: id,
			Do: func() (any, error) {
				defer barrier.Done()
				kernel(computeProvider, grid, start, count)
				return nil, nil
			},
		})
	}
	barrier.Wait()
}

func (b *cpuRendererBackendImpl) BeginFrame() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inFrame {
		return errors.New("previous frame not yet ended")
	}
	b.inFrame = true
	b.draws = b.draws[:0]
	return nil
}

func (b *cpuRendererBackendImpl) DrawCall(p pipeline.Pipeline, meshProvider bind_group_provider.BindGroupProvider, instanceCount uint32, bindGroups []bind_group_provider.BindGroupProvider) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(drawRecord{
		pipelineKey:   p.PipelineKey(),
		indexCount:    uint32(meshProvider.IndexCount()),
		instanceCount: instanceCount,
		bindGroups:    len(bindGroups),
	})
}

func (b *cpuRendererBackendImpl) DrawCallIndirect(p pipeline.Pipeline, _ bind_group_provider.BindGroupProvider, argsProvider bind_group_provider.BindGroupProvider, argsBinding int, bindGroups []bind_group_provider.BindGroupProvider) {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf := argsProvider.HostBuffer(argsBinding)
	if buf == nil || len(buf.Words()) < 5 {
		b.log.Warn("indirect draw without arguments", zap.String("pipeline", p.PipelineKey()))
		return
	}
	// DrawIndexedIndirect: index_count, instance_count, first_index, base_vertex, first_instance
	args := buf.Words()
	b.record(drawRecord{
		pipelineKey:   p.PipelineKey(),
		indexCount:    args[0],
		instanceCount: args[1],
		firstIndex:    args[2],
		bindGroups:    len(bindGroups),
	})
}

func (b *cpuRendererBackendImpl) record(d drawRecord) {
	if !b.inFrame {
		b.log.Warn("draw outside a frame dropped", zap.String("pipeline", d.pipelineKey))
		return
	}
	b.draws = append(b.draws, d)
	b.log.Debug("draw",
		zap.String("pipeline", d.pipelineKey),
		zap.Uint32("indices", d.indexCount),
		zap.Uint32("instances", d.instanceCount),
	)
}

func (b *cpuRendererBackendImpl) EndFrame() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inFrame = false
	b.lastDraws = append(b.lastDraws[:0], b.draws...)
}

func (b *cpuRendererBackendImpl) Present() {}

func (b *cpuRendererBackendImpl) Release() {}
