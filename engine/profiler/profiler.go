package profiler

import (
	"errors"
	"runtime"
	"time"

	"github.com/Carmen-Shannon/oxy-terrain/internal/logger"
	"go.uber.org/zap"
)

// ErrPatchCountPending is returned by a PatchCounter whose first readback has not landed yet.
var ErrPatchCountPending = errors.New("profiler: patch count pending")

// PatchCounter reports the terrain instances drawn by a recent selection, per LOD. It runs on
// the render goroutine once per interval and must not wait on the GPU.
type PatchCounter func() (total uint32, perLOD []uint32, saturated bool, err error)

// Snapshot is the set of statistics logged at the end of an interval.
type Snapshot struct {
	FPS         float64
	HeapMB      float64
	AllocRateMB float64
	SysMB       float64
	GCCount     uint32
	LastPauseUs uint64
	MaxPauseUs  uint64

	Patches   uint32
	PerLOD    []uint32
	Saturated bool
}

// Profiler tracks frame rate, memory and terrain patch statistics for performance monitoring.
// Outputs stats to the log at a configurable interval.
type Profiler struct {
	frameCount     int
	lastTime       time.Time
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64

	log     *zap.Logger
	now     func() time.Time
	patches PatchCounter
}

// ProfilerOption is a functional option for configuring a Profiler.
type ProfilerOption func(*Profiler)

// WithInterval sets how often statistics are logged.
func WithInterval(d time.Duration) ProfilerOption {
	return func(p *Profiler) {
		p.updateInterval = d
	}
}

// WithPatchCounter adds terrain patch counts to every report.
func WithPatchCounter(counter PatchCounter) ProfilerOption {
	return func(p *Profiler) {
		p.patches = counter
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ProfilerOption {
	return func(p *Profiler) {
		p.now = now
	}
}

// NewProfiler creates a new Profiler.
// Update interval defaults to 1 second.
//
// Parameters:
//   - options: functional options to configure the profiler
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(options ...ProfilerOption) *Profiler {
	p := &Profiler{
		updateInterval: time.Second,
		log:            logger.Named("profiler"),
		now:            time.Now,
	}
	for _, opt := range options {
		opt(p)
	}
	p.lastTime = p.now()
	return p
}

// Tick should be called once per frame to track frame timing.
// Logs performance statistics when the update interval has elapsed.
// Statistics include: FPS, heap usage, allocation rate, GC count/pause times, total memory
// and, with a PatchCounter, the drawn patch counts.
//
// Returns:
//   - *Snapshot: the logged statistics, nil if the interval has not elapsed
func (p *Profiler) Tick() *Snapshot {
	p.frameCount++
	currentTime := p.now()
	elapsed := currentTime.Sub(p.lastTime)
	if elapsed < p.updateInterval {
		return nil
	}

	s := &Snapshot{FPS: float64(p.frameCount) / elapsed.Seconds()}

	runtime.ReadMemStats(&p.memStats)
	// Alloc: live heap; TotalAlloc: cumulative (tracks churn); Sys: process footprint
	s.HeapMB = float64(p.memStats.Alloc) / 1024 / 1024
	s.SysMB = float64(p.memStats.Sys) / 1024 / 1024
	allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc
	s.AllocRateMB = float64(allocDelta) / 1024 / 1024 / elapsed.Seconds()

	s.GCCount = p.memStats.NumGC
	if s.GCCount > 0 {
		// PauseNs is a circular buffer of last 256 GC pauses
		s.LastPauseUs = p.memStats.PauseNs[(s.GCCount-1)%256] / 1000

		startIdx := p.lastGCCount
		if s.GCCount-startIdx > 256 {
			startIdx = s.GCCount - 256
		}
		for i := startIdx; i < s.GCCount; i++ {
			s.MaxPauseUs = max(s.MaxPauseUs, p.memStats.PauseNs[i%256]/1000)
		}
	}

	fields := []zap.Field{
		zap.Float64("fps", s.FPS),
		zap.Float64("heap_mb", s.HeapMB),
		zap.Float64("alloc_rate_mb_s", s.AllocRateMB),
		zap.Uint32("gc", s.GCCount),
		zap.Uint64("gc_last_us", s.LastPauseUs),
		zap.Uint64("gc_max_us", s.MaxPauseUs),
		zap.Float64("sys_mb", s.SysMB),
	}
	if p.patches != nil {
		total, perLOD, saturated, err := p.patches()
		switch {
		case errors.Is(err, ErrPatchCountPending):
			p.log.Debug("patch count pending")
		case err != nil:
			p.log.Warn("patch count unavailable", zap.Error(err))
		default:
			s.Patches, s.PerLOD, s.Saturated = total, perLOD, saturated
			fields = append(fields,
				zap.Uint32("patches", total),
				zap.Uint32s("patches_per_lod", perLOD),
				zap.Bool("saturated", saturated),
			)
		}
	}
	p.log.Info("frame stats", fields...)

	p.frameCount = 0
	p.lastTime = currentTime
	p.lastGCCount = s.GCCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	return s
}
