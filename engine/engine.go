package engine

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/oxy-terrain/engine/camera"
	"github.com/Carmen-Shannon/oxy-terrain/engine/profiler"
	"github.com/Carmen-Shannon/oxy-terrain/engine/renderer"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain"
	"github.com/Carmen-Shannon/oxy-terrain/engine/window"
	"github.com/Carmen-Shannon/oxy-terrain/internal/logger"
	"go.uber.org/zap"
)

// ErrNoRenderer is returned by RenderFrame when the engine was built without a renderer.
var ErrNoRenderer = errors.New("engine: no renderer")

// engine implements the Engine interface.
// Coordinates engine, render, and window threads.
type engine struct {
	tickRateChannel chan time.Duration // Channel for dynamic tick rate updates

	running bool
	wg      sync.WaitGroup

	quitChannel chan struct{}
	quitOnce    sync.Once // Ensures quitChannel is only closed once

	window   window.Window
	renderer renderer.Renderer
	camera   camera.Camera

	mu      sync.Mutex
	terrain *terrain.Terrain
	view    terrain.ViewKind
	frame   atomic.Uint64

	profiler         *profiler.Profiler
	profilingEnabled bool

	engineTickRate time.Duration
	tickCallback   func(deltaTime float32)
	renderCallback func(deltaTime float32)

	renderFrameLimit time.Duration // minimum frame duration; 0 = uncapped

	baseTitle string
	log       *zap.Logger
}

// Engine is the main entry point for the terrain viewer.
// It orchestrates the tick loop, the render loop and window management. Each render frame
// updates the camera, renders the terrain for the current view and presents.
type Engine interface {
	// Window returns the underlying window.
	//
	// Returns:
	//   - window.Window: the window instance, nil when headless
	Window() window.Window

	// Renderer returns the renderer frames are recorded on.
	Renderer() renderer.Renderer

	// Camera returns the camera updated at the start of every frame.
	Camera() camera.Camera

	// SetTerrain sets the terrain drawn each frame. Passing nil draws nothing.
	//
	// Parameters:
	//   - t: the terrain
	SetTerrain(t *terrain.Terrain)

	// Terrain returns the terrain drawn each frame, or nil.
	Terrain() *terrain.Terrain

	// SetView selects the view frames are rendered for. Only the game view re-runs selection,
	// so switching to the scene view freezes the selected patches.
	//
	// Parameters:
	//   - view: the view kind
	SetView(view terrain.ViewKind)

	// View returns the current view kind.
	View() terrain.ViewKind

	// Frame returns the number of frames rendered so far.
	Frame() uint64

	// RenderFrame runs one frame synchronously: camera update, terrain render and present.
	// The render loop calls it; headless tools and tests call it directly.
	//
	// Returns:
	//   - error: ErrNoRenderer or a terrain/renderer error
	RenderFrame() error

	// EnableProfiler enables performance profiling output to the log.
	EnableProfiler()

	// DisableProfiler disables performance profiling output.
	DisableProfiler()

	// SetTickRate sets the engine tick rate in frames per second.
	// The tick callback will be called at this rate for input and camera movement.
	//
	// Parameters:
	//   - fps: target frames per second (defaults to 60 if <= 0)
	SetTickRate(fps float64)

	// SetTickCallback registers the function called each engine tick.
	//
	// Parameters:
	//   - callback: function to call at the configured tick rate, receiving the delta time in seconds
	SetTickCallback(callback func(deltaTime float32))

	// SetRenderCallback registers the function called after each render frame.
	//
	// Parameters:
	//   - callback: function to call each render frame, receiving the delta time in seconds
	SetRenderCallback(callback func(deltaTime float32))

	// SetRenderFrameLimit sets an optional render frame rate cap in frames per second.
	// Pass 0 to uncap the render loop (default).
	//
	// Parameters:
	//   - fps: maximum render frames per second (0 = uncapped)
	SetRenderFrameLimit(fps float64)

	// Run starts the main engine loop (blocks until window closes). It requires a window; use
	// RenderFrame to drive a headless engine.
	Run()

	// Quit signals all engine goroutines to stop and shuts down the engine.
	// Safe to call multiple times; subsequent calls are no-ops.
	Quit()
}

// NewEngine creates a new Engine instance with the provided options.
// Options are applied directly to the engine struct via the option-builder pattern.
//
// Parameters:
//   - options: functional options for engine configuration (window, renderer, camera, profiling, ...)
//
// Returns:
//   - Engine: the newly created engine
func NewEngine(options ...EngineBuilderOption) Engine {
	e := &engine{
		tickRateChannel:  make(chan time.Duration, 1),
		quitChannel:      make(chan struct{}),
		running:          false,
		wg:               sync.WaitGroup{},
		profilingEnabled: false,
		engineTickRate:   time.Second / 60,
		view:             terrain.ViewGame,
		baseTitle:        "oxy-terrain",
		log:              logger.Named("engine"),
	}

	for _, opt := range options {
		opt(e)
	}

	if e.camera == nil {
		e.camera = camera.NewCamera(camera.WithController(camera.NewCameraController()))
	}
	if e.profiler == nil {
		e.profiler = profiler.NewProfiler(profiler.WithPatchCounter(e.patchCount))
	}

	if e.window != nil {
		if h := e.window.Height(); h > 0 {
			e.camera.SetAspect(float32(e.window.Width()) / float32(h))
		}
		e.window.SetResizeCallback(func(width, height int) {
			if width <= 0 || height <= 0 {
				return
			}
			if e.renderer != nil {
				e.renderer.Resize(width, height)
			}
			e.camera.SetAspect(float32(width) / float32(height))
		})
	}

	return e
}

func (e *engine) Window() window.Window {
	return e.window
}

func (e *engine) Renderer() renderer.Renderer {
	return e.renderer
}

func (e *engine) Camera() camera.Camera {
	return e.camera
}

func (e *engine) SetTerrain(t *terrain.Terrain) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.terrain = t
}

func (e *engine) Terrain() *terrain.Terrain {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terrain
}

func (e *engine) SetView(view terrain.ViewKind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.view != view {
		e.log.Debug("view changed", zap.Stringer("from", e.view), zap.Stringer("to", view))
	}
	e.view = view
}

func (e *engine) View() terrain.ViewKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view
}

func (e *engine) Frame() uint64 {
	return e.frame.Load()
}

func (e *engine) RenderFrame() error {
	if e.renderer == nil {
		return ErrNoRenderer
	}
	e.mu.Lock()
	t, view := e.terrain, e.view
	e.mu.Unlock()

	frame := e.frame.Add(1)
	e.camera.Update()
	if t != nil {
		if err := t.Render(view, frame); err != nil {
			return err
		}
	}
	e.renderer.Present()
	return nil
}

// patchCount feeds the profiler without stalling the render goroutine: it reports the last
// completed readback and queues the next one.
func (e *engine) patchCount() (uint32, []uint32, bool, error) {
	t := e.Terrain()
	if t == nil {
		return 0, nil, false, nil
	}
	if err := t.RequestStats(); err != nil {
		return 0, nil, false, err
	}
	s, err := t.LatestStats()
	if errors.Is(err, terrain.ErrStatsPending) {
		return 0, nil, false, profiler.ErrPatchCountPending
	}
	if err != nil {
		return 0, nil, false, err
	}
	return s.Draw.InstanceCount, s.PerLOD, s.Saturated, nil
}

func (e *engine) Run() {
	if e.window == nil {
		e.log.Error("engine has no window to run")
		return
	}
	e.running = true
	e.handle()
	e.window.ProcessMessages()
	e.signalQuit()
	e.wg.Wait()
}

// Quit signals all engine goroutines to stop and shuts down the engine.
// Safe to call multiple times; subsequent calls are no-ops due to sync.Once.
func (e *engine) Quit() {
	e.signalQuit()
	if e.window != nil {
		_ = e.window.Close()
	}
}

// signalQuit closes the quit channel to signal all goroutines to exit.
// Uses sync.Once to ensure the channel is only closed once.
func (e *engine) signalQuit() {
	e.quitOnce.Do(func() {
		e.running = false
		close(e.quitChannel)
	})
}

// handle launches the engine and render goroutines.
// Each goroutine is tracked by the engine's WaitGroup.
func (e *engine) handle() {
	e.wg.Add(2)
	go e.handleEngine()
	go e.handleRender()
}

// handleEngine runs the fixed-rate engine tick loop in its own goroutine.
// Fires the tick callback at the configured tick rate and listens for dynamic rate changes
// via tickRateChannel. Exits when the quit channel is closed.
func (e *engine) handleEngine() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.engineTickRate)
	defer ticker.Stop()

	lastTick := time.Now()

	for {
		select {
		case <-e.quitChannel:
			return
		case <-ticker.C:
			now := time.Now()
			dt := float32(now.Sub(lastTick).Seconds())
			lastTick = now

			if e.tickCallback != nil {
				e.tickCallback(dt)
			}
		case newRate := <-e.tickRateChannel:
			ticker.Reset(newRate)
			e.engineTickRate = newRate
		}
	}
}

// handleRender runs the uncapped (or frame-limited) render loop in its own goroutine.
// A frame error or a panic stops the engine.
func (e *engine) handleRender() {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("render goroutine recovered from panic", zap.Any("panic", r))
			e.signalQuit()
		}
	}()

	lastRender := time.Now()

	for {
		select {
		case <-e.quitChannel:
			return
		default:
			now := time.Now()
			dt := float32(now.Sub(lastRender).Seconds())
			lastRender = now

			if err := e.RenderFrame(); err != nil {
				e.log.Error("frame failed", zap.Uint64("frame", e.Frame()), zap.Error(err))
				e.signalQuit()
				return
			}

			if e.renderCallback != nil {
				e.renderCallback(dt)
			}

			if e.profilingEnabled && e.profiler != nil {
				if s := e.profiler.Tick(); s != nil && e.window != nil {
					e.window.SetTitle(hudTitle(e.baseTitle, s, e.View()))
				}
			}

			// Frame rate limiting
			if e.renderFrameLimit > 0 {
				elapsed := time.Since(lastRender)
				if remaining := e.renderFrameLimit - elapsed; remaining > 0 {
					time.Sleep(remaining)
				}
			}
		}
	}
}

// EnableProfiler enables performance profiling output to the log.
func (e *engine) EnableProfiler() {
	e.profilingEnabled = true
}

// DisableProfiler disables performance profiling output.
func (e *engine) DisableProfiler() {
	e.profilingEnabled = false
}

// SetTickRate sets the engine tick rate in frames per second.
// If the engine is running, the change takes effect immediately.
func (e *engine) SetTickRate(fps float64) {
	if fps <= 0 {
		fps = 60
	}
	newRate := time.Duration(float64(time.Second) / fps)

	if e.running {
		// Non-blocking send - if channel is full, replace the pending value
		select {
		case e.tickRateChannel <- newRate:
		default:
			select {
			case <-e.tickRateChannel:
			default:
			}
			e.tickRateChannel <- newRate
		}
	} else {
		e.engineTickRate = newRate
	}
}

// SetTickCallback registers the function called each engine tick.
func (e *engine) SetTickCallback(callback func(deltaTime float32)) {
	e.tickCallback = callback
}

// SetRenderCallback registers the function called each render frame.
func (e *engine) SetRenderCallback(callback func(deltaTime float32)) {
	e.renderCallback = callback
}

// SetRenderFrameLimit sets an optional render frame rate cap.
// Pass 0 to uncap the render loop.
func (e *engine) SetRenderFrameLimit(fps float64) {
	if fps <= 0 {
		e.renderFrameLimit = 0
		return
	}
	e.renderFrameLimit = time.Duration(float64(time.Second) / fps)
}
