// Command terrainview flies a camera over a baked terrain.
//
// Controls: WASD move, E/Q rise and sink, shift sprints, right or middle drag looks around,
// scroll changes speed, F freezes selection, T toggles the LOD tint and space logs the
// selection stats.
package main

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/Carmen-Shannon/oxy-terrain/common"
	"github.com/Carmen-Shannon/oxy-terrain/engine"
	"github.com/Carmen-Shannon/oxy-terrain/engine/camera"
	"github.com/Carmen-Shannon/oxy-terrain/engine/renderer"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/heightmap"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/nodestore"
	"github.com/Carmen-Shannon/oxy-terrain/engine/window"
	"github.com/Carmen-Shannon/oxy-terrain/internal/config"
	"github.com/Carmen-Shannon/oxy-terrain/internal/logger"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "terrainview: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := config.NewFlags("terrainview")
	heightmapPath := flags.FlagSet.String("heightmap", "", "Heightmap the store was baked from")
	layer := flags.FlagSet.Int("layer", 0, "Splat layer covering the terrain (0-3)")
	tint := flags.FlagSet.Float64("tint", 0.35, "LOD debug tint strength (0-1)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(flags)
	if err != nil {
		return err
	}
	if *heightmapPath != "" {
		cfg.Bake.Heightmap = *heightmapPath
	}

	if err := logger.InitWithFileConfig(cfg.Logging.Level, logger.FileConfig{
		Path:       cfg.Logging.LogFile,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   true,
	}, true); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	store, manifest, err := nodestore.Load(cfg.Terrain.StoreDir, cfg.Terrain.StoreName)
	if err != nil {
		return err
	}
	if cfg.Bake.Heightmap == "" {
		return errors.New("no heightmap: pass -heightmap or set bake.heightmap in the config")
	}
	hm, err := heightmap.Load(cfg.Bake.Heightmap)
	if err != nil {
		return err
	}
	if manifest.HeightmapSide != 0 && manifest.HeightmapSide != hm.Side {
		logger.Warn("heightmap differs from the one baked",
			zap.Uint32("baked_side", manifest.HeightmapSide),
			zap.Uint32("side", hm.Side),
		)
	}

	// ── Engine + Window ─────────────────────────────────────────────────
	win := window.NewWindow(
		window.WithTitle(cfg.Window.Title),
		window.WithSize(cfg.Window.Width, cfg.Window.Height),
	)
	defer win.Close()

	// ── Renderer ────────────────────────────────────────────────────────
	r, err := renderer.NewRenderer(renderer.BackendTypeWGPU, win,
		renderer.WithPresentMode(renderer.PresentModeVSync),
		renderer.WithForceSoftwareRenderer(cfg.Renderer.ForceFallback),
	)
	if err != nil {
		return fmt.Errorf("failed to create renderer: %w", err)
	}
	defer r.Release()

	// ── Camera ──────────────────────────────────────────────────────────
	layout := store.Layout
	world := layout.WorldSize()
	centre := mgl32.Vec3{layout.Origin[0] + world/2, 0, layout.Origin[1] + world/2}
	ctrl := camera.NewCameraController(
		camera.WithPosition(mgl32.Vec3{layout.Origin[0], manifest.HeightScale*0.75 + manifest.HeightOrigin, layout.Origin[1]}),
		camera.WithLookAt(centre),
		camera.WithSpeed(layout.NodeSize(0)*8),
		camera.WithSpeedBounds(layout.NodeSize(0), world),
	)
	cam := camera.NewCamera(
		camera.WithFov(float32(60.0*math.Pi/180.0)),
		camera.WithNear(0.5),
		camera.WithFar(world*1.5),
		camera.WithController(ctrl),
	)

	// ── Terrain ─────────────────────────────────────────────────────────
	height, err := terrain.NewHeightClipmap(r, layout, hm)
	if err != nil {
		return err
	}
	defer height.Release()
	splat, err := terrain.NewUniformSplatClipmap(r, layout, *layer)
	if err != nil {
		return err
	}
	defer splat.Release()

	ter, err := terrain.NewTerrain(r, store, cam,
		terrain.WithHeightClipmap(height),
		terrain.WithSplatClipmap(splat),
		terrain.WithLODDistances(cfg.Selection.LODDistances),
		terrain.WithCandidateCapacity(cfg.Selection.CandidateCapacity),
		terrain.WithResultCapacity(cfg.Selection.ResultCapacity),
		terrain.WithHeightScale(common.Coalesce(manifest.HeightScale, cfg.Terrain.HeightScale)),
		terrain.WithHeightOrigin(common.Coalesce(manifest.HeightOrigin, cfg.Terrain.HeightOrigin)),
		terrain.WithTintStrength(float32(*tint)),
	)
	if err != nil {
		return err
	}
	defer ter.Release()

	eng := engine.NewEngine(
		engine.WithProfiling(true),
		engine.WithTickRate(120),
		engine.WithWindow(win),
		engine.WithRenderer(r),
		engine.WithCamera(cam),
		engine.WithTerrain(ter),
		engine.WithTitle(cfg.Window.Title),
	)

	// ── Input Handling ──────────────────────────────────────────────────
	setupInput(eng, ctrl, float32(*tint))

	logger.Info("starting terrain viewer",
		zap.String("store", cfg.Terrain.StoreName),
		zap.Int("levels", layout.Levels()),
		zap.Float32("world_size", world),
	)
	eng.Run()
	return nil
}

// setupInput wires fly controls to the window and the viewer toggles to key presses.
//
// Parameters:
//   - eng: the engine instance providing window callbacks and tick
//   - ctrl: the controller the camera follows
//   - tint: the tint strength T toggles back to
func setupInput(eng engine.Engine, ctrl camera.CameraController, tint float32) {
	in := camera.NewFlyInput()
	w := eng.Window()

	w.SetKeyDownCallback(func(keyCode uint32) {
		in.KeyDown(keyCode)
		switch keyCode {
		case common.KeyF:
			if eng.View() == terrain.ViewGame {
				eng.SetView(terrain.ViewScene)
			} else {
				eng.SetView(terrain.ViewGame)
			}
		case common.KeyT:
			if t := eng.Terrain(); t != nil {
				if t.TintStrength() > 0 {
					t.SetTintStrength(0)
				} else {
					t.SetTintStrength(max(tint, 0.35))
				}
			}
		case common.KeySpace:
			logSelection(eng)
		}
	})
	w.SetKeyUpCallback(in.KeyUp)
	w.SetDragCallbacks(in.BeginDrag, in.EndDrag)
	w.SetMouseMoveCallback(in.MouseMove)
	w.SetScrollCallback(in.Scroll)

	eng.SetTickCallback(func(dt float32) {
		in.Apply(ctrl, dt)
	})
}

// logSelection reads back and logs the last selection.
func logSelection(eng engine.Engine) {
	t := eng.Terrain()
	if t == nil {
		return
	}
	// The render goroutine presents the copy; log whichever readback landed last.
	if err := t.RequestStats(); err != nil {
		logger.Warn("selection readback failed", zap.Error(err))
		return
	}
	s, err := t.LatestStats()
	if err != nil {
		logger.Info("selection readback pending")
		return
	}
	pos := eng.Camera().Position()
	logger.Info("selection",
		zap.Uint64("frame", eng.Frame()),
		zap.Stringer("view", eng.View()),
		zap.Float32s("camera", pos[:]),
		zap.Uint32("instances", s.Draw.InstanceCount),
		zap.Uint32s("per_lod", s.PerLOD),
		zap.Bool("saturated", s.Saturated),
	)
}
