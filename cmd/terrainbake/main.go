// Command terrainbake bakes a heightmap into a terrain node store.
//
// Usage:
//
//	terrainbake -heightmap world.png -out terrain -name island
//	terrainbake -chunks chunks.yaml -backend cpu -height-scale 600
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/Carmen-Shannon/oxy-terrain/engine/renderer"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/bake"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/heightmap"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/nodestore"
	"github.com/Carmen-Shannon/oxy-terrain/internal/config"
	"github.com/Carmen-Shannon/oxy-terrain/internal/logger"
	"go.uber.org/zap"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "terrainbake: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := config.NewFlags("terrainbake")
	heightmapPath := flags.FlagSet.String("heightmap", "", "Heightmap file (png, tiff or r16)")
	chunksPath := flags.FlagSet.String("chunks", "", "YAML chunk list to assemble instead of a single heightmap")
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
	if *chunksPath != "" {
		cfg.Bake.Chunks = *chunksPath
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

	hm, err := loadSource(cfg.Bake)
	if err != nil {
		return err
	}

	r, err := renderer.NewRenderer(renderer.ParseBackendType(cfg.Renderer.Backend), nil,
		renderer.WithWorkers(cfg.Renderer.Workers),
		renderer.WithQueueSize(cfg.Renderer.QueueSize),
		renderer.WithForceSoftwareRenderer(cfg.Renderer.ForceFallback),
	)
	if err != nil {
		return fmt.Errorf("failed to create renderer: %w", err)
	}
	defer r.Release()

	opts := bake.Options{
		HeightScale:  cfg.Terrain.HeightScale,
		HeightOrigin: cfg.Terrain.HeightOrigin,
		MinExtentY:   cfg.Bake.MinExtentY,
	}
	baker, err := bake.NewBaker(r, cfg.Terrain.Layout, opts)
	if err != nil {
		return err
	}
	result, err := baker.Bake(hm)
	if err != nil {
		return err
	}

	m, err := nodestore.Save(cfg.Terrain.StoreDir, cfg.Terrain.StoreName, result.Store, nodestore.BakeInfo{
		HeightmapSide: hm.Side,
		HeightScale:   opts.HeightScale,
		HeightOrigin:  opts.HeightOrigin,
	})
	if err != nil {
		return err
	}

	lo, hi := hm.Range()
	logger.Info("bake summary",
		zap.String("backend", r.BackendType().String()),
		zap.String("store", cfg.Terrain.StoreDir),
		zap.String("name", cfg.Terrain.StoreName),
		zap.Uint32("heightmap_side", hm.Side),
		zap.Float32("height_min", lo),
		zap.Float32("height_max", hi),
		zap.Int("levels", m.Layout.Levels()),
		zap.Uint32("nodes", m.Nodes),
		zap.Float32("world_size", m.Layout.WorldSize()),
	)
	return nil
}

// loadSource reads the single heightmap or stitches the chunk list named in the bake config.
func loadSource(cfg config.BakeConfig) (*heightmap.Heightmap, error) {
	switch {
	case cfg.Chunks != "":
		chunks, err := bake.LoadChunkList(cfg.Chunks)
		if err != nil {
			return nil, err
		}
		asm, err := bake.AssembleChunks(chunks)
		if err != nil {
			return nil, err
		}
		logger.Info("chunks assembled",
			zap.Int("grid", asm.Grid),
			zap.Uint32("side", asm.Heightmap.Side),
			zap.Strings("layers", asm.Layers),
		)
		return asm.Heightmap, nil
	case cfg.Heightmap != "":
		return heightmap.Load(cfg.Heightmap)
	default:
		return nil, errors.New("no heightmap: pass -heightmap or -chunks, or set bake.heightmap in the config")
	}
}
