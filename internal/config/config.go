// Package config handles terrain configuration loading and management.
package config

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/quadtree"
)

// ErrInvalidConfig is returned by Validate for values the terrain cannot run with.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config holds all terrain settings.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Terrain   TerrainConfig   `yaml:"terrain"`
	Selection SelectionConfig `yaml:"selection"`
	Bake      BakeConfig      `yaml:"bake"`
	Window    WindowConfig    `yaml:"window"`
	Renderer  RendererConfig  `yaml:"renderer"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	LogFile    string `yaml:"log_file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TerrainConfig holds the tree layout and where its node store lives.
type TerrainConfig struct {
	Layout       quadtree.Layout `yaml:"layout"`
	HeightScale  float32         `yaml:"height_scale"`  // world units for a normalised height of 1
	HeightOrigin float32         `yaml:"height_origin"` // world y of a normalised height of 0
	StoreDir     string          `yaml:"store_dir"`
	StoreName    string          `yaml:"store_name"`
}

// SelectionConfig holds the per-frame selection settings.
type SelectionConfig struct {
	LODDistances      []float32 `yaml:"lod_distances"`
	CandidateCapacity uint32    `yaml:"candidate_capacity"`
	ResultCapacity    uint32    `yaml:"result_capacity"`
}

// BakeConfig holds offline bake inputs.
type BakeConfig struct {
	Heightmap  string  `yaml:"heightmap"`
	Chunks     string  `yaml:"chunks"`
	MinExtentY float32 `yaml:"min_extent_y"`
}

// WindowConfig holds viewer window settings.
type WindowConfig struct {
	Title  string `yaml:"title"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
}

// RendererConfig selects the compute backend.
type RendererConfig struct {
	Backend       string `yaml:"backend"` // "cpu" or "wgpu"
	Workers       int    `yaml:"workers"`
	QueueSize     int    `yaml:"queue_size"`
	ForceFallback bool   `yaml:"force_fallback"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		Terrain: TerrainConfig{
			Layout:      quadtree.DefaultLayout(),
			HeightScale: 800,
			StoreDir:    "terrain",
			StoreName:   "terrain",
		},
		Selection: SelectionConfig{
			LODDistances:      append([]float32(nil), quadtree.DefaultLODDistances...),
			CandidateCapacity: 1024,
			ResultCapacity:    2048,
		},
		Bake: BakeConfig{
			MinExtentY: 0.5,
		},
		Window: WindowConfig{
			Title:  "oxy-terrain",
			Width:  1280,
			Height: 720,
		},
		Renderer: RendererConfig{
			Backend:   "wgpu",
			QueueSize: 256,
		},
	}
}

// Validate checks the settings the selection pipeline depends on. The LOD table check runs here
// so a bad table never reaches the kernels.
func (c *Config) Validate() error {
	if err := c.Terrain.Layout.Validate(); err != nil {
		return err
	}
	if err := quadtree.ValidateLODDistances(c.Terrain.Layout, c.Selection.LODDistances); err != nil {
		return err
	}
	roots := c.Terrain.Layout.Roots()
	if c.Selection.CandidateCapacity < roots {
		return fmt.Errorf("%w: candidate capacity %d cannot hold the %d roots", ErrInvalidConfig, c.Selection.CandidateCapacity, roots)
	}
	if c.Selection.ResultCapacity == 0 {
		return fmt.Errorf("%w: result capacity must be positive", ErrInvalidConfig)
	}
	if c.Terrain.HeightScale <= 0 {
		return fmt.Errorf("%w: height scale must be positive, got %f", ErrInvalidConfig, c.Terrain.HeightScale)
	}
	switch c.Renderer.Backend {
	case "cpu", "wgpu":
	default:
		return fmt.Errorf("%w: unknown renderer backend %q", ErrInvalidConfig, c.Renderer.Backend)
	}
	return nil
}
