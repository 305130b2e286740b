package bake

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"

	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/heightmap"
	"gopkg.in/yaml.v3"
)

var (
	// ErrMismatchedResolution is returned when chunks disagree on heightmap or alphamap resolution.
	ErrMismatchedResolution = errors.New("bake: chunk resolutions differ")

	// ErrMissingLayer is returned when a chunk lacks a splat layer that another chunk carries.
	ErrMissingLayer = errors.New("bake: chunk is missing a splat layer")

	// ErrIncompleteGrid is returned when the chunks do not form a square grid.
	ErrIncompleteGrid = errors.New("bake: chunks do not form a square grid")
)

// Chunk is one tile of a terrain authored as a grid of tiles. Neighbouring chunk heightmaps
// share their border row and column, so a chunk of resolution N contributes N-1 samples per side.
type Chunk struct {
	X, Z               float32
	Heightmap          *heightmap.Heightmap
	AlphamapResolution uint32
	Layers             []string
}

// Assembly is the result of stitching a chunk grid.
type Assembly struct {
	Heightmap          *heightmap.Heightmap
	Grid               int
	AlphamapResolution uint32
	Layers             []string
}

// chunkEntry is the YAML form of one chunk in a chunk list file.
type chunkEntry struct {
	X                  float32  `yaml:"x"`
	Z                  float32  `yaml:"z"`
	Heightmap          string   `yaml:"heightmap"`
	AlphamapResolution uint32   `yaml:"alphamap_resolution"`
	Layers             []string `yaml:"layers"`
}

type chunkList struct {
	Chunks []chunkEntry `yaml:"chunks"`
}

// LoadChunkList reads a YAML chunk list and loads every referenced heightmap. Heightmap paths
// are resolved relative to the list file.
//
// Parameters:
//   - path: the chunk list file
//
// Returns:
//   - []Chunk: the chunks in file order
//   - error: a read, parse, or heightmap load error
func LoadChunkList(path string) ([]Chunk, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bake: failed to read chunk list: %w", err)
	}
	var list chunkList
	if err := yaml.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("bake: failed to parse chunk list: %w", err)
	}

	dir := filepath.Dir(path)
	chunks := make([]Chunk, 0, len(list.Chunks))
	for _, e := range list.Chunks {
		hmPath := e.Heightmap
		if !filepath.IsAbs(hmPath) {
			hmPath = filepath.Join(dir, hmPath)
		}
		hm, err := heightmap.Load(hmPath)
		if err != nil {
			return nil, fmt.Errorf("bake: chunk (%g, %g): %w", e.X, e.Z, err)
		}
		chunks = append(chunks, Chunk{
			X:                  e.X,
			Z:                  e.Z,
			Heightmap:          hm,
			AlphamapResolution: e.AlphamapResolution,
			Layers:             e.Layers,
		})
	}
	return chunks, nil
}

// AssembleChunks validates a chunk grid and stitches the chunk heightmaps into one. Chunks are
// ordered by z then x, so chunk i lands at grid cell (i % grid, i / grid).
//
// Parameters:
//   - chunks: the chunks in any order
//
// Returns:
//   - *Assembly: the stitched heightmap, grid size, and the union of splat layers
//   - error: ErrIncompleteGrid, ErrMismatchedResolution, or ErrMissingLayer
func AssembleChunks(chunks []Chunk) (*Assembly, error) {
	grid := int(math.Sqrt(float64(len(chunks))))
	if len(chunks) == 0 || grid*grid != len(chunks) {
		return nil, fmt.Errorf("%w: %d chunks", ErrIncompleteGrid, len(chunks))
	}

	sorted := slices.Clone(chunks)
	slices.SortStableFunc(sorted, func(a, b Chunk) int {
		if c := cmp.Compare(a.Z, b.Z); c != 0 {
			return c
		}
		return cmp.Compare(a.X, b.X)
	})

	first := sorted[0]
	if first.Heightmap == nil || first.Heightmap.Side < 2 {
		return nil, fmt.Errorf("%w: chunk (%g, %g) has no usable heightmap", ErrMismatchedResolution, first.X, first.Z)
	}

	var layers []string
	for _, c := range sorted {
		if c.Heightmap == nil || c.Heightmap.Side != first.Heightmap.Side {
			return nil, fmt.Errorf("%w: chunk (%g, %g) heightmap differs from %d", ErrMismatchedResolution, c.X, c.Z, first.Heightmap.Side)
		}
		if c.AlphamapResolution != first.AlphamapResolution {
			return nil, fmt.Errorf("%w: chunk (%g, %g) alphamap %d, expected %d", ErrMismatchedResolution, c.X, c.Z, c.AlphamapResolution, first.AlphamapResolution)
		}
		for _, l := range c.Layers {
			if !slices.Contains(layers, l) {
				layers = append(layers, l)
			}
		}
	}
	for _, c := range sorted {
		for _, l := range layers {
			if !slices.Contains(c.Layers, l) {
				return nil, fmt.Errorf("%w: chunk (%g, %g) lacks %q", ErrMissingLayer, c.X, c.Z, l)
			}
		}
	}

	chunkSide := first.Heightmap.Side - 1
	side := chunkSide * uint32(grid)
	samples := make([]float32, side*side)
	for i, c := range sorted {
		ox := uint32(i%grid) * chunkSide
		oz := uint32(i/grid) * chunkSide
		for z := range chunkSide {
			src := c.Heightmap.Samples[z*c.Heightmap.Side : z*c.Heightmap.Side+chunkSide]
			copy(samples[(oz+z)*side+ox:], src)
		}
	}

	hm, err := heightmap.New(side, samples)
	if err != nil {
		return nil, err
	}
	return &Assembly{
		Heightmap:          hm,
		Grid:               grid,
		AlphamapResolution: first.AlphamapResolution,
		Layers:             layers,
	}, nil
}
