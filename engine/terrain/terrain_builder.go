package terrain

// TerrainBuilderOption is a functional option for configuring a Terrain in NewTerrain.
type TerrainBuilderOption func(*Terrain)

// WithHeightClipmap sets the clipmap the draw samples heights from. Required.
func WithHeightClipmap(c ClipmapProvider) TerrainBuilderOption {
	return func(t *Terrain) {
		t.height = c
	}
}

// WithSplatClipmap sets the clipmap the draw samples layer weights from. Required.
func WithSplatClipmap(c ClipmapProvider) TerrainBuilderOption {
	return func(t *Terrain) {
		t.splat = c
	}
}

// WithLODDistances replaces the threshold table, indexed by LOD.
func WithLODDistances(distances []float32) TerrainBuilderOption {
	return func(t *Terrain) {
		t.distances = append([]float32(nil), distances...)
	}
}

// WithCandidateCapacity sets the number of id slots in each candidate list.
func WithCandidateCapacity(n uint32) TerrainBuilderOption {
	return func(t *Terrain) {
		t.candidateCapacity = n
	}
}

// WithResultCapacity sets the maximum number of instances drawn per frame.
func WithResultCapacity(n uint32) TerrainBuilderOption {
	return func(t *Terrain) {
		t.resultCapacity = n
	}
}

// WithHeightScale sets the world height of a normalised clipmap sample of 1.
func WithHeightScale(scale float32) TerrainBuilderOption {
	return func(t *Terrain) {
		t.heightScale = scale
	}
}

// WithHeightOrigin sets the world height of a normalised clipmap sample of 0.
func WithHeightOrigin(origin float32) TerrainBuilderOption {
	return func(t *Terrain) {
		t.heightOrigin = origin
	}
}

// WithPatch sets the quads per side and vertex spacing of the shared patch mesh.
func WithPatch(size int, unit float32) TerrainBuilderOption {
	return func(t *Terrain) {
		t.patchSize = size
		t.patchUnit = unit
	}
}

// WithTintStrength blends the per-LOD debug palette over the splat albedo, 0 disables it.
func WithTintStrength(strength float32) TerrainBuilderOption {
	return func(t *Terrain) {
		t.tintStrength = min(max(strength, 0), 1)
	}
}

// WithLayerColors sets the albedo of the four splat layers.
func WithLayerColors(colors [4][4]float32) TerrainBuilderOption {
	return func(t *Terrain) {
		t.layerColors = colors
	}
}
