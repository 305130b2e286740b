package engine

import (
	"errors"
	"math"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-terrain/engine/camera"
	"github.com/Carmen-Shannon/oxy-terrain/engine/profiler"
	"github.com/Carmen-Shannon/oxy-terrain/engine/renderer"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/bake"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/heightmap"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/heightrange"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/quadtree"
	"github.com/go-gl/mathgl/mgl32"
)

var testLayout = quadtree.Layout{MaxLOD: 3, RootSideNodes: 2, RootNodeSize: 64}

// newHeadlessEngine builds an engine on the host backend with a small baked terrain.
func newHeadlessEngine(t *testing.T) (Engine, camera.CameraController) {
	t.Helper()
	r, err := renderer.NewRenderer(renderer.BackendTypeCPU, nil, renderer.WithWorkers(2))
	if err != nil {
		t.Fatalf("NewRenderer failed: %v", err)
	}
	t.Cleanup(r.Release)

	side := uint32(32)
	samples := make([]float32, side*side)
	for i := range samples {
		samples[i] = 0.5 + 0.25*float32(math.Sin(float64(i)*0.1))
	}
	hm, err := heightmap.New(side, samples)
	if err != nil {
		t.Fatal(err)
	}
	chain, err := heightrange.Build(hm.Samples, hm.Side)
	if err != nil {
		t.Fatal(err)
	}
	store := bake.Reference(testLayout, chain, bake.Options{HeightScale: 20, MinExtentY: 0.5})

	height, err := terrain.NewHeightClipmap(r, testLayout, hm)
	if err != nil {
		t.Fatalf("NewHeightClipmap failed: %v", err)
	}
	t.Cleanup(height.Release)
	splat, err := terrain.NewUniformSplatClipmap(r, testLayout, 0)
	if err != nil {
		t.Fatalf("NewUniformSplatClipmap failed: %v", err)
	}
	t.Cleanup(splat.Release)

	ctrl := camera.NewCameraController(
		camera.WithPosition(mgl32.Vec3{10, 40, 10}),
		camera.WithLookAt(mgl32.Vec3{100, 0, 100}),
	)
	cam := camera.NewCamera(camera.WithController(ctrl), camera.WithFar(1000))

	ter, err := terrain.NewTerrain(r, store, cam,
		terrain.WithHeightClipmap(height),
		terrain.WithSplatClipmap(splat),
		terrain.WithLODDistances([]float32{0, 16, 40, 90}),
		terrain.WithHeightScale(20),
	)
	if err != nil {
		t.Fatalf("NewTerrain failed: %v", err)
	}
	t.Cleanup(ter.Release)

	return NewEngine(WithRenderer(r), WithCamera(cam), WithTerrain(ter)), ctrl
}

func selectedIDs(t *testing.T, e Engine) []uint32 {
	t.Helper()
	s, err := e.Terrain().Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	ids := make([]uint32, len(s.Results))
	for i, r := range s.Results {
		ids[i] = r.ID
	}
	slices.Sort(ids)
	return ids
}

func TestRenderFrameWithoutRenderer(t *testing.T) {
	e := NewEngine()
	if err := e.RenderFrame(); !errors.Is(err, ErrNoRenderer) {
		t.Errorf("expected ErrNoRenderer, got %v", err)
	}
	if e.Frame() != 0 {
		t.Errorf("expected no frame counted, got %d", e.Frame())
	}
	if e.Camera() == nil {
		t.Error("expected a default camera")
	}
}

func TestRenderFrameSelects(t *testing.T) {
	e, _ := newHeadlessEngine(t)
	if err := e.RenderFrame(); err != nil {
		t.Fatalf("RenderFrame failed: %v", err)
	}
	if e.Frame() != 1 {
		t.Errorf("expected frame 1, got %d", e.Frame())
	}
	if ids := selectedIDs(t, e); len(ids) == 0 {
		t.Error("expected selected patches after the first frame")
	}
}

func TestSceneViewFreezesSelection(t *testing.T) {
	e, ctrl := newHeadlessEngine(t)
	if err := e.RenderFrame(); err != nil {
		t.Fatal(err)
	}
	before := selectedIDs(t, e)

	e.SetView(terrain.ViewScene)
	if e.View() != terrain.ViewScene {
		t.Errorf("expected scene view, got %s", e.View())
	}
	ctrl.SetPosition(mgl32.Vec3{118, 40, 118})
	ctrl.LookAt(mgl32.Vec3{0, 0, 0})
	if err := e.RenderFrame(); err != nil {
		t.Fatal(err)
	}
	if frozen := selectedIDs(t, e); !slices.Equal(before, frozen) {
		t.Error("expected the scene view to keep the previous selection")
	}

	e.SetView(terrain.ViewGame)
	if err := e.RenderFrame(); err != nil {
		t.Fatal(err)
	}
	if after := selectedIDs(t, e); slices.Equal(before, after) {
		t.Error("expected the game view to reselect for the moved camera")
	}
}

func TestPatchCount(t *testing.T) {
	e, _ := newHeadlessEngine(t)
	impl := e.(*engine)

	e.SetTerrain(nil)
	if total, perLOD, _, err := impl.patchCount(); err != nil || total != 0 || perLOD != nil {
		t.Errorf("expected empty count without terrain, got %d %v %v", total, perLOD, err)
	}
}

func TestPatchCountMatchesStats(t *testing.T) {
	e, _ := newHeadlessEngine(t)
	if err := e.RenderFrame(); err != nil {
		t.Fatal(err)
	}
	total, perLOD, _, err := e.(*engine).patchCount()
	if err != nil {
		t.Fatalf("patchCount failed: %v", err)
	}
	if int(total) != len(selectedIDs(t, e)) {
		t.Errorf("expected %d patches, got %d", len(selectedIDs(t, e)), total)
	}
	var sum uint32
	for _, n := range perLOD {
		sum += n
	}
	if sum != total {
		t.Errorf("expected per-LOD counts to sum to %d, got %d", total, sum)
	}
}

func TestHUDTitle(t *testing.T) {
	s := &profiler.Snapshot{FPS: 59.6, Patches: 12, PerLOD: []uint32{8, 4}}
	got := hudTitle("viewer", s, terrain.ViewGame)
	if got != "viewer | 60 fps | 12 patches [8 4]" {
		t.Errorf("unexpected title %q", got)
	}

	s.Saturated = true
	got = hudTitle("viewer", s, terrain.ViewScene)
	if !strings.Contains(got, "SATURATED") || !strings.HasSuffix(got, "scene (frozen)") {
		t.Errorf("expected saturation and frozen markers, got %q", got)
	}
}

func TestTickRate(t *testing.T) {
	e := NewEngine(WithTickRate(0)).(*engine)
	if e.engineTickRate != time.Second/60 {
		t.Errorf("expected 60Hz default, got %v", e.engineTickRate)
	}
	e.SetTickRate(120)
	if e.engineTickRate != time.Second/120 {
		t.Errorf("expected 120Hz, got %v", e.engineTickRate)
	}
	e.SetRenderFrameLimit(0)
	if e.renderFrameLimit != 0 {
		t.Errorf("expected uncapped render loop, got %v", e.renderFrameLimit)
	}
}
