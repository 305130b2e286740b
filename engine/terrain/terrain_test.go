package terrain

import (
	"errors"
	"math"
	"slices"
	"strings"
	"testing"

	"github.com/Carmen-Shannon/oxy-terrain/common"
	"github.com/Carmen-Shannon/oxy-terrain/engine/renderer"
	"github.com/Carmen-Shannon/oxy-terrain/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/bake"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/heightmap"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/heightrange"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/nodestore"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/patch"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/quadtree"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/naga"
)

var testLayout = quadtree.Layout{MaxLOD: 3, RootSideNodes: 2, RootNodeSize: 64}

var testDistances = []float32{0, 16, 40, 90}

type testCamera struct {
	eye, target mgl32.Vec3
}

func (c *testCamera) ViewProjection() mgl32.Mat4 {
	proj := common.PerspectiveZO(mgl32.DegToRad(60), 16.0/9.0, 0.1, 1000)
	return proj.Mul4(mgl32.LookAtV(c.eye, c.target, mgl32.Vec3{0, 1, 0}))
}

func (c *testCamera) Position() mgl32.Vec3 {
	return c.eye
}

func newTestCamera() *testCamera {
	return &testCamera{eye: mgl32.Vec3{40, 30, 100}, target: mgl32.Vec3{64, 0, 30}}
}

type fixture struct {
	r      renderer.Renderer
	hm     *heightmap.Heightmap
	store  *nodestore.Store
	height *StaticClipmap
	splat  *StaticClipmap
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	r, err := renderer.NewRenderer(renderer.BackendTypeCPU, nil, renderer.WithWorkers(4))
	if err != nil {
		t.Fatalf("NewRenderer failed: %v", err)
	}
	t.Cleanup(r.Release)

	side := uint32(32)
	samples := make([]float32, side*side)
	for z := range side {
		for x := range side {
			samples[z*side+x] = 0.5 + 0.5*float32(math.Sin(float64(x)*0.3)*math.Cos(float64(z)*0.2))
		}
	}
	hm, err := heightmap.New(side, samples)
	if err != nil {
		t.Fatal(err)
	}
	chain, err := heightrange.Build(hm.Samples, hm.Side)
	if err != nil {
		t.Fatalf("heightrange.Build failed: %v", err)
	}
	store := bake.Reference(testLayout, chain, bake.Options{HeightScale: 20, MinExtentY: 0.5})

	height, err := NewHeightClipmap(r, testLayout, hm)
	if err != nil {
		t.Fatalf("NewHeightClipmap failed: %v", err)
	}
	splat, err := NewUniformSplatClipmap(r, testLayout, 0)
	if err != nil {
		t.Fatalf("NewUniformSplatClipmap failed: %v", err)
	}
	t.Cleanup(height.Release)
	t.Cleanup(splat.Release)
	return &fixture{r: r, hm: hm, store: store, height: height, splat: splat}
}

func (f *fixture) terrain(t *testing.T, cam Camera, opts ...TerrainBuilderOption) *Terrain {
	t.Helper()
	opts = append([]TerrainBuilderOption{
		WithHeightClipmap(f.height),
		WithSplatClipmap(f.splat),
		WithLODDistances(testDistances),
		WithCandidateCapacity(512),
		WithResultCapacity(512),
		WithHeightScale(20),
	}, opts...)
	tr, err := NewTerrain(f.r, f.store, cam, opts...)
	if err != nil {
		t.Fatalf("NewTerrain failed: %v", err)
	}
	t.Cleanup(tr.Release)
	return tr
}

// hostSelection walks the tree recursively with the same tests the kernel applies.
func hostSelection(store *nodestore.Store, distances []float32, cam Camera) []uint32 {
	l := store.Layout
	planes := common.ExtractFrustum(cam.ViewProjection()).GPUPlanes()
	pos := cam.Position()
	cx, cz := quadtree.SnapToGrid(pos.X(), pos.Z(), l.NodeSize(0))

	var ids []uint32
	var visit func(lod int, id uint32)
	visit = func(lod int, id uint32) {
		a := store.AABBs[id]
		if quadtree.OutsideFrustum(planes, a.Position, a.Extent) {
			return
		}
		dx, dz := cx-a.Position[0], cz-a.Position[2]
		dist := float32(math.Sqrt(float64(dx*dx + dz*dz)))
		if lod == 0 || dist > distances[lod] {
			ids = append(ids, id)
			return
		}
		for q := range uint32(4) {
			visit(lod-1, l.Child(lod, id, q))
		}
	}
	for _, root := range l.RootIDs() {
		visit(l.MaxLOD, root)
	}
	slices.Sort(ids)
	return ids
}

func resultIDs(s *Stats) []uint32 {
	ids := make([]uint32, len(s.Results))
	for i, r := range s.Results {
		ids[i] = r.ID
	}
	slices.Sort(ids)
	return ids
}

func TestRenderMatchesHostTraversal(t *testing.T) {
	f := newFixture(t)
	cam := newTestCamera()
	tr := f.terrain(t, cam)

	if err := tr.Render(ViewGame, 1); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	s, err := tr.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}

	want := hostSelection(f.store, testDistances, cam)
	if len(want) == 0 {
		t.Fatal("expected the test camera to see part of the terrain")
	}
	if got := resultIDs(s); !slices.Equal(got, want) {
		t.Errorf("expected selection %v, got %v", want, got)
	}
	if s.Draw.InstanceCount != uint32(len(want)) {
		t.Errorf("expected %d instances, got %d", len(want), s.Draw.InstanceCount)
	}

	var perLOD uint32
	for _, n := range s.PerLOD {
		perLOD += n
	}
	if s.PerLOD[0] == 0 {
		t.Errorf("expected a close camera to reach LOD 0, got %v", s.PerLOD)
	}
	if perLOD != s.Draw.InstanceCount {
		t.Errorf("expected per-LOD counts to sum to %d, got %d", s.Draw.InstanceCount, perLOD)
	}
	for _, r := range s.Results {
		if r.LODTransition&^0xf != 0 {
			t.Errorf("node %d: expected a 4-bit transition mask, got %#x", r.ID, r.LODTransition)
		}
	}
}

func TestRequestStatsMatchesStats(t *testing.T) {
	f := newFixture(t)
	tr := f.terrain(t, newTestCamera())

	if _, err := tr.LatestStats(); !errors.Is(err, ErrStatsPending) {
		t.Errorf("expected ErrStatsPending before any readback, got %v", err)
	}
	if err := tr.Render(ViewGame, 1); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if err := tr.RequestStats(); err != nil {
		t.Fatalf("RequestStats failed: %v", err)
	}
	latest, err := tr.LatestStats()
	if err != nil {
		t.Fatalf("LatestStats failed: %v", err)
	}
	s, err := tr.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if latest.Draw != s.Draw || !slices.Equal(latest.PerLOD, s.PerLOD) {
		t.Errorf("expected %+v %v, got %+v %v", s.Draw, s.PerLOD, latest.Draw, latest.PerLOD)
	}
	if !slices.Equal(resultIDs(latest), resultIDs(s)) {
		t.Error("expected the async readback to see the same cull results")
	}
}

func TestSelectionCoversFootprintOnce(t *testing.T) {
	f := newFixture(t)
	// From high above the whole terrain is inside the frustum.
	cam := &testCamera{eye: mgl32.Vec3{64, 300, 200}, target: mgl32.Vec3{64, 0, 64}}
	tr := f.terrain(t, cam)

	if err := tr.Render(ViewGame, 1); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	s, err := tr.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}

	var area float64
	for _, r := range s.Results {
		lod, ok := testLayout.LevelOf(r.ID)
		if !ok {
			t.Fatalf("result id %d is outside the tree", r.ID)
		}
		size := float64(testLayout.NodeSize(lod))
		area += size * size
	}
	world := float64(testLayout.WorldSize())
	if math.Abs(area-world*world) > 1e-3 {
		t.Errorf("expected accepted nodes to tile %.0f units², got %.0f", world*world, area)
	}
}

func TestRenderGuard(t *testing.T) {
	f := newFixture(t)
	cam := newTestCamera()
	tr := f.terrain(t, cam)

	if err := tr.Render(ViewGame, 7); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	first, err := tr.Stats()
	if err != nil {
		t.Fatal(err)
	}

	cam.eye = mgl32.Vec3{100, 30, 20}
	cam.target = mgl32.Vec3{20, 0, 100}
	want := hostSelection(f.store, testDistances, cam)

	for _, step := range []struct {
		view  ViewKind
		frame uint64
	}{
		{ViewGame, 7},
		{ViewScene, 8},
		{ViewPreview, 9},
	} {
		if err := tr.Render(step.view, step.frame); err != nil {
			t.Fatalf("Render(%s, %d) failed: %v", step.view, step.frame, err)
		}
		s, err := tr.Stats()
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(resultIDs(s), resultIDs(first)) {
			t.Errorf("Render(%s, %d): expected selection to be skipped", step.view, step.frame)
		}
	}

	if err := tr.Render(ViewGame, 8); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	s, err := tr.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if got := resultIDs(s); !slices.Equal(got, want) {
		t.Errorf("expected a new game frame to reselect %v, got %v", want, got)
	}
}

func TestResultOverflowSaturates(t *testing.T) {
	f := newFixture(t)
	cam := newTestCamera()
	tr := f.terrain(t, cam, WithResultCapacity(3))

	for frame := uint64(1); frame <= 3; frame++ {
		if err := tr.Render(ViewGame, frame); err != nil {
			t.Fatalf("Render failed: %v", err)
		}
	}
	s, err := tr.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if s.Draw.InstanceCount != 3 {
		t.Errorf("expected instance count to saturate at 3, got %d", s.Draw.InstanceCount)
	}
	if !s.Saturated {
		t.Error("expected stats to report saturation")
	}
	want := hostSelection(f.store, testDistances, cam)
	for _, id := range resultIDs(s) {
		if _, found := slices.BinarySearch(want, id); !found {
			t.Errorf("expected only selectable nodes, got %d", id)
		}
	}
}

func TestCandidateOverflowDropsWholeGroups(t *testing.T) {
	f := newFixture(t)
	cam := &testCamera{eye: mgl32.Vec3{64, 300, 200}, target: mgl32.Vec3{64, 0, 64}}
	// Every node wants to subdivide, but each list only has room for one group of four.
	tr := f.terrain(t, cam,
		WithCandidateCapacity(testLayout.Roots()),
		WithLODDistances([]float32{0, 1000, 2000, 3000}),
	)

	if err := tr.Render(ViewGame, 1); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	s, err := tr.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if s.Draw.InstanceCount != 4 {
		t.Fatalf("expected the one surviving group of 4 to be drawn, got %d", s.Draw.InstanceCount)
	}
	if s.PerLOD[0] != 4 {
		t.Errorf("expected all 4 instances at LOD 0, got %v", s.PerLOD)
	}
	parent := testLayout.Parent(0, s.Results[0].ID)
	for _, r := range s.Results[1:] {
		if got := testLayout.Parent(0, r.ID); got != parent {
			t.Errorf("expected siblings of parent %d, got a child of %d", parent, got)
		}
	}
}

func TestIndexCountWrittenOnce(t *testing.T) {
	f := newFixture(t)
	tr := f.terrain(t, newTestCamera())

	for frame := uint64(1); frame <= 4; frame++ {
		if err := tr.Render(ViewGame, frame); err != nil {
			t.Fatalf("Render failed: %v", err)
		}
	}
	s, err := tr.Stats()
	if err != nil {
		t.Fatal(err)
	}
	want := uint32(patch.DefaultSize * patch.DefaultSize * 6)
	if s.Draw.IndexCount != want {
		t.Errorf("expected index count %d, got %d", want, s.Draw.IndexCount)
	}
	if s.Draw.FirstIndex != 0 || s.Draw.BaseVertex != 0 || s.Draw.FirstInstance != 0 {
		t.Errorf("expected zero draw offsets, got %+v", s.Draw)
	}
}

func TestNewTerrainErrors(t *testing.T) {
	f := newFixture(t)
	cam := newTestCamera()

	tests := []struct {
		name string
		opts []TerrainBuilderOption
		want error
	}{
		{"no height clipmap", []TerrainBuilderOption{WithSplatClipmap(f.splat)}, ErrMissingHeightClipmap},
		{"no splat clipmap", []TerrainBuilderOption{WithHeightClipmap(f.height)}, ErrMissingSplatClipmap},
		{"short lod table", []TerrainBuilderOption{
			WithHeightClipmap(f.height), WithSplatClipmap(f.splat), WithLODDistances([]float32{0, 10}),
		}, quadtree.ErrLODTableLength},
		{"non monotonic lod table", []TerrainBuilderOption{
			WithHeightClipmap(f.height), WithSplatClipmap(f.splat), WithLODDistances([]float32{0, 10, 5, 20}),
		}, quadtree.ErrNonMonotonicLOD},
		{"candidate capacity below roots", []TerrainBuilderOption{
			WithHeightClipmap(f.height), WithSplatClipmap(f.splat), WithLODDistances(testDistances), WithCandidateCapacity(2),
		}, ErrCapacity},
		{"zero result capacity", []TerrainBuilderOption{
			WithHeightClipmap(f.height), WithSplatClipmap(f.splat), WithLODDistances(testDistances), WithResultCapacity(0),
		}, ErrCapacity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTerrain(f.r, f.store, cam, tt.opts...)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDrawShader(t *testing.T) {
	draw, err := newDrawPipeline()
	if err != nil {
		t.Fatalf("newDrawPipeline failed: %v", err)
	}

	var u GPURenderUniforms
	if got := renderer.PipelineBindGroupLayout(draw, 0).Entries[0].Buffer.MinBindingSize; got != uint64(u.Size()) {
		t.Errorf("expected render uniforms of %d bytes, got %d", u.Size(), got)
	}
	var info GPUClipmapInfo
	if got := renderer.PipelineBindGroupLayout(draw, 1).Entries[0].Buffer.MinBindingSize; got != uint64(info.Size()) {
		t.Errorf("expected clipmap info of %d bytes, got %d", info.Size(), got)
	}
	if len(u.Marshal()) != u.Size() {
		t.Errorf("expected marshalled uniforms of %d bytes, got %d", u.Size(), len(u.Marshal()))
	}

	vs := draw.Shader(shader.ShaderTypeVertex)
	layouts := vs.VertexLayout(0)
	var vertex patch.GPUPatchVertex
	if len(layouts) != 1 || layouts[0].ArrayStride != uint64(vertex.Size()) {
		t.Errorf("expected one vertex layout of stride %d, got %+v", vertex.Size(), layouts)
	}
	if groups := vs.ProviderGroups(shader.AnnotationArgClipmapSplat); !slices.Equal(groups, []int{2}) {
		t.Errorf("expected the splat clipmap at group 2, got %v", groups)
	}

	spirv, err := naga.Compile(vs.Source())
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "not yet implemented") || strings.Contains(msg, "not supported") {
			t.Skipf("Skipping draw shader: naga feature not yet implemented: %v", err)
		}
		t.Fatalf("failed to compile draw shader: %v", err)
	}
	if len(spirv) < 4 {
		t.Fatal("draw shader: SPIR-V too short")
	}
}

func TestPackSplat(t *testing.T) {
	tests := []struct {
		w    [4]float32
		want uint32
	}{
		{[4]float32{1, 0, 0, 0}, 0x000000ff},
		{[4]float32{0, 0, 0, 1}, 0xff000000},
		{[4]float32{0.5, 2, -1, 0}, 0x0000ff80},
	}
	for _, tt := range tests {
		if got := PackSplat(tt.w); got != tt.want {
			t.Errorf("PackSplat(%v): expected %#08x, got %#08x", tt.w, tt.want, got)
		}
	}
}

func TestLODPalette(t *testing.T) {
	p := LODPalette(testLayout.Levels())
	for i := 1; i < testLayout.Levels(); i++ {
		if p[i] == p[i-1] {
			t.Errorf("expected LOD %d and %d to differ, both %v", i-1, i, p[i])
		}
	}
	if p[PaletteSize-1] != p[testLayout.Levels()-1] {
		t.Error("expected unused entries to repeat the last level colour")
	}
}

func TestViewKindString(t *testing.T) {
	if ViewGame.String() != "game" || ViewScene.String() != "scene" || ViewPreview.String() != "preview" {
		t.Error("unexpected view names")
	}
	if got := ViewKind(9).String(); got != "view(9)" {
		t.Errorf("expected view(9), got %s", got)
	}
}

func TestTintStrengthClamped(t *testing.T) {
	f := newFixture(t)
	ter := f.terrain(t, newTestCamera(), WithTintStrength(2))
	if ter.TintStrength() != 1 {
		t.Errorf("expected builder tint clamped to 1, got %f", ter.TintStrength())
	}
	ter.SetTintStrength(-0.5)
	if ter.TintStrength() != 0 {
		t.Errorf("expected tint clamped to 0, got %f", ter.TintStrength())
	}
	if u := ter.renderUniforms(); u.TintStrength != 0 {
		t.Errorf("expected render uniforms to carry tint 0, got %f", u.TintStrength)
	}
}
