package quadtree

import (
	"math"
	"sort"
	"sync"
	"testing"
)

// flatAABBs builds a node store for a flat terrain at height 0 with a fixed vertical extent.
func flatAABBs(l Layout) []uint32 {
	words := make([]uint32, l.TotalNodes()*NodeAABBWords)
	for lod := 0; lod <= l.MaxLOD; lod++ {
		half := l.NodeSize(lod) / 2
		for i := uint32(0); i < l.LevelNodes(lod); i++ {
			id := l.IndexBase(lod) + i
			x, z := l.NodeCenter(lod, id)
			PutNodeAABB(words, id, GPUNodeAABB{Extent: [3]float32{half, 8, half}, Position: [3]float32{x, 0, z}})
		}
	}
	return words
}

// openFrustum returns planes that accept everything: zero normal with a positive distance.
func openFrustum() [6][4]float32 {
	var planes [6][4]float32
	for i := range planes {
		planes[i] = [4]float32{0, 0, 0, 1}
	}
	return planes
}

type tickFixture struct {
	layout  Layout
	aabbs   []uint32
	lists   [2][]uint32
	args    []uint32
	results []uint32
	capCand uint32
	capRes  uint32
}

func newTickFixture(l Layout, capCand, capRes uint32) *tickFixture {
	f := &tickFixture{
		layout:  l,
		aabbs:   flatAABBs(l),
		args:    make([]uint32, DrawArgsWords),
		results: make([]uint32, capRes*CullResultWords),
		capCand: capCand,
		capRes:  capRes,
	}
	seed := SeedWords(l)
	for i := range f.lists {
		f.lists[i] = make([]uint32, CandidateListWords(capCand))
		copy(f.lists[i], seed)
	}
	return f
}

func (f *tickFixture) tick(lod int, distances []float32, frame *GPUFrameUniforms) {
	level := NewLevelUniforms(f.layout, distances, lod, f.capCand, f.capRes)
	out := f.lists[(lod+1)%2]
	ResetCandidates(out)
	b := SelectBuffers{
		AABBs:         f.aabbs,
		CandidatesIn:  f.lists[lod%2],
		CandidatesOut: out,
		DrawArgs:      f.args,
		CullResults:   f.results,
	}
	// Split the dispatch the way a worker pool would, to exercise the atomic appends.
	groups := SelectWorkgroups(f.capCand)
	var wg sync.WaitGroup
	for g := range groups {
		wg.Add(1)
		go func(g uint32) {
			defer wg.Done()
			SelectRange(&level, frame, b, g*SelectWorkgroupSize, SelectWorkgroupSize)
		}(g)
	}
	wg.Wait()
}

func (f *tickFixture) acceptedIDs() []uint32 {
	n := f.args[drawArgsInstanceCountWord]
	ids := make([]uint32, n)
	for i := range ids {
		ids[i] = f.results[uint32(i)*CullResultWords]
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func TestOutsideFrustumSinglePlane(t *testing.T) {
	planes := openFrustum()
	planes[0] = [4]float32{1, 0, 0, -100} // keep x >= 100

	tests := []struct {
		center, extent [3]float32
		outside        bool
	}{
		{[3]float32{50, 0, 0}, [3]float32{10, 10, 10}, true},
		{[3]float32{95, 0, 0}, [3]float32{10, 10, 10}, false},
		{[3]float32{90, 0, 0}, [3]float32{10, 10, 10}, false},
		{[3]float32{89.9, 0, 0}, [3]float32{10, 10, 10}, true},
		{[3]float32{500, 0, 0}, [3]float32{1, 1, 1}, false},
	}
	for _, tt := range tests {
		if got := OutsideFrustum(planes, tt.center, tt.extent); got != tt.outside {
			t.Errorf("center %v extent %v: expected outside=%v, got %v", tt.center, tt.extent, tt.outside, got)
		}
	}
}

func TestTickCullsNodesOutsideSinglePlane(t *testing.T) {
	l := DefaultLayout()
	frame := &GPUFrameUniforms{Planes: openFrustum()}
	frame.Planes[0] = [4]float32{1, 0, 0, -2100} // keep x >= 2100: root columns 2 and 3

	// Thresholds far beyond the world force every surviving root to subdivide.
	huge := []float32{1e6, 2e6, 3e6, 4e6, 5e6, 6e6, 7e6}
	f := newTickFixture(l, 1024, 1024)
	f.tick(l.MaxLOD, huge, frame)

	if got := f.args[drawArgsInstanceCountWord]; got != 0 {
		t.Errorf("expected no accepted nodes, got %d", got)
	}
	next := Candidates(f.lists[(l.MaxLOD+1)%2], f.capCand)
	if len(next) != 8*4 {
		t.Fatalf("expected 32 children of the 8 visible roots, got %d", len(next))
	}
	for _, id := range next {
		parent := l.Parent(l.MaxLOD-1, id)
		x, _ := l.Decode(l.MaxLOD, parent)
		if x < 2 {
			t.Errorf("child %d of culled root %d present in next list", id, parent)
		}
	}

	// Accept-everything thresholds: culled roots must also stay out of the cull results.
	f = newTickFixture(l, 1024, 1024)
	tiny := []float32{0, 1e-3, 2e-3, 3e-3, 4e-3, 5e-3, 6e-3}
	frame.Camera = [4]float32{-1e5, 0, -1e5, 0}
	f.tick(l.MaxLOD, tiny, frame)
	ids := f.acceptedIDs()
	if len(ids) != 8 {
		t.Fatalf("expected 8 accepted roots, got %d", len(ids))
	}
	for _, id := range ids {
		if x, _ := l.Decode(l.MaxLOD, id); x < 2 {
			t.Errorf("culled root %d present in cull results", id)
		}
	}
	if n := CandidateCount(f.lists[(l.MaxLOD+1)%2], f.capCand); n != 0 {
		t.Errorf("expected empty next list, got %d", n)
	}
}

// frame runs one tick per level from the roots down, the way the terrain encodes them.
func (f *tickFixture) frame(distances []float32, frame *GPUFrameUniforms) {
	for lod := f.layout.MaxLOD; lod >= 0; lod-- {
		f.tick(lod, distances, frame)
	}
}

func TestFrameFromCentreDescendsToLeaves(t *testing.T) {
	l := Layout{MaxLOD: 2, RootSideNodes: 4, RootNodeSize: 64}
	centre := l.WorldSize() / 2
	frame := &GPUFrameUniforms{Planes: openFrustum(), Camera: [4]float32{centre, 0, centre, 0}}
	huge := []float32{1e6, 2e6, 3e6}

	f := newTickFixture(l, 1024, 1024)
	f.frame(huge, frame)

	ids := f.acceptedIDs()
	if uint32(len(ids)) != l.LevelNodes(0) {
		t.Fatalf("expected %d leaves, got %d", l.LevelNodes(0), len(ids))
	}
	for i, id := range ids {
		if lod, ok := l.LevelOf(id); !ok || lod != 0 {
			t.Errorf("expected id %d at LOD 0, got LOD %d", id, lod)
		}
		if i > 0 && ids[i-1] == id {
			t.Errorf("id %d accepted twice", id)
		}
	}
}

func TestFrameSubdividesOnlyNearestRoot(t *testing.T) {
	l := Layout{MaxLOD: 2, RootSideNodes: 2, RootNodeSize: 64}
	frame := &GPUFrameUniforms{Planes: openFrustum()} // camera at the world corner (0, 0)
	distances := []float32{0, 30, 60}

	f := newTickFixture(l, 64, 64)
	f.frame(distances, frame)

	// Root (0,0) is the only one within 60m; of its children only (0,0) is within 30m.
	perLOD := make([]int, l.Levels())
	var area float32
	for _, id := range f.acceptedIDs() {
		lod, ok := l.LevelOf(id)
		if !ok {
			t.Fatalf("accepted id %d outside the tree", id)
		}
		perLOD[lod]++
		size := l.NodeSize(lod)
		area += size * size
		if lod == l.MaxLOD {
			if x, z := l.Decode(lod, id); x == 0 && z == 0 {
				t.Errorf("nearest root %d drawn instead of subdivided", id)
			}
		}
	}
	want := []int{4, 3, 3}
	for lod := range want {
		if perLOD[lod] != want[lod] {
			t.Errorf("expected %d patches at LOD %d, got %d", want[lod], lod, perLOD[lod])
		}
	}
	if world := l.WorldSize(); area != world*world {
		t.Errorf("expected accepted patches to cover %v, got %v", world*world, area)
	}
}

func TestFrameSubdividesOnlyNearestRootOfDefaultLayout(t *testing.T) {
	l := DefaultLayout()
	frame := &GPUFrameUniforms{Planes: openFrustum()} // camera at the world corner (0, 0)
	// Each threshold sits between the corner node's centre distance (0.71 x size) and its
	// neighbours' (1.58 x size), so only the path through the corner ever subdivides.
	distances := []float32{0, 30, 60, 120, 240, 480, 1000}

	f := newTickFixture(l, 1024, 1024)
	f.frame(distances, frame)

	perLOD := make([]int, l.Levels())
	var area float32
	for _, id := range f.acceptedIDs() {
		lod, ok := l.LevelOf(id)
		if !ok {
			t.Fatalf("accepted id %d outside the tree", id)
		}
		perLOD[lod]++
		size := l.NodeSize(lod)
		area += size * size

		x, z := l.Decode(lod, id)
		depth := uint32(l.MaxLOD - lod)
		nearest := x>>depth == 0 && z>>depth == 0
		if lod == l.MaxLOD && nearest {
			t.Errorf("nearest root %d drawn instead of subdivided", id)
		}
		if lod < l.MaxLOD && !nearest {
			t.Errorf("lod %d node %d descends from a root other than the nearest", lod, id)
		}
	}
	want := []int{4, 3, 3, 3, 3, 3, 15}
	for lod := range want {
		if perLOD[lod] != want[lod] {
			t.Errorf("expected %d patches at LOD %d, got %d", want[lod], lod, perLOD[lod])
		}
	}
	if world := l.WorldSize(); area != world*world {
		t.Errorf("expected accepted patches to cover %v, got %v", world*world, area)
	}
}

func TestAppendCandidatesSaturates(t *testing.T) {
	const capacity = 8
	list := make([]uint32, CandidateListWords(capacity))
	for i := range uint32(capacity) {
		if !AppendCandidates(list, capacity, i) {
			t.Fatalf("append %d should fit", i)
		}
	}
	if AppendCandidates(list, capacity, 99) {
		t.Error("expected the (capacity+1)-th append to be dropped")
	}
	if list[0] != capacity {
		t.Errorf("expected count to saturate at %d, got %d", capacity, list[0])
	}
	for i := range uint32(capacity) {
		if list[1+i] != i {
			t.Errorf("slot %d corrupted: got %d", i, list[1+i])
		}
	}

	// A partial fit is refused whole.
	ResetCandidates(list)
	AppendCandidates(list, capacity, 1, 2, 3, 4, 5, 6)
	if AppendCandidates(list, capacity, 7, 8, 9, 10) {
		t.Error("expected 4-slot append with 2 free slots to be dropped")
	}
	if list[0] != 6 {
		t.Errorf("expected count 6 after dropped reservation, got %d", list[0])
	}
}

func TestAppendCandidatesConcurrent(t *testing.T) {
	const capacity = 64
	list := make([]uint32, CandidateListWords(capacity))
	var wg sync.WaitGroup
	for g := range uint32(100) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			AppendCandidates(list, capacity, g*4, g*4+1, g*4+2, g*4+3)
		}()
	}
	wg.Wait()

	if list[0] != capacity {
		t.Fatalf("expected count %d, got %d", capacity, list[0])
	}
	seen := make(map[uint32]bool)
	for _, id := range Candidates(list, capacity) {
		if seen[id] {
			t.Fatalf("id %d written twice", id)
		}
		seen[id] = true
	}
	// Every reservation is a full group of four consecutive ids.
	ids := Candidates(list, capacity)
	for i := 0; i < len(ids); i += 4 {
		if ids[i]%4 != 0 || ids[i+1] != ids[i]+1 || ids[i+2] != ids[i]+2 || ids[i+3] != ids[i]+3 {
			t.Errorf("group at %d is not contiguous: %v", i, ids[i:i+4])
		}
	}
}

func TestTickOverflowDropsWithoutCorruption(t *testing.T) {
	l := DefaultLayout()
	frame := &GPUFrameUniforms{Planes: openFrustum()}
	huge := []float32{1e6, 2e6, 3e6, 4e6, 5e6, 6e6, 7e6}

	// 16 roots each want 4 children but the next list only holds 18 ids: exactly 4 roots
	// fit, the remaining reservations are dropped and the count stops at 16.
	f := newTickFixture(l, 18, 64)
	f.tick(l.MaxLOD, huge, frame)

	out := f.lists[(l.MaxLOD+1)%2]
	if out[0] != 16 {
		t.Fatalf("expected next count 16, got %d", out[0])
	}
	for _, id := range Candidates(out, f.capCand) {
		if lod, ok := l.LevelOf(id); !ok || lod != l.MaxLOD-1 {
			t.Errorf("corrupted id %d in next list", id)
		}
	}
}

func TestResultOverflowSaturates(t *testing.T) {
	l := DefaultLayout()
	frame := &GPUFrameUniforms{Planes: openFrustum(), Camera: [4]float32{-1e5, 0, -1e5, 0}}
	tiny := []float32{0, 1e-3, 2e-3, 3e-3, 4e-3, 5e-3, 6e-3}

	f := newTickFixture(l, 64, 5)
	f.tick(l.MaxLOD, tiny, frame)
	if got := f.args[drawArgsInstanceCountWord]; got != 5 {
		t.Errorf("expected instanceCount to saturate at 5, got %d", got)
	}
}

func TestLODTransitionFlags(t *testing.T) {
	l := Layout{MaxLOD: 2, RootSideNodes: 1, RootNodeSize: 64}
	distances := []float32{0, 30, 1000}
	level := NewLevelUniforms(l, distances, 0, 16, 16)

	// Finest node at cell (1,1) of a 4x4 grid (centre 24,24). Its -x and -z neighbours share its
	// own coarse cell centred at (16,16), about 22.6 from the camera; the +x and +z neighbours fall
	// in the coarse cells centred at (48,16) and (16,48), about 50.6 away.
	cam := [2]float32{0, 0}
	flags := lodTransition(&level, [2]float32{24, 24}, 16, cam)
	if flags&EdgePosX == 0 || flags&EdgePosZ == 0 {
		t.Errorf("expected +x and +z transition bits, got %04b", flags)
	}
	if flags&EdgeNegX != 0 || flags&EdgeNegZ != 0 {
		t.Errorf("expected no -x/-z bits, got %04b", flags)
	}

	// Border edges never flag because there is no neighbour across them.
	flags = lodTransition(&level, [2]float32{8, 8}, 16, [2]float32{1000, 1000})
	if flags&(EdgeNegX|EdgeNegZ) != 0 {
		t.Errorf("expected border edges clear, got %04b", flags)
	}

	root := NewLevelUniforms(l, distances, l.MaxLOD, 16, 16)
	if got := lodTransition(&root, [2]float32{32, 32}, 64, cam); got != 0 {
		t.Errorf("expected roots to carry no transition bits, got %04b", got)
	}
}

func TestGPUTypeSizes(t *testing.T) {
	if got := (&GPUFrameUniforms{}).Size(); got != 112 {
		t.Errorf("expected FrameUniforms 112 bytes, got %d", got)
	}
	if got := (&GPULevelUniforms{}).Size(); got != 64 {
		t.Errorf("expected LevelUniforms 64 bytes, got %d", got)
	}
	if got := (&GPUIndirectArgs{}).Size(); got != 20 {
		t.Errorf("expected IndirectArgs 20 bytes, got %d", got)
	}

	u := NewLevelUniforms(DefaultLayout(), DefaultLODDistances, 3, 4096, 2048)
	buf := u.Marshal()
	// last_distance sits at byte 36 in level_uniforms.wgsl.
	if got := math.Float32frombits(uint32(buf[36]) | uint32(buf[37])<<8 | uint32(buf[38])<<16 | uint32(buf[39])<<24); got != 480 {
		t.Errorf("expected last distance 480 at offset 36, got %f", got)
	}
	var back GPULevelUniforms
	words := make([]uint32, len(buf)/4)
	for i := range words {
		words[i] = uint32(buf[i*4]) | uint32(buf[i*4+1])<<8 | uint32(buf[i*4+2])<<16 | uint32(buf[i*4+3])<<24
	}
	back.FromWords(words)
	if back != u {
		t.Errorf("expected %+v after decode, got %+v", u, back)
	}
}
