package nodestore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/quadtree"
)

func testStore() *Store {
	layout := quadtree.Layout{MaxLOD: 2, RootSideNodes: 2, RootNodeSize: 64}
	n := layout.TotalNodes()
	s := &Store{
		Layout:   layout,
		AABBs:    make([]quadtree.GPUNodeAABB, n),
		NodeData: make([]quadtree.GPUNodeData, n),
	}
	for i := range n {
		a := quadtree.GPUNodeAABB{
			Extent:   [3]float32{float32(i) + 1, 0.5 * float32(i), float32(i) + 1},
			Position: [3]float32{float32(i) * 3, float32(i) * -2, float32(i) * 5},
		}
		s.AABBs[i] = a
		s.NodeData[i] = quadtree.NodeDataFromAABB(a)
	}
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := testStore()

	m, err := Save(dir, "terrain", s, BakeInfo{HeightmapSide: 64, HeightScale: 200, HeightOrigin: -10})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if m.Nodes != s.Layout.TotalNodes() {
		t.Errorf("expected %d nodes in manifest, got %d", s.Layout.TotalNodes(), m.Nodes)
	}

	got, gotManifest, err := Load(dir, "terrain")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if gotManifest.Layout != s.Layout {
		t.Errorf("expected layout %+v, got %+v", s.Layout, gotManifest.Layout)
	}
	if gotManifest.HeightScale != 200 || gotManifest.HeightOrigin != -10 || gotManifest.HeightmapSide != 64 {
		t.Errorf("bake info not preserved: %+v", gotManifest)
	}
	for i := range s.AABBs {
		if got.AABBs[i] != s.AABBs[i] {
			t.Fatalf("aabb %d: expected %+v, got %+v", i, s.AABBs[i], got.AABBs[i])
		}
		if got.NodeData[i] != s.NodeData[i] {
			t.Fatalf("node data %d: expected %+v, got %+v", i, s.NodeData[i], got.NodeData[i])
		}
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 3 {
		t.Errorf("expected exactly 3 files after save, got %d", len(entries))
	}
}

func TestRecordSizes(t *testing.T) {
	s := testStore()
	n := int(s.Layout.TotalNodes())
	if got := len(s.AABBBytes()); got != n*24 {
		t.Errorf("expected %d aabb bytes, got %d", n*24, got)
	}
	if got := len(s.NodeDataBytes()); got != n*12 {
		t.Errorf("expected %d nodedata bytes, got %d", n*12, got)
	}
}

func TestLoadDetectsMismatchedPair(t *testing.T) {
	dir := t.TempDir()
	s := testStore()
	if _, err := Save(dir, "a", s, BakeInfo{}); err != nil {
		t.Fatal(err)
	}

	other := testStore()
	other.NodeData[3].Scale = 999
	if _, err := Save(dir, "b", other, BakeInfo{}); err != nil {
		t.Fatal(err)
	}

	// Swap in the nodedata file from a different bake.
	data, err := os.ReadFile(filepath.Join(dir, "b"+nodeDataExt))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a"+nodeDataExt), data, 0644); err != nil {
		t.Fatal(err)
	}

	if _, _, err := Load(dir, "a"); !errors.Is(err, ErrMismatchedPair) {
		t.Errorf("expected ErrMismatchedPair, got %v", err)
	}
}

func TestLoadDetectsTruncation(t *testing.T) {
	dir := t.TempDir()
	if _, err := Save(dir, "t", testStore(), BakeInfo{}); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "t"+aabbExt)
	data, _ := os.ReadFile(path)
	if err := os.WriteFile(path, data[:len(data)-4], 0644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Load(dir, "t"); !errors.Is(err, ErrCorruptStore) {
		t.Errorf("expected ErrCorruptStore, got %v", err)
	}
}

func TestSaveRejectsUnevenCounts(t *testing.T) {
	s := testStore()
	s.NodeData = s.NodeData[:len(s.NodeData)-1]
	if _, err := Save(t.TempDir(), "u", s, BakeInfo{}); !errors.Is(err, ErrMismatchedPair) {
		t.Errorf("expected ErrMismatchedPair, got %v", err)
	}
}

func TestFromBytesShortBuffer(t *testing.T) {
	s := testStore()
	if _, err := FromBytes(s.Layout, s.AABBBytes()[:10], s.NodeDataBytes()); !errors.Is(err, ErrCorruptStore) {
		t.Errorf("expected ErrCorruptStore, got %v", err)
	}
}

func TestLoadMissingStore(t *testing.T) {
	if _, _, err := Load(t.TempDir(), "nope"); err == nil {
		t.Error("expected error loading a missing store")
	}
}
