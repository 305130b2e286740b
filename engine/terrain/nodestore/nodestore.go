// Package nodestore persists the baked per-node AABB and placement records of a terrain
// quad-tree. A store is three files side by side: <name>.aabb and <name>.nodedata hold flat
// little-endian f32 records, and <name>.yaml is a manifest tying the pair together.
package nodestore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/quadtree"
	"github.com/Carmen-Shannon/oxy-terrain/internal/logger"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	aabbExt     = ".aabb"
	nodeDataExt = ".nodedata"
	manifestExt = ".yaml"
)

var (
	// ErrMismatchedPair is returned when the two record files were not written by the same bake.
	ErrMismatchedPair = errors.New("nodestore: aabb and nodedata files do not belong together")

	// ErrCorruptStore is returned when a record file's size disagrees with the manifest.
	ErrCorruptStore = errors.New("nodestore: corrupt store")
)

// Store is the in-memory form of a node store. Records are indexed by flattened node id.
type Store struct {
	Layout   quadtree.Layout
	AABBs    []quadtree.GPUNodeAABB
	NodeData []quadtree.GPUNodeData
}

// Manifest describes a persisted store.
type Manifest struct {
	Layout         quadtree.Layout `yaml:"layout"`
	Nodes          uint32          `yaml:"nodes"`
	HeightmapSide  uint32          `yaml:"heightmap_side"`
	HeightScale    float32         `yaml:"height_scale"`
	HeightOrigin   float32         `yaml:"height_origin"`
	AABBSHA256     string          `yaml:"aabb_sha256"`
	NodeDataSHA256 string          `yaml:"nodedata_sha256"`
	BakedAt        time.Time       `yaml:"baked_at"`
}

// BakeInfo carries the bake inputs recorded in the manifest.
type BakeInfo struct {
	HeightmapSide uint32
	HeightScale   float32
	HeightOrigin  float32
}

// FromBytes builds a store from the raw record buffers read back after a bake.
//
// Parameters:
//   - layout: the tree layout the records were baked for
//   - aabbData: TotalNodes 24-byte AABB records
//   - nodeData: TotalNodes 12-byte NodeData records
//
// Returns:
//   - *Store: the decoded store
//   - error: ErrCorruptStore if either buffer is shorter than the layout needs
func FromBytes(layout quadtree.Layout, aabbData, nodeData []byte) (*Store, error) {
	n := layout.TotalNodes()
	if uint64(len(aabbData)) < uint64(n)*quadtree.NodeAABBWords*4 {
		return nil, fmt.Errorf("%w: %d aabb bytes for %d nodes", ErrCorruptStore, len(aabbData), n)
	}
	if uint64(len(nodeData)) < uint64(n)*quadtree.NodeDataWords*4 {
		return nil, fmt.Errorf("%w: %d nodedata bytes for %d nodes", ErrCorruptStore, len(nodeData), n)
	}

	aabbFloats := quadtree.UnmarshalFloats(aabbData[:n*quadtree.NodeAABBWords*4])
	dataFloats := quadtree.UnmarshalFloats(nodeData[:n*quadtree.NodeDataWords*4])
	s := &Store{
		Layout:   layout,
		AABBs:    make([]quadtree.GPUNodeAABB, n),
		NodeData: make([]quadtree.GPUNodeData, n),
	}
	for i := range n {
		a := aabbFloats[i*quadtree.NodeAABBWords:]
		s.AABBs[i] = quadtree.GPUNodeAABB{
			Extent:   [3]float32{a[0], a[1], a[2]},
			Position: [3]float32{a[3], a[4], a[5]},
		}
		d := dataFloats[i*quadtree.NodeDataWords:]
		s.NodeData[i] = quadtree.GPUNodeData{PositionX: d[0], PositionZ: d[1], Scale: d[2]}
	}
	return s, nil
}

// AABBBytes packs the AABB records for upload or persistence.
func (s *Store) AABBBytes() []byte {
	f := make([]float32, 0, len(s.AABBs)*quadtree.NodeAABBWords)
	for _, a := range s.AABBs {
		f = append(f, a.Extent[0], a.Extent[1], a.Extent[2], a.Position[0], a.Position[1], a.Position[2])
	}
	return quadtree.MarshalFloats(f)
}

// NodeDataBytes packs the NodeData records for upload or persistence.
func (s *Store) NodeDataBytes() []byte {
	f := make([]float32, 0, len(s.NodeData)*quadtree.NodeDataWords)
	for _, d := range s.NodeData {
		f = append(f, d.PositionX, d.PositionZ, d.Scale)
	}
	return quadtree.MarshalFloats(f)
}

// Save writes the store and its manifest to dir. Files are written to temporaries first and
// renamed into place, the manifest last.
//
// Parameters:
//   - dir: the output directory, created if missing
//   - name: the base file name
//   - s: the store to write
//   - info: bake inputs recorded in the manifest
//
// Returns:
//   - *Manifest: the manifest that was written
//   - error: ErrMismatchedPair if the record counts differ, or an I/O error
func Save(dir, name string, s *Store, info BakeInfo) (*Manifest, error) {
	if len(s.AABBs) != len(s.NodeData) {
		return nil, fmt.Errorf("%w: %d aabbs, %d nodedata records", ErrMismatchedPair, len(s.AABBs), len(s.NodeData))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	aabbData := s.AABBBytes()
	nodeData := s.NodeDataBytes()
	m := &Manifest{
		Layout:         s.Layout,
		Nodes:          uint32(len(s.AABBs)),
		HeightmapSide:  info.HeightmapSide,
		HeightScale:    info.HeightScale,
		HeightOrigin:   info.HeightOrigin,
		AABBSHA256:     digest(aabbData),
		NodeDataSHA256: digest(nodeData),
		BakedAt:        time.Now().UTC().Truncate(time.Second),
	}
	manifest, err := yaml.Marshal(m)
	if err != nil {
		return nil, err
	}

	base := filepath.Join(dir, name)
	for _, f := range []struct {
		path string
		data []byte
	}{
		{base + aabbExt, aabbData},
		{base + nodeDataExt, nodeData},
		{base + manifestExt, manifest},
	} {
		if err := writeFile(f.path, f.data); err != nil {
			return nil, err
		}
	}

	logger.Info("node store saved",
		zap.String("path", base),
		zap.Uint32("nodes", m.Nodes),
		zap.Int("aabb_bytes", len(aabbData)),
		zap.Int("nodedata_bytes", len(nodeData)),
	)
	return m, nil
}

// Load reads a store written by Save and verifies it against its manifest.
//
// Parameters:
//   - dir: the directory holding the store
//   - name: the base file name
//
// Returns:
//   - *Store: the loaded store
//   - *Manifest: its manifest
//   - error: ErrCorruptStore, ErrMismatchedPair, or an I/O error
func Load(dir, name string) (*Store, *Manifest, error) {
	base := filepath.Join(dir, name)

	raw, err := os.ReadFile(base + manifestExt)
	if err != nil {
		return nil, nil, fmt.Errorf("nodestore: failed to read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("%w: manifest: %v", ErrCorruptStore, err)
	}
	if err := m.Layout.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	if m.Nodes != m.Layout.TotalNodes() {
		return nil, nil, fmt.Errorf("%w: manifest lists %d nodes, layout has %d", ErrCorruptStore, m.Nodes, m.Layout.TotalNodes())
	}

	aabbData, err := os.ReadFile(base + aabbExt)
	if err != nil {
		return nil, nil, fmt.Errorf("nodestore: failed to read aabbs: %w", err)
	}
	nodeData, err := os.ReadFile(base + nodeDataExt)
	if err != nil {
		return nil, nil, fmt.Errorf("nodestore: failed to read nodedata: %w", err)
	}

	if want := uint64(m.Nodes) * quadtree.NodeAABBWords * 4; uint64(len(aabbData)) != want {
		return nil, nil, fmt.Errorf("%w: %s is %d bytes, expected %d", ErrCorruptStore, base+aabbExt, len(aabbData), want)
	}
	if want := uint64(m.Nodes) * quadtree.NodeDataWords * 4; uint64(len(nodeData)) != want {
		return nil, nil, fmt.Errorf("%w: %s is %d bytes, expected %d", ErrCorruptStore, base+nodeDataExt, len(nodeData), want)
	}
	if digest(aabbData) != m.AABBSHA256 || digest(nodeData) != m.NodeDataSHA256 {
		return nil, nil, fmt.Errorf("%w: checksum mismatch for %s", ErrMismatchedPair, base)
	}

	s, err := FromBytes(m.Layout, aabbData, nodeData)
	if err != nil {
		return nil, nil, err
	}
	return s, &m, nil
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
