// Package patch generates the shared grid mesh every terrain node is drawn with.
package patch

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"
)

const (
	// DefaultSize is the number of quads along one side of the patch.
	DefaultSize = 16

	// DefaultUnit is the spacing between neighbouring vertices before the node scale is applied.
	DefaultUnit = 1
)

// GPUPatchVertex is one patch vertex as laid out in the vertex buffer.
// Size: 28 bytes.
type GPUPatchVertex struct {
	Position [3]float32 // offset  0: patch-local position, centred on the origin
	Edge     [4]float32 // offset 12: -x, +x, -z, +z flags; 1 on odd vertices that stitch to a coarser neighbour
}

// Size returns the size of the GPUPatchVertex struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes (28)
func (g *GPUPatchVertex) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the vertex for GPU upload.
//
// Returns:
//   - []byte: 28-byte buffer
func (g *GPUPatchVertex) Marshal() []byte {
	buf := make([]byte, g.Size())
	for i, v := range g.Position {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	for i, v := range g.Edge {
		binary.LittleEndian.PutUint32(buf[12+i*4:], math.Float32bits(v))
	}
	return buf
}

// Mesh is a (Size+1)² vertex grid of Size² quads, two counter-clockwise triangles each when
// viewed from +y. Vertices are row-major, z rows of x vertices.
type Mesh struct {
	Size     int
	Unit     float32
	Vertices []GPUPatchVertex
	Indices  []uint32
}

// New builds a patch mesh.
//
// Parameters:
//   - size: quads per side; must be even so every edge alternates stitched and kept vertices
//   - unit: vertex spacing
//
// Returns:
//   - *Mesh: the mesh
//   - error: an error if size is not a positive even number or unit is not positive
func New(size int, unit float32) (*Mesh, error) {
	if size <= 0 || size%2 != 0 {
		return nil, fmt.Errorf("patch: size must be a positive even number, got %d", size)
	}
	if unit <= 0 {
		return nil, fmt.Errorf("patch: unit must be positive, got %f", unit)
	}

	row := size + 1
	offset := -float32(size) * unit * 0.5
	m := &Mesh{
		Size:     size,
		Unit:     unit,
		Vertices: make([]GPUPatchVertex, row*row),
		Indices:  make([]uint32, 0, size*size*6),
	}

	for z := range row {
		for x := range row {
			v := &m.Vertices[z*row+x]
			v.Position = [3]float32{offset + float32(x)*unit, 0, offset + float32(z)*unit}
			interiorZ := z != 0 && z != size
			interiorX := x != 0 && x != size
			if z%2 != 0 && interiorZ {
				if x == 0 {
					v.Edge[0] = 1
				}
				if x == size {
					v.Edge[1] = 1
				}
			}
			if x%2 != 0 && interiorX {
				if z == 0 {
					v.Edge[2] = 1
				}
				if z == size {
					v.Edge[3] = 1
				}
			}
		}
	}

	for qz := range size {
		for qx := range size {
			i := uint32(qz*row + qx)
			r := uint32(row)
			m.Indices = append(m.Indices,
				i, i+r, i+r+1,
				i, i+r+1, i+1,
			)
		}
	}
	return m, nil
}

// IndexCount returns the number of indices drawn per instance.
func (m *Mesh) IndexCount() int {
	return len(m.Indices)
}

// VertexBytes packs the vertex buffer.
func (m *Mesh) VertexBytes() []byte {
	var v GPUPatchVertex
	buf := make([]byte, 0, len(m.Vertices)*v.Size())
	for i := range m.Vertices {
		buf = append(buf, m.Vertices[i].Marshal()...)
	}
	return buf
}

// IndexBytes packs the u32 index buffer.
func (m *Mesh) IndexBytes() []byte {
	buf := make([]byte, len(m.Indices)*4)
	for i, idx := range m.Indices {
		binary.LittleEndian.PutUint32(buf[i*4:], idx)
	}
	return buf
}
