package patch

import (
	"testing"
)

func TestNewPatchCounts(t *testing.T) {
	m, err := New(DefaultSize, DefaultUnit)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if len(m.Vertices) != 17*17 {
		t.Errorf("expected %d vertices, got %d", 17*17, len(m.Vertices))
	}
	if m.IndexCount() != 16*16*6 {
		t.Errorf("expected %d indices, got %d", 16*16*6, m.IndexCount())
	}
	if got := len(m.VertexBytes()); got != 17*17*28 {
		t.Errorf("expected %d vertex bytes, got %d", 17*17*28, got)
	}
	if got := len(m.IndexBytes()); got != 16*16*6*4 {
		t.Errorf("expected %d index bytes, got %d", 16*16*6*4, got)
	}
	for _, idx := range m.Indices {
		if int(idx) >= len(m.Vertices) {
			t.Fatalf("index %d out of range", idx)
		}
	}
}

func TestPatchIsCentred(t *testing.T) {
	m, _ := New(4, 2)
	first := m.Vertices[0].Position
	last := m.Vertices[len(m.Vertices)-1].Position
	if first != [3]float32{-4, 0, -4} || last != [3]float32{4, 0, 4} {
		t.Errorf("expected corners (-4,0,-4) and (4,0,4), got %v and %v", first, last)
	}
}

func TestPatchEdgeFlags(t *testing.T) {
	m, _ := New(DefaultSize, DefaultUnit)
	row := DefaultSize + 1

	var counts [4]int
	for z := range row {
		for x := range row {
			e := m.Vertices[z*row+x].Edge
			for side, f := range e {
				if f == 0 {
					continue
				}
				counts[side]++
				corner := (x == 0 || x == DefaultSize) && (z == 0 || z == DefaultSize)
				if corner {
					t.Errorf("corner (%d, %d) must not be flagged", x, z)
				}
			}
		}
	}
	// odd positions 1, 3, ..., 15 on each side
	for side, c := range counts {
		if c != DefaultSize/2 {
			t.Errorf("side %d: expected %d flagged vertices, got %d", side, DefaultSize/2, c)
		}
	}

	if m.Vertices[1*row+0].Edge[0] != 1 {
		t.Error("expected vertex (0, 1) flagged on -x")
	}
	if m.Vertices[2*row+0].Edge[0] != 0 {
		t.Error("expected vertex (0, 2) unflagged")
	}
	if m.Vertices[DefaultSize*row+3].Edge[3] != 1 {
		t.Error("expected vertex (3, size) flagged on +z")
	}
}

func TestPatchWindingFacesUp(t *testing.T) {
	m, _ := New(4, 1)
	for i := 0; i < len(m.Indices); i += 3 {
		a := m.Vertices[m.Indices[i]].Position
		b := m.Vertices[m.Indices[i+1]].Position
		c := m.Vertices[m.Indices[i+2]].Position
		// y component of (b-a) x (c-a)
		ny := (b[2]-a[2])*(c[0]-a[0]) - (b[0]-a[0])*(c[2]-a[2])
		if ny <= 0 {
			t.Fatalf("triangle %d faces down (ny=%f)", i/3, ny)
		}
	}
}

func TestNewRejectsBadSizes(t *testing.T) {
	for _, size := range []int{0, -2, 3} {
		if _, err := New(size, 1); err == nil {
			t.Errorf("size %d: expected error", size)
		}
	}
	if _, err := New(4, 0); err == nil {
		t.Error("expected error for zero unit")
	}
}
