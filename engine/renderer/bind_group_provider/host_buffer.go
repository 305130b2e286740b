package bind_group_provider

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrUnalignedWrite is returned when a host buffer write does not start and end on a 4-byte boundary.
	// WebGPU imposes the same rule on queue writes, so both backends reject the same inputs.
	ErrUnalignedWrite = errors.New("bind_group_provider: host buffer writes must be 4-byte aligned")

	// ErrWriteOutOfRange is returned when a host buffer write extends past the end of the buffer.
	ErrWriteOutOfRange = errors.New("bind_group_provider: host buffer write out of range")
)

// HostBuffer is the CPU twin of a GPU storage or uniform buffer. Its contents are held as
// little-endian u32 words so host kernels can use sync/atomic on the same slots that WGSL
// declares as atomic<u32>.
type HostBuffer struct {
	words []uint32
}

// NewHostBuffer allocates a zeroed host buffer of at least size bytes, rounded up to a whole word.
//
// Parameters:
//   - size: the requested size in bytes
//
// Returns:
//   - *HostBuffer: the allocated buffer
func NewHostBuffer(size uint64) *HostBuffer {
	return &HostBuffer{words: make([]uint32, (size+3)/4)}
}

// Size returns the buffer size in bytes.
func (b *HostBuffer) Size() uint64 {
	return uint64(len(b.words)) * 4
}

// Words returns the live word slice. Host kernels read and write it directly.
func (b *HostBuffer) Words() []uint32 {
	return b.words
}

// Bytes returns a little-endian copy of the buffer contents.
func (b *HostBuffer) Bytes() []byte {
	out := make([]byte, len(b.words)*4)
	for i, w := range b.words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

// Write copies data into the buffer starting at the given byte offset.
//
// Parameters:
//   - offset: the destination byte offset, a multiple of 4
//   - data: the bytes to write, a multiple of 4 in length
//
// Returns:
//   - error: ErrUnalignedWrite or ErrWriteOutOfRange, or nil
func (b *HostBuffer) Write(offset uint64, data []byte) error {
	if offset%4 != 0 || len(data)%4 != 0 {
		return fmt.Errorf("%w: offset %d, length %d", ErrUnalignedWrite, offset, len(data))
	}
	if offset+uint64(len(data)) > b.Size() {
		return fmt.Errorf("%w: offset %d + length %d > size %d", ErrWriteOutOfRange, offset, len(data), b.Size())
	}
	base := offset / 4
	for i := 0; i < len(data); i += 4 {
		b.words[base+uint64(i/4)] = binary.LittleEndian.Uint32(data[i:])
	}
	return nil
}
