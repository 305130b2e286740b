package quadtree

import "sync/atomic"

// InvalidSlot is returned by the reservation helpers when a list is full.
const InvalidSlot = ^uint32(0)

// Candidate lists are laid out as one count word followed by capacity id words.
const candidateHeaderWords = 1

// CandidateListWords returns the number of u32 words a candidate list of the given capacity occupies.
func CandidateListWords(capacity uint32) uint32 {
	return candidateHeaderWords + capacity
}

// reserve atomically claims n consecutive slots behind the counter at words[counter].
// The claim is all-or-nothing: when fewer than n slots remain the counter is left untouched,
// so it saturates at capacity and never wraps.
func reserve(words []uint32, counter int, n, capacity uint32) uint32 {
	ptr := &words[counter]
	for {
		old := atomic.LoadUint32(ptr)
		if old > capacity || capacity-old < n {
			return InvalidSlot
		}
		if atomic.CompareAndSwapUint32(ptr, old, old+n) {
			return old
		}
	}
}

// AppendCandidates appends ids to the candidate list as a single reservation.
//
// Parameters:
//   - list: the candidate list words (count followed by ids)
//   - capacity: the number of id slots in the list
//   - ids: the ids to append
//
// Returns:
//   - bool: false when the list could not fit every id, in which case nothing was written
func AppendCandidates(list []uint32, capacity uint32, ids ...uint32) bool {
	slot := reserve(list, 0, uint32(len(ids)), capacity)
	if slot == InvalidSlot {
		return false
	}
	copy(list[candidateHeaderWords+slot:], ids)
	return true
}

// CandidateCount returns the number of live ids in the list, clamped to capacity.
func CandidateCount(list []uint32, capacity uint32) uint32 {
	return min(atomic.LoadUint32(&list[0]), capacity)
}

// Candidates returns a copy of the live ids in the list.
func Candidates(list []uint32, capacity uint32) []uint32 {
	n := CandidateCount(list, capacity)
	out := make([]uint32, n)
	copy(out, list[candidateHeaderWords:candidateHeaderWords+n])
	return out
}

// SeedCandidates overwrites the list with the given ids.
func SeedCandidates(list []uint32, ids []uint32) {
	atomic.StoreUint32(&list[0], uint32(len(ids)))
	copy(list[candidateHeaderWords:], ids)
}

// SeedWords returns the little-endian word image written into both candidate buffers
// before the first tick: the root count followed by the root ids.
func SeedWords(layout Layout) []uint32 {
	roots := layout.RootIDs()
	words := make([]uint32, candidateHeaderWords+len(roots))
	words[0] = uint32(len(roots))
	copy(words[candidateHeaderWords:], roots)
	return words
}

// ResetCandidates empties the list. It is the host equivalent of the reset_candidates kernel.
func ResetCandidates(list []uint32) {
	atomic.StoreUint32(&list[0], 0)
}

// ReserveInstance claims one slot in the cull result array by bumping instanceCount in the
// draw record, bounded by the result capacity.
func ReserveInstance(drawArgs []uint32, capacity uint32) uint32 {
	return reserve(drawArgs, drawArgsInstanceCountWord, 1, capacity)
}

// ResetDrawArgs zeroes instanceCount and leaves every other field of the draw record alone.
// It is the host equivalent of the reset_draw_args kernel.
func ResetDrawArgs(drawArgs []uint32) {
	atomic.StoreUint32(&drawArgs[drawArgsInstanceCountWord], 0)
}
