package region

// DefaultGrowAtoms is the minimum number of atoms an extension adds.
const DefaultGrowAtoms AtomCount = 32

func roundUpCount(n, multiple AtomCount) AtomCount {
	if multiple == 0 {
		return n
	}

	return (n + multiple - 1) / multiple * multiple
}

// extend grows the backing store to satisfy an allocation the free list
// could not. It returns the carved-off atoms directly rather than
// pushing them through another free-list search: the new
// run is sized to exactly cover need plus whatever the growth policy
// asks for beyond that, and the topmost need atoms of it are handed
// back immediately.
func (h *Handle) extend(need AtomCount) (Atom, bool) {
	grow := DefaultGrowAtoms
	if doubled := roundUpCount(need*2, DefaultGrowAtoms); doubled > grow {
		grow = doubled
	}

	hdr := h.header()
	newSize := hdr.Size + uint64(grow)*AtomSize

	if hdr.MaxSize != 0 && newSize > hdr.MaxSize {
		h.log.Warn("chunk_alloc: extension would exceed max_size (%d > %d)", newSize, hdr.MaxSize)

		return 0, false
	}

	oldAtoms := Atom(hdr.Size >> AtomShift)

	if err := h.store.extendFixed(newSize); err != nil {
		h.log.Error("chunk_alloc: extension failed: %v", err)

		return 0, false
	}

	hdr.Size = newSize

	remainder := grow - need
	result := oldAtoms + Atom(remainder)

	if remainder > 0 {
		// LIFO insertion at the head: a recognized inconsistency with
		// the size-sorted invariant ChunkFree maintains. Kept as-is
		// rather than silently "fixing" it — this is a deliberate,
		// documented decision, not an oversight; see DESIGN.md.
		run := freeRunAt(h.base(), oldAtoms)
		run.Magic = freeRunMagic
		run.Size = uint32(remainder)
		run.Next = hdr.Free
		hdr.Free = uint32(oldAtoms)
	}

	return result, true
}
