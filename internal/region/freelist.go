package region

import "fmt"

// ChunkAlloc serves a request for size bytes from the free list, falling
// back to the extension engine when no run fits. It returns the atom
// index of the allocation and true, or (0, false) if the request cannot
// be satisfied — a zero size is rejected without searching, and an
// extension that is refused (max_size) or fails is reported the same
// way: as an absent result, never as an error value.
func (h *Handle) ChunkAlloc(size uint64) (Atom, bool) {
	if size == 0 {
		return 0, false
	}

	need := NumAtomsNeeded(size)

	if a, ok := h.allocFromFreeList(need); ok {
		return a, true
	}

	return h.extend(need)
}

// allocFromFreeList implements a best-fit-by-first-pass-with-tail-split
// policy: walk from the head; an exact-size run is unlinked whole, a
// larger run is split from the top (the caller receives the topmost
// need atoms, the run shrinks in place and keeps its position in the
// list).
func (h *Handle) allocFromFreeList(need AtomCount) (Atom, bool) {
	base := h.base()

	parent := Atom(0) // 0 means "header.Free is the incoming link"
	cur := Atom(h.header().Free)

	for cur != 0 {
		run := freeRunAt(base, cur)
		if run.Magic != freeRunMagic {
			panic(fmt.Sprintf("region: free-list corruption at atom %d: bad free-run magic", cur))
		}

		switch {
		case AtomCount(run.Size) < need:
			parent = cur
			cur = Atom(run.Next)
		case AtomCount(run.Size) == need:
			h.setLink(parent, Atom(run.Next))

			return cur, true
		default:
			run.Size -= uint32(need)

			return cur + Atom(run.Size), true
		}
	}

	return 0, false
}

// ChunkFree returns an atom previously obtained from ChunkAlloc. size
// must be the exact byte size passed to the matching ChunkAlloc call;
// passing a different size is a caller contract violation with
// undefined results, not something this function can detect.
//
// The freed run is inserted just before the first existing run whose
// size is less than or equal to its own. The list as a whole is not
// strictly size-ordered: allocation shrinks a split run in place, and
// extension pushes its remainder at the head. Adjacent free runs are
// never coalesced —
// fragmentation is an accepted limitation, not a bug.
func (h *Handle) ChunkFree(index Atom, size uint64) {
	c := NumAtomsNeeded(size)
	base := h.base()

	parent := Atom(0)
	cur := Atom(h.header().Free)

	for cur != 0 {
		run := freeRunAt(base, cur)
		if run.Magic != freeRunMagic {
			panic(fmt.Sprintf("region: free-list corruption at atom %d: bad free-run magic", cur))
		}

		if AtomCount(run.Size) <= c {
			break
		}

		parent = cur
		cur = Atom(run.Next)
	}

	freed := freeRunAt(base, index)
	freed.Magic = freeRunMagic
	freed.Size = uint32(c)
	freed.Next = uint32(cur)

	h.setLink(parent, index)
}

// setLink overwrites the link pointing at the node following parent —
// header.Free itself when parent is 0 (the sentinel for "no parent
// node", since atom 0 can never be a free run).
func (h *Handle) setLink(parent, value Atom) {
	if parent == 0 {
		h.header().Free = uint32(value)

		return
	}

	freeRunAt(h.base(), parent).Next = uint32(value)
}

// Report is the result of ChunkCheck: atoms seen covered by more than
// one free run (a list-integrity violation) and, when requested, atoms
// in [1, N) that are neither allocated-and-tracked nor present in the
// free list (a leak).
type Report struct {
	Overlaps []Atom
	Leaked   []Atom
}

// OK reports whether the check found no problems.
func (r Report) OK() bool { return len(r.Overlaps) == 0 && len(r.Leaked) == 0 }

// ChunkCheck walks the free list marking every atom it covers, flags any
// atom marked twice, and — when allFree is true, meaning the caller
// asserts every live atom has been freed — flags any atom in [1, N)
// that the walk never marked. Errors are reported through the handle's
// logger as well as returned.
func (h *Handle) ChunkCheck(allFree bool) Report {
	hdr := h.header()
	totalAtoms := Atom(hdr.Size >> AtomShift)
	marks := make([]bool, totalAtoms)
	seen := make(map[Atom]bool)

	var report Report

	base := h.base()
	cur := Atom(hdr.Free)

	for cur != 0 {
		if seen[cur] {
			panic(fmt.Sprintf("region: free-list cycle detected at atom %d", cur))
		}

		seen[cur] = true

		run := freeRunAt(base, cur)
		if run.Magic != freeRunMagic {
			panic(fmt.Sprintf("region: free-list corruption at atom %d: bad free-run magic", cur))
		}

		for i := Atom(0); i < Atom(run.Size); i++ {
			idx := cur + i
			if marks[idx] {
				report.Overlaps = append(report.Overlaps, idx)
			}

			marks[idx] = true
		}

		cur = Atom(run.Next)
	}

	if allFree {
		for i := Atom(1); i < totalAtoms; i++ {
			if !marks[i] {
				report.Leaked = append(report.Leaked, i)
			}
		}
	}

	for _, a := range report.Overlaps {
		h.log.Error("chunk_check: atom %d is covered by more than one free run", a)
	}

	for _, a := range report.Leaked {
		h.log.Error("chunk_check: atom %d is neither allocated nor free (leak)", a)
	}

	return report
}

// Dump walks the free list and logs each node. A repeated atom index
// indicates a cycle and is a programming error — corruption of the
// mapped bytes that this library cannot recover from — so Dump panics
// rather than looping forever.
func (h *Handle) Dump() {
	base := h.base()
	seen := make(map[Atom]bool)

	cur := Atom(h.header().Free)

	h.log.Debug("free list: root=%d", cur)

	for cur != 0 {
		if seen[cur] {
			panic(fmt.Sprintf("region: free-list cycle detected at atom %d", cur))
		}

		seen[cur] = true

		run := freeRunAt(base, cur)
		if run.Magic != freeRunMagic {
			panic(fmt.Sprintf("region: free-list corruption at atom %d: bad free-run magic", cur))
		}

		h.log.Debug("free list: atom=%d size=%d next=%d", cur, run.Size, run.Next)

		cur = Atom(run.Next)
	}
}
