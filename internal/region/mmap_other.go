//go:build !unix

package region

// Fixed-address mmap/mremap has no portable equivalent outside the
// unix build tag; non-unix hosts fail at open/extend time with BadMmap
// rather than silently falling back to a relocatable mapping, which
// would break the "base address unchanged after extension" invariant.

func (s *backingStore) mapFixed() *Error {
	return badMmap("fixed-address mapping is not supported on this platform", nil)
}

func (s *backingStore) unmap() *Error {
	return nil
}

func (s *backingStore) msync() *Error {
	return nil
}

func (s *backingStore) extendFixed(uint64) *Error {
	return badMmap("fixed-address mapping is not supported on this platform", nil)
}
