//go:build unix

package region

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/memregion/memregion/internal/spinlock"
)

const (
	// addrDefault is the first fixed virtual address a mapping is
	// requested at.
	addrDefault uintptr = 0x2000_0000_0000
	// addrStep is added to the address between retries.
	addrStep uintptr = 0x0200_0000_0000
	// addrRetries bounds how many addresses are tried before giving up.
	addrRetries = 10
)

// addrCursor and its guard advance a process-wide fixed-address cursor
// atomically so that concurrently opened handles in one process never
// collide. This is the one place region uses spinlock: the critical
// section is a single pointer-width add.
var (
	addrCursorLock spinlock.SpinLock
	addrCursor     = addrDefault
)

func reserveAddr() uintptr {
	g := addrCursorLock.Lock()
	defer g.Unlock()

	addr := addrCursor
	addrCursor += addrStep

	return addr
}

func mmapRaw(fd int, addr, length uintptr, prot, flags int) (uintptr, error) {
	r1, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, length, uintptr(prot), uintptr(flags), uintptr(fd), 0)
	if errno != 0 {
		return 0, errno
	}

	return r1, nil
}

func munmapRaw(addr, length uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_MUNMAP, addr, length, 0)
	if errno != 0 {
		return errno
	}

	return nil
}

func mremapRaw(oldAddr, oldSize, newSize uintptr) (uintptr, error) {
	// flags=0: no MREMAP_MAYMOVE, so the kernel fails rather than
	// silently relocating the mapping. Outstanding atom indices stay
	// valid pointers across an extension.
	r1, _, errno := unix.Syscall6(unix.SYS_MREMAP, oldAddr, oldSize, newSize, 0, 0, 0)
	if errno != 0 {
		return 0, errno
	}

	return r1, nil
}

// mapFixed requests a mapping at the next address in the process-wide
// cursor, retrying at addrStep increments until the OS actually honors
// the requested address.
func (s *backingStore) mapFixed() *Error {
	length := uintptr(s.size)
	fd := s.fd()

	prot := unix.PROT_READ
	if s.write {
		prot |= unix.PROT_WRITE
	}

	flags := unix.MAP_SHARED | unix.MAP_FIXED
	if fd == -1 {
		flags = unix.MAP_PRIVATE | unix.MAP_ANON | unix.MAP_FIXED
	}

	for i := 0; i < addrRetries; i++ {
		addr := reserveAddr()

		got, err := mmapRaw(fd, addr, length, prot, flags)
		if err != nil {
			continue
		}

		if got != addr {
			_ = munmapRaw(got, length)

			continue
		}

		s.base = unsafe.Pointer(got)

		return nil
	}

	return badMmap("could not obtain a fixed-address mapping after retries", nil)
}

func (s *backingStore) unmap() *Error {
	if s.base == nil {
		return nil
	}

	if err := munmapRaw(uintptr(s.base), uintptr(s.size)); err != nil {
		return badMmap("munmap failed", err)
	}

	s.base = nil

	return nil
}

func (s *backingStore) msync() *Error {
	if s.base == nil || s.file == nil {
		return nil
	}

	b := unsafe.Slice((*byte)(s.base), s.size)
	if err := unix.Msync(b, unix.MS_SYNC); err != nil {
		return badMmap("msync failed", err)
	}

	return nil
}

// extendFixed grows the backing file and remaps it in place at the
// same base address. File-backed only.
func (s *backingStore) extendFixed(newSize uint64) *Error {
	if s.file == nil {
		return badMmap("anonymous store extension is not supported", nil)
	}

	if err := s.file.Truncate(int64(newSize)); err != nil {
		return badFile("cannot extend backing file", err)
	}

	newAddr, err := mremapRaw(uintptr(s.base), uintptr(s.size), uintptr(newSize))
	if err != nil {
		return badMmap("mremap failed", err)
	}

	if newAddr != uintptr(s.base) {
		return badMmap("mremap returned a different base address", nil)
	}

	s.size = newSize

	return nil
}
