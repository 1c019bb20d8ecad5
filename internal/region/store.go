package region

import (
	"os"
	"unsafe"
)

// Options configures how a backing store is opened. See Builder for the
// fluent constructor callers actually use.
type Options struct {
	// Path, if set, makes this a durable file-backed store. If unset,
	// the store is an anonymous, process-lifetime-only region.
	Path string
	// Write allows mutation. Required for Mint.
	Write bool
	// Mint truncates an existing file (or treats the store as fresh)
	// and reinitializes the header.
	Mint bool
	// Private selects file permission 0o600 when true, 0o644 when
	// false. File-backed only.
	Private bool
	// Size is the desired minimum byte length, rounded up to a
	// multiple of AtomSize. Zero means DefaultSizeAtoms atoms.
	Size uint64
}

// DefaultSizeAtoms is the minimum region size, in atoms, used when
// Options.Size is zero.
const DefaultSizeAtoms = 32

// backingStore owns the file descriptor (if any) and the live mapping.
type backingStore struct {
	file    *os.File // nil for an anonymous store
	created bool
	write   bool
	base    unsafe.Pointer
	size    uint64 // current mapped length in bytes
}

func roundUpToAtom(bytes uint64) uint64 {
	return uint64(NumAtomsNeeded(bytes)) << AtomShift
}

// openStore computes write, detects created, opens/creates/sizes the
// file (or skips all of that for an anonymous store), then installs
// the fixed mapping.
func openStore(opts Options) (*backingStore, *Error) {
	size := opts.Size
	if size == 0 {
		size = DefaultSizeAtoms * AtomSize
	}
	size = roundUpToAtom(size)

	write := opts.Write || opts.Mint

	if opts.Path == "" {
		return openAnonymousStore(size, write)
	}

	return openFileStore(opts, size, write)
}

func openFileStore(opts Options, size uint64, write bool) (*backingStore, *Error) {
	perm := os.FileMode(0o644)
	if opts.Private {
		perm = 0o600
	}

	created := opts.Mint
	if opts.Mint {
		// Truncate to zero (or create fresh) before sizing below.
		if err := os.Truncate(opts.Path, 0); err != nil && !os.IsNotExist(err) {
			return nil, badFile("cannot truncate for mint", err)
		}
	} else {
		// Documented race window: a file that springs into existence
		// between this Stat and the Open below will be treated as
		// pre-existing, not freshly created. See DESIGN.md.
		if _, err := os.Stat(opts.Path); err != nil {
			if os.IsNotExist(err) {
				created = true
			} else {
				return nil, badFile("cannot stat backing file", err)
			}
		}
	}

	flags := os.O_RDONLY
	if write {
		flags = os.O_RDWR | os.O_CREATE
	}

	f, err := os.OpenFile(opts.Path, flags, perm)
	if err != nil {
		return nil, badFile("cannot open backing file", err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()

		return nil, badFile("cannot stat open backing file", err)
	}

	finalSize := size
	if uint64(st.Size()) > size {
		finalSize = roundUpToAtom(uint64(st.Size()))
	}

	if uint64(st.Size()) != finalSize {
		if !write {
			f.Close()

			return nil, badFile("backing file is the wrong size and store is read-only", nil)
		}

		if err := f.Truncate(int64(finalSize)); err != nil {
			f.Close()

			return nil, badFile("cannot size backing file", err)
		}
	}

	s := &backingStore{file: f, created: created, write: write, size: finalSize}

	if err := s.mapFixed(); err != nil {
		f.Close()

		return nil, err
	}

	return s, nil
}

func openAnonymousStore(size uint64, write bool) (*backingStore, *Error) {
	s := &backingStore{created: true, write: write, size: size}
	if err := s.mapFixed(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *backingStore) fd() int {
	if s.file == nil {
		return -1
	}

	return int(s.file.Fd())
}

// close unmaps the region; file-backed stores are synced first.
func (s *backingStore) close() *Error {
	if s.file != nil {
		if err := s.msync(); err != nil {
			return err
		}
	}

	if err := s.unmap(); err != nil {
		return err
	}

	if s.file != nil {
		if err := s.file.Close(); err != nil {
			return badFile("cannot close backing file", err)
		}
	}

	return nil
}
