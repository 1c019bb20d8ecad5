package region

import "unsafe"

// Builder is a value-returning fluent configurator for opening a
// region. Each method returns a modified copy, so a Builder can be
// safely reused as a base for several different Opens.
type Builder struct {
	opts    Options
	maxSize uint64
	log     Logger
}

// NewBuilder returns a Builder defaulting to an anonymous, read-only
// region of DefaultSizeAtoms atoms.
func NewBuilder() Builder {
	return Builder{opts: Options{Size: DefaultSizeAtoms * AtomSize}, log: nopLogger{}}
}

// Path makes the region file-backed at path. An empty path (the
// default) makes it anonymous.
func (b Builder) Path(path string) Builder {
	b.opts.Path = path

	return b
}

// Write allows mutation of the region.
func (b Builder) Write(write bool) Builder {
	b.opts.Write = write

	return b
}

// Mint truncates an existing backing file (or treats an anonymous
// region as fresh) and reinitializes the header.
func (b Builder) Mint(mint bool) Builder {
	b.opts.Mint = mint

	return b
}

// Private selects file permission 0o600 instead of 0o644. File-backed
// only.
func (b Builder) Private(private bool) Builder {
	b.opts.Private = private

	return b
}

// Size sets the desired minimum byte length; it is rounded up to a
// multiple of AtomSize.
func (b Builder) Size(bytes uint64) Builder {
	b.opts.Size = bytes

	return b
}

// MaxSize sets a ceiling on how large Open plus later extensions may
// grow the region. Zero (the default) means no limit. Only meaningful
// on Mint, since the ceiling is stamped into the header.
func (b Builder) MaxSize(bytes uint64) Builder {
	b.maxSize = bytes

	return b
}

// Logger installs a diagnostics sink; chunk_check and dump report
// through it. Defaults to a no-op logger.
func (b Builder) Logger(log Logger) Builder {
	if log == nil {
		log = nopLogger{}
	}

	b.log = log

	return b
}

// Open opens or creates the backing store and then either mints or
// validates its header, returning a Handle ready to serve allocations.
func (b Builder) Open() (*Handle, *Error) {
	store, err := openStore(b.opts)
	if err != nil {
		return nil, err
	}

	log := b.log
	if log == nil {
		log = nopLogger{}
	}

	if store.created {
		mintHeader(store.base, store.size)

		if b.maxSize != 0 {
			headerAt(store.base).MaxSize = b.maxSize
		}

		log.Info("region: minted fresh header, size=%d bytes", store.size)
	} else {
		if verr := validateHeader(store.base); verr != nil {
			_ = store.close()

			return nil, verr
		}

		log.Debug("region: validated existing header")
	}

	return &Handle{store: store, log: log}, nil
}

// Handle is the opaque, stateful result of Builder.Open. All Handle
// methods operate against a single mapping and assume single-threaded
// use: the free list carries no internal synchronization.
type Handle struct {
	store *backingStore
	log   Logger
}

func (h *Handle) base() unsafe.Pointer { return h.store.base }
func (h *Handle) header() *Header      { return headerAt(h.store.base) }

// AtomToAddr reinterprets the bytes at atom index as a *T. Behavior is
// undefined for indices outside the mapping or types that don't match
// what was actually written there.
func AtomToAddr[T any](h *Handle, index Atom) *T {
	return TypedView[T](h.base(), index)
}

// AtomBytes returns a byte slice view of n bytes starting at atom
// index, for callers that need to read or stamp an arbitrary run of
// bytes rather than a single typed value.
func AtomBytes(h *Handle, index Atom, n uint64) []byte {
	return bytesAt(h.base(), index, uintptr(n))
}

// Close unmaps the region, syncing file contents first for file-backed
// stores. Closing invalidates every view previously taken into the
// mapping; using one afterward is undefined behavior.
func (h *Handle) Close() error {
	if err := h.store.close(); err != nil {
		return err
	}

	return nil
}
