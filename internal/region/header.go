package region

import (
	"fmt"
	"unsafe"

	"github.com/Masterminds/semver/v3"
)

const (
	// headerMagic is 0xBE1E read with native byte order.
	headerMagic uint16 = 0xBE1E
	// headerMagicSwapped is what headerMagic looks like when read with
	// the opposite byte order — seeing this means the file was written
	// on a host of the other endianness.
	headerMagicSwapped uint16 = 0x1EBE

	// freeRunMagic validates every node visited while walking the free
	// list.
	freeRunMagic uint32 = 0xCABB1E16

	// versMajor bumps on incompatible on-disk changes.
	versMajor uint8 = 1
	// versMinor bumps on compatible (additive) on-disk changes.
	versMinor uint8 = 0
)

// Header is the fixed-layout prefix of the mapping, stored at byte 0
// (atom 0). No user data may ever be placed at atom 0. Field order and
// widths are chosen for native alignment: the two 8-byte fields start
// on an 8-byte boundary, so there are no compiler-inserted padding
// surprises to account for when another process (or another Go version)
// reads the same bytes.
type Header struct {
	Magic      uint16
	VersMajor  uint8
	VersMinor  uint8
	_          uint32 // padding, keeps Size 8-byte aligned
	Size       uint64 // current live byte length of the mapping
	MaxSize    uint64 // ceiling; 0 = no limit
	NumHeaders uint32 // number of optional secondary headers (reserved, always 0)
	Free       uint32 // atom index of the first free run, 0 if none
}

// headerAt views the header stored at atom 0 of a mapping based at base.
func headerAt(base unsafe.Pointer) *Header {
	return (*Header)(base)
}

// freeRunHeader is stored at the first bytes of each free run.
type freeRunHeader struct {
	Magic uint32
	Size  uint32 // atoms in this run, including the atom holding this header
	Next  uint32 // atom index of the next free run, 0 = terminator
}

func freeRunAt(base unsafe.Pointer, index Atom) *freeRunHeader {
	return TypedView[freeRunHeader](base, index)
}

// mintHeader stamps a fresh Header and the single free run covering
// atoms [1, sizeBytes>>AtomShift) onto a newly minted mapping.
func mintHeader(base unsafe.Pointer, sizeBytes uint64) {
	h := headerAt(base)
	h.Magic = headerMagic
	h.VersMajor = versMajor
	h.VersMinor = versMinor
	h.Size = sizeBytes
	h.MaxSize = 0
	h.NumHeaders = 0

	totalAtoms := Atom(sizeBytes >> AtomShift)
	if totalAtoms > 1 {
		run := freeRunAt(base, 1)
		run.Magic = freeRunMagic
		run.Size = uint32(totalAtoms - 1)
		run.Next = 0
		h.Free = 1
	} else {
		h.Free = 0
	}
}

// validateHeader rejects a reopened mapping whose header does not match
// this library's expectations: vers_major differences always fail, and
// a vers_minor strictly greater than what this library understands
// fails (forward reads of older-or-equal minor versions are accepted).
func validateHeader(base unsafe.Pointer) *Error {
	h := headerAt(base)

	switch h.Magic {
	case headerMagic:
		// ok
	case headerMagicSwapped:
		return badInfo("magic has endian issues")
	default:
		return badInfo("magic has wrong value")
	}

	if h.VersMajor != versMajor {
		return badInfo("version number is wrong")
	}

	onDisk, err := semver.NewVersion(fmt.Sprintf("%d.%d.0", h.VersMajor, h.VersMinor))
	if err != nil {
		return badInfo("version number is wrong")
	}

	current, err := semver.NewVersion(fmt.Sprintf("%d.%d.0", versMajor, versMinor))
	if err != nil {
		return badInfo("version number is wrong")
	}

	if onDisk.Minor() > current.Minor() {
		return badInfo("minor version number is too new")
	}

	return nil
}
