// Package harness drives an internal/region.Handle from a small text
// script, the way a crash/replay test would.
package harness

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/memregion/memregion/internal/region"
)

// slot tracks one still-held allocation so the harness can verify its
// byte pattern at free time and auto-free anything left over at
// "finish".
type slot struct {
	atom region.Atom
	size uint64
}

// Run reads script line by line and drives h accordingly, writing a
// transcript of each command to w. Recognized commands:
//
//	a <slot> <size>   allocate <size> bytes into <slot>, stamp a pattern
//	f <slot> <size>   free <slot>, first verifying its pattern survived
//	d                 dump the free list
//	# ...             comment, ignored
//	finish            free any still-held slots and stop
//
// Blank lines are ignored. Run returns an error for a malformed
// command, an unknown slot reference, or a pattern mismatch at free
// time (which indicates the allocator handed part of a still-held slot
// to another allocation).
func Run(h *region.Handle, script io.Reader, w io.Writer) error {
	slots := make(map[string]slot)
	scanner := bufio.NewScanner(script)

	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)

		switch fields[0] {
		case "finish":
			finishAll(h, slots, w)

			return scanner.Err()

		case "a":
			if len(fields) != 3 {
				return fmt.Errorf("harness: line %d: want 'a <slot> <size>'", lineNum)
			}

			size, err := strconv.ParseUint(fields[2], 10, 64)
			if err != nil {
				return fmt.Errorf("harness: line %d: bad size: %w", lineNum, err)
			}

			atom, ok := h.ChunkAlloc(size)
			if !ok {
				return fmt.Errorf("harness: line %d: chunk_alloc(%d) not satisfied", lineNum, size)
			}

			stamp(h, atom, size, fields[1])
			slots[fields[1]] = slot{atom: atom, size: size}
			fmt.Fprintf(w, "a %s size=%d atom=%d\n", fields[1], size, atom)

		case "f":
			if len(fields) != 3 {
				return fmt.Errorf("harness: line %d: want 'f <slot> <size>'", lineNum)
			}

			s, ok := slots[fields[1]]
			if !ok {
				return fmt.Errorf("harness: line %d: unknown slot %q", lineNum, fields[1])
			}

			size, err := strconv.ParseUint(fields[2], 10, 64)
			if err != nil {
				return fmt.Errorf("harness: line %d: bad size: %w", lineNum, err)
			}

			if size != s.size {
				return fmt.Errorf("harness: line %d: slot %q freed with size %d, allocated with %d",
					lineNum, fields[1], size, s.size)
			}

			if !verify(h, s.atom, s.size, fields[1]) {
				return fmt.Errorf("harness: line %d: slot %q's byte pattern was corrupted before free", lineNum, fields[1])
			}

			h.ChunkFree(s.atom, s.size)
			delete(slots, fields[1])
			fmt.Fprintf(w, "f %s\n", fields[1])

		case "d":
			h.Dump()
			fmt.Fprintln(w, "d")

		default:
			return fmt.Errorf("harness: line %d: unknown command %q", lineNum, fields[0])
		}
	}

	finishAll(h, slots, w)

	return scanner.Err()
}

func finishAll(h *region.Handle, slots map[string]slot, w io.Writer) {
	for name, s := range slots {
		h.ChunkFree(s.atom, s.size)
		delete(slots, name)
		fmt.Fprintf(w, "finish: freed %s\n", name)
	}
}

// pattern derives a repeatable byte value from a slot name so distinct
// slots get distinguishable fill bytes.
func pattern(name string) byte {
	var sum byte
	for i := 0; i < len(name); i++ {
		sum += name[i]
	}

	if sum == 0 {
		return 0xAA
	}

	return sum
}

func stamp(h *region.Handle, atom region.Atom, size uint64, name string) {
	b := region.AtomBytes(h, atom, size)
	p := pattern(name)

	for i := range b {
		b[i] = p
	}
}

func verify(h *region.Handle, atom region.Atom, size uint64, name string) bool {
	b := region.AtomBytes(h, atom, size)
	p := pattern(name)

	for _, c := range b {
		if c != p {
			return false
		}
	}

	return true
}
