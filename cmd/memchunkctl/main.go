// Command memchunkctl drives an internal/region chunk store from the
// shell: mint, allocate, free, check, dump, and replay a harness
// script against it. Argument parsing and logging are deliberately
// thin wrappers around the library — the allocator core has no
// knowledge of this package.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/memregion/memregion/internal/cliutil"
	"github.com/memregion/memregion/internal/config"
	"github.com/memregion/memregion/internal/harness"
	"github.com/memregion/memregion/internal/region"

	"golang.org/x/sync/errgroup"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [OPTIONS]\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  mint     create a fresh region\n")
	fmt.Fprintf(os.Stderr, "  alloc    allocate bytes from an existing region\n")
	fmt.Fprintf(os.Stderr, "  free     free a previously allocated atom\n")
	fmt.Fprintf(os.Stderr, "  check    run the free-list integrity check\n")
	fmt.Fprintf(os.Stderr, "  dump     print the free list\n")
	fmt.Fprintf(os.Stderr, "  replay   drive a region from a harness script\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error

	switch cmd {
	case "mint":
		err = runMint(args)
	case "alloc":
		err = runAlloc(args)
	case "free":
		err = runFree(args)
	case "check":
		err = runCheck(args)
	case "dump":
		err = runDump(args)
	case "replay":
		err = runReplay(args)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		cliutil.ExitWithError("%v", err)
	}
}

// commonFlags bundles the options every subcommand that touches a
// region needs, plus the optional config file that can override size
// and max-size.
type commonFlags struct {
	path        string
	configPath  string
	watchConfig bool
	verbose     bool
	debug       bool
	size        uint64
	maxSize     uint64
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.path, "path", "", "backing file path")
	fs.StringVar(&c.configPath, "config", "", "optional TOML config file (region.size, region.max_size)")
	fs.BoolVar(&c.watchConfig, "watch-config", false, "hot-reload the config file while the command runs")
	fs.BoolVar(&c.verbose, "verbose", false, "enable info logging")
	fs.BoolVar(&c.debug, "debug", false, "enable debug logging")
	fs.Uint64Var(&c.size, "size", 0, "region size in bytes, applied to every open (0 = default)")
	fs.Uint64Var(&c.maxSize, "max-size", 0, "region max size ceiling in bytes (mint only; 0 = unlimited)")
}

// applyConfig overrides size/maxSize from region.size / region.max_size
// in the config document, when present. Values given explicitly on the
// command line still win if the config doesn't mention a key.
func (c *commonFlags) applyConfig(doc *config.Document) {
	if v, ok := doc.Int("region.size"); ok {
		c.size = uint64(v)
	}

	if v, ok := doc.Int("region.max_size"); ok {
		c.maxSize = uint64(v)
	}
}

// withConfig loads c.configPath (if set), applies its overrides, and —
// when watchConfig is set — runs the hot-reload loop alongside fn using
// an errgroup so both are torn down together when fn returns.
func withConfig(c *commonFlags, fn func() error) error {
	if c.configPath == "" {
		return fn()
	}

	doc, err := config.Load(c.configPath)
	if err != nil {
		return err
	}

	c.applyConfig(doc)

	if !c.watchConfig {
		return fn()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	changes, err := doc.Watch(ctx)
	if err != nil {
		return err
	}

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case _, ok := <-changes:
				if !ok {
					return nil
				}

				c.applyConfig(doc)
			}
		}
	})

	err = fn()
	cancel()

	if werr := g.Wait(); werr != nil && err == nil {
		err = werr
	}

	return err
}

func openHandle(c *commonFlags, write, mint bool) (*region.Handle, error) {
	if c.path == "" {
		return nil, fmt.Errorf("-path is required")
	}

	logger := cliutil.NewLogger(c.verbose, c.debug)

	b := region.NewBuilder().Path(c.path).Write(write).Mint(mint).Logger(logger)
	if c.size != 0 {
		b = b.Size(c.size)
	}

	if c.maxSize != 0 {
		b = b.MaxSize(c.maxSize)
	}

	h, rerr := b.Open()
	if rerr != nil {
		return nil, rerr
	}

	return h, nil
}

func runMint(args []string) error {
	fs := flag.NewFlagSet("mint", flag.ExitOnError)

	var c commonFlags

	c.register(fs)

	if err := fs.Parse(args); err != nil {
		return err
	}

	return withConfig(&c, func() error {
		h, err := openHandle(&c, true, true)
		if err != nil {
			return err
		}

		return h.Close()
	})
}

func runAlloc(args []string) error {
	fs := flag.NewFlagSet("alloc", flag.ExitOnError)

	var (
		c     commonFlags
		bytes uint64
	)

	c.register(fs)
	fs.Uint64Var(&bytes, "bytes", 0, "bytes to allocate")

	if err := fs.Parse(args); err != nil {
		return err
	}

	return withConfig(&c, func() error {
		h, err := openHandle(&c, true, false)
		if err != nil {
			return err
		}
		defer h.Close()

		atom, ok := h.ChunkAlloc(bytes)
		if !ok {
			return fmt.Errorf("chunk_alloc(%d) not satisfied", bytes)
		}

		fmt.Printf("atom=%d\n", atom)

		return nil
	})
}

func runFree(args []string) error {
	fs := flag.NewFlagSet("free", flag.ExitOnError)

	var (
		c        commonFlags
		atom     uint
		byteSize uint64
	)

	c.register(fs)
	fs.UintVar(&atom, "atom", 0, "atom index to free")
	fs.Uint64Var(&byteSize, "bytes", 0, "byte size used at allocation time")

	if err := fs.Parse(args); err != nil {
		return err
	}

	return withConfig(&c, func() error {
		h, err := openHandle(&c, true, false)
		if err != nil {
			return err
		}
		defer h.Close()

		h.ChunkFree(region.Atom(atom), byteSize)

		return nil
	})
}

func runCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)

	var (
		c       commonFlags
		allFree bool
	)

	c.register(fs)
	fs.BoolVar(&allFree, "all-free", false, "assert every live atom has been freed")

	if err := fs.Parse(args); err != nil {
		return err
	}

	return withConfig(&c, func() error {
		h, err := openHandle(&c, false, false)
		if err != nil {
			return err
		}
		defer h.Close()

		report := h.ChunkCheck(allFree)
		if !report.OK() {
			return fmt.Errorf("chunk_check found %d overlap(s), %d leak(s)", len(report.Overlaps), len(report.Leaked))
		}

		fmt.Println("chunk_check: ok")

		return nil
	})
}

func runDump(args []string) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)

	var c commonFlags

	c.register(fs)

	if err := fs.Parse(args); err != nil {
		return err
	}

	c.verbose, c.debug = true, true

	return withConfig(&c, func() error {
		h, err := openHandle(&c, false, false)
		if err != nil {
			return err
		}
		defer h.Close()

		h.Dump()

		return nil
	})
}

func runReplay(args []string) error {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)

	var (
		c          commonFlags
		scriptPath string
	)

	c.register(fs)
	fs.StringVar(&scriptPath, "script", "", "harness script path")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if scriptPath == "" {
		return fmt.Errorf("-script is required")
	}

	return withConfig(&c, func() error {
		h, err := openHandle(&c, true, false)
		if err != nil {
			return err
		}
		defer h.Close()

		script, err := os.Open(scriptPath)
		if err != nil {
			return err
		}
		defer script.Close()

		return harness.Run(h, script, os.Stdout)
	})
}
