// Package config provides a hierarchical TOML configuration accessor:
// dotted-path lookups over a parsed document, with array-of-tables
// addressed by matching a "name" field. It is a standalone collaborator
// — nothing in internal/region imports it.
package config

import (
	"context"
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	toml "github.com/pelletier/go-toml"
)

// Document is a parsed TOML document, or a sub-tree of one returned by
// Record.
type Document struct {
	mu   sync.RWMutex
	tree *toml.Tree
	path string // empty for a Record sub-tree; used only by Watch
}

// Load parses the TOML file at path into a Document.
func Load(path string) (*Document, error) {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}

	return &Document{tree: tree, path: path}, nil
}

func (d *Document) get(path string) interface{} {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.tree.Get(path)
}

// Int looks up a dotted path and reports whether it held an integer.
func (d *Document) Int(path string) (int64, bool) {
	switch v := d.get(path).(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

// Float looks up a dotted path and reports whether it held a float or
// an integer; an integer is converted to float64.
func (d *Document) Float(path string) (float64, bool) {
	switch v := d.get(path).(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Bool looks up a dotted path and reports whether it held a boolean.
func (d *Document) Bool(path string) (bool, bool) {
	v, ok := d.get(path).(bool)

	return v, ok
}

// String looks up a dotted path and reports whether it held a string.
func (d *Document) String(path string) (string, bool) {
	v, ok := d.get(path).(string)

	return v, ok
}

// Raw returns the raw decoded value at a dotted path, whatever its
// type, or (nil, false) if the path does not exist.
func (d *Document) Raw(path string) (interface{}, bool) {
	v := d.get(path)

	return v, v != nil
}

// Record addresses one entry of a TOML array-of-tables at arrayPath by
// matching a "name" field, returning a Document scoped to that entry.
func (d *Document) Record(arrayPath, name string) (*Document, bool) {
	entries, ok := d.get(arrayPath).([]*toml.Tree)
	if !ok {
		return nil, false
	}

	for _, entry := range entries {
		if n, ok := entry.Get("name").(string); ok && n == name {
			return &Document{tree: entry}, true
		}
	}

	return nil, false
}

// Watch re-parses the backing file on every write or create event and
// returns a channel that receives a value after each successful reload.
// The channel is closed when ctx is done or the watch can no longer
// continue. Watch returns an error for a Document returned by Record,
// which has no backing path.
func (d *Document) Watch(ctx context.Context) (<-chan struct{}, error) {
	if d.path == "" {
		return nil, fmt.Errorf("config: watch: document has no backing file")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: watch: %w", err)
	}

	if err := watcher.Add(d.path); err != nil {
		_ = watcher.Close()

		return nil, fmt.Errorf("config: watch %s: %w", d.path, err)
	}

	out := make(chan struct{}, 1)

	go func() {
		defer watcher.Close()
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}

				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}

				tree, err := toml.LoadFile(d.path)
				if err != nil {
					continue
				}

				d.mu.Lock()
				d.tree = tree
				d.mu.Unlock()

				select {
				case out <- struct{}{}:
				default:
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return out, nil
}
