package repository

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher reports schema file changes under a local directory tree.
type Watcher struct {
	// Debounce is the quiet period that closes a batch of changes. Zero
	// uses 250ms.
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watch watches dir with the default debounce. See Watcher.Watch.
func Watch(ctx context.Context, dir string, onChange func(paths []string)) error {
	return Watcher{}.Watch(ctx, dir, onChange)
}

// Watch blocks until ctx is done, calling onChange with the sorted,
// slash-separated paths (relative to dir) changed in each batch.
// Directories created while watching are watched too.
func (w Watcher) Watch(ctx context.Context, dir string, onChange func(paths []string)) error {
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close() //nolint:errcheck

	if err := addTree(fw, dir); err != nil {
		return err
	}
	logger.Debug("watching schema directory", "dir", dir)

	pending := make(map[string]struct{})
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addTree(fw, ev.Name); err != nil {
						logger.Warn("watch new directory", "dir", ev.Name, "error", err)
					}
				}
			}
			if !relevant(ev) {
				continue
			}
			rel, err := filepath.Rel(dir, ev.Name)
			if err != nil {
				rel = ev.Name
			}
			pending[filepath.ToSlash(rel)] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("schema watcher error", "error", err)

		case <-fire:
			fire = nil
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			sort.Strings(paths)
			logger.Debug("schema files changed", "paths", paths)
			onChange(paths)
		}
	}
}

// relevant reports whether ev can change the compiled schema: a schema file
// event, or a directory appearing or disappearing.
func relevant(ev fsnotify.Event) bool {
	if IsSchemaFile(ev.Name) {
		return true
	}
	if filepath.Ext(ev.Name) != "" {
		return false
	}
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}

func addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(entry.Name(), ".") {
			return filepath.SkipDir
		}
		if err := fw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}
