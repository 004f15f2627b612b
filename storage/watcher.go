package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Event reports one artifact write inside a provider's storage directory.
type Event struct {
	// Provider is the ID owning the directory the write landed in.
	Provider string

	// Path is the written file.
	Path string
}

// Watcher observes the storage base and reports artifact writes per
// provider. It exists for operational visibility only — nothing in the
// dispatch path depends on it.
type Watcher struct {
	base    string
	watcher *fsnotify.Watcher
	events  chan Event
}

// NewWatcher starts watching base and every provider directory currently
// under it. Provider directories created later are picked up automatically.
func NewWatcher(base string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	if err := fw.Add(base); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", base, err)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("read %s: %w", base, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := fw.Add(filepath.Join(base, entry.Name())); err != nil {
			fw.Close()
			return nil, fmt.Errorf("watch %s: %w", entry.Name(), err)
		}
	}

	return &Watcher{
		base:    base,
		watcher: fw,
		events:  make(chan Event, 64),
	}, nil
}

// Events returns the artifact event channel. It is closed when Run exits.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Run pumps filesystem notifications into the event channel until ctx is
// done. New provider directories appearing under the base are added to the
// watch set; writes inside provider directories become Events. Dropped
// events are acceptable — this is a diagnostic stream.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.events)
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}

			rel, err := filepath.Rel(w.base, event.Name)
			if err != nil || strings.HasPrefix(rel, "..") {
				continue
			}

			// A new directory directly under the base is a provider dir.
			if !strings.Contains(rel, string(filepath.Separator)) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.watcher.Add(event.Name)
				}
				continue
			}

			providerID := strings.SplitN(rel, string(filepath.Separator), 2)[0]
			select {
			case w.events <- Event{Provider: providerID, Path: event.Name}:
			default:
				// Channel full, drop.
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Usually recoverable; keep pumping.
			_ = err
		}
	}
}
