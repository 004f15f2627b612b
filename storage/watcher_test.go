package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func awaitEvent(t *testing.T, events <-chan Event, providerID string) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("event channel closed")
			}
			if ev.Provider == providerID {
				return ev
			}
		case <-deadline:
			t.Fatalf("no event for %s", providerID)
		}
	}
}

func TestWatcher_ReportsArtifactWrites(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, EnsureAll(base, []string{"chatgpt"}))

	w, err := NewWatcher(base)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	artifact := filepath.Join(base, "chatgpt", "auth.json")
	require.NoError(t, os.WriteFile(artifact, []byte(`{"token":"x"}`), 0o600))

	ev := awaitEvent(t, w.Events(), "chatgpt")
	assert.Equal(t, "chatgpt", ev.Provider)
	assert.Equal(t, artifact, ev.Path)
}

func TestWatcher_PicksUpNewProviderDirs(t *testing.T) {
	base := t.TempDir()

	w, err := NewWatcher(base)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Provider directory appears after the watcher started.
	dir, err := EnsureDir(base, "gemini")
	require.NoError(t, err)

	// Give the watcher a moment to add the new directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "state.db"), []byte("s"), 0o600))

	ev := awaitEvent(t, w.Events(), "gemini")
	assert.Equal(t, "gemini", ev.Provider)
}

func TestWatcher_ClosesOnCancel(t *testing.T) {
	base := t.TempDir()

	w, err := NewWatcher(base)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	cancel()

	select {
	case _, ok := <-w.Events():
		assert.False(t, ok, "channel should close without events")
	case <-time.After(5 * time.Second):
		t.Fatal("event channel did not close")
	}
}
