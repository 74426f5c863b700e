package fileio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch_DeliversWriteEvent(t *testing.T) {
	l := newRunningLoop(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "watched.txt")
	require.NoError(t, os.WriteFile(path, []byte("seed"), 0o644))

	events := make(chan Event, 8)
	w, err := Watch(l, path, func(e Event) { events <- e }, func(error) {})
	require.NoError(t, err)
	t.Cleanup(w.Unwatch)

	require.NoError(t, os.WriteFile(path, []byte("changed"), 0o644))

	select {
	case e := <-events:
		assert.Equal(t, path, e.Path)
		assert.NotEmpty(t, e.Op)
	case <-time.After(2 * time.Second):
		t.Fatal("no filesystem event observed")
	}
}

func TestWatch_UnwatchIsIdempotent(t *testing.T) {
	l := newRunningLoop(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "watched.txt")
	require.NoError(t, os.WriteFile(path, []byte("seed"), 0o644))

	w, err := Watch(l, path, func(Event) {}, func(error) {})
	require.NoError(t, err)

	w.Unwatch()
	assert.NotPanics(t, w.Unwatch)
}

func TestWatch_MissingPathReturnsError(t *testing.T) {
	l := newRunningLoop(t)
	_, err := Watch(l, filepath.Join(t.TempDir(), "does-not-exist"), nil, nil)
	require.Error(t, err)
}

func TestOpString_FallsBackToUnknown(t *testing.T) {
	// opString is exercised indirectly above; this pins its fallback branch.
	assert.Equal(t, "unknown", opString(0))
}
