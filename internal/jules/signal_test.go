package jules

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchSignal_FiresOnCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals", "done.json")
	sw, err := WatchSignal(context.Background(), path, nil)
	require.NoError(t, err)
	defer sw.Close()

	select {
	case <-sw.C():
		t.Fatal("fired before the file existed")
	default:
	}

	require.NoError(t, WriteSignal(path, []byte(`{"status":"completed"}`)))

	select {
	case <-sw.C():
	case <-time.After(5 * time.Second):
		t.Fatal("signal not detected")
	}
}

func TestWatchSignal_ExistingFileFiresImmediately(t *testing.T) {
	path := filepath.Join(t.TempDir(), "done.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	sw, err := WatchSignal(context.Background(), path, nil)
	require.NoError(t, err)
	defer sw.Close()

	select {
	case <-sw.C():
	case <-time.After(time.Second):
		t.Fatal("existing signal not reported")
	}
	assert.NoError(t, sw.Close())
	assert.NoError(t, sw.Close())
}

func TestSignalExists(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, SignalExists(filepath.Join(dir, "missing")))
	assert.False(t, SignalExists(dir))

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	assert.False(t, SignalExists(empty))

	assert.Error(t, WriteSignal(filepath.Join(dir, "x"), nil))
}
