package daqproc

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gator-daq/gatorproc/pkg/logging"
)

func TestStatePath(t *testing.T) {
	assert.Equal(t, "/data/ds1/run_7/.proc_state_run_7.json", StatePath("/data/ds1/run_7/"))
}

func TestRunStateRoundTrip(t *testing.T) {
	path := StatePath(t.TempDir())

	state, err := LoadRunState(path)
	require.NoError(t, err)
	assert.Empty(t, state)

	state["a.root"] = &FileState{ProcTimestamp: 10}
	state["b.root"] = &FileState{ProcTimestamp: 11, TrigRate: &TrigRateState{ProcTimestamp: 12, TrigTimestamp: 5, TrigRate: 0.5, RateErr: 0.01}}
	require.NoError(t, state.Save(path))

	loaded, err := LoadRunState(path)
	require.NoError(t, err)
	assert.Equal(t, state, loaded)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary file is left behind")
}

func TestRunStateCorrupt(t *testing.T) {
	path := StatePath(t.TempDir())
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	state, err := LoadRunState(path)
	assert.Error(t, err)
	assert.NotNil(t, state)
	assert.Empty(t, state)
}

func writeSized(t *testing.T, path string, n int) {
	t.Helper()
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(path, data, 0o640))
}

func TestArchiveMove(t *testing.T) {
	src := filepath.Join(t.TempDir(), "run_000.root")
	dst := filepath.Join(t.TempDir(), "ds1", "run_0", "run_000.root")
	writeSized(t, src, 100)
	mtime := time.Unix(1600000000, 0)
	require.NoError(t, os.Chtimes(src, mtime, mtime))

	logger := &logging.Recorder{}
	require.NoError(t, NewArchiver(logger).Archive(src, dst, true))

	assert.NoFileExists(t, src)
	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, int64(100), info.Size())
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
	assert.True(t, info.ModTime().Equal(mtime))
	assert.Equal(t, 1, logger.Count("INFO", "100 B"))
}

func TestArchiveCopy(t *testing.T) {
	src := filepath.Join(t.TempDir(), "run_0.json")
	dst := filepath.Join(t.TempDir(), "run_0.json")
	writeSized(t, src, 10)

	require.NoError(t, NewArchiver(logging.Nop{}).Archive(src, dst, false))
	assert.FileExists(t, src)
	assert.FileExists(t, dst)
}

func TestArchiveIntegrity(t *testing.T) {
	src := filepath.Join(t.TempDir(), "run_000.root")
	dst := filepath.Join(t.TempDir(), "run_000.root")
	writeSized(t, src, 100)

	a := NewArchiver(logging.Nop{})
	a.copy = func(src, dst string) error {
		data, err := os.ReadFile(src)
		if err != nil {
			return err
		}
		return os.WriteFile(dst, data[:99], 0o644)
	}

	err := a.Archive(src, dst, true)
	var integrity *ErrIntegrity
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, int64(100), integrity.SrcSize)
	assert.Equal(t, int64(99), integrity.DstSize)
	assert.FileExists(t, src)
	assert.FileExists(t, dst)
}

func TestArchiveMissingSource(t *testing.T) {
	err := NewArchiver(logging.Nop{}).Archive(filepath.Join(t.TempDir(), "nope.root"), filepath.Join(t.TempDir(), "x"), true)
	var openErr *ErrOpenFile
	assert.ErrorAs(t, err, &openErr)
}
