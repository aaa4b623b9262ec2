package procfile

import (
	"encoding/json"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gator-daq/gatorproc/pkg/rawfile"
	"github.com/gator-daq/gatorproc/pkg/wfs"
)

func sampleArtifact(t *testing.T) *Artifact {
	t.Helper()
	table := wfs.NewFeatureTable(3)
	require.NoError(t, table.Add("RunTime", wfs.Float32, []float64{0.5, 1, 1.5}))
	require.NoError(t, table.Add("EvCounter", wfs.Uint32, []float64{0, 1, 2}))
	require.NoError(t, table.AddInts("wf1_raw_max_pos", []int{100, 101, 99}))
	require.NoError(t, table.Add("wf1_energy_trap", wfs.Float64, []float64{812.25, 13.5, 4000.125}))
	require.NoError(t, table.AddBools("wf1_raw_pur", []bool{false, true, false}))

	return &Artifact{
		DaqSettings:  json.RawMessage(`{"boards":[{"WfsLen":1024}]}`),
		ProcSettings: json.RawMessage(`{"ProcBaseDir":"/data/proc"}`),
		WfsLength:    1024,
		Table:        table,
		Metadata:     &rawfile.Metadata{StartUnixTime: 1700000000, StopUnixTime: 1700000100, FileRunTime: 99.5, SampFreq: 250e6},
		SourceFile:   "run_0001.root",
	}
}

func checkArtifact(t *testing.T, want, got *Artifact) {
	t.Helper()
	assert.JSONEq(t, string(want.DaqSettings), string(got.DaqSettings))
	assert.JSONEq(t, string(want.ProcSettings), string(got.ProcSettings))
	assert.Equal(t, want.WfsLength, got.WfsLength)
	assert.Equal(t, want.SourceFile, got.SourceFile)
	assert.Equal(t, want.Metadata, got.Metadata)
	assert.Equal(t, want.Table.Columns(), got.Table.Columns())
	assert.Equal(t, want.Table.Types(), got.Table.Types())
	assert.Equal(t, want.Table.Matrix(), got.Table.Matrix())
}

func TestHDF5StoreRoundTrip(t *testing.T) {
	store := &HDF5Store{CompressionLevel: 4}
	path := Path(t.TempDir(), "run_0001.root")
	assert.Equal(t, "run_0001.root.h5", filepath.Base(path))

	a := sampleArtifact(t)
	require.NoError(t, store.Save(path, a))

	got, err := store.Load(path)
	require.NoError(t, err)
	checkArtifact(t, a, got)
}

func TestHDF5StoreWithoutMetadata(t *testing.T) {
	store := &HDF5Store{}
	path := filepath.Join(t.TempDir(), "empty.h5")

	a := &Artifact{WfsLength: 512, Table: wfs.NewFeatureTable(0)}
	require.NoError(t, store.Save(path, a))

	got, err := store.Load(path)
	require.NoError(t, err)
	assert.Nil(t, got.Metadata)
	assert.Equal(t, 512, got.WfsLength)
	assert.Equal(t, 0, got.Table.NRows())
	assert.Equal(t, 0, got.Table.NCols())
}

func TestHDF5StoreLoadMissing(t *testing.T) {
	_, err := (&HDF5Store{}).Load(filepath.Join(t.TempDir(), "absent.h5"))
	var readErr *ErrRead
	assert.ErrorAs(t, err, &readErr)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	a := sampleArtifact(t)
	require.NoError(t, store.Save("/proc/run_0001.h5", a))

	got, err := store.Load("/proc/run_0001.h5")
	require.NoError(t, err)
	checkArtifact(t, a, got)

	got.Metadata.FileRunTime = 0
	again, err := store.Load("/proc/run_0001.h5")
	require.NoError(t, err)
	assert.Equal(t, 99.5, again.Metadata.FileRunTime)

	_, err = store.Load("/proc/other.h5")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestPathKeepsRawExtension(t *testing.T) {
	root := Path("/proc/run", "/stage/run/x.root")
	h5 := Path("/proc/run", "/stage/run/x.h5")
	assert.Equal(t, "/proc/run/x.root.h5", root)
	assert.Equal(t, "/proc/run/x.h5.h5", h5)
	assert.NotEqual(t, root, h5)
}

func TestWfsLength(t *testing.T) {
	n, err := WfsLength([]byte(`{"boards":[{"WfsLen":2048,"name":"V1724"}]}`))
	require.NoError(t, err)
	assert.Equal(t, 2048, n)

	n, err = WfsLength([]byte(`{"boards":[{"WfsLen":1024.0}]}`))
	require.NoError(t, err)
	assert.Equal(t, 1024, n)

	_, err = WfsLength([]byte(`{"boards":[{"WfsLen":1024.5}]}`))
	assert.Error(t, err)
	_, err = WfsLength([]byte(`{"boards":[{"WfsLen":-1}]}`))
	assert.Error(t, err)
	_, err = WfsLength([]byte(`{"boards":[]}`))
	assert.Error(t, err)
	_, err = WfsLength([]byte(`not json`))
	assert.Error(t, err)
}
