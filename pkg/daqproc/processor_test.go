package daqproc

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gator-daq/gatorproc/pkg/logging"
	"github.com/gator-daq/gatorproc/pkg/procfile"
	"github.com/gator-daq/gatorproc/pkg/rawfile"
	"github.com/gator-daq/gatorproc/pkg/trigrate"
	"github.com/gator-daq/gatorproc/pkg/wfs"
)

var testMetadata = rawfile.Metadata{
	StartUnixTime: 1700000000,
	StopUnixTime:  1700000100,
	FileRunTime:   100,
	SampFreq:      250e6,
}

type fakeReader struct {
	nEvents int
	meta    *rawfile.Metadata
}

func (r *fakeReader) ReadEvents(channels []string) (*wfs.RawData, error) {
	raw := &wfs.RawData{NEvents: r.nEvents, Channels: map[string]*wfs.Batch{}}
	for _, ch := range channels {
		b := wfs.NewBatch(r.nEvents, 300)
		for i := 0; i < r.nEvents; i++ {
			ev := b.Event(i)
			for j := range ev {
				ev[j] = 1000
				if j >= 100 {
					ev[j] += 50 * math.Exp(-float64(j-100)/20)
				}
			}
		}
		raw.Channels[ch] = b
	}
	for i := 0; i < r.nEvents; i++ {
		raw.RunTime = append(raw.RunTime, float64(i))
		raw.EvCounter = append(raw.EvCounter, float64(i))
		raw.TimeTrigTag = append(raw.TimeTrigTag, float64(i*1000))
	}
	return raw, nil
}

func (r *fakeReader) ReadMetadata() (rawfile.Metadata, error) {
	if r.meta == nil {
		return rawfile.Metadata{}, &rawfile.ErrMissing{Section: "metadata"}
	}
	return *r.meta, nil
}

func (r *fakeReader) Close() error { return nil }

// fakeOpener counts how often every event file is opened.
type fakeOpener struct {
	mu       sync.Mutex
	opens    map[string]int
	noMeta   bool
	failures map[string]bool
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{opens: map[string]int{}, failures: map[string]bool{}}
}

func (o *fakeOpener) Open(path string) (rawfile.Reader, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	name := filepath.Base(path)
	o.opens[name]++
	if o.failures[name] {
		return nil, &rawfile.ErrOpenFile{Filename: path, Err: errors.New("truncated file")}
	}
	r := &fakeReader{nEvents: 10}
	if !o.noMeta {
		m := testMetadata
		r.meta = &m
	}
	return r, nil
}

func (o *fakeOpener) count(name string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens[name]
}

type fakeSink struct {
	rows []trigrate.RateRow
}

func (s *fakeSink) Insert(ctx context.Context, row trigrate.RateRow) error {
	s.rows = append(s.rows, row)
	return nil
}

type testEnv struct {
	config  Configuration
	runDir  string
	procDir string
	opener  *fakeOpener
	store   *procfile.MemoryStore
	logger  *logging.Recorder
}

const runRel = "ds1/run_001"

func newTestEnv(t *testing.T, eventFiles ...string) *testEnv {
	t.Helper()
	staging := t.TempDir()
	env := &testEnv{
		runDir:  filepath.Join(staging, "ds1", "run_001"),
		procDir: filepath.Join(t.TempDir(), "proc"),
		opener:  newFakeOpener(),
		store:   procfile.NewMemoryStore(),
		logger:  &logging.Recorder{},
	}
	require.NoError(t, os.MkdirAll(env.runDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(env.runDir, "run_001.json"), []byte(`{"boards":[{"WfsLen":300}]}`), 0o644))
	for _, name := range eventFiles {
		env.addEventFile(t, name)
	}

	env.config = defaultConfiguration()
	env.config.StagingBaseDir = staging
	env.config.ProcBaseDir = env.procDir
	env.config.ChsMap = wfs.NewChannelMap(wfs.ChannelConfig{
		Name:     "wf1",
		Baseline: &wfs.BaselineConfig{SampleWindow: 50, Method: wfs.BaselineMean},
		Stages: []wfs.StageConfig{{
			Name:   wfs.TrapezoidStageName,
			Params: wfs.Params{"shape_time": 40, "tau": 20.0, "flat_top": 10},
		}},
	})
	return env
}

func (env *testEnv) addEventFile(t *testing.T, name string) {
	t.Helper()
	data := make([]byte, 100)
	require.NoError(t, os.WriteFile(filepath.Join(env.runDir, name), data, 0o644))
}

func (env *testEnv) withRate() {
	env.config.TrigRate = &trigrate.Policy{MinTrapEnergy: 0, MaxTrapEnergy: 1000}
}

func (env *testEnv) withArchive(t *testing.T, rateRequired bool) string {
	dir := filepath.Join(t.TempDir(), "archive")
	env.config.ArchiveFiles = &ArchiveConfig{BaseDir: dir, TrigRateRequired: rateRequired}
	return dir
}

func (env *testEnv) processor(t *testing.T, opts ...Option) *Processor {
	t.Helper()
	opts = append([]Option{
		WithOpener(env.opener.Open),
		WithStore(env.store),
		WithClock(func() time.Time { return time.Unix(1700000500, 0) }),
	}, opts...)
	p, err := NewProcessor(env.config, env.logger, opts...)
	require.NoError(t, err)
	return p
}

func (env *testEnv) statePath() string { return StatePath(env.runDir) }

func (env *testEnv) state(t *testing.T) RunState {
	t.Helper()
	state, err := LoadRunState(env.statePath())
	require.NoError(t, err)
	return state
}

func TestProcTreeFullWithoutRate(t *testing.T) {
	env := newTestEnv(t, "run_001_000.root")
	p := env.processor(t)

	summary, err := p.ProcTree(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Directories)
	assert.Equal(t, 1, summary.Processed)

	data, err := os.ReadFile(env.statePath())
	require.NoError(t, err)
	var raw map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Contains(t, raw, "run_001_000.root")
	assert.Equal(t, float64(1700000500), raw["run_001_000.root"]["proc_timestamp"])
	assert.NotContains(t, raw["run_001_000.root"], "TrigRate")

	artifact, err := env.store.Load(procfile.Path(filepath.Join(env.procDir, runRel), "run_001_000.root"))
	require.NoError(t, err)
	assert.Equal(t, 10, artifact.Table.NRows())
	assert.Equal(t, []string{
		"RunTime", "EvCounter", "TimeTrigTag",
		"wf1_raw_max_val", "wf1_raw_max_pos", "wf1_raw_min_val", "wf1_raw_min_pos",
		"wf1_bslns_mean", "wf1_bslns_rms", "wf1_bslns_med", "wf1_bslns_mad",
		"wf1_samp_max", "wf1_ampl_max", "wf1_energy_trap", "wf1_trap_pur",
	}, artifact.Table.Columns())
	assert.Equal(t, 300, artifact.WfsLength)
	assert.Equal(t, "run_001_000.root", artifact.SourceFile)
	assert.Equal(t, &testMetadata, artifact.Metadata)

	merged, err := os.ReadFile(filepath.Join(env.procDir, runRel, "run_001.json"))
	require.NoError(t, err)
	var cfg map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(merged, &cfg))
	assert.Contains(t, cfg, "boards")
	assert.Contains(t, cfg, "proc_config")
}

func TestProcTreeIdempotent(t *testing.T) {
	env := newTestEnv(t, "run_001_000.root", "run_001_001.root")
	env.withRate()
	p := env.processor(t)

	_, err := p.ProcTree(context.Background())
	require.NoError(t, err)
	first, err := os.ReadFile(env.statePath())
	require.NoError(t, err)

	summary, err := p.ProcTree(context.Background())
	require.NoError(t, err)
	second, err := os.ReadFile(env.statePath())
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 1, env.opener.count("run_001_000.root"))
	assert.Equal(t, 1, env.opener.count("run_001_001.root"))
}

func TestProcTreeRateAndArchive(t *testing.T) {
	env := newTestEnv(t, "run_001_000.root")
	env.withRate()
	archive := env.withArchive(t, true)
	sink := &fakeSink{}
	p := env.processor(t, WithRateSink(sink))

	summary, err := p.ProcTree(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Archived)

	entry := env.state(t)["run_001_000.root"]
	require.NotNil(t, entry)
	require.NotNil(t, entry.TrigRate)
	assert.InDelta(t, 0.1, entry.TrigRate.TrigRate, 1e-12)
	assert.InDelta(t, math.Sqrt(10)/100, entry.TrigRate.RateErr, 1e-12)
	assert.Equal(t, int64(1700000050), entry.TrigRate.TrigTimestamp)
	assert.Equal(t, int64(1700000500), entry.TrigRate.ProcTimestamp)

	assert.NoFileExists(t, filepath.Join(env.runDir, "run_001_000.root"))
	assert.FileExists(t, filepath.Join(archive, runRel, "run_001_000.root"))
	// the DAQ configuration is copied, not moved
	assert.FileExists(t, filepath.Join(archive, runRel, "run_001.json"))
	assert.FileExists(t, filepath.Join(env.runDir, "run_001.json"))

	require.Len(t, sink.rows, 1)
	assert.Equal(t, runRel, sink.rows[0].RunDir)
	assert.Equal(t, 10, sink.rows[0].NEvents)
}

func TestArchivedFileIsNeverReopened(t *testing.T) {
	env := newTestEnv(t, "run_001_001.root")
	env.withRate()
	state := RunState{"run_001_000.root": {
		ProcTimestamp: 1600000000,
		TrigRate:      &TrigRateState{ProcTimestamp: 1600000000, TrigTimestamp: 1599999950, TrigRate: 1, RateErr: 0.1},
	}}
	require.NoError(t, state.Save(env.statePath()))

	p := env.processor(t)
	_, err := p.ProcTree(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, env.opener.count("run_001_000.root"))
	assert.Equal(t, 1, env.opener.count("run_001_001.root"))
	assert.Equal(t, state["run_001_000.root"], env.state(t)["run_001_000.root"])
}

func TestRateOnlyFromStoredTable(t *testing.T) {
	env := newTestEnv(t, "run_001_001.root")
	env.withRate()

	// processed earlier without a rate policy and archived since
	require.NoError(t, env.store.Save(procfile.Path(filepath.Join(env.procDir, runRel), "run_001_000.root"), storedArtifact(t)))
	require.NoError(t, RunState{"run_001_000.root": {ProcTimestamp: 1600000000}}.Save(env.statePath()))

	p := env.processor(t)
	summary, err := p.ProcTree(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RateOnly)
	assert.Equal(t, 0, env.opener.count("run_001_000.root"))

	entry := env.state(t)["run_001_000.root"]
	assert.Equal(t, int64(1600000000), entry.ProcTimestamp)
	require.NotNil(t, entry.TrigRate)
	// 3 events in the energy window over 100 s
	assert.InDelta(t, 0.03, entry.TrigRate.TrigRate, 1e-12)
}

func storedArtifact(t *testing.T) *procfile.Artifact {
	t.Helper()
	table := wfs.NewFeatureTable(4)
	require.NoError(t, table.Add("wf1_energy_trap", wfs.Float64, []float64{10, 20, 30, 5000}))
	m := testMetadata
	return &procfile.Artifact{WfsLength: 300, Table: table, Metadata: &m, SourceFile: "run_001_000.root"}
}

func TestRateRequiredKeepsFileStaged(t *testing.T) {
	env := newTestEnv(t, "run_001_000.root")
	env.withRate()
	env.withArchive(t, true)
	env.opener.noMeta = true
	p := env.processor(t)

	_, err := p.ProcTree(context.Background())
	require.NoError(t, err)
	entry := env.state(t)["run_001_000.root"]
	require.NotNil(t, entry)
	assert.Nil(t, entry.TrigRate)
	assert.FileExists(t, filepath.Join(env.runDir, "run_001_000.root"))
	assert.Equal(t, 1, env.logger.Count("ERROR", "missing DAQ metadata"))

	// the next scan retries the rate from the stored table, not the raw file
	first, err := os.ReadFile(env.statePath())
	require.NoError(t, err)
	summary, err := p.ProcTree(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RateOnly)
	assert.Equal(t, 1, env.opener.count("run_001_000.root"))
	second, err := os.ReadFile(env.statePath())
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestArchiveOnlyRetry(t *testing.T) {
	env := newTestEnv(t, "run_001_000.root")
	archive := env.withArchive(t, false)
	require.NoError(t, RunState{"run_001_000.root": {ProcTimestamp: 1600000000}}.Save(env.statePath()))

	p := env.processor(t)
	summary, err := p.ProcTree(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Archived)
	assert.Equal(t, 0, env.opener.count("run_001_000.root"))
	assert.FileExists(t, filepath.Join(archive, runRel, "run_001_000.root"))
}

func TestFullFailureLeavesNoState(t *testing.T) {
	env := newTestEnv(t, "run_001_000.root", "run_001_001.root")
	env.opener.failures["run_001_000.root"] = true
	p := env.processor(t)

	summary, err := p.ProcTree(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Processed)

	state := env.state(t)
	assert.NotContains(t, state, "run_001_000.root")
	assert.Contains(t, state, "run_001_001.root")
	assert.Equal(t, 1, env.logger.Count("WARN", "truncated file"))
}

func TestProcDirectoryRunConfig(t *testing.T) {
	env := newTestEnv(t, "run_001_000.root")
	p := env.processor(t)

	require.NoError(t, os.WriteFile(filepath.Join(env.runDir, "other.json"), []byte(`{}`), 0o644))
	err := p.ProcDirectory(context.Background(), runRel, []string{"run_001_000.root"})
	var cfgErr *ErrRunConfig
	require.ErrorAs(t, err, &cfgErr)
	assert.Len(t, cfgErr.Found, 2)

	require.NoError(t, os.Remove(filepath.Join(env.runDir, "other.json")))
	require.NoError(t, os.Remove(filepath.Join(env.runDir, "run_001.json")))
	// hidden json files are not DAQ configurations
	require.NoError(t, os.WriteFile(filepath.Join(env.runDir, ".hidden.json"), []byte(`{}`), 0o644))
	err = p.ProcDirectory(context.Background(), runRel, []string{"run_001_000.root"})
	require.ErrorAs(t, err, &cfgErr)
	assert.Empty(t, cfgErr.Found)

	assert.Equal(t, 0, env.opener.count("run_001_000.root"))
	assert.NoFileExists(t, env.statePath())
}

func TestProcTreeRunConfigDoesNotStopScan(t *testing.T) {
	env := newTestEnv(t, "run_001_000.root")
	bad := filepath.Join(env.config.StagingBaseDir, "ds1", "run_000")
	require.NoError(t, os.MkdirAll(bad, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bad, "run_000_000.root"), []byte("x"), 0o644))
	p := env.processor(t)

	summary, err := p.ProcTree(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Directories)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, env.logger.Count("ERROR", "exactly one non hidden DAQ configuration"))
}

func TestProcTreeDepth(t *testing.T) {
	env := newTestEnv(t)
	deep := filepath.Join(env.runDir, "manual")
	require.NoError(t, os.MkdirAll(deep, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(deep, "deep.root"), []byte("x"), 0o644))
	p := env.processor(t)

	summary, err := p.ProcTree(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Directories)
	assert.Equal(t, 0, env.opener.count("deep.root"))
}

func TestProcDirectoryCancelledWritesState(t *testing.T) {
	env := newTestEnv(t, "run_001_000.root")
	p := env.processor(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.ProcDirectory(ctx, runRel, []string{"run_001_000.root"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, env.opener.count("run_001_000.root"))
	assert.FileExists(t, env.statePath())
	assert.Empty(t, env.state(t))
}

func TestRunStopsOnCancel(t *testing.T) {
	env := newTestEnv(t, "run_001_000.root")
	p := env.processor(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return env.opener.count("run_001_000.root") == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestDecide(t *testing.T) {
	withRate := &FileState{ProcTimestamp: 1, TrigRate: &TrigRateState{}}
	noRate := &FileState{ProcTimestamp: 1}

	cases := []struct {
		name      string
		entry     *FileState
		onDisk    bool
		policy    bool
		archiving bool
		want      Action
	}{
		{"new file", nil, true, true, true, Full},
		{"unknown and absent", nil, false, true, true, Skip},
		{"archived without policy", noRate, false, false, true, Skip},
		{"archived with rate", withRate, false, true, true, Skip},
		{"archived missing rate", noRate, false, true, true, RateOnly},
		{"staged missing rate", noRate, true, true, false, RateOnly},
		{"staged done, archiving", withRate, true, true, true, ArchiveOnly},
		{"staged done, no archiving", withRate, true, true, false, Skip},
		{"staged without policy", noRate, true, false, false, Skip},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Decide(c.entry, c.onDisk, c.policy, c.archiving))
		})
	}
}
