package daqproc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gator-daq/gatorproc/pkg/logging"
	"github.com/gator-daq/gatorproc/pkg/trigrate"
	"github.com/gator-daq/gatorproc/pkg/wfs"
)

const jsonConfig = `{
  "StagingBaseDir": "/data/staging",
  "ProcBaseDir": "/data/proc",
  "ArchiveFiles": {"BaseDir": "/data/archive", "TrigRateRequired": true},
  "TrigRate": {"MinTrapEnergy": 100, "MaxTrapEnergy": 3000, "Queries": ["wf1_trap_pur < 1.2"]},
  "RateDB": {"Driver": "mysql", "Host": "db", "User": "gator", "Pass": "secret", "DBName": "rates"},
  "chs_map": {
    "wf1": {
      "bslnsubtr": {"bslnsamps": 50, "bsln_meth": "mean"},
      "processors": {"trapezoid": {"shape_time": 40, "tau": 20, "flat_top": 10}}
    }
  }
}`

const yamlConfig = `StagingBaseDir: /data/staging
ProcBaseDir: /data/proc
loop_sleep_sec: 30
files_ext: [.root]
chs_map:
  wf1:
    bslnsubtr: {bslnsamps: 50, bsln_meth: median}
    processors:
      rawpur: {threshold: 80}
`

func writeConfig(t *testing.T, name string, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigurationJSON(t *testing.T) {
	config, err := LoadConfiguration(writeConfig(t, "config.json", jsonConfig))
	require.NoError(t, err)

	assert.Equal(t, "/data/staging", config.StagingBaseDir)
	assert.Equal(t, &ArchiveConfig{BaseDir: "/data/archive", TrigRateRequired: true}, config.ArchiveFiles)
	require.NotNil(t, config.TrigRate)
	assert.Equal(t, []string{"wf1_trap_pur < 1.2"}, config.TrigRate.Queries)
	assert.Equal(t, []string{"wf1"}, config.ChsMap.Names())
	assert.Equal(t, []string{wfs.TrapezoidStageName}, config.ChsMap.StageOrder())

	// defaults
	assert.Equal(t, 600, config.LoopSleepSec)
	assert.Equal(t, []string{".root", ".h5"}, config.FilesExt)
	assert.Equal(t, 4, config.CompressionLevel)

	assert.NoError(t, config.Validate(wfs.DefaultRegistry()))
}

func TestLoadConfigurationYAML(t *testing.T) {
	config, err := LoadConfiguration(writeConfig(t, "config.yaml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, 30, config.LoopSleepSec)
	assert.Equal(t, []string{".root"}, config.FilesExt)
	assert.Nil(t, config.ArchiveFiles)
	assert.Nil(t, config.TrigRate)
	ch, ok := config.ChsMap.Get("wf1")
	require.True(t, ok)
	assert.Equal(t, wfs.BaselineMedian, ch.Baseline.Method)
	assert.Equal(t, []string{wfs.RawPurStageName}, config.ChsMap.StageOrder())
	assert.NoError(t, config.Validate(nil))
}

func TestLoadConfigurationErrors(t *testing.T) {
	_, err := LoadConfiguration(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = LoadConfiguration(writeConfig(t, "bad.json", "{"))
	assert.ErrorContains(t, err, "bad.json")
}

func TestValidateConfiguration(t *testing.T) {
	config := defaultConfiguration()
	config.ArchiveFiles = &ArchiveConfig{}
	config.TrigRate = &trigrate.Policy{MinTrapEnergy: 10, MaxTrapEnergy: 1}
	config.LoopSleepSec = 0
	config.FilesExt = nil

	err := config.Validate(wfs.DefaultRegistry())
	require.Error(t, err)
	for _, msg := range []string{"StagingBaseDir", "ProcBaseDir", "ArchiveFiles.BaseDir", "MaxTrapEnergy", "loop_sleep_sec", "files_ext"} {
		assert.ErrorContains(t, err, msg)
	}
}

func TestFindConfiguration(t *testing.T) {
	path := writeConfig(t, "config.json", jsonConfig)
	t.Setenv(ConfigEnvVar, path)
	found, err := FindConfiguration()
	require.NoError(t, err)
	assert.Equal(t, path, found)

	t.Setenv(ConfigEnvVar, filepath.Dir(path))
	_, err = FindConfiguration()
	assert.ErrorContains(t, err, ConfigEnvVar)
}

func TestFindConfigurationHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(ConfigEnvVar, "")
	os.Unsetenv(ConfigEnvVar)

	_, err := FindConfiguration()
	assert.Error(t, err)

	path := filepath.Join(home, ".local", "etc", "GatorDaqProc", "config.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(jsonConfig), 0o644))
	found, err := FindConfiguration()
	require.NoError(t, err)
	assert.Equal(t, path, found)
}

func TestRedactedConfiguration(t *testing.T) {
	config, err := LoadConfiguration(writeConfig(t, "config.json", jsonConfig))
	require.NoError(t, err)

	data, err := json.Marshal(config.redacted())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")
	assert.Equal(t, "secret", config.RateDB.Pass)

	logger := &logging.Recorder{}
	PrintConfiguration(config, logger)
	assert.Equal(t, 0, logger.Count("INFO", "secret"))
	assert.Equal(t, 1, logger.Count("INFO", "Archive base dir: /data/archive"))
}
