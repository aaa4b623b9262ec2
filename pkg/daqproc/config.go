package daqproc

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gator-daq/gatorproc/pkg/logging"
	"github.com/gator-daq/gatorproc/pkg/trigrate"
	"github.com/gator-daq/gatorproc/pkg/wfs"
)

const ConfigEnvVar = "GATOR_DAQPROC_FILE"

type ArchiveConfig struct {
	BaseDir          string `json:"BaseDir" yaml:"BaseDir"`
	TrigRateRequired bool   `json:"TrigRateRequired" yaml:"TrigRateRequired"`
}

type Configuration struct {
	StagingBaseDir   string             `json:"StagingBaseDir" yaml:"StagingBaseDir"`
	ProcBaseDir      string             `json:"ProcBaseDir" yaml:"ProcBaseDir"`
	ArchiveFiles     *ArchiveConfig     `json:"ArchiveFiles,omitempty" yaml:"ArchiveFiles,omitempty"`
	ChsMap           wfs.ChannelMap     `json:"chs_map" yaml:"chs_map"`
	TrigRate         *trigrate.Policy   `json:"TrigRate,omitempty" yaml:"TrigRate,omitempty"`
	RateDB           *trigrate.DBConfig `json:"RateDB,omitempty" yaml:"RateDB,omitempty"`
	LoopSleepSec     int                `json:"loop_sleep_sec" yaml:"loop_sleep_sec"`
	FilesExt         []string           `json:"files_ext" yaml:"files_ext"`
	Digitizer        int                `json:"digitizer" yaml:"digitizer"`
	CompressionLevel int                `json:"compression_level" yaml:"compression_level"`
	Logging          logging.Config     `json:"logging" yaml:"logging"`
	Verbosity        int                `json:"verbosity" yaml:"verbosity"`
}

func defaultConfiguration() Configuration {
	return Configuration{
		LoopSleepSec:     600,
		FilesExt:         []string{".root", ".h5"},
		CompressionLevel: 4,
	}
}

// LoadConfiguration reads a JSON or, by extension, YAML configuration file
// over the defaults.
func LoadConfiguration(filename string) (Configuration, error) {
	config := defaultConfiguration()

	data, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	default:
		err = json.Unmarshal(data, &config)
	}
	if err != nil {
		return config, fmt.Errorf("decoding %s: %w", filename, err)
	}
	return config, nil
}

// Validate checks the settings the processor cannot run without. The channel
// map is checked against reg.
func (c *Configuration) Validate(reg *wfs.Registry) error {
	var errs []error
	if c.StagingBaseDir == "" {
		errs = append(errs, errors.New("StagingBaseDir is not set"))
	}
	if c.ProcBaseDir == "" {
		errs = append(errs, errors.New("ProcBaseDir is not set"))
	}
	if c.ArchiveFiles != nil && c.ArchiveFiles.BaseDir == "" {
		errs = append(errs, errors.New("ArchiveFiles.BaseDir is not set"))
	}
	if err := c.ChsMap.Validate(reg); err != nil {
		errs = append(errs, fmt.Errorf("chs_map: %w", err))
	}
	if c.TrigRate != nil && c.TrigRate.MinTrapEnergy > c.TrigRate.MaxTrapEnergy {
		errs = append(errs, fmt.Errorf("TrigRate: MinTrapEnergy %g is above MaxTrapEnergy %g",
			c.TrigRate.MinTrapEnergy, c.TrigRate.MaxTrapEnergy))
	}
	if c.LoopSleepSec <= 0 {
		errs = append(errs, fmt.Errorf("loop_sleep_sec must be positive, got %d", c.LoopSleepSec))
	}
	if len(c.FilesExt) == 0 {
		errs = append(errs, errors.New("files_ext is empty"))
	}
	return errors.Join(errs...)
}

// FindConfiguration returns the file named by $GATOR_DAQPROC_FILE or, when
// unset, $HOME/.local/etc/GatorDaqProc/config.json.
func FindConfiguration() (string, error) {
	if path, ok := os.LookupEnv(ConfigEnvVar); ok {
		if isRegularFile(path) {
			return path, nil
		}
		return "", fmt.Errorf("%s points to %q, which is not a file", ConfigEnvVar, path)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(home, ".local", "etc", "GatorDaqProc", "config.json")
	if isRegularFile(path) {
		return path, nil
	}
	return "", fmt.Errorf("no configuration file: %s is not set and %s does not exist", ConfigEnvVar, path)
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func PrintConfiguration(config Configuration, logger logging.Logger) {
	logger.Info(fmt.Sprintf("Staging base dir: %s", config.StagingBaseDir), "config")
	logger.Info(fmt.Sprintf("Processed base dir: %s", config.ProcBaseDir), "config")
	if config.ArchiveFiles != nil {
		logger.Info(fmt.Sprintf("Archive base dir: %s", config.ArchiveFiles.BaseDir), "config")
		logger.Info(fmt.Sprintf("Archive requires trigger rate: %t", config.ArchiveFiles.TrigRateRequired), "config")
	} else {
		logger.Info("Archive: disabled", "config")
	}
	logger.Info(fmt.Sprintf("Channels: %s", strings.Join(config.ChsMap.Names(), ", ")), "config")
	logger.Info(fmt.Sprintf("Stages: %s", strings.Join(config.ChsMap.StageOrder(), ", ")), "config")
	if config.TrigRate != nil {
		logger.Info(fmt.Sprintf("Trigger rate energy window: [%g, %g]", config.TrigRate.MinTrapEnergy, config.TrigRate.MaxTrapEnergy), "config")
		logger.Info(fmt.Sprintf("Trigger rate queries: %q", config.TrigRate.Queries), "config")
		logger.Info(fmt.Sprintf("Trigger rate file: %s", config.TrigRate.TrigRateFile), "config")
	} else {
		logger.Info("Trigger rate: disabled", "config")
	}
	if config.RateDB != nil {
		logger.Info(fmt.Sprintf("Rate DB driver: %s", config.RateDB.Driver), "config")
		logger.Info(fmt.Sprintf("Rate DB host: %s", config.RateDB.Host), "config")
		logger.Info(fmt.Sprintf("Rate DB name: %s", config.RateDB.DBName), "config")
	}
	logger.Info(fmt.Sprintf("Loop sleep: %d s", config.LoopSleepSec), "config")
	logger.Info(fmt.Sprintf("File extensions: %s", strings.Join(config.FilesExt, ", ")), "config")
	logger.Info(fmt.Sprintf("Digitizer: %d", config.Digitizer), "config")
	logger.Info(fmt.Sprintf("Compression level: %d", config.CompressionLevel), "config")
	logger.Info(fmt.Sprintf("Log dir: %s", config.Logging.LogDir), "config")
	logger.Info(fmt.Sprintf("Log level: %s", config.Logging.LogLevel), "config")
	logger.Info(fmt.Sprintf("Verbosity: %d", config.Verbosity), "config")
}

// redacted is the configuration as stored next to the processed files.
func (c Configuration) redacted() Configuration {
	if c.RateDB != nil {
		db := *c.RateDB
		if db.Pass != "" {
			db.Pass = "***"
		}
		c.RateDB = &db
	}
	return c
}
