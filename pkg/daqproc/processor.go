// Package daqproc watches the staging tree filled by the DAQ, processes every
// new event file once, computes its trigger rate and archives it.
package daqproc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gator-daq/gatorproc/pkg/logging"
	"github.com/gator-daq/gatorproc/pkg/procfile"
	"github.com/gator-daq/gatorproc/pkg/rawfile"
	"github.com/gator-daq/gatorproc/pkg/trigrate"
	"github.com/gator-daq/gatorproc/pkg/wfs"
)

// The DAQ writes at most dataset/run below the staging base directory.
const maxDepth = 2

// RateSink receives every computed trigger rate.
type RateSink interface {
	Insert(ctx context.Context, row trigrate.RateRow) error
}

// Processor scans the staging area and turns every finished event file into
// a processed artifact and a trigger rate.
type Processor struct {
	config     Configuration
	procConfig json.RawMessage
	logger     logging.Logger
	registry   *wfs.Registry
	files      *wfs.FileProcessor
	calc       *trigrate.Calculator
	open       rawfile.Opener
	store      procfile.Store
	archiver   *Archiver
	rates      RateSink
	now        func() time.Time
	summary    ScanSummary
}

// Option overrides one Processor collaborator, mostly for tests.
type Option func(*Processor)

// WithOpener replaces the event file reader.
func WithOpener(open rawfile.Opener) Option {
	return func(p *Processor) { p.open = open }
}

// WithStore replaces where processed artifacts are written.
func WithStore(store procfile.Store) Option {
	return func(p *Processor) { p.store = store }
}

// WithRegistry replaces the processing stage registry.
func WithRegistry(reg *wfs.Registry) Option {
	return func(p *Processor) { p.registry = reg }
}

// WithRateSink sends every trigger rate to sink as well.
func WithRateSink(sink RateSink) Option {
	return func(p *Processor) { p.rates = sink }
}

// WithArchiver moves processed raw files to their archive location.
func WithArchiver(a *Archiver) Option {
	return func(p *Processor) { p.archiver = a }
}

// WithClock replaces the clock used for processing timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

func NewProcessor(config Configuration, logger logging.Logger, opts ...Option) (*Processor, error) {
	if logger == nil {
		logger = logging.Nop{}
	}
	p := &Processor{
		config:   config,
		logger:   logger,
		registry: wfs.DefaultRegistry(),
		store:    &procfile.HDF5Store{CompressionLevel: config.CompressionLevel},
		now:      time.Now,
	}
	p.open = func(path string) (rawfile.Reader, error) {
		return rawfile.OpenDigitizer(path, config.Digitizer)
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.archiver == nil {
		p.archiver = NewArchiver(logger)
	}

	if err := p.config.Validate(p.registry); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	files, err := wfs.NewFileProcessor(config.ChsMap, p.registry, logger)
	if err != nil {
		return nil, err
	}
	p.files = files
	if config.TrigRate != nil {
		p.calc = trigrate.NewCalculator(*config.TrigRate)
		p.calc.Now = func() time.Time { return p.now() }
	}
	p.procConfig, err = json.Marshal(config.redacted())
	if err != nil {
		return nil, fmt.Errorf("encoding the processing configuration: %w", err)
	}
	return p, nil
}

// ScanSummary counts what one pass over the staging tree did.
type ScanSummary struct {
	Directories int
	Processed   int
	RateOnly    int
	Archived    int
	Skipped     int
	Failed      int
}

func (s ScanSummary) String() string {
	return fmt.Sprintf("%d directories, %d processed, %d rate only, %d archived, %d skipped, %d failed",
		s.Directories, s.Processed, s.RateOnly, s.Archived, s.Skipped, s.Failed)
}

// Run scans the staging tree every loop_sleep_sec until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	sleep := time.Duration(p.config.LoopSleepSec) * time.Second
	for {
		if _, err := p.ProcTree(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error(fmt.Errorf("error scanning %s: %w", p.config.StagingBaseDir, err).Error())
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.logger.Info("interrupted, exiting", "daqproc")
			return nil
		case <-timer.C:
		}
	}
}

// ProcTree processes every directory of the staging tree, down to
// dataset/run, holding at least one event file.
func (p *Processor) ProcTree(ctx context.Context) (ScanSummary, error) {
	p.summary = ScanSummary{}
	scanID := uuid.NewString()
	p.logger.Info(fmt.Sprintf("scan %s: processing %s into %s", scanID, p.config.StagingBaseDir, p.config.ProcBaseDir), "daqproc")

	info, err := os.Stat(p.config.StagingBaseDir)
	if err != nil {
		return p.summary, &ErrOpenFile{Filename: p.config.StagingBaseDir, Err: err}
	}
	if !info.IsDir() {
		return p.summary, fmt.Errorf("%s is not a directory", p.config.StagingBaseDir)
	}

	err = p.walk(ctx, ".", 0)
	p.logger.Info(fmt.Sprintf("scan %s: %s", scanID, p.summary), "daqproc")
	return p.summary, err
}

func (p *Processor) walk(ctx context.Context, relpath string, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(filepath.Join(p.config.StagingBaseDir, relpath))
	if err != nil {
		p.logger.Warn(fmt.Sprintf("cannot list %s: %v", relpath, err), "daqproc")
		return nil
	}

	var files, dirs []string
	for _, e := range entries {
		switch {
		case e.IsDir():
			dirs = append(dirs, e.Name())
		case e.Type().IsRegular() && p.isEventFile(e.Name()):
			files = append(files, e.Name())
		}
	}

	if len(files) > 0 {
		p.summary.Directories++
		if err := p.ProcDirectory(ctx, relpath, files); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Error(err.Error())
		}
	}

	if depth >= maxDepth {
		return nil
	}
	for _, d := range dirs {
		if err := p.walk(ctx, filepath.Join(relpath, d), depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) isEventFile(name string) bool {
	ext := filepath.Ext(name)
	for _, e := range p.config.FilesExt {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// runDir holds everything ProcDirectory resolved about one run directory.
type runDir struct {
	relpath     string
	stagingDir  string
	procDir     string
	archiveDir  string
	archiving   bool
	daqSettings json.RawMessage
	wfsLength   int
	state       RunState
}

// ProcDirectory processes the event files of one run directory and writes
// its state file once at the end, also when ctx is cancelled midway.
func (p *Processor) ProcDirectory(ctx context.Context, relpath string, files []string) error {
	d := &runDir{
		relpath:    relpath,
		stagingDir: filepath.Join(p.config.StagingBaseDir, relpath),
		procDir:    filepath.Join(p.config.ProcBaseDir, relpath),
	}
	p.logger.Info(fmt.Sprintf("processing directory %s (%d files)", d.stagingDir, len(files)), "daqproc")

	if p.config.ArchiveFiles != nil {
		d.archiving = true
		d.archiveDir = filepath.Join(p.config.ArchiveFiles.BaseDir, relpath)
		if err := ensureDir(d.archiveDir); err != nil {
			p.logger.Warn(fmt.Sprintf("archive directory %s unusable, the files of this run will not be archived: %v", d.archiveDir, err), "daqproc")
			d.archiving = false
		}
	}

	statePath := StatePath(d.stagingDir)
	state, err := LoadRunState(statePath)
	if err != nil {
		p.logger.Error(fmt.Errorf("reading the state of %s, starting from an empty state: %w", d.stagingDir, err).Error())
	}
	d.state = state

	daqConfig, err := findDaqConfig(d.stagingDir)
	if err != nil {
		return err
	}
	if err := p.loadDaqConfig(d, daqConfig); err != nil {
		return err
	}

	if err := ensureDir(d.procDir); err != nil {
		p.logger.Warn(fmt.Sprintf("processed directory %s unusable, skipping %s: %v", d.procDir, d.stagingDir, err), "daqproc")
		return nil
	}
	p.exportDaqConfig(d, daqConfig)

	var cancelled error
	for _, fname := range p.candidates(d, files) {
		if err := ctx.Err(); err != nil {
			cancelled = err
			break
		}
		p.handleFile(ctx, d, fname)
	}

	if err := d.state.Save(statePath); err != nil {
		return errors.Join(fmt.Errorf("saving the state of %s: %w", d.stagingDir, err), cancelled)
	}
	return cancelled
}

// candidates are the event files on disk plus the ones only known from the
// state, which were archived already.
func (p *Processor) candidates(d *runDir, files []string) []string {
	names := slices.Clone(files)
	for name := range d.state {
		if p.isEventFile(name) && !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

func (p *Processor) loadDaqConfig(d *runDir, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &ErrRunConfig{Dir: d.stagingDir, Err: err}
	}
	if !json.Valid(data) {
		return &ErrRunConfig{Dir: d.stagingDir, Err: fmt.Errorf("%s is not valid JSON", path)}
	}
	wfsLength, err := procfile.WfsLength(data)
	if err != nil {
		return &ErrRunConfig{Dir: d.stagingDir, Err: err}
	}
	d.daqSettings = data
	d.wfsLength = wfsLength
	return nil
}

// exportDaqConfig copies the DAQ configuration to the archive and writes it,
// extended with the processing configuration, next to the processed files.
// Existing files are left alone.
func (p *Processor) exportDaqConfig(d *runDir, path string) {
	name := filepath.Base(path)
	if d.archiving {
		dst := filepath.Join(d.archiveDir, name)
		if !exists(dst) {
			if err := p.archiver.Archive(path, dst, false); err != nil {
				p.logger.Error(fmt.Errorf("archiving the DAQ configuration: %w", err).Error())
			}
		}
	}

	dst := filepath.Join(d.procDir, name)
	if exists(dst) {
		return
	}
	if err := writeMergedConfig(dst, d.daqSettings, p.procConfig); err != nil {
		p.logger.Error(fmt.Errorf("writing %s: %w", dst, err).Error())
	}
}

func writeMergedConfig(path string, daqSettings []byte, procConfig json.RawMessage) error {
	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(daqSettings, &merged); err != nil {
		return fmt.Errorf("the DAQ configuration is not a JSON object: %w", err)
	}
	merged["proc_config"] = procConfig
	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func findDaqConfig(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return "", &ErrRunConfig{Dir: dir, Err: err}
	}
	var found []string
	for _, m := range matches {
		if !strings.HasPrefix(filepath.Base(m), ".") {
			found = append(found, m)
		}
	}
	if len(found) != 1 {
		return "", &ErrRunConfig{Dir: dir, Found: found}
	}
	return found[0], nil
}

// ensureDir creates dir if needed and checks that files can be created in it.
func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	probe, err := os.CreateTemp(dir, ".gatorproc-probe-*")
	if err != nil {
		return fmt.Errorf("%s is not writable: %w", dir, err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}
