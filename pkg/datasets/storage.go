// Package datasets processes whole datasets offline: every raw file found
// under <data dir>/<dataset> becomes part of one merged feature table, and
// any event of it can be reprocessed to look at its waveforms.
package datasets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gator-daq/gatorproc/pkg/logging"
	"github.com/gator-daq/gatorproc/pkg/rawfile"
	"github.com/gator-daq/gatorproc/pkg/wfs"
)

// Columns added to the merged table to find an event back.
const (
	DatasetIDColumn = "datasetId"
	FileIDColumn    = "fileId"
	WfIDColumn      = "wfId"
)

// File is one raw file of a dataset. FileID is its position in Storage.Files.
type File struct {
	Dataset   string
	DatasetID int
	FileID    int
	Path      string
}

type Storage struct {
	DataDir string
	// Extensions of the raw files picked up, ".root" when empty.
	Extensions []string

	open      rawfile.Opener
	processor *wfs.FileProcessor
	channels  []string
	logger    logging.Logger
	datasets  []string
	files     []File
}

func NewStorage(dataDir string, chs wfs.ChannelMap, open rawfile.Opener, logger logging.Logger) (*Storage, error) {
	if open == nil {
		open = rawfile.Open
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	p, err := wfs.NewFileProcessor(chs, nil, logger)
	if err != nil {
		return nil, err
	}
	return &Storage{
		DataDir:   dataDir,
		open:      open,
		processor: p,
		channels:  chs.Names(),
		logger:    logger,
	}, nil
}

func (s *Storage) extensions() []string {
	if len(s.Extensions) == 0 {
		return []string{".root"}
	}
	return s.Extensions
}

// AddDataset registers the raw files of <DataDir>/<name>, sorted by name.
// A dataset without files is an error.
func (s *Storage) AddDataset(name string) ([]File, error) {
	dir := filepath.Join(s.DataDir, name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", name, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		for _, want := range s.extensions() {
			if ext == strings.ToLower(want) {
				names = append(names, e.Name())
				break
			}
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("dataset %s: no %s files in %s", name, strings.Join(s.extensions(), "/"), dir)
	}
	sort.Strings(names)

	id := len(s.datasets)
	s.datasets = append(s.datasets, name)
	added := make([]File, len(names))
	for i, n := range names {
		added[i] = File{Dataset: name, DatasetID: id, FileID: len(s.files), Path: filepath.Join(dir, n)}
		s.files = append(s.files, added[i])
	}
	s.logger.Info(fmt.Sprintf("dataset %s: %d files", name, len(names)), "datasets")
	return added, nil
}

func (s *Storage) Datasets() []string { return s.datasets }

func (s *Storage) Files() []File { return s.files }

// Merged processes every registered file and stacks the feature tables,
// each row tagged with its dataset, file and event index.
func (s *Storage) Merged(ctx context.Context) (*wfs.FeatureTable, error) {
	tables := make([]*wfs.FeatureTable, 0, len(s.files))
	for _, f := range s.files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		table, err := s.process(f)
		if err != nil {
			return nil, fmt.Errorf("processing %s: %w", f.Path, err)
		}
		s.logger.Debug(fmt.Sprintf("%s: %d events", f.Path, table.NRows()), "datasets")
		tables = append(tables, table)
	}
	return wfs.Concat(tables...)
}

func (s *Storage) process(f File) (*wfs.FeatureTable, error) {
	raw, err := s.read(f)
	if err != nil {
		return nil, err
	}
	table, err := s.processor.Process(raw)
	if err != nil {
		return nil, err
	}
	n := table.NRows()
	datasetIDs, fileIDs, wfIDs := make([]int, n), make([]int, n), make([]int, n)
	for i := 0; i < n; i++ {
		datasetIDs[i], fileIDs[i], wfIDs[i] = f.DatasetID, f.FileID, i
	}
	if err := table.AddInts(DatasetIDColumn, datasetIDs); err != nil {
		return nil, err
	}
	if err := table.AddInts(FileIDColumn, fileIDs); err != nil {
		return nil, err
	}
	if err := table.AddInts(WfIDColumn, wfIDs); err != nil {
		return nil, err
	}
	return table, nil
}

func (s *Storage) read(f File) (raw *wfs.RawData, err error) {
	r, err := s.open(f.Path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := r.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", f.Path, cerr)
		}
	}()
	return r.ReadEvents(s.channels)
}

// Waveforms reprocesses event wfID of file fileID and returns the raw
// waveforms ("raw" output) next to everything the stages derive from them.
func (s *Storage) Waveforms(fileID int, wfID int) (wfs.Derived, error) {
	if fileID < 0 || fileID >= len(s.files) {
		return nil, fmt.Errorf("file %d out of range, %d files registered", fileID, len(s.files))
	}
	f := s.files[fileID]
	raw, err := s.read(f)
	if err != nil {
		return nil, err
	}
	return EventWaveforms(s.processor, raw, wfID)
}

// EventWaveforms runs the processor on event i of raw.
func EventWaveforms(p *wfs.FileProcessor, raw *wfs.RawData, i int) (wfs.Derived, error) {
	ev, err := raw.Event(i)
	if err != nil {
		return nil, err
	}
	derived, err := p.ProcessEvent(ev)
	if err != nil {
		return nil, err
	}
	for ch, b := range ev {
		if derived[ch] == nil {
			derived[ch] = map[string]*wfs.Batch{}
		}
		derived[ch][wfs.RawStageName] = b
	}
	return derived, nil
}
