package daqproc

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gator-daq/gatorproc/pkg/procfile"
	"github.com/gator-daq/gatorproc/pkg/rawfile"
	"github.com/gator-daq/gatorproc/pkg/trigrate"
	"github.com/gator-daq/gatorproc/pkg/wfs"
)

// Action is what a scan does with one event file.
type Action int

const (
	// Skip leaves the file alone: nothing is left to do.
	Skip Action = iota
	// Full reads the raw file, builds and stores the feature table.
	Full
	// RateOnly computes the missing trigger rate from the stored feature
	// table. The raw file is never read again.
	RateOnly
	// ArchiveOnly retries the archiving of a file processed earlier.
	ArchiveOnly
)

func (a Action) String() string {
	switch a {
	case Skip:
		return "skip"
	case Full:
		return "full"
	case RateOnly:
		return "rate only"
	case ArchiveOnly:
		return "archive only"
	default:
		return "unknown"
	}
}

// Decide picks the action for a file from its state entry (nil when the file
// was never processed), whether it is still in the staging area, whether a
// trigger rate policy is configured and whether the run can be archived.
func Decide(entry *FileState, onDisk bool, ratePolicy bool, archiving bool) Action {
	switch {
	case entry == nil && onDisk:
		return Full
	case entry == nil:
		return Skip
	case ratePolicy && entry.TrigRate == nil:
		return RateOnly
	case onDisk && archiving:
		return ArchiveOnly
	}
	return Skip
}

func (p *Processor) handleFile(ctx context.Context, d *runDir, fname string) {
	src := filepath.Join(d.stagingDir, fname)
	defer func() {
		if r := recover(); r != nil {
			p.summary.Failed++
			p.logger.Error(fmt.Sprintf("recovered from panic processing %s: %v", src, r))
		}
	}()

	entry := d.state[fname]
	action := Decide(entry, exists(src), p.calc != nil, d.archiving)
	p.logger.Debug(fmt.Sprintf("%s: %s", src, action), "daqproc")

	switch action {
	case Skip:
		p.summary.Skipped++
		return
	case Full:
		var err error
		entry, err = p.procFull(ctx, d, fname)
		if err != nil {
			p.summary.Failed++
			p.logger.Warn(fmt.Sprintf("failed to process %s: %v", src, err), "daqproc")
			return
		}
		d.state[fname] = entry
		p.summary.Processed++
	case RateOnly:
		p.procRateOnly(ctx, d, fname, entry)
		p.summary.RateOnly++
	}

	p.archive(d, fname, entry)
}

func (p *Processor) procFull(ctx context.Context, d *runDir, fname string) (*FileState, error) {
	src := filepath.Join(d.stagingDir, fname)
	raw, meta, err := p.readEventFile(src)
	if err != nil {
		return nil, err
	}
	table, err := p.files.Process(raw)
	if err != nil {
		return nil, fmt.Errorf("processing the waveforms: %w", err)
	}

	entry := &FileState{ProcTimestamp: p.now().Round(time.Second).Unix()}
	artifact := &procfile.Artifact{
		DaqSettings:  d.daqSettings,
		ProcSettings: p.procConfig,
		WfsLength:    d.wfsLength,
		Table:        table,
		Metadata:     meta,
		SourceFile:   fname,
	}
	dst := procfile.Path(d.procDir, fname)
	if err := p.store.Save(dst, artifact); err != nil {
		return nil, err
	}
	p.logger.Info(fmt.Sprintf("%s processed into %s (%d events, %d columns)", fname, dst, table.NRows(), table.NCols()), "daqproc")

	if p.calc == nil {
		return entry, nil
	}
	if meta == nil {
		p.logger.Error(fmt.Sprintf("missing DAQ metadata in %s, cannot compute the trigger rate", src))
		return entry, nil
	}
	entry.TrigRate = p.computeRate(ctx, d, fname, table, *meta, d.wfsLength)
	return entry, nil
}

// readEventFile reads the waveforms and, if present, the metadata of an
// event file. Missing metadata is not an error here.
func (p *Processor) readEventFile(path string) (raw *wfs.RawData, meta *rawfile.Metadata, err error) {
	r, err := p.open(path)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if cerr := r.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", path, cerr)
		}
	}()

	raw, err = r.ReadEvents(p.config.ChsMap.Names())
	if err != nil {
		return nil, nil, err
	}
	m, merr := r.ReadMetadata()
	if merr != nil {
		p.logger.Warn(fmt.Sprintf("failed to read the DAQ metadata of %s: %v", path, merr), "daqproc")
		return raw, nil, nil
	}
	return raw, &m, nil
}

func (p *Processor) procRateOnly(ctx context.Context, d *runDir, fname string, entry *FileState) {
	path := procfile.Path(d.procDir, fname)
	p.logger.Debug(fmt.Sprintf("%s was already processed, computing the trigger rate from %s", fname, path), "daqproc")

	artifact, err := p.store.Load(path)
	if err != nil {
		p.logger.Error(fmt.Errorf("loading the processed data of %s: %w", fname, err).Error())
		return
	}
	if artifact.Metadata == nil {
		p.logger.Error(fmt.Sprintf("missing DAQ metadata in %s, cannot compute the trigger rate", path))
		return
	}
	wfsLength := artifact.WfsLength
	if wfsLength <= 0 {
		wfsLength = d.wfsLength
	}
	if rate := p.computeRate(ctx, d, fname, artifact.Table, *artifact.Metadata, wfsLength); rate != nil {
		entry.TrigRate = rate
	}
}

// computeRate returns nil when the rate cannot be computed; the reason is
// logged.
func (p *Processor) computeRate(ctx context.Context, d *runDir, fname string, table *wfs.FeatureTable, meta rawfile.Metadata, wfsLength int) *TrigRateState {
	rec, err := p.calc.Compute(table, trigrate.RunInfo{
		LiveTime:      meta.FileRunTime,
		SampFreq:      meta.SampFreq,
		WfsLength:     wfsLength,
		StartUnixTime: meta.StartUnixTime,
		StopUnixTime:  meta.StopUnixTime,
	})
	if err != nil {
		p.logger.Error(fmt.Errorf("trigger rate of %s: %w", filepath.Join(d.relpath, fname), err).Error())
		return nil
	}
	p.logger.Info(fmt.Sprintf("%s: trigger rate %.4g ± %.2g Hz (%d/%d events, live time %.1f s)",
		fname, rec.TrigRate, rec.RateErr, rec.NAfterCuts, rec.NBeforeCuts, rec.LiveTime), "trigrate")

	if path := p.calc.Policy.TrigRateFile; path != "" {
		if err := trigrate.AppendRateLog(path, rec); err != nil {
			p.logger.Error(fmt.Errorf("failed to write the trigger rate on %s: %w", path, err).Error())
		}
	}
	if p.rates != nil {
		row := trigrate.RateRow{
			RunDir:        d.relpath,
			FileName:      fname,
			TrigTimestamp: rec.TrigTimestamp,
			TrigRate:      rec.TrigRate,
			RateErr:       rec.RateErr,
			ProcTimestamp: rec.ProcTimestamp,
			NEvents:       rec.NAfterCuts,
		}
		if err := p.rates.Insert(ctx, row); err != nil {
			p.logger.Error(err.Error())
		}
	}
	return &TrigRateState{
		ProcTimestamp: rec.ProcTimestamp,
		TrigTimestamp: rec.TrigTimestamp,
		TrigRate:      rec.TrigRate,
		RateErr:       rec.RateErr,
	}
}

// archive moves a staged file to the archive when the run can be archived
// and, if required, its trigger rate is known.
func (p *Processor) archive(d *runDir, fname string, entry *FileState) {
	src := filepath.Join(d.stagingDir, fname)
	if !d.archiving || !exists(src) {
		return
	}
	if p.config.ArchiveFiles.TrigRateRequired && entry.TrigRate == nil {
		p.logger.Debug(fmt.Sprintf("%s kept in the staging area until its trigger rate is known", src), "daqproc")
		return
	}
	if err := p.archiver.Archive(src, filepath.Join(d.archiveDir, fname), true); err != nil {
		p.logger.Error(fmt.Errorf("failed to archive %s: %w", src, err).Error())
		return
	}
	p.summary.Archived++
}
