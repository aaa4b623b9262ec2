package wfs

import (
	"errors"
	"fmt"

	"github.com/gator-daq/gatorproc/pkg/logging"
)

// FileProcessor turns the raw waveforms of one file into a feature table. The
// raw extrema and the baseline subtraction always run first, then every
// configured stage once, in the order the stages first appear in the channel
// map.
type FileProcessor struct {
	chs      ChannelMap
	raw      Stage
	baseline Stage
	stages   []Stage
	logger   logging.Logger
}

func NewFileProcessor(chs ChannelMap, reg *Registry, logger logging.Logger) (*FileProcessor, error) {
	if reg == nil {
		reg = DefaultRegistry()
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	if err := chs.Validate(reg); err != nil {
		return nil, fmt.Errorf("invalid channel map: %w", err)
	}
	p := &FileProcessor{
		chs:      chs,
		raw:      &RawStage{},
		baseline: &BaselineStage{},
		logger:   logger,
	}
	for _, name := range chs.StageOrder() {
		stage, err := reg.New(name)
		if err != nil {
			return nil, err
		}
		p.stages = append(p.stages, stage)
	}
	return p, nil
}

// Stages returns the names of the stages run by Process, in order.
func (p *FileProcessor) Stages() []string {
	names := []string{p.raw.Name(), p.baseline.Name()}
	for _, s := range p.stages {
		names = append(names, s.Name())
	}
	return names
}

// Process builds the feature table of raw. The waveforms are released when
// the table is complete, whether or not processing succeeded.
func (p *FileProcessor) Process(raw *RawData) (*FeatureTable, error) {
	defer raw.Release()

	table := NewFeatureTable(raw.NEvents)
	seeds := []struct {
		name   string
		typ    ColumnType
		values []float64
	}{
		{"RunTime", Float32, raw.RunTime},
		{"EvCounter", Uint32, raw.EvCounter},
		{"TimeTrigTag", Uint32, raw.TimeTrigTag},
	}
	for _, s := range seeds {
		if s.values == nil {
			continue
		}
		if err := table.Add(s.name, s.typ, s.values); err != nil {
			return nil, err
		}
	}

	wfs := Waveforms{Raw: raw.Channels, Corrected: map[string]*Batch{}}

	if _, err := p.run(p.raw, table, wfs); err != nil {
		return nil, err
	}
	derived, err := p.run(p.baseline, table, wfs)
	if err != nil {
		return nil, err
	}
	for ch, outputs := range derived {
		wfs.Corrected[ch] = outputs[BaselineStageName]
	}
	for _, stage := range p.stages {
		if _, err := p.run(stage, table, wfs); err != nil {
			return nil, err
		}
	}
	return table, nil
}

// ProcessEvent runs every stage on a single event per channel and returns
// all the waveforms produced, including the baseline subtracted ones.
func (p *FileProcessor) ProcessEvent(raw map[string]*Batch) (Derived, error) {
	wfs := Waveforms{Raw: raw, Corrected: map[string]*Batch{}}
	all := Derived{}

	derived, err := p.baseline.ProcessEvent(p.chs, wfs)
	if err != nil {
		return nil, err
	}
	for ch, outputs := range derived {
		wfs.Corrected[ch] = outputs[BaselineStageName]
	}
	all.merge(derived)
	for _, stage := range p.stages {
		derived, err := stage.ProcessEvent(p.chs, wfs)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", stage.Name(), err)
		}
		all.merge(derived)
	}
	return all, nil
}

// run executes one stage. Stage configuration problems are logged and the
// affected channels skipped; anything else stops the file.
func (p *FileProcessor) run(stage Stage, table *FeatureTable, wfs Waveforms) (Derived, error) {
	derived, err := stage.Process(p.chs, table, wfs)
	warnings, fatal := splitStageErrors(err)
	for _, w := range warnings {
		p.logger.Warn(w.Error(), "wfs")
	}
	if fatal != nil {
		return nil, fmt.Errorf("stage %s: %w", stage.Name(), fatal)
	}
	return derived, nil
}

func splitStageErrors(err error) ([]*ErrStageConfig, error) {
	if err == nil {
		return nil, nil
	}
	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}
	var warnings []*ErrStageConfig
	var fatal []error
	for _, e := range errs {
		var cfgErr *ErrStageConfig
		if errors.As(e, &cfgErr) {
			warnings = append(warnings, cfgErr)
			continue
		}
		fatal = append(fatal, e)
	}
	return warnings, errors.Join(fatal...)
}
