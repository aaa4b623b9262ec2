package wfs

import (
	"fmt"
	"sort"
)

// Waveforms is the input of a stage: the raw batches and the baseline
// corrected ones, both keyed by channel.
type Waveforms struct {
	Raw       map[string]*Batch
	Corrected map[string]*Batch
}

// Derived holds, per channel, the waveforms a stage produced keyed by output
// name (e.g. "trapezoid", "swf").
type Derived map[string]map[string]*Batch

func (d Derived) put(channel string, name string, b *Batch) {
	if d[channel] == nil {
		d[channel] = make(map[string]*Batch)
	}
	d[channel][name] = b
}

// merge copies the outputs of other into d.
func (d Derived) merge(other Derived) {
	for ch, outputs := range other {
		for name, b := range outputs {
			d.put(ch, name, b)
		}
	}
}

// Stage is one step of the waveform chain.
//
// Process runs over every event of every channel configured for the stage,
// appends its columns to table and returns the derived waveforms. A returned
// error may join several *ErrStageConfig (those channels were skipped and the
// rest processed) or hold an *ErrColumnExists, which is fatal for the file.
//
// ProcessEvent does the same for one event per channel without touching any
// table. It is used to display single waveforms.
type Stage interface {
	Name() string
	Process(chs ChannelMap, table *FeatureTable, wfs Waveforms) (Derived, error)
	ProcessEvent(chs ChannelMap, wfs Waveforms) (Derived, error)
}

type Factory func() Stage

// Registry maps stage names to constructors. It is built once at start up and
// handed to the file processor.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry knows every stage shipped with this package.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(TrapezoidStageName, func() Stage { return &TrapezoidStage{} })
	r.MustRegister(GaussFilterStageName, func() Stage { return &GaussFilterStage{} })
	r.MustRegister(RawPurStageName, func() Stage { return &RawPurStage{} })
	return r
}

func (r *Registry) Register(name string, f Factory) error {
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("duplicate waveform stage name: %s", name)
	}
	r.factories[name] = f
	return nil
}

func (r *Registry) MustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

func (r *Registry) Has(name string) bool {
	_, ok := r.factories[name]
	return ok
}

func (r *Registry) New(name string) (Stage, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, &ErrUnknownStage{Stage: name}
	}
	return f(), nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func singleEvent(channel string, b *Batch) ([]float64, error) {
	if b.NEvents != 1 {
		return nil, &ErrShape{Channel: channel, NEvents: b.NEvents, NSamples: b.NSamples}
	}
	return b.Event(0), nil
}

func singleBatch(samples []float64) *Batch {
	b := NewBatch(1, len(samples))
	copy(b.Data, samples)
	return b
}
