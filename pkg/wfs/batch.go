package wfs

import "fmt"

// Batch holds the waveforms of one channel for a whole file: NEvents rows of
// NSamples samples, stored row-major in Data.
type Batch struct {
	NEvents  int
	NSamples int
	Data     []float64
}

func NewBatch(nEvents int, nSamples int) *Batch {
	return &Batch{
		NEvents:  nEvents,
		NSamples: nSamples,
		Data:     make([]float64, nEvents*nSamples),
	}
}

// BatchFromRows copies equal length rows into a new batch.
func BatchFromRows(rows [][]float64) *Batch {
	if len(rows) == 0 {
		return &Batch{}
	}
	b := NewBatch(len(rows), len(rows[0]))
	for i, row := range rows {
		copy(b.Event(i), row)
	}
	return b
}

// Event returns the samples of event i. The slice aliases the batch.
func (b *Batch) Event(i int) []float64 {
	return b.Data[i*b.NSamples : (i+1)*b.NSamples]
}

// RawData is everything read from one raw event file.
type RawData struct {
	NEvents     int
	Channels    map[string]*Batch
	RunTime     []float64
	EvCounter   []float64
	TimeTrigTag []float64
}

// Event returns a copy of event i of every channel, as single event
// batches ready for FileProcessor.ProcessEvent.
func (r *RawData) Event(i int) (map[string]*Batch, error) {
	if i < 0 || i >= r.NEvents {
		return nil, fmt.Errorf("event %d out of range, the file has %d events", i, r.NEvents)
	}
	out := make(map[string]*Batch, len(r.Channels))
	for name, b := range r.Channels {
		if b == nil || i >= b.NEvents {
			return nil, fmt.Errorf("channel %s has no event %d", name, i)
		}
		out[name] = singleBatch(b.Event(i))
	}
	return out, nil
}

// Release drops the waveform samples. The scalar columns are kept.
func (r *RawData) Release() {
	for name := range r.Channels {
		r.Channels[name] = nil
	}
	r.Channels = nil
}

// Released reports whether Release was called.
func (r *RawData) Released() bool {
	return r.Channels == nil
}
