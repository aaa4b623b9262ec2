package wfs

import (
	"errors"
	"fmt"

	"github.com/gator-daq/gatorproc/pkg/dsp"
)

const RawStageName = "raw"

// RawStage records the extrema of the raw waveforms of every channel. It is
// not configurable and always runs first.
type RawStage struct{}

func (s *RawStage) Name() string { return RawStageName }

func (s *RawStage) Process(chs ChannelMap, table *FeatureTable, wfs Waveforms) (Derived, error) {
	var errs []error
	for _, name := range chs.Names() {
		b, ok := wfs.Raw[name]
		if !ok || b == nil {
			errs = append(errs, &ErrStageConfig{Stage: RawStageName, Channel: name, Reason: "no raw waveforms"})
			continue
		}
		maxVal := make([]float64, b.NEvents)
		minVal := make([]float64, b.NEvents)
		maxPos := make([]int, b.NEvents)
		minPos := make([]int, b.NEvents)
		for i := 0; i < b.NEvents; i++ {
			ev := b.Event(i)
			maxPos[i] = dsp.ArgMax(ev)
			minPos[i] = dsp.ArgMin(ev)
			if maxPos[i] < 0 {
				return nil, fmt.Errorf("channel %q: event %d has no samples", name, i)
			}
			maxVal[i] = ev[maxPos[i]]
			minVal[i] = ev[minPos[i]]
		}
		if err := table.Add(name+"_raw_max_val", Float64, maxVal); err != nil {
			return nil, err
		}
		if err := table.AddInts(name+"_raw_max_pos", maxPos); err != nil {
			return nil, err
		}
		if err := table.Add(name+"_raw_min_val", Float64, minVal); err != nil {
			return nil, err
		}
		if err := table.AddInts(name+"_raw_min_pos", minPos); err != nil {
			return nil, err
		}
	}
	return Derived{}, errors.Join(errs...)
}

func (s *RawStage) ProcessEvent(chs ChannelMap, wfs Waveforms) (Derived, error) {
	return Derived{}, nil
}
