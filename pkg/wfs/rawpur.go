package wfs

import "errors"

const RawPurStageName = "rawpur"

// RawPurStage flags events whose raw peak to peak exceeds a threshold. It
// only reads the raw extrema columns, so it does not depend on the baseline.
type RawPurStage struct{}

func (s *RawPurStage) Name() string { return RawPurStageName }

func (s *RawPurStage) Process(chs ChannelMap, table *FeatureTable, wfs Waveforms) (Derived, error) {
	var errs []error
	for _, ch := range chs.Channels() {
		p, ok := ch.Stage(RawPurStageName)
		if !ok {
			continue
		}
		thr, ok := p.Float("threshold")
		if !ok {
			errs = append(errs, &ErrStageConfig{Stage: RawPurStageName, Channel: ch.Name,
				Reason: "threshold is required"})
			continue
		}
		maxCol, okMax := table.Column(ch.Name + "_raw_max_val")
		minCol, okMin := table.Column(ch.Name + "_raw_min_val")
		if !okMax || !okMin {
			continue
		}
		flags := make([]bool, table.NRows())
		for i := range flags {
			flags[i] = maxCol.Values[i]-minCol.Values[i] > thr
		}
		if err := table.AddBools(ch.Name+"_raw_pur", flags); err != nil {
			return nil, err
		}
	}
	return Derived{}, errors.Join(errs...)
}

func (s *RawPurStage) ProcessEvent(chs ChannelMap, wfs Waveforms) (Derived, error) {
	return Derived{}, nil
}
