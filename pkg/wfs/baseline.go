package wfs

import (
	"errors"

	"github.com/gator-daq/gatorproc/pkg/dsp"
)

const BaselineStageName = "bslnsubtr"

// BaselineStage estimates the pre-pulse offset of every event, subtracts it
// and optionally flips the polarity so that pulses are positive. It always
// runs right after RawStage and its output feeds every other stage.
type BaselineStage struct{}

func (s *BaselineStage) Name() string { return BaselineStageName }

func (s *BaselineStage) Process(chs ChannelMap, table *FeatureTable, wfs Waveforms) (Derived, error) {
	derived := Derived{}
	var errs []error

	for _, ch := range chs.Channels() {
		if ch.Baseline == nil {
			continue
		}
		if err := ch.Baseline.validate(ch.Name); err != nil {
			errs = append(errs, err)
			continue
		}
		raw, ok := wfs.Raw[ch.Name]
		if !ok || raw == nil {
			errs = append(errs, &ErrStageConfig{Stage: BaselineStageName, Channel: ch.Name, Reason: "no raw waveforms"})
			continue
		}
		window := min(ch.Baseline.SampleWindow, raw.NSamples)

		means := make([]float64, raw.NEvents)
		rms := make([]float64, raw.NEvents)
		medians := make([]float64, raw.NEvents)
		mads := make([]float64, raw.NEvents)
		sampMax := make([]int, raw.NEvents)
		amplMax := make([]float64, raw.NEvents)

		corrected := NewBatch(raw.NEvents, raw.NSamples)
		for i := 0; i < raw.NEvents; i++ {
			pre := raw.Event(i)[:window]
			means[i] = dsp.Mean(pre)
			rms[i] = dsp.Std(pre)
			medians[i] = dsp.Median(pre)
			mads[i] = dsp.MAD(pre, medians[i])

			bsln := means[i]
			if ch.Baseline.Method == BaselineMedian {
				bsln = medians[i]
			}
			sampMax[i], amplMax[i] = subtractBaseline(raw.Event(i), corrected.Event(i), bsln, ch.Baseline.InvertPolarity)
		}

		columns := []struct {
			suffix string
			values []float64
		}{
			{"_bslns_mean", means},
			{"_bslns_rms", rms},
			{"_bslns_med", medians},
			{"_bslns_mad", mads},
		}
		for _, c := range columns {
			if err := table.Add(ch.Name+c.suffix, Float64, c.values); err != nil {
				return nil, err
			}
		}
		if err := table.AddInts(ch.Name+"_samp_max", sampMax); err != nil {
			return nil, err
		}
		if err := table.Add(ch.Name+"_ampl_max", Float64, amplMax); err != nil {
			return nil, err
		}
		derived.put(ch.Name, BaselineStageName, corrected)
	}
	return derived, errors.Join(errs...)
}

func (s *BaselineStage) ProcessEvent(chs ChannelMap, wfs Waveforms) (Derived, error) {
	derived := Derived{}
	for _, ch := range chs.Channels() {
		if ch.Baseline == nil {
			continue
		}
		if err := ch.Baseline.validate(ch.Name); err != nil {
			return nil, err
		}
		raw, ok := wfs.Raw[ch.Name]
		if !ok || raw == nil {
			continue
		}
		ev, err := singleEvent(ch.Name, raw)
		if err != nil {
			return nil, err
		}
		pre := ev[:min(ch.Baseline.SampleWindow, len(ev))]
		bsln := dsp.Mean(pre)
		if ch.Baseline.Method == BaselineMedian {
			bsln = dsp.Median(pre)
		}
		corrected := NewBatch(1, len(ev))
		subtractBaseline(ev, corrected.Event(0), bsln, ch.Baseline.InvertPolarity)
		derived.put(ch.Name, BaselineStageName, corrected)
	}
	return derived, nil
}

// subtractBaseline writes the corrected waveform into out and returns the
// position of its maximum and the pulse amplitude: the mean of the five
// samples around the maximum, or the maximum itself at the edges.
func subtractBaseline(raw []float64, out []float64, bsln float64, invert bool) (int, float64) {
	for j, v := range raw {
		out[j] = v - bsln
		if invert {
			out[j] = -out[j]
		}
	}
	pos := dsp.ArgMax(out)
	if pos < 0 {
		return pos, 0
	}
	if pos-2 >= 0 && pos+2 < len(out) {
		return pos, dsp.Mean(out[pos-2 : pos+3])
	}
	return pos, out[pos]
}
