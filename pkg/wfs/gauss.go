package wfs

import (
	"errors"
	"fmt"

	"github.com/gator-daq/gatorproc/pkg/dsp"
)

const GaussFilterStageName = "gaussfilter"

// GaussFilterStage smooths the waveforms with a Gaussian kernel and, when
// find_pulses is set, counts the pulses with the derivative of Gaussian.
// Parameters: sigma, kernel_half_width, find_pulses, ampl_min_thr (or
// min_amplitude), derivative (single event display only).
type GaussFilterStage struct{}

type gaussParams struct {
	sigma      float64
	halfWidth  int
	findPulses bool
	derivative bool
	threshold  float64
}

func (s *GaussFilterStage) Name() string { return GaussFilterStageName }

func (s *GaussFilterStage) params(ch *ChannelConfig) (gaussParams, bool, error) {
	p, ok := ch.Stage(GaussFilterStageName)
	if !ok {
		return gaussParams{}, false, nil
	}
	var gp gaussParams
	var okSigma, okWidth bool
	gp.sigma, okSigma = p.Float("sigma")
	gp.halfWidth, okWidth = p.Int("kernel_half_width")
	if !okSigma || !okWidth {
		return gp, true, &ErrStageConfig{Stage: GaussFilterStageName, Channel: ch.Name,
			Reason: "sigma and kernel_half_width are required"}
	}
	if gp.sigma <= 0 || gp.halfWidth < 0 {
		return gp, true, &ErrStageConfig{Stage: GaussFilterStageName, Channel: ch.Name,
			Reason: fmt.Sprintf("invalid parameters sigma=%g kernel_half_width=%d", gp.sigma, gp.halfWidth)}
	}
	gp.findPulses = p.Bool("find_pulses")
	gp.derivative = p.Bool("derivative")
	if !gp.findPulses {
		return gp, true, nil
	}
	thr, ok := p.Float("ampl_min_thr")
	if !ok {
		thr, ok = p.Float("min_amplitude")
	}
	if !ok {
		return gp, true, &ErrStageConfig{Stage: GaussFilterStageName, Channel: ch.Name,
			Reason: "find_pulses requires ampl_min_thr"}
	}
	if thr <= 0 {
		return gp, true, &ErrStageConfig{Stage: GaussFilterStageName, Channel: ch.Name,
			Reason: (&dsp.ErrThreshold{Threshold: thr}).Error()}
	}
	gp.threshold = thr
	return gp, true, nil
}

func (s *GaussFilterStage) Process(chs ChannelMap, table *FeatureTable, wfs Waveforms) (Derived, error) {
	derived := Derived{}
	var errs []error

	for _, ch := range chs.Channels() {
		gp, configured, err := s.params(ch)
		if !configured {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		in, ok := wfs.Corrected[ch.Name]
		if !ok || in == nil {
			errs = append(errs, &ErrStageConfig{Stage: GaussFilterStageName, Channel: ch.Name,
				Reason: "no baseline subtracted waveforms, configure bslnsubtr"})
			continue
		}

		smoothKernel := dsp.GaussianKernel(gp.sigma, gp.halfWidth, false)
		var derivKernel []float64
		if gp.findPulses {
			derivKernel = dsp.GaussianKernel(gp.sigma, gp.halfWidth, true)
		}

		swf := NewBatch(in.NEvents, in.NSamples)
		var swfd *Batch
		if gp.findPulses {
			swfd = NewBatch(in.NEvents, in.NSamples)
		}
		ampl := make([]float64, in.NEvents)
		maxPos := make([]int, in.NEvents)
		nPeaks := make([]int, in.NEvents)

		for i := 0; i < in.NEvents; i++ {
			smooth := dsp.ConvolveSame(in.Event(i), smoothKernel)
			copy(swf.Event(i), smooth)
			maxPos[i] = dsp.ArgMax(smooth)
			if maxPos[i] >= 0 {
				ampl[i] = smooth[maxPos[i]]
			}
			if !gp.findPulses {
				continue
			}
			deriv := dsp.ConvolveSame(in.Event(i), derivKernel)
			copy(swfd.Event(i), deriv)
			n, _, err := dsp.FindRelMaxima(deriv, smooth, gp.threshold)
			if err != nil {
				return nil, err
			}
			nPeaks[i] = n
		}

		if err := table.Add(ch.Name+"_smooth_pulse_ampl", Float64, ampl); err != nil {
			return nil, err
		}
		if err := table.AddInts(ch.Name+"_smooth_pulse_maxpos", maxPos); err != nil {
			return nil, err
		}
		derived.put(ch.Name, "swf", swf)
		if gp.findPulses {
			if err := table.AddInts(ch.Name+"_n_peaks", nPeaks); err != nil {
				return nil, err
			}
			derived.put(ch.Name, "swfd", swfd)
		}
	}
	return derived, errors.Join(errs...)
}

func (s *GaussFilterStage) ProcessEvent(chs ChannelMap, wfs Waveforms) (Derived, error) {
	derived := Derived{}
	for _, ch := range chs.Channels() {
		gp, configured, err := s.params(ch)
		if !configured || err != nil {
			continue
		}
		in, ok := wfs.Corrected[ch.Name]
		if !ok || in == nil {
			continue
		}
		ev, err := singleEvent(ch.Name, in)
		if err != nil {
			return nil, err
		}
		derived.put(ch.Name, "swf", singleBatch(dsp.GaussianFilter(ev, gp.sigma, gp.halfWidth, false)))
		if gp.derivative || gp.findPulses {
			derived.put(ch.Name, "swfd", singleBatch(dsp.GaussianFilter(ev, gp.sigma, gp.halfWidth, true)))
		}
	}
	return derived, nil
}

