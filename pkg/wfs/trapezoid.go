package wfs

import (
	"errors"
	"fmt"
	"math"

	"github.com/gator-daq/gatorproc/pkg/dsp"
)

const TrapezoidStageName = "trapezoid"

// TrapezoidStage reconstructs the pulse energy with the trapezoidal filter.
// Parameters: shape_time (rise time, samples), tau (decay constant, samples),
// flat_top (samples).
type TrapezoidStage struct{}

type trapezoidParams struct {
	shapeTime int
	tau       float64
	flatTop   int
}

func (s *TrapezoidStage) Name() string { return TrapezoidStageName }

func (s *TrapezoidStage) params(ch *ChannelConfig) (trapezoidParams, bool, error) {
	p, ok := ch.Stage(TrapezoidStageName)
	if !ok {
		return trapezoidParams{}, false, nil
	}
	var tp trapezoidParams
	var okW, okTau, okG bool
	tp.shapeTime, okW = p.Int("shape_time")
	tp.tau, okTau = p.Float("tau")
	tp.flatTop, okG = p.Int("flat_top")
	if !okW || !okTau || !okG {
		return tp, true, &ErrStageConfig{Stage: TrapezoidStageName, Channel: ch.Name,
			Reason: "shape_time, tau and flat_top are required"}
	}
	if tp.shapeTime <= 0 || tp.tau <= 0 || tp.flatTop < 0 {
		return tp, true, &ErrStageConfig{Stage: TrapezoidStageName, Channel: ch.Name,
			Reason: fmt.Sprintf("invalid parameters shape_time=%d tau=%g flat_top=%d", tp.shapeTime, tp.tau, tp.flatTop)}
	}
	return tp, true, nil
}

func (s *TrapezoidStage) Process(chs ChannelMap, table *FeatureTable, wfs Waveforms) (Derived, error) {
	derived := Derived{}
	var errs []error

	for _, ch := range chs.Channels() {
		tp, configured, err := s.params(ch)
		if !configured {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		in, ok := wfs.Corrected[ch.Name]
		if !ok || in == nil {
			errs = append(errs, &ErrStageConfig{Stage: TrapezoidStageName, Channel: ch.Name,
				Reason: "no baseline subtracted waveforms, configure bslnsubtr"})
			continue
		}

		out := NewBatch(in.NEvents, in.NSamples)
		energy := make([]float64, in.NEvents)
		pur := make([]float64, in.NEvents)
		for i := 0; i < in.NEvents; i++ {
			trap := dsp.TrapezoidalFilter(in.Event(i), tp.shapeTime, tp.tau, tp.flatTop)
			copy(out.Event(i), trap)
			pur[i] = math.NaN()
			if len(trap) == 0 {
				continue
			}
			energy[i] = trap[dsp.ArgMax(trap)]
			// equivalent length: trapezoid area over trapezoid height, NaN
			// for a flat trapezoid
			if energy[i] != 0 {
				pur[i] = dsp.Sum(trap) / energy[i]
			}
		}
		if err := table.Add(ch.Name+"_energy_trap", Float64, energy); err != nil {
			return nil, err
		}
		if err := table.Add(ch.Name+"_trap_pur", Float64, pur); err != nil {
			return nil, err
		}
		derived.put(ch.Name, TrapezoidStageName, out)
	}
	return derived, errors.Join(errs...)
}

func (s *TrapezoidStage) ProcessEvent(chs ChannelMap, wfs Waveforms) (Derived, error) {
	derived := Derived{}
	for _, ch := range chs.Channels() {
		tp, configured, err := s.params(ch)
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
		derived.put(ch.Name, TrapezoidStageName, singleBatch(dsp.TrapezoidalFilter(ev, tp.shapeTime, tp.tau, tp.flatTop)))
	}
	return derived, nil
}
