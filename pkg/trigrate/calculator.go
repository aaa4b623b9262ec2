// Package trigrate computes the dead time corrected trigger rate of a
// processed file and records it.
package trigrate

import (
	"fmt"
	"math"
	"time"

	"github.com/gator-daq/gatorproc/pkg/wfs"
)

const DefaultEnergyColumn = "wf1_energy_trap"

// Policy selects the events counted in the rate: energy within
// [MinTrapEnergy, MaxTrapEnergy], then every query in order.
type Policy struct {
	MinTrapEnergy float64  `json:"MinTrapEnergy" yaml:"MinTrapEnergy"`
	MaxTrapEnergy float64  `json:"MaxTrapEnergy" yaml:"MaxTrapEnergy"`
	EnergyColumn  string   `json:"EnergyColumn,omitempty" yaml:"EnergyColumn,omitempty"`
	Queries       []string `json:"Queries,omitempty" yaml:"Queries,omitempty"`
	TrigRateFile  string   `json:"TrigRateFile,omitempty" yaml:"TrigRateFile,omitempty"`
}

func (p Policy) energyColumn() string {
	if p.EnergyColumn == "" {
		return DefaultEnergyColumn
	}
	return p.EnergyColumn
}

// RunInfo is what the rate needs to know about the acquisition.
type RunInfo struct {
	// LiveTime is the file run time in seconds.
	LiveTime      float64
	SampFreq      float64
	WfsLength     int
	StartUnixTime int64
	StopUnixTime  int64
}

type Record struct {
	ProcTimestamp int64
	TrigTimestamp int64
	TrigRate      float64
	RateErr       float64
	NBeforeCuts   int
	NAfterCuts    int
	LiveTime      float64
}

// Filter applies the selection queries to a table and returns the indices of
// the rows passing all of them.
type Filter interface {
	Apply(table *wfs.FeatureTable, queries []string) ([]int, error)
}

type Calculator struct {
	Policy Policy
	Filter Filter
	// Now defaults to time.Now.
	Now func() time.Time
}

func NewCalculator(policy Policy) *Calculator {
	return &Calculator{Policy: policy, Filter: &SQLFilter{}, Now: time.Now}
}

func (c *Calculator) Compute(table *wfs.FeatureTable, info RunInfo) (*Record, error) {
	energy, ok := table.Column(c.Policy.energyColumn())
	if !ok {
		return nil, &ErrMissingColumn{Column: c.Policy.energyColumn()}
	}
	if info.SampFreq <= 0 {
		return nil, fmt.Errorf("invalid sampling frequency %g", info.SampFreq)
	}

	var rows []int
	for i, e := range energy.Values {
		if e >= c.Policy.MinTrapEnergy && e <= c.Policy.MaxTrapEnergy {
			rows = append(rows, i)
		}
	}
	nBefore := len(rows)
	nAfter := nBefore
	if len(c.Policy.Queries) > 0 {
		filter := c.Filter
		if filter == nil {
			filter = &SQLFilter{}
		}
		passed, err := filter.Apply(table.Select(rows), c.Policy.Queries)
		if err != nil {
			return nil, err
		}
		nAfter = len(passed)
	}

	// every rejected event is one waveform length of dead time
	live := info.LiveTime - float64(nBefore-nAfter)/info.SampFreq*float64(info.WfsLength)
	if live <= 0 {
		return nil, &ErrLiveTime{LiveTime: live}
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	n := float64(nAfter)
	return &Record{
		ProcTimestamp: now().Round(time.Second).Unix(),
		TrigTimestamp: int64(math.Floor(float64(info.StartUnixTime+info.StopUnixTime)/2 + 0.5)),
		TrigRate:      n / live,
		RateErr:       math.Sqrt(n) / live,
		NBeforeCuts:   nBefore,
		NAfterCuts:    nAfter,
		LiveTime:      live,
	}, nil
}
