// Package dsp contains the numeric kernels applied to single waveforms:
// summary statistics, the recursive trapezoidal filter, Gaussian smoothing
// and the relative maxima counter. Batch handling lives in package wfs.
package dsp

import (
	"math"
	"slices"

	"golang.org/x/exp/constraints"
)

type Number interface {
	constraints.Integer | constraints.Float
}

// ArgMax returns the index of the first maximum, -1 for an empty slice.
func ArgMax[T constraints.Ordered](x []T) int {
	if len(x) == 0 {
		return -1
	}
	pos := 0
	for i := 1; i < len(x); i++ {
		if x[i] > x[pos] {
			pos = i
		}
	}
	return pos
}

// ArgMin returns the index of the first minimum, -1 for an empty slice.
func ArgMin[T constraints.Ordered](x []T) int {
	if len(x) == 0 {
		return -1
	}
	pos := 0
	for i := 1; i < len(x); i++ {
		if x[i] < x[pos] {
			pos = i
		}
	}
	return pos
}

func Sum[T Number](x []T) float64 {
	s := 0.0
	for _, v := range x {
		s += float64(v)
	}
	return s
}

func Mean[T Number](x []T) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	return Sum(x) / float64(len(x))
}

// Std is the population standard deviation.
func Std[T Number](x []T) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	m := Mean(x)
	ss := 0.0
	for _, v := range x {
		d := float64(v) - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(x)))
}

// Median averages the two central values for even lengths. x is not modified.
func Median[T Number](x []T) float64 {
	n := len(x)
	if n == 0 {
		return math.NaN()
	}
	s := make([]float64, n)
	for i, v := range x {
		s[i] = float64(v)
	}
	slices.Sort(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// MAD is the median absolute deviation around the given median.
func MAD[T Number](x []T, median float64) float64 {
	dev := make([]float64, len(x))
	for i, v := range x {
		dev[i] = math.Abs(float64(v) - median)
	}
	return Median(dev)
}
