package dsp

import (
	"fmt"
	"math"
)

// GaussianKernel returns the 2*halfWidth+1 taps of a normalised Gaussian of
// width sigma, or of its derivative (shifted to zero mean) when derivative is
// set.
func GaussianKernel(sigma float64, halfWidth int, derivative bool) []float64 {
	n := 2*halfWidth + 1
	kernel := make([]float64, n)
	sum := 0.0
	for i := range kernel {
		x := float64(i - halfWidth)
		g := math.Exp(-x * x / (2 * sigma * sigma))
		if derivative {
			kernel[i] = -x * g / (sigma * sigma)
		} else {
			kernel[i] = g
		}
		sum += kernel[i]
	}
	if !derivative {
		for i := range kernel {
			kernel[i] /= sum
		}
		return kernel
	}
	mean := sum / float64(n)
	for i := range kernel {
		kernel[i] -= mean
	}
	return kernel
}

// ConvolveSame is the discrete convolution of x with an odd-length kernel,
// zero padded, cropped to len(x) and centred on the full output.
func ConvolveSame(x []float64, kernel []float64) []float64 {
	out := make([]float64, len(x))
	h := (len(kernel) - 1) / 2
	for i := range out {
		acc := 0.0
		for j, k := range kernel {
			idx := i + h - j
			if idx < 0 || idx >= len(x) {
				continue
			}
			acc += k * x[idx]
		}
		out[i] = acc
	}
	return out
}

// GaussianFilter smooths x, or takes its smoothed derivative.
func GaussianFilter(x []float64, sigma float64, halfWidth int, derivative bool) []float64 {
	return ConvolveSame(x, GaussianKernel(sigma, halfWidth, derivative))
}

// ErrThreshold is returned by FindRelMaxima for a non positive threshold.
type ErrThreshold struct {
	Threshold float64
}

func (e *ErrThreshold) Error() string {
	return fmt.Sprintf("the threshold must be positive, got %g", e.Threshold)
}

// FindRelMaxima counts the pulses of wf. A pulse is a connected run of samples
// that are above thr and belong to a positive to negative sign change of the
// derivative dwf (both samples of the change are marked). It returns the count
// and the label of every sample (0 outside pulses, 1..count inside).
func FindRelMaxima(dwf []float64, wf []float64, thr float64) (int, []int, error) {
	if thr <= 0 {
		return 0, nil, &ErrThreshold{Threshold: thr}
	}
	n := min(len(dwf), len(wf))
	mask := make([]bool, n)
	for i := 0; i+1 < n; i++ {
		if sign(dwf[i]) > 0 && sign(dwf[i+1]) < 0 {
			mask[i] = true
			mask[i+1] = true
		}
	}
	for i := range mask {
		mask[i] = mask[i] && wf[i] > thr
	}
	labels, count := Label(mask)
	return count, labels, nil
}

// Label numbers the connected true segments of mask starting from 1.
func Label(mask []bool) ([]int, int) {
	labels := make([]int, len(mask))
	count := 0
	for i, v := range mask {
		if !v {
			continue
		}
		if i == 0 || !mask[i-1] {
			count++
		}
		labels[i] = count
	}
	return labels, count
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
