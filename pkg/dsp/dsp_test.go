package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStats(t *testing.T) {
	x := []float64{4, 1, 3, 2, 10}

	assert.Equal(t, 4, ArgMax(x))
	assert.Equal(t, 1, ArgMin(x))
	assert.InDelta(t, 4.0, Mean(x), 1e-12)
	assert.InDelta(t, math.Sqrt(10.0), Std(x), 1e-12)
	assert.Equal(t, 3.0, Median(x))
	assert.Equal(t, 1.0, MAD(x, Median(x)))
	assert.Equal(t, 2.5, Median([]int{1, 2, 3, 4}))
	assert.Equal(t, []float64{4, 1, 3, 2, 10}, x, "inputs must not be reordered")
}

func TestArgMaxFirstOccurrence(t *testing.T) {
	assert.Equal(t, 1, ArgMax([]int{0, 5, 5, 1}))
	assert.Equal(t, 0, ArgMin([]uint32{0, 5, 0}))
	assert.Equal(t, -1, ArgMax([]float64{}))
}

func TestTrapezoidOnExponentialDecay(t *testing.T) {
	const (
		w    = 40
		g    = 10
		tau  = 20.0
		ampl = 100.0
	)
	x := make([]float64, 200)
	for n := range x {
		x[n] = ampl * math.Exp(-float64(n)/tau)
	}

	trap := TrapezoidalFilter(x, w, tau, g)
	require.Len(t, trap, len(x))

	flat := ampl / (tau * (1 - math.Exp(-1/tau)))
	for n := w - 1; n < w+g; n++ {
		assert.InDelta(t, flat, trap[n], 1e-9*flat, "flat top at sample %d", n)
	}
	for n := 0; n < w-1; n++ {
		assert.Less(t, trap[n], trap[n+1], "rising edge at sample %d", n)
	}
	for n := 2*w + g - 1; n < len(x); n++ {
		assert.InDelta(t, 0.0, trap[n], 1e-9*flat, "tail at sample %d", n)
	}
	assert.InDelta(t, flat, trap[ArgMax(trap)], 1e-9*flat)
}

func TestTrapezoidZeroInput(t *testing.T) {
	trap := TrapezoidalFilter(make([]float64, 50), 10, 5, 3)
	for _, v := range trap {
		assert.Equal(t, 0.0, v)
	}
}

func TestGaussianKernels(t *testing.T) {
	smooth := GaussianKernel(2.5, 8, false)
	require.Len(t, smooth, 17)
	assert.InDelta(t, 1.0, Sum(smooth), 1e-12)
	assert.Equal(t, 8, ArgMax(smooth))

	deriv := GaussianKernel(2.5, 8, true)
	require.Len(t, deriv, 17)
	assert.InDelta(t, 0.0, Mean(deriv), 1e-15)
	assert.Greater(t, deriv[0], 0.0)
	assert.Less(t, deriv[16], 0.0)
}

func TestGaussianSmoothingPreservesArea(t *testing.T) {
	x := make([]float64, 101)
	x[50] = 7
	out := GaussianFilter(x, 3, 10, false)
	require.Len(t, out, len(x))
	assert.InDelta(t, 7.0, Sum(out), 1e-9)
	assert.Equal(t, 50, ArgMax(out))
}

func TestConvolveSameMatchesDirectSum(t *testing.T) {
	x := []float64{1, 2, 3}
	k := []float64{0, 1, 0.5}
	// full convolution: [0, 1, 2.5, 4, 1.5], centred slice of length 3
	assert.Equal(t, []float64{1, 2.5, 4}, ConvolveSame(x, k))
}

func twoPulses(n int, c1, c2, width, ampl float64) []float64 {
	wf := make([]float64, n)
	for i := range wf {
		x := float64(i)
		wf[i] = ampl*math.Exp(-(x-c1)*(x-c1)/(2*width*width)) +
			ampl*math.Exp(-(x-c2)*(x-c2)/(2*width*width))
	}
	return wf
}

func TestFindRelMaximaTwoPulses(t *testing.T) {
	raw := twoPulses(200, 60.3, 140.7, 5, 10)
	swf := GaussianFilter(raw, 2, 6, false)
	dwf := GaussianFilter(raw, 2, 6, true)

	count, labels, err := FindRelMaxima(dwf, swf, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 1, labels[60])
	assert.Equal(t, 2, labels[141])
	assert.Equal(t, 0, labels[100])
}

func TestFindRelMaximaBelowThreshold(t *testing.T) {
	raw := twoPulses(200, 60.3, 140.7, 5, 1)
	count, _, err := FindRelMaxima(GaussianFilter(raw, 2, 6, true), GaussianFilter(raw, 2, 6, false), 5)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestFindRelMaximaRejectsThreshold(t *testing.T) {
	_, _, err := FindRelMaxima([]float64{1, -1}, []float64{1, 1}, 0)
	var thrErr *ErrThreshold
	require.ErrorAs(t, err, &thrErr)
	assert.Equal(t, 0.0, thrErr.Threshold)
}

func TestLabel(t *testing.T) {
	labels, count := Label([]bool{true, true, false, true, false, false, true})
	assert.Equal(t, 3, count)
	assert.Equal(t, []int{1, 1, 0, 2, 0, 0, 3}, labels)
}
