package dsp

import "math"

// TrapezoidalFilter applies the recursive trapezoidal (pole-zero corrected)
// shaper to one waveform. w is the rise time, g the flat top and tau the
// exponential decay constant, all in samples:
//
//	d[n] = x[n] - x[n-w] - x[n-w-g] + x[n-2w-g]
//	p[n] = p[n-1] + d[n]
//	s[n] = s[n-1] + p[n] + d[n]/(e^(1/tau) - 1)
//	out[n] = s[n] / (tau*w)
//
// Terms with a negative index are dropped.
func TrapezoidalFilter(x []float64, w int, tau float64, g int) []float64 {
	out := make([]float64, len(x))
	a := math.Exp(1/tau) - 1
	norm := tau * float64(w)

	pn, sn := 0.0, 0.0
	for n := range x {
		d := x[n]
		if n-w >= 0 {
			d -= x[n-w]
		}
		if n-w-g >= 0 {
			d -= x[n-w-g]
		}
		if n-2*w-g >= 0 {
			d += x[n-2*w-g]
		}
		pn += d
		sn += pn + d/a
		out[n] = sn / norm
	}
	return out
}
