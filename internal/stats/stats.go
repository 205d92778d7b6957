// Package stats turns a window of samples into summary statistics.
package stats

import (
	"errors"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"signal-insights/internal/data"
)

// ErrEmptyWindow is returned when Compute is called without samples.
var ErrEmptyWindow = errors.New("stats: empty window")

// Compute returns mean, population standard deviation, peak-to-peak, RMS and
// the dominant frequency of samples taken at sampleRateHz.
func Compute(samples []float64, sampleRateHz int) (data.Statistics, error) {
	if len(samples) == 0 {
		return data.Statistics{}, ErrEmptyWindow
	}
	if sampleRateHz < 1 {
		sampleRateHz = 1
	}

	mean, std := popMeanStdDev(samples)

	return data.Statistics{
		Mean:              mean,
		StdDev:            std,
		PeakToPeak:        floats.Max(samples) - floats.Min(samples),
		RMS:               floats.Norm(samples, 2) / math.Sqrt(float64(len(samples))),
		DominantFrequency: DominantFrequency(samples, sampleRateHz),
	}, nil
}

// popMeanStdDev is stat.PopMeanStdDev, repeated on samples scaled by their
// largest magnitude when the direct sums overflow.
func popMeanStdDev(samples []float64) (mean, std float64) {
	mean, std = stat.PopMeanStdDev(samples, nil)
	if isFinite(mean) && isFinite(std) {
		return mean, std
	}
	scale := floats.Norm(samples, math.Inf(1))
	scaled := make([]float64, len(samples))
	for i, v := range samples {
		scaled[i] = v / scale
	}
	mean, std = stat.PopMeanStdDev(scaled, nil)
	return mean * scale, std * scale
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Spectrum returns the one-sided magnitude spectrum of samples and the
// frequency of each bin, k*rate/len(samples) for k = 0..len(samples)/2.
func Spectrum(samples []float64, sampleRateHz int) (freqs, mags []float64) {
	n := len(samples)
	if n == 0 {
		return nil, nil
	}
	if n == 1 {
		return []float64{0}, []float64{math.Abs(samples[0])}
	}

	coeffs := fourier.NewFFT(n).Coefficients(nil, samples)
	freqs = make([]float64, len(coeffs))
	mags = make([]float64, len(coeffs))
	for k, c := range coeffs {
		freqs[k] = float64(k) * float64(sampleRateHz) / float64(n)
		mags[k] = cmplx.Abs(c)
	}
	return freqs, mags
}

// DominantFrequency is the frequency of the strongest non-DC bin. The Nyquist
// bin takes part in the search; ties go to the lower frequency.
func DominantFrequency(samples []float64, sampleRateHz int) float64 {
	freqs, mags := Spectrum(samples, sampleRateHz)
	if len(mags) <= 1 {
		return 0
	}
	best := 1
	for k := 2; k < len(mags); k++ {
		if mags[k] > mags[best] {
			best = k
		}
	}
	return freqs[best]
}
