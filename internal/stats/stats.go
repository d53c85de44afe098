// Copyright (C) 2026 the seqstack authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package stats

import (
	"fmt"
	"math"

	"github.com/stellarbit/seqstack/internal/qsort"
	"github.com/valyala/fastrand"
)

// Per-channel statistics of a single frame. Location and Scale describe the
// sky background level and spread; Noise estimates the per-pixel noise floor.
// The normalizer and the stacking weights are derived from these.
type Stats struct {
	Min    float32 // Minimum
	Max    float32 // Maximum
	Mean   float32 // Mean (average)
	StdDev float32 // Standard deviation (norm 2, sigma)

	Location float32 // Background location (sigma-clipped median)
	Scale    float32 // Background scale (MAD, normalized to Gaussian sigma)
	Noise    float32 // Noise floor estimate from first differences
}

// Pretty print stats to string
func (s *Stats) String() string {
	return fmt.Sprintf("Min %.6g Max %.6g Mean %.6g StdDev %.6g Location %.6g Scale %.6g Noise %.4g",
		s.Min, s.Max, s.Mean, s.StdDev, s.Location, s.Scale, s.Noise)
}

// Number of samples drawn from large frames for location/scale estimation
const numSamples = 128 * 1024

// Calculate statistics for one channel of frame data. Does not modify data.
func Calc(data []float32) *Stats {
	s := &Stats{}
	s.Min, s.Mean, s.Max = minMeanMax(data)

	variance := variance(data, s.Mean)
	s.StdDev = float32(math.Sqrt(float64(variance)))

	// estimate location and scale on a subsample for large frames
	var sample []float32
	if len(data) > numSamples {
		sample = Subsample(data, make([]float32, numSamples))
	} else {
		sample = append([]float32(nil), data...)
	}
	s.Location, s.Scale = SigmaClippedMedianAndMAD(sample, 2, 2)

	s.Noise = EstimateNoise(data)
	return s
}

// Draws len(dst) pseudo-random samples from data into dst and returns dst
func Subsample(data []float32, dst []float32) []float32 {
	rng := fastrand.RNG{}
	for i := range dst {
		dst[i] = data[rng.Uint32n(uint32(len(data)))]
	}
	return dst
}

// Calculates mean and standard deviation of the given values
func MeanStdDev(xs []float32) (mean, stdDev float32) {
	xmean := float32(0)
	for _, x := range xs {
		xmean += x
	}
	xmean /= float32(len(xs))
	xvar := float32(0)
	for _, x := range xs {
		diff := x - xmean
		xvar += diff * diff
	}
	xvar /= float32(len(xs))
	xstddev := float32(math.Sqrt(float64(xvar)))
	return xmean, xstddev
}

// Calculates minimum, mean and maximum of given data
func minMeanMax(data []float32) (min, mean, max float32) {
	mmin, mmean, mmax := data[0], float64(0), data[0]
	for _, v := range data {
		if v < mmin {
			mmin = v
		}
		if v > mmax {
			mmax = v
		}
		mmean += float64(v)
	}
	return mmin, float32(mmean / float64(len(data))), mmax
}

// Calculates variance of given data from provided mean
func variance(data []float32, mean float32) float64 {
	v := float64(0)
	for _, d := range data {
		diff := float64(d - mean)
		v += diff * diff
	}
	return v / float64(len(data))
}

// Returns the sigma-clipped median of the data, and the median absolute
// deviation of the full data w.r.t. that median, normalized to a Gaussian
// sigma equivalent. Does not change the data.
func SigmaClippedMedianAndMAD(data []float32, sigmaLow, sigmaHigh float32) (median, mad float32) {
	tmp := make([]float32, len(data))
	copy(tmp, data)
	remaining := tmp
	for {
		median = qsort.Median(remaining)

		// standard deviation w.r.t. the median
		stdDev := float32(0)
		for _, r := range remaining {
			diff := r - median
			stdDev += diff * diff
		}
		stdDev /= float32(len(remaining))
		stdDev = float32(math.Sqrt(float64(stdDev)))

		// reject outliers based on sigma
		lowBound := median - sigmaLow*stdDev
		highBound := median + sigmaHigh*stdDev
		kept := 0
		for _, r := range remaining {
			if r >= lowBound && r <= highBound {
				remaining[kept] = r
				kept++
			}
		}
		rejected := len(remaining) - kept
		remaining = remaining[:kept]

		// once converged, calculate the MAD over the untouched input;
		// the clipping loop has compacted tmp and it no longer holds
		// the original multiset
		if rejected == 0 || len(remaining) <= 3 {
			for i, d := range data {
				tmp[i] = float32(math.Abs(float64(d - median)))
			}
			mad = qsort.Median(tmp) * 1.4826
			return median, mad
		}
	}
}

// Estimates the per-pixel noise floor as the normalized median absolute
// horizontal first difference. Gaussian noise of sigma s gives differences
// of sigma s*sqrt(2), hence the 1/sqrt(2) correction.
func EstimateNoise(data []float32) float32 {
	n := len(data) - 1
	if n <= 0 {
		return 0
	}
	if n > numSamples {
		n = numSamples
	}
	stride := (len(data) - 1) / n
	diffs := make([]float32, n)
	for i := 0; i < n; i++ {
		j := i * stride
		diffs[i] = float32(math.Abs(float64(data[j+1] - data[j])))
	}
	return qsort.Median(diffs) * 1.4826 / float32(math.Sqrt2)
}
