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
	"math"
	"testing"

	"github.com/valyala/fastrand"

	"github.com/stellarbit/seqstack/internal/qsort"
)

// Box-Muller gaussians around the given location
func gaussians(rng *fastrand.RNG, n int, location, sigma float32) []float32 {
	data := make([]float32, n)
	for i := range data {
		u1 := (float64(rng.Uint32()) + 1) / (float64(math.MaxUint32) + 2)
		u2 := (float64(rng.Uint32()) + 1) / (float64(math.MaxUint32) + 2)
		z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
		data[i] = location + sigma*float32(z)
	}
	return data
}

func TestMeanStdDev(t *testing.T) {
	mean, sd := MeanStdDev([]float32{2, 4, 4, 4, 5, 5, 7, 9})
	if mean != 5 {
		t.Errorf("mean %f, expect 5", mean)
	}
	if sd != 2 {
		t.Errorf("stddev %f, expect 2", sd)
	}
}

func TestCalcConstant(t *testing.T) {
	data := make([]float32, 1024)
	for i := range data {
		data[i] = 42
	}
	s := Calc(data)
	if s.Min != 42 || s.Max != 42 || s.Mean != 42 || s.StdDev != 0 {
		t.Errorf("constant frame stats %v", s)
	}
	if s.Location != 42 || s.Scale != 0 || s.Noise != 0 {
		t.Errorf("constant frame location/scale/noise %v", s)
	}
}

func TestCalcGaussian(t *testing.T) {
	rng := fastrand.RNG{}
	data := gaussians(&rng, 64*1024, 1000, 50)
	s := Calc(data)
	if s.Mean < 995 || s.Mean > 1005 {
		t.Errorf("mean %f, expect ~1000", s.Mean)
	}
	if s.StdDev < 45 || s.StdDev > 55 {
		t.Errorf("stddev %f, expect ~50", s.StdDev)
	}
	if s.Location < 990 || s.Location > 1010 {
		t.Errorf("location %f, expect ~1000", s.Location)
	}
	if s.Scale < 40 || s.Scale > 60 {
		t.Errorf("scale %f, expect ~50", s.Scale)
	}
	if s.Noise < 40 || s.Noise > 60 {
		t.Errorf("noise %f, expect ~50", s.Noise)
	}
}

// outliers well above the background must not move the clipped location
func TestSigmaClippedMedianRobustness(t *testing.T) {
	rng := fastrand.RNG{}
	data := gaussians(&rng, 16*1024, 1000, 10)
	for i := 0; i < len(data); i += 100 {
		data[i] = 30000 // stars
	}
	median, mad := SigmaClippedMedianAndMAD(data, 2, 2)
	if median < 995 || median > 1005 {
		t.Errorf("clipped median %f, expect ~1000", median)
	}
	if mad < 5 || mad > 20 {
		t.Errorf("clipped MAD %f, expect around 10", mad)
	}
}

// The MAD must be taken over the full original data, not over the buffer the
// clipping iteration compacts while converging.
func TestSigmaClippedMADOfFullData(t *testing.T) {
	rng := fastrand.RNG{}
	for trial := 0; trial < 200; trial++ {
		n := int(rng.Uint32n(20)) + 4
		data := make([]float32, n)
		for i := range data {
			data[i] = float32(rng.Uint32n(9))
			if rng.Uint32n(8) == 0 {
				data[i] = float32(rng.Uint32n(100000)) // outlier
			}
		}
		orig := make([]float32, n)
		copy(orig, data)

		median, mad := SigmaClippedMedianAndMAD(data, 2, 2)

		for i := range data {
			if data[i] != orig[i] {
				t.Fatalf("trial %d: input %v modified to %v", trial, orig, data)
			}
		}
		dev := make([]float32, n)
		for i, d := range orig {
			dev[i] = float32(math.Abs(float64(d - median)))
		}
		want := qsort.Median(dev) * 1.4826
		if mad != want {
			t.Fatalf("trial %d: data %v: mad %g, MAD of original data at median %g is %g",
				trial, orig, mad, median, want)
		}
	}
}

func TestHistogramPercentile(t *testing.T) {
	data := make([]float32, 1000)
	for i := range data {
		data[i] = float32(i) / 1000
	}
	bins := make([]int32, 1000)
	Histogram(data, 0, 1, bins)

	if v := HistogramPercentile(bins, 0, 1, 0.5); v < 0.48 || v > 0.52 {
		t.Errorf("50th percentile %f, expect ~0.5", v)
	}
	if v := HistogramPercentile(bins, 0, 1, 0.99); v < 0.97 || v > 1 {
		t.Errorf("99th percentile %f, expect ~0.99", v)
	}
}

func TestHistogramPeak(t *testing.T) {
	data := []float32{0.1, 0.5, 0.5, 0.5, 0.9, -2, 3}
	bins := make([]int32, 100)
	Histogram(data, 0, 1, bins)
	x, y := HistogramPeak(bins, 0, 1)
	if y != 3 {
		t.Errorf("peak count %d, expect 3", y)
	}
	if x < 0.45 || x > 0.55 {
		t.Errorf("peak location %f, expect ~0.5", x)
	}
}
