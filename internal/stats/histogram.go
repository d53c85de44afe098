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

// Histogram counts data between min and max into the given bins.
// Values outside [min, max] land in the edge bins.
func Histogram(data []float32, min, max float32, bins []int32) {
	for i := range bins {
		bins[i] = 0
	}
	scale := float32(len(bins)-1) / (max - min)
	for _, d := range data {
		index := int((d - min) * scale)
		if index < 0 {
			index = 0
		} else if index >= len(bins) {
			index = len(bins) - 1
		}
		bins[index]++
	}
}

// HistogramPeak returns the location and count of the most populated bin
func HistogramPeak(bins []int32, min, max float32) (x float32, y int32) {
	maxIndex, maxValue := 0, int32(-1)
	for i, v := range bins {
		if v > maxValue {
			maxIndex, maxValue = i, v
		}
	}
	x = min + (float32(maxIndex)+0.5)*(max-min)/float32(len(bins)-1)
	return x, maxValue
}

// HistogramPercentile walks the cumulative histogram and returns the value
// below which the given fraction of samples falls
func HistogramPercentile(bins []int32, min, max float32, fraction float32) float32 {
	total := int64(0)
	for _, v := range bins {
		total += int64(v)
	}
	target := int64(fraction * float32(total))
	cum := int64(0)
	for i, v := range bins {
		cum += int64(v)
		if cum >= target {
			return min + (float32(i)+0.5)*(max-min)/float32(len(bins)-1)
		}
	}
	return max
}
