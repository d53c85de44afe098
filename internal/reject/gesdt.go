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

package reject

import (
	"math"

	"github.com/stellarbit/seqstack/internal/qsort"
	"gonum.org/v1/gonum/stat/distuv"
)

// gesdtCriticalValues precomputes the Rosner critical value for each removal
// count i (0-based): with n the original stack size and m = n-i the sample
// size before the removal,
//
//	lambda_i = (m-1) * t / sqrt((m-2 + t^2) * m)
//
// where t is the Student-t quantile at p = 1 - alpha/(2m) with m-2 degrees
// of freedom. The table is always derived from the original stack size and
// indexed by removal count, even when placeholder stripping left fewer
// usable values.
func gesdtCriticalValues(n int, alpha float64, maxOut int) []float64 {
	lambda := make([]float64, maxOut)
	for i := 0; i < maxOut; i++ {
		m := float64(n - i)
		p := 1 - alpha/(2*m)
		t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: m - 2}.Quantile(p)
		lambda[i] = (m - 1) * t / math.Sqrt((m-2+t*t)*m)
	}
	return lambda
}

// Generalized Extreme Studentized Deviate test: repeatedly remove the value
// furthest from the mean in units of the sample standard deviation, then keep
// as outliers exactly the removals up to the last one whose test statistic
// exceeded its critical value. Rejected values below the original stack
// median count as cold (low), the rest as hot (high).
func (r *Rejector) rejectGESDT(a []float32) (kept int, low, high int32) {
	n := len(a)
	maxOut := r.maxOut
	if maxOut > n-3 {
		maxOut = n - 3
	}
	if maxOut <= 0 {
		return n, 0, 0
	}

	origMedian := r.median(a)

	// remove the most extreme value maxOut times, recording the statistic
	work := r.scratch[:n]
	copy(work, a)
	removals := 0
	for i := 0; i < maxOut; i++ {
		m := len(work)

		// sample mean and standard deviation
		mean := float64(0)
		for _, v := range work {
			mean += float64(v)
		}
		mean /= float64(m)
		variance := float64(0)
		for _, v := range work {
			d := float64(v) - mean
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(m-1))
		if sd == 0 {
			break
		}

		extreme, dev := 0, float64(-1)
		for j, v := range work {
			if d := math.Abs(float64(v) - mean); d > dev {
				extreme, dev = j, d
			}
		}
		r.outVals[i] = work[extreme]
		r.outR[i] = dev / sd
		work[extreme] = work[len(work)-1]
		work = work[:len(work)-1]
		removals++
	}

	// the outlier count is the largest removal index whose statistic passed;
	// everything removed after that test point is kept
	numOut := 0
	for i := removals - 1; i >= 0; i-- {
		if r.outR[i] > r.lambda[i] {
			numOut = i + 1
			break
		}
	}

	// reject the first numOut removed values, classifying cold vs hot
	for k := 0; k < numOut; k++ {
		v := r.outVals[k]
		for j := 0; j < n; j++ {
			if a[j] == v {
				a[j] = a[n-1]
				n--
				break
			}
		}
		if v < origMedian {
			low++
		} else {
			high++
		}
	}
	return n, low, high
}

// SortedMedian returns the median of a copy of the values, leaving the input
// untouched. Used by aggregation fallbacks.
func SortedMedian(a []float32, scratch []float32) float32 {
	scratch = scratch[:0]
	scratch = append(scratch, a...)
	return qsort.Median(scratch)
}
