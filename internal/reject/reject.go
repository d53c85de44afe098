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

// Package reject implements per-pixel statistical outlier rejection over a
// stack of frame values: sigma clipping and its median/Winsorized variants,
// percentile clipping, linear-fit clipping, and the Generalized Extreme
// Studentized Deviate test.
package reject

import (
	"fmt"
	"math"

	"github.com/stellarbit/seqstack/internal/qsort"
	"github.com/stellarbit/seqstack/internal/stats"
	"gonum.org/v1/gonum/stat"
)

// Rejection policy applied to each pixel stack
type Policy int

const (
	None Policy = iota
	Percentile
	Sigma
	SigmaMedian
	Winsorized
	LinearFit
	GESDT
)

func (p Policy) String() string {
	switch p {
	case None:
		return "none"
	case Percentile:
		return "percentile"
	case Sigma:
		return "sigma"
	case SigmaMedian:
		return "sigma-median"
	case Winsorized:
		return "winsorized-sigma"
	case LinearFit:
		return "linear-fit"
	case GESDT:
		return "gesdt"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// ParsePolicy maps a policy name as used on the command line back to a
// Policy
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "none":
		return None, nil
	case "percentile":
		return Percentile, nil
	case "sigma":
		return Sigma, nil
	case "sigma-median", "sigmedian":
		return SigmaMedian, nil
	case "winsorized-sigma", "winsorized":
		return Winsorized, nil
	case "linear-fit", "linearfit":
		return LinearFit, nil
	case "gesdt":
		return GESDT, nil
	}
	return None, fmt.Errorf("unknown rejection policy %q", s)
}

// Two-sided rejection thresholds. For most policies these are sigma
// multiples; for Percentile they are relative deviations from the median;
// for GESDT, Low is the fraction of frames tested as potential outliers and
// High is the test significance level alpha.
type Thresholds struct {
	Low  float32
	High float32
}

// Outcome of rejecting one pixel stack. The survivors sit in the first Kept
// slots of the stack array; Min and Max bound their values, which couples
// weighted aggregation to the rejection result.
type Outcome struct {
	Kept int
	Low  int32 // values rejected below
	High int32 // values rejected above
	Min  float32
	Max  float32
}

// Iterative policies never clip a stack below this many survivors
const survivorFloor = 4

// A Rejector applies one rejection policy to pixel stacks of up to `frames`
// values. It owns scratch buffers and the precomputed GESDT critical-value
// table, so each pool worker needs its own instance; Reject itself keeps no
// state between pixels.
type Rejector struct {
	policy Policy
	sig    Thresholds

	scratch []float32 // winsorized copies, GESDT working set
	medbuf  []float32 // median scratch, preserves caller ordering
	xs, ys  []float64 // linear fit inputs

	lambda  []float64 // GESDT critical value per removal count
	maxOut  int       // GESDT outlier budget, floor(frames*sig.Low)
	outVals []float32 // GESDT removed values in removal order
	outR    []float64 // GESDT test statistic per removal
}

// New creates a rejector for stacks of the given frame count.
func New(policy Policy, sig Thresholds, frames int) (*Rejector, error) {
	if policy < None || policy > GESDT {
		return nil, fmt.Errorf("invalid rejection policy %d", int(policy))
	}
	if frames < 1 {
		return nil, fmt.Errorf("rejector needs at least one frame, have %d", frames)
	}
	r := &Rejector{
		policy:  policy,
		sig:     sig,
		scratch: make([]float32, frames),
		medbuf:  make([]float32, frames),
	}
	if policy == LinearFit {
		r.xs = make([]float64, frames)
		r.ys = make([]float64, frames)
		for i := range r.xs {
			r.xs[i] = float64(i)
		}
	}
	if policy == GESDT {
		r.maxOut = int(float64(frames) * float64(sig.Low))
		if r.maxOut > frames-3 {
			r.maxOut = frames - 3
		}
		if r.maxOut < 0 {
			r.maxOut = 0
		}
		r.lambda = gesdtCriticalValues(frames, float64(sig.High), r.maxOut)
		r.outVals = make([]float32, r.maxOut)
		r.outR = make([]float64, r.maxOut)
	}
	return r, nil
}

// Reject runs the configured policy over one pixel stack, compacting the
// survivors into the first Outcome.Kept slots. Exact-zero values are "no
// data" placeholders from registration shifts: every policy except None
// strips them first, and stacks with two or fewer usable values are returned
// unrejected since they carry too little statistics.
func (r *Rejector) Reject(stack []float32) Outcome {
	if r.policy == None {
		return r.finish(stack, len(stack), 0, 0)
	}

	// strip placeholder zeros
	n := 0
	for _, v := range stack {
		if v != 0 {
			stack[n] = v
			n++
		}
	}
	if n <= 2 {
		return r.finish(stack, n, 0, 0)
	}

	var kept int
	var low, high int32
	switch r.policy {
	case Percentile:
		kept, low, high = r.rejectPercentile(stack[:n])
	case Sigma:
		kept, low, high = r.rejectSigma(stack[:n])
	case SigmaMedian:
		kept, low, high = r.rejectSigmaMedian(stack[:n])
	case Winsorized:
		kept, low, high = r.rejectWinsorized(stack[:n])
	case LinearFit:
		kept, low, high = r.rejectLinearFit(stack[:n])
	case GESDT:
		kept, low, high = r.rejectGESDT(stack[:n])
	}
	return r.finish(stack, kept, low, high)
}

func (r *Rejector) finish(stack []float32, kept int, low, high int32) Outcome {
	o := Outcome{Kept: kept, Low: low, High: high}
	if kept > 0 {
		o.Min, o.Max = stack[0], stack[0]
		for _, v := range stack[1:kept] {
			if v < o.Min {
				o.Min = v
			}
			if v > o.Max {
				o.Max = v
			}
		}
	}
	return o
}

// median of a[:n] without disturbing the caller's ordering
func (r *Rejector) median(a []float32) float32 {
	copy(r.medbuf, a)
	return qsort.Median(r.medbuf[:len(a)])
}

// retain compacts values within [lo,hi] to the front of a and counts the
// rejections on either side
func retain(a []float32, lo, hi float32) (kept int, low, high int32) {
	for _, v := range a {
		if v < lo {
			low++
		} else if v > hi {
			high++
		} else {
			a[kept] = v
			kept++
		}
	}
	return kept, low, high
}

// countOutside counts values that retain would reject
func countOutside(a []float32, lo, hi float32) int {
	n := 0
	for _, v := range a {
		if v < lo || v > hi {
			n++
		}
	}
	return n
}

// Percentile clipping: a single pass rejecting values whose relative
// deviation from the stack median exceeds the thresholds.
func (r *Rejector) rejectPercentile(a []float32) (kept int, low, high int32) {
	med := r.median(a)
	if med <= 0 {
		return len(a), 0, 0
	}
	for _, v := range a {
		if (med-v)/med > r.sig.Low {
			low++
		} else if (v-med)/med > r.sig.High {
			high++
		} else {
			a[kept] = v
			kept++
		}
	}
	return kept, low, high
}

// madSigma estimates the stack deviation as 1.4826 times the median
// absolute deviation from med. Unlike the plain standard deviation this is
// not inflated by the outliers under test, so a single extreme value in a
// small stack cannot mask itself.
func (r *Rejector) madSigma(a []float32, med float32) float32 {
	dev := r.scratch[:len(a)]
	for i, v := range a {
		dev[i] = float32(math.Abs(float64(v - med)))
	}
	return 1.4826 * qsort.Median(dev)
}

// Sigma clipping: iteratively reject values further than sigLow/sigHigh
// deviations from the median, until convergence or the survivor floor would
// be crossed.
func (r *Rejector) rejectSigma(a []float32) (kept int, low, high int32) {
	n := len(a)
	for {
		med := r.median(a[:n])
		sd := r.madSigma(a[:n], med)
		lo := med - r.sig.Low*sd
		hi := med + r.sig.High*sd
		out := countOutside(a[:n], lo, hi)
		if out == 0 || n-out < survivorFloor {
			break
		}
		k, l, h := retain(a[:n], lo, hi)
		low += l
		high += h
		n = k
	}
	return n, low, high
}

// Sigma clipping with median replacement: out-of-bounds values are replaced
// by the stack median instead of removed, so the stack never shrinks.
// Iterates until a pass replaces nothing.
func (r *Rejector) rejectSigmaMedian(a []float32) (kept int, low, high int32) {
	for {
		med := r.median(a)
		sd := r.madSigma(a, med)
		lo := med - r.sig.Low*sd
		hi := med + r.sig.High*sd
		replaced := 0
		for i, v := range a {
			if v < lo {
				a[i] = med
				low++
				replaced++
			} else if v > hi {
				a[i] = med
				high++
				replaced++
			}
		}
		if replaced == 0 {
			return len(a), low, high
		}
	}
}

// Winsorized sigma clipping: estimates a robust sigma by repeatedly clamping
// a copy of the stack to median +- 1.5 sigma and rescaling, then applies the
// usual sigma clipping rule with the converged estimate.
func (r *Rejector) rejectWinsorized(a []float32) (kept int, low, high int32) {
	n := len(a)
	for {
		med := r.median(a[:n])
		_, sd := stats.MeanStdDev(a[:n])

		win := r.scratch[:n]
		copy(win, a[:n])
		for sd > 0 {
			lo := med - 1.5*sd
			hi := med + 1.5*sd
			changed := 0
			for i, w := range win {
				if w < lo {
					win[i] = lo
					changed++
				} else if w > hi {
					win[i] = hi
					changed++
				}
			}
			oldSd := sd
			_, sd = stats.MeanStdDev(win)
			sd *= 1.134
			if changed == 0 || float32(math.Abs(float64(sd-oldSd))) <= 0.0005*oldSd {
				break
			}
		}

		lo := med - r.sig.Low*sd
		hi := med + r.sig.High*sd
		out := countOutside(a[:n], lo, hi)
		if out == 0 || n-out < survivorFloor {
			break
		}
		k, l, h := retain(a[:n], lo, hi)
		low += l
		high += h
		n = k
	}
	return n, low, high
}

// Linear-fit clipping: sorts the stack, fits value ~ a*rank + b by least
// squares, and iteratively rejects points whose residual from the fit
// exceeds the thresholds times the mean absolute residual.
func (r *Rejector) rejectLinearFit(a []float32) (kept int, low, high int32) {
	n := len(a)
	qsort.Sort(a[:n])
	for {
		for i := 0; i < n; i++ {
			r.ys[i] = float64(a[i])
		}
		alpha, beta := stat.LinearRegression(r.xs[:n], r.ys[:n], nil, false)

		// mean absolute residual acts as sigma
		sigma := float64(0)
		for i := 0; i < n; i++ {
			sigma += math.Abs(r.ys[i] - (alpha + beta*float64(i)))
		}
		sigma /= float64(n)

		loBound := float64(r.sig.Low) * sigma
		hiBound := float64(r.sig.High) * sigma
		out := 0
		for i := 0; i < n; i++ {
			fit := alpha + beta*float64(i)
			if fit-r.ys[i] > loBound || r.ys[i]-fit > hiBound {
				out++
			}
		}
		if out == 0 || n-out < survivorFloor {
			break
		}

		// compact survivors preserving sort order, so ranks stay valid
		k := 0
		for i := 0; i < n; i++ {
			fit := alpha + beta*float64(i)
			if fit-r.ys[i] > loBound {
				low++
			} else if r.ys[i]-fit > hiBound {
				high++
			} else {
				a[k] = a[i]
				k++
			}
		}
		n = k
	}
	return n, low, high
}
