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

// Package norm computes and applies per-frame normalization: affine
// corrections aligning each frame's background location and gain with the
// reference frame before pixel stacks are combined.
package norm

import (
	"errors"
	"fmt"

	"github.com/stellarbit/seqstack/internal/stats"
)

// Normalization mode applied to stacked pixel values
type Mode int

const (
	None Mode = iota
	Additive
	AdditiveScaling
	Multiplicative
	MultiplicativeScaling
)

func (m Mode) String() string {
	switch m {
	case None:
		return "none"
	case Additive:
		return "additive"
	case AdditiveScaling:
		return "additive+scaling"
	case Multiplicative:
		return "multiplicative"
	case MultiplicativeScaling:
		return "multiplicative+scaling"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode maps a mode name as used on the command line back to a Mode
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "none":
		return None, nil
	case "additive":
		return Additive, nil
	case "additive+scaling", "addscale":
		return AdditiveScaling, nil
	case "multiplicative":
		return Multiplicative, nil
	case "multiplicative+scaling", "mulscale":
		return MultiplicativeScaling, nil
	}
	return None, fmt.Errorf("unknown normalization mode %q", s)
}

// Per-(frame,channel) normalization coefficients. Identity values leave
// pixels untouched.
type Coeff struct {
	Offset float32
	Mul    float32
	Scale  float32
}

// Identity returns the no-op coefficient triple
func Identity() Coeff { return Coeff{Offset: 0, Mul: 1, Scale: 1} }

// Apply transforms one fetched pixel value according to the mode. Exact-zero
// values are placeholders for "no data due to shift" and pass through
// unaltered.
func (c Coeff) Apply(m Mode, v float32) float32 {
	if v <= 0 {
		return v
	}
	switch m {
	case Additive:
		return v - c.Offset
	case AdditiveScaling:
		return v*c.Scale - c.Offset
	case Multiplicative:
		return v * c.Mul
	case MultiplicativeScaling:
		return v * c.Scale * c.Mul
	}
	return v
}

// Compute derives coefficients for every (frame,channel) from per-frame
// background statistics, relative to the reference frame. st is indexed
// [frame][channel]; ref is an index into st. The reference frame receives
// identity coefficients.
func Compute(m Mode, st [][]*stats.Stats, ref int) ([][]Coeff, error) {
	if ref < 0 || ref >= len(st) {
		return nil, fmt.Errorf("reference frame %d out of range [0,%d)", ref, len(st))
	}
	coeffs := make([][]Coeff, len(st))
	for f := range st {
		coeffs[f] = make([]Coeff, len(st[f]))
		for ch := range st[f] {
			c := Identity()
			if m == None || f == ref {
				coeffs[f][ch] = c
				continue
			}
			r, s := st[ref][ch], st[f][ch]
			if s.Location == 0 || s.Scale == 0 {
				return nil, fmt.Errorf("frame %d channel %d has degenerate background (location %g scale %g)",
					f, ch, s.Location, s.Scale)
			}
			c.Scale = r.Scale / s.Scale
			switch m {
			case Additive:
				c.Offset = s.Location - r.Location
			case AdditiveScaling:
				c.Offset = s.Location*c.Scale - r.Location
			case Multiplicative:
				c.Mul = r.Location / s.Location
			case MultiplicativeScaling:
				c.Mul = r.Location / (s.Location * c.Scale)
			}
			coeffs[f][ch] = c
		}
	}
	return coeffs, nil
}

// Weights derives per-frame stacking weights from background noise and
// normalization scale: the inverse variance of each frame's noise, scaled by
// its normalization scale factor squared, normalized so the weights average
// to one. st is indexed [frame][channel]; noise is averaged across channels.
func Weights(st [][]*stats.Stats, coeffs [][]Coeff) ([]float32, error) {
	if len(st) == 0 {
		return nil, errors.New("no frames to weight")
	}
	weights := make([]float32, len(st))
	sum := float32(0)
	for f := range st {
		v := float32(0)
		for ch := range st[f] {
			n := st[f][ch].Noise * coeffs[f][ch].Scale
			v += n * n
		}
		v /= float32(len(st[f]))
		if v == 0 {
			return nil, fmt.Errorf("frame %d has zero noise estimate, cannot weight", f)
		}
		weights[f] = 1 / v
		sum += weights[f]
	}
	// normalize to average one
	factor := float32(len(weights)) / sum
	for i := range weights {
		weights[i] *= factor
	}
	return weights, nil
}
