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

package stack

import (
	"math"

	"github.com/stellarbit/seqstack/internal/seqio"
)

// The stacked output raster. Exactly one of U16 or F32 is allocated,
// matching Type; both are channel-major planes of Height*Width values with
// row 0 at the bottom (FITS orientation).
type Image struct {
	Width    int
	Height   int
	Channels int
	Type     seqio.PixelType
	U16      []uint16
	F32      []float32
}

func newImage(w, h, channels int, t seqio.PixelType) *Image {
	img := &Image{Width: w, Height: h, Channels: channels, Type: t}
	if t == seqio.U16 {
		img.U16 = make([]uint16, channels*h*w)
	} else {
		img.F32 = make([]float32, channels*h*w)
	}
	return img
}

// set quantizes one aggregated value into the raster. The input value is in
// the source sequence's range (0..65535 for U16 sequences, 0..1 for float
// sequences); flipping to bottom-up row order is the caller's job.
func (img *Image) set(channel, x, row int, v float64, srcType seqio.PixelType) {
	i := (channel*img.Height+row)*img.Width + x
	if img.Type == seqio.U16 {
		if srcType == seqio.F32 {
			v *= 65535
		}
		v = math.Round(v)
		if v < 0 {
			v = 0
		} else if v > 65535 {
			v = 65535
		}
		img.U16[i] = uint16(v)
	} else {
		if srcType == seqio.U16 {
			v /= 65535
		}
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		img.F32[i] = float32(v)
	}
}

// At returns the pixel at (x, y) of the given channel as float32 in the
// raster's native range
func (img *Image) At(channel, x, y int) float32 {
	i := (channel*img.Height+y)*img.Width + x
	if img.Type == seqio.U16 {
		return float32(img.U16[i])
	}
	return img.F32[i]
}
