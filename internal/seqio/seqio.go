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

package seqio

import (
	"errors"
	"fmt"
)

// ErrSequence marks a sequence that cannot be stacked: a frame failed to
// read, or frames have inconsistent geometry or pixel representation.
var ErrSequence = errors.New("sequence error")

// Native pixel representation of a sequence on disk
type PixelType int

const (
	U16 PixelType = iota // 16-bit unsigned integer, values 0..65535
	F32                  // 32-bit float, values 0..1
)

func (p PixelType) String() string {
	switch p {
	case U16:
		return "uint16"
	case F32:
		return "float32"
	}
	return fmt.Sprintf("pixelType(%d)", int(p))
}

// Uniform raster geometry shared by all frames of a sequence
type Geometry struct {
	Width    int
	Height   int
	Channels int
}

func (g Geometry) String() string { return fmt.Sprintf("%dx%dx%d", g.Width, g.Height, g.Channels) }

// A Sequence provides random access to rectangular regions of any channel of
// any frame. ReadRegion must be safe for concurrent calls from different
// goroutines; backends whose file handles do not support parallel random
// access serialize internally with a per-frame lock.
//
// Regardless of the on-disk representation, pixel data is served as float32:
// 16-bit frames keep their 0..65535 value range, float frames their 0..1
// range. PixelType reports the native representation so the output stage can
// quantize accordingly.
type Sequence interface {
	Frames() int
	Geometry() Geometry
	PixelType() PixelType

	// ReadRegion reads rows [row, row+height) of the given channel of the
	// given frame into dst, which must hold height*width elements. The
	// requested range must lie fully inside the frame; bounds handling for
	// registration shifts is the caller's job.
	ReadRegion(frame, channel, row, height int, dst []float32) error

	Close() error
}

// Validates a region request against a sequence's geometry
func checkRegion(g Geometry, frames, frame, channel, row, height, dstLen int) error {
	if frame < 0 || frame >= frames {
		return fmt.Errorf("%w: frame %d out of range [0,%d)", ErrSequence, frame, frames)
	}
	if channel < 0 || channel >= g.Channels {
		return fmt.Errorf("%w: channel %d out of range [0,%d)", ErrSequence, channel, g.Channels)
	}
	if row < 0 || height < 1 || row+height > g.Height {
		return fmt.Errorf("%w: rows [%d,%d) out of range [0,%d)", ErrSequence, row, row+height, g.Height)
	}
	if dstLen != height*g.Width {
		return fmt.Errorf("%w: destination holds %d elements, need %d", ErrSequence, dstLen, height*g.Width)
	}
	return nil
}

// An in-memory sequence, used by tests and by callers that already hold
// their frames in RAM. Frame data is channel-major: channel planes of
// height*width values each.
type MemSequence struct {
	geom  Geometry
	ptype PixelType
	data  [][]float32
}

func NewMemSequence(geom Geometry, ptype PixelType) *MemSequence {
	return &MemSequence{geom: geom, ptype: ptype}
}

// Append adds a frame. data must hold channels*height*width values and is
// retained, not copied.
func (s *MemSequence) Append(data []float32) error {
	g := s.geom
	if len(data) != g.Channels*g.Height*g.Width {
		return fmt.Errorf("%w: frame %d holds %d values, geometry %v needs %d",
			ErrSequence, len(s.data), len(data), g, g.Channels*g.Height*g.Width)
	}
	s.data = append(s.data, data)
	return nil
}

func (s *MemSequence) Frames() int          { return len(s.data) }
func (s *MemSequence) Geometry() Geometry   { return s.geom }
func (s *MemSequence) PixelType() PixelType { return s.ptype }
func (s *MemSequence) Close() error         { return nil }

func (s *MemSequence) ReadRegion(frame, channel, row, height int, dst []float32) error {
	if err := checkRegion(s.geom, len(s.data), frame, channel, row, height, len(dst)); err != nil {
		return err
	}
	w := s.geom.Width
	plane := channel * s.geom.Height * w
	copy(dst, s.data[frame][plane+row*w:plane+(row+height)*w])
	return nil
}
