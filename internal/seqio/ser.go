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
	"encoding/binary"
	"fmt"
	"os"
)

const serHeaderSize = 178

// SER color IDs relevant for channel layout
const (
	serMono = 0
	serRGB  = 100
	serBGR  = 101
)

// A sequence backed by a single SER v3 capture file. All frames live at
// fixed offsets in one file; region reads use pread-style ReadAt calls, so
// no locking is needed and frames can truly be read in parallel.
type SERSequence struct {
	file         *os.File
	name         string
	geom         Geometry
	frames       int
	colorID      int
	bytesPerSamp int
	littleEndian bool
}

// Opens a SER container file as a stacking sequence. 8-bit samples are
// rescaled to the 16-bit range on read; the sequence pixel type is always U16.
func OpenSERSequence(path string) (*SERSequence, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrSequence, path, err.Error())
	}
	hdr := make([]byte, serHeaderSize)
	if _, err = file.ReadAt(hdr, 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %s: %s", ErrSequence, path, err.Error())
	}
	if string(hdr[0:14]) != "LUCAM-RECORDER" {
		file.Close()
		return nil, fmt.Errorf("%w: %s: missing SER signature", ErrSequence, path)
	}
	le := binary.LittleEndian
	colorID := int(int32(le.Uint32(hdr[18:])))
	littleEndian := int32(le.Uint32(hdr[22:])) != 0
	width := int(int32(le.Uint32(hdr[26:])))
	height := int(int32(le.Uint32(hdr[30:])))
	depth := int(int32(le.Uint32(hdr[34:])))
	frames := int(int32(le.Uint32(hdr[38:])))

	if width < 1 || height < 1 || frames < 1 {
		file.Close()
		return nil, fmt.Errorf("%w: %s: bad dimensions %dx%d, %d frames", ErrSequence, path, width, height, frames)
	}
	if depth < 1 || depth > 16 {
		file.Close()
		return nil, fmt.Errorf("%w: %s: unsupported pixel depth %d", ErrSequence, path, depth)
	}
	channels := 1
	if colorID == serRGB || colorID == serBGR {
		channels = 3
	}
	bytesPerSamp := 1
	if depth > 8 {
		bytesPerSamp = 2
	}

	return &SERSequence{
		file:         file,
		name:         path,
		geom:         Geometry{Width: width, Height: height, Channels: channels},
		frames:       frames,
		colorID:      colorID,
		bytesPerSamp: bytesPerSamp,
		littleEndian: littleEndian,
	}, nil
}

func (s *SERSequence) Frames() int          { return s.frames }
func (s *SERSequence) Geometry() Geometry   { return s.geom }
func (s *SERSequence) PixelType() PixelType { return U16 }
func (s *SERSequence) Close() error         { return s.file.Close() }

func (s *SERSequence) ReadRegion(frame, channel, row, height int, dst []float32) error {
	if err := checkRegion(s.geom, s.frames, frame, channel, row, height, len(dst)); err != nil {
		return err
	}
	w := s.geom.Width
	planes := s.geom.Channels
	sampleBytes := s.bytesPerSamp
	frameSize := int64(w) * int64(s.geom.Height) * int64(planes) * int64(sampleBytes)
	offset := serHeaderSize + int64(frame)*frameSize + int64(row)*int64(w)*int64(planes)*int64(sampleBytes)

	raw := make([]byte, height*w*planes*sampleBytes)
	if _, err := s.file.ReadAt(raw, offset); err != nil {
		return fmt.Errorf("%w: %s frame %d: %s", ErrSequence, s.name, frame, err.Error())
	}

	// samples are interleaved across planes; BGR stores blue first
	plane := channel
	if s.colorID == serBGR {
		plane = planes - 1 - channel
	}
	if sampleBytes == 1 {
		// scale 8-bit origin data to the full 16-bit range
		for i := range dst {
			dst[i] = float32(raw[i*planes+plane]) * 257
		}
	} else if s.littleEndian {
		for i := range dst {
			dst[i] = float32(binary.LittleEndian.Uint16(raw[(i*planes+plane)*2:]))
		}
	} else {
		for i := range dst {
			dst[i] = float32(binary.BigEndian.Uint16(raw[(i*planes+plane)*2:]))
		}
	}
	return nil
}
