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
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
)

const fitsBlockSize = 2880 // FITS header and data unit block size
const fitsLineSize = 80    // FITS header card size

// One frame of a FITS sequence. The shared file handle requires serialized
// access for random reads, hence the per-frame lock.
type fitsFrame struct {
	mu      sync.Mutex
	file    *os.File
	raw     []byte // read scratch, guarded by mu
	dataOff int64
	bzero   float32
	bscale  float32
}

// A sequence backed by one single-HDU FITS file per frame. Supports BITPIX 16
// (unsigned via BZERO 32768) and BITPIX -32 frames.
type FITSSequence struct {
	frames []*fitsFrame
	names  []string
	geom   Geometry
	ptype  PixelType
}

// Opens the given FITS files as a stacking sequence. All frames must share
// geometry and pixel representation, otherwise a sequence error is returned.
func OpenFITSSequence(paths []string) (*FITSSequence, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no frames", ErrSequence)
	}
	s := &FITSSequence{names: append([]string(nil), paths...)}
	for i, p := range paths {
		file, err := os.Open(p)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("%w: %s: %s", ErrSequence, p, err.Error())
		}
		fr, geom, ptype, err := readFITSGeometry(file)
		if err != nil {
			file.Close()
			s.Close()
			return nil, fmt.Errorf("%w: %s: %s", ErrSequence, p, err.Error())
		}
		if i == 0 {
			s.geom, s.ptype = geom, ptype
		} else if geom != s.geom || ptype != s.ptype {
			file.Close()
			s.Close()
			return nil, fmt.Errorf("%w: %s is %v %v, sequence is %v %v",
				ErrSequence, p, geom, ptype, s.geom, s.ptype)
		}
		fr.file = file
		s.frames = append(s.frames, fr)
	}
	return s, nil
}

func (s *FITSSequence) Frames() int          { return len(s.frames) }
func (s *FITSSequence) Geometry() Geometry   { return s.geom }
func (s *FITSSequence) PixelType() PixelType { return s.ptype }

// FileName returns the path of the given frame, for log output
func (s *FITSSequence) FileName(frame int) string { return s.names[frame] }

func (s *FITSSequence) Close() error {
	var err error
	for _, fr := range s.frames {
		if fr.file != nil {
			if e := fr.file.Close(); e != nil && err == nil {
				err = e
			}
		}
	}
	return err
}

func (s *FITSSequence) ReadRegion(frame, channel, row, height int, dst []float32) error {
	if err := checkRegion(s.geom, len(s.frames), frame, channel, row, height, len(dst)); err != nil {
		return err
	}
	fr := s.frames[frame]
	w := s.geom.Width
	bpp := 2
	if s.ptype == F32 {
		bpp = 4
	}
	offset := fr.dataOff + int64(channel*s.geom.Height+row)*int64(w)*int64(bpp)

	// the scratch buffer is shared across calls, so decoding into dst has
	// to finish before the lock is released
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if n := height * w * bpp; cap(fr.raw) < n {
		fr.raw = make([]byte, n)
	} else {
		fr.raw = fr.raw[:n]
	}
	_, err := fr.file.Seek(offset, io.SeekStart)
	if err == nil {
		_, err = io.ReadFull(fr.file, fr.raw)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %s", ErrSequence, s.names[frame], err.Error())
	}

	// FITS data is big-endian
	if s.ptype == U16 {
		for i := range dst {
			v := int16(binary.BigEndian.Uint16(fr.raw[i*2:]))
			dst[i] = fr.bzero + fr.bscale*float32(v)
		}
	} else {
		for i := range dst {
			bits := binary.BigEndian.Uint32(fr.raw[i*4:])
			dst[i] = fr.bzero + fr.bscale*math.Float32frombits(bits)
		}
	}
	return nil
}

// Parses the primary header of a single-HDU FITS file and returns frame
// metadata, geometry and pixel type. Leaves the file positioned arbitrarily.
func readFITSGeometry(file *os.File) (fr *fitsFrame, geom Geometry, ptype PixelType, err error) {
	keys := map[string]string{}
	block := make([]byte, fitsBlockSize)
	end := false
	for !end {
		if _, err = io.ReadFull(file, block); err != nil {
			return nil, geom, 0, err
		}
		for i := 0; i < fitsBlockSize; i += fitsLineSize {
			card := string(block[i : i+fitsLineSize])
			key := strings.TrimSpace(card[:8])
			if key == "END" {
				end = true
				break
			}
			if len(card) < 10 || card[8] != '=' {
				continue // comment or history card
			}
			value := strings.TrimSpace(card[10:])
			if idx := strings.IndexByte(value, '/'); idx >= 0 {
				value = strings.TrimSpace(value[:idx])
			}
			keys[key] = value
		}
	}
	dataOff, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, geom, 0, err
	}

	if keys["SIMPLE"] != "T" {
		return nil, geom, 0, fmt.Errorf("not a valid FITS file; SIMPLE=T missing in header")
	}
	bitpix, err := headerInt(keys, "BITPIX")
	if err != nil {
		return nil, geom, 0, err
	}
	naxis, err := headerInt(keys, "NAXIS")
	if err != nil {
		return nil, geom, 0, err
	}
	if naxis != 2 && naxis != 3 {
		return nil, geom, 0, fmt.Errorf("unsupported NAXIS %d", naxis)
	}
	naxisn := make([]int, naxis)
	for i := 1; i <= naxis; i++ {
		if naxisn[i-1], err = headerInt(keys, "NAXIS"+strconv.Itoa(i)); err != nil {
			return nil, geom, 0, err
		}
	}
	geom = Geometry{Width: naxisn[0], Height: naxisn[1], Channels: 1}
	if naxis == 3 {
		geom.Channels = naxisn[2]
	}

	switch bitpix {
	case 16:
		ptype = U16
	case -32:
		ptype = F32
	default:
		return nil, geom, 0, fmt.Errorf("unsupported BITPIX %d", bitpix)
	}

	fr = &fitsFrame{dataOff: dataOff, bzero: 0, bscale: 1}
	if v, ok := keys["BZERO"]; ok {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return nil, geom, 0, fmt.Errorf("bad BZERO %q", v)
		}
		fr.bzero = float32(f)
	}
	if v, ok := keys["BSCALE"]; ok {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return nil, geom, 0, fmt.Errorf("bad BSCALE %q", v)
		}
		fr.bscale = float32(f)
	}
	return fr, geom, ptype, nil
}

func headerInt(keys map[string]string, key string) (int, error) {
	v, ok := keys[key]
	if !ok {
		return 0, fmt.Errorf("FITS header does not contain key %s", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("bad %s value %q", key, v)
	}
	return n, nil
}
