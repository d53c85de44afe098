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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestMemSequenceReadRegion(t *testing.T) {
	geom := Geometry{Width: 4, Height: 3, Channels: 2}
	seq := NewMemSequence(geom, U16)
	frame := make([]float32, 2*3*4)
	for i := range frame {
		frame[i] = float32(i)
	}
	if err := seq.Append(frame); err != nil {
		t.Fatal(err)
	}

	dst := make([]float32, 2*4)
	if err := seq.ReadRegion(0, 1, 1, 2, dst); err != nil {
		t.Fatal(err)
	}
	// channel 1 plane starts at 12, row 1 at 16
	for i, want := range []float32{16, 17, 18, 19, 20, 21, 22, 23} {
		if dst[i] != want {
			t.Fatalf("value %d is %f, expect %f", i, dst[i], want)
		}
	}
}

func TestMemSequenceBounds(t *testing.T) {
	geom := Geometry{Width: 4, Height: 3, Channels: 1}
	seq := NewMemSequence(geom, U16)
	if err := seq.Append(make([]float32, 12)); err != nil {
		t.Fatal(err)
	}
	if err := seq.Append(make([]float32, 11)); !errors.Is(err, ErrSequence) {
		t.Errorf("appending wrong-sized frame: got %v, expect ErrSequence", err)
	}

	dst := make([]float32, 4)
	cases := []struct{ frame, channel, row, height int }{
		{1, 0, 0, 1},  // frame out of range
		{0, 1, 0, 1},  // channel out of range
		{0, 0, -1, 1}, // negative row
		{0, 0, 2, 2},  // past the bottom
		{0, 0, 0, 0},  // empty range
	}
	for _, c := range cases {
		err := seq.ReadRegion(c.frame, c.channel, c.row, c.height, dst)
		if !errors.Is(err, ErrSequence) {
			t.Errorf("ReadRegion(%+v): got %v, expect ErrSequence", c, err)
		}
	}
	if err := seq.ReadRegion(0, 0, 0, 2, dst); !errors.Is(err, ErrSequence) {
		t.Errorf("undersized destination: got %v, expect ErrSequence", err)
	}
}

// writeSER writes a minimal SER v3 container with the given interleaved
// 16-bit little-endian samples
func writeSER(t *testing.T, path string, colorID, width, height, frames, depth int, samples []uint16) {
	t.Helper()
	le := binary.LittleEndian
	hdr := make([]byte, 178)
	copy(hdr, "LUCAM-RECORDER")
	le.PutUint32(hdr[18:], uint32(colorID))
	le.PutUint32(hdr[22:], 1) // little-endian samples
	le.PutUint32(hdr[26:], uint32(width))
	le.PutUint32(hdr[30:], uint32(height))
	le.PutUint32(hdr[34:], uint32(depth))
	le.PutUint32(hdr[38:], uint32(frames))

	buf := hdr
	if depth > 8 {
		for _, s := range samples {
			buf = le.AppendUint16(buf, s)
		}
	} else {
		for _, s := range samples {
			buf = append(buf, byte(s))
		}
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestSERSequenceMono(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.ser")
	// 2 frames of 3x2 mono
	samples := []uint16{
		10, 20, 30, 40, 50, 60,
		11, 21, 31, 41, 51, 61,
	}
	writeSER(t, path, 0, 3, 2, 2, 16, samples)

	seq, err := OpenSERSequence(path)
	if err != nil {
		t.Fatal(err)
	}
	defer seq.Close()

	if seq.Frames() != 2 || seq.Geometry() != (Geometry{Width: 3, Height: 2, Channels: 1}) {
		t.Fatalf("got %d frames of %v", seq.Frames(), seq.Geometry())
	}
	if seq.PixelType() != U16 {
		t.Fatalf("pixel type %v, expect uint16", seq.PixelType())
	}

	dst := make([]float32, 3)
	if err := seq.ReadRegion(1, 0, 1, 1, dst); err != nil {
		t.Fatal(err)
	}
	for i, want := range []float32{41, 51, 61} {
		if dst[i] != want {
			t.Fatalf("frame 1 row 1 value %d is %f, expect %f", i, dst[i], want)
		}
	}
}

func TestSERSequenceBGR(t *testing.T) {
	path := filepath.Join(t.TempDir(), "color.ser")
	// one 2x1 frame, samples interleaved B,G,R per pixel
	samples := []uint16{5, 6, 7, 50, 60, 70}
	writeSER(t, path, 101, 2, 1, 1, 16, samples)

	seq, err := OpenSERSequence(path)
	if err != nil {
		t.Fatal(err)
	}
	defer seq.Close()

	if seq.Geometry().Channels != 3 {
		t.Fatalf("BGR geometry %v, expect 3 channels", seq.Geometry())
	}
	dst := make([]float32, 2)
	// channel 0 is red, stored last per pixel
	if err := seq.ReadRegion(0, 0, 0, 1, dst); err != nil {
		t.Fatal(err)
	}
	if dst[0] != 7 || dst[1] != 70 {
		t.Fatalf("red plane %v, expect {7, 70}", dst)
	}
	// channel 2 is blue, stored first
	if err := seq.ReadRegion(0, 2, 0, 1, dst); err != nil {
		t.Fatal(err)
	}
	if dst[0] != 5 || dst[1] != 50 {
		t.Fatalf("blue plane %v, expect {5, 50}", dst)
	}
}

func TestSERSequence8BitScaling(t *testing.T) {
	path := filepath.Join(t.TempDir(), "byte.ser")
	writeSER(t, path, 0, 2, 1, 1, 8, []uint16{0, 255})

	seq, err := OpenSERSequence(path)
	if err != nil {
		t.Fatal(err)
	}
	defer seq.Close()

	dst := make([]float32, 2)
	if err := seq.ReadRegion(0, 0, 0, 1, dst); err != nil {
		t.Fatal(err)
	}
	if dst[0] != 0 || dst[1] != 65535 {
		t.Fatalf("8-bit samples scale to %v, expect {0, 65535}", dst)
	}
}

func TestSERSequenceBadSignature(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not.ser")
	if err := os.WriteFile(path, make([]byte, 500), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenSERSequence(path); !errors.Is(err, ErrSequence) {
		t.Errorf("got %v, expect ErrSequence", err)
	}
}

// writeFITS writes a minimal single-HDU 16-bit FITS frame
func writeFITS(t *testing.T, path string, width, height int, values []uint16) {
	t.Helper()
	hdr := ""
	for _, c := range []string{
		"SIMPLE  =                    T",
		"BITPIX  =                   16",
		"NAXIS   =                    2",
		fmt.Sprintf("NAXIS1  = %20d", width),
		fmt.Sprintf("NAXIS2  = %20d", height),
		"BZERO   =                32768",
		"END",
	} {
		hdr += fmt.Sprintf("%-80s", c)
	}
	buf := []byte(hdr)
	buf = append(buf, make([]byte, 2880-len(buf)%2880)...)
	for _, v := range values {
		buf = binary.BigEndian.AppendUint16(buf, uint16(int16(int32(v)-32768)))
	}
	if rem := len(buf) % 2880; rem != 0 {
		buf = append(buf, make([]byte, 2880-rem)...)
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestFITSSequence(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.fits")
	b := filepath.Join(dir, "b.fits")
	writeFITS(t, a, 3, 2, []uint16{1, 2, 3, 4, 5, 6})
	writeFITS(t, b, 3, 2, []uint16{10, 20, 30, 40, 50, 60})

	seq, err := OpenFITSSequence([]string{a, b})
	if err != nil {
		t.Fatal(err)
	}
	defer seq.Close()

	if seq.Frames() != 2 || seq.Geometry() != (Geometry{Width: 3, Height: 2, Channels: 1}) {
		t.Fatalf("got %d frames of %v", seq.Frames(), seq.Geometry())
	}
	if seq.PixelType() != U16 {
		t.Fatalf("pixel type %v, expect uint16", seq.PixelType())
	}

	dst := make([]float32, 3)
	if err := seq.ReadRegion(1, 0, 1, 1, dst); err != nil {
		t.Fatal(err)
	}
	for i, want := range []float32{40, 50, 60} {
		if dst[i] != want {
			t.Fatalf("frame 1 row 1 value %d is %f, expect %f", i, dst[i], want)
		}
	}
}

// Region reads of different sizes share a per-frame scratch buffer; they
// must stay correct when it grows, shrinks, and is hit concurrently.
func TestFITSSequenceScratchReuse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.fits")
	values := make([]uint16, 4*8)
	for i := range values {
		values[i] = uint16(i * 3)
	}
	writeFITS(t, path, 4, 8, values)

	seq, err := OpenFITSSequence([]string{path})
	if err != nil {
		t.Fatal(err)
	}
	defer seq.Close()

	check := func(row, height int) {
		buf := make([]float32, height*4)
		if err := seq.ReadRegion(0, 0, row, height, buf); err != nil {
			t.Error(err)
			return
		}
		for i, v := range buf {
			if want := float32((row*4 + i) * 3); v != want {
				t.Errorf("row %d height %d index %d: %g, expect %g", row, height, i, v, want)
				return
			}
		}
	}
	check(0, 1)
	check(2, 4) // grows the scratch
	check(7, 1) // shrinks it again

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				check((g+i)%7, 1+i%2)
			}
		}(g)
	}
	wg.Wait()
}

func TestFITSSequenceGeometryMismatch(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.fits")
	b := filepath.Join(dir, "b.fits")
	writeFITS(t, a, 3, 2, []uint16{1, 2, 3, 4, 5, 6})
	writeFITS(t, b, 2, 3, []uint16{1, 2, 3, 4, 5, 6})

	if _, err := OpenFITSSequence([]string{a, b}); !errors.Is(err, ErrSequence) {
		t.Errorf("mixed geometry: got %v, expect ErrSequence", err)
	}
}
