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

package render

import (
	"bytes"
	"image"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/tiff"

	"github.com/stellarbit/seqstack/internal/seqio"
	"github.com/stellarbit/seqstack/internal/stack"
)

func TestFITSRoundTripU16(t *testing.T) {
	img := &stack.Image{Width: 4, Height: 3, Channels: 3, Type: seqio.U16}
	img.U16 = make([]uint16, 3*3*4)
	for i := range img.U16 {
		img.U16[i] = uint16(i * 7)
	}

	path := filepath.Join(t.TempDir(), "out.fits")
	if err := WriteFITSToFile(img, path); err != nil {
		t.Fatal(err)
	}
	seq, err := seqio.OpenFITSSequence([]string{path})
	if err != nil {
		t.Fatal(err)
	}
	defer seq.Close()

	if g := seq.Geometry(); g.Width != 4 || g.Height != 3 || g.Channels != 3 {
		t.Fatalf("geometry %v after round trip", g)
	}
	if seq.PixelType() != seqio.U16 {
		t.Fatalf("pixel type %v, expect U16", seq.PixelType())
	}
	buf := make([]float32, 4)
	for ch := 0; ch < 3; ch++ {
		for row := 0; row < 3; row++ {
			if err := seq.ReadRegion(0, ch, row, 1, buf); err != nil {
				t.Fatal(err)
			}
			for x, v := range buf {
				want := float32(((ch*3+row)*4 + x) * 7)
				if v != want {
					t.Fatalf("channel %d row %d x %d is %g, expect %g", ch, row, x, v, want)
				}
			}
		}
	}
}

func TestFITSRoundTripF32(t *testing.T) {
	img := &stack.Image{Width: 8, Height: 2, Channels: 1, Type: seqio.F32}
	img.F32 = make([]float32, 2*8)
	for i := range img.F32 {
		img.F32[i] = float32(i) / 16
	}

	path := filepath.Join(t.TempDir(), "out.fits")
	if err := WriteFITSToFile(img, path); err != nil {
		t.Fatal(err)
	}
	seq, err := seqio.OpenFITSSequence([]string{path})
	if err != nil {
		t.Fatal(err)
	}
	defer seq.Close()

	if seq.PixelType() != seqio.F32 {
		t.Fatalf("pixel type %v, expect F32", seq.PixelType())
	}
	buf := make([]float32, 16)
	if err := seq.ReadRegion(0, 0, 0, 2, buf); err != nil {
		t.Fatal(err)
	}
	for i, v := range buf {
		if v != float32(i)/16 {
			t.Fatalf("value %d is %g, expect %g", i, v, float32(i)/16)
		}
	}
}

func TestFITSBlockPadding(t *testing.T) {
	img := &stack.Image{Width: 3, Height: 3, Channels: 1, Type: seqio.U16}
	img.U16 = make([]uint16, 9)
	var buf bytes.Buffer
	if err := WriteFITS(img, &buf); err != nil {
		t.Fatal(err)
	}
	if buf.Len()%2880 != 0 {
		t.Errorf("file size %d is not a multiple of the FITS block size", buf.Len())
	}
}

func TestAutoStretch(t *testing.T) {
	img := &stack.Image{Width: 100, Height: 10, Channels: 1, Type: seqio.F32}
	img.F32 = make([]float32, 1000)
	for i := range img.F32 {
		img.F32[i] = 0.1
	}
	for i := 0; i < 10; i++ {
		img.F32[i*100] = 0.9
	}
	min, max := AutoStretch(img, 0.01, 0.999)
	if min < 0.05 || min > 0.15 {
		t.Errorf("black point %g, expect near 0.1", min)
	}
	if max < 0.85 || max > 0.95 {
		t.Errorf("white point %g, expect near 0.9", max)
	}
	if min >= max {
		t.Errorf("degenerate stretch range [%g,%g]", min, max)
	}
}

func TestAutoStretchKeepsBackgroundPeak(t *testing.T) {
	img := &stack.Image{Width: 100, Height: 10, Channels: 1, Type: seqio.F32}
	img.F32 = make([]float32, 1000)
	for i := range img.F32 {
		if i < 600 {
			img.F32[i] = 0.2 // sky background, the histogram peak
		} else {
			img.F32[i] = 0.9
		}
	}
	// the 70th percentile lands above the peak; the black point must not
	min, max := AutoStretch(img, 0.7, 0.999)
	if min < 0.15 || min > 0.25 {
		t.Errorf("black point %g, expect the background peak near 0.2", min)
	}
	if max < 0.85 || max > 0.95 {
		t.Errorf("white point %g, expect near 0.9", max)
	}
}

func TestAutoStretchConstant(t *testing.T) {
	img := &stack.Image{Width: 10, Height: 10, Channels: 1, Type: seqio.F32}
	img.F32 = make([]float32, 100)
	min, max := AutoStretch(img, 0.01, 0.999)
	if min >= max {
		t.Errorf("constant image yields empty range [%g,%g]", min, max)
	}
}

func TestWriteTIFF16Mono(t *testing.T) {
	img := &stack.Image{Width: 16, Height: 8, Channels: 1, Type: seqio.U16}
	img.U16 = make([]uint16, 8*16)
	for i := range img.U16 {
		img.U16[i] = uint16(i * 400)
	}
	var buf bytes.Buffer
	if err := WriteTIFF16(img, &buf, 0, 1, 1); err != nil {
		t.Fatal(err)
	}
	decoded, err := tiff.Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if b := decoded.Bounds(); b.Dx() != 16 || b.Dy() != 8 {
		t.Errorf("decoded size %v, expect 16x8", b)
	}
	if _, ok := decoded.(*image.Gray16); !ok {
		t.Errorf("mono image decoded as %T, expect Gray16", decoded)
	}
}

func TestWriteTIFF16Color(t *testing.T) {
	img := &stack.Image{Width: 4, Height: 4, Channels: 3, Type: seqio.F32}
	img.F32 = make([]float32, 3*4*4)
	for i := range img.F32 {
		img.F32[i] = 0.5
	}
	path := filepath.Join(t.TempDir(), "out.tiff")
	if err := WriteTIFF16ToFile(img, path, 0, 1, 1); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	decoded, err := tiff.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if b := decoded.Bounds(); b.Dx() != 4 || b.Dy() != 4 {
		t.Errorf("decoded size %v, expect 4x4", b)
	}
}

func TestWriteJPG(t *testing.T) {
	img := &stack.Image{Width: 32, Height: 16, Channels: 1, Type: seqio.U16}
	img.U16 = make([]uint16, 16*32)
	for i := range img.U16 {
		img.U16[i] = 32768
	}
	var buf bytes.Buffer
	if err := WriteJPG(img, &buf, 0, 1, 1, 90); err != nil {
		t.Fatal(err)
	}
	decoded, err := jpeg.Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if b := decoded.Bounds(); b.Dx() != 32 || b.Dy() != 16 {
		t.Errorf("decoded size %v, expect 32x16", b)
	}
	// a uniform mid-gray input must stay mid-gray after the identity stretch
	r, g, b, _ := decoded.At(16, 8).RGBA()
	for _, c := range []uint32{r, g, b} {
		if math.Abs(float64(c)-32768) > 2048 {
			t.Errorf("mid-gray pixel decoded as %d,%d,%d", r, g, b)
			break
		}
	}
}

func TestWriteFalseColorJPG(t *testing.T) {
	img := &stack.Image{Width: 16, Height: 16, Channels: 1, Type: seqio.F32}
	img.F32 = make([]float32, 16*16)
	for i := range img.F32 {
		img.F32[i] = float32(i) / 255
	}
	var buf bytes.Buffer
	if err := WriteFalseColorJPG(img, &buf, 0, 1, 90); err != nil {
		t.Fatal(err)
	}
	decoded, err := jpeg.Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if b := decoded.Bounds(); b.Dx() != 16 || b.Dy() != 16 {
		t.Errorf("decoded size %v, expect 16x16", b)
	}
}
