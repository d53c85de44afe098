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

// Package render writes stacked output rasters to FITS, 16-bit TIFF and
// JPEG preview files.
package render

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/stellarbit/seqstack/internal/seqio"
	"github.com/stellarbit/seqstack/internal/stack"
)

const fitsBlockSize = 2880
const fitsLineSize = 80

// WriteFITSToFile writes the raster as a single-HDU FITS file: BITPIX 16
// with BZERO 32768 for 16-bit rasters, BITPIX -32 for float rasters.
func WriteFITSToFile(img *stack.Image, fileName string) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()
	w := bufio.NewWriter(file)
	defer w.Flush()
	return WriteFITS(img, w)
}

func WriteFITS(img *stack.Image, w io.Writer) error {
	cards := []string{
		card("SIMPLE", "T", "file conforms to FITS standard"),
	}
	if img.Type == seqio.U16 {
		cards = append(cards, card("BITPIX", "16", "array data type"))
	} else {
		cards = append(cards, card("BITPIX", "-32", "array data type"))
	}
	naxis := 2
	if img.Channels > 1 {
		naxis = 3
	}
	cards = append(cards, card("NAXIS", fmt.Sprintf("%d", naxis), "number of array dimensions"))
	cards = append(cards, card("NAXIS1", fmt.Sprintf("%d", img.Width), ""))
	cards = append(cards, card("NAXIS2", fmt.Sprintf("%d", img.Height), ""))
	if naxis == 3 {
		cards = append(cards, card("NAXIS3", fmt.Sprintf("%d", img.Channels), ""))
	}
	if img.Type == seqio.U16 {
		cards = append(cards, card("BZERO", "32768", "offset data range to that of unsigned short"))
		cards = append(cards, card("BSCALE", "1", "default scaling factor"))
	}
	cards = append(cards, fmt.Sprintf("%-*s", fitsLineSize, "END"))

	written := 0
	for _, c := range cards {
		if _, err := io.WriteString(w, c); err != nil {
			return err
		}
		written += len(c)
	}
	if err := pad(w, written); err != nil {
		return err
	}

	// data unit, big-endian
	buf := make([]byte, 0, fitsBlockSize)
	n := img.Channels * img.Height * img.Width
	for i := 0; i < n; i++ {
		if img.Type == seqio.U16 {
			v := int32(img.U16[i]) - 32768
			buf = binary.BigEndian.AppendUint16(buf, uint16(int16(v)))
		} else {
			buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(img.F32[i]))
		}
		if len(buf) == fitsBlockSize {
			if _, err := w.Write(buf); err != nil {
				return err
			}
			buf = buf[:0]
		}
	}
	if _, err := w.Write(buf); err != nil {
		return err
	}
	bpp := 2
	if img.Type == seqio.F32 {
		bpp = 4
	}
	return pad(w, n*bpp)
}

// card formats one 80-character FITS header card
func card(key, value, comment string) string {
	s := fmt.Sprintf("%-8s= %20s", key, value)
	if comment != "" {
		s += " / " + comment
	}
	if len(s) > fitsLineSize {
		s = s[:fitsLineSize]
	}
	return fmt.Sprintf("%-*s", fitsLineSize, s)
}

// pad fills the current FITS block with zero bytes
func pad(w io.Writer, written int) error {
	rem := written % fitsBlockSize
	if rem == 0 {
		return nil
	}
	_, err := w.Write(make([]byte, fitsBlockSize-rem))
	return err
}
