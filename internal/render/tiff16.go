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
	"bufio"
	"image"
	"image/color"
	"io"
	"math"
	"os"

	"golang.org/x/image/tiff"

	"github.com/stellarbit/seqstack/internal/seqio"
	"github.com/stellarbit/seqstack/internal/stack"
)

// WriteTIFF16ToFile writes the raster to 16-bit TIFF, scaling values from
// [min, max] to the full range and applying the given gamma.
func WriteTIFF16ToFile(img *stack.Image, fileName string, min, max, gamma float32) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	return WriteTIFF16(img, writer, min, max, gamma)
}

// WriteTIFF16 writes the raster to 16-bit TIFF, scaling values from
// [min, max] to the full range and applying the given gamma. Mono rasters
// become Gray16, three-channel rasters RGBA64.
func WriteTIFF16(img *stack.Image, writer io.Writer, min, max, gamma float32) error {
	if img.Channels == 1 {
		return writeMonoTIFF16(img, writer, min, max, gamma)
	}
	width, height := img.Width, img.Height
	out := image.NewRGBA64(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	scale := 1.0 / (max - min)
	gammaInv := float64(1.0 / gamma)
	for y := 0; y < height; y++ {
		row := height - 1 - y // raster is bottom-up, image.Image top-down
		for x := 0; x < width; x++ {
			r := tonemap(img.At(0, x, row), min, scale, gammaInv, img.Type)
			g := tonemap(img.At(1, x, row), min, scale, gammaInv, img.Type)
			b := tonemap(img.At(2, x, row), min, scale, gammaInv, img.Type)
			out.SetRGBA64(x, y, color.RGBA64{uint16(r * 65535), uint16(g * 65535), uint16(b * 65535), 65535})
		}
	}
	return tiff.Encode(writer, out, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}

func writeMonoTIFF16(img *stack.Image, writer io.Writer, min, max, gamma float32) error {
	width, height := img.Width, img.Height
	out := image.NewGray16(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	scale := 1.0 / (max - min)
	gammaInv := float64(1.0 / gamma)
	for y := 0; y < height; y++ {
		row := height - 1 - y
		for x := 0; x < width; x++ {
			gray := tonemap(img.At(0, x, row), min, scale, gammaInv, img.Type)
			out.SetGray16(x, y, color.Gray16{uint16(gray * 65535)})
		}
	}
	return tiff.Encode(writer, out, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}

// tonemap scales one sample from [min, max] into [0, 1] and applies gamma.
// U16 rasters are brought into [0, 1] first. NaNs map to zero, else the
// encoders break.
func tonemap(v, min, scale float32, gammaInv float64, t seqio.PixelType) float32 {
	if t == seqio.U16 {
		v /= 65535
	}
	v = (v - min) * scale
	if math.IsNaN(float64(v)) || v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	if gammaInv != 1.0 {
		v = float32(math.Pow(float64(v), gammaInv))
	}
	return v
}
