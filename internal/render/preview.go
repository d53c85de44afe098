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
	"image/jpeg"
	"io"
	"os"

	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/stellarbit/seqstack/internal/seqio"
	"github.com/stellarbit/seqstack/internal/stack"
	"github.com/stellarbit/seqstack/internal/stats"
)

// AutoStretch estimates display black and white points for a raster from
// the given low and high percentiles of the first channel, in [0, 1] scale.
// Typical values are 0.01 and 0.999.
func AutoStretch(img *stack.Image, low, high float32) (min, max float32) {
	n := img.Height * img.Width
	vals := make([]float32, n)
	if img.Type == seqio.U16 {
		for i := 0; i < n; i++ {
			vals[i] = float32(img.U16[i]) / 65535
		}
	} else {
		copy(vals, img.F32[:n])
	}
	bins := make([]int32, 1<<16)
	stats.Histogram(vals, 0, 1, bins)
	min = stats.HistogramPercentile(bins, 0, 1, low)
	max = stats.HistogramPercentile(bins, 0, 1, high)
	// never clip the sky background: if the low percentile lands above the
	// histogram peak, anchor the black point at the peak instead
	if peak, _ := stats.HistogramPeak(bins, 0, 1); peak < min {
		min = peak
	}
	if max <= min {
		max = min + 1e-6
	}
	return min, max
}

// WriteJPGToFile writes an 8-bit JPEG preview of the raster, using the
// given min, max and gamma.
func WriteJPGToFile(img *stack.Image, fileName string, min, max, gamma float32, quality int) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	return WriteJPG(img, writer, min, max, gamma, quality)
}

// WriteJPG writes an 8-bit JPEG preview of the raster, using the given
// min, max and gamma. Mono rasters come out grayscale, three-channel
// rasters RGB.
func WriteJPG(img *stack.Image, writer io.Writer, min, max, gamma float32, quality int) error {
	width, height := img.Width, img.Height
	out := image.NewRGBA(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	scale := 1.0 / (max - min)
	gammaInv := float64(1.0 / gamma)
	for y := 0; y < height; y++ {
		row := height - 1 - y
		for x := 0; x < width; x++ {
			var r, g, b float32
			if img.Channels >= 3 {
				r = tonemap(img.At(0, x, row), min, scale, gammaInv, img.Type)
				g = tonemap(img.At(1, x, row), min, scale, gammaInv, img.Type)
				b = tonemap(img.At(2, x, row), min, scale, gammaInv, img.Type)
			} else {
				r = tonemap(img.At(0, x, row), min, scale, gammaInv, img.Type)
				g, b = r, r
			}
			out.SetRGBA(x, y, color.RGBA{uint8(r * 255), uint8(g * 255), uint8(b * 255), 255})
		}
	}
	return jpeg.Encode(writer, out, &jpeg.Options{Quality: quality})
}

// WriteFalseColorJPGToFile writes a false-color JPEG of a mono raster,
// mapping intensity onto a perceptually uniform blue-to-yellow HCL ramp.
// Useful for eyeballing gradients and rejection artifacts in deep stacks.
func WriteFalseColorJPGToFile(img *stack.Image, fileName string, min, max float32, quality int) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	return WriteFalseColorJPG(img, writer, min, max, quality)
}

func WriteFalseColorJPG(img *stack.Image, writer io.Writer, min, max float32, quality int) error {
	width, height := img.Width, img.Height
	out := image.NewRGBA(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	scale := 1.0 / (max - min)

	// 256-entry lookup, blending in HCL keeps lightness monotonic
	cold, _ := colorful.Hex("#2020c0")
	hot, _ := colorful.Hex("#e8d820")
	var lut [256]color.RGBA
	for i := range lut {
		c := cold.BlendHcl(hot, float64(i)/255).Clamped()
		r, g, b := c.RGB255()
		lut[i] = color.RGBA{r, g, b, 255}
	}

	for y := 0; y < height; y++ {
		row := height - 1 - y
		for x := 0; x < width; x++ {
			v := tonemap(img.At(0, x, row), min, scale, 1, img.Type)
			out.SetRGBA(x, y, lut[uint8(v*255)])
		}
	}
	return jpeg.Encode(writer, out, &jpeg.Options{Quality: quality})
}
