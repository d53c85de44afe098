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

// Package job ties the sequence readers, the statistics and normalization
// steps, the stacking driver and the output writers into one runnable unit,
// shared by the command line and the REST endpoint.
package job

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/stellarbit/seqstack/internal/norm"
	"github.com/stellarbit/seqstack/internal/reject"
	"github.com/stellarbit/seqstack/internal/render"
	"github.com/stellarbit/seqstack/internal/seqio"
	"github.com/stellarbit/seqstack/internal/stack"
	"github.com/stellarbit/seqstack/internal/stats"
)

// A Job describes one stacking run end to end. The field tags serve both
// the YAML profile file and the JSON REST body.
type Job struct {
	FilePatterns []string `json:"filePatterns"        yaml:"filePatterns"` // FITS file globs, or one .ser path

	Normalize string  `json:"normalize,omitempty" yaml:"normalize"` // none|additive|additive+scaling|multiplicative|multiplicative+scaling
	Policy    string  `json:"policy,omitempty"    yaml:"policy"`    // none|percentile|sigma|sigma-median|winsorized-sigma|linear-fit|gesdt
	SigmaLow  float32 `json:"sigmaLow,omitempty"  yaml:"sigmaLow"`
	SigmaHigh float32 `json:"sigmaHigh,omitempty" yaml:"sigmaHigh"`
	Median    bool    `json:"median,omitempty"    yaml:"median"`
	Weighted  bool    `json:"weighted,omitempty"  yaml:"weighted"`
	Upscale   int     `json:"upscale,omitempty"   yaml:"upscale"`
	Reference int     `json:"reference"           yaml:"reference"` // frame index; -1 picks the lowest-noise frame

	OutFITS       string  `json:"outFits,omitempty"       yaml:"outFits"`
	OutTIFF       string  `json:"outTiff,omitempty"       yaml:"outTiff"`
	OutJPG        string  `json:"outJpg,omitempty"        yaml:"outJpg"`
	OutFalseColor string  `json:"outFalseColor,omitempty" yaml:"outFalseColor"`
	Gamma         float32 `json:"gamma,omitempty"         yaml:"gamma"`
	JpgQuality    int     `json:"jpgQuality,omitempty"    yaml:"jpgQuality"`
}

// NewJob returns a job with the usual deep-sky defaults: winsorized sigma
// clipping at 3 sigma with additive+scaling normalization.
func NewJob() *Job {
	return &Job{
		Normalize:  "additive+scaling",
		Policy:     "winsorized-sigma",
		SigmaLow:   3,
		SigmaHigh:  3,
		Reference:  -1,
		Gamma:      1,
		JpgQuality: 95,
	}
}

// Run opens the sequence, computes per-frame statistics and normalization,
// stacks, and writes the requested outputs.
func (j *Job) Run(c *stack.Context) (*stack.Image, *stack.Summary, error) {
	seq, err := OpenSequence(j.FilePatterns)
	if err != nil {
		return nil, nil, err
	}
	defer seq.Close()

	img, summary, err := j.RunSequence(c, seq)
	if err != nil {
		return nil, nil, err
	}
	if err := j.WriteOutputs(c, img); err != nil {
		return nil, nil, err
	}
	return img, summary, nil
}

// RunSequence stacks an already open sequence without writing outputs
func (j *Job) RunSequence(c *stack.Context, seq seqio.Sequence) (*stack.Image, *stack.Summary, error) {
	mode, err := norm.ParseMode(j.Normalize)
	if err != nil {
		return nil, nil, err
	}
	policy, err := reject.ParsePolicy(j.Policy)
	if err != nil {
		return nil, nil, err
	}

	frames := seq.Frames()
	geom := seq.Geometry()
	fmt.Fprintf(c.Log, "Stacking %d frames of %v %v\n", frames, geom, seq.PixelType())

	st, err := FrameStats(seq)
	if err != nil {
		return nil, nil, err
	}
	for i, fs := range st {
		fmt.Fprintf(c.Log, "%3d: %v\n", i, fs[0])
	}

	ref := j.Reference
	if ref < 0 {
		ref = bestReference(st)
		fmt.Fprintf(c.Log, "Using frame %d as reference (lowest noise)\n", ref)
	}
	if ref >= frames {
		return nil, nil, fmt.Errorf("reference frame %d out of range", ref)
	}

	p := stack.Params{
		Selection: identity(frames),
		Reference: ref,
		Upscale:   j.Upscale,
		NormMode:  mode,
		Policy:    policy,
		Sig:       reject.Thresholds{Low: j.SigmaLow, High: j.SigmaHigh},
		Median:    j.Median,
		Weighted:  j.Weighted,
		Output:    seq.PixelType(),
	}
	if mode != norm.None {
		p.Coeffs, err = norm.Compute(mode, st, ref)
		if err != nil {
			return nil, nil, err
		}
	}
	if j.Weighted {
		wc := p.Coeffs
		if wc == nil {
			if wc, err = norm.Compute(norm.None, st, ref); err != nil {
				return nil, nil, err
			}
		}
		p.Weights, err = norm.Weights(st, wc)
		if err != nil {
			return nil, nil, err
		}
	}

	return stack.Run(c, seq, p)
}

// WriteOutputs renders the stacked raster to every requested file
func (j *Job) WriteOutputs(c *stack.Context, img *stack.Image) error {
	if j.OutFITS != "" {
		fmt.Fprintf(c.Log, "Writing FITS to %s\n", j.OutFITS)
		if err := render.WriteFITSToFile(img, j.OutFITS); err != nil {
			return err
		}
	}
	gamma := j.Gamma
	if gamma == 0 {
		gamma = 1
	}
	quality := j.JpgQuality
	if quality == 0 {
		quality = 95
	}
	if j.OutTIFF == "" && j.OutJPG == "" && j.OutFalseColor == "" {
		return nil
	}
	min, max := render.AutoStretch(img, 0.01, 0.999)
	fmt.Fprintf(c.Log, "Display stretch [%.6g, %.6g]\n", min, max)
	if j.OutTIFF != "" {
		fmt.Fprintf(c.Log, "Writing TIFF to %s\n", j.OutTIFF)
		if err := render.WriteTIFF16ToFile(img, j.OutTIFF, min, max, gamma); err != nil {
			return err
		}
	}
	if j.OutJPG != "" {
		fmt.Fprintf(c.Log, "Writing JPEG to %s\n", j.OutJPG)
		if err := render.WriteJPGToFile(img, j.OutJPG, min, max, gamma, quality); err != nil {
			return err
		}
	}
	if j.OutFalseColor != "" {
		fmt.Fprintf(c.Log, "Writing false-color JPEG to %s\n", j.OutFalseColor)
		if err := render.WriteFalseColorJPGToFile(img, j.OutFalseColor, min, max, quality); err != nil {
			return err
		}
	}
	return nil
}

// OpenSequence globs the patterns and opens the matching sequence backend:
// a single .ser file, or a sorted list of FITS frames.
func OpenSequence(patterns []string) (seqio.Sequence, error) {
	var names []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: bad pattern %q: %s", seqio.ErrSequence, pattern, err)
		}
		names = append(names, matches...)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no files match %v", seqio.ErrSequence, patterns)
	}
	sort.Strings(names)

	if len(names) == 1 && strings.EqualFold(filepath.Ext(names[0]), ".ser") {
		return seqio.OpenSERSequence(names[0])
	}
	return seqio.OpenFITSSequence(names)
}

// FrameStats reads every frame once per channel and computes its statistics
func FrameStats(seq seqio.Sequence) ([][]*stats.Stats, error) {
	geom := seq.Geometry()
	buf := make([]float32, geom.Height*geom.Width)
	st := make([][]*stats.Stats, seq.Frames())
	for i := range st {
		st[i] = make([]*stats.Stats, geom.Channels)
		for ch := 0; ch < geom.Channels; ch++ {
			if err := seq.ReadRegion(i, ch, 0, geom.Height, buf); err != nil {
				return nil, err
			}
			st[i][ch] = stats.Calc(buf)
		}
	}
	return st, nil
}

// bestReference picks the frame with the lowest noise estimate averaged
// over channels
func bestReference(st [][]*stats.Stats) int {
	best, bestNoise := 0, float32(0)
	for i, fs := range st {
		var noise float32
		for _, s := range fs {
			noise += s.Noise
		}
		noise /= float32(len(fs))
		if i == 0 || noise < bestNoise {
			best, bestNoise = i, noise
		}
	}
	return best
}

func identity(n int) []int {
	sel := make([]int, n)
	for i := range sel {
		sel[i] = i
	}
	return sel
}
