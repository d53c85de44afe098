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

// Package stack drives mean/median sequence stacking with statistical
// outlier rejection: it partitions the output raster into blocks, builds
// per-pixel stacks from shifted, normalized frame data, rejects outliers and
// aggregates the survivors into the output, in parallel under a memory
// budget.
package stack

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/stellarbit/seqstack/internal/blocks"
	"github.com/stellarbit/seqstack/internal/norm"
	"github.com/stellarbit/seqstack/internal/reject"
	"github.com/stellarbit/seqstack/internal/seqio"
)

// A sub-pixel registration shift aligning one frame with the reference frame
type Shift struct {
	X float32
	Y float32
}

// Params describe one stacking operation over an open sequence
type Params struct {
	Selection []int       // frame indices to stack; at least 2
	Reference int         // reference frame index; must be in Selection
	Shifts    [][]Shift   // registration shifts per (frame,channel); nil for none
	Upscale   int         // drizzle-style supersampling factor; 0 or 1 for none
	NormMode  norm.Mode   // normalization applied when building pixel stacks
	Coeffs    [][]norm.Coeff // normalization coefficients per (frame,channel); nil for identity
	Policy    reject.Policy
	Sig       reject.Thresholds
	Median    bool      // plain median stack instead of mean; requires Policy None
	Weighted  bool      // noise-weighted mean of the surviving raw values
	Weights   []float32 // per-frame weights, indexed like the sequence; required if Weighted
	Output    seqio.PixelType
}

// Per-channel rejection totals
type Clipped struct {
	Low  int64
	High int64
}

// Summary reports what a completed run did
type Summary struct {
	Frames  int
	Blocks  int
	Threads int
	Clipped []Clipped // per channel
}

type runState struct {
	ctx     *Context
	seq     seqio.Sequence
	p       *Params
	geom    seqio.Geometry
	up      int
	outW    int
	outH    int
	maxH    int
	img     *Image
	total   int
	wsel    []float32 // weights reordered by selection index
	clip    []clipCounter
	aborted atomic.Bool
	errMu   sync.Mutex
	err     error
	logMu   sync.Mutex
}

type clipCounter struct {
	low  atomic.Int64
	high atomic.Int64
}

func (rs *runState) fail(err error) {
	rs.errMu.Lock()
	if rs.err == nil {
		rs.err = err
	}
	rs.errMu.Unlock()
	rs.aborted.Store(true)
}

// Run stacks the selected frames of the sequence into one output raster.
// Either the whole aggregation succeeds and the full raster is returned, or
// the operation fails as a whole and no partial result is published.
func Run(c *Context, seq seqio.Sequence, p Params) (*Image, *Summary, error) {
	g := seq.Geometry()
	if err := validateParams(seq, &p); err != nil {
		return nil, nil, err
	}
	up := p.Upscale
	if up < 1 {
		up = 1
	}
	m := len(p.Selection)
	outW, outH := g.Width*up, g.Height*up

	// memory budget in output rows: every in-flight block row holds one
	// source-width slice per frame, plus an equally sized scratch share
	bytesPerRow := int64(m) * int64(g.Width) * 4 * 2
	budgetRows := int(int64(c.StackMemoryMB) * 1024 * 1024 / bytesPerRow)
	if budgetRows < 1 {
		return nil, nil, fmt.Errorf("%w: %d MiB cannot hold a single row of %d frames",
			ErrAllocation, c.StackMemoryMB, m)
	}
	threads := c.MaxThreads
	if threads < 1 {
		threads = 1
	}
	if threads > budgetRows {
		threads = budgetRows // shrink the pool to fit the budget
	}

	bs, err := blocks.Plan(outH, g.Channels, threads, budgetRows)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrGeneric, err.Error())
	}
	fmt.Fprintf(c.Log, "Stacking %d frames with %v rejection (sigma low %g high %g), "+
		"%v normalization, %d blocks on %d threads\n",
		m, p.Policy, p.Sig.Low, p.Sig.High, p.NormMode, len(bs), threads)

	rs := &runState{
		ctx:  c,
		seq:  seq,
		p:    &p,
		geom: g,
		up:   up,
		outW: outW,
		outH: outH,
		maxH: blocks.MaxHeight(bs),
		img:  newImage(outW, outH, g.Channels, p.Output),
		total: len(bs),
		clip: make([]clipCounter, g.Channels),
	}
	if p.Weighted {
		rs.wsel = make([]float32, m)
		for i, f := range p.Selection {
			rs.wsel[i] = p.Weights[f]
		}
	}
	c.progress.Store(0)

	// fixed worker pool over the block queue; blocks write to disjoint
	// raster regions, so workers need no synchronization beyond the
	// rejection counters
	jobs := make(chan blocks.Block)
	wg := sync.WaitGroup{}
	for t := 0; t < threads; t++ {
		w, err := newWorker(rs)
		if err != nil {
			close(jobs)
			return nil, nil, err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range jobs {
				if rs.aborted.Load() || c.Cancelled() {
					continue // drain remaining jobs after abort
				}
				if err := w.processBlock(b); err != nil {
					rs.fail(err)
				}
			}
		}()
	}
	for _, b := range bs {
		jobs <- b
	}
	close(jobs)
	wg.Wait()
	fmt.Fprintf(c.Log, "\r")

	if rs.err != nil {
		return nil, nil, rs.err
	}
	if c.Cancelled() {
		return nil, nil, ErrCancelled
	}

	sum := &Summary{Frames: m, Blocks: len(bs), Threads: threads, Clipped: make([]Clipped, g.Channels)}
	for ch := range rs.clip {
		sum.Clipped[ch] = Clipped{Low: rs.clip[ch].low.Load(), High: rs.clip[ch].high.Load()}
	}
	if p.Policy != reject.None {
		pixels := int64(outW) * int64(outH) * int64(m)
		for ch, cl := range sum.Clipped {
			fmt.Fprintf(c.Log, "Channel %d: clipped low %d (%.2f%%) high %d (%.2f%%)\n",
				ch, cl.Low, float64(cl.Low)*100/float64(pixels),
				cl.High, float64(cl.High)*100/float64(pixels))
		}
	}
	return rs.img, sum, nil
}

func validateParams(seq seqio.Sequence, p *Params) error {
	g := seq.Geometry()
	n := seq.Frames()
	if len(p.Selection) < 2 {
		return fmt.Errorf("%w: need at least 2 selected frames, have %d", ErrGeneric, len(p.Selection))
	}
	refSelected := false
	for _, f := range p.Selection {
		if f < 0 || f >= n {
			return fmt.Errorf("%w: selected frame %d out of range [0,%d)", ErrGeneric, f, n)
		}
		if f == p.Reference {
			refSelected = true
		}
	}
	if !refSelected {
		return fmt.Errorf("%w: reference frame %d is not selected", ErrGeneric, p.Reference)
	}
	if p.Median && p.Policy != reject.None {
		return fmt.Errorf("%w: median stacking cannot combine with %v rejection", ErrGeneric, p.Policy)
	}
	if p.Weighted && len(p.Weights) != n {
		return fmt.Errorf("%w: weighted stacking needs %d weights, have %d", ErrGeneric, n, len(p.Weights))
	}
	if p.Shifts != nil && len(p.Shifts) != n {
		return fmt.Errorf("%w: shift table covers %d frames, sequence has %d", ErrGeneric, len(p.Shifts), n)
	}
	if p.Coeffs != nil && len(p.Coeffs) != n {
		return fmt.Errorf("%w: normalization table covers %d frames, sequence has %d", ErrGeneric, len(p.Coeffs), n)
	}
	for f := 0; f < n && p.Shifts != nil; f++ {
		if len(p.Shifts[f]) != g.Channels {
			return fmt.Errorf("%w: frame %d has shifts for %d of %d channels", ErrGeneric, f, len(p.Shifts[f]), g.Channels)
		}
	}
	for f := 0; f < n && p.Coeffs != nil; f++ {
		if len(p.Coeffs[f]) != g.Channels {
			return fmt.Errorf("%w: frame %d has coefficients for %d of %d channels", ErrGeneric, f, len(p.Coeffs[f]), g.Channels)
		}
	}
	return nil
}

func (p *Params) shiftFor(frame, channel int) Shift {
	if p.Shifts == nil {
		return Shift{}
	}
	return p.Shifts[frame][channel]
}

func (p *Params) coeffFor(frame, channel int) norm.Coeff {
	if p.Coeffs == nil {
		return norm.Identity()
	}
	return p.Coeffs[frame][channel]
}
