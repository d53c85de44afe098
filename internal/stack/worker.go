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

package stack

import (
	"fmt"
	"math"

	"github.com/stellarbit/seqstack/internal/blocks"
	"github.com/stellarbit/seqstack/internal/qsort"
	"github.com/stellarbit/seqstack/internal/reject"
)

// A pool worker. Owns the per-thread working buffers, which are allocated
// once and reused across all blocks assigned to this worker.
type worker struct {
	rs  *runState
	rej *reject.Rejector

	pix     []float32 // loaded frame rows: frame-major, maxH rows of source width each
	stride  int       // per-frame stride within pix
	srcBuf  []float32 // contiguous source rows for one frame load
	srcRows []int     // output row -> source row map, -1 when shifted out
	rsx     []int     // rounded horizontal shift per selected frame
	rsy     []int     // rounded vertical shift per selected frame

	stackBuf []float32 // normalized stack, selection order, untouched by rejection
	rawBuf   []float32 // unnormalized stack, selection order
	rejBuf   []float32 // rejection working copy, compacted in place
	medBuf   []float32 // median fallback scratch
}

func newWorker(rs *runState) (*worker, error) {
	m := len(rs.p.Selection)
	rej, err := reject.New(rs.p.Policy, rs.p.Sig, m)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrGeneric, err.Error())
	}
	w := rs.geom.Width
	return &worker{
		rs:       rs,
		rej:      rej,
		pix:      make([]float32, m*rs.maxH*w),
		stride:   rs.maxH * w,
		srcBuf:   make([]float32, (rs.maxH+1)*w),
		srcRows:  make([]int, rs.maxH),
		rsx:      make([]int, m),
		rsy:      make([]int, m),
		stackBuf: make([]float32, m),
		rawBuf:   make([]float32, m),
		rejBuf:   make([]float32, m),
		medBuf:   make([]float32, 0, m),
	}, nil
}

// processBlock loads all frames' data for one block, then rejects and
// aggregates every pixel position, writing into the block's disjoint region
// of the output raster.
func (w *worker) processBlock(b blocks.Block) error {
	rs := w.rs
	p := rs.p
	g := rs.geom
	m := len(p.Selection)
	mode := p.NormMode
	srcType := rs.seq.PixelType()

	for i, f := range p.Selection {
		sh := p.shiftFor(f, b.Channel)
		w.rsx[i] = int(math.Round(float64(sh.X) * float64(rs.up)))
		w.rsy[i] = int(math.Round(float64(sh.Y) * float64(rs.up)))
		if err := w.loadFrame(i, f, b); err != nil {
			return err
		}
	}

	srcW := g.Width
	upW := srcW * rs.up
	var clipLow, clipHigh int64
	for y := b.StartRow; y <= b.EndRow; y++ {
		if rs.aborted.Load() || rs.ctx.Cancelled() {
			return nil // abort observed; Run picks the error or cancellation
		}
		yi := y - b.StartRow
		for x := 0; x < rs.outW; x++ {
			// build the pixel stack across all frames
			for i := 0; i < m; i++ {
				sx := x - w.rsx[i]
				var v float32
				if sx >= 0 && sx < upW {
					v = w.pix[i*w.stride+yi*srcW+sx/rs.up]
				}
				w.rawBuf[i] = v
				w.stackBuf[i] = p.coeffFor(p.Selection[i], b.Channel).Apply(mode, v)
			}

			copy(w.rejBuf, w.stackBuf)
			o := w.rej.Reject(w.rejBuf)
			clipLow += int64(o.Low)
			clipHigh += int64(o.High)

			rs.img.set(b.Channel, x, rs.outH-1-y, w.aggregate(o), srcType)
		}
	}

	rs.clip[b.Channel].low.Add(clipLow)
	rs.clip[b.Channel].high.Add(clipHigh)

	done := rs.ctx.progress.Add(1)
	rs.logMu.Lock()
	fmt.Fprintf(rs.ctx.Log, "\r%d%%", done*100/int64(rs.total))
	rs.logMu.Unlock()
	return nil
}

// loadFrame fills this worker's pix sub-buffer for one frame and block,
// applying the vertical registration shift. Rows shifted outside the frame
// are zero-filled; the frame source is only asked for in-bounds rows, and
// not called at all when the whole block falls outside.
func (w *worker) loadFrame(i, frame int, b blocks.Block) error {
	rs := w.rs
	g := rs.geom
	srcW := g.Width
	h := b.Height()
	rsy := w.rsy[i]
	dst := w.pix[i*w.stride : i*w.stride+h*srcW]

	minSrc, maxSrc := -1, -1
	for yi := 0; yi < h; yi++ {
		sy := b.StartRow + yi - rsy
		src := -1
		if sy >= 0 && sy < g.Height*rs.up {
			src = sy / rs.up
		}
		w.srcRows[yi] = src
		if src >= 0 {
			if minSrc < 0 || src < minSrc {
				minSrc = src
			}
			if src > maxSrc {
				maxSrc = src
			}
		}
	}

	if minSrc < 0 {
		for j := range dst {
			dst[j] = 0
		}
		return nil
	}

	n := maxSrc - minSrc + 1
	buf := w.srcBuf[:n*srcW]
	if err := rs.seq.ReadRegion(frame, b.Channel, minSrc, n, buf); err != nil {
		return err
	}
	for yi := 0; yi < h; yi++ {
		row := dst[yi*srcW : (yi+1)*srcW]
		if src := w.srcRows[yi]; src < 0 {
			for j := range row {
				row[j] = 0
			}
		} else {
			copy(row, buf[(src-minSrc)*srcW:(src-minSrc+1)*srcW])
		}
	}
	return nil
}

// aggregate reduces one rejected pixel stack to the output value
func (w *worker) aggregate(o reject.Outcome) float64 {
	p := w.rs.p
	if p.Median {
		return float64(qsort.Median(w.rejBuf[:o.Kept]))
	}
	if o.Kept == 0 {
		// odd edge case; fall back to the median of the pre-rejection stack
		return float64(reject.SortedMedian(w.stackBuf, w.medBuf))
	}
	if p.Weighted {
		// weight the surviving frames' raw values, coupling inclusion to
		// the rejection bounds on the normalized values
		sum, ws := float64(0), float64(0)
		for i, nv := range w.stackBuf {
			if nv >= o.Min && nv <= o.Max {
				wi := float64(w.rs.wsel[i])
				sum += wi * float64(w.rawBuf[i])
				ws += wi
			}
		}
		if ws > 0 {
			return sum / ws
		}
		return float64(reject.SortedMedian(w.stackBuf, w.medBuf))
	}
	sum := float64(0)
	for _, v := range w.rejBuf[:o.Kept] {
		sum += float64(v)
	}
	return sum / float64(o.Kept)
}
