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

package blocks

import (
	"errors"
	"fmt"
)

// ErrPartition marks an impossible or broken tiling. It signals a bug in the
// partitioner or a memory budget too small for even single-row blocks, not a
// runtime condition.
var ErrPartition = errors.New("block partition error")

// A Block is a contiguous, inclusive row range within one channel: the unit
// of parallel work distribution. Blocks never straddle channel boundaries.
type Block struct {
	Channel  int
	StartRow int
	EndRow   int // inclusive
}

func (b Block) Height() int { return b.EndRow - b.StartRow + 1 }

func (b Block) String() string {
	return fmt.Sprintf("channel %d rows [%d..%d]", b.Channel, b.StartRow, b.EndRow)
}

// MaxHeight returns the height of the tallest block
func MaxHeight(bs []Block) int {
	max := 0
	for _, b := range bs {
		if h := b.Height(); h > max {
			max = h
		}
	}
	return max
}

// Plan partitions the (rows x channels) space into blocks such that with
// threads blocks in flight at once, their combined height stays within
// budgetRows, and the block count divides well across threads and channels.
// The returned blocks exactly tile [0,rows) x [0,channels): no gaps, no
// overlaps.
func Plan(rows, channels, threads, budgetRows int) ([]Block, error) {
	if rows < 1 || channels < 1 || threads < 1 {
		return nil, fmt.Errorf("%w: invalid dimensions %d rows, %d channels, %d threads",
			ErrPartition, rows, channels, threads)
	}
	if budgetRows < threads {
		return nil, fmt.Errorf("%w: budget of %d rows cannot hold %d single-row blocks in flight",
			ErrPartition, budgetRows, threads)
	}

	// grow the block count until the average block fits the per-thread budget
	candidate := threads
	for budgetRows*candidate/threads < rows*channels {
		candidate++
	}

	// blocks must not straddle channel boundaries
	if r := candidate % channels; r != 0 {
		candidate += channels - r
	}

	// for larger thread counts, avoid a nearly idle final scheduling round:
	// block count modulo threads should be zero or close to threads
	if threads >= 4 {
		slack := threads / 4
		for i := 0; i < threads; i++ {
			m := candidate % threads
			if m == 0 || m >= threads-slack {
				break
			}
			candidate += channels
		}
	}

	perChannel := candidate / channels
	if perChannel > rows {
		perChannel = rows
	}
	// the tallest block is ceil(rows/perChannel) high; grow the count until
	// threads of those fit the budget
	for (rows+perChannel-1)/perChannel*threads > budgetRows && perChannel < rows {
		perChannel++
	}

	base := rows / perChannel
	rem := rows % perChannel

	// a tail smaller than 10% of a normal block merges into the last block
	// rather than spreading across the channel; otherwise the remainder rows
	// go to the earliest blocks, one extra row each
	mergeTail := rem > 0 && rem < (base+9)/10 && (base+rem)*threads <= budgetRows

	bs := make([]Block, 0, perChannel*channels)
	for ch := 0; ch < channels; ch++ {
		row := 0
		for i := 0; i < perChannel; i++ {
			h := base
			if mergeTail {
				if i == perChannel-1 {
					h += rem
				}
			} else if i < rem {
				h++
			}
			bs = append(bs, Block{Channel: ch, StartRow: row, EndRow: row + h - 1})
			row += h
		}
	}

	if err := validate(bs, rows, channels, threads, budgetRows); err != nil {
		return nil, err
	}
	return bs, nil
}

// validate checks the exact-tiling and memory invariants
func validate(bs []Block, rows, channels, threads, budgetRows int) error {
	next := make([]int, channels)
	for _, b := range bs {
		if b.Channel < 0 || b.Channel >= channels {
			return fmt.Errorf("%w: %v outside %d channels", ErrPartition, b, channels)
		}
		if b.StartRow != next[b.Channel] {
			return fmt.Errorf("%w: %v leaves gap or overlap at row %d", ErrPartition, b, next[b.Channel])
		}
		if b.EndRow < b.StartRow || b.EndRow >= rows {
			return fmt.Errorf("%w: %v has invalid row range", ErrPartition, b)
		}
		next[b.Channel] = b.EndRow + 1
	}
	for ch, n := range next {
		if n != rows {
			return fmt.Errorf("%w: channel %d covered to row %d of %d", ErrPartition, ch, n, rows)
		}
	}
	if h := MaxHeight(bs); h*threads > budgetRows {
		return fmt.Errorf("%w: tallest block of %d rows with %d threads exceeds budget of %d rows",
			ErrPartition, h, threads, budgetRows)
	}
	return nil
}
