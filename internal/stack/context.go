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
	"errors"
	"io"
	"runtime"
	"sync/atomic"

	"github.com/pbnjay/memory"
)

var (
	// ErrAllocation marks a working set that cannot fit the memory budget
	ErrAllocation = errors.New("allocation error")
	// ErrCancelled is returned when the caller requested a stop; the output
	// raster is discarded
	ErrCancelled = errors.New("stacking cancelled")
	// ErrGeneric marks invariant violations that signal a bug, not a
	// runtime condition
	ErrGeneric = errors.New("stacking error")
)

// A Context carries the execution environment for a stacking run: log sink,
// memory budget, thread limit, the cancellation flag and the progress
// counter. It replaces any global state; every worker references the same
// Context.
type Context struct {
	Log           io.Writer
	MemoryMB      int // total physical memory
	StackMemoryMB int // portion available for stacking working sets
	MaxThreads    int

	cancelled atomic.Bool
	progress  atomic.Int64 // blocks completed in the current run
}

// NewContext sizes a context from physical memory, reserving 70% of RAM for
// stacking working sets.
func NewContext(log io.Writer) *Context {
	memoryMB := int(memory.TotalMemory() / 1024 / 1024)
	return &Context{
		Log:           log,
		MemoryMB:      memoryMB,
		StackMemoryMB: memoryMB * 7 / 10,
		MaxThreads:    runtime.GOMAXPROCS(0),
	}
}

// Cancel requests an early stop. In-flight block loops observe the flag at
// their next row boundary and abort; Run returns ErrCancelled.
func (c *Context) Cancel() { c.cancelled.Store(true) }

// Cancelled reports whether a stop was requested
func (c *Context) Cancelled() bool { return c.cancelled.Load() }

// Progress returns the number of blocks completed in the current run
func (c *Context) Progress() int64 { return c.progress.Load() }
