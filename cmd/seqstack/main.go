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

package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/pprof"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stellarbit/seqstack/internal/job"
	"github.com/stellarbit/seqstack/internal/rest"
	"github.com/stellarbit/seqstack/internal/stack"
)

const version = "0.1.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var profile = flag.String("profile", "", "load job settings from YAML `file`; explicit flags override it")

var out        = flag.String("out", "out.fits", "save stacked output to FITS `file`")
var tiffOut    = flag.String("tiff", "", "save 16-bit TIFF rendition of the output to `file`")
var jpg        = flag.String("jpg", "%auto", "save 8-bit preview of the output as JPEG to `file`. `%auto` replaces suffix of output file with .jpg")
var falseColor = flag.String("falsecolor", "", "save false-color JPEG rendition of the first channel to `file`")
var gamma      = flag.Float64("gamma", 1, "apply output gamma to TIFF/JPEG renditions, 1: keep linear")
var quality    = flag.Int("quality", 95, "JPEG quality in [1,100]")

var normMode  = flag.String("norm", "additive+scaling", "normalization mode: none|additive|additive+scaling|multiplicative|multiplicative+scaling")
var policy    = flag.String("reject", "winsorized-sigma", "rejection policy: none|percentile|sigma|sigma-median|winsorized-sigma|linear-fit|gesdt")
var sigLow    = flag.Float64("sigLow", 3, "low rejection threshold; sigma multiple, or percentile deviation, or GESDT outlier fraction")
var sigHigh   = flag.Float64("sigHigh", 3, "high rejection threshold; sigma multiple, or percentile deviation, or GESDT significance alpha")
var median    = flag.Bool("median", false, "median stack instead of mean; forces rejection off")
var weighted  = flag.Bool("weighted", false, "weight frames by inverse noise variance")
var upscale   = flag.Int("upscale", 0, "integer output supersampling factor, 0 or 1: none")
var reference = flag.Int("ref", -1, "reference frame index for normalization, -1: pick lowest-noise frame")

var threads  = flag.Int("threads", 0, "maximum worker threads, 0: number of CPUs")
var stMemory = flag.Int("stMemory", 0, "MiB of memory to use for stacking working sets, 0: 70% of physical memory")

var httpAddr = flag.String("http", ":8080", "listen `address` for the serve command")
var chroot   = flag.String("chroot", "", "serve command: change the filesystem root to `dir` before listening (requires root)")
var setuid   = flag.Int("setuid", -1, "serve command: drop to this user `id` before listening, -1: keep")

func main() {
	logWriter := os.Stdout
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(logWriter, `Seqstack %s
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (stats|stack|serve|version|legal) (img0.fits ... imgn.fits | video.ser)

Commands:
  stats   Show per-frame sequence statistics
  stack   Stack the input sequence
  serve   Serve the stacking API over HTTP
  version Show version information
  legal   Show licensing information

Flags:
`, version, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *jpg == "%auto" {
		if *out != "" {
			*jpg = strings.TrimSuffix(*out, filepath.Ext(*out)) + ".jpg"
		} else {
			*jpg = ""
		}
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Fprintf(logWriter, "Could not create CPU profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(logWriter, "Could not start CPU profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer pprof.StopCPUProfile()
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}
	cmd, files := args[0], args[1:]

	switch cmd {
	case "version":
		fmt.Fprintf(logWriter, "Seqstack version %s\n", version)
		return
	case "legal":
		fmt.Fprint(logWriter, legal)
		return
	case "help", "?":
		flag.Usage()
		return
	case "serve":
		if err := rest.Sandbox(*chroot, *setuid); err != nil {
			fmt.Fprintf(logWriter, "error: %s\n", err.Error())
			os.Exit(-1)
		}
		if err := rest.Serve(*httpAddr); err != nil {
			fmt.Fprintf(logWriter, "error: %s\n", err.Error())
			os.Exit(-1)
		}
		return
	case "stats", "stack":
		// handled below
	default:
		fmt.Fprintf(logWriter, "Unknown command %q\n\n", cmd)
		flag.Usage()
		os.Exit(-1)
	}

	j, err := buildJob(files)
	if err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		os.Exit(-1)
	}

	ctx := stack.NewContext(logWriter)
	if *threads > 0 {
		ctx.MaxThreads = *threads
	}
	if *stMemory > 0 {
		ctx.StackMemoryMB = *stMemory
	}
	fmt.Fprintf(logWriter, "Using %d MiB of %d MiB physical memory, up to %d threads\n",
		ctx.StackMemoryMB, ctx.MemoryMB, ctx.MaxThreads)

	switch cmd {
	case "stats":
		err = runStats(ctx, j)
	case "stack":
		_, _, err = j.Run(ctx)
	}
	if err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		os.Exit(-1)
	}

	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			fmt.Fprintf(logWriter, "Could not create memory profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer f.Close()
		if err := pprof.WriteHeapProfile(f); err != nil {
			fmt.Fprintf(logWriter, "Could not write memory profile: %s\n", err.Error())
			os.Exit(-1)
		}
	}

	fmt.Fprintf(logWriter, "Done after %v\n", time.Since(start))
}

// buildJob assembles the job from the optional YAML profile and the flags.
// Flags given explicitly on the command line override profile settings.
func buildJob(files []string) (*job.Job, error) {
	j := job.NewJob()
	if *profile != "" {
		data, err := os.ReadFile(*profile)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, j); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", *profile, err)
		}
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	override := func(name string, apply func()) {
		if *profile == "" || set[name] {
			apply()
		}
	}
	override("norm", func() { j.Normalize = *normMode })
	override("reject", func() { j.Policy = *policy })
	override("sigLow", func() { j.SigmaLow = float32(*sigLow) })
	override("sigHigh", func() { j.SigmaHigh = float32(*sigHigh) })
	override("median", func() { j.Median = *median })
	override("weighted", func() { j.Weighted = *weighted })
	override("upscale", func() { j.Upscale = *upscale })
	override("ref", func() { j.Reference = *reference })
	override("out", func() { j.OutFITS = *out })
	override("tiff", func() { j.OutTIFF = *tiffOut })
	override("jpg", func() { j.OutJPG = *jpg })
	override("falsecolor", func() { j.OutFalseColor = *falseColor })
	override("gamma", func() { j.Gamma = float32(*gamma) })
	override("quality", func() { j.JpgQuality = *quality })

	// median stacking forces rejection off, unless a policy was asked for
	// explicitly; that conflict is surfaced as an error downstream
	if j.Median && !set["reject"] {
		j.Policy = "none"
	}

	if len(files) > 0 {
		j.FilePatterns = files
	}
	if len(j.FilePatterns) == 0 {
		return nil, fmt.Errorf("no input files given")
	}
	return j, nil
}

func runStats(ctx *stack.Context, j *job.Job) error {
	seq, err := job.OpenSequence(j.FilePatterns)
	if err != nil {
		return err
	}
	defer seq.Close()

	fmt.Fprintf(ctx.Log, "Sequence of %d frames, %v %v\n", seq.Frames(), seq.Geometry(), seq.PixelType())
	st, err := job.FrameStats(seq)
	if err != nil {
		return err
	}
	for i, fs := range st {
		for ch, s := range fs {
			fmt.Fprintf(ctx.Log, "%3d[%d]: %v\n", i, ch, s)
		}
	}
	return nil
}
