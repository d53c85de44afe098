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

// Package rest serves stacking jobs over HTTP for server-local sequences.
package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stellarbit/seqstack/internal/job"
	"github.com/stellarbit/seqstack/internal/stack"
)

// Serve starts the HTTP API. addr is a listen address like ":8080".
func Serve(addr string) error {
	return newRouter().Run(addr)
}

func newRouter() *gin.Engine {
	r := gin.Default()
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.POST("/stats", postStats)
			v1.POST("/stack", postStack)
		}
	}
	return r
}

func getPing(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

type postStatsArgs struct {
	FilePatterns []string `json:"filePatterns"`
}

// postStats streams per-frame statistics for a sequence as plain text
func postStats(c *gin.Context) {
	logWriter := c.Writer
	var args postStatsArgs
	if err := c.ShouldBind(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	logWriter.Header().Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)

	if err := printArgs(logWriter, "Arguments:\n", "\n", args); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	seq, err := job.OpenSequence(args.FilePatterns)
	if err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		return
	}
	defer seq.Close()

	st, err := job.FrameStats(seq)
	if err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		return
	}
	for i, fs := range st {
		for ch, s := range fs {
			fmt.Fprintf(logWriter, "%3d[%d]: %v\n", i, ch, s)
		}
	}
	logWriter.(http.Flusher).Flush()
}

// postStack runs a full stacking job and streams its log as plain text
func postStack(c *gin.Context) {
	logWriter := c.Writer
	args := *job.NewJob()
	if err := c.ShouldBind(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	logWriter.Header().Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)

	if err := printArgs(logWriter, "Arguments:\n", "\n", args); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	ctx := stack.NewContext(logWriter)
	_, summary, err := args.Run(ctx)
	if err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	} else {
		fmt.Fprintf(logWriter, "Stacked %d frames in %d blocks on %d threads\n",
			summary.Frames, summary.Blocks, summary.Threads)
	}
	logWriter.(http.Flusher).Flush()
}
