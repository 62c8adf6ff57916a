// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command ccbench measures node-local all-reduce throughput across rank
// counts, element types, algorithms and staging modes.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/x448/float16"

	"github.com/LynnColeArt/gucc"
)

func main() {
	var (
		ranks = flag.Int("ranks", 4, "Node-local rank count (2, 4, 6 or 8)")
		elts  = flag.Int("elts", 1<<20, "Tensor length in elements")
		dtype = flag.String("dtype", "float32", "Element type: float32 or float16")
		algo  = flag.String("algo", "auto", "Algorithm: oneshot, twoshot or auto")
		push  = flag.Bool("push", false, "Push contributions into peers' staging slots")
		iters = flag.Int("iters", 50, "Timed iterations")
	)
	flag.Parse()

	var dt gucc.DType
	switch *dtype {
	case "float32":
		dt = gucc.Float32
	case "float16":
		dt = gucc.Float16
	default:
		log.Fatalf("unknown dtype %q", *dtype)
	}

	var al gucc.Algorithm
	switch *algo {
	case "oneshot":
		al = gucc.OneShot
	case "twoshot":
		al = gucc.TwoShot
	case "auto":
		al = gucc.SelectAlgorithm(dt, *elts, *ranks)
	default:
		log.Fatalf("unknown algorithm %q", *algo)
	}

	mode := gucc.ModeDefault
	if *push {
		mode |= gucc.ModePush
	}

	tensorBytes := *elts * dt.Size()
	fmt.Printf("=== gucc all-reduce bench ===\n")
	fmt.Printf("ranks=%d dtype=%s algo=%s push=%v elts=%d (%s per rank)\n",
		*ranks, dt, al, *push, *elts, humanize.IBytes(uint64(tensorBytes)))

	ws, err := gucc.NewWorkspace(*ranks, tensorBytes)
	if err != nil {
		log.Fatalf("workspace: %v", err)
	}
	defer ws.Free()

	streams := make([]*gucc.Stream, *ranks)
	inputs := make([]gucc.DevicePtr, *ranks)
	outputs := make([]gucc.DevicePtr, *ranks)
	for r := 0; r < *ranks; r++ {
		streams[r] = gucc.NewStream()
		if inputs[r], err = gucc.Malloc(tensorBytes); err != nil {
			log.Fatalf("malloc: %v", err)
		}
		if outputs[r], err = gucc.Malloc(tensorBytes); err != nil {
			log.Fatalf("malloc: %v", err)
		}
		fill(inputs[r], dt, float32(r+1))
	}

	run := func() {
		epoch := ws.NextFlag()
		for r := 0; r < *ranks; r++ {
			p, err := ws.ParamsFor(r, inputs[r], outputs[r], *elts, epoch)
			if err != nil {
				log.Fatalf("params: %v", err)
			}
			if err := gucc.AllReduce(streams[r], dt, al, mode, p); err != nil {
				log.Fatalf("all-reduce: %v", err)
			}
		}
		for _, s := range streams {
			s.Synchronize()
		}
	}

	// Warmup and sanity check: sum of 1..ranks everywhere.
	run()
	want := float32(*ranks * (*ranks + 1) / 2)
	for r := 0; r < *ranks; r++ {
		if got := first(outputs[r], dt); got != want {
			log.Fatalf("rank %d: got %v, want %v", r, got, want)
		}
	}

	start := time.Now()
	for i := 0; i < *iters; i++ {
		run()
	}
	elapsed := time.Since(start)

	perOp := elapsed / time.Duration(*iters)
	// Every rank reads ranks copies (one-shot) or ~2 copies (two-shot) of
	// the tensor; report simple algorithmic bandwidth per rank.
	bw := float64(tensorBytes) / perOp.Seconds()
	fmt.Printf("%d iterations, %v per collective, %s/s per rank\n",
		*iters, perOp, humanize.IBytes(uint64(bw)))
}

func fill(d gucc.DevicePtr, dt gucc.DType, v float32) {
	switch dt {
	case gucc.Float32:
		f := d.Float32()
		for i := range f {
			f[i] = v
		}
	case gucc.Float16:
		f := d.Float16()
		h := float16.Fromfloat32(v)
		for i := range f {
			f[i] = h
		}
	}
}

func first(d gucc.DevicePtr, dt gucc.DType) float32 {
	switch dt {
	case gucc.Float32:
		return d.Float32()[0]
	case gucc.Float16:
		return d.Float16()[0].Float32()
	}
	return 0
}
