// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gucc implements node-local collective reduction for GUDA-style
// devices: it sums a tensor element-wise across all ranks on a node and
// leaves the full result in every rank's local output buffer.
//
// The engine works entirely in peer-visible device memory. Ranks publish
// their contributions into per-rank staging buffers, synchronize through
// raw barrier-flag words, and reduce with packed 128-bit loads and stores.
// No host round-trip happens between kernel launch and completion.
//
// Two algorithms are provided:
//   - OneShot: one barrier round, every rank reads every peer's copy of its
//     slice. Best for small messages and low rank counts.
//   - TwoShot: each rank reduces only the slice it owns, then all ranks
//     gather the finished slices. Two barrier rounds, but each element is
//     moved and reduced exactly once per rank. Best for large messages.
//
// Example usage:
//
//	ws, _ := gucc.NewWorkspace(ranks, tensorBytes)
//	defer ws.Free()
//
//	flag := ws.NextFlag()
//	for r := 0; r < ranks; r++ {
//		p, _ := ws.ParamsFor(r, input[r], output[r], elts, flag)
//		gucc.AllReduce(streams[r], gucc.Float32, gucc.OneShot, gucc.ModeDefault, p)
//	}
//	for _, s := range streams {
//		s.Synchronize()
//	}
//
// A hung peer blocks the collective forever: the barrier primitives spin
// with no timeout. Detecting stuck ranks is a deployment concern (external
// watchdog), not something this package attempts.
package gucc
