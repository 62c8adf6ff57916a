package gucc

// Two-shot all-reduce: the tensor is split into ranks equal responsibility
// slices and rank r fully reduces slice r. Each element is moved and
// reduced exactly once per rank, at the price of a second barrier round;
// the right trade for large messages and higher rank counts.
//
// Phases: copy or wait for data -> input barrier -> reduce owned slice ->
// output barrier -> gather all slices.
//
// Staging layout:
//   - pull (default): each rank publishes its full tensor at offset 0 of
//     its own buffer; owners read their slice from every buffer at the
//     slice's offset, and write the reduced slice back over that offset in
//     their own buffer.
//   - push: each rank writes slice r of its tensor into region LocalRank
//     of rank r's buffer (regions are one slice long), so owners reduce
//     from purely local memory and write the result at offset 0.
//
// Block ranges are expressed within one slice; every loop below applies
// the block's [begin, end) word window to each rank-indexed slice.
func twoShotKernel[P packed[P]](p *Params, blk BlockID, lanes int, copyInput, push bool) {
	bidx := blk.BlockIdx.X
	wordsPerRank := p.eltsPerRank / lanes
	wordsPerBlock := p.eltsPerBlock / lanes
	rankBase := p.rankOffset / lanes

	begin := bidx * wordsPerBlock
	end := min(begin+wordsPerBlock, wordsPerRank)
	if begin > end {
		begin = end
	}

	in := words[P](p.LocalInput)
	out := words[P](p.LocalOutput)
	local := words[P](p.PeerBuffers[p.LocalRank])

	if copyInput {
		if push {
			for r := 0; r < p.Ranks; r++ {
				dst := words[P](p.PeerBuffers[r])
				srcBase := r * wordsPerRank
				dstBase := p.LocalRank * wordsPerRank
				copy(dst[dstBase+begin:dstBase+end], in[srcBase+begin:srcBase+end])
			}
		} else {
			for r := 0; r < p.Ranks; r++ {
				base := r * wordsPerRank
				copy(local[base+begin:base+end], in[base+begin:base+end])
			}
		}
		barrierBlock(&p.BarrierFlagsIn, p.LocalRank, p.Ranks, blk, p.BarrierFlag)
	} else {
		barrierAll(&p.BarrierFlagsIn, p.LocalRank, p.Ranks, blk, p.BarrierFlag)
	}

	// Reduce the slice this rank owns, in cyclic order from rank 0 so all
	// ranks round identically. The write-back overwrites only this rank's
	// own slice (pull) or region 0 of its own buffer (push); both ranges
	// are read by no peer until the output barrier.
	if push {
		for w := begin; w < end; w++ {
			acc := local[w]
			for r := 1; r < p.Ranks; r++ {
				acc = acc.add(local[r*wordsPerRank+w])
			}
			local[w] = acc
		}
	} else {
		var src [MaxRanks][]P
		for r := 0; r < p.Ranks; r++ {
			src[r] = words[P](p.PeerBuffers[r])
		}
		for w := begin; w < end; w++ {
			acc := src[0][rankBase+w]
			for r := 1; r < p.Ranks; r++ {
				acc = acc.add(src[r][rankBase+w])
			}
			local[rankBase+w] = acc
		}
	}

	barrierBlock(&p.BarrierFlagsOut, p.LocalRank, p.Ranks, blk, p.BarrierFlag)

	// Gather the finished slices round-robin from their owners.
	for r := 0; r < p.Ranks; r++ {
		src := words[P](p.PeerBuffers[r])
		srcBase := 0
		if !push {
			srcBase = r * wordsPerRank
		}
		dstBase := r * wordsPerRank
		copy(out[dstBase+begin:dstBase+end], src[srcBase+begin:srcBase+end])
	}
}
