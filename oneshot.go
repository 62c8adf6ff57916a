package gucc

// One-shot all-reduce: every rank publishes its full contribution, one
// barrier round, then every block reads its slice from all ranks' staging
// and sums locally. O(ranks) peer reads per element, one barrier round;
// the right trade for small messages and low rank counts.
//
// Phases: copy or wait for data -> input barrier -> reduce and write.
//
// Staging layout:
//   - pull (default): rank r's buffer holds rank r's tensor at offset 0;
//     the reduce loop reads one word from each peer buffer.
//   - push: every buffer is split into ranks regions of one tensor each;
//     rank r writes its tensor into region r of every buffer, and the
//     reduce loop reads only the local buffer.
//
// Summation always walks ranks 0..N-1 regardless of the executing rank, so
// every rank rounds in the same order and all outputs are bit-identical.
func oneShotKernel[P packed[P]](p *Params, blk BlockID, lanes int, copyInput, push bool) {
	bidx := blk.BlockIdx.X
	wordsTotal := p.EltsTotal / lanes
	wordsPerBlock := p.eltsPerBlock / lanes

	begin := bidx * wordsPerBlock
	end := min(begin+wordsPerBlock, wordsTotal)
	if begin > end {
		begin = end
	}

	in := words[P](p.LocalInput)
	out := words[P](p.LocalOutput)

	if copyInput {
		if push {
			for r := 0; r < p.Ranks; r++ {
				dst := words[P](p.PeerBuffers[r])
				base := p.LocalRank * wordsTotal
				copy(dst[base+begin:base+end], in[begin:end])
			}
		} else {
			dst := words[P](p.PeerBuffers[p.LocalRank])
			copy(dst[begin:end], in[begin:end])
		}
		// Peers read exactly the words our counterpart blocks staged, so
		// arrival must be confirmed per block.
		barrierBlock(&p.BarrierFlagsIn, p.LocalRank, p.Ranks, blk, p.BarrierFlag)
	} else {
		// Caller asserts the data is already staged; rank-level arrival
		// is enough.
		barrierAll(&p.BarrierFlagsIn, p.LocalRank, p.Ranks, blk, p.BarrierFlag)
	}

	if push {
		local := words[P](p.PeerBuffers[p.LocalRank])
		for w := begin; w < end; w++ {
			acc := local[w]
			for r := 1; r < p.Ranks; r++ {
				acc = acc.add(local[r*wordsTotal+w])
			}
			out[w] = acc
		}
	} else {
		var src [MaxRanks][]P
		for r := 0; r < p.Ranks; r++ {
			src[r] = words[P](p.PeerBuffers[r])
		}
		for w := begin; w < end; w++ {
			acc := src[0][w]
			for r := 1; r < p.Ranks; r++ {
				acc = acc.add(src[r][w])
			}
			out[w] = acc
		}
	}
}
