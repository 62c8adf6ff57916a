package gucc

import "fmt"

// launchConfig is the kernel launch geometry produced for one invocation.
type launchConfig struct {
	grid  Dim3
	block Dim3
}

func divUp(a, b int) int {
	return (a + b - 1) / b
}

func roundUp(a, b int) int {
	return divUp(a, b) * b
}

// oneShotConfig computes the launch geometry for the one-shot kernel and
// fills the derived partition fields of p. Each thread handles one packed
// word; lanes is the element count of a word for the active type.
func oneShotConfig(p *Params, lanes int) (launchConfig, error) {
	const op = "AllReduce"
	if p.EltsTotal%lanes != 0 {
		return launchConfig{}, NewConfigError(op, fmt.Sprintf(
			"element count %d not divisible by packed width %d (one-shot)", p.EltsTotal, lanes))
	}

	totalThreads := roundUp(p.EltsTotal/lanes, WarpSize)
	threads := totalThreads
	if threads > DefaultBlockSize {
		threads = DefaultBlockSize
	}
	blocks := divUp(totalThreads, threads)
	if blocks > MaxReduceBlocks {
		blocks = MaxReduceBlocks
	}

	p.eltsPerBlock = roundUp(divUp(p.EltsTotal, blocks), lanes)
	p.eltsPerRank = 0
	p.rankOffset = 0

	return launchConfig{
		grid:  Dim3{X: blocks, Y: 1, Z: 1},
		block: Dim3{X: threads, Y: 1, Z: 1},
	}, nil
}

// twoShotConfig computes the launch geometry for the two-shot kernel.
// The grid must divide the thread count evenly: two-shot blocks write
// disjoint sub-ranges of the responsibility slice back into staging, so a
// ragged last block would corrupt a peer's gather range. The search first
// grows the block count until it divides evenly within the block-size cap,
// then if over the grid cap shrinks it along a divisor. Any divisor of the
// thread count inside both caps is acceptable; this search is a fitting
// compromise, not an optimum.
func twoShotConfig(p *Params, lanes int) (launchConfig, error) {
	const op = "AllReduce"
	stride := lanes * p.Ranks
	if p.EltsTotal%stride != 0 {
		return launchConfig{}, NewConfigError(op, fmt.Sprintf(
			"element count %d not divisible by packed width times rank count %d (two-shot)", p.EltsTotal, stride))
	}

	totalThreads := roundUp(p.EltsTotal/stride, WarpSize)
	blocks := 1
	for totalThreads%blocks != 0 || totalThreads/blocks > DefaultBlockSize {
		blocks++
	}
	threads := totalThreads / blocks
	if blocks > MaxReduceBlocks {
		factor := 1
		for blocks%factor != 0 || blocks/factor > MaxReduceBlocks {
			factor++
		}
		blocks /= factor
	}

	p.eltsPerRank = p.EltsTotal / p.Ranks
	p.rankOffset = p.LocalRank * p.eltsPerRank
	p.eltsPerBlock = roundUp(divUp(p.eltsPerRank, blocks), lanes)

	return launchConfig{
		grid:  Dim3{X: blocks, Y: 1, Z: 1},
		block: Dim3{X: threads, Y: 1, Z: 1},
	}, nil
}
