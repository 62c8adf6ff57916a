package gucc

import (
	"runtime"
	"sync/atomic"
)

// Cross-rank barrier primitives.
//
// Each rank owns one flag table per barrier phase; all tables are
// peer-visible. A rank signals arrival by storing the invocation's epoch
// value into every peer's table at an index identifying itself, then spins
// on its own table until all peers have stored the same epoch. The epoch
// grows monotonically across invocations, so a straggler can never mistake
// a stale flag for an arrival.
//
// sync/atomic store/load gives sequentially consistent ordering, which
// subsumes the release/acquire pairing the protocol needs: any staging
// write issued before the signalling store is visible to a rank that
// observes the matching load.
//
// Neither barrier has a timeout. A rank that never arrives (hung, crashed,
// never launched) spins the whole collective forever; callers that need
// liveness detection must watch from outside.

// flagWordsPerRank is the size in words of one rank's flag table,
// large enough for the fine barrier's (block, source rank) keying.
const flagWordsPerRank = MaxReduceBlocks * MaxRanks

// flagTableBytes is the allocation size of one rank's flag table.
const flagTableBytes = flagWordsPerRank * 4

// spinWait blocks until the flag word reaches the target epoch. The yield
// keeps the protocol live when blocks outnumber OS threads; it stays a
// busy-wait, never a channel or condition-variable sleep.
func spinWait(addr *uint32, flag uint32) {
	for atomic.LoadUint32(addr) < flag {
		runtime.Gosched()
	}
}

// barrierAll is the coarse, per-launch barrier: block 0 signals arrival on
// behalf of its whole rank, and every block of every rank waits until all
// ranks have signalled. It confirms rank-level arrival only, so it is valid
// when no per-block staging has to be ordered (pre-staged input).
func barrierAll(tables *[MaxRanks]DevicePtr, localRank, ranks int, blk BlockID, flag uint32) {
	if blk.BlockIdx.X == 0 {
		for r := 0; r < ranks; r++ {
			peer := tables[r].Uint32()
			atomic.StoreUint32(&peer[localRank], flag)
		}
	}
	// Block 0 of every rank is guaranteed to run, so waiting here cannot
	// deadlock even though only one block signals.
	own := tables[localRank].Uint32()
	for r := 0; r < ranks; r++ {
		spinWait(&own[r], flag)
	}
}

// barrierBlock is the fine, per-block barrier keyed by
// (target rank, block index, source rank). Block b proceeds only once its
// counterpart block b on every rank has signalled, which confirms that all
// staging writes issued by those blocks are visible.
func barrierBlock(tables *[MaxRanks]DevicePtr, localRank, ranks int, blk BlockID, flag uint32) {
	base := blk.BlockIdx.X * ranks
	for r := 0; r < ranks; r++ {
		peer := tables[r].Uint32()
		atomic.StoreUint32(&peer[base+localRank], flag)
	}
	own := tables[localRank].Uint32()
	for r := 0; r < ranks; r++ {
		spinWait(&own[base+r], flag)
	}
}
