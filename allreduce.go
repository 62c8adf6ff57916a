package gucc

import (
	"fmt"

	"k8s.io/klog/v2"
)

// Algorithm selects the reduction strategy.
type Algorithm uint8

const (
	// OneShot trades O(ranks) peer reads per element for a single barrier
	// round.
	OneShot Algorithm = iota
	// TwoShot reduces each element exactly once per rank behind two
	// barrier rounds.
	TwoShot
)

func (a Algorithm) String() string {
	switch a {
	case OneShot:
		return "one-shot"
	case TwoShot:
		return "two-shot"
	}
	return fmt.Sprintf("Algorithm(%d)", uint8(a))
}

// Mode is the configuration bitmask for an invocation.
type Mode uint8

const (
	// ModePush makes ranks write their contributions directly into peers'
	// staging buffers, so the reduce phase reads only local memory.
	ModePush Mode = 1 << iota
	// ModePreStaged asserts the caller already staged the input in the
	// rank's buffer; the kernel skips the copy and uses the cheaper
	// rank-level barrier. Mutually exclusive with ModePush.
	ModePreStaged
)

// ModeDefault stages via local copy and pulls from peers.
const ModeDefault Mode = 0

// oneShotMaxBytes is the message size at which SelectAlgorithm switches
// from the latency-bound one-shot path to the bandwidth-bound two-shot
// path.
const oneShotMaxBytes = 256 * 1024

// SelectAlgorithm picks a reasonable algorithm for a message size. Small
// messages favor the single barrier round; large ones favor moving each
// element once per rank. Counts that do not meet two-shot's stricter
// alignment fall back to one-shot.
func SelectAlgorithm(dtype DType, elts, ranks int) Algorithm {
	if elts*dtype.Size() <= oneShotMaxBytes {
		return OneShot
	}
	if lanes := dtype.Lanes(); lanes == 0 || elts%(lanes*ranks) != 0 {
		return OneShot
	}
	return TwoShot
}

// AllReduce sums the local input tensors of all ranks element-wise and
// writes the full result to this rank's local output. Every rank of the
// node must call it with the same dtype, algorithm, mode, element count and
// barrier epoch; the call returns once the kernel is queued on the stream,
// and the result is visible after the stream synchronizes.
//
// All preconditions are checked synchronously before anything is launched;
// a non-nil error means no device memory was touched. Once launched, the
// collective has no bounded completion time: a peer that never arrives
// hangs it (see the barrier primitives).
//
// Collectives sharing a workspace must not overlap: all ranks' streams
// must be synchronized before the next invocation stages over the same
// buffers. The epoch only disambiguates barrier flags, not staging data.
func AllReduce(stream *Stream, dtype DType, algo Algorithm, mode Mode, p *Params) error {
	const op = "AllReduce"

	if err := p.validate(op); err != nil {
		return err
	}
	if mode&ModePush != 0 && mode&ModePreStaged != 0 {
		return NewConfigError(op, "push mode stages copies itself; combining it with pre-staged input is undefined")
	}

	lanes := dtype.Lanes()
	if lanes == 0 {
		return NewConfigError(op, fmt.Sprintf("unsupported dtype %s", dtype))
	}

	var (
		cfg launchConfig
		err error
	)
	switch algo {
	case OneShot:
		cfg, err = oneShotConfig(p, lanes)
	case TwoShot:
		cfg, err = twoShotConfig(p, lanes)
	default:
		return NewConfigError(op, fmt.Sprintf("unsupported algorithm %s", algo))
	}
	if err != nil {
		return err
	}

	if err := checkCapacities(op, dtype, algo, mode, p); err != nil {
		return err
	}

	klog.V(2).Infof("gucc: %s %s rank %d/%d elts=%d grid=%d block=%d eltsPerBlock=%d flag=%d",
		algo, dtype, p.LocalRank, p.Ranks, p.EltsTotal, cfg.grid.X, cfg.block.X, p.eltsPerBlock, p.BarrierFlag)

	copyInput := mode&ModePreStaged == 0
	push := mode&ModePush != 0

	switch dtype {
	case Float32:
		return launchReduce[f32x4](stream, algo, p, cfg, lanes, copyInput, push)
	case Float16:
		return launchReduce[f16x8](stream, algo, p, cfg, lanes, copyInput, push)
	}
	return NewConfigError(op, fmt.Sprintf("unsupported dtype %s", dtype))
}

// checkCapacities rejects buffers too small for the chosen data-movement
// pattern before any launch. One-shot push stages every rank's full tensor
// in every buffer; all other patterns stage at most one tensor per buffer.
func checkCapacities(op string, dtype DType, algo Algorithm, mode Mode, p *Params) error {
	tensorBytes := p.EltsTotal * dtype.Size()
	need := tensorBytes
	if algo == OneShot && mode&ModePush != 0 {
		need = p.Ranks * tensorBytes
	}
	for r := 0; r < p.Ranks; r++ {
		if p.PeerBuffers[r].Size() < need {
			return NewConfigError(op, fmt.Sprintf(
				"staging buffer for rank %d holds %d bytes, %s needs %d", r, p.PeerBuffers[r].Size(), algo, need))
		}
	}
	if p.LocalInput.Size() < tensorBytes {
		return NewConfigError(op, fmt.Sprintf("local input holds %d bytes, need %d", p.LocalInput.Size(), tensorBytes))
	}
	if p.LocalOutput.Size() < tensorBytes {
		return NewConfigError(op, fmt.Sprintf("local output holds %d bytes, need %d", p.LocalOutput.Size(), tensorBytes))
	}
	return nil
}

// launchReduce queues the selected kernel instantiation on the stream.
func launchReduce[P packed[P]](stream *Stream, algo Algorithm, p *Params, cfg launchConfig, lanes int, copyInput, push bool) error {
	var kern BlockFunc
	switch algo {
	case OneShot:
		kern = func(blk BlockID) { oneShotKernel[P](p, blk, lanes, copyInput, push) }
	case TwoShot:
		kern = func(blk BlockID) { twoShotKernel[P](p, blk, lanes, copyInput, push) }
	}
	return defaultContext.LaunchCooperative(kern, cfg.grid, cfg.block, stream)
}
