package gucc

import "fmt"

// Params describes one collective invocation. A value is built fresh per
// call (directly or via ParamsFromAddrs), consumed by one launch, and
// discarded. It owns nothing: every DevicePtr references memory owned by
// the workspace or the caller.
type Params struct {
	// LocalRank identifies this rank among Ranks peers on the node.
	LocalRank int
	Ranks     int

	// BarrierFlag is the barrier epoch for this invocation. It must be
	// strictly greater than any epoch used before on the same flag tables;
	// reusing an epoch lets a straggler read a stale flag as an arrival.
	BarrierFlag uint32

	// PeerBuffers holds each rank's peer-visible staging buffer. Slot
	// LocalRank is the only one this rank writes outside push mode.
	PeerBuffers [MaxRanks]DevicePtr

	// BarrierFlagsIn and BarrierFlagsOut are the per-rank flag tables for
	// the input-phase and output-phase barriers.
	BarrierFlagsIn  [MaxRanks]DevicePtr
	BarrierFlagsOut [MaxRanks]DevicePtr

	// LocalInput and LocalOutput are this rank's private tensors. Output
	// may alias input for OneShot; TwoShot writes peer-reduced slices back,
	// so aliasing is the caller's risk there.
	LocalInput  DevicePtr
	LocalOutput DevicePtr

	// EltsTotal is the tensor length in elements.
	EltsTotal int

	// Derived partition fields, computed by the geometry layer, never
	// supplied by the caller.
	eltsPerBlock int
	eltsPerRank  int
	rankOffset   int
}

// supportedRankCount reports whether n is in the supported world-size set.
// Values outside it are rejected hard, never handled best-effort.
func supportedRankCount(n int) bool {
	switch n {
	case 2, 4, 6, 8:
		return true
	}
	return false
}

// ParamsFromAddrs reconstructs a Params from the flat address list the
// buffer allocator distributes to all ranks: ranks staging buffers, then
// ranks input-phase flag tables, then ranks output-phase flag tables.
// The caller fills in LocalInput, LocalOutput, EltsTotal and BarrierFlag
// afterwards.
func ParamsFromAddrs(localRank, ranks int, addrs []DevicePtr) (*Params, error) {
	const op = "ParamsFromAddrs"
	if !supportedRankCount(ranks) {
		return nil, NewConfigError(op, fmt.Sprintf("unsupported rank count %d (supported: 2, 4, 6, 8)", ranks))
	}
	if localRank < 0 || localRank >= ranks {
		return nil, NewConfigError(op, fmt.Sprintf("local rank %d out of range for %d ranks", localRank, ranks))
	}
	if len(addrs) != 3*ranks {
		return nil, NewConfigError(op, fmt.Sprintf("address list has %d entries, want %d (3 per rank)", len(addrs), 3*ranks))
	}

	p := &Params{
		LocalRank: localRank,
		Ranks:     ranks,
	}
	for r := 0; r < ranks; r++ {
		p.PeerBuffers[r] = addrs[r]
		p.BarrierFlagsIn[r] = addrs[ranks+r]
		p.BarrierFlagsOut[r] = addrs[2*ranks+r]
	}
	return p, nil
}

// validate checks the caller-supplied fields. Derived fields and
// mode-dependent capacity constraints are checked by the dispatch layer.
func (p *Params) validate(op string) error {
	if p == nil {
		return NewConfigError(op, "nil params")
	}
	if !supportedRankCount(p.Ranks) {
		return NewConfigError(op, fmt.Sprintf("unsupported rank count %d (supported: 2, 4, 6, 8)", p.Ranks))
	}
	if p.LocalRank < 0 || p.LocalRank >= p.Ranks {
		return NewConfigError(op, fmt.Sprintf("local rank %d out of range for %d ranks", p.LocalRank, p.Ranks))
	}
	if p.EltsTotal <= 0 {
		return NewConfigError(op, fmt.Sprintf("element count %d must be positive", p.EltsTotal))
	}
	if p.BarrierFlag == 0 {
		return NewConfigError(op, "barrier flag epoch must be nonzero")
	}
	if p.LocalInput.IsNil() || p.LocalOutput.IsNil() {
		return NewConfigError(op, "local input and output buffers are required")
	}
	for r := 0; r < p.Ranks; r++ {
		if p.PeerBuffers[r].IsNil() {
			return NewConfigError(op, fmt.Sprintf("missing staging buffer for rank %d", r))
		}
		if p.BarrierFlagsIn[r].IsNil() || p.BarrierFlagsOut[r].IsNil() {
			return NewConfigError(op, fmt.Sprintf("missing barrier flag tables for rank %d", r))
		}
		if p.BarrierFlagsIn[r].Size() < flagTableBytes || p.BarrierFlagsOut[r].Size() < flagTableBytes {
			return NewConfigError(op, fmt.Sprintf("barrier flag table for rank %d smaller than %d bytes", r, flagTableBytes))
		}
	}
	return nil
}
