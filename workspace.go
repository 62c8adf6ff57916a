package gucc

import (
	"fmt"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"
)

// Workspace owns the peer-visible resources for one node-local rank set:
// a staging buffer per rank and the two barrier flag tables per rank. It
// plays the buffer-allocator role of the collective contract — it hands
// every rank the same flat address list that ParamsFromAddrs consumes —
// and it tracks the monotonically increasing barrier epoch.
//
// A Workspace is sized once for the largest tensor it will carry and
// reused across invocations; it is not safe to Free while a collective is
// in flight.
type Workspace struct {
	ranks       int
	tensorBytes int
	staging     [MaxRanks]DevicePtr
	flagsIn     [MaxRanks]DevicePtr
	flagsOut    [MaxRanks]DevicePtr
	flag        uint32
}

// NewWorkspace allocates peer buffers and flag tables for a rank set.
// maxTensorBytes is the largest tensor one invocation may reduce; each
// staging buffer is sized at ranks times that, which covers the push-mode
// one-shot layout (every rank's full tensor in every buffer).
func NewWorkspace(ranks, maxTensorBytes int) (*Workspace, error) {
	const op = "NewWorkspace"
	if !supportedRankCount(ranks) {
		return nil, NewConfigError(op, fmt.Sprintf("unsupported rank count %d (supported: 2, 4, 6, 8)", ranks))
	}
	if maxTensorBytes <= 0 {
		return nil, NewConfigError(op, fmt.Sprintf("tensor capacity %d must be positive", maxTensorBytes))
	}

	slotBytes := ranks * maxTensorBytes
	ws := &Workspace{ranks: ranks, tensorBytes: maxTensorBytes}
	for r := 0; r < ranks; r++ {
		buf, err := Malloc(slotBytes)
		if err != nil {
			ws.Free()
			return nil, err
		}
		ws.staging[r] = buf

		fin, err := Malloc(flagTableBytes)
		if err != nil {
			ws.Free()
			return nil, err
		}
		ws.flagsIn[r] = fin

		fout, err := Malloc(flagTableBytes)
		if err != nil {
			ws.Free()
			return nil, err
		}
		ws.flagsOut[r] = fout

		// The pool hands out dirty memory; flags must start below the
		// first epoch or a rank could observe a phantom arrival.
		clear(fin.Uint32())
		clear(fout.Uint32())
	}

	klog.V(1).Infof("gucc: workspace for %d ranks, %s staging per rank, %s flag tables per rank",
		ranks, humanize.IBytes(uint64(slotBytes)), humanize.IBytes(uint64(2*flagTableBytes)))

	return ws, nil
}

// Ranks returns the rank count the workspace was built for.
func (ws *Workspace) Ranks() int {
	return ws.ranks
}

// Addrs returns the flat address list distributed to all ranks: staging
// buffers, then input-phase flag tables, then output-phase flag tables.
func (ws *Workspace) Addrs() []DevicePtr {
	addrs := make([]DevicePtr, 0, 3*ws.ranks)
	addrs = append(addrs, ws.staging[:ws.ranks]...)
	addrs = append(addrs, ws.flagsIn[:ws.ranks]...)
	addrs = append(addrs, ws.flagsOut[:ws.ranks]...)
	return addrs
}

// NextFlag advances and returns the barrier epoch. All ranks of one
// invocation must share the returned value; callers advance exactly once
// per collective.
func (ws *Workspace) NextFlag() uint32 {
	return atomic.AddUint32(&ws.flag, 1)
}

// ParamsFor builds an invocation descriptor for one rank through the same
// reconstruction path an external allocator would use.
func (ws *Workspace) ParamsFor(rank int, input, output DevicePtr, elts int, flag uint32) (*Params, error) {
	p, err := ParamsFromAddrs(rank, ws.ranks, ws.Addrs())
	if err != nil {
		return nil, err
	}
	p.LocalInput = input
	p.LocalOutput = output
	p.EltsTotal = elts
	p.BarrierFlag = flag
	return p, nil
}

// Free releases all workspace memory. Safe to call on a partially
// constructed workspace; later calls are no-ops.
func (ws *Workspace) Free() error {
	var firstErr error
	release := func(d *DevicePtr) {
		if d.IsNil() {
			return
		}
		if err := Free(*d); err != nil && firstErr == nil {
			firstErr = err
		}
		*d = DevicePtr{}
	}
	for r := 0; r < ws.ranks; r++ {
		release(&ws.staging[r])
		release(&ws.flagsIn[r])
		release(&ws.flagsOut[r])
	}
	return firstErr
}
