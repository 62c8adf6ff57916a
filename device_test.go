package gucc

import (
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamOrdering(t *testing.T) {
	s := NewStream()

	var order []int
	for i := 0; i < 10; i++ {
		s.Submit(func() { order = append(order, i) })
	}
	s.Synchronize()

	require.Len(t, order, 10)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

// Cooperative launches must run every block concurrently: a kernel whose
// blocks wait for each other would deadlock on a serializing scheduler.
func TestLaunchCooperativeRunsBlocksConcurrently(t *testing.T) {
	const blocks = 8
	var arrived atomic.Int32

	err := LaunchCooperative(func(blk BlockID) {
		arrived.Add(1)
		// Spin until every block has arrived; only possible if all
		// blocks are live at once.
		for arrived.Load() < blocks {
			runtime.Gosched()
		}
	}, Dim3{X: blocks, Y: 1, Z: 1}, Dim3{X: 32, Y: 1, Z: 1}, nil)
	require.NoError(t, err)
	require.NoError(t, Synchronize())

	assert.Equal(t, int32(blocks), arrived.Load())
}

func TestLaunchCooperativeBlockIDs(t *testing.T) {
	const blocks = 5
	seen := make([]atomic.Bool, blocks)
	grid := Dim3{X: blocks, Y: 1, Z: 1}
	block := Dim3{X: 64, Y: 1, Z: 1}

	err := LaunchCooperative(func(blk BlockID) {
		seen[blk.BlockIdx.X].Store(true)
		if blk.GridDim != grid || blk.BlockDim != block {
			t.Errorf("block %d saw wrong dims", blk.BlockIdx.X)
		}
	}, grid, block, nil)
	require.NoError(t, err)
	require.NoError(t, Synchronize())

	for i := range seen {
		assert.True(t, seen[i].Load(), "block %d never ran", i)
	}
}

func TestEmptyGridMaintainsOrdering(t *testing.T) {
	s := NewStream()
	ran := false
	require.NoError(t, LaunchCooperative(func(BlockID) {}, Dim3{}, Dim3{}, s))
	s.Submit(func() { ran = true })
	s.Synchronize()
	assert.True(t, ran)
}

func TestDeviceInfo(t *testing.T) {
	dev := GetDevice()
	require.NotNil(t, dev)
	assert.NotZero(t, dev.TotalMem)
}
