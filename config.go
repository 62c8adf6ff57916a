// Package gucc configuration constants
package gucc

// Packed memory access
const (
	// PackedBytes is the width of a single packed load, store or add.
	// All data movement in the reduction kernels happens at this granularity.
	PackedBytes = 16
)

// Kernel launch dimensions
const (
	// WarpSize is the hardware scheduling granularity; thread counts are
	// rounded up to a multiple of it
	WarpSize = 32

	// DefaultBlockSize is the preferred threads-per-block for reduction kernels
	DefaultBlockSize = 512

	// MaxReduceBlocks caps the grid size of a collective kernel. The barrier
	// flag tables are sized for this many blocks.
	MaxReduceBlocks = 24
)

// Rank limits
const (
	// MaxRanks is the largest node-local world size supported. Peer address
	// tables are fixed-capacity arrays of this length.
	MaxRanks = 8
)

// Memory pool parameters
const (
	// Memory alignment for allocations
	MemoryAlignment = 64
)
