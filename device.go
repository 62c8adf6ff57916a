package gucc

import (
	"sync"
	"sync/atomic"
)

// Device represents a compute device participating in node-local
// collectives. In gucc every rank maps onto the host CPU; ranks are
// distinguished by their staging buffers and flag tables, not by separate
// physical devices.
type Device struct {
	ID       int    // Unique device identifier
	Name     string // Human-readable device name
	TotalMem uint64 // Total available memory in bytes
}

// Context represents an execution context for gucc operations.
// It manages memory allocation and stream execution.
type Context struct {
	device        *Device
	streams       map[int]*Stream
	streamID      int32
	memory        *MemoryPool
	defaultStream *Stream
}

// Stream represents an ordered sequence of operations that execute
// asynchronously. Operations within a stream execute in order, but
// operations in different streams may execute concurrently. Each rank of
// a collective is expected to launch on its own stream.
type Stream struct {
	id    int
	tasks chan func()
	done  chan struct{}
	wg    sync.WaitGroup
}

// Dim3 represents 3D dimensions for grid and block configurations.
type Dim3 struct {
	X, Y, Z int
}

// Size returns the total number of elements
func (d Dim3) Size() int {
	return d.X * d.Y * d.Z
}

// BlockID identifies a thread block's position within a launched grid.
// Reduction kernels execute at block granularity: one goroutine runs all
// of a block's threads sequentially, which makes intra-block ordering
// implicit (the equivalent of a block-wide fence between phases).
type BlockID struct {
	BlockIdx Dim3 // Block index within the grid
	BlockDim Dim3 // Dimensions of the block
	GridDim  Dim3 // Dimensions of the grid
}

// BlockFunc is a kernel body executed once per block in the grid.
type BlockFunc func(blk BlockID)

// Global runtime state
var (
	defaultDevice  *Device
	defaultContext *Context
	initOnce       sync.Once
)

func init() {
	initOnce.Do(func() {
		defaultDevice = &Device{
			ID:       0,
			Name:     "CPU",
			TotalMem: getSystemMemory(),
		}

		defaultContext = &Context{
			device:  defaultDevice,
			streams: make(map[int]*Stream),
			memory:  NewMemoryPool(),
		}

		defaultContext.defaultStream = defaultContext.CreateStream()
	})
}

// GetDevice returns the current device information.
func GetDevice() *Device {
	return defaultDevice
}

// CreateStream creates a new execution stream
func (ctx *Context) CreateStream() *Stream {
	id := int(atomic.AddInt32(&ctx.streamID, 1))
	stream := &Stream{
		id:    id,
		tasks: make(chan func(), 1000),
		done:  make(chan struct{}),
	}

	go stream.worker()

	ctx.streams[id] = stream
	return stream
}

// NewStream creates a stream on the default context.
func NewStream() *Stream {
	return defaultContext.CreateStream()
}

// LaunchCooperative runs fn once per block of the grid, every block on its
// own goroutine, as a single task on the stream. Cooperative launch is
// mandatory for the collective kernels: their barriers spin until every
// block of every rank has signalled, so serializing blocks onto a worker
// pool would deadlock. The task completes when all blocks return.
func (ctx *Context) LaunchCooperative(fn BlockFunc, grid, block Dim3, stream *Stream) error {
	if stream == nil {
		stream = ctx.defaultStream
	}
	gridSize := grid.Size()
	if gridSize == 0 {
		// Submit an empty task to maintain stream ordering
		stream.Submit(func() {})
		return nil
	}
	stream.Submit(func() {
		var wg sync.WaitGroup
		wg.Add(gridSize)

		for blockID := 0; blockID < gridSize; blockID++ {
			blk := BlockID{
				BlockIdx: linearTo3D(blockID, grid),
				BlockDim: block,
				GridDim:  grid,
			}
			go func() {
				defer wg.Done()
				fn(blk)
			}()
		}

		wg.Wait()
	})

	return nil
}

// LaunchCooperative launches on the default context.
func LaunchCooperative(fn BlockFunc, grid, block Dim3, stream *Stream) error {
	return defaultContext.LaunchCooperative(fn, grid, block, stream)
}

// linearTo3D converts a linear index to 3D coordinates
func linearTo3D(linear int, dim Dim3) Dim3 {
	z := linear / (dim.X * dim.Y)
	y := (linear % (dim.X * dim.Y)) / dim.X
	x := linear % dim.X
	return Dim3{X: x, Y: y, Z: z}
}

// Synchronize waits for all streams to complete
func (ctx *Context) Synchronize() error {
	for _, stream := range ctx.streams {
		stream.Synchronize()
	}
	return nil
}

// Synchronize waits for all operations on the default context.
func Synchronize() error {
	return defaultContext.Synchronize()
}

// Stream methods

// worker processes tasks for a stream
func (s *Stream) worker() {
	for task := range s.tasks {
		task()
		s.wg.Done()
	}
	close(s.done)
}

// Synchronize waits for all tasks in the stream to complete
func (s *Stream) Synchronize() {
	s.wg.Wait()
}

// Submit adds a task to the stream
func (s *Stream) Submit(task func()) {
	s.wg.Add(1)
	s.tasks <- task
}
