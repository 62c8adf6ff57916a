package gucc

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/x448/float16"
)

// MemoryPool manages device memory allocation with efficient reuse.
// It maintains a free list of previously allocated blocks to reduce
// allocation overhead and memory fragmentation.
type MemoryPool struct {
	mu         sync.Mutex
	allocated  map[uintptr]*allocation
	freeList   []*allocation
	totalAlloc int64
	peakAlloc  int64
}

type allocation struct {
	ptr  unsafe.Pointer
	buf  []byte // keeps the backing array reachable for the GC
	size int
	used bool
}

// NewMemoryPool creates a new memory pool for efficient memory management.
func NewMemoryPool() *MemoryPool {
	return &MemoryPool{
		allocated: make(map[uintptr]*allocation),
	}
}

// DevicePtr represents a pointer to device memory. It provides type-safe
// access through the view methods (Float32, Float16, Uint32, Byte) and
// pointer arithmetic through Offset. In gucc's model all ranks on a node
// can dereference each other's DevicePtrs; that peer visibility is what
// the collective kernels are built on.
type DevicePtr struct {
	ptr    unsafe.Pointer
	size   int
	offset int
}

// Malloc allocates device memory of the specified size in bytes.
// The memory is aligned for packed 128-bit access.
func (ctx *Context) Malloc(size int) (DevicePtr, error) {
	return ctx.memory.Allocate(size)
}

// Free releases device memory allocated by Malloc.
func (ctx *Context) Free(ptr DevicePtr) error {
	return ctx.memory.Free(ptr)
}

// Malloc allocates from the default context.
func Malloc(size int) (DevicePtr, error) {
	return defaultContext.Malloc(size)
}

// Free releases memory allocated from the default context.
func Free(ptr DevicePtr) error {
	return defaultContext.Free(ptr)
}

// Allocate allocates memory from the pool
func (mp *MemoryPool) Allocate(size int) (DevicePtr, error) {
	if size <= 0 {
		return DevicePtr{}, ErrInvalidSize
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	// Round up to alignment
	alignedSize := (size + MemoryAlignment - 1) &^ (MemoryAlignment - 1)

	// Try to reuse from free list
	for i, alloc := range mp.freeList {
		if alloc.size >= alignedSize {
			mp.freeList = append(mp.freeList[:i], mp.freeList[i+1:]...)
			alloc.used = true

			mp.totalAlloc += int64(alloc.size)
			if mp.totalAlloc > mp.peakAlloc {
				mp.peakAlloc = mp.totalAlloc
			}

			return DevicePtr{
				ptr:  alloc.ptr,
				size: size,
			}, nil
		}
	}

	// Allocate new memory, over-sized so the base can be aligned.
	buf := make([]byte, alignedSize+MemoryAlignment)
	base := uintptr(unsafe.Pointer(&buf[0]))
	pad := 0
	if rem := int(base % MemoryAlignment); rem != 0 {
		pad = MemoryAlignment - rem
	}
	ptr := unsafe.Pointer(&buf[pad])

	alloc := &allocation{
		ptr:  ptr,
		buf:  buf,
		size: alignedSize,
		used: true,
	}

	mp.allocated[uintptr(ptr)] = alloc

	mp.totalAlloc += int64(alignedSize)
	if mp.totalAlloc > mp.peakAlloc {
		mp.peakAlloc = mp.totalAlloc
	}

	return DevicePtr{
		ptr:  ptr,
		size: size,
	}, nil
}

// Free returns memory to the pool. Reused blocks are handed out dirty;
// callers that need zeroed memory (barrier flag tables) must clear it.
func (mp *MemoryPool) Free(ptr DevicePtr) error {
	if ptr.ptr == nil {
		return nil
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	alloc, ok := mp.allocated[uintptr(ptr.ptr)]
	if !ok {
		return NewMemoryError("Free", "pointer not found in allocation pool", nil)
	}

	if !alloc.used {
		return ErrDoubleFree
	}

	alloc.used = false
	mp.freeList = append(mp.freeList, alloc)
	mp.totalAlloc -= int64(alloc.size)

	return nil
}

// GetStats returns memory pool statistics
func (mp *MemoryPool) GetStats() (allocated, peak int64) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.totalAlloc, mp.peakAlloc
}

// Memcpy copies memory between host slices and device pointers. All memory
// is host-visible in this model, so every direction is a plain copy; the
// kind argument exists for call-site symmetry with stream APIs.
func Memcpy(dst, src interface{}, size int, kind MemcpyKind) error {
	dstPtr, err := rawPointer("Memcpy", dst)
	if err != nil {
		return err
	}
	srcPtr, err := rawPointer("Memcpy", src)
	if err != nil {
		return err
	}
	if dstPtr != nil && srcPtr != nil && size > 0 {
		copy(unsafe.Slice((*byte)(dstPtr), size), unsafe.Slice((*byte)(srcPtr), size))
	}
	return nil
}

// MemcpyKind specifies the direction of memory transfer.
type MemcpyKind int

const (
	MemcpyHostToHost     MemcpyKind = iota // Host to host transfer
	MemcpyHostToDevice                     // Host to device transfer
	MemcpyDeviceToHost                     // Device to host transfer
	MemcpyDeviceToDevice                   // Device to device transfer
)

func rawPointer(op string, v interface{}) (unsafe.Pointer, error) {
	switch p := v.(type) {
	case DevicePtr:
		return p.ptr, nil
	case []byte:
		if len(p) == 0 {
			return nil, nil
		}
		return unsafe.Pointer(&p[0]), nil
	case []float32:
		if len(p) == 0 {
			return nil, nil
		}
		return unsafe.Pointer(&p[0]), nil
	case []uint16:
		if len(p) == 0 {
			return nil, nil
		}
		return unsafe.Pointer(&p[0]), nil
	default:
		return nil, NewConfigError(op, fmt.Sprintf("unsupported buffer type: %T", v))
	}
}

// DevicePtr methods for convenience

// Float32 returns a float32 slice view of the device memory.
func (d DevicePtr) Float32() []float32 {
	if d.ptr == nil {
		return nil
	}
	return unsafe.Slice((*float32)(d.ptr), d.size/4)
}

// Float16 returns a half-precision slice view of the device memory.
func (d DevicePtr) Float16() []float16.Float16 {
	if d.ptr == nil {
		return nil
	}
	return unsafe.Slice((*float16.Float16)(d.ptr), d.size/2)
}

// Uint32 returns a uint32 slice view of the device memory. Barrier flag
// tables are accessed through this view with sync/atomic operations.
func (d DevicePtr) Uint32() []uint32 {
	if d.ptr == nil {
		return nil
	}
	return unsafe.Slice((*uint32)(d.ptr), d.size/4)
}

// Byte returns a byte slice view of the entire memory region.
func (d DevicePtr) Byte() []byte {
	if d.ptr == nil {
		return nil
	}
	return unsafe.Slice((*byte)(d.ptr), d.size)
}

// Offset returns a new DevicePtr offset by the given number of bytes.
// The returned DevicePtr shares the same underlying memory.
func (d DevicePtr) Offset(bytes int) DevicePtr {
	return DevicePtr{
		ptr:    unsafe.Pointer(uintptr(d.ptr) + uintptr(bytes)),
		size:   d.size - bytes,
		offset: d.offset + bytes,
	}
}

// Size returns the size in bytes of the memory region
func (d DevicePtr) Size() int {
	return d.size
}

// IsNil reports whether the pointer references no memory.
func (d DevicePtr) IsNil() bool {
	return d.ptr == nil
}
