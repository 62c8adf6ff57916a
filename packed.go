package gucc

import (
	"unsafe"

	"github.com/x448/float16"
)

// packed is one 128-bit memory word interpreted as lanes of the active
// element type. It is the unit of all data movement and arithmetic in the
// reduction kernels; kernels are generic over it, so each element type gets
// its own compile-time instantiation rather than a runtime dispatch.
type packed[P any] interface {
	add(P) P
}

// f32x4 is a packed word of four float32 lanes.
type f32x4 [4]float32

func (a f32x4) add(b f32x4) f32x4 {
	return f32x4{a[0] + b[0], a[1] + b[1], a[2] + b[2], a[3] + b[3]}
}

// f16x8 is a packed word of eight IEEE half-precision lanes. Lane sums
// round through half precision at every step, matching the element type's
// native arithmetic; there is no widened accumulator.
type f16x8 [8]float16.Float16

func (a f16x8) add(b f16x8) f16x8 {
	var c f16x8
	for i := range a {
		c[i] = float16.Fromfloat32(a[i].Float32() + b[i].Float32())
	}
	return c
}

// words reinterprets device memory as packed words. The caller guarantees
// word alignment; the geometry layer rejects element counts that do not
// divide into whole words before any kernel runs.
func words[P packed[P]](d DevicePtr) []P {
	if d.ptr == nil {
		return nil
	}
	return unsafe.Slice((*P)(d.ptr), d.size/PackedBytes)
}
