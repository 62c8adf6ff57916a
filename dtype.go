package gucc

import "fmt"

// DType identifies the element type of a reduction. The set is closed:
// kernels are instantiated per type, so an unknown DType is a configuration
// error, never a fallback path.
type DType uint8

const (
	// Float32 is IEEE 754 single precision
	Float32 DType = iota
	// Float16 is IEEE 754 half precision
	Float16
)

// Size returns the element size in bytes.
func (t DType) Size() int {
	switch t {
	case Float32:
		return 4
	case Float16:
		return 2
	}
	return 0
}

// Lanes returns the number of elements in one packed word.
func (t DType) Lanes() int {
	if s := t.Size(); s > 0 {
		return PackedBytes / s
	}
	return 0
}

func (t DType) String() string {
	switch t {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	}
	return fmt.Sprintf("DType(%d)", uint8(t))
}
