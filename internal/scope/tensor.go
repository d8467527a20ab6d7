package scope

import "fmt"

// DType describes the element encoding of a tensor buffer.
type DType int

const (
	DTypeFloat32 DType = iota
	DTypeInt8
)

func (d DType) String() string {
	switch d {
	case DTypeFloat32:
		return "float32"
	case DTypeInt8:
		return "int8"
	default:
		return "unknown"
	}
}

// ElemSize returns the size of one element in bytes.
func (d DType) ElemSize() int {
	switch d {
	case DTypeFloat32:
		return 4
	case DTypeInt8:
		return 1
	default:
		return 0
	}
}

// Tensor holds a dense buffer with a shape and an element type.
//
// A tensor is backed by exactly one typed buffer at a time. Requesting a
// mutable buffer of a different element type reallocates the storage at the
// new width; the old buffer is dropped. Callers that need the original values
// across a width change must copy them out first (see CopyFrom / Clear).
type Tensor struct {
	dims        []int64
	dtype       DType
	f32         []float32
	i8          []int8
	persistable bool
}

// NewTensor allocates a float32 tensor of the given shape, zero initialised.
func NewTensor(dims ...int64) *Tensor {
	t := &Tensor{dims: append([]int64(nil), dims...), dtype: DTypeFloat32}
	t.f32 = make([]float32, t.NumElements())
	return t
}

// NewTensorFromFloat32s builds a float32 tensor over the given data.
// It panics if the data length does not match the shape.
func NewTensorFromFloat32s(data []float32, dims ...int64) *Tensor {
	t := &Tensor{dims: append([]int64(nil), dims...), dtype: DTypeFloat32, f32: data}
	if int64(len(data)) != t.NumElements() {
		panic(fmt.Sprintf("tensor data length %d does not match shape %v", len(data), dims))
	}
	return t
}

// Dims returns the tensor shape. The returned slice must not be mutated.
func (t *Tensor) Dims() []int64 { return t.dims }

// Dim returns the size along axis i.
func (t *Tensor) Dim(i int) int64 { return t.dims[i] }

// Rank returns the number of axes.
func (t *Tensor) Rank() int { return len(t.dims) }

// NumElements returns the product of the dims.
func (t *Tensor) NumElements() int64 {
	n := int64(1)
	for _, d := range t.dims {
		n *= d
	}
	return n
}

// DType returns the current element type.
func (t *Tensor) DType() DType { return t.dtype }

// SetDType records the element type without touching the buffer.
func (t *Tensor) SetDType(d DType) { t.dtype = d }

// Persistable reports whether the tensor is a persistent parameter.
func (t *Tensor) Persistable() bool { return t.persistable }

// SetPersistable marks the tensor as a persistent parameter.
func (t *Tensor) SetPersistable(p bool) { t.persistable = p }

// Float32s returns the float32 view of the buffer, or nil when the tensor is
// not float32 backed.
func (t *Tensor) Float32s() []float32 { return t.f32 }

// Int8s returns the int8 view of the buffer, or nil when the tensor is not
// int8 backed.
func (t *Tensor) Int8s() []int8 { return t.i8 }

// MutableFloat32s returns a writable float32 buffer sized to the shape,
// reallocating and switching the element type if necessary.
func (t *Tensor) MutableFloat32s() []float32 {
	if t.f32 == nil || int64(len(t.f32)) != t.NumElements() {
		t.f32 = make([]float32, t.NumElements())
	}
	t.i8 = nil
	t.dtype = DTypeFloat32
	return t.f32
}

// MutableInt8s returns a writable int8 buffer sized to the shape,
// reallocating and switching the element type if necessary.
func (t *Tensor) MutableInt8s() []int8 {
	if t.i8 == nil || int64(len(t.i8)) != t.NumElements() {
		t.i8 = make([]int8, t.NumElements())
	}
	t.f32 = nil
	t.dtype = DTypeInt8
	return t.i8
}

// Clear drops the backing buffer but keeps the shape. A following
// MutableFloat32s or MutableInt8s call reallocates at the requested width.
func (t *Tensor) Clear() {
	t.f32 = nil
	t.i8 = nil
}

// CopyFrom deep-copies shape, element type and buffer contents from src.
func (t *Tensor) CopyFrom(src *Tensor) {
	t.dims = append(t.dims[:0], src.dims...)
	t.dtype = src.dtype
	t.persistable = src.persistable
	t.f32 = nil
	t.i8 = nil
	if src.f32 != nil {
		t.f32 = append([]float32(nil), src.f32...)
	}
	if src.i8 != nil {
		t.i8 = append([]int8(nil), src.i8...)
	}
}
