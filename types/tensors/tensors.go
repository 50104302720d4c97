// Package tensors implements Buffer, the representation of a multi-dimensional
// array handed to an external kernel.
//
// A Buffer is either concrete -- it owns a flat slice of the underlying Go type
// corresponding to its DType -- or abstract: shape, strides and dtype metadata
// only, with no backing data. Abstract buffers are fabricated during shape-only
// execution, where no real computation runs.
//
// Unlike dense row-major arrays, a Buffer carries explicit per-axis strides (in
// elements). Kernels address memory through them, so clones must preserve them:
// see Buffer.CloneKeepStrides.
package tensors

import (
	"fmt"
	"reflect"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kernelwrap/types/shapes"
	"github.com/x448/float16"
)

// Buffer is a shaped, strided array of one of the supported DTypes.
//
// Concrete buffers own their flat data. Abstract buffers (see NewAbstract) carry
// only metadata; any attempt to touch their data panics.
//
// The shape and strides are immutable after creation; the flat data of a concrete
// buffer is mutated in place by kernels.
type Buffer struct {
	shape   shapes.Shape
	strides []int

	// flat is a slice of the Go type corresponding to shape.DType, or nil for
	// abstract buffers.
	flat any
}

// rowMajorStrides computes the default (contiguous) strides, in elements.
func rowMajorStrides(dimensions []int) []int {
	strides := make([]int, len(dimensions))
	stride := 1
	for axis := len(dimensions) - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= dimensions[axis]
	}
	return strides
}

// FromFlatDataAndDimensions creates a concrete Buffer with the given dimensions,
// taking ownership of the flattened values in data. The dtype is inferred from T.
//
// Example: `b := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2)`
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Buffer {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("tensors.FromFlatDataAndDimensions: shape %s requires %d values, got %d",
			shape, shape.Size(), len(data))
	}
	return &Buffer{
		shape:   shape,
		strides: rowMajorStrides(dimensions),
		flat:    data,
	}
}

// FromShape creates a concrete Buffer of the given shape, zero-initialized and
// contiguous.
func FromShape(shape shapes.Shape) *Buffer {
	if !shape.Ok() {
		exceptions.Panicf("tensors.FromShape: invalid shape %s", shape)
	}
	flat := reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), shape.Size(), shape.Size()).Interface()
	return &Buffer{
		shape:   shape,
		strides: rowMajorStrides(shape.Dimensions),
		flat:    flat,
	}
}

// FromFloat32AsFloat16 converts data to float16 and creates a concrete Buffer
// with the given dimensions.
func FromFloat32AsFloat16(data []float32, dimensions ...int) *Buffer {
	converted := make([]float16.Float16, len(data))
	for i, v := range data {
		converted[i] = float16.Fromfloat32(v)
	}
	return FromFlatDataAndDimensions(converted, dimensions...)
}

// NewAbstract creates an abstract (metadata-only) Buffer: same shape and strides
// as a concrete one would have, but no data. If strides is nil, contiguous
// row-major strides are assumed.
func NewAbstract(shape shapes.Shape, strides []int) *Buffer {
	if !shape.Ok() {
		exceptions.Panicf("tensors.NewAbstract: invalid shape %s", shape)
	}
	if strides == nil {
		strides = rowMajorStrides(shape.Dimensions)
	} else if len(strides) != shape.Rank() {
		exceptions.Panicf("tensors.NewAbstract: shape %s has rank %d, got %d strides",
			shape, shape.Rank(), len(strides))
	}
	return &Buffer{shape: shape, strides: strides}
}

// Shape of the buffer.
func (b *Buffer) Shape() shapes.Shape { return b.shape }

// DType of the buffer's elements.
func (b *Buffer) DType() dtypes.DType { return b.shape.DType }

// Strides per axis, in elements. Owned by the Buffer, must not be mutated.
func (b *Buffer) Strides() []int { return b.strides }

// Size returns the number of elements.
func (b *Buffer) Size() int { return b.shape.Size() }

// IsAbstract returns whether the buffer is a metadata-only placeholder, with no
// backing data.
func (b *Buffer) IsAbstract() bool { return b.flat == nil }

// WithStrides returns a view of the same data (or metadata) with different
// strides. Used to model non-contiguous kernel arguments. The flat data is
// shared, not copied.
func (b *Buffer) WithStrides(strides []int) *Buffer {
	if len(strides) != b.shape.Rank() {
		exceptions.Panicf("Buffer.WithStrides: shape %s has rank %d, got %d strides",
			b.shape, b.shape.Rank(), len(strides))
	}
	return &Buffer{shape: b.shape.Clone(), strides: strides, flat: b.flat}
}

// AbstractLike returns a new abstract buffer with the same shape, dtype and
// strides, and no data.
func (b *Buffer) AbstractLike() *Buffer {
	strides := make([]int, len(b.strides))
	copy(strides, b.strides)
	return &Buffer{shape: b.shape.Clone(), strides: strides}
}

// CloneKeepStrides returns an independent copy of the buffer preserving shape,
// dtype and strides. Cloning an abstract buffer yields a new abstract buffer
// with identical metadata.
func (b *Buffer) CloneKeepStrides() *Buffer {
	strides := make([]int, len(b.strides))
	copy(strides, b.strides)
	clone := &Buffer{shape: b.shape.Clone(), strides: strides}
	if b.IsAbstract() {
		return clone
	}
	flatV := reflect.ValueOf(b.flat)
	newFlat := reflect.MakeSlice(flatV.Type(), flatV.Len(), flatV.Len())
	reflect.Copy(newFlat, flatV)
	clone.flat = newFlat.Interface()
	return clone
}

// Equal compares shape, strides and, for concrete buffers, contents. An abstract
// buffer is only equal to another abstract buffer of the same metadata.
func (b *Buffer) Equal(b2 *Buffer) bool {
	if !b.shape.Equal(b2.shape) {
		return false
	}
	if len(b.strides) != len(b2.strides) {
		return false
	}
	for i, stride := range b.strides {
		if b2.strides[i] != stride {
			return false
		}
	}
	if b.IsAbstract() || b2.IsAbstract() {
		return b.IsAbstract() && b2.IsAbstract()
	}
	return reflect.DeepEqual(b.flat, b2.flat)
}

// String implements fmt.Stringer.
func (b *Buffer) String() string {
	if b.IsAbstract() {
		return fmt.Sprintf("Buffer{abstract, shape=%s, strides=%v}", b.shape, b.strides)
	}
	return fmt.Sprintf("Buffer{shape=%s, strides=%v}", b.shape, b.strides)
}

// assertConcrete panics if the buffer has no backing data.
func (b *Buffer) assertConcrete(op string) {
	if b.IsAbstract() {
		exceptions.Panicf("%s: buffer %s is abstract, it has no data", op, b.shape)
	}
}

// ConstFlatData calls accessFn with the flattened data as a slice of the Go type
// corresponding to the DType. The data is owned by the Buffer and must not be
// changed -- see MutableFlatData. It panics on abstract buffers.
func ConstFlatData[T dtypes.Supported](b *Buffer, accessFn func(flat []T)) {
	if b.shape.DType != dtypes.FromGenericsType[T]() {
		var v T
		exceptions.Panicf("ConstFlatData[%T] is incompatible with Buffer's dtype %s", v, b.shape.DType)
	}
	b.assertConcrete("ConstFlatData")
	accessFn(b.flat.([]T))
}

// MutableFlatData calls accessFn with a flat slice pointing to the Buffer data,
// whose contents may be changed until accessFn returns. It panics on abstract
// buffers.
func MutableFlatData[T dtypes.Supported](b *Buffer, accessFn func(flat []T)) {
	if b.shape.DType != dtypes.FromGenericsType[T]() {
		var v T
		exceptions.Panicf("MutableFlatData[%T] is incompatible with Buffer's dtype %s", v, b.shape.DType)
	}
	b.assertConcrete("MutableFlatData")
	accessFn(b.flat.([]T))
}

// CopyFlatData returns a copy of the flattened data as a slice of the Go type
// corresponding to the DType. It panics on abstract buffers.
func CopyFlatData[T dtypes.Supported](b *Buffer) []T {
	var flat []T
	ConstFlatData(b, func(data []T) {
		flat = make([]T, len(data))
		copy(flat, data)
	})
	return flat
}
