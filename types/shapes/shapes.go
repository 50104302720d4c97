// Package shapes defines Shape and associated tools.
//
// Shape represents the shape (rank, dimensions and DType) of a buffer handed to an
// external kernel, or of the metadata-only placeholder standing in for one during
// abstract (shape-only) execution.
//
// The DType enumeration is defined in github.com/gomlx/gopjrt/dtypes. Float16
// support uses the github.com/x448/float16 implementation.
package shapes

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// Shape represents the shape of a buffer: a DType and the dimensions of its axes.
//
// A scalar has rank 0 (no dimensions). Shape is used as a value: its Dimensions
// slice should not be mutated after creation -- use Clone where an independent
// copy is needed.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape with the given dtype and dimensions. It panics if any
// dimension is <= 0.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	for _, dim := range dimensions {
		if dim <= 0 {
			exceptions.Panicf("shapes.Make(%s, %v): dimensions must be > 0", dtype, dimensions)
		}
	}
	return Shape{DType: dtype, Dimensions: dimensions}
}

// Scalar returns a rank-0 shape for the Go type T.
func Scalar[T dtypes.Supported]() Shape {
	return Shape{DType: dtypes.FromGenericsType[T]()}
}

// Rank of the shape: the number of axes. A scalar has rank 0.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape has rank 0.
func (s Shape) IsScalar() bool { return s.Rank() == 0 }

// Size returns the number of elements of the shape. A scalar has size 1.
func (s Shape) Size() int {
	size := 1
	for _, dim := range s.Dimensions {
		size *= dim
	}
	return size
}

// Ok returns whether the shape is valid: a known dtype and no zero or negative
// dimensions.
func (s Shape) Ok() bool {
	if s.DType == dtypes.InvalidDType {
		return false
	}
	for _, dim := range s.Dimensions {
		if dim <= 0 {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	s2 := Shape{DType: s.DType}
	if s.Dimensions != nil {
		s2.Dimensions = make([]int, len(s.Dimensions))
		copy(s2.Dimensions, s.Dimensions)
	}
	return s2
}

// Equal compares dtype and dimensions.
func (s Shape) Equal(s2 Shape) bool {
	if s.DType != s2.DType || s.Rank() != s2.Rank() {
		return false
	}
	for i, dim := range s.Dimensions {
		if s2.Dimensions[i] != dim {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer. E.g.: "(Float32)[2 3]".
func (s Shape) String() string {
	if s.IsScalar() {
		return fmt.Sprintf("(%s)", s.DType)
	}
	parts := make([]string, 0, s.Rank())
	for _, dim := range s.Dimensions {
		parts = append(parts, fmt.Sprintf("%d", dim))
	}
	return fmt.Sprintf("(%s)[%s]", s.DType, strings.Join(parts, " "))
}
