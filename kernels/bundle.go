package kernels

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"

	"github.com/gomlx/kernelwrap/types/tensors"
)

// Bundle is the ordered argument bundle of one kernel invocation: a mapping
// from argument name to value that remembers insertion order.
//
// Values are either plain scalars (int64, float64, bool) or *tensors.Buffer.
// Key order is stable across the mutating and functional forms of the same
// logical call, which is what lets the functionalization bridge correlate a
// functional-form output with the original buffer it replaces.
type Bundle struct {
	keys   []string
	values map[string]any
}

// NewBundle returns an empty Bundle.
func NewBundle() *Bundle {
	return &Bundle{values: make(map[string]any)}
}

// Set sets name to value, appending name to the key order if new. It returns
// the Bundle to allow chaining.
func (b *Bundle) Set(name string, value any) *Bundle {
	if _, found := b.values[name]; !found {
		b.keys = append(b.keys, name)
	}
	b.values[name] = value
	return b
}

// Get returns the value for name and whether it is present.
func (b *Bundle) Get(name string) (any, bool) {
	value, found := b.values[name]
	return value, found
}

// MustGet returns the value for name, panicking if it is absent.
func (b *Bundle) MustGet(name string) any {
	value, found := b.values[name]
	if !found {
		exceptions.Panicf("kernels.Bundle: no argument named %q in %s", name, b)
	}
	return value
}

// Has returns whether name is present.
func (b *Bundle) Has(name string) bool {
	_, found := b.values[name]
	return found
}

// Buffer returns the value for name if it is a buffer, or nil.
func (b *Bundle) Buffer(name string) *tensors.Buffer {
	if buffer, ok := b.values[name].(*tensors.Buffer); ok {
		return buffer
	}
	return nil
}

// Keys returns the argument names in insertion order. Owned by the Bundle,
// must not be mutated.
func (b *Bundle) Keys() []string { return b.keys }

// Len returns the number of arguments.
func (b *Bundle) Len() int { return len(b.keys) }

// Clone returns a shallow copy: same keys and values, independent bookkeeping.
// Buffer values are shared, not copied.
func (b *Bundle) Clone() *Bundle {
	clone := &Bundle{
		keys:   make([]string, len(b.keys)),
		values: make(map[string]any, len(b.values)),
	}
	copy(clone.keys, b.keys)
	for name, value := range b.values {
		clone.values[name] = value
	}
	return clone
}

// BufferNames returns, in key order, the names whose values are buffers.
func (b *Bundle) BufferNames() []string {
	var names []string
	for _, name := range b.keys {
		if _, ok := b.values[name].(*tensors.Buffer); ok {
			names = append(names, name)
		}
	}
	return names
}

// Range calls f for each argument in key order until f returns false.
func (b *Bundle) Range(f func(name string, value any) bool) {
	for _, name := range b.keys {
		if !f(name, b.values[name]) {
			return
		}
	}
}

// String implements fmt.Stringer.
func (b *Bundle) String() string {
	parts := make([]string, 0, len(b.keys))
	for _, name := range b.keys {
		parts = append(parts, fmt.Sprintf("%s=%v", name, b.values[name]))
	}
	return "Bundle{" + strings.Join(parts, ", ") + "}"
}
