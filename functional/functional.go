// Package functional implements the mutation-tracking buffer wrapper used in
// mutation-free execution.
//
// In mutation-free mode every operation must be observably pure. Buffers are
// wrapped in Tracked values; an in-place effect on a wrapped buffer is
// expressed as a replacement of the tracked value with a new buffer. Each
// replacement is either visible to the differentiation engine or explicitly
// marked hidden from it -- external kernels mutate buffers behind the engine's
// back, so their effects must never surface as differentiable operations.
//
// The update protocol for one in-place effect mirrors the surrounding engine's
// hooks, in order: Replace, MarkMutationHiddenFromAutodiff, CommitUpdate,
// Sync, MarkMutationHiddenFromAutodiff again. The second marking is required
// because Sync performs an internal replacement of its own.
package functional

import (
	"fmt"

	"github.com/gomlx/exceptions"

	"github.com/gomlx/kernelwrap/kernels"
	"github.com/gomlx/kernelwrap/types/tensors"
)

// Tracked wraps a concrete buffer with functional tracking: replacements are
// staged, committed and synchronized explicitly, and each replacement's
// visibility to the differentiation engine is accounted for.
type Tracked struct {
	base    *tensors.Buffer
	pending *tensors.Buffer

	generation int
	needsSync  bool

	visibleMutations int
	hiddenMutations  int
}

// NewTracked wraps buffer. The buffer must be concrete: abstract placeholders
// never carry mutable state to track.
func NewTracked(buffer *tensors.Buffer) *Tracked {
	if buffer.IsAbstract() {
		exceptions.Panicf("functional.NewTracked: cannot track abstract buffer %s", buffer)
	}
	return &Tracked{base: buffer}
}

// Unwrap returns the current concrete value of the tracked buffer.
func (t *Tracked) Unwrap() *tensors.Buffer { return t.base }

// Replace stages newValue as the tracked value. The replacement counts as a
// visible mutation until marked hidden.
func (t *Tracked) Replace(newValue *tensors.Buffer) {
	if !newValue.Shape().Equal(t.base.Shape()) {
		exceptions.Panicf("functional.Tracked.Replace: new value shape %s != tracked shape %s",
			newValue.Shape(), t.base.Shape())
	}
	t.pending = newValue
	t.visibleMutations++
}

// MarkMutationHiddenFromAutodiff marks the most recent replacement as hidden
// from the differentiation engine. It is a no-op if there is no unhidden
// replacement.
func (t *Tracked) MarkMutationHiddenFromAutodiff() {
	if t.visibleMutations == 0 {
		return
	}
	t.visibleMutations--
	t.hiddenMutations++
}

// CommitUpdate applies the staged replacement, making it the tracked value.
// The wrapper then requires a Sync to bring its internal state up to date.
func (t *Tracked) CommitUpdate() {
	if t.pending == nil {
		return
	}
	t.base = t.pending
	t.pending = nil
	t.generation++
	t.needsSync = true
}

// Sync synchronizes the wrapper's internal state after a commit. Sync performs
// an internal replacement, so the caller must mark the mutation hidden again
// afterwards if it is meant to stay invisible to differentiation.
func (t *Tracked) Sync() {
	if !t.needsSync {
		return
	}
	t.needsSync = false
	t.visibleMutations++
}

// Generation counts committed replacements.
func (t *Tracked) Generation() int { return t.generation }

// VisibleMutations returns how many replacements are currently visible to the
// differentiation engine. After a fully reconciled external kernel effect this
// is zero.
func (t *Tracked) VisibleMutations() int { return t.visibleMutations }

// HiddenMutations returns how many replacements were marked hidden.
func (t *Tracked) HiddenMutations() int { return t.hiddenMutations }

// String implements fmt.Stringer.
func (t *Tracked) String() string {
	return fmt.Sprintf("Tracked{%s, generation=%d}", t.base, t.generation)
}

// WrapBundle returns a copy of bundle with every buffer value wrapped in a
// Tracked. Non-buffer values are passed through.
func WrapBundle(bundle *kernels.Bundle) *kernels.Bundle {
	wrapped := kernels.NewBundle()
	bundle.Range(func(name string, value any) bool {
		if buffer, ok := value.(*tensors.Buffer); ok {
			wrapped.Set(name, NewTracked(buffer))
		} else {
			wrapped.Set(name, value)
		}
		return true
	})
	return wrapped
}

// UnwrapBundle returns a copy of bundle with every Tracked value replaced by
// its current concrete buffer. Other values are passed through.
func UnwrapBundle(bundle *kernels.Bundle) *kernels.Bundle {
	unwrapped := kernels.NewBundle()
	bundle.Range(func(name string, value any) bool {
		if tracked, ok := value.(*Tracked); ok {
			unwrapped.Set(name, tracked.Unwrap())
		} else {
			unwrapped.Set(name, value)
		}
		return true
	})
	return unwrapped
}
