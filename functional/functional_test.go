package functional_test

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/kernelwrap/functional"
	"github.com/gomlx/kernelwrap/kernels"
	"github.com/gomlx/kernelwrap/types/tensors"
)

func TestUpdateProtocol(t *testing.T) {
	original := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 4)
	tracked := functional.NewTracked(original)
	assert.Same(t, original, tracked.Unwrap())
	assert.Equal(t, 0, tracked.Generation())

	replacement := tensors.FromFlatDataAndDimensions([]float32{10, 20, 30, 40}, 4)
	tracked.Replace(replacement)
	assert.Equal(t, 1, tracked.VisibleMutations())
	// Until the commit, the tracked value is unchanged.
	assert.Same(t, original, tracked.Unwrap())

	tracked.MarkMutationHiddenFromAutodiff()
	tracked.CommitUpdate()
	tracked.Sync()
	// Sync replaces internally, leaving one visible mutation to hide.
	assert.Equal(t, 1, tracked.VisibleMutations())
	tracked.MarkMutationHiddenFromAutodiff()

	assert.Same(t, replacement, tracked.Unwrap())
	assert.Equal(t, 1, tracked.Generation())
	assert.Equal(t, 0, tracked.VisibleMutations())
	assert.Equal(t, 2, tracked.HiddenMutations())
}

func TestSyncWithoutRemarkStaysVisible(t *testing.T) {
	tracked := functional.NewTracked(tensors.FromFlatDataAndDimensions([]int32{0}, 1))
	tracked.Replace(tensors.FromFlatDataAndDimensions([]int32{1}, 1))
	tracked.MarkMutationHiddenFromAutodiff()
	tracked.CommitUpdate()
	tracked.Sync()
	// Skipping the second hiding leaves the internal replacement visible.
	assert.Equal(t, 1, tracked.VisibleMutations())
	assert.Equal(t, 1, tracked.HiddenMutations())
}

func TestSyncIsIdempotent(t *testing.T) {
	tracked := functional.NewTracked(tensors.FromFlatDataAndDimensions([]int32{0}, 1))
	tracked.Sync() // nothing committed, nothing to do
	assert.Equal(t, 0, tracked.VisibleMutations())

	tracked.Replace(tensors.FromFlatDataAndDimensions([]int32{1}, 1))
	tracked.CommitUpdate()
	tracked.Sync()
	tracked.Sync()
	assert.Equal(t, 2, tracked.VisibleMutations()) // replace + one internal, not two
}

func TestMarkHiddenWithoutReplacement(t *testing.T) {
	tracked := functional.NewTracked(tensors.FromFlatDataAndDimensions([]int32{0}, 1))
	tracked.MarkMutationHiddenFromAutodiff()
	assert.Equal(t, 0, tracked.VisibleMutations())
	assert.Equal(t, 0, tracked.HiddenMutations())
}

func TestTrackedRejectsBadValues(t *testing.T) {
	abstract := tensors.NewAbstract(tensors.FromFlatDataAndDimensions([]int32{0}, 1).Shape(), nil)
	exception := exceptions.Try(func() { functional.NewTracked(abstract) })
	assert.NotNil(t, exception)

	tracked := functional.NewTracked(tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2))
	exception = exceptions.Try(func() {
		tracked.Replace(tensors.FromFlatDataAndDimensions([]float32{1, 2, 3}, 3))
	})
	assert.NotNil(t, exception)
}

func TestWrapUnwrapBundle(t *testing.T) {
	buffer := tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2)
	bundle := kernels.NewBundle().
		Set("x_ptr", buffer).
		Set("n", int64(2))

	wrapped := functional.WrapBundle(bundle)
	tracked, ok := wrapped.MustGet("x_ptr").(*functional.Tracked)
	require.True(t, ok)
	assert.Same(t, buffer, tracked.Unwrap())
	// Scalars pass through untouched.
	assert.Equal(t, int64(2), wrapped.MustGet("n"))

	unwrapped := functional.UnwrapBundle(wrapped)
	assert.Same(t, buffer, unwrapped.MustGet("x_ptr"))
	assert.Equal(t, []string{"x_ptr", "n"}, unwrapped.Keys())
}
