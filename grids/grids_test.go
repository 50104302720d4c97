package grids_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/kernelwrap/grids"
	"github.com/gomlx/kernelwrap/kernels"
)

const addKernelSrc = `
def add_kernel(x_ptr, out_ptr, n, BLOCK: tl.constexpr):
    offs = tl.program_id(0) * BLOCK + tl.arange(0, BLOCK)
    x = tl.load(x_ptr + offs, mask=offs < n)
    tl.store(out_ptr + offs, x + 1, mask=offs < n)
`

func compileAndEval(t *testing.T, spec grids.Spec, def kernels.Definition, bundle *kernels.Bundle) grids.Dims {
	fn, err := grids.Compile(spec, def)
	require.NoError(t, err)
	dims, err := fn(bundle)
	require.NoError(t, err)
	return dims
}

func TestCompileExpr(t *testing.T) {
	def := kernels.NewAutotuned(kernels.MustNew(addKernelSrc),
		kernels.Config{Meta: map[string]int64{"BLOCK": 128}, NumWarps: 4})
	bundle := kernels.NewBundle().Set("n", int64(1027))

	dims := compileAndEval(t, grids.FromExpr("[cdiv(n, meta.BLOCK), 1, 1]"), def, bundle)
	assert.Equal(t, grids.Dims{9, 1, 1}, dims)
	assert.Equal(t, 9, dims.Size())
}

func TestCompileExprForms(t *testing.T) {
	def := kernels.MustNew(addKernelSrc)
	bundle := kernels.NewBundle().Set("n", int64(40))
	for _, test := range []struct {
		expr string
		want grids.Dims
	}{
		{"n", grids.Dims{40, 1, 1}},   // bare number
		{"[n]", grids.Dims{40, 1, 1}}, // short list, padded with 1s
		{"[n, 2]", grids.Dims{40, 2, 1}},
		{"[min(n, 8), max(n, 64), 2]", grids.Dims{8, 64, 2}},
		{"[cdiv(n, 16), 1, 1]", grids.Dims{3, 1, 1}},
	} {
		assert.Equal(t, test.want, compileAndEval(t, grids.FromExpr(test.expr), def, bundle), test.expr)
	}
}

func TestCompileFunc(t *testing.T) {
	def := kernels.MustNew(addKernelSrc)
	spec := grids.FromFunc(func(bundle *kernels.Bundle) (grids.Dims, error) {
		n, _ := bundle.Get("n")
		return grids.Dims{grids.CeilDiv(int(n.(int64)), 128), 1, 1}, nil
	})
	dims := compileAndEval(t, spec, def, kernels.NewBundle().Set("n", int64(300)))
	assert.Equal(t, grids.Dims{3, 1, 1}, dims)
}

func TestCompileExprErrors(t *testing.T) {
	def := kernels.MustNew(addKernelSrc)
	bundle := kernels.NewBundle().Set("n", int64(10))

	// Empty spec.
	_, err := grids.Compile(grids.Spec{}, def)
	require.Error(t, err)

	// Parse errors are reported at compile time.
	_, err = grids.Compile(grids.FromExpr("[n,"), def)
	require.Error(t, err)

	for _, expr := range []string{
		"[unknown_var, 1, 1]",  // identifier not in the bundle
		"[n, 1, 1, 1]",         // too many dimensions
		"[n - 100, 1, 1]",      // negative dimension
		"[cdiv(n, 0), 1, 1]",   // bad divisor
		"[meta.BLOCK, 1, 1]",   // plain kernels expose an empty meta object
		"\"nine\"",             // not a number
	} {
		fn, err := grids.Compile(grids.FromExpr(expr), def)
		require.NoError(t, err, expr)
		_, err = fn(bundle)
		assert.Error(t, err, expr)
	}
}

func TestScopeExcludesBuffers(t *testing.T) {
	def := kernels.MustNew(addKernelSrc)
	bundle := kernels.NewBundle().
		Set("n", int64(16)).
		Set("x_ptr", struct{}{}) // stands in for a buffer, not a scalar
	fn, err := grids.Compile(grids.FromExpr("[x_ptr, 1, 1]"), def)
	require.NoError(t, err)
	_, err = fn(bundle)
	assert.Error(t, err)
}
