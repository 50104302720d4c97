package ops_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/kernelwrap/grids"
	"github.com/gomlx/kernelwrap/kernels"
	"github.com/gomlx/kernelwrap/ops"
	"github.com/gomlx/kernelwrap/tracer"
	"github.com/gomlx/kernelwrap/types/tensors"
)

// addOneKernel reads x_ptr and writes x+1 to out_ptr. The mutation analysis
// classifies out_ptr as mutated and x_ptr as read-only.
const addOneKernelSrc = `
def add_one_kernel(x_ptr, out_ptr, n, BLOCK: tl.constexpr):
    offs = tl.program_id(0) * BLOCK + tl.arange(0, BLOCK)
    mask = offs < n
    x = tl.load(x_ptr + offs, mask=mask)
    tl.store(out_ptr + offs, x + 1, mask=mask)
`

// testHarness bundles the pieces every interpretation test needs: a private
// registry with the add-one kernel registered, and a Launcher that executes
// its semantics in Go, counting invocations.
type testHarness struct {
	registry *kernels.Registry
	handle   kernels.Handle
	def      kernels.Definition
	launches int
	lastDims grids.Dims
}

func newTestHarness(t *testing.T) *testHarness {
	h := &testHarness{registry: kernels.NewRegistry()}
	h.def = kernels.NewAutotuned(kernels.MustNew(addOneKernelSrc),
		kernels.Config{Meta: map[string]int64{"BLOCK": 4}, NumWarps: 4})
	h.handle = h.registry.Register(h.def)
	return h
}

func (h *testHarness) launcher(t *testing.T) ops.Launcher {
	return func(def kernels.Definition, dims grids.Dims, args *kernels.Bundle) error {
		h.launches++
		h.lastDims = dims
		assert.Same(t, h.def, def)
		in := args.Buffer("x_ptr")
		out := args.Buffer("out_ptr")
		require.NotNil(t, in)
		require.NotNil(t, out)
		tensors.ConstFlatData(in, func(src []float32) {
			tensors.MutableFlatData(out, func(dst []float32) {
				for i, v := range src {
					dst[i] = v + 1
				}
			})
		})
		return nil
	}
}

func (h *testHarness) bundle(in, out *tensors.Buffer) *kernels.Bundle {
	return kernels.NewBundle().
		Set("x_ptr", in).
		Set("out_ptr", out).
		Set("n", int64(in.Size()))
}

func (h *testHarness) grid() grids.Spec {
	return grids.FromExpr("[cdiv(n, meta.BLOCK), 1, 1]")
}

func inputBuffer() *tensors.Buffer {
	return tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 6)
}

func zeroBuffer() *tensors.Buffer {
	return tensors.FromFlatDataAndDimensions(make([]float32, 6), 6)
}

func TestCallConcrete(t *testing.T) {
	h := newTestHarness(t)
	env := ops.NewEnv(ops.ModeConcrete).WithRegistry(h.registry).WithLauncher(h.launcher(t))

	in, out := inputBuffer(), zeroBuffer()
	require.NoError(t, ops.Call(env, h.handle, h.grid(), h.bundle(in, out)))

	assert.Equal(t, 1, h.launches)
	assert.Equal(t, grids.Dims{2, 1, 1}, h.lastDims) // cdiv(6, BLOCK=4)
	assert.Equal(t, []float32{2, 3, 4, 5, 6, 7}, tensors.CopyFlatData[float32](out))
	// The input is read, never written.
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, tensors.CopyFlatData[float32](in))
}

func TestCallConcreteRequiresLauncher(t *testing.T) {
	h := newTestHarness(t)
	env := ops.NewEnv(ops.ModeConcrete).WithRegistry(h.registry)
	err := ops.Call(env, h.handle, h.grid(), h.bundle(inputBuffer(), zeroBuffer()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Launcher")
}

func TestCallPropagatesKernelErrors(t *testing.T) {
	h := newTestHarness(t)
	env := ops.NewEnv(ops.ModeConcrete).WithRegistry(h.registry).
		WithLauncher(func(def kernels.Definition, dims grids.Dims, args *kernels.Bundle) error {
			return assert.AnError
		})
	err := ops.Call(env, h.handle, h.grid(), h.bundle(inputBuffer(), zeroBuffer()))
	// Kernel failures arrive unwrapped.
	assert.Same(t, assert.AnError, err)
}

func TestCallAbstract(t *testing.T) {
	h := newTestHarness(t)
	env := ops.NewEnv(ops.ModeAbstract).WithRegistry(h.registry)
	assert.True(t, env.ShapeOnly)

	in := inputBuffer().AbstractLike()
	out := zeroBuffer().AbstractLike()
	// No launcher installed: shape-only calls never execute anything, and
	// repeating them changes nothing.
	require.NoError(t, ops.Call(env, h.handle, h.grid(), h.bundle(in, out)))
	require.NoError(t, ops.Call(env, h.handle, h.grid(), h.bundle(in, out)))
	assert.True(t, out.IsAbstract())
}

func TestCallFunctionalConcrete(t *testing.T) {
	h := newTestHarness(t)
	env := ops.NewEnv(ops.ModeConcrete).WithRegistry(h.registry).WithLauncher(h.launcher(t))

	in, out := inputBuffer(), zeroBuffer()
	outputs, err := ops.CallFunctional(env, h.handle, h.grid(), h.bundle(in, out), []string{"out_ptr"})
	require.NoError(t, err)

	// The original buffers are untouched; the new value lives in the outputs.
	assert.Equal(t, []float32{0, 0, 0, 0, 0, 0}, tensors.CopyFlatData[float32](out))
	require.Equal(t, []string{"out_ptr"}, outputs.Keys())
	result := outputs.Buffer("out_ptr")
	require.NotNil(t, result)
	assert.NotSame(t, out, result)
	assert.Equal(t, []float32{2, 3, 4, 5, 6, 7}, tensors.CopyFlatData[float32](result))
}

func TestCallFunctionalPreservesStrides(t *testing.T) {
	h := newTestHarness(t)
	env := ops.NewEnv(ops.ModeConcrete).WithRegistry(h.registry).
		WithLauncher(func(def kernels.Definition, dims grids.Dims, args *kernels.Bundle) error {
			return nil
		})

	out := tensors.FromFlatDataAndDimensions(make([]float32, 6), 2, 3).WithStrides([]int{1, 2})
	bundle := h.bundle(inputBuffer(), out)
	outputs, err := ops.CallFunctional(env, h.handle, h.grid(), bundle, []string{"out_ptr"})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, outputs.Buffer("out_ptr").Strides())
}

func TestCallFunctionalAbstract(t *testing.T) {
	h := newTestHarness(t)
	env := ops.NewEnv(ops.ModeAbstract).WithRegistry(h.registry)

	in := inputBuffer().AbstractLike()
	out := zeroBuffer().AbstractLike().WithStrides([]int{2})
	outputs, err := ops.CallFunctional(env, h.handle, h.grid(), h.bundle(in, out), []string{"out_ptr"})
	require.NoError(t, err)

	clone := outputs.Buffer("out_ptr")
	require.NotNil(t, clone)
	assert.True(t, clone.IsAbstract())
	assert.NotSame(t, out, clone)
	assert.Equal(t, out.Shape(), clone.Shape())
	assert.Equal(t, []int{2}, clone.Strides())
}

func TestCallTracing(t *testing.T) {
	h := newTestHarness(t)
	tr := tracer.New()
	env := ops.NewEnv(ops.ModeTracing).WithRegistry(h.registry).WithLauncher(h.launcher(t)).WithTracer(tr)

	in, out := inputBuffer(), zeroBuffer()
	require.NoError(t, ops.Call(env, h.handle, h.grid(), h.bundle(in, out)))

	// The kernel ran for real, exactly once, and one node was recorded.
	assert.Equal(t, 1, h.launches)
	assert.Equal(t, []float32{2, 3, 4, 5, 6, 7}, tensors.CopyFlatData[float32](out))
	require.Len(t, tr.Nodes(), 1)
	node := tr.Nodes()[0]
	assert.Equal(t, ops.OpKernelCallMutating, node.Op())
	assert.Equal(t, int64(h.handle), node.Args().MustGet("kernel_handle"))
	assert.Empty(t, node.Outputs())

	// A second call is a second node, with a uniquified name.
	require.NoError(t, ops.Call(env, h.handle, h.grid(), h.bundle(in, out)))
	require.Len(t, tr.Nodes(), 2)
	assert.NotEqual(t, tr.Nodes()[0].Name(), tr.Nodes()[1].Name())
}

func TestCallFunctionalTracing(t *testing.T) {
	h := newTestHarness(t)
	tr := tracer.New()
	env := ops.NewEnv(ops.ModeTracing).WithRegistry(h.registry).WithLauncher(h.launcher(t)).WithTracer(tr)

	outputs, err := ops.CallFunctional(env, h.handle, h.grid(),
		h.bundle(inputBuffer(), zeroBuffer()), []string{"out_ptr"})
	require.NoError(t, err)

	require.Len(t, tr.Nodes(), 1)
	node := tr.Nodes()[0]
	assert.Equal(t, ops.OpKernelCallFunctional, node.Op())
	assert.Equal(t, []string{"out_ptr"}, node.Args().MustGet("mutated_names"))
	// The node's tracked outputs are the functional results.
	require.Len(t, node.Outputs(), 1)
	assert.Equal(t, "out_ptr", node.Outputs()[0].Key())
	assert.Same(t, outputs.Buffer("out_ptr"), node.Outputs()[0].Concrete())
}

func TestCallTracingSuspended(t *testing.T) {
	h := newTestHarness(t)
	tr := tracer.New()
	env := ops.NewEnv(ops.ModeTracing).WithRegistry(h.registry).WithLauncher(h.launcher(t)).WithTracer(tr)

	err := tr.WithRecordingDisabled(func() error {
		return ops.Call(env, h.handle, h.grid(), h.bundle(inputBuffer(), zeroBuffer()))
	})
	require.NoError(t, err)
	assert.Equal(t, 1, h.launches)
	assert.Empty(t, tr.Nodes())
}

func TestModeStrings(t *testing.T) {
	assert.Equal(t, "Functionalize", ops.ModeFunctionalize.String())
	for _, mode := range ops.ModeValues() {
		parsed, err := ops.ModeString(mode.String())
		require.NoError(t, err)
		assert.Equal(t, mode, parsed)
	}
	_, err := ops.ModeString("Bogus")
	assert.Error(t, err)
}

func TestEnvNext(t *testing.T) {
	concrete := ops.NewEnv(ops.ModeConcrete)
	assert.Equal(t, ops.ModeConcrete, concrete.Next().Mode)

	abstract := ops.NewEnv(ops.ModeAbstract)
	assert.Equal(t, ops.ModeAbstract, abstract.Next().Mode)

	tracing := ops.NewEnv(ops.ModeTracing).WithTracer(tracer.New())
	assert.Equal(t, ops.ModeConcrete, tracing.Next().Mode)
	tracing.ShapeOnly = true
	assert.Equal(t, ops.ModeAbstract, tracing.Next().Mode)

	fz := ops.NewEnv(ops.ModeFunctionalize)
	assert.Equal(t, ops.ModeConcrete, fz.Next().Mode)
	fz.ShapeOnly = true
	assert.Equal(t, ops.ModeAbstract, fz.Next().Mode)
	fz.WithTracer(tracer.New())
	assert.Equal(t, ops.ModeTracing, fz.Next().Mode)

	// Next copies, never mutates.
	assert.Equal(t, ops.ModeFunctionalize, fz.Mode)
}
