package tracer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/kernelwrap/kernels"
	"github.com/gomlx/kernelwrap/tracer"
)

func TestRecordingSuspension(t *testing.T) {
	tr := tracer.New()
	assert.True(t, tr.Recording())

	err := tr.WithRecordingDisabled(func() error {
		assert.False(t, tr.Recording())
		// Nested suspension: recording resumes only at the outermost return.
		return tr.WithRecordingDisabled(func() error {
			assert.False(t, tr.Recording())
			return nil
		})
	})
	require.NoError(t, err)
	assert.True(t, tr.Recording())
}

func TestRecordingRestoredOnError(t *testing.T) {
	tr := tracer.New()
	err := tr.WithRecordingDisabled(func() error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.True(t, tr.Recording())
}

func TestInsertNode(t *testing.T) {
	tr := tracer.New()
	args := kernels.NewBundle().Set("n", int64(8))
	outputs := kernels.NewBundle().Set("out_ptr", "placeholder-a").Set("tmp_ptr", "placeholder-b")

	node := tr.InsertNode("kernel_call", args, "kernel_call", outputs)
	require.Len(t, tr.Nodes(), 1)
	assert.Same(t, node, tr.Nodes()[0])
	assert.Equal(t, "kernel_call", node.Op())
	assert.Same(t, args, node.Args())

	// One tracked value per output, in key order, tagged with position.
	values := node.Outputs()
	require.Len(t, values, 2)
	assert.Equal(t, 0, values[0].Index())
	assert.Equal(t, "out_ptr", values[0].Key())
	assert.Equal(t, "placeholder-a", values[0].Concrete())
	assert.Equal(t, 1, values[1].Index())
	assert.Equal(t, "tmp_ptr", values[1].Key())
	assert.Same(t, node, values[1].Node())
}

func TestInsertNodeWithoutOutputs(t *testing.T) {
	tr := tracer.New()
	node := tr.InsertNode("kernel_call_mutating", kernels.NewBundle(), "kernel_call_mutating", nil)
	assert.Empty(t, node.Outputs())
}

func TestNodeNameUniquification(t *testing.T) {
	tr := tracer.New()
	names := []string{
		tr.InsertNode("op", kernels.NewBundle(), "kernel_call", nil).Name(),
		tr.InsertNode("op", kernels.NewBundle(), "kernel_call", nil).Name(),
		tr.InsertNode("op", kernels.NewBundle(), "kernel_call", nil).Name(),
		tr.InsertNode("op", kernels.NewBundle(), "other", nil).Name(),
	}
	assert.Equal(t, []string{"kernel_call", "kernel_call_1", "kernel_call_2", "other"}, names)
}

func TestTracerIDs(t *testing.T) {
	assert.NotEqual(t, tracer.New().ID(), tracer.New().ID())
}
