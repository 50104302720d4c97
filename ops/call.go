package ops

import (
	"github.com/gomlx/exceptions"

	"github.com/gomlx/kernelwrap/grids"
	"github.com/gomlx/kernelwrap/kernels"
)

// Call is the mutating form of the kernel-call operator.
//
// There is no return value: success means the kernel executed (under the
// Env's interpretation) and its effects, if any, are observable through the
// mutated buffer arguments.
func Call(env *Env, handle kernels.Handle, grid grids.Spec, bundle *kernels.Bundle) error {
	switch env.Mode {
	case ModeConcrete:
		return env.launch(handle, grid, bundle)
	case ModeAbstract:
		// Shape-only execution: the call is a no-op whose only purpose is to
		// be "not an error". This operator never fabricates buffers; expected
		// output shapes come from the caller's own buffer declarations.
		return nil
	case ModeTracing:
		return callTracing(env, handle, grid, bundle)
	case ModeFunctionalize:
		return callFunctionalize(env, handle, grid, bundle)
	}
	exceptions.Panicf("ops.Call: invalid execution mode %s", env.Mode)
	return nil
}

// callTracing records one graph node for the mutating call. The call itself
// runs once with recording suspended, at the next interpretation layer, so the
// recorded node stands for work that really happened (or shape-checked, under
// ShapeOnly).
func callTracing(env *Env, handle kernels.Handle, grid grids.Spec, bundle *kernels.Bundle) error {
	t := env.tracerOrPanic()
	if !t.Recording() {
		return Call(env.Next(), handle, grid, bundle)
	}
	err := t.WithRecordingDisabled(func() error {
		return Call(env.Next(), handle, grid, bundle)
	})
	if err != nil {
		return err
	}
	t.InsertNode(OpKernelCallMutating, nodeArgs(handle, grid, bundle, nil), OpKernelCallMutating, nil)
	return nil
}

// nodeArgs captures the operator arguments for a recorded node. mutatedNames
// is nil for the mutating form.
func nodeArgs(handle kernels.Handle, grid grids.Spec, bundle *kernels.Bundle, mutatedNames []string) *kernels.Bundle {
	args := kernels.NewBundle().
		Set("kernel_handle", int64(handle)).
		Set("grid", grid).
		Set("args", bundle)
	if mutatedNames != nil {
		args.Set("mutated_names", mutatedNames)
	}
	return args
}
