package ops

import (
	"github.com/gomlx/exceptions"

	"github.com/gomlx/kernelwrap/functional"
	"github.com/gomlx/kernelwrap/grids"
	"github.com/gomlx/kernelwrap/kernels"
)

// CallFunctional is the functional form of the kernel-call operator: a
// mutation-free rendition of Call with an explicit list of the argument names
// known to be mutated.
//
// It returns a bundle restricted to mutatedNames, holding the post-kernel
// values of those arguments. The input bundle is never modified: flagged
// arguments are cloned (stride-preserving) and the kernel runs against the
// clones.
func CallFunctional(env *Env, handle kernels.Handle, grid grids.Spec, bundle *kernels.Bundle,
	mutatedNames []string) (*kernels.Bundle, error) {
	switch env.Mode {
	case ModeConcrete:
		return callFunctionalConcrete(env, handle, grid, bundle, mutatedNames)
	case ModeAbstract:
		return abstractClones(bundle, mutatedNames), nil
	case ModeTracing:
		return callFunctionalTracing(env, handle, grid, bundle, mutatedNames)
	case ModeFunctionalize:
		// Already functional: unwrap any tracked arguments, run one layer
		// down, and hand the outputs back wrapped.
		unwrapped := functional.UnwrapBundle(bundle)
		outputs, err := CallFunctional(env.Next(), handle, grid, unwrapped, mutatedNames)
		if err != nil {
			return nil, err
		}
		return functional.WrapBundle(outputs), nil
	}
	exceptions.Panicf("ops.CallFunctional: invalid execution mode %s", env.Mode)
	return nil, nil
}

func callFunctionalConcrete(env *Env, handle kernels.Handle, grid grids.Spec, bundle *kernels.Bundle,
	mutatedNames []string) (*kernels.Bundle, error) {
	working := bundle.Clone()
	for _, name := range mutatedNames {
		buffer := bundle.Buffer(name)
		if buffer == nil {
			exceptions.Panicf("ops.CallFunctional: mutated argument %q is not a buffer in %s", name, bundle)
		}
		working.Set(name, buffer.CloneKeepStrides())
	}
	if err := Call(env, handle, grid, working); err != nil {
		return nil, err
	}
	outputs := kernels.NewBundle()
	for _, name := range mutatedNames {
		value, _ := working.Get(name)
		outputs.Set(name, value)
	}
	return outputs, nil
}

// abstractClones fabricates one independent abstract clone per mutated name:
// same shape, dtype and strides, no data. This lets downstream shape and dtype
// propagation proceed without running the kernel.
func abstractClones(bundle *kernels.Bundle, mutatedNames []string) *kernels.Bundle {
	outputs := kernels.NewBundle()
	for _, name := range mutatedNames {
		buffer := bundle.Buffer(name)
		if buffer == nil {
			exceptions.Panicf("ops.CallFunctional: mutated argument %q is not a buffer in %s", name, bundle)
		}
		outputs.Set(name, buffer.AbstractLike())
	}
	return outputs
}

func callFunctionalTracing(env *Env, handle kernels.Handle, grid grids.Spec, bundle *kernels.Bundle,
	mutatedNames []string) (*kernels.Bundle, error) {
	t := env.tracerOrPanic()
	if !t.Recording() {
		return CallFunctional(env.Next(), handle, grid, bundle, mutatedNames)
	}
	var outputs *kernels.Bundle
	err := t.WithRecordingDisabled(func() error {
		var innerErr error
		outputs, innerErr = CallFunctional(env.Next(), handle, grid, bundle, mutatedNames)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	t.InsertNode(OpKernelCallFunctional, nodeArgs(handle, grid, bundle, mutatedNames),
		OpKernelCallFunctional, outputs)
	return outputs, nil
}
