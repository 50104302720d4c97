package ops

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/gomlx/kernelwrap/functional"
	"github.com/gomlx/kernelwrap/grids"
	"github.com/gomlx/kernelwrap/kernels"
	"github.com/gomlx/kernelwrap/types"
	"github.com/gomlx/kernelwrap/types/tensors"
)

// MutatedOutputOutOfScopeError is thrown when the functional form returns a
// buffer under a name that is not part of the original argument bundle: the
// mutated-name set and the invocation disagree, which is fatal.
type MutatedOutputOutOfScopeError struct {
	Name string
}

// Error implements the error interface.
func (e *MutatedOutputOutOfScopeError) Error() string {
	return fmt.Sprintf("functional kernel call returned mutated output %q, which is not an argument of the original call", e.Name)
}

// callFunctionalize is the functionalization bridge: in mutation-free mode a
// mutating-form call is rewritten as clone flagged inputs → functional form →
// splice results back into the identity of the original buffers, with each
// splice marked invisible to differentiation.
//
// Buffer arguments must arrive wrapped in *functional.Tracked; the bundle is
// unwrapped to concrete buffers before analysis and invocation.
//
// Known limitation: when two buffer arguments are aliasing views of the same
// underlying storage and the kernel mutates one, the other argument's tracked
// value does not observe the write -- analysis and cloning operate at the
// logical-argument level, not the storage level. Closing this requires an
// aliasing check upstream of this bridge.
func callFunctionalize(env *Env, handle kernels.Handle, grid grids.Spec, bundle *kernels.Bundle) error {
	unwrapped := functional.UnwrapBundle(bundle)
	bufferNames := unwrapped.BufferNames()
	def := env.resolve(handle)
	mutatedNames, err := kernels.MutatedArgNames(def, bufferNames)
	if err != nil {
		return err
	}
	klog.V(1).Infof("functionalizing kernel %q: buffer args %v, treated as mutated %v",
		def.Name(), bufferNames, mutatedNames)

	outputs, err := CallFunctional(env.Next(), handle, grid, unwrapped, mutatedNames)
	if err != nil {
		return err
	}

	argNames := types.SetWith(bundle.Keys()...)
	for _, name := range outputs.Keys() {
		value, _ := outputs.Get(name)
		buffer, isBuffer := value.(*tensors.Buffer)
		if !isBuffer {
			continue
		}
		if !argNames.Has(name) {
			panic(&MutatedOutputOutOfScopeError{Name: name})
		}
		original, _ := bundle.Get(name)
		tracked, isTracked := original.(*functional.Tracked)
		if !isTracked {
			exceptions.Panicf("ops: mutation-free mode requires buffer argument %q to be functionally tracked, got %T",
				name, original)
		}
		tracked.Replace(buffer)
		// The kernel's in-place effect must not appear as a differentiable
		// operation.
		tracked.MarkMutationHiddenFromAutodiff()
		tracked.CommitUpdate()
		tracked.Sync()
		// Sync replaces internally, so the hidden marking must be repeated.
		tracked.MarkMutationHiddenFromAutodiff()
	}
	return nil
}
