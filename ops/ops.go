// Package ops implements the kernel-call operator: the single logical
// operation "invoke external kernel K over grid G with arguments A",
// reinterpreted under four execution semantics.
//
// The mutating form (Call) executes the kernel for its in-place effects on
// buffer arguments. The functional form (CallFunctional) additionally receives
// the list of arguments known to be mutated, clones them, invokes the mutating
// form on the clones and returns only their new values, never touching the
// originals. In mutation-free mode the functionalization bridge rewrites a
// mutating call through the functional form and splices the results back into
// the identity of the original buffers, hidden from differentiation.
//
// Which interpretation runs is selected by the Mode of the Env threaded
// through the call; see Mode and Env.
package ops

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/gomlx/kernelwrap/grids"
	"github.com/gomlx/kernelwrap/kernels"
	"github.com/gomlx/kernelwrap/tracer"
)

// Operation identities recorded into traced graphs.
const (
	OpKernelCallMutating   = "kernel_call_mutating"
	OpKernelCallFunctional = "kernel_call_functional"
)

// Launcher is the synchronous boundary to real kernel execution: it runs def
// at the given launch dimensions against the argument bundle, mutating buffer
// arguments in place, and returns any kernel failure unmodified.
//
// It runs to completion on the calling goroutine; supervision of hung kernels
// is the caller's responsibility.
type Launcher func(def kernels.Definition, dims grids.Dims, args *kernels.Bundle) error

// Env selects the interpretation of kernel calls and carries the collaborators
// each interpretation needs. It is immutable from this package's point of
// view: mode lowering (Next) returns copies.
type Env struct {
	// Mode of interpretation for calls made with this Env.
	Mode Mode

	// Registry resolving kernel handles. Defaults to kernels.DefaultRegistry.
	Registry *kernels.Registry

	// Tracer records graph nodes; required in ModeTracing.
	Tracer *tracer.Tracer

	// Launcher executes kernels for real; required whenever a call bottoms
	// out in ModeConcrete.
	Launcher Launcher

	// ShapeOnly makes mode lowering bottom out in ModeAbstract instead of
	// ModeConcrete: the bundles in flight hold abstract buffers and no real
	// execution is possible.
	ShapeOnly bool
}

// NewEnv returns an Env for the given mode, resolving handles against
// kernels.DefaultRegistry.
func NewEnv(mode Mode) *Env {
	return &Env{
		Mode:      mode,
		Registry:  kernels.DefaultRegistry,
		ShapeOnly: mode == ModeAbstract,
	}
}

// WithRegistry sets the registry used to resolve handles. It returns the Env
// to allow chaining.
func (e *Env) WithRegistry(registry *kernels.Registry) *Env {
	e.Registry = registry
	return e
}

// WithTracer sets the graph recorder. It returns the Env to allow chaining.
func (e *Env) WithTracer(t *tracer.Tracer) *Env {
	e.Tracer = t
	return e
}

// WithLauncher sets the kernel executor. It returns the Env to allow chaining.
func (e *Env) WithLauncher(launcher Launcher) *Env {
	e.Launcher = launcher
	return e
}

// Next returns a copy of the Env one interpretation layer down:
// Functionalize delegates to Tracing when a Tracer is installed, Tracing to
// Abstract or Concrete depending on ShapeOnly. Concrete and Abstract are the
// bottom of the stack and lower to themselves.
func (e *Env) Next() *Env {
	next := *e
	switch e.Mode {
	case ModeFunctionalize:
		switch {
		case e.Tracer != nil:
			next.Mode = ModeTracing
		case e.ShapeOnly:
			next.Mode = ModeAbstract
		default:
			next.Mode = ModeConcrete
		}
	case ModeTracing:
		if e.ShapeOnly {
			next.Mode = ModeAbstract
		} else {
			next.Mode = ModeConcrete
		}
	}
	return &next
}

// resolve the handle, failing loudly on fabricated handles.
func (e *Env) resolve(handle kernels.Handle) kernels.Definition {
	return e.Registry.MustResolve(handle)
}

// launch compiles the grid and runs the kernel for real.
func (e *Env) launch(handle kernels.Handle, grid grids.Spec, bundle *kernels.Bundle) error {
	def := e.resolve(handle)
	gridFn, err := grids.Compile(grid, def)
	if err != nil {
		return err
	}
	dims, err := gridFn(bundle)
	if err != nil {
		return err
	}
	if e.Launcher == nil {
		return errors.Errorf("concrete execution of kernel %q requires a Launcher in the Env", def.Name())
	}
	// Kernel failures propagate unmodified: no retry, no wrapping.
	return e.Launcher(def, dims, bundle)
}

func (e *Env) tracerOrPanic() *tracer.Tracer {
	if e.Tracer == nil {
		exceptions.Panicf("ops: %s requires a Tracer in the Env", e.Mode)
	}
	return e.Tracer
}
