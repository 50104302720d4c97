package kernels

import (
	"fmt"
	"sync"

	"github.com/gomlx/kernelwrap/types/xsync"
)

// Handle is a small integer standing in for a kernel definition inside graph
// nodes. Handles are issued sequentially per Registry and never change their
// target once assigned.
type Handle int

// UnknownHandleError is the panic value of MustResolve (recoverable with
// exceptions.TryCatch) and the error of Resolve when resolving a handle that
// was never issued by Register. It always indicates a bookkeeping bug
// upstream: handles are not supposed to be fabricated.
type UnknownHandleError struct {
	Handle Handle
}

// Error implements the error interface.
func (e *UnknownHandleError) Error() string {
	return fmt.Sprintf("kernel handle %d was never registered", e.Handle)
}

// Registry is the process-wide bidirectional mapping between kernel definitions
// and handles.
//
// Register is safe for concurrent use: the check-then-insert sequence runs under
// a mutex, and both directions of the mapping are updated inside the same
// critical section, so no observer ever sees a handle without a kernel or
// vice-versa. Resolve is lock-free: it reads from a map type that guarantees
// atomic single-key visibility consistent with prior writes.
type Registry struct {
	mu             sync.Mutex
	kernelToHandle map[Definition]Handle
	handleToKernel xsync.SyncMap[Handle, Definition]
}

// NewRegistry returns an empty Registry. Most callers use DefaultRegistry
// instead; a separate Registry is useful for isolation in tests or when
// embedding several independent engines in one process.
func NewRegistry() *Registry {
	return &Registry{kernelToHandle: make(map[Definition]Handle)}
}

// DefaultRegistry is the registry used by the kernel-call operators unless one
// is injected explicitly.
var DefaultRegistry = NewRegistry()

// Register returns the handle for def, allocating the next sequential handle if
// def was not registered before. Registering the same definition (by identity)
// twice returns the same handle.
func (r *Registry) Register(def Definition) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if handle, found := r.kernelToHandle[def]; found {
		return handle
	}
	handle := Handle(len(r.kernelToHandle))
	r.handleToKernel.Store(handle, def)
	r.kernelToHandle[def] = handle
	return handle
}

// Resolve returns the definition previously registered for handle, or an
// *UnknownHandleError if the handle was never issued.
func (r *Registry) Resolve(handle Handle) (Definition, error) {
	def, found := r.handleToKernel.Load(handle)
	if !found {
		return nil, &UnknownHandleError{Handle: handle}
	}
	return def, nil
}

// MustResolve is like Resolve but panics with the *UnknownHandleError, which
// exceptions.TryCatch recovers as a typed value: an unknown handle is an
// upstream consistency bug, not a recoverable condition.
func (r *Registry) MustResolve(handle Handle) Definition {
	def, err := r.Resolve(handle)
	if err != nil {
		panic(err)
	}
	return def
}

// Len returns the number of registered definitions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.kernelToHandle)
}

// Reset clears the registry.
//
// It is not safe under concurrency: callers must guarantee no Register or
// Resolve is in flight. It is meant only for isolation between independent test
// runs.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kernelToHandle = make(map[Definition]Handle)
	r.handleToKernel.Clear()
}
