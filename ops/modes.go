package ops

// Mode selects under which semantics one logical kernel call is interpreted.
//
// The set of interpretations is fixed and small, so it is modeled as an
// explicit enumeration threaded through the call, not an open-ended dispatch
// registry.
type Mode int

//go:generate go tool enumer -type=Mode -trimprefix=Mode -output=gen_mode_enumer.go modes.go

const (
	// ModeConcrete executes the external kernel for real: its write
	// operations run against the caller's buffers.
	ModeConcrete Mode = iota

	// ModeAbstract is shape-only execution: no real invocation, no result.
	// The call succeeding is its only effect.
	ModeAbstract

	// ModeTracing records the call as a node in a computation graph, running
	// it once with recording suspended to obtain concrete results.
	ModeTracing

	// ModeFunctionalize is mutation-free execution: the in-place call is
	// rewritten through the functional form and the results spliced back
	// into the original buffers, hidden from differentiation.
	ModeFunctionalize
)
