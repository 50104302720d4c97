// Package kernels represents externally-defined computational kernels: opaque,
// side-effecting routines that read and write caller-supplied buffers in place.
//
// The package owns the three pieces of bookkeeping needed before such a kernel
// can be absorbed into a graph of pure operations:
//
//   - Kernel and Autotuned: immutable descriptions of a kernel (its source,
//     parsed syntax tree and configuration variants).
//   - Registry: a process-wide side table mapping kernels to small integer
//     handles, because the kernel object itself cannot be embedded inside a
//     serializable graph node.
//   - AnalyzeMutations: a conservative static scan that discovers which buffer
//     arguments a kernel writes.
package kernels

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/kernelwrap/klang"
)

// Definition is the common interface of a plain *Kernel and an *Autotuned
// wrapper. Values are compared by identity in the Registry, so definitions must
// be built once and shared.
type Definition interface {
	// Name of the kernel entry point.
	Name() string

	// Base unwraps to the single underlying kernel definition. A *Kernel
	// returns itself.
	Base() *Kernel
}

// Kernel is an immutable description of one external kernel: its entry-point
// name, parameter names and source, parsed once at construction.
//
// The syntax tree is inspected by the mutation analysis and never modified.
type Kernel struct {
	name   string
	params []string
	source string
	tree   *klang.Module
	def    *klang.FuncDef
}

// New parses source and returns the Kernel for its first function definition.
func New(source string) (*Kernel, error) {
	tree, err := klang.Parse(source)
	if err != nil {
		return nil, err
	}
	def := tree.Main()
	return &Kernel{
		name:   def.Name,
		params: def.Params,
		source: source,
		tree:   tree,
		def:    def,
	}, nil
}

// MustNew is like New but panics on parse errors. Useful for kernels defined as
// package-level constants.
func MustNew(source string) *Kernel {
	k, err := New(source)
	if err != nil {
		exceptions.Panicf("kernels.MustNew: %+v", err)
	}
	return k
}

// Name of the kernel entry point.
func (k *Kernel) Name() string { return k.name }

// Params returns the kernel's parameter names, in declaration order. Owned by
// the Kernel, must not be mutated.
func (k *Kernel) Params() []string { return k.params }

// Source returns the kernel source text.
func (k *Kernel) Source() string { return k.source }

// Tree returns the parsed syntax tree. Read-only.
func (k *Kernel) Tree() *klang.Module { return k.tree }

// Def returns the function definition node of the kernel entry point.
func (k *Kernel) Def() *klang.FuncDef { return k.def }

// Base implements Definition: a plain kernel is its own base.
func (k *Kernel) Base() *Kernel { return k }

// Config is one configuration variant of an autotuned kernel: compile-time
// meta-parameter values (e.g. block sizes) plus launch tuning knobs.
type Config struct {
	// Meta maps meta-parameter name to its value for this variant. These are
	// also made available to declarative grid expressions as `meta.<name>`.
	Meta map[string]int64

	NumWarps  int
	NumStages int
}

// Autotuned wraps a Kernel with a set of configuration variants among which an
// external auto-tuner selects at launch time. For analysis purposes it is
// transparent: Base returns the underlying kernel.
type Autotuned struct {
	base    *Kernel
	configs []Config
}

// NewAutotuned wraps base with its configuration variants.
func NewAutotuned(base *Kernel, configs ...Config) *Autotuned {
	if len(configs) == 0 {
		exceptions.Panicf("kernels.NewAutotuned(%q): at least one config is required", base.Name())
	}
	return &Autotuned{base: base, configs: configs}
}

// Name of the underlying kernel entry point.
func (a *Autotuned) Name() string { return a.base.Name() }

// Base implements Definition: it unwraps to the underlying kernel definition.
func (a *Autotuned) Base() *Kernel { return a.base }

// Configs returns the configuration variants. Owned by the Autotuned value,
// must not be mutated.
func (a *Autotuned) Configs() []Config { return a.configs }

// ConfigsOf returns def's configuration variants, or a single empty Config for
// a plain kernel.
func ConfigsOf(def Definition) []Config {
	if autotuned, ok := def.(*Autotuned); ok {
		return autotuned.Configs()
	}
	return []Config{{}}
}
