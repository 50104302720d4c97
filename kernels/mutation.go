package kernels

import (
	"github.com/pkg/errors"

	"github.com/gomlx/kernelwrap/klang"
	"github.com/gomlx/kernelwrap/types"
)

// MutationInfo is the per-argument result of AnalyzeMutations.
//
// An argument with neither flag set was only ever seen inside provably
// read-only operations. Callers must treat UsedOpaquely as "assume mutated":
// missing a real mutation produces silently wrong results downstream, whereas
// over-reporting only costs an unnecessary clone.
type MutationInfo struct {
	// Mutated: the argument appears as the target of an explicit buffer write.
	Mutated bool

	// UsedOpaquely: the argument appears in a position the analysis does not
	// understand, e.g. stored into a local variable or passed to an arbitrary
	// function.
	UsedOpaquely bool
}

// ErrUnsupportedWriteNesting is returned when a buffer write appears nested
// inside a read-only operation or inside another write. Such kernels are
// rejected rather than mis-analyzed.
var ErrUnsupportedWriteNesting = errors.New("buffer write nested inside a read-only operation or another write")

// kernelLangAlias is the namespace kernel sources are assumed to address the
// kernel language under (`tl.load`, `tl.store`, ...). A source using a
// different alias makes every use look opaque, which over-reports mutations
// but is never unsafe.
const kernelLangAlias = "tl"

// allowedReadFns are the kernel-language calls known to only read their
// arguments. References nested inside them contribute no mutation signal.
var allowedReadFns = types.SetWith(
	"load",
	"max_constancy",
	"max_contiguous",
	"multiple_of",
	"static_print",
	"static_assert",
	"device_print",
	"device_assert",
)

// scanState is the traversal state of one analysis pass.
type scanState struct {
	infos map[string]*MutationInfo

	// readDepth counts enclosing allowedReadFns calls.
	readDepth int

	// inStore is set while visiting the arguments of a buffer write.
	inStore bool
}

// AnalyzeMutations scans the syntax tree of def's underlying kernel and
// classifies each of the given argument names as read-only (neither flag),
// mutated, or opaquely used. Autotuned wrappers are unwrapped first.
//
// The scan is shallow and conservative by design: no data-flow, no aliasing.
// `a = in_ptr` followed by `tl.load(a)` reports in_ptr as opaquely used (and so
// assumed mutated) even though it is only read.
//
// It returns ErrUnsupportedWriteNesting (wrapped, with position) if a write
// appears inside a read-only call or inside another write.
func AnalyzeMutations(def Definition, names []string) (map[string]*MutationInfo, error) {
	kernel := def.Base()
	state := &scanState{infos: make(map[string]*MutationInfo, len(names))}
	for _, name := range names {
		state.infos[name] = &MutationInfo{}
	}
	for _, stmt := range kernel.Def().Body {
		if err := state.walk(stmt); err != nil {
			return nil, err
		}
	}
	return state.infos, nil
}

// MutatedArgNames returns the subset of names that must be treated as mutated
// by def: explicitly written, or used opaquely. Order follows names.
func MutatedArgNames(def Definition, names []string) ([]string, error) {
	infos, err := AnalyzeMutations(def, names)
	if err != nil {
		return nil, err
	}
	var mutated []string
	for _, name := range names {
		if info := infos[name]; info.Mutated || info.UsedOpaquely {
			mutated = append(mutated, name)
		}
	}
	return mutated, nil
}

func (s *scanState) walk(node klang.Node) error {
	switch n := node.(type) {
	case *klang.Name:
		info, tracked := s.infos[n.ID]
		if !tracked {
			return nil
		}
		switch {
		case s.readDepth > 0:
			// Nested inside a provably read-only operation: no signal.
		case s.inStore:
			info.Mutated = true
		default:
			info.UsedOpaquely = true
		}
		return nil

	case *klang.Call:
		if attr := kernelLangCall(n); attr != "" {
			if attr == "store" {
				if s.readDepth > 0 || s.inStore {
					return errors.Wrapf(ErrUnsupportedWriteNesting, "tl.store at %s", n.Position())
				}
				s.inStore = true
				err := s.walkChildren(n)
				s.inStore = false
				return err
			}
			if allowedReadFns.Has(attr) {
				s.readDepth++
				err := s.walkChildren(n)
				s.readDepth--
				return err
			}
		}
		// Any other call recurses without changing state: its arguments are
		// judged by the ambient read/store context.
		return s.walkChildren(n)
	}
	return s.walkChildren(node)
}

// kernelLangCall returns the attribute name for calls of the form
// `tl.<attr>(...)`, or "" for any other call form.
func kernelLangCall(call *klang.Call) string {
	attr, ok := call.Func.(*klang.Attribute)
	if !ok {
		return ""
	}
	base, ok := attr.Value.(*klang.Name)
	if !ok || base.ID != kernelLangAlias {
		return ""
	}
	return attr.Attr
}

// walkChildren recurses into the direct children of node.
func (s *scanState) walkChildren(node klang.Node) error {
	walkAll := func(nodes ...klang.Node) error {
		for _, child := range nodes {
			if child == nil {
				continue
			}
			if err := s.walk(child); err != nil {
				return err
			}
		}
		return nil
	}
	switch n := node.(type) {
	case *klang.Module:
		for _, fn := range n.Funcs {
			if err := s.walk(fn); err != nil {
				return err
			}
		}
	case *klang.FuncDef:
		for _, stmt := range n.Body {
			if err := s.walk(stmt); err != nil {
				return err
			}
		}
	case *klang.AssignStmt:
		return walkAll(n.Target, n.Value)
	case *klang.ExprStmt:
		return s.walk(n.X)
	case *klang.IfStmt:
		if err := s.walk(n.Cond); err != nil {
			return err
		}
		for _, stmt := range append(append([]klang.Stmt{}, n.Body...), n.Else...) {
			if err := s.walk(stmt); err != nil {
				return err
			}
		}
	case *klang.ForStmt:
		if err := walkAll(n.Target, n.Iter); err != nil {
			return err
		}
		for _, stmt := range n.Body {
			if err := s.walk(stmt); err != nil {
				return err
			}
		}
	case *klang.ReturnStmt:
		return walkAll(n.Value)
	case *klang.Attribute:
		return s.walk(n.Value)
	case *klang.Call:
		if err := s.walk(n.Func); err != nil {
			return err
		}
		for _, arg := range n.Args {
			if err := s.walk(arg); err != nil {
				return err
			}
		}
		for _, kw := range n.Keywords {
			if err := s.walk(kw.Value); err != nil {
				return err
			}
		}
	case *klang.Subscript:
		return walkAll(n.Value, n.Index)
	case *klang.BinOp:
		return walkAll(n.X, n.Y)
	case *klang.UnaryOp:
		return s.walk(n.X)
	case *klang.CondExpr:
		return walkAll(n.Body, n.Cond, n.Orelse)
	case *klang.Tuple:
		for _, elt := range n.Elts {
			if err := s.walk(elt); err != nil {
				return err
			}
		}
	case *klang.Name, *klang.Number, *klang.Str:
		// Leaves.
	}
	return nil
}
