// Package grids computes kernel launch dimensions.
//
// A grid is the launch-dimension specification controlling how many parallel
// invocations of a kernel occur. Callers provide it in one of two forms:
//
//   - a directly invocable Go function (FromFunc), for grids computed in code;
//   - a declarative expression (FromExpr), for grids that must remain data,
//     e.g. because the surrounding engine serializes them into a graph.
//
// Declarative expressions use HCL expression syntax, evaluated in a sandboxed
// namespace: the scalar entries of the runtime argument bundle are in scope by
// name, the selected configuration's meta-parameters under `meta.*`, and a
// fixed set of helper functions (cdiv, min, max). Nothing else: the expression
// cannot reach arbitrary code.
//
// Example: `[cdiv(n, meta.BLOCK), 1, 1]`.
package grids

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/pkg/errors"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/gocty"
	"golang.org/x/exp/constraints"
	"k8s.io/klog/v2"

	"github.com/gomlx/kernelwrap/kernels"
)

// Dims are the launch dimensions of one kernel invocation. Unused trailing
// dimensions are 1.
type Dims [3]int

// String implements fmt.Stringer.
func (d Dims) String() string { return fmt.Sprintf("[%d, %d, %d]", d[0], d[1], d[2]) }

// Size returns the total number of kernel instances launched.
func (d Dims) Size() int { return d[0] * d[1] * d[2] }

// Fn computes launch dimensions from the runtime argument bundle.
type Fn func(bundle *kernels.Bundle) (Dims, error)

// Spec is a grid specification: either a directly invocable Fn or a
// declarative expression requiring compilation. A Spec is consumed once per
// invocation and not persisted.
type Spec struct {
	fn   Fn
	expr string
}

// FromFunc returns a Spec wrapping a directly invocable grid function.
func FromFunc(fn Fn) Spec { return Spec{fn: fn} }

// FromExpr returns a Spec holding a declarative grid expression.
func FromExpr(expr string) Spec { return Spec{expr: expr} }

// IsZero returns whether the Spec is empty.
func (s Spec) IsZero() bool { return s.fn == nil && s.expr == "" }

// String implements fmt.Stringer.
func (s Spec) String() string {
	if s.fn != nil {
		return "grid(fn)"
	}
	return fmt.Sprintf("grid(%q)", s.expr)
}

// CeilDiv returns ceil(a/b) for positive b.
func CeilDiv[T constraints.Integer](a, b T) T {
	return (a + b - 1) / b
}

// Compile resolves spec into an invocable grid function. A function Spec is
// returned as is. A declarative Spec is parsed once here; evaluation against
// the argument bundle happens per invocation.
//
// For autotuned kernels the meta-parameters of the first configuration variant
// are exposed to the expression: variant selection is the auto-tuner's concern
// and does not change grid arithmetic in the supported expressions.
func Compile(spec Spec, def kernels.Definition) (Fn, error) {
	if spec.fn != nil {
		return spec.fn, nil
	}
	if spec.expr == "" {
		return nil, errors.Errorf("empty grid specification for kernel %q", def.Name())
	}
	expr, diags := hclsyntax.ParseExpression([]byte(spec.expr), "<grid>", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return nil, errors.Wrapf(diags, "parsing grid expression %q for kernel %q", spec.expr, def.Name())
	}
	meta := kernels.ConfigsOf(def)[0].Meta
	klog.V(2).Infof("compiled grid expression %q for kernel %q", spec.expr, def.Name())
	return func(bundle *kernels.Bundle) (Dims, error) {
		return evalGridExpr(expr, spec.expr, meta, bundle)
	}, nil
}

func evalGridExpr(expr hclsyntax.Expression, src string, meta map[string]int64, bundle *kernels.Bundle) (Dims, error) {
	evalCtx := &hcl.EvalContext{
		Variables: scopeVariables(meta, bundle),
		Functions: sandboxFunctions,
	}
	value, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return Dims{}, errors.Wrapf(diags, "evaluating grid expression %q", src)
	}
	return dimsFromValue(value, src)
}

// scopeVariables exposes the bundle's scalar entries by name plus the
// meta-parameters under `meta.*`. Buffer arguments are not in scope.
func scopeVariables(meta map[string]int64, bundle *kernels.Bundle) map[string]cty.Value {
	variables := make(map[string]cty.Value)
	bundle.Range(func(name string, value any) bool {
		switch v := value.(type) {
		case int:
			variables[name] = cty.NumberIntVal(int64(v))
		case int64:
			variables[name] = cty.NumberIntVal(v)
		case float64:
			variables[name] = cty.NumberFloatVal(v)
		case bool:
			variables[name] = cty.BoolVal(v)
		case string:
			variables[name] = cty.StringVal(v)
		}
		return true
	})
	metaValues := make(map[string]cty.Value, len(meta))
	for name, value := range meta {
		metaValues[name] = cty.NumberIntVal(value)
	}
	if len(metaValues) == 0 {
		variables["meta"] = cty.EmptyObjectVal
	} else {
		variables["meta"] = cty.ObjectVal(metaValues)
	}
	return variables
}

func dimsFromValue(value cty.Value, src string) (Dims, error) {
	dims := Dims{1, 1, 1}
	if value.Type() == cty.Number {
		n, err := dimFromValue(value, src)
		if err != nil {
			return Dims{}, err
		}
		dims[0] = n
		return dims, nil
	}
	if !value.Type().IsTupleType() && !value.Type().IsListType() {
		return Dims{}, errors.Errorf("grid expression %q must yield a number or a list of up to 3 numbers, got %s",
			src, value.Type().FriendlyName())
	}
	axis := 0
	for it := value.ElementIterator(); it.Next(); axis++ {
		if axis >= len(dims) {
			return Dims{}, errors.Errorf("grid expression %q yields more than 3 dimensions", src)
		}
		_, element := it.Element()
		n, err := dimFromValue(element, src)
		if err != nil {
			return Dims{}, err
		}
		dims[axis] = n
	}
	return dims, nil
}

func dimFromValue(value cty.Value, src string) (int, error) {
	var n int64
	if err := gocty.FromCtyValue(value, &n); err != nil {
		return 0, errors.Wrapf(err, "grid expression %q must yield integers", src)
	}
	if n < 0 {
		return 0, errors.Errorf("grid expression %q yields negative dimension %d", src, n)
	}
	return int(n), nil
}

// sandboxFunctions is the fixed allow-list of functions available to grid
// expressions.
var sandboxFunctions = map[string]function.Function{
	"cdiv": makeIntBinaryFn("cdiv", func(a, b int64) (int64, error) {
		if b <= 0 {
			return 0, errors.Errorf("cdiv: divisor must be positive, got %d", b)
		}
		return CeilDiv(a, b), nil
	}),
	"min": makeIntBinaryFn("min", func(a, b int64) (int64, error) {
		return min(a, b), nil
	}),
	"max": makeIntBinaryFn("max", func(a, b int64) (int64, error) {
		return max(a, b), nil
	}),
}

func makeIntBinaryFn(name string, impl func(a, b int64) (int64, error)) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "a", Type: cty.Number},
			{Name: "b", Type: cty.Number},
		},
		Type: function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			var a, b int64
			if err := gocty.FromCtyValue(args[0], &a); err != nil {
				return cty.NilVal, errors.Wrapf(err, "%s: first argument", name)
			}
			if err := gocty.FromCtyValue(args[1], &b); err != nil {
				return cty.NilVal, errors.Wrapf(err, "%s: second argument", name)
			}
			result, err := impl(a, b)
			if err != nil {
				return cty.NilVal, err
			}
			return cty.NumberIntVal(result), nil
		},
	})
}
