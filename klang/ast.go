// Package klang implements a shallow parser for the source language external
// kernels are written in: a small Python-like DSL where buffers are read with
// `tl.load(...)` and written with `tl.store(...)`.
//
// The package produces a plain syntax tree -- no name resolution, no types, no
// data-flow. That is all the mutation analysis downstream needs: it only has to
// see where argument names appear and inside which call forms.
//
// The tree mirrors go/ast conventions: one struct per node kind, consumers
// dispatch with a type switch.
package klang

import "fmt"

// Pos is a position in the kernel source, 1-based.
type Pos struct {
	Line, Col int
}

// String implements fmt.Stringer.
func (p Pos) String() string { return fmt.Sprintf("%d:%d", p.Line, p.Col) }

// Node is implemented by every syntax tree node.
type Node interface {
	Position() Pos
}

// Stmt is implemented by statement nodes.
type Stmt interface {
	Node
	stmtNode()
}

// Expr is implemented by expression nodes.
type Expr interface {
	Node
	exprNode()
}

// Module is the root of a parsed kernel source: one or more function
// definitions. Decorator lines (`@...`) are skipped by the lexer.
type Module struct {
	Funcs []*FuncDef
}

// Position implements Node.
func (m *Module) Position() Pos {
	if len(m.Funcs) == 0 {
		return Pos{1, 1}
	}
	return m.Funcs[0].Position()
}

// Main returns the first (usually only) function definition of the module.
func (m *Module) Main() *FuncDef {
	if len(m.Funcs) == 0 {
		return nil
	}
	return m.Funcs[0]
}

// FuncDef is a `def name(params...):` definition with its body.
type FuncDef struct {
	Pos    Pos
	Name   string
	Params []string
	Body   []Stmt
}

func (f *FuncDef) Position() Pos { return f.Pos }

// AssignStmt is `target = value`. Targets may be a Name, Subscript or Tuple.
type AssignStmt struct {
	Target Expr
	Value  Expr
}

func (s *AssignStmt) Position() Pos { return s.Target.Position() }
func (s *AssignStmt) stmtNode()     {}

// ExprStmt is a bare expression used as a statement, e.g. a `tl.store(...)` call.
type ExprStmt struct {
	X Expr
}

func (s *ExprStmt) Position() Pos { return s.X.Position() }
func (s *ExprStmt) stmtNode()     {}

// IfStmt is `if cond: body` with an optional `else:` block.
type IfStmt struct {
	Pos  Pos
	Cond Expr
	Body []Stmt
	Else []Stmt
}

func (s *IfStmt) Position() Pos { return s.Pos }
func (s *IfStmt) stmtNode()     {}

// ForStmt is `for target in iter: body`.
type ForStmt struct {
	Pos    Pos
	Target Expr
	Iter   Expr
	Body   []Stmt
}

func (s *ForStmt) Position() Pos { return s.Pos }
func (s *ForStmt) stmtNode()     {}

// ReturnStmt is `return` with an optional value.
type ReturnStmt struct {
	Pos   Pos
	Value Expr // may be nil
}

func (s *ReturnStmt) Position() Pos { return s.Pos }
func (s *ReturnStmt) stmtNode()     {}

// Name is an identifier reference.
type Name struct {
	Pos Pos
	ID  string
}

func (e *Name) Position() Pos { return e.Pos }
func (e *Name) exprNode()     {}

// Number is an integer or float literal, kept as its source text.
type Number struct {
	Pos     Pos
	Literal string
}

func (e *Number) Position() Pos { return e.Pos }
func (e *Number) exprNode()     {}

// Str is a string literal, already unquoted.
type Str struct {
	Pos   Pos
	Value string
}

func (e *Str) Position() Pos { return e.Pos }
func (e *Str) exprNode()     {}

// Attribute is `value.attr`.
type Attribute struct {
	Value Expr
	Attr  string
}

func (e *Attribute) Position() Pos { return e.Value.Position() }
func (e *Attribute) exprNode()     {}

// Keyword is a `name=value` argument in a call.
type Keyword struct {
	Pos   Pos
	Name  string
	Value Expr
}

func (k *Keyword) Position() Pos { return k.Pos }

// Call is `fn(args..., keywords...)`.
type Call struct {
	Func     Expr
	Args     []Expr
	Keywords []*Keyword
}

func (e *Call) Position() Pos { return e.Func.Position() }
func (e *Call) exprNode()     {}

// Subscript is `value[index]`.
type Subscript struct {
	Value Expr
	Index Expr
}

func (e *Subscript) Position() Pos { return e.Value.Position() }
func (e *Subscript) exprNode()     {}

// BinOp is a binary operation, including comparisons and boolean `and`/`or`.
type BinOp struct {
	Op   string
	X, Y Expr
}

func (e *BinOp) Position() Pos { return e.X.Position() }
func (e *BinOp) exprNode()     {}

// UnaryOp is a prefix operation: `-x` or `not x`.
type UnaryOp struct {
	Pos Pos
	Op  string
	X   Expr
}

func (e *UnaryOp) Position() Pos { return e.Pos }
func (e *UnaryOp) exprNode()     {}

// CondExpr is the Python conditional expression `body if cond else orelse`.
type CondExpr struct {
	Body   Expr
	Cond   Expr
	Orelse Expr
}

func (e *CondExpr) Position() Pos { return e.Body.Position() }
func (e *CondExpr) exprNode()     {}

// Tuple is a comma-separated expression list, e.g. a multi-target or `(a, b)`.
type Tuple struct {
	Pos  Pos
	Elts []Expr
}

func (e *Tuple) Position() Pos { return e.Pos }
func (e *Tuple) exprNode()     {}
