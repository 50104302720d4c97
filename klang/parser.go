package klang

import (
	"github.com/pkg/errors"
)

// Parse scans and parses kernel source into a Module.
//
// Blocks are indentation based, like Python, but the parser only tracks the
// column of the first token of each statement: a suite is the run of statements
// indented deeper than its header. A suite may also be a single statement on
// the header's own line (`if mask: tl.store(...)`).
func Parse(src string) (*Module, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.next(); err != nil {
		return nil, err
	}
	return p.parseModule()
}

type parser struct {
	lex *lexer
	tok Token
}

func (p *parser) next() error {
	tok, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) errorf(format string, args ...any) error {
	return errors.Errorf("%s: "+format, append([]any{p.tok.Pos}, args...)...)
}

func (p *parser) expect(t TokenType, what string) (Token, error) {
	if p.tok.Type != t {
		return Token{}, p.errorf("expected %s, got %q", what, p.tok.Literal)
	}
	tok := p.tok
	return tok, p.next()
}

func (p *parser) skipNewlines() error {
	for p.tok.Type == tokNewline {
		if err := p.next(); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) parseModule() (*Module, error) {
	module := &Module{}
	for {
		if err := p.skipNewlines(); err != nil {
			return nil, err
		}
		if p.tok.Type == tokEOF {
			break
		}
		if p.tok.Type != tokDef {
			return nil, p.errorf("expected function definition, got %q", p.tok.Literal)
		}
		fn, err := p.parseFuncDef()
		if err != nil {
			return nil, err
		}
		module.Funcs = append(module.Funcs, fn)
	}
	if len(module.Funcs) == 0 {
		return nil, errors.New("kernel source contains no function definition")
	}
	return module, nil
}

func (p *parser) parseFuncDef() (*FuncDef, error) {
	fn := &FuncDef{Pos: p.tok.Pos}
	if err := p.next(); err != nil { // consume "def"
		return nil, err
	}
	name, err := p.expect(tokID, "function name")
	if err != nil {
		return nil, err
	}
	fn.Name = name.Literal
	if _, err = p.expect(tokLParen, `"("`); err != nil {
		return nil, err
	}
	for p.tok.Type != tokRParen {
		param, err := p.expect(tokID, "parameter name")
		if err != nil {
			return nil, err
		}
		fn.Params = append(fn.Params, param.Literal)
		// Annotations (`x: tl.constexpr`) and defaults (`x=8`) are accepted
		// and discarded: they carry no mutation signal.
		if p.tok.Type == tokColon {
			if err = p.next(); err != nil {
				return nil, err
			}
			if _, err = p.parseExpr(); err != nil {
				return nil, err
			}
		}
		if p.tok.Type == tokAssign {
			if err = p.next(); err != nil {
				return nil, err
			}
			if _, err = p.parseExpr(); err != nil {
				return nil, err
			}
		}
		if p.tok.Type == tokComma {
			if err = p.next(); err != nil {
				return nil, err
			}
		}
	}
	if err = p.next(); err != nil { // consume ")"
		return nil, err
	}
	fn.Body, err = p.parseSuite(fn.Pos.Col)
	if err != nil {
		return nil, err
	}
	return fn, nil
}

// parseSuite parses `:` followed by either a single statement on the same line
// or a block of statements indented deeper than headerCol.
func (p *parser) parseSuite(headerCol int) ([]Stmt, error) {
	if _, err := p.expect(tokColon, `":"`); err != nil {
		return nil, err
	}
	if p.tok.Type != tokNewline && p.tok.Type != tokEOF {
		stmt, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		return []Stmt{stmt}, nil
	}
	if err := p.skipNewlines(); err != nil {
		return nil, err
	}
	if p.tok.Type == tokEOF || p.tok.Pos.Col <= headerCol {
		return nil, p.errorf("expected indented block")
	}
	blockCol := p.tok.Pos.Col
	var body []Stmt
	for p.tok.Type != tokEOF && p.tok.Pos.Col == blockCol {
		stmt, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		body = append(body, stmt)
		if err = p.skipNewlines(); err != nil {
			return nil, err
		}
	}
	return body, nil
}

func (p *parser) parseStmt() (Stmt, error) {
	switch p.tok.Type {
	case tokIf:
		return p.parseIfStmt()
	case tokFor:
		return p.parseForStmt()
	case tokReturn:
		stmt := &ReturnStmt{Pos: p.tok.Pos}
		if err := p.next(); err != nil {
			return nil, err
		}
		if p.tok.Type != tokNewline && p.tok.Type != tokEOF {
			value, err := p.parseExprList()
			if err != nil {
				return nil, err
			}
			stmt.Value = value
		}
		return stmt, nil
	case tokDef:
		return nil, p.errorf("nested function definitions are not supported")
	}
	target, err := p.parseExprList()
	if err != nil {
		return nil, err
	}
	if p.tok.Type != tokAssign {
		return &ExprStmt{X: target}, nil
	}
	if err = p.next(); err != nil {
		return nil, err
	}
	value, err := p.parseExprList()
	if err != nil {
		return nil, err
	}
	return &AssignStmt{Target: target, Value: value}, nil
}

func (p *parser) parseIfStmt() (Stmt, error) {
	stmt := &IfStmt{Pos: p.tok.Pos}
	if err := p.next(); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	stmt.Cond = cond
	stmt.Body, err = p.parseSuite(stmt.Pos.Col)
	if err != nil {
		return nil, err
	}
	// An `else:` aligned with the `if` belongs to it. If there is none, the
	// token left over simply starts the next statement; parseSuite loops on
	// token columns, not newline tokens, so nothing is lost.
	if err = p.skipNewlines(); err != nil {
		return nil, err
	}
	if p.tok.Type == tokElse && p.tok.Pos.Col == stmt.Pos.Col {
		if err = p.next(); err != nil {
			return nil, err
		}
		stmt.Else, err = p.parseSuite(stmt.Pos.Col)
		if err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (p *parser) parseForStmt() (Stmt, error) {
	stmt := &ForStmt{Pos: p.tok.Pos}
	if err := p.next(); err != nil {
		return nil, err
	}
	target, err := p.parseExprList()
	if err != nil {
		return nil, err
	}
	stmt.Target = target
	if _, err = p.expect(tokIn, `"in"`); err != nil {
		return nil, err
	}
	stmt.Iter, err = p.parseExpr()
	if err != nil {
		return nil, err
	}
	stmt.Body, err = p.parseSuite(stmt.Pos.Col)
	if err != nil {
		return nil, err
	}
	return stmt, nil
}

// parseExprList parses one or more comma-separated expressions, yielding a
// Tuple when there is more than one.
func (p *parser) parseExprList() (Expr, error) {
	first, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.tok.Type != tokComma {
		return first, nil
	}
	tuple := &Tuple{Pos: first.Position(), Elts: []Expr{first}}
	for p.tok.Type == tokComma {
		if err = p.next(); err != nil {
			return nil, err
		}
		if p.tok.Type == tokNewline || p.tok.Type == tokEOF ||
			p.tok.Type == tokRParen || p.tok.Type == tokRSquare || p.tok.Type == tokAssign {
			break // trailing comma
		}
		elt, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		tuple.Elts = append(tuple.Elts, elt)
	}
	return tuple, nil
}

// parseExpr parses a conditional expression (`a if cond else b`), the lowest
// precedence level.
func (p *parser) parseExpr() (Expr, error) {
	body, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.Type != tokIf {
		return body, nil
	}
	if err = p.next(); err != nil {
		return nil, err
	}
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if _, err = p.expect(tokElse, `"else"`); err != nil {
		return nil, err
	}
	orelse, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &CondExpr{Body: body, Cond: cond, Orelse: orelse}, nil
}

func (p *parser) parseOr() (Expr, error) {
	return p.parseBinaryLevel(p.parseAnd, map[TokenType]string{tokOr: "or"})
}

func (p *parser) parseAnd() (Expr, error) {
	return p.parseBinaryLevel(p.parseNot, map[TokenType]string{tokAnd: "and"})
}

func (p *parser) parseNot() (Expr, error) {
	if p.tok.Type == tokNot {
		pos := p.tok.Pos
		if err := p.next(); err != nil {
			return nil, err
		}
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryOp{Pos: pos, Op: "not", X: x}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	return p.parseBinaryLevel(p.parseAdd, map[TokenType]string{
		tokEq: "==", tokNeq: "!=", tokLess: "<", tokLessEq: "<=",
		tokGreater: ">", tokGreaterEq: ">=",
	})
}

func (p *parser) parseAdd() (Expr, error) {
	return p.parseBinaryLevel(p.parseMul, map[TokenType]string{tokPlus: "+", tokMinus: "-"})
}

func (p *parser) parseMul() (Expr, error) {
	return p.parseBinaryLevel(p.parseUnary, map[TokenType]string{
		tokMult: "*", tokDiv: "/", tokMod: "%",
	})
}

func (p *parser) parseBinaryLevel(operand func() (Expr, error), ops map[TokenType]string) (Expr, error) {
	left, err := operand()
	if err != nil {
		return nil, err
	}
	for {
		op, found := ops[p.tok.Type]
		if !found {
			return left, nil
		}
		if err = p.next(); err != nil {
			return nil, err
		}
		right, err := operand()
		if err != nil {
			return nil, err
		}
		left = &BinOp{Op: op, X: left, Y: right}
	}
}

func (p *parser) parseUnary() (Expr, error) {
	if p.tok.Type == tokMinus {
		pos := p.tok.Pos
		if err := p.next(); err != nil {
			return nil, err
		}
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryOp{Pos: pos, Op: "-", X: x}, nil
	}
	return p.parsePostfix()
}

// parsePostfix parses a primary expression followed by any chain of calls,
// attribute accesses and subscripts.
func (p *parser) parsePostfix() (Expr, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.tok.Type {
		case tokLParen:
			expr, err = p.parseCall(expr)
		case tokPeriod:
			if err = p.next(); err != nil {
				return nil, err
			}
			var attr Token
			attr, err = p.expect(tokID, "attribute name")
			if err != nil {
				return nil, err
			}
			expr = &Attribute{Value: expr, Attr: attr.Literal}
		case tokLSquare:
			if err = p.next(); err != nil {
				return nil, err
			}
			var index Expr
			index, err = p.parseSubscriptIndex()
			if err != nil {
				return nil, err
			}
			if _, err = p.expect(tokRSquare, `"]"`); err != nil {
				return nil, err
			}
			expr = &Subscript{Value: expr, Index: index}
		default:
			return expr, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// parseSubscriptIndex handles `x[a]`, `x[a, b]` and the slice markers
// `x[:]` / `x[a:]` / `x[:, None]` common in kernel broadcasting. Slices are
// represented loosely as tuples; the mutation analysis only cares about the
// names involved.
func (p *parser) parseSubscriptIndex() (Expr, error) {
	tuple := &Tuple{Pos: p.tok.Pos}
	for p.tok.Type != tokRSquare {
		if p.tok.Type == tokColon || p.tok.Type == tokComma {
			if err := p.next(); err != nil {
				return nil, err
			}
			continue
		}
		elt, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		tuple.Elts = append(tuple.Elts, elt)
	}
	if len(tuple.Elts) == 1 {
		return tuple.Elts[0], nil
	}
	return tuple, nil
}

func (p *parser) parseCall(fn Expr) (Expr, error) {
	call := &Call{Func: fn}
	if err := p.next(); err != nil { // consume "("
		return nil, err
	}
	for p.tok.Type != tokRParen {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if name, isName := arg.(*Name); isName && p.tok.Type == tokAssign {
			if err = p.next(); err != nil {
				return nil, err
			}
			value, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			call.Keywords = append(call.Keywords, &Keyword{Pos: name.Pos, Name: name.ID, Value: value})
		} else {
			if len(call.Keywords) > 0 {
				return nil, p.errorf("positional argument after keyword argument")
			}
			call.Args = append(call.Args, arg)
		}
		if p.tok.Type == tokComma {
			if err = p.next(); err != nil {
				return nil, err
			}
		} else if p.tok.Type != tokRParen {
			return nil, p.errorf(`expected "," or ")" in call arguments, got %q`, p.tok.Literal)
		}
	}
	return call, p.next() // consume ")"
}

func (p *parser) parsePrimary() (Expr, error) {
	tok := p.tok
	switch tok.Type {
	case tokID:
		if err := p.next(); err != nil {
			return nil, err
		}
		return &Name{Pos: tok.Pos, ID: tok.Literal}, nil
	case tokNumber:
		if err := p.next(); err != nil {
			return nil, err
		}
		return &Number{Pos: tok.Pos, Literal: tok.Literal}, nil
	case tokString:
		if err := p.next(); err != nil {
			return nil, err
		}
		return &Str{Pos: tok.Pos, Value: tok.Literal}, nil
	case tokLParen:
		if err := p.next(); err != nil {
			return nil, err
		}
		expr, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		if _, err = p.expect(tokRParen, `")"`); err != nil {
			return nil, err
		}
		return expr, nil
	case tokLSquare:
		if err := p.next(); err != nil {
			return nil, err
		}
		tuple := &Tuple{Pos: tok.Pos}
		for p.tok.Type != tokRSquare {
			elt, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			tuple.Elts = append(tuple.Elts, elt)
			if p.tok.Type == tokComma {
				if err = p.next(); err != nil {
					return nil, err
				}
			}
		}
		return tuple, p.next() // consume "]"
	}
	return nil, p.errorf("unexpected token %q in expression", tok.Literal)
}
