package klang

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// TokenType represents the kind of token.
type TokenType int

const (
	// Special.
	tokEOF TokenType = iota
	tokNewline

	// Literals & identifiers.
	tokID
	tokNumber
	tokString

	// Punctuation.
	tokLParen
	tokRParen
	tokLSquare
	tokRSquare
	tokComma
	tokColon
	tokPeriod

	// Operators.
	tokAssign // "="
	tokEq     // "=="
	tokNeq    // "!="
	tokLess
	tokLessEq
	tokGreater
	tokGreaterEq
	tokPlus
	tokMinus
	tokMult
	tokDiv
	tokMod

	// Keywords.
	tokDef
	tokIf
	tokElse
	tokFor
	tokIn
	tokReturn
	tokAnd
	tokOr
	tokNot
)

var keywords = map[string]TokenType{
	"def":    tokDef,
	"if":     tokIf,
	"else":   tokElse,
	"for":    tokFor,
	"in":     tokIn,
	"return": tokReturn,
	"and":    tokAnd,
	"or":     tokOr,
	"not":    tokNot,
}

// Token is one lexical unit with its source position.
type Token struct {
	Type    TokenType
	Literal string
	Pos     Pos
}

// lexer scans kernel source into tokens.
//
// Newlines separate statements, except inside parentheses or brackets
// (implicit line joining, as in Python). Blank lines, `#` comments and
// decorator lines (`@...`) produce no tokens. Leading-column information is
// preserved in each token's Pos, which is how the parser tracks block
// indentation without INDENT/DEDENT tokens.
type lexer struct {
	src         string
	offset      int
	line, col   int
	parenDepth  int
	atLineStart bool
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1, col: 1, atLineStart: true}
}

func (l *lexer) errorf(pos Pos, format string, args ...any) error {
	return errors.Errorf("%s: "+format, append([]any{pos}, args...)...)
}

func (l *lexer) peekRune() (rune, int) {
	if l.offset >= len(l.src) {
		return 0, 0
	}
	return utf8.DecodeRuneInString(l.src[l.offset:])
}

func (l *lexer) advance(size int) {
	l.offset += size
	l.col++
}

func (l *lexer) newline() {
	l.offset++
	l.line++
	l.col = 1
	l.atLineStart = true
}

// skipIgnored consumes spaces, comments, decorator lines and blank lines.
// It returns true if it crossed a statement-separating newline.
func (l *lexer) skipIgnored() bool {
	sawNewline := false
	for l.offset < len(l.src) {
		r, size := l.peekRune()
		switch {
		case r == ' ' || r == '\t' || r == '\r':
			l.advance(size)
		case r == '#':
			for l.offset < len(l.src) && l.src[l.offset] != '\n' {
				l.advance(1)
			}
		case r == '@' && l.atLineStart:
			// Decorator line: ignored entirely.
			for l.offset < len(l.src) && l.src[l.offset] != '\n' {
				l.advance(1)
			}
		case r == '\\' && l.offset+1 < len(l.src) && l.src[l.offset+1] == '\n':
			// Explicit line continuation.
			l.advance(1)
			l.newline()
		case r == '\n':
			if l.parenDepth == 0 && !l.atLineStart {
				sawNewline = true
			}
			l.newline()
		default:
			l.atLineStart = false
			return sawNewline
		}
	}
	return sawNewline
}

// Next returns the next token. At a statement boundary it returns a single
// tokNewline before the first token of the next statement.
func (l *lexer) Next() (Token, error) {
	if l.skipIgnored() {
		return Token{Type: tokNewline, Pos: Pos{l.line, l.col}}, nil
	}
	pos := Pos{l.line, l.col}
	if l.offset >= len(l.src) {
		return Token{Type: tokEOF, Pos: pos}, nil
	}
	r, size := l.peekRune()
	switch {
	case unicode.IsLetter(r) || r == '_':
		start := l.offset
		for l.offset < len(l.src) {
			r2, size2 := l.peekRune()
			if !unicode.IsLetter(r2) && !unicode.IsDigit(r2) && r2 != '_' {
				break
			}
			l.advance(size2)
		}
		literal := l.src[start:l.offset]
		if kw, found := keywords[literal]; found {
			return Token{Type: kw, Literal: literal, Pos: pos}, nil
		}
		return Token{Type: tokID, Literal: literal, Pos: pos}, nil

	case unicode.IsDigit(r) || (r == '.' && l.offset+1 < len(l.src) && isDigitByte(l.src[l.offset+1])):
		start := l.offset
		for l.offset < len(l.src) {
			r2, size2 := l.peekRune()
			if !unicode.IsDigit(r2) && r2 != '.' && r2 != 'e' && r2 != 'E' && r2 != 'x' && r2 != 'X' &&
				!(r2 >= 'a' && r2 <= 'f') && !(r2 >= 'A' && r2 <= 'F') && r2 != '_' {
				break
			}
			l.advance(size2)
		}
		return Token{Type: tokNumber, Literal: l.src[start:l.offset], Pos: pos}, nil

	case r == '"' || r == '\'':
		quote := byte(r)
		l.advance(size)
		var sb strings.Builder
		for {
			if l.offset >= len(l.src) || l.src[l.offset] == '\n' {
				return Token{}, l.errorf(pos, "unterminated string literal")
			}
			c := l.src[l.offset]
			if c == quote {
				l.advance(1)
				break
			}
			if c == '\\' && l.offset+1 < len(l.src) {
				l.advance(1)
				c = l.src[l.offset]
			}
			sb.WriteByte(c)
			l.advance(1)
		}
		return Token{Type: tokString, Literal: sb.String(), Pos: pos}, nil
	}

	// Punctuation and operators.
	single := func(t TokenType) (Token, error) {
		l.advance(size)
		return Token{Type: t, Literal: string(r), Pos: pos}, nil
	}
	double := func(next byte, t2, t1 TokenType) (Token, error) {
		l.advance(size)
		if l.offset < len(l.src) && l.src[l.offset] == next {
			literal := string(r) + string(next)
			l.advance(1)
			return Token{Type: t2, Literal: literal, Pos: pos}, nil
		}
		return Token{Type: t1, Literal: string(r), Pos: pos}, nil
	}
	switch r {
	case '(':
		l.parenDepth++
		return single(tokLParen)
	case ')':
		l.parenDepth--
		return single(tokRParen)
	case '[':
		l.parenDepth++
		return single(tokLSquare)
	case ']':
		l.parenDepth--
		return single(tokRSquare)
	case ',':
		return single(tokComma)
	case ':':
		return single(tokColon)
	case '.':
		return single(tokPeriod)
	case '+':
		return single(tokPlus)
	case '-':
		return single(tokMinus)
	case '*':
		return single(tokMult)
	case '/':
		return single(tokDiv)
	case '%':
		return single(tokMod)
	case '=':
		return double('=', tokEq, tokAssign)
	case '<':
		return double('=', tokLessEq, tokLess)
	case '>':
		return double('=', tokGreaterEq, tokGreater)
	case '!':
		tok, err := double('=', tokNeq, tokEOF)
		if err == nil && tok.Type == tokEOF {
			return Token{}, l.errorf(pos, "unexpected character %q", r)
		}
		return tok, err
	}
	return Token{}, l.errorf(pos, "unexpected character %q", r)
}

func isDigitByte(b byte) bool { return b >= '0' && b <= '9' }
