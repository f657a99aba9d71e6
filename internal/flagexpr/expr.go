// Package flagexpr parses and evaluates boolean conditions over named
// feature flags, the subset of Jinja conditions used by template exclusion
// rules.
//
// Supported forms:
//   - flag references: `use_database`
//   - literals: `true`, `false` (any case)
//   - negation: `not x`, `!x`
//   - composition: `a and b`, `a && b`, `a or b`, `a || b`, parentheses
//   - comparison with a literal: `use_s3 == false`, `use_s3 != true`
//
// Precedence is not > and > or. Unknown flags evaluate to false.
package flagexpr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrSyntax is wrapped by every parse error.
var ErrSyntax = errors.New("flagexpr: syntax error")

// Expr is a parsed condition.
type Expr interface {
	Eval(flags map[string]bool) bool
	String() string
}

// True is the condition of an unconditional rule.
var True Expr = literal(true)

// Parse parses src into an Expr.
func Parse(src string) (Expr, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty condition", ErrSyntax)
	}
	p := &parser{tokens: tokens, src: src}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		return nil, p.errorf("unexpected %q", p.tokens[p.pos].raw)
	}
	return node, nil
}

// MustParse is like Parse but panics on error. Intended for tests.
func MustParse(src string) Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

// Vars returns the sorted, distinct flag names referenced by e.
func Vars(e Expr) []string {
	seen := map[string]struct{}{}
	collect(e, seen)
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// IsConstant reports whether e references no flags, and its value if so.
func IsConstant(e Expr) (value, ok bool) {
	if len(Vars(e)) != 0 {
		return false, false
	}
	return e.Eval(nil), true
}

func collect(e Expr, seen map[string]struct{}) {
	switch n := e.(type) {
	case flagRef:
		seen[string(n)] = struct{}{}
	case notExpr:
		collect(n.inner, seen)
	case andExpr:
		collect(n.left, seen)
		collect(n.right, seen)
	case orExpr:
		collect(n.left, seen)
		collect(n.right, seen)
	}
}

type literal bool

func (l literal) Eval(map[string]bool) bool { return bool(l) }

func (l literal) String() string {
	if l {
		return "true"
	}
	return "false"
}

type flagRef string

func (f flagRef) Eval(flags map[string]bool) bool { return flags[string(f)] }

func (f flagRef) String() string { return string(f) }

type notExpr struct{ inner Expr }

func (n notExpr) Eval(flags map[string]bool) bool { return !n.inner.Eval(flags) }

func (n notExpr) String() string { return "not " + wrap(n.inner) }

type andExpr struct{ left, right Expr }

func (n andExpr) Eval(flags map[string]bool) bool {
	return n.left.Eval(flags) && n.right.Eval(flags)
}

func (n andExpr) String() string { return wrap(n.left) + " and " + wrap(n.right) }

type orExpr struct{ left, right Expr }

func (n orExpr) Eval(flags map[string]bool) bool {
	return n.left.Eval(flags) || n.right.Eval(flags)
}

func (n orExpr) String() string { return wrap(n.left) + " or " + wrap(n.right) }

func wrap(e Expr) string {
	switch e.(type) {
	case andExpr, orExpr:
		return "(" + e.String() + ")"
	}
	return e.String()
}

type tokenKind int

const (
	tokenIdent tokenKind = iota
	tokenBool
	tokenNot
	tokenAnd
	tokenOr
	tokenEq
	tokenNeq
	tokenLParen
	tokenRParen
)

type token struct {
	kind tokenKind
	raw  string
	pos  int
}

func tokenize(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		ch := input[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			i++
		case ch == '(':
			tokens = append(tokens, token{tokenLParen, "(", i})
			i++
		case ch == ')':
			tokens = append(tokens, token{tokenRParen, ")", i})
			i++
		case ch == '!':
			if i+1 < len(input) && input[i+1] == '=' {
				tokens = append(tokens, token{tokenNeq, "!=", i})
				i += 2
				continue
			}
			tokens = append(tokens, token{tokenNot, "!", i})
			i++
		case ch == '=':
			if i+1 >= len(input) || input[i+1] != '=' {
				return nil, fmt.Errorf("%w: unexpected '=' at %d; use '=='", ErrSyntax, i)
			}
			tokens = append(tokens, token{tokenEq, "==", i})
			i += 2
		case ch == '&':
			if i+1 >= len(input) || input[i+1] != '&' {
				return nil, fmt.Errorf("%w: unexpected '&' at %d; use '&&'", ErrSyntax, i)
			}
			tokens = append(tokens, token{tokenAnd, "&&", i})
			i += 2
		case ch == '|':
			if i+1 >= len(input) || input[i+1] != '|' {
				return nil, fmt.Errorf("%w: unexpected '|' at %d; use '||'", ErrSyntax, i)
			}
			tokens = append(tokens, token{tokenOr, "||", i})
			i += 2
		case isIdentStart(ch):
			start := i
			for i < len(input) && isIdentPart(input[i]) {
				i++
			}
			raw := input[start:i]
			switch strings.ToLower(raw) {
			case "true", "false":
				tokens = append(tokens, token{tokenBool, strings.ToLower(raw), start})
			case "not":
				tokens = append(tokens, token{tokenNot, raw, start})
			case "and":
				tokens = append(tokens, token{tokenAnd, raw, start})
			case "or":
				tokens = append(tokens, token{tokenOr, raw, start})
			default:
				tokens = append(tokens, token{tokenIdent, raw, start})
			}
		default:
			return nil, fmt.Errorf("%w: unexpected character %q at %d", ErrSyntax, ch, i)
		}
	}
	return tokens, nil
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9')
}

type parser struct {
	tokens []token
	pos    int
	src    string
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s in %q", ErrSyntax, fmt.Sprintf(format, args...), p.src)
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *parser) match(kind tokenKind) bool {
	if t, ok := p.peek(); ok && t.kind == kind {
		p.pos++
		return true
	}
	return false
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.match(tokenOr) {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orExpr{left, right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.match(tokenAnd) {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = andExpr{left, right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.match(tokenNot) {
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notExpr{inner}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	t, ok := p.peek()
	if !ok || (t.kind != tokenEq && t.kind != tokenNeq) {
		return left, nil
	}
	p.pos++
	right, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	// a == b is true when both agree; a != b when they differ.
	eq := orExpr{andExpr{left, right}, andExpr{notExpr{left}, notExpr{right}}}
	if t.kind == tokenEq {
		return simplify(left, right, eq, false), nil
	}
	return simplify(left, right, notExpr{eq}, true), nil
}

// simplify folds comparisons against a literal into a plain reference or
// its negation so String() stays readable.
func simplify(left, right, full Expr, negate bool) Expr {
	lit, isLit := right.(literal)
	other := left
	if !isLit {
		lit, isLit = left.(literal)
		other = right
	}
	if !isLit {
		return full
	}
	if bool(lit) != negate {
		return other
	}
	return notExpr{other}
}

func (p *parser) parsePrimary() (Expr, error) {
	t, ok := p.peek()
	if !ok {
		return nil, p.errorf("unexpected end of condition")
	}
	switch t.kind {
	case tokenLParen:
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.match(tokenRParen) {
			return nil, p.errorf("missing ')'")
		}
		return inner, nil
	case tokenBool:
		p.pos++
		return literal(t.raw == "true"), nil
	case tokenIdent:
		p.pos++
		return flagRef(t.raw), nil
	default:
		return nil, p.errorf("unexpected %q at %d", t.raw, t.pos)
	}
}
