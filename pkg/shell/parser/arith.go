package parser

import (
	"strconv"

	"github.com/rcarmo/go-nxsh/pkg/shell/ast"
	"github.com/rcarmo/go-nxsh/pkg/shell/token"
)

// ParseArith parses an arithmetic expression such as the body of $((...)).
func ParseArith(src string) (ast.Expr, error) {
	return parseArith(src, 0)
}

type arithParser struct {
	src string
	off int
	pos int
	tok string
	at  int
}

var arithLevels = [][]string{
	{"||"},
	{"&&"},
	{"==", "!="},
	{"<", "<=", ">", ">="},
	{"+", "-"},
	{"*", "/", "%"},
}

func parseArith(src string, off int) (expr ast.Expr, err error) {
	p := &arithParser{src: src, off: off}
	defer func() {
		if r := recover(); r != nil {
			pe, ok := r.(*ParseError)
			if !ok {
				panic(r)
			}
			expr, err = nil, pe
		}
	}()
	p.next()
	if p.tok == "" {
		p.fail("empty arithmetic expression")
	}
	expr = p.binary(0)
	if p.tok != "" {
		p.fail("unexpected " + strconv.Quote(p.tok) + " in arithmetic expression")
	}
	return expr, nil
}

func (p *arithParser) fail(msg string) {
	panic(&ParseError{
		Span:    token.Span{Start: p.off + p.at, End: p.off + p.pos},
		Found:   token.Word,
		Message: msg,
	})
}

func (p *arithParser) next() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n') {
		p.pos++
	}
	p.at = p.pos
	if p.pos >= len(p.src) {
		p.tok = ""
		return
	}
	c := p.src[p.pos]
	switch {
	case c >= '0' && c <= '9':
		for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
			p.pos++
		}
	case c == '$' || isNameStart(c):
		p.pos++
		for p.pos < len(p.src) && isNameChar(p.src[p.pos]) {
			p.pos++
		}
	default:
		if p.pos+1 < len(p.src) {
			switch two := p.src[p.pos : p.pos+2]; two {
			case "<=", ">=", "==", "!=", "&&", "||":
				p.pos += 2
				p.tok = two
				return
			}
		}
		switch c {
		case '+', '-', '*', '/', '%', '<', '>', '(', ')', '!':
			p.pos++
		default:
			p.pos++
			p.fail("invalid character " + strconv.QuoteRune(rune(c)) + " in arithmetic expression")
		}
	}
	p.tok = p.src[p.at:p.pos]
}

func (p *arithParser) binary(level int) ast.Expr {
	if level == len(arithLevels) {
		return p.unary()
	}
	x := p.binary(level + 1)
	for {
		op := ""
		for _, cand := range arithLevels[level] {
			if p.tok == cand {
				op = cand
			}
		}
		if op == "" {
			return x
		}
		p.next()
		y := p.binary(level + 1)
		x = &ast.Binary{Op: op, X: x, Y: y}
	}
}

func (p *arithParser) unary() ast.Expr {
	switch p.tok {
	case "-", "+", "!":
		op := p.tok
		p.next()
		return &ast.Unary{Op: op, X: p.unary()}
	case "(":
		p.next()
		x := p.binary(0)
		if p.tok != ")" {
			p.fail("missing ')' in arithmetic expression")
		}
		p.next()
		return x
	case "":
		p.fail("unexpected end of arithmetic expression")
	}
	tok := p.tok
	switch c := tok[0]; {
	case c >= '0' && c <= '9':
		n, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			p.fail("number out of range: " + tok)
		}
		p.next()
		return &ast.Num{Value: n}
	case c == '$':
		if len(tok) == 1 {
			p.fail("bad variable in arithmetic expression")
		}
		p.next()
		return &ast.Var{Name: tok[1:]}
	case isNameStart(c):
		p.next()
		return &ast.Var{Name: tok}
	}
	p.fail("unexpected " + strconv.Quote(tok) + " in arithmetic expression")
	return nil
}
