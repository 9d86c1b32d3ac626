// Package parser builds syntax trees from shell source.
//
// Parsing is purely syntactic: no variables are read and no commands run.
// Command and process substitutions are parsed into nested scripts at parse
// time so later stages never re-lex text.
package parser

import (
	"strconv"
	"strings"

	"github.com/rcarmo/go-nxsh/pkg/shell/ast"
	"github.com/rcarmo/go-nxsh/pkg/shell/token"
)

// Parse parses a complete script.
func Parse(src string) (*ast.Script, error) {
	return parseAt(src, 0)
}

// ParseTokens parses a token stream previously produced by the tokenizer
// for src. The stream must end with EOF or a LexError token.
func ParseTokens(src string, toks []token.Token) (*ast.Script, error) {
	i := 0
	pull := func() token.Token {
		if i >= len(toks) {
			return token.Token{Kind: token.EOF, Span: token.Span{Start: len(src), End: len(src)}}
		}
		i++
		return toks[i-1]
	}
	return run(&parser{src: src, pull: pull})
}

func parseAt(src string, base int) (*ast.Script, error) {
	return run(&parser{src: src, base: base, pull: token.NewLexer(src).Next})
}

func run(p *parser) (script *ast.Script, err error) {
	defer func() {
		if r := recover(); r != nil {
			pe, ok := r.(*ParseError)
			if !ok {
				panic(r)
			}
			script, err = nil, pe
		}
	}()
	p.next()
	script = p.list(func(token.Kind) bool { return false })
	if p.tok.Kind != token.EOF {
		p.unexpected(token.EOF)
	}
	return script, nil
}

type parser struct {
	src  string
	base int
	pull func() token.Token

	tok     token.Token
	ahead   []token.Token
	lastEnd int
	here    []*ast.Redirect
}

func (p *parser) span(start, end int) token.Span {
	return token.Span{Start: start + p.base, End: end + p.base}
}

// fetch returns the next significant token, binding here-document bodies
// to their redirections as they stream past.
func (p *parser) fetch() token.Token {
	for {
		tok := p.pull()
		switch tok.Kind {
		case token.Comment:
			continue
		case token.HereBody:
			p.bindHere(tok)
			continue
		}
		return tok
	}
}

func (p *parser) next() {
	p.lastEnd = p.tok.Span.End
	if len(p.ahead) > 0 {
		p.tok = p.ahead[0]
		p.ahead = p.ahead[1:]
	} else {
		p.tok = p.fetch()
	}
	if p.tok.Kind == token.LexError {
		panic(&ParseError{
			Span:       p.span(p.tok.Span.Start, p.tok.Span.End),
			Found:      token.LexError,
			Message:    p.tok.Text,
			Incomplete: true,
		})
	}
}

func (p *parser) peek() token.Token {
	if len(p.ahead) == 0 {
		p.ahead = append(p.ahead, p.fetch())
	}
	return p.ahead[0]
}

func (p *parser) fail(span token.Span, msg string) {
	panic(&ParseError{Span: span, Found: p.tok.Kind, Message: msg})
}

func (p *parser) unexpected(expected ...token.Kind) {
	found := p.tok.Kind
	if kw, ok := p.keyword(); ok {
		found = kw
	}
	panic(&ParseError{
		Span:       p.span(p.tok.Span.Start, p.tok.Span.End),
		Expected:   expected,
		Found:      found,
		Incomplete: p.tok.Kind == token.EOF,
	})
}

// keyword reports the reserved word at the current token, if any.
func (p *parser) keyword() (token.Kind, bool) {
	if p.tok.Kind != token.Word {
		return 0, false
	}
	return token.Keyword(p.tok.Text)
}

func (p *parser) isKeyword(k token.Kind) bool {
	kw, ok := p.keyword()
	return ok && kw == k
}

func (p *parser) expectKeyword(k token.Kind) {
	if !p.isKeyword(k) {
		p.unexpected(k)
	}
	p.next()
}

func (p *parser) skipNewlines() {
	for p.tok.Kind == token.Newline {
		p.next()
	}
}

// list parses statements until EOF or a token for which stop returns true.
func (p *parser) list(stop func(token.Kind) bool) *ast.Script {
	script := &ast.Script{}
	start := p.tok.Span.Start
	for {
		p.skipNewlines()
		if p.tok.Kind == token.EOF || p.tok.Kind == token.RParen && stop(token.RParen) {
			break
		}
		if kw, ok := p.keyword(); ok && stop(kw) {
			break
		}
		stmtStart := p.tok.Span.Start
		andOr := p.andOr()
		stmt := &ast.Stmt{AndOr: andOr}
		switch p.tok.Kind {
		case token.Semi:
			p.next()
		case token.Amp:
			stmt.Background = true
			p.next()
		case token.Newline, token.EOF:
		default:
			kw, ok := p.keyword()
			if !(ok && stop(kw)) && !(p.tok.Kind == token.RParen && stop(token.RParen)) {
				p.unexpected(token.Semi, token.Amp, token.Newline)
			}
		}
		stmt.Span = p.span(stmtStart, p.lastEnd)
		script.Stmts = append(script.Stmts, stmt)
	}
	script.Span = p.span(start, p.lastEnd)
	return script
}

func stopAt(kinds ...token.Kind) func(token.Kind) bool {
	return func(k token.Kind) bool {
		for _, want := range kinds {
			if k == want {
				return true
			}
		}
		return false
	}
}

// body parses a non-empty list ending at one of kinds.
func (p *parser) body(kinds ...token.Kind) *ast.Script {
	s := p.list(stopAt(kinds...))
	if len(s.Stmts) == 0 {
		p.unexpected(token.Word)
	}
	return s
}

func (p *parser) andOr() *ast.AndOr {
	ao := &ast.AndOr{Pipelines: []*ast.Pipeline{p.pipeline()}}
	for p.tok.Kind == token.AndIf || p.tok.Kind == token.OrIf {
		ao.Ops = append(ao.Ops, p.tok.Kind)
		p.next()
		p.skipNewlines()
		ao.Pipelines = append(ao.Pipelines, p.pipeline())
	}
	return ao
}

func (p *parser) pipeline() *ast.Pipeline {
	start := p.tok.Span.Start
	pl := &ast.Pipeline{}
	if p.isKeyword(token.Bang) {
		pl.Negated = true
		p.next()
	}
	pl.Cmds = append(pl.Cmds, p.command())
	for p.tok.Kind.IsPipe() {
		pl.Ops = append(pl.Ops, p.tok.Kind)
		p.next()
		p.skipNewlines()
		pl.Cmds = append(pl.Cmds, p.command())
	}
	pl.Span = p.span(start, p.lastEnd)
	return pl
}

func (p *parser) command() ast.Command {
	start := p.tok.Span.Start
	if p.tok.Kind == token.LParen {
		p.next()
		body := p.body(token.RParen)
		if p.tok.Kind != token.RParen {
			p.unexpected(token.RParen)
		}
		p.next()
		cmd := &ast.Subshell{Body: body}
		cmd.Redirs = p.redirects()
		cmd.Span = p.span(start, p.lastEnd)
		return cmd
	}
	if kw, ok := p.keyword(); ok {
		switch kw {
		case token.If:
			return p.ifClause(start)
		case token.While, token.Until:
			return p.whileClause(start, kw == token.Until)
		case token.For:
			return p.forClause(start)
		case token.LBrace:
			return p.group(start)
		case token.Function:
			p.next()
			if p.tok.Kind != token.Word {
				p.unexpected(token.Word)
			}
			name := p.tok.Text
			p.next()
			if p.tok.Kind == token.LParen {
				p.next()
				if p.tok.Kind != token.RParen {
					p.unexpected(token.RParen)
				}
				p.next()
			}
			return p.functionBody(start, name)
		case token.Bang:
		default:
			p.unexpected(token.Word)
		}
	}
	if p.tok.Kind == token.Word && p.peek().Kind == token.LParen {
		name := p.tok.Text
		if !isName(name) {
			p.fail(p.span(p.tok.Span.Start, p.tok.Span.End), "invalid function name "+strconv.Quote(name))
		}
		p.next()
		p.next()
		if p.tok.Kind != token.RParen {
			p.unexpected(token.RParen)
		}
		p.next()
		return p.functionBody(start, name)
	}
	return p.simple()
}

func (p *parser) functionBody(start int, name string) ast.Command {
	p.skipNewlines()
	switch {
	case p.tok.Kind == token.LParen, p.isKeyword(token.LBrace), p.isKeyword(token.If),
		p.isKeyword(token.While), p.isKeyword(token.Until), p.isKeyword(token.For):
	default:
		p.unexpected(token.LBrace)
	}
	body := p.command()
	return &ast.FunctionDef{Name: name, Body: body, Span: p.span(start, p.lastEnd)}
}

func (p *parser) group(start int) ast.Command {
	p.next()
	body := p.body(token.RBrace)
	p.expectKeyword(token.RBrace)
	cmd := &ast.Group{Body: body}
	cmd.Redirs = p.redirects()
	cmd.Span = p.span(start, p.lastEnd)
	return cmd
}

func (p *parser) ifClause(start int) ast.Command {
	cmd := &ast.If{}
	p.next()
	for {
		cond := p.body(token.Then)
		p.expectKeyword(token.Then)
		body := p.body(token.Elif, token.Else, token.Fi)
		cmd.Clauses = append(cmd.Clauses, &ast.CondClause{Cond: cond, Body: body})
		if p.isKeyword(token.Elif) {
			p.next()
			continue
		}
		break
	}
	if p.isKeyword(token.Else) {
		p.next()
		cmd.Else = p.body(token.Fi)
	}
	p.expectKeyword(token.Fi)
	cmd.Redirs = p.redirects()
	cmd.Span = p.span(start, p.lastEnd)
	return cmd
}

func (p *parser) whileClause(start int, until bool) ast.Command {
	p.next()
	cond := p.body(token.Do)
	p.expectKeyword(token.Do)
	body := p.body(token.Done)
	p.expectKeyword(token.Done)
	cmd := &ast.While{Until: until, Cond: cond, Body: body}
	cmd.Redirs = p.redirects()
	cmd.Span = p.span(start, p.lastEnd)
	return cmd
}

func (p *parser) forClause(start int) ast.Command {
	p.next()
	if p.tok.Kind != token.Word || !isName(p.tok.Text) {
		p.unexpected(token.Word)
	}
	cmd := &ast.For{Var: p.tok.Text}
	p.next()
	p.skipNewlines()
	if p.isKeyword(token.In) {
		cmd.HasIn = true
		p.next()
		for p.tok.Kind == token.Word {
			cmd.Items = append(cmd.Items, p.word(p.tok))
			p.next()
		}
		if p.tok.Kind != token.Semi && p.tok.Kind != token.Newline {
			p.unexpected(token.Semi, token.Newline)
		}
		p.next()
	} else if p.tok.Kind == token.Semi {
		p.next()
	}
	p.skipNewlines()
	p.expectKeyword(token.Do)
	cmd.Body = p.body(token.Done)
	p.expectKeyword(token.Done)
	cmd.Redirs = p.redirects()
	cmd.Span = p.span(start, p.lastEnd)
	return cmd
}

func (p *parser) simple() ast.Command {
	start := p.tok.Span.Start
	cmd := &ast.SimpleCommand{}
	for {
		switch {
		case p.tok.Kind == token.Word:
			if len(cmd.Words) == 0 {
				if a := p.assignment(p.tok); a != nil {
					cmd.Assigns = append(cmd.Assigns, a)
					p.next()
					continue
				}
			}
			cmd.Words = append(cmd.Words, p.word(p.tok))
			p.next()
		case p.tok.Kind == token.IONumber || p.tok.Kind.IsRedirect():
			cmd.Redirs = append(cmd.Redirs, p.redirect())
		default:
			if len(cmd.Words) == 0 && len(cmd.Assigns) == 0 && len(cmd.Redirs) == 0 {
				p.unexpected(token.Word)
			}
			cmd.Span = p.span(start, p.lastEnd)
			return cmd
		}
	}
}

func (p *parser) redirects() []*ast.Redirect {
	var rs []*ast.Redirect
	for p.tok.Kind == token.IONumber || p.tok.Kind.IsRedirect() {
		rs = append(rs, p.redirect())
	}
	return rs
}

func (p *parser) redirect() *ast.Redirect {
	start := p.tok.Span.Start
	r := &ast.Redirect{Fd: -1}
	if p.tok.Kind == token.IONumber {
		fd, err := strconv.Atoi(p.tok.Text)
		if err != nil {
			p.fail(p.span(p.tok.Span.Start, p.tok.Span.End), "bad file descriptor "+p.tok.Text)
		}
		r.Fd = fd
		p.next()
	}
	if !p.tok.Kind.IsRedirect() {
		p.unexpected(token.Great, token.Less)
	}
	r.Op = p.tok.Kind
	p.next()
	if p.tok.Kind != token.Word {
		p.unexpected(token.Word)
	}
	if r.Op == token.DLess || r.Op == token.DLessDash {
		r.Here = &ast.HereDoc{
			Delim:  token.Unquote(p.tok.Text),
			Quoted: strings.ContainsAny(p.tok.Text, `'"\`),
		}
		p.here = append(p.here, r)
	} else {
		r.Target = p.word(p.tok)
	}
	p.next()
	r.Span = p.span(start, p.lastEnd)
	return r
}

func (p *parser) bindHere(tok token.Token) {
	if len(p.here) == 0 {
		return
	}
	r := p.here[0]
	p.here = p.here[1:]
	r.Here.Body = tok.Text
	if !r.Here.Quoted {
		w, err := parseHereWord(tok.Text, tok.Span.Start+p.base)
		if err != nil {
			panic(err)
		}
		r.Here.Word = w
	}
}

func (p *parser) assignment(tok token.Token) *ast.Assignment {
	eq := strings.IndexByte(tok.Text, '=')
	if eq <= 0 || !isName(tok.Text[:eq]) {
		return nil
	}
	value, err := parseWord(tok.Text[eq+1:], tok.Span.Start+eq+1+p.base)
	if err != nil {
		panic(err)
	}
	value.Span = p.span(tok.Span.Start+eq+1, tok.Span.End)
	return &ast.Assignment{
		Name:  tok.Text[:eq],
		Value: value,
		Span:  p.span(tok.Span.Start, tok.Span.End),
	}
}

func (p *parser) word(tok token.Token) *ast.Word {
	w, err := parseWord(tok.Text, tok.Span.Start+p.base)
	if err != nil {
		panic(err)
	}
	w.Span = p.span(tok.Span.Start, tok.Span.End)
	return w
}

func isName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || i > 0 && c >= '0' && c <= '9' {
			continue
		}
		return false
	}
	return true
}
