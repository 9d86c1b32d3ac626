package ast

import (
	"strconv"
	"strings"

	"github.com/rcarmo/go-nxsh/pkg/shell/token"
)

// Render returns the canonical source text for n. Parsing the rendering
// of a parsed tree yields the same tree, ignoring positions.
func Render(n Node) string {
	p := &printer{}
	switch n := n.(type) {
	case *Script:
		p.script(n)
	case *Stmt:
		p.stmt(n)
		p.flushHere()
	case Command:
		p.command(n)
		p.flushHere()
	case *Word:
		p.word(n)
	case Expr:
		p.expr(n, false)
	default:
		p.node(n)
		p.flushHere()
	}
	return p.b.String()
}

type printer struct {
	b        strings.Builder
	here     []*HereDoc
	flushed  bool
	inBraces bool
}

func (p *printer) ws(s string) { p.b.WriteString(s) }

func (p *printer) node(n Node) {
	switch n := n.(type) {
	case *AndOr:
		p.andOr(n)
	case *Pipeline:
		p.pipeline(n)
	case *Redirect:
		p.redirect(n)
	case *Assignment:
		p.assign(n)
	case WordPart:
		p.part(n, false)
	}
}

// script renders top-level statements one per line, with here-document
// bodies following the line that introduced them.
func (p *printer) script(s *Script) {
	for _, st := range s.Stmts {
		p.stmt(st)
		p.ws("\n")
		p.flushed = false
		if len(p.here) > 0 {
			p.flushHere()
		}
	}
}

func (p *printer) flushHere() {
	if len(p.here) == 0 {
		return
	}
	if !strings.HasSuffix(p.b.String(), "\n") {
		p.ws("\n")
	}
	for _, h := range p.here {
		p.ws(h.Body)
		p.ws(h.Delim)
		p.ws("\n")
	}
	p.here = nil
	p.flushed = true
}

// list renders a nested statement list terminated for use before a
// closing keyword.
func (p *printer) list(s *Script) {
	for _, st := range s.Stmts {
		p.andOr(st.AndOr)
		if st.Background {
			p.ws(" & ")
		} else {
			p.ws("; ")
		}
	}
}

func (p *printer) stmt(st *Stmt) {
	p.andOr(st.AndOr)
	if st.Background {
		p.ws(" &")
	}
}

func (p *printer) andOr(a *AndOr) {
	for i, pl := range a.Pipelines {
		if i > 0 {
			p.ws(" " + opText(a.Ops[i-1]) + " ")
		}
		p.pipeline(pl)
	}
}

func (p *printer) pipeline(pl *Pipeline) {
	if pl.Negated {
		p.ws("! ")
	}
	for i, c := range pl.Cmds {
		if i > 0 {
			p.ws(" " + opText(pl.Ops[i-1]) + " ")
		}
		p.command(c)
	}
}

func (p *printer) command(c Command) {
	switch c := c.(type) {
	case *SimpleCommand:
		sep := ""
		for _, a := range c.Assigns {
			p.ws(sep)
			p.assign(a)
			sep = " "
		}
		for _, w := range c.Words {
			p.ws(sep)
			p.word(w)
			sep = " "
		}
		for _, r := range c.Redirs {
			p.ws(sep)
			p.redirect(r)
			sep = " "
		}
		return
	case *Subshell:
		p.ws("(")
		p.list(c.Body)
		p.ws(")")
	case *Group:
		p.ws("{ ")
		p.list(c.Body)
		p.ws("}")
	case *If:
		for i, cl := range c.Clauses {
			if i == 0 {
				p.ws("if ")
			} else {
				p.ws("elif ")
			}
			p.list(cl.Cond)
			p.ws("then ")
			p.list(cl.Body)
		}
		if c.Else != nil {
			p.ws("else ")
			p.list(c.Else)
		}
		p.ws("fi")
	case *While:
		if c.Until {
			p.ws("until ")
		} else {
			p.ws("while ")
		}
		p.list(c.Cond)
		p.ws("do ")
		p.list(c.Body)
		p.ws("done")
	case *For:
		p.ws("for " + c.Var)
		if c.HasIn {
			p.ws(" in")
			for _, w := range c.Items {
				p.ws(" ")
				p.word(w)
			}
		}
		p.ws("; do ")
		p.list(c.Body)
		p.ws("done")
	case *FunctionDef:
		p.ws(c.Name + "() ")
		p.command(c.Body)
		return
	}
	for _, r := range c.Redirects() {
		p.ws(" ")
		p.redirect(r)
	}
}

func (p *printer) assign(a *Assignment) {
	p.ws(a.Name + "=")
	if a.Value != nil {
		p.word(a.Value)
	}
}

func (p *printer) redirect(r *Redirect) {
	if r.Fd >= 0 {
		p.ws(strconv.Itoa(r.Fd))
	}
	p.ws(opText(r.Op))
	if r.Here != nil {
		if r.Here.Quoted {
			p.ws("'" + r.Here.Delim + "'")
		} else {
			p.ws(r.Here.Delim)
		}
		p.here = append(p.here, r.Here)
		return
	}
	if r.Op != token.GreatAnd && r.Op != token.LessAnd {
		p.ws(" ")
	}
	p.word(r.Target)
}

func (p *printer) word(w *Word) {
	for _, part := range w.Parts {
		p.part(part, false)
	}
}

const litSpecial = " \t\n|&;()<>'\"\\`$"

func (p *printer) part(part WordPart, quoted bool) {
	switch part := part.(type) {
	case *Lit:
		switch {
		case quoted:
			for _, r := range part.Value {
				if strings.ContainsRune("\"\\$`", r) {
					p.b.WriteByte('\\')
				}
				p.b.WriteRune(r)
			}
		case p.inBraces:
			p.ws(part.Value)
		default:
			for _, r := range part.Value {
				if strings.ContainsRune(litSpecial, r) {
					p.b.WriteByte('\\')
				}
				p.b.WriteRune(r)
			}
		}
	case *SglQuoted:
		if quoted {
			p.part(&Lit{Value: part.Value}, true)
			return
		}
		p.ws("'" + strings.ReplaceAll(part.Value, "'", `'\''`) + "'")
	case *DblQuoted:
		p.ws(`"`)
		for _, sub := range part.Parts {
			p.part(sub, true)
		}
		p.ws(`"`)
	case *VariableRef:
		p.ws("${")
		if part.Length {
			p.ws("#")
		}
		p.ws(part.Name)
		p.ws(part.Op)
		if part.Arg != nil {
			saved := p.inBraces
			p.inBraces = true
			p.word(part.Arg)
			p.inBraces = saved
		}
		p.ws("}")
	case *CommandSubstitution:
		p.ws("$(" + renderNested(part.Body) + ")")
	case *ProcessSubstitution:
		if part.Out {
			p.ws(">(")
		} else {
			p.ws("<(")
		}
		p.ws(renderNested(part.Body) + ")")
	case *Arithmetic:
		p.ws("$((")
		p.expr(part.Expr, false)
		p.ws("))")
	}
}

func renderNested(s *Script) string {
	sub := &printer{}
	sub.script(s)
	out := sub.b.String()
	if !sub.flushed {
		out = strings.TrimSuffix(out, "\n")
	}
	return out
}

func (p *printer) expr(e Expr, nested bool) {
	switch e := e.(type) {
	case *Num:
		p.ws(strconv.FormatInt(e.Value, 10))
	case *Var:
		p.ws(e.Name)
	case *Unary:
		p.ws(e.Op)
		p.expr(e.X, true)
	case *Binary:
		if nested {
			p.ws("(")
		}
		p.expr(e.X, true)
		p.ws(" " + e.Op + " ")
		p.expr(e.Y, true)
		if nested {
			p.ws(")")
		}
	}
}

func opText(k token.Kind) string {
	switch k {
	case token.Pipe:
		return "|"
	case token.PipeObject:
		return "|>"
	case token.PipeMixed:
		return "||>"
	case token.AndIf:
		return "&&"
	case token.OrIf:
		return "||"
	case token.Less:
		return "<"
	case token.Great:
		return ">"
	case token.DGreat:
		return ">>"
	case token.LessGreat:
		return "<>"
	case token.AndGreat:
		return "&>"
	case token.GreatAnd:
		return ">&"
	case token.LessAnd:
		return "<&"
	case token.DLess:
		return "<<"
	case token.DLessDash:
		return "<<-"
	}
	return k.String()
}
