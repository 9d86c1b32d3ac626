package ast

import "github.com/rcarmo/go-nxsh/pkg/shell/token"

// Walk traverses the tree rooted at n in depth-first order. If fn returns
// false the children of that node are skipped. Substitution bodies are
// visited as part of the word that owns them.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch n := n.(type) {
	case *Script:
		for _, s := range n.Stmts {
			Walk(s, fn)
		}
	case *Stmt:
		Walk(n.AndOr, fn)
	case *AndOr:
		for _, p := range n.Pipelines {
			Walk(p, fn)
		}
	case *Pipeline:
		for _, c := range n.Cmds {
			Walk(c, fn)
		}
	case *SimpleCommand:
		for _, a := range n.Assigns {
			Walk(a, fn)
		}
		for _, w := range n.Words {
			Walk(w, fn)
		}
		walkRedirs(n.Redirs, fn)
	case *Subshell:
		Walk(n.Body, fn)
		walkRedirs(n.Redirs, fn)
	case *Group:
		Walk(n.Body, fn)
		walkRedirs(n.Redirs, fn)
	case *If:
		for _, c := range n.Clauses {
			Walk(c, fn)
		}
		if n.Else != nil {
			Walk(n.Else, fn)
		}
		walkRedirs(n.Redirs, fn)
	case *CondClause:
		Walk(n.Cond, fn)
		Walk(n.Body, fn)
	case *While:
		Walk(n.Cond, fn)
		Walk(n.Body, fn)
		walkRedirs(n.Redirs, fn)
	case *For:
		for _, w := range n.Items {
			Walk(w, fn)
		}
		Walk(n.Body, fn)
		walkRedirs(n.Redirs, fn)
	case *FunctionDef:
		Walk(n.Body, fn)
	case *Assignment:
		if n.Value != nil {
			Walk(n.Value, fn)
		}
	case *Redirect:
		if n.Target != nil {
			Walk(n.Target, fn)
		}
		if n.Here != nil && n.Here.Word != nil {
			Walk(n.Here.Word, fn)
		}
	case *Word:
		for _, p := range n.Parts {
			Walk(p, fn)
		}
	case *DblQuoted:
		for _, p := range n.Parts {
			Walk(p, fn)
		}
	case *VariableRef:
		if n.Arg != nil {
			Walk(n.Arg, fn)
		}
	case *CommandSubstitution:
		Walk(n.Body, fn)
	case *ProcessSubstitution:
		Walk(n.Body, fn)
	case *Arithmetic:
		Walk(n.Expr, fn)
	case *Unary:
		Walk(n.X, fn)
	case *Binary:
		Walk(n.X, fn)
		Walk(n.Y, fn)
	}
}

func walkRedirs(rs []*Redirect, fn func(Node) bool) {
	for _, r := range rs {
		Walk(r, fn)
	}
}

// ClearPos zeroes every source span in the tree. Trees that differ only in
// positions compare equal afterwards.
func ClearPos(n Node) {
	Walk(n, func(n Node) bool {
		switch n := n.(type) {
		case *Script:
			n.Span = token.Span{}
		case *Stmt:
			n.Span = token.Span{}
		case *Pipeline:
			n.Span = token.Span{}
		case *SimpleCommand:
			n.Span = token.Span{}
		case *Subshell:
			n.Span = token.Span{}
		case *Group:
			n.Span = token.Span{}
		case *If:
			n.Span = token.Span{}
		case *While:
			n.Span = token.Span{}
		case *For:
			n.Span = token.Span{}
		case *FunctionDef:
			n.Span = token.Span{}
		case *Assignment:
			n.Span = token.Span{}
		case *Redirect:
			n.Span = token.Span{}
		case *Word:
			n.Span = token.Span{}
		}
		return true
	})
}

// Equal reports whether a and b are the same tree, ignoring positions.
func Equal(a, b Node) bool {
	return Render(a) == Render(b)
}
