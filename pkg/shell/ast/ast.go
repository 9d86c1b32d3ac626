// Package ast declares the syntax tree produced by the parser.
//
// The tree is strict: every node is owned by exactly one parent, and the
// bodies of command and process substitutions are separate subtrees owned
// by the word part that contains them.
package ast

import (
	"github.com/rcarmo/go-nxsh/pkg/shell/token"
)

// Node is implemented by every syntax tree node.
type Node interface {
	node()
}

// Script is a sequence of statements.
type Script struct {
	Stmts []*Stmt
	Span  token.Span
}

// Stmt is an and-or list, optionally run in the background.
type Stmt struct {
	AndOr      *AndOr
	Background bool
	Span       token.Span
}

// AndOr chains pipelines with && and ||. len(Ops) == len(Pipelines)-1.
type AndOr struct {
	Pipelines []*Pipeline
	Ops       []token.Kind
}

// Pipeline connects commands with |, |> or ||>. len(Ops) == len(Cmds)-1.
type Pipeline struct {
	Negated bool
	Cmds    []Command
	Ops     []token.Kind
	Span    token.Span
}

// Command is a pipeline stage.
type Command interface {
	Node
	Redirects() []*Redirect
	command()
}

// SimpleCommand is a list of assignments, words and redirections.
type SimpleCommand struct {
	Assigns []*Assignment
	Words   []*Word
	Redirs  []*Redirect
	Span    token.Span
}

// Subshell runs Body in a child shell environment.
type Subshell struct {
	Body   *Script
	Redirs []*Redirect
	Span   token.Span
}

// Group runs Body in the current shell environment.
type Group struct {
	Body   *Script
	Redirs []*Redirect
	Span   token.Span
}

// CondClause is one "if/elif COND; then BODY" arm.
type CondClause struct {
	Cond *Script
	Body *Script
}

// If is an if/elif/else conditional.
type If struct {
	Clauses []*CondClause
	Else    *Script
	Redirs  []*Redirect
	Span    token.Span
}

// While is a while or until loop.
type While struct {
	Until  bool
	Cond   *Script
	Body   *Script
	Redirs []*Redirect
	Span   token.Span
}

// For iterates Var over Items, or over the positional parameters when
// HasIn is false.
type For struct {
	Var    string
	HasIn  bool
	Items  []*Word
	Body   *Script
	Redirs []*Redirect
	Span   token.Span
}

// FunctionDef binds Name to a compound command.
type FunctionDef struct {
	Name string
	Body Command
	Span token.Span
}

// Assignment is NAME=value in command prefix position.
type Assignment struct {
	Name  string
	Value *Word
	Span  token.Span
}

// Mode is the access mode a redirection opens its target with.
type Mode uint8

const (
	ModeRead Mode = iota
	ModeWrite
	ModeAppend
	ModeReadWrite
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	case ModeAppend:
		return "append"
	}
	return "read-write"
}

// Redirect is a single redirection. Fd is -1 when no descriptor number
// was written and the operator default applies.
type Redirect struct {
	Fd     int
	Op     token.Kind
	Target *Word
	Here   *HereDoc
	Span   token.Span
}

// HereDoc is the body attached to a << or <<- redirection. Word holds the
// parsed body when the delimiter was unquoted and expansions apply.
type HereDoc struct {
	Delim  string
	Quoted bool
	Body   string
	Word   *Word
}

// Mode returns the access mode implied by the operator.
func (r *Redirect) Mode() Mode {
	switch r.Op {
	case token.Great, token.AndGreat, token.GreatAnd:
		return ModeWrite
	case token.DGreat:
		return ModeAppend
	case token.LessGreat:
		return ModeReadWrite
	}
	return ModeRead
}

// Source returns the descriptor being redirected.
func (r *Redirect) Source() int {
	if r.Fd >= 0 {
		return r.Fd
	}
	switch r.Op {
	case token.Less, token.LessGreat, token.LessAnd, token.DLess, token.DLessDash:
		return 0
	}
	return 1
}

// Word is a shell word made of adjacent parts.
type Word struct {
	Parts []WordPart
	Span  token.Span
}

// WordPart is one segment of a word.
type WordPart interface {
	Node
	wordPart()
}

// Lit is unquoted literal text.
type Lit struct {
	Value string
}

// SglQuoted is literal text that was quoted or escaped.
type SglQuoted struct {
	Value string
}

// DblQuoted is a double-quoted region; its expansions are not split or
// globbed.
type DblQuoted struct {
	Parts []WordPart
}

// VariableRef is a parameter expansion. Op is one of "", ":-", "-", ":=",
// "=", ":+", "+", ":?", "?".
type VariableRef struct {
	Name   string
	Length bool
	Op     string
	Arg    *Word
}

// CommandSubstitution is $(...) or `...`.
type CommandSubstitution struct {
	Body *Script
}

// ProcessSubstitution is <(...) or >(...). Out is true for >(...).
type ProcessSubstitution struct {
	Body *Script
	Out  bool
}

// Arithmetic is $((...)).
type Arithmetic struct {
	Expr Expr
}

// Expr is an arithmetic expression node.
type Expr interface {
	Node
	expr()
}

// Num is an integer literal.
type Num struct {
	Value int64
}

// Var reads a variable as an integer.
type Var struct {
	Name string
}

// Unary applies "-", "+" or "!" to X.
type Unary struct {
	Op string
	X  Expr
}

// Binary applies an arithmetic or comparison operator.
type Binary struct {
	Op string
	X  Expr
	Y  Expr
}

func (*Script) node()              {}
func (*Stmt) node()                {}
func (*AndOr) node()               {}
func (*Pipeline) node()            {}
func (*SimpleCommand) node()       {}
func (*Subshell) node()            {}
func (*Group) node()               {}
func (*CondClause) node()          {}
func (*If) node()                  {}
func (*While) node()               {}
func (*For) node()                 {}
func (*FunctionDef) node()         {}
func (*Assignment) node()          {}
func (*Redirect) node()            {}
func (*Word) node()                {}
func (*Lit) node()                 {}
func (*SglQuoted) node()           {}
func (*DblQuoted) node()           {}
func (*VariableRef) node()         {}
func (*CommandSubstitution) node() {}
func (*ProcessSubstitution) node() {}
func (*Arithmetic) node()          {}
func (*Num) node()                 {}
func (*Var) node()                 {}
func (*Unary) node()               {}
func (*Binary) node()              {}

func (*SimpleCommand) command() {}
func (*Subshell) command()      {}
func (*Group) command()         {}
func (*If) command()            {}
func (*While) command()         {}
func (*For) command()           {}
func (*FunctionDef) command()   {}

func (c *SimpleCommand) Redirects() []*Redirect { return c.Redirs }
func (c *Subshell) Redirects() []*Redirect      { return c.Redirs }
func (c *Group) Redirects() []*Redirect         { return c.Redirs }
func (c *If) Redirects() []*Redirect            { return c.Redirs }
func (c *While) Redirects() []*Redirect         { return c.Redirs }
func (c *For) Redirects() []*Redirect           { return c.Redirs }
func (c *FunctionDef) Redirects() []*Redirect   { return nil }

func (*Lit) wordPart()                 {}
func (*SglQuoted) wordPart()           {}
func (*DblQuoted) wordPart()           {}
func (*VariableRef) wordPart()         {}
func (*CommandSubstitution) wordPart() {}
func (*ProcessSubstitution) wordPart() {}
func (*Arithmetic) wordPart()          {}

func (*Num) expr()    {}
func (*Var) expr()    {}
func (*Unary) expr()  {}
func (*Binary) expr() {}

// Static returns the word's text after quote removal when it contains no
// expansions.
func (w *Word) Static() (string, bool) {
	var buf []byte
	if !appendStatic(&buf, w.Parts) {
		return "", false
	}
	return string(buf), true
}

func appendStatic(buf *[]byte, parts []WordPart) bool {
	for _, p := range parts {
		switch p := p.(type) {
		case *Lit:
			*buf = append(*buf, p.Value...)
		case *SglQuoted:
			*buf = append(*buf, p.Value...)
		case *DblQuoted:
			if !appendStatic(buf, p.Parts) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Bare returns the text of a word made of a single unquoted literal.
func (w *Word) Bare() (string, bool) {
	if len(w.Parts) != 1 {
		return "", false
	}
	lit, ok := w.Parts[0].(*Lit)
	if !ok {
		return "", false
	}
	return lit.Value, true
}

// LitWord builds a word from unquoted literal text.
func LitWord(s string) *Word {
	return &Word{Parts: []WordPart{&Lit{Value: s}}}
}

// QuotedWord builds a word whose text is taken literally.
func QuotedWord(s string) *Word {
	return &Word{Parts: []WordPart{&SglQuoted{Value: s}}}
}
