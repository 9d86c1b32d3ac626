// Package token defines the lexical tokens of the shell language and a
// single-pass lexer that produces them lazily.
package token

import "fmt"

// Kind identifies the lexical class of a token.
type Kind uint8

const (
	EOF Kind = iota
	Newline
	Word
	Comment
	IONumber
	HereBody
	LexError

	Pipe       // |
	PipeObject // |>
	PipeMixed  // ||>
	AndIf      // &&
	OrIf       // ||
	Semi       // ;
	Amp        // &
	LParen     // (
	RParen     // )

	Less      // <
	Great     // >
	DGreat    // >>
	LessGreat // <>
	AndGreat  // &>
	GreatAnd  // >&
	LessAnd   // <&
	DLess     // <<
	DLessDash // <<-

	// Reserved words. The lexer emits them as Word; the parser promotes a
	// word to its keyword kind when it appears in command position.
	If
	Then
	Elif
	Else
	Fi
	While
	Until
	Do
	Done
	For
	In
	Function
	LBrace
	RBrace
	Bang
)

var kindNames = [...]string{
	EOF:        "end of input",
	Newline:    "newline",
	Word:       "word",
	Comment:    "comment",
	IONumber:   "io number",
	HereBody:   "here-document body",
	LexError:   "lex error",
	Pipe:       "'|'",
	PipeObject: "'|>'",
	PipeMixed:  "'||>'",
	AndIf:      "'&&'",
	OrIf:       "'||'",
	Semi:       "';'",
	Amp:        "'&'",
	LParen:     "'('",
	RParen:     "')'",
	Less:       "'<'",
	Great:      "'>'",
	DGreat:     "'>>'",
	LessGreat:  "'<>'",
	AndGreat:   "'&>'",
	GreatAnd:   "'>&'",
	LessAnd:    "'<&'",
	DLess:      "'<<'",
	DLessDash:  "'<<-'",
	If:         "'if'",
	Then:       "'then'",
	Elif:       "'elif'",
	Else:       "'else'",
	Fi:         "'fi'",
	While:      "'while'",
	Until:      "'until'",
	Do:         "'do'",
	Done:       "'done'",
	For:        "'for'",
	In:         "'in'",
	Function:   "'function'",
	LBrace:     "'{'",
	RBrace:     "'}'",
	Bang:       "'!'",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// IsRedirect reports whether k is a redirection operator.
func (k Kind) IsRedirect() bool {
	return k >= Less && k <= DLessDash
}

// IsPipe reports whether k joins two pipeline stages.
func (k Kind) IsPipe() bool {
	return k == Pipe || k == PipeObject || k == PipeMixed
}

var keywords = map[string]Kind{
	"if":       If,
	"then":     Then,
	"elif":     Elif,
	"else":     Else,
	"fi":       Fi,
	"while":    While,
	"until":    Until,
	"do":       Do,
	"done":     Done,
	"for":      For,
	"in":       In,
	"function": Function,
	"{":        LBrace,
	"}":        RBrace,
	"!":        Bang,
}

// Keyword returns the reserved word kind for text, if any.
func Keyword(text string) (Kind, bool) {
	k, ok := keywords[text]
	return k, ok
}

// Span is a half-open byte range [Start, End) into the source.
type Span struct {
	Start int
	End   int
}

// Len returns the number of bytes covered by the span.
func (s Span) Len() int { return s.End - s.Start }

// Token is a single lexeme. Text is a slice of the source except for
// here-document bodies with stripped tabs and lex errors, where it carries
// the processed body or the error message.
type Token struct {
	Kind Kind
	Span Span
	Line int
	Col  int
	Text string
}

func (t Token) String() string {
	switch t.Kind {
	case Word, IONumber, Comment:
		return fmt.Sprintf("%s %q", t.Kind, t.Text)
	case LexError:
		return "lex error: " + t.Text
	}
	return t.Kind.String()
}
