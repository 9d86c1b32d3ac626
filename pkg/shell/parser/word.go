package parser

import (
	"strings"
	"unicode/utf8"

	"github.com/rcarmo/go-nxsh/pkg/shell/ast"
	"github.com/rcarmo/go-nxsh/pkg/shell/token"
)

// parseWord splits the raw text of a word token into parts. off is the
// absolute source offset of s.
func parseWord(s string, off int) (*ast.Word, error) {
	parts, err := parseParts(s, off)
	if err != nil {
		return nil, err
	}
	return &ast.Word{Parts: parts, Span: token.Span{Start: off, End: off + len(s)}}, nil
}

// parseHereWord parses an unquoted here-document body, where only
// expansions and a reduced set of escapes are recognised.
func parseHereWord(body string, off int) (*ast.Word, error) {
	parts, err := parseDouble(body, off, true)
	if err != nil {
		return nil, err
	}
	return &ast.Word{Parts: parts, Span: token.Span{Start: off, End: off + len(body)}}, nil
}

func badSubst(start, end int, msg string) *ParseError {
	return &ParseError{Span: token.Span{Start: start, End: end}, Found: token.Word, Message: msg}
}

// appendPart adds part, merging it into a preceding part of the same
// literal kind.
func appendPart(parts []ast.WordPart, part ast.WordPart) []ast.WordPart {
	if n := len(parts); n > 0 {
		switch cur := part.(type) {
		case *ast.Lit:
			if prev, ok := parts[n-1].(*ast.Lit); ok {
				prev.Value += cur.Value
				return parts
			}
		case *ast.SglQuoted:
			if prev, ok := parts[n-1].(*ast.SglQuoted); ok {
				prev.Value += cur.Value
				return parts
			}
		}
	}
	return append(parts, part)
}

func parseParts(s string, off int) ([]ast.WordPart, error) {
	var parts []ast.WordPart
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			parts = appendPart(parts, &ast.Lit{Value: lit.String()})
			lit.Reset()
		}
	}
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case i == 0 && (c == '<' || c == '>') && len(s) > 1 && s[1] == '(':
			end := token.ScanEnd(s, 1)
			if end < 0 {
				return nil, badSubst(off, off+len(s), "unterminated process substitution")
			}
			body, err := parseAt(s[2:end-1], off+2)
			if err != nil {
				return nil, err
			}
			parts = append(parts, &ast.ProcessSubstitution{Body: body, Out: c == '>'})
			i = end
		case c == '\\':
			if i+1 >= len(s) {
				lit.WriteByte('\\')
				i++
				continue
			}
			if s[i+1] == '\n' {
				i += 2
				continue
			}
			if s[i+1] == '$' {
				// A dollar is not a pattern character, so it stays literal.
				lit.WriteByte('$')
				i += 2
				continue
			}
			flush()
			_, size := utf8.DecodeRuneInString(s[i+1:])
			parts = appendPart(parts, &ast.SglQuoted{Value: s[i+1 : i+1+size]})
			i += 1 + size
		case c == '\'':
			end := token.ScanEnd(s, i)
			if end < 0 {
				return nil, badSubst(off+i, off+len(s), "unterminated single quote")
			}
			flush()
			parts = appendPart(parts, &ast.SglQuoted{Value: s[i+1 : end-1]})
			i = end
		case c == '"':
			end := token.ScanEnd(s, i)
			if end < 0 {
				return nil, badSubst(off+i, off+len(s), "unterminated double quote")
			}
			inner, err := parseDouble(s[i+1:end-1], off+i+1, false)
			if err != nil {
				return nil, err
			}
			flush()
			parts = append(parts, &ast.DblQuoted{Parts: inner})
			i = end
		case c == '$' || c == '`':
			part, end, err := parseExpansion(s, i, off)
			if err != nil {
				return nil, err
			}
			if part == nil {
				lit.WriteByte(c)
				i++
				continue
			}
			flush()
			parts = append(parts, part)
			i = end
		default:
			lit.WriteByte(c)
			i++
		}
	}
	flush()
	return parts, nil
}

// parseDouble parses the inside of a double-quoted string, or a here-doc
// body when here is set (where '"' is not special).
func parseDouble(s string, off int, here bool) ([]ast.WordPart, error) {
	escapable := "$`\"\\"
	if here {
		escapable = "$`\\"
	}
	var parts []ast.WordPart
	var lit strings.Builder
	for i := 0; i < len(s); {
		c := s[i]
		switch c {
		case '\\':
			if i+1 < len(s) && s[i+1] == '\n' {
				i += 2
				continue
			}
			if i+1 < len(s) && strings.IndexByte(escapable, s[i+1]) >= 0 {
				lit.WriteByte(s[i+1])
				i += 2
				continue
			}
			lit.WriteByte(c)
			i++
		case '$', '`':
			part, end, err := parseExpansion(s, i, off)
			if err != nil {
				return nil, err
			}
			if part == nil {
				lit.WriteByte(c)
				i++
				continue
			}
			if lit.Len() > 0 {
				parts = appendPart(parts, &ast.Lit{Value: lit.String()})
				lit.Reset()
			}
			parts = append(parts, part)
			i = end
		default:
			lit.WriteByte(c)
			i++
		}
	}
	if lit.Len() > 0 {
		parts = appendPart(parts, &ast.Lit{Value: lit.String()})
	}
	return parts, nil
}

func isNameStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isNameChar(c byte) bool {
	return isNameStart(c) || c >= '0' && c <= '9'
}

const specialParams = "?#$!@*-"

// parseExpansion parses the expansion starting at s[i] ('$' or '`'). A nil
// part means the character is literal.
func parseExpansion(s string, i, off int) (ast.WordPart, int, error) {
	if s[i] == '`' {
		end := token.ScanEnd(s, i)
		if end < 0 {
			return nil, 0, badSubst(off+i, off+len(s), "unterminated backquote")
		}
		inner := s[i+1 : end-1]
		inner = strings.NewReplacer("\\`", "`", `\\`, `\`, `\$`, `$`).Replace(inner)
		body, err := parseAt(inner, off+i+1)
		if err != nil {
			return nil, 0, err
		}
		return &ast.CommandSubstitution{Body: body}, end, nil
	}
	if i+1 >= len(s) {
		return nil, 0, nil
	}
	switch c := s[i+1]; {
	case c == '(':
		end := token.ScanEnd(s, i)
		if end < 0 {
			return nil, 0, badSubst(off+i, off+len(s), "unterminated command substitution")
		}
		if strings.HasPrefix(s[i:], "$((") && end-i >= 5 && s[end-2] == ')' {
			if expr, err := parseArith(s[i+3:end-2], off+i+3); err == nil {
				return &ast.Arithmetic{Expr: expr}, end, nil
			}
		}
		body, err := parseAt(s[i+2:end-1], off+i+2)
		if err != nil {
			return nil, 0, err
		}
		return &ast.CommandSubstitution{Body: body}, end, nil
	case c == '{':
		end := token.ScanEnd(s, i)
		if end < 0 {
			return nil, 0, badSubst(off+i, off+len(s), "unterminated parameter expansion")
		}
		ref, err := parseBraced(s[i+2:end-1], off+i+2)
		if err != nil {
			return nil, 0, err
		}
		return ref, end, nil
	case isNameStart(c):
		j := i + 1
		for j < len(s) && isNameChar(s[j]) {
			j++
		}
		return &ast.VariableRef{Name: s[i+1 : j]}, j, nil
	case c >= '0' && c <= '9', strings.IndexByte(specialParams, c) >= 0:
		return &ast.VariableRef{Name: s[i+1 : i+2]}, i + 2, nil
	}
	return nil, 0, nil
}

var paramOps = []string{":-", ":=", ":+", ":?", "-", "=", "+", "?"}

func parseBraced(inner string, off int) (*ast.VariableRef, error) {
	bad := func() error {
		return badSubst(off-2, off+len(inner)+1, "bad substitution: ${"+inner+"}")
	}
	ref := &ast.VariableRef{}
	rest := inner
	if len(rest) > 1 && rest[0] == '#' {
		ref.Length = true
		rest = rest[1:]
	}
	switch {
	case rest == "":
		return nil, bad()
	case isNameStart(rest[0]):
		j := 1
		for j < len(rest) && isNameChar(rest[j]) {
			j++
		}
		ref.Name = rest[:j]
	case rest[0] >= '0' && rest[0] <= '9':
		j := 1
		for j < len(rest) && rest[j] >= '0' && rest[j] <= '9' {
			j++
		}
		ref.Name = rest[:j]
	case strings.IndexByte(specialParams, rest[0]) >= 0:
		ref.Name = rest[:1]
	default:
		return nil, bad()
	}
	rest = rest[len(ref.Name):]
	if rest == "" {
		return ref, nil
	}
	if ref.Length {
		return nil, bad()
	}
	for _, op := range paramOps {
		if strings.HasPrefix(rest, op) {
			ref.Op = op
			argOff := off + len(inner) - len(rest) + len(op)
			arg, err := parseWord(rest[len(op):], argOff)
			if err != nil {
				return nil, err
			}
			ref.Arg = arg
			return ref, nil
		}
	}
	return nil, bad()
}
