package token

import (
	"iter"
	"strings"
)

type hereDoc struct {
	delim string
	strip bool
	start int
}

// Lexer scans shell source in one forward pass. Tokens are produced on
// demand by Next; the lexer never backtracks and never panics.
type Lexer struct {
	src string
	pos int

	line      int
	lineStart int
	synced    int

	queue     []Token
	pending   []hereDoc
	wantDelim bool
	delimOp   Kind
	delimAt   int
	done      bool
}

// NewLexer returns a lexer positioned at the start of src.
func NewLexer(src string) *Lexer {
	l := &Lexer{src: src}
	l.Reset(0)
	return l
}

// Reset restarts scanning at offset, which must be the start of a
// previously emitted token. Pending here-documents are discarded.
func (l *Lexer) Reset(offset int) {
	if offset < 0 {
		offset = 0
	}
	if offset > len(l.src) {
		offset = len(l.src)
	}
	l.pos = offset
	l.line = 1
	l.lineStart = 0
	l.synced = 0
	l.queue = l.queue[:0]
	l.pending = nil
	l.wantDelim = false
	l.done = false
}

// Offset returns the byte offset of the next unread character.
func (l *Lexer) Offset() int { return l.pos }

// All returns the remaining tokens as a sequence. The sequence ends after
// EOF or after the first LexError.
func (l *Lexer) All() iter.Seq[Token] {
	return func(yield func(Token) bool) {
		for {
			tok := l.Next()
			if !yield(tok) || tok.Kind == EOF || tok.Kind == LexError {
				return
			}
		}
	}
}

// Tokenize lexes src completely. The result ends with EOF or LexError.
func Tokenize(src string) []Token {
	var toks []Token
	for tok := range NewLexer(src).All() {
		toks = append(toks, tok)
	}
	return toks
}

func (l *Lexer) position(off int) (int, int) {
	if off < l.synced {
		l.line, l.lineStart, l.synced = 1, 0, 0
	}
	for ; l.synced < off; l.synced++ {
		if l.src[l.synced] == '\n' {
			l.line++
			l.lineStart = l.synced + 1
		}
	}
	return l.line, off - l.lineStart + 1
}

func (l *Lexer) make(kind Kind, start, end int) Token {
	line, col := l.position(start)
	return Token{Kind: kind, Span: Span{Start: start, End: end}, Line: line, Col: col, Text: l.src[start:end]}
}

func (l *Lexer) fail(start int, msg string) Token {
	tok := l.make(LexError, start, len(l.src))
	tok.Text = msg
	l.done = true
	l.queue = l.queue[:0]
	l.pos = len(l.src)
	return tok
}

// Next returns the next token. After EOF or LexError it keeps returning EOF.
func (l *Lexer) Next() Token {
	if len(l.queue) > 0 {
		tok := l.queue[0]
		l.queue = l.queue[1:]
		return tok
	}
	if l.done {
		return l.make(EOF, len(l.src), len(l.src))
	}
	l.skipBlanks()
	if l.pos >= len(l.src) {
		if len(l.pending) > 0 {
			return l.fail(l.pending[0].start, "unterminated here-document")
		}
		if l.wantDelim {
			return l.fail(l.delimAt, "missing here-document delimiter")
		}
		l.done = true
		return l.make(EOF, len(l.src), len(l.src))
	}

	start := l.pos
	c := l.src[l.pos]
	switch c {
	case '\n':
		l.pos++
		tok := l.make(Newline, start, l.pos)
		if l.wantDelim {
			return l.fail(l.delimAt, "missing here-document delimiter")
		}
		if len(l.pending) > 0 {
			if errTok, ok := l.readHereBodies(); !ok {
				return errTok
			}
		}
		return tok
	case '#':
		end := strings.IndexByte(l.src[l.pos:], '\n')
		if end < 0 {
			l.pos = len(l.src)
		} else {
			l.pos += end
		}
		return l.make(Comment, start, l.pos)
	}

	if kind, n := l.operator(); n > 0 {
		l.pos += n
		tok := l.make(kind, start, l.pos)
		if kind == DLess || kind == DLessDash {
			l.wantDelim = true
			l.delimOp = kind
			l.delimAt = start
		}
		return tok
	}
	return l.word()
}

func (l *Lexer) skipBlanks() {
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case ' ', '\t', '\r':
			l.pos++
		case '\\':
			if l.pos+1 < len(l.src) && l.src[l.pos+1] == '\n' {
				l.pos += 2
				continue
			}
			return
		default:
			return
		}
	}
}

func (l *Lexer) peek(off int) byte {
	if l.pos+off < len(l.src) {
		return l.src[l.pos+off]
	}
	return 0
}

// operator matches the longest operator at the current position. Process
// substitution openers are not operators; they start a word.
func (l *Lexer) operator() (Kind, int) {
	switch l.peek(0) {
	case '|':
		if l.peek(1) == '|' {
			if l.peek(2) == '>' {
				return PipeMixed, 3
			}
			return OrIf, 2
		}
		if l.peek(1) == '>' {
			return PipeObject, 2
		}
		return Pipe, 1
	case '&':
		switch l.peek(1) {
		case '&':
			return AndIf, 2
		case '>':
			return AndGreat, 2
		}
		return Amp, 1
	case ';':
		return Semi, 1
	case '(':
		return LParen, 1
	case ')':
		return RParen, 1
	case '<':
		switch l.peek(1) {
		case '<':
			if l.peek(2) == '-' {
				return DLessDash, 3
			}
			return DLess, 2
		case '>':
			return LessGreat, 2
		case '&':
			return LessAnd, 2
		case '(':
			return 0, 0
		}
		return Less, 1
	case '>':
		switch l.peek(1) {
		case '>':
			return DGreat, 2
		case '&':
			return GreatAnd, 2
		case '(':
			return 0, 0
		}
		return Great, 1
	}
	return 0, 0
}

func isMeta(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '|', '&', ';', '(', ')', '<', '>':
		return true
	}
	return false
}

func (l *Lexer) word() Token {
	start := l.pos
	if c := l.peek(0); (c == '<' || c == '>') && l.peek(1) == '(' {
		l.pos++
		if !l.skipBalanced() {
			return l.fail(start, "unterminated process substitution")
		}
	}
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if isMeta(c) {
			break
		}
		switch c {
		case '\\':
			l.pos += 2
			if l.pos > len(l.src) {
				l.pos = len(l.src)
			}
		case '\'':
			end := strings.IndexByte(l.src[l.pos+1:], '\'')
			if end < 0 {
				return l.fail(l.pos, "unterminated single quote")
			}
			l.pos += end + 2
		case '"':
			at := l.pos
			if !l.skipDouble() {
				return l.fail(at, "unterminated double quote")
			}
		case '`':
			at := l.pos
			if !l.skipBackquote() {
				return l.fail(at, "unterminated backquote")
			}
		case '$':
			at := l.pos
			if !l.skipDollar() {
				return l.fail(at, "unterminated substitution")
			}
		default:
			l.pos++
		}
	}

	if next := l.peek(0); (next == '<' || next == '>') && l.peek(1) != '(' && isDigits(l.src[start:l.pos]) {
		return l.make(IONumber, start, l.pos)
	}
	tok := l.make(Word, start, l.pos)
	if l.wantDelim {
		l.wantDelim = false
		l.pending = append(l.pending, hereDoc{
			delim: Unquote(tok.Text),
			strip: l.delimOp == DLessDash,
			start: l.delimAt,
		})
	}
	return tok
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// skipDouble consumes a double-quoted string starting at the opening quote.
func (l *Lexer) skipDouble() bool {
	l.pos++
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case '"':
			l.pos++
			return true
		case '\\':
			l.pos += 2
		case '`':
			if !l.skipBackquote() {
				return false
			}
		case '$':
			if !l.skipDollar() {
				return false
			}
		default:
			l.pos++
		}
	}
	return false
}

func (l *Lexer) skipBackquote() bool {
	l.pos++
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case '`':
			l.pos++
			return true
		case '\\':
			l.pos += 2
		default:
			l.pos++
		}
	}
	return false
}

// skipDollar consumes a $-expansion starting at '$'.
func (l *Lexer) skipDollar() bool {
	switch l.peek(1) {
	case '(':
		l.pos++
		return l.skipBalanced()
	case '{':
		l.pos += 2
		depth := 1
		for l.pos < len(l.src) {
			switch l.src[l.pos] {
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					l.pos++
					return true
				}
			case '\\':
				l.pos++
			case '\'':
				end := strings.IndexByte(l.src[l.pos+1:], '\'')
				if end < 0 {
					return false
				}
				l.pos += end + 1
			case '"':
				if !l.skipDouble() {
					return false
				}
				continue
			}
			l.pos++
		}
		return false
	}
	l.pos++
	return true
}

// skipBalanced consumes a parenthesised region starting at '(' while
// honouring quotes, escapes and nested expansions.
func (l *Lexer) skipBalanced() bool {
	depth := 0
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch c {
		case '(':
			depth++
			l.pos++
		case ')':
			depth--
			l.pos++
			if depth == 0 {
				return true
			}
		case '\\':
			l.pos += 2
		case '\'':
			end := strings.IndexByte(l.src[l.pos+1:], '\'')
			if end < 0 {
				return false
			}
			l.pos += end + 2
		case '"':
			if !l.skipDouble() {
				return false
			}
		case '`':
			if !l.skipBackquote() {
				return false
			}
		case '$':
			if l.peek(1) == '(' {
				l.pos++
				if !l.skipBalanced() {
					return false
				}
				continue
			}
			if !l.skipDollar() {
				return false
			}
		default:
			l.pos++
		}
	}
	return false
}

// readHereBodies consumes the bodies of all pending here-documents, which
// start right after the newline just emitted, and queues HereBody tokens.
func (l *Lexer) readHereBodies() (Token, bool) {
	pending := l.pending
	l.pending = nil
	for _, hd := range pending {
		bodyStart := l.pos
		var body strings.Builder
		found := false
		for l.pos < len(l.src) {
			lineEnd := strings.IndexByte(l.src[l.pos:], '\n')
			next := len(l.src)
			if lineEnd >= 0 {
				lineEnd += l.pos
				next = lineEnd + 1
			} else {
				lineEnd = len(l.src)
			}
			line := l.src[l.pos:lineEnd]
			if hd.strip {
				line = strings.TrimLeft(line, "\t")
			}
			if line == hd.delim {
				tok := l.make(HereBody, bodyStart, l.pos)
				tok.Text = body.String()
				l.queue = append(l.queue, tok)
				l.pos = next
				found = true
				break
			}
			body.WriteString(line)
			body.WriteByte('\n')
			l.pos = next
		}
		if !found {
			return l.fail(hd.start, "unterminated here-document"), false
		}
	}
	return Token{}, true
}

// Unquote performs quote removal on a literal word: quotes are dropped and
// backslash escapes resolved. Expansions are left untouched.
func Unquote(s string) string {
	if !strings.ContainsAny(s, `'"\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			if i+1 < len(s) {
				i++
				b.WriteByte(s[i])
			}
		case '\'':
			end := strings.IndexByte(s[i+1:], '\'')
			if end < 0 {
				b.WriteString(s[i+1:])
				return b.String()
			}
			b.WriteString(s[i+1 : i+1+end])
			i += end + 1
		case '"':
			i++
			for ; i < len(s) && s[i] != '"'; i++ {
				if s[i] == '\\' && i+1 < len(s) && strings.IndexByte("$`\"\\\n", s[i+1]) >= 0 {
					i++
				}
				b.WriteByte(s[i])
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ScanEnd returns the offset just past the quoted region or expansion
// starting at s[i], which must be one of ' " ` $ (. It returns -1 when the
// region is unterminated.
func ScanEnd(s string, i int) int {
	l := &Lexer{src: s, pos: i}
	ok := true
	switch s[i] {
	case '\'':
		end := strings.IndexByte(s[i+1:], '\'')
		if end < 0 {
			return -1
		}
		return i + end + 2
	case '"':
		ok = l.skipDouble()
	case '`':
		ok = l.skipBackquote()
	case '$':
		ok = l.skipDollar()
	case '(':
		ok = l.skipBalanced()
	}
	if !ok || l.pos > len(s) {
		return -1
	}
	return l.pos
}
