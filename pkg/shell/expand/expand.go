// Package expand turns assembled words into argument fields: brace
// expansion, tilde expansion, field splitting and pathname expansion, in
// that order. Parameter, command and arithmetic expansion happen before a
// word reaches this package; their results arrive as segments flagged for
// splitting.
package expand

import (
	"os"
	"os/user"
	"strings"
)

// DefaultMaxFields bounds the number of fields a single expansion may
// produce.
const DefaultMaxFields = 4096

// DefaultIFS is used when IFS is unset.
const DefaultIFS = " \t\n"

// Segment is one piece of an assembled word.
type Segment struct {
	Text string
	// Quoted text is taken literally: it is neither split nor globbed.
	Quoted bool
	// Split marks the result of an unquoted expansion, subject to field
	// splitting.
	Split bool
	// List holds the elements of "$@"; each element becomes its own field
	// boundary. Text is ignored when IsList is set.
	List   []string
	IsList bool
}

// Word is a sequence of segments produced for one shell word.
type Word struct {
	Segs []Segment
}

// Lit returns a word holding unquoted literal text.
func Lit(s string) Word { return Word{Segs: []Segment{{Text: s}}} }

// Quoted returns a word holding quoted text.
func Quoted(s string) Word { return Word{Segs: []Segment{{Text: s, Quoted: true}}} }

// Config controls expansion.
type Config struct {
	Dir       string
	Home      string
	IFS       *string
	MaxFields int
	NoGlob    bool
}

func (c Config) ifs() string {
	if c.IFS == nil {
		return DefaultIFS
	}
	return *c.IFS
}

func (c Config) max() int {
	if c.MaxFields <= 0 {
		return DefaultMaxFields
	}
	return c.MaxFields
}

// Result holds expanded fields. Truncated is set when the field cap was hit
// and the remainder discarded.
type Result struct {
	Fields    []string
	Truncated bool
}

// Join performs quote removal only and concatenates the word. List
// segments are joined with spaces. It is used for assignments and
// here-documents, where no splitting or globbing applies.
func Join(w Word) string {
	var b strings.Builder
	for _, s := range w.Segs {
		if s.IsList {
			b.WriteString(strings.Join(s.List, " "))
			continue
		}
		b.WriteString(s.Text)
	}
	return b.String()
}

// Static reports whether w expands to exactly itself as a single field,
// returning that field.
func Static(w Word) (string, bool) {
	var b strings.Builder
	for i, s := range w.Segs {
		if s.IsList || s.Split {
			return "", false
		}
		if !s.Quoted {
			if strings.ContainsAny(s.Text, "*?[{") {
				return "", false
			}
			if i == 0 && strings.HasPrefix(s.Text, "~") {
				return "", false
			}
		}
		b.WriteString(s.Text)
	}
	if b.Len() == 0 && !hasQuoted(w) {
		return "", false
	}
	return b.String(), true
}

func hasQuoted(w Word) bool {
	for _, s := range w.Segs {
		if s.Quoted && !s.IsList {
			return true
		}
	}
	return false
}

// Fields expands words into argument fields.
func Fields(cfg Config, words ...Word) Result {
	var res Result
	budget := cfg.max()
	ifs := cfg.ifs()
	for _, w := range words {
		if len(res.Fields) >= budget {
			res.Truncated = true
			break
		}
		fw := flatten(w)
		braced, cut := braceExpand(fw, budget-len(res.Fields))
		if cut {
			res.Truncated = true
		}
		for _, b := range braced {
			b = expandTilde(b, cfg.Home)
			split := splitFields(b, ifs)
			if len(split) == 0 && hasQuoted(w) {
				split = []fword{{}}
			}
			for _, f := range split {
				var matches []string
				if !cfg.NoGlob {
					matches = glob(f, cfg.Dir)
				}
				if matches == nil {
					matches = []string{f.String()}
				}
				for _, m := range matches {
					if len(res.Fields) >= budget {
						res.Truncated = true
						return res
					}
					res.Fields = append(res.Fields, m)
				}
			}
		}
	}
	return res
}

const (
	fQuoted uint8 = 1 << iota
	fSplit
	fBreak
)

// fword is a word as runes with per-rune origin flags.
type fword struct {
	r []rune
	f []uint8
}

func (w fword) String() string { return string(w.r) }

func (w *fword) add(s string, flag uint8) {
	for _, r := range s {
		w.r = append(w.r, r)
		w.f = append(w.f, flag)
	}
}

func (w fword) active(i int) bool { return w.f[i]&(fQuoted|fSplit|fBreak) == 0 }

func (w fword) slice(i, j int) fword { return fword{r: w.r[i:j], f: w.f[i:j]} }

func concat(parts ...fword) fword {
	var out fword
	for _, p := range parts {
		out.r = append(out.r, p.r...)
		out.f = append(out.f, p.f...)
	}
	return out
}

func flatten(w Word) fword {
	var out fword
	for _, s := range w.Segs {
		var flag uint8
		if s.Quoted {
			flag = fQuoted
		} else if s.Split {
			flag = fSplit
		}
		if !s.IsList {
			out.add(s.Text, flag)
			continue
		}
		for i, item := range s.List {
			if i > 0 {
				if s.Quoted {
					out.r = append(out.r, 0)
					out.f = append(out.f, fBreak)
				} else {
					out.add(" ", fSplit)
				}
			}
			out.add(item, flag)
		}
	}
	return out
}

func expandTilde(w fword, home string) fword {
	if len(w.r) == 0 || w.r[0] != '~' || !w.active(0) {
		return w
	}
	end := len(w.r)
	for i := 1; i < len(w.r); i++ {
		if w.r[i] == '/' {
			end = i
			break
		}
		if !w.active(i) {
			return w
		}
	}
	name := string(w.r[1:end])
	dir := ""
	switch name {
	case "":
		dir = home
		if dir == "" {
			dir, _ = os.UserHomeDir()
		}
	default:
		if u, err := user.Lookup(name); err == nil {
			dir = u.HomeDir
		}
	}
	if dir == "" {
		return w
	}
	var head fword
	head.add(dir, fQuoted)
	return concat(head, w.slice(end, len(w.r)))
}

func splitFields(w fword, ifs string) []fword {
	var out []fword
	var cur fword
	have := false
	afterWhite := false
	push := func() {
		out = append(out, cur)
		cur = fword{}
		have = false
	}
	for i, r := range w.r {
		flag := w.f[i]
		if flag&fBreak != 0 {
			push()
			afterWhite = false
			continue
		}
		if flag&fSplit != 0 && strings.ContainsRune(ifs, r) {
			if r == ' ' || r == '\t' || r == '\n' {
				if have {
					push()
					afterWhite = true
				}
				continue
			}
			if !(afterWhite && !have) {
				push()
			}
			afterWhite = false
			continue
		}
		cur.r = append(cur.r, r)
		cur.f = append(cur.f, flag)
		have = true
		afterWhite = false
	}
	if have {
		out = append(out, cur)
	}
	return out
}
