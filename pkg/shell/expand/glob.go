package expand

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const globMeta = "*?["

// escapable runes are special to doublestar and must be escaped when they
// come from quoted text or are not meant as pattern syntax.
const escapable = "*?[]{}\\"

// glob performs pathname expansion on w. It returns nil when w holds no
// active pattern characters or nothing matched.
func glob(w fword, dir string) []string {
	comps := splitSlash(w)
	metaAt := -1
	for i, c := range comps {
		if hasMeta(c) {
			metaAt = i
			break
		}
	}
	if metaAt < 0 {
		return nil
	}

	var prefix strings.Builder
	for _, c := range comps[:metaAt] {
		prefix.WriteString(string(c.r))
		prefix.WriteByte('/')
	}
	var pattern strings.Builder
	showDots := false
	for i, c := range comps[metaAt:] {
		if i > 0 {
			pattern.WriteByte('/')
		}
		if len(c.r) > 0 && c.r[0] == '.' {
			showDots = true
		}
		writePattern(&pattern, c)
	}

	root := prefix.String()
	switch {
	case root == "":
		root = dir
	case !filepath.IsAbs(root):
		root = filepath.Join(dir, root)
	}
	if root == "" {
		root = "."
	}
	matches, err := doublestar.Glob(os.DirFS(root), pattern.String())
	if err != nil || len(matches) == 0 {
		return nil
	}
	out := matches[:0]
	for _, m := range matches {
		if !showDots && hiddenComponent(m) {
			continue
		}
		out = append(out, prefix.String()+m)
	}
	if len(out) == 0 {
		return nil
	}
	slices.Sort(out)
	return out
}

func splitSlash(w fword) []fword {
	var comps []fword
	start := 0
	for i, r := range w.r {
		if r == '/' {
			comps = append(comps, w.slice(start, i))
			start = i + 1
		}
	}
	return append(comps, w.slice(start, len(w.r)))
}

func hasMeta(c fword) bool {
	for i, r := range c.r {
		if c.active(i) && strings.ContainsRune(globMeta, r) {
			return true
		}
	}
	return false
}

func writePattern(b *strings.Builder, c fword) {
	for i, r := range c.r {
		special := strings.ContainsRune(escapable, r)
		if special && (!c.active(i) || r == '{' || r == '}' || r == '\\') {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
}

func hiddenComponent(p string) bool {
	for _, part := range strings.Split(p, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

// Match reports whether name matches the shell pattern. Invalid patterns
// never match.
func Match(pattern, name string) bool {
	ok, err := doublestar.Match(strings.NewReplacer("{", `\{`, "}", `\}`).Replace(pattern), name)
	return err == nil && ok
}
