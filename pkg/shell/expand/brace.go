package expand

import (
	"strconv"
)

// braceExpand expands the first brace expression in w and recurses on each
// alternative. The number of results is capped at limit; cut reports
// whether alternatives were dropped.
func braceExpand(w fword, limit int) ([]fword, bool) {
	if limit <= 0 {
		return nil, true
	}
	open, close, commas := findBrace(w)
	if open < 0 {
		return []fword{w}, false
	}
	prefix := w.slice(0, open)
	suffix := w.slice(close+1, len(w.r))

	var alts []fword
	if len(commas) == 0 {
		seq, ok := sequence(string(w.r[open+1 : close]))
		if !ok {
			// Not an expression: keep the opening brace literal and look for
			// expressions inside and after it.
			rest, cut := braceExpand(w.slice(open+1, len(w.r)), limit)
			out := make([]fword, len(rest))
			for i, r := range rest {
				out[i] = concat(w.slice(0, open+1), r)
			}
			return out, cut
		}
		for _, s := range seq {
			var f fword
			f.add(s, 0)
			alts = append(alts, f)
		}
	} else {
		start := open + 1
		for _, c := range append(commas, close) {
			alts = append(alts, w.slice(start, c))
			start = c + 1
		}
	}

	var out []fword
	cut := false
	for _, alt := range alts {
		if len(out) >= limit {
			return out, true
		}
		sub, c := braceExpand(concat(prefix, alt, suffix), limit-len(out))
		out = append(out, sub...)
		cut = cut || c
	}
	return out, cut
}

// findBrace locates the first balanced active brace pair in w and the
// top-level commas inside it.
func findBrace(w fword) (int, int, []int) {
	for open := 0; open < len(w.r); open++ {
		if w.r[open] != '{' || !w.active(open) {
			continue
		}
		depth := 0
		var commas []int
		for i := open + 1; i < len(w.r); i++ {
			if !w.active(i) {
				continue
			}
			switch w.r[i] {
			case '{':
				depth++
			case '}':
				if depth == 0 {
					return open, i, commas
				}
				depth--
			case ',':
				if depth == 0 {
					commas = append(commas, i)
				}
			}
		}
	}
	return -1, -1, nil
}

// sequence expands {a..b} and {a..b..step} for integers and single letters.
func sequence(body string) ([]string, bool) {
	parts := splitDots(body)
	if len(parts) != 2 && len(parts) != 3 {
		return nil, false
	}
	step := int64(1)
	if len(parts) == 3 {
		n, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil || n == 0 {
			return nil, false
		}
		if n < 0 {
			n = -n
		}
		step = n
	}
	if a, err := strconv.ParseInt(parts[0], 10, 64); err == nil {
		b, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, false
		}
		var out []string
		if a <= b {
			for i := a; i <= b && len(out) < DefaultMaxFields; i += step {
				out = append(out, strconv.FormatInt(i, 10))
			}
		} else {
			for i := a; i >= b && len(out) < DefaultMaxFields; i -= step {
				out = append(out, strconv.FormatInt(i, 10))
			}
		}
		return out, true
	}
	if len(parts[0]) != 1 || len(parts[1]) != 1 || !isAlpha(parts[0][0]) || !isAlpha(parts[1][0]) {
		return nil, false
	}
	a, b := int64(parts[0][0]), int64(parts[1][0])
	var out []string
	if a <= b {
		for i := a; i <= b; i += step {
			out = append(out, string(rune(i)))
		}
	} else {
		for i := a; i >= b; i -= step {
			out = append(out, string(rune(i)))
		}
	}
	return out, true
}

func splitDots(s string) []string {
	var parts []string
	start := 0
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '.' && s[i+1] == '.' {
			parts = append(parts, s[start:i])
			start = i + 2
			i++
		}
	}
	return append(parts, s[start:])
}

func isAlpha(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' }
