package builtins

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/rcarmo/go-nxsh/pkg/core"
	"github.com/rcarmo/go-nxsh/pkg/shell/engine"
	"github.com/rcarmo/go-nxsh/pkg/shell/value"
)

// eachRow calls fn for every row of standard input. A list value
// contributes each of its items as a row.
func eachRow(ec *engine.ExecutionContext, fn func(value.Value) error) error {
	for {
		v, err := ec.ReadValue()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if v.Kind() == value.List {
			for _, item := range v.Items() {
				if err := fn(item); err != nil {
					return err
				}
			}
			continue
		}
		if err := fn(v); err != nil {
			return err
		}
	}
}

func readRows(ec *engine.ExecutionContext) ([]value.Value, error) {
	var rows []value.Value
	err := eachRow(ec, func(v value.Value) error {
		rows = append(rows, v)
		return nil
	})
	return rows, err
}

// Select keeps the named fields of each row. Dotted paths reach into
// nested maps and lists.
func Select(ec *engine.ExecutionContext) (int, error) {
	fields := ec.Args[1:]
	if len(fields) == 0 {
		return usage(ec, "usage: select field [field ...]")
	}
	err := eachRow(ec, func(v value.Value) error {
		return ec.WriteValue(v.Pick(fields...))
	})
	if err != nil {
		return core.ExitFailure, err
	}
	return core.ExitSuccess, nil
}

// Where keeps the rows whose field satisfies a comparison:
//
//	where field op value
//
// with op one of == (or =), !=, <, <=, >, >= and contains, or the words
// eq, ne, lt, le, gt and ge, which need no quoting. Ordering operators
// compare numbers only. The value is read as JSON when it parses
// and as a string otherwise.
func Where(ec *engine.ExecutionContext) (int, error) {
	if len(ec.Args) != 4 {
		return usage(ec, "usage: where field op value")
	}
	field, op, want := ec.Args[1], ec.Args[2], literal(ec.Args[3])
	match, err := comparator(op, want)
	if err != nil {
		return usage(ec, err.Error())
	}
	err = eachRow(ec, func(v value.Value) error {
		got, ok := v.Path(field)
		if !ok || !match(got) {
			return nil
		}
		return ec.WriteValue(v)
	})
	if err != nil {
		return core.ExitFailure, err
	}
	return core.ExitSuccess, nil
}

// literal reads a command line argument as a value.
func literal(s string) value.Value {
	if v, err := value.Parse([]byte(s)); err == nil {
		return v
	}
	return value.Str(s)
}

func comparator(op string, want value.Value) (func(value.Value) bool, error) {
	numeric := func(cmp func(a, b float64) bool) func(value.Value) bool {
		b, ok := want.AsFloat()
		return func(got value.Value) bool {
			a, aok := got.AsFloat()
			return ok && aok && cmp(a, b)
		}
	}
	switch op {
	case "==", "=", "eq":
		return func(got value.Value) bool { return value.Equal(got, want) }, nil
	case "!=", "ne":
		return func(got value.Value) bool { return !value.Equal(got, want) }, nil
	case "<", "lt":
		return numeric(func(a, b float64) bool { return a < b }), nil
	case "<=", "le":
		return numeric(func(a, b float64) bool { return a <= b }), nil
	case ">", "gt":
		return numeric(func(a, b float64) bool { return a > b }), nil
	case ">=", "ge":
		return numeric(func(a, b float64) bool { return a >= b }), nil
	case "contains":
		needle, ok := want.AsString()
		if !ok {
			needle = want.Text()
		}
		return func(got value.Value) bool {
			if s, ok := got.AsString(); ok {
				return strings.Contains(s, needle)
			}
			if got.Kind() == value.List {
				return slices.ContainsFunc(got.Items(), func(item value.Value) bool { return value.Equal(item, want) })
			}
			return false
		}, nil
	}
	return nil, fmt.Errorf("%s: unknown operator", op)
}

// SortBy sorts rows by a field, numerically when both sides are numbers
// and by text otherwise. Rows missing the field sort first. -r reverses.
func SortBy(ec *engine.ExecutionContext) (int, error) {
	args := ec.Args[1:]
	reverse := false
	if len(args) > 0 && (args[0] == "-r" || args[0] == "--reverse") {
		reverse, args = true, args[1:]
	}
	if len(args) != 1 {
		return usage(ec, "usage: sort-by [-r] field")
	}
	field := args[0]
	rows, err := readRows(ec)
	if err != nil {
		return core.ExitFailure, err
	}
	slices.SortStableFunc(rows, func(a, b value.Value) int {
		c := compareField(a, b, field)
		if reverse {
			return -c
		}
		return c
	})
	for _, r := range rows {
		if err := ec.WriteValue(r); err != nil {
			return core.ExitFailure, err
		}
	}
	return core.ExitSuccess, nil
}

func compareField(a, b value.Value, field string) int {
	av, aok := a.Path(field)
	bv, bok := b.Path(field)
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return -1
	case !bok:
		return 1
	}
	af, afok := av.AsFloat()
	bf, bfok := bv.AsFloat()
	if afok && bfok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	return strings.Compare(av.Text(), bv.Text())
}

// GroupBy collects rows into one map from the text of a field to the list
// of rows holding it. Rows without the field group under "null".
func GroupBy(ec *engine.ExecutionContext) (int, error) {
	if len(ec.Args) != 2 {
		return usage(ec, "usage: group-by field")
	}
	field := ec.Args[1]
	groups := map[string][]value.Value{}
	err := eachRow(ec, func(v value.Value) error {
		key := "null"
		if f, ok := v.Path(field); ok && !f.IsNull() {
			key = f.Text()
		}
		groups[key] = append(groups[key], v)
		return nil
	})
	if err != nil {
		return core.ExitFailure, err
	}
	out := make(map[string]value.Value, len(groups))
	for k, rows := range groups {
		out[k] = value.NewList(rows...)
	}
	if err := ec.WriteValue(value.NewMap(out)); err != nil {
		return core.ExitFailure, err
	}
	return core.ExitSuccess, nil
}

// FromJSON parses standard input as JSON and writes values. A lone
// top-level array yields one value per element; otherwise every document,
// such as each line of JSON lines input, yields one value.
func FromJSON(ec *engine.ExecutionContext) (int, error) {
	data, err := io.ReadAll(ec.Stdin)
	if err != nil {
		return core.ExitFailure, err
	}
	vals, err := decodeJSON(data)
	if err != nil {
		ec.Errorf("%v", err)
		return core.ExitFailure, nil
	}
	for _, v := range vals {
		if err := ec.WriteValue(v); err != nil {
			return core.ExitFailure, err
		}
	}
	return core.ExitSuccess, nil
}

func decodeJSON(data []byte) ([]value.Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var docs []json.RawMessage
	for {
		var raw json.RawMessage
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid JSON after %d documents: %w", len(docs), err)
		}
		docs = append(docs, raw)
	}
	out := make([]value.Value, 0, len(docs))
	for _, raw := range docs {
		v, err := value.Parse(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if len(out) == 1 && out[0].Kind() == value.List {
		return out[0].Items(), nil
	}
	return out, nil
}

// ToJSON writes each value as one line of JSON. -a collects them into a
// single array and -p indents the output.
func ToJSON(ec *engine.ExecutionContext) (int, error) {
	var array, pretty bool
	rest, code := core.ParseBoolFlags(ec.Stdio(), "to-json", ec.Args[1:], map[byte]*bool{'a': &array, 'p': &pretty})
	if code != core.ExitSuccess {
		return code, nil
	}
	if len(rest) > 0 {
		return usage(ec, "usage: to-json [-a] [-p]")
	}
	encode := func(v value.Value) error {
		var (
			b   []byte
			err error
		)
		if pretty {
			b, err = json.MarshalIndent(v, "", "  ")
		} else {
			b, err = json.Marshal(v)
		}
		if err != nil {
			return err
		}
		_, err = ec.Stdout.Write(append(b, '\n'))
		return err
	}
	if array {
		var rows []value.Value
		for {
			v, err := ec.ReadValue()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return core.ExitFailure, err
			}
			rows = append(rows, v)
		}
		if err := encode(value.NewList(rows...)); err != nil {
			return core.ExitFailure, err
		}
		return core.ExitSuccess, nil
	}
	for {
		v, err := ec.ReadValue()
		if errors.Is(err, io.EOF) {
			return core.ExitSuccess, nil
		}
		if err != nil {
			return core.ExitFailure, err
		}
		if err := encode(v); err != nil {
			return core.ExitFailure, err
		}
	}
}
