package mir

import (
	"slices"
	"strconv"
	"strings"

	"github.com/rcarmo/go-nxsh/pkg/shell/alias"
	"github.com/rcarmo/go-nxsh/pkg/shell/expand"
	"github.com/rcarmo/go-nxsh/pkg/shell/token"
)

// Options carries what the optimizer may assume about the session.
type Options struct {
	// Aliases is the alias table the program will run against. Nil
	// disables alias expansion.
	Aliases *alias.Snapshot
	// Pure reports builtins without side effects that ignore their input.
	Pure func(name string) bool
	// IsFunction reports names already defined as shell functions.
	IsFunction func(name string) bool
}

func (o Options) pure(name string) bool { return o.Pure != nil && o.Pure(name) }

func (o Options) function(name string) bool { return o.IsFunction != nil && o.IsFunction(name) }

// Optimize rewrites prog in place and returns it. The passes run in a fixed
// order (constant folding with dead code removal, dead-pipe elimination,
// alias expansion) and repeat until nothing changes, so optimizing an
// optimized program is a no-op.
func Optimize(prog *Program, opts Options) *Program {
	defined := definedFunctions(prog)
	isFunc := func(name string) bool { return defined[name] || opts.function(name) }
	for {
		changed := false
		for _, fn := range prog.Funcs {
			for _, b := range fn.Blocks {
				if fold(b) {
					changed = true
				}
				if dce(b) {
					changed = true
				}
			}
		}
		if deadPipes(prog, opts, isFunc) {
			changed = true
		}
		if expandAliases(prog, opts, isFunc) {
			changed = true
		}
		if !changed {
			return prog
		}
	}
}

func definedFunctions(prog *Program) map[string]bool {
	names := map[string]bool{}
	forEachInstr(prog, func(in *Instr) {
		if in.Op == OpDefine {
			names[in.Name] = true
		}
	})
	return names
}

func forEachInstr(prog *Program, fn func(*Instr)) {
	for _, f := range prog.Funcs {
		for _, b := range f.Blocks {
			for i := range b.Instrs {
				fn(&b.Instrs[i])
			}
		}
	}
}

func forEachStage(prog *Program, fn func(p *Pipeline, s *Stage)) {
	forEachInstr(prog, func(in *Instr) {
		if in.Op == OpExec {
			for _, s := range in.Pipe.Stages {
				fn(in.Pipe, s)
			}
		}
	})
}

// fold evaluates instructions whose operands are constants.
func fold(b *Block) bool {
	changed := false
	ins := b.Instrs
	for i := range ins {
		in := &ins[i]
		switch in.Op {
		case OpUnary:
			if x := &ins[in.Args[0]]; x.Op == OpNum {
				if n, err := unary(in.Str, x.Int); err == nil {
					*in = Instr{Op: OpNum, Int: n}
					changed = true
				}
			}
		case OpBinary:
			x, y := &ins[in.Args[0]], &ins[in.Args[1]]
			if x.Op == OpNum && y.Op == OpNum {
				if n, err := binary(in.Str, x.Int, y.Int); err == nil {
					*in = Instr{Op: OpNum, Int: n}
					changed = true
				}
			}
		case OpItoa:
			if x := &ins[in.Args[0]]; x.Op == OpNum {
				*in = Instr{Op: OpConst, Str: strconv.FormatInt(x.Int, 10)}
				changed = true
			}
		case OpJoin:
			if w, ok := constWord(ins, &ins[in.Args[0]]); ok {
				*in = Instr{Op: OpConst, Str: expand.Join(w)}
				changed = true
			}
		case OpFields:
			if w, ok := constWord(ins, &ins[in.Args[0]]); ok {
				if fields, ok := foldFields(w); ok {
					*in = Instr{Op: OpConstFields, Strs: fields}
					changed = true
				}
			}
		case OpExec:
			if foldPipeline(ins, in.Pipe) {
				changed = true
			}
		}
	}
	if b.Term.Kind == TermBranch {
		if c := &ins[b.Term.Cond]; c.Op == OpConst {
			target := b.Term.Else
			if c.Str == "0" {
				target = b.Term.Then
			}
			b.Term = Term{Kind: TermJump, Then: target}
			changed = true
		}
	}
	return changed
}

// constWord returns the word built by in when every segment is a constant
// that field splitting cannot change.
func constWord(ins []Instr, in *Instr) (expand.Word, bool) {
	if in.Op != OpWord {
		return expand.Word{}, false
	}
	w := expand.Word{Segs: make([]expand.Segment, len(in.Segs))}
	for i, s := range in.Segs {
		arg := &ins[in.Args[i]]
		if s.List || s.Split || arg.Op != OpConst {
			return expand.Word{}, false
		}
		w.Segs[i] = expand.Segment{Text: arg.Str, Quoted: s.Quoted}
	}
	return w, true
}

// foldFields expands words whose result does not depend on the file system
// or the environment: no glob characters and no tilde prefix.
func foldFields(w expand.Word) ([]string, bool) {
	if s, ok := expand.Static(w); ok {
		return []string{s}, true
	}
	for i, s := range w.Segs {
		if s.Quoted {
			continue
		}
		if strings.ContainsAny(s.Text, "*?[") || i == 0 && strings.HasPrefix(s.Text, "~") {
			return nil, false
		}
	}
	res := expand.Fields(expand.Config{NoGlob: true}, w)
	if res.Truncated {
		return nil, false
	}
	return res.Fields, true
}

func foldArg(ins []Instr, a *Arg, single bool) bool {
	if a.Static {
		return false
	}
	in := &ins[a.Val]
	switch {
	case !single && in.Op == OpConstFields:
		*a = LitArg(in.Strs...)
	case single && in.Op == OpConst:
		*a = LitArg(in.Str)
	default:
		return false
	}
	return true
}

func foldPipeline(ins []Instr, p *Pipeline) bool {
	changed := false
	for _, s := range p.Stages {
		for i := range s.Args {
			changed = foldArg(ins, &s.Args[i], false) || changed
		}
		for i := range s.Assigns {
			changed = foldArg(ins, &s.Assigns[i].Val, true) || changed
		}
		for i := range s.Redirs {
			r := &s.Redirs[i]
			if r.HasHere {
				changed = foldArg(ins, &r.Here, true) || changed
			} else {
				changed = foldArg(ins, &r.Target, false) || changed
			}
		}
	}
	return changed
}

// dce removes pure instructions whose results are never used and
// renumbers the rest.
func dce(b *Block) bool {
	removedAny := false
	for {
		used := make([]bool, len(b.Instrs))
		mark := func(v ValueID) { used[v] = true }
		visitRefs(b, mark)
		keep := make([]ValueID, len(b.Instrs))
		var out []Instr
		removed := false
		for i, in := range b.Instrs {
			if !used[i] && in.Op.Pure() {
				keep[i] = -1
				removed = true
				continue
			}
			keep[i] = ValueID(len(out))
			out = append(out, in)
		}
		if !removed {
			return removedAny
		}
		removedAny = true
		b.Instrs = out
		remap(b, func(v ValueID) ValueID { return keep[v] })
	}
}

func visitRefs(b *Block, fn func(ValueID)) {
	for i := range b.Instrs {
		in := &b.Instrs[i]
		for _, a := range in.Args {
			fn(a)
		}
		if in.Op == OpExec {
			visitPipeline(in.Pipe, func(a *Arg) { fn(a.Val) })
		}
	}
	switch {
	case b.Term.Kind == TermBranch:
		fn(b.Term.Cond)
	case b.Term.Kind == TermReturn && b.Term.HasValue:
		fn(b.Term.Value)
	}
}

func visitPipeline(p *Pipeline, fn func(*Arg)) {
	for _, s := range p.Stages {
		visit := func(a *Arg) {
			if !a.Static {
				fn(a)
			}
		}
		for i := range s.Args {
			visit(&s.Args[i])
		}
		for i := range s.Assigns {
			visit(&s.Assigns[i].Val)
		}
		for i := range s.Redirs {
			r := &s.Redirs[i]
			if r.HasHere {
				visit(&r.Here)
			} else {
				visit(&r.Target)
			}
		}
	}
}

func remap(b *Block, fn func(ValueID) ValueID) {
	for i := range b.Instrs {
		in := &b.Instrs[i]
		for j, a := range in.Args {
			in.Args[j] = fn(a)
		}
		if in.Op == OpExec {
			visitPipeline(in.Pipe, func(a *Arg) { a.Val = fn(a.Val) })
		}
	}
	switch {
	case b.Term.Kind == TermBranch:
		b.Term.Cond = fn(b.Term.Cond)
	case b.Term.Kind == TermReturn && b.Term.HasValue:
		b.Term.Value = fn(b.Term.Value)
	}
}

// deadPipes removes producer stages whose output is discarded by a pure
// consumer, provided the producer is itself a pure builtin with literal
// arguments.
func deadPipes(prog *Program, opts Options, isFunc func(string) bool) bool {
	changed := false
	pureStage := func(s *Stage, needArgs bool) bool {
		name, ok := s.Name()
		if !ok || !opts.pure(name) || isFunc(name) {
			return false
		}
		if !s.AliasDone && opts.Aliases != nil {
			if _, isAlias := opts.Aliases.Get(name); isAlias {
				return false
			}
		}
		if !needArgs {
			return true
		}
		if len(s.Redirs) > 0 || len(s.Assigns) > 0 {
			return false
		}
		for _, a := range s.Args {
			if !a.Static {
				return false
			}
		}
		return true
	}
	forEachInstr(prog, func(in *Instr) {
		if in.Op != OpExec {
			return
		}
		p := in.Pipe
		for i := 0; i+1 < len(p.Stages); {
			if p.Ops[i] != token.PipeMixed && pureStage(p.Stages[i+1], false) && pureStage(p.Stages[i], true) {
				p.Stages = slices.Delete(p.Stages, i, i+1)
				p.Ops = slices.Delete(p.Ops, i, i+1)
				changed = true
				continue
			}
			i++
		}
	})
	return changed
}

// expandAliases substitutes aliases into literal command names. It only
// runs when the program cannot change the alias table itself.
func expandAliases(prog *Program, opts Options, isFunc func(string) bool) bool {
	if opts.Aliases == nil || opts.Aliases.Len() == 0 {
		return false
	}
	eligible := true
	forEachStage(prog, func(_ *Pipeline, s *Stage) {
		if s.Body != NoFunc || len(s.Args) == 0 {
			return
		}
		name, ok := s.Name()
		if !ok || name == "alias" || name == "unalias" {
			eligible = false
		}
	})
	if !eligible {
		return false
	}
	changed := false
	forEachStage(prog, func(_ *Pipeline, s *Stage) {
		name, ok := s.Name()
		if !ok || s.AliasDone || isFunc(name) {
			return
		}
		words, isAlias, err := opts.Aliases.Expand(name)
		if !isAlias || err != nil {
			return
		}
		rest := s.Args[0].Lit[1:]
		s.Args[0] = LitArg(append(slices.Clone(words), rest...)...)
		s.AliasDone = true
		changed = true
	})
	if changed {
		prog.AliasVersion = opts.Aliases.Version()
		prog.AliasesDone = true
	}
	return changed
}
