package mir

import (
	"strconv"
	"strings"

	"github.com/rcarmo/go-nxsh/pkg/shell/ast"
	"github.com/rcarmo/go-nxsh/pkg/shell/shellerr"
	"github.com/rcarmo/go-nxsh/pkg/shell/token"
)

// Lower translates a parsed script into a program. Function 0 runs the
// script itself.
func Lower(script *ast.Script) (prog *Program, err error) {
	l := &lowerer{prog: &Program{}}
	defer func() {
		if r := recover(); r != nil {
			le, ok := r.(*shellerr.RuntimeError)
			if !ok {
				panic(r)
			}
			prog, err = nil, le
		}
	}()
	l.function("main", FuncMain, func() { l.script(script) })
	return l.prog, nil
}

type loop struct {
	brk, cont BlockID
	status    int
}

type lowerer struct {
	prog  *Program
	fn    *Function
	cur   *Block
	loops []loop
}

// function lowers body into a new function and returns its id. The
// current function and loop context are restored afterwards.
func (l *lowerer) function(name string, kind FuncKind, body func()) FuncID {
	id := FuncID(len(l.prog.Funcs))
	fn := &Function{Name: name, Kind: kind}
	l.prog.Funcs = append(l.prog.Funcs, fn)

	savedFn, savedCur, savedLoops := l.fn, l.cur, l.loops
	l.fn, l.loops = fn, nil
	l.cur = l.block()
	body()
	l.fn, l.cur, l.loops = savedFn, savedCur, savedLoops
	return id
}

func (l *lowerer) block() *Block {
	b := &Block{ID: BlockID(len(l.fn.Blocks))}
	b.Term.Kind = TermReturn
	l.fn.Blocks = append(l.fn.Blocks, b)
	return b
}

func (l *lowerer) slot() int {
	l.fn.Slots++
	return l.fn.Slots - 1
}

func (l *lowerer) emit(in Instr) ValueID {
	l.cur.Instrs = append(l.cur.Instrs, in)
	return ValueID(len(l.cur.Instrs) - 1)
}

func (l *lowerer) jump(to *Block) {
	l.cur.Term = Term{Kind: TermJump, Then: to.ID}
}

func (l *lowerer) branch(cond ValueID, then, els *Block) {
	l.cur.Term = Term{Kind: TermBranch, Cond: cond, Then: then.ID, Else: els.ID}
}

func (l *lowerer) script(s *ast.Script) {
	if s == nil {
		return
	}
	for _, st := range s.Stmts {
		l.stmt(st)
	}
}

func (l *lowerer) stmt(st *ast.Stmt) {
	if !st.Background {
		l.andOr(st.AndOr)
		return
	}
	if len(st.AndOr.Pipelines) == 1 {
		l.pipeline(st.AndOr.Pipelines[0], true)
		return
	}
	// A backgrounded and-or list runs as one job.
	fid := l.function("", FuncBody, func() { l.andOr(st.AndOr) })
	l.emit(Instr{Op: OpExec, Pipe: &Pipeline{
		Stages:     []*Stage{{Body: fid, Subshell: true}},
		Background: true,
		Text:       ast.Render(st.AndOr),
	}})
}

func (l *lowerer) andOr(a *ast.AndOr) {
	l.pipeline(a.Pipelines[0], false)
	for i, op := range a.Ops {
		st := l.emit(Instr{Op: OpStatus})
		run, skip := l.block(), l.block()
		if op == token.AndIf {
			l.branch(st, run, skip)
		} else {
			l.branch(st, skip, run)
		}
		l.cur = run
		l.pipeline(a.Pipelines[i+1], false)
		l.jump(skip)
		l.cur = skip
	}
}

func (l *lowerer) pipeline(p *ast.Pipeline, background bool) {
	if len(p.Cmds) == 1 && !p.Negated && !background {
		if l.inline(p.Cmds[0]) {
			return
		}
	}
	pl := &Pipeline{Negated: p.Negated, Background: background, Ops: p.Ops, Text: ast.Render(p)}
	for _, c := range p.Cmds {
		pl.Stages = append(pl.Stages, l.stage(c))
	}
	l.emit(Instr{Op: OpExec, Pipe: pl})
}

// inline lowers commands that need no stage of their own: compound
// commands without redirections, function definitions, bare assignments
// and literal break/continue inside loops.
func (l *lowerer) inline(c ast.Command) bool {
	if len(c.Redirects()) > 0 {
		return false
	}
	switch c := c.(type) {
	case *ast.Group:
		l.script(c.Body)
	case *ast.If:
		l.ifClause(c)
	case *ast.While:
		l.whileLoop(c)
	case *ast.For:
		l.forLoop(c)
	case *ast.FunctionDef:
		fid := l.function(c.Name, FuncBody, func() { l.body(c.Body) })
		l.emit(Instr{Op: OpDefine, Name: c.Name, Func: fid})
	case *ast.SimpleCommand:
		if len(c.Words) == 0 {
			for _, a := range c.Assigns {
				v := l.join(a.Value)
				l.emit(Instr{Op: OpAssign, Name: a.Name, Args: []ValueID{v}})
			}
			zero := l.emit(Instr{Op: OpConst, Str: "0"})
			l.emit(Instr{Op: OpSetStatus, Args: []ValueID{zero}})
			return true
		}
		return l.loopControl(c)
	default:
		return false
	}
	return true
}

// body lowers a compound command as the whole of a function.
func (l *lowerer) body(c ast.Command) {
	if !l.inline(c) {
		l.emit(Instr{Op: OpExec, Pipe: &Pipeline{Stages: []*Stage{l.stage(c)}, Text: ast.Render(c)}})
	}
}

func (l *lowerer) loopControl(c *ast.SimpleCommand) bool {
	if len(l.loops) == 0 || len(c.Assigns) > 0 || len(c.Words) > 2 {
		return false
	}
	name, ok := c.Words[0].Static()
	if !ok || name != "break" && name != "continue" {
		return false
	}
	n := 1
	if len(c.Words) == 2 {
		arg, ok := c.Words[1].Static()
		if !ok {
			return false
		}
		v, err := strconv.Atoi(arg)
		if err != nil || v < 1 {
			return false
		}
		n = min(v, len(l.loops))
	}
	target := l.loops[len(l.loops)-n]
	zero := l.emit(Instr{Op: OpConst, Str: "0"})
	l.emit(Instr{Op: OpSetStatus, Args: []ValueID{zero}})
	if name == "break" {
		l.emit(Instr{Op: OpZeroSlot, Slot: target.status})
		l.cur.Term = Term{Kind: TermJump, Then: target.brk}
	} else {
		l.cur.Term = Term{Kind: TermJump, Then: target.cont}
	}
	// Anything after break/continue in this list is unreachable; give it a
	// fresh block.
	l.cur = l.block()
	return true
}

func (l *lowerer) ifClause(c *ast.If) {
	end := l.block()
	for _, cl := range c.Clauses {
		l.script(cl.Cond)
		st := l.emit(Instr{Op: OpStatus})
		then, next := l.block(), l.block()
		l.branch(st, then, next)
		l.cur = then
		l.script(cl.Body)
		l.jump(end)
		l.cur = next
	}
	if c.Else != nil {
		l.script(c.Else)
	} else {
		zero := l.emit(Instr{Op: OpConst, Str: "0"})
		l.emit(Instr{Op: OpSetStatus, Args: []ValueID{zero}})
	}
	l.jump(end)
	l.cur = end
}

func (l *lowerer) whileLoop(c *ast.While) {
	slot := l.slot()
	l.emit(Instr{Op: OpZeroSlot, Slot: slot})
	head, body, exit := l.block(), l.block(), l.block()
	l.jump(head)

	l.cur = head
	l.script(c.Cond)
	st := l.emit(Instr{Op: OpStatus})
	if c.Until {
		l.branch(st, exit, body)
	} else {
		l.branch(st, body, exit)
	}

	l.cur = body
	l.loops = append(l.loops, loop{brk: exit.ID, cont: head.ID, status: slot})
	l.script(c.Body)
	l.loops = l.loops[:len(l.loops)-1]
	l.emit(Instr{Op: OpSaveStatus, Slot: slot})
	l.jump(head)

	l.cur = exit
	l.emit(Instr{Op: OpLoadStatus, Slot: slot})
}

func (l *lowerer) forLoop(c *ast.For) {
	slot, status := l.slot(), l.slot()
	init := Instr{Op: OpIterInit, Slot: slot}
	if c.HasIn {
		for _, w := range c.Items {
			init.Args = append(init.Args, l.fields(w))
		}
	} else {
		init.Flags = FlagPositional
	}
	l.emit(init)
	l.emit(Instr{Op: OpZeroSlot, Slot: status})
	head, body, exit := l.block(), l.block(), l.block()
	l.jump(head)

	l.cur = head
	more := l.emit(Instr{Op: OpIterNext, Slot: slot, Name: c.Var})
	l.branch(more, body, exit)

	l.cur = body
	l.loops = append(l.loops, loop{brk: exit.ID, cont: head.ID, status: status})
	l.script(c.Body)
	l.loops = l.loops[:len(l.loops)-1]
	l.emit(Instr{Op: OpSaveStatus, Slot: status})
	l.jump(head)

	l.cur = exit
	l.emit(Instr{Op: OpLoadStatus, Slot: status})
}

func (l *lowerer) stage(c ast.Command) *Stage {
	st := &Stage{Body: NoFunc}
	switch c := c.(type) {
	case *ast.SimpleCommand:
		for _, a := range c.Assigns {
			st.Assigns = append(st.Assigns, Assign{Name: a.Name, Val: Arg{Val: l.join(a.Value)}})
		}
		for _, w := range c.Words {
			st.Args = append(st.Args, Arg{Val: l.fields(w)})
		}
	case *ast.Subshell:
		st.Body = l.function("", FuncBody, func() { l.script(c.Body) })
		st.Subshell = true
	case *ast.FunctionDef:
		fid := l.function(c.Name, FuncBody, func() { l.body(c.Body) })
		st.Body = l.function("", FuncBody, func() {
			l.emit(Instr{Op: OpDefine, Name: c.Name, Func: fid})
		})
	default:
		st.Body = l.function("", FuncBody, func() { l.compound(c) })
	}
	for _, r := range c.Redirects() {
		st.Redirs = append(st.Redirs, l.redirect(r))
	}
	return st
}

// compound lowers a compound command without its redirections, which the
// enclosing stage applies.
func (l *lowerer) compound(c ast.Command) {
	switch c := c.(type) {
	case *ast.Group:
		l.script(c.Body)
	case *ast.If:
		l.ifClause(c)
	case *ast.While:
		l.whileLoop(c)
	case *ast.For:
		l.forLoop(c)
	}
}

func (l *lowerer) redirect(r *ast.Redirect) Redir {
	rd := Redir{Fd: r.Source(), Op: r.Op}
	if r.Here != nil {
		rd.HasHere = true
		if r.Here.Word != nil {
			rd.Here = Arg{Val: l.join(r.Here.Word)}
		} else {
			rd.Here = LitArg(r.Here.Body)
		}
		return rd
	}
	rd.Target = LitArg()
	if r.Target != nil {
		rd.Target = Arg{Val: l.fields(r.Target)}
	}
	return rd
}

func (l *lowerer) fields(w *ast.Word) ValueID {
	v := l.word(w)
	return l.emit(Instr{Op: OpFields, Args: []ValueID{v}})
}

func (l *lowerer) join(w *ast.Word) ValueID {
	if w == nil {
		return l.emit(Instr{Op: OpConst})
	}
	v := l.word(w)
	return l.emit(Instr{Op: OpJoin, Args: []ValueID{v}})
}

// word lowers a word into an OpWord whose segments carry quoting.
func (l *lowerer) word(w *ast.Word) ValueID {
	in := Instr{Op: OpWord}
	for _, part := range w.Parts {
		l.part(&in, part, false)
	}
	return l.emit(in)
}

func (l *lowerer) seg(in *Instr, v ValueID, s Seg) {
	in.Args = append(in.Args, v)
	in.Segs = append(in.Segs, s)
}

func (l *lowerer) part(in *Instr, part ast.WordPart, quoted bool) {
	expanded := Seg{Quoted: quoted, Split: !quoted}
	switch p := part.(type) {
	case *ast.Lit:
		l.seg(in, l.emit(Instr{Op: OpConst, Str: p.Value}), Seg{Quoted: quoted})
	case *ast.SglQuoted:
		l.seg(in, l.emit(Instr{Op: OpConst, Str: p.Value}), Seg{Quoted: true})
	case *ast.DblQuoted:
		if len(p.Parts) == 0 {
			l.seg(in, l.emit(Instr{Op: OpConst}), Seg{Quoted: true})
		}
		for _, inner := range p.Parts {
			l.part(in, inner, true)
		}
	case *ast.VariableRef:
		l.param(in, p, expanded)
	case *ast.CommandSubstitution:
		fid := l.function("", FuncSubst, func() { l.script(p.Body) })
		l.seg(in, l.emit(Instr{Op: OpSubst, Func: fid}), expanded)
	case *ast.ProcessSubstitution:
		fid := l.function("", FuncSubst, func() { l.script(p.Body) })
		var flags uint8
		if p.Out {
			flags = FlagOut
		}
		l.seg(in, l.emit(Instr{Op: OpProcSubst, Func: fid, Flags: flags}), Seg{Quoted: true})
	case *ast.Arithmetic:
		n := l.expr(p.Expr)
		l.seg(in, l.emit(Instr{Op: OpItoa, Args: []ValueID{n}}), expanded)
	}
}

func (l *lowerer) param(in *Instr, p *ast.VariableRef, s Seg) {
	switch {
	case p.Length:
		l.seg(in, l.emit(Instr{Op: OpLength, Name: p.Name}), s)
	case p.Op != "":
		arg := l.function("", FuncArg, func() {
			v := l.join(p.Arg)
			l.cur.Term = Term{Kind: TermReturn, Value: v, HasValue: true}
		})
		l.seg(in, l.emit(Instr{Op: OpParamOp, Name: p.Name, Str: p.Op, Func: arg}), s)
	case p.Name == "@" || p.Name == "*" && !s.Quoted:
		s.List = true
		l.seg(in, l.emit(Instr{Op: OpParamList, Name: p.Name}), s)
	default:
		l.seg(in, l.emit(Instr{Op: OpParam, Name: p.Name}), s)
	}
}

func (l *lowerer) expr(e ast.Expr) ValueID {
	switch e := e.(type) {
	case *ast.Num:
		return l.emit(Instr{Op: OpNum, Int: e.Value})
	case *ast.Var:
		return l.emit(Instr{Op: OpLoadInt, Name: e.Name})
	case *ast.Unary:
		x := l.expr(e.X)
		return l.emit(Instr{Op: OpUnary, Str: e.Op, Args: []ValueID{x}})
	case *ast.Binary:
		x := l.expr(e.X)
		y := l.expr(e.Y)
		return l.emit(Instr{Op: OpBinary, Str: e.Op, Args: []ValueID{x, y}})
	}
	panic(shellerr.Runtimef(shellerr.Internal, "lower: unknown expression %T", e))
}

// describe is used in debug logs.
func describe(p *Pipeline) string {
	if p.Text != "" {
		return strings.TrimSpace(p.Text)
	}
	return p.dump()
}
