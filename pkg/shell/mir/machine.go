package mir

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rcarmo/go-nxsh/pkg/shell/expand"
	"github.com/rcarmo/go-nxsh/pkg/shell/shellerr"
	"github.com/rcarmo/go-nxsh/pkg/shell/token"
	"github.com/rcarmo/go-nxsh/pkg/shell/vars"
)

// Host provides the shell services a running program needs.
type Host interface {
	// Var returns a shell variable or special parameter other than the
	// positional parameters and $?.
	Var(name string) (string, bool)
	SetVar(name, value string) error
	// Exec runs a pipeline whose stages have been expanded and returns its
	// exit status. Errors abort the running function.
	Exec(ctx context.Context, f *Frame, prog *Program, p *Pipeline, cmds []*Command) (int, error)
	// Substitute runs fn in a child shell and returns its standard output.
	Substitute(ctx context.Context, f *Frame, prog *Program, fn FuncID) (string, error)
	// ProcessSubst starts fn connected to a named file and returns its path.
	ProcessSubst(ctx context.Context, f *Frame, prog *Program, fn FuncID, out bool) (string, error)
	Define(name string, prog *Program, fn FuncID)
	ExpandConfig() expand.Config
	// Truncated reports an expansion that hit the field cap.
	Truncated(text string)
}

// Frame is the activation record of a function: its positional
// parameters and the last exit status.
type Frame struct {
	Host   Host
	Name   string
	Params []string
	Status int
}

// Redirect is a stage redirection after expansion.
type Redirect struct {
	Fd      int
	Op      token.Kind
	Target  string
	Here    string
	HasHere bool
}

// EnvPair is a stage-local assignment after expansion.
type EnvPair struct {
	Name, Value string
}

// Command is a pipeline stage after expansion.
type Command struct {
	Args      []string
	Assigns   []EnvPair
	Redirs    []Redirect
	Body      FuncID
	Subshell  bool
	AliasDone bool
	Truncated bool
	// Err is set when the stage could not be prepared, such as an
	// ambiguous redirection; the stage fails without running.
	Err error
}

// Observer receives JIT events.
type Observer interface {
	JITCompiled()
	JITFallback()
}

// Machine runs programs, compiling hot blocks when the JIT is enabled.
type Machine struct {
	jit       bool
	threshold int64
	log       *slog.Logger
	obs       Observer
}

// Option configures a Machine.
type Option func(*Machine)

// WithJIT enables compilation of blocks entered at least threshold times.
func WithJIT(enabled bool, threshold int) Option {
	return func(m *Machine) {
		m.jit = enabled
		m.threshold = int64(max(threshold, 1))
	}
}

func WithLogger(l *slog.Logger) Option { return func(m *Machine) { m.log = l } }

func WithObserver(o Observer) Option { return func(m *Machine) { m.obs = o } }

// NewMachine returns a machine. The JIT is off unless enabled.
func NewMachine(opts ...Option) *Machine {
	m := &Machine{threshold: 16, log: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(m)
	}
	return m
}

// JIT reports whether compilation is enabled.
func (m *Machine) JIT() bool { return m.jit }

// Call runs function fn of prog in frame f and returns the final status.
func (m *Machine) Call(ctx context.Context, prog *Program, fn FuncID, f *Frame) (int, error) {
	_, err := m.exec(ctx, prog, fn, f)
	return f.Status, err
}

// Eval runs a value function and returns its result.
func (m *Machine) Eval(ctx context.Context, prog *Program, fn FuncID, f *Frame) (string, error) {
	return m.exec(ctx, prog, fn, f)
}

type reg struct {
	s    string
	n    int64
	list []string
	word expand.Word
}

type slotState struct {
	items  []string
	next   int
	status int
}

// run is one activation of a function.
type run struct {
	m     *Machine
	ctx   context.Context
	prog  *Program
	f     *Frame
	slots []slotState
}

func (m *Machine) exec(ctx context.Context, prog *Program, id FuncID, f *Frame) (string, error) {
	if int(id) < 0 || int(id) >= len(prog.Funcs) {
		return "", shellerr.Runtimef(shellerr.Internal, "mir: no function %d", id)
	}
	fn := prog.Funcs[id]
	r := &run{m: m, ctx: ctx, prog: prog, f: f, slots: make([]slotState, fn.Slots)}
	b := fn.Blocks[0]
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		var (
			next BlockID
			ret  string
			done bool
			err  error
		)
		if cb := m.compiled(fn, b); cb != nil {
			next, ret, done, err = cb.run(r)
		} else {
			next, ret, done, err = r.interpret(b)
		}
		if err != nil || done {
			return ret, err
		}
		b = fn.Blocks[next]
	}
}

func (r *run) interpret(b *Block) (BlockID, string, bool, error) {
	regs := make([]reg, len(b.Instrs))
	for i := range b.Instrs {
		if err := r.step(&b.Instrs[i], regs, i); err != nil {
			return 0, "", true, err
		}
	}
	return r.term(b.Term, regs)
}

func (r *run) term(t Term, regs []reg) (BlockID, string, bool, error) {
	switch t.Kind {
	case TermJump:
		return t.Then, "", false, nil
	case TermBranch:
		if regs[t.Cond].s == "0" {
			return t.Then, "", false, nil
		}
		return t.Else, "", false, nil
	}
	if t.HasValue {
		return 0, regs[t.Value].s, true, nil
	}
	return 0, "", true, nil
}

// step executes one instruction, writing its result to regs[i].
func (r *run) step(in *Instr, regs []reg, i int) error {
	out := &regs[i]
	var err error
	switch in.Op {
	case OpConst:
		out.s = in.Str
	case OpConstFields:
		out.list = in.Strs
	case OpParam:
		out.s, _ = r.param(in.Name)
	case OpParamList:
		out.list = r.paramList()
	case OpParamOp:
		out.s, err = r.paramOp(in.Name, in.Str, in.Func)
	case OpLength:
		v, _ := r.param(in.Name)
		out.s = strconv.Itoa(utf8.RuneCountInString(v))
	case OpNum:
		out.n = in.Int
	case OpLoadInt:
		out.n, err = r.loadInt(in.Name)
	case OpUnary:
		out.n, err = unary(in.Str, regs[in.Args[0]].n)
	case OpBinary:
		out.n, err = binary(in.Str, regs[in.Args[0]].n, regs[in.Args[1]].n)
	case OpItoa:
		out.s = strconv.FormatInt(regs[in.Args[0]].n, 10)
	case OpSubst:
		out.s, err = r.subst(in.Func)
	case OpProcSubst:
		out.s, err = r.f.Host.ProcessSubst(r.ctx, r.f, r.prog, in.Func, in.Flags&FlagOut != 0)
	case OpWord:
		out.word = buildWord(in.Segs, in.Args, regs)
	case OpFields:
		out.list = r.fields(regs[in.Args[0]].word)
	case OpJoin:
		out.s = expand.Join(regs[in.Args[0]].word)
	case OpAssign:
		err = r.f.Host.SetVar(in.Name, regs[in.Args[0]].s)
	case OpExec:
		err = r.execPipeline(in.Pipe, regs)
	case OpDefine:
		r.f.Host.Define(in.Name, r.prog, in.Func)
	case OpIterInit:
		r.iterInit(in, regs)
	case OpIterNext:
		out.s, err = r.iterNext(in.Slot, in.Name)
	case OpStatus:
		out.s = strconv.Itoa(r.f.Status)
	case OpSetStatus:
		r.f.Status, _ = strconv.Atoi(regs[in.Args[0]].s)
	case OpSaveStatus:
		r.slots[in.Slot].status = r.f.Status
	case OpLoadStatus:
		r.f.Status = r.slots[in.Slot].status
	case OpZeroSlot:
		r.slots[in.Slot].status = 0
	default:
		err = shellerr.Runtimef(shellerr.Internal, "mir: unknown op %s", in.Op)
	}
	return err
}

func buildWord(segs []Seg, args []ValueID, regs []reg) expand.Word {
	w := expand.Word{Segs: make([]expand.Segment, len(segs))}
	for i, s := range segs {
		v := &regs[args[i]]
		if s.List {
			w.Segs[i] = expand.Segment{List: v.list, IsList: true, Quoted: s.Quoted, Split: s.Split}
			continue
		}
		w.Segs[i] = expand.Segment{Text: v.s, Quoted: s.Quoted, Split: s.Split}
	}
	return w
}

func (r *run) param(name string) (string, bool) {
	switch name {
	case "?":
		return strconv.Itoa(r.f.Status), true
	case "#":
		return strconv.Itoa(len(r.f.Params)), true
	case "0":
		return r.f.Name, true
	case "@":
		return strings.Join(r.f.Params, " "), len(r.f.Params) > 0
	case "*":
		sep := " "
		if ifs, ok := r.f.Host.Var("IFS"); ok {
			sep = ""
			if ifs != "" {
				sep = ifs[:1]
			}
		}
		return strings.Join(r.f.Params, sep), len(r.f.Params) > 0
	}
	if name[0] >= '1' && name[0] <= '9' {
		n, err := strconv.Atoi(name)
		if err != nil || n > len(r.f.Params) {
			return "", false
		}
		return r.f.Params[n-1], true
	}
	return r.f.Host.Var(name)
}

func (r *run) paramList() []string {
	return append([]string(nil), r.f.Params...)
}

func (r *run) paramOp(name, op string, arg FuncID) (string, error) {
	val, set := r.param(name)
	base := strings.TrimPrefix(op, ":")
	use := !set || base != op && val == ""
	switch base {
	case "-":
		if use {
			return r.m.exec(r.ctx, r.prog, arg, r.f)
		}
	case "=":
		if use {
			v, err := r.m.exec(r.ctx, r.prog, arg, r.f)
			if err != nil {
				return "", err
			}
			if !vars.IsName(name) {
				return "", shellerr.Runtimef(shellerr.BadSubstitution, "$%s: cannot assign in this way", name)
			}
			return v, r.f.Host.SetVar(name, v)
		}
	case "+":
		if use {
			return "", nil
		}
		return r.m.exec(r.ctx, r.prog, arg, r.f)
	case "?":
		if use {
			msg, err := r.m.exec(r.ctx, r.prog, arg, r.f)
			if err != nil {
				return "", err
			}
			if msg == "" {
				msg = "parameter null or not set"
			}
			return "", shellerr.Runtimef(shellerr.BadSubstitution, "%s: %s", name, msg)
		}
	}
	return val, nil
}

func (r *run) loadInt(name string) (int64, error) {
	v, _ := r.param(name)
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 0, 64)
	if err != nil {
		return 0, shellerr.Runtimef(shellerr.Arithmetic, "%s: invalid number %q", name, v)
	}
	return n, nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func unary(op string, x int64) (int64, error) {
	switch op {
	case "-":
		return -x, nil
	case "+":
		return x, nil
	case "!":
		return boolInt(x == 0), nil
	}
	return 0, shellerr.Runtimef(shellerr.Arithmetic, "unknown operator %q", op)
}

func binary(op string, x, y int64) (int64, error) {
	switch op {
	case "+":
		return x + y, nil
	case "-":
		return x - y, nil
	case "*":
		return x * y, nil
	case "/", "%":
		if y == 0 {
			return 0, shellerr.Runtimef(shellerr.Arithmetic, "division by zero")
		}
		if op == "/" {
			return x / y, nil
		}
		return x % y, nil
	case "<":
		return boolInt(x < y), nil
	case "<=":
		return boolInt(x <= y), nil
	case ">":
		return boolInt(x > y), nil
	case ">=":
		return boolInt(x >= y), nil
	case "==":
		return boolInt(x == y), nil
	case "!=":
		return boolInt(x != y), nil
	case "&&":
		return boolInt(x != 0 && y != 0), nil
	case "||":
		return boolInt(x != 0 || y != 0), nil
	}
	return 0, shellerr.Runtimef(shellerr.Arithmetic, "unknown operator %q", op)
}

func (r *run) subst(fn FuncID) (string, error) {
	out, err := r.f.Host.Substitute(r.ctx, r.f, r.prog, fn)
	return strings.TrimRight(out, "\n"), err
}

func (r *run) fields(w expand.Word) []string {
	res := expand.Fields(r.f.Host.ExpandConfig(), w)
	if res.Truncated {
		r.f.Host.Truncated(expand.Join(w))
	}
	return res.Fields
}

func (r *run) iterInit(in *Instr, regs []reg) {
	st := &r.slots[in.Slot]
	st.next = 0
	if in.Flags&FlagPositional != 0 {
		st.items = r.paramList()
		return
	}
	st.items = nil
	for _, a := range in.Args {
		st.items = append(st.items, regs[a].list...)
	}
}

func (r *run) iterNext(slot int, name string) (string, error) {
	st := &r.slots[slot]
	if st.next >= len(st.items) {
		return "1", nil
	}
	item := st.items[st.next]
	st.next++
	return "0", r.f.Host.SetVar(name, item)
}

func argFields(a Arg, regs []reg) []string {
	if a.Static {
		return a.Lit
	}
	return regs[a.Val].list
}

func argString(a Arg, regs []reg) string {
	if a.Static {
		return strings.Join(a.Lit, "")
	}
	return regs[a.Val].s
}

func (r *run) execPipeline(p *Pipeline, regs []reg) error {
	limit := r.f.Host.ExpandConfig().MaxFields
	if limit <= 0 {
		limit = expand.DefaultMaxFields
	}
	cmds := make([]*Command, len(p.Stages))
	for i, st := range p.Stages {
		c := &Command{Body: st.Body, Subshell: st.Subshell, AliasDone: st.AliasDone}
		for _, a := range st.Args {
			c.Args = append(c.Args, argFields(a, regs)...)
		}
		if len(c.Args) > limit {
			c.Args = c.Args[:limit]
			c.Truncated = true
			r.f.Host.Truncated(describe(p))
		}
		for _, as := range st.Assigns {
			c.Assigns = append(c.Assigns, EnvPair{Name: as.Name, Value: argString(as.Val, regs)})
		}
		for _, rd := range st.Redirs {
			out := Redirect{Fd: rd.Fd, Op: rd.Op, HasHere: rd.HasHere}
			if rd.HasHere {
				out.Here = argString(rd.Here, regs)
			} else {
				target := argFields(rd.Target, regs)
				if len(target) != 1 && c.Err == nil {
					c.Err = shellerr.Runtimef(shellerr.BadRedirect, "%s: ambiguous redirect", strings.Join(target, " "))
				}
				if len(target) > 0 {
					out.Target = target[0]
				}
			}
			c.Redirs = append(c.Redirs, out)
		}
		cmds[i] = c
	}
	status, err := r.f.Host.Exec(r.ctx, r.f, r.prog, p, cmds)
	r.f.Status = status
	return err
}
