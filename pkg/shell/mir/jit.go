package mir

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rcarmo/go-nxsh/pkg/shell/expand"
	"github.com/rcarmo/go-nxsh/pkg/shell/shellerr"
)

// The JIT translates a hot block into threaded code: one Go closure per
// instruction with operands decoded and operators resolved ahead of time.
// Closures call the same helpers as the interpreter so both paths observe
// identical behaviour.

type stepFunc func(r *run, regs []reg) error

type compiledBlock struct {
	size  int
	steps []stepFunc
	term  Term
}

func (cb *compiledBlock) run(r *run) (BlockID, string, bool, error) {
	regs := make([]reg, cb.size)
	for _, s := range cb.steps {
		if err := s(r, regs); err != nil {
			return 0, "", true, err
		}
	}
	return r.term(cb.term, regs)
}

// compileFault, when set, makes compilation of the given block fail.
var compileFault func(*Block) error

// compiled returns the compiled form of b once it is hot, compiling it on
// first use. It returns nil when b must be interpreted.
func (m *Machine) compiled(fn *Function, b *Block) *compiledBlock {
	if !m.jit || b.noJIT.Load() {
		return nil
	}
	if cb := b.compiled.Load(); cb != nil {
		return cb
	}
	if b.hits.Add(1) < m.threshold {
		return nil
	}
	cb, err := compileBlock(b)
	if err != nil {
		b.noJIT.Store(true)
		m.log.Debug("jit fallback", slog.String("func", fn.Name), slog.Int("block", int(b.ID)), slog.Any("err", err))
		if m.obs != nil {
			m.obs.JITFallback()
		}
		return nil
	}
	if b.compiled.CompareAndSwap(nil, cb) {
		m.log.Debug("jit compiled", slog.String("func", fn.Name), slog.Int("block", int(b.ID)), slog.Int("instrs", len(b.Instrs)))
		if m.obs != nil {
			m.obs.JITCompiled()
		}
	}
	return b.compiled.Load()
}

func compileBlock(b *Block) (cb *compiledBlock, err error) {
	defer func() {
		if r := recover(); r != nil {
			cb, err = nil, fmt.Errorf("jit: panic compiling block %d: %v", b.ID, r)
		}
	}()
	if compileFault != nil {
		if err := compileFault(b); err != nil {
			return nil, err
		}
	}
	cb = &compiledBlock{size: len(b.Instrs), term: b.Term}
	for i := range b.Instrs {
		s, err := compileInstr(&b.Instrs[i], ValueID(i))
		if err != nil {
			return nil, fmt.Errorf("jit: block %d instr %d: %w", b.ID, i, err)
		}
		cb.steps = append(cb.steps, s)
	}
	if err := checkTerm(b); err != nil {
		return nil, err
	}
	return cb, nil
}

func checkTerm(b *Block) error {
	t := b.Term
	n := ValueID(len(b.Instrs))
	switch {
	case t.Kind == TermBranch && (t.Cond < 0 || t.Cond >= n):
		return fmt.Errorf("jit: block %d branches on undefined v%d", b.ID, t.Cond)
	case t.Kind == TermReturn && t.HasValue && (t.Value < 0 || t.Value >= n):
		return fmt.Errorf("jit: block %d returns undefined v%d", b.ID, t.Value)
	}
	return nil
}

func checkArgs(in *Instr, at ValueID) error {
	for _, a := range in.Args {
		if a < 0 || a >= at {
			return fmt.Errorf("%s uses v%d before definition", in.Op, a)
		}
	}
	return nil
}

var binaryOps = map[string]func(x, y int64) (int64, error){
	"+":  func(x, y int64) (int64, error) { return x + y, nil },
	"-":  func(x, y int64) (int64, error) { return x - y, nil },
	"*":  func(x, y int64) (int64, error) { return x * y, nil },
	"<":  func(x, y int64) (int64, error) { return boolInt(x < y), nil },
	"<=": func(x, y int64) (int64, error) { return boolInt(x <= y), nil },
	">":  func(x, y int64) (int64, error) { return boolInt(x > y), nil },
	">=": func(x, y int64) (int64, error) { return boolInt(x >= y), nil },
	"==": func(x, y int64) (int64, error) { return boolInt(x == y), nil },
	"!=": func(x, y int64) (int64, error) { return boolInt(x != y), nil },
	"&&": func(x, y int64) (int64, error) { return boolInt(x != 0 && y != 0), nil },
	"||": func(x, y int64) (int64, error) { return boolInt(x != 0 || y != 0), nil },
	"/":  func(x, y int64) (int64, error) { return binary("/", x, y) },
	"%":  func(x, y int64) (int64, error) { return binary("%", x, y) },
}

func compileInstr(in *Instr, at ValueID) (stepFunc, error) {
	if err := checkArgs(in, at); err != nil {
		return nil, err
	}
	i := at
	switch in.Op {
	case OpConst:
		s := in.Str
		return func(_ *run, regs []reg) error { regs[i].s = s; return nil }, nil
	case OpConstFields:
		strs := in.Strs
		return func(_ *run, regs []reg) error { regs[i].list = strs; return nil }, nil
	case OpNum:
		n := in.Int
		return func(_ *run, regs []reg) error { regs[i].n = n; return nil }, nil
	case OpParam:
		name := in.Name
		return func(r *run, regs []reg) error { regs[i].s, _ = r.param(name); return nil }, nil
	case OpParamList:
		return func(r *run, regs []reg) error { regs[i].list = r.paramList(); return nil }, nil
	case OpParamOp:
		name, op, fn := in.Name, in.Str, in.Func
		return func(r *run, regs []reg) (err error) {
			regs[i].s, err = r.paramOp(name, op, fn)
			return err
		}, nil
	case OpLength:
		name := in.Name
		return func(r *run, regs []reg) error {
			v, _ := r.param(name)
			regs[i].s = strconv.Itoa(utf8.RuneCountInString(v))
			return nil
		}, nil
	case OpLoadInt:
		name := in.Name
		return func(r *run, regs []reg) (err error) {
			regs[i].n, err = r.loadInt(name)
			return err
		}, nil
	case OpUnary:
		x := in.Args[0]
		switch in.Str {
		case "-":
			return func(_ *run, regs []reg) error { regs[i].n = -regs[x].n; return nil }, nil
		case "+":
			return func(_ *run, regs []reg) error { regs[i].n = regs[x].n; return nil }, nil
		case "!":
			return func(_ *run, regs []reg) error { regs[i].n = boolInt(regs[x].n == 0); return nil }, nil
		}
		return nil, fmt.Errorf("unknown unary operator %q", in.Str)
	case OpBinary:
		fn, ok := binaryOps[in.Str]
		if !ok {
			return nil, fmt.Errorf("unknown binary operator %q", in.Str)
		}
		x, y := in.Args[0], in.Args[1]
		return func(_ *run, regs []reg) (err error) {
			regs[i].n, err = fn(regs[x].n, regs[y].n)
			return err
		}, nil
	case OpItoa:
		x := in.Args[0]
		return func(_ *run, regs []reg) error { regs[i].s = strconv.FormatInt(regs[x].n, 10); return nil }, nil
	case OpSubst:
		fn := in.Func
		return func(r *run, regs []reg) (err error) {
			regs[i].s, err = r.subst(fn)
			return err
		}, nil
	case OpProcSubst:
		fn, out := in.Func, in.Flags&FlagOut != 0
		return func(r *run, regs []reg) (err error) {
			regs[i].s, err = r.f.Host.ProcessSubst(r.ctx, r.f, r.prog, fn, out)
			return err
		}, nil
	case OpWord:
		if len(in.Segs) != len(in.Args) {
			return nil, fmt.Errorf("word has %d segments for %d values", len(in.Segs), len(in.Args))
		}
		segs, args := in.Segs, in.Args
		return func(_ *run, regs []reg) error { regs[i].word = buildWord(segs, args, regs); return nil }, nil
	case OpFields:
		x := in.Args[0]
		return func(r *run, regs []reg) error { regs[i].list = r.fields(regs[x].word); return nil }, nil
	case OpJoin:
		x := in.Args[0]
		return func(_ *run, regs []reg) error { regs[i].s = expand.Join(regs[x].word); return nil }, nil
	case OpAssign:
		name, x := in.Name, in.Args[0]
		return func(r *run, regs []reg) error { return r.f.Host.SetVar(name, regs[x].s) }, nil
	case OpExec:
		p := in.Pipe
		if p == nil || len(p.Stages) == 0 {
			return nil, fmt.Errorf("exec without stages")
		}
		return func(r *run, regs []reg) error { return r.execPipeline(p, regs) }, nil
	case OpDefine:
		name, fn := in.Name, in.Func
		return func(r *run, _ []reg) error { r.f.Host.Define(name, r.prog, fn); return nil }, nil
	case OpIterInit:
		ins := *in
		return func(r *run, regs []reg) error { r.iterInit(&ins, regs); return nil }, nil
	case OpIterNext:
		slot, name := in.Slot, in.Name
		return func(r *run, regs []reg) (err error) {
			regs[i].s, err = r.iterNext(slot, name)
			return err
		}, nil
	case OpStatus:
		return func(r *run, regs []reg) error { regs[i].s = strconv.Itoa(r.f.Status); return nil }, nil
	case OpSetStatus:
		x := in.Args[0]
		return func(r *run, regs []reg) error { r.f.Status, _ = strconv.Atoi(regs[x].s); return nil }, nil
	case OpSaveStatus:
		slot := in.Slot
		return func(r *run, _ []reg) error { r.slots[slot].status = r.f.Status; return nil }, nil
	case OpLoadStatus:
		slot := in.Slot
		return func(r *run, _ []reg) error { r.f.Status = r.slots[slot].status; return nil }, nil
	case OpZeroSlot:
		slot := in.Slot
		return func(r *run, _ []reg) error { r.slots[slot].status = 0; return nil }, nil
	}
	return nil, shellerr.Runtimef(shellerr.Internal, "no code generator for %s", in.Op)
}

// JITStats summarises compilation state across a program.
type JITStats struct {
	Compiled, Fallbacks int
}

// Stats reports how many blocks of prog are compiled or pinned to the
// interpreter.
func (p *Program) Stats() JITStats {
	var s JITStats
	for _, fn := range p.Funcs {
		for _, b := range fn.Blocks {
			if b.compiled.Load() != nil {
				s.Compiled++
			}
			if b.noJIT.Load() {
				s.Fallbacks++
			}
		}
	}
	return s
}

func (s JITStats) String() string {
	return strings.Join([]string{
		"compiled=" + strconv.Itoa(s.Compiled),
		"fallbacks=" + strconv.Itoa(s.Fallbacks),
	}, " ")
}
