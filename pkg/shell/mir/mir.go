// Package mir is the mid-level IR of the shell.
//
// A Program is a set of functions made of basic blocks. Each block is a
// list of instructions in single-assignment form followed by one
// terminator. Instructions name their operands by index into the same
// block, never by pointer, so blocks can be copied and rewritten freely.
package mir

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/rcarmo/go-nxsh/pkg/shell/token"
)

// ValueID indexes an instruction result within its block.
type ValueID int32

// FuncID indexes Program.Funcs.
type FuncID int32

// BlockID indexes Function.Blocks.
type BlockID int32

// NoFunc marks a stage without a compound body.
const NoFunc FuncID = -1

// Op is an instruction opcode.
type Op uint8

const (
	OpConst       Op = iota // Str
	OpParam                 // $Name
	OpParamList             // $@ or $* as a list
	OpParamOp               // ${Name Str Func}
	OpLength                // ${#Name}
	OpNum                   // Int
	OpLoadInt               // arithmetic variable Name
	OpUnary                 // Str Args[0]
	OpBinary                // Args[0] Str Args[1]
	OpItoa                  // Args[0] as decimal text
	OpSubst                 // $(Func)
	OpProcSubst             // <(Func) or >(Func) when Flags&FlagOut
	OpWord                  // Args joined as segments described by Segs
	OpFields                // expand word Args[0] into fields
	OpConstFields           // Strs
	OpJoin                  // word Args[0] with quote removal only
	OpAssign                // Name = Args[0]
	OpExec                  // run Pipe
	OpDefine                // function Name = Func
	OpIterInit              // Slot iterates over Args fields, or the positional parameters
	OpIterNext              // assigns the next item to Name; "0" when one was left, else "1"
	OpStatus                // $? as text
	OpSetStatus             // $? = Args[0]
	OpSaveStatus            // Slot = $?
	OpLoadStatus            // $? = Slot
	OpZeroSlot              // Slot = 0
)

var opNames = [...]string{
	"const", "param", "paramlist", "paramop", "length", "num", "loadint",
	"unary", "binary", "itoa", "subst", "procsubst", "word", "fields",
	"constfields", "join", "assign", "exec", "define", "iterinit", "iternext",
	"status", "setstatus", "savestatus", "loadstatus", "zeroslot",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return "op(" + strconv.Itoa(int(o)) + ")"
}

// Pure reports whether the instruction only computes its result.
func (o Op) Pure() bool {
	switch o {
	case OpConst, OpParam, OpParamList, OpLength, OpNum, OpItoa, OpWord,
		OpFields, OpConstFields, OpJoin, OpStatus:
		return true
	}
	return false
}

// Instruction flags.
const (
	FlagOut uint8 = 1 << iota
	FlagPositional
)

// Seg describes one segment of an OpWord.
type Seg struct {
	Quoted bool
	Split  bool
	List   bool
}

// Instr is one instruction.
type Instr struct {
	Op    Op
	Args  []ValueID
	Str   string
	Strs  []string
	Int   int64
	Name  string
	Func  FuncID
	Slot  int
	Flags uint8
	Segs  []Seg
	Pipe  *Pipeline
}

// TermKind is a terminator kind.
type TermKind uint8

const (
	TermReturn TermKind = iota
	TermJump
	TermBranch
)

// Term ends a block. Branch goes to Then when Cond is "0" (a successful
// status) and to Else otherwise. Return carries an optional value.
type Term struct {
	Kind     TermKind
	Cond     ValueID
	Then     BlockID
	Else     BlockID
	Value    ValueID
	HasValue bool
}

// Block is a basic block.
type Block struct {
	ID     BlockID
	Instrs []Instr
	Term   Term

	hits     atomic.Int64
	compiled atomic.Pointer[compiledBlock]
	noJIT    atomic.Bool
}

// Kind distinguishes what a function was lowered from.
type FuncKind uint8

const (
	FuncMain FuncKind = iota
	FuncBody          // user function or compound pipeline stage
	FuncSubst         // command or process substitution
	FuncArg           // lazily evaluated parameter argument
)

// Function is a list of blocks; Blocks[0] is the entry.
type Function struct {
	Name   string
	Kind   FuncKind
	Blocks []*Block
	Slots  int
}

// Program is a lowered script. Funcs[0] is the main function.
type Program struct {
	Funcs        []*Function
	AliasVersion uint64
	AliasesDone  bool
}

// Arg is a list of fields, either computed at run time by Val or known
// ahead as Lit.
type Arg struct {
	Val    ValueID
	Lit    []string
	Static bool
}

// LitArg returns a static argument.
func LitArg(fields ...string) Arg { return Arg{Lit: fields, Static: true} }

// Assign is a stage-local NAME=value.
type Assign struct {
	Name string
	Val  Arg
}

// Redir is a stage redirection. Target is the expanded target word; Here
// holds here-document text.
type Redir struct {
	Fd      int
	Op      token.Kind
	Target  Arg
	Here    Arg
	HasHere bool
}

// Stage is one pipeline stage. A stage with Body runs that function instead
// of a command; Subshell runs it in a child environment.
type Stage struct {
	Args      []Arg
	Assigns   []Assign
	Redirs    []Redir
	Body      FuncID
	Subshell  bool
	AliasDone bool
}

// Name returns the literal command name of s, if known before run time.
func (s *Stage) Name() (string, bool) {
	if s.Body != NoFunc || len(s.Args) == 0 || !s.Args[0].Static || len(s.Args[0].Lit) == 0 {
		return "", false
	}
	return s.Args[0].Lit[0], true
}

// Pipeline is an executable pipeline.
type Pipeline struct {
	Stages     []*Stage
	Ops        []token.Kind
	Negated    bool
	Background bool
	Text       string
}

// Dump renders the program in a stable textual form.
func (p *Program) Dump() string {
	var b strings.Builder
	for fi, fn := range p.Funcs {
		fmt.Fprintf(&b, "func %d %s kind=%d slots=%d\n", fi, fn.Name, fn.Kind, fn.Slots)
		for _, blk := range fn.Blocks {
			fmt.Fprintf(&b, "  b%d:\n", blk.ID)
			for i, in := range blk.Instrs {
				fmt.Fprintf(&b, "    v%d = %s\n", i, in.dump())
			}
			fmt.Fprintf(&b, "    %s\n", blk.Term.dump())
		}
	}
	return b.String()
}

func (in *Instr) dump() string {
	var b strings.Builder
	b.WriteString(in.Op.String())
	for _, a := range in.Args {
		fmt.Fprintf(&b, " v%d", a)
	}
	switch in.Op {
	case OpConst, OpUnary, OpBinary:
		fmt.Fprintf(&b, " %q", in.Str)
	case OpConstFields:
		fmt.Fprintf(&b, " %q", in.Strs)
	case OpNum:
		fmt.Fprintf(&b, " %d", in.Int)
	case OpParam, OpParamList, OpLength, OpLoadInt, OpAssign, OpIterNext:
		fmt.Fprintf(&b, " %s", in.Name)
	case OpParamOp:
		fmt.Fprintf(&b, " %s %q f%d", in.Name, in.Str, in.Func)
	case OpSubst, OpProcSubst:
		fmt.Fprintf(&b, " f%d", in.Func)
	case OpDefine:
		fmt.Fprintf(&b, " %s f%d", in.Name, in.Func)
	case OpWord:
		fmt.Fprintf(&b, " %v", in.Segs)
	case OpExec:
		b.WriteString(" " + in.Pipe.dump())
	}
	switch in.Op {
	case OpIterInit, OpIterNext, OpSaveStatus, OpLoadStatus, OpZeroSlot:
		fmt.Fprintf(&b, " s%d", in.Slot)
	}
	return b.String()
}

func (p *Pipeline) dump() string {
	var b strings.Builder
	if p.Negated {
		b.WriteString("! ")
	}
	for i, s := range p.Stages {
		if i > 0 {
			fmt.Fprintf(&b, " %s ", p.Ops[i-1])
		}
		b.WriteByte('[')
		if s.Body != NoFunc {
			fmt.Fprintf(&b, "f%d", s.Body)
			if s.Subshell {
				b.WriteString(" sub")
			}
		}
		for j, a := range s.Args {
			if j > 0 || s.Body != NoFunc {
				b.WriteByte(' ')
			}
			b.WriteString(a.dump())
		}
		for _, as := range s.Assigns {
			fmt.Fprintf(&b, " %s=%s", as.Name, as.Val.dump())
		}
		for _, r := range s.Redirs {
			fmt.Fprintf(&b, " %d%s%s", r.Fd, r.Op, r.Target.dump())
		}
		if s.AliasDone {
			b.WriteString(" alias")
		}
		b.WriteByte(']')
	}
	if p.Background {
		b.WriteString(" &")
	}
	return b.String()
}

func (a Arg) dump() string {
	if a.Static {
		return fmt.Sprintf("%q", a.Lit)
	}
	return fmt.Sprintf("v%d", a.Val)
}

func (t Term) dump() string {
	switch t.Kind {
	case TermJump:
		return fmt.Sprintf("jump b%d", t.Then)
	case TermBranch:
		return fmt.Sprintf("branch v%d b%d b%d", t.Cond, t.Then, t.Else)
	}
	if t.HasValue {
		return fmt.Sprintf("return v%d", t.Value)
	}
	return "return"
}
