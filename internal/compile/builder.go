package compile

import (
	"encoding/binary"
	"fmt"

	"github.com/canonical/ember/syntax"
)

// NewProgram returns an empty program for the named file.
func NewProgram(filename string) *Program {
	return &Program{Filename: filename}
}

// A Builder assembles the code of one function.
//
// Instructions are buffered until Finish, which resolves jump targets
// and encodes the function.
type Builder struct {
	prog     *Program
	fn       *Funcode
	index    int // index in prog.Functions, or -1 for toplevel
	insns    []insn
	stack    int
	maxstack int
	line     int32
	col      int32
	err      error
}

type insn struct {
	op        Opcode
	arg       uint32
	target    *Label // for JMP and CJMP
	line, col int32
}

// A Label is a position in a function's code that jumps may refer to.
type Label struct {
	index int // index of following insn; -1 until bound
	stack int // operand stack depth at the label; -1 until known
}

// NewFunction reserves a slot in the program's function table and
// returns a builder for it, along with its MAKEFUNC index.
func (prog *Program) NewFunction(name string, pos syntax.Position, numParams, numLocals int) (*Builder, uint32) {
	index := len(prog.Functions)
	prog.Functions = append(prog.Functions, nil)
	return newBuilder(prog, name, pos, numParams, numLocals, index), uint32(index)
}

// NewToplevel returns a builder for the program's toplevel function.
func (prog *Program) NewToplevel(pos syntax.Position, numLocals int) *Builder {
	return newBuilder(prog, "<toplevel>", pos, 0, numLocals, -1)
}

func newBuilder(prog *Program, name string, pos syntax.Position, numParams, numLocals, index int) *Builder {
	if numLocals < numParams {
		numLocals = numParams
	}
	b := &Builder{
		prog:  prog,
		index: index,
		fn: &Funcode{
			Prog:      prog,
			Pos:       pos,
			Name:      name,
			NumParams: numParams,
			NumLocals: numLocals,
		},
	}
	b.SetPosition(pos)
	return b
}

// SetPosition sets the source position recorded for subsequent instructions.
func (b *Builder) SetPosition(pos syntax.Position) {
	b.line, b.col = pos.Line, pos.Col
}

// Emit appends an instruction that takes no argument.
func (b *Builder) Emit(op Opcode) {
	if op >= OpcodeArgMin {
		b.fail(fmt.Errorf("%s requires an argument", op))
		return
	}
	b.emit(insn{op: op})
}

// EmitArg appends an instruction with an immediate argument.
func (b *Builder) EmitArg(op Opcode, arg uint32) {
	if op < OpcodeArgMin || op > OpcodeMax || op == JMP || op == CJMP {
		b.fail(fmt.Errorf("%s cannot be emitted with a plain argument", op))
		return
	}
	b.emit(insn{op: op, arg: arg})
}

// Constant appends a CONSTANT instruction for v, which must be an
// int64 or a string. Equal constants share a slot in the pool.
func (b *Builder) Constant(v interface{}) {
	switch v.(type) {
	case int64, string:
	default:
		b.fail(fmt.Errorf("unexpected constant %T: %v", v, v))
		return
	}
	for i, c := range b.prog.Constants {
		if c == v {
			b.EmitArg(CONSTANT, uint32(i))
			return
		}
	}
	b.prog.Constants = append(b.prog.Constants, v)
	b.EmitArg(CONSTANT, uint32(len(b.prog.Constants)-1))
}

// Predeclared appends a PREDECLARED instruction for the named identifier.
func (b *Builder) Predeclared(name string) {
	for i, n := range b.prog.Names {
		if n == name {
			b.EmitArg(PREDECLARED, uint32(i))
			return
		}
	}
	b.prog.Names = append(b.prog.Names, name)
	b.EmitArg(PREDECLARED, uint32(len(b.prog.Names)-1))
}

// NewLabel returns an unbound label.
func (b *Builder) NewLabel() *Label {
	return &Label{index: -1, stack: -1}
}

// Bind attaches l to the next instruction emitted.
func (b *Builder) Bind(l *Label) {
	if l.index >= 0 {
		b.fail(fmt.Errorf("label bound twice"))
		return
	}
	l.index = len(b.insns)
	if l.stack >= 0 {
		b.stack = l.stack
	} else {
		l.stack = b.stack
	}
}

// Jump appends a JMP or CJMP instruction to l.
func (b *Builder) Jump(op Opcode, l *Label) {
	if op != JMP && op != CJMP {
		b.fail(fmt.Errorf("%s is not a jump", op))
		return
	}
	b.emit(insn{op: op, target: l})
	if l.stack < 0 {
		l.stack = b.stack
	}
}

func (b *Builder) emit(in insn) {
	in.line, in.col = b.line, b.col
	b.insns = append(b.insns, in)

	se := int(stackEffect[in.op])
	if se == variableStackEffect {
		switch in.op {
		case MAKELIST:
			se = 1 - int(in.arg)
		case CALL:
			se = -int(in.arg)
		}
	}
	b.stack += se
	if b.stack < 0 {
		b.fail(fmt.Errorf("%s: operand stack underflow at instruction %d", b.fn.Name, len(b.insns)-1))
	}
	if b.stack > b.maxstack {
		b.maxstack = b.stack
	}
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Finish resolves jumps, encodes the instructions, and installs the
// function in its program.
func (b *Builder) Finish() (*Funcode, error) {
	if b.err != nil {
		return nil, b.err
	}
	for _, in := range b.insns {
		if in.target != nil && in.target.index < 0 {
			return nil, fmt.Errorf("%s: jump to unbound label", b.fn.Name)
		}
	}

	// Jump arguments are addresses, whose encoded length depends on
	// the addresses themselves. Iterate until the layout is stable;
	// addresses only grow, so this terminates.
	addrs := make([]uint32, len(b.insns)+1)
	for {
		var pc uint32
		changed := false
		for i, in := range b.insns {
			if addrs[i] != pc {
				addrs[i] = pc
				changed = true
			}
			pc += uint32(b.insnLen(in, addrs))
		}
		if addrs[len(b.insns)] != pc {
			addrs[len(b.insns)] = pc
			changed = true
		}
		if !changed {
			break
		}
	}

	code := make([]byte, 0, addrs[len(b.insns)])
	var tab []pcPosition
	for i, in := range b.insns {
		if n := len(tab); n == 0 || tab[n-1].line != in.line || tab[n-1].col != in.col {
			tab = append(tab, pcPosition{pc: addrs[i], line: in.line, col: in.col})
		}
		code = append(code, byte(in.op))
		if in.op >= OpcodeArgMin {
			arg := in.arg
			if in.target != nil {
				arg = addrs[in.target.index]
			}
			code = binary.AppendUvarint(code, uint64(arg))
		}
	}

	fn := b.fn
	fn.Code = code
	fn.MaxStack = b.maxstack
	fn.pclinetab = tab
	if b.index < 0 {
		b.prog.Toplevel = fn
	} else {
		b.prog.Functions[b.index] = fn
	}
	return fn, nil
}

func (b *Builder) insnLen(in insn, addrs []uint32) int {
	if in.op < OpcodeArgMin {
		return 1
	}
	arg := in.arg
	if in.target != nil {
		arg = addrs[in.target.index]
	}
	var buf [binary.MaxVarintLen32]byte
	return 1 + binary.PutUvarint(buf[:], uint64(arg))
}
