// Package compile defines the Ember bytecode and the compiler that lowers
// expression syntax trees to it.
//
// A compiled program is a set of functions. Each function is a sequence of
// instructions for a stack machine; each instruction is an opcode byte,
// followed, for opcodes at or above OpcodeArgMin, by a uvarint argument.
//
// The interpreter knows nothing of syntax: its contract with the compiler
// is the instruction set below, the constant pool, and the operand stack
// high-water mark recorded for each function.
package compile

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/canonical/ember/syntax"
)

// Version is incremented whenever the bytecode or its encoding changes.
const Version = 1

type Opcode uint8

// "x DUP x x" is a "stack picture" that describes the state of the
// stack before and after execution of the instruction.
//
// OP<index> indicates an immediate operand that is an index into the
// specified table: constants, names, functions, or locals.
const (
	NOP Opcode = iota // - NOP -

	DUP   //       x DUP x x
	POP   //       x POP -
	NONE  //         - NONE None
	TRUE  //         - TRUE True
	FALSE //         - FALSE False
	NIL   //         - NIL []
	CONS  // head tail CONS list

	PLUS  // x y PLUS z
	MINUS // x y MINUS z
	LT    // x y LT bool
	EQL   // x y EQL bool

	RETURN // value RETURN -

	// --- opcodes with an argument must go below this line ---

	JMP         //          - JMP<addr>           -
	CJMP        //       cond CJMP<addr>          -
	CONSTANT    //          - CONSTANT<constant>  value
	LOCAL       //          - LOCAL<local>        value
	SETLOCAL    //      value SETLOCAL<local>     -
	PREDECLARED //          - PREDECLARED<name>   value
	MAKEFUNC    //          - MAKEFUNC<func>      fn
	MAKELIST    // x1 ... xn  MAKELIST<n>         list
	CALL        // fn x1...xn CALL<n>             result

	OpcodeArgMin = JMP
	OpcodeMax    = CALL
)

var opcodeNames = [...]string{
	NOP:         "nop",
	DUP:         "dup",
	POP:         "pop",
	NONE:        "none",
	TRUE:        "true",
	FALSE:       "false",
	NIL:         "nil",
	CONS:        "cons",
	PLUS:        "plus",
	MINUS:       "minus",
	LT:          "lt",
	EQL:         "eql",
	RETURN:      "return",
	JMP:         "jmp",
	CJMP:        "cjmp",
	CONSTANT:    "constant",
	LOCAL:       "local",
	SETLOCAL:    "setlocal",
	PREDECLARED: "predeclared",
	MAKEFUNC:    "makefunc",
	MAKELIST:    "makelist",
	CALL:        "call",
}

const variableStackEffect = 0x7f

// stackEffect records the effect on the size of the operand stack of
// each kind of instruction.
var stackEffect = [...]int8{
	NOP:         0,
	DUP:         +1,
	POP:         -1,
	NONE:        +1,
	TRUE:        +1,
	FALSE:       +1,
	NIL:         +1,
	CONS:        -1,
	PLUS:        -1,
	MINUS:       -1,
	LT:          -1,
	EQL:         -1,
	RETURN:      -1,
	JMP:         0,
	CJMP:        -1,
	CONSTANT:    +1,
	LOCAL:       +1,
	SETLOCAL:    -1,
	PREDECLARED: +1,
	MAKEFUNC:    +1,
	MAKELIST:    variableStackEffect,
	CALL:        variableStackEffect,
}

func (op Opcode) String() string {
	if op <= OpcodeMax {
		if name := opcodeNames[op]; name != "" {
			return name
		}
	}
	return fmt.Sprintf("illegal op (%d)", op)
}

// A Program is an Ember file in executable form.
//
// Programs are serialized by the Program.Encode method,
// which must be updated whenever this declaration is changed.
type Program struct {
	Filename  string
	Names     []string      // names of predeclared identifiers
	Constants []interface{} // = int64 | string
	Functions []*Funcode
	Toplevel  *Funcode // toplevel expression
}

// A Funcode is the code of a compiled Ember function.
//
// Funcodes are serialized by the Program.Encode method,
// which must be updated whenever this declaration is changed.
type Funcode struct {
	Prog      *Program
	Pos       syntax.Position // position of def or list literal
	Name      string          // name of this function
	Code      []byte          // the byte code
	NumParams int
	NumLocals int // including parameters
	MaxStack  int

	pclinetab []pcPosition // sorted by pc
}

// A pcPosition records the source position of the
// instructions starting at pc.
type pcPosition struct {
	pc        uint32
	line, col int32
}

// Position returns the source position for program counter pc.
func (fn *Funcode) Position(pc uint32) syntax.Position {
	i := sort.Search(len(fn.pclinetab), func(i int) bool { return fn.pclinetab[i].pc > pc })
	if i == 0 {
		return fn.Pos
	}
	entry := fn.pclinetab[i-1]
	return syntax.MakePosition(&fn.Prog.Filename, entry.line, entry.col)
}

// DecodeInsn decodes the instruction at pc, returning the opcode,
// its argument, and the pc of the following instruction.
// It returns a negative next pc if the code is truncated.
func DecodeInsn(code []byte, pc uint32) (op Opcode, arg uint32, next int) {
	op = Opcode(code[pc])
	pc++
	if op >= OpcodeArgMin {
		x, n := binary.Uvarint(code[pc:])
		if n <= 0 || x > uint64(^uint32(0)) {
			return op, 0, -1
		}
		arg = uint32(x)
		pc += uint32(n)
	}
	return op, arg, int(pc)
}
