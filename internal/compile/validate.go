package compile

import "fmt"

// Validate checks that every function of the program is well formed:
// opcodes and operands are in range, jumps land on instruction
// boundaries, and the operand stack never underflows or exceeds the
// function's MaxStack. The interpreter relies on these properties.
func (prog *Program) Validate() error {
	if prog.Toplevel == nil {
		return fmt.Errorf("%s: no toplevel function", prog.Filename)
	}
	for i, fn := range prog.Functions {
		if fn == nil {
			return fmt.Errorf("%s: function %d is missing", prog.Filename, i)
		}
		if err := fn.validate(); err != nil {
			return err
		}
	}
	return prog.Toplevel.validate()
}

func (fn *Funcode) validate() error {
	fail := func(pc uint32, format string, args ...interface{}) error {
		return fmt.Errorf("%s: %s: pc %d: %s", fn.Prog.Filename, fn.Name, pc, fmt.Sprintf(format, args...))
	}
	if fn.NumParams < 0 || fn.NumLocals < fn.NumParams || fn.MaxStack < 0 {
		return fmt.Errorf("%s: %s: invalid frame layout", fn.Prog.Filename, fn.Name)
	}
	if len(fn.Code) == 0 {
		return fmt.Errorf("%s: %s: empty code", fn.Prog.Filename, fn.Name)
	}

	// Decode every instruction, remembering where each one starts.
	type decoded struct {
		op   Opcode
		arg  uint32
		next uint32
	}
	insns := make(map[uint32]decoded)
	for pc := uint32(0); pc < uint32(len(fn.Code)); {
		op, arg, next := DecodeInsn(fn.Code, pc)
		if op > OpcodeMax {
			return fail(pc, "illegal opcode %d", op)
		}
		if next < 0 || next > len(fn.Code) {
			return fail(pc, "truncated instruction")
		}
		var limit int
		switch op {
		case CONSTANT:
			limit = len(fn.Prog.Constants)
		case PREDECLARED:
			limit = len(fn.Prog.Names)
		case MAKEFUNC:
			limit = len(fn.Prog.Functions)
		case LOCAL, SETLOCAL:
			limit = fn.NumLocals
		default:
			limit = -1
		}
		if limit >= 0 && int(arg) >= limit {
			return fail(pc, "%s operand %d out of range", op, arg)
		}
		insns[pc] = decoded{op, arg, uint32(next)}
		pc = uint32(next)
	}

	// Propagate operand stack depths along all control paths.
	depth := map[uint32]int{0: 0}
	work := []uint32{0}
	for len(work) > 0 {
		pc := work[len(work)-1]
		work = work[:len(work)-1]
		in := insns[pc]
		d := depth[pc]

		switch in.op {
		case DUP:
			if d < 1 {
				return fail(pc, "operand stack underflow")
			}
		case CONS, PLUS, MINUS, LT, EQL:
			if d < 2 {
				return fail(pc, "operand stack underflow")
			}
		}

		se := int(stackEffect[in.op])
		if se == variableStackEffect {
			switch in.op {
			case MAKELIST:
				se = 1 - int(in.arg)
				if d < int(in.arg) {
					return fail(pc, "operand stack underflow")
				}
			case CALL:
				se = -int(in.arg)
				if d < int(in.arg)+1 {
					return fail(pc, "operand stack underflow")
				}
			}
		}
		d += se
		if d < 0 {
			return fail(pc, "operand stack underflow")
		}
		if d > fn.MaxStack {
			return fail(pc, "operand stack exceeds declared maximum %d", fn.MaxStack)
		}

		var succs []uint32
		switch in.op {
		case RETURN:
		case JMP:
			succs = []uint32{in.arg}
		case CJMP:
			succs = []uint32{in.next, in.arg}
		default:
			succs = []uint32{in.next}
		}
		for _, succ := range succs {
			if _, ok := insns[succ]; !ok {
				return fail(pc, "control flows to %d, which is not an instruction", succ)
			}
			if prev, ok := depth[succ]; ok {
				if prev != d {
					return fail(succ, "inconsistent operand stack depth (%d vs %d)", prev, d)
				}
				continue
			}
			depth[succ] = d
			work = append(work, succ)
		}
	}
	return nil
}
