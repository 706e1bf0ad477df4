package compile

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/canonical/ember/syntax"
)

// magic prefixes every encoded program.
const magic = "emb\x00"

// IsEncoded reports whether data starts like an encoded program.
func IsEncoded(data []byte) bool {
	return len(data) >= len(magic) && string(data[:len(magic)]) == magic
}

// Field numbers of the encoded program. A Program is a message:
//
//	1 version   varint
//	2 filename  bytes
//	3 names     repeated bytes
//	4 constants repeated Constant
//	5 functions repeated Funcode
//	6 toplevel  Funcode
//
// Constant is {1 int zigzag | 2 string bytes}. Funcode is
// {1 name, 2 line, 3 col, 4 code, 5 params, 6 locals, 7 maxstack,
// 8 repeated {1 pc, 2 line, 3 col}}.
const (
	fieldVersion   protowire.Number = 1
	fieldFilename  protowire.Number = 2
	fieldNames     protowire.Number = 3
	fieldConstants protowire.Number = 4
	fieldFunctions protowire.Number = 5
	fieldToplevel  protowire.Number = 6

	fieldConstInt    protowire.Number = 1
	fieldConstString protowire.Number = 2

	fieldFnName      protowire.Number = 1
	fieldFnLine      protowire.Number = 2
	fieldFnCol       protowire.Number = 3
	fieldFnCode      protowire.Number = 4
	fieldFnParams    protowire.Number = 5
	fieldFnLocals    protowire.Number = 6
	fieldFnMaxStack  protowire.Number = 7
	fieldFnPositions protowire.Number = 8

	fieldPosPC   protowire.Number = 1
	fieldPosLine protowire.Number = 2
	fieldPosCol  protowire.Number = 3
)

// Encode encodes a compiled program.
func (prog *Program) Encode() []byte {
	b := []byte(magic)
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, Version)
	b = protowire.AppendTag(b, fieldFilename, protowire.BytesType)
	b = protowire.AppendString(b, prog.Filename)
	for _, name := range prog.Names {
		b = protowire.AppendTag(b, fieldNames, protowire.BytesType)
		b = protowire.AppendString(b, name)
	}
	for _, c := range prog.Constants {
		var msg []byte
		switch c := c.(type) {
		case int64:
			msg = protowire.AppendTag(msg, fieldConstInt, protowire.VarintType)
			msg = protowire.AppendVarint(msg, protowire.EncodeZigZag(c))
		case string:
			msg = protowire.AppendTag(msg, fieldConstString, protowire.BytesType)
			msg = protowire.AppendString(msg, c)
		default:
			panic(fmt.Sprintf("unexpected constant %T: %v", c, c))
		}
		b = protowire.AppendTag(b, fieldConstants, protowire.BytesType)
		b = protowire.AppendBytes(b, msg)
	}
	for _, fn := range prog.Functions {
		b = protowire.AppendTag(b, fieldFunctions, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeFuncode(fn))
	}
	if prog.Toplevel != nil {
		b = protowire.AppendTag(b, fieldToplevel, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeFuncode(prog.Toplevel))
	}
	return b
}

func encodeFuncode(fn *Funcode) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldFnName, protowire.BytesType)
	b = protowire.AppendString(b, fn.Name)
	b = appendVarintField(b, fieldFnLine, uint64(fn.Pos.Line))
	b = appendVarintField(b, fieldFnCol, uint64(fn.Pos.Col))
	b = protowire.AppendTag(b, fieldFnCode, protowire.BytesType)
	b = protowire.AppendBytes(b, fn.Code)
	b = appendVarintField(b, fieldFnParams, uint64(fn.NumParams))
	b = appendVarintField(b, fieldFnLocals, uint64(fn.NumLocals))
	b = appendVarintField(b, fieldFnMaxStack, uint64(fn.MaxStack))
	for _, p := range fn.pclinetab {
		var msg []byte
		msg = appendVarintField(msg, fieldPosPC, uint64(p.pc))
		msg = appendVarintField(msg, fieldPosLine, uint64(p.line))
		msg = appendVarintField(msg, fieldPosCol, uint64(p.col))
		b = protowire.AppendTag(b, fieldFnPositions, protowire.BytesType)
		b = protowire.AppendBytes(b, msg)
	}
	return b
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// DecodeProgram decodes a compiled program from its binary form.
func DecodeProgram(data []byte) (*Program, error) {
	if !IsEncoded(data) {
		return nil, errors.New("not a compiled program")
	}
	data = data[len(magic):]

	prog := &Program{}
	version := uint64(0)
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, v uint64, bytes []byte) error {
		switch num {
		case fieldVersion:
			version = v
		case fieldFilename:
			prog.Filename = string(bytes)
		case fieldNames:
			prog.Names = append(prog.Names, string(bytes))
		case fieldConstants:
			c, err := decodeConstant(bytes)
			if err != nil {
				return err
			}
			prog.Constants = append(prog.Constants, c)
		case fieldFunctions:
			fn, err := decodeFuncode(prog, bytes)
			if err != nil {
				return err
			}
			prog.Functions = append(prog.Functions, fn)
		case fieldToplevel:
			fn, err := decodeFuncode(prog, bytes)
			if err != nil {
				return err
			}
			prog.Toplevel = fn
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("malformed compiled program: %w", err)
	}
	if version != Version {
		return nil, fmt.Errorf("version mismatch: read %d, want %d", version, Version)
	}
	if prog.Toplevel == nil {
		return nil, errors.New("malformed compiled program: no toplevel function")
	}

	// Positions refer to the program's filename, now known.
	for _, fn := range append(prog.Functions, prog.Toplevel) {
		fn.Pos = syntax.MakePosition(&prog.Filename, fn.Pos.Line, fn.Pos.Col)
	}
	if err := prog.Validate(); err != nil {
		return nil, err
	}
	return prog, nil
}

func decodeConstant(data []byte) (interface{}, error) {
	var c interface{}
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, v uint64, bytes []byte) error {
		switch num {
		case fieldConstInt:
			c = protowire.DecodeZigZag(v)
		case fieldConstString:
			c = string(bytes)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errors.New("empty constant")
	}
	return c, nil
}

func decodeFuncode(prog *Program, data []byte) (*Funcode, error) {
	fn := &Funcode{Prog: prog}
	var line, col int32
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, v uint64, bytes []byte) error {
		switch num {
		case fieldFnName:
			fn.Name = string(bytes)
		case fieldFnLine:
			line = int32(v)
		case fieldFnCol:
			col = int32(v)
		case fieldFnCode:
			fn.Code = append([]byte(nil), bytes...)
		case fieldFnParams:
			fn.NumParams = int(v)
		case fieldFnLocals:
			fn.NumLocals = int(v)
		case fieldFnMaxStack:
			fn.MaxStack = int(v)
		case fieldFnPositions:
			var p pcPosition
			err := forEachField(bytes, func(num protowire.Number, typ protowire.Type, v uint64, _ []byte) error {
				switch num {
				case fieldPosPC:
					p.pc = uint32(v)
				case fieldPosLine:
					p.line = int32(v)
				case fieldPosCol:
					p.col = int32(v)
				}
				return nil
			})
			if err != nil {
				return err
			}
			fn.pclinetab = append(fn.pclinetab, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	fn.Pos = syntax.Position{Line: line, Col: col}
	return fn, nil
}

// forEachField calls f for each varint or length-delimited field of
// the message in data. Fields of other wire types are skipped.
func forEachField(data []byte, f func(num protowire.Number, typ protowire.Type, v uint64, bytes []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		var v uint64
		var bytes []byte
		switch typ {
		case protowire.VarintType:
			v, n = protowire.ConsumeVarint(data)
		case protowire.BytesType:
			bytes, n = protowire.ConsumeBytes(data)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			continue
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		if err := f(num, typ, v, bytes); err != nil {
			return err
		}
	}
	return nil
}
