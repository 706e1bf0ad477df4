package ember

import "github.com/canonical/ember/internal/compile"

// MakeProgram wraps a hand-assembled program.
func MakeProgram(compiled *compile.Program) (*Program, error) {
	if err := compiled.Validate(); err != nil {
		return nil, err
	}
	return &Program{compiled}, nil
}

const MaxStackDepth = maxStackDepth

var ListCellSize = listCellSize

var FrameSize = frameSize

var FunctionSize = functionSize
