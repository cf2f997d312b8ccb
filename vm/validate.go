package vm

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Validate checks the structural invariants of f against a bytecode
// version: register, constant, operator and type indices are in range,
// jump targets stay inside the instruction stream and every opcode exists
// in that version. All violations are reported together.
func (f *Function) Validate(version int) error {
	var result *multierror.Error
	bad := func(pc int, in Instruction, format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		result = multierror.Append(result, fmt.Errorf("%s: pc %d (%s): %s", f.Name, pc, in, msg))
	}

	if len(f.DebugHandles) != 0 && len(f.DebugHandles) != len(f.Instructions) {
		result = multierror.Append(result, fmt.Errorf("%s: %d debug handles for %d instructions",
			f.Name, len(f.DebugHandles), len(f.Instructions)))
	}

	n := len(f.Instructions)
	for pc, in := range f.Instructions {
		if !in.Op.Valid() {
			bad(pc, in, "unknown opcode")
			continue
		}
		if mv := in.Op.Info().MinVersion; version < mv {
			bad(pc, in, "opcode requires bytecode version %d", mv)
		}
		switch in.Op {
		case OpLOAD, OpMOVE, OpSTORE, OpDROPR:
			if in.X < 0 || int(in.X) >= f.RegisterSize {
				bad(pc, in, "register %d out of range [0,%d)", in.X, f.RegisterSize)
			}
		case OpSTOREN:
			if in.X < 0 || in.N < 0 || int(in.X+in.N) > f.RegisterSize {
				bad(pc, in, "registers %d..%d out of range [0,%d)", in.X, in.X+in.N-1, f.RegisterSize)
			}
		case OpLOADC, OpCALL, OpINTERFACECALL, OpGETATTR, OpSETATTR:
			if in.X < 0 || int(in.X) >= len(f.Constants) {
				bad(pc, in, "constant %d out of range [0,%d)", in.X, len(f.Constants))
			}
		case OpOP, OpOPN:
			if in.X < 0 || int(in.X) >= len(f.Operators) {
				bad(pc, in, "operator %d out of range [0,%d)", in.X, len(f.Operators))
			}
		case OpLISTCONSTRUCT, OpDICTCONSTRUCT, OpCREATEOBJECT:
			if in.X < 0 || int(in.X) >= len(f.Types) {
				bad(pc, in, "type %d out of range [0,%d)", in.X, len(f.Types))
			}
		case OpTUPLECONSTRUCT, OpLISTUNPACK, OpFORMAT:
			if in.X < 0 {
				bad(pc, in, "negative operand count %d", in.X)
			}
		case OpJF, OpJMP:
			if t := pc + int(in.X); t < 0 || t >= n {
				bad(pc, in, "jump target %d outside [0,%d)", t, n)
			}
		}
		if in.Op == OpINTERFACECALL && in.N < 1 {
			bad(pc, in, "INTERFACE_CALL needs a receiver")
		}
		if (in.Op == OpOPN || in.Op == OpLISTCONSTRUCT || in.Op == OpDICTCONSTRUCT || in.Op == OpCALL) && in.N < 0 {
			bad(pc, in, "negative operand count %d", in.N)
		}
	}
	return result.ErrorOrNil()
}
