package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcodes
// ---------------------------------------------------------------------------

// OpCode is a bytecode instruction opcode. Every instruction carries two
// integer operands, X and N, whose meaning depends on the opcode.
type OpCode uint8

const (
	OpNOP OpCode = iota

	// Operator calls
	OpOP  // OP x: call operator table entry x
	OpOPN // OPN x n: call variadic operator x with n operands

	// Registers and stack
	OpLOAD   // LOAD x: push register x
	OpMOVE   // MOVE x: push register x and release it
	OpSTORE  // STORE x: pop into register x
	OpSTOREN // STOREN x n: pop n values into registers x..x+n-1
	OpDROP   // DROP: pop and discard
	OpDROPR  // DROPR x: release register x
	OpLOADC  // LOADC x: push constant x

	// Control flow (offsets are relative to the current instruction)
	OpJF  // JF x: pop condition, jump by x when false
	OpJMP // JMP x: jump by x
	OpRET // RET: return top of stack

	// Method calls
	OpCALL          // CALL x n: call function named by constant x with n operands
	OpINTERFACECALL // INTERFACE_CALL x n: call method constant x on the first of n operands

	// Container construction
	OpTUPLECONSTRUCT // TUPLE_CONSTRUCT n
	OpLISTCONSTRUCT  // LIST_CONSTRUCT t n
	OpDICTCONSTRUCT  // DICT_CONSTRUCT t n (n = keys + values)
	OpLISTUNPACK     // LIST_UNPACK n

	// Objects
	OpCREATEOBJECT // CREATE_OBJECT t
	OpGETATTR      // GET_ATTR x: attribute named by constant x
	OpSETATTR      // SET_ATTR x

	// Misc
	OpFORMAT // FORMAT n: first operand is the format string
	OpWARN   // WARN: pop message and log it

	numOpCodes
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name       string // mnemonic as written in model files
	MinVersion int    // oldest bytecode version that has this opcode
}

var opcodeTable = [numOpCodes]OpcodeInfo{
	OpNOP:            {"NOP", 4},
	OpOP:             {"OP", 4},
	OpOPN:            {"OPN", 4},
	OpLOAD:           {"LOAD", 4},
	OpMOVE:           {"MOVE", 4},
	OpSTORE:          {"STORE", 4},
	OpSTOREN:         {"STOREN", 4},
	OpDROP:           {"DROP", 4},
	OpDROPR:          {"DROPR", 4},
	OpLOADC:          {"LOADC", 4},
	OpJF:             {"JF", 4},
	OpJMP:            {"JMP", 4},
	OpRET:            {"RET", 4},
	OpCALL:           {"CALL", 4},
	OpINTERFACECALL:  {"INTERFACE_CALL", 4},
	OpTUPLECONSTRUCT: {"TUPLE_CONSTRUCT", 7},
	OpLISTCONSTRUCT:  {"LIST_CONSTRUCT", 7},
	OpDICTCONSTRUCT:  {"DICT_CONSTRUCT", 7},
	OpLISTUNPACK:     {"LIST_UNPACK", 4},
	OpCREATEOBJECT:   {"CREATE_OBJECT", 4},
	OpGETATTR:        {"GET_ATTR", 4},
	OpSETATTR:        {"SET_ATTR", 4},
	OpFORMAT:         {"FORMAT", 4},
	OpWARN:           {"WARN", 4},
}

var opcodeByName = func() map[string]OpCode {
	m := make(map[string]OpCode, numOpCodes)
	for op, info := range opcodeTable {
		m[info.Name] = OpCode(op)
	}
	return m
}()

// Valid reports whether op is a known opcode.
func (op OpCode) Valid() bool { return op < numOpCodes }

// Info returns the metadata for op.
func (op OpCode) Info() OpcodeInfo {
	if op.Valid() {
		return opcodeTable[op]
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// String implements the Stringer interface.
func (op OpCode) String() string { return op.Info().Name }

// ParseOpCode looks up an opcode by mnemonic (case-insensitive).
func ParseOpCode(name string) (OpCode, error) {
	if op, ok := opcodeByName[strings.ToUpper(name)]; ok {
		return op, nil
	}
	return 0, fmt.Errorf("unknown opcode %q", name)
}

// ---------------------------------------------------------------------------
// Instruction
// ---------------------------------------------------------------------------

// Instruction is a single bytecode instruction.
type Instruction struct {
	Op OpCode
	X  int32
	N  int32
}

// Inst is shorthand for building an instruction.
func Inst(op OpCode, x, n int32) Instruction {
	return Instruction{Op: op, X: x, N: n}
}

func (in Instruction) String() string {
	return fmt.Sprintf("%s %d %d", in.Op, in.X, in.N)
}

// IsJump reports whether the instruction carries a relative jump offset.
func (in Instruction) IsJump() bool {
	return in.Op == OpJF || in.Op == OpJMP
}
