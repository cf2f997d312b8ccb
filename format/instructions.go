package format

import (
	"fmt"

	"github.com/chazu/litert/vm"
)

// Version 8 packs each instruction into one word: the opcode in the top
// byte, then X and N as 28-bit two's complement fields.
const (
	fieldBits = 28
	fieldMask = 1<<fieldBits - 1
	fieldMax  = 1<<(fieldBits-1) - 1
	fieldMin  = -(1 << (fieldBits - 1))
)

// PackInstruction encodes in as a version 8 instruction word.
func PackInstruction(in vm.Instruction) (uint64, error) {
	if in.X < fieldMin || in.X > fieldMax || in.N < fieldMin || in.N > fieldMax {
		return 0, fmt.Errorf("format: operand out of range in %s", in)
	}
	return uint64(in.Op)<<(2*fieldBits) |
		(uint64(uint32(in.X))&fieldMask)<<fieldBits |
		uint64(uint32(in.N))&fieldMask, nil
}

// UnpackInstruction decodes a version 8 instruction word.
func UnpackInstruction(w uint64) vm.Instruction {
	return vm.Instruction{
		Op: vm.OpCode(w >> (2 * fieldBits)),
		X:  signExtend(uint32(w >> fieldBits & fieldMask)),
		N:  signExtend(uint32(w & fieldMask)),
	}
}

func signExtend(v uint32) int32 {
	return int32(v<<(32-fieldBits)) >> (32 - fieldBits)
}

// InstructionToRecord renders an instruction with its mnemonic.
func InstructionToRecord(in vm.Instruction) InstructionRecord {
	return InstructionRecord{Op: in.Op.String(), X: in.X, N: in.N}
}

// InstructionFromRecord parses an explicit instruction.
func InstructionFromRecord(r InstructionRecord) (vm.Instruction, error) {
	op, err := vm.ParseOpCode(r.Op)
	if err != nil {
		return vm.Instruction{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return vm.Instruction{Op: op, X: r.X, N: r.N}, nil
}

// DecodeInstructions returns the instructions of fr for the given version.
func DecodeInstructions(fr *FunctionRecord, version int) ([]vm.Instruction, error) {
	if version >= 8 {
		if len(fr.Instructions) > 0 {
			return nil, fmt.Errorf("%w: %s: explicit instructions in a version %d model", ErrMalformed, fr.Name, version)
		}
		out := make([]vm.Instruction, len(fr.Packed))
		for i, w := range fr.Packed {
			out[i] = UnpackInstruction(w)
		}
		return out, nil
	}
	if len(fr.Packed) > 0 {
		return nil, fmt.Errorf("%w: %s: packed instructions in a version %d model", ErrMalformed, fr.Name, version)
	}
	out := make([]vm.Instruction, len(fr.Instructions))
	for i, r := range fr.Instructions {
		in, err := InstructionFromRecord(r)
		if err != nil {
			return nil, fmt.Errorf("%s pc %d: %w", fr.Name, i, err)
		}
		out[i] = in
	}
	return out, nil
}
