package vm

import (
	"strings"
	"testing"
)

func TestValidateAccepts(t *testing.T) {
	fn := &Function{
		Name:         "__torch__.M.forward",
		RegisterSize: 2,
		Constants:    []Value{Int(1)},
		Operators:    []OperatorRef{{Name: "aten::add", Overload: "int", NumSpecifiedArgs: 2}},
		Types:        []string{"int"},
		Instructions: []Instruction{
			Inst(OpSTOREN, 0, 2),
			Inst(OpMOVE, 1, 0),
			Inst(OpLOADC, 0, 0),
			Inst(OpOP, 0, 0),
			Inst(OpLISTCONSTRUCT, 0, 1),
			Inst(OpRET, 0, 0),
		},
	}
	if err := fn.Validate(8); err != nil {
		t.Fatalf("Validate(8): %v", err)
	}
	// LIST_CONSTRUCT does not exist before version 7.
	if err := fn.Validate(6); err == nil || !strings.Contains(err.Error(), "requires bytecode version 7") {
		t.Errorf("Validate(6) = %v", err)
	}
}

func TestValidateCollectsAll(t *testing.T) {
	fn := &Function{
		Name:         "f",
		RegisterSize: 1,
		Instructions: []Instruction{
			Inst(OpLOAD, 3, 0),          // register
			Inst(OpLOADC, 0, 0),         // constant
			Inst(OpOP, 2, 0),            // operator
			Inst(OpJMP, 10, 0),          // jump
			Inst(OpINTERFACECALL, 0, 0), // constant and receiver
			Inst(OpCode(99), 0, 0),      // opcode
			Inst(OpSTOREN, 0, 2),        // register range
			Inst(OpCREATEOBJECT, 0, 0),  // type
		},
		DebugHandles: []int64{-1},
	}
	err := fn.Validate(8)
	if err == nil {
		t.Fatal("expected errors")
	}
	msg := err.Error()
	for _, want := range []string{
		"1 debug handles for 8 instructions",
		"register 3 out of range",
		"constant 0 out of range",
		"operator 2 out of range",
		"jump target 13 outside",
		"INTERFACE_CALL needs a receiver",
		"unknown opcode",
		"registers 0..1 out of range",
		"type 0 out of range",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("missing %q in:\n%s", want, msg)
		}
	}
}
