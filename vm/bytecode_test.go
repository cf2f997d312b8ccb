package vm

import "testing"

func TestOpcodeNames(t *testing.T) {
	tests := []struct {
		op   OpCode
		name string
	}{
		{OpOP, "OP"},
		{OpSTOREN, "STOREN"},
		{OpINTERFACECALL, "INTERFACE_CALL"},
		{OpTUPLECONSTRUCT, "TUPLE_CONSTRUCT"},
		{OpCREATEOBJECT, "CREATE_OBJECT"},
		{OpWARN, "WARN"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.name {
			t.Errorf("%d.String() = %q, want %q", tt.op, got, tt.name)
		}
		parsed, err := ParseOpCode(tt.name)
		if err != nil || parsed != tt.op {
			t.Errorf("ParseOpCode(%q) = %v, %v", tt.name, parsed, err)
		}
	}

	if op, err := ParseOpCode("list_construct"); err != nil || op != OpLISTCONSTRUCT {
		t.Errorf("ParseOpCode is case sensitive: %v, %v", op, err)
	}
	if _, err := ParseOpCode("BOGUS"); err == nil {
		t.Error("expected error for unknown opcode")
	}
}

func TestOpcodeVersions(t *testing.T) {
	for op := OpNOP; op < numOpCodes; op++ {
		want := 4
		switch op {
		case OpTUPLECONSTRUCT, OpLISTCONSTRUCT, OpDICTCONSTRUCT:
			want = 7
		}
		if got := op.Info().MinVersion; got != want {
			t.Errorf("%s MinVersion = %d, want %d", op, got, want)
		}
	}
	if OpCode(200).Valid() {
		t.Error("opcode 200 reported valid")
	}
}

func TestInstructionString(t *testing.T) {
	in := Inst(OpJF, -3, 0)
	if in.String() != "JF -3 0" {
		t.Errorf("String() = %q", in.String())
	}
	if !in.IsJump() || Inst(OpRET, 0, 0).IsJump() {
		t.Error("IsJump wrong")
	}
}
