package backport

import (
	"fmt"

	"github.com/chazu/litert/format"
	"github.com/chazu/litert/vm"
)

// defaultSteps is the version history of the format, one entry per
// version that can be lowered to the one before it.
func defaultSteps() map[int]Step {
	return map[int]Step{
		8: unpackInstructions,
		7: lowerConstructs,
		6: materializeDefaults,
		5: inlineConstants,
	}
}

// unpackInstructions lowers version 8 to 7: packed instruction words
// become explicit instruction records.
func unpackInstructions(rs *format.Records, _ *vm.Registry) error {
	for _, fr := range rs.Functions {
		insts, err := format.DecodeInstructions(fr, 8)
		if err != nil {
			return err
		}
		fr.Packed = nil
		fr.Instructions = make([]format.InstructionRecord, len(insts))
		for i, in := range insts {
			if !in.Op.Valid() {
				return fmt.Errorf("%s pc %d: unknown opcode %d", fr.Name, i, in.Op)
			}
			fr.Instructions[i] = format.InstructionToRecord(in)
		}
	}
	rs.Version = 7
	return nil
}

var constructOps = map[string]string{
	"TUPLE_CONSTRUCT": "prim::TupleConstruct",
	"LIST_CONSTRUCT":  "prim::ListConstruct",
	"DICT_CONSTRUCT":  "prim::DictConstruct",
}

// lowerConstructs lowers version 7 to 6: the promoted container
// instructions become variadic calls to the equivalent prim operators.
// OPN has no operand for the type table, so the element type annotation of
// LIST_CONSTRUCT is dropped and the lowered list carries none.
func lowerConstructs(rs *format.Records, _ *vm.Registry) error {
	for _, fr := range rs.Functions {
		for i, in := range fr.Instructions {
			name, ok := constructOps[in.Op]
			if !ok {
				continue
			}
			n := in.N
			if in.Op == "TUPLE_CONSTRUCT" {
				n = in.X
			}
			idx := operatorIndex(fr, name)
			fr.Instructions[i] = format.InstructionRecord{Op: "OPN", X: int32(idx), N: n}
		}
	}
	rs.Version = 6
	return nil
}

func operatorIndex(fr *format.FunctionRecord, name string) int {
	for i, op := range fr.Operators {
		if op.Name == name && op.Overload == "" {
			return i
		}
	}
	all := -1
	fr.Operators = append(fr.Operators, format.OperatorRecord{Name: name, NumArgs: &all})
	return len(fr.Operators) - 1
}

// materializeDefaults lowers version 6 to 5. Older runtimes expect every
// schema argument on the stack, so each OP whose call site relied on
// schema defaults gets a LOADC per defaulted argument inserted in front of
// it, and jump offsets are rewritten around the inserted instructions.
func materializeDefaults(rs *format.Records, reg *vm.Registry) error {
	for _, fr := range rs.Functions {
		// Constants to push before each operator table entry.
		pushes := make([][]int, len(fr.Operators))
		for i, op := range fr.Operators {
			if op.NumArgs == nil || *op.NumArgs < 0 {
				continue
			}
			s, ok := reg.Lookup(op.Name, op.Overload)
			if !ok {
				return fmt.Errorf("%s: %w: %s", fr.Name, vm.ErrOperatorNotFound, vm.FullName(op.Name, op.Overload))
			}
			if s.Variadic {
				continue
			}
			k := *op.NumArgs
			if k > len(s.Args) {
				return fmt.Errorf("%s: %w: %s specified with %d of %d arguments",
					fr.Name, vm.ErrArityMismatch, s.FullName(), k, len(s.Args))
			}
			for _, a := range s.Args[k:] {
				if !a.HasDefault {
					return fmt.Errorf("%s: %w: %s argument %q has no default",
						fr.Name, vm.ErrArityMismatch, s.FullName(), a.Name)
				}
				rec, err := format.EncodeValue(a.Default)
				if err != nil {
					return err
				}
				rs.Constants = append(rs.Constants, rec)
				fr.ConstantRefs = append(fr.ConstantRefs, len(rs.Constants)-1)
				pushes[i] = append(pushes[i], len(fr.ConstantRefs)-1)
			}
		}

		// newPC[p] is where old instruction p's group (inserted LOADCs
		// followed by the instruction itself) starts.
		newPC := make([]int, len(fr.Instructions)+1)
		pc := 0
		for p, in := range fr.Instructions {
			newPC[p] = pc
			if in.Op == "OP" && (in.X < 0 || int(in.X) >= len(pushes)) {
				return fmt.Errorf("%s pc %d: operator %d out of range", fr.Name, p, in.X)
			}
			if in.Op == "OP" {
				pc += len(pushes[in.X])
			}
			pc++
		}
		newPC[len(fr.Instructions)] = pc

		hasHandles := len(fr.DebugHandles) == len(fr.Instructions) && len(fr.DebugHandles) > 0
		insts := make([]format.InstructionRecord, 0, pc)
		var handles []int64
		for p, in := range fr.Instructions {
			var h int64 = -1
			if hasHandles {
				h = fr.DebugHandles[p]
			}
			if in.Op == "OP" {
				for _, c := range pushes[in.X] {
					insts = append(insts, format.InstructionRecord{Op: "LOADC", X: int32(c)})
					handles = append(handles, h)
				}
			}
			if in.Op == "JF" || in.Op == "JMP" {
				target := p + int(in.X)
				if target < 0 || target > len(fr.Instructions) {
					return fmt.Errorf("%s pc %d: jump target %d out of range", fr.Name, p, target)
				}
				self := len(insts)
				in.X = int32(newPC[target] - self)
			}
			insts = append(insts, in)
			handles = append(handles, h)
		}
		fr.Instructions = insts
		if hasHandles {
			fr.DebugHandles = handles
		}
		for i := range fr.Operators {
			fr.Operators[i].NumArgs = nil
		}
	}
	rs.Version = 5
	return nil
}

// inlineConstants lowers version 5 to 4: the shared constant table is
// copied back into each function.
func inlineConstants(rs *format.Records, _ *vm.Registry) error {
	for _, fr := range rs.Functions {
		fr.Constants = make([]format.ValueRecord, len(fr.ConstantRefs))
		for i, ref := range fr.ConstantRefs {
			if ref < 0 || ref >= len(rs.Constants) {
				return fmt.Errorf("%s: constant ref %d outside table of %d", fr.Name, ref, len(rs.Constants))
			}
			fr.Constants[i] = rs.Constants[ref]
		}
		fr.ConstantRefs = nil
	}
	rs.Constants = nil
	rs.Version = 4
	return nil
}
