package vm

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Interpreter: register machine over an explicit frame chain
// ---------------------------------------------------------------------------

// CallFrame is the activation record of one executing function.
type CallFrame struct {
	fn     *Function
	regs   []Value
	pc     int
	caller *CallFrame
	depth  int
}

// Function returns the function executing in the frame.
func (f *CallFrame) Function() *Function { return f.fn }

// PC returns the index of the instruction the frame is executing.
func (f *CallFrame) PC() int { return f.pc }

// Caller returns the calling frame, or nil for the outermost frame.
func (f *CallFrame) Caller() *CallFrame { return f.caller }

// interpreter holds the state of one invocation. It is never shared
// between goroutines.
type interpreter struct {
	mod   *Module
	rt    *Runtime
	stack []Value
	frame *CallFrame
}

var (
	errStackUnderflow = errors.New("operand stack underflow")
	errExecPanic      = errors.New("panic during execution")
)

// stackFault is panicked by pop on underflow and recovered by execute.
type stackFault struct{}

func (in *interpreter) push(v Value) {
	in.stack = append(in.stack, v)
}

func (in *interpreter) pop() Value {
	n := len(in.stack)
	if n == 0 {
		panic(stackFault{})
	}
	v := in.stack[n-1]
	in.stack[n-1] = nil
	in.stack = in.stack[:n-1]
	return v
}

// popN pops n values and returns them in push order.
func (in *interpreter) popN(n int) []Value {
	if n < 0 || n > len(in.stack) {
		panic(stackFault{})
	}
	base := len(in.stack) - n
	out := make([]Value, n)
	copy(out, in.stack[base:])
	clear(in.stack[base:])
	in.stack = in.stack[:base]
	return out
}

func (in *interpreter) peek(depth int) Value {
	i := len(in.stack) - 1 - depth
	if i < 0 {
		panic(stackFault{})
	}
	return in.stack[i]
}

// enter pushes a frame for fn. Its operands are already on the stack.
func (in *interpreter) enter(fn *Function) error {
	depth := 1
	if in.frame != nil {
		depth = in.frame.depth + 1
	}
	if depth > in.rt.MaxCallDepth {
		return fmt.Errorf("%w (%d) calling %s", ErrCallDepth, in.rt.MaxCallDepth, fn.Name)
	}
	in.frame = &CallFrame{
		fn:     fn,
		regs:   make([]Value, fn.RegisterSize),
		caller: in.frame,
		depth:  depth,
	}
	return nil
}

// fail wraps err with the traceback of the current frame chain.
func (in *interpreter) fail(err error) error {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return err
	}
	hier, frames := in.mod.buildTrace(in.frame)
	return &ExecutionError{
		Err:       err,
		Function:  in.frame.fn.Name,
		PC:        in.frame.pc,
		Hierarchy: hier,
		Frames:    frames,
	}
}

// execute runs fn with args as its inputs.
func (m *Module) execute(fn *Function, args []Value) (result Value, err error) {
	in := &interpreter{mod: m, rt: m.rt, stack: make([]Value, 0, 16)}
	in.stack = append(in.stack, args...)
	if err := in.enter(fn); err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(stackFault); ok {
				result, err = nil, in.fail(errStackUnderflow)
				return
			}
			result, err = nil, in.fail(fmt.Errorf("%w: %v", errExecPanic, r))
		}
	}()
	return in.run()
}

func (in *interpreter) constString(f *CallFrame, x int32) (string, error) {
	return AsString(f.fn.Constants[x])
}

func (in *interpreter) run() (Value, error) {
	for {
		f := in.frame
		code := f.fn.Instructions
		if f.pc < 0 || f.pc >= len(code) {
			return nil, in.fail(fmt.Errorf("pc %d outside %s (%d instructions)", f.pc, f.fn.Name, len(code)))
		}
		inst := code[f.pc]

		switch inst.Op {
		case OpNOP:

		case OpOP, OpOPN:
			op, err := f.fn.operator(in.rt.Operators, int(inst.X))
			if err != nil {
				return nil, in.fail(err)
			}
			n := op.NumInputs()
			if inst.Op == OpOPN {
				n = int(inst.N)
				if !op.schema.Variadic && n != op.NumInputs() {
					return nil, in.fail(fmt.Errorf("%w: %s called with %d operands, expects %d",
						ErrArityMismatch, op.schema.FullName(), n, op.NumInputs()))
				}
			}
			res, err := op.Call(in.popN(n))
			if err != nil {
				return nil, in.fail(err)
			}
			if op.schema.Returns > 0 {
				if res == nil {
					res = None
				}
				in.push(res)
			}

		case OpLOAD:
			in.push(f.regs[inst.X])

		case OpMOVE:
			in.push(f.regs[inst.X])
			f.regs[inst.X] = nil

		case OpSTORE:
			f.regs[inst.X] = in.pop()

		case OpSTOREN:
			for i := inst.N - 1; i >= 0; i-- {
				f.regs[inst.X+i] = in.pop()
			}

		case OpDROP:
			in.pop()

		case OpDROPR:
			f.regs[inst.X] = nil

		case OpLOADC:
			in.push(f.fn.Constants[inst.X])

		case OpJF:
			cond, err := AsBool(in.pop())
			if err != nil {
				return nil, in.fail(err)
			}
			if !cond {
				f.pc += int(inst.X)
				continue
			}

		case OpJMP:
			f.pc += int(inst.X)
			continue

		case OpRET:
			v := in.pop()
			if f.caller == nil {
				return v, nil
			}
			in.frame = f.caller
			in.frame.pc++
			in.push(v)
			continue

		case OpCALL:
			name, err := in.constString(f, inst.X)
			if err != nil {
				return nil, in.fail(err)
			}
			callee, ok := in.mod.functions[name]
			if !ok {
				return nil, in.fail(fmt.Errorf("%w: %s", ErrMethodNotFound, name))
			}
			if err := in.enter(callee); err != nil {
				return nil, in.fail(err)
			}
			continue

		case OpINTERFACECALL:
			name, err := in.constString(f, inst.X)
			if err != nil {
				return nil, in.fail(err)
			}
			switch recv := in.peek(int(inst.N) - 1).(type) {
			case *Capsule:
				args := in.popN(int(inst.N))
				res, err := recv.Obj.CallMethod(name, args[1:])
				if err != nil {
					return nil, in.fail(err)
				}
				if res == nil {
					res = None
				}
				in.push(res)
			case *Object:
				callee, ok := in.mod.functions[recv.Type+"."+name]
				if !ok {
					return nil, in.fail(fmt.Errorf("%w: %s.%s", ErrMethodNotFound, recv.Type, name))
				}
				if err := in.enter(callee); err != nil {
					return nil, in.fail(err)
				}
				continue
			default:
				return nil, in.fail(fmt.Errorf("cannot call method %q on %s", name, recv.Kind()))
			}

		case OpTUPLECONSTRUCT:
			in.push(NewTuple(in.popN(int(inst.X))...))

		case OpLISTCONSTRUCT:
			in.push(&List{Elems: in.popN(int(inst.N)), ElemType: f.fn.Types[inst.X]})

		case OpDICTCONSTRUCT:
			kv := in.popN(int(inst.N))
			d := NewDict()
			for i := 0; i+1 < len(kv); i += 2 {
				if err := d.Set(kv[i], kv[i+1]); err != nil {
					return nil, in.fail(err)
				}
			}
			in.push(d)

		case OpLISTUNPACK:
			elems, err := Elements(in.pop())
			if err != nil {
				return nil, in.fail(err)
			}
			if len(elems) != int(inst.X) {
				return nil, in.fail(fmt.Errorf("cannot unpack %d values into %d", len(elems), inst.X))
			}
			for _, e := range elems {
				in.push(e)
			}

		case OpCREATEOBJECT:
			typ := f.fn.Types[inst.X]
			if ctor, ok := in.rt.Classes.Lookup(typ); ok {
				in.push(&Capsule{Obj: ctor()})
			} else {
				in.push(NewObject(typ))
			}

		case OpGETATTR:
			name, err := in.constString(f, inst.X)
			if err != nil {
				return nil, in.fail(err)
			}
			obj, ok := in.pop().(*Object)
			if !ok {
				return nil, in.fail(fmt.Errorf("GET_ATTR %q on non-object", name))
			}
			v, ok := obj.GetAttr(name)
			if !ok {
				return nil, in.fail(fmt.Errorf("object of type %s has no attribute %q", obj.Type, name))
			}
			in.push(v)

		case OpSETATTR:
			name, err := in.constString(f, inst.X)
			if err != nil {
				return nil, in.fail(err)
			}
			v := in.pop()
			obj, ok := in.pop().(*Object)
			if !ok {
				return nil, in.fail(fmt.Errorf("SET_ATTR %q on non-object", name))
			}
			obj.SetAttr(name, v)

		case OpFORMAT:
			s, err := format(in.popN(int(inst.X)))
			if err != nil {
				return nil, in.fail(err)
			}
			in.push(Str(s))

		case OpWARN:
			msg := in.pop()
			in.rt.log.Warningf("%s: %s", f.fn.Name, msg)

		default:
			return nil, in.fail(fmt.Errorf("unknown opcode %s", inst.Op))
		}
		f.pc++
	}
}

// format substitutes "{}" placeholders in args[0] with the remaining args.
func format(args []Value) (string, error) {
	if len(args) == 0 {
		return "", errors.New("FORMAT with no format string")
	}
	fs, err := AsString(args[0])
	if err != nil {
		return "", err
	}
	var b strings.Builder
	rest := args[1:]
	for {
		i := strings.Index(fs, "{}")
		if i < 0 {
			b.WriteString(fs)
			break
		}
		b.WriteString(fs[:i])
		if len(rest) == 0 {
			return "", errors.New("too few arguments for format string")
		}
		b.WriteString(rest[0].String())
		rest = rest[1:]
		fs = fs[i+2:]
	}
	return b.String(), nil
}
