package vm

// Argument describes one positional schema argument.
type Argument struct {
	Name       string
	Default    Value
	HasDefault bool
}

// Arg declares a required argument.
func Arg(name string) Argument {
	return Argument{Name: name}
}

// ArgDefault declares an argument with a default value.
func ArgDefault(name string, def Value) Argument {
	return Argument{Name: name, Default: def, HasDefault: true}
}

// KernelFunc implements an operator. It receives exactly the schema's
// arguments (defaults already padded) and returns the single result, or
// nil for operators that return nothing.
type KernelFunc func(args []Value) (Value, error)

// Schema is a registered operator signature plus its kernel.
type Schema struct {
	Name     string // e.g. "aten::add"
	Overload string // e.g. "Tensor"; empty for the default overload
	Args     []Argument
	Variadic bool // takes any number of operands (OPN)
	Returns  int  // 0 or 1
	Kernel   KernelFunc
}

// FullName returns "name.overload", or just the name without an overload.
func (s *Schema) FullName() string {
	return FullName(s.Name, s.Overload)
}

// FullName joins an operator name and overload.
func FullName(name, overload string) string {
	if overload == "" {
		return name
	}
	return name + "." + overload
}

// NumSchemaArgs is the argument count published in compatibility info;
// variadic operators report -1.
func (s *Schema) NumSchemaArgs() int {
	if s.Variadic {
		return -1
	}
	return len(s.Args)
}
