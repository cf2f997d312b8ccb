package vm

// Bytecode versions understood by this runtime.
//
//	4  explicit instruction triples, per-method constants
//	5  shared model-level constant table
//	6  operator entries record their specified-argument count
//	7  promoted TUPLE/LIST/DICT_CONSTRUCT instructions
//	8  instructions packed into 64-bit words
const (
	MinSupportedBytecodeVersion = 4
	MaxSupportedBytecodeVersion = 8
	ProducedBytecodeVersion     = 8
)

// RuntimeBytecodeVersion returns the newest bytecode version this runtime
// can execute.
func RuntimeBytecodeVersion() int { return MaxSupportedBytecodeVersion }
