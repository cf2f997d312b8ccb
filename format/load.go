// Package format reads and writes versioned model archives.
//
// A model archive is a set of named records (see the archive package):
//
//	version            ASCII decimal bytecode version
//	code/<name>        one function
//	constants          shared constant table (version 5 and later)
//	debug/<name>       debug entries of one function (optional)
//	hierarchy          module hierarchy arena
//	sources            retained source texts (optional)
//	attributes         the root object
//	extra/<file>       caller side files, passed through unexamined
//
// Payloads are canonical CBOR.
package format

import (
	"fmt"

	"github.com/chazu/litert/archive"
	"github.com/chazu/litert/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("litert.format")

type loadOptions struct {
	extra map[string]string
}

// Option configures Load.
type Option func(*loadOptions)

// WithExtraFiles requests side files. For every key of files that names
// an extra/<key> record, files[key] is set to its content; other keys are
// left untouched. The loaded module's ExtraFiles gets the same entries.
func WithExtraFiles(files map[string]string) Option {
	return func(o *loadOptions) { o.extra = files }
}

// Load decodes a model archive into a module bound to rt.
func Load(r archive.Reader, rt *vm.Runtime, opts ...Option) (*vm.Module, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}
	rs, err := ReadRecords(r)
	if err != nil {
		return nil, err
	}
	m, err := Decode(rs, rt)
	if err != nil {
		return nil, err
	}
	for key := range o.extra {
		if data, ok := rs.Extra[key]; ok {
			o.extra[key] = string(data)
			m.ExtraFiles[key] = string(data)
		}
	}
	log.Debugf("loaded %s (id %s): bytecode version %d, %d functions", m.Name, m.ID, m.Version, len(rs.Functions))
	return m, nil
}

// LoadFile loads a model from a zip archive on disk.
func LoadFile(path string, rt *vm.Runtime, opts ...Option) (*vm.Module, error) {
	zr, err := archive.OpenZipFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vm.ErrLoad, err)
	}
	defer zr.Close()
	return Load(zr, rt, opts...)
}

// Decode builds a module from a decoded record set.
func Decode(rs *Records, rt *vm.Runtime) (*vm.Module, error) {
	if rs.Version < vm.MinSupportedBytecodeVersion || rs.Version > vm.MaxSupportedBytecodeVersion {
		return nil, fmt.Errorf("%w: bytecode version %d outside supported range [%d, %d]",
			vm.ErrLoad, rs.Version, vm.MinSupportedBytecodeVersion, vm.MaxSupportedBytecodeVersion)
	}

	obj := vm.NewObject("__torch__.Module")
	if rs.Attributes != nil {
		v, err := DecodeValue(*rs.Attributes)
		if err != nil {
			return nil, err
		}
		o, ok := v.(*vm.Object)
		if !ok {
			return nil, fmt.Errorf("%w: attributes record holds %s", ErrMalformed, v.Kind())
		}
		obj = o
	}
	m := vm.NewModule(rt, obj)
	m.Version = rs.Version

	if len(rs.Hierarchy) > 0 {
		m.Hierarchy = make(vm.Hierarchy, len(rs.Hierarchy))
		for i, h := range rs.Hierarchy {
			if h.Parent >= i || h.Parent < -1 {
				return nil, fmt.Errorf("%w: hierarchy node %d has parent %d", ErrMalformed, i, h.Parent)
			}
			m.Hierarchy[i] = vm.ModuleInfo{Instance: h.Instance, Type: h.Type, Parent: h.Parent}
		}
	}
	for _, s := range rs.Sources {
		m.Sources = append(m.Sources, vm.Source{Filename: s.Filename, Text: s.Text, StartLine: s.StartLine})
	}

	var pool []vm.Value
	if rs.Version >= 5 {
		var err error
		if pool, err = decodeValues(rs.Constants); err != nil {
			return nil, err
		}
	}

	for _, fr := range rs.Functions {
		fn, err := decodeFunction(fr, rs.Version, pool)
		if err != nil {
			return nil, err
		}
		if err := m.AddFunction(fn); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		for _, e := range rs.Debug[fr.Name] {
			m.Debug[e.Handle] = decodeDebugEntry(e)
		}
	}
	if err := m.ValidateDebug(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeFunction(fr *FunctionRecord, version int, pool []vm.Value) (*vm.Function, error) {
	insts, err := DecodeInstructions(fr, version)
	if err != nil {
		return nil, err
	}
	fn := &vm.Function{
		Name:         fr.Name,
		Arguments:    fr.Arguments,
		Instructions: insts,
		Types:        fr.Types,
		RegisterSize: fr.RegisterSize,
		DebugHandles: fr.DebugHandles,
		DebugTop:     fr.DebugTop,
	}

	if version >= 5 {
		if len(fr.Constants) > 0 {
			return nil, fmt.Errorf("%w: %s: inline constants in a version %d model", ErrMalformed, fr.Name, version)
		}
		fn.Constants = make([]vm.Value, len(fr.ConstantRefs))
		for i, ref := range fr.ConstantRefs {
			if ref < 0 || ref >= len(pool) {
				return nil, fmt.Errorf("%w: %s: constant ref %d outside table of %d", ErrMalformed, fr.Name, ref, len(pool))
			}
			fn.Constants[i] = pool[ref]
		}
	} else {
		if len(fr.ConstantRefs) > 0 {
			return nil, fmt.Errorf("%w: %s: constant refs in a version %d model", ErrMalformed, fr.Name, version)
		}
		if fn.Constants, err = decodeValues(fr.Constants); err != nil {
			return nil, err
		}
	}

	fn.Operators = make([]vm.OperatorRef, len(fr.Operators))
	for i, op := range fr.Operators {
		n := -1
		if version >= 6 && op.NumArgs != nil {
			n = *op.NumArgs
		}
		fn.Operators[i] = vm.OperatorRef{Name: op.Name, Overload: op.Overload, NumSpecifiedArgs: n}
	}
	return fn, nil
}

func decodeRange(r RangeRecord) vm.SourceRange {
	return vm.SourceRange{Source: r.Source, Start: r.Start, End: r.End}
}

func decodeDebugEntry(e DebugEntryRecord) *vm.DebugEntry {
	de := &vm.DebugEntry{Op: e.Op, Range: decodeRange(e.Range)}
	for _, c := range e.Calls {
		de.Calls = append(de.Calls, vm.CallSite{Node: c.Node, Method: c.Method, Range: decodeRange(c.Range)})
	}
	return de
}
