package format

import (
	"fmt"
	"sort"

	"github.com/chazu/litert/archive"
	"github.com/chazu/litert/vm"
)

type saveOptions struct {
	extra      map[string]string
	stripDebug bool
}

// SaveOption configures Save.
type SaveOption func(*saveOptions)

// SaveExtraFiles stores side files as extra/<name> records, in addition
// to the module's own ExtraFiles.
func SaveExtraFiles(files map[string]string) SaveOption {
	return func(o *saveOptions) { o.extra = files }
}

// StripDebug drops debug entries and sources. Instructions keep their
// debug handles, which then resolve to raw handle markers.
func StripDebug() SaveOption {
	return func(o *saveOptions) { o.stripDebug = true }
}

// Encode converts a module into a record set at the produced version.
func Encode(m *vm.Module, opts ...SaveOption) (*Records, error) {
	var o saveOptions
	for _, opt := range opts {
		opt(&o)
	}
	rs := &Records{
		Version:   vm.ProducedBytecodeVersion,
		Constants: []ValueRecord{},
		Debug:     make(map[string][]DebugEntryRecord),
		Extra:     make(map[string][]byte),
	}

	attrs, err := EncodeValue(m.Object)
	if err != nil {
		return nil, fmt.Errorf("format: attributes: %w", err)
	}
	rs.Attributes = &attrs

	for _, h := range m.Hierarchy {
		rs.Hierarchy = append(rs.Hierarchy, ModuleRecord{Instance: h.Instance, Type: h.Type, Parent: h.Parent})
	}
	if !o.stripDebug {
		for _, s := range m.Sources {
			rs.Sources = append(rs.Sources, SourceRecord{Filename: s.Filename, Text: s.Text, StartLine: s.StartLine})
		}
	}

	pool := newConstantPool()
	for _, fn := range m.Functions() {
		fr, err := encodeFunction(fn, pool)
		if err != nil {
			return nil, err
		}
		rs.Functions = append(rs.Functions, fr)
		if o.stripDebug {
			continue
		}
		var entries []DebugEntryRecord
		seen := make(map[int64]bool)
		for _, h := range fn.DebugHandles {
			e, ok := m.Debug[h]
			if h < 0 || !ok || seen[h] {
				continue
			}
			seen[h] = true
			entries = append(entries, encodeDebugEntry(h, e))
		}
		if len(entries) > 0 {
			rs.Debug[fn.Name] = entries
		}
	}
	sortFunctions(rs.Functions)
	rs.Constants = pool.values

	for name, content := range m.ExtraFiles {
		rs.Extra[name] = []byte(content)
	}
	for name, content := range o.extra {
		rs.Extra[name] = []byte(content)
	}
	return rs, nil
}

// Save writes m to w at the produced bytecode version. It does not close w.
func Save(w archive.Writer, m *vm.Module, opts ...SaveOption) error {
	rs, err := Encode(m, opts...)
	if err != nil {
		return err
	}
	return rs.Write(w)
}

// SaveFile writes m to a zip archive on disk.
func SaveFile(path string, m *vm.Module, opts ...SaveOption) error {
	zw, err := archive.CreateZipFile(path)
	if err != nil {
		return err
	}
	if err := Save(zw, m, opts...); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// constantPool deduplicates constants by their canonical encoding.
type constantPool struct {
	values []ValueRecord
	index  map[string]int
}

func newConstantPool() *constantPool {
	return &constantPool{values: []ValueRecord{}, index: make(map[string]int)}
}

func (p *constantPool) add(r ValueRecord) (int, error) {
	key, err := marshal(r)
	if err != nil {
		return 0, err
	}
	if i, ok := p.index[string(key)]; ok {
		return i, nil
	}
	p.index[string(key)] = len(p.values)
	p.values = append(p.values, r)
	return len(p.values) - 1, nil
}

func encodeFunction(fn *vm.Function, pool *constantPool) (*FunctionRecord, error) {
	fr := &FunctionRecord{
		Name:         fn.Name,
		Arguments:    fn.Arguments,
		Types:        fn.Types,
		RegisterSize: fn.RegisterSize,
		DebugHandles: fn.DebugHandles,
		DebugTop:     fn.DebugTop,
		Packed:       make([]uint64, len(fn.Instructions)),
		ConstantRefs: make([]int, len(fn.Constants)),
	}
	for i, in := range fn.Instructions {
		w, err := PackInstruction(in)
		if err != nil {
			return nil, fmt.Errorf("%s pc %d: %w", fn.Name, i, err)
		}
		fr.Packed[i] = w
	}
	for i, c := range fn.Constants {
		r, err := EncodeValue(c)
		if err != nil {
			return nil, fmt.Errorf("%s constant %d: %w", fn.Name, i, err)
		}
		if fr.ConstantRefs[i], err = pool.add(r); err != nil {
			return nil, err
		}
	}
	for _, ref := range fn.Operators {
		n := ref.NumSpecifiedArgs
		fr.Operators = append(fr.Operators, OperatorRecord{Name: ref.Name, Overload: ref.Overload, NumArgs: &n})
	}
	return fr, nil
}

func encodeRange(r vm.SourceRange) RangeRecord {
	return RangeRecord{Source: r.Source, Start: r.Start, End: r.End}
}

func encodeDebugEntry(h int64, e *vm.DebugEntry) DebugEntryRecord {
	r := DebugEntryRecord{Handle: h, Op: e.Op, Range: encodeRange(e.Range)}
	for _, c := range e.Calls {
		r.Calls = append(r.Calls, CallRecord{Node: c.Node, Method: c.Method, Range: encodeRange(c.Range)})
	}
	return r
}

func sortFunctions(fns []*FunctionRecord) {
	sort.Slice(fns, func(i, j int) bool { return fns[i].Name < fns[j].Name })
}
