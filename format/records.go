package format

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/chazu/litert/archive"
	"github.com/chazu/litert/vm"
)

// Record names.
const (
	VersionRecord    = "version"
	ConstantsRecord  = "constants"
	HierarchyRecord  = "hierarchy"
	SourcesRecord    = "sources"
	AttributesRecord = "attributes"

	CodePrefix  = "code/"
	DebugPrefix = "debug/"
	ExtraPrefix = "extra/"
)

var (
	ErrMissingVersion  = fmt.Errorf("%w: missing version record", vm.ErrLoad)
	ErrMissingBytecode = fmt.Errorf("%w: no bytecode records", vm.ErrLoad)
	ErrMalformed       = fmt.Errorf("%w: malformed record", vm.ErrLoad)
)

// InstructionRecord is an explicit instruction (versions 4 to 7).
type InstructionRecord struct {
	Op string `cbor:"op"`
	X  int32  `cbor:"x"`
	N  int32  `cbor:"n"`
}

// OperatorRecord is an operator table entry. NumArgs is present from
// version 6 on.
type OperatorRecord struct {
	Name     string `cbor:"name"`
	Overload string `cbor:"overload,omitempty"`
	NumArgs  *int   `cbor:"nargs,omitempty"`
}

// FunctionRecord is the content of a code/<name> record.
type FunctionRecord struct {
	Name      string   `cbor:"name"`
	Arguments []string `cbor:"args,omitempty"`

	Instructions []InstructionRecord `cbor:"inst,omitempty"`   // versions 4-7
	Packed       []uint64            `cbor:"packed,omitempty"` // version 8

	Constants    []ValueRecord `cbor:"consts,omitempty"` // version 4
	ConstantRefs []int         `cbor:"crefs,omitempty"`  // version 5+, indices into the shared table

	Operators    []OperatorRecord `cbor:"ops,omitempty"`
	Types        []string         `cbor:"types,omitempty"`
	RegisterSize int              `cbor:"regs"`

	DebugHandles []int64 `cbor:"handles,omitempty"`
	DebugTop     string  `cbor:"top,omitempty"`
}

// RangeRecord is a source range on the wire.
type RangeRecord struct {
	Source int `cbor:"src"`
	Start  int `cbor:"start"`
	End    int `cbor:"end"`
}

// CallRecord is one call level of a debug entry.
type CallRecord struct {
	Node   int         `cbor:"node"`
	Method string      `cbor:"method"`
	Range  RangeRecord `cbor:"range"`
}

// DebugEntryRecord is one resolved debug handle.
type DebugEntryRecord struct {
	Handle int64        `cbor:"h"`
	Op     string       `cbor:"op,omitempty"`
	Range  RangeRecord  `cbor:"range"`
	Calls  []CallRecord `cbor:"calls,omitempty"`
}

// ModuleRecord is one node of the module hierarchy.
type ModuleRecord struct {
	Instance string `cbor:"inst"`
	Type     string `cbor:"type"`
	Parent   int    `cbor:"parent"`
}

// SourceRecord is a retained source text.
type SourceRecord struct {
	Filename  string `cbor:"file"`
	Text      string `cbor:"text"`
	StartLine int    `cbor:"line"`
}

// Records is the decoded record set of a model archive. Backport steps
// transform a Records value from one version to the previous one.
type Records struct {
	Version    int
	Functions  []*FunctionRecord // sorted by name
	Constants  []ValueRecord     // version 5+
	Debug      map[string][]DebugEntryRecord
	Hierarchy  []ModuleRecord
	Sources    []SourceRecord
	Attributes *ValueRecord
	Extra      map[string][]byte
}

// Function returns the function record with the given name.
func (rs *Records) Function(name string) (*FunctionRecord, bool) {
	for _, f := range rs.Functions {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// Version reads the bytecode version of an archive without decoding the
// rest of it.
func Version(r archive.Reader) (int, error) {
	data, err := r.ReadRecord(VersionRecord)
	if err != nil {
		if errors.Is(err, archive.ErrRecordNotFound) {
			return 0, ErrMissingVersion
		}
		return 0, fmt.Errorf("%w: %v", vm.ErrLoad, err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("%w: version %q", ErrMalformed, data)
	}
	return v, nil
}

// VersionFile reads the bytecode version of a model file.
func VersionFile(path string) (int, error) {
	zr, err := archive.OpenZipFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", vm.ErrLoad, err)
	}
	defer zr.Close()
	return Version(zr)
}

// ReadRecords decodes every record of an archive.
func ReadRecords(r archive.Reader) (*Records, error) {
	version, err := Version(r)
	if err != nil {
		return nil, err
	}
	rs := &Records{
		Version: version,
		Debug:   make(map[string][]DebugEntryRecord),
		Extra:   make(map[string][]byte),
	}

	for _, name := range archive.WithPrefix(r, CodePrefix) {
		fr := new(FunctionRecord)
		if err := readRecord(r, name, fr); err != nil {
			return nil, err
		}
		if fr.Name != strings.TrimPrefix(name, CodePrefix) {
			return nil, fmt.Errorf("%w: record %s holds function %q", ErrMalformed, name, fr.Name)
		}
		rs.Functions = append(rs.Functions, fr)
	}
	if len(rs.Functions) == 0 {
		return nil, ErrMissingBytecode
	}

	if r.HasRecord(ConstantsRecord) {
		if err := readRecord(r, ConstantsRecord, &rs.Constants); err != nil {
			return nil, err
		}
	}
	for _, name := range archive.WithPrefix(r, DebugPrefix) {
		var entries []DebugEntryRecord
		if err := readRecord(r, name, &entries); err != nil {
			return nil, err
		}
		rs.Debug[strings.TrimPrefix(name, DebugPrefix)] = entries
	}
	if r.HasRecord(HierarchyRecord) {
		if err := readRecord(r, HierarchyRecord, &rs.Hierarchy); err != nil {
			return nil, err
		}
	}
	if r.HasRecord(SourcesRecord) {
		if err := readRecord(r, SourcesRecord, &rs.Sources); err != nil {
			return nil, err
		}
	}
	if r.HasRecord(AttributesRecord) {
		rs.Attributes = new(ValueRecord)
		if err := readRecord(r, AttributesRecord, rs.Attributes); err != nil {
			return nil, err
		}
	}
	for _, name := range archive.WithPrefix(r, ExtraPrefix) {
		data, err := r.ReadRecord(name)
		if err != nil {
			return nil, err
		}
		rs.Extra[strings.TrimPrefix(name, ExtraPrefix)] = data
	}
	return rs, nil
}

func readRecord(r archive.Reader, name string, v any) error {
	data, err := r.ReadRecord(name)
	if err != nil {
		return fmt.Errorf("%w: %v", vm.ErrLoad, err)
	}
	return unmarshal(name, data, v)
}

// Write writes the record set to w. It does not close w.
func (rs *Records) Write(w archive.Writer) error {
	if err := w.WriteRecord(VersionRecord, []byte(strconv.Itoa(rs.Version))); err != nil {
		return err
	}
	put := func(name string, v any) error {
		data, err := marshal(v)
		if err != nil {
			return fmt.Errorf("format: encode %s: %w", name, err)
		}
		return w.WriteRecord(name, data)
	}
	for _, fr := range rs.Functions {
		if err := put(CodePrefix+fr.Name, fr); err != nil {
			return err
		}
	}
	if rs.Constants != nil {
		if err := put(ConstantsRecord, rs.Constants); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(rs.Debug) {
		if err := put(DebugPrefix+name, rs.Debug[name]); err != nil {
			return err
		}
	}
	if rs.Hierarchy != nil {
		if err := put(HierarchyRecord, rs.Hierarchy); err != nil {
			return err
		}
	}
	if rs.Sources != nil {
		if err := put(SourcesRecord, rs.Sources); err != nil {
			return err
		}
	}
	if rs.Attributes != nil {
		if err := put(AttributesRecord, rs.Attributes); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(rs.Extra) {
		if err := w.WriteRecord(ExtraPrefix+name, rs.Extra[name]); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy of the record set.
func (rs *Records) Clone() (*Records, error) {
	mem := archive.NewMemory()
	if err := rs.Write(mem); err != nil {
		return nil, err
	}
	return ReadRecords(mem)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
