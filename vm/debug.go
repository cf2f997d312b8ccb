package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Module hierarchy
// ---------------------------------------------------------------------------

// ModuleInfo is one node of the module hierarchy: a submodule instance
// name, its type and the index of its parent (-1 for the root).
type ModuleInfo struct {
	Instance string
	Type     string
	Parent   int
}

// Hierarchy is an arena of module nodes. Node 0 is the root module.
type Hierarchy []ModuleInfo

// Label renders node i as "instance(Type)".
func (h Hierarchy) Label(i int) string {
	if i < 0 || i >= len(h) {
		return "<unknown>"
	}
	return h[i].Instance + "(" + shortType(h[i].Type) + ")"
}

// Path renders the labels from the root down to node i, joined with dots.
func (h Hierarchy) Path(i int) string {
	var labels []string
	for seen := 0; i >= 0 && i < len(h) && seen <= len(h); seen++ {
		labels = append(labels, h.Label(i))
		i = h[i].Parent
	}
	for l, r := 0, len(labels)-1; l < r; l, r = l+1, r-1 {
		labels[l], labels[r] = labels[r], labels[l]
	}
	return strings.Join(labels, ".")
}

// Find returns the node with the given parent and instance name.
func (h Hierarchy) Find(parent int, instance string) (int, bool) {
	for i, m := range h {
		if m.Parent == parent && m.Instance == instance {
			return i, true
		}
	}
	return -1, false
}

// resolve maps a call site's node onto the instance with the same name
// under parent. Debug entries of a function shared by several instances
// name the nodes of one of them; the caller's node picks the right one.
func (h Hierarchy) resolve(parent, node int) int {
	if node < 0 || node >= len(h) || h[node].Parent == parent {
		return node
	}
	if i, ok := h.Find(parent, h[node].Instance); ok {
		return i
	}
	return node
}

// shortType drops the qualification from a type name: "__torch__.A" -> "A".
func shortType(t string) string {
	if i := strings.LastIndexByte(t, '.'); i >= 0 {
		return t[i+1:]
	}
	return t
}

// ---------------------------------------------------------------------------
// Sources and debug entries
// ---------------------------------------------------------------------------

// Source is a source text retained for diagnostics.
type Source struct {
	Filename  string
	Text      string
	StartLine int // line number of the first line of Text
}

// SourceRange is a byte range within one of the module's sources.
type SourceRange struct {
	Source int // index into Module.Sources, -1 = none
	Start  int
	End    int
}

// NoRange is a range that points at nothing.
var NoRange = SourceRange{Source: -1}

// Valid reports whether r refers to a source.
func (r SourceRange) Valid() bool { return r.Source >= 0 }

// CallSite is one level of the call chain recorded for an instruction:
// the hierarchy node being called into, the method called on it, and the
// range of the call expression in the caller.
type CallSite struct {
	Node   int
	Method string
	Range  SourceRange
}

// DebugEntry is what a debug handle resolves to. Calls lists the call
// chain from the function's own method inwards (including calls inlined
// by the exporter). Op is the operator that ran, or empty for a CALL
// instruction, whose callee is the last element of Calls.
type DebugEntry struct {
	Op    string
	Range SourceRange
	Calls []CallSite
}

// DebugTable maps debug handles to entries.
type DebugTable map[int64]*DebugEntry

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

func topMethod(fn *Function) string {
	if fn.DebugTop != "" {
		return fn.DebugTop
	}
	return "<unknown>"
}

// debugString renders "top(T)::<m>.inst(T)::method...op" for an entry.
func debugString(h Hierarchy, fn *Function, e *DebugEntry) string {
	var b strings.Builder
	b.WriteString(h.Label(0))
	b.WriteString("::")
	b.WriteString(topMethod(fn))
	for _, c := range e.Calls {
		b.WriteByte('.')
		b.WriteString(h.Label(c.Node))
		b.WriteString("::")
		b.WriteString(c.Method)
	}
	if e.Op != "" {
		b.WriteByte('.')
		b.WriteString(e.Op)
	}
	return b.String()
}

// rawHandle is returned when a handle exists but its entry was not kept.
func rawHandle(h int64) string {
	return fmt.Sprintf("<debug_handle:%d>", h)
}

// IsRawHandle reports whether a debug string carries only a raw handle.
func IsRawHandle(s string) bool {
	return strings.Contains(s, "debug_handle")
}

// lineAt returns the 1-based line (offset by StartLine) and the start and
// end byte offsets of the line containing off.
func (s *Source) lineAt(off int) (line, start, end int) {
	if off > len(s.Text) {
		off = len(s.Text)
	}
	if off < 0 {
		off = 0
	}
	start = strings.LastIndexByte(s.Text[:off], '\n') + 1
	end = len(s.Text)
	if i := strings.IndexByte(s.Text[off:], '\n'); i >= 0 {
		end = off + i
	}
	line = s.StartLine + strings.Count(s.Text[:start], "\n")
	return line, start, end
}

// excerpt renders the previous line, the offending line and a marker line
// under the range.
func (s *Source) excerpt(r SourceRange) string {
	start := max(r.Start, 0)
	line, ls, le := s.lineAt(start)
	start = min(start, le)
	var b strings.Builder
	if line > s.StartLine && ls > 0 {
		_, ps, pe := s.lineAt(ls - 1)
		b.WriteString(s.Text[ps:pe])
		b.WriteByte('\n')
	}
	b.WriteString(s.Text[ls:le])
	b.WriteByte('\n')
	end := min(r.End, le)
	width := max(end-start, 1)
	b.WriteString(strings.Repeat(" ", start-ls))
	b.WriteString(strings.Repeat("~", width))
	b.WriteString(" <--- HERE")
	return b.String()
}
