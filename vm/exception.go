package vm

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	ErrLoad               = errors.New("model load failed")
	ErrMethodNotFound     = errors.New("method not found")
	ErrOperatorNotFound   = errors.New("operator not found")
	ErrArityMismatch      = errors.New("operator arity mismatch")
	ErrDebugInfoExhausted = errors.New("debug info exhausted")
	ErrCallDepth          = errors.New("maximum call depth exceeded")
)

// TraceFrame is one block of an execution traceback.
type TraceFrame struct {
	Method    string // unqualified method name, or "<unknown>"
	Hierarchy string // module path of the method's owner, e.g. "top(B).A0(A)"
	File      string
	Line      int
	Excerpt   string // context line, offending line and marker line
}

// ExecutionError is returned when a method invocation fails. Frames are
// ordered innermost first.
type ExecutionError struct {
	Err       error
	Function  string // qualified name of the innermost executing function
	PC        int
	Hierarchy string // debug string at the failure point; empty without debug info
	Frames    []TraceFrame
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func (e *ExecutionError) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	if e.Hierarchy != "" {
		b.WriteString("\n  Module hierarchy:")
		b.WriteString(e.Hierarchy)
	}
	if len(e.Frames) == 0 {
		return b.String()
	}
	b.WriteString("\nTraceback (most recent call first):")
	for _, f := range e.Frames {
		if f.File == "" {
			fmt.Fprintf(&b, "\n  File \"<unknown>\", in %s", f.Method)
			continue
		}
		fmt.Fprintf(&b, "\n  File \"%s\", line %d, in %s\n", f.File, f.Line, f.Method)
		for _, l := range strings.Split(f.Excerpt, "\n") {
			b.WriteString("\n    ")
			b.WriteString(l)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Trace construction
// ---------------------------------------------------------------------------

type traceSegment struct {
	method string
	node   int
	rng    SourceRange
}

// buildTrace walks the frame chain from the outermost frame inwards and
// expands each frame's debug entry into one segment per call level.
func (m *Module) buildTrace(inner *CallFrame) (string, []TraceFrame) {
	var chain []*CallFrame
	for f := inner; f != nil; f = f.caller {
		chain = append(chain, f)
	}

	var (
		segs      []traceSegment
		hier      strings.Builder
		hasDebug  bool
		curMethod = topMethod(chain[len(chain)-1].fn)
		curNode   = 0
	)
	hier.WriteString(m.Hierarchy.Label(0))
	hier.WriteString("::")
	hier.WriteString(curMethod)

	for i := len(chain) - 1; i >= 0; i-- {
		f := chain[i]
		innermost := i == 0
		var e *DebugEntry
		if h := f.fn.DebugHandle(f.pc); h >= 0 {
			e = m.Debug[h]
		}
		if e == nil {
			segs = append(segs, traceSegment{method: curMethod, node: curNode, rng: NoRange})
			if !innermost {
				curMethod = chain[i-1].fn.MethodName()
			}
			continue
		}
		hasDebug = true
		for _, c := range e.Calls {
			segs = append(segs, traceSegment{method: curMethod, node: curNode, rng: c.Range})
			node := m.Hierarchy.resolve(curNode, c.Node)
			fmt.Fprintf(&hier, ".%s::%s", m.Hierarchy.Label(node), c.Method)
			curMethod, curNode = c.Method, node
		}
		if e.Op != "" {
			hier.WriteByte('.')
			hier.WriteString(e.Op)
		}
		if e.Op != "" || innermost {
			segs = append(segs, traceSegment{method: curMethod, node: curNode, rng: e.Range})
		}
	}

	frames := make([]TraceFrame, 0, len(segs))
	for i := len(segs) - 1; i >= 0; i-- {
		s := segs[i]
		tf := TraceFrame{Method: s.method, Hierarchy: m.Hierarchy.Path(s.node)}
		if s.rng.Valid() && s.rng.Source < len(m.Sources) {
			src := &m.Sources[s.rng.Source]
			tf.File = src.Filename
			tf.Line, _, _ = src.lineAt(s.rng.Start)
			tf.Excerpt = src.excerpt(s.rng)
		}
		frames = append(frames, tf)
	}
	if !hasDebug {
		return "", frames
	}
	return hier.String(), frames
}
