// Package archive provides the named-record containers models are stored
// in. Record contents are opaque here; the format package gives them
// meaning.
package archive

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrRecordNotFound is returned when a named record is absent.
var ErrRecordNotFound = errors.New("record not found")

// Reader gives read access to a set of named records.
type Reader interface {
	// Records returns the record names, sorted.
	Records() []string
	ReadRecord(name string) ([]byte, error)
	HasRecord(name string) bool
}

// Writer accepts named records. Close finishes the container.
type Writer interface {
	WriteRecord(name string, data []byte) error
	Close() error
}

// Memory is an in-memory container; it implements both Reader and Writer.
type Memory struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemory creates an empty in-memory container.
func NewMemory() *Memory {
	return &Memory{records: make(map[string][]byte)}
}

func (m *Memory) Records() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.records))
	for n := range m.records {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (m *Memory) ReadRecord(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.records[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, name)
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) HasRecord(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[name]
	return ok
}

func (m *Memory) WriteRecord(name string, data []byte) error {
	if name == "" || strings.HasPrefix(name, "/") {
		return fmt.Errorf("invalid record name %q", name)
	}
	m.mu.Lock()
	m.records[name] = append([]byte(nil), data...)
	m.mu.Unlock()
	return nil
}

// Delete removes a record.
func (m *Memory) Delete(name string) {
	m.mu.Lock()
	delete(m.records, name)
	m.mu.Unlock()
}

func (m *Memory) Close() error { return nil }

// Copy writes every record of r to w, without closing w.
func Copy(w Writer, r Reader) error {
	for _, name := range r.Records() {
		data, err := r.ReadRecord(name)
		if err != nil {
			return err
		}
		if err := w.WriteRecord(name, data); err != nil {
			return err
		}
	}
	return nil
}

// ReadAll loads every record of r into memory.
func ReadAll(r Reader) (*Memory, error) {
	m := NewMemory()
	if err := Copy(m, r); err != nil {
		return nil, err
	}
	return m, nil
}

// WithPrefix returns the names of r's records under prefix.
func WithPrefix(r Reader, prefix string) []string {
	var out []string
	for _, name := range r.Records() {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	return out
}
