// Package manifest handles litert.toml runtime configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/litert/vm"
)

// FileName is the name of the configuration file.
const FileName = "litert.toml"

// Manifest represents a litert.toml configuration.
type Manifest struct {
	Runtime  RuntimeConfig  `toml:"runtime"`
	Backport BackportConfig `toml:"backport"`
	Model    ModelConfig    `toml:"model"`

	// Dir is the directory containing the litert.toml file (set at load time).
	// Empty for Default().
	Dir string `toml:"-"`
}

// RuntimeConfig configures the interpreter.
type RuntimeConfig struct {
	MaxCallDepth int `toml:"max-call-depth"`
	// LogVerbosity is passed to commonlog.Configure; 0 logs errors and
	// warnings only.
	LogVerbosity int `toml:"log-verbosity"`
}

// BackportConfig configures the backport command.
type BackportConfig struct {
	Target int  `toml:"target"`
	Verify bool `toml:"verify"`
}

// ModelConfig configures how models are loaded and run.
type ModelConfig struct {
	Method     string   `toml:"method"`
	ExtraFiles []string `toml:"extra-files"`
}

// Default returns the configuration used when no litert.toml exists.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Runtime.MaxCallDepth <= 0 {
		m.Runtime.MaxCallDepth = vm.DefaultMaxCallDepth
	}
	if m.Backport.Target == 0 {
		m.Backport.Target = vm.MinSupportedBytecodeVersion
	}
	if m.Model.Method == "" {
		m.Model.Method = "forward"
	}
}

// Load parses a litert.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	if m.Runtime.LogVerbosity < 0 {
		return nil, fmt.Errorf("%s: log-verbosity must not be negative", path)
	}
	m.applyDefaults()
	return &m, nil
}

// FindAndLoad walks up from startDir to find a litert.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Apply copies the runtime settings onto rt.
func (m *Manifest) Apply(rt *vm.Runtime) {
	rt.MaxCallDepth = m.Runtime.MaxCallDepth
}

// ExtraFiles returns the requested side files as an empty map ready to be
// passed to format.WithExtraFiles.
func (m *Manifest) ExtraFiles() map[string]string {
	out := make(map[string]string, len(m.Model.ExtraFiles))
	for _, name := range m.Model.ExtraFiles {
		out[name] = ""
	}
	return out
}
