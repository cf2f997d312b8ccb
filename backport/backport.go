// Package backport rewrites model archives produced at the current
// bytecode version into older versions, one version at a time, so they
// can run on runtimes that predate the newer format.
package backport

import (
	"errors"
	"fmt"

	"github.com/chazu/litert/archive"
	"github.com/chazu/litert/format"
	"github.com/chazu/litert/kernels"
	"github.com/chazu/litert/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("litert.backport")

var (
	// ErrBackportRange is returned for targets below the oldest version
	// this runtime can produce, or for inputs it cannot read.
	ErrBackportRange = errors.New("backport target out of range")
	// ErrNoDowngrade is returned when the target is not older than the input.
	ErrNoDowngrade = errors.New("backport target is not older than the model")
	// ErrStepVerification is returned when an intermediate result fails to
	// load or to pass the verify hook.
	ErrStepVerification = errors.New("backport step verification failed")
)

// Step lowers a record set by exactly one version, in place.
type Step func(rs *format.Records, reg *vm.Registry) error

// VerifyFunc is called with every intermediate module after it loads.
type VerifyFunc func(from, to int, m *vm.Module) error

// Manager holds the step table and the runtime intermediates are
// verified against.
type Manager struct {
	steps  map[int]Step
	rt     *vm.Runtime
	verify VerifyFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithVerify runs f on every intermediate module.
func WithVerify(f VerifyFunc) Option {
	return func(m *Manager) { m.verify = f }
}

// WithStep replaces or adds the step that lowers from.
func WithStep(from int, s Step) Option {
	return func(m *Manager) { m.steps[from] = s }
}

// NewManager creates a manager with the built-in steps. A nil runtime
// uses the built-in kernels.
func NewManager(rt *vm.Runtime, opts ...Option) *Manager {
	if rt == nil {
		rt = vm.NewRuntime(kernels.Default())
	}
	m := &Manager{steps: defaultSteps(), rt: rt}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Backport writes in, lowered to target, to out. out is not closed.
func (mgr *Manager) Backport(in archive.Reader, out archive.Writer, target int) error {
	current, err := format.Version(in)
	if err != nil {
		return err
	}
	if target < vm.MinSupportedBytecodeVersion {
		return fmt.Errorf("%w: target %d is below the minimum version %d", ErrBackportRange, target, vm.MinSupportedBytecodeVersion)
	}
	if current > vm.MaxSupportedBytecodeVersion {
		return fmt.Errorf("%w: model version %d is newer than this runtime (%d)", ErrBackportRange, current, vm.MaxSupportedBytecodeVersion)
	}
	if target >= current {
		return fmt.Errorf("%w: model is version %d, target %d", ErrNoDowngrade, current, target)
	}

	rs, err := format.ReadRecords(in)
	if err != nil {
		return err
	}
	for v := current; v > target; v-- {
		if rs, err = mgr.step(rs, v); err != nil {
			return err
		}
	}
	return rs.Write(out)
}

// step lowers rs from version v to v-1 on a copy, round-trips the copy
// through a fresh zip container and verifies it loads.
func (mgr *Manager) step(rs *format.Records, v int) (*format.Records, error) {
	s, ok := mgr.steps[v]
	if !ok {
		return nil, fmt.Errorf("%w: no step from version %d", ErrBackportRange, v)
	}
	next, err := rs.Clone()
	if err != nil {
		return nil, err
	}
	if err := s(next, mgr.rt.Operators); err != nil {
		return nil, fmt.Errorf("backport %d -> %d: %w", v, v-1, err)
	}
	next.Version = v - 1

	mem := archive.NewMemory()
	if err := next.Write(mem); err != nil {
		return nil, err
	}
	data, err := archive.ZipBytes(mem)
	if err != nil {
		return nil, err
	}
	zr, err := archive.OpenZip(data)
	if err != nil {
		return nil, err
	}
	m, err := format.Load(zr, mgr.rt)
	if err != nil {
		return nil, fmt.Errorf("%w: version %d: %w", ErrStepVerification, v-1, err)
	}
	if mgr.verify != nil {
		if err := mgr.verify(v, v-1, m); err != nil {
			return nil, fmt.Errorf("%w: version %d: %w", ErrStepVerification, v-1, err)
		}
	}
	log.Infof("backported %s from version %d to %d (%d bytes)", m.Name, v, v-1, len(data))
	return format.ReadRecords(zr)
}

// Backport lowers in to target with the built-in kernels and reports
// whether it succeeded. On failure nothing is written to out.
func Backport(in archive.Reader, out archive.Writer, target int) bool {
	mgr := NewManager(nil)
	mem := archive.NewMemory()
	if err := mgr.Backport(in, mem, target); err != nil {
		log.Errorf("backport to version %d failed: %s", target, err)
		return false
	}
	if err := archive.Copy(out, mem); err != nil {
		log.Errorf("backport to version %d failed: %s", target, err)
		return false
	}
	return true
}
