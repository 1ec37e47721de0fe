package core

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

// Stage is one independently-managed long-running unit of rpkid: the
// validation loop, or the RTR server. The split mirrors a BGP pipeline's
// stage lifecycle, generalized from "one BGP pipe stage" to "one
// top-level daemon subsystem".
type Stage interface {
	// Attach validates configuration and wires up whatever the stage
	// needs before Prepare/Run are called. Runs once, synchronously,
	// before the engine starts any stage's Run.
	Attach() error

	// Prepare acquires the resources the stage needs (listeners, initial
	// cache warm-up, etc). If it returns nil, Run is called next.
	Prepare() error

	// Run runs the stage until StageBase.Ctx is done or a fatal error
	// occurs. Returning a non-ErrStopped error is fatal: it cancels the
	// whole engine.
	Run() error

	// Stop asks a running stage to wind down; Run should return shortly
	// after. Called once, either on shutdown or after Run returns (for
	// cleanup).
	Stop() error
}

// StageOptions describes a stage for logging/diagnostics purposes.
type StageOptions struct {
	Descr string         // one-line description of the stage
	Flags *pflag.FlagSet // CLI flags scoped to this stage
}

// StageBase is embedded by every concrete Stage implementation. It
// provides the logger, config, and lifecycle plumbing common to all
// stages, the same role a BGP pipeline's StageBase plays for its stages.
type StageBase struct {
	zerolog.Logger
	Stage

	started atomic.Bool
	stopped atomic.Bool
	running atomic.Bool
	done    chan struct{}

	Ctx    context.Context
	Cancel context.CancelCauseFunc

	E *Engine
	K *koanf.Koanf

	Name    string
	Options StageOptions
}

// newStage allocates a StageBase wired to e, under logical name.
func (e *Engine) newStage(name string) *StageBase {
	s := &StageBase{}
	s.Ctx, s.Cancel = context.WithCancelCause(e.Ctx)
	s.E = e
	s.K = koanf.New(".")
	s.Name = name
	s.Logger = e.Logger.With().Str("stage", name).Logger()
	s.done = make(chan struct{})
	s.Options.Flags = pflag.NewFlagSet(name, pflag.ContinueOnError)
	return s
}

// Running reports whether the stage is currently inside Run.
func (s *StageBase) Running() bool {
	return s.running.Load()
}

// Errorf wraps fmt.Errorf, prefixing the stage name for context.
func (s *StageBase) Errorf(format string, a ...any) error {
	return fmt.Errorf(s.Name+": "+format, a...)
}

// String returns the stage's logical name.
func (s *StageBase) String() string {
	return s.Name
}
