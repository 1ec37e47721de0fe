// Package core implements the rpkid process lifecycle: configuration,
// logging, metrics, and the two long-running stages (validation loop,
// RTR server) that every other package plugs into.
package core

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

// Engine owns process lifetime: config, logger, metrics, and the set of
// stages it runs to completion (or forever, until cancelled).
type Engine struct {
	zerolog.Logger

	Ctx    context.Context
	Cancel context.CancelCauseFunc

	F *pflag.FlagSet // global CLI flags
	K *koanf.Koanf   // global config, merged CLI+file

	Stages []*StageBase

	Metrics *Metrics
}

// NewEngine creates an Engine with sane defaults: console logging to
// stderr, an empty global config, and the standard CLI flag set.
func NewEngine() *Engine {
	e := new(Engine)
	e.Ctx, e.Cancel = context.WithCancelCause(context.Background())

	e.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.DateTime,
	})

	e.K = koanf.New(".")
	e.F = pflag.NewFlagSet("rpkid", pflag.ExitOnError)
	e.addFlags()

	e.Metrics = NewMetrics()

	return e
}

// AddStage creates and registers a new stage under the given logical
// name. impl is attached to the new StageBase before Attach/Prepare/Run.
func (e *Engine) AddStage(name string, impl func(*StageBase) Stage) *StageBase {
	s := e.newStage(name)
	s.Stage = impl(s)
	e.Stages = append(e.Stages, s)
	return s
}

// Run configures the engine, attaches every stage, then runs them all to
// completion (or until one fails fatally / the process is signalled).
func (e *Engine) Run() error {
	if err := e.Configure(); err != nil {
		e.Error().Err(err).Msg("configuration error")
		return err
	}

	for _, s := range e.Stages {
		if err := s.Stage.Attach(); err != nil {
			err = s.Errorf("attach: %w", err)
			e.Error().Err(err).Msg("could not attach stage")
			return err
		}
	}

	for _, s := range e.Stages {
		s.runStart()
	}

	<-e.Ctx.Done()
	err := context.Cause(e.Ctx)

	for _, s := range e.Stages {
		s.runStop()
	}

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, ErrShutdown):
		e.Info().Msg(err.Error())
		return nil
	default:
		e.Error().Err(err).Msg("engine stopped")
		return err
	}
}

// Shutdown requests a graceful stop of every stage.
func (e *Engine) Shutdown() {
	e.Cancel(ErrShutdown)
}
