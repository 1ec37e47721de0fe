package core

import (
	"context"
	"errors"
	"time"
)

// runStart runs Stage.Prepare synchronously, then starts Stage.Run in the
// background. A fatal error from either cancels the whole engine.
func (s *StageBase) runStart() {
	if s.started.Swap(true) || s.stopped.Load() {
		return // already started or stopped
	}
	s.Debug().Msg("starting")

	checkFatal := func(err error) bool {
		if err == nil {
			err = context.Cause(s.Ctx)
			if errors.Is(err, context.Canceled) {
				err = nil
			}
		}
		if err == nil || errors.Is(err, ErrStopped) {
			return false
		}
		s.E.Cancel(s.Errorf("%w", err)) // game over
		return true
	}

	s.Trace().Msg("Prepare()")
	err := s.Stage.Prepare()
	s.Trace().Err(err).Msg("Prepare() done")
	if checkFatal(err) {
		return
	}

	s.running.Store(true)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.E.Cancel(s.Errorf("panic: %v", r)) // game over
			}
		}()

		var err error
		if context.Cause(s.Ctx) == nil {
			s.Trace().Msg("Run() starting")
			err = s.Stage.Run()
			s.Trace().Err(err).Msg("Run() returned")
		}

		s.running.Store(false)
		close(s.done)

		if checkFatal(err) {
			return // the whole process will exit
		}
		s.runStop()
	}()
}

// runStop asks a running stage to stop and waits (briefly) for it.
func (s *StageBase) runStop() {
	if s.stopped.Swap(true) {
		return // already stopped
	}
	s.Debug().Msg("stopping")

	err := ErrStopped
	if errStop := s.Stage.Stop(); errStop != nil {
		err = errStop
	}
	if s.running.Load() {
		select {
		case <-s.done:
		case <-time.After(time.Second):
		}
	}

	s.Cancel(err)
	s.running.Store(false)
}
