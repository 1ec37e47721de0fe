package core

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

// --- dummy stage for testing ---

type dummyStage struct {
	*StageBase
	prepareFn func() error
	runFn     func() error
	stopFn    func() error
}

func (d *dummyStage) Attach() error { return nil }

func (d *dummyStage) Prepare() error {
	if d.prepareFn != nil {
		return d.prepareFn()
	}
	return nil
}

func (d *dummyStage) Run() error {
	if d.runFn != nil {
		return d.runFn()
	}
	<-d.Ctx.Done()
	return context.Cause(d.Ctx)
}

func (d *dummyStage) Stop() error {
	if d.stopFn != nil {
		return d.stopFn()
	}
	return nil
}

func newTestEngine() *Engine {
	// Run parses os.Args with an ExitOnError flag set; drop go test's
	// own -test.* arguments so that parse doesn't exit the test binary.
	os.Args = os.Args[:1]
	e := NewEngine()
	e.Logger = e.Logger.Level(100) // silence
	return e
}

func TestEngineRunsAndStopsCleanly(t *testing.T) {
	e := newTestEngine()

	var ran bool
	e.AddStage("dummy", func(base *StageBase) Stage {
		d := &dummyStage{StageBase: base}
		d.runFn = func() error {
			ran = true
			return ErrStopped
		}
		return d
	})

	// Run() blocks on Ctx.Done(); the dummy stage returning ErrStopped is
	// not fatal, so drive the engine's own shutdown after a beat.
	go func() {
		time.Sleep(20 * time.Millisecond)
		e.Shutdown()
	}()

	if err := e.Run(); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}
	if !ran {
		t.Fatal("stage Run() was never called")
	}
}

func TestEngineCancelsOnFatalStageError(t *testing.T) {
	e := newTestEngine()

	boom := errors.New("boom")
	e.AddStage("dummy", func(base *StageBase) Stage {
		d := &dummyStage{StageBase: base}
		d.runFn = func() error { return boom }
		return d
	})

	err := e.Run()
	if err == nil {
		t.Fatal("Run() = nil, want a fatal error")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("Run() = %v, want wrapping %v", err, boom)
	}
}

func TestEngineAttachErrorStopsBeforeRun(t *testing.T) {
	e := newTestEngine()

	attachErr := errors.New("bad config")
	var ranRun bool
	e.AddStage("dummy", func(base *StageBase) Stage {
		d := &dummyStage{StageBase: base}
		d.runFn = func() error { ranRun = true; return nil }
		return d
	})
	e.Stages[0].Stage = &attachFailStage{dummyStage: e.Stages[0].Stage.(*dummyStage), err: attachErr}

	if err := e.Run(); !errors.Is(err, attachErr) {
		t.Fatalf("Run() = %v, want wrapping %v", err, attachErr)
	}
	if ranRun {
		t.Fatal("Run() must not be called after a failed Attach()")
	}
}

type attachFailStage struct {
	*dummyStage
	err error
}

func (s *attachFailStage) Attach() error { return s.err }
