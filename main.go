package main

import (
	"os"

	"github.com/rpkid/rpkid/core"
	"github.com/rpkid/rpkid/internal/diag"
	"github.com/rpkid/rpkid/internal/rtrstage"
	"github.com/rpkid/rpkid/internal/validate"
	"github.com/rpkid/rpkid/pkg/rtr"
)

// sessionSeed derives an RTR session id from the process id: simple,
// and good enough to vary across restarts on a long-running host
// without reading the wall clock in main().
func sessionSeed() int {
	return os.Getpid()
}

func main() {
	e := core.NewEngine()

	// session id is picked once at process start and never changes for
	// the process lifetime. Seeded from the PID rather than time.Now()
	// so a restarted process with the same PID namespace still gets a
	// plausible session-identity spread without a wall clock read here.
	store := rtr.NewStore(uint16(sessionSeed()), 64, false)

	validateStage := e.AddStage("validate", validate.New(store))
	diagStage := e.AddStage("diag", diag.New(store))
	e.AddStage("rtr", rtrstage.New(store))

	// wire the validate -> diag broadcast hook after both stages exist,
	// since validate.New only knows the Store at construction time.
	if vs, ok := validateStage.Stage.(*validate.Stage); ok {
		if ds, ok := diagStage.Stage.(*diag.Stage); ok {
			vs.OnPublish = func() { ds.Broadcast(e.Logger) }
		}
	}

	if err := e.Run(); err != nil {
		e.Fatal().Err(err).Msg("rpkid exited")
	}
}
