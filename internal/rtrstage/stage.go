// Package rtrstage wires pkg/rtr.Server into the core.Stage lifecycle,
// grounded on stages/listen.go's Attach (parse --addr)/Prepare (bind
// the listener)/Run (serve) split, generalized from "accept one BGP
// connection" to "serve RTR sessions forever".
package rtrstage

import (
	"github.com/rpkid/rpkid/core"
	"github.com/rpkid/rpkid/pkg/rtr"
)

type Stage struct {
	*core.StageBase

	Store *rtr.Store

	srv *rtr.Server
}

func New(store *rtr.Store) func(*core.StageBase) core.Stage {
	return func(base *core.StageBase) core.Stage {
		return &Stage{StageBase: base, Store: store}
	}
}

func (s *Stage) Attach() error {
	k := s.E.K
	s.srv = &rtr.Server{
		Addr:    k.String("rtr-listen"),
		Store:   s.Store,
		Version: 1,
		Intervals: rtr.EndOfDataIntervals{
			Refresh: uint32(k.Duration("rtr-refresh").Seconds()),
			Retry:   uint32(k.Duration("rtr-retry").Seconds()),
			Expire:  uint32(k.Duration("rtr-expire").Seconds()),
		},
		Log:         s.Logger,
		MD5Password: k.String("rtr-md5"),
		Backlog:     k.Int("rtr-backlog"),
	}
	s.Store.ComputeDeltas = k.Bool("rtr-compute-deltas")
	return nil
}

func (s *Stage) Prepare() error { return nil }

func (s *Stage) Run() error {
	err := s.srv.ListenAndServe(s.Ctx)
	if err != nil {
		return s.Errorf("%w", err)
	}
	return core.ErrStopped
}

func (s *Stage) Stop() error { return nil }
