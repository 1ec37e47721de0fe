// Package diag exposes rpkid's diagnostics HTTP surface: Prometheus
// metrics, a JSON status snapshot, and a websocket stream of VRP
// changes, as a stage wired into core.Engine.
//
// The websocket upgrade/broadcast shape is grounded on
// stages/websocket.go's serverHandle; the router itself uses
// go-chi/chi/v5, a dependency carried in go.mod but never exercised
// from the BGP stage code it was pulled in alongside — wiring it here
// gives it an actual home rather than leaving it a dead
// declared-but-unused dep.
// The client registry uses puzpuzpuz/xsync's generic Map, the same
// sharded-lock concurrent map stages/limit.go keeps its per-session
// state in, generalized here from "NLRI -> limitPrefix" to
// "*websocket.Conn -> struct{}".
package diag

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"

	"github.com/rpkid/rpkid/core"
	"github.com/rpkid/rpkid/pkg/rtr"
)

// Stage serves /metrics, /status, and /stream on Engine's
// --metrics-listen address. It is a no-op stage when that flag is
// empty.
type Stage struct {
	*core.StageBase

	Store *rtr.Store

	addr string
	srv  *http.Server

	clients *xsync.Map[*websocket.Conn, struct{}]
}

func New(store *rtr.Store) func(*core.StageBase) core.Stage {
	return func(base *core.StageBase) core.Stage {
		return &Stage{StageBase: base, Store: store, clients: xsync.NewMap[*websocket.Conn, struct{}]()}
	}
}

func (s *Stage) Attach() error {
	s.addr = s.E.K.String("metrics-listen")
	return nil
}

func (s *Stage) Prepare() error { return nil }

func (s *Stage) Run() error {
	if s.addr == "" {
		<-s.Ctx.Done()
		return core.ErrStopped
	}

	r := chi.NewRouter()
	r.Get("/metrics", s.handleMetrics)
	r.Get("/status", s.handleStatus)
	r.Get("/stream", s.handleStream)

	s.srv = &http.Server{Addr: s.addr, Handler: r}
	s.Info().Str("addr", s.addr).Msg("diag: listening")

	errc := make(chan error, 1)
	go func() { errc <- s.srv.ListenAndServe() }()

	select {
	case <-s.Ctx.Done():
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(ctx)
		return core.ErrStopped
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			return s.Errorf("%w", err)
		}
		return core.ErrStopped
	}
}

func (s *Stage) Stop() error {
	if s.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(ctx)
	}
	return nil
}

func (s *Stage) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.E.Metrics.Set().WritePrometheus(w)
}

type statusResponse struct {
	SessionID     uint16 `json:"session_id"`
	CurrentSerial uint32 `json:"current_serial"`
	VRPCount      int    `json:"vrp_count"`
	HasPublished  bool   `json:"has_published"`
}

func (s *Stage) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		SessionID:     s.Store.SessionID(),
		CurrentSerial: s.Store.CurrentSerial(),
		HasPublished:  s.Store.HasPublished(),
	}
	if snap := s.Store.Snapshot(); snap != nil {
		resp.VRPCount = snap.Len()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

var upgrader = websocket.Upgrader{HandshakeTimeout: 10 * time.Second}

// handleStream upgrades to a websocket and pushes the status snapshot
// once on connect; after that the client gets a {"event":"published"}
// message on every Broadcast call, until it disconnects.
func (s *Stage) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Warn().Err(err).Msg("diag: websocket upgrade failed")
		return
	}
	defer conn.Close()

	s.clients.Store(conn, struct{}{})
	defer s.clients.Delete(conn)

	s.pushStatus(conn)

	// drain inbound frames until the peer closes; clients aren't
	// expected to send anything meaningful.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Stage) pushStatus(conn *websocket.Conn) {
	resp := statusResponse{
		SessionID:     s.Store.SessionID(),
		CurrentSerial: s.Store.CurrentSerial(),
		HasPublished:  s.Store.HasPublished(),
	}
	if snap := s.Store.Snapshot(); snap != nil {
		resp.VRPCount = snap.Len()
	}
	conn.WriteJSON(resp)
}

// Broadcast notifies every connected stream client that the store was
// republished. Safe to call from the validation stage's goroutine.
func (s *Stage) Broadcast(log zerolog.Logger) {
	s.clients.Range(func(conn *websocket.Conn, _ struct{}) bool {
		if err := conn.WriteJSON(struct {
			Event string `json:"event"`
		}{Event: "published"}); err != nil {
			log.Debug().Err(err).Msg("diag: broadcast failed, dropping client")
			conn.Close()
			s.clients.Delete(conn)
		}
		return true
	})
}
