package rtr

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rpkid/rpkid/pkg/rpkierr"
)

// Server is the RTR TCP listener: it owns one goroutine per accepted
// connection, each running an independent Handler against the shared
// Store, grounded on the Listen stage's accept/serve split
// (stages/listen.go's Prepare/Run) generalized from "accept exactly
// one connection" to "accept and serve forever, one session per
// connection" — the shape RTR's many-router topology requires.
type Server struct {
	Addr      string
	Store     *Store
	Version   uint8
	Intervals EndOfDataIntervals
	Log       zerolog.Logger

	// MD5Password, when non-empty, installs a TCP MD5 signature option
	// on the listening socket via the platform-specific tcpMD5/setTCPMD5
	// hook (golang.org/x/sys/unix on Linux), matching
	// stages/util_linux.go's TCP_MD5SIG_EXT sockopt.
	MD5Password string

	// KeepAlive matches stages/listen.go's net.ListenConfig.KeepAlive
	// default of 15s; zero disables the explicit override. Only honored
	// on the Backlog<=0 path: the raw-socket path does not yet set
	// SO_KEEPALIVE.
	KeepAlive time.Duration

	// Backlog sets the TCP accept queue depth. A positive value routes
	// through listenBacklog's raw socket instead of net.ListenConfig,
	// which has no portable way to size the kernel backlog below
	// somaxconn.
	Backlog int

	mu       sync.Mutex
	sessions map[net.Conn]struct{}
}

// ListenAndServe binds Addr and serves connections until ctx is
// canceled or a fatal listener error occurs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.listen(ctx)
	if err != nil {
		return rpkierr.Internalf("rtr.Server.ListenAndServe", "listen %s: %w", s.Addr, err)
	}
	defer ln.Close()

	s.Log.Info().Str("addr", ln.Addr().String()).Msg("rtr: listening")

	go func() {
		<-ctx.Done()
		ln.Close()
		// close open sessions too, so a serve blocked on a read returns
		s.mu.Lock()
		for c := range s.sessions {
			c.Close()
		}
		s.mu.Unlock()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return rpkierr.Internalf("rtr.Server.ListenAndServe", "accept: %w", err)
		}

		s.track(conn)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.untrack(conn)
			defer conn.Close()
			s.serve(ctx, conn)
		}()
	}
}

// listen chooses the raw-socket backlog-sized listener when Backlog is
// set, otherwise the plain net.ListenConfig path (which still honors
// MD5Password and KeepAlive through tcpMD5/lc.KeepAlive).
func (s *Server) listen(ctx context.Context) (net.Listener, error) {
	if s.Backlog > 0 {
		return listenBacklog(s.Addr, s.Backlog, s.MD5Password)
	}

	var lc net.ListenConfig
	if s.MD5Password != "" {
		lc.Control = tcpMD5(s.MD5Password)
	}
	if s.KeepAlive != 0 {
		lc.KeepAlive = s.KeepAlive
	}
	return lc.Listen(ctx, "tcp", s.Addr)
}

func (s *Server) track(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		s.sessions = map[net.Conn]struct{}{}
	}
	s.sessions[c] = struct{}{}
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, c)
}

// SessionCount reports the number of currently connected routers.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// serve runs the PDU read/dispatch/write loop for a single connection
// until the peer disconnects, a fatal PDU is handled, or ctx is
// canceled.
func (s *Server) serve(ctx context.Context, conn net.Conn) {
	log := s.Log.With().Str("peer", conn.RemoteAddr().String()).Logger()
	log.Info().Msg("rtr: session opened")

	h := &Handler{Store: s.Store, Version: s.Version, Intervals: s.Intervals}
	sender := &Sender{Write: conn.Write}
	r := bufio.NewReader(conn)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("rtr: session closed (server shutting down)")
			return
		default:
		}

		header := make([]byte, headerLen)
		if _, err := io.ReadFull(r, header); err != nil {
			if err != io.EOF {
				log.Debug().Err(err).Msg("rtr: read header failed")
			}
			return
		}

		length, err := PDULength(header)
		if err != nil || length < headerLen {
			log.Warn().Err(err).Msg("rtr: invalid PDU length")
			return
		}

		pdu := make([]byte, length)
		copy(pdu, header)
		if length > headerLen {
			if _, err := io.ReadFull(r, pdu[headerLen:]); err != nil {
				log.Debug().Err(err).Msg("rtr: read body failed")
				return
			}
		}

		hdr, _ := DecodeHeader(pdu)
		resp, closeAfter := s.dispatch(h, hdr, pdu)
		if err := sender.Send(resp); err != nil {
			log.Debug().Err(err).Msg("rtr: write failed")
			return
		}
		if closeAfter || resp.Verdict == Close {
			log.Info().Msg("rtr: session closed")
			return
		}
	}
}

func (s *Server) dispatch(h *Handler, hdr Header, pdu []byte) (Response, bool) {
	switch hdr.Type {
	case TypeSerialQuery:
		q, err := DecodeSerialQuery(pdu)
		if err != nil {
			return Response{PDUs: [][]byte{EncodeErrorReport(h.Version, ErrCorruptData, pdu, err.Error())}, Verdict: Close}, true
		}
		return h.HandleSerialQuery(q), false
	case TypeResetQuery:
		q, err := DecodeResetQuery(pdu)
		if err != nil {
			return Response{PDUs: [][]byte{EncodeErrorReport(h.Version, ErrCorruptData, pdu, err.Error())}, Verdict: Close}, true
		}
		return h.HandleResetQuery(q), false
	case TypeErrorReport:
		e, err := DecodeErrorReport(pdu)
		if err != nil {
			return Response{Verdict: Close}, true
		}
		return h.HandleErrorReport(e), false
	default:
		return h.HandleUnexpected(pdu), false
	}
}
