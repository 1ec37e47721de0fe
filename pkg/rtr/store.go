package rtr

import (
	"sync/atomic"

	"github.com/rpkid/rpkid/pkg/rpki"
)

// Status is the result of consulting the Delta Store for a requested
// serial, the four-way classification FORT-validator's
// deltas_db_status returns.
type Status int

const (
	StatusNoDataAvailable Status = iota
	StatusNoDiff
	StatusDiffAvailable
	StatusDiffUndetermined
)

// snapshot is the atomic (session_id, current_serial, table, history)
// triple readers must observe consistently: never a serial whose delta
// isn't installed yet.
type snapshot struct {
	sessionID     uint16
	currentSerial uint32
	table         *rpki.Table
	history       map[uint32]rpki.Diff // serial -> diff from its predecessor
	historyOrder  []uint32             // oldest first, for window trimming
}

// Store is the Delta Store: single-writer (the dispatcher, via
// Publish), many-reader (RTR handlers, via StatusFor/Snapshot).
// Publications swap in a new *snapshot atomically so readers never
// observe a torn update.
type Store struct {
	ptr atomic.Pointer[snapshot]

	// HistoryWindow bounds how many serials of delta history are kept
	// before the oldest is forgotten; old deltas beyond this window may
	// be forgotten.
	HistoryWindow int

	// ComputeDeltas gates whether Publish retains a real added/removed
	// delta per serial, or always answers DiffUndetermined for any
	// serial other than the current one. Defaults to false: FORT-
	// validator's own pdu_handler.c carries a TODO that unconditionally
	// downgrades DIFF_AVAILABLE to a Cache Reset, and this flag
	// reproduces that as the default while leaving the real path
	// available via config.
	ComputeDeltas bool
}

// NewStore creates an empty Store with the given RTR session id. The
// session id is chosen once at process start and never changes for
// the process lifetime.
func NewStore(sessionID uint16, historyWindow int, computeDeltas bool) *Store {
	s := &Store{HistoryWindow: historyWindow, ComputeDeltas: computeDeltas}
	s.ptr.Store(&snapshot{sessionID: sessionID, history: map[uint32]rpki.Diff{}})
	return s
}

func (s *Store) load() *snapshot { return s.ptr.Load() }

// SessionID returns the store's fixed RTR session id.
func (s *Store) SessionID() uint16 { return s.load().sessionID }

// CurrentSerial returns the most recently published serial.
func (s *Store) CurrentSerial() uint32 { return s.load().currentSerial }

// HasPublished reports whether Publish has ever been called.
func (s *Store) HasPublished() bool { return s.load().table != nil }

// Publish installs newTable as the current table: it computes
// added/removed against the previous table, and only advances
// current_serial (and records a delta) if something changed.
func (s *Store) Publish(newTable *rpki.Table) {
	old := s.load()

	if old.table != nil {
		diff := rpki.DiffTables(old.table, newTable)
		if len(diff.Added) == 0 && len(diff.Removed) == 0 {
			// nothing changed: current_serial is unchanged, but the
			// table reference itself is refreshed so a new Reset Query
			// sees identical (by set-equality) data without re-running
			// a diff on every read.
			next := &snapshot{
				sessionID:     old.sessionID,
				currentSerial: old.currentSerial,
				table:         newTable,
				history:       old.history,
				historyOrder:  old.historyOrder,
			}
			s.ptr.Store(next)
			return
		}

		newSerial := old.currentSerial + 1
		history := old.history
		order := old.historyOrder
		if s.ComputeDeltas {
			history = cloneHistory(old.history)
			history[newSerial] = diff
			order = append(append([]uint32(nil), old.historyOrder...), newSerial)
			if s.HistoryWindow > 0 {
				for len(order) > s.HistoryWindow {
					delete(history, order[0])
					order = order[1:]
				}
			}
		}

		s.ptr.Store(&snapshot{
			sessionID:     old.sessionID,
			currentSerial: newSerial,
			table:         newTable,
			history:       history,
			historyOrder:  order,
		})
		return
	}

	// first publication ever
	s.ptr.Store(&snapshot{
		sessionID:     old.sessionID,
		currentSerial: 0,
		table:         newTable,
		history:       map[uint32]rpki.Diff{},
	})
}

func cloneHistory(h map[uint32]rpki.Diff) map[uint32]rpki.Diff {
	out := make(map[uint32]rpki.Diff, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Query is the result of a serial-query lookup: a status and, when
// DiffAvailable, the delta to send.
type Query struct {
	Status Status
	Diff   rpki.Diff
}

// StatusFor classifies a Serial Query's requested serial against the
// store's current state. With ComputeDeltas, a serial exactly one
// behind the current one gets DiffAvailable with the recorded diff;
// any older serial gets DiffUndetermined.
func (s *Store) StatusFor(requestedSerial uint32) Query {
	snap := s.load()
	if snap.table == nil {
		return Query{Status: StatusNoDataAvailable}
	}
	if requestedSerial == snap.currentSerial {
		return Query{Status: StatusNoDiff}
	}
	if !s.ComputeDeltas {
		return Query{Status: StatusDiffUndetermined}
	}
	// history[n] is the diff from n-1 to n, so a single recorded diff
	// only brings a router at currentSerial-1 up to date.
	if requestedSerial+1 != snap.currentSerial {
		return Query{Status: StatusDiffUndetermined}
	}
	if d, ok := snap.history[snap.currentSerial]; ok {
		return Query{Status: StatusDiffAvailable, Diff: d}
	}
	return Query{Status: StatusDiffUndetermined}
}

// Snapshot returns the current published table, or nil if nothing has
// been published yet, for a Reset Query's full dump.
func (s *Store) Snapshot() *rpki.Table {
	return s.load().table
}
