package rtr

import "github.com/rpkid/rpkid/pkg/rpki"

// Verdict tells the connection loop what to do with the session after
// a handler call.
type Verdict int

const (
	KeepOpen Verdict = iota
	Close
)

// Response is the ordered sequence of outbound PDUs (already wire
// encoded) a single inbound PDU produced, plus the session verdict.
// Outbound orderings are atomic from the router's perspective — callers
// must write every PDU in Response.PDUs before reading the next inbound
// PDU.
type Response struct {
	PDUs    [][]byte
	Verdict Verdict
}

// Handler implements the RTR PDU state machine, transcribed from
// FORT-validator's rtr/pdu_handler.c (handle_serial_query_pdu,
// handle_reset_query_pdu, handle_error_report_pdu,
// warn_unexpected_pdu) into the Go shape: one pure function per
// inbound PDU type, each returning the outbound PDUs to write rather
// than writing them itself, so the TCP server layer owns all I/O.
type Handler struct {
	Store     *Store
	Version   uint8
	Intervals EndOfDataIntervals
}

// HandleSerialQuery implements the Serial Query PDU handling rules.
func (h *Handler) HandleSerialQuery(q SerialQuery) Response {
	if q.Header.SessionOrErrorCode != h.Store.SessionID() {
		return Response{
			PDUs:    [][]byte{EncodeErrorReport(h.Version, ErrCorruptData, nil, "session_id mismatch")},
			Verdict: Close,
		}
	}

	status := h.Store.StatusFor(q.SerialNumber)
	switch status.Status {
	case StatusNoDataAvailable:
		return Response{
			PDUs:    [][]byte{EncodeErrorReport(h.Version, ErrNoDataAvailable, nil, "no data available")},
			Verdict: KeepOpen,
		}
	case StatusDiffUndetermined:
		return Response{PDUs: [][]byte{EncodeCacheReset(h.Version)}, Verdict: KeepOpen}
	case StatusDiffAvailable:
		return h.commonExchange(status.Diff.Added, status.Diff.Removed)
	case StatusNoDiff:
		return Response{
			PDUs: [][]byte{
				EncodeCacheResponse(h.Version, h.Store.SessionID()),
				EncodeEndOfData(h.Version, h.Store.SessionID(), h.Store.CurrentSerial(), h.Intervals),
			},
			Verdict: KeepOpen,
		}
	default:
		return Response{
			PDUs:    [][]byte{EncodeErrorReport(h.Version, ErrInternalError, nil, "unreachable store status")},
			Verdict: Close,
		}
	}
}

// HandleResetQuery implements the Reset Query PDU handling rules: a
// full snapshot dump, never a delta.
func (h *Handler) HandleResetQuery(ResetQuery) Response {
	if !h.Store.HasPublished() {
		return Response{
			PDUs:    [][]byte{EncodeErrorReport(h.Version, ErrNoDataAvailable, nil, "no data available")},
			Verdict: KeepOpen,
		}
	}

	snap := h.Store.Snapshot()
	vrps := snap.Sorted()
	pdus := make([][]byte, 0, len(vrps)+2)
	pdus = append(pdus, EncodeCacheResponse(h.Version, h.Store.SessionID()))
	for _, v := range vrps {
		p, err := encodeVRP(h.Version, v, false)
		if err != nil {
			continue // malformed entry; skip rather than abort the whole dump
		}
		pdus = append(pdus, p)
	}
	pdus = append(pdus, EncodeEndOfData(h.Version, h.Store.SessionID(), h.Store.CurrentSerial(), h.Intervals))
	return Response{PDUs: pdus, Verdict: KeepOpen}
}

// HandleErrorReport implements the Error Report PDU handling rules:
// log (the caller's job, not this function's — Response carries the
// verdict only), close on fatal codes.
func (h *Handler) HandleErrorReport(e ErrorReport) Response {
	if e.Code.Fatal() {
		return Response{Verdict: Close}
	}
	return Response{Verdict: KeepOpen}
}

// HandleUnexpected covers every PDU type a router must never send to
// a cache (Serial Notify, Cache Response, IPv4/IPv6 Prefix, End of
// Data, Cache Reset): FORT-validator's warn_unexpected_pdu, echoing
// the offending header in an Unsupported PDU Type Error Report and
// closing.
func (h *Handler) HandleUnexpected(raw []byte) Response {
	return Response{
		PDUs:    [][]byte{EncodeErrorReport(h.Version, ErrUnsupportedPDUType, raw, "unexpected PDU received")},
		Verdict: Close,
	}
}

// commonExchange emits Cache Response, a Payload PDU per added and
// removed VRP, then End of Data — FORT-validator's
// send_commmon_exchange.
func (h *Handler) commonExchange(added, removed []rpki.VRP) Response {
	pdus := make([][]byte, 0, len(added)+len(removed)+2)
	pdus = append(pdus, EncodeCacheResponse(h.Version, h.Store.SessionID()))
	for _, v := range added {
		if p, err := encodeVRP(h.Version, v, false); err == nil {
			pdus = append(pdus, p)
		}
	}
	for _, v := range removed {
		if p, err := encodeVRP(h.Version, v, true); err == nil {
			pdus = append(pdus, p)
		}
	}
	pdus = append(pdus, EncodeEndOfData(h.Version, h.Store.SessionID(), h.Store.CurrentSerial(), h.Intervals))
	return Response{PDUs: pdus, Verdict: KeepOpen}
}
