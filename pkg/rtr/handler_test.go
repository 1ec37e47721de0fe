package rtr

import (
	"net/netip"
	"testing"

	"github.com/rpkid/rpkid/pkg/rpki"
)

func mustVRP(asn uint32, prefix string) rpki.VRP {
	return rpki.VRP{Kind: rpki.KindROA, ASN: asn, Prefix: netip.MustParsePrefix(prefix), MaxLength: 24}
}

func TestHandleSerialQuerySessionMismatchIsCorruptDataAndClose(t *testing.T) {
	s := NewStore(5, 10, false)
	s.Publish(rpki.NewTable())
	h := &Handler{Store: s, Version: 1}

	resp := h.HandleSerialQuery(SerialQuery{Header: Header{SessionOrErrorCode: 99}, SerialNumber: 0})
	if resp.Verdict != Close {
		t.Fatal("session mismatch must close the session")
	}
	er, err := DecodeErrorReport(resp.PDUs[0])
	if err != nil {
		t.Fatalf("DecodeErrorReport() error = %v", err)
	}
	if er.Code != ErrCorruptData {
		t.Fatalf("Code = %v, want ErrCorruptData", er.Code)
	}
}

func TestHandleSerialQueryNoDataAvailableKeepsOpenWithError(t *testing.T) {
	s := NewStore(5, 10, false) // never published
	h := &Handler{Store: s, Version: 1}

	resp := h.HandleSerialQuery(SerialQuery{Header: Header{SessionOrErrorCode: 5}, SerialNumber: 0})
	if resp.Verdict != KeepOpen {
		t.Fatal("no data available is non-fatal and must keep the session open")
	}
	er, _ := DecodeErrorReport(resp.PDUs[0])
	if er.Code != ErrNoDataAvailable {
		t.Fatalf("Code = %v, want ErrNoDataAvailable", er.Code)
	}
}

func TestHandleSerialQueryDiffUndeterminedSendsCacheReset(t *testing.T) {
	s := NewStore(5, 10, false) // ComputeDeltas=false forces undetermined on any non-current serial
	s.Publish(rpki.NewTable())
	t2 := rpki.NewTable()
	t2.Insert(mustVRP(1, "10.0.0.0/8"))
	s.Publish(t2)
	h := &Handler{Store: s, Version: 1}

	resp := h.HandleSerialQuery(SerialQuery{Header: Header{SessionOrErrorCode: 5}, SerialNumber: 0})
	if resp.Verdict != KeepOpen {
		t.Fatal("Cache Reset must keep the session open")
	}
	hdr, err := DecodeHeader(resp.PDUs[0])
	if err != nil {
		t.Fatalf("DecodeHeader() error = %v", err)
	}
	if hdr.Type != TypeCacheReset {
		t.Fatalf("Type = %v, want Cache Reset", hdr.Type)
	}
}

func TestHandleSerialQueryNoDiffSendsCacheResponseAndEndOfData(t *testing.T) {
	s := NewStore(5, 10, false)
	s.Publish(rpki.NewTable())
	h := &Handler{Store: s, Version: 1}

	resp := h.HandleSerialQuery(SerialQuery{Header: Header{SessionOrErrorCode: 5}, SerialNumber: s.CurrentSerial()})
	if resp.Verdict != KeepOpen {
		t.Fatal("no-diff exchange must keep the session open")
	}
	if len(resp.PDUs) != 2 {
		t.Fatalf("len(PDUs) = %d, want 2 (Cache Response, End of Data)", len(resp.PDUs))
	}
	hdr0, _ := DecodeHeader(resp.PDUs[0])
	hdr1, _ := DecodeHeader(resp.PDUs[1])
	if hdr0.Type != TypeCacheResponse || hdr1.Type != TypeEndOfData {
		t.Fatalf("got types %v, %v, want Cache Response, End of Data", hdr0.Type, hdr1.Type)
	}
}

func TestHandleSerialQueryDiffAvailableRunsCommonExchange(t *testing.T) {
	s := NewStore(5, 10, true) // ComputeDeltas=true so history is retained
	s.Publish(rpki.NewTable())
	t2 := rpki.NewTable()
	t2.Insert(mustVRP(1, "10.0.0.0/8"))
	s.Publish(t2)
	h := &Handler{Store: s, Version: 1}

	resp := h.HandleSerialQuery(SerialQuery{Header: Header{SessionOrErrorCode: 5}, SerialNumber: 0})
	if resp.Verdict != KeepOpen {
		t.Fatal("diff-available exchange must keep the session open")
	}
	if len(resp.PDUs) != 3 { // Cache Response, 1 added prefix, End of Data
		t.Fatalf("len(PDUs) = %d, want 3", len(resp.PDUs))
	}
	hdr0, _ := DecodeHeader(resp.PDUs[0])
	hdr1, _ := DecodeHeader(resp.PDUs[1])
	hdrLast, _ := DecodeHeader(resp.PDUs[len(resp.PDUs)-1])
	if hdr0.Type != TypeCacheResponse {
		t.Fatalf("first PDU = %v, want Cache Response", hdr0.Type)
	}
	if hdr1.Type != TypeIPv4Prefix {
		t.Fatalf("second PDU = %v, want IPv4 Prefix", hdr1.Type)
	}
	if hdrLast.Type != TypeEndOfData {
		t.Fatalf("last PDU = %v, want End of Data", hdrLast.Type)
	}
}

func TestHandleResetQueryNoDataAvailable(t *testing.T) {
	s := NewStore(5, 10, false)
	h := &Handler{Store: s, Version: 1}

	resp := h.HandleResetQuery(ResetQuery{})
	if resp.Verdict != KeepOpen {
		t.Fatal("reset query before any publish is non-fatal and must keep the session open")
	}
	er, _ := DecodeErrorReport(resp.PDUs[0])
	if er.Code != ErrNoDataAvailable {
		t.Fatalf("Code = %v, want ErrNoDataAvailable", er.Code)
	}
}

func TestHandleResetQueryFullSnapshotDump(t *testing.T) {
	s := NewStore(5, 10, false)
	tbl := rpki.NewTable()
	tbl.Insert(mustVRP(1, "10.0.0.0/8"))
	tbl.Insert(mustVRP(2, "192.0.2.0/24"))
	s.Publish(tbl)
	h := &Handler{Store: s, Version: 1}

	resp := h.HandleResetQuery(ResetQuery{})
	if resp.Verdict != KeepOpen {
		t.Fatal("successful reset query must keep the session open")
	}
	if len(resp.PDUs) != 4 { // Cache Response, 2 prefixes, End of Data
		t.Fatalf("len(PDUs) = %d, want 4", len(resp.PDUs))
	}
}

func TestHandleErrorReportClosesOnFatalCode(t *testing.T) {
	h := &Handler{Store: NewStore(1, 10, false), Version: 1}
	resp := h.HandleErrorReport(ErrorReport{Code: ErrCorruptData})
	if resp.Verdict != Close {
		t.Fatal("fatal error report must close the session")
	}
}

func TestHandleErrorReportKeepsOpenOnNonFatalCode(t *testing.T) {
	h := &Handler{Store: NewStore(1, 10, false), Version: 1}
	resp := h.HandleErrorReport(ErrorReport{Code: ErrNoDataAvailable})
	if resp.Verdict != KeepOpen {
		t.Fatal("non-fatal error report must keep the session open")
	}
}

func TestHandleUnexpectedEchoesAndCloses(t *testing.T) {
	h := &Handler{Store: NewStore(1, 10, false), Version: 1}
	raw := EncodeCacheReset(1)
	resp := h.HandleUnexpected(raw)
	if resp.Verdict != Close {
		t.Fatal("an unexpected PDU must close the session")
	}
	er, err := DecodeErrorReport(resp.PDUs[0])
	if err != nil {
		t.Fatalf("DecodeErrorReport() error = %v", err)
	}
	if er.Code != ErrUnsupportedPDUType {
		t.Fatalf("Code = %v, want ErrUnsupportedPDUType", er.Code)
	}
	if string(er.Encapsulated) != string(raw) {
		t.Fatal("Encapsulated must echo the offending PDU")
	}
}
