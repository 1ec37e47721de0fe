package diag

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/rpkid/rpkid/pkg/rpki"
	"github.com/rpkid/rpkid/pkg/rtr"
)

func TestHandleStatusReportsStoreState(t *testing.T) {
	store := rtr.NewStore(7, 10, false)
	tbl := rpki.NewTable()
	tbl.Insert(rpki.VRP{Kind: rpki.KindROA})
	store.Publish(tbl)

	s := &Stage{Store: store}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/status", nil)
	s.handleStatus(rec, req)

	var got statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("could not decode response: %v", err)
	}
	if got.SessionID != 7 {
		t.Fatalf("SessionID = %d, want 7", got.SessionID)
	}
	if !got.HasPublished {
		t.Fatal("HasPublished = false, want true")
	}
	if got.VRPCount != 1 {
		t.Fatalf("VRPCount = %d, want 1", got.VRPCount)
	}
}

func TestHandleStatusBeforePublish(t *testing.T) {
	s := &Stage{Store: rtr.NewStore(1, 10, false)}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/status", nil)
	s.handleStatus(rec, req)

	var got statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("could not decode response: %v", err)
	}
	if got.HasPublished {
		t.Fatal("HasPublished = true before any Publish call")
	}
}
