package rtr

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpkid/rpkid/pkg/rpki"
)

func roa(asn uint32, prefix string) rpki.VRP {
	return rpki.VRP{Kind: rpki.KindROA, ASN: asn, Prefix: netip.MustParsePrefix(prefix), MaxLength: 24}
}

func TestStoreNoDataAvailableBeforeFirstPublish(t *testing.T) {
	s := NewStore(1, 10, false)
	q := s.StatusFor(0)
	assert.Equal(t, StatusNoDataAvailable, q.Status)
	assert.False(t, s.HasPublished())
}

func TestStorePublishAdvancesSerialOnChange(t *testing.T) {
	s := NewStore(1, 10, false)

	t1 := rpki.NewTable()
	t1.Insert(roa(1, "10.0.0.0/8"))
	s.Publish(t1)
	require.Equal(t, uint32(0), s.CurrentSerial(), "first publish is serial 0")

	t2 := rpki.NewTable()
	t2.Insert(roa(1, "10.0.0.0/8"))
	t2.Insert(roa(2, "192.0.2.0/24"))
	s.Publish(t2)
	assert.Equal(t, uint32(1), s.CurrentSerial())
}

func TestStorePublishNoopWhenUnchanged(t *testing.T) {
	s := NewStore(1, 10, false)
	t1 := rpki.NewTable()
	t1.Insert(roa(1, "10.0.0.0/8"))
	s.Publish(t1)

	t2 := rpki.NewTable()
	t2.Insert(roa(1, "10.0.0.0/8"))
	s.Publish(t2)

	assert.Equal(t, uint32(0), s.CurrentSerial(), "serial must not advance when nothing changed")
}

func TestStoreStatusForCurrentSerialIsNoDiff(t *testing.T) {
	s := NewStore(1, 10, false)
	t1 := rpki.NewTable()
	s.Publish(t1)
	q := s.StatusFor(s.CurrentSerial())
	assert.Equal(t, StatusNoDiff, q.Status)
}

func TestStoreStatusForOldSerialUndeterminedByDefault(t *testing.T) {
	s := NewStore(1, 10, false) // ComputeDeltas=false is the default
	t1 := rpki.NewTable()
	s.Publish(t1)
	t2 := rpki.NewTable()
	t2.Insert(roa(1, "10.0.0.0/8"))
	s.Publish(t2)

	q := s.StatusFor(0)
	assert.Equal(t, StatusDiffUndetermined, q.Status, "always-downgrade is the default")
}

func TestStoreStatusForOldSerialDiffAvailableWhenEnabled(t *testing.T) {
	s := NewStore(1, 10, true)
	t1 := rpki.NewTable()
	s.Publish(t1)
	t2 := rpki.NewTable()
	t2.Insert(roa(1, "10.0.0.0/8"))
	s.Publish(t2)

	q := s.StatusFor(0)
	require.Equal(t, StatusDiffAvailable, q.Status)
	assert.Len(t, q.Diff.Added, 1)
	assert.Empty(t, q.Diff.Removed)
}

func TestStoreHistoryWindowTrims(t *testing.T) {
	s := NewStore(1, 1, true) // window of 1: only the newest delta survives
	base := rpki.NewTable()
	s.Publish(base)

	for i := 1; i <= 3; i++ {
		tb := rpki.NewTable()
		for j := 0; j < i; j++ {
			tb.Insert(roa(uint32(j), "10.0.0.0/8"))
		}
		s.Publish(tb)
	}

	// serial 1 (the first delta) should have been trimmed out of history
	q := s.StatusFor(1)
	assert.Equal(t, StatusDiffUndetermined, q.Status)
}

func TestStoreSessionIDIsFixed(t *testing.T) {
	s := NewStore(42, 10, false)
	assert.EqualValues(t, 42, s.SessionID())
	s.Publish(rpki.NewTable())
	assert.EqualValues(t, 42, s.SessionID())
}
