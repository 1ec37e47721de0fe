package rpki

import (
	"net/netip"
	"sort"
)

// VRPKind distinguishes the two payload shapes a relying party
// serves over RTR.
type VRPKind int

const (
	KindROA VRPKind = iota
	KindRouterKey
)

// VRP is a Validated Payload Record: either a ROA's (asn, prefix,
// maxLength) triple, or a BGPsec router key's (asn, SKI, SPKI) tuple.
// Both kinds round-trip through the RTR wire PDUs in pkg/rtr.
type VRP struct {
	Kind VRPKind

	// ROA fields.
	Prefix    netip.Prefix
	MaxLength uint8

	// Router-key fields.
	SKI  [20]byte
	SPKI []byte

	ASN uint32
}

// key is the set-equality identity used to collapse duplicate VRPs:
// duplicates collapse to a single entry under set-equality.
type vrpKey struct {
	kind      VRPKind
	asn       uint32
	prefix    netip.Prefix
	maxLength uint8
	ski       [20]byte
}

func (v VRP) key() vrpKey {
	return vrpKey{kind: v.Kind, asn: v.ASN, prefix: v.Prefix, maxLength: v.MaxLength, ski: v.SKI}
}

// Table is a multiset-free set of VRPs: pkg/rpki's db_table. A
// traversal engine owns one exclusively until it returns it to the
// dispatcher; the dispatcher then either merges it into the global
// table or discards it whole (§4.4's no-partial-merge rule).
type Table struct {
	entries map[vrpKey]VRP
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{entries: make(map[vrpKey]VRP)}
}

// Insert adds v, silently collapsing an exact duplicate.
func (t *Table) Insert(v VRP) {
	t.entries[v.key()] = v
}

// Join absorbs other's entries into t and drains other, so a caller
// that no longer needs the source table doesn't accidentally keep a
// second copy of everything alive.
func (t *Table) Join(other *Table) {
	for k, v := range other.entries {
		t.entries[k] = v
	}
	other.entries = make(map[vrpKey]VRP)
}

// Len returns the number of distinct VRPs.
func (t *Table) Len() int { return len(t.entries) }

// ForEach calls fn once per VRP, in no particular order.
func (t *Table) ForEach(fn func(VRP)) {
	for _, v := range t.entries {
		fn(v)
	}
}

// Sorted returns every VRP ordered by (ip_family, prefix, asn,
// max_length), the deterministic order a Reset Query's End-of-Data
// payload must appear in.
func (t *Table) Sorted() []VRP {
	out := make([]VRP, 0, len(t.entries))
	for _, v := range t.entries {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return vrpLess(out[i], out[j]) })
	return out
}

func vrpLess(a, b VRP) bool {
	af, bf := ipFamily(a), ipFamily(b)
	if af != bf {
		return af < bf
	}
	if a.Prefix != b.Prefix {
		return a.Prefix.String() < b.Prefix.String()
	}
	if a.ASN != b.ASN {
		return a.ASN < b.ASN
	}
	return a.MaxLength < b.MaxLength
}

func ipFamily(v VRP) int {
	if v.Prefix.Addr().Is4() {
		return 4
	}
	return 6
}

// Diff is the set of VRPs added and removed between two Tables,
// computed for RTR Serial Query responses when --rtr-compute-deltas
// is enabled.
type Diff struct {
	Added   []VRP
	Removed []VRP
}

// DiffTables computes the added/removed VRPs between old and next.
func DiffTables(old, next *Table) Diff {
	var d Diff
	for k, v := range next.entries {
		if _, ok := old.entries[k]; !ok {
			d.Added = append(d.Added, v)
		}
	}
	for k, v := range old.entries {
		if _, ok := next.entries[k]; !ok {
			d.Removed = append(d.Removed, v)
		}
	}
	sort.Slice(d.Added, func(i, j int) bool { return vrpLess(d.Added[i], d.Added[j]) })
	sort.Slice(d.Removed, func(i, j int) bool { return vrpLess(d.Removed[i], d.Removed[j]) })
	return d
}
