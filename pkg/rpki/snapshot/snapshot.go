// Package snapshot loads a warm-start VRP table from a Routinator- or
// rpki-client-style JSON export (the "roas" array of
// {asn, prefix, maxLength} objects). The validate stage loads it in
// --offline mode and publishes it just before its first validation
// run, both within that stage's Prepare.
// Grounded on stages/ris-live.go's buger/jsonparser usage — that file
// pulls scalar fields out of a streamed JSON object without building
// an intermediate struct tree; this package applies the same
// technique to a VRP array instead of a RIS Live message.
package snapshot

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"

	"github.com/rpkid/rpkid/pkg/rpki"
	"github.com/rpkid/rpkid/pkg/rpkierr"
)

// Load reads a JSON document of the form {"roas":[{"asn":"AS65001",
// "prefix":"10.0.0.0/8","maxLength":16}, ...]} from path and returns
// the VRPs as a Table.
func Load(path string) (*rpki.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rpkierr.Fetchf("snapshot.Load", "%w", err)
	}
	return Parse(data)
}

// Parse decodes data per Load's format.
func Parse(data []byte) (*rpki.Table, error) {
	table := rpki.NewTable()

	roas, _, _, err := jsonparser.Get(data, "roas")
	if err != nil {
		return nil, rpkierr.Parsef("snapshot.Parse", "missing \"roas\" array: %w", err)
	}

	var parseErr error
	_, err = jsonparser.ArrayEach(roas, func(entry []byte, dataType jsonparser.ValueType, offset int, iterErr error) {
		if parseErr != nil || iterErr != nil {
			return
		}
		v, err := parseEntry(entry)
		if err != nil {
			parseErr = err
			return
		}
		table.Insert(v)
	})
	if err != nil {
		return nil, rpkierr.Parsef("snapshot.Parse", "%w", err)
	}
	if parseErr != nil {
		return nil, parseErr
	}
	return table, nil
}

func parseEntry(entry []byte) (rpki.VRP, error) {
	asnStr, err := jsonparser.GetString(entry, "asn")
	if err != nil {
		return rpki.VRP{}, rpkierr.Parsef("snapshot.parseEntry", "missing asn: %w", err)
	}
	asn, err := parseASN(asnStr)
	if err != nil {
		return rpki.VRP{}, rpkierr.Parsef("snapshot.parseEntry", "bad asn %q: %w", asnStr, err)
	}

	prefixStr, err := jsonparser.GetString(entry, "prefix")
	if err != nil {
		return rpki.VRP{}, rpkierr.Parsef("snapshot.parseEntry", "missing prefix: %w", err)
	}
	prefix, err := netip.ParsePrefix(prefixStr)
	if err != nil {
		return rpki.VRP{}, rpkierr.Parsef("snapshot.parseEntry", "bad prefix %q: %w", prefixStr, err)
	}

	maxLen, err := jsonparser.GetInt(entry, "maxLength")
	if err != nil {
		maxLen = int64(prefix.Bits()) // default: maxLength == prefix length
	}

	return rpki.VRP{
		Kind:      rpki.KindROA,
		ASN:       asn,
		Prefix:    prefix,
		MaxLength: uint8(maxLen),
	}, nil
}

// parseASN accepts both "AS65001" and "65001" forms.
func parseASN(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "AS")
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not a valid ASN: %w", err)
	}
	return uint32(n), nil
}
