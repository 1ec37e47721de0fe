// Package rtr implements the RPKI-to-Router protocol (RFC 6810 for
// version 0, RFC 8210 for version 1): wire PDU encoding, the Delta
// Store, the per-session PDU handler state machine, and the TCP
// server that owns one goroutine per connection.
package rtr

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/valyala/bytebufferpool"

	"github.com/rpkid/rpkid/pkg/rpkierr"
)

// PDUType is the one-byte type field in every RTR PDU header.
type PDUType uint8

const (
	TypeSerialNotify PDUType = 0
	TypeSerialQuery  PDUType = 1
	TypeResetQuery   PDUType = 2
	TypeCacheResponse PDUType = 3
	TypeIPv4Prefix   PDUType = 4
	TypeRouterKey    PDUType = 9
	TypeEndOfData    PDUType = 7
	TypeCacheReset   PDUType = 8
	TypeErrorReport  PDUType = 10
	TypeIPv6Prefix   PDUType = 6
)

func (t PDUType) String() string {
	switch t {
	case TypeSerialNotify:
		return "Serial Notify"
	case TypeSerialQuery:
		return "Serial Query"
	case TypeResetQuery:
		return "Reset Query"
	case TypeCacheResponse:
		return "Cache Response"
	case TypeIPv4Prefix:
		return "IPv4 Prefix"
	case TypeIPv6Prefix:
		return "IPv6 Prefix"
	case TypeEndOfData:
		return "End of Data"
	case TypeCacheReset:
		return "Cache Reset"
	case TypeRouterKey:
		return "Router Key"
	case TypeErrorReport:
		return "Error Report"
	default:
		return fmt.Sprintf("PDUType(%d)", uint8(t))
	}
}

// ErrorCode is the RFC 8210 §10 error code carried by an Error Report
// PDU.
type ErrorCode uint16

const (
	ErrCorruptData        ErrorCode = 0
	ErrInternalError      ErrorCode = 1
	ErrNoDataAvailable    ErrorCode = 2
	ErrInvalidRequest     ErrorCode = 3
	ErrUnsupportedProtoVer ErrorCode = 4
	ErrUnsupportedPDUType ErrorCode = 5
	ErrWithdrawalOfUnknown ErrorCode = 6
	ErrDuplicateAnnounce  ErrorCode = 7
	ErrUnexpectedProtoVer ErrorCode = 8
)

// Fatal reports whether code terminates the session per RFC 8210
// §10's classification. Every code is fatal except No Data Available,
// the one response a router can reasonably expect to retry past.
func (c ErrorCode) Fatal() bool {
	return c != ErrNoDataAvailable
}

const headerLen = 8

// Header is the decoded common 8-byte PDU header (RFC 8210 §5.1..5.11
// each embed it verbatim).
type Header struct {
	Version uint8
	Type    PDUType
	// SessionOrErrorCode holds the session_id field for most PDUs, or
	// the error_code for Error Report PDUs — RFC 8210 overlays the
	// same two bytes for both meanings.
	SessionOrErrorCode uint16
	Length             uint32
}

// DecodeHeader reads the first 8 bytes of buf as a Header. buf must be
// at least headerLen bytes.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < headerLen {
		return Header{}, rpkierr.Protocolf("rtr.DecodeHeader", "short header: %d bytes", len(buf))
	}
	return Header{
		Version:            buf[0],
		Type:               PDUType(buf[1]),
		SessionOrErrorCode: binary.BigEndian.Uint16(buf[2:4]),
		Length:             binary.BigEndian.Uint32(buf[4:8]),
	}, nil
}

func putHeader(buf *bytebufferpool.ByteBuffer, version uint8, typ PDUType, sessionOrErr uint16, length uint32) {
	var b [8]byte
	b[0] = version
	b[1] = byte(typ)
	binary.BigEndian.PutUint16(b[2:4], sessionOrErr)
	binary.BigEndian.PutUint32(b[4:8], length)
	buf.Write(b[:])
}

// EncodeSerialNotify serializes a Serial Notify PDU (server → router,
// unsolicited).
func EncodeSerialNotify(version uint8, sessionID uint16, serial uint32) []byte {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	putHeader(buf, version, TypeSerialNotify, sessionID, 12)
	var s [4]byte
	binary.BigEndian.PutUint32(s[:], serial)
	buf.Write(s[:])
	return append([]byte(nil), buf.Bytes()...)
}

// EncodeCacheResponse serializes a Cache Response PDU, the first PDU
// of every successful exchange.
func EncodeCacheResponse(version uint8, sessionID uint16) []byte {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	putHeader(buf, version, TypeCacheResponse, sessionID, headerLen)
	return append([]byte(nil), buf.Bytes()...)
}

// EncodeCacheReset serializes a Cache Reset PDU.
func EncodeCacheReset(version uint8) []byte {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	putHeader(buf, version, TypeCacheReset, 0, headerLen)
	return append([]byte(nil), buf.Bytes()...)
}

// EndOfDataIntervals carries the version-1-only refresh/retry/expire
// intervals the End of Data PDU advertises, taken from configuration.
type EndOfDataIntervals struct {
	Refresh, Retry, Expire uint32
}

// EncodeEndOfData serializes an End of Data PDU. intervals is ignored
// for version 0 (RFC 6810 has no interval fields).
func EncodeEndOfData(version uint8, sessionID uint16, serial uint32, intervals EndOfDataIntervals) []byte {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	if version == 0 {
		putHeader(buf, version, TypeEndOfData, sessionID, 12)
		var s [4]byte
		binary.BigEndian.PutUint32(s[:], serial)
		buf.Write(s[:])
	} else {
		putHeader(buf, version, TypeEndOfData, sessionID, 24)
		var rest [16]byte
		binary.BigEndian.PutUint32(rest[0:4], serial)
		binary.BigEndian.PutUint32(rest[4:8], intervals.Refresh)
		binary.BigEndian.PutUint32(rest[8:12], intervals.Retry)
		binary.BigEndian.PutUint32(rest[12:16], intervals.Expire)
		buf.Write(rest[:])
	}
	return append([]byte(nil), buf.Bytes()...)
}

const (
	flagAnnounce = 1
	flagWithdraw = 0
)

// EncodeIPv4Prefix serializes an IPv4 Prefix PDU for p (announce when
// withdraw is false).
func EncodeIPv4Prefix(version uint8, p netip.Prefix, maxLength uint8, asn uint32, withdraw bool) ([]byte, error) {
	if !p.Addr().Is4() {
		return nil, rpkierr.Internalf("rtr.EncodeIPv4Prefix", "prefix %s is not IPv4", p)
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	putHeader(buf, version, TypeIPv4Prefix, 0, 20)
	flags := byte(flagAnnounce)
	if withdraw {
		flags = flagWithdraw
	}
	var b [12]byte
	b[0] = flags
	b[1] = byte(p.Bits())
	b[2] = maxLength
	b[3] = 0 // zero
	addr4 := p.Addr().As4()
	copy(b[4:8], addr4[:])
	binary.BigEndian.PutUint32(b[8:12], asn)
	buf.Write(b[:])
	return append([]byte(nil), buf.Bytes()...), nil
}

// EncodeIPv6Prefix serializes an IPv6 Prefix PDU for p.
func EncodeIPv6Prefix(version uint8, p netip.Prefix, maxLength uint8, asn uint32, withdraw bool) ([]byte, error) {
	if !p.Addr().Is6() {
		return nil, rpkierr.Internalf("rtr.EncodeIPv6Prefix", "prefix %s is not IPv6", p)
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	putHeader(buf, version, TypeIPv6Prefix, 0, 32)
	flags := byte(flagAnnounce)
	if withdraw {
		flags = flagWithdraw
	}
	var b [24]byte
	b[0] = flags
	b[1] = byte(p.Bits())
	b[2] = maxLength
	b[3] = 0
	addr16 := p.Addr().As16()
	copy(b[4:20], addr16[:])
	binary.BigEndian.PutUint32(b[20:24], asn)
	buf.Write(b[:])
	return append([]byte(nil), buf.Bytes()...), nil
}

// EncodeRouterKey serializes a Router Key PDU (version 1 only).
func EncodeRouterKey(version uint8, ski [20]byte, asn uint32, spki []byte, withdraw bool) []byte {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	length := uint32(headerLen + 4 + 20 + len(spki))
	flags := byte(flagAnnounce)
	if withdraw {
		flags = flagWithdraw
	}
	putHeader(buf, version, TypeRouterKey, uint16(flags), length)
	buf.Write(ski[:])
	var a [4]byte
	binary.BigEndian.PutUint32(a[:], asn)
	buf.Write(a[:])
	buf.Write(spki)
	return append([]byte(nil), buf.Bytes()...)
}

// EncodeErrorReport serializes an Error Report PDU, echoing the
// offending encoded PDU (may be nil) and carrying a UTF-8 message.
func EncodeErrorReport(version uint8, code ErrorCode, encapsulated []byte, message string) []byte {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	msgBytes := []byte(message)
	length := uint32(headerLen + 4 + len(encapsulated) + 4 + len(msgBytes))
	putHeader(buf, version, TypeErrorReport, uint16(code), length)

	var lenEnc [4]byte
	binary.BigEndian.PutUint32(lenEnc[:], uint32(len(encapsulated)))
	buf.Write(lenEnc[:])
	buf.Write(encapsulated)

	var lenMsg [4]byte
	binary.BigEndian.PutUint32(lenMsg[:], uint32(len(msgBytes)))
	buf.Write(lenMsg[:])
	buf.Write(msgBytes)

	return append([]byte(nil), buf.Bytes()...)
}
