package rtr

import (
	"encoding/binary"

	"github.com/rpkid/rpkid/pkg/rpkierr"
)

// SerialQuery is a decoded inbound Serial Query PDU.
type SerialQuery struct {
	Header       Header
	SerialNumber uint32
}

// DecodeSerialQuery decodes buf (the full PDU, header included) as a
// Serial Query.
func DecodeSerialQuery(buf []byte) (SerialQuery, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return SerialQuery{}, err
	}
	if len(buf) < 12 {
		return SerialQuery{}, rpkierr.Protocolf("rtr.DecodeSerialQuery", "short PDU: %d bytes", len(buf))
	}
	return SerialQuery{Header: h, SerialNumber: binary.BigEndian.Uint32(buf[8:12])}, nil
}

// ResetQuery is a decoded inbound Reset Query PDU (header only; RFC
// 8210 §5.3 carries no payload beyond it).
type ResetQuery struct {
	Header Header
}

// DecodeResetQuery decodes buf as a Reset Query.
func DecodeResetQuery(buf []byte) (ResetQuery, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return ResetQuery{}, err
	}
	return ResetQuery{Header: h}, nil
}

// ErrorReport is a decoded inbound Error Report PDU.
type ErrorReport struct {
	Header       Header
	Code         ErrorCode
	Encapsulated []byte
	Message      string
}

// DecodeErrorReport decodes buf as an Error Report PDU.
func DecodeErrorReport(buf []byte) (ErrorReport, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return ErrorReport{}, err
	}
	if len(buf) < 12 {
		return ErrorReport{}, rpkierr.Protocolf("rtr.DecodeErrorReport", "short PDU: %d bytes", len(buf))
	}
	encLen := binary.BigEndian.Uint32(buf[8:12])
	off := 12
	if uint32(len(buf)) < uint32(off)+encLen+4 {
		return ErrorReport{}, rpkierr.Protocolf("rtr.DecodeErrorReport", "truncated encapsulated PDU")
	}
	enc := buf[off : off+int(encLen)]
	off += int(encLen)
	msgLen := binary.BigEndian.Uint32(buf[off : off+4])
	off += 4
	if uint32(len(buf)) < uint32(off)+msgLen {
		return ErrorReport{}, rpkierr.Protocolf("rtr.DecodeErrorReport", "truncated message")
	}
	msg := buf[off : off+int(msgLen)]
	return ErrorReport{
		Header:       h,
		Code:         ErrorCode(h.SessionOrErrorCode),
		Encapsulated: append([]byte(nil), enc...),
		Message:      string(msg),
	}, nil
}

// PDULength reads the length field out of a header already read into
// buf[:8], so a connection reader knows how many more bytes to pull
// off the wire before decoding the whole PDU.
func PDULength(buf []byte) (uint32, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return 0, err
	}
	if h.Length < headerLen {
		return 0, rpkierr.Protocolf("rtr.PDULength", "PDU length %d shorter than header", h.Length)
	}
	return h.Length, nil
}
