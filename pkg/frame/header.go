// Package frame implements the PD wire format: the version 1 (legacy)
// and version 2 (TSN) header layouts, their CRC32 checksum, and the
// build/check operations described in the protocol's frame codec.
//
// A Frame is a tagged variant: exactly one of V1 or V2 is non-nil. Callers
// never see a raw header pointer — header fields are copied value types,
// so holding on to a Frame cannot pin an engine-owned send/receive buffer.
package frame

import "fmt"

// MsgType identifies the PD message kind carried by a version 1 header.
type MsgType uint16

// Version 1 message types, encoded on the wire as two ASCII bytes.
const (
	MsgPd MsgType = 0x5064 // "Pd" - push data
	MsgPp MsgType = 0x5070 // "Pp" - pulled reply
	MsgPr MsgType = 0x5072 // "Pr" - pull request
	MsgPe MsgType = 0x5065 // "Pe" - error
)

func (m MsgType) String() string {
	switch m {
	case MsgPd:
		return "Pd"
	case MsgPp:
		return "Pp"
	case MsgPr:
		return "Pr"
	case MsgPe:
		return "Pe"
	default:
		return fmt.Sprintf("MsgType(0x%04x)", uint16(m))
	}
}

func (m MsgType) valid() bool {
	switch m {
	case MsgPd, MsgPp, MsgPr, MsgPe:
		return true
	default:
		return false
	}
}

// MsgTypeV2 identifies the PD message kind carried by a version 2 (TSN)
// header. These ordinals are this implementation's own assignment and
// are only meaningful between two trdp-pd peers.
type MsgTypeV2 uint8

const (
	MsgTsnPd     MsgTypeV2 = 1
	MsgTsnPdSdt  MsgTypeV2 = 2
	MsgTsnPdMsdt MsgTypeV2 = 3
	MsgTsnPdRes  MsgTypeV2 = 4
)

func (m MsgTypeV2) valid() bool {
	switch m {
	case MsgTsnPd, MsgTsnPdSdt, MsgTsnPdMsdt, MsgTsnPdRes:
		return true
	default:
		return false
	}
}

const (
	// HeaderSizeV1 is the fixed size in bytes of a version 1 PD header.
	HeaderSizeV1 = 40
	// MaxDatasetV1 is the largest payload a version 1 frame may carry.
	MaxDatasetV1 = 1432
	// MaxPacketV1 is HeaderSizeV1 + MaxDatasetV1.
	MaxPacketV1 = HeaderSizeV1 + MaxDatasetV1

	// HeaderSizeV2 is the fixed size in bytes of a version 2 (TSN) header.
	HeaderSizeV2 = 24
	// MaxDatasetV2 is the largest payload a version 2 frame may carry.
	MaxDatasetV2 = 1024
	// MaxPacketV2 is HeaderSizeV2 + MaxDatasetV2.
	MaxPacketV2 = HeaderSizeV2 + MaxDatasetV2

	// ProtocolVersionMask isolates the high byte of protocolVersion for
	// compatibility checks; the low byte is ignored on receive.
	ProtocolVersionMask = 0xFF00

	// ProtocolVersion1 is the base version 1 wire value (high byte 0x01).
	ProtocolVersion1 = 0x0100
	// ProtocolVersion2 is the TSN header version byte.
	ProtocolVersion2 = 0x02
)

// V1Header is the 40-byte legacy PD header, all fields in the semantics
// the wire carries them: network byte order on the wire, plain Go
// integers here.
type V1Header struct {
	ProtocolVersion uint16
	MsgType         MsgType
	ComId           uint32
	EtbTopoCnt      uint32
	OpTrnTopoCnt    uint32
	DatasetLength   uint32
	Reserved        uint32 // serviceId, low byte; high bytes reserved
	ReplyComId      uint32
	ReplyIPAddress  uint32
	SequenceCounter uint32
}

// ServiceID extracts the service identifier packed into the low byte of
// the reserved/serviceId header word.
func (h V1Header) ServiceID() uint8 { return uint8(h.Reserved & 0xFF) }

// WithServiceID returns a copy of h with its serviceId byte set.
func (h V1Header) WithServiceID(id uint8) V1Header {
	h.Reserved = (h.Reserved &^ 0xFF) | uint32(id)
	return h
}

// V2Header is the 24-byte TSN-variant PD header: compact header, no
// reply/topocount fields.
type V2Header struct {
	ProtocolVersion uint8
	MsgType         MsgTypeV2
	ComId           uint32
	DatasetLength   uint16
	SequenceCounter uint32
}

// Frame is a parsed or about-to-be-built PD datagram. Exactly one of V1
// or V2 is set.
type Frame struct {
	V1      *V1Header
	V2      *V2Header
	Payload []byte
}

// IsV2 reports whether this frame uses the TSN header variant.
func (f *Frame) IsV2() bool { return f.V2 != nil }

// ComId returns the frame's comId regardless of header version.
func (f *Frame) ComId() uint32 {
	if f.V2 != nil {
		return f.V2.ComId
	}
	return f.V1.ComId
}

// SequenceCounter returns the frame's sequence counter regardless of
// header version.
func (f *Frame) SequenceCounter() uint32 {
	if f.V2 != nil {
		return f.V2.SequenceCounter
	}
	return f.V1.SequenceCounter
}
