package frame

import (
	"encoding/binary"

	"github.com/railcomm/trdp-pd/pkg/pderr"
)

// v1 field offsets.
const (
	offProtocolVersion = 0
	offMsgType         = 2
	offComId           = 4
	offEtbTopoCnt      = 8
	offOpTrnTopoCnt    = 12
	offDatasetLength   = 16
	offReserved        = 20
	offReplyComId      = 24
	offReplyIPAddress  = 28
	offSequenceCounter = 32
	offFCS             = 36
)

// v2 (TSN) field offsets: a compact 24-byte layout carrying the same
// semantic fields minus reply/topocount.
const (
	offV2ProtocolVersion = 0
	offV2MsgType         = 1
	offV2ComId           = 4
	offV2SequenceCounter = 8
	offV2DatasetLength   = 12
	offV2FCS             = 16
)

// EncodeV1 builds a wire-format version 1 frame: header fields in network
// byte order, CRC32 over bytes [0:36) stored little-endian at [36:40),
// followed by the payload.
func EncodeV1(h V1Header, payload []byte) ([]byte, error) {
	if len(payload) > MaxDatasetV1 {
		return nil, pderr.Wrap(pderr.ErrParam, "payload exceeds MaxDatasetV1")
	}
	h.DatasetLength = uint32(len(payload))

	buf := make([]byte, HeaderSizeV1+len(payload))
	binary.BigEndian.PutUint16(buf[offProtocolVersion:], h.ProtocolVersion)
	binary.BigEndian.PutUint16(buf[offMsgType:], uint16(h.MsgType))
	binary.BigEndian.PutUint32(buf[offComId:], h.ComId)
	binary.BigEndian.PutUint32(buf[offEtbTopoCnt:], h.EtbTopoCnt)
	binary.BigEndian.PutUint32(buf[offOpTrnTopoCnt:], h.OpTrnTopoCnt)
	binary.BigEndian.PutUint32(buf[offDatasetLength:], h.DatasetLength)
	binary.BigEndian.PutUint32(buf[offReserved:], h.Reserved)
	binary.BigEndian.PutUint32(buf[offReplyComId:], h.ReplyComId)
	binary.BigEndian.PutUint32(buf[offReplyIPAddress:], h.ReplyIPAddress)
	binary.BigEndian.PutUint32(buf[offSequenceCounter:], h.SequenceCounter)
	copy(buf[HeaderSizeV1:], payload)

	crc := checksum(buf[:offFCS])
	binary.LittleEndian.PutUint32(buf[offFCS:], crc)
	return buf, nil
}

// EncodeV2 builds a wire-format version 2 (TSN) frame.
func EncodeV2(h V2Header, payload []byte) ([]byte, error) {
	if len(payload) > MaxDatasetV2 {
		return nil, pderr.Wrap(pderr.ErrParam, "payload exceeds MaxDatasetV2")
	}
	h.DatasetLength = uint16(len(payload))

	buf := make([]byte, HeaderSizeV2+len(payload))
	buf[offV2ProtocolVersion] = h.ProtocolVersion
	buf[offV2MsgType] = uint8(h.MsgType)
	binary.BigEndian.PutUint32(buf[offV2ComId:], h.ComId)
	binary.BigEndian.PutUint32(buf[offV2SequenceCounter:], h.SequenceCounter)
	binary.BigEndian.PutUint16(buf[offV2DatasetLength:], h.DatasetLength)
	copy(buf[HeaderSizeV2:], payload)

	crc := checksum(buf[:offV2FCS])
	binary.LittleEndian.PutUint32(buf[offV2FCS:], crc)
	return buf, nil
}

// Check validates a received datagram against the wire contract (spec
// §4.1): size bounds, CRC, protocol version, msgType, and dataset length,
// then returns the parsed Frame. Any structural problem is reported as
// pderr.ErrWire; a checksum mismatch is reported as pderr.ErrCrc. Check
// never panics, even on a short or garbage buffer.
func Check(b []byte) (*Frame, error) {
	if len(b) < HeaderSizeV2 {
		return nil, pderr.Wrap(pderr.ErrWire, "frame shorter than any valid header")
	}

	pv := binary.BigEndian.Uint16(b[offProtocolVersion:])
	if pv&ProtocolVersionMask == ProtocolVersion1&ProtocolVersionMask && len(b) >= HeaderSizeV1 {
		return checkV1(b)
	}
	if b[offV2ProtocolVersion] == ProtocolVersion2 {
		return checkV2(b)
	}
	if len(b) >= HeaderSizeV1 && binary.LittleEndian.Uint32(b[offFCS:]) != checksum(b[:offFCS]) {
		return nil, pderr.Wrap(pderr.ErrCrc, "header checksum mismatch")
	}
	return nil, pderr.Wrap(pderr.ErrWire, "unrecognised protocol version")
}

func checkV1(b []byte) (*Frame, error) {
	if len(b) < HeaderSizeV1 || len(b) > MaxPacketV1 {
		return nil, pderr.Wrap(pderr.ErrWire, "v1 frame size out of bounds")
	}

	wantCRC := binary.LittleEndian.Uint32(b[offFCS:])
	gotCRC := checksum(b[:offFCS])
	if wantCRC != gotCRC {
		return nil, pderr.Wrap(pderr.ErrCrc, "v1 header checksum mismatch")
	}

	msgType := MsgType(binary.BigEndian.Uint16(b[offMsgType:]))
	if !msgType.valid() {
		return nil, pderr.Wrap(pderr.ErrWire, "v1 unrecognised msgType")
	}

	datasetLength := binary.BigEndian.Uint32(b[offDatasetLength:])
	if datasetLength > MaxDatasetV1 {
		return nil, pderr.Wrap(pderr.ErrWire, "v1 datasetLength exceeds MaxDatasetV1")
	}
	if int(datasetLength) != len(b)-HeaderSizeV1 {
		return nil, pderr.Wrap(pderr.ErrWire, "v1 datasetLength does not match frame size")
	}

	h := &V1Header{
		ProtocolVersion: binary.BigEndian.Uint16(b[offProtocolVersion:]),
		MsgType:         msgType,
		ComId:           binary.BigEndian.Uint32(b[offComId:]),
		EtbTopoCnt:      binary.BigEndian.Uint32(b[offEtbTopoCnt:]),
		OpTrnTopoCnt:    binary.BigEndian.Uint32(b[offOpTrnTopoCnt:]),
		DatasetLength:   datasetLength,
		Reserved:        binary.BigEndian.Uint32(b[offReserved:]),
		ReplyComId:      binary.BigEndian.Uint32(b[offReplyComId:]),
		ReplyIPAddress:  binary.BigEndian.Uint32(b[offReplyIPAddress:]),
		SequenceCounter: binary.BigEndian.Uint32(b[offSequenceCounter:]),
	}

	payload := make([]byte, datasetLength)
	copy(payload, b[HeaderSizeV1:])
	return &Frame{V1: h, Payload: payload}, nil
}

func checkV2(b []byte) (*Frame, error) {
	if len(b) < HeaderSizeV2 || len(b) > MaxPacketV2 {
		return nil, pderr.Wrap(pderr.ErrWire, "v2 frame size out of bounds")
	}

	wantCRC := binary.LittleEndian.Uint32(b[offV2FCS:])
	gotCRC := checksum(b[:offV2FCS])
	if wantCRC != gotCRC {
		return nil, pderr.Wrap(pderr.ErrCrc, "v2 header checksum mismatch")
	}

	msgType := MsgTypeV2(b[offV2MsgType])
	if !msgType.valid() {
		return nil, pderr.Wrap(pderr.ErrWire, "v2 unrecognised msgType")
	}

	datasetLength := binary.BigEndian.Uint16(b[offV2DatasetLength:])
	if datasetLength > MaxDatasetV2 {
		return nil, pderr.Wrap(pderr.ErrWire, "v2 datasetLength exceeds MaxDatasetV2")
	}
	if int(datasetLength) != len(b)-HeaderSizeV2 {
		return nil, pderr.Wrap(pderr.ErrWire, "v2 datasetLength does not match frame size")
	}

	h := &V2Header{
		ProtocolVersion: b[offV2ProtocolVersion],
		MsgType:         msgType,
		ComId:           binary.BigEndian.Uint32(b[offV2ComId:]),
		DatasetLength:   datasetLength,
		SequenceCounter: binary.BigEndian.Uint32(b[offV2SequenceCounter:]),
	}

	payload := make([]byte, datasetLength)
	copy(payload, b[HeaderSizeV2:])
	return &Frame{V2: h, Payload: payload}, nil
}
