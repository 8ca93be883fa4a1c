package pd

import (
	"github.com/railcomm/trdp-pd/pkg/frame"
	"github.com/railcomm/trdp-pd/pkg/pderr"
)

// buildFrame runs a publication's staged payload through its marshaller
// (if any) and encodes the result as a wire frame, stamping the sequence
// counter appropriate to the message type: push sequence for a cyclic
// Pd send, pull sequence for a Pr/Pp send.
func (p *Publication) buildFrame(etbTopo, opTrnTopo uint32, msgType frame.MsgType, seq uint32) ([]byte, error) {
	payload := p.pendingData
	if p.Flags.has(FlagMarshall) && p.Marshal != nil {
		out, err := p.Marshal(p.MarshalRefCon, p.ComId, payload, nil)
		if err != nil {
			return nil, pderr.Wrap(pderr.ErrParam, "marshal callback failed")
		}
		payload = out
	}

	h := frame.V1Header{
		ProtocolVersion: frame.ProtocolVersion1,
		MsgType:         msgType,
		ComId:           p.ComId,
		EtbTopoCnt:      etbTopo,
		OpTrnTopoCnt:    opTrnTopo,
		ReplyComId:      p.ReplyComId,
		ReplyIPAddress:  ipToUint32(p.ReplyIPAddress),
		SequenceCounter: seq,
	}.WithServiceID(p.ServiceId)

	wire, err := frame.EncodeV1(h, payload)
	if err != nil {
		return nil, err
	}
	p.currentFrame = wire
	return wire, nil
}

// unmarshalPayload runs a subscription's unmarshaller over raw payload
// bytes, if one is configured; otherwise it returns payload unchanged.
func (s *Subscription) unmarshalPayload(payload []byte) ([]byte, error) {
	if !s.Flags.has(FlagMarshall) || s.Unmarshal == nil {
		return payload, nil
	}
	out, err := s.Unmarshal(s.UnmarshalRefCon, s.ComId, payload, nil)
	if err != nil {
		return nil, pderr.Wrap(pderr.ErrParam, "unmarshal callback failed")
	}
	return out, nil
}
