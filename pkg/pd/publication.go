package pd

import (
	"net"
	"time"

	"github.com/railcomm/trdp-pd/pkg/socket"
)

// Publication is the send-side descriptor: identity is (SrcIP, DestIP,
// ComId, ServiceId); the scheduler walks these looking for due sends.
type Publication struct {
	Handle PubHandle

	SrcIP     net.IP
	DestIP    net.IP // unicast destination or multicast group
	ComId     uint32
	ServiceId uint8

	Interval    time.Duration // 0 means "pull-only": never sent by timer
	NextDueTime time.Time

	RedundancyGroupID uint32

	ReplyComId     uint32
	ReplyIPAddress net.IP

	SocketHandle socket.Handle

	UserRef        any
	PreSendCB      func(PDInfo)
	Flags          PubFlags
	MarshalRefCon  any
	Marshal        MarshalFunc

	priv pubPriv

	pushSeq seqCnt
	pullSeq seqCnt

	// pendingData is the last payload staged by Put; currentFrame is the
	// wire bytes built from it at send time.
	pendingData  []byte
	currentFrame []byte

	// msgType is the frame's configured message type: MsgPd for a cyclic
	// push publication, MsgPr for a one-shot local pull request.
	msgType uint16

	// throughput orders the legacy queue by byte rate, highest first, so
	// high-bandwidth low-interval telegrams stay near the head for cache
	// locality.
	throughput float64
}

func (p *Publication) setInvalidData(v bool) {
	if v {
		p.priv |= pubInvalidData
	} else {
		p.priv &^= pubInvalidData
	}
}

func (p *Publication) isInvalidData() bool { return p.priv.has(pubInvalidData) }

func (p *Publication) setRedundantFollower(v bool) {
	if v {
		p.priv |= pubRedundantFollower
	} else {
		p.priv &^= pubRedundantFollower
	}
}

func (p *Publication) isRedundantFollower() bool { return p.priv.has(pubRedundantFollower) }

func (p *Publication) setReqToSend(v bool) {
	if v {
		p.priv |= pubReqToSend
	} else {
		p.priv &^= pubReqToSend
	}
}

func (p *Publication) hasReqToSend() bool { return p.priv.has(pubReqToSend) }

// promote resets this publication's sequence counters to "never sent":
// the next frame transmitted after a redundancy promotion carries
// sequence 0, a visible marker on the bus that a switchover happened.
func (p *Publication) promote() {
	p.pushSeq.reset()
	p.pullSeq.reset()
}

// recalcThroughput updates the ordering key used by the legacy queue's
// descending-throughput discipline: bytes per second this publication is
// expected to put on the wire.
func (p *Publication) recalcThroughput() {
	if p.Interval <= 0 {
		p.throughput = 0
		return
	}
	p.throughput = float64(len(p.currentFrame)) / p.Interval.Seconds()
}

// datasetLen returns the length of the payload staged by Put() once a
// frame has been built for this publication (0 before that); kept as a
// method so callers never need to know the frame's internal layout.
// recalcThroughput does not use it: throughput is computed from the
// built frame's length.
func (p *Publication) datasetLen() int {
	if len(p.currentFrame) == 0 {
		return 0
	}
	return len(p.pendingData)
}
