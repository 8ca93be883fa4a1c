package pd

import (
	"net"
	"time"

	"github.com/railcomm/trdp-pd/pkg/frame"
	"github.com/railcomm/trdp-pd/pkg/pderr"
	"github.com/railcomm/trdp-pd/pkg/seqtrack"
	"github.com/railcomm/trdp-pd/pkg/socket"
)

// Subscription is the receive-side descriptor. Identity is
// (ComId, SrcIP range, DestIP); it is refreshed on every valid reception
// and monitored for timeout independently of any publication.
type Subscription struct {
	Handle SubHandle

	ComId  uint32
	SrcIPLo, SrcIPHi net.IP // inclusive range; zero/zero means "any source"
	DestIP net.IP           // unicast addr or multicast group joined
	ServiceId uint8

	SocketHandle socket.Handle

	Timeout         time.Duration
	TimeoutBehavior TimeoutBehavior
	lastReceived    time.Time

	UserRef         any
	RecvCB          func(PDInfo)
	Flags           PubFlags
	UnmarshalRefCon any
	Unmarshal       UnmarshalFunc

	priv subPriv

	seqKey  seqtrack.Key
	tracker *seqtrack.Tracker

	lastFrame   []byte
	lastPayload []byte
	lastMsgType frame.MsgType
	lastSeqCnt  uint32
	lastResult  error
}

func newSubscription() *Subscription {
	return &Subscription{
		Handle:  newSubHandle(),
		tracker: seqtrack.New(),
	}
}

func (s *Subscription) setTimedOut(v bool) {
	if v {
		s.priv |= subTimedOut
	} else {
		s.priv &^= subTimedOut
	}
}

func (s *Subscription) isTimedOut() bool { return s.priv.has(subTimedOut) }

func (s *Subscription) setInvalidData(v bool) {
	if v {
		s.priv |= subInvalidData
	} else {
		s.priv &^= subInvalidData
	}
}

func (s *Subscription) isInvalidData() bool { return s.priv.has(subInvalidData) }

func (s *Subscription) setMcJoined(v bool) {
	if v {
		s.priv |= subMcJoined
	} else {
		s.priv &^= subMcJoined
	}
}

func (s *Subscription) isMcJoined() bool { return s.priv.has(subMcJoined) }

// matchesSource reports whether srcIP is acceptable for this subscription.
func (s *Subscription) matchesSource(srcIP net.IP) bool {
	return ipInRange(srcIP, s.SrcIPLo, s.SrcIPHi)
}

// touch records a fresh, valid reception: it clears the timed-out state,
// restarts the timeout deadline and stores the frame for Get().
func (s *Subscription) touch(now time.Time, info PDInfo, rawFrame []byte) {
	s.lastReceived = now
	s.setTimedOut(false)
	s.setInvalidData(info.ResultCode != nil)
	s.lastPayload = info.Payload
	s.lastMsgType = info.MsgType
	s.lastSeqCnt = info.SeqCount
	s.lastResult = info.ResultCode
	s.lastFrame = rawFrame
}

// deadline returns the instant after which this subscription is
// considered timed out, or the zero Time if no reception has ever
// occurred and therefore no deadline is running yet.
func (s *Subscription) deadline() time.Time {
	if s.lastReceived.IsZero() || s.Timeout <= 0 {
		return time.Time{}
	}
	return s.lastReceived.Add(s.Timeout)
}

// snapshot returns the PDInfo and payload Get() should hand back,
// honoring TimeoutBehavior once the subscription has timed out.
func (s *Subscription) snapshot() (PDInfo, []byte) {
	info := PDInfo{
		ComId:      s.ComId,
		DestIP:     cloneIP(s.DestIP),
		ServiceId:  s.ServiceId,
		MsgType:    s.lastMsgType,
		SeqCount:   s.lastSeqCnt,
		ResultCode: s.lastResult,
		UserRef:    s.UserRef,
	}
	if s.isTimedOut() {
		info.ResultCode = pderr.ErrTimeout
		if s.TimeoutBehavior == SetToZero {
			return info, nil
		}
	}
	return info, s.lastPayload
}
