package pd

import (
	"net"
	"time"

	"github.com/railcomm/trdp-pd/pkg/frame"
	"github.com/railcomm/trdp-pd/pkg/pderr"
	"github.com/railcomm/trdp-pd/pkg/pdstats"
	"github.com/railcomm/trdp-pd/pkg/socket"
)

// PubParams describes a publication at creation time: identity plus
// behavior fields. Zero-value Interval marks a pull-only publication,
// one that is only ever sent in response to Request/an inbound Pr.
type PubParams struct {
	SrcIP     net.IP
	DestIP    net.IP
	ComId     uint32
	ServiceId uint8

	Interval time.Duration

	RedundancyGroupID uint32

	QoS, TTL uint8

	Flags         PubFlags
	UserRef       any
	PreSendCB     func(PDInfo)
	MarshalRefCon any
	Marshal       MarshalFunc
}

// Publish creates and registers a new publication. Its socket is
// acquired from the session's pool, shared with any other publication
// that matches on (srcIp, port, QoS, TTL). Subscriptions request
// receive-only sockets, so they never share a socket with a publication.
func (s *Session) Publish(p PubParams) (PubHandle, error) {
	if p.ComId == 0 {
		return PubHandle{}, pderr.Wrap(pderr.ErrParam, "publish: comId must be non-zero")
	}

	srcIP := p.SrcIP
	if srcIP == nil {
		srcIP = s.ownIP
	}

	var mcGroup net.IP
	if p.DestIP != nil && p.DestIP.IsMulticast() {
		mcGroup = p.DestIP
	}

	qos, ttl := p.QoS, p.TTL
	if qos == 0 {
		qos = s.defaultQoS
	}
	if ttl == 0 {
		ttl = s.defaultTTL
	}

	sh, err := s.sockets.Request(srcIP, mcGroup, pdUDPPort, socket.Params{QoS: qos, TTL: ttl}, socket.UsagePD, false)
	if err != nil {
		return PubHandle{}, err
	}

	pub := &Publication{
		Handle:            newPubHandle(),
		SrcIP:             cloneIP(srcIP),
		DestIP:            cloneIP(p.DestIP),
		ComId:             p.ComId,
		ServiceId:         p.ServiceId,
		Interval:          p.Interval,
		NextDueTime:       s.Now().Add(p.Interval),
		RedundancyGroupID: p.RedundancyGroupID,
		SocketHandle:      sh,
		UserRef:           p.UserRef,
		PreSendCB:         p.PreSendCB,
		Flags:             p.Flags,
		MarshalRefCon:     p.MarshalRefCon,
		Marshal:           p.Marshal,
		msgType:           uint16(frame.MsgPd),
	}

	s.mu.Lock()
	s.pubs[pub.Handle] = pub
	if pub.RedundancyGroupID != 0 {
		if _, known := s.redundancyLeader[pub.RedundancyGroupID]; !known {
			s.redundancyLeader[pub.RedundancyGroupID] = true
		}
		pub.setRedundantFollower(!s.redundancyLeader[pub.RedundancyGroupID])
	}
	s.mu.Unlock()

	s.txMu.Lock()
	switch s.scheduler {
	case SchedulerIndexed:
		s.indexed.updateSession(pub)
	default:
		s.legacy.insert(pub)
	}
	s.txMu.Unlock()

	s.stats.IncPub()
	return pub.Handle, nil
}

// Republish updates an existing publication's interval and/or
// destination without tearing down its socket or resetting its sequence
// counters, the non-disruptive variant of unpublish+publish.
func (s *Session) Republish(h PubHandle, interval time.Duration, destIP net.IP) error {
	s.mu.Lock()
	pub, ok := s.pubs[h]
	s.mu.Unlock()
	if !ok {
		return pderr.Wrap(pderr.ErrNoPub, "republish: unknown handle")
	}

	s.txMu.Lock()
	pub.Interval = interval
	if destIP != nil {
		pub.DestIP = cloneIP(destIP)
	}
	pub.NextDueTime = s.Now().Add(interval)
	if s.scheduler == SchedulerIndexed {
		s.indexed.updateSession(pub)
	} else {
		s.legacy.reorder(pub)
	}
	s.txMu.Unlock()
	return nil
}

// Unpublish removes a publication and releases its socket reference.
func (s *Session) Unpublish(h PubHandle) error {
	s.mu.Lock()
	pub, ok := s.pubs[h]
	if !ok {
		s.mu.Unlock()
		return pderr.Wrap(pderr.ErrNoPub, "unpublish: unknown handle")
	}
	delete(s.pubs, h)
	s.mu.Unlock()

	s.txMu.Lock()
	if s.scheduler == SchedulerIndexed {
		s.indexed.removePublication(pub)
	} else {
		s.legacy.remove(pub)
	}
	s.txMu.Unlock()

	s.stats.DecPub()

	var mcGroup net.IP
	if pub.DestIP != nil && pub.DestIP.IsMulticast() {
		mcGroup = pub.DestIP
	}
	return s.sockets.Release(pub.SocketHandle, mcGroup)
}

// Put stages new application data on a publication, validating it is
// small enough to fit a frame and marking it ready for the next
// scheduled (or requested) send.
func (s *Session) Put(h PubHandle, data []byte) error {
	s.mu.RLock()
	pub, ok := s.pubs[h]
	s.mu.RUnlock()
	if !ok {
		return pderr.Wrap(pderr.ErrNoPub, "put: unknown handle")
	}
	if len(data) > frame.MaxDatasetV1 {
		return pderr.Wrap(pderr.ErrParam, "put: payload exceeds MaxDatasetV1")
	}

	s.txMu.Lock()
	pub.pendingData = append(pub.pendingData[:0:0], data...)
	pub.setInvalidData(false)
	if s.scheduler == SchedulerLegacy {
		pub.recalcThroughput()
		s.legacy.reorder(pub)
	}
	s.txMu.Unlock()
	return nil
}

// PutImmediate stages data like Put and sends it immediately rather than
// waiting for the next scheduled due time, for applications that need to
// push a change-driven update ahead of its cyclic cadence.
func (s *Session) PutImmediate(h PubHandle, data []byte) error {
	if err := s.Put(h, data); err != nil {
		return err
	}

	s.mu.RLock()
	pub, ok := s.pubs[h]
	s.mu.RUnlock()
	if !ok {
		return pderr.Wrap(pderr.ErrNoPub, "putimmediate: unknown handle")
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()
	if pub.isRedundantFollower() {
		return nil
	}
	_, err := s.sendOneLocked(s.Now(), pub, frame.MsgPd, pub.DestIP)
	return err
}

// SubParams describes a subscription at creation time.
type SubParams struct {
	ComId            uint32
	SrcIPLo, SrcIPHi net.IP
	DestIP           net.IP
	ServiceId        uint8

	Timeout         time.Duration
	TimeoutBehavior TimeoutBehavior

	Flags           PubFlags
	UserRef         any
	RecvCB          func(PDInfo)
	UnmarshalRefCon any
	Unmarshal       UnmarshalFunc
}

// Subscribe creates and registers a new subscription. If DestIP is
// multicast, the underlying socket joins that group.
func (s *Session) Subscribe(p SubParams) (SubHandle, error) {
	if p.ComId == 0 {
		return SubHandle{}, pderr.Wrap(pderr.ErrParam, "subscribe: comId must be non-zero")
	}

	var mcGroup net.IP
	if p.DestIP != nil && p.DestIP.IsMulticast() {
		mcGroup = p.DestIP
	}

	sh, err := s.sockets.Request(s.ownIP, mcGroup, pdUDPPort, socket.Params{QoS: s.defaultQoS, TTL: s.defaultTTL}, socket.UsagePD, true)
	if err != nil {
		return SubHandle{}, err
	}

	sub := newSubscription()
	sub.ComId = p.ComId
	sub.SrcIPLo, sub.SrcIPHi = cloneIP(p.SrcIPLo), cloneIP(p.SrcIPHi)
	sub.DestIP = cloneIP(p.DestIP)
	sub.ServiceId = p.ServiceId
	sub.Timeout = p.Timeout
	sub.TimeoutBehavior = p.TimeoutBehavior
	sub.Flags = p.Flags
	sub.UserRef = p.UserRef
	sub.RecvCB = p.RecvCB
	sub.UnmarshalRefCon = p.UnmarshalRefCon
	sub.Unmarshal = p.Unmarshal
	sub.SocketHandle = sh
	sub.setMcJoined(mcGroup != nil)

	s.mu.Lock()
	s.subs[sub.Handle] = sub
	s.indexRcvTable()
	s.mu.Unlock()

	s.stats.IncSub()
	return sub.Handle, nil
}

// Resubscribe updates routing on an existing subscription and resets its
// sequence tracker, since a changed source range invalidates any
// in-progress dedup state.
func (s *Session) Resubscribe(h SubHandle, srcIPLo, srcIPHi net.IP, timeout time.Duration) error {
	s.mu.Lock()
	sub, ok := s.subs[h]
	s.mu.Unlock()
	if !ok {
		return pderr.Wrap(pderr.ErrNoSub, "resubscribe: unknown handle")
	}

	s.rxMu.Lock()
	sub.SrcIPLo, sub.SrcIPHi = cloneIP(srcIPLo), cloneIP(srcIPHi)
	sub.Timeout = timeout
	sub.tracker.Reset()
	sub.setTimedOut(false)
	s.rxMu.Unlock()
	return nil
}

// Unsubscribe removes a subscription and releases its socket reference.
func (s *Session) Unsubscribe(h SubHandle) error {
	s.mu.Lock()
	sub, ok := s.subs[h]
	if !ok {
		s.mu.Unlock()
		return pderr.Wrap(pderr.ErrNoSub, "unsubscribe: unknown handle")
	}
	delete(s.subs, h)
	s.indexRcvTable()
	s.mu.Unlock()

	s.stats.DecSub()

	var mcGroup net.IP
	if sub.isMcJoined() {
		mcGroup = sub.DestIP
	}
	return s.sockets.Release(sub.SocketHandle, mcGroup)
}

// Get returns the most recently received payload and its metadata for a
// subscription, honoring TimeoutBehavior if the subscription has timed
// out.
func (s *Session) Get(h SubHandle) (PDInfo, []byte, error) {
	s.mu.RLock()
	sub, ok := s.subs[h]
	s.mu.RUnlock()
	if !ok {
		return PDInfo{}, nil, pderr.Wrap(pderr.ErrNoSub, "get: unknown handle")
	}

	s.rxMu.Lock()
	defer s.rxMu.Unlock()
	info, payload := sub.snapshot()
	return info, payload, nil
}

// PublicationInterval returns a publication's currently configured send
// interval. For the caller's sleep-before-Process hint, see GetInterval.
func (s *Session) PublicationInterval(h PubHandle) (time.Duration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pub, ok := s.pubs[h]
	if !ok {
		return 0, pderr.Wrap(pderr.ErrNoPub, "publicationinterval: unknown handle")
	}
	return pub.Interval, nil
}

// UpdateSession re-places every publication into the indexed scheduler's
// slot tables, needed after switching SchedulerMode at runtime or after
// a bulk interval change.
func (s *Session) UpdateSession() {
	s.mu.RLock()
	pubs := make([]*Publication, 0, len(s.pubs))
	for _, p := range s.pubs {
		pubs = append(pubs, p)
	}
	s.mu.RUnlock()

	s.txMu.Lock()
	defer s.txMu.Unlock()
	for _, p := range pubs {
		s.indexed.updateSession(p)
	}
}

// PresetIndexSession resets the indexed scheduler's cycle clock to now,
// so the first ProcessSend after a bulk load doesn't treat elapsed
// wall-clock time as a backlog of due sends.
func (s *Session) PresetIndexSession() {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.indexed.presetIndexSession(s.Now())
}

// StatsReply returns the current global counters encoded for a
// ComIDStatsReply payload, the engine's self-describing statistics
// exchange. Callers wire this into a
// publication on pdstats.ComIDStatsReply if they want the exchange
// exposed on the bus.
func (s *Session) StatsReply() []byte {
	return pdstats.EncodeGlobal(s.Stats(), s.InstID)
}
