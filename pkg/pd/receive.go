package pd

import (
	"errors"
	"net"
	"time"

	"github.com/railcomm/trdp-pd/pkg/frame"
	"github.com/railcomm/trdp-pd/pkg/pderr"
	"github.com/railcomm/trdp-pd/pkg/pdlog"
	"github.com/railcomm/trdp-pd/pkg/seqtrack"
)

// maxFramePacket is large enough for either header version's maximum
// packet size; ProcessReceive allocates one read buffer of this size per
// call and reuses it across every socket.
const maxFramePacket = frame.MaxPacketV1

// readNonBlocking performs a single best-effort UDP read: it arms an
// immediate read deadline so a socket with nothing waiting returns
// promptly instead of blocking the caller's event loop.
func readNonBlocking(conn *net.UDPConn, buf []byte) (int, *net.UDPAddr, error) {
	if err := conn.SetReadDeadline(time.Now()); err != nil {
		return 0, nil, err
	}
	n, addr, err := conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, nil, nil
		}
		return 0, nil, err
	}
	return n, addr, nil
}

// ProcessReceive drains every pooled socket once: for each, it reads
// whatever datagram (if any) is already queued, runs it through the wire
// check, topocount validation, subscription lookup and sequence
// tracking, then checks subscription timeouts. A socket with nothing to
// read is skipped without blocking.
func (s *Session) ProcessReceive() error {
	now := s.Now()
	buf := make([]byte, maxFramePacket)

	for _, h := range s.sockets.Handles() {
		conn, ok := s.sockets.Conn(h)
		if !ok {
			continue
		}
		for {
			n, srcAddr, err := readNonBlocking(conn, buf)
			if err != nil {
				pdlog.L.Error(err, "pd: socket read failed")
				break
			}
			if n == 0 {
				break
			}
			raw := make([]byte, n)
			copy(raw, buf[:n])
			s.receive(now, srcAddr.IP, raw)
		}
	}

	s.checkTimeouts(now)
	return nil
}

// receive runs one already-read datagram through the full inbound
// pipeline. It is factored out of ProcessReceive so tests can drive it
// directly with a synthetic frame instead of a real socket.
func (s *Session) receive(now time.Time, srcIP net.IP, raw []byte) {
	f, err := frame.Check(raw)
	if err != nil {
		if errors.Is(err, pderr.ErrCrc) {
			s.stats.IncCrcErr()
		} else {
			s.stats.IncProtErr()
		}
		pdlog.L.V(1).Info("pd: dropped malformed frame", "error", err, "src", srcIP)
		return
	}

	if f.IsV2() {
		s.receiveV2(now, srcIP, f)
		return
	}
	s.receiveV1(now, srcIP, f)
}

func (s *Session) receiveV1(now time.Time, srcIP net.IP, f *frame.Frame) {
	h := f.V1

	if !s.checkTopo(h.EtbTopoCnt, h.OpTrnTopoCnt) {
		s.stats.IncTopoErr()
		return
	}

	if h.MsgType == frame.MsgPr {
		s.handlePullRequest(now, srcIP, h)
		return
	}

	s.mu.RLock()
	sub := s.findSubscription(h.ComId, srcIP, nil)
	s.mu.RUnlock()
	if sub == nil {
		s.stats.IncNoSubscriber()
		return
	}

	s.rxMu.Lock()
	wasTimedOut := sub.isTimedOut()
	key := seqtrack.Key{SrcIP: ipToUint32(srcIP), MsgType: uint16(h.MsgType)}
	result, err := sub.tracker.Check(key, h.SequenceCounter, wasTimedOut)
	if err != nil {
		s.rxMu.Unlock()
		s.stats.IncMemErr()
		pdlog.L.Error(err, "pd: sequence tracker full", "comId", h.ComId)
		return
	}
	if result.Outcome == seqtrack.Duplicate {
		s.rxMu.Unlock()
		return
	}

	payload, uerr := sub.unmarshalPayload(f.Payload)
	info := PDInfo{
		ComId:      h.ComId,
		SrcIP:      cloneIP(srcIP),
		DestIP:     cloneIP(sub.DestIP),
		ServiceId:  h.ServiceID(),
		MsgType:    h.MsgType,
		SeqCount:   h.SequenceCounter,
		ResultCode: uerr,
		UserRef:    sub.UserRef,
		Payload:    payload,
	}
	sub.touch(now, info, f.Payload)
	informUser := shouldInformUser(sub, wasTimedOut, false)
	s.rxMu.Unlock()

	s.stats.IncReceived()
	if informUser && sub.RecvCB != nil {
		sub.RecvCB(info)
	}
}

func (s *Session) receiveV2(now time.Time, srcIP net.IP, f *frame.Frame) {
	h := f.V2

	s.mu.RLock()
	sub := s.findSubscription(h.ComId, srcIP, nil)
	s.mu.RUnlock()
	if sub == nil {
		s.stats.IncNoSubscriber()
		return
	}

	s.rxMu.Lock()
	wasTimedOut := sub.isTimedOut()
	key := seqtrack.Key{SrcIP: ipToUint32(srcIP), MsgType: uint16(h.MsgType)}
	result, err := sub.tracker.Check(key, h.SequenceCounter, wasTimedOut)
	if err != nil {
		s.rxMu.Unlock()
		s.stats.IncMemErr()
		return
	}
	if result.Outcome == seqtrack.Duplicate {
		s.rxMu.Unlock()
		return
	}

	payload, uerr := sub.unmarshalPayload(f.Payload)
	info := PDInfo{
		ComId:      h.ComId,
		SrcIP:      cloneIP(srcIP),
		DestIP:     cloneIP(sub.DestIP),
		SeqCount:   h.SequenceCounter,
		ResultCode: uerr,
		UserRef:    sub.UserRef,
		Payload:    payload,
	}
	sub.touch(now, info, f.Payload)
	informUser := shouldInformUser(sub, wasTimedOut, true)
	s.rxMu.Unlock()

	s.stats.IncReceived()
	if informUser && sub.RecvCB != nil {
		sub.RecvCB(info)
	}
}

// shouldInformUser decides whether a fresh, valid reception should reach
// the subscription's RecvCB: the ordinary case is FlagCallback, but a
// force-callback subscription, a recovery from a prior timeout, or a TSN
// frame all warrant delivery regardless of FlagCallback.
func shouldInformUser(sub *Subscription, wasTimedOut, isTSN bool) bool {
	return sub.Flags.has(FlagCallback) || sub.Flags.has(FlagForceCallback) || wasTimedOut || isTSN
}
