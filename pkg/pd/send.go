package pd

import (
	"net"
	"time"

	"github.com/railcomm/trdp-pd/pkg/frame"
	"github.com/railcomm/trdp-pd/pkg/pderr"
	"github.com/railcomm/trdp-pd/pkg/pdlog"
)

// sendOneLocked builds and transmits one frame for p. Callers must hold
// s.txMu; it never takes the lock itself so handlePullRequest's TryLock
// and ProcessSend's ordinary cycle share one code path.
func (s *Session) sendOneLocked(now time.Time, p *Publication, msgType frame.MsgType, dest net.IP) ([]byte, error) {
	conn, ok := s.sockets.Conn(p.SocketHandle)
	if !ok {
		return nil, pderr.Wrap(pderr.ErrSock, "publication's socket handle no longer pooled")
	}

	var seq uint32
	if msgType == frame.MsgPr || msgType == frame.MsgPp {
		seq = p.pullSeq.next()
	} else {
		seq = p.pushSeq.next()
	}

	wire, err := p.buildFrame(s.etbTopo(), s.opTrnTopo(), msgType, seq)
	if err != nil {
		return nil, err
	}

	if p.Flags.has(FlagCallback) && p.PreSendCB != nil {
		p.PreSendCB(PDInfo{
			ComId:     p.ComId,
			SrcIP:     cloneIP(p.SrcIP),
			DestIP:    cloneIP(dest),
			ServiceId: p.ServiceId,
			MsgType:   msgType,
			SeqCount:  seq,
			UserRef:   p.UserRef,
			Payload:   p.pendingData,
		})
	}

	if _, err := conn.WriteToUDP(wire, &net.UDPAddr{IP: dest, Port: pdUDPPort}); err != nil {
		pdlog.L.Error(err, "pd: send failed", "comId", p.ComId)
		return nil, pderr.Wrap(pderr.ErrSock, "write failed")
	}

	p.setReqToSend(false)
	s.stats.IncTransmitted()
	return wire, nil
}

// pdUDPPort is the PD well-known UDP port (IEC 61375-2-3).
const pdUDPPort = 17224

// ProcessSend walks the active scheduler (legacy or indexed, per the
// session's configured mode) and transmits every publication whose
// NextDueTime has arrived.
func (s *Session) ProcessSend() error {
	now := s.Now()

	s.mu.RLock()
	mode := s.scheduler
	s.mu.RUnlock()

	s.txMu.Lock()
	defer s.txMu.Unlock()

	var due []*Publication
	switch mode {
	case SchedulerIndexed:
		due = s.indexed.due(now)
	default:
		due = s.legacy.due(now)
	}

	var firstErr error
	for _, p := range due {
		if p.isInvalidData() {
			continue
		}
		if _, err := s.sendOneLocked(now, p, frame.MsgPd, p.DestIP); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Process drives one full engine cycle: receive, then send, so inbound
// traffic is processed before deciding what is due to go out.
func (s *Session) Process() error {
	if err := s.ProcessReceive(); err != nil {
		return err
	}
	return s.ProcessSend()
}

// defaultIdleInterval caps how long GetInterval ever reports when
// nothing is currently scheduled sooner, so a single-thread caller
// running getInterval -> sleep -> process still wakes often enough to
// notice a publication or subscription added from another goroutine.
const defaultIdleInterval = time.Second

// GetInterval returns how long the caller may sleep before the next
// Process call has useful work to do: the time until the earliest due
// publication or subscription timeout. It takes no scheduling action
// itself and is only a hint for the single-thread
// getInterval -> wait -> process pattern; a caller driving ProcessSend
// and ProcessReceive on its own cadence can ignore it entirely.
func (s *Session) GetInterval() time.Duration {
	now := s.Now()
	earliest := now.Add(defaultIdleInterval)

	s.mu.RLock()
	mode := s.scheduler
	pubs := make([]*Publication, 0, len(s.pubs))
	for _, p := range s.pubs {
		pubs = append(pubs, p)
	}
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	if mode == SchedulerIndexed {
		if tick := now.Add(s.indexed.lowGranularity); tick.Before(earliest) {
			earliest = tick
		}
	} else {
		s.txMu.Lock()
		for _, p := range pubs {
			if p.Interval <= 0 || p.isRedundantFollower() {
				continue
			}
			if p.NextDueTime.Before(earliest) {
				earliest = p.NextDueTime
			}
		}
		s.txMu.Unlock()
	}

	s.rxMu.Lock()
	for _, sub := range subs {
		dl := sub.deadline()
		if dl.IsZero() || sub.isTimedOut() {
			continue
		}
		if dl.Before(earliest) {
			earliest = dl
		}
	}
	s.rxMu.Unlock()

	if earliest.Before(now) {
		return 0
	}
	return earliest.Sub(now)
}
