package pd

import (
	"net"
	"time"

	"github.com/railcomm/trdp-pd/pkg/frame"
	"github.com/railcomm/trdp-pd/pkg/pderr"
	"github.com/railcomm/trdp-pd/pkg/pdlog"
	"github.com/railcomm/trdp-pd/pkg/socket"
)

// handlePullRequest answers an inbound Pr (pull request) frame by
// sending the matching publication immediately as a Pp reply. It tries
// the tx-mutex with TryLock rather than blocking: the rx path must never
// stall behind a concurrent ProcessSend. A reply that cannot be sent
// this cycle is simply dropped and counted; the requester retries rather
// than this side queuing or retrying server-side.
func (s *Session) handlePullRequest(now time.Time, srcIP net.IP, h *frame.V1Header) {
	s.mu.RLock()
	var target *Publication
	for _, p := range s.pubs {
		if p.ComId == h.ReplyComId && !p.isRedundantFollower() {
			target = p
			break
		}
	}
	s.mu.RUnlock()

	if target == nil {
		s.stats.IncNoSubscriber()
		return
	}

	if !s.txMu.TryLock() {
		s.stats.IncPullRepliesDropped()
		pdlog.L.Info("pd: dropped pull reply under tx contention", "comId", target.ComId)
		return
	}
	defer s.txMu.Unlock()

	dest := srcIP
	if h.ReplyIPAddress != 0 {
		dest = uint32ToIP(h.ReplyIPAddress)
	}
	if _, err := s.sendOneLocked(now, target, frame.MsgPp, dest); err != nil {
		pdlog.L.Error(err, "pd: pull reply send failed", "comId", target.ComId)
	}
}

// Request performs an application-initiated pull for comId, asking the
// peer at destIP to answer with a Pp frame addressed to replyComId. The
// usual caller is a pure subscriber that never publishes comId itself,
// so Request does not require an existing local publication: if none
// matches comId it creates a one-shot PR publication for the purpose
// (its own socket, sequence counter starting at 0), sends the Pr frame
// through it, then tears it back down. A local publication that already
// exists for comId is reused instead, exactly as if its ReplyComId had
// been set for one send.
//
// subHandle, if non-zero, is the subscription expecting the reply: its
// receive deadline is re-armed to now so the round-trip to the pull
// reply doesn't itself trip a timeout while the request is in flight. A
// non-zero subHandle that names no subscription is rejected with
// pderr.ErrNoSub before anything is sent.
func (s *Session) Request(comId uint32, destIP net.IP, replyComId uint32, subHandle SubHandle) error {
	if subHandle != (SubHandle{}) {
		s.mu.RLock()
		_, known := s.subs[subHandle]
		s.mu.RUnlock()
		if !known {
			return pderr.Wrap(pderr.ErrNoSub, "request: unknown subscription handle")
		}
	}

	s.mu.RLock()
	var src *Publication
	for _, p := range s.pubs {
		if p.ComId == comId {
			src = p
			break
		}
	}
	s.mu.RUnlock()

	var (
		target    *Publication
		ephemeral bool
		prevReply uint32
	)
	if src != nil {
		target = src
		prevReply = target.ReplyComId
		target.ReplyComId = replyComId
	} else {
		sh, err := s.sockets.Request(s.ownIP, nil, pdUDPPort, socket.Params{QoS: s.defaultQoS, TTL: s.defaultTTL}, socket.UsagePD, false)
		if err != nil {
			return err
		}
		target = &Publication{
			Handle:       newPubHandle(),
			SrcIP:        cloneIP(s.ownIP),
			DestIP:       cloneIP(destIP),
			ComId:        comId,
			ReplyComId:   replyComId,
			SocketHandle: sh,
			msgType:      uint16(frame.MsgPr),
		}
		ephemeral = true

		s.mu.Lock()
		s.pubs[target.Handle] = target
		s.mu.Unlock()
	}

	s.txMu.Lock()
	_, err := s.sendOneLocked(s.Now(), target, frame.MsgPr, destIP)
	if !ephemeral {
		target.ReplyComId = prevReply
	}
	s.txMu.Unlock()

	if ephemeral {
		s.mu.Lock()
		delete(s.pubs, target.Handle)
		s.mu.Unlock()
		if relErr := s.sockets.Release(target.SocketHandle, nil); relErr != nil && err == nil {
			err = relErr
		}
	}

	if subHandle != (SubHandle{}) {
		s.rxMu.Lock()
		if sub, ok := s.subs[subHandle]; ok {
			sub.lastReceived = s.Now()
		}
		s.rxMu.Unlock()
	}

	return err
}
