package pd

import "net"

// rcvTableEntry is one row of the receive-side lookup table:
// subscriptions sharing a comId are grouped so a receive only has to
// disambiguate within that group by source range, instead of scanning
// every subscription in the session.
type rcvTableEntry struct {
	comId uint32
	subs  []*Subscription
}

// findSubscription locates the subscription matching comId and srcIP.
// Disambiguating further by destIP (a receiver joined to several
// multicast groups under the same comId) needs the destination address
// alongside the payload; pkg/socket's pooled *net.UDPConn does not
// currently surface that per-datagram, so receive() passes nil here and
// this falls back to source-range matching only. A session that
// publishes the same comId to more than one group on the same socket is
// outside today's test matrix; widening pkg/socket's read path to hand
// back per-packet destination is the natural follow-up.
func (s *Session) findSubscription(comId uint32, srcIP, destIP net.IP) *Subscription {
	lo, hi := 0, len(s.rcvTable)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		switch {
		case s.rcvTable[mid].comId < comId:
			lo = mid + 1
		case s.rcvTable[mid].comId > comId:
			hi = mid - 1
		default:
			return matchInGroup(s.rcvTable[mid].subs, srcIP, destIP)
		}
	}
	return nil
}

func matchInGroup(subs []*Subscription, srcIP, destIP net.IP) *Subscription {
	for _, sub := range subs {
		if !sub.matchesSource(srcIP) {
			continue
		}
		if destIP != nil && sub.DestIP != nil && !sub.DestIP.IsUnspecified() && !sub.DestIP.Equal(destIP) {
			continue
		}
		return sub
	}
	return nil
}

// indexRcvTable rebuilds the sorted comId groups from the live
// subscription table. Called after every Subscribe/Unsubscribe; session
// sizes in this domain (tens to low hundreds of telegrams) make a full
// rebuild cheaper than maintaining an insertion-sorted structure
// incrementally.
func (s *Session) indexRcvTable() {
	groups := make(map[uint32][]*Subscription, len(s.subs))
	for _, sub := range s.subs {
		groups[sub.ComId] = append(groups[sub.ComId], sub)
	}

	table := make([]rcvTableEntry, 0, len(groups))
	for comId, subs := range groups {
		table = append(table, rcvTableEntry{comId: comId, subs: subs})
	}
	for i := 1; i < len(table); i++ {
		for j := i; j > 0 && table[j-1].comId > table[j].comId; j-- {
			table[j-1], table[j] = table[j], table[j-1]
		}
	}
	s.rcvTable = table
}
