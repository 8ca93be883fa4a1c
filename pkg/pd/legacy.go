package pd

import (
	"time"

	"github.com/gammazero/deque"
)

// legacyScheduler is the list-walking publication scheduler: every
// ProcessSend call walks the whole publication list looking for entries
// whose NextDueTime has arrived. Ordering within the list is by
// descending throughput: a new publication is inserted ahead of the
// first entry with equal or lower throughput, so ProcessSend's single
// pass tends to drain high-bandwidth, short-interval telegrams first
// when several are due in the same call.
type legacyScheduler struct {
	order deque.Deque[*Publication]
}

func newLegacyScheduler() *legacyScheduler {
	return &legacyScheduler{}
}

// insert places p into the scheduling order by descending throughput,
// recomputed from its current frame size and interval.
func (l *legacyScheduler) insert(p *Publication) {
	p.recalcThroughput()
	n := l.order.Len()
	for i := 0; i < n; i++ {
		if l.order.At(i).throughput <= p.throughput {
			l.order.Insert(i, p)
			return
		}
	}
	l.order.PushBack(p)
}

// remove drops p from the scheduling order; it is a no-op if p is not
// present.
func (l *legacyScheduler) remove(p *Publication) {
	n := l.order.Len()
	for i := 0; i < n; i++ {
		if l.order.At(i) == p {
			l.order.Remove(i)
			return
		}
	}
}

// reorder re-inserts p at its current throughput position, used after a
// Put() changes the frame's dataset length enough to move it in the
// ordering.
func (l *legacyScheduler) reorder(p *Publication) {
	l.remove(p)
	l.insert(p)
}

// due returns every publication whose NextDueTime is at or before now,
// in scheduling order, and advances each one's NextDueTime by its
// interval. Pull-only publications (Interval == 0) are never returned
// here; they are sent only by an explicit Request call. A redundant
// follower still has its NextDueTime advanced on every tick it is due,
// so its virtual clock stays coherent with the leader's and a
// promotion to leader doesn't inherit a stale due time; it is simply
// left out of the returned slice so it never transmits.
func (l *legacyScheduler) due(now time.Time) []*Publication {
	var out []*Publication
	n := l.order.Len()
	for i := 0; i < n; i++ {
		p := l.order.At(i)
		if p.Interval <= 0 {
			continue
		}
		if p.NextDueTime.After(now) {
			continue
		}
		p.NextDueTime = p.NextDueTime.Add(p.Interval)
		if p.NextDueTime.Before(now) {
			// Catch up rather than burst-send a backlog if the engine
			// wasn't called for longer than one interval.
			p.NextDueTime = now.Add(p.Interval)
		}
		if p.isRedundantFollower() {
			continue
		}
		out = append(out, p)
	}
	return out
}
