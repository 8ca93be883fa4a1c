// Package seqtrack implements the per-subscription sequence-counter
// tracker: a growable list of (srcIp, msgType) entries, each holding the
// last accepted sequence counter for that source's stream.
package seqtrack

import (
	"github.com/gammazero/deque"

	"github.com/railcomm/trdp-pd/pkg/pderr"
)

// MaxEntries bounds the per-subscription source list. A subscription
// that legitimately sees traffic from more distinct (srcIp, msgType)
// pairs than this is almost certainly misconfigured (e.g. a wildcard
// subscription on a storm of spoofed sources); Check returns pderr.ErrMem
// once the cap is hit rather than growing without bound.
const MaxEntries = 64

// Key identifies one source stream within a subscription: the sender's
// address and the message type it is sending (push vs. pull-reply
// streams are tracked independently).
type Key struct {
	SrcIP   uint32
	MsgType uint16
}

type entry struct {
	key        Key
	lastSeqCnt uint32
	numMissed  uint32
}

// Tracker holds the sliding-window dedup state for one subscription. It
// is not safe for concurrent use; callers serialize access with the
// session's rx-mutex.
type Tracker struct {
	entries deque.Deque[entry]
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{}
}

// Outcome is the result of checking one received sequence counter.
type Outcome int

const (
	// Accept means the packet is new data the caller should stage.
	Accept Outcome = iota
	// Duplicate means the packet is an old or repeated sequence counter
	// and must be dropped silently: no timer update, no callback.
	Duplicate
)

// Result reports the disposition of a Check call.
type Result struct {
	Outcome   Outcome
	NumMissed uint32 // cumulative missed count for this source, after this packet
	WasReset  bool   // true if this packet started a fresh tracking window
}

// Check applies the dedup/reset decision rule for one received sequence
// counter from the given source. timedOut is the subscription's current
// timed-out flag; a reset also implies the caller should clear that flag.
func (t *Tracker) Check(key Key, seq uint32, timedOut bool) (Result, error) {
	idx, found := t.find(key)

	if !found || timedOut || seq == 0 {
		if !found {
			if t.entries.Len() >= MaxEntries {
				return Result{}, pderr.Wrap(pderr.ErrMem, "sequence tracker source list full")
			}
			t.entries.PushBack(entry{key: key, lastSeqCnt: seq})
		} else {
			e := t.entries.At(idx)
			e.lastSeqCnt = seq
			e.numMissed = 0
			t.entries.Set(idx, e)
		}
		return Result{Outcome: Accept, WasReset: true}, nil
	}

	e := t.entries.At(idx)
	if seq <= e.lastSeqCnt {
		return Result{Outcome: Duplicate}, nil
	}

	if seq > e.lastSeqCnt+1 {
		e.numMissed += seq - e.lastSeqCnt - 1
	}
	e.lastSeqCnt = seq
	t.entries.Set(idx, e)
	return Result{Outcome: Accept, NumMissed: e.numMissed}, nil
}

// Reset clears all tracked sources, as happens when a subscription is
// resubscribed with new routing.
func (t *Tracker) Reset() {
	for t.entries.Len() > 0 {
		t.entries.PopFront()
	}
}

// Len reports the number of distinct sources currently tracked.
func (t *Tracker) Len() int { return t.entries.Len() }

func (t *Tracker) find(key Key) (int, bool) {
	for i := 0; i < t.entries.Len(); i++ {
		if t.entries.At(i).key == key {
			return i, true
		}
	}
	return 0, false
}
