package pd

import "time"

// indexedScheduler is the O(1) alternative to the legacy list walk:
// publications are placed into one of three fixed-size slot tables keyed
// by their interval's magnitude, plus an extended linear list for
// intervals too long to fit any table. ProcessSend then visits only the
// slot(s) due this cycle instead of the whole publication set.
//
// SlotBase10 spaces slots in round millisecond steps; SlotBase2 spaces
// them in power-of-two steps for deployments that prefer that cadence.
type indexedScheduler struct {
	base SlotBase

	lowGranularity  time.Duration
	midGranularity  time.Duration
	highGranularity time.Duration

	low  [][]*Publication
	mid  [][]*Publication
	high [][]*Publication

	lowPos, midPos, highPos int

	// extended holds publications whose interval exceeds the high
	// table's total span; these are still visited every cycle, same as
	// the legacy scheduler, but are expected to be rare.
	extended []*Publication

	cycleStart time.Time
	started    bool
}

// Slot table sizes and granularities.
const (
	slotsBase10Low, granBase10Low   = 100, time.Millisecond       // intervals up to 100ms, 1ms steps
	slotsBase10Mid, granBase10Mid   = 100, 10 * time.Millisecond  // up to 1s, 10ms steps
	slotsBase10High, granBase10High = 100, 100 * time.Millisecond // up to 10s, 100ms steps

	slotsBase2Low, granBase2Low   = 128, time.Millisecond      // up to 128ms
	slotsBase2Mid, granBase2Mid   = 128, 8 * time.Millisecond  // up to 1024ms
	slotsBase2High, granBase2High = 128, 64 * time.Millisecond // up to 8192ms
)

func newIndexedScheduler(base SlotBase) *indexedScheduler {
	s := &indexedScheduler{base: base}
	switch base {
	case SlotBase2:
		s.lowGranularity, s.midGranularity, s.highGranularity = granBase2Low, granBase2Mid, granBase2High
		s.low = make([][]*Publication, slotsBase2Low)
		s.mid = make([][]*Publication, slotsBase2Mid)
		s.high = make([][]*Publication, slotsBase2High)
	default:
		s.lowGranularity, s.midGranularity, s.highGranularity = granBase10Low, granBase10Mid, granBase10High
		s.low = make([][]*Publication, slotsBase10Low)
		s.mid = make([][]*Publication, slotsBase10Mid)
		s.high = make([][]*Publication, slotsBase10High)
	}
	return s
}

// tableFor picks which slot table a publication's interval belongs in
// and returns it with that table's granularity; ok is false when the
// interval exceeds every table's span.
func (s *indexedScheduler) tableFor(interval time.Duration) (table [][]*Publication, granularity time.Duration, ok bool) {
	switch {
	case interval <= s.lowGranularity*time.Duration(len(s.low)):
		return s.low, s.lowGranularity, true
	case interval <= s.midGranularity*time.Duration(len(s.mid)):
		return s.mid, s.midGranularity, true
	case interval <= s.highGranularity*time.Duration(len(s.high)):
		return s.high, s.highGranularity, true
	default:
		return nil, 0, false
	}
}

// updateSession places p into the table matching its interval, walking
// a table once per granularity tick means a publication occupying only
// one cell would fire once per full table traversal (slots *
// granularity) rather than at its declared interval. Instead p is
// placed into count = slots / stride cells, stride apart (stride being
// its interval expressed in ticks), so the walk hits one of its cells
// every stride ticks: once per p.Interval on average. Each individual
// cell placement still scans backward for the nearest free slot so load
// spreads out instead of stacking multiple publications into one tick.
func (s *indexedScheduler) updateSession(p *Publication) {
	s.removePublication(p)

	if p.Interval <= 0 {
		s.extended = append(s.extended, p)
		return
	}

	table, granularity, ok := s.tableFor(p.Interval)
	if !ok {
		s.extended = append(s.extended, p)
		return
	}

	n := len(table)
	stride := int(p.Interval / granularity)
	if stride <= 0 {
		stride = 1
	}
	if stride > n {
		stride = n
	}
	natural := stride % n

	count := n / stride
	if count <= 0 {
		count = 1
	}

	for c := 0; c < count; c++ {
		base := (natural + c*stride) % n
		slot := base
		for i := 0; i < n; i++ {
			idx := (base - i + n) % n
			if len(table[idx]) == 0 {
				slot = idx
				break
			}
		}
		table[slot] = append(table[slot], p)
	}
}

// removePublication drops every occurrence of p from whichever table or
// the extended list currently holds it; updateSession's multi-cell
// placement means a publication can occupy more than one slot.
func (s *indexedScheduler) removePublication(p *Publication) {
	for _, table := range [][][]*Publication{s.low, s.mid, s.high} {
		for i, bucket := range table {
			for j := len(bucket) - 1; j >= 0; j-- {
				if bucket[j] == p {
					bucket = append(bucket[:j], bucket[j+1:]...)
				}
			}
			table[i] = bucket
		}
	}
	for i := len(s.extended) - 1; i >= 0; i-- {
		if s.extended[i] == p {
			s.extended = append(s.extended[:i], s.extended[i+1:]...)
		}
	}
}

// presetIndexSession restarts the elapsed-time reference (cycleStart) at
// now, used after bulk-loading publications so the first ProcessSend call
// doesn't treat a long-idle cycleStart as a huge backlog. The tables'
// walk positions are left where they are.
func (s *indexedScheduler) presetIndexSession(now time.Time) {
	s.cycleStart = now
	s.started = true
}

// due returns every publication due in the elapsed time since the last
// call (or since presetIndexSession), by stepping each table forward by
// the number of its granularity ticks that have elapsed.
func (s *indexedScheduler) due(now time.Time) []*Publication {
	if !s.started {
		s.presetIndexSession(now)
		return nil
	}

	var out []*Publication
	elapsed := now.Sub(s.cycleStart)
	s.cycleStart = now

	walk := func(table [][]*Publication, granularity time.Duration, pos *int) {
		ticks := int(elapsed / granularity)
		if ticks <= 0 {
			return
		}
		n := len(table)
		if ticks > n {
			ticks = n
		}
		for i := 0; i < ticks; i++ {
			*pos = (*pos + 1) % n
			for _, p := range table[*pos] {
				if !p.isRedundantFollower() {
					out = append(out, p)
				}
			}
		}
	}
	walk(s.low, s.lowGranularity, &s.lowPos)
	walk(s.mid, s.midGranularity, &s.midPos)
	walk(s.high, s.highGranularity, &s.highPos)

	for _, p := range s.extended {
		if p.Interval <= 0 || p.NextDueTime.After(now) {
			continue
		}
		p.NextDueTime = now.Add(p.Interval)
		if p.isRedundantFollower() {
			continue
		}
		out = append(out, p)
	}
	return out
}
