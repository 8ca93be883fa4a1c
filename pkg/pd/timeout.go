package pd

import "time"

// checkTimeouts walks every subscription with a configured timeout and
// flags the ones whose deadline has passed. It is called from
// ProcessReceive so timeout detection happens on the same cadence as
// reception, without a dedicated timer goroutine.
func (s *Session) checkTimeouts(now time.Time) {
	s.rxMu.Lock()
	defer s.rxMu.Unlock()

	for _, sub := range s.subs {
		dl := sub.deadline()
		if dl.IsZero() || sub.isTimedOut() {
			continue
		}
		if now.After(dl) {
			sub.setTimedOut(true)
			s.stats.IncTimeout()
			if sub.Flags.has(FlagCallback) && sub.RecvCB != nil {
				info, _ := sub.snapshot()
				sub.RecvCB(info)
			}
		}
	}
}
