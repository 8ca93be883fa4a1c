package pd

import "github.com/railcomm/trdp-pd/pkg/pderr"

// SetRedundant sets this instance's leader/follower role for a
// redundancy group. Group 0 is the wildcard meaning "every group this
// session knows about". Promoting a group's publications to leader
// resets their sequence counters so the first frame sent after
// switchover is visibly sequence 0 on the bus (see seqCnt.reset). A
// non-zero group this session has never published into is a parameter
// error, not an implicit registration.
func (s *Session) SetRedundant(groupId uint32, leader bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if groupId == 0 {
		for g := range s.redundancyLeader {
			s.setRedundantGroupLocked(g, leader)
		}
		return nil
	}
	if _, known := s.redundancyLeader[groupId]; !known {
		return pderr.Wrap(pderr.ErrParam, "setredundant: unknown redundancy group")
	}
	s.setRedundantGroupLocked(groupId, leader)
	return nil
}

func (s *Session) setRedundantGroupLocked(groupId uint32, leader bool) {
	wasLeader := s.redundancyLeader[groupId]
	s.redundancyLeader[groupId] = leader

	for _, p := range s.pubs {
		if p.RedundancyGroupID != groupId {
			continue
		}
		p.setRedundantFollower(!leader)
		if leader && !wasLeader {
			s.txMu.Lock()
			p.promote()
			s.txMu.Unlock()
		}
	}
}

// GetRedundant reports whether this instance currently sends as leader
// for the given redundancy group.
func (s *Session) GetRedundant(groupId uint32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.redundancyLeader[groupId]
}

// RedundancyGroups returns every redundancy group id this session has
// an opinion about, for the statistics surface.
func (s *Session) RedundancyGroups() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uint32, 0, len(s.redundancyLeader))
	for g := range s.redundancyLeader {
		out = append(out, g)
	}
	return out
}
