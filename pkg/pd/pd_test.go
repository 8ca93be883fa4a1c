package pd

import (
	"net"
	"sync"
	"testing"
	"time"
)

// fakeClock lets tests move time forward deterministically instead of
// racing the wall clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock { return &fakeClock{now: start} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestSession(t *testing.T, clk Clock) *Session {
	t.Helper()
	s, err := NewSession(SessionConfig{
		OwnIP: net.IPv4(127, 0, 0, 1),
		Clock: clk,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPublishUnpublishLifecycle(t *testing.T) {
	s := newTestSession(t, newFakeClock(time.Unix(0, 0)))

	h, err := s.Publish(PubParams{
		SrcIP:    net.IPv4(127, 0, 0, 1),
		DestIP:   net.IPv4(127, 0, 0, 1),
		ComId:    100,
		Interval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if s.NumPublishers() != 1 {
		t.Fatalf("NumPublishers = %d, want 1", s.NumPublishers())
	}

	if err := s.Put(h, []byte("hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := s.Unpublish(h); err != nil {
		t.Fatalf("Unpublish: %v", err)
	}
	if s.NumPublishers() != 0 {
		t.Fatalf("NumPublishers after unpublish = %d, want 0", s.NumPublishers())
	}

	if err := s.Unpublish(h); err == nil {
		t.Fatal("expected error unpublishing an already-removed handle")
	}
}

func TestPublishRejectsZeroComId(t *testing.T) {
	s := newTestSession(t, newFakeClock(time.Unix(0, 0)))
	if _, err := s.Publish(PubParams{ComId: 0}); err == nil {
		t.Fatal("expected error publishing comId 0")
	}
}

func TestSubscribeGetTimeoutBehavior(t *testing.T) {
	clk := newFakeClock(time.Unix(0, 0))
	s := newTestSession(t, clk)

	sh, err := s.Subscribe(SubParams{
		ComId:           200,
		Timeout:         100 * time.Millisecond,
		TimeoutBehavior: SetToZero,
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	sub, ok := s.subs[sh]
	if !ok {
		t.Fatal("subscription not found in table")
	}

	info := PDInfo{ComId: 200, Payload: []byte("data")}
	sub.touch(clk.Now(), info, []byte("raw"))

	gotInfo, payload, err := s.Get(sh)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(payload) != "data" {
		t.Fatalf("payload = %q, want %q", payload, "data")
	}
	if gotInfo.ComId != 200 {
		t.Fatalf("ComId = %d, want 200", gotInfo.ComId)
	}

	clk.advance(200 * time.Millisecond)
	s.checkTimeouts(clk.Now())

	_, payload, err = s.Get(sh)
	if err != nil {
		t.Fatalf("Get after timeout: %v", err)
	}
	if payload != nil {
		t.Fatalf("expected nil payload after timeout with SetToZero, got %q", payload)
	}
}

func TestSubscribeUnknownHandleErrors(t *testing.T) {
	s := newTestSession(t, newFakeClock(time.Unix(0, 0)))
	if _, _, err := s.Get(SubHandle{}); err == nil {
		t.Fatal("expected error getting an unknown subscription handle")
	}
}

func TestTopoMatchWildcard(t *testing.T) {
	cases := []struct {
		configured, received uint32
		want                 bool
	}{
		{0, 5, true},
		{5, 0, true},
		{5, 5, true},
		{5, 6, false},
		{0, 0, true},
	}
	for _, c := range cases {
		if got := topoMatch(c.configured, c.received); got != c.want {
			t.Errorf("topoMatch(%d, %d) = %v, want %v", c.configured, c.received, got, c.want)
		}
	}
}

func TestLegacySchedulerOrdersByThroughputAndRespectsInterval(t *testing.T) {
	l := newLegacyScheduler()
	now := time.Unix(0, 0)

	slow := &Publication{Interval: time.Second, NextDueTime: now, currentFrame: make([]byte, 10)}
	fast := &Publication{Interval: 10 * time.Millisecond, NextDueTime: now, currentFrame: make([]byte, 1000)}
	pullOnly := &Publication{Interval: 0, NextDueTime: now}

	l.insert(slow)
	l.insert(fast)
	l.insert(pullOnly)

	due := l.due(now)
	if len(due) != 2 {
		t.Fatalf("due() returned %d publications, want 2 (pull-only must be excluded)", len(due))
	}
	if due[0] != fast {
		t.Fatalf("due()[0] = %p, want the higher-throughput publication first", due[0])
	}
}

func TestIndexedSchedulerPlacesAndFiresPublications(t *testing.T) {
	idx := newIndexedScheduler(SlotBase10)
	now := time.Unix(0, 0)
	idx.presetIndexSession(now)

	p := &Publication{Interval: 100 * time.Millisecond}
	idx.updateSession(p)

	due := idx.due(now.Add(150 * time.Millisecond))
	found := false
	for _, d := range due {
		if d == p {
			found = true
		}
	}
	if !found {
		t.Fatal("expected publication to be due after its interval elapsed")
	}
}

func TestIndexedSchedulerFiresAtDeclaredInterval(t *testing.T) {
	idx := newIndexedScheduler(SlotBase10)
	now := time.Unix(0, 0)
	idx.presetIndexSession(now)

	p := &Publication{Interval: 100 * time.Millisecond}
	idx.updateSession(p)

	var fires int
	cur := now
	for i := 0; i < 1000; i++ {
		cur = cur.Add(time.Millisecond)
		for _, d := range idx.due(cur) {
			if d == p {
				fires++
			}
		}
	}
	// The low table walks one slot per millisecond; p's 100ms interval
	// equals one full 100-slot traversal, so it should fire about ten
	// times across this 1s span.
	if fires < 8 || fires > 12 {
		t.Fatalf("expected ~10 fires across 1s at a 100ms interval, got %d", fires)
	}
}

func TestRedundancyPromotionResetsSequence(t *testing.T) {
	s := newTestSession(t, newFakeClock(time.Unix(0, 0)))

	h, err := s.Publish(PubParams{
		SrcIP:             net.IPv4(127, 0, 0, 1),
		DestIP:            net.IPv4(127, 0, 0, 1),
		ComId:             300,
		Interval:          time.Second,
		RedundancyGroupID: 1,
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	pub := s.pubs[h]
	pub.pushSeq.next()
	pub.pushSeq.next()
	if pub.pushSeq.v != 1 {
		t.Fatalf("sanity: sequence should have advanced before promotion")
	}

	s.SetRedundant(1, false)
	if s.GetRedundant(1) {
		t.Fatal("expected follower after SetRedundant(1, false)")
	}
	if !pub.isRedundantFollower() {
		t.Fatal("publication should be marked as redundant follower")
	}

	s.SetRedundant(1, true)
	if !s.GetRedundant(1) {
		t.Fatal("expected leader after SetRedundant(1, true)")
	}
	if pub.pushSeq.everSent {
		t.Fatal("expected sequence counter reset on promotion to leader")
	}
}

func TestRequestWithoutMatchingPublicationCreatesOneShotPull(t *testing.T) {
	s := newTestSession(t, newFakeClock(time.Unix(0, 0)))

	before := s.NumPublishers()
	if err := s.Request(999, net.IPv4(127, 0, 0, 1), 1000, SubHandle{}); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if got := s.NumPublishers(); got != before {
		t.Fatalf("ephemeral pull publication left registered: NumPublishers() = %d, want %d", got, before)
	}
}

func TestRequestRearmsSubscriptionDeadline(t *testing.T) {
	clk := newFakeClock(time.Unix(0, 0))
	s := newTestSession(t, clk)

	sh, err := s.Subscribe(SubParams{
		ComId:   1000,
		DestIP:  net.IPv4(127, 0, 0, 1),
		Timeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Start the deadline with a real reception at t=0.
	s.receive(clk.Now(), net.IPv4(127, 0, 0, 1), buildTestFrameV1(t, 1000, 0, 0, 0, []byte("x")))

	clk.advance(40 * time.Millisecond)
	s.checkTimeouts(clk.Now())

	// Without the re-arm below, the original deadline (t=50ms) would
	// already have passed by the time we check again at t=80ms.
	if err := s.Request(999, net.IPv4(127, 0, 0, 1), 1000, sh); err != nil {
		t.Fatalf("Request: %v", err)
	}

	clk.advance(40 * time.Millisecond)
	s.checkTimeouts(clk.Now())

	s.mu.RLock()
	sub := s.subs[sh]
	s.mu.RUnlock()
	if sub.isTimedOut() {
		t.Fatal("expected Request to re-arm the subscription's deadline, preventing timeout")
	}
}

func TestGetIntervalReflectsNearestDueTime(t *testing.T) {
	s := newTestSession(t, newFakeClock(time.Unix(0, 0)))

	if got := s.GetInterval(); got != defaultIdleInterval {
		t.Fatalf("GetInterval() with nothing scheduled = %v, want %v", got, defaultIdleInterval)
	}

	h, err := s.Publish(PubParams{
		SrcIP:    net.IPv4(127, 0, 0, 1),
		DestIP:   net.IPv4(127, 0, 0, 1),
		ComId:    1100,
		Interval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := s.PublicationInterval(h); err != nil {
		t.Fatalf("PublicationInterval: %v", err)
	}

	if got := s.GetInterval(); got > 20*time.Millisecond {
		t.Fatalf("GetInterval() = %v, want <= publication interval (20ms)", got)
	}
}
