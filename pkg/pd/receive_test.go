package pd

import (
	"net"
	"testing"
	"time"

	"github.com/railcomm/trdp-pd/pkg/frame"
)

func buildTestFrameV1(t *testing.T, comId, etbTopo, opTrnTopo, seq uint32, payload []byte) []byte {
	t.Helper()
	h := frame.V1Header{
		ProtocolVersion: frame.ProtocolVersion1,
		MsgType:         frame.MsgPd,
		ComId:           comId,
		EtbTopoCnt:      etbTopo,
		OpTrnTopoCnt:    opTrnTopo,
		SequenceCounter: seq,
	}
	wire, err := frame.EncodeV1(h, payload)
	if err != nil {
		t.Fatalf("EncodeV1: %v", err)
	}
	return wire
}

func TestReceiveDeliversAndDedups(t *testing.T) {
	clk := newFakeClock(time.Unix(0, 0))
	s := newTestSession(t, clk)

	var calls int
	sh, err := s.Subscribe(SubParams{
		ComId:   500,
		Flags:   FlagCallback,
		RecvCB:  func(PDInfo) { calls++ },
		Timeout: time.Second,
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	s.indexRcvTable()

	src := net.IPv4(10, 0, 0, 5)
	wire := buildTestFrameV1(t, 500, 0, 0, 1, []byte("first"))
	s.receive(clk.Now(), src, wire)

	if calls != 1 {
		t.Fatalf("calls after first frame = %d, want 1", calls)
	}
	_, payload, err := s.Get(sh)
	if err != nil || string(payload) != "first" {
		t.Fatalf("Get after first frame = %q, %v", payload, err)
	}

	// Duplicate / stale sequence counter must be dropped silently.
	s.receive(clk.Now(), src, wire)
	if calls != 1 {
		t.Fatalf("calls after duplicate frame = %d, want still 1", calls)
	}

	wire2 := buildTestFrameV1(t, 500, 0, 0, 2, []byte("second"))
	s.receive(clk.Now(), src, wire2)
	if calls != 2 {
		t.Fatalf("calls after second frame = %d, want 2", calls)
	}
	_, payload, _ = s.Get(sh)
	if string(payload) != "second" {
		t.Fatalf("Get after second frame = %q, want %q", payload, "second")
	}
}

func TestReceiveRejectsTopoMismatch(t *testing.T) {
	s := newTestSession(t, newFakeClock(time.Unix(0, 0)))
	s.SetETBTopoCount(99)

	_, err := s.Subscribe(SubParams{ComId: 600})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	wire := buildTestFrameV1(t, 600, 5, 0, 1, []byte("x"))
	s.receive(s.Now(), net.IPv4(10, 0, 0, 1), wire)

	if got := s.Stats().NumTopoErr; got != 1 {
		t.Fatalf("NumTopoErr = %d, want 1", got)
	}
}

func TestReceiveDropsWhenNoSubscriber(t *testing.T) {
	s := newTestSession(t, newFakeClock(time.Unix(0, 0)))
	wire := buildTestFrameV1(t, 700, 0, 0, 1, []byte("x"))
	s.receive(s.Now(), net.IPv4(10, 0, 0, 1), wire)

	if got := s.Stats().NumNoSubscriber; got != 1 {
		t.Fatalf("NumNoSubscriber = %d, want 1", got)
	}
}

func TestReceiveRejectsCorruptFrame(t *testing.T) {
	s := newTestSession(t, newFakeClock(time.Unix(0, 0)))
	garbage := []byte{0, 1, 2, 3, 4}
	s.receive(s.Now(), net.IPv4(10, 0, 0, 1), garbage)

	if got := s.Stats().NumProtErr; got != 1 {
		t.Fatalf("NumProtErr = %d, want 1", got)
	}
}

func TestReceiveCountsCrcMismatchSeparatelyFromProtocolErrors(t *testing.T) {
	s := newTestSession(t, newFakeClock(time.Unix(0, 0)))
	wire := buildTestFrameV1(t, 800, 0, 0, 1, []byte("x"))
	wire[frame.HeaderSizeV1-1] ^= 0xFF // corrupt the last CRC byte (offset 39), header otherwise valid
	s.receive(s.Now(), net.IPv4(10, 0, 0, 1), wire)

	stats := s.Stats()
	if stats.NumCrcErr != 1 {
		t.Fatalf("NumCrcErr = %d, want 1", stats.NumCrcErr)
	}
	if stats.NumProtErr != 0 {
		t.Fatalf("NumProtErr = %d, want 0 for a CRC-only mismatch", stats.NumProtErr)
	}
}

func TestReceiveForceCallbackFiresWithoutFlagCallback(t *testing.T) {
	clk := newFakeClock(time.Unix(0, 0))
	s := newTestSession(t, clk)

	var calls int
	_, err := s.Subscribe(SubParams{
		ComId:  900,
		Flags:  FlagForceCallback,
		RecvCB: func(PDInfo) { calls++ },
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	wire := buildTestFrameV1(t, 900, 0, 0, 1, []byte("x"))
	s.receive(clk.Now(), net.IPv4(10, 0, 0, 1), wire)

	if calls != 1 {
		t.Fatalf("calls = %d, want 1 for a force-callback subscription", calls)
	}
}

func TestReceiveInformsUserOnRecoveryFromTimeout(t *testing.T) {
	clk := newFakeClock(time.Unix(0, 0))
	s := newTestSession(t, clk)

	var calls int
	sh, err := s.Subscribe(SubParams{
		ComId:   901,
		Timeout: 10 * time.Millisecond,
		RecvCB:  func(PDInfo) { calls++ },
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	src := net.IPv4(10, 0, 0, 9)
	s.receive(clk.Now(), src, buildTestFrameV1(t, 901, 0, 0, 1, []byte("x")))
	if calls != 0 {
		t.Fatalf("calls after ordinary reception (no FlagCallback) = %d, want 0", calls)
	}

	clk.advance(20 * time.Millisecond)
	s.checkTimeouts(clk.Now())

	s.mu.RLock()
	sub := s.subs[sh]
	s.mu.RUnlock()
	if !sub.isTimedOut() {
		t.Fatal("expected subscription to be timed out before recovery")
	}

	s.receive(clk.Now(), src, buildTestFrameV1(t, 901, 0, 0, 2, []byte("y")))
	if calls != 1 {
		t.Fatalf("calls after recovery from timeout = %d, want 1", calls)
	}
}
