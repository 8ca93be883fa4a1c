package socket

import (
	"net"
	"testing"
)

func TestRequestReusesMatchingSocket(t *testing.T) {
	p := NewPool()
	srcIP := net.ParseIP("127.0.0.1")
	params := Params{QoS: 0, TTL: 64}

	h1, err := p.Request(srcIP, nil, 0, params, UsagePD, false)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	h2, err := p.Request(srcIP, nil, getPort(t, p, h1), params, UsagePD, false)
	if err != nil {
		t.Fatalf("second Request: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected the same pooled socket, got handles %d and %d", h1, h2)
	}

	if err := p.Release(h1, nil); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, ok := p.Conn(h1); !ok {
		t.Fatal("socket closed too early: refcount should still be 1")
	}
	if err := p.Release(h2, nil); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if _, ok := p.Conn(h1); ok {
		t.Fatal("socket should be closed once refcount reaches zero")
	}
}

func TestRequestSendReceiveLoopback(t *testing.T) {
	p := NewPool()
	srcIP := net.ParseIP("127.0.0.1")

	hRecv, err := p.Request(srcIP, nil, 0, Params{}, UsagePD, true)
	if err != nil {
		t.Fatalf("Request recv: %v", err)
	}
	defer p.Release(hRecv, nil)

	recvConn, _ := p.Conn(hRecv)
	if !p.RcvMostly(hRecv) {
		t.Fatal("expected rcvMostly socket")
	}

	hSend, err := p.Request(srcIP, nil, 0, Params{}, UsagePD, false)
	if err != nil {
		t.Fatalf("Request send: %v", err)
	}
	defer p.Release(hSend, nil)
	sendConn, _ := p.Conn(hSend)

	payload := []byte("hello-pd")
	if _, err := sendConn.WriteToUDP(payload, recvConn.LocalAddr().(*net.UDPAddr)); err != nil {
		t.Fatalf("WriteToUDP: %v", err)
	}

	buf := make([]byte, 64)
	n, _, err := recvConn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP: %v", err)
	}
	if string(buf[:n]) != string(payload) {
		t.Fatalf("got %q, want %q", buf[:n], payload)
	}
}

func TestReleaseUnknownHandle(t *testing.T) {
	p := NewPool()
	if err := p.Release(Handle(999), nil); err == nil {
		t.Fatal("expected error releasing an unknown handle")
	}
}

func getPort(t *testing.T, p *Pool, h Handle) int {
	t.Helper()
	c, ok := p.Conn(h)
	if !ok {
		t.Fatal("handle not found")
	}
	return c.LocalAddr().(*net.UDPAddr).Port
}
