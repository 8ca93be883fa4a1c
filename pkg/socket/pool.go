// Package socket implements the PD engine's reference-counted UDP socket
// pool: sockets are shared across publications/subscriptions that agree
// on (srcIp, port, QoS, TTL, usage, rcvMostly), multicast group joins are
// reference-counted per socket, and a socket is closed only when its
// last reference is released.
package socket

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"

	"github.com/higebu/netfd"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"

	"github.com/railcomm/trdp-pd/pkg/pderr"
	"github.com/railcomm/trdp-pd/pkg/pdlog"
)

// MaxMulticastPerSocket bounds the number of distinct multicast groups a
// single pooled socket will join.
const MaxMulticastPerSocket = 20

// Usage distinguishes ordinary PD sockets from TSN sockets; TSN sockets
// are tracked separately because their hardware-timed send path is an
// external capability this pool does not drive.
type Usage int

const (
	UsagePD Usage = iota
	UsageTSN
)

// Params carries the per-socket transport parameters that participate in
// pool matching, alongside (srcIp, port).
type Params struct {
	QoS uint8 // DSCP value, 0-63
	TTL uint8
	VLAN uint16
}

// Handle is a stable reference to a pooled socket. The zero Handle is
// never valid.
type Handle int

const invalidHandle Handle = -1

type entry struct {
	conn      *net.UDPConn
	pc4       *ipv4.PacketConn
	pc6       *ipv6.PacketConn
	fd        int
	srcIP     net.IP
	port      int
	params    Params
	usage     Usage
	rcvMostly bool
	refcount  int
	mcGroups  map[string]int // group.String() -> refcount, bounded by MaxMulticastPerSocket
}

func (e *entry) isIPv6() bool { return e.pc6 != nil }

// Pool is a session's socket table. It is safe for concurrent use; the
// spec assigns add/remove under the session-wide mutex (§5), but Pool
// also guards itself so misuse from outside that discipline fails safe
// rather than racing.
type Pool struct {
	mu      sync.Mutex
	entries map[Handle]*entry
	next    Handle
}

// NewPool returns an empty socket pool.
func NewPool() *Pool {
	return &Pool{entries: make(map[Handle]*entry), next: 1}
}

// Request finds a pooled socket matching (srcIP, port, params, usage,
// rcvMostly), incrementing its refcount, or creates one. If mcGroup is
// non-nil and new to that socket, it is joined and tracked. Returns the
// socket's stable Handle.
func (p *Pool) Request(srcIP net.IP, mcGroup net.IP, port int, params Params, usage Usage, rcvMostly bool) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for h, e := range p.entries {
		if sameParams(e, srcIP, port, params, usage, rcvMostly) {
			e.refcount++
			if mcGroup != nil {
				if err := p.joinLocked(e, mcGroup); err != nil {
					e.refcount--
					return invalidHandle, err
				}
			}
			return h, nil
		}
	}

	e, err := newEntry(srcIP, port, params, usage, rcvMostly)
	if err != nil {
		return invalidHandle, err
	}
	if mcGroup != nil {
		if err := p.joinLocked(e, mcGroup); err != nil {
			_ = e.conn.Close()
			return invalidHandle, err
		}
	}

	h := p.next
	p.next++
	e.refcount = 1
	p.entries[h] = e
	pdlog.L.V(1).Info("socket pool: opened socket", "handle", h, "srcIP", srcIP, "port", port, "fd", e.fd)
	return h, nil
}

// Release decrements the refcount on h. If mcGroup is non-nil, the
// socket's membership in that group is also decremented and left once it
// reaches zero. The socket itself is closed once its refcount reaches
// zero.
func (p *Pool) Release(h Handle, mcGroup net.IP) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[h]
	if !ok {
		return pderr.Wrap(pderr.ErrParam, "release of unknown socket handle")
	}

	if mcGroup != nil {
		p.leaveLocked(e, mcGroup)
	}

	e.refcount--
	if e.refcount > 0 {
		return nil
	}

	delete(p.entries, h)
	pdlog.L.V(1).Info("socket pool: closing socket", "handle", h, "fd", e.fd)
	return e.conn.Close()
}

// Conn returns the underlying UDP connection for h, for send/receive use
// outside the pool's own lock: once a socket is open, sending or
// receiving on it never needs the pool lock.
func (p *Pool) Conn(h Handle) (*net.UDPConn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[h]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// RcvMostly reports whether h was requested as receive-only.
func (p *Pool) RcvMostly(h Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[h]
	return ok && e.rcvMostly
}

// Handles returns a snapshot of all currently pooled socket handles, for
// the scheduler's read-set construction.
func (p *Pool) Handles() []Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Handle, 0, len(p.entries))
	for h := range p.entries {
		out = append(out, h)
	}
	return out
}

// GroupRefCount reports how many live joins a given multicast group has
// across every pooled socket. Nothing in this module calls it; Release
// decides whether to leave a group from the per-socket join count alone.
func (p *Pool) GroupRefCount(mcGroup net.IP) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, e := range p.entries {
		total += e.mcGroups[mcGroup.String()]
	}
	return total
}

func sameParams(e *entry, srcIP net.IP, port int, params Params, usage Usage, rcvMostly bool) bool {
	return e.srcIP.Equal(srcIP) && e.port == port && e.params == params &&
		e.usage == usage && e.rcvMostly == rcvMostly
}

func newEntry(srcIP net.IP, port int, params Params, usage Usage, rcvMostly bool) (*entry, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	addr := &net.UDPAddr{IP: srcIP, Port: port}
	pc, err := lc.ListenPacket(context.Background(), "udp", addr.String())
	if err != nil {
		return nil, pderr.Wrap(pderr.ErrSock, fmt.Sprintf("listen udp %s: %v", addr, err))
	}
	conn := pc.(*net.UDPConn)

	fd := netfd.GetFdFromConn(conn)

	e := &entry{
		conn:      conn,
		fd:        fd,
		srcIP:     srcIP,
		port:      conn.LocalAddr().(*net.UDPAddr).Port,
		params:    params,
		usage:     usage,
		rcvMostly: rcvMostly,
		mcGroups:  make(map[string]int),
	}

	if srcIP != nil && srcIP.To4() == nil {
		e.pc6 = ipv6.NewPacketConn(conn)
		if params.TTL != 0 {
			_ = e.pc6.SetMulticastHopLimit(int(params.TTL))
		}
		_ = e.pc6.SetTrafficClass(dscpToTOS(params.QoS))
	} else {
		e.pc4 = ipv4.NewPacketConn(conn)
		if params.TTL != 0 {
			_ = e.pc4.SetMulticastTTL(int(params.TTL))
			_ = e.pc4.SetTTL(int(params.TTL))
		}
		_ = e.pc4.SetTOS(dscpToTOS(params.QoS))
		_ = e.pc4.SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface, true)
	}

	return e, nil
}

// dscpToTOS packs a 6-bit DSCP codepoint into the upper bits of the IPv4
// TOS / IPv6 traffic-class byte.
func dscpToTOS(dscp uint8) int {
	return int(dscp&0x3F) << 2
}

func (p *Pool) joinLocked(e *entry, mcGroup net.IP) error {
	key := mcGroup.String()
	if e.mcGroups[key] > 0 {
		e.mcGroups[key]++
		return nil
	}
	if len(e.mcGroups) >= MaxMulticastPerSocket {
		return pderr.Wrap(pderr.ErrMem, "multicast group table full for socket")
	}

	ifi, _ := interfaceForAddr(e.srcIP)
	group := &net.UDPAddr{IP: mcGroup}
	var err error
	if e.isIPv6() {
		err = e.pc6.JoinGroup(ifi, group)
	} else {
		err = e.pc4.JoinGroup(ifi, group)
	}
	if err != nil {
		return pderr.Wrap(pderr.ErrSock, fmt.Sprintf("join multicast group %s: %v", mcGroup, err))
	}
	e.mcGroups[key] = 1
	return nil
}

func (p *Pool) leaveLocked(e *entry, mcGroup net.IP) {
	key := mcGroup.String()
	if e.mcGroups[key] == 0 {
		return
	}
	e.mcGroups[key]--
	if e.mcGroups[key] > 0 {
		return
	}
	delete(e.mcGroups, key)

	ifi, _ := interfaceForAddr(e.srcIP)
	group := &net.UDPAddr{IP: mcGroup}
	var err error
	if e.isIPv6() {
		err = e.pc6.LeaveGroup(ifi, group)
	} else {
		err = e.pc4.LeaveGroup(ifi, group)
	}
	if err != nil {
		pdlog.L.Error(err, "socket pool: leave multicast group failed", "group", mcGroup)
	}
}

// interfaceForAddr finds the local network interface bound to addr, so
// multicast joins happen on the right link instead of the system
// default. A nil/unspecified addr leaves interface selection to the
// kernel.
func interfaceForAddr(addr net.IP) (*net.Interface, error) {
	if addr == nil || addr.IsUnspecified() {
		return nil, nil
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipn, ok := a.(*net.IPNet)
			if ok && ipn.IP.Equal(addr) {
				return &ifaces[i], nil
			}
		}
	}
	return nil, nil
}
