package pd

import (
	"net"

	"github.com/rs/xid"

	"github.com/railcomm/trdp-pd/pkg/frame"
)

// PubHandle and SubHandle are the opaque, stable handles applications
// hold. Wrapping xid.ID (timestamp + machine + counter, collision-free
// without a shared mutex) gives every publication/subscription a
// globally unique identity: reusing a stale handle after
// unpublish/unsubscribe can never alias a new entry.
type PubHandle struct{ id xid.ID }

type SubHandle struct{ id xid.ID }

func newPubHandle() PubHandle { return PubHandle{id: xid.New()} }
func newSubHandle() SubHandle { return SubHandle{id: xid.New()} }

func (h PubHandle) String() string { return h.id.String() }
func (h SubHandle) String() string { return h.id.String() }

// PubFlags are the caller-facing behavior switches on a publication.
type PubFlags uint8

const (
	FlagMarshall PubFlags = 1 << iota
	FlagCallback
	FlagForceCallback
	FlagTSN
)

func (f PubFlags) has(bit PubFlags) bool { return f&bit != 0 }

// pubPriv are engine-internal publication state flags.
type pubPriv uint8

const (
	pubInvalidData pubPriv = 1 << iota
	pubRedundantFollower
	pubReqToSend
	pubIsTSN
)

func (f pubPriv) has(bit pubPriv) bool { return f&bit != 0 }

// subPriv are engine-internal subscription state flags.
type subPriv uint8

const (
	subTimedOut subPriv = 1 << iota
	subInvalidData
	subMcJoined
)

func (f subPriv) has(bit subPriv) bool { return f&bit != 0 }

// TimeoutBehavior selects what Get() returns once a subscription has
// timed out.
type TimeoutBehavior int

const (
	SetToZero TimeoutBehavior = iota
	KeepLastValue
)

// seqCnt is a publication's push or pull sequence counter. everSent
// gives it an explicit "never sent" state so promotion-to-leader cannot
// be confused with a legitimate wrap-around back to a low value.
type seqCnt struct {
	v        uint32
	everSent bool
}

// next returns the counter value to stamp on the next frame and advances
// the counter. The first call after construction or after promote
// returns 0.
func (s *seqCnt) next() uint32 {
	if !s.everSent {
		s.everSent = true
		s.v = 0
		return 0
	}
	s.v++
	return s.v
}

// reset marks the counter as never having sent, so the next call to
// next() yields 0, used both for a fresh publication and for redundancy
// promotion.
func (s *seqCnt) reset() { *s = seqCnt{} }

// PDInfo is the value type delivered to pre-send and receive callbacks.
// It is a snapshot, never a view into an engine-owned buffer, so a
// callback cannot retain a reference into internal state.
type PDInfo struct {
	ComId          uint32
	SrcIP          net.IP
	DestIP         net.IP
	ServiceId      uint8
	MsgType        frame.MsgType
	SeqCount       uint32
	ResultCode     error
	UserRef        any
	Payload        []byte
}

func cloneIP(ip net.IP) net.IP {
	if ip == nil {
		return nil
	}
	out := make(net.IP, len(ip))
	copy(out, ip)
	return out
}

func ipToUint32(ip net.IP) uint32 {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])
}

func uint32ToIP(v uint32) net.IP {
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// ipInRange reports whether ip falls within [lo,hi] inclusive; a
// zero-valued lo/hi pair is the wildcard "match any source" range used
// by subscriptions.
func ipInRange(ip, lo, hi net.IP) bool {
	if lo == nil && hi == nil {
		return true
	}
	loV, hiV, ipV := ipToUint32(lo), ipToUint32(hi), ipToUint32(ip)
	if loV == 0 && hiV == 0 {
		return true
	}
	return ipV >= loV && ipV <= hiV
}
