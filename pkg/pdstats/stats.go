// Package pdstats implements the engine's statistics model: a global
// counter block the engine exchanges over the wire itself (comId 31
// pull, comId 35 reply), plus a Prometheus mirror for local operational
// visibility. The two are kept deliberately separate: wire stats are a
// protocol requirement, the Prometheus gauges are ambient observability
// layered on top.
package pdstats

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

// Well-known comIds used for the self-describing statistics exchange.
const (
	ComIDStatsRequest = 31
	ComIDStatsReply   = 35
)

// LabelSize is the width of a NUL-padded text field in the wire stats
// record (host name, short version string).
const LabelSize = 16

// Global holds the session-wide counters exchanged on ComIDStatsReply.
// Every field is also exported as a Prometheus metric by NewCollector.
type Global struct {
	NumPub          uint32
	NumSub          uint32
	NumTransmitted  uint32
	NumReceived     uint32
	NumCrcErr       uint32
	NumProtErr      uint32
	NumTopoErr      uint32
	NumNoSubscriber uint32
	NumTimeout      uint32
	NumMemErr       uint32
	// PullRepliesDropped counts pull-request replies abandoned because
	// the tx-mutex could not be acquired without blocking the rx path.
	PullRepliesDropped uint32
}

// Counters is an atomically-updated Global. The session holds exactly
// one; every subsystem bumps its own counters without taking the
// session-wide mutex.
type Counters struct {
	numPub             atomic.Uint32
	numSub             atomic.Uint32
	numTransmitted     atomic.Uint32
	numReceived        atomic.Uint32
	numCrcErr          atomic.Uint32
	numProtErr         atomic.Uint32
	numTopoErr         atomic.Uint32
	numNoSubscriber    atomic.Uint32
	numTimeout         atomic.Uint32
	numMemErr          atomic.Uint32
	pullRepliesDropped atomic.Uint32
}

func (c *Counters) IncPub()                { c.numPub.Add(1) }
func (c *Counters) DecPub()                { c.numPub.Add(^uint32(0)) }
func (c *Counters) IncSub()                { c.numSub.Add(1) }
func (c *Counters) DecSub()                { c.numSub.Add(^uint32(0)) }
func (c *Counters) IncTransmitted()        { c.numTransmitted.Add(1) }
func (c *Counters) IncReceived()           { c.numReceived.Add(1) }
func (c *Counters) IncCrcErr()             { c.numCrcErr.Add(1) }
func (c *Counters) IncProtErr()            { c.numProtErr.Add(1) }
func (c *Counters) IncTopoErr()            { c.numTopoErr.Add(1) }
func (c *Counters) IncNoSubscriber()       { c.numNoSubscriber.Add(1) }
func (c *Counters) IncTimeout()            { c.numTimeout.Add(1) }
func (c *Counters) IncMemErr()             { c.numMemErr.Add(1) }
func (c *Counters) IncPullRepliesDropped() { c.pullRepliesDropped.Add(1) }

// Snapshot returns the current counter values as a Global.
func (c *Counters) Snapshot() Global {
	return Global{
		NumPub:             c.numPub.Load(),
		NumSub:             c.numSub.Load(),
		NumTransmitted:     c.numTransmitted.Load(),
		NumReceived:        c.numReceived.Load(),
		NumCrcErr:          c.numCrcErr.Load(),
		NumProtErr:         c.numProtErr.Load(),
		NumTopoErr:         c.numTopoErr.Load(),
		NumNoSubscriber:    c.numNoSubscriber.Load(),
		NumTimeout:         c.numTimeout.Load(),
		NumMemErr:          c.numMemErr.Load(),
		PullRepliesDropped: c.pullRepliesDropped.Load(),
	}
}

// InstanceID is a process-unique identifier attached to every exported
// metric and to the wire label field, so a monitoring backend can tell
// two restarted instances of the same session apart.
var instanceOnce sync.Once
var instanceID xid.ID

// InstanceID returns this process's stats instance identifier, minting
// it on first use.
func InstanceID() xid.ID {
	instanceOnce.Do(func() { instanceID = xid.New() })
	return instanceID
}

func putLabel(buf []byte, s string) {
	n := copy(buf, s)
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
}

func getLabel(buf []byte) string {
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	return string(buf[:n])
}

// EncodeGlobal serializes g for the wire (comId 35 reply): all integers
// network byte order, the label NUL-padded to LabelSize.
func EncodeGlobal(g Global, label string) []byte {
	buf := make([]byte, LabelSize+11*4)
	putLabel(buf[:LabelSize], label)
	off := LabelSize
	for _, v := range []uint32{
		g.NumPub, g.NumSub, g.NumTransmitted, g.NumReceived,
		g.NumCrcErr, g.NumProtErr, g.NumTopoErr, g.NumNoSubscriber,
		g.NumTimeout, g.NumMemErr, g.PullRepliesDropped,
	} {
		binary.BigEndian.PutUint32(buf[off:], v)
		off += 4
	}
	return buf
}

// DecodeGlobal parses a wire-format statistics reply.
func DecodeGlobal(buf []byte) (Global, string, bool) {
	if len(buf) < LabelSize+11*4 {
		return Global{}, "", false
	}
	label := getLabel(buf[:LabelSize])
	vals := make([]uint32, 11)
	off := LabelSize
	for i := range vals {
		vals[i] = binary.BigEndian.Uint32(buf[off:])
		off += 4
	}
	return Global{
		NumPub: vals[0], NumSub: vals[1], NumTransmitted: vals[2], NumReceived: vals[3],
		NumCrcErr: vals[4], NumProtErr: vals[5], NumTopoErr: vals[6], NumNoSubscriber: vals[7],
		NumTimeout: vals[8], NumMemErr: vals[9], PullRepliesDropped: vals[10],
	}, label, true
}
