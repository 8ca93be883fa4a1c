package pd

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/railcomm/trdp-pd/pkg/pdstats"
	"github.com/railcomm/trdp-pd/pkg/socket"
)

// SchedulerMode selects between the list-walking legacy scheduler and
// the slot-table indexed scheduler.
type SchedulerMode int

const (
	SchedulerLegacy SchedulerMode = iota
	SchedulerIndexed
)

// SlotBase selects the indexed scheduler's cycle constants: base-10
// (100-slot tiers spanning 100/1000/10000ms, matching a
// wall-clock-friendly deployment) or base-2 (128-slot tiers spanning
// 128/1024/8192ms, a power-of-two alternative for deployments that
// prefer it).
type SlotBase int

const (
	SlotBase10 SlotBase = iota
	SlotBase2
)

// SessionConfig configures a Session at construction time. Field tags
// let cmd/pdecho decode this straight out of a YAML demo file via
// mapstructure; the engine itself has no opinion about configuration
// file formats.
type SessionConfig struct {
	OwnIP net.IP `mapstructure:"own_ip"`

	Scheduler SchedulerMode `mapstructure:"scheduler"`
	SlotBase  SlotBase      `mapstructure:"slot_base"`

	ETBTopoCount   uint32 `mapstructure:"etb_topo_count"`
	OpTrnTopoCount uint32 `mapstructure:"op_trn_topo_count"`

	DefaultQoS uint8 `mapstructure:"default_qos"`
	DefaultTTL uint8 `mapstructure:"default_ttl"`

	Clock Clock `mapstructure:"-"`
}

// Session owns one engine instance's complete runtime state: its
// publication and subscription tables, socket pool, statistics and
// topocount configuration.
//
// Three mutexes guard Session state and must always be acquired in this
// order to avoid deadlock: mu (session-wide: tables, topo counts,
// redundancy groups), then txMu (send path: publication frame buffers,
// sequence counters), then rxMu (receive path: subscription staged
// frames, sequence trackers). A goroutine holding a later mutex must
// never block waiting for an earlier one.
type Session struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	rxMu sync.Mutex

	clock Clock

	sockets *socket.Pool
	stats   pdstats.Counters
	InstID  string

	ownIP net.IP

	scheduler SchedulerMode
	slotBase  SlotBase

	etbTopoCount   atomic.Uint32
	opTrnTopoCount atomic.Uint32

	defaultQoS uint8
	defaultTTL uint8

	pubs map[PubHandle]*Publication
	subs map[SubHandle]*Subscription

	// rcvTable groups subscriptions by comId for O(log n) receive-side
	// lookup; rebuilt by indexRcvTable after every Subscribe/Unsubscribe.
	rcvTable []rcvTableEntry

	// redundancyLeader maps redundancy group id (0 excluded: it is the
	// "all groups" wildcard used only in SetRedundant calls) to whether
	// this instance currently sends as leader for that group.
	redundancyLeader map[uint32]bool

	legacy  *legacyScheduler
	indexed *indexedScheduler
}

// NewSession constructs a Session from cfg. The returned Session owns no
// background goroutines; callers drive it by invoking Process (or
// ProcessSend/ProcessReceive) from their own event loop.
func NewSession(cfg SessionConfig) (*Session, error) {
	clk := cfg.Clock
	if clk == nil {
		clk = systemClock{}
	}

	s := &Session{
		clock:            clk,
		sockets:          socket.NewPool(),
		InstID:           pdstats.InstanceID().String(),
		ownIP:            cloneIP(cfg.OwnIP),
		scheduler:        cfg.Scheduler,
		slotBase:         cfg.SlotBase,
		defaultQoS:       cfg.DefaultQoS,
		defaultTTL:       cfg.DefaultTTL,
		pubs:             make(map[PubHandle]*Publication),
		subs:             make(map[SubHandle]*Subscription),
		redundancyLeader: make(map[uint32]bool),
	}
	s.etbTopoCount.Store(cfg.ETBTopoCount)
	s.opTrnTopoCount.Store(cfg.OpTrnTopoCount)
	s.legacy = newLegacyScheduler()
	s.indexed = newIndexedScheduler(cfg.SlotBase)
	return s, nil
}

// Now returns the session's clock time, the single source of truth for
// every due-time and timeout comparison.
func (s *Session) Now() time.Time { return s.clock.Now() }

func (s *Session) etbTopo() uint32   { return s.etbTopoCount.Load() }
func (s *Session) opTrnTopo() uint32 { return s.opTrnTopoCount.Load() }

// SetETBTopoCount sets the consist-wide train topocount this session
// validates inbound frames against; 0 disables the check.
func (s *Session) SetETBTopoCount(v uint32) { s.etbTopoCount.Store(v) }

// SetOpTrainTopoCount sets the operational-train topocount; 0 disables
// the check.
func (s *Session) SetOpTrainTopoCount(v uint32) { s.opTrnTopoCount.Store(v) }

// GetETBTopoCount returns the currently configured ETB topocount.
func (s *Session) GetETBTopoCount() uint32 { return s.etbTopo() }

// GetOpTrainTopoCount returns the currently configured operational-train
// topocount.
func (s *Session) GetOpTrainTopoCount() uint32 { return s.opTrnTopo() }

// Stats returns a snapshot of this session's global counters.
func (s *Session) Stats() pdstats.Global { return s.stats.Snapshot() }

// NumPublishers and NumSubscribers report the live table sizes backing
// the statistics surface.
func (s *Session) NumPublishers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pubs)
}

func (s *Session) NumSubscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Close releases every socket this session's publications and
// subscriptions hold. It does not clear the tables themselves, so stats
// queries after Close still report accurate historical counts.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, h := range s.sockets.Handles() {
		if err := s.sockets.Release(h, nil); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
