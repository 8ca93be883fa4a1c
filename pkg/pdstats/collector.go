package pdstats

import "github.com/prometheus/client_golang/prometheus"

// Collector mirrors a session's Counters as Prometheus metrics (gauges
// for the live publication/subscription counts, counters for the rest), the way
// sockstats' exporter.TCPInfoCollector mirrors polled kernel counters:
// Collect() reads a live snapshot on every scrape rather than caching.
type Collector struct {
	counters *Counters
	sessLbl  string

	descs map[string]*prometheus.Desc
}

// NewCollector returns a Collector that reports counters under the given
// session label (typically the session's xid-derived instance ID).
func NewCollector(counters *Counters, sessionLabel string) *Collector {
	mk := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("trdp_pd_"+name, help, nil, prometheus.Labels{"session": sessionLabel})
	}
	return &Collector{
		counters: counters,
		sessLbl:  sessionLabel,
		descs: map[string]*prometheus.Desc{
			"publications":          mk("publications", "Live publications in this session."),
			"subscriptions":         mk("subscriptions", "Live subscriptions in this session."),
			"frames_transmitted":    mk("frames_transmitted_total", "PD frames transmitted."),
			"frames_received":       mk("frames_received_total", "PD frames accepted by the receive pipeline."),
			"crc_errors":            mk("crc_errors_total", "Frames dropped for checksum mismatch."),
			"protocol_errors":       mk("protocol_errors_total", "Frames dropped for structural wire errors."),
			"topo_errors":           mk("topo_errors_total", "Frames dropped for topocount mismatch."),
			"no_subscriber":         mk("no_subscriber_total", "Frames dropped for lack of a matching subscription."),
			"timeouts":              mk("timeouts_total", "Subscriptions that transitioned into timed-out."),
			"mem_errors":            mk("mem_errors_total", "Operations that failed with a table-full/allocation error."),
			"pull_replies_dropped":  mk("pull_replies_dropped_total", "Pull-request replies dropped under tx-mutex contention."),
		},
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	g := c.counters.Snapshot()
	emit := func(key string, kind prometheus.ValueType, v uint32) {
		ch <- prometheus.MustNewConstMetric(c.descs[key], kind, float64(v))
	}
	emit("publications", prometheus.GaugeValue, g.NumPub)
	emit("subscriptions", prometheus.GaugeValue, g.NumSub)
	emit("frames_transmitted", prometheus.CounterValue, g.NumTransmitted)
	emit("frames_received", prometheus.CounterValue, g.NumReceived)
	emit("crc_errors", prometheus.CounterValue, g.NumCrcErr)
	emit("protocol_errors", prometheus.CounterValue, g.NumProtErr)
	emit("topo_errors", prometheus.CounterValue, g.NumTopoErr)
	emit("no_subscriber", prometheus.CounterValue, g.NumNoSubscriber)
	emit("timeouts", prometheus.CounterValue, g.NumTimeout)
	emit("mem_errors", prometheus.CounterValue, g.NumMemErr)
	emit("pull_replies_dropped", prometheus.CounterValue, g.PullRepliesDropped)
}
