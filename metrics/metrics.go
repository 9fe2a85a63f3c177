// Package metrics exposes this module's prometheus instrumentation: phase
// transitions, buffer occupancy, and finalized-quorum counts, served from a
// private registry over promhttp.
package metrics

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dashpay/llmq/log"
)

// Registry is this module's private metrics registry, kept separate from
// prometheus.DefaultRegisterer so an embedding process controls exposition.
var Registry = prometheus.NewRegistry()

var (
	// PhaseTransitions counts each time a scheduler advances to a new phase.
	PhaseTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llmq_dkg_phase_transitions_total",
		Help: "Number of phase transitions observed, by quorum type and target phase.",
	}, []string{"quorum_type", "phase"})

	// ActiveSessions reports whether a scheduler currently has a live session (0 or 1).
	ActiveSessions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "llmq_dkg_active_sessions",
		Help: "Whether a quorum type currently has an active DKG session.",
	}, []string{"quorum_type"})

	// BufferOccupancy tracks how many messages are queued per (quorum type, message kind).
	BufferOccupancy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "llmq_dkg_buffer_occupancy",
		Help: "Number of messages currently queued, by quorum type and message kind.",
	}, []string{"quorum_type", "kind"})

	// FinalizedQuorums counts successfully finalized quorum instantiations.
	FinalizedQuorums = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llmq_dkg_finalized_total",
		Help: "Number of quorum instantiations that reached a final commitment.",
	}, []string{"quorum_type"})

	// AbortedSessions counts rounds that ended without a final commitment:
	// reorg, insufficient members, shutdown, finalize error, or no threshold.
	AbortedSessions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llmq_dkg_aborted_total",
		Help: "Number of DKG sessions aborted, by quorum type and reason.",
	}, []string{"quorum_type", "reason"})

	// PeerPunishments counts PoSe score reports issued for peer misbehavior.
	PeerPunishments = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llmq_dkg_peer_punishments_total",
		Help: "Number of peer misbehavior reports issued, by quorum type and reason.",
	}, []string{"quorum_type", "reason"})

	bound sync.Once
)

// bind registers every collector with Registry exactly once.
func bind(l log.Logger) {
	if err := Registry.Register(collectors.NewGoCollector()); err != nil {
		l.Errorw("metrics: register go collector", "err", err)
	}
	if err := Registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		l.Errorw("metrics: register process collector", "err", err)
	}

	all := []prometheus.Collector{
		PhaseTransitions,
		ActiveSessions,
		BufferOccupancy,
		FinalizedQuorums,
		AbortedSessions,
		PeerPunishments,
	}
	for _, c := range all {
		if err := Registry.Register(c); err != nil {
			l.Errorw("metrics: register collector", "err", err)
		}
	}
}

// Start binds every collector and serves /metrics on bindAddr. It returns
// the *http.Server so callers can shut it down.
func Start(l log.Logger, bindAddr string) *http.Server {
	bound.Do(func() { bind(l) })

	if !strings.Contains(bindAddr, ":") {
		bindAddr = "127.0.0.1:" + bindAddr
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry}))

	s := &http.Server{Addr: bindAddr, ReadHeaderTimeout: 3 * time.Second, Handler: mux}
	go func() {
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Warnw("metrics: listener finished", "err", err)
		}
	}()
	return s
}
