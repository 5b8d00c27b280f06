package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Traffic counters
// ──────────────────────────────────────────────────────────────────────────────

// Stats counts sessions and datagram traffic. Every method is safe on a nil
// receiver so that components can run without metrics in tests.
type Stats struct {
	TotalSessions  atomic.Int64 // cumulative sessions opened
	ClosedSessions atomic.Int64 // cumulative sessions closed
	BytesSent      atomic.Int64 // cumulative datagram bytes written
	BytesRecv      atomic.Int64 // cumulative datagram bytes read

	sessions    prometheus.Counter
	active      prometheus.Gauge
	outcomes    *prometheus.CounterVec
	packetsSent *prometheus.CounterVec
	packetsRecv *prometheus.CounterVec
	bytes       *prometheus.CounterVec
	retransmits prometheus.Counter
	drops       *prometheus.CounterVec
}

// NewStats registers the collectors with reg. A nil reg keeps the counters
// process-local.
func NewStats(reg prometheus.Registerer) *Stats {
	factory := promauto.With(reg)
	const ns = "httpnio"

	return &Stats{
		sessions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "sessions_total",
			Help:      "Sessions opened since process start.",
		}),
		active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "sessions_active",
			Help:      "Sessions currently open.",
		}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "sessions_closed_total",
			Help:      "Closed sessions by outcome.",
		}, []string{"outcome"}),
		packetsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "packets_sent_total",
			Help:      "Datagrams written by kind.",
		}, []string{"kind"}),
		packetsRecv: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "packets_received_total",
			Help:      "Datagrams read by kind.",
		}, []string{"kind"}),
		bytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "bytes_total",
			Help:      "Datagram bytes by direction.",
		}, []string{"direction"}),
		retransmits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "retransmissions_total",
			Help:      "Data fragments sent more than once.",
		}),
		drops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "datagrams_dropped_total",
			Help:      "Inbound datagrams discarded before reaching a session.",
		}, []string{"reason"}),
	}
}

func (s *Stats) AddSession() {
	if s == nil {
		return
	}
	s.TotalSessions.Add(1)
	s.sessions.Inc()
	s.active.Inc()
}

// RemoveSession records a closed session; outcome is "ok" or an error class.
func (s *Stats) RemoveSession(outcome string) {
	if s == nil {
		return
	}
	s.ClosedSessions.Add(1)
	s.active.Dec()
	s.outcomes.WithLabelValues(outcome).Inc()
}

func (s *Stats) AddSent(kind string, n int) {
	if s == nil {
		return
	}
	s.BytesSent.Add(int64(n))
	s.packetsSent.WithLabelValues(kind).Inc()
	s.bytes.WithLabelValues("out").Add(float64(n))
}

func (s *Stats) AddRecv(kind string, n int) {
	if s == nil {
		return
	}
	s.BytesRecv.Add(int64(n))
	s.packetsRecv.WithLabelValues(kind).Inc()
	s.bytes.WithLabelValues("in").Add(float64(n))
}

func (s *Stats) AddRetransmit() {
	if s == nil {
		return
	}
	s.retransmits.Inc()
}

func (s *Stats) AddDrop(reason string) {
	if s == nil {
		return
	}
	s.drops.WithLabelValues(reason).Inc()
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartReporter launches a goroutine that logs traffic statistics every
// interval. It stops when ctx is cancelled.
func (s *Stats) StartReporter(ctx context.Context, interval time.Duration) {
	if s == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		secs := interval.Seconds()
		var prevSent, prevRecv, prevTotal, prevClosed int64
		for {
			select {
			case <-ticker.C:
				total := s.TotalSessions.Load()
				closed := s.ClosedSessions.Load()
				sent := s.BytesSent.Load()
				recv := s.BytesRecv.Load()

				outS := float64(sent-prevSent) / secs
				inS := float64(recv-prevRecv) / secs
				opened := total - prevTotal
				done := closed - prevClosed

				if opened > 0 || done > 0 || inS > 10 || outS > 10 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, opened, done))
				}

				prevSent = sent
				prevRecv = recv
				prevTotal = total
				prevClosed = closed

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a fixed-width (8 chars) string,
// for example "99.0   B", " 1.5 KiB", "98.9 GiB".
func formatBytes(b float64) string {
	unitIdx := 0

	// keeps "100.0 KiB" (9 chars) out
	for b > 99 && unitIdx < len(byteUnits)-1 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

func formatStats(inS, outS float64, opened, closed int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Sessions: %2d↑ %2d↓",
		formatBytes(inS),
		formatBytes(outS),
		opened,
		closed,
	)
}
