// Package compliance keeps TR 101 290-style cumulative error counters
// for one capture session. Counters only ever increase; consumers
// compute their own deltas.
package compliance

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Counters is a snapshot of the error taxonomy, grouped by priority
// tier. Extending the taxonomy means adding a counter here plus a check
// function that increments it; checks share nothing but this set.
type Counters struct {
	// Priority 1
	SyncByteErrors          uint64 `json:"sync_byte_errors"`
	ContinuityCounterErrors uint64 `json:"continuity_counter_errors"`
	PatErrors               uint64 `json:"pat_errors"`
	PmtErrors               uint64 `json:"pmt_errors"`
	PidMapErrors            uint64 `json:"pid_map_errors"`
	// Priority 2
	TransportErrorIndicatorErrors uint64 `json:"transport_error_indicator_errors"`
	CrcErrors                     uint64 `json:"crc_errors"`
	PcrRepetitionErrors           uint64 `json:"pcr_repetition_errors"`
	PcrDiscontinuityErrors        uint64 `json:"pcr_discontinuity_indicator_errors"`
	PcrAccuracyErrors             uint64 `json:"pcr_accuracy_errors"`
	PtsErrors                     uint64 `json:"pts_errors"`
	CatErrors                     uint64 `json:"cat_errors"`
}

// Monitor accumulates the counters and mirrors each increment into a
// prometheus counter when a registry is attached.
type Monitor struct {
	mu sync.Mutex
	c  Counters

	prom *prometheus.CounterVec
}

// NewMonitor creates a Monitor. registry may be nil when metrics export
// is disabled.
func NewMonitor(registry *prometheus.Registry) *Monitor {
	m := &Monitor{}
	if registry != nil {
		m.prom = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tsprobe_tr101290_errors_total",
				Help: "Cumulative TR 101 290-style error counters by check",
			},
			[]string{"priority", "check"},
		)
		registry.MustRegister(m.prom)
	}
	return m
}

func (m *Monitor) inc(priority, check string, counter *uint64) {
	*counter++
	if m.prom != nil {
		m.prom.WithLabelValues(priority, check).Inc()
	}
}

// CheckP1 runs the per-packet priority-1 checks on one TS packet.
// Continuity validation is owned by the stream statistics tracker and
// reported through RecordContinuityError; PAT/PMT periodicity and PID
// table sanity are windowed checks pending implementation (their
// counters exist so the taxonomy is stable).
func (m *Monitor) CheckP1(pkt []byte) {
	m.mu.Lock()
	if len(pkt) == 0 || pkt[0] != 0x47 {
		m.inc("p1", "sync_byte", &m.c.SyncByteErrors)
	}
	m.mu.Unlock()
}

// CheckP2 runs the per-packet priority-2 checks on one TS packet.
// PSI CRC validity and PTS presence are extension points.
func (m *Monitor) CheckP2(pkt []byte) {
	m.mu.Lock()
	if len(pkt) > 1 && pkt[1]&0x80 != 0 {
		m.inc("p2", "transport_error_indicator", &m.c.TransportErrorIndicatorErrors)
	}
	m.mu.Unlock()
}

// RecordContinuityError counts one continuity discontinuity found by the
// statistics tracker.
func (m *Monitor) RecordContinuityError() {
	m.mu.Lock()
	m.inc("p1", "continuity_counter", &m.c.ContinuityCounterErrors)
	m.mu.Unlock()
}

// RecordPcrRepetitionError counts a PCR interval beyond the 40 ms
// repetition bound for one program.
func (m *Monitor) RecordPcrRepetitionError() {
	m.mu.Lock()
	m.inc("p2", "pcr_repetition", &m.c.PcrRepetitionErrors)
	m.mu.Unlock()
}

// RecordPcrDiscontinuity counts an adaptation-field discontinuity
// indicator sighting.
func (m *Monitor) RecordPcrDiscontinuity() {
	m.mu.Lock()
	m.inc("p2", "pcr_discontinuity", &m.c.PcrDiscontinuityErrors)
	m.mu.Unlock()
}

// Snapshot returns a copy of all counters.
func (m *Monitor) Snapshot() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.c
}
