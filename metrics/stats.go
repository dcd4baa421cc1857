/*
Package metrics collects counter and aggregated numeric data from a stream of
triggers (connection durations, scan outcomes), and exports them both as a
formatted summary line and as prometheus counters and a histogram.
*/
package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats collects counter and aggregated numeric data from a stream of triggers.
type Stats struct {
	count uint64
	mutex sync.Mutex

	lowest, highest, average, total float64
}

// NewStats returns an initialised stats structure.
func NewStats() *Stats {
	return &Stats{}
}

// Trigger increases the counter by one and folds the quantity into the running statistics. A quantity of zero or
// less is discarded without counting.
func (s *Stats) Trigger(qty float64) {
	if qty <= 0 {
		return
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.highest == 0 || s.highest < qty {
		s.highest = qty
	}
	if s.lowest == 0 || s.lowest > qty {
		s.lowest = qty
	}
	s.average = (s.average*float64(s.count) + qty) / (float64(s.count) + 1.0)
	s.total += qty
	s.count++
}

// GetStats returns the latest counter and aggregated numbers.
func (s *Stats) GetStats() (lowest, highest, average, total float64, count uint64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.lowest, s.highest, s.average, s.total, s.count
}

// Format renders all stats on a single line, after dividing the numeric fields (excluding the counter) by factor.
func (s *Stats) Format(divisionFactor float64, numDecimals int) string {
	lowest, highest, average, total, count := s.GetStats()
	layout := fmt.Sprintf("%%.%df/%%.%df/%%.%df/%%.%df(%%d)", numDecimals, numDecimals, numDecimals, numDecimals)
	return fmt.Sprintf(layout, lowest/divisionFactor, average/divisionFactor, highest/divisionFactor, total/divisionFactor, count)
}

// ScanCounters exposes the protocol engine's global statistics hook (spec section 4.4) both as plain counters and
// as prometheus metrics, so a host process can serve them on a /metrics endpoint.
type ScanCounters struct {
	mutex sync.Mutex

	scanned uint64
	spam    uint64
	ham     uint64

	scannedTotal prometheus.Counter
	spamTotal    prometheus.Counter
	hamTotal     prometheus.Counter
	connDuration prometheus.Histogram
}

// NewScanCounters constructs the counters and registers them with registerer. Pass prometheus.DefaultRegisterer
// to expose them on the default /metrics handler.
func NewScanCounters(registerer prometheus.Registerer) *ScanCounters {
	c := &ScanCounters{
		scannedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "messages_scanned_total",
			Help: "Total number of messages for which a check reply was successfully written.",
		}),
		spamTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "messages_spam_total",
			Help: "Total number of scanned messages whose default metric score reached the required threshold.",
		}),
		hamTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "messages_ham_total",
			Help: "Total number of scanned messages whose default metric score stayed below the required threshold.",
		}),
		connDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "connection_duration_seconds",
			Help:    "Duration of a single client connection from accept to close.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if registerer != nil {
		registerer.MustRegister(c.scannedTotal, c.spamTotal, c.hamTotal, c.connDuration)
	}
	return c
}

// BumpScanned implements the global statistics hook from spec section 4.4: called once per successful Check/Process
// reply, it increments messages_scanned and then messages_spam or messages_ham depending on the verdict.
func (c *ScanCounters) BumpScanned(isSpam bool) {
	c.mutex.Lock()
	c.scanned++
	if isSpam {
		c.spam++
	} else {
		c.ham++
	}
	c.mutex.Unlock()

	c.scannedTotal.Inc()
	if isSpam {
		c.spamTotal.Inc()
	} else {
		c.hamTotal.Inc()
	}
}

// ObserveConnectionDuration records how long a connection was kept open.
func (c *ScanCounters) ObserveConnectionDuration(seconds float64) {
	c.connDuration.Observe(seconds)
}

// Snapshot returns the plain counters, primarily for tests and the formatted summary line.
func (c *ScanCounters) Snapshot() (scanned, spam, ham uint64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.scanned, c.spam, c.ham
}
