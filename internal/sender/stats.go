package sender

import (
	"fmt"
	"sync/atomic"
)

// Statistics tracks one instance's send-loop counters, mirroring the
// teacher's SendStatistics accounting (read/sent/failed plus TTL
// filtering) with atomic fields so Run can be observed concurrently by
// a metrics scraper.
type Statistics struct {
	Read            uint64
	Sent            uint64
	Failed          uint64
	FilteredLowTTL  uint64
	FilteredHighTTL uint64
}

func (s *Statistics) incRead()            { atomic.AddUint64(&s.Read, 1) }
func (s *Statistics) incSent()            { atomic.AddUint64(&s.Sent, 1) }
func (s *Statistics) incFailed()          { atomic.AddUint64(&s.Failed, 1) }
func (s *Statistics) incFilteredLowTTL()  { atomic.AddUint64(&s.FilteredLowTTL, 1) }
func (s *Statistics) incFilteredHighTTL() { atomic.AddUint64(&s.FilteredHighTTL, 1) }

// Snapshot returns a copy safe to read without races against ongoing
// atomic updates.
func (s *Statistics) Snapshot() Statistics {
	return Statistics{
		Read:            atomic.LoadUint64(&s.Read),
		Sent:            atomic.LoadUint64(&s.Sent),
		Failed:          atomic.LoadUint64(&s.Failed),
		FilteredLowTTL:  atomic.LoadUint64(&s.FilteredLowTTL),
		FilteredHighTTL: atomic.LoadUint64(&s.FilteredHighTTL),
	}
}

func (s Statistics) String() string {
	return fmt.Sprintf("read=%d sent=%d failed=%d filtered_low_ttl=%d filtered_high_ttl=%d",
		s.Read, s.Sent, s.Failed, s.FilteredLowTTL, s.FilteredHighTTL)
}

// measurementCounters tracks per-measurement sent-probe counts for
// progress reporting to the gateway, since a running instance may be
// asked to report mid-measurement progress independently of its
// lifetime totals.
type measurementCounters struct {
	sent uint64
}
