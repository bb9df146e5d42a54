package dispatcher

import "sync/atomic"

// Statistics tracks the dispatcher's routing outcomes.
type Statistics struct {
	DiscardedNotForUs  uint64
	DiscardedMalformed uint64
	DiscardedEmpty     uint64
	RejectedNoTarget   uint64
	Enqueued           uint64
	DroppedQueueFull   uint64
}

func (s *Statistics) incDiscardedNotForUs()  { atomic.AddUint64(&s.DiscardedNotForUs, 1) }
func (s *Statistics) incDiscardedMalformed() { atomic.AddUint64(&s.DiscardedMalformed, 1) }
func (s *Statistics) incDiscardedEmpty()     { atomic.AddUint64(&s.DiscardedEmpty, 1) }
func (s *Statistics) incRejectedNoTarget()   { atomic.AddUint64(&s.RejectedNoTarget, 1) }
func (s *Statistics) incEnqueued()           { atomic.AddUint64(&s.Enqueued, 1) }
func (s *Statistics) incDroppedQueueFull()   { atomic.AddUint64(&s.DroppedQueueFull, 1) }

func (s *Statistics) Snapshot() Statistics {
	return Statistics{
		DiscardedNotForUs:  atomic.LoadUint64(&s.DiscardedNotForUs),
		DiscardedMalformed: atomic.LoadUint64(&s.DiscardedMalformed),
		DiscardedEmpty:     atomic.LoadUint64(&s.DiscardedEmpty),
		RejectedNoTarget:   atomic.LoadUint64(&s.RejectedNoTarget),
		Enqueued:           atomic.LoadUint64(&s.Enqueued),
		DroppedQueueFull:   atomic.LoadUint64(&s.DroppedQueueFull),
	}
}
