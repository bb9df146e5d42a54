package receiver

import "sync/atomic"

// Statistics tracks one interface's receive-loop counters, mirroring
// the teacher's pcap consumer accounting plus the integrity-check
// outcome the spec requires.
type Statistics struct {
	Received        uint64
	ReceivedInvalid uint64
	ReceivedError   uint64
}

func (s *Statistics) incReceived()        { atomic.AddUint64(&s.Received, 1) }
func (s *Statistics) incReceivedInvalid() { atomic.AddUint64(&s.ReceivedInvalid, 1) }
func (s *Statistics) incReceivedError()   { atomic.AddUint64(&s.ReceivedError, 1) }

func (s *Statistics) Snapshot() Statistics {
	return Statistics{
		Received:        atomic.LoadUint64(&s.Received),
		ReceivedInvalid: atomic.LoadUint64(&s.ReceivedInvalid),
		ReceivedError:   atomic.LoadUint64(&s.ReceivedError),
	}
}
