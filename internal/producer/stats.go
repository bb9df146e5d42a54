package producer

import "sync/atomic"

// Statistics tracks the reply-batching producer's publish outcomes.
type Statistics struct {
	MessagesSuccess  uint64
	MessagesFailure  uint64
	RepliesPublished uint64
	RepliesDropped   uint64
}

func (s *Statistics) incSuccess(replies int) {
	atomic.AddUint64(&s.MessagesSuccess, 1)
	atomic.AddUint64(&s.RepliesPublished, uint64(replies))
}

func (s *Statistics) incFailure(replies int) {
	atomic.AddUint64(&s.MessagesFailure, 1)
	atomic.AddUint64(&s.RepliesDropped, uint64(replies))
}

func (s *Statistics) Snapshot() Statistics {
	return Statistics{
		MessagesSuccess:  atomic.LoadUint64(&s.MessagesSuccess),
		MessagesFailure:  atomic.LoadUint64(&s.MessagesFailure),
		RepliesPublished: atomic.LoadUint64(&s.RepliesPublished),
		RepliesDropped:   atomic.LoadUint64(&s.RepliesDropped),
	}
}
