// Package producer implements the reply-batching producer: it coalesces
// individually-encoded reply records into byte-budgeted batches and
// publishes each batch once it fills the budget or the max-wait elapses,
// carrying over exactly one over-limit record into the next batch.
// Grounded on the teacher's telemetry submitter/buffer pair, adapted
// from a fixed-count budget to the spec's byte budget.
package producer

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/saimiris/internal/config"
	"github.com/malbeclabs/saimiris/internal/metrics"
	"github.com/malbeclabs/saimiris/internal/probe"
)

// publishMaxTries bounds the retries below so a wedged transport
// doesn't stall the batching loop indefinitely; a batch that still
// fails after these attempts is dropped and counted as a failure.
const publishMaxTries = 3

// Publisher publishes one coalesced batch payload. internal/bus.ReplyProducer
// satisfies this.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
}

// Producer batches encoded reply records and publishes them to the
// outbound stream.
type Producer struct {
	publisher    Publisher
	maxBytes     int
	maxWait      time.Duration
	pollInterval time.Duration
	clock        clockwork.Clock
	logger       *slog.Logger

	in      chan probe.Reply
	stats   Statistics
	metrics *metrics.Producer
}

type Option func(*Producer)

func WithLogger(logger *slog.Logger) Option { return func(p *Producer) { p.logger = logger } }

// WithMetrics exposes the producer's publish outcomes as Prometheus
// metrics in addition to the in-process Statistics snapshot.
func WithMetrics(m *metrics.Producer) Option { return func(p *Producer) { p.metrics = m } }

// WithClock injects a clockwork.Clock for deterministic tests; real
// callers get clockwork.NewRealClock() by default.
func WithClock(c clockwork.Clock) Option { return func(p *Producer) { p.clock = c } }

// New builds a Producer. publisher may be nil, in which case batches
// are dropped and counted as failures (used when out_enable is false).
func New(publisher Publisher, cfg config.KafkaConfig, opts ...Option) *Producer {
	p := &Producer{
		publisher:    publisher,
		maxBytes:     cfg.MessageMaxBytes,
		maxWait:      time.Duration(cfg.OutBatchWaitTimeMS) * time.Millisecond,
		pollInterval: time.Duration(cfg.OutBatchWaitIntervalMS) * time.Millisecond,
		clock:        clockwork.NewRealClock(),
		in:           make(chan probe.Reply, 1024),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return p
}

// Enqueue queues one reply for batching. Implements receiver.ReplySink.
func (p *Producer) Enqueue(r probe.Reply) {
	p.in <- r
}

// Run batches and publishes until ctx is done, flushing any pending
// batch before returning.
func (p *Producer) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.pollInterval)
	defer ticker.Stop()

	var batch [][]byte
	var batchBytes int
	var batchStart time.Time

	flush := func() {
		if len(batch) == 0 {
			return
		}
		p.publish(ctx, batch)
		batch = nil
		batchBytes = 0
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return ctx.Err()

		case r := <-p.in:
			record := probe.EncodeReplies([]probe.Reply{r})
			if len(batch) > 0 && batchBytes+len(record) > p.maxBytes {
				flush()
			}
			if len(batch) == 0 {
				batchStart = p.clock.Now()
			}
			batch = append(batch, record)
			batchBytes += len(record)

		case <-ticker.Chan():
			if len(batch) > 0 && p.clock.Since(batchStart) >= p.maxWait {
				flush()
			}
		}
	}
}

func (p *Producer) publish(ctx context.Context, batch [][]byte) {
	payload := make([]byte, 0, sumLens(batch))
	for _, record := range batch {
		payload = append(payload, record...)
	}

	if p.publisher == nil {
		p.stats.incFailure(len(batch))
		if p.metrics != nil {
			p.metrics.IncFailure()
		}
		p.logger.Debug("publisher disabled, dropping reply batch", "replies", len(batch))
		return
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, p.publisher.Publish(ctx, payload)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(publishMaxTries))
	if err != nil {
		p.stats.incFailure(len(batch))
		if p.metrics != nil {
			p.metrics.IncFailure()
		}
		p.logger.Warn("publish reply batch failed", "replies", len(batch), "bytes", len(payload), "error", err)
		return
	}
	p.stats.incSuccess(len(batch))
	if p.metrics != nil {
		p.metrics.IncSuccess()
	}
}

func sumLens(batch [][]byte) int {
	n := 0
	for _, b := range batch {
		n += len(b)
	}
	return n
}

// Statistics returns a snapshot of the producer's publish counters.
func (p *Producer) Statistics() Statistics { return p.stats.Snapshot() }
