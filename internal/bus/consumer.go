// Package bus wraps franz-go's Kafka client behind narrow interfaces for
// the inbound probe stream and the outbound reply stream, grounded on
// the teacher's flow-enricher Kafka consumer wrapper.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/scram"

	"github.com/malbeclabs/saimiris/internal/config"
)

// consumerClient is the subset of kgo.Client methods the probe consumer
// uses. Narrowed to allow mocking in tests.
type consumerClient interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitUncommittedOffsets(ctx context.Context) error
	Close()
}

// InboundMessage is one decoded Kafka record from the probe stream.
type InboundMessage struct {
	Value   []byte
	Headers map[string]string
}

// ProbeConsumer consumes the inbound probe stream.
type ProbeConsumer struct {
	client consumerClient
	logger *slog.Logger
}

type ConsumerOption func(*ProbeConsumer)

func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *ProbeConsumer) { c.logger = logger }
}

// withConsumerClient is used by tests to inject a fake client.
func withConsumerClient(client consumerClient) ConsumerOption {
	return func(c *ProbeConsumer) { c.client = client }
}

// NewProbeConsumer builds a consumer for the given Kafka configuration.
func NewProbeConsumer(cfg config.KafkaConfig, opts ...ConsumerOption) (*ProbeConsumer, error) {
	c := &ProbeConsumer{}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if c.client != nil {
		return c, nil
	}

	kOpts := []kgo.Opt{
		kgo.SeedBrokers(strings.Split(cfg.Brokers, ",")...),
		kgo.ConsumeTopics(strings.Split(cfg.InTopics, ",")...),
		kgo.ConsumerGroup(cfg.InGroupID),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.DisableAutoCommit(),
	}
	if cfg.AuthProtocol == config.AuthProtocolSASLPlaintext {
		kOpts = append(kOpts, kgo.SASL(scram.Auth{
			User: cfg.AuthSASLUsername,
			Pass: cfg.AuthSASLPassword,
		}.AsSha512Mechanism()))
	}

	client, err := kgo.NewClient(kOpts...)
	if err != nil {
		return nil, fmt.Errorf("bus: creating kafka consumer: %w", err)
	}
	c.client = client
	return c, nil
}

// Poll fetches the next batch of inbound messages. It blocks until
// records are available or ctx is done, consistent with the inbound
// dispatcher's "suspend at stream receive" description.
func (c *ProbeConsumer) Poll(ctx context.Context) ([]InboundMessage, error) {
	fetches := c.client.PollFetches(ctx)
	if fetches.IsClientClosed() {
		return nil, nil
	}

	var firstErr error
	fetches.EachError(func(topic string, partition int32, err error) {
		c.logger.Error("fetch error", "topic", topic, "partition", partition, "error", err)
		if firstErr == nil {
			firstErr = fmt.Errorf("bus: fetch error on %s[%d]: %w", topic, partition, err)
		}
	})

	messages := make([]InboundMessage, 0, fetches.NumRecords())
	fetches.EachRecord(func(rec *kgo.Record) {
		headers := make(map[string]string, len(rec.Headers))
		for _, h := range rec.Headers {
			headers[h.Key] = string(h.Value)
		}
		messages = append(messages, InboundMessage{Value: rec.Value, Headers: headers})
	})
	return messages, firstErr
}

// CommitOffsets commits all uncommitted offsets up to the last Poll.
// Called after a batch has been dispatched, regardless of per-message
// outcome: processing is idempotent at the measurement level.
func (c *ProbeConsumer) CommitOffsets(ctx context.Context) error {
	return c.client.CommitUncommittedOffsets(ctx)
}

func (c *ProbeConsumer) Close() error {
	c.client.Close()
	return nil
}
