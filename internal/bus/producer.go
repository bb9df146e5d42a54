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

// producerClient is the subset of kgo.Client methods the reply producer
// uses.
type producerClient interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// ReplyProducer publishes coalesced reply payloads to the outbound
// stream.
type ReplyProducer struct {
	client producerClient
	topic  string
	logger *slog.Logger
}

type ProducerOption func(*ReplyProducer)

func WithProducerLogger(logger *slog.Logger) ProducerOption {
	return func(p *ReplyProducer) { p.logger = logger }
}

func withProducerClient(client producerClient) ProducerOption {
	return func(p *ReplyProducer) { p.client = client }
}

// NewReplyProducer builds a producer for the given Kafka configuration.
// Returns nil, nil when publishing is disabled by configuration.
func NewReplyProducer(cfg config.KafkaConfig, opts ...ProducerOption) (*ReplyProducer, error) {
	if !cfg.OutEnable {
		return nil, nil
	}

	p := &ReplyProducer{topic: cfg.OutTopic}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if p.client != nil {
		return p, nil
	}

	kOpts := []kgo.Opt{
		kgo.SeedBrokers(strings.Split(cfg.Brokers, ",")...),
		kgo.ProducerBatchMaxBytes(int32(cfg.MessageMaxBytes)),
	}
	if cfg.AuthProtocol == config.AuthProtocolSASLPlaintext {
		kOpts = append(kOpts, kgo.SASL(scram.Auth{
			User: cfg.AuthSASLUsername,
			Pass: cfg.AuthSASLPassword,
		}.AsSha512Mechanism()))
	}

	client, err := kgo.NewClient(kOpts...)
	if err != nil {
		return nil, fmt.Errorf("bus: creating kafka producer: %w", err)
	}
	p.client = client
	return p, nil
}

// Publish sends one coalesced payload as a single message on the
// outbound topic.
func (p *ReplyProducer) Publish(ctx context.Context, payload []byte) error {
	rec := &kgo.Record{Topic: p.topic, Value: payload}
	results := p.client.ProduceSync(ctx, rec)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("bus: publish reply batch: %w", err)
	}
	return nil
}

func (p *ReplyProducer) Close() error {
	p.client.Close()
	return nil
}
