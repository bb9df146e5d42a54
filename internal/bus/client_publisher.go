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

// ProbePublisher publishes client-originated probe batches onto the
// inbound stream, one message per target agent, tagged with that
// agent's routing header. Grounded on the same franz-go client setup
// as ReplyProducer, restated for keyed headers instead of a bare
// payload.
type ProbePublisher struct {
	client producerClient
	topic  string
	logger *slog.Logger
}

type ClientPublisherOption func(*ProbePublisher)

func WithClientPublisherLogger(logger *slog.Logger) ClientPublisherOption {
	return func(p *ProbePublisher) { p.logger = logger }
}

func withClientPublisherClient(client producerClient) ClientPublisherOption {
	return func(p *ProbePublisher) { p.client = client }
}

// NewProbePublisher builds a publisher for the inbound probe stream.
func NewProbePublisher(cfg config.KafkaConfig, opts ...ClientPublisherOption) (*ProbePublisher, error) {
	p := &ProbePublisher{topic: cfg.InTopics}
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
		return nil, fmt.Errorf("bus: creating kafka client publisher: %w", err)
	}
	p.client = client
	return p, nil
}

// Publish sends one message carrying payload, with a single header
// keyed by agentID whose value is headerJSON (the dispatcher's
// recipient-filter/metadata-extraction format).
func (p *ProbePublisher) Publish(ctx context.Context, agentID, headerJSON string, payload []byte) error {
	rec := &kgo.Record{
		Topic:   p.topic,
		Value:   payload,
		Headers: []kgo.RecordHeader{{Key: agentID, Value: []byte(headerJSON)}},
	}
	results := p.client.ProduceSync(ctx, rec)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("bus: publish probe batch to %s: %w", agentID, err)
	}
	return nil
}

func (p *ProbePublisher) Close() error {
	p.client.Close()
	return nil
}
