// Package metrics registers the Prometheus counters exposed on the
// agent's metrics_address, grouped per component the way the
// teacher's flow-enricher groups its EnricherMetrics/FlowConsumerMetrics
// structs. One value per component kind is built at startup and
// threaded into each component via its WithMetrics option.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Receiver counts the receive loop's capture and validation outcomes.
type Receiver struct {
	Received        prometheus.Counter
	ReceivedInvalid prometheus.Counter
	ReceivedError   prometheus.Counter
}

func NewReceiver(reg prometheus.Registerer) *Receiver {
	factory := promauto.With(reg)
	return &Receiver{
		Received: factory.NewCounter(prometheus.CounterOpts{
			Name: "saimiris_receiver_received_total",
			Help: "Total number of captured replies accepted and forwarded to the producer",
		}),
		ReceivedInvalid: factory.NewCounter(prometheus.CounterOpts{
			Name: "saimiris_receiver_received_invalid_total",
			Help: "Total number of captured packets that failed checksum validation against every bound instance",
		}),
		ReceivedError: factory.NewCounter(prometheus.CounterOpts{
			Name: "saimiris_receiver_received_error_total",
			Help: "Total number of captured packets that failed to decode",
		}),
	}
}

// Sender counts the send loop's filtering and transmission outcomes.
type Sender struct {
	Read            prometheus.Counter
	Sent            prometheus.Counter
	Failed          prometheus.Counter
	FilteredLowTTL  prometheus.Counter
	FilteredHighTTL prometheus.Counter
}

func NewSender(reg prometheus.Registerer) *Sender {
	factory := promauto.With(reg)
	return &Sender{
		Read: factory.NewCounter(prometheus.CounterOpts{
			Name: "saimiris_sender_read_total",
			Help: "Total number of probes read off the send queue",
		}),
		Sent: factory.NewCounter(prometheus.CounterOpts{
			Name: "saimiris_sender_sent_total",
			Help: "Total number of probe packets successfully transmitted",
		}),
		Failed: factory.NewCounter(prometheus.CounterOpts{
			Name: "saimiris_sender_failed_total",
			Help: "Total number of probe packets that failed to transmit",
		}),
		FilteredLowTTL: factory.NewCounter(prometheus.CounterOpts{
			Name: "saimiris_sender_filtered_low_ttl_total",
			Help: "Total number of probes dropped for TTL below the configured minimum",
		}),
		FilteredHighTTL: factory.NewCounter(prometheus.CounterOpts{
			Name: "saimiris_sender_filtered_high_ttl_total",
			Help: "Total number of probes dropped for TTL above the configured maximum",
		}),
	}
}

// Producer counts the reply-batching producer's publish outcomes.
type Producer struct {
	MessagesTotal *prometheus.CounterVec
}

func NewProducer(reg prometheus.Registerer) *Producer {
	factory := promauto.With(reg)
	return &Producer{
		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "saimiris_producer_messages_total",
			Help: "Total number of reply-batch messages published, by outcome",
		}, []string{"outcome"}),
	}
}

func (p *Producer) IncSuccess() { p.MessagesTotal.WithLabelValues("success").Inc() }
func (p *Producer) IncFailure() { p.MessagesTotal.WithLabelValues("failure").Inc() }

// Dispatcher counts the dispatcher's routing outcomes.
type Dispatcher struct {
	DiscardedNotForUs  prometheus.Counter
	DiscardedMalformed prometheus.Counter
	DiscardedEmpty     prometheus.Counter
	RejectedNoTarget   prometheus.Counter
	Enqueued           prometheus.Counter
	DroppedQueueFull   prometheus.Counter
}

func NewDispatcher(reg prometheus.Registerer) *Dispatcher {
	factory := promauto.With(reg)
	return &Dispatcher{
		DiscardedNotForUs: factory.NewCounter(prometheus.CounterOpts{
			Name: "saimiris_dispatcher_discarded_not_for_us_total",
			Help: "Total number of inbound messages discarded because no header matched this agent",
		}),
		DiscardedMalformed: factory.NewCounter(prometheus.CounterOpts{
			Name: "saimiris_dispatcher_discarded_malformed_total",
			Help: "Total number of inbound messages discarded for malformed metadata or payload",
		}),
		DiscardedEmpty: factory.NewCounter(prometheus.CounterOpts{
			Name: "saimiris_dispatcher_discarded_empty_total",
			Help: "Total number of inbound messages discarded for decoding to zero probes",
		}),
		RejectedNoTarget: factory.NewCounter(prometheus.CounterOpts{
			Name: "saimiris_dispatcher_rejected_no_target_total",
			Help: "Total number of batches rejected for matching no instance",
		}),
		Enqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "saimiris_dispatcher_enqueued_total",
			Help: "Total number of jobs enqueued onto a send queue",
		}),
		DroppedQueueFull: factory.NewCounter(prometheus.CounterOpts{
			Name: "saimiris_dispatcher_dropped_queue_full_total",
			Help: "Total number of jobs dropped because the target send queue was full",
		}),
	}
}
