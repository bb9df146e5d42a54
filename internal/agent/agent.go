// Package agent assembles one running saimiris agent out of its
// collaborators: a send loop per configured caracat instance, a receive
// loop per physical interface, the inbound-stream dispatcher, the reply-batching
// producer, and the gateway watcher. Grounded on the teacher's
// controlplane/telemetry Collector, which coordinates an analogous
// set of background components with a manual errCh + WaitGroup
// instead of errgroup, for clearer per-component logging and
// shutdown coordination.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/malbeclabs/saimiris/internal/bus"
	"github.com/malbeclabs/saimiris/internal/config"
	"github.com/malbeclabs/saimiris/internal/dispatcher"
	"github.com/malbeclabs/saimiris/internal/gateway"
	"github.com/malbeclabs/saimiris/internal/metrics"
	"github.com/malbeclabs/saimiris/internal/producer"
	"github.com/malbeclabs/saimiris/internal/ratelimit"
	"github.com/malbeclabs/saimiris/internal/receiver"
	"github.com/malbeclabs/saimiris/internal/sender"
)

// instance is one configured caracat instance's wired-up send loop.
// Multiple instances may share a physical interface, in which case
// they also share one receive loop (see the interface grouping in New) that
// demultiplexes captured replies across all of their instance ids.
type instance struct {
	cfg    config.CaracatConfig
	queue  chan sender.Job
	sender *sender.Sender
}

// Agent runs the full set of background components for one configured
// agent identity.
type Agent struct {
	cfg    config.Config
	logger *slog.Logger

	registry   *prometheus.Registry
	instances  []*instance
	receivers  []*receiver.Receiver
	dispatcher *dispatcher.Dispatcher
	producer   *producer.Producer
	watcher    *gateway.Watcher
	consumer   *bus.ProbeConsumer
	replyBus   *bus.ReplyProducer
}

// New builds an Agent from a validated configuration. It opens the
// Kafka consumer/producer and, per instance, the send/receive loops;
// it does not start anything until Run is called.
func New(cfg config.Config, logger *slog.Logger) (*Agent, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	a := &Agent{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}

	replyBus, err := bus.NewReplyProducer(cfg.Kafka, bus.WithProducerLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("agent: creating reply producer: %w", err)
	}
	a.replyBus = replyBus

	var publisher producer.Publisher
	if replyBus != nil {
		publisher = replyBus
	}
	a.producer = producer.New(publisher, cfg.Kafka,
		producer.WithLogger(logger),
		producer.WithMetrics(metrics.NewProducer(a.registry)),
	)

	consumer, err := bus.NewProbeConsumer(cfg.Kafka, bus.WithConsumerLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("agent: creating probe consumer: %w", err)
	}
	a.consumer = consumer

	var gwClient gateway.Client
	if cfg.Gateway.Enabled() {
		gwClient = gateway.NewClient(&http.Client{Timeout: 10 * time.Second}, cfg.Gateway.URL, cfg.Gateway.AgentSecret)
		a.watcher = gateway.NewWatcher(gwClient, cfg.Agent.ID, cfg.Gateway.AgentSecret, a.instanceConfigs, gateway.WithLogger(logger))
	}

	var reporter sender.ProgressReporter
	if gwClient != nil {
		reporter = gateway.ProgressReporter{Client: gwClient}
	}

	dispatchInstances := make([]dispatcher.Instance, 0, len(cfg.Caracat))
	instanceIDsByIface := make(map[string][]uint16)
	ifaceIntegrityCheck := make(map[string]bool)
	ifaceSeen := make(map[string]bool)
	senderMetrics := metrics.NewSender(a.registry)
	for i := range cfg.Caracat {
		instCfg := cfg.Caracat[i]
		inst, dispatchInst, err := a.buildInstance(instCfg, reporter, senderMetrics)
		if err != nil {
			return nil, err
		}
		a.instances = append(a.instances, inst)
		dispatchInstances = append(dispatchInstances, dispatchInst)
		instanceIDsByIface[instCfg.Interface] = append(instanceIDsByIface[instCfg.Interface], instCfg.InstanceID)

		// A shared receive loop can't enforce a stricter policy for one
		// instance once another bound to the same interface accepts
		// everything, so the interface's effective policy is the AND of
		// every instance sharing it: one disabled instance disables
		// integrity checking for the whole interface.
		if !ifaceSeen[instCfg.Interface] {
			ifaceIntegrityCheck[instCfg.Interface] = instCfg.IntegrityCheck
			ifaceSeen[instCfg.Interface] = true
		} else {
			ifaceIntegrityCheck[instCfg.Interface] = ifaceIntegrityCheck[instCfg.Interface] && instCfg.IntegrityCheck
		}
	}

	// One receive loop per physical interface, bound to every
	// instance_id that shares it, so a reply validates against
	// whichever instance actually sent the probe that elicited it.
	receiverMetrics := metrics.NewReceiver(a.registry)
	for iface, ids := range instanceIDsByIface {
		recvLoop, err := receiver.New(iface, ids, ifaceIntegrityCheck[iface], a.producer,
			receiver.WithLogger(logger),
			receiver.WithMetrics(receiverMetrics),
		)
		if err != nil {
			return nil, fmt.Errorf("agent: interface %s: %w", iface, err)
		}
		a.receivers = append(a.receivers, recvLoop)
	}

	a.dispatcher = dispatcher.New(cfg.Agent.ID, dispatchInstances, a.consumer,
		dispatcher.WithLogger(logger),
		dispatcher.WithMetrics(metrics.NewDispatcher(a.registry)),
	)

	return a, nil
}

func (a *Agent) buildInstance(cfg config.CaracatConfig, reporter sender.ProgressReporter, senderMetrics *metrics.Sender) (*instance, dispatcher.Instance, error) {
	queue := make(chan sender.Job, 100)

	method, err := ratelimit.ParseMethod(cfg.RateLimitingMethod)
	if err != nil {
		return nil, dispatcher.Instance{}, fmt.Errorf("agent: instance %d: %w", cfg.InstanceID, err)
	}
	limiter, err := ratelimit.New(method, cfg.ProbingRate)
	if err != nil {
		return nil, dispatcher.Instance{}, fmt.Errorf("agent: instance %d: %w", cfg.InstanceID, err)
	}

	sendLoop := sender.New(a.cfg.Agent.ID, cfg, limiter, reporter,
		sender.WithLogger(a.logger),
		sender.WithMetrics(senderMetrics),
	)

	inst := &instance{cfg: cfg, queue: queue, sender: sendLoop}

	dispatchInst := dispatcher.Instance{ID: cfg.InstanceID, Queue: queue}
	if cfg.SrcIPv4Prefix != "" {
		_, ipnet, err := net.ParseCIDR(cfg.SrcIPv4Prefix)
		if err != nil {
			return nil, dispatcher.Instance{}, fmt.Errorf("agent: instance %d: invalid src_ipv4_prefix: %w", cfg.InstanceID, err)
		}
		dispatchInst.IPv4Prefix = ipnet
	}
	if cfg.SrcIPv6Prefix != "" {
		_, ipnet, err := net.ParseCIDR(cfg.SrcIPv6Prefix)
		if err != nil {
			return nil, dispatcher.Instance{}, fmt.Errorf("agent: instance %d: invalid src_ipv6_prefix: %w", cfg.InstanceID, err)
		}
		dispatchInst.IPv6Prefix = ipnet
	}
	return inst, dispatchInst, nil
}

func (a *Agent) instanceConfigs() []gateway.InstanceConfigPayload {
	payloads := make([]gateway.InstanceConfigPayload, 0, len(a.instances))
	for _, inst := range a.instances {
		payloads = append(payloads, gateway.InstanceConfigPayload{
			InstanceID:         inst.cfg.InstanceID,
			Interface:          inst.cfg.Interface,
			SrcIPv4Prefix:      inst.cfg.SrcIPv4Prefix,
			SrcIPv6Prefix:      inst.cfg.SrcIPv6Prefix,
			ProbingRate:        inst.cfg.ProbingRate,
			BatchSize:          inst.cfg.BatchSize,
			Packets:            inst.cfg.Packets,
			MinTTL:             inst.cfg.MinTTL,
			MaxTTL:             inst.cfg.MaxTTL,
			RateLimitingMethod: inst.cfg.RateLimitingMethod,
		})
	}
	return payloads
}

// Run starts every background component and blocks until ctx is done
// or a component fails unrecoverably.
func (a *Agent) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 8+2*len(a.instances))
	var wg sync.WaitGroup

	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(runCtx); err != nil && runCtx.Err() == nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	for _, inst := range a.instances {
		inst := inst
		run(fmt.Sprintf("sender[%d]", inst.cfg.InstanceID), func(ctx context.Context) error {
			return inst.sender.Run(ctx, inst.queue)
		})
	}
	for i, recv := range a.receivers {
		run(fmt.Sprintf("receiver[%d]", i), recv.Run)
	}

	run("dispatcher", a.dispatcher.Run)
	run("producer", a.producer.Run)
	if a.watcher != nil {
		run("gateway watcher", a.watcher.Run)
	}

	server := a.startMetricsServer()
	if server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-runCtx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("metrics server shutdown error", "error", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		a.logger.Error("agent shutting down due to component failure", "error", err)
		runErr = err
		cancel()
	}

	wg.Wait()
	a.Close()
	return runErr
}

func (a *Agent) startMetricsServer() *http.Server {
	if a.cfg.Agent.MetricsAddress == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: a.cfg.Agent.MetricsAddress, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server failed", "error", err)
		}
	}()
	return server
}

// Close releases the bus clients. Send/receive loop resources are
// released by their own Run methods on context cancellation.
func (a *Agent) Close() {
	if err := a.consumer.Close(); err != nil {
		a.logger.Warn("closing probe consumer", "error", err)
	}
	if a.replyBus != nil {
		if err := a.replyBus.Close(); err != nil {
			a.logger.Warn("closing reply producer", "error", err)
		}
	}
}
