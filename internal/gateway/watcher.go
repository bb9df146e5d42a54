package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"
)

const (
	initialDelay = 5 * time.Second
	tickInterval = 30 * time.Second
)

// InstanceConfigProvider returns the current sanitized instance
// configurations to report to the gateway. Called fresh on every tick
// so a reload is reflected without restarting the watcher.
type InstanceConfigProvider func() []InstanceConfigPayload

// Watcher is the background task that keeps this agent registered
// with the gateway and reports its configuration and health on a
// fixed interval. Grounded on the teacher's 2z-oracle watcher's
// Run/Tick shape, adapted from a metrics poller to a registration and
// health-report loop.
type Watcher struct {
	client  Client
	agentID string
	secret  string
	config  InstanceConfigProvider
	logger  *slog.Logger

	registered bool
}

type Option func(*Watcher)

func WithLogger(logger *slog.Logger) Option { return func(w *Watcher) { w.logger = logger } }

// NewWatcher builds a Watcher for agentID, registering with secret
// when the gateway doesn't yet know this agent.
func NewWatcher(client Client, agentID, secret string, config InstanceConfigProvider, opts ...Option) *Watcher {
	w := &Watcher{client: client, agentID: agentID, secret: secret, config: config}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return w
}

// Run waits out the initial delay, then ticks every 30s until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(initialDelay):
	}

	w.Tick(ctx)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick performs one registration-check/config/health iteration. Every
// HTTP failure is logged. A failed agent lookup (other than 404) or a
// failed registration abandons the rest of the iteration; a failed
// config post still goes on to the health post. It never returns an
// error since none of this affects probing.
func (w *Watcher) Tick(ctx context.Context) {
	_, status, err := w.client.GetAgent(ctx, w.agentID)
	switch {
	case err != nil && status == http.StatusNotFound:
		w.registered = false
	case err != nil:
		w.logger.Info("gateway: get agent failed", "error", err)
		return
	default:
		w.registered = true
	}

	if !w.registered {
		if _, err := w.client.RegisterAgent(ctx, w.agentID, w.secret); err != nil {
			w.logger.Warn("gateway: register agent failed, retrying next tick", "error", err)
			return
		}
		w.registered = true
	}

	if _, err := w.client.PostConfig(ctx, w.agentID, ConfigRequest{Instances: w.config()}); err != nil {
		w.logger.Warn("gateway: post config failed", "error", err)
	}

	if _, err := w.client.PostHealth(ctx, w.agentID, HealthRequest{Healthy: true, LastCheck: nowRFC3339()}); err != nil {
		w.logger.Warn("gateway: post health failed", "error", err)
	}
}

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339) }

// ProgressReporter adapts Client to internal/sender.ProgressReporter,
// reporting one measurement's send progress per call.
type ProgressReporter struct {
	Client Client
}

func (p ProgressReporter) ReportMeasurementStatus(ctx context.Context, agentID, measurementID string, sentProbes uint64, isComplete bool) error {
	_, err := p.Client.PostMeasurementStatus(ctx, agentID, measurementID, MeasurementStatusRequest{
		SentProbes: sentProbes,
		IsComplete: isComplete,
	})
	return err
}
