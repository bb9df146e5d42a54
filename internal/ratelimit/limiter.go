// Package ratelimit paces the send loop at a target packets-per-second,
// wrapping go.uber.org/ratelimit the way the sender's rate limiter is
// described in the distilled agent: after every batch_size successful
// sends, the caller invokes Wait and blocks until the window's pace is
// met.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/ratelimit"
)

// Method selects the pacing strategy.
type Method string

const (
	MethodAuto   Method = "auto"
	MethodActive Method = "active"
	MethodSleep  Method = "sleep"
	MethodNone   Method = "none"
)

// Option configures optional Limiter behavior.
type Option func(*Limiter)

// WithClock injects a clockwork.Clock for deterministic tests; real
// callers get clockwork.NewRealClock() by default.
func WithClock(c clockwork.Clock) Option { return func(l *Limiter) { l.clock = c } }

func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodAuto, MethodActive, MethodSleep, MethodNone:
		return Method(s), nil
	default:
		return "", fmt.Errorf("ratelimit: unknown method %q", s)
	}
}

// Limiter paces a stream of Wait calls at a target rate, and tracks the
// statistics the send loop reports alongside its own counters.
type Limiter struct {
	rl        ratelimit.Limiter
	targetPPS uint64
	method    Method
	clock     clockwork.Clock
	mu        sync.Mutex
	started   time.Time
	waitCalls uint64
}

// New builds a Limiter for the given target rate (packets per second)
// and pacing method. rate==0 or method==none disables pacing entirely.
func New(method Method, ratePPS uint64, opts ...Option) (*Limiter, error) {
	resolved := method
	if resolved == MethodAuto {
		// The cheapest portable choice: active busy-waits a full CPU
		// core and should only run when explicitly requested.
		resolved = MethodSleep
	}

	l := &Limiter{method: resolved, targetPPS: ratePPS, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(l)
	}
	l.started = l.clock.Now()

	switch resolved {
	case MethodNone:
		l.rl = nil
	case MethodSleep:
		if ratePPS == 0 {
			l.rl = ratelimit.NewUnlimited()
		} else {
			l.rl = ratelimit.New(int(ratePPS))
		}
	case MethodActive:
		if ratePPS == 0 {
			l.rl = ratelimit.NewUnlimited()
		} else {
			l.rl = ratelimit.New(int(ratePPS), ratelimit.WithoutSlack)
		}
	default:
		return nil, fmt.Errorf("ratelimit: unresolved method %q", method)
	}
	return l, nil
}

// Wait blocks the caller until the next slot, per the limiter's pacing
// method. A none limiter returns immediately.
func (l *Limiter) Wait() {
	if l.rl == nil {
		return
	}
	l.rl.Take()
	l.mu.Lock()
	l.waitCalls++
	l.mu.Unlock()
}

// Statistics is a point-in-time snapshot of observed pacing.
type Statistics struct {
	AverageRate        float64
	AverageUtilization float64
}

// Statistics reports the average observed rate (sends per second since
// the limiter was created) and its utilization relative to the target
// rate. For a none limiter, utilization is always reported as 0.
func (l *Limiter) Statistics(sent uint64) Statistics {
	elapsed := l.clock.Since(l.started).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}
	rate := float64(sent) / elapsed

	var utilization float64
	if l.method != MethodNone && l.targetPPS > 0 {
		utilization = rate / float64(l.targetPPS)
	}
	return Statistics{AverageRate: rate, AverageUtilization: utilization}
}
