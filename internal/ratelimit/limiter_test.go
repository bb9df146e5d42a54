package ratelimit

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestParseMethod(t *testing.T) {
	r := require.New(t)

	for _, m := range []string{"auto", "active", "sleep", "none"} {
		_, err := ParseMethod(m)
		r.NoError(err)
	}
	_, err := ParseMethod("bogus")
	r.Error(err)
}

func TestLimiter_NoneDoesNotDelay(t *testing.T) {
	r := require.New(t)

	l, err := New(MethodNone, 1)
	r.NoError(err)

	start := time.Now()
	for i := 0; i < 1000; i++ {
		l.Wait()
	}
	r.Less(time.Since(start), 50*time.Millisecond)

	stats := l.Statistics(1000)
	r.Zero(stats.AverageUtilization)
}

func TestLimiter_SleepPacesWithinTolerance(t *testing.T) {
	if testing.Short() {
		t.Skip("timing-sensitive")
	}
	r := require.New(t)

	const rate = 200
	l, err := New(MethodSleep, rate)
	r.NoError(err)

	const n = 100
	start := time.Now()
	for i := 0; i < n; i++ {
		l.Wait()
	}
	elapsed := time.Since(start)

	observed := float64(n) / elapsed.Seconds()
	r.InEpsilon(rate, observed, 0.10)
}

func TestLimiter_AutoResolvesToSleep(t *testing.T) {
	r := require.New(t)
	l, err := New(MethodAuto, 100)
	r.NoError(err)
	r.Equal(MethodSleep, l.method)
}

func TestLimiter_StatisticsUsesInjectedClock(t *testing.T) {
	r := require.New(t)
	clock := clockwork.NewFakeClock()

	l, err := New(MethodNone, 100, WithClock(clock))
	r.NoError(err)

	clock.Advance(2 * time.Second)
	stats := l.Statistics(200)
	r.InEpsilon(100, stats.AverageRate, 0.01)
}
