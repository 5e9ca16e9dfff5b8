package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errWebhook = errors.New("webhook returned 502")

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(t *testing.T, config Config) (*CircuitBreaker, *clock) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cb := New(config, logger)
	c := &clock{now: time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)}
	cb.now = c.Now
	return cb, c
}

func fail(ctx context.Context) error    { return errWebhook }
func succeed(ctx context.Context) error { return nil }

func TestOpensAfterMaxFailures(t *testing.T) {
	cb, _ := newTestBreaker(t, Config{Name: "webhook", MaxFailures: 3, Timeout: time.Minute, MaxRequests: 1})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errWebhook)
		assert.Equal(t, StateClosed, cb.State())
	}

	assert.ErrorIs(t, cb.Execute(ctx, fail), errWebhook)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.False(t, called)
	assert.Equal(t, int64(1), cb.Metrics().TotalRejected)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(t, Config{Name: "webhook", MaxFailures: 2, Timeout: time.Minute})
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, fail))
	require.NoError(t, cb.Execute(ctx, succeed))
	require.Error(t, cb.Execute(ctx, fail))

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 1, cb.Metrics().Failures)
}

func TestHalfOpenProbe(t *testing.T) {
	cb, c := newTestBreaker(t, Config{Name: "webhook", MaxFailures: 1, Timeout: 10 * time.Second, MaxRequests: 1})
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, fail))
	require.Equal(t, StateOpen, cb.State())

	c.Advance(11 * time.Second)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())

	require.Error(t, cb.Execute(ctx, fail))
	c.Advance(11 * time.Second)
	require.Error(t, cb.Execute(ctx, fail))
	assert.Equal(t, StateOpen, cb.State(), "a failed probe reopens the breaker")
}

func TestHalfOpenLimitsConcurrentProbes(t *testing.T) {
	cb, c := newTestBreaker(t, Config{Name: "webhook", MaxFailures: 1, Timeout: time.Second, MaxRequests: 1})
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, fail))
	c.Advance(2 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitBreakerOpen)
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
}

func TestConfigSanitizing(t *testing.T) {
	logger, hook := test.NewNullLogger()

	cb := New(Config{MaxFailures: -1, Timeout: time.Hour, MaxRequests: 1000}, logger)

	assert.Equal(t, "unnamed", cb.name)
	assert.Equal(t, defaultMaxFailures, cb.maxFailures)
	assert.Equal(t, maxAllowedTimeout, cb.timeout)
	assert.Equal(t, maxAllowedRequests, cb.maxRequests)
	assert.Len(t, hook.AllEntries(), 4)
}

func TestStateChangeCallback(t *testing.T) {
	changes := make(chan State, 4)
	cb, _ := newTestBreaker(t, Config{
		Name:        "webhook",
		MaxFailures: 1,
		Timeout:     time.Minute,
		OnStateChange: func(name string, from, to State) {
			changes <- to
		},
	})

	require.Error(t, cb.Execute(context.Background(), fail))

	select {
	case state := <-changes:
		assert.Equal(t, StateOpen, state)
	case <-time.After(time.Second):
		t.Fatal("state change callback not invoked")
	}

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
}

func TestConcurrentExecuteKeepsMetricsConsistent(t *testing.T) {
	cb, _ := newTestBreaker(t, Config{Name: "webhook", MaxFailures: 1000, Timeout: time.Minute})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if (i+j)%3 == 0 {
					cb.Execute(ctx, fail)
				} else {
					cb.Execute(ctx, succeed)
				}
			}
		}(i)
	}
	wg.Wait()

	metrics := cb.Metrics()
	assert.Equal(t, int64(1000), metrics.TotalRequests)
	assert.Equal(t, metrics.TotalRequests, metrics.TotalFailures+metrics.TotalSuccesses)
}

func TestManager(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	manager := NewManager(logger)

	first := manager.GetOrCreate("webhook", Config{MaxFailures: 2, Timeout: time.Second})
	assert.Same(t, first, manager.GetOrCreate("webhook", Config{MaxFailures: 9}))
	assert.Same(t, first, manager.Get("webhook"))
	assert.Nil(t, manager.Get("smtp"))

	manager.GetOrCreate("smtp", Config{})
	metrics := manager.AllMetrics()
	require.Len(t, metrics, 2)
	assert.Equal(t, "webhook", metrics["webhook"].Name)

	assert.True(t, manager.Reset("webhook"))
	assert.False(t, manager.Reset("missing"))
}
