package runner

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landmarkload/internal/dummy"
	"landmarkload/internal/metrics"
)

func newTarget(t *testing.T, cfg dummy.ServerConfig) string {
	t.Helper()
	srv := httptest.NewServer(dummy.NewHandler(cfg, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return srv.URL + "/predict_landmarks"
}

func testConfig(url string, users, requests int) Config {
	return Config{
		URL:             url,
		Users:           users,
		RequestsPerUser: requests,
		Timeout:         5 * time.Second,
	}
}

func countOutcomes(res *RunResult) map[Outcome]int {
	counts := make(map[Outcome]int)
	for _, a := range res.Attempts() {
		counts[a.Outcome]++
	}
	return counts
}

func TestRun_ReliableEndpointYieldsEverySample(t *testing.T) {
	url := newTarget(t, dummy.ServerConfig{})

	cases := []struct{ users, requests int }{
		{1, 1},
		{3, 4},
		{10, 5},
	}
	for _, tc := range cases {
		res, err := NewRunner(testConfig(url, tc.users, tc.requests)).Run(context.Background())
		require.NoError(t, err)

		assert.Len(t, res.Samples(), tc.users*tc.requests)
		assert.Len(t, res.Users, tc.users)
		assert.Equal(t, map[Outcome]int{OutcomeSuccess: tc.users * tc.requests}, countOutcomes(res))
	}
}

func TestRun_FailEveryNthCall(t *testing.T) {
	url := newTarget(t, dummy.ServerConfig{FailEvery: 4})

	res, err := NewRunner(testConfig(url, 4, 5)).Run(context.Background())
	require.NoError(t, err)

	counts := countOutcomes(res)
	assert.Equal(t, 5, counts[OutcomeHTTPError])
	assert.Equal(t, 15, counts[OutcomeSuccess])
	assert.Len(t, res.Samples(), 15)
	for _, a := range res.Attempts() {
		if !a.Success() {
			assert.Equal(t, http.StatusInternalServerError, a.Status)
			assert.Equal(t, "HTTP 500", a.Reason)
		}
	}
}

func TestRun_SingleUserIsSerialized(t *testing.T) {
	type span struct{ start, end time.Time }
	var (
		mu    sync.Mutex
		spans []span
	)
	url := newTarget(t, dummy.ServerConfig{
		Delay: 10 * time.Millisecond,
		OnPredict: func(start, end time.Time) {
			mu.Lock()
			spans = append(spans, span{start, end})
			mu.Unlock()
		},
	})

	res, err := NewRunner(testConfig(url, 1, 3)).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Samples(), 3)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, spans, 3)
	for i := 1; i < len(spans); i++ {
		assert.True(t, spans[i].start.After(spans[i-1].start), "call %d did not start after call %d", i, i-1)
		assert.False(t, spans[i].start.Before(spans[i-1].end), "call %d overlapped call %d", i, i-1)
	}

	attempts := res.Users[0].Attempts
	for i, a := range attempts {
		assert.Equal(t, i, a.Seq)
	}
}

func TestRun_UsersRunConcurrently(t *testing.T) {
	const delay = 100 * time.Millisecond
	url := newTarget(t, dummy.ServerConfig{Delay: delay})

	start := time.Now()
	res, err := NewRunner(testConfig(url, 50, 1)).Run(context.Background())
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.Len(t, res.Samples(), 50)
	assert.Less(t, elapsed, 5*delay, "50 users took %s, looks serial", elapsed)
}

func TestRun_ConcurrencyCeiling(t *testing.T) {
	var inflight, peak atomic.Int64
	inner := dummy.NewHandler(dummy.ServerConfig{Delay: 30 * time.Millisecond}, zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		inner.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig(srv.URL+"/predict_landmarks", 6, 2)
	cfg.Concurrency = 2

	res, err := NewRunner(cfg).Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, res.Samples(), 12)
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestRun_ProgressFiresOncePerUser(t *testing.T) {
	url := newTarget(t, dummy.ServerConfig{Jitter: 20 * time.Millisecond})

	var calls []int
	progress := func(done, total int) {
		assert.Equal(t, 20, total)
		calls = append(calls, done)
	}

	_, err := NewRunner(testConfig(url, 20, 2), WithProgress(progress)).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, calls, 20)
	for i, done := range calls {
		assert.Equal(t, i+1, done)
	}
}

func TestRun_TransportFailuresAreCountedNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/predict_landmarks"
	srv.Close()

	var progressed int
	res, err := NewRunner(testConfig(url, 3, 2), WithProgress(func(int, int) { progressed++ })).Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, res.Samples())
	assert.Equal(t, map[Outcome]int{OutcomeTransport: 6}, countOutcomes(res))
	assert.Equal(t, 3, progressed)
}

func TestRun_UnloadedModelIsRejected(t *testing.T) {
	url := newTarget(t, dummy.ServerConfig{Unloaded: true})

	res, err := NewRunner(testConfig(url, 2, 2)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[Outcome]int{OutcomeRejected: 4}, countOutcomes(res))
	assert.Equal(t, "error: model not loaded", res.Attempts()[0].Reason)
}

func TestRun_TimeoutIsTransportFailure(t *testing.T) {
	url := newTarget(t, dummy.ServerConfig{Delay: 500 * time.Millisecond})

	cfg := testConfig(url, 2, 1)
	cfg.Timeout = 50 * time.Millisecond
	res, err := NewRunner(cfg).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[Outcome]int{OutcomeTransport: 2}, countOutcomes(res))
}

func TestRun_CanceledReturnsPartialResult(t *testing.T) {
	url := newTarget(t, dummy.ServerConfig{Delay: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	progress := func(done, total int) {
		if done == 1 {
			cancel()
		}
	}

	cfg := testConfig(url, 4, 10)
	cfg.Concurrency = 1
	res, err := NewRunner(cfg, WithProgress(progress)).Run(ctx)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, res)
	assert.Less(t, len(res.Attempts()), 4*10)
	assert.NotEmpty(t, res.Samples())
}

func TestRun_CanceledWhileWaitingForSlot(t *testing.T) {
	url := newTarget(t, dummy.ServerConfig{Delay: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	var progressed int
	progress := func(done, total int) {
		progressed = done
		if done == 1 {
			cancel()
		}
	}

	cfg := testConfig(url, 4, 2)
	cfg.Concurrency = 1
	r := NewRunner(cfg, WithProgress(progress))
	res, err := r.Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	// Users queued behind the ceiling when the run was canceled never start.
	assert.LessOrEqual(t, len(res.Users), 2)
	assert.Equal(t, len(res.Users), progressed)
	assert.Equal(t, uint64(len(res.Users)), r.Stats.Snapshot().UsersDone)
	assert.Len(t, res.Users[0].Attempts, 2)
}

func TestRun_PanicKeepsEarlierAttempts(t *testing.T) {
	url := newTarget(t, dummy.ServerConfig{FailEvery: 1})

	// Calls: run start, then two per attempt. The sixth is the start of the
	// third attempt.
	var (
		mu    sync.Mutex
		calls int
		now   = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 6 {
			panic("clock failure")
		}
		now = now.Add(10 * time.Millisecond)
		return now
	}

	r := NewRunner(testConfig(url, 1, 3), WithClock(clock))
	res, err := r.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "user 0: panic: clock failure")
	require.NotNil(t, res)
	require.Len(t, res.Users, 1)
	attempts := res.Users[0].Attempts
	require.Len(t, attempts, 2)
	for _, a := range attempts {
		assert.Equal(t, OutcomeHTTPError, a.Outcome)
	}
	assert.Equal(t, uint64(len(attempts)), r.Stats.Snapshot().Requests)
}

func TestRun_CanceledAttemptsAreNotLiveFailures(t *testing.T) {
	url := newTarget(t, dummy.ServerConfig{Delay: 200 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	r := NewRunner(testConfig(url, 3, 2))
	res, err := r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	counts := countOutcomes(res)
	assert.Equal(t, 3, counts[OutcomeCanceled])
	snap := r.Stats.Snapshot()
	assert.Zero(t, snap.Fail)
	assert.Zero(t, snap.Requests)
	assert.Zero(t, snap.Inflight)
}

func TestRun_InvalidConfig(t *testing.T) {
	res, err := NewRunner(Config{URL: "http://localhost:1", Users: 0, RequestsPerUser: 1, Timeout: time.Second}).
		Run(context.Background())
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRun_InjectedClock(t *testing.T) {
	url := newTarget(t, dummy.ServerConfig{})

	var (
		mu  sync.Mutex
		now = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(250 * time.Millisecond)
		return now
	}

	res, err := NewRunner(testConfig(url, 1, 3), WithClock(clock)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []float64{0.25, 0.25, 0.25}, res.Samples())
}

func TestRun_FeedsLiveStatsAndMetrics(t *testing.T) {
	url := newTarget(t, dummy.ServerConfig{FailEvery: 3})
	collector := metrics.NewCollector()

	r := NewRunner(testConfig(url, 3, 3), WithMetrics(collector))
	_, err := r.Run(context.Background())
	require.NoError(t, err)

	snap := r.Stats.Snapshot()
	assert.Equal(t, uint64(9), snap.Requests)
	assert.Equal(t, uint64(6), snap.Success)
	assert.Equal(t, uint64(3), snap.Fail)
	assert.Equal(t, uint64(3), snap.UsersDone)
	assert.Zero(t, snap.Inflight)
	assert.Zero(t, r.GetInflight())

	n, err := testutil.GatherAndCount(collector.Registry, "landmarkload_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one series per outcome")
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.UsersCompleted()))
}

func TestConfig_Validate(t *testing.T) {
	valid := DefaultConfig()
	require.NoError(t, valid.Validate())

	cases := map[string]func(c *Config){
		"relative url":         func(c *Config) { c.URL = "/predict_landmarks" },
		"unsupported scheme":   func(c *Config) { c.URL = "ftp://host/predict_landmarks" },
		"zero users":           func(c *Config) { c.Users = 0 },
		"zero requests":        func(c *Config) { c.RequestsPerUser = 0 },
		"negative concurrency": func(c *Config) { c.Concurrency = -1 },
		"zero timeout":         func(c *Config) { c.Timeout = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := DefaultConfig()
			mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
		})
	}
}
