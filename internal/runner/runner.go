package runner

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"landmarkload/internal/metrics"
	"landmarkload/internal/stats"
)

// ProgressFunc is called once per completed user, from a single goroutine.
type ProgressFunc func(done, total int)

type Runner struct {
	Cfg   Config
	Stats *stats.Stats

	log      zerolog.Logger
	metrics  *metrics.Collector
	progress ProgressFunc
	now      func() time.Time
}

type Option func(*Runner)

func WithLogger(l zerolog.Logger) Option {
	return func(r *Runner) { r.log = l }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(r *Runner) { r.metrics = c }
}

func WithProgress(fn ProgressFunc) Option {
	return func(r *Runner) { r.progress = fn }
}

// WithClock replaces time.Now for latency measurement.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

func NewRunner(cfg Config, opts ...Option) *Runner {
	r := &Runner{
		Cfg:   cfg,
		Stats: stats.NewStats(),
		log:   zerolog.Nop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// newClient builds the connection pool shared by every user of one run.
func (r *Runner) newClient() *http.Client {
	pool := r.Cfg.Users
	if r.Cfg.Concurrency > 0 && r.Cfg.Concurrency < pool {
		pool = r.Cfg.Concurrency
	}

	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = pool
	t.MaxIdleConnsPerHost = pool
	t.MaxConnsPerHost = pool
	// HTTP/1.1 only.
	t.ForceAttemptHTTP2 = false
	t.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}

	return &http.Client{Transport: t}
}

// Run launches every simulated user and blocks until all of them have
// returned. On cancellation the partial result is returned with the
// context's error.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	if err := r.Cfg.Validate(); err != nil {
		return nil, err
	}
	body, err := DefaultPayload().Encode()
	if err != nil {
		return nil, err
	}

	client := r.newClient()
	defer client.CloseIdleConnections()

	res := &RunResult{
		ID:      uuid.NewString(),
		Config:  r.Cfg,
		Started: r.now(),
		Users:   make([]UserResult, 0, r.Cfg.Users),
	}
	log := r.log.With().Str("run", res.ID).Logger()
	log.Info().
		Str("url", r.Cfg.URL).
		Int("users", r.Cfg.Users).
		Int("requests_per_user", r.Cfg.RequestsPerUser).
		Int("concurrency", r.Cfg.Concurrency).
		Msg("load test started")

	driver := &Driver{
		Client:   client,
		URL:      r.Cfg.URL,
		Body:     body,
		Now:      r.now,
		Timeout:  r.Cfg.Timeout,
		Log:      log,
		OnStart:  r.attemptStarted,
		OnFinish: r.attemptFinished,
	}

	completed := make(chan UserResult, r.Cfg.Users)
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for ur := range completed {
			res.Users = append(res.Users, ur)
			r.Stats.UserDone()
			if r.metrics != nil {
				r.metrics.UserCompleted()
			}
			if r.progress != nil {
				r.progress(len(res.Users), r.Cfg.Users)
			}
		}
	}()

	var g errgroup.Group
	if r.Cfg.Concurrency > 0 {
		g.SetLimit(r.Cfg.Concurrency)
	}
	for i := 0; i < r.Cfg.Users; i++ {
		if ctx.Err() != nil {
			break
		}
		user := i
		// With a ceiling, g.Go may block past a cancel; the user then
		// never starts and is not reported.
		g.Go(func() (err error) {
			if ctx.Err() != nil {
				return nil
			}
			ur := &UserResult{User: user}
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("user %d: panic: %v", user, p)
				}
				completed <- *ur
			}()
			driver.Run(ctx, ur, r.Cfg.RequestsPerUser)
			return nil
		})
	}

	groupErr := g.Wait()
	close(completed)
	<-collected
	res.Finished = r.now()

	log.Info().
		Int("users_completed", len(res.Users)).
		Dur("elapsed", res.Elapsed()).
		Msg("load test finished")

	if groupErr != nil {
		return res, fmt.Errorf("run %s: %w", res.ID, groupErr)
	}
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("run %s canceled: %w", res.ID, err)
	}
	return res, nil
}

func (r *Runner) attemptStarted() {
	r.Stats.Begin()
	if r.metrics != nil {
		r.metrics.AttemptStarted()
	}
}

func (r *Runner) attemptFinished(a Attempt) {
	if a.Outcome == OutcomeCanceled {
		r.Stats.Abort()
	} else {
		r.Stats.Finish(a.Success(), a.Bytes, a.Latency)
	}
	if r.metrics != nil {
		r.metrics.AttemptFinished(string(a.Outcome), a.Success(), a.Latency)
	}
}

func (r *Runner) GetInflight() int64 {
	return r.Stats.Inflight()
}
