package runner

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	URL             string        `json:"url"`
	Users           int           `json:"users"`
	RequestsPerUser int           `json:"requests_per_user"`
	Concurrency     int           `json:"concurrency"` // 0 = launch every user at once
	Timeout         time.Duration `json:"timeout"`     // per request
}

// DefaultConfig mirrors the constants of the original load script.
func DefaultConfig() Config {
	return Config{
		URL:             "http://localhost:8080/predict_landmarks",
		Users:           50,
		RequestsPerUser: 5,
		Timeout:         30 * time.Second,
	}
}

func (c Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("%w: url: %v", ErrInvalidConfig, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%w: url %q must be an absolute http(s) URL", ErrInvalidConfig, c.URL)
	}
	if c.Users < 1 {
		return fmt.Errorf("%w: users must be positive, got %d", ErrInvalidConfig, c.Users)
	}
	if c.RequestsPerUser < 1 {
		return fmt.Errorf("%w: requests per user must be positive, got %d", ErrInvalidConfig, c.RequestsPerUser)
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("%w: concurrency must not be negative, got %d", ErrInvalidConfig, c.Concurrency)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive, got %s", ErrInvalidConfig, c.Timeout)
	}
	return nil
}

// Outcome classifies a single request attempt.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeTransport Outcome = "transport_error" // dial, DNS, timeout, body read
	OutcomeHTTPError Outcome = "http_error"      // non-2xx status
	OutcomeMalformed Outcome = "malformed"       // 2xx but not JSON
	OutcomeRejected  Outcome = "rejected"        // 2xx JSON error payload
	OutcomeCanceled  Outcome = "canceled"        // run aborted mid-request
)

// IsResponseFailure reports whether the round-trip completed but the
// response was not acceptable.
func (o Outcome) IsResponseFailure() bool {
	return o == OutcomeHTTPError || o == OutcomeMalformed || o == OutcomeRejected
}

type Attempt struct {
	User      int           `json:"user"`
	Seq       int           `json:"seq"`
	TimeStamp time.Time     `json:"timestamp"`
	Latency   time.Duration `json:"latency"`
	Status    int           `json:"status"`
	Bytes     int64         `json:"bytes"`
	Outcome   Outcome       `json:"outcome"`
	Reason    string        `json:"reason,omitempty"`
}

func (a Attempt) Success() bool {
	return a.Outcome == OutcomeSuccess
}

// UserResult is the private attempt sequence of one simulated user.
type UserResult struct {
	User     int       `json:"user"`
	Attempts []Attempt `json:"attempts"`
}

type RunResult struct {
	ID       string       `json:"id"`
	Config   Config       `json:"config"`
	Started  time.Time    `json:"started"`
	Finished time.Time    `json:"finished"`
	Users    []UserResult `json:"users"` // completion order
}

// Attempts flattens every user's attempts.
func (r *RunResult) Attempts() []Attempt {
	n := 0
	for _, u := range r.Users {
		n += len(u.Attempts)
	}
	out := make([]Attempt, 0, n)
	for _, u := range r.Users {
		out = append(out, u.Attempts...)
	}
	return out
}

// Samples returns the latencies, in seconds, of successful attempts.
func (r *RunResult) Samples() []float64 {
	var samples []float64
	for _, u := range r.Users {
		for _, a := range u.Attempts {
			if a.Success() {
				samples = append(samples, a.Latency.Seconds())
			}
		}
	}
	return samples
}

func (r *RunResult) Elapsed() time.Duration {
	return r.Finished.Sub(r.Started)
}
