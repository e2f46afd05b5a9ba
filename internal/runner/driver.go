package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Driver plays one simulated user: a fixed number of strictly sequential
// POSTs over a shared client.
type Driver struct {
	Client *http.Client
	URL    string
	Body   []byte
	Now    func() time.Time
	Log    zerolog.Logger

	// Timeout bounds each attempt, body read included. 0 means none.
	Timeout time.Duration

	// OnStart and OnFinish are called from the user's goroutine around
	// every attempt. Either may be nil.
	OnStart  func()
	OnFinish func(Attempt)
}

// Run issues requests one at a time, appending each finished attempt to res
// in issue order. Attempts already appended stay in res if a later one
// panics. It stops early, without error, once ctx is done.
func (d *Driver) Run(ctx context.Context, res *UserResult, requests int) {
	if res.Attempts == nil {
		res.Attempts = make([]Attempt, 0, requests)
	}
	for seq := len(res.Attempts); seq < requests; seq++ {
		if ctx.Err() != nil {
			break
		}
		a := d.attempt(ctx, res.User, seq)
		res.Attempts = append(res.Attempts, a)
	}
}

func (d *Driver) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Driver) attempt(ctx context.Context, user, seq int) Attempt {
	if d.OnStart != nil {
		d.OnStart()
	}

	a := Attempt{User: user, Seq: seq}
	a.TimeStamp = d.now()
	status, body, err := d.roundTrip(ctx)
	a.Latency = d.now().Sub(a.TimeStamp)
	a.Status = status
	a.Bytes = int64(len(body))
	a.Outcome, a.Reason = classify(ctx, status, body, err)

	if !a.Success() {
		d.Log.Debug().
			Int("user", user).
			Int("seq", seq).
			Str("outcome", string(a.Outcome)).
			Str("reason", a.Reason).
			Dur("latency", a.Latency).
			Msg("attempt failed")
	}

	if d.OnFinish != nil {
		d.OnFinish(a)
	}
	return a
}

// roundTrip returns once the whole response body has been read.
func (d *Driver) roundTrip(ctx context.Context) (int, []byte, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(d.Body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.Client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, body, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func classify(ctx context.Context, status int, body []byte, err error) (Outcome, string) {
	if err != nil {
		if ctx.Err() != nil {
			return OutcomeCanceled, ctx.Err().Error()
		}
		return OutcomeTransport, err.Error()
	}
	if status < 200 || status > 299 {
		return OutcomeHTTPError, fmt.Sprintf("HTTP %d", status)
	}
	if !json.Valid(body) {
		return OutcomeMalformed, "response is not JSON"
	}
	if reason, ok := errorPayload(body); ok {
		return OutcomeRejected, reason
	}
	return OutcomeSuccess, ""
}

// errorPayload detects a service that answers 2xx but reports a failure in
// the body, e.g. when its model is not loaded.
func errorPayload(body []byte) (string, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return "", false
	}
	for _, key := range []string{"error", "detail"} {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		var msg string
		if json.Unmarshal(raw, &msg) != nil {
			msg = string(raw)
		}
		return key + ": " + msg, true
	}
	return "", false
}
