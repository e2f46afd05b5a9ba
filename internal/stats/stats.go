package stats

import (
	"sync/atomic"
	"time"
)

// Stats holds live counters for the progress display. It is written from
// every user goroutine, so everything here is atomic or locked.
type Stats struct {
	Requests  atomic.Uint64
	Success   atomic.Uint64
	Fail      atomic.Uint64
	Bytes     atomic.Uint64
	UsersDone atomic.Uint64

	inflight atomic.Int64

	// Successful attempts only.
	Latency *SafeHistogram
}

// Snapshot is a cheap copy of Stats handed to the UI.
type Snapshot struct {
	Requests  uint64
	Success   uint64
	Fail      uint64
	Bytes     uint64
	Inflight  int64
	UsersDone uint64

	P50 time.Duration
	P99 time.Duration
	Max time.Duration
}

func NewStats() *Stats {
	return &Stats{Latency: NewSafeHistogram()}
}

func (s *Stats) Begin() {
	s.inflight.Add(1)
}

func (s *Stats) Finish(success bool, bytes int64, latency time.Duration) {
	s.inflight.Add(-1)
	s.Requests.Add(1)
	s.Bytes.Add(uint64(bytes))
	if success {
		s.Success.Add(1)
		s.Latency.Record(latency)
	} else {
		s.Fail.Add(1)
	}
}

// Abort ends an attempt that was cut short by cancellation. It is neither a
// success nor a failure.
func (s *Stats) Abort() {
	s.inflight.Add(-1)
}

func (s *Stats) UserDone() {
	s.UsersDone.Add(1)
}

func (s *Stats) Inflight() int64 {
	return s.inflight.Load()
}

func (s *Stats) ErrorRate() float64 {
	reqs := s.Requests.Load()
	if reqs == 0 {
		return 0
	}
	return (float64(s.Fail.Load()) / float64(reqs)) * 100
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Requests:  s.Requests.Load(),
		Success:   s.Success.Load(),
		Fail:      s.Fail.Load(),
		Bytes:     s.Bytes.Load(),
		Inflight:  s.inflight.Load(),
		UsersDone: s.UsersDone.Load(),
		P50:       s.Latency.Quantile(50),
		P99:       s.Latency.Quantile(99),
		Max:       s.Latency.Max(),
	}
}
