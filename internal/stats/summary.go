package stats

import "errors"

// ErrNoData means there was no successful sample to summarize.
var ErrNoData = errors.New("no successful samples")

// Summary is the count, mean and max of a run's latency samples, in seconds.
type Summary struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean_seconds"`
	Max   float64 `json:"max_seconds"`
}

// Summarize computes the run summary. Sample order does not matter.
func Summarize(samples []float64) (Summary, error) {
	if len(samples) == 0 {
		return Summary{}, ErrNoData
	}
	var sum float64
	max := samples[0]
	for _, s := range samples {
		sum += s
		if s > max {
			max = s
		}
	}
	return Summary{
		Count: len(samples),
		Mean:  sum / float64(len(samples)),
		Max:   max,
	}, nil
}
