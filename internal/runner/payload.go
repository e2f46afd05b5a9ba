package runner

import (
	"fmt"

	"github.com/goccy/go-json"
)

// LandmarkCount is two hands of 21 points with x, y, z each.
const LandmarkCount = 2 * 21 * 3

const dummyLandmark = 0.1

type Payload struct {
	Landmarks []float64 `json:"landmarks"`
}

// DefaultPayload is the fixed dummy vector every attempt sends.
func DefaultPayload() Payload {
	lm := make([]float64, LandmarkCount)
	for i := range lm {
		lm[i] = dummyLandmark
	}
	return Payload{Landmarks: lm}
}

// Encode marshals the payload once so every attempt reuses the same bytes.
func (p Payload) Encode() ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}
