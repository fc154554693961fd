package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

var ErrRecordTooLarge = errors.New("telemetry record too large")

// Reading is a sensor value serialized with at most two decimals.
type Reading float64

func (r Reading) MarshalJSON() ([]byte, error) {
	v := float64(r)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("reading is not finite: %v", v)
	}
	v = math.Round(v*100) / 100

	return strconv.AppendFloat(nil, v, 'f', -1, 64), nil
}

func Value(v float64) *Reading {
	r := Reading(v)
	return &r
}

// Record is one sensor snapshot. Absent sensors are omitted from the JSON.
type Record struct {
	Temperature *Reading `json:"t,omitempty"`
	Humidity    *Reading `json:"h,omitempty"`
	Pressure    *Reading `json:"p,omitempty"`
	SoilTemp    *Reading `json:"st,omitempty"`
	SoilMoist   *Reading `json:"sm,omitempty"`
	Rain        *Reading `json:"rain,omitempty"`
	UV          *Reading `json:"uv,omitempty"`
	UVA         *Reading `json:"uva,omitempty"`
	UVB         *Reading `json:"uvb,omitempty"`
	UVC         *Reading `json:"uvc,omitempty"`
}

func (r Record) Empty() bool {
	return r == Record{}
}

// Encode renders the compact JSON payload and enforces maxLen.
func Encode(r Record, maxLen int) ([]byte, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode telemetry: %w", err)
	}
	if maxLen > 0 && len(payload) > maxLen {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrRecordTooLarge, len(payload), maxLen)
	}

	return payload, nil
}

// Fields flattens a JSON telemetry payload into numeric fields keyed by
// their wire names. Non-numeric members are ignored.
func Fields(payload []byte) (map[string]float64, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("decode telemetry: %w", err)
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		if f, ok := v.(float64); ok {
			out[k] = f
		}
	}

	return out, nil
}
