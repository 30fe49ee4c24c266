package model

import (
	"time"

	"geohint/internal/geo"
)

// CachedMeasurement is one historical latency sample kept locally so repeat
// targets do not spend probing-service quota.
type CachedMeasurement struct {
	Target  string         `json:"target"`
	ProbeID int64          `json:"probe_id"`
	Coord   geo.Coordinate `json:"coord"`
	RTT     RTTResult      `json:"-"`
	At      time.Time      `json:"at"`
}

// Fresh reports whether the sample is younger than the window ending at now.
func (c CachedMeasurement) Fresh(now time.Time, window time.Duration) bool {
	return now.Sub(c.At) <= window
}
