package model

import "geohint/internal/geo"

// Probe connectivity status and capability tags as reported by the probing
// service inventory.
const (
	ProbeStatusConnected = "Connected"

	TagIPv4Works   = "system-ipv4-works"
	TagIPv4Capable = "system-ipv4-capable"
)

// ProbeDescriptor describes a remote measurement probe. Sourced from the
// probing service and treated as read-only reference data; only the
// run-scoped blacklist tracks probe health beyond this snapshot.
type ProbeDescriptor struct {
	ID     int64          `json:"id"`
	Coord  geo.Coordinate `json:"coord"`
	Status string         `json:"status"`
	Tags   []string       `json:"tags,omitempty"`
}

// Usable reports whether the probe is connected and IPv4-capable, the
// minimum bar for one-off ping measurements.
func (p ProbeDescriptor) Usable() bool {
	if p.Status != ProbeStatusConnected {
		return false
	}
	var works, capable bool
	for _, tag := range p.Tags {
		switch tag {
		case TagIPv4Works:
			works = true
		case TagIPv4Capable:
			capable = true
		}
	}
	return works && capable
}

// AnchorSample is one coarse latency observation from a fixed reference
// vantage, or a synthetic observation folded back from a rejected candidate
// measurement. Reference coordinates ride along for distance math.
type AnchorSample struct {
	Ref   string         `json:"ref"`
	Coord geo.Coordinate `json:"coord"`
	RTT   RTTResult      `json:"-"`
}
