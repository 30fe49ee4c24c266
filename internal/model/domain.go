package model

import (
	"fmt"
	"strings"
)

// MatchStatus tracks a candidate's verification lifecycle. Transitions are
// monotonic: a confirmed match is never reverted.
type MatchStatus string

const (
	MatchUnknown   MatchStatus = "unknown"
	MatchPossible  MatchStatus = "possible"
	MatchConfirmed MatchStatus = "confirmed"
)

// LocationMatch is one candidate location extracted from a domain label.
type LocationMatch struct {
	LocationID int         `json:"location_id"`
	Type       CodeType    `json:"code_type"`
	Code       string      `json:"code"`
	Status     MatchStatus `json:"status"`

	// Confirming evidence, set once on confirmation.
	RTTMs      float64 `json:"rtt_ms,omitempty"`
	DistanceKm float64 `json:"distance_km,omitempty"`
	ProbeID    int64   `json:"probe_id,omitempty"`
}

// Confirm records the confirming measurement. It is a no-op if the match is
// already confirmed.
func (m *LocationMatch) Confirm(rttMs, distanceKm float64, probeID int64) {
	if m.Status == MatchConfirmed {
		return
	}
	m.Status = MatchConfirmed
	m.RTTMs = rttMs
	m.DistanceKm = distanceKm
	m.ProbeID = probeID
}

// Label is one dot-separated component of a domain name with the candidate
// matches found in it.
type Label struct {
	Value   string          `json:"value"`
	Matches []LocationMatch `json:"matches,omitempty"`
}

// Domain is one target host. Labels are ordered from the top-level label at
// index 0 to the most specific (host) label at the end, so label position is
// meaningful: the TLD is never scanned, and host-level hints outrank
// shared-domain hints.
type Domain struct {
	Name   string  `json:"name"`
	IPv4   string  `json:"ipv4,omitempty"`
	IPv6   string  `json:"ipv6,omitempty"`
	Labels []Label `json:"labels"`

	// Confirmed is the winning match once verification succeeds.
	Confirmed *LocationMatch `json:"confirmed,omitempty"`
}

// NewDomain builds a Domain, splitting the name into labels ordered
// top-level first.
func NewDomain(name, ipv4, ipv6 string) *Domain {
	parts := strings.Split(name, ".")
	labels := make([]Label, 0, len(parts))
	for i := len(parts) - 1; i >= 0; i-- {
		labels = append(labels, Label{Value: parts[i]})
	}
	return &Domain{Name: name, IPv4: ipv4, IPv6: ipv6, Labels: labels}
}

// AllMatches returns every candidate match ordered most-specific label
// first, rule order within a label, with duplicate location ids collapsed
// keeping the first occurrence.
func (d *Domain) AllMatches() []*LocationMatch {
	var matches []*LocationMatch
	seen := make(map[int]struct{})
	for i := len(d.Labels) - 1; i >= 0; i-- {
		label := &d.Labels[i]
		for j := range label.Matches {
			m := &label.Matches[j]
			if _, dup := seen[m.LocationID]; dup {
				continue
			}
			seen[m.LocationID] = struct{}{}
			matches = append(matches, m)
		}
	}
	return matches
}

// MatchCount returns the number of deduplicated candidate matches.
func (d *Domain) MatchCount() int {
	return len(d.AllMatches())
}

// Address returns the address for the requested IP version ("ipv4"/"ipv6").
func (d *Domain) Address(version string) (string, error) {
	switch version {
	case "ipv4":
		return d.IPv4, nil
	case "ipv6":
		return d.IPv6, nil
	}
	return "", fmt.Errorf("unknown IP version %q", version)
}

// HasHexEncodedIPv4 reports whether the domain name embeds its own IPv4
// address hex-encoded, a common pattern in auto-generated reverse DNS names
// that produces bogus code hits.
func (d *Domain) HasHexEncodedIPv4() bool {
	if d.IPv4 == "" {
		return false
	}
	blocks := strings.Split(d.IPv4, ".")
	if len(blocks) != 4 {
		return false
	}
	var hexIP strings.Builder
	for _, block := range blocks {
		var v int
		if _, err := fmt.Sscanf(block, "%d", &v); err != nil || v < 0 || v > 255 {
			return false
		}
		fmt.Fprintf(&hexIP, "%02x", v)
	}
	return strings.Contains(strings.ToLower(d.Name), hexIP.String())
}
