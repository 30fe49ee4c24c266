package model

import (
	"strings"

	"geohint/internal/geo"
)

// Location is one entry of the location inventory: a populated place with
// every code a network operator might embed in a hostname. Locations are
// built once at inventory load and are read-only during matching and
// verification; the only later mutation is attaching discovered probes.
type Location struct {
	ID         int            `json:"id"`
	Coord      geo.Coordinate `json:"coord"`
	City       string         `json:"city"`
	State      string         `json:"state,omitempty"`
	StateCode  string         `json:"state_code,omitempty"`
	Population int64          `json:"population,omitempty"`

	IATA []string `json:"iata,omitempty"`
	ICAO []string `json:"icao,omitempty"`
	FAA  []string `json:"faa,omitempty"`
	CLLI []string `json:"clli,omitempty"`

	LocodePlaces       []string `json:"locode_places,omitempty"`
	LocodeSubdivisions []string `json:"locode_subdivisions,omitempty"`

	AlternateNames []string `json:"alternate_names,omitempty"`

	// Probes near this location, and the subset healthy enough to use for
	// one-off measurements. Attached after inventory load.
	Probes          []ProbeDescriptor `json:"probes,omitempty"`
	AvailableProbes []ProbeDescriptor `json:"available_probes,omitempty"`
}

// CodeEntry pairs one normalized code string with its type, for index
// construction.
type CodeEntry struct {
	Code string
	Type CodeType
}

// CodeEntries derives every (code, type) pair this location can be matched
// by. Codes are lowercased; LOCODE entries are the state code concatenated
// with the place code, mirroring how operators abbreviate them.
func (l *Location) CodeEntries() []CodeEntry {
	var entries []CodeEntry
	add := func(code string, t CodeType) {
		if code == "" {
			return
		}
		entries = append(entries, CodeEntry{Code: strings.ToLower(code), Type: t})
	}

	add(l.City, CodeGeonames)
	for _, name := range l.AlternateNames {
		add(name, CodeGeonames)
	}
	for _, code := range l.CLLI {
		add(code, CodeCLLI)
	}
	if l.StateCode != "" {
		for _, code := range l.LocodePlaces {
			add(l.StateCode+code, CodeLOCODE)
		}
	}
	for _, code := range l.IATA {
		add(code, CodeIATA)
	}
	for _, code := range l.ICAO {
		add(code, CodeICAO)
	}
	for _, code := range l.FAA {
		add(code, CodeFAA)
	}
	return entries
}

// UsableProbes returns the available probes minus any the predicate rejects
// (typically the run blacklist).
func (l *Location) UsableProbes(reject func(id int64) bool) []ProbeDescriptor {
	var out []ProbeDescriptor
	for _, p := range l.AvailableProbes {
		if reject != nil && reject(p.ID) {
			continue
		}
		out = append(out, p)
	}
	return out
}
