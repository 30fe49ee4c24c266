// Package index implements the immutable code lookup structure mapping
// normalized location codes to (location id, code type) entries.
//
// The index is built once from the location inventory and is safe for
// unsynchronized concurrent reads afterwards. Lookups are exact-match on the
// lowercased code string, filtered by the expected code type, so the same
// three letters can resolve to an airport under one rule and a city-name
// fragment under another.
package index

import (
	"strings"

	"geohint/internal/model"
)

// Entry is one (location, code type) pair a code string resolves to.
type Entry struct {
	LocationID int
	Type       model.CodeType
}

// Index is the compiled code lookup table.
type Index struct {
	entries map[string][]Entry
	codes   int
}

// Build constructs the index from the location inventory.
func Build(locations []*model.Location) *Index {
	idx := &Index{entries: make(map[string][]Entry, len(locations)*4)}
	for _, loc := range locations {
		for _, ce := range loc.CodeEntries() {
			idx.entries[ce.Code] = append(idx.entries[ce.Code], Entry{
				LocationID: loc.ID,
				Type:       ce.Type,
			})
			idx.codes++
		}
	}
	return idx
}

// Lookup returns the location ids the code resolves to under the given code
// type. Unknown codes return nil. Matching is case-insensitive.
func (x *Index) Lookup(code string, t model.CodeType) []int {
	entries, ok := x.entries[strings.ToLower(code)]
	if !ok {
		return nil
	}
	var ids []int
	for _, e := range entries {
		if e.Type == t {
			ids = append(ids, e.LocationID)
		}
	}
	return ids
}

// Len returns the number of distinct code strings in the index.
func (x *Index) Len() int { return len(x.entries) }

// Codes returns the total number of (code, location) entries.
func (x *Index) Codes() int { return x.codes }
