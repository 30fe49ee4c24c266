package verify

import "sync"

// Blacklist tracks probes that failed terminally during this run. It is
// scoped to one Orchestrator; a flaky probe today says nothing about
// tomorrow's run.
type Blacklist struct {
	mu  sync.Mutex
	ids map[int64]struct{}
}

// NewBlacklist returns an empty blacklist.
func NewBlacklist() *Blacklist {
	return &Blacklist{ids: make(map[int64]struct{})}
}

// Add marks a probe as unusable for the rest of the run.
func (b *Blacklist) Add(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ids[id] = struct{}{}
}

// Has reports whether the probe is blacklisted.
func (b *Blacklist) Has(id int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.ids[id]
	return ok
}

// Len returns the number of blacklisted probes.
func (b *Blacklist) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ids)
}
