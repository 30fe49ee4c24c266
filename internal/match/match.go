// Package match applies the compiled rule set and code index to domain
// labels, producing ordered candidate location matches.
//
// Labels are scanned from the most specific (host) label down to the label
// just above the TLD; the TLD itself is never scanned. Within a label, rules
// apply in set order. A domain with zero matches across all labels is done:
// it gets the no-hint outcome and never costs a measurement.
package match

import (
	"github.com/apex/log"

	"geohint/internal/index"
	"geohint/internal/model"
	"geohint/internal/rules"
)

// Matcher binds a rule set and a code index.
type Matcher struct {
	rules  *rules.Set
	index  *index.Index
	logger log.Interface

	// SkipHexEncoded drops domains whose name embeds their own IPv4 address
	// in hex, a reverse-DNS generator pattern that yields junk code hits.
	SkipHexEncoded bool
}

// New creates a Matcher.
func New(ruleSet *rules.Set, idx *index.Index, logger log.Interface) *Matcher {
	if logger == nil {
		logger = log.Log
	}
	return &Matcher{rules: ruleSet, index: idx, logger: logger}
}

// Match annotates the domain's labels with candidate matches and returns
// the number of deduplicated candidates. Running Match twice on an
// unchanged domain produces the same ordered result: matching has no hidden
// state beyond the immutable rule set and index.
func (m *Matcher) Match(d *model.Domain) int {
	if m.SkipHexEncoded && d.HasHexEncodedIPv4() {
		m.logger.WithField("domain", d.Name).Debug("skipping hex-encoded address name")
		return 0
	}

	// Reset any previous annotations so Match is idempotent.
	for i := range d.Labels {
		d.Labels[i].Matches = nil
	}

	// Label 0 is the TLD; never scanned.
	for i := len(d.Labels) - 1; i >= 1; i-- {
		label := &d.Labels[i]
		label.Matches = m.matchLabel(label.Value)
	}
	return d.MatchCount()
}

// matchLabel applies every rule to one label value.
func (m *Matcher) matchLabel(value string) []model.LocationMatch {
	var matches []model.LocationMatch
	for _, rule := range m.rules.Rules {
		code, err := rule.Extract(value)
		if err != nil {
			m.logger.WithField("template", rule.Template).Warnf("rule failed to compile: %v", err)
			continue
		}
		if code == "" {
			continue
		}
		for _, id := range m.index.Lookup(code, rule.Type) {
			matches = append(matches, model.LocationMatch{
				LocationID: id,
				Type:       rule.Type,
				Code:       code,
				Status:     model.MatchUnknown,
			})
		}
	}
	return matches
}
