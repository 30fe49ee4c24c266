// Package rules compiles hostname extraction rules into regular expressions.
//
// A rule is a template with exactly one `{}` placeholder plus a code type.
// Compilation substitutes the placeholder with the code type's capture
// pattern (see model.CodeType.Pattern) and is lazy: the regex is built on
// first use and cached, after which rules are immutable and safe to share
// across concurrent readers.
package rules

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"geohint/internal/model"
)

// Rule is one compiled extraction rule.
type Rule struct {
	Template string
	Type     model.CodeType

	once sync.Once
	re   *regexp.Regexp
	err  error
}

// NewRule builds a rule from a template and code type. The template must
// contain exactly one `{}` placeholder.
func NewRule(template string, t model.CodeType) (*Rule, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown code type %q", t)
	}
	if strings.Count(template, "{}") != 1 {
		return nil, fmt.Errorf("template %q must contain exactly one {} placeholder", template)
	}
	return &Rule{Template: template, Type: t}, nil
}

// Regexp returns the compiled expression, compiling it on first call.
func (r *Rule) Regexp() (*regexp.Regexp, error) {
	r.once.Do(func() {
		pattern := strings.Replace(r.Template, "{}", r.Type.Pattern(), 1)
		r.re, r.err = regexp.Compile(pattern)
	})
	return r.re, r.err
}

// Extract applies the rule to a label and returns the captured code, or ""
// if the label does not match.
func (r *Rule) Extract(label string) (string, error) {
	re, err := r.Regexp()
	if err != nil {
		return "", err
	}
	match := re.FindStringSubmatch(label)
	if match == nil {
		return "", nil
	}
	idx := re.SubexpIndex("code")
	if idx < 0 || idx >= len(match) {
		return "", fmt.Errorf("rule %q has no code capture group", r.Template)
	}
	return match[idx], nil
}

// Set is an ordered collection of rules. Order matters: the matcher applies
// rules in set order within each label.
type Set struct {
	Rules []*Rule
}

// Add appends a rule to the set.
func (s *Set) Add(r *Rule) { s.Rules = append(s.Rules, r) }

// Len returns the number of rules.
func (s *Set) Len() int { return len(s.Rules) }
