package rules

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/apex/log"
	"gopkg.in/yaml.v3"

	"geohint/internal/model"
)

// placeholderRe matches the `<<type>>` marker in an external rule pattern.
var placeholderRe = regexp.MustCompile(`<<(?P<type>[a-z]*)>>`)

// sourceFile mirrors the external rule source layout: a list of rule groups,
// each carrying a name, a provenance tag and the raw patterns.
type sourceFile struct {
	Groups []sourceGroup `yaml:"groups"`
}

type sourceGroup struct {
	Name   string       `yaml:"name"`
	Source string       `yaml:"source"`
	Rules  []sourceRule `yaml:"rules"`
}

type sourceRule struct {
	Regexp          string `yaml:"regexp"`
	MappingRequired int    `yaml:"mapping_required"`
}

// LoadFile reads a YAML rule source and compiles it into a Set. Malformed
// rules (missing the required-mapping flag, no placeholder, unrecognized
// category) are dropped and logged, never fatal.
func LoadFile(path string, logger log.Interface) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule source: %w", err)
	}
	return Parse(data, logger)
}

// Parse decodes a YAML rule source document.
func Parse(data []byte, logger log.Interface) (*Set, error) {
	if logger == nil {
		logger = log.Log
	}

	var src sourceFile
	if err := yaml.Unmarshal(data, &src); err != nil {
		return nil, fmt.Errorf("parse rule source: %w", err)
	}

	set := &Set{}
	for _, group := range src.Groups {
		for _, raw := range group.Rules {
			rule, err := convertRule(raw)
			if err != nil {
				logger.WithFields(log.Fields{
					"group":  group.Name,
					"regexp": raw.Regexp,
				}).Warnf("dropping rule: %v", err)
				continue
			}
			set.Add(rule)
		}
	}
	return set, nil
}

// convertRule turns one external rule into a compiled-on-demand Rule.
func convertRule(raw sourceRule) (*Rule, error) {
	if raw.MappingRequired != 1 {
		return nil, fmt.Errorf("mapping_required != 1")
	}

	m := placeholderRe.FindStringSubmatch(raw.Regexp)
	if m == nil {
		return nil, fmt.Errorf("no <<type>> placeholder")
	}

	category := m[placeholderRe.SubexpIndex("type")]
	codeType, err := categoryToType(category)
	if err != nil {
		return nil, err
	}

	template := strings.Replace(raw.Regexp, m[0], "{}", 1)
	return NewRule(template, codeType)
}

// categoryToType maps external rule categories onto code types. "pop"
// (point of presence, named after the city) maps to geonames.
func categoryToType(category string) (model.CodeType, error) {
	switch category {
	case "pop":
		return model.CodeGeonames, nil
	case "iata", "icao", "locode", "clli":
		return model.CodeType(category), nil
	}
	return "", fmt.Errorf("unrecognized rule category %q", category)
}
