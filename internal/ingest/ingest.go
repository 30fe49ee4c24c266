// Package ingest loads the location inventory and the sharded domain
// corpus, and prepares both for the pipeline: missing addresses are
// resolved and measurement probes are attached to locations.
package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"geohint/internal/model"
)

// domainRecord is one corpus entry on the wire.
type domainRecord struct {
	Name string `json:"name"`
	IPv4 string `json:"ipv4,omitempty"`
	IPv6 string `json:"ipv6,omitempty"`
}

// LoadLocations reads the location inventory from a JSON file.
func LoadLocations(path string) ([]*model.Location, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open locations: %w", err)
	}
	defer f.Close()

	var locations []*model.Location
	if err := json.NewDecoder(f).Decode(&locations); err != nil {
		return nil, fmt.Errorf("decode locations: %w", err)
	}
	return locations, nil
}

// LoadDomains reads one corpus shard file. Each line is a JSON array of
// domain records; lines are concatenated into the shard's domain list.
// Blank lines are skipped.
func LoadDomains(path string) ([]*model.Domain, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus shard: %w", err)
	}
	defer f.Close()

	var domains []*model.Domain
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var records []domainRecord
		if err := json.Unmarshal([]byte(line), &records); err != nil {
			return nil, fmt.Errorf("%s:%d: decode records: %w", path, lineNo, err)
		}
		for _, rec := range records {
			if rec.Name == "" {
				continue
			}
			domains = append(domains, model.NewDomain(rec.Name, rec.IPv4, rec.IPv6))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read corpus shard: %w", err)
	}
	return domains, nil
}

// ShardPaths expands a corpus path pattern containing a "{}" placeholder
// into n shard file paths, one per shard index.
func ShardPaths(pattern string, n int) ([]string, error) {
	if !strings.Contains(pattern, "{}") {
		return nil, fmt.Errorf("corpus pattern %q has no {} placeholder", pattern)
	}
	paths := make([]string, n)
	for i := 0; i < n; i++ {
		paths[i] = strings.Replace(pattern, "{}", strconv.Itoa(i), 1)
	}
	return paths, nil
}

// LoadShards loads every shard of a corpus pattern.
func LoadShards(pattern string, n int) ([][]*model.Domain, error) {
	paths, err := ShardPaths(pattern, n)
	if err != nil {
		return nil, err
	}
	shards := make([][]*model.Domain, 0, len(paths))
	for _, p := range paths {
		domains, err := LoadDomains(p)
		if err != nil {
			return nil, err
		}
		shards = append(shards, domains)
	}
	return shards, nil
}
