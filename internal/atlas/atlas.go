// Package atlas is the client for the distributed probing service that
// carries out one-off ping measurements from geographically known probes.
//
// # Wire boundary
//
// The service encodes "target explicitly unreachable" as a negative RTT.
// That sentinel is translated into model.RTTResult at this boundary; callers
// never see magic numbers.
//
// # Quota
//
// Every request passes through the run's shared rate limiter before it is
// sent, so aggregate traffic stays under the service quota no matter how
// many verification tasks are in flight.
package atlas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"

	"geohint/internal/geo"
	"geohint/internal/model"
)

// Limiter gates outbound requests. The run's token bucket satisfies it.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Client talks to the probing service over HTTP.
type Client struct {
	baseURL    string
	key        string
	httpc      *http.Client
	limiter    Limiter
	maxRetries int
	logger     log.Interface
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// WithMaxRetries sets how many times a request is retried on transient
// failure before giving up.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithLogger sets the client logger.
func WithLogger(l log.Interface) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a probing-service client. All requests pass through
// limiter before being sent.
func NewClient(baseURL, key string, limiter Limiter, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		key:        key,
		httpc:      &http.Client{Timeout: 30 * time.Second},
		limiter:    limiter,
		maxRetries: 3,
		logger:     log.Log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateOneOff schedules a single ping measurement from one probe against
// the target and returns the measurement ID.
func (c *Client) CreateOneOff(ctx context.Context, target string, probeID int64, packets int) (int64, error) {
	if packets < 1 {
		packets = 1
	}
	req := createRequest{
		Definitions: []pingDefinition{{
			Target:         target,
			AF:             4,
			Packets:        packets,
			Size:           48,
			Description:    fmt.Sprintf("geohint ping %s", target),
			Type:           "ping",
			ResolveOnProbe: false,
		}},
		Probes: []probeSelector{{
			Value:     strconv.FormatInt(probeID, 10),
			Type:      "probes",
			Requested: 1,
		}},
		IsOneOff: true,
	}

	var resp createResponse
	if err := c.do(ctx, http.MethodPost, "/measurements/", nil, req, &resp); err != nil {
		return 0, fmt.Errorf("create measurement for %s: %w", target, err)
	}
	if len(resp.Measurements) == 0 {
		return 0, fmt.Errorf("create measurement for %s: empty response", target)
	}
	return resp.Measurements[0], nil
}

// Status fetches the current lifecycle state of a measurement.
func (c *Client) Status(ctx context.Context, id int64) (Measurement, error) {
	var doc measurementDoc
	path := fmt.Sprintf("/measurements/%d/", id)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &doc); err != nil {
		return Measurement{}, fmt.Errorf("measurement %d status: %w", id, err)
	}
	return doc.toMeasurement(), nil
}

// Results fetches the per-probe results of a measurement.
func (c *Client) Results(ctx context.Context, id int64) ([]Result, error) {
	var docs []resultDoc
	path := fmt.Sprintf("/measurements/%d/results/", id)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &docs); err != nil {
		return nil, fmt.Errorf("measurement %d results: %w", id, err)
	}
	results := make([]Result, 0, len(docs))
	for _, d := range docs {
		results = append(results, d.toResult())
	}
	return results, nil
}

// FindRecent lists finished or running ping measurements against target
// stopped no earlier than since. Used to reuse existing measurements
// instead of spending quota on new ones.
func (c *Client) FindRecent(ctx context.Context, target string, since time.Time) ([]Measurement, error) {
	q := url.Values{}
	q.Set("type", "ping")
	q.Set("target_ip", target)
	q.Set("status__in", "2,4")
	q.Set("stop_time__gte", strconv.FormatInt(since.Unix(), 10))

	var list measurementList
	if err := c.do(ctx, http.MethodGet, "/measurements/", q, nil, &list); err != nil {
		return nil, fmt.Errorf("find measurements for %s: %w", target, err)
	}
	out := make([]Measurement, 0, len(list.Results))
	for _, d := range list.Results {
		out = append(out, d.toMeasurement())
	}
	return out, nil
}

// ResultsByProbes fetches a measurement's results restricted to the given
// probes and not older than since.
func (c *Client) ResultsByProbes(ctx context.Context, id int64, probeIDs []int64, since time.Time) ([]Result, error) {
	q := url.Values{}
	if len(probeIDs) > 0 {
		parts := make([]string, len(probeIDs))
		for i, p := range probeIDs {
			parts[i] = strconv.FormatInt(p, 10)
		}
		q.Set("probe_ids", strings.Join(parts, ","))
	}
	if !since.IsZero() {
		q.Set("start", strconv.FormatInt(since.Unix(), 10))
	}

	var docs []resultDoc
	path := fmt.Sprintf("/measurements/%d/results/", id)
	if err := c.do(ctx, http.MethodGet, path, q, nil, &docs); err != nil {
		return nil, fmt.Errorf("measurement %d results: %w", id, err)
	}
	results := make([]Result, 0, len(docs))
	for _, d := range docs {
		results = append(results, d.toResult())
	}
	return results, nil
}

// NearbyProbes returns usable probes within radiusKm of the coordinate.
// Probes that are not connected or lack working IPv4 are filtered out.
func (c *Client) NearbyProbes(ctx context.Context, coord geo.Coordinate, radiusKm float64) ([]model.ProbeDescriptor, error) {
	q := url.Values{}
	q.Set("radius", fmt.Sprintf("%f,%f:%f", coord.Lat, coord.Lon, radiusKm))
	q.Set("status_name", model.ProbeStatusConnected)

	var list probeList
	if err := c.do(ctx, http.MethodGet, "/probes/", q, nil, &list); err != nil {
		return nil, fmt.Errorf("probes near %v: %w", coord, err)
	}

	probes := make([]model.ProbeDescriptor, 0, len(list.Results))
	for _, d := range list.Results {
		p := model.ProbeDescriptor{
			ID:     d.ID,
			Coord:  geo.Coordinate{Lat: d.Latitude, Lon: d.Longitude},
			Status: d.StatusName,
			Tags:   d.Tags,
		}
		if p.Usable() {
			probes = append(probes, p)
		}
	}
	return probes, nil
}

// do runs one request with rate limiting and bounded jittered retries.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff(attempt)
			c.logger.WithFields(log.Fields{
				"path":    path,
				"attempt": attempt,
				"delay":   delay.String(),
			}).Debug("retrying request")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := c.limiter.Acquire(ctx); err != nil {
			return err
		}

		retryable, err := c.once(ctx, method, path, query, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
	}
	return fmt.Errorf("%s %s: retries exhausted: %w", method, path, lastErr)
}

// once performs a single HTTP exchange. The bool reports whether the
// failure is worth retrying.
func (c *Client) once(ctx context.Context, method, path string, query url.Values, body, out interface{}) (bool, error) {
	if query == nil {
		query = url.Values{}
	}
	if c.key != "" {
		query.Set("key", c.key)
	}
	u := c.baseURL + path
	if enc := query.Encode(); enc != "" {
		u += "?" + enc
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return true, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return true, fmt.Errorf("service returned %s", resp.Status)
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("service returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return false, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return true, fmt.Errorf("decode response: %w", err)
	}
	return false, nil
}

// backoff returns a jittered delay growing with the attempt number.
func backoff(attempt int) time.Duration {
	base := time.Duration(attempt) * 2 * time.Second
	jitter := time.Duration(rand.Int63n(int64(time.Second)))
	return base + jitter
}
