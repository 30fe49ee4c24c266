package atlas

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"

	"geohint/internal/geo"
)

type nopLimiter struct{}

func (nopLimiter) Acquire(ctx context.Context) error { return nil }

func testLogger() log.Interface {
	return &log.Logger{Handler: discard.New(), Level: log.ErrorLevel}
}

func TestCreateOneOff(t *testing.T) {
	var gotReq createRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/measurements/" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if key := r.URL.Query().Get("key"); key != "secret" {
			t.Errorf("key = %q, want secret", key)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(createResponse{Measurements: []int64{12345}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", nopLimiter{}, WithLogger(testLogger()))
	id, err := c.CreateOneOff(context.Background(), "192.0.2.1", 99, 1)
	if err != nil {
		t.Fatalf("CreateOneOff: %v", err)
	}
	if id != 12345 {
		t.Errorf("id = %d, want 12345", id)
	}

	if len(gotReq.Definitions) != 1 || gotReq.Definitions[0].Target != "192.0.2.1" {
		t.Errorf("definitions = %+v", gotReq.Definitions)
	}
	if !gotReq.IsOneOff {
		t.Error("is_oneoff not set")
	}
	if len(gotReq.Probes) != 1 || gotReq.Probes[0].Value != "99" {
		t.Errorf("probes = %+v", gotReq.Probes)
	}
}

func TestStatusAndResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/measurements/7/":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"id":     7,
				"status": map[string]interface{}{"id": 4, "name": "Stopped"},
			})
		case "/measurements/7/results/":
			json.NewEncoder(w).Encode([]map[string]interface{}{
				{"prb_id": 11, "timestamp": 1700000000, "min": 5.5},
				{"prb_id": 12, "timestamp": 1700000000, "min": -1},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nopLimiter{}, WithLogger(testLogger()))

	m, err := c.Status(context.Background(), 7)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if m.ID != 7 || !m.Status.Done() {
		t.Errorf("measurement = %+v", m)
	}

	results, err := c.Results(context.Background(), 7)
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if !results[0].RTT.IsMeasured() || results[0].RTT.Ms != 5.5 {
		t.Errorf("result 0 = %v", results[0].RTT)
	}
	if !results[1].RTT.IsUnreachable() {
		t.Errorf("result 1 = %v, want unreachable", results[1].RTT)
	}
}

func TestNearbyProbesFiltersUnusable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/probes/" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(probeList{Results: []probeDoc{
			{ID: 1, Latitude: 48.1, Longitude: 11.5, StatusName: "Connected",
				Tags: []string{"system-ipv4-works", "system-ipv4-capable"}},
			{ID: 2, Latitude: 48.2, Longitude: 11.6, StatusName: "Disconnected",
				Tags: []string{"system-ipv4-works", "system-ipv4-capable"}},
			{ID: 3, Latitude: 48.3, Longitude: 11.7, StatusName: "Connected",
				Tags: []string{"system-ipv4-works"}},
		}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nopLimiter{}, WithLogger(testLogger()))
	probes, err := c.NearbyProbes(context.Background(), geo.Coordinate{Lat: 48.1, Lon: 11.5}, 50)
	if err != nil {
		t.Fatalf("NearbyProbes: %v", err)
	}
	if len(probes) != 1 || probes[0].ID != 1 {
		t.Errorf("probes = %+v, want only probe 1", probes)
	}
}

func TestRetryOnServerError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(measurementDoc{ID: 7})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nopLimiter{}, WithLogger(testLogger()), WithMaxRetries(2))
	if _, err := c.Status(context.Background(), 7); err != nil {
		t.Fatalf("Status after retry: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "bad probe", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nopLimiter{}, WithLogger(testLogger()), WithMaxRetries(3))
	if _, err := c.CreateOneOff(context.Background(), "192.0.2.1", 1, 1); err == nil {
		t.Fatal("expected error on 400")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on client error)", attempts)
	}
}

func TestFindRecent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("target_ip") != "192.0.2.1" || q.Get("type") != "ping" {
			t.Errorf("query = %v", q)
		}
		json.NewEncoder(w).Encode(measurementList{
			Count: 1,
			Results: []measurementDoc{
				{ID: 55, StopTime: 1700000000},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nopLimiter{}, WithLogger(testLogger()))
	found, err := c.FindRecent(context.Background(), "192.0.2.1", time.Unix(1690000000, 0))
	if err != nil {
		t.Fatalf("FindRecent: %v", err)
	}
	if len(found) != 1 || found[0].ID != 55 {
		t.Errorf("found = %+v", found)
	}
}
