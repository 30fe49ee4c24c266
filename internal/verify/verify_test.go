package verify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"

	"geohint/internal/atlas"
	"geohint/internal/geo"
	"geohint/internal/model"
)

var (
	munichCoord    = geo.Coordinate{Lat: 48.1374, Lon: 11.5755}
	singaporeCoord = geo.Coordinate{Lat: 1.3521, Lon: 103.8198}
)

func testLogger() log.Interface {
	return &log.Logger{Handler: discard.New(), Level: log.ErrorLevel}
}

// fakeSampler returns a fixed set of vantage samples.
type fakeSampler struct {
	samples []model.AnchorSample
}

func (f fakeSampler) SampleAll(ctx context.Context, target string) []model.AnchorSample {
	return f.samples
}

func anchorAt(coord geo.Coordinate, rtt model.RTTResult) model.AnchorSample {
	return model.AnchorSample{Ref: "test-anchor", Coord: coord, RTT: rtt}
}

// fakeProber scripts the probing service: measurement ids equal the probe
// id they were created for.
type fakeProber struct {
	mu         sync.Mutex
	created    []int64
	findCalls  int
	rttFor     map[int64]model.RTTResult
	failProbes map[int64]bool
	recent     []atlas.Measurement
	recentRes  map[int64][]atlas.Result
}

func (f *fakeProber) CreateOneOff(ctx context.Context, target string, probeID int64, packets int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, probeID)
	return probeID, nil
}

func (f *fakeProber) Status(ctx context.Context, id int64) (atlas.Measurement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := atlas.StatusStopped
	if f.failProbes[id] {
		status = atlas.StatusForcedStop
	}
	return atlas.Measurement{ID: id, Status: status}, nil
}

func (f *fakeProber) Results(ctx context.Context, id int64) ([]atlas.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rtt, ok := f.rttFor[id]
	if !ok {
		return nil, nil
	}
	return []atlas.Result{{ProbeID: id, Timestamp: time.Now(), RTT: rtt}}, nil
}

func (f *fakeProber) FindRecent(ctx context.Context, target string, since time.Time) ([]atlas.Measurement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	return f.recent, nil
}

func (f *fakeProber) ResultsByProbes(ctx context.Context, id int64, probeIDs []int64, since time.Time) ([]atlas.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recentRes[id], nil
}

func (f *fakeProber) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

// fakeHistory returns one canned cached sample.
type fakeHistory struct {
	sample  model.CachedMeasurement
	found   bool
	records []model.CachedMeasurement
}

func (f *fakeHistory) Fresh(ctx context.Context, target string, probeIDs []int64, since time.Time) (model.CachedMeasurement, bool, error) {
	return f.sample, f.found, nil
}

func (f *fakeHistory) Record(ctx context.Context, m model.CachedMeasurement) error {
	f.records = append(f.records, m)
	return nil
}

func usableProbe(id int64, coord geo.Coordinate) model.ProbeDescriptor {
	return model.ProbeDescriptor{
		ID:     id,
		Coord:  coord,
		Status: model.ProbeStatusConnected,
		Tags:   []string{model.TagIPv4Works, model.TagIPv4Capable},
	}
}

func locationAt(id int, coord geo.Coordinate, probes ...model.ProbeDescriptor) *model.Location {
	return &model.Location{
		ID:              id,
		Coord:           coord,
		AvailableProbes: probes,
	}
}

func lookupFor(locs ...*model.Location) func(int) *model.Location {
	byID := make(map[int]*model.Location)
	for _, l := range locs {
		byID[l.ID] = l
	}
	return func(id int) *model.Location { return byID[id] }
}

// domainWithCandidates builds a domain whose host label carries the given
// candidate locations in order.
func domainWithCandidates(ids ...int) *model.Domain {
	d := model.NewDomain("host.example.net", "192.0.2.10", "")
	for _, id := range ids {
		d.Labels[2].Matches = append(d.Labels[2].Matches, model.LocationMatch{
			LocationID: id,
			Type:       model.CodeIATA,
			Code:       "xxx",
			Status:     model.MatchUnknown,
		})
	}
	return d
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = time.Millisecond
	cfg.MaxPollAttempts = 3
	return cfg
}

func newTestOrchestrator(t *testing.T, sampler Sampler, prober Prober, lookup func(int) *model.Location, opts ...Option) *Orchestrator {
	t.Helper()
	opts = append(opts, WithLogger(testLogger()))
	o := New(testConfig(), sampler, prober, lookup, opts...)
	o.pick = func(n int) int { return 0 }
	return o
}

func TestVerifyUnresponsiveWhenNoVantageAnswers(t *testing.T) {
	sampler := fakeSampler{samples: []model.AnchorSample{
		anchorAt(munichCoord, model.NoData()),
	}}
	prober := &fakeProber{}
	loc := locationAt(1, munichCoord, usableProbe(11, munichCoord))
	o := newTestOrchestrator(t, sampler, prober, lookupFor(loc))

	outcome, err := o.VerifyDomain(context.Background(), domainWithCandidates(1))
	if err != nil {
		t.Fatalf("VerifyDomain: %v", err)
	}
	if outcome != model.OutcomeUnresponsive {
		t.Errorf("outcome = %v, want %v", outcome, model.OutcomeUnresponsive)
	}
	if prober.createdCount() != 0 {
		t.Errorf("created %d measurements for a silent target", prober.createdCount())
	}
}

func TestVerifyBlockedTarget(t *testing.T) {
	sampler := fakeSampler{samples: []model.AnchorSample{
		anchorAt(munichCoord, model.Measured(10)),
	}}
	o := newTestOrchestrator(t, sampler, &fakeProber{}, lookupFor(),
		WithBlockedTargets([]string{"192.0.2.10"}))

	outcome, err := o.VerifyDomain(context.Background(), domainWithCandidates(1))
	if err != nil {
		t.Fatalf("VerifyDomain: %v", err)
	}
	if outcome != model.OutcomeBlacklisted {
		t.Errorf("outcome = %v, want %v", outcome, model.OutcomeBlacklisted)
	}
}

func TestFeasibilityPruning(t *testing.T) {
	// 10ms round trip bounds the target to 1000km of Munich; Singapore is
	// ten times that away and must be pruned without any measurement.
	sampler := fakeSampler{samples: []model.AnchorSample{
		anchorAt(munichCoord, model.Measured(10)),
	}}
	prober := &fakeProber{}
	loc := locationAt(1, singaporeCoord, usableProbe(11, singaporeCoord))
	o := newTestOrchestrator(t, sampler, prober, lookupFor(loc))

	outcome, err := o.VerifyDomain(context.Background(), domainWithCandidates(1))
	if err != nil {
		t.Fatalf("VerifyDomain: %v", err)
	}
	if outcome != model.OutcomeNoLocation {
		t.Errorf("outcome = %v, want %v", outcome, model.OutcomeNoLocation)
	}
	if prober.createdCount() != 0 || prober.findCalls != 0 {
		t.Errorf("infeasible candidate was measured: created=%d finds=%d",
			prober.createdCount(), prober.findCalls)
	}
}

func TestVerifyConfirms(t *testing.T) {
	sampler := fakeSampler{samples: []model.AnchorSample{
		anchorAt(munichCoord, model.Measured(50)),
	}}
	prober := &fakeProber{rttFor: map[int64]model.RTTResult{
		11: model.Measured(5),
	}}
	loc := locationAt(1, munichCoord, usableProbe(11, munichCoord))
	o := newTestOrchestrator(t, sampler, prober, lookupFor(loc))

	d := domainWithCandidates(1)
	outcome, err := o.VerifyDomain(context.Background(), d)
	if err != nil {
		t.Fatalf("VerifyDomain: %v", err)
	}
	if outcome != model.OutcomeConfirmed {
		t.Fatalf("outcome = %v, want %v", outcome, model.OutcomeConfirmed)
	}
	if d.Confirmed == nil {
		t.Fatal("domain has no confirmed match")
	}
	if d.Confirmed.Status != model.MatchConfirmed || d.Confirmed.ProbeID != 11 {
		t.Errorf("confirmed match = %+v", d.Confirmed)
	}
	if d.Confirmed.RTTMs != 5 {
		t.Errorf("confirmed RTT = %v, want 5", d.Confirmed.RTTMs)
	}
}

func TestAcceptanceThreshold(t *testing.T) {
	// Probe sits ~200km from the candidate, so the acceptance bound is
	// roughly 11ms: the base allowance plus the propagation share.
	probeCoord := munichCoord.Offset(200, 90)

	run := func(t *testing.T, rttMs float64) model.Outcome {
		sampler := fakeSampler{samples: []model.AnchorSample{
			anchorAt(munichCoord, model.Measured(50)),
		}}
		prober := &fakeProber{rttFor: map[int64]model.RTTResult{
			11: model.Measured(rttMs),
		}}
		loc := locationAt(1, munichCoord, usableProbe(11, probeCoord))
		o := newTestOrchestrator(t, sampler, prober, lookupFor(loc))

		outcome, err := o.VerifyDomain(context.Background(), domainWithCandidates(1))
		if err != nil {
			t.Fatalf("VerifyDomain: %v", err)
		}
		return outcome
	}

	t.Run("just under the bound", func(t *testing.T) {
		if outcome := run(t, 10.5); outcome != model.OutcomeConfirmed {
			t.Errorf("outcome = %v, want %v", outcome, model.OutcomeConfirmed)
		}
	})

	t.Run("just over the bound", func(t *testing.T) {
		if outcome := run(t, 11.5); outcome != model.OutcomeNoLocation {
			t.Errorf("outcome = %v, want %v", outcome, model.OutcomeNoLocation)
		}
	})
}

func TestVerifyUnreachableResult(t *testing.T) {
	sampler := fakeSampler{samples: []model.AnchorSample{
		anchorAt(munichCoord, model.Measured(50)),
	}}
	prober := &fakeProber{rttFor: map[int64]model.RTTResult{
		11: model.Unreachable(),
	}}
	loc := locationAt(1, munichCoord, usableProbe(11, munichCoord))
	o := newTestOrchestrator(t, sampler, prober, lookupFor(loc))

	outcome, err := o.VerifyDomain(context.Background(), domainWithCandidates(1))
	if err != nil {
		t.Fatalf("VerifyDomain: %v", err)
	}
	if outcome != model.OutcomeUnresponsive {
		t.Errorf("outcome = %v, want %v", outcome, model.OutcomeUnresponsive)
	}
}

func TestProbeFailureBlacklistsAndRetriesAlternate(t *testing.T) {
	sampler := fakeSampler{samples: []model.AnchorSample{
		anchorAt(munichCoord, model.Measured(50)),
	}}
	prober := &fakeProber{
		failProbes: map[int64]bool{11: true},
		rttFor:     map[int64]model.RTTResult{12: model.Measured(4)},
	}
	loc := locationAt(1, munichCoord,
		usableProbe(11, munichCoord),
		usableProbe(12, munichCoord),
	)
	o := newTestOrchestrator(t, sampler, prober, lookupFor(loc))

	d := domainWithCandidates(1)
	outcome, err := o.VerifyDomain(context.Background(), d)
	if err != nil {
		t.Fatalf("VerifyDomain: %v", err)
	}
	if outcome != model.OutcomeConfirmed {
		t.Fatalf("outcome = %v, want %v", outcome, model.OutcomeConfirmed)
	}
	if d.Confirmed.ProbeID != 12 {
		t.Errorf("confirmed via probe %d, want alternate 12", d.Confirmed.ProbeID)
	}
	if !o.Blacklist().Has(11) {
		t.Error("failed probe 11 not blacklisted")
	}
	if o.Blacklist().Has(12) {
		t.Error("healthy probe 12 blacklisted")
	}
}

func TestAllProbesFailing(t *testing.T) {
	sampler := fakeSampler{samples: []model.AnchorSample{
		anchorAt(munichCoord, model.Measured(50)),
	}}
	prober := &fakeProber{failProbes: map[int64]bool{11: true, 12: true}}
	loc := locationAt(1, munichCoord,
		usableProbe(11, munichCoord),
		usableProbe(12, munichCoord),
	)
	o := newTestOrchestrator(t, sampler, prober, lookupFor(loc))

	outcome, err := o.VerifyDomain(context.Background(), domainWithCandidates(1))
	if err != nil {
		t.Fatalf("VerifyDomain: %v", err)
	}
	if outcome != model.OutcomeNoLocation {
		t.Errorf("outcome = %v, want %v", outcome, model.OutcomeNoLocation)
	}
	if o.Blacklist().Len() != 2 {
		t.Errorf("blacklist size = %d, want 2", o.Blacklist().Len())
	}
}

func TestRejectedMeasurementPrunesRemainingCandidates(t *testing.T) {
	// The vantage RTT is loose enough for both candidates. Munich is tried
	// first (nearest to the vantage), its probe measures 20ms at zero
	// distance: over the 9ms budget, so it is rejected and folded back as
	// a 2000km bound. Singapore lies far outside that bound and must be
	// skipped without a second measurement.
	sampler := fakeSampler{samples: []model.AnchorSample{
		anchorAt(munichCoord, model.Measured(200)),
	}}
	prober := &fakeProber{rttFor: map[int64]model.RTTResult{
		11: model.Measured(20),
	}}
	near := locationAt(1, munichCoord, usableProbe(11, munichCoord))
	far := locationAt(2, singaporeCoord, usableProbe(21, singaporeCoord))
	o := newTestOrchestrator(t, sampler, prober, lookupFor(near, far))

	outcome, err := o.VerifyDomain(context.Background(), domainWithCandidates(1, 2))
	if err != nil {
		t.Fatalf("VerifyDomain: %v", err)
	}
	if outcome != model.OutcomeNoLocation {
		t.Errorf("outcome = %v, want %v", outcome, model.OutcomeNoLocation)
	}
	if got := prober.createdCount(); got != 1 {
		t.Errorf("created %d measurements, want 1", got)
	}
}

func TestHistoryReuseSkipsCreation(t *testing.T) {
	sampler := fakeSampler{samples: []model.AnchorSample{
		anchorAt(munichCoord, model.Measured(50)),
	}}
	prober := &fakeProber{}
	history := &fakeHistory{
		found: true,
		sample: model.CachedMeasurement{
			Target:  "192.0.2.10",
			ProbeID: 11,
			Coord:   munichCoord,
			RTT:     model.Measured(3),
			At:      time.Now(),
		},
	}
	loc := locationAt(1, munichCoord, usableProbe(11, munichCoord))
	o := newTestOrchestrator(t, sampler, prober, lookupFor(loc), WithHistory(history))

	d := domainWithCandidates(1)
	outcome, err := o.VerifyDomain(context.Background(), d)
	if err != nil {
		t.Fatalf("VerifyDomain: %v", err)
	}
	if outcome != model.OutcomeConfirmed {
		t.Fatalf("outcome = %v, want %v", outcome, model.OutcomeConfirmed)
	}
	if prober.createdCount() != 0 {
		t.Errorf("created %d measurements despite cached sample", prober.createdCount())
	}
	if d.Confirmed.RTTMs != 3 {
		t.Errorf("confirmed RTT = %v, want cached 3", d.Confirmed.RTTMs)
	}
}

func TestServiceHistoryReuse(t *testing.T) {
	sampler := fakeSampler{samples: []model.AnchorSample{
		anchorAt(munichCoord, model.Measured(50)),
	}}
	prober := &fakeProber{
		recent: []atlas.Measurement{{ID: 900, Status: atlas.StatusStopped}},
		recentRes: map[int64][]atlas.Result{
			900: {{ProbeID: 11, Timestamp: time.Now(), RTT: model.Measured(6)}},
		},
	}
	loc := locationAt(1, munichCoord, usableProbe(11, munichCoord))
	o := newTestOrchestrator(t, sampler, prober, lookupFor(loc))

	d := domainWithCandidates(1)
	outcome, err := o.VerifyDomain(context.Background(), d)
	if err != nil {
		t.Fatalf("VerifyDomain: %v", err)
	}
	if outcome != model.OutcomeConfirmed {
		t.Fatalf("outcome = %v, want %v", outcome, model.OutcomeConfirmed)
	}
	if prober.createdCount() != 0 {
		t.Errorf("created %d measurements despite service history", prober.createdCount())
	}
	if d.Confirmed.ProbeID != 11 || d.Confirmed.RTTMs != 6 {
		t.Errorf("confirmed match = %+v", d.Confirmed)
	}
}

func TestRankCandidates(t *testing.T) {
	t.Run("groups ordered by anchor RTT", func(t *testing.T) {
		frankfurt := locationAt(1, geo.Coordinate{Lat: 50.1109, Lon: 8.6821})
		singapore := locationAt(2, singaporeCoord)
		lookup := lookupFor(frankfurt, singapore)

		samples := []model.AnchorSample{
			anchorAt(munichCoord, model.Measured(120)),
			anchorAt(singaporeCoord, model.Measured(150)),
		}

		m1 := &model.LocationMatch{LocationID: 2}
		m2 := &model.LocationMatch{LocationID: 1}
		ranked := rankCandidates([]*model.LocationMatch{m1, m2}, lookup, samples, 100)
		if len(ranked) != 2 {
			t.Fatalf("ranked %d candidates, want 2", len(ranked))
		}
		// Frankfurt's nearest vantage answers faster, so it goes first even
		// though the match order said otherwise.
		if ranked[0].loc.ID != 1 || ranked[1].loc.ID != 2 {
			t.Errorf("order = [%d %d], want [1 2]", ranked[0].loc.ID, ranked[1].loc.ID)
		}
		for _, c := range ranked {
			if c.match.Status != model.MatchPossible {
				t.Errorf("location %d status = %v, want possible", c.loc.ID, c.match.Status)
			}
		}
	})

	t.Run("match order kept within a group", func(t *testing.T) {
		near := locationAt(1, munichCoord)
		alsoNear := locationAt(2, geo.Coordinate{Lat: 50.1109, Lon: 8.6821})
		lookup := lookupFor(near, alsoNear)

		samples := []model.AnchorSample{
			anchorAt(munichCoord, model.Measured(50)),
			anchorAt(singaporeCoord, model.NoData()),
		}

		m1 := &model.LocationMatch{LocationID: 2}
		m2 := &model.LocationMatch{LocationID: 1}
		ranked := rankCandidates([]*model.LocationMatch{m1, m2}, lookup, samples, 100)
		if len(ranked) != 2 {
			t.Fatalf("ranked %d candidates, want 2", len(ranked))
		}
		// Both share the Munich vantage; the more specific hint stays first.
		if ranked[0].loc.ID != 2 || ranked[1].loc.ID != 1 {
			t.Errorf("order = [%d %d], want [2 1]", ranked[0].loc.ID, ranked[1].loc.ID)
		}
	})
}

func TestFeasibleIgnoresUnmeasuredSamples(t *testing.T) {
	loc := locationAt(1, singaporeCoord)
	samples := []model.AnchorSample{
		anchorAt(munichCoord, model.NoData()),
		anchorAt(munichCoord, model.Unreachable()),
	}
	if !feasible(loc, samples, 100) {
		t.Error("samples without measurements must not prune")
	}
}
