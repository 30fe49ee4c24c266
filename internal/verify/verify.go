// Package verify decides where a domain's host actually is.
//
// Matching produces candidate locations from name hints alone; this package
// confirms or rejects them with latency evidence. The pipeline per domain:
//
//  1. Sample coarse RTTs from the fixed reference vantages. A host no
//     vantage can reach is classified unresponsive without spending any
//     probing-service quota.
//  2. Prune candidates that violate signal propagation: if any vantage
//     measured an RTT too small for the candidate's distance, the candidate
//     is impossible and is dropped before any measurement.
//  3. Walk the surviving candidates nearest-evidence-first. Each one is
//     checked with a ping from a probe near the candidate location, reusing
//     historical measurements when fresh ones exist.
//  4. A measurement that fails the acceptance rule is not wasted: it is
//     folded back in as another vantage sample and prunes the remaining
//     candidates further.
//
// Probes that fail terminally are blacklisted for the rest of the run only.
package verify

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/apex/log"
	"golang.org/x/sync/semaphore"

	"geohint/internal/atlas"
	"geohint/internal/metrics"
	"geohint/internal/model"
)

// Config tunes the verification rules.
type Config struct {
	// BaseRTTAllowanceMs is the fixed RTT budget granted on top of the
	// distance-derived budget in the acceptance rule.
	BaseRTTAllowanceMs float64
	// SlackFactorKmPerMs converts milliseconds of RTT into the maximum
	// round-trip distance in kilometers.
	SlackFactorKmPerMs float64
	// FreshnessWindow bounds how old a reused measurement may be.
	FreshnessWindow time.Duration
	// PollInterval and MaxPollAttempts bound how long a scheduled
	// measurement is waited for before it is written off.
	PollInterval    time.Duration
	MaxPollAttempts int
	// PacketCount is the echo requests per one-off measurement.
	PacketCount int
	// MaxConcurrentCreates caps measurement creations in flight across the
	// whole run.
	MaxConcurrentCreates int64
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		BaseRTTAllowanceMs:   9,
		SlackFactorKmPerMs:   100,
		FreshnessWindow:      350 * 24 * time.Hour,
		PollInterval:         10 * time.Second,
		MaxPollAttempts:      180,
		PacketCount:          1,
		MaxConcurrentCreates: 100,
	}
}

// Sampler provides coarse RTT samples from the fixed reference vantages.
type Sampler interface {
	SampleAll(ctx context.Context, target string) []model.AnchorSample
}

// Prober is the slice of the probing-service client verification needs.
type Prober interface {
	CreateOneOff(ctx context.Context, target string, probeID int64, packets int) (int64, error)
	Status(ctx context.Context, id int64) (atlas.Measurement, error)
	Results(ctx context.Context, id int64) ([]atlas.Result, error)
	FindRecent(ctx context.Context, target string, since time.Time) ([]atlas.Measurement, error)
	ResultsByProbes(ctx context.Context, id int64, probeIDs []int64, since time.Time) ([]atlas.Result, error)
}

// History is the local measurement cache consulted before the service.
type History interface {
	Fresh(ctx context.Context, target string, probeIDs []int64, since time.Time) (model.CachedMeasurement, bool, error)
	Record(ctx context.Context, m model.CachedMeasurement) error
}

// Orchestrator runs the verification state machine for one pipeline run.
type Orchestrator struct {
	cfg     Config
	anchors Sampler
	prober  Prober
	history History
	lookup  func(id int) *model.Location

	blacklist *Blacklist
	blocked   map[string]struct{}
	createSem *semaphore.Weighted

	stats  *metrics.Metrics
	logger log.Interface
	now    func() time.Time
	pick   func(n int) int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithHistory attaches a local measurement cache.
func WithHistory(h History) Option {
	return func(o *Orchestrator) { o.history = h }
}

// WithBlockedTargets marks addresses known to be not worth measuring.
func WithBlockedTargets(addrs []string) Option {
	return func(o *Orchestrator) {
		for _, a := range addrs {
			o.blocked[a] = struct{}{}
		}
	}
}

// WithMetrics attaches pipeline instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.stats = m }
}

// WithLogger sets the orchestrator logger.
func WithLogger(l log.Interface) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator. lookup resolves a candidate's location id to
// the inventory entry; unknown ids are skipped.
func New(cfg Config, anchors Sampler, prober Prober, lookup func(id int) *model.Location, opts ...Option) *Orchestrator {
	if cfg.MaxConcurrentCreates < 1 {
		cfg.MaxConcurrentCreates = 1
	}
	o := &Orchestrator{
		cfg:       cfg,
		anchors:   anchors,
		prober:    prober,
		lookup:    lookup,
		blacklist: NewBlacklist(),
		blocked:   make(map[string]struct{}),
		createSem: semaphore.NewWeighted(cfg.MaxConcurrentCreates),
		logger:    log.Log,
		now:       time.Now,
		pick:      rand.Intn,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Blacklist exposes the run's probe blacklist.
func (o *Orchestrator) Blacklist() *Blacklist { return o.blacklist }

// VerifyDomain classifies one domain. The domain's matches are mutated in
// place: the winning match, if any, is confirmed and recorded on the domain.
func (o *Orchestrator) VerifyDomain(ctx context.Context, d *model.Domain) (model.Outcome, error) {
	o.stats.VerificationStarted()
	defer o.stats.VerificationDone()

	target := d.IPv4
	if target == "" {
		return model.OutcomeUnresponsive, nil
	}
	if _, bad := o.blocked[target]; bad {
		return model.OutcomeBlacklisted, nil
	}

	samples := o.anchors.SampleAll(ctx, target)
	measured := false
	for _, s := range samples {
		if s.RTT.IsMeasured() {
			measured = true
			break
		}
	}
	if !measured {
		o.logger.WithField("domain", d.Name).Debug("no vantage reached target")
		return model.OutcomeUnresponsive, nil
	}

	cands := rankCandidates(d.AllMatches(), o.lookup, samples, o.cfg.SlackFactorKmPerMs)
	o.logger.WithFields(log.Fields{
		"domain":     d.Name,
		"candidates": len(cands),
	}).Debug("candidates ranked")

	// Rejected measurements accumulate here and prune what is left.
	var rejected []model.AnchorSample

	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			return model.OutcomePending, err
		}
		if len(rejected) > 0 && !feasible(c.loc, rejected, o.cfg.SlackFactorKmPerMs) {
			continue
		}

		rtt, probe, ok, err := o.measureCandidate(ctx, target, c.loc)
		if err != nil {
			if ctx.Err() != nil {
				return model.OutcomePending, ctx.Err()
			}
			o.logger.WithError(err).WithFields(log.Fields{
				"domain":   d.Name,
				"location": c.loc.ID,
			}).Warn("candidate measurement failed")
			continue
		}
		if !ok {
			continue
		}
		if rtt.IsUnreachable() {
			// A probe ran the test and the target did not answer; no other
			// candidate will fare better.
			return model.OutcomeUnresponsive, nil
		}
		if !rtt.IsMeasured() {
			continue
		}

		dist := c.loc.Coord.DistanceKm(probe.Coord)
		if rtt.Ms < o.cfg.BaseRTTAllowanceMs+dist/o.cfg.SlackFactorKmPerMs {
			c.match.Confirm(rtt.Ms, dist, probe.ID)
			d.Confirmed = c.match
			o.stats.Confirmation(c.match.Type)
			o.logger.WithFields(log.Fields{
				"domain":   d.Name,
				"location": c.loc.ID,
				"code":     c.match.Code,
				"rtt_ms":   rtt.Ms,
			}).Info("location confirmed")
			return model.OutcomeConfirmed, nil
		}

		rejected = append(rejected, model.AnchorSample{
			Ref:   fmt.Sprintf("probe-%d", probe.ID),
			Coord: probe.Coord,
			RTT:   rtt,
		})
	}

	return model.OutcomeNoLocation, nil
}

// measureCandidate obtains an RTT between the target and a probe near the
// candidate location. Reuse order: local cache, then measurements already
// on the service, then a fresh one-off. ok is false when no probe could
// produce a usable sample for this candidate.
func (o *Orchestrator) measureCandidate(ctx context.Context, target string, loc *model.Location) (model.RTTResult, model.ProbeDescriptor, bool, error) {
	probes := loc.UsableProbes(o.blacklist.Has)
	if len(probes) == 0 {
		return model.NoData(), model.ProbeDescriptor{}, false, nil
	}

	probeIDs := make([]int64, len(probes))
	byID := make(map[int64]model.ProbeDescriptor, len(probes))
	for i, p := range probes {
		probeIDs[i] = p.ID
		byID[p.ID] = p
	}
	since := o.now().Add(-o.cfg.FreshnessWindow)

	if rtt, probe, ok := o.fromCache(ctx, target, probeIDs, byID, since); ok {
		o.stats.MeasurementReused()
		return rtt, probe, true, nil
	}
	if rtt, probe, ok, err := o.fromService(ctx, target, probeIDs, byID, since); err != nil {
		return model.NoData(), model.ProbeDescriptor{}, false, err
	} else if ok {
		o.stats.MeasurementReused()
		return rtt, probe, true, nil
	}

	return o.freshMeasurement(ctx, target, probes)
}

// fromCache consults the local measurement cache. Only measured samples are
// reused; a cached unreachable triggers a fresh measurement instead.
func (o *Orchestrator) fromCache(ctx context.Context, target string, probeIDs []int64, byID map[int64]model.ProbeDescriptor, since time.Time) (model.RTTResult, model.ProbeDescriptor, bool) {
	if o.history == nil {
		return model.NoData(), model.ProbeDescriptor{}, false
	}
	cached, found, err := o.history.Fresh(ctx, target, probeIDs, since)
	if err != nil {
		o.logger.WithError(err).Debug("measurement cache lookup failed")
		return model.NoData(), model.ProbeDescriptor{}, false
	}
	if !found || !cached.RTT.IsMeasured() {
		return model.NoData(), model.ProbeDescriptor{}, false
	}
	probe, ok := byID[cached.ProbeID]
	if !ok {
		probe = model.ProbeDescriptor{ID: cached.ProbeID, Coord: cached.Coord}
	}
	return cached.RTT, probe, true
}

// fromService looks for existing measurements against the target on the
// probing service itself, restricted to this candidate's probes.
func (o *Orchestrator) fromService(ctx context.Context, target string, probeIDs []int64, byID map[int64]model.ProbeDescriptor, since time.Time) (model.RTTResult, model.ProbeDescriptor, bool, error) {
	found, err := o.prober.FindRecent(ctx, target, since)
	if err != nil {
		return model.NoData(), model.ProbeDescriptor{}, false, fmt.Errorf("find recent measurements: %w", err)
	}

	best := model.NoData()
	var bestProbe model.ProbeDescriptor
	for _, m := range found {
		results, err := o.prober.ResultsByProbes(ctx, m.ID, probeIDs, since)
		if err != nil {
			o.logger.WithError(err).WithField("measurement", m.ID).Debug("skipping historical measurement")
			continue
		}
		for _, r := range results {
			if !r.RTT.IsMeasured() || r.Timestamp.Before(since) {
				continue
			}
			if !best.IsMeasured() || r.RTT.Ms < best.Ms {
				best = r.RTT
				bestProbe = byID[r.ProbeID]
				bestProbe.ID = r.ProbeID
			}
		}
	}
	if !best.IsMeasured() {
		return model.NoData(), model.ProbeDescriptor{}, false, nil
	}
	o.record(ctx, target, bestProbe, best)
	return best, bestProbe, true, nil
}

// freshMeasurement creates a one-off on a randomly chosen probe near the
// candidate, retrying with an alternate probe when the chosen one fails
// terminally.
func (o *Orchestrator) freshMeasurement(ctx context.Context, target string, probes []model.ProbeDescriptor) (model.RTTResult, model.ProbeDescriptor, bool, error) {
	remaining := append([]model.ProbeDescriptor(nil), probes...)
	for len(remaining) > 0 {
		i := o.pick(len(remaining))
		probe := remaining[i]
		remaining = append(remaining[:i], remaining[i+1:]...)

		rtt, ok, err := o.runOneOff(ctx, target, probe)
		if err != nil {
			return model.NoData(), model.ProbeDescriptor{}, false, err
		}
		if ok {
			o.record(ctx, target, probe, rtt)
			return rtt, probe, true, nil
		}
		// Terminal probe failure: ban it for the run and try an alternate.
		o.blacklist.Add(probe.ID)
		o.stats.ProbeBlacklisted(o.blacklist.Len())
		o.logger.WithField("probe", probe.ID).Info("probe blacklisted for run")
	}
	return model.NoData(), model.ProbeDescriptor{}, false, nil
}

// runOneOff creates one measurement on the given probe and waits for it.
// ok is false only when the probe itself failed terminally.
func (o *Orchestrator) runOneOff(ctx context.Context, target string, probe model.ProbeDescriptor) (model.RTTResult, bool, error) {
	if err := o.createSem.Acquire(ctx, 1); err != nil {
		return model.NoData(), true, err
	}
	id, err := o.prober.CreateOneOff(ctx, target, probe.ID, o.cfg.PacketCount)
	o.createSem.Release(1)
	if err != nil {
		return model.NoData(), true, fmt.Errorf("create one-off: %w", err)
	}
	o.stats.MeasurementCreated()

	m, err := o.await(ctx, id)
	if err != nil {
		return model.NoData(), true, err
	}
	switch {
	case m.Status.ProbeFailure():
		return model.NoData(), false, nil
	case !m.Status.Done():
		// Still pending after the poll budget; write the sample off.
		o.logger.WithField("measurement", id).Debug("measurement never finished")
		return model.NoData(), true, nil
	}

	results, err := o.prober.Results(ctx, id)
	if err != nil {
		return model.NoData(), true, fmt.Errorf("fetch results: %w", err)
	}
	for _, r := range results {
		if r.ProbeID == probe.ID {
			return r.RTT, true, nil
		}
	}
	return model.NoData(), true, nil
}

// await polls the measurement until it leaves the pending states or the
// poll budget runs out.
func (o *Orchestrator) await(ctx context.Context, id int64) (atlas.Measurement, error) {
	var m atlas.Measurement
	for attempt := 0; attempt < o.cfg.MaxPollAttempts; attempt++ {
		var err error
		m, err = o.prober.Status(ctx, id)
		if err != nil {
			return m, fmt.Errorf("poll measurement %d: %w", id, err)
		}
		if !m.Status.Pending() {
			return m, nil
		}
		select {
		case <-ctx.Done():
			return m, ctx.Err()
		case <-time.After(o.cfg.PollInterval):
		}
	}
	return m, nil
}

// record stores a sample in the local cache when one is attached.
func (o *Orchestrator) record(ctx context.Context, target string, probe model.ProbeDescriptor, rtt model.RTTResult) {
	if o.history == nil {
		return
	}
	err := o.history.Record(ctx, model.CachedMeasurement{
		Target:  target,
		ProbeID: probe.ID,
		Coord:   probe.Coord,
		RTT:     rtt,
		At:      o.now(),
	})
	if err != nil {
		o.logger.WithError(err).Debug("measurement cache write failed")
	}
}
