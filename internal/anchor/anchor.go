// Package anchor implements coarse latency sampling from a small fixed set
// of geographically dispersed reference vantages.
//
// Anchor samples are cheap and unlimited: they never touch the probing
// service rate limiter, and exist only to prune physically infeasible
// candidates before any paid measurement is spent. Two pinger
// implementations are provided: an SSH vantage that runs ping on a remote
// reference host, and a local sampler that reads the smoothed RTT from an
// nmap ping scan.
package anchor

import (
	"context"
	"sync"

	"github.com/apex/log"

	"geohint/internal/geo"
	"geohint/internal/model"
)

// Pinger measures the round-trip time from one fixed vantage to a target
// address.
type Pinger interface {
	// Name identifies the vantage in samples and logs.
	Name() string
	// Where returns the vantage's fixed coordinates.
	Where() geo.Coordinate
	// Ping samples the RTT to target. A vantage that gets no reply returns
	// the no-data result, not an error; errors are reserved for the vantage
	// itself being unusable.
	Ping(ctx context.Context, target string) (model.RTTResult, error)
}

// Set is the fixed anchor fleet. Access to each vantage is serialized so
// concurrent verification tasks do not stack pings on one reference host;
// distinct vantages sample in parallel.
type Set struct {
	pingers []Pinger
	locks   []sync.Mutex
	logger  log.Interface
}

// NewSet builds an anchor set from the given pingers.
func NewSet(pingers []Pinger, logger log.Interface) *Set {
	if logger == nil {
		logger = log.Log
	}
	return &Set{
		pingers: pingers,
		locks:   make([]sync.Mutex, len(pingers)),
		logger:  logger,
	}
}

// Len returns the number of vantages.
func (s *Set) Len() int { return len(s.pingers) }

// SampleAll pings the target from every vantage and returns one sample per
// vantage. Vantage errors degrade to no-data samples.
func (s *Set) SampleAll(ctx context.Context, target string) []model.AnchorSample {
	samples := make([]model.AnchorSample, len(s.pingers))
	var wg sync.WaitGroup
	for i, p := range s.pingers {
		wg.Add(1)
		go func(i int, p Pinger) {
			defer wg.Done()
			s.locks[i].Lock()
			rtt, err := p.Ping(ctx, target)
			s.locks[i].Unlock()
			if err != nil {
				s.logger.WithFields(log.Fields{
					"anchor": p.Name(),
					"target": target,
				}).Warnf("anchor ping failed: %v", err)
				rtt = model.NoData()
			}
			samples[i] = model.AnchorSample{Ref: p.Name(), Coord: p.Where(), RTT: rtt}
		}(i, p)
	}
	wg.Wait()
	return samples
}
