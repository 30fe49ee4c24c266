package ingest

import (
	"context"
	"fmt"

	"github.com/apex/log"

	"geohint/internal/geo"
	"geohint/internal/model"
)

// ProbeFinder discovers usable probes around a coordinate. The probing
// service client satisfies it.
type ProbeFinder interface {
	NearbyProbes(ctx context.Context, coord geo.Coordinate, radiusKm float64) ([]model.ProbeDescriptor, error)
}

// DefaultSearchRadiiKm are the expanding search rings used when attaching
// probes to a location. The search stops at the first ring that yields a
// usable probe.
var DefaultSearchRadiiKm = []float64{25, 50, 100, 250, 500, 1000}

// AttachProbes finds nearby probes for every location, expanding the search
// radius until at least one usable probe is found or the largest ring is
// exhausted. Locations that end up without probes stay in the inventory;
// their candidates simply cannot be verified.
func AttachProbes(ctx context.Context, finder ProbeFinder, locations []*model.Location, radiiKm []float64, logger log.Interface) error {
	if len(radiiKm) == 0 {
		radiiKm = DefaultSearchRadiiKm
	}
	if logger == nil {
		logger = log.Log
	}

	for _, loc := range locations {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, radius := range radiiKm {
			probes, err := finder.NearbyProbes(ctx, loc.Coord, radius)
			if err != nil {
				return fmt.Errorf("probes for location %d: %w", loc.ID, err)
			}
			if len(probes) == 0 {
				continue
			}
			loc.Probes = probes
			loc.AvailableProbes = usable(probes)
			if len(loc.AvailableProbes) > 0 {
				break
			}
		}
		if len(loc.AvailableProbes) == 0 {
			logger.WithField("location", loc.ID).Debug("no usable probe in range")
		}
	}
	return nil
}

func usable(probes []model.ProbeDescriptor) []model.ProbeDescriptor {
	var out []model.ProbeDescriptor
	for _, p := range probes {
		if p.Usable() {
			out = append(out, p)
		}
	}
	return out
}
