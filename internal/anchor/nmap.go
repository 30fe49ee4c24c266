package anchor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"

	"geohint/internal/geo"
	"geohint/internal/model"
)

// LocalPinger samples RTT from the machine running this process using an
// nmap ping scan and the smoothed RTT nmap records for the host. Useful
// when the run itself executes at a known point of presence and one anchor
// can be had without any SSH hop.
type LocalPinger struct {
	name    string
	coord   geo.Coordinate
	timeout time.Duration
}

// NewLocalPinger creates a local nmap-based vantage with the given fixed
// coordinates (those of the machine running the pipeline).
func NewLocalPinger(name string, coord geo.Coordinate, timeout time.Duration) *LocalPinger {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &LocalPinger{name: name, coord: coord, timeout: timeout}
}

// Name identifies the vantage.
func (p *LocalPinger) Name() string { return p.name }

// Where returns the vantage coordinates.
func (p *LocalPinger) Where() geo.Coordinate { return p.coord }

// Ping runs a host-discovery scan against the target and reads the smoothed
// RTT. A host that never answers yields no data.
func (p *LocalPinger) Ping(ctx context.Context, target string) (model.RTTResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	scanner, err := nmap.NewScanner(ctx,
		nmap.WithTargets(target),
		nmap.WithPingScan(),
	)
	if err != nil {
		return model.NoData(), fmt.Errorf("create scanner: %w", err)
	}

	result, _, err := scanner.Run()
	if err != nil {
		return model.NoData(), fmt.Errorf("run ping scan: %w", err)
	}

	for _, host := range result.Hosts {
		if host.Status.State != "up" {
			continue
		}
		// srtt is reported in microseconds.
		srtt, err := strconv.ParseFloat(host.Times.SRTT, 64)
		if err != nil || srtt <= 0 {
			continue
		}
		return model.Measured(srtt / 1000), nil
	}
	return model.NoData(), nil
}
