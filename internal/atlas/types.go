package atlas

import (
	"time"

	"github.com/montanaflynn/stats"

	"geohint/internal/model"
)

// Status is the lifecycle state of a measurement on the probing service.
type Status int

const (
	StatusSpecified  Status = 0
	StatusScheduled  Status = 1
	StatusOngoing    Status = 2
	StatusStopped    Status = 4
	StatusForcedStop Status = 5
	StatusNoProbes   Status = 6
	StatusFailed     Status = 7
)

// Done reports whether the measurement completed successfully.
func (s Status) Done() bool { return s == StatusStopped }

// Pending reports whether the measurement is still waiting or running.
func (s Status) Pending() bool {
	return s == StatusSpecified || s == StatusScheduled || s == StatusOngoing
}

// ProbeFailure reports whether the measurement ended in a state that marks
// the chosen probe as unusable (forced stop, no suitable probes, failed).
func (s Status) ProbeFailure() bool {
	return s == StatusForcedStop || s == StatusNoProbes || s == StatusFailed
}

// Measurement is the service-side record of one measurement.
type Measurement struct {
	ID       int64
	Status   Status
	Target   string
	StopTime time.Time
}

// Result is one probe's result for a measurement.
type Result struct {
	ProbeID   int64
	Timestamp time.Time
	RTT       model.RTTResult
}

// wire formats, decoded through explicit structs only.

type createRequest struct {
	Definitions []pingDefinition `json:"definitions"`
	Probes      []probeSelector  `json:"probes"`
	IsOneOff    bool             `json:"is_oneoff"`
}

type pingDefinition struct {
	Target         string `json:"target"`
	AF             int    `json:"af"`
	Packets        int    `json:"packets"`
	Size           int    `json:"size"`
	Description    string `json:"description"`
	Type           string `json:"type"`
	ResolveOnProbe bool   `json:"resolve_on_probe"`
}

type probeSelector struct {
	Value     string `json:"value"`
	Type      string `json:"type"`
	Requested int    `json:"requested"`
}

type createResponse struct {
	Measurements []int64 `json:"measurements"`
}

type measurementDoc struct {
	ID     int64 `json:"id"`
	Status struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"status"`
	TargetIP string `json:"target_ip"`
	StopTime int64  `json:"stop_time"`
}

func (d measurementDoc) toMeasurement() Measurement {
	return Measurement{
		ID:       d.ID,
		Status:   Status(d.Status.ID),
		Target:   d.TargetIP,
		StopTime: time.Unix(d.StopTime, 0),
	}
}

type measurementList struct {
	Count   int              `json:"count"`
	Next    string           `json:"next"`
	Results []measurementDoc `json:"results"`
}

type resultDoc struct {
	ProbeID   int64   `json:"prb_id"`
	Timestamp int64   `json:"timestamp"`
	Min       float64 `json:"min"`
	Avg       float64 `json:"avg"`
	Replies   []struct {
		RTT float64 `json:"rtt"`
	} `json:"result"`
}

// unreachableSentinel is the wire value the service uses for "target
// explicitly did not answer". It is translated here and never escapes the
// client as a number.
const unreachableSentinel = -1

// toResult translates one wire result into the explicit tri-state form.
func (d resultDoc) toResult() Result {
	return Result{
		ProbeID:   d.ProbeID,
		Timestamp: time.Unix(d.Timestamp, 0),
		RTT:       d.rtt(),
	}
}

func (d resultDoc) rtt() model.RTTResult {
	if d.Min > 0 {
		return model.Measured(d.Min)
	}
	if len(d.Replies) > 0 {
		samples := make([]float64, 0, len(d.Replies))
		for _, r := range d.Replies {
			if r.RTT > 0 {
				samples = append(samples, r.RTT)
			}
		}
		if len(samples) > 0 {
			if min, err := stats.Min(samples); err == nil {
				return model.Measured(min)
			}
		}
		return model.Unreachable()
	}
	if d.Min == unreachableSentinel {
		return model.Unreachable()
	}
	if d.Avg > 0 {
		return model.Measured(d.Avg)
	}
	return model.NoData()
}

type probeDoc struct {
	ID         int64    `json:"id"`
	Latitude   float64  `json:"latitude"`
	Longitude  float64  `json:"longitude"`
	StatusName string   `json:"status_name"`
	Tags       []string `json:"tags"`
}

type probeList struct {
	Count   int        `json:"count"`
	Results []probeDoc `json:"results"`
}
