package model

import "fmt"

// RTTKind distinguishes the three possible results of a latency measurement.
// The probing service historically overloads a -1 sentinel for "target
// explicitly unreachable"; that translation happens at the client boundary
// and only this explicit form travels through the rest of the system.
type RTTKind int

const (
	// RTTNoData means no usable sample exists (probe never answered, result
	// set empty, measurement expired).
	RTTNoData RTTKind = iota
	// RTTUnreachable means a probe ran the test and the target did not
	// answer at all.
	RTTUnreachable
	// RTTMeasured means a round-trip time was observed.
	RTTMeasured
)

// RTTResult is the tri-state outcome of a latency sample.
type RTTResult struct {
	Kind RTTKind
	Ms   float64
}

// NoData returns the absent-sample result.
func NoData() RTTResult { return RTTResult{Kind: RTTNoData} }

// Unreachable returns the explicit target-unreachable result.
func Unreachable() RTTResult { return RTTResult{Kind: RTTUnreachable} }

// Measured returns a measured round-trip time in milliseconds.
func Measured(ms float64) RTTResult { return RTTResult{Kind: RTTMeasured, Ms: ms} }

// IsMeasured reports whether the result carries a usable RTT.
func (r RTTResult) IsMeasured() bool { return r.Kind == RTTMeasured }

// IsUnreachable reports whether the target was explicitly unreachable.
func (r RTTResult) IsUnreachable() bool { return r.Kind == RTTUnreachable }

func (r RTTResult) String() string {
	switch r.Kind {
	case RTTMeasured:
		return fmt.Sprintf("%.2fms", r.Ms)
	case RTTUnreachable:
		return "unreachable"
	default:
		return "no-data"
	}
}
