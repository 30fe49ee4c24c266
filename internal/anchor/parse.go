package anchor

import (
	"regexp"
	"strconv"

	"github.com/montanaflynn/stats"

	"geohint/internal/model"
)

// replyTimeRe pulls the per-reply latency out of ping output
// ("64 bytes from ...: icmp_seq=1 ttl=55 time=12.4 ms").
var replyTimeRe = regexp.MustCompile(`time[=<](\d+\.?\d*)\s*ms`)

// parsePingOutput extracts the minimum observed RTT from ping output.
// No replies means no data: an anchor that hears nothing contributes
// nothing, it does not declare the target unreachable.
func parsePingOutput(output string) model.RTTResult {
	matches := replyTimeRe.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return model.NoData()
	}

	samples := make([]float64, 0, len(matches))
	for _, m := range matches {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		samples = append(samples, v)
	}
	if len(samples) == 0 {
		return model.NoData()
	}

	min, err := stats.Min(samples)
	if err != nil {
		return model.NoData()
	}
	return model.Measured(min)
}
