package model

// Outcome is the terminal classification of one domain. Every domain
// resolves to exactly one of these; there is no error outcome. Failed or
// ambiguous verification degrades to NoLocation or Unresponsive.
type Outcome string

const (
	// OutcomePending is the only non-terminal state.
	OutcomePending Outcome = "pending"
	// OutcomeConfirmed means a candidate location passed the RTT
	// acceptance rule.
	OutcomeConfirmed Outcome = "confirmed"
	// OutcomeUnresponsive means no anchor got an answer, or a probe
	// reported the target explicitly unreachable.
	OutcomeUnresponsive Outcome = "not_responding"
	// OutcomeNoLocation means every candidate was pruned or rejected.
	OutcomeNoLocation Outcome = "no_location"
	// OutcomeBlacklisted means prior knowledge marked the address as not
	// worth measuring.
	OutcomeBlacklisted Outcome = "blacklisted"
	// OutcomeNoHint means matching produced zero candidates; such domains
	// never enter verification.
	OutcomeNoHint Outcome = "no_location_hint"
)

// Terminal reports whether the outcome is final.
func (o Outcome) Terminal() bool { return o != OutcomePending }

// Outcomes returns all terminal outcome classes in a stable order.
func Outcomes() []Outcome {
	return []Outcome{
		OutcomeConfirmed,
		OutcomeUnresponsive,
		OutcomeNoLocation,
		OutcomeBlacklisted,
		OutcomeNoHint,
	}
}
