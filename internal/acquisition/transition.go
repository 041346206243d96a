package acquisition

// Eligible reports whether an item in state s (with kind k) takes part in the
// given phase. Phase drivers select their input with it and reconciliation
// refuses events for items outside it, so a replayed phase never moves an item
// backwards past a later phase.
func Eligible(phase Phase, s State, k Kind) bool {
	switch phase {
	case PhaseNormalize:
		return s == StatePending
	case PhaseClassify:
		return s == StateCleaned || s == StateUnclassified
	case PhaseFetch:
		switch s {
		case StateClassified, StateFetched, StateFetchFailed, StateSkipped:
			return k.Fetchable()
		}
		return false
	case PhaseProcess:
		return s == StateFetched || s == StateProcessFailed
	default:
		return false
	}
}

// Next returns the state an item moves to when an event of the given phase and
// outcome is applied.
func Next(phase Phase, outcome Outcome, reason Reason) State {
	success := outcome == OutcomeSuccess
	switch phase {
	case PhaseNormalize:
		if success {
			return StateCleaned
		}
		return StateRejected
	case PhaseClassify:
		if success {
			return StateClassified
		}
		return StateUnclassified
	case PhaseFetch:
		if success {
			return StateFetched
		}
		if reason == ReasonPolicyDenied {
			return StateSkipped
		}
		return StateFetchFailed
	case PhaseProcess:
		if success {
			return StateProcessed
		}
		return StateProcessFailed
	default:
		return ""
	}
}
