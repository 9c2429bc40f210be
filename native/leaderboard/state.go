package leaderboard

// GateState is the only mutable state the gate owns.
type GateState struct {
	// LastUpdatedPeriod is the period of the last successful recomputation,
	// or the value written by an administrative override.
	LastUpdatedPeriod int64
	// UpdateInProgress is set for the duration of one recomputation.
	UpdateInProgress bool
	// Forced records that the gate was opened by ForceUpdateDay rather than
	// by a period boundary. Cleared by the next update or reset.
	Forced bool
	// LastUpdateTime is the unix time of the last successful recomputation.
	LastUpdateTime int64
}

func (s GateState) eligible(current int64) bool {
	return current > s.LastUpdatedPeriod && !s.UpdateInProgress
}
