package leaderboard

import "errors"

var (
	// ErrNotEligible is returned when an update is attempted while the gate is
	// closed: the current period has already been aggregated or another
	// update is in flight. Callers should poll CanUpdate and retry later.
	ErrNotEligible = errors.New("leaderboard: update not eligible")

	// ErrNotAuthorized is returned when a privileged operation is invoked by
	// a caller the authority does not recognise as an administrator.
	ErrNotAuthorized = errors.New("leaderboard: caller not authorized")

	// ErrAggregationFailed wraps every failure of the recomputation itself.
	// The gate is rolled back and the period stays open for a retry.
	ErrAggregationFailed = errors.New("leaderboard: aggregation failed")

	// ErrResourceExceeded indicates the aggregation ran past its resource
	// ceiling. Retrying with a higher ceiling may succeed.
	ErrResourceExceeded = errors.New("leaderboard: resource ceiling exceeded")

	// ErrInvalidData indicates malformed activity records.
	ErrInvalidData = errors.New("leaderboard: invalid activity data")

	// ErrInsufficientSupply indicates the reward pool cannot cover the
	// fixed reward. The whole update is abandoned when this happens.
	ErrInsufficientSupply = errors.New("leaderboard: insufficient reward supply")

	// ErrUpdateSuperseded is returned to an in-flight update whose gate was
	// reset by an administrator before it could commit.
	ErrUpdateSuperseded = errors.New("leaderboard: update superseded by reset")
)
