package leaderboard

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"
)

const (
	// TokenSymbol names the reward token credited to updaters.
	TokenSymbol = "EMOJI"
	// TokenDecimals is the number of base-unit decimals of the reward token.
	TokenDecimals = 18

	// DefaultPeriodLength is one UTC day.
	DefaultPeriodLength = 24 * time.Hour
	// DefaultResourceCeiling bounds an aggregation when the caller supplies none.
	DefaultResourceCeiling = uint64(5_000_000)
)

// Activity kinds understood by the default weight table.
const (
	KindArticlePublished = "article_published"
	KindReaction         = "reaction"
	KindComment          = "comment"
	KindShare            = "share"
)

// OneToken is 10^18 base units.
func OneToken() *uint256.Int {
	return uint256.NewInt(1_000_000_000_000_000_000)
}

// DefaultRewardAmount is the fixed protocol reward of 10 EMOJI.
func DefaultRewardAmount() *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(10), OneToken())
}

// AggregationParams controls scoring and the cost model of a recomputation.
type AggregationParams struct {
	// KindWeights maps an activity kind to the points each unit earns.
	// Records with a kind missing from the table are rejected as invalid.
	KindWeights map[string]uint64
	// CostPerRecord is charged against the ceiling for each activity record.
	CostPerRecord uint64
	// CostPerEntry is charged for each participant placed on the board.
	CostPerEntry uint64
	// MaxEntries truncates the ranked board. Zero keeps every participant.
	MaxEntries int
}

// DefaultAggregationParams returns the weights used by the newsroom deployment.
func DefaultAggregationParams() AggregationParams {
	return AggregationParams{
		KindWeights: map[string]uint64{
			KindArticlePublished: 50,
			KindComment:          5,
			KindShare:            3,
			KindReaction:         1,
		},
		CostPerRecord: 20,
		CostPerEntry:  50,
		MaxEntries:    0,
	}
}

// Validate ensures the aggregation parameters are usable.
func (p AggregationParams) Validate() error {
	if len(p.KindWeights) == 0 {
		return errors.New("at least one activity kind weight is required")
	}
	for kind, weight := range p.KindWeights {
		if strings.TrimSpace(kind) == "" {
			return errors.New("activity kind names must not be empty")
		}
		if weight == 0 {
			return fmt.Errorf("weight for kind %q must be positive", kind)
		}
	}
	if p.MaxEntries < 0 {
		return errors.New("max entries cannot be negative")
	}
	return nil
}

// Params bundles the gate configuration.
type Params struct {
	PeriodLength time.Duration
	// Origin anchors period zero. The zero value means the Unix epoch.
	Origin         time.Time
	RewardAmount   *uint256.Int
	InitialSupply  *uint256.Int
	DefaultCeiling uint64
	// WindowPeriods limits aggregation to activity from the most recent
	// periods. Zero aggregates the full history.
	WindowPeriods int64
	Aggregation   AggregationParams
}

// DefaultParams returns daily periods, the 10 EMOJI reward and a pool of
// one million EMOJI.
func DefaultParams() Params {
	return Params{
		PeriodLength:   DefaultPeriodLength,
		Origin:         time.Unix(0, 0).UTC(),
		RewardAmount:   DefaultRewardAmount(),
		InitialSupply:  new(uint256.Int).Mul(uint256.NewInt(1_000_000), OneToken()),
		DefaultCeiling: DefaultResourceCeiling,
		Aggregation:    DefaultAggregationParams(),
	}
}

// Validate ensures the supplied parameters fall within safe operating ranges.
func (p Params) Validate() error {
	if p.PeriodLength <= 0 {
		return errors.New("period length must be positive")
	}
	if p.RewardAmount == nil || p.RewardAmount.IsZero() {
		return errors.New("reward amount must be positive")
	}
	if p.DefaultCeiling == 0 {
		return errors.New("default resource ceiling must be positive")
	}
	if p.WindowPeriods < 0 {
		return errors.New("window periods cannot be negative")
	}
	return p.Aggregation.Validate()
}
