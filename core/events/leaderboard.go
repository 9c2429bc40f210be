package events

import (
	"encoding/hex"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	// TypeLeaderboardUpdated is emitted whenever a leaderboard recomputation
	// completes and its caller has been rewarded.
	TypeLeaderboardUpdated = "leaderboard.updated"
)

// LeaderboardUpdated captures a successful recomputation. Values are
// immutable once emitted; Clone before handing them to untrusted code.
type LeaderboardUpdated struct {
	Sequence     uint64
	Updater      common.Address
	Period       int64
	Timestamp    int64
	RewardAmount *uint256.Int
	Entries      uint64
	Digest       [32]byte
}

// EventType implements Event.
func (LeaderboardUpdated) EventType() string { return TypeLeaderboardUpdated }

// Clone returns a deep copy of the event.
func (e LeaderboardUpdated) Clone() LeaderboardUpdated {
	clone := e
	if e.RewardAmount != nil {
		clone.RewardAmount = e.RewardAmount.Clone()
	}
	return clone
}

// Attributes flattens the event into string attributes for logs and exports.
func (e LeaderboardUpdated) Attributes() map[string]string {
	reward := "0"
	if e.RewardAmount != nil {
		reward = e.RewardAmount.Dec()
	}
	return map[string]string{
		"sequence":     strconv.FormatUint(e.Sequence, 10),
		"updater":      e.Updater.Hex(),
		"period":       strconv.FormatInt(e.Period, 10),
		"timestamp":    strconv.FormatInt(e.Timestamp, 10),
		"rewardAmount": reward,
		"entries":      strconv.FormatUint(e.Entries, 10),
		"digest":       hex.EncodeToString(e.Digest[:]),
	}
}
