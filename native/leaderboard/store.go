package leaderboard

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"emojiboard/core/events"
)

// Snapshot is the persisted image of the gate loaded at start-up.
type Snapshot struct {
	State GateState
	// BoardPeriod is the period in which Entries were computed.
	BoardPeriod int64
	Entries     []Entry
	Supply   *uint256.Int
	Balances map[common.Address]*uint256.Int
	// Events holds the most recent update events, oldest first.
	Events []events.LeaderboardUpdated
}

// BalanceChange is the post-credit balance of one account.
type BalanceChange struct {
	Address common.Address
	Balance *uint256.Int
}

// Change is one atomic mutation. State is always written; the remaining
// fields are written only when set.
type Change struct {
	State          GateState
	ReplaceEntries bool
	BoardPeriod    int64
	Entries        []Entry
	Balance        *BalanceChange
	Supply         *uint256.Int
	Event          *events.LeaderboardUpdated
}

// Store persists gate mutations. Commit must apply a Change atomically.
type Store interface {
	// Load returns nil when nothing has been persisted yet. At most
	// eventLimit of the newest events are returned.
	Load(eventLimit int) (*Snapshot, error)
	Commit(change Change) error
}

type nopStore struct{}

func (nopStore) Load(int) (*Snapshot, error) { return nil, nil }
func (nopStore) Commit(Change) error         { return nil }
