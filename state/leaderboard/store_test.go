package leaderboard

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"emojiboard/core/events"
	board "emojiboard/native/leaderboard"
	"emojiboard/storage"
)

func TestLoadEmptyDatabase(t *testing.T) {
	store, err := NewStore(storage.NewMemDB())
	require.NoError(t, err)
	snapshot, err := store.Load(10)
	require.NoError(t, err)
	require.Nil(t, snapshot)
}

func TestCommitRoundTrip(t *testing.T) {
	store, err := NewStore(storage.NewMemDB())
	require.NoError(t, err)

	caller := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	entries := []board.Entry{
		{Participant: caller, Score: 60},
		{Participant: common.HexToAddress("0x00000000000000000000000000000000000000c2"), Score: 40},
	}
	evt := events.LeaderboardUpdated{
		Sequence:     1,
		Updater:      caller,
		Period:       20745,
		Timestamp:    1_792_411_200,
		RewardAmount: board.DefaultRewardAmount(),
		Entries:      2,
		Digest:       board.Digest(entries),
	}
	require.NoError(t, store.Commit(board.Change{
		State:          board.GateState{LastUpdatedPeriod: 20745, Forced: false, LastUpdateTime: 1_792_411_200},
		ReplaceEntries: true,
		BoardPeriod:    20745,
		Entries:        entries,
		Balance:        &board.BalanceChange{Address: caller, Balance: board.DefaultRewardAmount()},
		Supply:         uint256.NewInt(990),
		Event:          &evt,
	}))

	snapshot, err := store.Load(0)
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	require.Equal(t, int64(20745), snapshot.State.LastUpdatedPeriod)
	require.Equal(t, entries, snapshot.Entries)
	require.Equal(t, int64(20745), snapshot.BoardPeriod)
	require.Equal(t, uint64(990), snapshot.Supply.Uint64())
	require.Equal(t, board.DefaultRewardAmount(), snapshot.Balances[caller])
	require.Len(t, snapshot.Events, 1)
	require.Equal(t, evt.Digest, snapshot.Events[0].Digest)
	require.Equal(t, evt.RewardAmount, snapshot.Events[0].RewardAmount)
	require.Equal(t, caller, snapshot.Events[0].Updater)
}

func TestStateOnlyCommitKeepsBoard(t *testing.T) {
	store, err := NewStore(storage.NewMemDB())
	require.NoError(t, err)
	entries := []board.Entry{{Participant: common.HexToAddress("0x01"), Score: 5}}
	require.NoError(t, store.Commit(board.Change{ReplaceEntries: true, BoardPeriod: 20746, Entries: entries, Supply: uint256.NewInt(7)}))
	require.NoError(t, store.Commit(board.Change{State: board.GateState{LastUpdatedPeriod: -3, UpdateInProgress: true}}))

	snapshot, err := store.Load(0)
	require.NoError(t, err)
	require.Equal(t, int64(-3), snapshot.State.LastUpdatedPeriod)
	require.True(t, snapshot.State.UpdateInProgress)
	require.Equal(t, entries, snapshot.Entries)
	require.Equal(t, int64(20746), snapshot.BoardPeriod)
	require.Equal(t, uint64(7), snapshot.Supply.Uint64())
}

func TestEventRetentionAndLoadLimit(t *testing.T) {
	store, err := NewStore(storage.NewMemDB(), WithEventRetention(3))
	require.NoError(t, err)
	for seq := uint64(1); seq <= 5; seq++ {
		evt := events.LeaderboardUpdated{Sequence: seq, Period: int64(seq), RewardAmount: uint256.NewInt(1)}
		require.NoError(t, store.Commit(board.Change{State: board.GateState{LastUpdatedPeriod: int64(seq)}, Event: &evt}))
	}
	snapshot, err := store.Load(0)
	require.NoError(t, err)
	require.Len(t, snapshot.Events, 3)
	require.Equal(t, uint64(3), snapshot.Events[0].Sequence)

	snapshot, err = store.Load(2)
	require.NoError(t, err)
	require.Len(t, snapshot.Events, 2)
	require.Equal(t, uint64(4), snapshot.Events[0].Sequence)
	require.Equal(t, uint64(5), snapshot.Events[1].Sequence)
}

func TestGateRestartsFromLevelDB(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	admin := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	caller := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	source := board.StaticSource{{Participant: caller, Kind: board.KindComment, Quantity: 3}}

	open := func() (*board.Gate, storage.Database) {
		db, err := storage.NewLevelDB(dir)
		require.NoError(t, err)
		store, err := NewStore(db)
		require.NoError(t, err)
		gate, err := board.NewGate(board.DefaultParams(), board.NewStaticAuthority(admin), source,
			board.WithClock(clock), board.WithStore(store), board.WithMetrics(nil))
		require.NoError(t, err)
		return gate, db
	}

	gate, db := open()
	require.False(t, gate.CanUpdate())
	require.NoError(t, gate.ForceUpdateDay(admin))
	_, err := gate.UpdateLeaderboard(context.Background(), caller, 0)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	restored, db := open()
	defer db.Close()
	require.False(t, restored.CanUpdate())
	require.Equal(t, gate.LastUpdateDay(), restored.LastUpdateDay())
	require.Equal(t, board.DefaultRewardAmount(), restored.BalanceOf(caller))
	require.Equal(t, gate.Supply(), restored.Supply())
	require.Len(t, restored.Leaderboard(), 1)
	require.Equal(t, gate.LeaderboardPeriod(), restored.LeaderboardPeriod())
	require.Len(t, restored.RecentEvents(0, 0), 1)

	now = now.Add(board.DefaultPeriodLength)
	require.True(t, restored.CanUpdate())
	result, err := restored.UpdateLeaderboard(context.Background(), caller, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(2), result.Event.Sequence)
}
