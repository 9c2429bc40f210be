package leaderboardd

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	board "emojiboard/native/leaderboard"
)

func TestKeeperRaisesCeilingUntilUpdateFits(t *testing.T) {
	h := newHarness(t, nil)
	h.ingest(t)
	keeperAddr := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	// Two records and two entries cost 140 units.
	keeper := NewKeeper(h.gate, keeperAddr, 0, 40, 1000, nil)

	require.False(t, keeper.Tick(context.Background()))
	h.clock.Advance(board.DefaultPeriodLength)
	require.True(t, keeper.Tick(context.Background()))
	require.Equal(t, board.DefaultRewardAmount(), h.gate.BalanceOf(keeperAddr))
	require.False(t, keeper.Tick(context.Background()))
}

func TestKeeperGivesUpAtMaxCeiling(t *testing.T) {
	h := newHarness(t, nil)
	h.ingest(t)
	keeper := NewKeeper(h.gate, common.HexToAddress("0xcc"), 0, 10, 100, nil)
	h.clock.Advance(board.DefaultPeriodLength)
	require.False(t, keeper.Tick(context.Background()))
	require.True(t, h.gate.CanUpdate())
}
