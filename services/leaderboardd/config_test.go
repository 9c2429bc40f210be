package leaderboardd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	board "emojiboard/native/leaderboard"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	t.Setenv("TEST_LEADERBOARD_SECRET", "from-env")
	path := writeConfig(t, `
admins: ["0x00000000000000000000000000000000000000aa"]
auth:
  hmac_secret_env: TEST_LEADERBOARD_SECRET
gate:
  period_length: 1h
  reward_amount: "7"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":7090", cfg.ListenAddress)
	require.Equal(t, "sqlite", cfg.Activity.Driver)
	require.Equal(t, "from-env", cfg.Auth.HMACSecret)
	require.Equal(t, time.Minute, cfg.Keeper.Interval.Duration)
	require.Equal(t, uint64(16*board.DefaultResourceCeiling), cfg.Keeper.MaxCeiling)

	params, err := cfg.Params()
	require.NoError(t, err)
	require.Equal(t, time.Hour, params.PeriodLength)
	require.Equal(t, uint64(7), params.RewardAmount.Uint64())
	require.Len(t, cfg.AdminAddresses(), 1)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no admins":                "auth: {disabled: true}\n",
		"bad admin":                "admins: [alice]\nauth: {disabled: true}\n",
		"no secret":                "admins: [\"0x00000000000000000000000000000000000000aa\"]\n",
		"bad driver":               "admins: [\"0x00000000000000000000000000000000000000aa\"]\nauth: {disabled: true}\nactivity: {driver: mysql}\n",
		"bad reward":               "admins: [\"0x00000000000000000000000000000000000000aa\"]\nauth: {disabled: true}\ngate: {reward_amount: \"0\"}\n",
		"bad duration":             "admins: [\"0x00000000000000000000000000000000000000aa\"]\nauth: {disabled: true}\ngate: {period_length: soon}\n",
		"unknown field":            "admins: [\"0x00000000000000000000000000000000000000aa\"]\nauth: {disabled: true}\nbogus: 1\n",
		"keeper address":           "admins: [\"0x00000000000000000000000000000000000000aa\"]\nauth: {disabled: true}\nkeeper: {enabled: true}\n",
		"retention without window": "admins: [\"0x00000000000000000000000000000000000000aa\"]\nauth: {disabled: true}\nactivity: {retention: 48h}\n",
		"retention inside window":  "admins: [\"0x00000000000000000000000000000000000000aa\"]\nauth: {disabled: true}\ngate: {window_periods: 7}\nactivity: {retention: 72h}\n",
		"negative retention":       "admins: [\"0x00000000000000000000000000000000000000aa\"]\nauth: {disabled: true}\nactivity: {retention: -1h}\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoadConfigActivityRetention(t *testing.T) {
	path := writeConfig(t, `
admins: ["0x00000000000000000000000000000000000000aa"]
auth: {disabled: true}
gate:
  period_length: 24h
  window_periods: 7
activity:
  retention: 192h
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 192*time.Hour, cfg.Activity.Retention.Duration)
	require.Equal(t, time.Hour, cfg.Activity.PruneInterval.Duration)
	require.Equal(t, 8*24*time.Hour, scoredSpan(cfg.Gate))
}
