package leaderboardd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	board "emojiboard/native/leaderboard"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for leaderboardd.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	DataDir       string          `yaml:"data_dir"`
	Admins        []string        `yaml:"admins"`
	Gate          GateConfig      `yaml:"gate"`
	Activity      ActivityConfig  `yaml:"activity"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Keeper        KeeperConfig    `yaml:"keeper"`
	Logging       LoggingConfig   `yaml:"logging"`
	CORS          CORSConfig      `yaml:"cors"`
}

// GateConfig mirrors board.Params in operator units.
type GateConfig struct {
	PeriodLength   Duration          `yaml:"period_length"`
	Origin         string            `yaml:"origin"`
	RewardAmount   string            `yaml:"reward_amount"`
	InitialSupply  string            `yaml:"initial_supply"`
	DefaultCeiling uint64            `yaml:"default_ceiling"`
	WindowPeriods  int64             `yaml:"window_periods"`
	MaxEntries     int               `yaml:"max_entries"`
	CostPerRecord  uint64            `yaml:"cost_per_record"`
	CostPerEntry   uint64            `yaml:"cost_per_entry"`
	KindWeights    map[string]uint64 `yaml:"kind_weights"`
	EventHistory   int               `yaml:"event_history"`
}

// ActivityConfig selects the SQL backend for activity records. Records older
// than Retention are pruned every PruneInterval and after each update; zero
// retention keeps everything.
type ActivityConfig struct {
	Driver        string   `yaml:"driver"`
	DSN           string   `yaml:"dsn"`
	DSNEnv        string   `yaml:"dsn_env"`
	Retention     Duration `yaml:"retention"`
	PruneInterval Duration `yaml:"prune_interval"`
}

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	Disabled       bool     `yaml:"disabled"`
	HMACSecret     string   `yaml:"hmac_secret"`
	HMACSecretFile string   `yaml:"hmac_secret_file"`
	HMACSecretEnv  string   `yaml:"hmac_secret_env"`
	Issuer         string   `yaml:"issuer"`
	Audience       string   `yaml:"audience"`
	ClockSkew      Duration `yaml:"clock_skew"`
}

// RateLimitConfig bounds public read traffic per client.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// KeeperConfig enables the background updater.
type KeeperConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Address    string   `yaml:"address"`
	Interval   Duration `yaml:"interval"`
	MaxCeiling uint64   `yaml:"max_ceiling"`
}

// LoggingConfig controls log verbosity and optional file rotation.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// CORSConfig lists browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Auth.normalise(); err != nil {
		return cfg, fmt.Errorf("auth: %w", err)
	}
	if err := cfg.Activity.normalise(); err != nil {
		return cfg, fmt.Errorf("activity: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "emojiboard-data"
	}
	if cfg.Gate.PeriodLength.Duration == 0 {
		cfg.Gate.PeriodLength.Duration = board.DefaultPeriodLength
	}
	if cfg.Gate.DefaultCeiling == 0 {
		cfg.Gate.DefaultCeiling = board.DefaultResourceCeiling
	}
	if cfg.Gate.EventHistory <= 0 {
		cfg.Gate.EventHistory = 2048
	}
	if cfg.Activity.Driver == "" {
		cfg.Activity.Driver = "sqlite"
	}
	if cfg.Activity.PruneInterval.Duration == 0 {
		cfg.Activity.PruneInterval.Duration = time.Hour
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.Keeper.Interval.Duration == 0 {
		cfg.Keeper.Interval.Duration = time.Minute
	}
	if cfg.Keeper.MaxCeiling == 0 {
		cfg.Keeper.MaxCeiling = 16 * cfg.Gate.DefaultCeiling
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func validateConfig(cfg Config) error {
	if len(cfg.Admins) == 0 {
		return fmt.Errorf("at least one admin address must be configured")
	}
	for _, admin := range cfg.Admins {
		if !common.IsHexAddress(strings.TrimSpace(admin)) {
			return fmt.Errorf("admin %q is not a hex address", admin)
		}
	}
	if _, err := cfg.Params(); err != nil {
		return fmt.Errorf("gate: %w", err)
	}
	switch cfg.Activity.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("activity driver %q unsupported (sqlite, postgres)", cfg.Activity.Driver)
	}
	if cfg.Activity.Driver == "postgres" && cfg.Activity.DSN == "" {
		return fmt.Errorf("activity dsn must be configured for postgres")
	}
	if cfg.Activity.Retention.Duration < 0 || cfg.Activity.PruneInterval.Duration < 0 {
		return fmt.Errorf("activity retention and prune_interval must not be negative")
	}
	if window := scoredSpan(cfg.Gate); cfg.Activity.Retention.Duration > 0 {
		if window == 0 {
			return fmt.Errorf("activity retention requires gate window_periods")
		}
		if cfg.Activity.Retention.Duration < window {
			return fmt.Errorf("activity retention %s is shorter than the scored window %s", cfg.Activity.Retention.Duration, window)
		}
	}
	if !cfg.Auth.Disabled && cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth hmac secret must be configured unless auth is disabled")
	}
	if cfg.Keeper.Enabled && !common.IsHexAddress(strings.TrimSpace(cfg.Keeper.Address)) {
		return fmt.Errorf("keeper address must be a hex address")
	}
	if cfg.Keeper.Enabled && cfg.Keeper.MaxCeiling < cfg.Gate.DefaultCeiling {
		return fmt.Errorf("keeper max_ceiling must be at least the default ceiling")
	}
	return nil
}

func (a *AuthConfig) normalise() error {
	if a == nil {
		return fmt.Errorf("auth configuration missing")
	}
	a.HMACSecret = strings.TrimSpace(a.HMACSecret)
	if a.HMACSecret != "" || a.Disabled {
		return nil
	}
	switch {
	case strings.TrimSpace(a.HMACSecretEnv) != "":
		value := strings.TrimSpace(os.Getenv(strings.TrimSpace(a.HMACSecretEnv)))
		if value == "" {
			return fmt.Errorf("hmac_secret_env %s is empty", a.HMACSecretEnv)
		}
		a.HMACSecret = value
	case strings.TrimSpace(a.HMACSecretFile) != "":
		contents, err := os.ReadFile(strings.TrimSpace(a.HMACSecretFile))
		if err != nil {
			return fmt.Errorf("read hmac_secret_file: %w", err)
		}
		a.HMACSecret = strings.TrimSpace(string(contents))
	}
	return nil
}

func (a *ActivityConfig) normalise() error {
	a.Driver = strings.ToLower(strings.TrimSpace(a.Driver))
	a.DSN = strings.TrimSpace(a.DSN)
	if a.DSN == "" && strings.TrimSpace(a.DSNEnv) != "" {
		a.DSN = strings.TrimSpace(os.Getenv(strings.TrimSpace(a.DSNEnv)))
		if a.DSN == "" {
			return fmt.Errorf("dsn_env %s is empty", a.DSNEnv)
		}
	}
	return nil
}

// Params converts the gate section into validated board parameters. Amounts
// are decimal strings in base units.
func (c Config) Params() (board.Params, error) {
	params := board.DefaultParams()
	params.PeriodLength = c.Gate.PeriodLength.Duration
	if params.PeriodLength == 0 {
		params.PeriodLength = board.DefaultPeriodLength
	}
	if origin := strings.TrimSpace(c.Gate.Origin); origin != "" {
		parsed, err := time.Parse(time.RFC3339, origin)
		if err != nil {
			return params, fmt.Errorf("origin: %w", err)
		}
		params.Origin = parsed.UTC()
	}
	if raw := strings.TrimSpace(c.Gate.RewardAmount); raw != "" {
		amount, err := uint256.FromDecimal(raw)
		if err != nil {
			return params, fmt.Errorf("reward_amount: %w", err)
		}
		params.RewardAmount = amount
	}
	if raw := strings.TrimSpace(c.Gate.InitialSupply); raw != "" {
		amount, err := uint256.FromDecimal(raw)
		if err != nil {
			return params, fmt.Errorf("initial_supply: %w", err)
		}
		params.InitialSupply = amount
	}
	if c.Gate.DefaultCeiling > 0 {
		params.DefaultCeiling = c.Gate.DefaultCeiling
	}
	params.WindowPeriods = c.Gate.WindowPeriods
	if c.Gate.MaxEntries > 0 {
		params.Aggregation.MaxEntries = c.Gate.MaxEntries
	}
	if c.Gate.CostPerRecord > 0 {
		params.Aggregation.CostPerRecord = c.Gate.CostPerRecord
	}
	if c.Gate.CostPerEntry > 0 {
		params.Aggregation.CostPerEntry = c.Gate.CostPerEntry
	}
	if len(c.Gate.KindWeights) > 0 {
		params.Aggregation.KindWeights = c.Gate.KindWeights
	}
	return params, params.Validate()
}

// scoredSpan is the activity span an update aggregates over, or zero when
// every record is scored.
func scoredSpan(gate GateConfig) time.Duration {
	if gate.WindowPeriods <= 0 {
		return 0
	}
	length := gate.PeriodLength.Duration
	if length == 0 {
		length = board.DefaultPeriodLength
	}
	return time.Duration(gate.WindowPeriods+1) * length
}

// AdminAddresses returns the configured administrators.
func (c Config) AdminAddresses() []common.Address {
	out := make([]common.Address, 0, len(c.Admins))
	for _, admin := range c.Admins {
		out = append(out, common.HexToAddress(strings.TrimSpace(admin)))
	}
	return out
}
