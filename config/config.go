// Package config loads the TOML profile used by the leaderboard CLI.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultEndpoint points at a locally running leaderboardd.
	DefaultEndpoint = "http://localhost:7090"
	// DefaultTokenEnv is consulted for a bearer token when TokenFile is unset.
	DefaultTokenEnv = "LEADERBOARD_TOKEN"
	// DefaultTimeout bounds each request made by the CLI.
	DefaultTimeout = 30 * time.Second
)

// Profile describes how the CLI reaches leaderboardd.
type Profile struct {
	Endpoint  string `toml:"Endpoint"`
	TokenFile string `toml:"TokenFile"`
	TokenEnv  string `toml:"TokenEnv"`
	Timeout   string `toml:"Timeout"`
	Output    string `toml:"Output"`
}

// Load reads the profile at path, writing a default profile when the file
// does not exist yet.
func Load(path string) (*Profile, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	profile := &Profile{}
	meta, err := toml.DecodeFile(path, profile)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0].String())
	}
	profile.applyDefaults()
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return profile, nil
}

// Default returns a profile populated with the default values.
func Default() *Profile {
	profile := &Profile{}
	profile.applyDefaults()
	return profile
}

func (p *Profile) applyDefaults() {
	p.Endpoint = strings.TrimSpace(p.Endpoint)
	if p.Endpoint == "" {
		p.Endpoint = DefaultEndpoint
	}
	p.TokenEnv = strings.TrimSpace(p.TokenEnv)
	if p.TokenEnv == "" {
		p.TokenEnv = DefaultTokenEnv
	}
	p.TokenFile = strings.TrimSpace(p.TokenFile)
	if strings.TrimSpace(p.Timeout) == "" {
		p.Timeout = DefaultTimeout.String()
	}
	p.Output = strings.ToLower(strings.TrimSpace(p.Output))
	if p.Output == "" {
		p.Output = "text"
	}
}

// Validate checks the profile for unusable values.
func (p *Profile) Validate() error {
	parsed, err := url.Parse(p.Endpoint)
	if err != nil {
		return fmt.Errorf("Endpoint: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("Endpoint must be an http or https URL")
	}
	if _, err := p.RequestTimeout(); err != nil {
		return err
	}
	switch p.Output {
	case "text", "json":
	default:
		return fmt.Errorf("Output must be text or json, got %q", p.Output)
	}
	return nil
}

// RequestTimeout parses the Timeout field.
func (p *Profile) RequestTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(p.Timeout))
	if err != nil {
		return 0, fmt.Errorf("Timeout: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("Timeout must be positive")
	}
	return d, nil
}

// ReadToken returns the bearer token stored in TokenFile, or "" when no file
// is configured.
func (p *Profile) ReadToken() (string, error) {
	if p.TokenFile == "" {
		return "", nil
	}
	raw, err := os.ReadFile(p.TokenFile)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", p.TokenFile)
	}
	return token, nil
}

func createDefault(path string) (*Profile, error) {
	profile := Default()
	if err := persist(path, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

func persist(path string, profile *Profile) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(profile)
}
