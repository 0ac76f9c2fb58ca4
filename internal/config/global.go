// Package config loads pledge settings from $PLEDGE_HOME/config.yaml
// (default ~/.pledge/config.yaml) with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// GlobalConfig holds pledge settings.
type GlobalConfig struct {
	RelyingParty RelyingPartyConfig `yaml:"relying_party"`
	Authority    AuthorityConfig    `yaml:"authority"`
	Challenge    ChallengeConfig    `yaml:"challenge"`
	Store        StoreConfig        `yaml:"store"`
	Debug        DebugConfig        `yaml:"debug"`
}

// RelyingPartyConfig identifies the WebAuthn relying party.
type RelyingPartyConfig struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Origin string `yaml:"origin"`
}

// AuthorityConfig configures the certificate authority.
type AuthorityConfig struct {
	Issuer string `yaml:"issuer"`
	// Secret is a literal secret or a reference: "keyring", "env://VAR",
	// "ssm://...", "awssm://...". Empty uses the built-in default secret.
	Secret string `yaml:"secret"`
}

// ChallengeConfig bounds the outstanding challenge registry.
type ChallengeConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// StoreConfig locates persisted state.
type StoreConfig struct {
	Path         string `yaml:"path"`
	ArtifactsDir string `yaml:"artifacts_dir"`
}

// DebugConfig controls the debug log files.
type DebugConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// DefaultGlobalConfig returns the defaults.
func DefaultGlobalConfig() *GlobalConfig {
	dir := GlobalConfigDir()
	return &GlobalConfig{
		RelyingParty: RelyingPartyConfig{
			ID:     "localhost",
			Name:   "Pledge",
			Origin: "http://localhost:3000",
		},
		Challenge: ChallengeConfig{
			TTL:        5 * time.Minute,
			MaxEntries: 10000,
		},
		Store: StoreConfig{
			Path:         filepath.Join(dir, "pledge.db"),
			ArtifactsDir: filepath.Join(dir, "artifacts"),
		},
		Debug: DebugConfig{
			RetentionDays: 14,
		},
	}
}

// LoadGlobal reads config.yaml from GlobalConfigDir and applies
// environment overrides. A missing file is not an error.
func LoadGlobal() (*GlobalConfig, error) {
	return Load(filepath.Join(GlobalConfigDir(), "config.yaml"))
}

// Load reads the config file at path and applies environment overrides.
func Load(path string) (*GlobalConfig, error) {
	cfg := DefaultGlobalConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *GlobalConfig) error {
	if v := os.Getenv("PLEDGE_RP_ID"); v != "" {
		cfg.RelyingParty.ID = v
	}
	if v := os.Getenv("PLEDGE_RP_ORIGIN"); v != "" {
		cfg.RelyingParty.Origin = v
	}
	if v := os.Getenv("PLEDGE_AUTHORITY_SECRET"); v != "" {
		cfg.Authority.Secret = v
	}
	if v := os.Getenv("PLEDGE_STORE"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("PLEDGE_CHALLENGE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PLEDGE_CHALLENGE_TTL: %w", err)
		}
		cfg.Challenge.TTL = d
	}
	if v := os.Getenv("PLEDGE_DEBUG_RETENTION_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PLEDGE_DEBUG_RETENTION_DAYS: %w", err)
		}
		cfg.Debug.RetentionDays = n
	}
	return nil
}

// GlobalConfigDir returns $PLEDGE_HOME, or ~/.pledge.
func GlobalConfigDir() string {
	if v := os.Getenv("PLEDGE_HOME"); v != "" {
		return v
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".pledge")
	}
	return filepath.Join(homeDir, ".pledge")
}
