// Package config loads and stores the voicelock CLI configuration.
//
// Configuration lives under os.UserConfigDir()/voicelock/:
//
//	~/Library/Application Support/voicelock/   (macOS)
//	~/.config/voicelock/                       (Linux)
//	%AppData%/voicelock/                       (Windows)
//
// Layout:
//
//	voicelock/
//	├── config.yaml    # thresholds and timing
//	└── data/          # badger database (voiceprints + attempt counters)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-yaml"
)

const (
	appDir     = "voicelock"
	configFile = "config.yaml"
	dataDir    = "data"
)

// Config is the on-disk CLI configuration. Zero fields fall back to
// the engine defaults.
type Config struct {
	// DataDir overrides the default database location.
	DataDir string `yaml:"data_dir,omitempty"`

	// PassphraseEnv names the environment variable holding the
	// encryption passphrase for the store. Empty disables encryption
	// at rest.
	PassphraseEnv string `yaml:"passphrase_env,omitempty"`

	Feature FeatureConfig `yaml:"feature,omitempty"`
	Enroll  EnrollConfig  `yaml:"enroll,omitempty"`
	Verify  VerifyConfig  `yaml:"verify,omitempty"`
	Attempt AttemptConfig `yaml:"attempt,omitempty"`
	Lock    LockConfig    `yaml:"lock,omitempty"`

	// Dir is the directory the config was loaded from. Not serialized.
	Dir string `yaml:"-"`
}

// FeatureConfig mirrors the extractor knobs worth exposing. Changing
// them changes the extractor version and existing enrollments stop
// verifying until re-enrolled.
type FeatureConfig struct {
	SampleRate int `yaml:"sample_rate,omitempty"`
	NumMels    int `yaml:"num_mels,omitempty"`
}

type EnrollConfig struct {
	MinSamples int     `yaml:"min_samples,omitempty"`
	MinQuality float64 `yaml:"min_quality,omitempty"`
	MinSNR     float64 `yaml:"min_snr,omitempty"`
}

type VerifyConfig struct {
	AcceptThreshold   float64 `yaml:"accept_threshold,omitempty"`
	LivenessThreshold float64 `yaml:"liveness_threshold,omitempty"`
	Hysteresis        float64 `yaml:"hysteresis,omitempty"`
	SeparationMargin  float64 `yaml:"separation_margin,omitempty"`
}

type AttemptConfig struct {
	MaxFailures              int           `yaml:"max_failures,omitempty"`
	Window                   time.Duration `yaml:"window,omitempty"`
	BaseBackoff              time.Duration `yaml:"base_backoff,omitempty"`
	MaxBackoff               time.Duration `yaml:"max_backoff,omitempty"`
	AllowAcceptDuringLockout bool          `yaml:"allow_accept_during_lockout,omitempty"`
}

type LockConfig struct {
	UnlockHold time.Duration `yaml:"unlock_hold,omitempty"`
}

// Load reads the configuration from the default location. A missing
// config file is not an error: defaults apply.
func Load() (*Config, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine config directory: %w", err)
	}
	return LoadFrom(filepath.Join(base, appDir))
}

// LoadFrom reads the configuration rooted at a specific directory.
func LoadFrom(dir string) (*Config, error) {
	cfg := &Config{Dir: dir}
	data, err := os.ReadFile(filepath.Join(dir, configFile))
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configFile, err)
	}
	cfg.Dir = dir
	return cfg, nil
}

// Save writes the configuration back to its directory.
func (c *Config) Save() error {
	if c.Dir == "" {
		return fmt.Errorf("config has no directory")
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(filepath.Join(c.Dir, configFile), data, 0o600)
}

// Path returns the config file path.
func (c *Config) Path() string {
	return filepath.Join(c.Dir, configFile)
}

// ResolveDataDir returns the database directory, creating it if needed.
func (c *Config) ResolveDataDir() (string, error) {
	dir := c.DataDir
	if dir == "" {
		dir = filepath.Join(c.Dir, dataDir)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return dir, nil
}

// Passphrase returns the encryption passphrase, or nil when encryption
// at rest is disabled.
func (c *Config) Passphrase() []byte {
	if c.PassphraseEnv == "" {
		return nil
	}
	if v := os.Getenv(c.PassphraseEnv); v != "" {
		return []byte(v)
	}
	return nil
}
