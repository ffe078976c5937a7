// Package config loads the YAML configuration of a cadet node.
package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cadetchan/cadet/link"
	"github.com/cadetchan/cadet/mesh"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds the configuration of a node.
type Config struct {
	// Seed is the hex-encoded Ed25519 seed of the node identity. If empty,
	// the node gets a new identity each time it starts.
	Seed string `yaml:"seed,omitempty"`

	// Listen is the TCP address to accept links on. If empty, the node only
	// dials out.
	Listen string `yaml:"listen,omitempty"`

	// Peers are TCP addresses of nodes to link to at startup.
	Peers []string `yaml:"peers,omitempty"`

	Framing    string `yaml:"framing"`               // see link.ByName
	Window     int    `yaml:"window,omitempty"`      // envelopes per channel
	MaxPayload int    `yaml:"max_payload,omitempty"` // bytes per envelope
	LogLevel   string `yaml:"log_level"`
}

// DefaultPath returns the default config file path: ~/.cadet/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".cadet", "config.yaml")
	}
	return filepath.Join(home, ".cadet", "config.yaml")
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{Framing: "envelope", LogLevel: "info"}
}

// Load reads the configuration from the given YAML file path. If the file
// does not exist, it returns Default() with no error.
func Load(path string) (*Config, error) {
	cfg := Default()

	// The file holds the identity seed, so warn if others can read it.
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logrus.WithField("path", path).Warnf(
			"config file has permissions %04o, expected 0600; the identity seed may be exposed", perm)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML, creating the directory if needed. The
// file is readable only by its owner.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// NewSeed returns a random hex-encoded identity seed.
func NewSeed() (string, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return "", err
	}
	return hex.EncodeToString(seed), nil
}

// Validate reports whether the fields of c are usable.
func (c *Config) Validate() error {
	if _, err := c.seed(); err != nil {
		return err
	}
	if link.ByName(c.Framing) == nil {
		return fmt.Errorf("unknown framing %q", c.Framing)
	}
	if c.Window < 0 {
		return fmt.Errorf("invalid window %d", c.Window)
	}
	if c.MaxPayload < 0 || c.MaxPayload > link.MaxRecord {
		return fmt.Errorf("invalid max_payload %d", c.MaxPayload)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

func (c *Config) seed() ([]byte, error) {
	if c.Seed == "" {
		return nil, nil
	}
	seed, err := hex.DecodeString(c.Seed)
	if err != nil {
		return nil, fmt.Errorf("invalid seed: %w", err)
	} else if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid seed: %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	return seed, nil
}

// Level returns the logging level named by c.LogLevel.
func (c *Config) Level() (logrus.Level, error) {
	if c.LogLevel == "" {
		return logrus.InfoLevel, nil
	}
	return logrus.ParseLevel(c.LogLevel)
}

// MeshOptions returns node options for c that log to log.
func (c *Config) MeshOptions(log *logrus.Entry) (*mesh.Options, error) {
	seed, err := c.seed()
	if err != nil {
		return nil, err
	}
	framing := link.ByName(c.Framing)
	if framing == nil {
		return nil, fmt.Errorf("unknown framing %q", c.Framing)
	}
	return &mesh.Options{
		Seed:       seed,
		Window:     c.Window,
		MaxPayload: c.MaxPayload,
		Framing:    framing,
		Logger:     log,
	}, nil
}
