package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/faanross/simulacra_stego/internal/scrypto"
	"github.com/faanross/simulacra_stego/internal/spec"
	"gopkg.in/yaml.v3"
)

// Config holds the stego tool configuration.
type Config struct {
	Cipher        string `yaml:"cipher" json:"cipher"`
	KDFIterations int    `yaml:"kdf_iterations" json:"kdf_iterations"`
	AgeWorkFactor int    `yaml:"age_work_factor" json:"age_work_factor"`
	Compress      bool   `yaml:"compress" json:"compress"`
	LogLevel      string `yaml:"log_level" json:"log_level"`
	DNS           DNS    `yaml:"dns" json:"dns"`
}

// DNS configures carrier delivery over DNS TXT records.
type DNS struct {
	Server    string        `yaml:"server" json:"server"`
	Domain    string        `yaml:"domain" json:"domain"`
	UploadURL string        `yaml:"upload_url" json:"upload_url"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Cipher:        string(scrypto.CipherAESGCM),
		KDFIterations: spec.PBKDF2_ITERS,
		AgeWorkFactor: spec.AGE_WORK_FACTOR,
		LogLevel:      "warn",
		DNS: DNS{
			Server:    "localhost:5353",
			Domain:    "covert.example.com",
			UploadURL: "http://localhost:8080",
			Timeout:   5 * time.Second,
		},
	}
}

// DefaultPath returns the default config file path: ~/.simulacra/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".simulacra", "config.yaml")
	}
	return filepath.Join(home, ".simulacra", "config.yaml")
}

// Load reads the configuration from the given YAML file path.
// If the file does not exist, it returns the defaults with no error.
// Keys absent from the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
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

// Validate rejects values the tool cannot use.
func (c *Config) Validate() error {
	if _, err := scrypto.ParseCipher(c.Cipher); err != nil {
		return err
	}
	if c.KDFIterations < 1000 {
		return fmt.Errorf("kdf_iterations must be at least 1000, got %d", c.KDFIterations)
	}
	if c.AgeWorkFactor < 1 || c.AgeWorkFactor > 30 {
		return fmt.Errorf("age_work_factor must be between 1 and 30, got %d", c.AgeWorkFactor)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.DNS.Timeout <= 0 {
		return fmt.Errorf("dns.timeout must be positive, got %s", c.DNS.Timeout)
	}
	return nil
}

// SealerOptions maps the config onto encryption options.
func (c *Config) SealerOptions(logger *slog.Logger) scrypto.Options {
	cipher, _ := scrypto.ParseCipher(c.Cipher)
	return scrypto.Options{
		Cipher:        cipher,
		Iterations:    c.KDFIterations,
		AgeWorkFactor: c.AgeWorkFactor,
		Compress:      c.Compress,
		Logger:        logger,
	}
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log_level %q", s)
	}
	return level, nil
}
