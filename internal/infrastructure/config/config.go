// Package config provides configuration loading for the cadence application.
// It handles loading runtime settings from environment variables and the seeds
// document (seeds, crawler, build rules) from a local YAML file or HashiCorp Vault.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MyCarrier-DevOps/goLibMyCarrier/vault"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/MyCarrier-DevOps/cadence/internal/domain"
)

// Environment variable names.
const (
	// EnvPrefix prefixes every cadence setting.
	EnvPrefix = "CADENCE_"

	// EnvConfig is the path to the seeds document.
	EnvConfig = EnvPrefix + "CONFIG"

	// EnvLogLevel is the log level (debug, info, error).
	EnvLogLevel = "LOG_LEVEL"

	// EnvLogAppName is the application name for log context.
	EnvLogAppName = "LOG_APP_NAME"

	// EnvVaultSeedsPath is the path in Vault KV where the seeds document is stored.
	EnvVaultSeedsPath = "VAULT_SEEDS_PATH"

	// EnvVaultSeedsMount is the Vault KV mount point (defaults to "secret").
	EnvVaultSeedsMount = "VAULT_SEEDS_MOUNT"
)

// Default values.
const (
	DefaultLogLevel        = "info"
	DefaultLogAppName      = "cadence"
	DefaultWorkDir         = ".cadence"
	DefaultLedgerFile      = "ledger.db"
	DefaultLedgerTimeout   = 5 * time.Second
	DefaultVaultSeedsMount = "secret"
)

// Configuration errors.
var (
	// ErrSeedsRequired indicates no seeds document source is available.
	ErrSeedsRequired = errors.New(
		"seeds configuration required: set VAULT_SEEDS_PATH (with VAULT_ADDRESS, VAULT_ROLE_ID, VAULT_SECRET_ID) " +
			"or CADENCE_CONFIG for a local file",
	)

	// ErrSeedsNotFound indicates the seeds file does not exist.
	ErrSeedsNotFound = errors.New("seeds configuration file not found")

	// ErrSeedsInvalid indicates the seeds document cannot be parsed or fails validation.
	ErrSeedsInvalid = errors.New("seeds configuration is invalid")

	// ErrSeedsExists indicates init would overwrite an existing seeds file.
	ErrSeedsExists = errors.New("seeds configuration file already exists")

	// ErrSettingsInvalid indicates the environment settings cannot be parsed.
	ErrSettingsInvalid = errors.New("invalid settings")

	// ErrVaultClientFailed indicates failure to create or authenticate with Vault.
	ErrVaultClientFailed = errors.New("failed to create Vault client")

	// ErrVaultSecretNotFound indicates the secret was not found in Vault.
	ErrVaultSecretNotFound = errors.New("seeds configuration not found in Vault")
)

// VaultClient defines the interface for Vault operations.
// This interface allows for dependency injection and testing.
type VaultClient interface {
	// GetKVSecret retrieves a secret from Vault's KV v2 secrets engine.
	GetKVSecret(ctx context.Context, path, mount string) (map[string]interface{}, error)
}

// VaultClientFactory creates a VaultClient using AppRole authentication.
// This is the default factory used in production.
type VaultClientFactory func(ctx context.Context) (VaultClient, error)

// DefaultVaultClientFactory creates a VaultClient using goLibMyCarrier/vault with AppRole auth.
func DefaultVaultClientFactory(ctx context.Context) (VaultClient, error) {
	// Uses: VAULT_ADDRESS, VAULT_ROLE_ID, VAULT_SECRET_ID
	vaultConfig, err := vault.VaultLoadConfig()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVaultClientFailed, err)
	}

	client, err := vault.CreateVaultClient(ctx, vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVaultClientFailed, err)
	}

	return client, nil
}

// Settings are the CADENCE_* environment settings.
type Settings struct {
	ConfigFile      string        `env:"CONFIG"`
	WorkDir         string        `env:"WORK_DIR"`
	LedgerPath      string        `env:"LEDGER_PATH"` // default: <WorkDir>/ledger.db
	Script          string        `env:"SCRIPT"`
	Branch          string        `env:"BRANCH"`
	Crawler         string        `env:"CRAWLER"`
	MetricsTextfile string        `env:"METRICS_TEXTFILE"`
	LedgerTimeout   time.Duration `env:"LEDGER_TIMEOUT"`
}

// Config holds all application configuration.
type Config struct {
	Settings `envPrefix:"CADENCE_"`

	// LogLevel is the logging level (debug, info, error).
	LogLevel string `env:"LOG_LEVEL"`

	// LogAppName is the application name for log context.
	LogAppName string `env:"LOG_APP_NAME"`

	// VaultSeedsPath and VaultSeedsMount locate the seeds document in Vault.
	VaultSeedsPath  string `env:"VAULT_SEEDS_PATH"`
	VaultSeedsMount string `env:"VAULT_SEEDS_MOUNT"`
}

// Load loads the application settings from the process environment.
func Load() (*Config, error) {
	return LoadFromEnviron(os.Environ())
}

// LoadFromEnviron loads settings from environ (KEY=value pairs) and applies defaults.
func LoadFromEnviron(environ []string) (*Config, error) {
	var cfg Config

	err := env.ParseWithOptions(&cfg, env.Options{
		Environment: env.ToMap(environ),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSettingsInvalid, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.WorkDir == "" {
		c.WorkDir = DefaultWorkDir
	}
	if c.LedgerPath == "" {
		c.LedgerPath = filepath.Join(c.WorkDir, DefaultLedgerFile)
	}
	if c.Script == "" {
		c.Script = domain.DefaultScript
	}
	if c.Branch == "" {
		c.Branch = domain.DefaultBranch
	}
	if c.Crawler == "" {
		c.Crawler = string(domain.CrawlerSimple)
	}
	if c.LedgerTimeout == 0 {
		c.LedgerTimeout = DefaultLedgerTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogAppName == "" {
		c.LogAppName = DefaultLogAppName
	}
	if c.VaultSeedsMount == "" {
		c.VaultSeedsMount = DefaultVaultSeedsMount
	}
}

func (c *Config) validate() error {
	if err := validateCrawler(domain.CrawlerKind(c.Crawler)); err != nil {
		return fmt.Errorf("%w: %w", ErrSettingsInvalid, err)
	}
	if c.LedgerTimeout < 0 {
		return fmt.Errorf("%w: ledger timeout must not be negative", ErrSettingsInvalid)
	}
	return nil
}

// BuildRoot is the directory holding one build directory per commit.
func (c *Config) BuildRoot() string {
	return filepath.Join(c.WorkDir, "builds")
}

// CrawlRoot is the directory holding the crawler's scratch working copies.
func (c *Config) CrawlRoot() string {
	return filepath.Join(c.WorkDir, "crawl")
}

// LoadDocument loads the seeds document from Vault when VAULT_SEEDS_PATH is set,
// otherwise from the CADENCE_CONFIG file. A crawler named in the document
// overrides CADENCE_CRAWLER.
//
// For Vault loading, requires:
//   - VAULT_ADDRESS: Vault server address
//   - VAULT_ROLE_ID: AppRole role ID
//   - VAULT_SECRET_ID: AppRole secret ID
//   - VAULT_SEEDS_PATH: Path to the secret in Vault
//   - VAULT_SEEDS_MOUNT: KV mount point (optional, defaults to "secret")
//
// Returns ErrSeedsRequired if no source is available.
func (c *Config) LoadDocument(ctx context.Context, vaultClientFactory VaultClientFactory) (*Document, error) {
	var (
		doc *Document
		err error
	)
	switch {
	case c.VaultSeedsPath != "":
		doc, err = loadDocumentFromVault(ctx, vaultClientFactory, c.VaultSeedsPath, c.VaultSeedsMount)
	case c.ConfigFile != "":
		doc, err = LoadDocumentFile(c.ConfigFile)
	default:
		return nil, ErrSeedsRequired
	}
	if err != nil {
		return nil, err
	}

	if doc.Crawler == "" {
		doc.Crawler = domain.CrawlerKind(c.Crawler)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// loadDocumentFromVault loads the seeds document from Vault KV v2.
func loadDocumentFromVault(
	ctx context.Context,
	vaultClientFactory VaultClientFactory,
	path, mount string,
) (*Document, error) {
	if vaultClientFactory == nil {
		vaultClientFactory = DefaultVaultClientFactory
	}

	client, err := vaultClientFactory(ctx)
	if err != nil {
		return nil, err
	}

	secretData, err := client.GetKVSecret(ctx, path, mount)
	if err != nil {
		return nil, fmt.Errorf("%w at path %s: %w", ErrVaultSecretNotFound, path, err)
	}

	return parseDocumentFromVault(secretData)
}

// parseDocumentFromVault parses the seeds document from Vault secret data.
// Supports two formats:
// 1. A "config" key containing a YAML (or JSON) string
// 2. Direct mapping of document fields in the secret
func parseDocumentFromVault(secretData map[string]interface{}) (*Document, error) {
	if configStr, ok := secretData["config"].(string); ok {
		return ParseDocument([]byte(configStr))
	}

	data, err := yaml.Marshal(secretData)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal secret data: %w", ErrSeedsInvalid, err)
	}
	return ParseDocument(data)
}
