// Package config provides configuration loading and management for the sheet sync server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/sheetsync-server/internal/telemetry"
)

const (
	// EnvPrefix is the prefix of environment variables that override file settings
	EnvPrefix = "SHEETSYNC"

	// DefaultAddress is the HTTP listen address used when none is configured
	DefaultAddress = ":8080"

	// DefaultSyncInterval is the poll cadence of every table
	DefaultSyncInterval = 10 * time.Second

	// DefaultAnonymousUser is the principal assigned to requests in anonymous mode
	DefaultAnonymousUser = "anonymous"

	configDirName  = "sheetsync"
	configFileName = "config.yaml"
)

const (
	// StorageTypeMemory keeps tables in process memory
	StorageTypeMemory = "memory"

	// StorageTypePostgres stores tables in PostgreSQL through pgx
	StorageTypePostgres = "postgres"

	// StorageTypeSQLite stores tables in a local SQLite file
	StorageTypeSQLite = "sqlite"

	// StorageTypeMongoDB stores tables in a MongoDB collection
	StorageTypeMongoDB = "mongodb"
)

const (
	// AuthModeAnonymous treats every request as the configured anonymous user
	AuthModeAnonymous = "anonymous"

	// AuthModeJWT requires an HS256 bearer token
	AuthModeJWT = "jwt"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks; this also cleans the path
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) && !filepath.IsLocal(realPath) {
			return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Sync      SyncConfig        `yaml:"sync"`
	Source    SourceConfig      `yaml:"source"`
	Storage   StorageConfig     `yaml:"storage"`
	Auth      AuthConfig        `yaml:"auth"`
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
	Logging   LoggingConfig     `yaml:"logging"`
}

// ServerConfig defines the HTTP listener
type ServerConfig struct {
	// Address is the listen address, e.g. ":8080"
	Address string `yaml:"address,omitempty"`

	// AllowedOrigins are host patterns accepted for WebSocket upgrades.
	// Same-origin requests are always accepted.
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}

// SyncConfig defines table polling
type SyncConfig struct {
	// Interval is the poll cadence of every table (e.g. "10s")
	Interval string `yaml:"interval,omitempty"`

	// StartupResume restarts polling for stored tables on boot. Defaults to true.
	StartupResume *bool `yaml:"startupResume,omitempty"`
}

// SourceConfig defines how spreadsheets are read
type SourceConfig struct {
	// CredentialsFile is a service account or authorized user JSON key
	CredentialsFile string `yaml:"credentialsFile,omitempty"`

	// APIKey is used when no credentials file is given, for public sheets
	APIKey string `yaml:"apiKey,omitempty"`

	// Endpoint overrides the Sheets API base URL
	Endpoint string `yaml:"endpoint,omitempty"`

	// Range is the A1 range read from the first sheet
	Range string `yaml:"range,omitempty"`

	// DateLayouts are Go time layouts tried in order for date columns
	DateLayouts []string `yaml:"dateLayouts,omitempty"`
}

// StorageConfig defines where table definitions are persisted
type StorageConfig struct {
	// Type is one of memory, postgres, sqlite or mongodb
	Type string `yaml:"type,omitempty"`

	// DSN is the connection string, or the file path for sqlite
	DSN string `yaml:"dsn,omitempty"`

	// Database is the MongoDB database name
	Database string `yaml:"database,omitempty"`

	// MaxOpenConns is the maximum number of open SQL connections
	MaxOpenConns int `yaml:"maxOpenConns,omitempty"`

	// MaxIdleConns is the maximum number of idle SQL connections
	MaxIdleConns int `yaml:"maxIdleConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a SQL connection (e.g. "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`

	// ConnectTimeout bounds the retries when opening the store at startup
	ConnectTimeout string `yaml:"connectTimeout,omitempty"`
}

// AuthConfig defines how the current user is established
type AuthConfig struct {
	// Mode is anonymous or jwt
	Mode string `yaml:"mode,omitempty"`

	// Secret is the HS256 signing key
	Secret string `yaml:"secret,omitempty"`

	// SecretFile holds the signing key, takes priority over Secret
	SecretFile string `yaml:"secretFile,omitempty"`

	// Issuer and Audience are enforced when set
	Issuer   string `yaml:"issuer,omitempty"`
	Audience string `yaml:"audience,omitempty"`

	// AnonymousUser is the principal used in anonymous mode
	AnonymousUser string `yaml:"anonymousUser,omitempty"`

	// PublicPaths bypass authentication
	PublicPaths []string `yaml:"publicPaths,omitempty"`
}

// LoggingConfig defines log output
type LoggingConfig struct {
	// Level is debug, info, warn or error
	Level string `yaml:"level,omitempty"`

	// File additionally writes logs to a rotated file
	File string `yaml:"file,omitempty"`

	// MaxSizeMB is the size at which the log file is rotated
	MaxSizeMB int `yaml:"maxSizeMB,omitempty"`

	// MaxBackups is the number of rotated files kept
	MaxBackups int `yaml:"maxBackups,omitempty"`
}

// LoadConfig loads configuration from a YAML file, or the defaults when no path
// is given, then applies SHEETSYNC_* environment overrides and validates it.
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	var config Config
	if loaderCfg.path != "" {
		data, err := os.ReadFile(loaderCfg.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	config.applyEnv(newEnvViper())

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// FindConfigFile looks for sheetsync/config.yaml in the XDG config directories
func FindConfigFile() (string, bool) {
	path, err := xdg.SearchConfigFile(filepath.Join(configDirName, configFileName))
	if err != nil {
		return "", false
	}
	return path, true
}

func newEnvViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// applyEnv overrides secrets and deployment specific settings from the environment
func (c *Config) applyEnv(v *viper.Viper) {
	overrides := map[string]*string{
		"server.address":         &c.Server.Address,
		"sync.interval":          &c.Sync.Interval,
		"source.credentialsfile": &c.Source.CredentialsFile,
		"source.apikey":          &c.Source.APIKey,
		"storage.type":           &c.Storage.Type,
		"storage.dsn":            &c.Storage.DSN,
		"auth.mode":              &c.Auth.Mode,
		"auth.secret":            &c.Auth.Secret,
	}
	for key, target := range overrides {
		if value := v.GetString(key); value != "" {
			*target = value
		}
	}
}

// GetAddress returns the listen address, using DefaultAddress if not specified
func (s *ServerConfig) GetAddress() string {
	if s.Address == "" {
		return DefaultAddress
	}
	return s.Address
}

// GetInterval returns the poll cadence, using DefaultSyncInterval if not specified
func (s *SyncConfig) GetInterval() time.Duration {
	if s.Interval == "" {
		return DefaultSyncInterval
	}
	d, err := time.ParseDuration(s.Interval)
	if err != nil || d <= 0 {
		return DefaultSyncInterval
	}
	return d
}

// ResumeOnStartup reports whether stored tables are polled again after a restart
func (s *SyncConfig) ResumeOnStartup() bool {
	return s.StartupResume == nil || *s.StartupResume
}

// GetType returns the storage type, using memory if not specified
func (s *StorageConfig) GetType() string {
	if s.Type == "" {
		return StorageTypeMemory
	}
	return s.Type
}

// GetConnMaxLifetime parses ConnMaxLifetime, returning zero when unset
func (s *StorageConfig) GetConnMaxLifetime() time.Duration {
	d, _ := time.ParseDuration(s.ConnMaxLifetime)
	return d
}

// GetConnectTimeout parses ConnectTimeout, defaulting to 30 seconds
func (s *StorageConfig) GetConnectTimeout() time.Duration {
	d, err := time.ParseDuration(s.ConnectTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// GetMode returns the auth mode, using anonymous if not specified
func (a *AuthConfig) GetMode() string {
	if a.Mode == "" {
		return AuthModeAnonymous
	}
	return a.Mode
}

// GetAnonymousUser returns the anonymous principal, using DefaultAnonymousUser if not specified
func (a *AuthConfig) GetAnonymousUser() string {
	if a.AnonymousUser == "" {
		return DefaultAnonymousUser
	}
	return a.AnonymousUser
}

// GetSecret returns the signing key, reading SecretFile when it is set.
// The file content has leading and trailing whitespace trimmed.
func (a *AuthConfig) GetSecret() (string, error) {
	if a.SecretFile != "" {
		data, err := os.ReadFile(filepath.Clean(a.SecretFile))
		if err != nil {
			return "", fmt.Errorf("failed to read secret from file %s: %w", a.SecretFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	if a.Secret != "" {
		return a.Secret, nil
	}
	return "", errors.New("no signing secret configured: set secretFile or SHEETSYNC_AUTH_SECRET")
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if c.Sync.Interval != "" {
		d, err := time.ParseDuration(c.Sync.Interval)
		if err != nil {
			return fmt.Errorf("sync.interval must be a valid duration (e.g., '10s', '1m'): %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("sync.interval must be positive, got %s", c.Sync.Interval)
		}
	}

	for _, layout := range c.Source.DateLayouts {
		if strings.TrimSpace(layout) == "" {
			return fmt.Errorf("source.dateLayouts: empty layout")
		}
	}

	if err := c.Storage.validate(); err != nil {
		return err
	}

	if err := c.Auth.validate(); err != nil {
		return err
	}

	if c.Telemetry != nil {
		if err := c.Telemetry.Validate(); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}

	return nil
}

func (s *StorageConfig) validate() error {
	switch s.GetType() {
	case StorageTypeMemory:
		return nil
	case StorageTypePostgres, StorageTypeSQLite, StorageTypeMongoDB:
		if s.DSN == "" {
			return fmt.Errorf("storage.dsn is required for storage type %s", s.GetType())
		}
	default:
		return fmt.Errorf("storage.type must be one of memory, postgres, sqlite or mongodb, got %s", s.Type)
	}

	if s.ConnMaxLifetime != "" {
		if _, err := time.ParseDuration(s.ConnMaxLifetime); err != nil {
			return fmt.Errorf("storage.connMaxLifetime must be a valid duration: %w", err)
		}
	}
	if s.ConnectTimeout != "" {
		if _, err := time.ParseDuration(s.ConnectTimeout); err != nil {
			return fmt.Errorf("storage.connectTimeout must be a valid duration: %w", err)
		}
	}
	return nil
}

func (a *AuthConfig) validate() error {
	switch a.GetMode() {
	case AuthModeAnonymous:
		return nil
	case AuthModeJWT:
		if a.Secret == "" && a.SecretFile == "" {
			return fmt.Errorf("auth.secret or auth.secretFile is required for jwt mode")
		}
		return nil
	default:
		return fmt.Errorf("auth.mode must be anonymous or jwt, got %s", a.Mode)
	}
}
