// Package config loads and validates the MCF server configuration.
//
// Settings are layered with Viper: built-in defaults, then an optional YAML
// file, then environment variables. Variables carry the MCF_ prefix and map
// dots to underscores, so MCF_DATABASE_HOST overrides database.host. The same
// binary therefore runs from a config.yaml during development and from pure
// environment variables in a container.
//
// TOKEN_ENCRYPTION_KEY is read without the prefix; secret injectors such as
// Vault agents hand it over under that generic name.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root of the server configuration tree.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Tenancy   TenancyConfig   `mapstructure:"tenancy"`
	Retention RetentionConfig `mapstructure:"retention"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Audit     AuditConfig     `mapstructure:"audit"`
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	PublicURL    string        `mapstructure:"public_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetAddress returns the listen address as host:port.
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GetPublicURL returns the externally visible URL used in OAuth callbacks and
// redirects. Behind a reverse proxy the listen address in base_url differs
// from the URL registered with the identity provider; public_url carries the
// latter and wins when set.
func (s *ServerConfig) GetPublicURL() string {
	if s.PublicURL != "" {
		return s.PublicURL
	}
	return s.BaseURL
}

func (s *ServerConfig) validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", s.Port)
	}
	if s.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	return nil
}

// DatabaseConfig describes the PostgreSQL connection and pool sizing.
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// GetDSN builds the lib/pq connection string.
func (d *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

func (d *DatabaseConfig) validate() error {
	switch {
	case d.Host == "":
		return fmt.Errorf("database.host is required")
	case d.Name == "":
		return fmt.Errorf("database.name is required")
	case d.User == "":
		return fmt.Errorf("database.user is required")
	}
	return nil
}

// StorageConfig selects the artifact blob backend and carries per-backend
// settings. Only the section matching DefaultBackend is validated.
type StorageConfig struct {
	DefaultBackend string             `mapstructure:"default_backend"`
	Azure          AzureStorageConfig `mapstructure:"azure"`
	S3             S3StorageConfig    `mapstructure:"s3"`
	GCS            GCSStorageConfig   `mapstructure:"gcs"`
	Local          LocalStorageConfig `mapstructure:"local"`
}

func (s *StorageConfig) validate() error {
	switch s.DefaultBackend {
	case "azure":
		switch {
		case s.Azure.AccountName == "":
			return fmt.Errorf("storage.azure.account_name is required when using Azure backend")
		case s.Azure.AccountKey == "":
			return fmt.Errorf("storage.azure.account_key is required when using Azure backend")
		case s.Azure.ContainerName == "":
			return fmt.Errorf("storage.azure.container_name is required when using Azure backend")
		}
	case "s3":
		if s.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when using S3 backend")
		}
		if s.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when using S3 backend")
		}
	case "gcs":
		if s.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required when using GCS backend")
		}
	case "local":
		if s.Local.BasePath == "" {
			return fmt.Errorf("storage.local.base_path is required when using local backend")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be azure, s3, gcs, or local)", s.DefaultBackend)
	}
	return nil
}

// AzureStorageConfig configures the Azure Blob backend. CDNURL, when set,
// short-circuits SAS URL generation with a public CDN prefix.
type AzureStorageConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountKey    string `mapstructure:"account_key"`
	ContainerName string `mapstructure:"container_name"`
	CDNURL        string `mapstructure:"cdn_url"`
}

// S3StorageConfig configures the S3 backend. Endpoint supports
// S3-compatible services such as MinIO. AuthMethod is one of "default"
// (credential chain), "static" (explicit keys, also the fallback when the
// field is empty but keys are set), "oidc" (web identity token file plus
// role ARN), or "assume_role" (STS AssumeRole, optionally with ExternalID
// for cross-account access).
type S3StorageConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`

	AuthMethod      string `mapstructure:"auth_method"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	RoleARN         string `mapstructure:"role_arn"`
	RoleSessionName string `mapstructure:"role_session_name"`
	ExternalID      string `mapstructure:"external_id"`

	WebIdentityTokenFile string `mapstructure:"web_identity_token_file"`
}

// GCSStorageConfig configures the Google Cloud Storage backend. AuthMethod is
// "default" (Application Default Credentials), "service_account" (key via
// CredentialsFile or inline CredentialsJSON), or "workload_identity".
// Endpoint points at an emulator when set.
type GCSStorageConfig struct {
	Bucket    string `mapstructure:"bucket"`
	ProjectID string `mapstructure:"project_id"`

	AuthMethod      string `mapstructure:"auth_method"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`

	Endpoint string `mapstructure:"endpoint"`
}

// LocalStorageConfig configures filesystem blob storage, the development
// default. ServeDirectly exposes blobs through the server's own file route.
type LocalStorageConfig struct {
	BasePath      string `mapstructure:"base_path"`
	ServeDirectly bool   `mapstructure:"serve_directly"`
}

// AuthConfig governs session tokens and the OIDC login flow.
type AuthConfig struct {
	// JWTSecret signs the session tokens the server issues after login.
	JWTSecret string `mapstructure:"jwt_secret"`
	// SessionTTL bounds how long an issued session token stays valid.
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	OIDC       OIDCConfig    `mapstructure:"oidc"`
	// TokenEncryptionKey is the base64 32-byte master key encrypting
	// incoming-webhook validation tokens at rest. Empty disables encryption.
	TokenEncryptionKey string `mapstructure:"token_encryption_key"`
}

// OIDCConfig configures the upstream identity provider.
type OIDCConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	IssuerURL    string   `mapstructure:"issuer_url"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	Scopes       []string `mapstructure:"scopes"`
	// AdminGroup is an optional IdP group claim value whose members are
	// provisioned as system administrators on login.
	AdminGroup string `mapstructure:"admin_group"`
	// GroupClaimName is the JWT claim that carries the user's groups.
	GroupClaimName string `mapstructure:"group_claim_name"`
}

func (o *OIDCConfig) validate() error {
	if !o.Enabled {
		return nil
	}
	switch {
	case o.IssuerURL == "":
		return fmt.Errorf("auth.oidc.issuer_url is required when OIDC is enabled")
	case o.ClientID == "":
		return fmt.Errorf("auth.oidc.client_id is required when OIDC is enabled")
	case o.ClientSecret == "":
		return fmt.Errorf("auth.oidc.client_secret is required when OIDC is enabled")
	}
	return nil
}

// TenancyConfig holds the multi-tenant defaults.
type TenancyConfig struct {
	// DefaultOrganization is the organization every new user is enrolled into
	// with read access. It cannot be deleted, renamed or archived.
	DefaultOrganization string `mapstructure:"default_organization"`
	// AllowPublicSignup lets unauthenticated OIDC logins provision users.
	AllowPublicSignup bool `mapstructure:"allow_public_signup"`
}

// RetentionConfig governs the archive reaper job.
type RetentionConfig struct {
	// Enabled toggles the reaper; disabled means archived documents live forever.
	Enabled bool `mapstructure:"enabled"`
	// ArchiveMaxAge is how long a document may stay archived before the reaper
	// hard-deletes it (cascading like a manual delete).
	ArchiveMaxAge time.Duration `mapstructure:"archive_max_age"`
	// SweepInterval is how often the reaper scans for expired documents.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

func (r *RetentionConfig) validate() error {
	if !r.Enabled {
		return nil
	}
	if r.ArchiveMaxAge <= 0 {
		return fmt.Errorf("retention.archive_max_age must be positive when retention is enabled")
	}
	if r.SweepInterval <= 0 {
		return fmt.Errorf("retention.sweep_interval must be positive when retention is enabled")
	}
	return nil
}

// SecurityConfig groups CORS, rate limiting and TLS settings.
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig lists the origins and methods the API accepts cross-origin.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig configures per-client request limiting. When RedisURL is
// set the limiter state is shared across replicas via Redis; otherwise each
// replica enforces the limit independently in process.
type RateLimitingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	Burst             int    `mapstructure:"burst"`
	RedisURL          string `mapstructure:"redis_url"`
}

// TLSConfig enables HTTPS on the main listener.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

func (t *TLSConfig) validate() error {
	if !t.Enabled {
		return nil
	}
	if t.CertFile == "" {
		return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
	}
	if t.KeyFile == "" {
		return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
	}
	return nil
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

func (l *LoggingConfig) validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", l.Level)
}

// TelemetryConfig controls observability features.
type TelemetryConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig exposes Prometheus metrics on a dedicated port.
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// AuditConfig controls audit record emission and shipping.
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// LogReadOperations includes find and get operations in the audit
	// stream. Off by default; reads are high volume and low signal.
	LogReadOperations bool                 `mapstructure:"log_read_operations"`
	Shippers          []AuditShipperConfig `mapstructure:"shippers"`
}

// AuditShipperConfig selects one audit destination.
type AuditShipperConfig struct {
	Enabled bool                `mapstructure:"enabled"`
	Type    string              `mapstructure:"type"`
	Webhook *AuditWebhookConfig `mapstructure:"webhook"`
	File    *AuditFileConfig    `mapstructure:"file"`
}

// AuditWebhookConfig configures HTTP audit delivery. Durations are plain
// second counts to keep the YAML simple.
type AuditWebhookConfig struct {
	URL           string            `mapstructure:"url"`
	Headers       map[string]string `mapstructure:"headers"`
	TimeoutSecs   int               `mapstructure:"timeout_secs"`
	BatchSize     int               `mapstructure:"batch_size"`
	FlushInterval int               `mapstructure:"flush_interval_secs"`
}

// AuditFileConfig configures file audit delivery with size rotation.
type AuditFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// envKeys lists every config key bound to an environment variable. Viper's
// AutomaticEnv does not reach nested struct fields during Unmarshal, so each
// key is bound explicitly.
var envKeys = []string{
	"server.host",
	"server.port",
	"server.base_url",
	"server.public_url",
	"server.read_timeout",
	"server.write_timeout",

	"database.host",
	"database.port",
	"database.name",
	"database.user",
	"database.password",
	"database.ssl_mode",
	"database.max_connections",
	"database.min_idle_connections",

	"storage.default_backend",
	"storage.azure.account_name",
	"storage.azure.account_key",
	"storage.azure.container_name",
	"storage.azure.cdn_url",
	"storage.s3.endpoint",
	"storage.s3.region",
	"storage.s3.bucket",
	"storage.s3.auth_method",
	"storage.s3.access_key_id",
	"storage.s3.secret_access_key",
	"storage.s3.role_arn",
	"storage.s3.role_session_name",
	"storage.s3.external_id",
	"storage.s3.web_identity_token_file",
	"storage.gcs.bucket",
	"storage.gcs.project_id",
	"storage.gcs.auth_method",
	"storage.gcs.credentials_file",
	"storage.gcs.credentials_json",
	"storage.gcs.endpoint",
	"storage.local.base_path",
	"storage.local.serve_directly",

	"auth.jwt_secret",
	"auth.session_ttl",
	"auth.token_encryption_key",
	"auth.oidc.enabled",
	"auth.oidc.issuer_url",
	"auth.oidc.client_id",
	"auth.oidc.client_secret",
	"auth.oidc.redirect_url",
	"auth.oidc.scopes",
	"auth.oidc.admin_group",
	"auth.oidc.group_claim_name",

	"tenancy.default_organization",
	"tenancy.allow_public_signup",

	"retention.enabled",
	"retention.archive_max_age",
	"retention.sweep_interval",

	"security.cors.allowed_origins",
	"security.cors.allowed_methods",
	"security.rate_limiting.enabled",
	"security.rate_limiting.requests_per_minute",
	"security.rate_limiting.burst",
	"security.rate_limiting.redis_url",
	"security.tls.enabled",
	"security.tls.cert_file",
	"security.tls.key_file",

	"logging.level",
	"logging.format",
	"logging.output",

	"telemetry.enabled",
	"telemetry.service_name",
	"telemetry.metrics.enabled",
	"telemetry.metrics.prometheus_port",
}

// Load reads configuration from configPath (or the default search path when
// empty), overlays environment variables, expands ${VAR} references in
// secret fields and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/mcf")
	}

	// A missing file is fine; defaults plus environment carry the config.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("MCF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Secret fields may hold ${VAR} references to keep the YAML committable.
	cfg.Database.Password = os.ExpandEnv(cfg.Database.Password)
	cfg.Storage.Azure.AccountKey = os.ExpandEnv(cfg.Storage.Azure.AccountKey)
	cfg.Storage.S3.AccessKeyID = os.ExpandEnv(cfg.Storage.S3.AccessKeyID)
	cfg.Storage.S3.SecretAccessKey = os.ExpandEnv(cfg.Storage.S3.SecretAccessKey)
	cfg.Auth.JWTSecret = os.ExpandEnv(cfg.Auth.JWTSecret)
	cfg.Auth.OIDC.ClientSecret = os.ExpandEnv(cfg.Auth.OIDC.ClientSecret)
	if cfg.Auth.TokenEncryptionKey == "" {
		cfg.Auth.TokenEncryptionKey = os.Getenv("TOKEN_ENCRYPTION_KEY")
	} else {
		cfg.Auth.TokenEncryptionKey = os.ExpandEnv(cfg.Auth.TokenEncryptionKey)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "mcf")
	v.SetDefault("database.user", "mcf")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	v.SetDefault("storage.default_backend", "local")
	v.SetDefault("storage.local.base_path", "./storage")
	v.SetDefault("storage.local.serve_directly", true)

	v.SetDefault("auth.session_ttl", "12h")
	v.SetDefault("auth.oidc.enabled", false)
	v.SetDefault("auth.oidc.scopes", []string{"openid", "email", "profile"})
	v.SetDefault("auth.oidc.group_claim_name", "groups")

	v.SetDefault("tenancy.default_organization", "default")
	v.SetDefault("tenancy.allow_public_signup", false)

	v.SetDefault("retention.enabled", false)
	v.SetDefault("retention.archive_max_age", "2160h") // 90 days
	v.SetDefault("retention.sweep_interval", "1h")

	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 60)
	v.SetDefault("security.rate_limiting.burst", 10)
	v.SetDefault("security.tls.enabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "mcf")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
}

// Validate checks the loaded configuration section by section and returns the
// first problem found.
func (c *Config) Validate() error {
	if err := c.Server.validate(); err != nil {
		return err
	}
	if err := c.Database.validate(); err != nil {
		return err
	}
	if c.Tenancy.DefaultOrganization == "" {
		return fmt.Errorf("tenancy.default_organization is required")
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}
	if err := c.Auth.OIDC.validate(); err != nil {
		return err
	}
	if err := c.Retention.validate(); err != nil {
		return err
	}
	if err := c.Security.TLS.validate(); err != nil {
		return err
	}
	return c.Logging.validate()
}
