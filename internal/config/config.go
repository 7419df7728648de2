// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Server      ServerConfig      `mapstructure:"server"`
	Audit       AuditConfig       `mapstructure:"audit"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Headless    HeadlessConfig    `mapstructure:"headless"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Cache       CacheConfig       `mapstructure:"cache"`
	DB          DBConfig          `mapstructure:"db"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Mail        MailConfig        `mapstructure:"mail"`
	PDF         PDFConfig         `mapstructure:"pdf"`
	Admin       AdminConfig       `mapstructure:"admin"`
	Publisher   PublisherConfig   `mapstructure:"publisher"`
	SecurityLog SecurityLogConfig `mapstructure:"security_log"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// AppConfig holds service identity.
type AppConfig struct {
	Development bool   `mapstructure:"development"`
	SiteURL     string `mapstructure:"site_url"`
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// TrustProxyHeaders makes X-Forwarded-For and X-Real-IP authoritative for the client IP.
	TrustProxyHeaders bool `mapstructure:"trust_proxy_headers"`
}

// AuditConfig governs how audits run.
type AuditConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	ParallelProbes bool          `mapstructure:"parallel_probes"`
	UserAgent      string        `mapstructure:"user_agent"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	// RetentionDays is the age after which the periodic cleanup deletes audits.
	RetentionDays   int           `mapstructure:"retention_days"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// WindowConfig is one fixed-window limit.
type WindowConfig struct {
	Window time.Duration `mapstructure:"window"`
	Max    int           `mapstructure:"max"`
}

// RateLimitConfig holds the inbound limiters.
type RateLimitConfig struct {
	Audit WindowConfig `mapstructure:"audit"`
	Email WindowConfig `mapstructure:"email"`
}

// HeadlessConfig configures the Chrome tab pool.
type HeadlessConfig struct {
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	ExecPath    string        `mapstructure:"exec_path"`
	NoSandbox   bool          `mapstructure:"no_sandbox"`
}

// HTTPConfig configures outbound fetches made by the probes.
type HTTPConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxBodyBytes int           `mapstructure:"max_body_bytes"`
	PerHostRPS   float64       `mapstructure:"per_host_rps"`
	PerHostBurst int           `mapstructure:"per_host_burst"`
}

// CacheConfig selects the cache backend.
type CacheConfig struct {
	Backend string `mapstructure:"backend"`
	Table   string `mapstructure:"table"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig points at the Redis cache.
type RedisConfig struct {
	URL       string `mapstructure:"url"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// MailConfig configures the Brevo client.
type MailConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	APIKey      string        `mapstructure:"api_key"`
	APIURL      string        `mapstructure:"api_url"`
	SenderEmail string        `mapstructure:"sender_email"`
	SenderName  string        `mapstructure:"sender_name"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// PDFConfig configures report printing and archiving.
type PDFConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxBytes int           `mapstructure:"max_bytes"`
	Format   string        `mapstructure:"format"`
	Archive  string        `mapstructure:"archive"`
	Bucket   string        `mapstructure:"bucket"`
	Prefix   string        `mapstructure:"prefix"`
	BaseDir  string        `mapstructure:"base_dir"`
}

// AdminConfig holds admin credentials. Either may be empty; both empty disables admin routes.
type AdminConfig struct {
	Token     string `mapstructure:"token"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// PublisherConfig selects where audit events go.
type PublisherConfig struct {
	Backend   string   `mapstructure:"backend"`
	ProjectID string   `mapstructure:"project_id"`
	Topic     string   `mapstructure:"topic"`
	Brokers   []string `mapstructure:"brokers"`
}

// SecurityLogConfig sets the security event destination.
type SecurityLogConfig struct {
	Path string `mapstructure:"path"`
}

// TelemetryConfig toggles OpenTelemetry.
type TelemetryConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

var (
	cacheBackends     = []string{"memory", "postgres", "redis"}
	archiveBackends   = []string{"none", "memory", "local", "gcs"}
	publisherBackends = []string{"none", "memory", "pubsub", "kafka"}
	pdfFormats        = []string{"A4", "Letter"}
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITEAUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.development", false)
	v.SetDefault("app.site_url", "")
	v.SetDefault("app.service_name", "siteaudit")
	v.SetDefault("app.version", "dev")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "240s")
	v.SetDefault("server.trust_proxy_headers", true)
	v.SetDefault("audit.timeout", "120s")
	v.SetDefault("audit.parallel_probes", true)
	v.SetDefault("audit.user_agent", "Mozilla/5.0 (compatible; SiteAudit/1.0)")
	v.SetDefault("audit.cache_ttl", "24h")
	v.SetDefault("audit.retention_days", 90)
	v.SetDefault("audit.cleanup_interval", "24h")
	v.SetDefault("rate_limit.audit.window", "60s")
	v.SetDefault("rate_limit.audit.max", 10)
	v.SetDefault("rate_limit.email.window", "5m")
	v.SetDefault("rate_limit.email.max", 3)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout", "30s")
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("headless.no_sandbox", false)
	v.SetDefault("http.timeout", "15s")
	v.SetDefault("http.max_body_bytes", 5<<20)
	v.SetDefault("http.per_host_rps", 2.0)
	v.SetDefault("http.per_host_burst", 4)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.table", "audit_cache")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("db.auto_migrate", false)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.key_prefix", "siteaudit:")
	v.SetDefault("mail.enabled", false)
	v.SetDefault("mail.api_key", "")
	v.SetDefault("mail.api_url", "https://api.brevo.com/v3/smtp/email")
	v.SetDefault("mail.sender_email", "")
	v.SetDefault("mail.sender_name", "Site Audit")
	v.SetDefault("mail.timeout", "30s")
	v.SetDefault("pdf.timeout", "60s")
	v.SetDefault("pdf.max_bytes", 10<<20)
	v.SetDefault("pdf.format", "A4")
	v.SetDefault("pdf.archive", "none")
	v.SetDefault("pdf.bucket", "")
	v.SetDefault("pdf.prefix", "reports")
	v.SetDefault("pdf.base_dir", "data/reports")
	v.SetDefault("admin.token", "")
	v.SetDefault("admin.jwt_secret", "")
	v.SetDefault("publisher.backend", "none")
	v.SetDefault("publisher.project_id", "")
	v.SetDefault("publisher.topic", "audit-finished")
	v.SetDefault("publisher.brokers", []string{})
	v.SetDefault("security_log.path", "")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.project_id", "")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Audit.Timeout <= 0 {
		return fmt.Errorf("audit.timeout must be > 0")
	}
	if c.Audit.CacheTTL <= 0 {
		return fmt.Errorf("audit.cache_ttl must be > 0")
	}
	if c.Audit.RetentionDays <= 0 {
		return fmt.Errorf("audit.retention_days must be > 0")
	}
	if c.RateLimit.Audit.Window <= 0 || c.RateLimit.Email.Window <= 0 {
		return fmt.Errorf("rate_limit windows must be > 0")
	}
	if c.RateLimit.Audit.Max <= 0 {
		return fmt.Errorf("rate_limit.audit.max must be > 0")
	}
	if c.RateLimit.Email.Max <= 0 {
		return fmt.Errorf("rate_limit.email.max must be > 0")
	}
	if c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if !slices.Contains(cacheBackends, c.Cache.Backend) {
		return fmt.Errorf("cache.backend must be one of %s", strings.Join(cacheBackends, ", "))
	}
	if c.Cache.Backend == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required when cache.backend is postgres")
	}
	if c.Cache.Backend == "redis" && c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when cache.backend is redis")
	}
	if c.Mail.Enabled && (c.Mail.APIKey == "" || c.Mail.SenderEmail == "") {
		return fmt.Errorf("mail.api_key and mail.sender_email are required when mail is enabled")
	}
	if c.PDF.MaxBytes <= 0 {
		return fmt.Errorf("pdf.max_bytes must be > 0")
	}
	if c.PDF.Timeout <= 0 {
		return fmt.Errorf("pdf.timeout must be > 0")
	}
	if !slices.Contains(pdfFormats, c.PDF.Format) {
		return fmt.Errorf("pdf.format must be one of %s", strings.Join(pdfFormats, ", "))
	}
	if !slices.Contains(archiveBackends, c.PDF.Archive) {
		return fmt.Errorf("pdf.archive must be one of %s", strings.Join(archiveBackends, ", "))
	}
	if c.PDF.Archive == "gcs" && c.PDF.Bucket == "" {
		return fmt.Errorf("pdf.bucket is required when pdf.archive is gcs")
	}
	if !slices.Contains(publisherBackends, c.Publisher.Backend) {
		return fmt.Errorf("publisher.backend must be one of %s", strings.Join(publisherBackends, ", "))
	}
	if c.Publisher.Backend == "pubsub" && (c.Publisher.ProjectID == "" || c.Publisher.Topic == "") {
		return fmt.Errorf("publisher.project_id and publisher.topic are required for pubsub")
	}
	if c.Publisher.Backend == "kafka" && (len(c.Publisher.Brokers) == 0 || c.Publisher.Topic == "") {
		return fmt.Errorf("publisher.brokers and publisher.topic are required for kafka")
	}
	return nil
}

// DevelopmentErrors reports whether error responses may carry internal details.
func (c Config) DevelopmentErrors() bool {
	return c.App.Development
}

// AdminEnabled reports whether admin routes accept any credential.
func (c Config) AdminEnabled() bool {
	return c.Admin.Token != "" || c.Admin.JWTSecret != ""
}
