package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Billing   BillingConfig
	Upstream  UpstreamConfig
	Scheduler SchedulerConfig
	Telemetry TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings. Redis backs the distributed
// pre-invoice locks; when disabled the in-process lock manager is used.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds JWT settings
type JWTConfig struct {
	Secret          string
	Issuer          string
	TokenExpiration time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	MaxHeaderBytes   int
	CORSAllowOrigins []string
	CORSAllowMethods []string
	CORSAllowHeaders []string
	TrustedProxies   []string
}

// BillingConfig holds the reconciliation policy knobs
type BillingConfig struct {
	TolerancePercent   float64 // default discrepancy tolerance, percent
	TVARatePercent     float64
	PaymentTermsDays   int
	ExportMaxAttempts  int
	ExportTarget       string // SAP, ORACLE, DYNAMICS, ODOO, CUSTOM
	ExportTimeout      time.Duration
	GridLookupTimeout  time.Duration
	LateThresholdHours int
	ArchiveAfterDays   int
}

// UpstreamConfig holds the endpoints of the services the engine reads from
type UpstreamConfig struct {
	OrdersBaseURL     string
	ComplianceBaseURL string
	ERPBaseURL        string
	RequestTimeout    time.Duration
}

// SchedulerConfig holds the scheduled-run configuration
type SchedulerConfig struct {
	Enabled             bool
	MonthlyRunDay       int // day of month the aggregation run fires
	DailyCheckInterval  time.Duration
	ExportBatchSize     int
	ExportRetryInterval time.Duration
	OrgIDs              []string // organizations the monthly run covers
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // 0.0-1.0, 1.0 = 100%
	ServiceName       string
	Insecure          bool // non-TLS connection (development only)
	DBTraceEnabled    bool
}

// Load loads configuration from TOML file and environment variables.
// Priority (highest to lowest):
// 1. Environment variables with FREIGHTBILL_ prefix (e.g., FREIGHTBILL_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("FREIGHTBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:          v.GetString("jwt.secret"),
			Issuer:          v.GetString("jwt.issuer"),
			TokenExpiration: v.GetDuration("jwt.token_expiration"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods: v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders: v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:   v.GetStringSlice("http.trusted_proxies"),
		},
		Billing: BillingConfig{
			TolerancePercent:   v.GetFloat64("billing.tolerance_percent"),
			TVARatePercent:     v.GetFloat64("billing.tva_rate_percent"),
			PaymentTermsDays:   v.GetInt("billing.payment_terms_days"),
			ExportMaxAttempts:  v.GetInt("billing.export_max_attempts"),
			ExportTarget:       v.GetString("billing.export_target"),
			ExportTimeout:      v.GetDuration("billing.export_timeout"),
			GridLookupTimeout:  v.GetDuration("billing.grid_lookup_timeout"),
			LateThresholdHours: v.GetInt("billing.late_threshold_hours"),
			ArchiveAfterDays:   v.GetInt("billing.archive_after_days"),
		},
		Upstream: UpstreamConfig{
			OrdersBaseURL:     v.GetString("upstream.orders_base_url"),
			ComplianceBaseURL: v.GetString("upstream.compliance_base_url"),
			ERPBaseURL:        v.GetString("upstream.erp_base_url"),
			RequestTimeout:    v.GetDuration("upstream.request_timeout"),
		},
		Scheduler: SchedulerConfig{
			Enabled:             v.GetBool("scheduler.enabled"),
			MonthlyRunDay:       v.GetInt("scheduler.monthly_run_day"),
			DailyCheckInterval:  v.GetDuration("scheduler.daily_check_interval"),
			ExportBatchSize:     v.GetInt("scheduler.export_batch_size"),
			ExportRetryInterval: v.GetDuration("scheduler.export_retry_interval"),
			OrgIDs:              v.GetStringSlice("scheduler.org_ids"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "freightbill-backend"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "freightbill"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "freightbill"
	}
	if cfg.JWT.TokenExpiration == 0 {
		cfg.JWT.TokenExpiration = 24 * time.Hour
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 30 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20
	}
	if len(cfg.HTTP.CORSAllowOrigins) == 0 {
		cfg.HTTP.CORSAllowOrigins = []string{"http://localhost:3000"}
	}
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	}
	if len(cfg.HTTP.CORSAllowHeaders) == 0 {
		cfg.HTTP.CORSAllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"}
	}
	if cfg.Billing.TolerancePercent == 0 {
		cfg.Billing.TolerancePercent = 2
	}
	if cfg.Billing.TVARatePercent == 0 {
		cfg.Billing.TVARatePercent = 20
	}
	if cfg.Billing.PaymentTermsDays == 0 {
		cfg.Billing.PaymentTermsDays = 30
	}
	if cfg.Billing.ExportMaxAttempts == 0 {
		cfg.Billing.ExportMaxAttempts = 5
	}
	if cfg.Billing.ExportTarget == "" {
		cfg.Billing.ExportTarget = "SAP"
	}
	if cfg.Billing.ExportTimeout == 0 {
		cfg.Billing.ExportTimeout = 30 * time.Second
	}
	if cfg.Billing.GridLookupTimeout == 0 {
		cfg.Billing.GridLookupTimeout = 5 * time.Second
	}
	if cfg.Billing.LateThresholdHours == 0 {
		cfg.Billing.LateThresholdHours = 24
	}
	if cfg.Billing.ArchiveAfterDays == 0 {
		cfg.Billing.ArchiveAfterDays = 7
	}
	if cfg.Upstream.RequestTimeout == 0 {
		cfg.Upstream.RequestTimeout = 10 * time.Second
	}
	if cfg.Scheduler.MonthlyRunDay == 0 {
		cfg.Scheduler.MonthlyRunDay = 1
	}
	if cfg.Scheduler.DailyCheckInterval == 0 {
		cfg.Scheduler.DailyCheckInterval = time.Hour
	}
	if cfg.Scheduler.ExportBatchSize == 0 {
		cfg.Scheduler.ExportBatchSize = 50
	}
	if cfg.Scheduler.ExportRetryInterval == 0 {
		cfg.Scheduler.ExportRetryInterval = 15 * time.Minute
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
}

// validate rejects configurations that cannot run safely
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Billing.TolerancePercent < 0 || c.Billing.TolerancePercent > 100 {
		return fmt.Errorf("billing.tolerance_percent must be between 0 and 100, got %f", c.Billing.TolerancePercent)
	}
	if c.Billing.ExportMaxAttempts < 1 {
		return fmt.Errorf("billing.export_max_attempts must be at least 1")
	}
	if c.Billing.PaymentTermsDays < 0 {
		return fmt.Errorf("billing.payment_terms_days cannot be negative")
	}
	switch c.Billing.ExportTarget {
	case "SAP", "ORACLE", "DYNAMICS", "ODOO", "CUSTOM":
	default:
		return fmt.Errorf("billing.export_target %q is not a supported ERP system", c.Billing.ExportTarget)
	}

	if c.App.Env == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is required in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// RedisAddr returns the host:port address of the Redis server
func (r *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
