// pkg/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure for the dispatch core.
type Config struct {
	App       AppConfig       `koanf:"app"`
	GRPC      GRPCConfig      `koanf:"grpc"`
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Tracing   TracingConfig   `koanf:"tracing"`
	Services  ServicesConfig  `koanf:"services"`
	Database  DatabaseConfig  `koanf:"database"`
	Cache     CacheConfig     `koanf:"cache"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Audit     AuditConfig     `koanf:"audit"`
	Dispatch  DispatchConfig  `koanf:"dispatch"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"` // development, staging, production
	Debug       bool   `koanf:"debug"`
}

// GRPCConfig configures the health/reflection-only gRPC listener. The core
// registers no business RPCs; this is a liveness/readiness probe only.
type GRPCConfig struct {
	Port              int             `koanf:"port"`
	MaxRecvMsgSize    int             `koanf:"max_recv_msg_size"`
	MaxSendMsgSize    int             `koanf:"max_send_msg_size"`
	MaxConcurrentConn int             `koanf:"max_concurrent_conn"`
	KeepAlive         KeepAliveConfig `koanf:"keepalive"`
}

// KeepAliveConfig holds gRPC keepalive parameters.
type KeepAliveConfig struct {
	MaxConnectionIdle     time.Duration `koanf:"max_connection_idle"`
	MaxConnectionAge      time.Duration `koanf:"max_connection_age"`
	MaxConnectionAgeGrace time.Duration `koanf:"max_connection_age_grace"`
	Time                  time.Duration `koanf:"time"`
	Timeout               time.Duration `koanf:"timeout"`
}

// LogConfig configures the slog-based logger.
type LogConfig struct {
	Level      string `koanf:"level"`       // debug, info, warn, error
	Format     string `koanf:"format"`      // json, text
	Output     string `koanf:"output"`      // stdout, stderr, file
	FilePath   string `koanf:"file_path"`
	MaxSize    int    `koanf:"max_size"`    // MB
	MaxBackups int    `koanf:"max_backups"` // rotated file count
	MaxAge     int    `koanf:"max_age"`     // days
	Compress   bool   `koanf:"compress"`
}

// MetricsConfig configures the optional Prometheus series. The scrape
// endpoint is an external collaborator (out of core scope); when disabled no
// HTTP listener is started and no engine is affected either way.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Port      int    `koanf:"port"`
	Path      string `koanf:"path"`
	Namespace string `koanf:"namespace"`
	Subsystem string `koanf:"subsystem"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// ServicesConfig holds addresses for the external collaborators the core
// calls over narrow HTTP contracts.
type ServicesConfig struct {
	RoutingEngine ServiceEndpoint `koanf:"routing_engine"`
	CVRPSolver    ServiceEndpoint `koanf:"cvrp_solver"`
}

// ServiceEndpoint configures a single HTTP collaborator.
type ServiceEndpoint struct {
	BaseURL      string        `koanf:"base_url"`
	Timeout      time.Duration `koanf:"timeout"`
	MaxRetries   int           `koanf:"max_retries"`
	RetryBackoff time.Duration `koanf:"retry_backoff"`
}

// DatabaseConfig holds connection settings for the relational store.
type DatabaseConfig struct {
	Driver          string        `koanf:"driver"` // postgres
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Database        string        `koanf:"database"`
	Username        string        `koanf:"username"`
	Password        string        `koanf:"password"`
	SSLMode         string        `koanf:"ssl_mode"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
	MigrationsPath  string        `koanf:"migrations_path"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// DSN returns a libpq-style connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.Username, d.Password, d.Database, d.SSLMode,
	)
}

// CacheConfig configures the cache backing the Matrix Cache. The trigger
// gate's cooldowns do not use it; they are held in in-memory limiters.
type CacheConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Driver     string        `koanf:"driver"` // redis, memory
	Host       string        `koanf:"host"`
	Port       int           `koanf:"port"`
	Password   string        `koanf:"password"`
	DB         int           `koanf:"db"`
	DefaultTTL time.Duration `koanf:"default_ttl"`
	MaxEntries int           `koanf:"max_entries"`
}

// Address returns the host:port pair for the cache backend.
func (c CacheConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RateLimitConfig is loaded with the rest of the configuration but no
// package reads it; the health listener applies no rate limit.
type RateLimitConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Requests        int           `koanf:"requests"`
	Window          time.Duration `koanf:"window"`
	Strategy        string        `koanf:"strategy"`
	Backend         string        `koanf:"backend"`
	BurstSize       int           `koanf:"burst_size"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
	RedisAddr       string        `koanf:"redis_addr"`
}

// AuditConfig configures the reassignment/trigger event ledger.
type AuditConfig struct {
	Enabled     bool          `koanf:"enabled"`
	Backend     string        `koanf:"backend"` // stdout, file
	FilePath    string        `koanf:"file_path"`
	BufferSize  int           `koanf:"buffer_size"`
	FlushPeriod time.Duration `koanf:"flush_period"`
}

// DispatchConfig holds the domain-specific tunables the dispatch core's
// engines need at runtime, plus two settings that are made configurable
// here instead of hard-coded.
type DispatchConfig struct {
	BatchingInterval       time.Duration `koanf:"batching_interval"`
	MaxBatchDistanceM      float64       `koanf:"max_batch_distance_m"`
	MinOrdersPerBatch      int           `koanf:"min_orders_per_batch"`
	MaxOrdersPerBatch      int           `koanf:"max_orders_per_batch"`
	MaxBatchSLASpread      time.Duration `koanf:"max_batch_sla_spread"`
	CVRPEnabled            bool          `koanf:"cvrp_enabled"`
	CVRPMinDeliveries      int           `koanf:"cvrp_min_deliveries"`
	DefaultSLAMinutes      int           `koanf:"default_sla_minutes"`
	MaxReassignAttempts    int           `koanf:"max_reassign_attempts"`
	ReassignMaxDistanceKM  float64       `koanf:"reassign_max_distance_km"`
	GlobalTriggerCooldown  time.Duration `koanf:"global_trigger_cooldown"`
	PerAgentTriggerCooldown time.Duration `koanf:"per_agent_trigger_cooldown"`
	ErrorRateThreshold     float64       `koanf:"error_rate_threshold"`
	CriticalErrorThreshold int           `koanf:"critical_error_threshold"`
	ConsecutiveErrorThreshold int        `koanf:"consecutive_error_threshold"`
	MatrixCacheTTL         time.Duration `koanf:"matrix_cache_ttl"`

	// ReturnDistanceKM is the "needsReturn" threshold
	// (BUSY -> RETURNING vs BUSY -> AVAILABLE on delivery completion),
	// configurable rather than hard-coded.
	ReturnDistanceKM float64 `koanf:"return_distance_km"`

	// ExpressServiceClasses lists the service classes treated as
	// "fast-lane" / express-eligible for batching candidate selection,
	// as an explicit, parameterized list rather than a hard-coded heuristic.
	ExpressServiceClasses []string `koanf:"express_service_classes"`
}

// Validate checks the configuration for internally consistent values.
func (c *Config) Validate() error {
	var errs []string

	if c.App.Name == "" {
		errs = append(errs, "app.name is required")
	}

	if c.GRPC.Port <= 0 || c.GRPC.Port > 65535 {
		errs = append(errs, fmt.Sprintf("grpc.port must be between 1 and 65535, got %d", c.GRPC.Port))
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level must be one of: debug, info, warn, error, got %s", c.Log.Level))
	}

	if c.Dispatch.MinOrdersPerBatch < 1 {
		errs = append(errs, "dispatch.min_orders_per_batch must be >= 1")
	}
	if c.Dispatch.MaxOrdersPerBatch < c.Dispatch.MinOrdersPerBatch {
		errs = append(errs, "dispatch.max_orders_per_batch must be >= min_orders_per_batch")
	}
	if c.Dispatch.MaxReassignAttempts < 1 {
		errs = append(errs, "dispatch.max_reassign_attempts must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsDevelopment reports whether the app is configured for development.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development" || c.App.Environment == "dev"
}

// IsProduction reports whether the app is configured for production.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production" || c.App.Environment == "prod"
}
