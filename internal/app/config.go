package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the liveclass room server and client.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Classroom   ClassroomConfig   `mapstructure:"classroom"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port      int             `mapstructure:"port"`
	LogLevel  string          `mapstructure:"log_level"`
	PublicURL string          `mapstructure:"public_url"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// CORSConfig lists browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RateLimitConfig bounds API requests per client.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
	// Store is "memory" for a per-process limit or "database" to share counters between replicas.
	Store string `mapstructure:"store"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// AuthConfig captures token settings.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures API access tokens and room join tokens.
type JWTSettings struct {
	Secret  string        `mapstructure:"secret"`
	Issuer  string        `mapstructure:"issuer"`
	TTL     time.Duration `mapstructure:"access_token_ttl"`
	JoinTTL time.Duration `mapstructure:"join_token_ttl"`
}

// ClassroomConfig tunes the live-session coordination layer.
type ClassroomConfig struct {
	DedupCapacity            int           `mapstructure:"dedup_capacity"`
	WarningThreshold         time.Duration `mapstructure:"warning_threshold"`
	ChatMaxLength            int           `mapstructure:"chat_max_length"`
	NoticeTTL                time.Duration `mapstructure:"notice_ttl"`
	DefaultPrepBufferMinutes int           `mapstructure:"default_prep_buffer_minutes"`
	DefaultDurationMinutes   int           `mapstructure:"default_duration_minutes"`
	MaxSessionsPerDay        int           `mapstructure:"max_sessions_per_day"`
	PolicyFile               string        `mapstructure:"policy_file"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// MaintenanceConfig schedules background jobs.
type MaintenanceConfig struct {
	ExpireSchedule      string        `mapstructure:"expire_schedule"`
	RetentionSchedule   string        `mapstructure:"retention_schedule"`
	ViolationRetention  time.Duration `mapstructure:"violation_retention"`
	AttendanceRetention time.Duration `mapstructure:"attendance_retention"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
// A .env file next to the config file is loaded first; variables already set win.
func LoadConfig(paths ...string) (*Config, error) {
	if err := loadDotEnv(append([]string{"."}, paths...)...); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("LIVECLASS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func loadDotEnv(dirs ...string) error {
	for _, dir := range dirs {
		path := filepath.Join(dir, ".env")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.public_url", "http://localhost:8000")
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("server.rate_limit.requests", 120)
	v.SetDefault("server.rate_limit.window", "1m")
	v.SetDefault("server.rate_limit.store", "memory")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/liveclass.sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.postgres.enabled", false)
	v.SetDefault("database.postgres.host", "")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.database", "")
	v.SetDefault("database.postgres.username", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.mysql.enabled", false)
	v.SetDefault("database.mysql.host", "")
	v.SetDefault("database.mysql.port", 3306)
	v.SetDefault("database.mysql.database", "")
	v.SetDefault("database.mysql.username", "")
	v.SetDefault("database.mysql.password", "")

	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.issuer", "liveclass")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")
	v.SetDefault("auth.jwt.join_token_ttl", "2h")

	v.SetDefault("classroom.dedup_capacity", 200)
	v.SetDefault("classroom.warning_threshold", "5m")
	v.SetDefault("classroom.chat_max_length", 4000)
	v.SetDefault("classroom.notice_ttl", "5s")
	v.SetDefault("classroom.default_prep_buffer_minutes", 15)
	v.SetDefault("classroom.default_duration_minutes", 60)
	v.SetDefault("classroom.max_sessions_per_day", 0)
	v.SetDefault("classroom.policy_file", "")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)

	v.SetDefault("maintenance.expire_schedule", "@every 1m")
	v.SetDefault("maintenance.retention_schedule", "@daily")
	v.SetDefault("maintenance.violation_retention", "2160h") // 90 days
	v.SetDefault("maintenance.attendance_retention", "8760h")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
