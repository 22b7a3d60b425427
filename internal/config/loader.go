package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	// Embedded zone database so time zones resolve on minimal images.
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ROOMBOOKING_"

// Storage drivers accepted by Storage.Driver.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Config captures file and environment driven configuration for the booking service.
type Config struct {
	HTTP struct {
		Port            int           `yaml:"port"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"http"`

	Storage struct {
		Driver      string        `yaml:"driver"`
		SQLitePath  string        `yaml:"sqlite_path"`
		BusyTimeout time.Duration `yaml:"busy_timeout"`
	} `yaml:"storage"`

	Scheduling struct {
		TimeZone      string        `yaml:"time_zone"`
		SweepInterval time.Duration `yaml:"sweep_interval"`
		CacheTTL      time.Duration `yaml:"availability_cache_ttl"`
	} `yaml:"scheduling"`

	Redis struct {
		Address  string        `yaml:"address"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		LockTTL  time.Duration `yaml:"lock_ttl"`
		LockWait time.Duration `yaml:"lock_wait"`
	} `yaml:"redis"`

	RateLimit struct {
		PerSecond float64 `yaml:"per_second"`
		Burst     int     `yaml:"burst"`
	} `yaml:"rate_limit"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`

	SMTP struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		From     string `yaml:"from"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"smtp"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	var cfg Config
	cfg.HTTP.Port = 8080
	cfg.HTTP.ShutdownTimeout = 10 * time.Second
	cfg.Storage.Driver = DriverSQLite
	cfg.Storage.SQLitePath = "roombooking.db"
	cfg.Storage.BusyTimeout = 5 * time.Second
	cfg.Scheduling.TimeZone = "UTC"
	cfg.Scheduling.SweepInterval = time.Minute
	cfg.Scheduling.CacheTTL = 30 * time.Second
	cfg.Redis.LockTTL = 10 * time.Second
	cfg.Redis.LockWait = 5 * time.Second
	cfg.RateLimit.PerSecond = 10
	cfg.RateLimit.Burst = 20
	cfg.Metrics.Enabled = true
	cfg.SMTP.Port = 25
	return cfg
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty) and ROOMBOOKING_* environment variables, in that order.
//
// Every malformed or out of range value is collected and reported in a single
// error so operators can fix them in one pass.
func Load(path string) (Config, error) {
	cfg := Default()

	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		data = []byte(os.ExpandEnv(string(data)))
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	env := envReader{}
	env.int("HTTP_PORT", &cfg.HTTP.Port)
	env.duration("SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout)
	env.string("STORAGE_DRIVER", &cfg.Storage.Driver)
	env.string("SQLITE_PATH", &cfg.Storage.SQLitePath)
	env.duration("SQLITE_BUSY_TIMEOUT", &cfg.Storage.BusyTimeout)
	env.string("TIME_ZONE", &cfg.Scheduling.TimeZone)
	env.duration("SWEEP_INTERVAL", &cfg.Scheduling.SweepInterval)
	env.duration("AVAILABILITY_CACHE_TTL", &cfg.Scheduling.CacheTTL)
	env.string("REDIS_ADDRESS", &cfg.Redis.Address)
	env.string("REDIS_PASSWORD", &cfg.Redis.Password)
	env.int("REDIS_DB", &cfg.Redis.DB)
	env.duration("LOCK_TTL", &cfg.Redis.LockTTL)
	env.duration("LOCK_WAIT", &cfg.Redis.LockWait)
	env.float("RATE_LIMIT_PER_SECOND", &cfg.RateLimit.PerSecond)
	env.int("RATE_LIMIT_BURST", &cfg.RateLimit.Burst)
	env.bool("METRICS_ENABLED", &cfg.Metrics.Enabled)
	env.string("SMTP_HOST", &cfg.SMTP.Host)
	env.int("SMTP_PORT", &cfg.SMTP.Port)
	env.string("SMTP_FROM", &cfg.SMTP.From)
	env.string("SMTP_USERNAME", &cfg.SMTP.Username)
	env.string("SMTP_PASSWORD", &cfg.SMTP.Password)

	invalid := append(env.invalid, cfg.validate()...)
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("config: invalid values: %s", strings.Join(invalid, ", "))
	}
	return cfg, nil
}

// Location resolves the configured time zone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Scheduling.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("config: time zone %q: %w", c.Scheduling.TimeZone, err)
	}
	return loc, nil
}

// RedisEnabled reports whether a Redis address is configured.
func (c Config) RedisEnabled() bool {
	return strings.TrimSpace(c.Redis.Address) != ""
}

// SMTPEnabled reports whether outgoing mail goes to a relay.
func (c Config) SMTPEnabled() bool {
	return strings.TrimSpace(c.SMTP.Host) != ""
}

func (c Config) validate() []string {
	var invalid []string
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		invalid = append(invalid, EnvPrefix+"HTTP_PORT")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		invalid = append(invalid, EnvPrefix+"SHUTDOWN_TIMEOUT")
	}
	switch c.Storage.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Storage.SQLitePath) == "" {
			invalid = append(invalid, EnvPrefix+"SQLITE_PATH")
		}
	case DriverMemory:
	default:
		invalid = append(invalid, EnvPrefix+"STORAGE_DRIVER")
	}
	if c.Storage.BusyTimeout < 0 {
		invalid = append(invalid, EnvPrefix+"SQLITE_BUSY_TIMEOUT")
	}
	if _, err := time.LoadLocation(c.Scheduling.TimeZone); err != nil {
		invalid = append(invalid, EnvPrefix+"TIME_ZONE")
	}
	if c.Scheduling.SweepInterval <= 0 {
		invalid = append(invalid, EnvPrefix+"SWEEP_INTERVAL")
	}
	if c.Scheduling.CacheTTL < 0 {
		invalid = append(invalid, EnvPrefix+"AVAILABILITY_CACHE_TTL")
	}
	if c.Redis.DB < 0 {
		invalid = append(invalid, EnvPrefix+"REDIS_DB")
	}
	if c.Redis.LockTTL <= 0 {
		invalid = append(invalid, EnvPrefix+"LOCK_TTL")
	}
	if c.Redis.LockWait <= 0 {
		invalid = append(invalid, EnvPrefix+"LOCK_WAIT")
	}
	if c.RateLimit.PerSecond < 0 {
		invalid = append(invalid, EnvPrefix+"RATE_LIMIT_PER_SECOND")
	}
	if c.RateLimit.Burst < 0 || (c.RateLimit.PerSecond > 0 && c.RateLimit.Burst == 0) {
		invalid = append(invalid, EnvPrefix+"RATE_LIMIT_BURST")
	}
	if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
		invalid = append(invalid, EnvPrefix+"SMTP_PORT")
	}
	return invalid
}

// envReader applies ROOMBOOKING_* overrides and remembers unparsable keys.
type envReader struct {
	invalid []string
}

func (e *envReader) lookup(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(EnvPrefix + key))
	return value, value != ""
}

func (e *envReader) fail(key string) {
	e.invalid = append(e.invalid, EnvPrefix+key)
}

func (e *envReader) string(key string, dst *string) {
	if value, ok := e.lookup(key); ok {
		*dst = value
	}
}

func (e *envReader) int(key string, dst *int) {
	if value, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(value)
		if err != nil {
			e.fail(key)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if value, ok := e.lookup(key); ok {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			e.fail(key)
			return
		}
		*dst = f
	}
}

func (e *envReader) bool(key string, dst *bool) {
	if value, ok := e.lookup(key); ok {
		b, err := strconv.ParseBool(value)
		if err != nil {
			e.fail(key)
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if value, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(value)
		if err != nil {
			e.fail(key)
			return
		}
		*dst = d
	}
}

// ErrNoConfigFile is returned by Resolve when neither the flag nor the
// environment name a configuration file.
var ErrNoConfigFile = errors.New("config: no configuration file given")

// Resolve picks the configuration file path: the explicit flag value wins over
// ROOMBOOKING_CONFIG.
func Resolve(flagValue string) (string, error) {
	if path := strings.TrimSpace(flagValue); path != "" {
		return path, nil
	}
	if path := strings.TrimSpace(os.Getenv(EnvPrefix + "CONFIG")); path != "" {
		return path, nil
	}
	return "", ErrNoConfigFile
}
