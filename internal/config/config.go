package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/appfort/warden/internal/logger"
	"github.com/spf13/viper"
)

// Config represents the top-level TOML structure.
type Config struct {
	Env        []string          `toml:"env" mapstructure:"env"`
	EnvFiles   []string          `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv   bool              `toml:"use_os_env" mapstructure:"use_os_env"`
	Server     ServerConfig      `toml:"server" mapstructure:"server"`
	Supervisor SupervisorConfig  `toml:"supervisor" mapstructure:"supervisor"`
	Health     HealthConfig      `toml:"health" mapstructure:"health"`
	Retry      RetryConfig       `toml:"retry" mapstructure:"retry"`
	Store      StoreConfig       `toml:"store" mapstructure:"store"`
	Logs       LogsConfig        `toml:"logs" mapstructure:"logs"`
	EventSinks []EventSinkConfig `toml:"event_sink" mapstructure:"event_sink"`
	Metrics    MetricsConfig     `toml:"metrics" mapstructure:"metrics"`
	Log        logger.Config     `toml:"log" mapstructure:"log"`
}

type ServerConfig struct {
	Listen        string     `toml:"listen" mapstructure:"listen"`
	BasePath      string     `toml:"base_path" mapstructure:"base_path"`
	TLSMinVersion string     `toml:"tls_min_version" mapstructure:"tls_min_version"`
	TLSMaxVersion string     `toml:"tls_max_version" mapstructure:"tls_max_version"`
	TLS           *TLSConfig `toml:"tls" mapstructure:"tls"`
}

type TLSConfig struct {
	Enabled      bool        `toml:"enabled" mapstructure:"enabled"`
	CertFile     string      `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string      `toml:"key_file" mapstructure:"key_file"`
	Dir          string      `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool        `toml:"auto_generate" mapstructure:"auto_generate"`
	AutoGen      *AutoGenTLS `toml:"auto_gen" mapstructure:"auto_gen"`
}

type AutoGenTLS struct {
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	Organization string   `toml:"organization" mapstructure:"organization"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	IPAddresses  []string `toml:"ip_addresses" mapstructure:"ip_addresses"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

type SupervisorConfig struct {
	ProcessesDir string        `toml:"processes_dir" mapstructure:"processes_dir"`
	GracePeriod  time.Duration `toml:"grace_period" mapstructure:"grace_period"`
	StopTimeout  time.Duration `toml:"stop_timeout" mapstructure:"stop_timeout"`
}

type HealthConfig struct {
	Interval    time.Duration `toml:"interval" mapstructure:"interval"`
	Timeout     time.Duration `toml:"timeout" mapstructure:"timeout"`
	MaxFailures int           `toml:"max_failures" mapstructure:"max_failures"`
}

type RetryConfig struct {
	BaseDelay   time.Duration `toml:"base_delay" mapstructure:"base_delay"`
	JitterMax   time.Duration `toml:"jitter_max" mapstructure:"jitter_max"`
	MaxAttempts int           `toml:"max_attempts" mapstructure:"max_attempts"`
}

type StoreConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type LogsConfig struct {
	DSN        string        `toml:"dsn" mapstructure:"dsn"`
	MaxEntries int           `toml:"max_entries" mapstructure:"max_entries"`
	Mirror     logger.Mirror `toml:"mirror" mapstructure:"mirror"`
}

type EventSinkConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Path    string `toml:"path" mapstructure:"path"`
}

// Default returns a Config populated with the built-in values. Load starts
// from these, so a partial TOML file only overrides what it mentions.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Listen:   "127.0.0.1:8085",
			BasePath: "/api",
		},
		Supervisor: SupervisorConfig{
			ProcessesDir: "./processes",
			GracePeriod:  time.Second,
			StopTimeout:  5 * time.Second,
		},
		Health: HealthConfig{
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			MaxFailures: 3,
		},
		Retry: RetryConfig{
			BaseDelay:   2 * time.Second,
			JitterMax:   time.Second,
			MaxAttempts: 5,
		},
		Store: StoreConfig{DSN: "warden.db"},
		Logs: LogsConfig{
			DSN:        "memory",
			MaxEntries: 1000,
		},
		Metrics: MetricsConfig{Path: "/metrics"},
		Log:     logger.Config{Level: "info", Format: "text"},
	}
}

// Load reads a TOML config file and merges it over Default().
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the supervisor cannot run with. Errors name the
// offending TOML key.
func (c *Config) Validate() error {
	if c.Supervisor.ProcessesDir == "" {
		return fmt.Errorf("supervisor.processes_dir must not be empty")
	}
	if c.Supervisor.GracePeriod <= 0 {
		return fmt.Errorf("supervisor.grace_period must be positive, got %s", c.Supervisor.GracePeriod)
	}
	if c.Supervisor.StopTimeout <= 0 {
		return fmt.Errorf("supervisor.stop_timeout must be positive, got %s", c.Supervisor.StopTimeout)
	}
	if c.Health.Interval <= 0 {
		return fmt.Errorf("health.interval must be positive, got %s", c.Health.Interval)
	}
	if c.Health.Timeout <= 0 {
		return fmt.Errorf("health.timeout must be positive, got %s", c.Health.Timeout)
	}
	if c.Health.Timeout >= c.Health.Interval {
		return fmt.Errorf("health.timeout (%s) must be shorter than health.interval (%s)", c.Health.Timeout, c.Health.Interval)
	}
	if c.Health.MaxFailures < 1 {
		return fmt.Errorf("health.max_failures must be at least 1, got %d", c.Health.MaxFailures)
	}
	if c.Retry.BaseDelay <= 0 {
		return fmt.Errorf("retry.base_delay must be positive, got %s", c.Retry.BaseDelay)
	}
	if c.Retry.JitterMax < 0 {
		return fmt.Errorf("retry.jitter_max must not be negative, got %s", c.Retry.JitterMax)
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must not be negative, got %d", c.Retry.MaxAttempts)
	}
	if c.Logs.MaxEntries < 1 {
		return fmt.Errorf("logs.max_entries must be at least 1, got %d", c.Logs.MaxEntries)
	}
	for i, s := range c.EventSinks {
		if s.DSN == "" {
			return fmt.Errorf("event_sink[%d].dsn must not be empty", i)
		}
	}
	return nil
}

// GlobalEnv merges environment sources declared in the config.
// Precedence: OS env (when enabled) provides the base; env_files apply next
// in order; the top-level env list overrides last.
func (c *Config) GlobalEnv() ([]string, error) {
	m := make(map[string]string)
	if c.UseOSEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				m[kv[:i]] = kv[i+1:]
			}
		}
	}
	for _, p := range c.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range c.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses a .env style file: KEY=VALUE per line, # comments and
// blank lines ignored, optional surrounding quotes on values.
func loadEnvFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	out := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		s := strings.TrimSpace(line)
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		i := strings.IndexByte(s, '=')
		if i <= 0 {
			continue
		}
		k := strings.TrimSpace(s[:i])
		v := strings.TrimSpace(s[i+1:])
		if len(v) >= 2 {
			if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
				v = v[1 : len(v)-1]
			}
		}
		out[k] = v
	}
	return out, nil
}
