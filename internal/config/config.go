// Package config loads the server configuration from an optional YAML or
// TOML file, struct-tag defaults and environment overrides.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"missioncontrol/internal/domain"
)

type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Gateway    GatewayConfig    `yaml:"gateway" toml:"gateway"`
	Monitoring MonitoringConfig `yaml:"monitoring" toml:"monitoring"`
	Events     EventsConfig     `yaml:"events" toml:"events"`
	Dispatch   DispatchConfig   `yaml:"dispatch" toml:"dispatch"`
	Tasks      TasksConfig      `yaml:"tasks" toml:"tasks"`
	Log        LogConfig        `yaml:"log" toml:"log"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" toml:"addr" default:":8000"`
	// Debug mounts the pprof handlers under /debug/pprof.
	Debug bool `yaml:"debug" toml:"debug"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path" default:"mission_control.db"`
}

type GatewayConfig struct {
	Host string `yaml:"host" toml:"host" default:"127.0.0.1"`
	Port int    `yaml:"port" toml:"port" default:"18789"`
	// URL switches the probe from a TCP dial to an HTTP GET of URL+HealthPath.
	URL                         string `yaml:"url" toml:"url"`
	HealthPath                  string `yaml:"health_path" toml:"health_path" default:"/api/models"`
	CheckIntervalSeconds        uint64 `yaml:"check_interval_seconds" toml:"check_interval_seconds" default:"60"`
	HealthCheckTimeout          uint64 `yaml:"health_check_timeout" toml:"health_check_timeout" default:"5"`
	MaxRestartAttempts          uint32 `yaml:"max_restart_attempts" toml:"max_restart_attempts" default:"3"`
	NotificationCooldownMinutes uint64 `yaml:"notification_cooldown_minutes" toml:"notification_cooldown_minutes" default:"30"`
}

type MonitoringConfig struct {
	NormalPriorityLimitMinutes  uint64 `yaml:"normal_priority_limit_minutes" toml:"normal_priority_limit_minutes" default:"120"`
	UrgentPriorityLimitMinutes  uint64 `yaml:"urgent_priority_limit_minutes" toml:"urgent_priority_limit_minutes" default:"30"`
	NotificationCooldownMinutes uint64 `yaml:"notification_cooldown_minutes" toml:"notification_cooldown_minutes" default:"60"`
}

type EventsConfig struct {
	BufferSize  int    `yaml:"buffer_size" toml:"buffer_size" default:"100"`
	NATSURL     string `yaml:"nats_url" toml:"nats_url"`
	NATSSubject string `yaml:"nats_subject" toml:"nats_subject" default:"missioncontrol.events"`
}

type DispatchConfig struct {
	Command        string `yaml:"command" toml:"command" default:"openclaw sessions spawn"`
	MaxConcurrent  int    `yaml:"max_concurrent" toml:"max_concurrent" default:"4"`
	TimeoutSeconds int    `yaml:"timeout_seconds" toml:"timeout_seconds" default:"120"`
}

type TasksConfig struct {
	StrictTransitions bool `yaml:"strict_transitions" toml:"strict_transitions"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level" default:"info"`
	Format string `yaml:"format" toml:"format" default:"console"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		panic(err) // struct tags are static
	}
	return &cfg
}

// Load reads path (when non-empty), then applies environment overrides and
// validates the result. Files ending in .toml are decoded as TOML, anything
// else as YAML.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if strings.EqualFold(filepath.Ext(path), ".toml") {
			if _, err := toml.Decode(string(data), cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		// Fill anything the file zeroed out.
		if err := defaults.Set(cfg); err != nil {
			return nil, fmt.Errorf("apply defaults: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (c *Config) applyEnv() error {
	c.Server.Addr = envOrDefault("MISSIONCONTROL_ADDR", c.Server.Addr)
	c.Database.Path = envOrDefault("MISSIONCONTROL_DB", c.Database.Path)
	c.Gateway.Host = envOrDefault("GATEWAY_HOST", c.Gateway.Host)
	c.Gateway.URL = envOrDefault("GATEWAY_URL", c.Gateway.URL)
	c.Events.NATSURL = envOrDefault("MISSIONCONTROL_NATS_URL", c.Events.NATSURL)
	if v := os.Getenv("GATEWAY_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GATEWAY_PORT: %w", err)
		}
		c.Gateway.Port = port
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Gateway.URL == "" && (c.Gateway.Port <= 0 || c.Gateway.Port > 65535) {
		errs = append(errs, fmt.Errorf("gateway.port %d out of range", c.Gateway.Port))
	}
	if c.Gateway.CheckIntervalSeconds == 0 {
		errs = append(errs, errors.New("gateway.check_interval_seconds must be positive"))
	}
	if c.Gateway.HealthCheckTimeout == 0 {
		errs = append(errs, errors.New("gateway.health_check_timeout must be positive"))
	}
	if c.Monitoring.NormalPriorityLimitMinutes == 0 {
		errs = append(errs, errors.New("monitoring.normal_priority_limit_minutes must be positive"))
	}
	if c.Monitoring.UrgentPriorityLimitMinutes == 0 {
		errs = append(errs, errors.New("monitoring.urgent_priority_limit_minutes must be positive"))
	}
	if c.Monitoring.UrgentPriorityLimitMinutes > c.Monitoring.NormalPriorityLimitMinutes {
		errs = append(errs, errors.New("monitoring.urgent_priority_limit_minutes exceeds the normal limit"))
	}
	if c.Events.BufferSize <= 0 {
		errs = append(errs, errors.New("events.buffer_size must be positive"))
	}
	if c.Dispatch.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("dispatch.max_concurrent must be positive"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be console or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// CheckInterval is the single cadence of the scheduler loop.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Gateway.CheckIntervalSeconds) * time.Second
}

func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Gateway.HealthCheckTimeout) * time.Second
}

func (c *Config) DispatchTimeout() time.Duration {
	return time.Duration(c.Dispatch.TimeoutSeconds) * time.Second
}

// GatewayAddr is the host:port the TCP probe dials.
func (c *Config) GatewayAddr() string {
	return net.JoinHostPort(c.Gateway.Host, strconv.Itoa(c.Gateway.Port))
}

// GatewayHealthURL is empty unless an HTTP probe is configured.
func (c *Config) GatewayHealthURL() string {
	if c.Gateway.URL == "" {
		return ""
	}
	return strings.TrimRight(c.Gateway.URL, "/") + c.Gateway.HealthPath
}

func (c *Config) GatewayConfig() domain.GatewayConfig {
	return domain.GatewayConfig{
		CheckIntervalSeconds:        c.Gateway.CheckIntervalSeconds,
		HealthCheckTimeout:          c.Gateway.HealthCheckTimeout,
		MaxRestartAttempts:          c.Gateway.MaxRestartAttempts,
		NotificationCooldownMinutes: c.Gateway.NotificationCooldownMinutes,
	}
}

func (c *Config) MonitoringConfig() domain.MonitoringConfig {
	return domain.MonitoringConfig{
		NormalPriorityLimitMinutes:  c.Monitoring.NormalPriorityLimitMinutes,
		UrgentPriorityLimitMinutes:  c.Monitoring.UrgentPriorityLimitMinutes,
		NotificationCooldownMinutes: c.Monitoring.NotificationCooldownMinutes,
	}
}
