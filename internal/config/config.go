// Package config loads agent-ivy settings from defaults, an optional
// .ivy.yaml file, IVY_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultFileName is the config file looked up in the working directory.
	DefaultFileName = ".ivy.yaml"

	// EnvPrefix prefixes environment overrides, e.g. IVY_DEVSERVER_TIMEOUT=5m.
	EnvPrefix = "IVY"
)

// Config is the complete agent-ivy configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	DevServer DevServerConfig `yaml:"devserver" mapstructure:"devserver"`
	Process   ProcessConfig   `yaml:"process" mapstructure:"process"`
	Events    EventsConfig    `yaml:"events" mapstructure:"events"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen string `yaml:"listen" mapstructure:"listen"`
}

// DevServerConfig configures the start-and-wait protocol.
type DevServerConfig struct {
	Port          int           `yaml:"port" mapstructure:"port"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	GracePeriod   time.Duration `yaml:"grace_period" mapstructure:"grace_period"`
	PollInterval  time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	CompileSettle time.Duration `yaml:"compile_settle" mapstructure:"compile_settle"`
	PortAttempts  int           `yaml:"port_attempts" mapstructure:"port_attempts"`
	LogTail       int           `yaml:"log_tail" mapstructure:"log_tail"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout" mapstructure:"probe_timeout"`
}

// ProcessConfig configures process management.
type ProcessConfig struct {
	InstallTimeout time.Duration `yaml:"install_timeout" mapstructure:"install_timeout"`
	StopGrace      time.Duration `yaml:"stop_grace" mapstructure:"stop_grace"`
	MaxLogLength   int           `yaml:"max_log_length" mapstructure:"max_log_length"`
	EvictChunk     int           `yaml:"evict_chunk" mapstructure:"evict_chunk"`
}

// EventsConfig configures lifecycle event publishing. NATS is disabled when NATSURL is empty.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url" mapstructure:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix" mapstructure:"subject_prefix"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Listen: ":8085",
		},
		DevServer: DevServerConfig{
			Port:          4200,
			Timeout:       180 * time.Second,
			GracePeriod:   15 * time.Second,
			PollInterval:  2 * time.Second,
			CompileSettle: 2 * time.Second,
			PortAttempts:  10,
			LogTail:       2000,
			ProbeTimeout:  3 * time.Second,
		},
		Process: ProcessConfig{
			InstallTimeout: 300 * time.Second,
			StopGrace:      5 * time.Second,
			MaxLogLength:   100_000,
			EvictChunk:     10_000,
		},
		Events: EventsConfig{
			SubjectPrefix: "agentivy.devserver",
		},
		Metrics: MetricsConfig{
			Namespace: "ivy",
		},
	}
}

// settings flattens c into viper keys, e.g. "devserver.timeout".
func (c Config) settings() map[string]any {
	return map[string]any{
		"server.listen":            c.Server.Listen,
		"devserver.port":           c.DevServer.Port,
		"devserver.timeout":        c.DevServer.Timeout,
		"devserver.grace_period":   c.DevServer.GracePeriod,
		"devserver.poll_interval":  c.DevServer.PollInterval,
		"devserver.compile_settle": c.DevServer.CompileSettle,
		"devserver.port_attempts":  c.DevServer.PortAttempts,
		"devserver.log_tail":       c.DevServer.LogTail,
		"devserver.probe_timeout":  c.DevServer.ProbeTimeout,
		"process.install_timeout":  c.Process.InstallTimeout,
		"process.stop_grace":       c.Process.StopGrace,
		"process.max_log_length":   c.Process.MaxLogLength,
		"process.evict_chunk":      c.Process.EvictChunk,
		"events.nats_url":          c.Events.NATSURL,
		"events.subject_prefix":    c.Events.SubjectPrefix,
		"metrics.namespace":        c.Metrics.Namespace,
	}
}

// NewViper returns a viper instance with defaults and environment overrides
// registered. Callers bind their flags to it before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()
	for key, value := range Defaults().settings() {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file at path into v and returns the merged result.
// An empty path looks for .ivy.yaml in the working directory; a missing
// default file is not an error, a missing explicit file is.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = NewViper()
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(strings.TrimSuffix(DefaultFileName, ".yaml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the dev-server lifecycle cannot run with.
func (c Config) Validate() error {
	var errs []error

	if c.DevServer.Port < 1 || c.DevServer.Port > 65535 {
		errs = append(errs, fmt.Errorf("devserver.port must be between 1 and 65535, got %d", c.DevServer.Port))
	}
	for name, d := range map[string]time.Duration{
		"devserver.timeout":       c.DevServer.Timeout,
		"devserver.poll_interval": c.DevServer.PollInterval,
		"devserver.probe_timeout": c.DevServer.ProbeTimeout,
		"process.install_timeout": c.Process.InstallTimeout,
		"process.stop_grace":      c.Process.StopGrace,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.DevServer.GracePeriod < 0 || c.DevServer.CompileSettle < 0 {
		errs = append(errs, errors.New("devserver.grace_period and devserver.compile_settle must not be negative"))
	}
	if c.DevServer.PortAttempts < 1 {
		errs = append(errs, fmt.Errorf("devserver.port_attempts must be at least 1, got %d", c.DevServer.PortAttempts))
	}
	if c.DevServer.LogTail < 0 {
		errs = append(errs, fmt.Errorf("devserver.log_tail must not be negative, got %d", c.DevServer.LogTail))
	}
	if c.Process.MaxLogLength < 1 || c.Process.EvictChunk < 1 {
		errs = append(errs, errors.New("process.max_log_length and process.evict_chunk must be positive"))
	} else if c.Process.EvictChunk > c.Process.MaxLogLength {
		errs = append(errs, errors.New("process.evict_chunk must not exceed process.max_log_length"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Write writes cfg as a YAML file with human-readable durations.
func Write(path string, cfg Config) error {
	doc := map[string]map[string]any{}
	for key, value := range cfg.settings() {
		section, name, _ := strings.Cut(key, ".")
		if d, ok := value.(time.Duration); ok {
			value = d.String()
		}
		if doc[section] == nil {
			doc[section] = map[string]any{}
		}
		doc[section][name] = value
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
