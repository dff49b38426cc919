// Package config provides configuration loading from environment, an
// optional YAML file and command-line flags for aiond.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// GetEnv returns the value of key from the environment, or defaultValue if unset or empty.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return defaultValue
}

// GetEnvDuration returns the duration for key, or defaultValue if unset/invalid.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultValue
	}
	return d
}

// GetEnvFloat returns the float for key, or defaultValue if unset/invalid.
func GetEnvFloat(key string, defaultValue float64) float64 {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

// GetEnvInt returns the int for key, or defaultValue if unset/invalid.
func GetEnvInt(key string, defaultValue int) int {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return n
}

// GetEnvBool returns the bool for key, or defaultValue if unset/invalid.
func GetEnvBool(key string, defaultValue bool) bool {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return defaultValue
	}
	return b
}

// KernelConfig holds scheduler, daemon and health engine settings.
type KernelConfig struct {
	TickInterval     time.Duration `yaml:"tick_interval"`
	HeartbeatEvery   int           `yaml:"heartbeat_every"`
	StatusEvery      int           `yaml:"status_every"`
	AIEvery          int           `yaml:"ai_every"`
	SimEvery         int           `yaml:"sim_every"`
	SimLevel         string        `yaml:"sim_level"`
	SimSeed          int64         `yaml:"sim_seed"`
	LogFilter        string        `yaml:"log_filter"`
	InitialHealth    float64       `yaml:"initial_health"`
	HealthMaxStep    float64       `yaml:"health_max_step"`
	HealthRecovery   float64       `yaml:"health_recovery"`
	AlertRetention   int           `yaml:"alert_retention"`
	CommandQueueSize int           `yaml:"command_queue_size"`
}

// TelemetryConfig selects and tunes the telemetry provider.
type TelemetryConfig struct {
	Source           string        `yaml:"source"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	FailureThreshold int           `yaml:"failure_threshold"`
	CooldownPeriod   time.Duration `yaml:"cooldown_period"`
}

// StateConfig holds persistence settings.
type StateConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	// Watch reloads the state whenever the file changes on disk.
	Watch bool `yaml:"watch"`
}

// ServerConfig holds the HTTP introspection server settings.
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CommandRate     int           `yaml:"command_rate"`
	CommandBurst    int           `yaml:"command_burst"`
	RateWindow      time.Duration `yaml:"rate_window"`
}

// NotifyConfig holds the alert webhook settings.
type NotifyConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Endpoint   string        `yaml:"endpoint"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	BufferSize int           `yaml:"buffer_size"`
}

// Config is the complete aiond configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Shell     bool            `yaml:"shell"`
	Kernel    KernelConfig    `yaml:"kernel"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	State     StateConfig     `yaml:"state"`
	Server    ServerConfig    `yaml:"server"`
	Notify    NotifyConfig    `yaml:"notify"`
}

// Default returns config from environment with defaults.
func Default() Config {
	ep := GetEnv("ALERT_WEBHOOK_URL", "")
	return Config{
		LogLevel: GetEnv("LOG_LEVEL", "info"),
		Shell:    GetEnvBool("SHELL_ENABLED", true),
		Kernel: KernelConfig{
			TickInterval:     GetEnvDuration("TICK_INTERVAL", 500*time.Millisecond),
			HeartbeatEvery:   GetEnvInt("HEARTBEAT_EVERY", 10),
			StatusEvery:      GetEnvInt("STATUS_EVERY", 2),
			AIEvery:          GetEnvInt("AI_EVERY", 4),
			SimEvery:         GetEnvInt("SIM_EVERY", 6),
			SimLevel:         GetEnv("SIM_LEVEL", "off"),
			SimSeed:          int64(GetEnvInt("SIM_SEED", 1)),
			LogFilter:        GetEnv("LOG_FILTER", "all"),
			InitialHealth:    GetEnvFloat("INITIAL_HEALTH", 1.0),
			HealthMaxStep:    GetEnvFloat("HEALTH_MAX_STEP", 0.05),
			HealthRecovery:   GetEnvFloat("HEALTH_RECOVERY", 0.01),
			AlertRetention:   GetEnvInt("ALERT_RETENTION", 256),
			CommandQueueSize: GetEnvInt("COMMAND_QUEUE_SIZE", 64),
		},
		Telemetry: TelemetryConfig{
			Source:           GetEnv("TELEMETRY", "sim"),
			ReadTimeout:      GetEnvDuration("TELEMETRY_READ_TIMEOUT", 500*time.Millisecond),
			FailureThreshold: GetEnvInt("TELEMETRY_FAILURE_THRESHOLD", 3),
			CooldownPeriod:   GetEnvDuration("TELEMETRY_COOLDOWN", 30*time.Second),
		},
		State: StateConfig{
			Backend: GetEnv("STATE_STORE", "file"),
			Path:    GetEnv("STATE_PATH", "aion_state.txt"),
			Watch:   GetEnvBool("STATE_WATCH", false),
		},
		Server: ServerConfig{
			HTTPAddr:        GetEnv("HTTP_ADDR", ":8080"),
			ShutdownTimeout: GetEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
			CommandRate:     GetEnvInt("COMMAND_RATE", 10),
			CommandBurst:    GetEnvInt("COMMAND_BURST", 20),
			RateWindow:      GetEnvDuration("COMMAND_RATE_WINDOW", time.Second),
		},
		Notify: NotifyConfig{
			Enabled:    ep != "",
			Endpoint:   ep,
			APIKey:     GetEnv("ALERT_WEBHOOK_API_KEY", ""),
			Timeout:    GetEnvDuration("ALERT_WEBHOOK_TIMEOUT", 10*time.Second),
			BufferSize: GetEnvInt("ALERT_WEBHOOK_BUFFER", 256),
		},
	}
}

// LoadFile overlays the YAML file at path onto c. Keys absent from the file
// keep their current value; unknown keys are an error.
func (c *Config) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	c.Notify.Enabled = c.Notify.Enabled || c.Notify.Endpoint != ""
	return nil
}

// AddFlags registers overrides for the settings operators change most.
// Flags are applied on Parse, after env and file.
func (c *Config) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (debug, info, warn, error)")
	fs.BoolVar(&c.Shell, "shell", c.Shell, "read commands from stdin")
	fs.DurationVar(&c.Kernel.TickInterval, "tick", c.Kernel.TickInterval, "scheduler tick interval")
	fs.StringVar(&c.Kernel.SimLevel, "sim", c.Kernel.SimLevel, "simulation level (off, low, high)")
	fs.Int64Var(&c.Kernel.SimSeed, "seed", c.Kernel.SimSeed, "simulation random seed")
	fs.StringVar(&c.Kernel.LogFilter, "logs", c.Kernel.LogFilter, "pulse log filter (all, commands, silent)")
	fs.Float64Var(&c.Kernel.InitialHealth, "initial-health", c.Kernel.InitialHealth, "starting organ health")
	fs.StringVar(&c.Telemetry.Source, "telemetry", c.Telemetry.Source, "telemetry source (sim, host)")
	fs.StringVar(&c.State.Backend, "state-store", c.State.Backend, "state backend (file, sqlite)")
	fs.StringVar(&c.State.Path, "state-path", c.State.Path, "state file or database path")
	fs.BoolVar(&c.State.Watch, "watch-state", c.State.Watch, "reload state when the file changes")
	fs.StringVar(&c.Server.HTTPAddr, "http-addr", c.Server.HTTPAddr, "HTTP listen address (empty disables)")
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	k := c.Kernel
	if k.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick_interval must be positive, got %s", k.TickInterval))
	}
	for name, every := range map[string]int{
		"heartbeat_every": k.HeartbeatEvery,
		"status_every":    k.StatusEvery,
		"ai_every":        k.AIEvery,
		"sim_every":       k.SimEvery,
	} {
		if every <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, every))
		}
	}
	switch strings.ToLower(k.SimLevel) {
	case "off", "low", "high":
	default:
		errs = append(errs, fmt.Errorf("unknown sim_level %q", k.SimLevel))
	}
	switch strings.ToLower(k.LogFilter) {
	case "all", "commands", "commands-only", "silent", "off":
	default:
		errs = append(errs, fmt.Errorf("unknown log_filter %q", k.LogFilter))
	}
	if k.InitialHealth < 0 || k.InitialHealth > 1 {
		errs = append(errs, fmt.Errorf("initial_health must be in [0, 1], got %v", k.InitialHealth))
	}
	if k.HealthMaxStep <= 0 || k.HealthMaxStep > 1 {
		errs = append(errs, fmt.Errorf("health_max_step must be in (0, 1], got %v", k.HealthMaxStep))
	}
	if k.HealthRecovery < 0 {
		errs = append(errs, fmt.Errorf("health_recovery must not be negative, got %v", k.HealthRecovery))
	}
	if k.CommandQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("command_queue_size must be positive, got %d", k.CommandQueueSize))
	}
	switch c.Telemetry.Source {
	case "sim", "host":
	default:
		errs = append(errs, fmt.Errorf("unknown telemetry source %q", c.Telemetry.Source))
	}
	switch c.State.Backend {
	case "file", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown state backend %q", c.State.Backend))
	}
	if c.State.Watch && c.State.Backend != "file" {
		errs = append(errs, fmt.Errorf("watch requires the file state backend"))
	}
	return utilerrors.NewAggregate(errs)
}
