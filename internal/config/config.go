// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. FIREFLYBATCH_BROWSER_REMOTE_URL.
const EnvPrefix = "FIREFLYBATCH"

// Browser connection modes.
const (
	ModeAttach = "attach"
	ModeLaunch = "launch"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Automation AutomationConfig `mapstructure:"automation" yaml:"automation"`
	Pacing     PacingConfig     `mapstructure:"pacing" yaml:"pacing"`
	Panel      PanelConfig      `mapstructure:"panel" yaml:"panel"`
	Queue      QueueConfig      `mapstructure:"queue" yaml:"queue"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig selects how the Firefly tab is reached.
type BrowserConfig struct {
	// Mode is "attach" (connect to a running browser over its debugging port) or "launch".
	Mode         string        `mapstructure:"mode" yaml:"mode"`
	RemoteURL    string        `mapstructure:"remote_url" yaml:"remote_url"`
	ExecPath     string        `mapstructure:"exec_path" yaml:"exec_path"`
	UserDataDir  string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	StartURL     string        `mapstructure:"start_url" yaml:"start_url"`
	TargetHost   string        `mapstructure:"target_host" yaml:"target_host"`
	ReadyTimeout time.Duration `mapstructure:"ready_timeout" yaml:"ready_timeout"`
	DownloadDir  string        `mapstructure:"download_dir" yaml:"download_dir"`
	Stealth      bool          `mapstructure:"stealth" yaml:"stealth"`
	Debug        bool          `mapstructure:"debug" yaml:"debug"`
	Args         []string      `mapstructure:"args" yaml:"args"`
}

// AutomationConfig picks a preset and optionally overrides parts of it. Zero values keep the
// preset's setting.
type AutomationConfig struct {
	Preset             string        `mapstructure:"preset" yaml:"preset"`
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PollInterval       time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	DownloadRetries    int           `mapstructure:"download_retries" yaml:"download_retries"`
	StabilizationDelay time.Duration `mapstructure:"stabilization_delay" yaml:"stabilization_delay"`
	RetryBackoff       time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	BatchSelector      string        `mapstructure:"batch_selector" yaml:"batch_selector"`
	FallbackOnTimeout  *bool         `mapstructure:"fallback_on_timeout" yaml:"fallback_on_timeout"`
	MatchPrefixLen     int           `mapstructure:"match_prefix_len" yaml:"match_prefix_len"`
	BatchIncrement     int           `mapstructure:"batch_increment" yaml:"batch_increment"`
}

// PanelConfig configures the websocket control panel.
type PanelConfig struct {
	Listen        string        `mapstructure:"listen" yaml:"listen"`
	LogBuffer     int           `mapstructure:"log_buffer" yaml:"log_buffer"`
	ControlRate   float64       `mapstructure:"control_rate" yaml:"control_rate"`
	ControlBurst  int           `mapstructure:"control_burst" yaml:"control_burst"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	AllowedOrigin string        `mapstructure:"allowed_origin" yaml:"allowed_origin"`
}

// QueueConfig configures prompt file handling.
type QueueConfig struct {
	Watch         bool          `mapstructure:"watch" yaml:"watch"`
	WatchDebounce time.Duration `mapstructure:"watch_debounce" yaml:"watch_debounce"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "fireflybatch")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "magenta")
	v.SetDefault("logger.colors.info", "cyan")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Browser --
	v.SetDefault("browser.mode", ModeAttach)
	v.SetDefault("browser.remote_url", "http://127.0.0.1:9222")
	v.SetDefault("browser.user_data_dir", "~/.fireflybatch/profile")
	v.SetDefault("browser.start_url", "https://firefly.adobe.com/generate/images")
	v.SetDefault("browser.target_host", "firefly.adobe.com")
	v.SetDefault("browser.ready_timeout", "30s")
	v.SetDefault("browser.download_dir", "~/Downloads/firefly")
	v.SetDefault("browser.stealth", true)
	v.SetDefault("browser.debug", false)

	// -- Automation --
	v.SetDefault("automation.preset", "gallery")
	// Zero keeps the preset's value. Registered so FIREFLYBATCH_AUTOMATION_* env vars unmarshal.
	v.SetDefault("automation.match_prefix_len", 0)
	v.SetDefault("automation.batch_increment", 0)

	// -- Panel --
	v.SetDefault("panel.listen", "127.0.0.1:8765")
	v.SetDefault("panel.log_buffer", 256)
	v.SetDefault("panel.control_rate", 5.0)
	v.SetDefault("panel.control_burst", 10)
	v.SetDefault("panel.write_timeout", "5s")

	// -- Queue --
	v.SetDefault("queue.watch", false)
	v.SetDefault("queue.watch_debounce", "300ms")
}

// BindEnv wires FIREFLYBATCH_* environment variables into v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Browser.UserDataDir, &c.Browser.DownloadDir, &c.Browser.ExecPath, &c.Logger.LogFile} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Browser.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.Automation.Validate(); err != nil {
		return fmt.Errorf("automation configuration invalid: %w", err)
	}
	if err := c.Pacing.Validate(); err != nil {
		return fmt.Errorf("pacing configuration invalid: %w", err)
	}
	if c.Panel.Listen == "" {
		return fmt.Errorf("panel.listen must not be empty")
	}
	if c.Panel.ControlRate <= 0 || c.Panel.ControlBurst <= 0 {
		return fmt.Errorf("panel.control_rate and panel.control_burst must be positive")
	}
	return nil
}

// Validate checks the browser settings.
func (b *BrowserConfig) Validate() error {
	switch b.Mode {
	case ModeAttach:
		if b.RemoteURL == "" {
			return fmt.Errorf("remote_url is required in attach mode")
		}
	case ModeLaunch:
		if b.UserDataDir == "" {
			return fmt.Errorf("user_data_dir is required in launch mode")
		}
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeAttach, ModeLaunch, b.Mode)
	}
	if b.TargetHost == "" {
		return fmt.Errorf("target_host must not be empty")
	}
	if b.ReadyTimeout <= 0 {
		return fmt.Errorf("ready_timeout must be a positive duration")
	}
	return nil
}

// Validate checks the automation overrides. The preset name itself is resolved by the
// automation package.
func (a *AutomationConfig) Validate() error {
	for name, d := range map[string]time.Duration{
		"timeout":             a.Timeout,
		"poll_interval":       a.PollInterval,
		"stabilization_delay": a.StabilizationDelay,
		"retry_backoff":       a.RetryBackoff,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	for name, n := range map[string]int{
		"download_retries": a.DownloadRetries,
		"match_prefix_len": a.MatchPrefixLen,
		"batch_increment":  a.BatchIncrement,
	} {
		if n < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	return nil
}
