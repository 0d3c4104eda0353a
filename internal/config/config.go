package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/screenguard/internal/env"
	"github.com/loykin/screenguard/internal/logger"
	itls "github.com/loykin/screenguard/internal/tls"
)

// EnvPrefix prefixes environment overrides, e.g. SCREENGUARD_ANALYZER_TIMEOUT.
const EnvPrefix = "SCREENGUARD"

// Config is the full screenguard configuration.
type Config struct {
	AppID           string        `toml:"app_id" mapstructure:"app_id"`
	Interval        time.Duration `toml:"interval" mapstructure:"interval"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" mapstructure:"shutdown_timeout"`

	Storage  StorageConfig  `toml:"storage" mapstructure:"storage"`
	Capture  CaptureConfig  `toml:"capture" mapstructure:"capture"`
	Analyzer AnalyzerConfig `toml:"analyzer" mapstructure:"analyzer"`
	Log      LogConfig      `toml:"log" mapstructure:"log"`
	Metrics  MetricsConfig  `toml:"metrics" mapstructure:"metrics"`
	Server   ServerConfig   `toml:"server" mapstructure:"server"`
	Sinks    SinksConfig    `toml:"sinks" mapstructure:"sinks"`
	TUI      TUIConfig      `toml:"tui" mapstructure:"tui"`

	// base is the directory relative paths are resolved against.
	base string
}

type StorageConfig struct {
	// Dir overrides <home>/.cache/<app_id>/screenshots.
	Dir string `toml:"dir" mapstructure:"dir"`
}

type CaptureConfig struct {
	// Display index; -1 captures all displays as one image.
	Display int `toml:"display" mapstructure:"display"`
}

type AnalyzerConfig struct {
	Dir            string        `toml:"dir" mapstructure:"dir"`
	EnvDir         string        `toml:"env_dir" mapstructure:"env_dir"`
	Requirements   string        `toml:"requirements" mapstructure:"requirements"`
	Python         string        `toml:"python" mapstructure:"python"`
	Role           string        `toml:"role" mapstructure:"role"`
	Model          string        `toml:"model" mapstructure:"model"`
	Args           []string      `toml:"args" mapstructure:"args"`
	Timeout        time.Duration `toml:"timeout" mapstructure:"timeout"`
	StderrAsError  bool          `toml:"stderr_as_error" mapstructure:"stderr_as_error"`
	StderrLog      string        `toml:"stderr_log" mapstructure:"stderr_log"`
	Env            []string      `toml:"env" mapstructure:"env"`
	EnvFiles       []string      `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv       bool          `toml:"use_os_env" mapstructure:"use_os_env"`
	SampleInterval time.Duration `toml:"sample_interval" mapstructure:"sample_interval"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
}

type ServerConfig struct {
	// Listen enables the HTTP API when non-empty, e.g. "127.0.0.1:8787".
	Listen   string    `toml:"listen" mapstructure:"listen"`
	BasePath string    `toml:"base_path" mapstructure:"base_path"`
	TLS      TLSConfig `toml:"tls" mapstructure:"tls"`
}

type TLSConfig struct {
	Enabled      bool     `toml:"enabled" mapstructure:"enabled"`
	CertFile     string   `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string   `toml:"key_file" mapstructure:"key_file"`
	Dir          string   `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool     `toml:"auto_generate" mapstructure:"auto_generate"`
	Hosts        []string `toml:"hosts" mapstructure:"hosts"`
	MinVersion   string   `toml:"min_version" mapstructure:"min_version"`
}

type SinksConfig struct {
	// Queue bounds each sink's backlog.
	Queue   int           `toml:"queue" mapstructure:"queue"`
	Console ConsoleSink   `toml:"console" mapstructure:"console"`
	Webhook WebhookSink   `toml:"webhook" mapstructure:"webhook"`
	Redis   RedisSink     `toml:"redis" mapstructure:"redis"`
	History HistorySink   `toml:"history" mapstructure:"history"`
	Timeout time.Duration `toml:"send_timeout" mapstructure:"send_timeout"`
}

type ConsoleSink struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
}

type WebhookSink struct {
	URL       string            `toml:"url" mapstructure:"url"`
	Headers   map[string]string `toml:"headers" mapstructure:"headers"`
	Timeout   time.Duration     `toml:"timeout" mapstructure:"timeout"`
	Retries   int               `toml:"retries" mapstructure:"retries"`
	Countdown bool              `toml:"countdown" mapstructure:"countdown"`
}

type RedisSink struct {
	URL       string        `toml:"url" mapstructure:"url"`
	Channel   string        `toml:"channel" mapstructure:"channel"`
	Timeout   time.Duration `toml:"timeout" mapstructure:"timeout"`
	Retries   int           `toml:"retries" mapstructure:"retries"`
	Countdown bool          `toml:"countdown" mapstructure:"countdown"`
}

type HistorySink struct {
	// DSN selects the journal backend (sqlite, postgres, clickhouse, opensearch).
	DSN       string `toml:"dsn" mapstructure:"dsn"`
	Countdown bool   `toml:"countdown" mapstructure:"countdown"`
}

type TUIConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
	// Recent bounds the error list shown in the window.
	Recent int `toml:"recent" mapstructure:"recent"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		AppID:           "screenguard",
		Interval:        30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		Capture:         CaptureConfig{Display: 0},
		Analyzer: AnalyzerConfig{
			Dir:           "logic",
			Role:          "developer",
			Model:         "gemini",
			StderrAsError: true,
			UseOSEnv:      true,
		},
		Log:     LogConfig{Level: "info", Format: "text", Color: true},
		Sinks:   SinksConfig{Queue: 64, Console: ConsoleSink{Enabled: true}, Timeout: 10 * time.Second},
		TUI:     TUIConfig{Recent: 5},
		Metrics: MetricsConfig{},
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("app_id", d.AppID)
	v.SetDefault("interval", d.Interval)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("storage.dir", d.Storage.Dir)
	v.SetDefault("capture.display", d.Capture.Display)

	a := d.Analyzer
	v.SetDefault("analyzer.dir", a.Dir)
	v.SetDefault("analyzer.env_dir", a.EnvDir)
	v.SetDefault("analyzer.requirements", a.Requirements)
	v.SetDefault("analyzer.python", a.Python)
	v.SetDefault("analyzer.role", a.Role)
	v.SetDefault("analyzer.model", a.Model)
	v.SetDefault("analyzer.args", a.Args)
	v.SetDefault("analyzer.timeout", a.Timeout)
	v.SetDefault("analyzer.stderr_as_error", a.StderrAsError)
	v.SetDefault("analyzer.stderr_log", a.StderrLog)
	v.SetDefault("analyzer.env", a.Env)
	v.SetDefault("analyzer.env_files", a.EnvFiles)
	v.SetDefault("analyzer.use_os_env", a.UseOSEnv)
	v.SetDefault("analyzer.sample_interval", a.SampleInterval)

	l := d.Log
	v.SetDefault("log.level", l.Level)
	v.SetDefault("log.format", l.Format)
	v.SetDefault("log.color", l.Color)
	v.SetDefault("log.file", l.File)
	v.SetDefault("log.max_size_mb", l.MaxSizeMB)
	v.SetDefault("log.max_backups", l.MaxBackups)
	v.SetDefault("log.max_age_days", l.MaxAgeDays)
	v.SetDefault("log.compress", l.Compress)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.base_path", d.Server.BasePath)
	v.SetDefault("server.tls.enabled", d.Server.TLS.Enabled)
	v.SetDefault("server.tls.cert_file", d.Server.TLS.CertFile)
	v.SetDefault("server.tls.key_file", d.Server.TLS.KeyFile)
	v.SetDefault("server.tls.dir", d.Server.TLS.Dir)
	v.SetDefault("server.tls.auto_generate", d.Server.TLS.AutoGenerate)
	v.SetDefault("server.tls.min_version", d.Server.TLS.MinVersion)

	s := d.Sinks
	v.SetDefault("sinks.queue", s.Queue)
	v.SetDefault("sinks.send_timeout", s.Timeout)
	v.SetDefault("sinks.console.enabled", s.Console.Enabled)
	v.SetDefault("sinks.webhook.url", s.Webhook.URL)
	v.SetDefault("sinks.webhook.timeout", s.Webhook.Timeout)
	v.SetDefault("sinks.webhook.retries", s.Webhook.Retries)
	v.SetDefault("sinks.webhook.countdown", s.Webhook.Countdown)
	v.SetDefault("sinks.redis.url", s.Redis.URL)
	v.SetDefault("sinks.redis.channel", s.Redis.Channel)
	v.SetDefault("sinks.redis.timeout", s.Redis.Timeout)
	v.SetDefault("sinks.redis.retries", s.Redis.Retries)
	v.SetDefault("sinks.redis.countdown", s.Redis.Countdown)
	v.SetDefault("sinks.history.dsn", s.History.DSN)
	v.SetDefault("sinks.history.countdown", s.History.Countdown)

	v.SetDefault("tui.enabled", d.TUI.Enabled)
	v.SetDefault("tui.recent", d.TUI.Recent)
}

// Load reads path (TOML unless the extension names another viper format),
// applies SCREENGUARD_* environment overrides and validates the result.
// An empty path loads defaults plus environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	base, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working dir: %w", err)
	}
	if path != "" {
		v.SetConfigFile(path)
		if filepath.Ext(path) == "" {
			v.SetConfigType("toml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if abs, err := filepath.Abs(path); err == nil {
			base = filepath.Dir(abs)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.base = base
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.AppID) == "" {
		errs = append(errs, errors.New("app_id must not be empty"))
	} else if strings.ContainsAny(c.AppID, `/\`) || c.AppID == "." || c.AppID == ".." {
		errs = append(errs, fmt.Errorf("app_id %q must be a single path element", c.AppID))
	}
	if c.Interval < time.Second {
		errs = append(errs, fmt.Errorf("interval must be at least 1s, got %s", c.Interval))
	}
	if c.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("shutdown_timeout must not be negative"))
	}
	if c.Capture.Display < -1 {
		errs = append(errs, fmt.Errorf("capture.display must be -1 or a display index, got %d", c.Capture.Display))
	}
	if strings.TrimSpace(c.Analyzer.Dir) == "" {
		errs = append(errs, errors.New("analyzer.dir must not be empty"))
	}
	if c.Analyzer.Role == "" || c.Analyzer.Model == "" {
		errs = append(errs, errors.New("analyzer.role and analyzer.model must not be empty"))
	}
	if c.Analyzer.Timeout < 0 {
		errs = append(errs, errors.New("analyzer.timeout must not be negative"))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Sinks.Queue < 0 {
		errs = append(errs, errors.New("sinks.queue must not be negative"))
	}
	if c.Sinks.Webhook.Retries < 0 || c.Sinks.Redis.Retries < 0 {
		errs = append(errs, errors.New("sink retries must not be negative"))
	}
	if t := c.Server.TLS; t.Enabled {
		if (t.CertFile == "" || t.KeyFile == "") && t.Dir == "" {
			errs = append(errs, errors.New("server.tls needs cert_file and key_file, or dir"))
		}
		if err := itls.ParseVersion(t.MinVersion); err != nil {
			errs = append(errs, fmt.Errorf("server.tls.min_version: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if c.base == "" {
		if abs, err := filepath.Abs(p); err == nil {
			return abs
		}
		return p
	}
	return filepath.Join(c.base, p)
}

// LogicDir is the analyzer program directory as an absolute path.
func (c *Config) LogicDir() string { return c.resolve(c.Analyzer.Dir) }

// EnvDir is the analyzer environment directory, <logic>/venv unless set.
func (c *Config) EnvDir() string {
	if c.Analyzer.EnvDir != "" {
		return c.resolve(c.Analyzer.EnvDir)
	}
	return filepath.Join(c.LogicDir(), "venv")
}

// Requirements is the dependency manifest, <logic>/requirements.txt unless set.
func (c *Config) Requirements() string {
	if c.Analyzer.Requirements != "" {
		return c.resolve(c.Analyzer.Requirements)
	}
	return filepath.Join(c.LogicDir(), "requirements.txt")
}

// StorageDir returns the configured screenshot directory override, if any.
func (c *Config) StorageDir() string { return c.resolve(c.Storage.Dir) }

// StderrLogPath is the resolved analyzer stderr log file, empty when disabled.
func (c *Config) StderrLogPath() string { return c.resolve(c.Analyzer.StderrLog) }

// TLSOptions maps server.tls onto the certificate loader; nil when disabled.
func (c *Config) TLSOptions() *itls.Options {
	t := c.Server.TLS
	if !t.Enabled {
		return nil
	}
	return &itls.Options{
		CertFile:     c.resolve(t.CertFile),
		KeyFile:      c.resolve(t.KeyFile),
		Dir:          c.resolve(t.Dir),
		AutoGenerate: t.AutoGenerate,
		Hosts:        t.Hosts,
		MinVersion:   t.MinVersion,
	}
}

// LoggerConfig maps the [log] section onto internal/logger.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Log.Level,
		Format: c.Log.Format,
		Color:  c.Log.Color,
		File: logger.FileConfig{
			Path:       c.resolve(c.Log.File),
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		},
	}
}

// AnalyzerEnv composes the analyzer's environment. The OS environment is the
// base when use_os_env is set; env_files are applied in order, then the env
// list; finally the interpreter environment is activated. ${VAR} references
// are expanded. PATH is inherited even without use_os_env.
func (c *Config) AnalyzerEnv() ([]string, error) {
	e := env.New()
	if c.Analyzer.UseOSEnv {
		e.FromOS()
	} else {
		e.FromList([]string{"PATH=" + os.Getenv("PATH")})
	}
	for _, p := range c.Analyzer.EnvFiles {
		pairs, err := LoadEnvFile(c.resolve(p))
		if err != nil {
			return nil, fmt.Errorf("analyzer env file: %w", err)
		}
		e.SetList(pairs)
	}
	e.SetList(c.Analyzer.Env)
	e.Activate(c.EnvDir())
	return e.Merge(), nil
}

// LoadEnvFile parses a simple .env file and returns a slice of "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
