package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/samsaffron/term-chat/internal/dispatch"
	"github.com/samsaffron/term-chat/internal/llm"
	"github.com/samsaffron/term-chat/internal/orchestrator"
	"github.com/samsaffron/term-chat/internal/session"
)

type Config struct {
	Endpoint EndpointConfig `mapstructure:"endpoint" yaml:"endpoint"`
	Tools    ToolsConfig    `mapstructure:"tools" yaml:"tools"`
	Dispatch DispatchConfig `mapstructure:"dispatch" yaml:"dispatch"`
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Session  session.Config `mapstructure:"session" yaml:"session"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// EndpointConfig configures the streaming chat endpoint.
type EndpointConfig struct {
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	Model       string        `mapstructure:"model" yaml:"model"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`       // Non-streaming calls only
	KeepAlive   string        `mapstructure:"keep_alive" yaml:"keep_alive"` // How long the server keeps the model loaded
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	NumCtx      int           `mapstructure:"num_ctx" yaml:"num_ctx"`
}

// ToolsConfig configures tool execution and the MCP host.
type ToolsConfig struct {
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxParallel  int           `mapstructure:"max_parallel" yaml:"max_parallel"`
	Heartbeat    time.Duration `mapstructure:"heartbeat" yaml:"heartbeat"`
	DrainBytes   int64         `mapstructure:"drain_bytes" yaml:"drain_bytes"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout"`
	MCPConfig    string        `mapstructure:"mcp_config" yaml:"mcp_config"` // Path to mcp.json; empty for the default
}

// DispatchConfig tunes how streamed updates reach the screen.
type DispatchConfig struct {
	QueueSize      int           `mapstructure:"queue_size" yaml:"queue_size"`
	MaxBatch       int           `mapstructure:"max_batch" yaml:"max_batch"`
	TimeSlice      time.Duration `mapstructure:"time_slice" yaml:"time_slice"`
	RenderInterval time.Duration `mapstructure:"render_interval" yaml:"render_interval"`
	RenderChars    int           `mapstructure:"render_chars" yaml:"render_chars"`
	RenderCount    int           `mapstructure:"render_count" yaml:"render_count"`
	ActiveDelay    time.Duration `mapstructure:"active_delay" yaml:"active_delay"`
	IdleDelay      time.Duration `mapstructure:"idle_delay" yaml:"idle_delay"`
}

// EngineConfig configures the continuation loop.
type EngineConfig struct {
	MaxContinuations  int           `mapstructure:"max_continuations" yaml:"max_continuations"`
	ContinuationPause time.Duration `mapstructure:"continuation_pause" yaml:"continuation_pause"`
	SystemPrompt      string        `mapstructure:"system_prompt" yaml:"system_prompt"`
}

// LogConfig configures the log file.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	File   string `mapstructure:"file" yaml:"file"` // Empty for term-chat.log in the data dir
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("endpoint.base_url", "http://localhost:11434")
	v.SetDefault("endpoint.model", "llama3.2")
	v.SetDefault("endpoint.timeout", 30*time.Second)
	v.SetDefault("endpoint.keep_alive", "")
	v.SetDefault("endpoint.temperature", 0.0)
	v.SetDefault("endpoint.num_ctx", 0)

	v.SetDefault("tools.timeout", orchestrator.DefaultToolTimeout)
	v.SetDefault("tools.max_parallel", orchestrator.MaxParallelTools)
	keeper := orchestrator.DefaultKeeperOptions()
	v.SetDefault("tools.heartbeat", keeper.Heartbeat)
	v.SetDefault("tools.drain_bytes", keeper.DrainLimit)
	v.SetDefault("tools.drain_timeout", keeper.DrainTimeout)
	v.SetDefault("tools.mcp_config", "")

	d := dispatch.DefaultOptions()
	v.SetDefault("dispatch.queue_size", 256)
	v.SetDefault("dispatch.max_batch", d.MaxBatch)
	v.SetDefault("dispatch.time_slice", d.TimeSlice)
	v.SetDefault("dispatch.render_interval", d.RenderInterval)
	v.SetDefault("dispatch.render_chars", d.RenderChars)
	v.SetDefault("dispatch.render_count", d.RenderCount)
	v.SetDefault("dispatch.active_delay", d.ActiveDelay)
	v.SetDefault("dispatch.idle_delay", d.IdleDelay)

	v.SetDefault("engine.max_continuations", orchestrator.DefaultMaxContinuations)
	v.SetDefault("engine.continuation_pause", 250*time.Millisecond)
	v.SetDefault("engine.system_prompt", "")

	v.SetDefault("session.enabled", true)
	v.SetDefault("session.path", "")
	v.SetDefault("session.max_count", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.pretty", false)
}

// Loader reads the config file and environment, and can watch the file
// for changes.
type Loader struct {
	v    *viper.Viper
	mu   sync.Mutex
	once sync.Once
}

// NewLoader reads configuration from path, or from config.yaml in the
// config directory when path is empty. A missing default file is not an
// error. TERM_CHAT_* environment variables override file values, e.g.
// TERM_CHAT_ENDPOINT_MODEL.
func NewLoader(path string) (*Loader, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("term_chat")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		configPath, err := GetConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get config dir: %w", err)
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return &Loader{v: v}, nil
}

// Load is NewLoader followed by Config.
func Load(path string) (*Config, error) {
	l, err := NewLoader(path)
	if err != nil {
		return nil, err
	}
	return l.Config()
}

// Defaults returns the built-in settings, ignoring any file or environment.
func Defaults() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal defaults: %w", err)
	}
	return &cfg, nil
}

// File returns the config file in use, or "" when running on defaults.
func (l *Loader) File() string {
	return l.v.ConfigFileUsed()
}

// Config decodes the current settings.
func (l *Loader) Config() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Endpoint.BaseURL = expandEnv(cfg.Endpoint.BaseURL)
	cfg.Tools.MCPConfig = expandPath(cfg.Tools.MCPConfig)
	cfg.Session.Path = expandPath(cfg.Session.Path)
	cfg.Log.File = expandPath(cfg.Log.File)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch calls fn with the re-read configuration whenever the config file
// is written. It does nothing when no file is in use.
func (l *Loader) Watch(fn func(*Config, error)) {
	if l.File() == "" {
		return
	}
	l.once.Do(func() {
		l.v.OnConfigChange(func(e fsnotify.Event) {
			if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
				return
			}
			fn(l.Config())
		})
		l.v.WatchConfig()
	})
}

// Validate rejects settings the rest of the program cannot run with.
func (c *Config) Validate() error {
	if c.Endpoint.BaseURL == "" {
		return fmt.Errorf("endpoint.base_url is required")
	}
	if c.Tools.MaxParallel < 1 || c.Tools.MaxParallel > orchestrator.MaxParallelTools {
		return fmt.Errorf("tools.max_parallel must be between 1 and %d", orchestrator.MaxParallelTools)
	}
	if c.Engine.MaxContinuations < 1 {
		return fmt.Errorf("engine.max_continuations must be positive")
	}
	if c.Dispatch.QueueSize < 1 {
		return fmt.Errorf("dispatch.queue_size must be positive")
	}
	return nil
}

// ClientConfig returns the endpoint client settings.
func (c *Config) ClientConfig() llm.Config {
	opts := map[string]any{}
	if c.Endpoint.Temperature != 0 {
		opts["temperature"] = c.Endpoint.Temperature
	}
	if c.Endpoint.NumCtx > 0 {
		opts["num_ctx"] = c.Endpoint.NumCtx
	}
	if len(opts) == 0 {
		opts = nil
	}
	return llm.Config{
		BaseURL:   c.Endpoint.BaseURL,
		Model:     c.Endpoint.Model,
		KeepAlive: c.Endpoint.KeepAlive,
		Timeout:   c.Endpoint.Timeout,
		Options:   opts,
	}
}

// EngineOptions returns the continuation engine settings.
func (c *Config) EngineOptions() orchestrator.EngineOptions {
	return orchestrator.EngineOptions{
		Model:             c.Endpoint.Model,
		SystemPrompt:      c.Engine.SystemPrompt,
		MaxContinuations:  c.Engine.MaxContinuations,
		ContinuationPause: c.Engine.ContinuationPause,
		Keeper: orchestrator.KeeperOptions{
			Heartbeat:    c.Tools.Heartbeat,
			DrainLimit:   c.Tools.DrainBytes,
			DrainTimeout: c.Tools.DrainTimeout,
		},
	}
}

// CoordinatorOptions returns the tool execution settings.
func (c *Config) CoordinatorOptions() orchestrator.CoordinatorOptions {
	return orchestrator.CoordinatorOptions{
		MaxParallel: c.Tools.MaxParallel,
		Timeout:     c.Tools.Timeout,
	}
}

// DispatchOptions returns the render throttle settings.
func (c *Config) DispatchOptions() dispatch.Options {
	d := c.Dispatch
	return dispatch.Options{
		MaxBatch:       d.MaxBatch,
		TimeSlice:      d.TimeSlice,
		RenderInterval: d.RenderInterval,
		RenderChars:    d.RenderChars,
		RenderCount:    d.RenderCount,
		ActiveDelay:    d.ActiveDelay,
		IdleDelay:      d.IdleDelay,
		Markers:        dispatch.DefaultMarkers,
	}
}

// expandEnv expands ${VAR} or $VAR in a string
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// expandPath expands env vars and a leading ~.
func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[1:])
		}
	}
	return p
}

// GetConfigDir returns the XDG config directory for term-chat.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "term-chat"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "term-chat"), nil
}

// GetConfigPath returns the path where the config file should be located
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// LogPath returns the log file to use: the configured one, or
// term-chat.log in the data directory.
func (c *Config) LogPath() (string, error) {
	if c.Log.File != "" {
		return c.Log.File, nil
	}
	dir, err := session.GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "term-chat.log"), nil
}
