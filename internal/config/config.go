package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"snipbridge/internal/retry"
)

const (
	defaultAgentEndpoint      = "http://127.0.0.1:8090"
	defaultAgentModel         = "gpt-4.1-mini"
	defaultToolLabel          = "Azure_Functions_MCP_Server"
	defaultToolURL            = "http://127.0.0.1:7071/api"
	defaultUserMessage        = "Create a snippet called snippet1 that prints 'Hello, World!' in Python."
	defaultPollInterval       = "1s"
	defaultMaxPollAttempts    = 600
	defaultRunTimeout         = "10m"
	defaultRunTheme           = "dark"
	defaultToolAddr           = ":7071"
	defaultRateLimitPerMinute = 600
	defaultStoreBackend       = "fs"
	defaultStoreContainer     = "snippets"
	defaultRunServiceAddr     = ":8090"
	defaultRunServiceTurns    = 10
	defaultRunTTL             = "10m"
	defaultProviderName       = "anthropic"
	defaultAnthropicModel     = "claude-sonnet-4-20250514"
	defaultAnthropicVersion   = "2023-06-01"
	defaultRetryMaxRetries    = 3
	defaultRetryBaseDelay     = "300ms"
	defaultRetryMaxDelay      = "5s"
	defaultLogLevel           = "info"
	defaultConfigRelativePath = ".config/snipbridge/config.toml"
	defaultStoreRelativeDir   = ".local/share/snipbridge"

	envAgentEndpoint      = "PROJECT_ENDPOINT"
	envAgentAPIKey        = "AGENT_SERVICE_API_KEY"
	envAgentModel         = "MODEL_DEPLOYMENT_NAME"
	envToolLabel          = "MCP_SERVER_LABEL"
	envToolURL            = "MCP_SERVER_URL"
	envToolKey            = "MCP_EXTENSION_KEY"
	envUserMessage        = "USER_MESSAGE"
	envPollInterval       = "SNIPBRIDGE_POLL_INTERVAL"
	envMaxPollAttempts    = "SNIPBRIDGE_MAX_POLL_ATTEMPTS"
	envRunTimeout         = "SNIPBRIDGE_RUN_TIMEOUT"
	envToolAddr           = "SNIPBRIDGE_TOOL_ADDR"
	envFunctionKey        = "SNIPBRIDGE_FUNCTION_KEY"
	envRateLimitPerMinute = "SNIPBRIDGE_TOOL_RATE_LIMIT"
	envStoreBackend       = "SNIPBRIDGE_STORE_BACKEND"
	envStoreDir           = "SNIPBRIDGE_STORE_DIR"
	envStoreDSN           = "SNIPBRIDGE_STORE_DSN"
	envStoreContainer     = "SNIPBRIDGE_STORE_CONTAINER"
	envRunServiceAddr     = "SNIPBRIDGE_RUN_SERVICE_ADDR"
	envRunServiceAPIKey   = "SNIPBRIDGE_RUN_SERVICE_API_KEY"
	envRunServiceTurns    = "SNIPBRIDGE_RUN_SERVICE_MAX_TURNS"
	envRunTTL             = "SNIPBRIDGE_RUN_TTL"
	envJournalDir         = "SNIPBRIDGE_JOURNAL_DIR"
	envAnthropicAPIKey    = "ANTHROPIC_API_KEY"
	envAnthropicModel     = "SNIPBRIDGE_ANTHROPIC_MODEL"
	envAnthropicBaseURL   = "SNIPBRIDGE_ANTHROPIC_BASE_URL"
	envAnthropicVersion   = "SNIPBRIDGE_ANTHROPIC_VERSION"
	envRetryMaxRetries    = "SNIPBRIDGE_ANTHROPIC_RETRY_MAX_RETRIES"
	envRetryBaseDelay     = "SNIPBRIDGE_ANTHROPIC_RETRY_BASE_DELAY"
	envRetryMaxDelay      = "SNIPBRIDGE_ANTHROPIC_RETRY_MAX_DELAY"
	envLogLevel           = "SNIPBRIDGE_LOG_LEVEL"
	envLogNoColor         = "NO_COLOR"
)

// Store backends.
const (
	BackendFS       = "fs"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

var (
	// ErrInvalidConfig indicates malformed configuration input.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrMissingToolKey indicates the tool invocation key needed by `run` is not set.
	ErrMissingToolKey = errors.New("tool key is required (set MCP_EXTENSION_KEY or tool.key)")
)

// Config is the application configuration root.
type Config struct {
	AgentService AgentServiceConfig `toml:"agent_service"`
	Tool         ToolConfig         `toml:"tool"`
	Run          RunConfig          `toml:"run"`
	ToolServer   ToolServerConfig   `toml:"tool_server"`
	Store        StoreConfig        `toml:"store"`
	RunService   RunServiceConfig   `toml:"run_service"`
	Provider     ProviderConfig     `toml:"provider"`
	Log          LogConfig          `toml:"log"`
}

// AgentServiceConfig locates the Agent-Run API used by `run`.
type AgentServiceConfig struct {
	Endpoint string `toml:"endpoint"`
	APIKey   string `toml:"api_key"`
	Model    string `toml:"model"`
}

// ToolConfig describes the tool server as declared to the agent.
type ToolConfig struct {
	Label string `toml:"label"`
	URL   string `toml:"url"`
	Key   string `toml:"key"`
}

// RunConfig configures one orchestration.
type RunConfig struct {
	UserMessage     string `toml:"user_message"`
	PollInterval    string `toml:"poll_interval"`
	MaxPollAttempts int    `toml:"max_poll_attempts"`
	Timeout         string `toml:"timeout"`
	Theme           string `toml:"theme"`
}

// ToolServerConfig configures `tools serve`.
type ToolServerConfig struct {
	Addr               string `toml:"addr"`
	FunctionKey        string `toml:"function_key"`
	RateLimitPerMinute int    `toml:"rate_limit_per_minute"`
	RateLimitBurst     int    `toml:"rate_limit_burst"`
}

// StoreConfig selects the snippet object store.
type StoreConfig struct {
	Backend   string `toml:"backend"`
	Dir       string `toml:"dir"`
	DSN       string `toml:"dsn"`
	Container string `toml:"container"`
}

// RunServiceConfig configures `agents serve`.
type RunServiceConfig struct {
	Addr           string   `toml:"addr"`
	APIKey         string   `toml:"api_key"`
	MaxTurns       int      `toml:"max_turns"`
	RunTTL         string   `toml:"run_ttl"`
	JournalDir     string   `toml:"journal_dir"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// ProviderConfig configures model providers.
type ProviderConfig struct {
	Default   string                  `toml:"default"`
	Anthropic AnthropicProviderConfig `toml:"anthropic"`
}

// AnthropicProviderConfig configures Anthropic-specific runtime values.
type AnthropicProviderConfig struct {
	APIKey  string      `toml:"api_key"`
	Model   string      `toml:"model"`
	BaseURL string      `toml:"base_url"`
	Version string      `toml:"version"`
	Retry   RetryConfig `toml:"retry"`
}

// RetryConfig stores retry policy as config-friendly values.
type RetryConfig struct {
	MaxRetries int    `toml:"max_retries"`
	BaseDelay  string `toml:"base_delay"`
	MaxDelay   string `toml:"max_delay"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level   string `toml:"level"`
	NoColor bool   `toml:"no_color"`
}

// LoadOptions controls config loading behavior.
type LoadOptions struct {
	Path string
}

// RunSettings is the parsed orchestration configuration.
type RunSettings struct {
	PollInterval    time.Duration
	MaxPollAttempts int
	Timeout         time.Duration
}

// RunServiceSettings is the parsed run service configuration.
type RunServiceSettings struct {
	RunTTL time.Duration
}

// AnthropicSettings is a validated Anthropic runtime settings snapshot.
type AnthropicSettings struct {
	APIKey  string
	Model   string
	BaseURL string
	Version string
	Retry   retry.Policy
}

// Default returns application defaults.
func Default() Config {
	return Config{
		AgentService: AgentServiceConfig{
			Endpoint: defaultAgentEndpoint,
			Model:    defaultAgentModel,
		},
		Tool: ToolConfig{
			Label: defaultToolLabel,
			URL:   defaultToolURL,
		},
		Run: RunConfig{
			UserMessage:     defaultUserMessage,
			PollInterval:    defaultPollInterval,
			MaxPollAttempts: defaultMaxPollAttempts,
			Timeout:         defaultRunTimeout,
			Theme:           defaultRunTheme,
		},
		ToolServer: ToolServerConfig{
			Addr:               defaultToolAddr,
			RateLimitPerMinute: defaultRateLimitPerMinute,
		},
		Store: StoreConfig{
			Backend:   defaultStoreBackend,
			Dir:       defaultStoreDir(),
			Container: defaultStoreContainer,
		},
		RunService: RunServiceConfig{
			Addr:     defaultRunServiceAddr,
			MaxTurns: defaultRunServiceTurns,
			RunTTL:   defaultRunTTL,
		},
		Provider: ProviderConfig{
			Default: defaultProviderName,
			Anthropic: AnthropicProviderConfig{
				Model:   defaultAnthropicModel,
				Version: defaultAnthropicVersion,
				Retry: RetryConfig{
					MaxRetries: defaultRetryMaxRetries,
					BaseDelay:  defaultRetryBaseDelay,
					MaxDelay:   defaultRetryMaxDelay,
				},
			},
		},
		Log: LogConfig{
			Level: defaultLogLevel,
		},
	}
}

// Load reads config file then applies environment variable overrides.
func Load(opts LoadOptions) (Config, error) {
	cfg := Default()

	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = defaultConfigPath()
	}

	if err := mergeConfigFile(&cfg, path); err != nil {
		return Config{}, err
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// RequireToolKey fails fast when the tool invocation key is missing.
func (c Config) RequireToolKey() error {
	if strings.TrimSpace(c.Tool.Key) == "" {
		return ErrMissingToolKey
	}
	return nil
}

// RunSettings parses the orchestration durations.
func (c Config) RunSettings() (RunSettings, error) {
	interval, err := parsePositiveDuration("run.poll_interval", c.Run.PollInterval)
	if err != nil {
		return RunSettings{}, err
	}
	timeout, err := parsePositiveDuration("run.timeout", c.Run.Timeout)
	if err != nil {
		return RunSettings{}, err
	}
	if c.Run.MaxPollAttempts <= 0 {
		return RunSettings{}, fmt.Errorf("%w: run.max_poll_attempts must be > 0", ErrInvalidConfig)
	}
	return RunSettings{
		PollInterval:    interval,
		MaxPollAttempts: c.Run.MaxPollAttempts,
		Timeout:         timeout,
	}, nil
}

// RunServiceSettings parses the run service durations.
func (c Config) RunServiceSettings() (RunServiceSettings, error) {
	ttl, err := parsePositiveDuration("run_service.run_ttl", c.RunService.RunTTL)
	if err != nil {
		return RunServiceSettings{}, err
	}
	return RunServiceSettings{RunTTL: ttl}, nil
}

// AnthropicSettings returns validated settings suitable for runtime wiring.
func (c Config) AnthropicSettings() (AnthropicSettings, error) {
	baseDelay, err := time.ParseDuration(strings.TrimSpace(c.Provider.Anthropic.Retry.BaseDelay))
	if err != nil {
		return AnthropicSettings{}, fmt.Errorf("%w: parse anthropic retry base_delay: %v", ErrInvalidConfig, err)
	}
	maxDelay, err := time.ParseDuration(strings.TrimSpace(c.Provider.Anthropic.Retry.MaxDelay))
	if err != nil {
		return AnthropicSettings{}, fmt.Errorf("%w: parse anthropic retry max_delay: %v", ErrInvalidConfig, err)
	}
	if c.Provider.Anthropic.Retry.MaxRetries < 0 {
		return AnthropicSettings{}, fmt.Errorf("%w: anthropic retry max_retries must be >= 0", ErrInvalidConfig)
	}

	maxRetries := c.Provider.Anthropic.Retry.MaxRetries
	if maxRetries == 0 {
		maxRetries = -1
	}
	return AnthropicSettings{
		APIKey:  strings.TrimSpace(c.Provider.Anthropic.APIKey),
		Model:   strings.TrimSpace(c.Provider.Anthropic.Model),
		BaseURL: strings.TrimSpace(c.Provider.Anthropic.BaseURL),
		Version: strings.TrimSpace(c.Provider.Anthropic.Version),
		Retry: retry.Policy{
			MaxRetries: maxRetries,
			BaseDelay:  baseDelay,
			MaxDelay:   maxDelay,
		},
	}, nil
}

// LogLevel maps log.level onto slog.
func (c Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.Log.Level))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func mergeConfigFile(cfg *Config, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	envString(envAgentEndpoint, &cfg.AgentService.Endpoint)
	envSecret(envAgentAPIKey, &cfg.AgentService.APIKey)
	envString(envAgentModel, &cfg.AgentService.Model)
	envString(envToolLabel, &cfg.Tool.Label)
	envString(envToolURL, &cfg.Tool.URL)
	envSecret(envToolKey, &cfg.Tool.Key)
	envString(envUserMessage, &cfg.Run.UserMessage)
	envString(envPollInterval, &cfg.Run.PollInterval)
	envString(envRunTimeout, &cfg.Run.Timeout)
	envString(envToolAddr, &cfg.ToolServer.Addr)
	envSecret(envFunctionKey, &cfg.ToolServer.FunctionKey)
	envString(envStoreBackend, &cfg.Store.Backend)
	envString(envStoreDir, &cfg.Store.Dir)
	envSecret(envStoreDSN, &cfg.Store.DSN)
	envString(envStoreContainer, &cfg.Store.Container)
	envString(envRunServiceAddr, &cfg.RunService.Addr)
	envSecret(envRunServiceAPIKey, &cfg.RunService.APIKey)
	envString(envRunTTL, &cfg.RunService.RunTTL)
	envString(envJournalDir, &cfg.RunService.JournalDir)
	envSecret(envAnthropicAPIKey, &cfg.Provider.Anthropic.APIKey)
	envString(envAnthropicModel, &cfg.Provider.Anthropic.Model)
	envString(envAnthropicBaseURL, &cfg.Provider.Anthropic.BaseURL)
	envString(envAnthropicVersion, &cfg.Provider.Anthropic.Version)
	envString(envRetryBaseDelay, &cfg.Provider.Anthropic.Retry.BaseDelay)
	envString(envRetryMaxDelay, &cfg.Provider.Anthropic.Retry.MaxDelay)
	envString(envLogLevel, &cfg.Log.Level)
	if value, ok := os.LookupEnv(envLogNoColor); ok && value != "" {
		cfg.Log.NoColor = true
	}

	for name, target := range map[string]*int{
		envMaxPollAttempts:    &cfg.Run.MaxPollAttempts,
		envRateLimitPerMinute: &cfg.ToolServer.RateLimitPerMinute,
		envRunServiceTurns:    &cfg.RunService.MaxTurns,
		envRetryMaxRetries:    &cfg.Provider.Anthropic.Retry.MaxRetries,
	} {
		if err := envInt(name, target); err != nil {
			return err
		}
	}
	return nil
}

// envString overrides target with a non-blank, trimmed variable.
func envString(name string, target *string) {
	if value, ok := os.LookupEnv(name); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

// envSecret overrides target whenever the variable is set, so an empty value clears a file secret.
func envSecret(name string, target *string) {
	if value, ok := os.LookupEnv(name); ok {
		*target = value
	}
}

func envInt(name string, target *int) error {
	value, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, name, err)
	}
	*target = parsed
	return nil
}

func validate(cfg Config) error {
	if err := validateURL("agent_service.endpoint", cfg.AgentService.Endpoint); err != nil {
		return err
	}
	if err := validateURL("tool.url", cfg.Tool.URL); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.AgentService.Model) == "" {
		return fmt.Errorf("%w: agent_service.model is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Tool.Label) == "" {
		return fmt.Errorf("%w: tool.label is required", ErrInvalidConfig)
	}
	if _, err := cfg.RunSettings(); err != nil {
		return err
	}
	if _, err := cfg.RunServiceSettings(); err != nil {
		return err
	}
	if cfg.ToolServer.RateLimitPerMinute < 0 {
		return fmt.Errorf("%w: tool_server.rate_limit_per_minute must be >= 0", ErrInvalidConfig)
	}
	if cfg.RunService.MaxTurns <= 0 {
		return fmt.Errorf("%w: run_service.max_turns must be > 0", ErrInvalidConfig)
	}

	switch strings.TrimSpace(cfg.Store.Backend) {
	case BackendFS:
		if strings.TrimSpace(cfg.Store.Dir) == "" {
			return fmt.Errorf("%w: store.dir is required for the fs backend", ErrInvalidConfig)
		}
	case BackendMemory:
	case BackendPostgres:
		if strings.TrimSpace(cfg.Store.DSN) == "" {
			return fmt.Errorf("%w: store.dsn is required for the postgres backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store.backend %q", ErrInvalidConfig, cfg.Store.Backend)
	}
	if strings.TrimSpace(cfg.Store.Container) == "" {
		return fmt.Errorf("%w: store.container is required", ErrInvalidConfig)
	}

	if strings.TrimSpace(cfg.Provider.Default) != defaultProviderName {
		return fmt.Errorf("%w: unsupported provider.default %q", ErrInvalidConfig, cfg.Provider.Default)
	}
	if strings.TrimSpace(cfg.Provider.Anthropic.Model) == "" {
		return fmt.Errorf("%w: provider.anthropic.model is required", ErrInvalidConfig)
	}
	if _, err := cfg.AnthropicSettings(); err != nil {
		return err
	}
	return nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %s must be an http(s) URL, got %q", ErrInvalidConfig, field, raw)
	}
	return nil
}

func parsePositiveDuration(field, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %s must be > 0", ErrInvalidConfig, field)
	}
	return d, nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, defaultConfigRelativePath)
}

func defaultStoreDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, defaultStoreRelativeDir)
}
