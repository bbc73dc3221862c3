package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Log       LogConfig       `mapstructure:"log"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Search    SearchConfig    `mapstructure:"search"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Usage     UsageConfig     `mapstructure:"usage"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StorageConfig struct {
	Type           string        `mapstructure:"type"`
	DataDir        string        `mapstructure:"data_dir"`
	DSN            string        `mapstructure:"dsn"`
	BackupInterval time.Duration `mapstructure:"backup_interval"`
}

// ProviderConfig holds credentials for one upstream. An empty APIKey means
// the provider's models are unavailable.
type ProviderConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ProvidersConfig struct {
	OpenAI     ProviderConfig `mapstructure:"openai"`
	OpenRouter ProviderConfig `mapstructure:"openrouter"`
	Gateway    ProviderConfig `mapstructure:"gateway"`
	Doubao     ProviderConfig `mapstructure:"doubao"`
	Qwen       ProviderConfig `mapstructure:"qwen"`
}

// ByName maps a provider key to its credentials.
func (p ProvidersConfig) ByName() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"openai":     p.OpenAI,
		"openrouter": p.OpenRouter,
		"gateway":    p.Gateway,
		"doubao":     p.Doubao,
		"qwen":       p.Qwen,
	}
}

type ChatConfig struct {
	SystemPrompt       string        `mapstructure:"system_prompt"`
	DefaultModel       string        `mapstructure:"default_model"`
	TitleModel         string        `mapstructure:"title_model"`
	MaxSteps           int           `mapstructure:"max_steps"`
	MaxOutputTokens    int           `mapstructure:"max_output_tokens"`
	MaxHistoryMessages int           `mapstructure:"max_history_messages"`
	TitleTimeout       time.Duration `mapstructure:"title_timeout"`
	StreamTimeout      time.Duration `mapstructure:"stream_timeout"`
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
	EnableMemory       bool          `mapstructure:"enable_memory"`
	RetryAttempts      int           `mapstructure:"retry_attempts"`
	RetryBackoff       time.Duration `mapstructure:"retry_backoff"`
}

type SearchConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url"`
	NumResults    int           `mapstructure:"num_results"`
	MaxCharacters int           `mapstructure:"max_characters"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type UsageConfig struct {
	Backend   string `mapstructure:"backend"`
	RedisAddr string `mapstructure:"redis_addr"`
	RedisDB   int    `mapstructure:"redis_db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type MCPServerConfig struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

type ToolsConfig struct {
	MCPServers  []MCPServerConfig `mapstructure:"mcp_servers"`
	LoadTimeout time.Duration     `mapstructure:"load_timeout"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Exporter    string `mapstructure:"exporter"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.max_header_bytes", 1<<20)
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Type", "Authorization"})
	v.SetDefault("cors.max_age", 43200)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("chat.default_model", "gpt-4o-mini")
	v.SetDefault("chat.title_model", "gpt-4.1-nano")
	v.SetDefault("chat.max_steps", 5)
	v.SetDefault("chat.max_output_tokens", 8192)
	v.SetDefault("chat.max_history_messages", 100)
	v.SetDefault("chat.title_timeout", 15*time.Second)
	v.SetDefault("chat.stream_timeout", 10*time.Minute)
	v.SetDefault("chat.heartbeat_interval", 30*time.Second)
	v.SetDefault("chat.enable_memory", true)
	v.SetDefault("chat.retry_attempts", 3)
	v.SetDefault("chat.retry_backoff", 500*time.Millisecond)
	v.SetDefault("search.base_url", "https://api.exa.ai")
	v.SetDefault("search.num_results", 5)
	v.SetDefault("search.max_characters", 1000)
	v.SetDefault("search.timeout", 10*time.Second)
	v.SetDefault("usage.backend", "storage")
	v.SetDefault("usage.key_prefix", "speedchat:usage:")
	v.SetDefault("tools.load_timeout", 30*time.Second)
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.service_name", "speedchat-backend")
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("CHAT")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", configPath, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyEnvFallbacks(cfg)

	return cfg, nil
}

// The config file wins; conventional environment variables only fill gaps.
func applyEnvFallbacks(cfg *Config) {
	fill := func(dst *string, names ...string) {
		if *dst != "" {
			return
		}
		for _, name := range names {
			if v := os.Getenv(name); v != "" {
				*dst = v
				return
			}
		}
	}
	fill(&cfg.Providers.OpenAI.APIKey, "OPENAI_API_KEY")
	fill(&cfg.Providers.OpenRouter.APIKey, "OPENROUTER_API_KEY")
	fill(&cfg.Providers.Gateway.APIKey, "AI_GATEWAY_API_KEY")
	fill(&cfg.Providers.Doubao.APIKey, "ARK_API_KEY", "DOUBAO_API_KEY")
	fill(&cfg.Providers.Qwen.APIKey, "DASHSCOPE_API_KEY")
	fill(&cfg.Search.APIKey, "EXA_API_KEY")
	fill(&cfg.Auth.JWTSecret, "CHAT_JWT_SECRET")
	fill(&cfg.Storage.DSN, "DATABASE_URL")
}

// Validate checks the settings that are not covered by the model catalog.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive")
	}
	switch c.Storage.Type {
	case "memory", "disk":
	case "sqlite", "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for %s storage", c.Storage.Type)
		}
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}
	switch c.Usage.Backend {
	case "storage":
	case "redis":
		if c.Usage.RedisAddr == "" {
			return fmt.Errorf("usage.redis_addr is required for redis usage backend")
		}
	default:
		return fmt.Errorf("unknown usage backend %q", c.Usage.Backend)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	// A tool step needs a following step to answer in.
	if c.Chat.MaxSteps < 2 {
		return fmt.Errorf("chat.max_steps must be at least 2")
	}
	return nil
}

// ValidateModels rejects a default or title model the catalog does not
// know.
func (c *Config) ValidateModels(known func(id string) bool) error {
	if !known(c.Chat.DefaultModel) {
		return fmt.Errorf("chat.default_model %q is not in the model catalog", c.Chat.DefaultModel)
	}
	if !known(c.Chat.TitleModel) {
		return fmt.Errorf("chat.title_model %q is not in the model catalog", c.Chat.TitleModel)
	}
	return nil
}
