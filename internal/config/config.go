package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   Server   `mapstructure:"server"`
	Log      Log      `mapstructure:"log"`
	LLM      LLM      `mapstructure:"llm"`
	Search   Search   `mapstructure:"search"`
	Research Research `mapstructure:"research"`
	YouTube  YouTube  `mapstructure:"youtube"`
	Redis    Redis    `mapstructure:"redis"`
}

type Server struct {
	Port             string `mapstructure:"port"`
	PreviewMaxBytes  int    `mapstructure:"preview_max_bytes"`
	EventBufferSize  int    `mapstructure:"event_buffer_size"`
	TokenFlushMillis int    `mapstructure:"token_flush_ms"`
}

type Log struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	Output      string `mapstructure:"output"`
	FilePath    string `mapstructure:"file_path"`
	Development bool   `mapstructure:"development"`
}

// LLM selects and configures the language model provider.
// Provider is one of openai, anthropic, gemini, ollama, mock; empty means auto-detect
// by whichever API key is present.
type LLM struct {
	Provider        string        `mapstructure:"provider"`
	Model           string        `mapstructure:"model"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	HTTPTimeout     time.Duration `mapstructure:"http_timeout"`
	OpenAIAPIKey    string        `mapstructure:"openai_api_key"`
	OpenAIBaseURL   string        `mapstructure:"openai_base_url"`
	AnthropicAPIKey string        `mapstructure:"anthropic_api_key"`
	AnthropicURL    string        `mapstructure:"anthropic_url"`
	GoogleAPIKey    string        `mapstructure:"google_api_key"`
	OllamaHost      string        `mapstructure:"ollama_host"`
}

type Search struct {
	Provider   string `mapstructure:"provider"` // tavily, brave, duckduckgo, mock
	MaxResults int    `mapstructure:"max_results"`
	TavilyKey  string `mapstructure:"tavily_api_key"`
	TavilyURL  string `mapstructure:"tavily_url"`
	Depth      string `mapstructure:"depth"`
	BraveKey   string `mapstructure:"brave_api_key"`
	FetchPages bool   `mapstructure:"fetch_pages"`
	// Snippets shorter than this are replaced with fetched page text when FetchPages is set.
	MinSnippetChars int `mapstructure:"min_snippet_chars"`
}

type Research struct {
	MaxParallel   int           `mapstructure:"max_parallel"`
	FailurePolicy string        `mapstructure:"failure_policy"` // partial or fail_fast
	CallTimeout   time.Duration `mapstructure:"call_timeout"`
}

type YouTube struct {
	TargetLanguage string `mapstructure:"target_language"`
}

type Redis struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

const envPrefix = "RESEARCH"

// conventional env names accepted in addition to RESEARCH_<SECTION>_<KEY>
var envAliases = map[string][]string{
	"server.port":           {"PORT"},
	"llm.provider":          {"LLM_PROVIDER"},
	"llm.model":             {"LLM_MODEL"},
	"llm.openai_api_key":    {"OPENAI_API_KEY"},
	"llm.openai_base_url":   {"OPENAI_API_BASE"},
	"llm.anthropic_api_key": {"ANTHROPIC_API_KEY"},
	"llm.anthropic_url":     {"ANTHROPIC_API_URL"},
	"llm.google_api_key":    {"GOOGLE_API_KEY"},
	"llm.ollama_host":       {"OLLAMA_HOST"},
	"search.tavily_api_key": {"TAVILY_API_KEY"},
	"search.brave_api_key":  {"BRAVE_API_KEY"},
	"redis.addr":            {"REDIS_ADDR"},
	"redis.password":        {"REDIS_PASSWORD"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.preview_max_bytes", 20000)
	v.SetDefault("server.event_buffer_size", 64)
	v.SetDefault("server.token_flush_ms", 100)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file_path", "")
	v.SetDefault("log.development", false)

	v.SetDefault("llm.provider", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.http_timeout", 45*time.Second)
	v.SetDefault("llm.openai_api_key", "")
	v.SetDefault("llm.openai_base_url", "")
	v.SetDefault("llm.anthropic_api_key", "")
	v.SetDefault("llm.anthropic_url", "")
	v.SetDefault("llm.google_api_key", "")
	v.SetDefault("llm.ollama_host", "")

	v.SetDefault("search.provider", "")
	v.SetDefault("search.max_results", 5)
	v.SetDefault("search.tavily_api_key", "")
	v.SetDefault("search.tavily_url", "")
	v.SetDefault("search.depth", "basic")
	v.SetDefault("search.brave_api_key", "")
	v.SetDefault("search.fetch_pages", false)
	v.SetDefault("search.min_snippet_chars", 200)

	v.SetDefault("research.max_parallel", 0)
	v.SetDefault("research.failure_policy", "partial")
	v.SetDefault("research.call_timeout", 60*time.Second)

	v.SetDefault("youtube.target_language", "en")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)
}

// Load reads configuration from (in increasing priority) defaults, an optional
// config.yaml, a .env file and the process environment.
func Load() (*Config, error) {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		if strings.HasSuffix(p, ".yaml") || strings.HasSuffix(p, ".yml") {
			v.SetConfigFile(p)
		} else {
			v.AddConfigPath(p)
		}
	}
	v.AddConfigPath("configs")
	v.AddConfigPath(".")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		args := append([]string{key, envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", filepath.Base(v.ConfigFileUsed()), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

func (c *Config) normalize() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	c.Search.Provider = strings.ToLower(strings.TrimSpace(c.Search.Provider))
	c.Research.FailurePolicy = strings.ToLower(strings.TrimSpace(c.Research.FailurePolicy))
	if c.Search.MaxResults <= 0 {
		c.Search.MaxResults = 5
	}
	if c.Research.MaxParallel < 0 {
		c.Research.MaxParallel = 0
	}
	if c.Server.EventBufferSize <= 0 {
		c.Server.EventBufferSize = 64
	}
	if c.Server.TokenFlushMillis <= 0 {
		c.Server.TokenFlushMillis = 100
	}
	c.Server.Port = strings.TrimPrefix(c.Server.Port, ":")
}
