package questionbank

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration
type Config struct {
	Generator   GeneratorConfig   `mapstructure:"generator"`
	Quota       QuotaTargets      `mapstructure:"quota"`
	Session     SessionConfig     `mapstructure:"session"`
	Translation TranslationConfig `mapstructure:"translation"`
	Log         LoggingConfig     `mapstructure:"log"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Server      ServerConfig      `mapstructure:"server"`
}

type GeneratorConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BaseBackoff       time.Duration `mapstructure:"base_backoff"`
	ErrorBackoff      time.Duration `mapstructure:"error_backoff"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Temperature       float32       `mapstructure:"temperature"`
}

// SessionConfig holds the caller-supplied defaults stamped on new questions
type SessionConfig struct {
	CreatorName  string `mapstructure:"creator_name"`
	ReviewerName string `mapstructure:"reviewer_name"`
	Discipline   string `mapstructure:"discipline"`
}

type TranslationConfig struct {
	Targets     []string `mapstructure:"targets"`
	Temperature float32  `mapstructure:"temperature"`
}

type LoggingConfig struct {
	Mode    string `mapstructure:"mode"`
	File    string `mapstructure:"file"`
	LLMDir  string `mapstructure:"llm_dir"`
	Verbose bool   `mapstructure:"verbose"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type ServerConfig struct {
	Addr       string `mapstructure:"addr"`
	SessionKey string `mapstructure:"session_key"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("generator.base_url", DefaultBaseURL)
	v.SetDefault("generator.model", "gemini-2.0-flash")
	v.SetDefault("generator.max_tokens", 8192)
	v.SetDefault("generator.max_attempts", 5)
	v.SetDefault("generator.base_backoff", 5*time.Second)
	v.SetDefault("generator.error_backoff", 2*time.Second)
	v.SetDefault("generator.requests_per_minute", 0)
	v.SetDefault("generator.temperature", 0.7)

	def := DefaultQuotaTargets()
	v.SetDefault("quota.per_category", def.PerCategory)
	v.SetDefault("quota.total", def.Total)
	v.SetDefault("quota.max_balanced_batch", def.MaxBalancedBatch)

	v.SetDefault("session.creator_name", "")
	v.SetDefault("session.reviewer_name", "")
	v.SetDefault("session.discipline", "General")
	v.SetDefault("translation.targets", []string{"Chinese (Simplified)", "Japanese", "Korean"})
	v.SetDefault("translation.temperature", 0.2)

	v.SetDefault("log.mode", "release")
	v.SetDefault("log.file", "")
	v.SetDefault("log.verbose", false)
	v.SetDefault("log.llm_dir", "log")
	v.SetDefault("database.path", "questionbank.db")
	v.SetDefault("server.addr", ":8080")
}

// LoadConfig reads an optional YAML file, then QUESTIONBANK_* environment
// variables. The API key also falls back to GEMINI_API_KEY and OPENAI_API_KEY.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("QUESTIONBANK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("generator.api_key", "QUESTIONBANK_GENERATOR_API_KEY", "GEMINI_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind api key env: %w", err)
	}
	_ = v.BindEnv("server.session_key", "QUESTIONBANK_SERVER_SESSION_KEY", "SESSION_KEY")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	for i, lang := range cfg.Translation.Targets {
		cfg.Translation.Targets[i] = NormalizeLanguage(lang)
	}
	return &cfg, nil
}

// ClientConfig maps the generator section onto a ClientConfig
func (c *Config) ClientConfig() ClientConfig {
	return ClientConfig{
		APIKey:            c.Generator.APIKey,
		BaseURL:           c.Generator.BaseURL,
		Model:             c.Generator.Model,
		MaxTokens:         c.Generator.MaxTokens,
		MaxAttempts:       c.Generator.MaxAttempts,
		BaseBackoff:       c.Generator.BaseBackoff,
		ErrorBackoff:      c.Generator.ErrorBackoff,
		RequestsPerMinute: c.Generator.RequestsPerMinute,
	}
}

// LogConfig maps the log section onto a LogConfig
func (c *Config) LogConfig() LogConfig {
	return LogConfig{
		Mode:       c.Log.Mode,
		File:       c.Log.File,
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 30,
	}
}
