package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the comment pipeline
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Memory     MemoryConfig     `mapstructure:"memory"`
	RAG        RAGConfig        `mapstructure:"rag"`
	Research   ResearchConfig   `mapstructure:"research"`
	Evaluation EvaluationConfig `mapstructure:"evaluation"`
	Profiles   ProfilesConfig   `mapstructure:"profiles"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address         string `mapstructure:"address"`
	JWTSecret       string `mapstructure:"jwt_secret"`
	MaintenanceCron string `mapstructure:"maintenance_cron"`
}

// LLMConfig contains the provider configuration and model routing.
type LLMConfig struct {
	Type       string        `mapstructure:"type"` // openai is the only supported type today
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	Routing    LLMRouting    `mapstructure:"routing"`
}

// LLMRouting defines which model and temperature to use per pipeline role.
type LLMRouting struct {
	Draft     ModelConfig `mapstructure:"draft"`
	Refine    ModelConfig `mapstructure:"refine"`
	Research  ModelConfig `mapstructure:"research"`
	Evaluate  ModelConfig `mapstructure:"evaluate"`
	Embedding string      `mapstructure:"embedding"`
}

// ModelConfig is a single model binding.
type ModelConfig struct {
	Name        string  `mapstructure:"name"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	TTL       time.Duration `mapstructure:"ttl"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// Normalize applies defaults for unset cache values.
func (c CacheConfig) Normalize() CacheConfig {
	if c.TTL <= 0 {
		c.TTL = time.Hour
	}
	if strings.TrimSpace(c.KeyPrefix) == "" {
		c.KeyPrefix = "pressagent:comment:"
	}
	return c
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// Addr returns the host:port pair for the redis client.
func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%s", r.Host, r.Port) }

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN assembles the connection string, preferring an explicit URL.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// MemoryConfig controls short-term and long-term memory behaviour.
type MemoryConfig struct {
	SessionTokenBudget int            `mapstructure:"session_token_budget"`
	LongTerm           LongTermConfig `mapstructure:"long_term"`
}

// LongTermConfig defines behaviour for the similarity-searchable archive.
type LongTermConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	EmbeddingDimensions int    `mapstructure:"embedding_dimensions"`
	TopK                int    `mapstructure:"top_k"`
	Backend             string `mapstructure:"backend"` // postgres or inmemory
}

// Normalize applies defaults for unset memory values.
func (m MemoryConfig) Normalize() MemoryConfig {
	if m.SessionTokenBudget <= 0 {
		m.SessionTokenBudget = 2000
	}
	if m.LongTerm.TopK <= 0 {
		m.LongTerm.TopK = 3
	}
	if m.LongTerm.EmbeddingDimensions <= 0 {
		m.LongTerm.EmbeddingDimensions = 1536
	}
	if m.LongTerm.Backend == "" {
		m.LongTerm.Backend = "postgres"
	}
	return m
}

// RAGConfig configures the labeled retrieval stores.
type RAGConfig struct {
	History   RAGStoreConfig `mapstructure:"history"`
	Knowledge RAGStoreConfig `mapstructure:"knowledge"`
	Examples  RAGStoreConfig `mapstructure:"examples"`
}

// RAGStoreConfig is the per-store retrieval tuning.
type RAGStoreConfig struct {
	TopK    int           `mapstructure:"top_k"`
	Timeout time.Duration `mapstructure:"timeout"`
	Dir     string        `mapstructure:"dir"` // examples store only: seed directory
}

// Normalize applies per-store defaults.
func (r RAGConfig) Normalize() RAGConfig {
	def := func(s RAGStoreConfig) RAGStoreConfig {
		if s.TopK <= 0 {
			s.TopK = 3
		}
		if s.Timeout <= 0 {
			s.Timeout = 5 * time.Second
		}
		return s
	}
	r.History = def(r.History)
	r.Knowledge = def(r.Knowledge)
	r.Examples = def(r.Examples)
	return r
}

// ResearchConfig contains web research settings.
type ResearchConfig struct {
	Provider     string        `mapstructure:"provider"` // serper or brave
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	MaxResults   int           `mapstructure:"max_results"`
	TaskTimeout  time.Duration `mapstructure:"task_timeout"`
	Fetch        FetchConfig   `mapstructure:"fetch"`
}

// FetchConfig controls headless article fetching.
type FetchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxChars int           `mapstructure:"max_chars"`
}

// Normalize applies defaults for unset research values.
func (r ResearchConfig) Normalize() ResearchConfig {
	if r.MaxResults <= 0 {
		r.MaxResults = 5
	}
	if r.TaskTimeout <= 0 {
		r.TaskTimeout = 20 * time.Second
	}
	if r.Fetch.Timeout <= 0 {
		r.Fetch.Timeout = 15 * time.Second
	}
	if r.Fetch.MaxChars <= 0 {
		r.Fetch.MaxChars = 20000
	}
	return r
}

// EvaluationConfig controls the quality gate.
type EvaluationConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	Threshold float64 `mapstructure:"threshold"`
}

// Normalize applies defaults for unset evaluation values.
func (e EvaluationConfig) Normalize() EvaluationConfig {
	if e.Threshold <= 0 {
		e.Threshold = 0.7
	}
	return e
}

// ProfilesConfig configures the subject profile store.
type ProfilesConfig struct {
	Dir      string        `mapstructure:"dir"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// Normalize applies defaults for unset profile values.
func (p ProfilesConfig) Normalize() ProfilesConfig {
	if strings.TrimSpace(p.Dir) == "" {
		p.Dir = "profiles"
	}
	if p.CacheTTL <= 0 {
		p.CacheTTL = 10 * time.Minute
	}
	return p
}

// NotifyConfig contains SMTP notification settings.
type NotifyConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	SMTPHost         string `mapstructure:"smtp_host"`
	SMTPPort         int    `mapstructure:"smtp_port"`
	From             string `mapstructure:"from"`
	Password         string `mapstructure:"password"`
	DefaultRecipient string `mapstructure:"default_recipient"`
}

func (n NotifyConfig) Validate() error {
	if !n.Enabled {
		return nil
	}
	if strings.TrimSpace(n.SMTPHost) == "" {
		return fmt.Errorf("notify.smtp_host required when notify is enabled")
	}
	if strings.TrimSpace(n.From) == "" {
		return fmt.Errorf("notify.from required when notify is enabled")
	}
	return nil
}

// TelemetryConfig contains metrics settings.
type TelemetryConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.default_timeout", "60s")
	viper.SetDefault("general.max_concurrent", 5)
	viper.SetDefault("server.address", ":10010")
	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("evaluation.enabled", true)
	viper.SetDefault("memory.long_term.enabled", true)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("PRESSAGENT")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv() // read in environment variables that match (PRESSAGENT_*)

	err := viper.ReadInConfig()
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err = viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.Cache = config.Cache.Normalize()
	config.Memory = config.Memory.Normalize()
	config.RAG = config.RAG.Normalize()
	config.Research = config.Research.Normalize()
	config.Evaluation = config.Evaluation.Normalize()
	config.Profiles = config.Profiles.Normalize()

	if err := config.Telemetry.Validate(); err != nil {
		panic(err)
	}
	if err := config.Notify.Validate(); err != nil {
		panic(err)
	}
	return &config
}
