package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Engine   EngineConfig   `yaml:"engine"`
	AI       AIConfig       `yaml:"ai"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	S3       S3Config       `yaml:"s3"`

	// Dictionaries holds static term sets available to lookup layers
	// without a sheet or database behind them.
	Dictionaries map[string][]string `yaml:"dictionaries"`

	// DictionaryWorkbook is an optional XLSX path whose sheets serve as
	// dictionaries, one term list per sheet's first column.
	DictionaryWorkbook string `yaml:"dictionary_workbook"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// EngineConfig holds the mapping engine tunables
type EngineConfig struct {
	LookupThreshold      float64 `yaml:"lookup_threshold"`
	GenerativeConfidence float64 `yaml:"generative_confidence"`
	SampleRows           int     `yaml:"sample_rows"`
	RetryAttempts        int     `yaml:"retry_attempts"`
	EmbedBatchSize       int     `yaml:"embed_batch_size"`
}

// AIConfig selects and configures the embedding/completion provider
type AIConfig struct {
	// Provider is "openai" or "bedrock".
	Provider string `yaml:"provider"`

	OpenAIAPIKey     string `yaml:"openai_api_key"`
	OpenAIChatModel  string `yaml:"openai_chat_model"`
	OpenAIEmbedModel string `yaml:"openai_embed_model"`

	BedrockRegion     string `yaml:"bedrock_region"`
	BedrockChatModel  string `yaml:"bedrock_chat_model"`
	BedrockEmbedModel string `yaml:"bedrock_embed_model"`
}

// RedisConfig holds the embedding cache / correction store connection
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTLHours int    `yaml:"ttl_hours"`
}

// DatabaseConfig holds the Postgres template store connection
type DatabaseConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// S3Config holds the source-file fetch settings
type S3Config struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Region  string `yaml:"region"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Engine.LookupThreshold == 0 {
		cfg.Engine.LookupThreshold = 0.75
	}
	if cfg.Engine.GenerativeConfidence == 0 {
		cfg.Engine.GenerativeConfidence = 0.6
	}
	if cfg.Engine.SampleRows == 0 {
		cfg.Engine.SampleRows = 5
	}
	if cfg.Engine.RetryAttempts == 0 {
		cfg.Engine.RetryAttempts = 4
	}
	if cfg.Engine.EmbedBatchSize == 0 {
		cfg.Engine.EmbedBatchSize = 96
	}
	if cfg.AI.Provider == "" {
		cfg.AI.Provider = "openai"
	}
	if cfg.AI.OpenAIChatModel == "" {
		cfg.AI.OpenAIChatModel = "gpt-4o-mini"
	}
	if cfg.AI.OpenAIEmbedModel == "" {
		cfg.AI.OpenAIEmbedModel = "text-embedding-3-small"
	}
	if cfg.AI.BedrockRegion == "" {
		cfg.AI.BedrockRegion = "us-east-1"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.TTLHours == 0 {
		cfg.Redis.TTLHours = 24 * 30
	}
	if cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file first (if present) so secrets can live in .env
// locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SERVER_PORT %q", v)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("AI_PROVIDER"); v != "" {
		cfg.AI.Provider = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.AI.OpenAIAPIKey = v
	}
	if v := os.Getenv("BEDROCK_REGION"); v != "" {
		cfg.AI.BedrockRegion = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
		cfg.Database.Enabled = true
	}
	if v := os.Getenv("S3_BUCKET"); v != "" {
		cfg.S3.Bucket = v
		cfg.S3.Enabled = true
	}
	if v := os.Getenv("S3_REGION"); v != "" {
		cfg.S3.Region = v
	}
	if v := os.Getenv("DICTIONARY_WORKBOOK"); v != "" {
		cfg.DictionaryWorkbook = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	switch cfg.AI.Provider {
	case "openai", "bedrock":
	default:
		return fmt.Errorf("unknown ai provider %q", cfg.AI.Provider)
	}
	if cfg.Engine.LookupThreshold <= 0 || cfg.Engine.LookupThreshold > 1 {
		return fmt.Errorf("lookup_threshold %v out of range (0,1]", cfg.Engine.LookupThreshold)
	}
	if cfg.Engine.SampleRows <= 0 {
		return fmt.Errorf("sample_rows must be positive, got %d", cfg.Engine.SampleRows)
	}
	if cfg.Engine.EmbedBatchSize <= 0 {
		return fmt.Errorf("embed_batch_size must be positive, got %d", cfg.Engine.EmbedBatchSize)
	}
	if cfg.Engine.RetryAttempts <= 0 {
		return fmt.Errorf("retry_attempts must be positive, got %d", cfg.Engine.RetryAttempts)
	}
	return nil
}
