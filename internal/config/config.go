package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ayupilot/genjobs/pkg/models"
)

// Config holds all configuration for the genjobs server and worker.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Jobs     JobsConfig
	AI       AIConfig
	Blob     BlobConfig
}

type ServerConfig struct {
	Port           int
	Env            string
	RequestsPerMin int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// JobsConfig tunes the generation pipeline.
//
// KindTimeouts bounds a single inference attempt per job kind; image and
// document analysis get a larger default because vision calls are slower
// than text generation. LeaseTimeout is the queue visibility window after
// which an unacknowledged job becomes eligible for redelivery.
type JobsConfig struct {
	Workers        int
	RetryCeiling   int
	LeaseTimeout   time.Duration
	ReaperInterval time.Duration
	PollInterval   time.Duration
	PollBudget     time.Duration
	ReuseCompleted bool
	KindTimeouts   map[models.JobKind]time.Duration
}

// TimeoutFor returns the inference budget for a single attempt of kind.
func (j JobsConfig) TimeoutFor(kind models.JobKind) time.Duration {
	if d, ok := j.KindTimeouts[kind]; ok {
		return d
	}
	return 60 * time.Second
}

type AIConfig struct {
	Provider  string
	Ollama    OllamaConfig
	VLLM      VLLMConfig
	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type VLLMConfig struct {
	BaseURL string
	Model   string
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type BlobConfig struct {
	BaseDir string
}

var validProviders = map[string]bool{
	"ollama":    true,
	"vllm":      true,
	"openai":    true,
	"anthropic": true,
	"mock":      true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           envInt("GENJOBS_PORT", 8080),
			Env:            envString("GENJOBS_ENV", "development"),
			RequestsPerMin: envInt("GENJOBS_REQUESTS_PER_MIN", 60),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Jobs: JobsConfig{
			Workers:        envInt("JOB_WORKERS", 4),
			RetryCeiling:   envInt("JOB_RETRY_CEILING", 3),
			LeaseTimeout:   envDurationSecs("JOB_LEASE_TIMEOUT_SECS", 5*time.Minute),
			ReaperInterval: envDurationSecs("JOB_REAPER_INTERVAL_SECS", 15*time.Second),
			PollInterval:   envDurationSecs("JOB_POLL_INTERVAL_SECS", 2*time.Second),
			PollBudget:     envDurationSecs("JOB_POLL_BUDGET_SECS", 60*time.Second),
			ReuseCompleted: envBool("JOB_REUSE_COMPLETED", false),
			KindTimeouts: map[models.JobKind]time.Duration{
				models.KindClinicalReport:     envDurationSecs("JOB_TIMEOUT_CLINICAL_REPORT_SECS", 60*time.Second),
				models.KindSNLPrescription:    envDurationSecs("JOB_TIMEOUT_SNL_PRESCRIPTION_SECS", 60*time.Second),
				models.KindKnowledgeReference: envDurationSecs("JOB_TIMEOUT_KNOWLEDGE_REFERENCE_SECS", 60*time.Second),
				models.KindImageAnalysis:      envDurationSecs("JOB_TIMEOUT_IMAGE_ANALYSIS_SECS", 120*time.Second),
				models.KindDocumentAnalysis:   envDurationSecs("JOB_TIMEOUT_DOCUMENT_ANALYSIS_SECS", 120*time.Second),
			},
		},
		AI: AIConfig{
			Provider: envString("AI_PROVIDER", "mock"),
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
				Model:   envString("OLLAMA_MODEL", "llama3"),
			},
			VLLM: VLLMConfig{
				BaseURL: envString("VLLM_BASE_URL", "http://localhost:8000"),
				Model:   envString("VLLM_MODEL", ""),
			},
			OpenAI: OpenAIConfig{
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				Model:   envString("OPENAI_MODEL", "gpt-4o-mini"),
			},
			Anthropic: AnthropicConfig{
				APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
				BaseURL: envString("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
				Model:   envString("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
			},
		},
		Blob: BlobConfig{
			BaseDir: envString("BLOB_BASE_DIR", "data/uploads"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of ollama, vllm, openai, anthropic, mock; got %q", c.AI.Provider)
	}

	if c.AI.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}
	if c.AI.Provider == "anthropic" && c.AI.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is anthropic")
	}

	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("JOB_WORKERS must be positive, got %d", c.Jobs.Workers)
	}
	if c.Jobs.RetryCeiling <= 0 {
		return fmt.Errorf("JOB_RETRY_CEILING must be positive, got %d", c.Jobs.RetryCeiling)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
