package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Scribe    ScribeConfig
	LLM       LLMConfig
	Storage   StorageConfig
	Pipeline  PipelineConfig
	Gateway   GatewayConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	StartPerHour int
}

// ScribeConfig configures the external transcription engine
type ScribeConfig struct {
	APIKey  string
	BaseURL string
	Profile string // engine-side transcription profile identifier
}

// LLMConfig configures the summarization model
type LLMConfig struct {
	APIKey             string
	BaseURL            string
	Model              string
	MaxTranscriptChars int
}

// StorageConfig configures the S3-compatible blob store
type StorageConfig struct {
	Endpoint          string // empty for AWS-default endpoints
	Region            string
	AccessKeyID       string
	SecretAccessKey   string
	InputBucket       string
	TranscriptsBucket string
	OutputBucket      string
}

// PipelineConfig tunes the workflow engine
type PipelineConfig struct {
	UploadPrefix     string
	TranscriptPrefix string
	SummaryPrefix    string
	PollInterval     time.Duration
	MaxPollFailures  int
	SubmitAttempts   int
	SubmitTimeout    time.Duration
	PollTimeout      time.Duration
	StageTimeout     time.Duration
	ExecutionTimeout time.Duration
	Retention        time.Duration
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("SCRIBE_API_KEY")
	readSecret("LLM_API_KEY")
	readSecret("STORAGE_ACCESS_KEY_ID")
	readSecret("STORAGE_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("ratelimit.start_per_hour", "RATELIMIT_START_PER_HOUR")
	_ = viper.BindEnv("scribe.api_key", "SCRIBE_API_KEY")
	_ = viper.BindEnv("scribe.base_url", "SCRIBE_BASE_URL")
	_ = viper.BindEnv("scribe.profile", "SCRIBE_PROFILE")
	_ = viper.BindEnv("llm.api_key", "LLM_API_KEY")
	_ = viper.BindEnv("llm.base_url", "LLM_BASE_URL")
	_ = viper.BindEnv("llm.model", "LLM_MODEL")
	_ = viper.BindEnv("llm.max_transcript_chars", "LLM_MAX_TRANSCRIPT_CHARS")
	_ = viper.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	_ = viper.BindEnv("storage.region", "STORAGE_REGION")
	_ = viper.BindEnv("storage.access_key_id", "STORAGE_ACCESS_KEY_ID")
	_ = viper.BindEnv("storage.secret_access_key", "STORAGE_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("storage.input_bucket", "INPUT_BUCKET")
	_ = viper.BindEnv("storage.transcripts_bucket", "TRANSCRIPTS_BUCKET")
	_ = viper.BindEnv("storage.output_bucket", "OUTPUT_BUCKET")
	_ = viper.BindEnv("pipeline.upload_prefix", "PIPELINE_UPLOAD_PREFIX")
	_ = viper.BindEnv("pipeline.transcript_prefix", "PIPELINE_TRANSCRIPT_PREFIX")
	_ = viper.BindEnv("pipeline.summary_prefix", "PIPELINE_SUMMARY_PREFIX")
	_ = viper.BindEnv("pipeline.poll_interval_seconds", "PIPELINE_POLL_INTERVAL_SECONDS")
	_ = viper.BindEnv("pipeline.max_poll_failures", "PIPELINE_MAX_POLL_FAILURES")
	_ = viper.BindEnv("pipeline.submit_attempts", "PIPELINE_SUBMIT_ATTEMPTS")
	_ = viper.BindEnv("pipeline.submit_timeout_seconds", "PIPELINE_SUBMIT_TIMEOUT_SECONDS")
	_ = viper.BindEnv("pipeline.poll_timeout_seconds", "PIPELINE_POLL_TIMEOUT_SECONDS")
	_ = viper.BindEnv("pipeline.stage_timeout_seconds", "PIPELINE_STAGE_TIMEOUT_SECONDS")
	_ = viper.BindEnv("pipeline.execution_timeout_minutes", "PIPELINE_EXECUTION_TIMEOUT_MINUTES")
	_ = viper.BindEnv("pipeline.retention_hours", "PIPELINE_RETENTION_HOURS")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.start_per_hour", 30)

	// Scribe defaults
	viper.SetDefault("scribe.base_url", "https://api.scribe.example.com")
	viper.SetDefault("scribe.profile", "podcast-audio-v1")

	// LLM defaults
	viper.SetDefault("llm.base_url", "https://api.groq.com/openai/v1")
	viper.SetDefault("llm.model", "llama-3.3-70b-versatile")
	viper.SetDefault("llm.max_transcript_chars", 100000)

	// Storage defaults
	viper.SetDefault("storage.region", "us-west-2")
	viper.SetDefault("storage.input_bucket", "podbrief-uploads")
	viper.SetDefault("storage.transcripts_bucket", "podbrief-transcripts")
	viper.SetDefault("storage.output_bucket", "podbrief-summaries")

	// Pipeline defaults
	viper.SetDefault("pipeline.upload_prefix", "uploads/")
	viper.SetDefault("pipeline.transcript_prefix", "transcripts/")
	viper.SetDefault("pipeline.summary_prefix", "summaries/")
	viper.SetDefault("pipeline.poll_interval_seconds", 30)
	viper.SetDefault("pipeline.max_poll_failures", 5)
	viper.SetDefault("pipeline.submit_attempts", 3)
	viper.SetDefault("pipeline.submit_timeout_seconds", 30)
	viper.SetDefault("pipeline.poll_timeout_seconds", 30)
	viper.SetDefault("pipeline.stage_timeout_seconds", 60)
	viper.SetDefault("pipeline.execution_timeout_minutes", 30)
	viper.SetDefault("pipeline.retention_hours", 24)

	// Gateway defaults
	viper.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			StartPerHour: viper.GetInt("ratelimit.start_per_hour"),
		},
		Scribe: ScribeConfig{
			APIKey:  viper.GetString("scribe.api_key"),
			BaseURL: viper.GetString("scribe.base_url"),
			Profile: viper.GetString("scribe.profile"),
		},
		LLM: LLMConfig{
			APIKey:             viper.GetString("llm.api_key"),
			BaseURL:            viper.GetString("llm.base_url"),
			Model:              viper.GetString("llm.model"),
			MaxTranscriptChars: viper.GetInt("llm.max_transcript_chars"),
		},
		Storage: StorageConfig{
			Endpoint:          viper.GetString("storage.endpoint"),
			Region:            viper.GetString("storage.region"),
			AccessKeyID:       viper.GetString("storage.access_key_id"),
			SecretAccessKey:   viper.GetString("storage.secret_access_key"),
			InputBucket:       viper.GetString("storage.input_bucket"),
			TranscriptsBucket: viper.GetString("storage.transcripts_bucket"),
			OutputBucket:      viper.GetString("storage.output_bucket"),
		},
		Pipeline: PipelineConfig{
			UploadPrefix:     viper.GetString("pipeline.upload_prefix"),
			TranscriptPrefix: viper.GetString("pipeline.transcript_prefix"),
			SummaryPrefix:    viper.GetString("pipeline.summary_prefix"),
			PollInterval:     time.Duration(viper.GetInt("pipeline.poll_interval_seconds")) * time.Second,
			MaxPollFailures:  viper.GetInt("pipeline.max_poll_failures"),
			SubmitAttempts:   viper.GetInt("pipeline.submit_attempts"),
			SubmitTimeout:    time.Duration(viper.GetInt("pipeline.submit_timeout_seconds")) * time.Second,
			PollTimeout:      time.Duration(viper.GetInt("pipeline.poll_timeout_seconds")) * time.Second,
			StageTimeout:     time.Duration(viper.GetInt("pipeline.stage_timeout_seconds")) * time.Second,
			ExecutionTimeout: time.Duration(viper.GetInt("pipeline.execution_timeout_minutes")) * time.Minute,
			Retention:        time.Duration(viper.GetInt("pipeline.retention_hours")) * time.Hour,
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
	}

	return cfg, nil
}
