package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Dedup backends understood by DEDUP_BACKEND.
const (
	DedupBackendMemory   = "memory"
	DedupBackendRedis    = "redis"
	DedupBackendPostgres = "postgres"
)

// Config holds application configuration
type Config struct {
	Port            string
	Env             string
	LogLevel        string
	ShutdownTimeout time.Duration

	// Chat platform
	BotToken             string
	BotUserID            string
	SigningSecret        string
	SignatureMaxSkew     time.Duration
	SlackAPIURL          string
	EmitProcessingNotice bool
	EmitReactions        bool
	ThreadRepliesEnabled bool

	// AI backend
	AIEndpoint string
	AIAPIKey   string
	AITimeout  time.Duration

	// Intent rules, in configured order
	KeywordRules     []KeywordRule
	KeywordRulesFile string

	// Deduplication
	DedupBackend   string
	DedupRetention time.Duration
	RedisAddr      string
	RedisPassword  string
	RedisTLS       bool
	DatabaseURL    string

	// Dispatch
	WorkerCount  int
	QueueSize    int
	EventTimeout time.Duration
}

// Error reports a startup-fatal configuration problem.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return "config: " + strings.Join(e.Problems, "; ")
}

// ErrInvalid is matched by every *Error via errors.Is.
var ErrInvalid = errors.New("config: invalid configuration")

func (e *Error) Is(target error) bool {
	return target == ErrInvalid
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		Env:             getEnv("ENV", "development"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		BotToken:             strings.TrimSpace(getEnv("BOT_TOKEN", "")),
		BotUserID:            strings.TrimSpace(getEnv("BOT_USER_ID", "")),
		SigningSecret:        strings.TrimSpace(getEnv("SIGNING_SECRET", "")),
		SignatureMaxSkew:     getEnvAsSeconds("SIGNATURE_MAX_SKEW_SECONDS", 5*time.Minute),
		SlackAPIURL:          strings.TrimSpace(getEnv("SLACK_API_URL", "")),
		EmitProcessingNotice: getEnvAsBool("EMIT_PROCESSING_NOTICE", false),
		EmitReactions:        getEnvAsBool("EMIT_REACTIONS", true),
		ThreadRepliesEnabled: getEnvAsBool("THREAD_REPLIES_ENABLED", false),

		AIEndpoint: strings.TrimSpace(getEnv("AI_ENDPOINT", "")),
		AIAPIKey:   strings.TrimSpace(getEnv("AI_API_KEY", "")),
		AITimeout:  getEnvAsSeconds("AI_TIMEOUT_SECONDS", 30*time.Second),

		KeywordRulesFile: strings.TrimSpace(getEnv("KEYWORD_RULES_FILE", "")),

		DedupBackend:   strings.ToLower(strings.TrimSpace(getEnv("DEDUP_BACKEND", DedupBackendMemory))),
		DedupRetention: getEnvAsSeconds("DEDUP_RETENTION_SECONDS", 5*time.Minute),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisTLS:       getEnvAsBool("REDIS_TLS", false),
		DatabaseURL:    getEnv("DATABASE_URL", ""),

		WorkerCount:  getEnvAsInt("WORKER_COUNT", 4),
		QueueSize:    getEnvAsInt("QUEUE_SIZE", 256),
		EventTimeout: getEnvAsSeconds("EVENT_TIMEOUT_SECONDS", 90*time.Second),
	}

	var problems []string
	rules, err := ParseKeywordRules(getEnv("KEYWORD_RULES", ""))
	if err != nil {
		problems = append(problems, err.Error())
	}
	if cfg.KeywordRulesFile != "" {
		fileRules, err := LoadKeywordRulesFile(cfg.KeywordRulesFile)
		if err != nil {
			problems = append(problems, err.Error())
		}
		rules = append(rules, fileRules...)
	}
	cfg.KeywordRules = AssignRuleIDs(rules)

	problems = append(problems, cfg.validate()...)
	if len(problems) > 0 {
		return nil, &Error{Problems: problems}
	}
	return cfg, nil
}

func (c *Config) validate() []string {
	var problems []string
	required := []struct {
		key   string
		value string
	}{
		{"BOT_TOKEN", c.BotToken},
		{"SIGNING_SECRET", c.SigningSecret},
		{"AI_ENDPOINT", c.AIEndpoint},
		{"AI_API_KEY", c.AIAPIKey},
	}
	for _, r := range required {
		if r.value == "" {
			problems = append(problems, fmt.Sprintf("%s is required", r.key))
		}
	}
	switch c.DedupBackend {
	case DedupBackendMemory:
	case DedupBackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			problems = append(problems, "REDIS_ADDR is required when DEDUP_BACKEND=redis")
		}
	case DedupBackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			problems = append(problems, "DATABASE_URL is required when DEDUP_BACKEND=postgres")
		}
	default:
		problems = append(problems, fmt.Sprintf("DEDUP_BACKEND %q is not supported", c.DedupBackend))
	}
	if c.AITimeout <= 0 {
		problems = append(problems, "AI_TIMEOUT_SECONDS must be positive")
	}
	// the gateway may spend two attempts plus a backoff inside one event
	if c.AITimeout > 0 && c.EventTimeout <= 2*c.AITimeout {
		problems = append(problems, fmt.Sprintf("EVENT_TIMEOUT_SECONDS (%s) must exceed twice AI_TIMEOUT_SECONDS (%s)", c.EventTimeout, c.AITimeout))
	}
	if c.DedupRetention <= 0 {
		problems = append(problems, "DEDUP_RETENTION_SECONDS must be positive")
	}
	if c.WorkerCount <= 0 {
		problems = append(problems, "WORKER_COUNT must be positive")
	}
	if c.QueueSize <= 0 {
		problems = append(problems, "QUEUE_SIZE must be positive")
	}
	return problems
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsSeconds reads a whole number of seconds.
func getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return defaultValue
	}
	secs, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return time.Duration(secs) * time.Second
}
