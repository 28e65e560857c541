package config

import (
	"context"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"

	"chat-relay/internal/domain"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	BackendDynamoDB = "dynamodb"
	BackendGCS      = "gcs"

	RunModeAuto   = "auto"
	RunModeLambda = "lambda"
	RunModeHTTP   = "http"
)

// Parameter names read under PARAM_PREFIX when a secret is not set in the
// environment.
const (
	paramLineChannelSecret = "line-channel-secret"
	paramLineChannelToken  = "line-channel-access-token"
	paramGeminiAPIKey      = "gemini-api-key"
	paramOpenAIAPIKey      = "openai-api-key"
)

// Config holds every runtime setting of the relay.
type Config struct {
	LineChannelSecret string
	LineChannelToken  string
	GeminiAPIKey      string
	OpenAIAPIKey      string

	ModelProvider string
	// ModelName overrides the provider's default model when set.
	ModelName     string
	OpenAIBaseURL string

	HistoryBackend  string
	HistoryTable    string
	HistoryBucket   string
	HistoryScope    domain.Scope
	MaxContextTurns int

	ReplyMode string

	ParamPrefix string

	Host             string
	Port             int
	RunMode          string
	LogLevel         slog.Level
	MetricsNamespace string
}

// SecretLookup resolves a named secret, e.g. from AWS SSM Parameter Store.
type SecretLookup interface {
	Lookup(ctx context.Context, name string) (string, error)
}

// Load reads the environment and then applies command-line overrides from
// args (without the program name).
func Load(args []string) (Config, error) {
	cfg := Config{
		LineChannelSecret: trimmedEnv("LINE_CHANNEL_SECRET"),
		LineChannelToken:  trimmedEnv("LINE_CHANNEL_ACCESS_TOKEN"),
		GeminiAPIKey:      trimmedEnv("GEMINI_API_KEY"),
		OpenAIAPIKey:      trimmedEnv("OPENAI_API_KEY"),
		ModelProvider:     strings.ToLower(envOrDefault("MODEL_PROVIDER", ProviderGemini)),
		ModelName:         trimmedEnv("MODEL_NAME"),
		OpenAIBaseURL:     trimmedEnv("OPENAI_BASE_URL"),
		HistoryBackend:    strings.ToLower(envOrDefault("HISTORY_BACKEND", BackendDynamoDB)),
		HistoryTable:      trimmedEnv("HISTORY_TABLE"),
		HistoryBucket:     trimmedEnv("HISTORY_BUCKET"),
		ReplyMode:         envOrDefault("REPLY_MODE", "always"),
		ParamPrefix:       trimmedEnv("PARAM_PREFIX"),
		Host:              envOrDefault("HOST", "0.0.0.0"),
		RunMode:           strings.ToLower(envOrDefault("RUN_MODE", RunModeAuto)),
		MetricsNamespace:  envOrDefault("METRICS_NAMESPACE", "chat_relay"),
	}

	scope, ok := domain.ParseScope(envOrDefault("HISTORY_SCOPE", string(domain.ScopeDaily)))
	if !ok {
		return Config{}, errors.Newf("config: HISTORY_SCOPE must be %q or %q", domain.ScopeDaily, domain.ScopeGlobal)
	}
	cfg.HistoryScope = scope

	var err error
	cfg.MaxContextTurns, err = intFromEnv("MAX_CONTEXT_TURNS", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.Port, err = intFromEnv("PORT", 10000)
	if err != nil {
		return Config{}, err
	}
	logLevel := envOrDefault("LOG_LEVEL", "info")

	flagSet := pflag.NewFlagSet("chat-relay", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.Host, "host", cfg.Host, "HTTP listen host")
	flagSet.IntVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	flagSet.StringVar(&cfg.RunMode, "mode", cfg.RunMode, "run mode: auto, lambda or http")
	flagSet.StringVar(&logLevel, "log-level", logLevel, "log level: debug, info, warn or error")
	if err := flagSet.Parse(args); err != nil {
		return Config{}, errors.Wrap(err, "config: parse flags")
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(logLevel)); err != nil {
		return Config{}, errors.Wrapf(err, "config: LOG_LEVEL %q", logLevel)
	}

	switch cfg.ModelProvider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return Config{}, errors.Newf("config: unknown MODEL_PROVIDER %q", cfg.ModelProvider)
	}
	switch cfg.HistoryBackend {
	case BackendDynamoDB, BackendGCS:
	default:
		return Config{}, errors.Newf("config: unknown HISTORY_BACKEND %q", cfg.HistoryBackend)
	}
	switch cfg.RunMode {
	case RunModeAuto, RunModeLambda, RunModeHTTP:
	default:
		return Config{}, errors.Newf("config: unknown run mode %q", cfg.RunMode)
	}
	if cfg.MaxContextTurns < 0 {
		return Config{}, errors.New("config: MAX_CONTEXT_TURNS must be >= 0")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, errors.Newf("config: port %d out of range", cfg.Port)
	}
	return cfg, nil
}

type setting struct {
	env   string
	param string
	value *string
}

// secrets lists the credentials the configured provider needs.
func (c *Config) secrets() []setting {
	out := []setting{
		{env: "LINE_CHANNEL_SECRET", param: paramLineChannelSecret, value: &c.LineChannelSecret},
		{env: "LINE_CHANNEL_ACCESS_TOKEN", param: paramLineChannelToken, value: &c.LineChannelToken},
	}
	if c.ModelProvider == ProviderOpenAI {
		return append(out, setting{env: "OPENAI_API_KEY", param: paramOpenAIAPIKey, value: &c.OpenAIAPIKey})
	}
	return append(out, setting{env: "GEMINI_API_KEY", param: paramGeminiAPIKey, value: &c.GeminiAPIKey})
}

// ResolveSecrets fills every required secret missing from the environment
// from lookup. Secrets already set are left untouched.
func (c *Config) ResolveSecrets(ctx context.Context, lookup SecretLookup) error {
	if lookup == nil {
		return errors.New("config: secret lookup must not be nil")
	}
	for _, s := range c.secrets() {
		if *s.value != "" {
			continue
		}
		v, err := lookup.Lookup(ctx, s.param)
		if err != nil {
			return errors.Wrapf(err, "config: resolve %s", s.env)
		}
		*s.value = v
	}
	return nil
}

// Validate reports the first required setting that is still missing.
func (c *Config) Validate() error {
	required := c.secrets()
	if c.HistoryBackend == BackendGCS {
		required = append(required, setting{env: "HISTORY_BUCKET", value: &c.HistoryBucket})
	} else {
		required = append(required, setting{env: "HISTORY_TABLE", value: &c.HistoryTable})
	}
	for _, s := range required {
		if *s.value == "" {
			return errors.Newf("config: required setting %s is not set", s.env)
		}
	}
	return nil
}

// Lambda reports whether the process should serve the Lambda runtime API
// rather than listen for HTTP itself.
func (c Config) Lambda() bool {
	switch c.RunMode {
	case RunModeLambda:
		return true
	case RunModeHTTP:
		return false
	default:
		return os.Getenv("AWS_LAMBDA_RUNTIME_API") != ""
	}
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func envOrDefault(key, fallback string) string {
	v := trimmedEnv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(err, "config: %s parse error", key)
	}
	return n, nil
}
