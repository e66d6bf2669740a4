// Package config loads bot settings from the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"teams-answer-bot/internal/citation"
	"teams-answer-bot/internal/integrations/paramstore"
)

const (
	ReplyFormatCard     = "card"
	ReplyFormatMarkdown = "markdown"
)

type Config struct {
	Env      string
	Port     string
	LogLevel string

	Bot      BotConfig
	Answer   AnswerConfig
	Citation CitationConfig
	Reply    ReplyConfig

	// ParamPrefix, when set, is where missing secrets are read from in SSM.
	ParamPrefix   string
	FeedbackTable string
}

type BotConfig struct {
	AppID          string
	AppPassword    string
	TenantID       string
	ConnectionName string

	// AuthDisabled skips inbound token checks. Only allowed outside production,
	// for the emulator.
	AuthDisabled bool

	// TrustedServiceHosts extends the domains replies may be posted to.
	TrustedServiceHosts []string
}

type AnswerConfig struct {
	URL         string
	FunctionKey string
	Timeout     time.Duration
}

type CitationConfig struct {
	BaseURL     string
	LibraryPath string
}

type ReplyConfig struct {
	Format       string
	StripMarkers bool
	ConvertHTML  bool
}

// Load reads the configuration from the environment. In development a .env
// file in the working directory is loaded first; real environment variables win.
func Load() (Config, error) {
	env := getEnv("BOT_ENV", "development")
	if env == "development" {
		_ = godotenv.Load(".env")
	}

	cfg := Config{
		Env:      env,
		Port:     getEnv("PORT", "3978"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Bot: BotConfig{
			AppID:               getEnv("MicrosoftAppId", ""),
			AppPassword:         getEnv("MicrosoftAppPassword", ""),
			TenantID:            getEnv("MicrosoftAppTenantId", ""),
			ConnectionName:      getEnv("ConnectionName", ""),
			AuthDisabled:        getEnvBool("BOT_AUTH_DISABLED", false),
			TrustedServiceHosts: getEnvList("TRUSTED_SERVICE_HOSTS"),
		},
		Answer: AnswerConfig{
			URL:         getEnv("ORC_URL", ""),
			FunctionKey: getEnv("FUNCTION_KEY", ""),
			Timeout:     getEnvDuration("ANSWER_TIMEOUT", 120*time.Second),
		},
		Citation: CitationConfig{
			BaseURL:     getEnv("APP_BACKEND_ENDPOINT", citation.DefaultBaseURL),
			LibraryPath: getEnv("DOCUMENT_LIBRARY_PATH", citation.DefaultLibraryPath),
		},
		Reply: ReplyConfig{
			Format:       strings.ToLower(getEnv("REPLY_FORMAT", ReplyFormatCard)),
			StripMarkers: getEnvBool("STRIP_CITATION_MARKERS", false),
			ConvertHTML:  getEnvBool("CONVERT_HTML", false),
		},
		ParamPrefix:   strings.TrimRight(strings.TrimSpace(getEnv("PARAM_PREFIX", "")), "/"),
		FeedbackTable: getEnv("FEEDBACK_TABLE", ""),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if c.Bot.AppID == "" {
		errs = append(errs, errors.New("MicrosoftAppId is required"))
	}
	if c.Bot.ConnectionName == "" {
		errs = append(errs, errors.New("ConnectionName is required"))
	}
	if c.Answer.URL == "" {
		errs = append(errs, errors.New("ORC_URL is required"))
	}
	if c.Bot.AppPassword == "" && c.ParamPrefix == "" {
		errs = append(errs, errors.New("MicrosoftAppPassword or PARAM_PREFIX is required"))
	}
	if c.Answer.FunctionKey == "" && c.ParamPrefix == "" {
		errs = append(errs, errors.New("FUNCTION_KEY or PARAM_PREFIX is required"))
	}
	if c.Bot.AuthDisabled && c.IsProduction() {
		errs = append(errs, errors.New("BOT_AUTH_DISABLED is not allowed in production"))
	}
	if c.Reply.Format != ReplyFormatCard && c.Reply.Format != ReplyFormatMarkdown {
		errs = append(errs, fmt.Errorf("REPLY_FORMAT must be %q or %q", ReplyFormatCard, ReplyFormatMarkdown))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// UseParamStore reports whether any secret has to come from SSM.
func (c Config) UseParamStore() bool {
	return c.ParamPrefix != "" && (c.Bot.AppPassword == "" || c.Answer.FunctionKey == "")
}

func (c Config) AppPasswordParam() string {
	return c.ParamPrefix + "/app-password"
}

func (c Config) FunctionKeyParam() string {
	return c.ParamPrefix + "/function-key"
}

// ResolveAppPassword fills Bot.AppPassword from SSM when it is not set in the environment.
func (c *Config) ResolveAppPassword(ctx context.Context, g paramstore.Getter) error {
	if c.Bot.AppPassword != "" {
		return nil
	}
	pw, err := paramstore.Secret(ctx, g, c.AppPasswordParam())
	if err != nil {
		return fmt.Errorf("config: resolve app password: %w", err)
	}
	c.Bot.AppPassword = pw
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvList splits a comma-separated value, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvDuration accepts Go durations ("90s") or a plain number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}
