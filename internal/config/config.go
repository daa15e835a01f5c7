package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// Completion providers
	OpenAIAPIKey string
	OpenAIModel  string
	GeminiAPIKey string
	GeminiModel  string
	Provider     string // "openai" | "gemini"

	// Credit ledger service
	LedgerBaseURL  string
	LedgerToken    string
	BalanceTTL     time.Duration
	RequestTimeout time.Duration

	// Screenshot storage
	ScreenshotDir string

	// Target language for code solutions
	Language string

	// Telegram shell (cmd/bot only)
	TelegramBotToken string

	// Optional credit-operation journal
	DatabaseURL string
}

func mustEnv(k string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		log.Fatal().Msgf("missing required env %s", k)
	}
	return v
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("env", k).Str("value", v).Msg("bad duration, using default")
		return def
	}
	return d
}

// Load reads configuration from the environment. A .env file next to the
// binary is honored when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:  getEnv("OPENAI_MODEL", "gpt-4o"),
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		Provider:     getEnv("PROVIDER", "openai"),

		LedgerBaseURL:  mustEnv("LEDGER_BASE_URL"),
		LedgerToken:    getEnv("LEDGER_TOKEN", ""),
		BalanceTTL:     getDuration("BALANCE_TTL", 30*time.Second),
		RequestTimeout: getDuration("REQUEST_TIMEOUT", 120*time.Second),

		ScreenshotDir: getEnv("SCREENSHOT_DIR", defaultScreenshotDir()),
		Language:      getEnv("SOLVE_LANGUAGE", "python"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
	}
}

func defaultScreenshotDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "screenshots"
	}
	return home + string(os.PathSeparator) + ".snap-solver"
}
