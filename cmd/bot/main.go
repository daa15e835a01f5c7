package main

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"snap-solver/internal/config"
	"snap-solver/internal/ledger"
	"snap-solver/internal/pipeline"
	"snap-solver/internal/provider"
	"snap-solver/internal/provider/gemini"
	"snap-solver/internal/provider/openai"
	"snap-solver/internal/queue"
	"snap-solver/internal/solve"
	"snap-solver/internal/store"
	"snap-solver/internal/telegram"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(zerolog.InfoLevel).
		With().Timestamp().Logger()
	log.Logger = logger

	cfg := config.Load()
	if cfg.TelegramBotToken == "" {
		logger.Fatal().Msg("TELEGRAM_BOT_TOKEN is required for the bot shell")
	}

	// Optional credit-operation journal. Without it a crash between deduct
	// and complete/refund leaves no local trace; with it there is a
	// reconcilable row.
	var opts []ledger.Option
	if cfg.DatabaseURL != "" {
		db, err := store.Open(context.Background(), cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("journal database")
		}
		defer db.Close()
		repo := store.NewOpRepo(db)
		opts = append(opts, ledger.WithJournal(repo))
		warnPending(logger, repo)
	}

	led := ledger.New(cfg.LedgerBaseURL, cfg.LedgerToken, cfg.BalanceTTL, logger, opts...)

	q, err := queue.NewManager(cfg.ScreenshotDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("screenshot queue")
	}

	stages := &solve.Stages{
		Provider:  pickProvider(cfg, logger),
		BaseModel: baseModel(cfg),
		Language:  cfg.Language,
		Log:       logger,
	}

	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		logger.Fatal().Err(err).Msg("telegram")
	}
	bot.Debug = false

	r := &telegram.Router{Bot: bot, Queue: q, Ledger: led, Log: logger}
	r.Orch = pipeline.New(q, led, stages, r, logger)

	logger.Info().Str("bot", bot.Self.UserName).Msg("polling")
	runPolling(context.Background(), bot, logger, r.HandleUpdate)
}

func pickProvider(cfg *config.Config, logger zerolog.Logger) provider.Provider {
	switch cfg.Provider {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			logger.Fatal().Msg("GEMINI_API_KEY is required for PROVIDER=gemini")
		}
		return gemini.New(cfg.GeminiAPIKey)
	default:
		if cfg.OpenAIAPIKey == "" {
			logger.Fatal().Msg("OPENAI_API_KEY is required for PROVIDER=openai")
		}
		return openai.New(cfg.OpenAIAPIKey)
	}
}

func baseModel(cfg *config.Config) string {
	if cfg.Provider == "gemini" {
		return cfg.GeminiModel
	}
	return cfg.OpenAIModel
}

func warnPending(logger zerolog.Logger, repo *store.OpRepo) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pending, err := repo.Pending(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("could not list pending credit operations")
		return
	}
	for _, op := range pending {
		logger.Warn().Str("op", op.ID).Int("amount", op.Amount).Time("created", op.CreatedAt).
			Msg("credit operation left pending by an earlier crash; reconcile manually")
	}
}

// runPolling long-polls Telegram with backoff. Fatal-free: transient errors
// only delay the next poll.
func runPolling(ctx context.Context, bot *tgbotapi.BotAPI, logger zerolog.Logger, handle func(tgbotapi.Update)) {
	offset := 0
	baseDelay := 1 * time.Second
	maxDelay := 15 * time.Second

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("polling stopped")
			return
		default:
		}

		u := tgbotapi.NewUpdate(offset)
		u.Timeout = 30

		updates, err := bot.GetUpdates(u)
		if err != nil {
			d := retryDelay(err)
			if d < baseDelay {
				d = baseDelay
			}
			if d > maxDelay {
				d = maxDelay
			}
			logger.Warn().Err(err).Dur("retry_in", d).Msg("polling error")
			time.Sleep(d)
			continue
		}

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			handle(upd)
		}
		if len(updates) == 0 {
			time.Sleep(200 * time.Millisecond)
		}
	}
}

func retryDelay(err error) time.Duration {
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "too many requests") {
		if i := strings.Index(s, "retry after "); i >= 0 {
			if rest := strings.Fields(s[i+len("retry after "):]); len(rest) > 0 {
				if n, _ := strconv.Atoi(rest[0]); n > 0 {
					return time.Duration(n) * time.Second
				}
			}
		}
		return 3 * time.Second
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return 2 * time.Second
	}
	return 1 * time.Second
}
