package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"snap-solver/internal/capture"
	"snap-solver/internal/config"
	"snap-solver/internal/ledger"
	"snap-solver/internal/pipeline"
	"snap-solver/internal/provider"
	"snap-solver/internal/provider/gemini"
	"snap-solver/internal/provider/openai"
	"snap-solver/internal/queue"
	"snap-solver/internal/solve"
	"snap-solver/internal/store"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(zerolog.InfoLevel).
		With().Timestamp().Logger()
	log.Logger = logger

	app := &cli.App{
		Name:  "solver",
		Usage: "capture screen questions and solve them with AI, metered by credits",
		Commands: []*cli.Command{
			captureCmd(logger),
			solveCmd(logger, queue.ViewPrimary, "solve", "solve the primary queue"),
			solveCmd(logger, queue.ViewSupplementary, "debug", "solve the supplementary (debug) queue"),
			queueCmd(logger),
			creditsCmd(logger),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var viewFlag = &cli.StringFlag{
	Name:  "view",
	Value: string(queue.ViewPrimary),
	Usage: "target queue: primary or supplementary",
}

func parseView(c *cli.Context) (queue.View, error) {
	v := queue.View(c.String("view"))
	if v != queue.ViewPrimary && v != queue.ViewSupplementary {
		return "", fmt.Errorf("unknown view %q", v)
	}
	return v, nil
}

func captureCmd(logger zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "capture",
		Usage: "take a screenshot and enqueue it",
		Flags: []cli.Flag{viewFlag},
		Action: func(c *cli.Context) error {
			view, err := parseView(c)
			if err != nil {
				return err
			}
			cfg := config.Load()
			q, err := queue.NewManager(cfg.ScreenshotDir, logger)
			if err != nil {
				return err
			}
			img, err := capture.New(logger).Capture(c.Context)
			if err != nil {
				return err
			}
			task, err := q.Save(view, img)
			if err != nil {
				return err
			}
			fmt.Printf("captured %s (%s queue, %d/%d)\n", task.Path, view, q.Len(view), queue.MaxPerQueue)
			return nil
		},
	}
}

func solveCmd(logger zerolog.Logger, view queue.View, name, usage string) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Action: func(c *cli.Context) error {
			cfg := config.Load()
			deps, err := buildDeps(c.Context, cfg, logger)
			if err != nil {
				return err
			}
			defer deps.close()

			orch := pipeline.New(deps.queue, deps.ledger, deps.stages, consoleEmitter{}, logger)

			// Ctrl-C cancels the run at its next suspension point.
			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			_, err = orch.Solve(ctx, view)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func queueCmd(logger zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "queue",
		Usage: "inspect or clear the screenshot queues",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list queued screenshots",
				Action: func(c *cli.Context) error {
					cfg := config.Load()
					q, err := queue.NewManager(cfg.ScreenshotDir, logger)
					if err != nil {
						return err
					}
					for _, view := range []queue.View{queue.ViewPrimary, queue.ViewSupplementary} {
						tasks := q.Snapshot(view)
						fmt.Printf("%s (%d/%d):\n", view, len(tasks), queue.MaxPerQueue)
						for i, t := range tasks {
							fmt.Printf("  %d. %s\n", i+1, t.Path)
						}
					}
					return nil
				},
			},
			{
				Name:  "clear",
				Usage: "delete every screenshot of a queue",
				Flags: []cli.Flag{viewFlag},
				Action: func(c *cli.Context) error {
					view, err := parseView(c)
					if err != nil {
						return err
					}
					cfg := config.Load()
					q, err := queue.NewManager(cfg.ScreenshotDir, logger)
					if err != nil {
						return err
					}
					q.Clear(view)
					fmt.Printf("cleared %s queue\n", view)
					return nil
				},
			},
		},
	}
}

func creditsCmd(logger zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "credits",
		Usage: "show the credit balance",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "refresh", Usage: "bypass the balance cache"},
		},
		Action: func(c *cli.Context) error {
			cfg := config.Load()
			led := ledger.New(cfg.LedgerBaseURL, cfg.LedgerToken, cfg.BalanceTTL, logger)
			var (
				credits int
				err     error
			)
			if c.Bool("refresh") {
				credits, err = led.ForceBalance(c.Context)
			} else {
				credits, err = led.Balance(c.Context)
			}
			if err != nil {
				return err
			}
			fmt.Println(credits)
			return nil
		},
	}
}

// deps bundles everything a solve run needs.
type deps struct {
	queue    *queue.Manager
	ledger   *ledger.Client
	stages   *solve.Stages
	closeFns []func()
}

func (d *deps) close() {
	for _, fn := range d.closeFns {
		fn()
	}
}

func buildDeps(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*deps, error) {
	d := &deps{}

	var opts []ledger.Option
	if cfg.DatabaseURL != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		d.closeFns = append(d.closeFns, func() { _ = db.Close() })
		opts = append(opts, ledger.WithJournal(store.NewOpRepo(db)))
	}
	d.ledger = ledger.New(cfg.LedgerBaseURL, cfg.LedgerToken, cfg.BalanceTTL, logger, opts...)

	q, err := queue.NewManager(cfg.ScreenshotDir, logger)
	if err != nil {
		return nil, err
	}
	d.queue = q

	var p provider.Provider
	var model string
	switch cfg.Provider {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, errors.New("GEMINI_API_KEY is required for PROVIDER=gemini")
		}
		p, model = gemini.New(cfg.GeminiAPIKey), cfg.GeminiModel
	default:
		if cfg.OpenAIAPIKey == "" {
			return nil, errors.New("OPENAI_API_KEY is required for PROVIDER=openai")
		}
		p, model = openai.New(cfg.OpenAIAPIKey), cfg.OpenAIModel
	}
	d.stages = &solve.Stages{Provider: p, BaseModel: model, Language: cfg.Language, Log: logger}
	return d, nil
}

// consoleEmitter renders run events to stdout.
type consoleEmitter struct{}

func (consoleEmitter) Progress(_ queue.View, p pipeline.Progress) {
	fmt.Printf("[%3d%%] %s\n", p.Percent, p.Message)
}

func (consoleEmitter) Done(_ queue.View, sol *solve.Solution) {
	if sol.Kind == solve.KindStructuredAnswer {
		fmt.Println("answers:")
		for _, a := range sol.Answers {
			fmt.Printf("  %s - %s\n", a.Number, a.Answer)
		}
		return
	}
	fmt.Println("approach:")
	for _, s := range sol.Code.Approach {
		fmt.Printf("  - %s\n", s)
	}
	fmt.Printf("\n%s\n\ntime: %s  space: %s\n", sol.Code.Code, sol.Code.TimeComplexity, sol.Code.SpaceComplexity)
}

func (consoleEmitter) Failed(_ queue.View, err error) {
	fmt.Fprintln(os.Stderr, "failed:", err)
}

func (consoleEmitter) Cancelled(queue.View) {
	fmt.Println("cancelled")
}
