package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/dwd-exporter/internal/config"
	"github.com/andresuchdata/dwd-exporter/internal/domain"
	"github.com/andresuchdata/dwd-exporter/internal/repository/postgres"
	"github.com/andresuchdata/dwd-exporter/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		logger.Log.Error().Err(err).Str("kind", string(domain.Classify(err))).Msg("exporter failed")
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "dwd-exporter",
		Usage: "Export DWD ICON-EU dataset files from Hugging Face to object storage",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "start-date",
				Usage: "First snapshot date to export (YYYY-MM-DD), overrides START_DATE",
			},
			&cli.StringFlag{
				Name:  "end-date",
				Usage: "Last snapshot date to export (YYYY-MM-DD), overrides END_DATE",
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Export files even when they already exist at the destination",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Only report what would be exported",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Number of files processed concurrently, overrides WORKERS",
			},
		},
		Action: runExport,
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Apply the Postgres run journal schema",
				Action: runMigrate,
			},
		},
	}
}

// applyFlags overrides environment settings with explicitly set flags.
func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("start-date") {
		cfg.Source.StartDate = c.String("start-date")
	}
	if c.IsSet("end-date") {
		cfg.Source.EndDate = c.String("end-date")
	}
	if c.IsSet("force") {
		cfg.Pipeline.Force = c.Bool("force")
	}
	if c.IsSet("dry-run") {
		cfg.Pipeline.DryRun = c.Bool("dry-run")
	}
	if c.IsSet("workers") {
		cfg.Pipeline.Workers = c.Int("workers")
	}
}

func setupLogging(cfg *config.Config) {
	logger.SetFormat(cfg.Log.Format)
	logger.SetLevel(cfg.Log.Level)
}

func runExport(c *cli.Context) error {
	cfg, err := config.Load(func(cfg *config.Config) { applyFlags(c, cfg) })
	if err != nil {
		return err
	}
	setupLogging(cfg)

	e, err := buildExporter(c.Context, cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	if e.status != nil {
		e.status.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := e.status.Shutdown(ctx); err != nil {
				logger.Log.Warn().Err(err).Msg("status api did not shut down cleanly")
			}
		}()
	}

	summary, err := e.driver.Run(c.Context)
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		logger.Log.Warn().Int("failed", summary.Failed).Msg("run completed with failed items, rerun to retry them")
	}
	return nil
}

func runMigrate(c *cli.Context) error {
	cfg := config.FromEnv()
	setupLogging(cfg)
	if cfg.Journal.DatabaseURL == "" {
		return fmt.Errorf("%w: DATABASE_URL is required for migrate", domain.ErrConfig)
	}

	db, err := postgres.NewDB(c.Context, cfg.Journal.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := postgres.Migrate(c.Context, db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
