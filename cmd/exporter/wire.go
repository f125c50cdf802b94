package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/andresuchdata/dwd-exporter/internal/api"
	"github.com/andresuchdata/dwd-exporter/internal/api/handlers"
	"github.com/andresuchdata/dwd-exporter/internal/cache"
	"github.com/andresuchdata/dwd-exporter/internal/config"
	"github.com/andresuchdata/dwd-exporter/internal/convert"
	"github.com/andresuchdata/dwd-exporter/internal/domain"
	"github.com/andresuchdata/dwd-exporter/internal/pipeline"
	"github.com/andresuchdata/dwd-exporter/internal/repository/postgres"
	"github.com/andresuchdata/dwd-exporter/internal/source"
	"github.com/andresuchdata/dwd-exporter/internal/storage"
)

// exporter bundles the components of one run and the resources to release
// afterwards.
type exporter struct {
	driver  *pipeline.Driver
	status  *api.Server
	closers []func() error
}

func (e *exporter) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i]()
	}
}

func keyDeriver(cfg *config.Config) domain.KeyDeriver {
	return domain.KeyDeriver{
		Prefix:       cfg.Store.Prefix,
		SourcePrefix: cfg.Source.PathPrefix,
		SourceSuffix: cfg.Source.Suffix,
		TargetSuffix: cfg.Converter.TargetSuffix,
	}
}

func newConverter(cfg *config.Config, keys domain.KeyDeriver) (pipeline.Converter, error) {
	switch cfg.Converter.Mode {
	case config.ConverterModePassthrough:
		return convert.NewPassthroughConverter(keys), nil
	default:
		return convert.NewCommandConverter(cfg.Converter.Command, keys, cfg.Converter.Timeout)
	}
}

// newJournal returns the configured journal and, when it can be read back,
// the reader for the status API.
func newJournal(ctx context.Context, cfg config.JournalConfig) (pipeline.Journal, handlers.RunReader, func() error, error) {
	switch cfg.Driver {
	case config.JournalPostgres:
		db, err := postgres.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		repo := postgres.NewRunRepository(db)
		return repo, repo, db.Close, nil
	case config.JournalRedis:
		j, err := cache.NewRunJournal(cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		return j, j, j.Close, nil
	default:
		return pipeline.NopJournal{}, nil, func() error { return nil }, nil
	}
}

func buildExporter(ctx context.Context, cfg *config.Config) (*exporter, error) {
	keys := keyDeriver(cfg)
	start, end, _ := cfg.Source.DateRange()

	hub, err := source.NewHubClient(source.HubConfig{
		Endpoint:   cfg.Source.Endpoint,
		RepoID:     cfg.Source.RepoID,
		Revision:   cfg.Source.Revision,
		Token:      cfg.Source.Token,
		PathPrefix: cfg.Source.PathPrefix,
		Suffix:     cfg.Source.Suffix,
		Timeout:    cfg.Source.HTTPTimeout,
		DownloadTo: filepath.Clean(cfg.Pipeline.WorkDir),
		StartDate:  start,
		EndDate:    end,
	})
	if err != nil {
		return nil, err
	}

	store, err := storage.New(ctx, storage.Config{
		Driver:       cfg.Store.Driver,
		Endpoint:     cfg.Store.Endpoint,
		AccessKey:    cfg.Store.AccessKey,
		SecretKey:    cfg.Store.SecretKey,
		SessionToken: cfg.Store.SessionToken,
		Region:       cfg.Store.Region,
		Bucket:       cfg.Store.Bucket,
		UseSSL:       cfg.Store.UseSSL,
		LocalRoot:    cfg.Store.LocalRoot,
	})
	if err != nil {
		return nil, err
	}

	converter, err := newConverter(cfg, keys)
	if err != nil {
		return nil, err
	}

	journal, reader, closeJournal, err := newJournal(ctx, cfg.Journal)
	if err != nil {
		return nil, fmt.Errorf("run journal: %w", err)
	}
	e := &exporter{closers: []func() error{closeJournal}}

	progress := pipeline.NewProgress()
	e.driver = pipeline.NewDriver(pipeline.Config{
		Force:                       cfg.Pipeline.Force,
		DryRun:                      cfg.Pipeline.DryRun,
		KeepLocal:                   cfg.Pipeline.KeepLocal,
		Workers:                     cfg.Pipeline.Workers,
		StoreRetries:                cfg.Pipeline.StoreRetries,
		StoreRetryBackoff:           cfg.Pipeline.StoreRetryBackoff,
		MaxConsecutiveStoreFailures: cfg.Pipeline.MaxConsecutiveStoreFailures,
		StoreUnavailablePolicy:      cfg.Pipeline.StoreUnavailablePolicy,
	}, hub, hub, converter, store, keys,
		pipeline.WithJournal(journal),
		pipeline.WithProgress(progress),
	)

	if cfg.Status.Addr != "" {
		srv, err := api.NewServer(cfg.Status.Addr, handlers.NewStatusHandler(progress, reader), cfg.Status.AllowedOrigins)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.status = srv
	}

	return e, nil
}
