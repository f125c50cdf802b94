package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/andresuchdata/dwd-exporter/internal/domain"
	"github.com/andresuchdata/dwd-exporter/pkg/logger"
)

// Driver runs the list → check → download → convert → upload pipeline over
// every source file of one run.
type Driver struct {
	cfg       Config
	lister    Lister
	fetcher   Fetcher
	converter Converter
	store     Store
	keys      domain.KeyDeriver
	journal   Journal
	progress  *Progress
	log       zerolog.Logger

	mu                sync.Mutex
	consecutiveOutage int
}

// Option customizes a Driver.
type Option func(*Driver)

// WithJournal records run history in j.
func WithJournal(j Journal) Option {
	return func(d *Driver) {
		if j != nil {
			d.journal = j
		}
	}
}

// WithProgress publishes live counters into p.
func WithProgress(p *Progress) Option {
	return func(d *Driver) {
		if p != nil {
			d.progress = p
		}
	}
}

// NewDriver creates a Driver. Zero values in cfg fall back to DefaultConfig
// where a zero would be meaningless.
func NewDriver(cfg Config, lister Lister, fetcher Fetcher, converter Converter, store Store, keys domain.KeyDeriver, opts ...Option) *Driver {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.StoreRetries < 0 {
		cfg.StoreRetries = 0
	}
	if cfg.StoreUnavailablePolicy == "" {
		cfg.StoreUnavailablePolicy = PolicyFail
	}

	d := &Driver{
		cfg:       cfg,
		lister:    lister,
		fetcher:   fetcher,
		converter: converter,
		store:     store,
		keys:      keys,
		journal:   NopJournal{},
		progress:  NewProgress(),
		log:       logger.Component("pipeline"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Progress returns the live counters of the driver.
func (d *Driver) Progress() *Progress { return d.progress }

// Run lists the source files and processes each of them. Per-item failures
// are reported in the Summary; the returned error is only set when the run
// as a whole could not complete (source unavailable, systemic store outage,
// cancellation).
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	runID := uuid.NewString()
	started := time.Now().UTC()
	log := d.log.With().Str("run_id", runID).Logger()

	d.progress.start(runID)
	defer d.progress.stop()

	d.mu.Lock()
	d.consecutiveOutage = 0
	d.mu.Unlock()

	run := domain.RunRecord{
		ID:        runID,
		Status:    domain.RunRunning,
		DryRun:    d.cfg.DryRun,
		Force:     d.cfg.Force,
		StartedAt: started,
	}
	d.journalStart(ctx, run)

	refs, err := d.lister.ListSources(ctx)
	if err != nil {
		err = fmt.Errorf("list sources: %w", err)
		log.Error().Err(err).Str("kind", string(domain.Classify(err))).Msg("source listing failed, aborting run")
		summary := Summary{RunID: runID}
		d.journalFinish(ctx, run, summary, err)
		return summary, err
	}

	d.progress.setTotal(len(refs))
	log.Info().
		Int("total", len(refs)).
		Int("workers", d.cfg.Workers).
		Bool("force", d.cfg.Force).
		Bool("dry_run", d.cfg.DryRun).
		Msg("starting export run")

	results := make([]ItemResult, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)

	for i, ref := range refs {
		if gctx.Err() != nil {
			break
		}
		i, ref := i, ref
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res, storeDown := d.processItem(gctx, ref)
			results[i] = res
			d.journalItem(ctx, runID, res)
			return d.observe(res, storeDown)
		})
	}
	runErr := g.Wait()
	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}

	attempted := results[:0]
	for _, r := range results {
		if r.Status != "" {
			attempted = append(attempted, r)
		}
	}

	summary := summarize(runID, len(refs), attempted)
	d.logSummary(log, summary, time.Since(started), runErr)
	d.journalFinish(ctx, run, summary, runErr)

	return summary, runErr
}

// observe tracks consecutive store outages across completed items and
// returns a fatal error once the configured threshold is reached.
func (d *Driver) observe(res ItemResult, storeDown bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case storeDown:
		d.consecutiveOutage++
	case res.Kind == domain.KindCanceled:
		return nil
	default:
		d.consecutiveOutage = 0
	}

	limit := d.cfg.MaxConsecutiveStoreFailures
	if limit > 0 && d.consecutiveOutage >= limit {
		return fmt.Errorf("%w: %d consecutive existence checks failed", domain.ErrStoreUnavailable, d.consecutiveOutage)
	}
	return nil
}

func (d *Driver) logSummary(log zerolog.Logger, s Summary, elapsed time.Duration, runErr error) {
	for _, f := range s.Failures {
		log.Warn().
			Str("ref", f.Ref.Path).
			Str("key", f.Key.String()).
			Str("kind", string(f.Kind)).
			Err(f.Err).
			Msg("failed item")
	}

	ev := log.Info()
	if runErr != nil {
		ev = log.Error().Err(runErr).Str("kind", string(domain.Classify(runErr)))
	}
	ev.Int("total", s.Total).
		Int("processed", s.Processed).
		Int("skipped", s.Skipped).
		Int("failed", s.Failed).
		Int("planned", s.Planned).
		Dur("duration", elapsed).
		Msg("export run finished")
}

func (d *Driver) journalStart(ctx context.Context, run domain.RunRecord) {
	if err := d.journal.StartRun(ctx, run); err != nil {
		d.log.Warn().Err(err).Str("run_id", run.ID).Msg("journal: start run failed")
	}
}

func (d *Driver) journalItem(ctx context.Context, runID string, res ItemResult) {
	rec := itemRecord(runID, res)
	rec.FinishedAt = time.Now().UTC()
	if err := d.journal.RecordItem(context.WithoutCancel(ctx), rec); err != nil {
		d.log.Warn().Err(err).Str("run_id", runID).Str("ref", rec.Ref).Msg("journal: record item failed")
	}
}

func (d *Driver) journalFinish(ctx context.Context, run domain.RunRecord, s Summary, runErr error) {
	finished := time.Now().UTC()
	run.FinishedAt = &finished
	run.Total = s.Total
	run.Processed = s.Processed
	run.Skipped = s.Skipped
	run.Failed = s.Failed
	run.Planned = s.Planned

	switch {
	case runErr == nil:
		run.Status = domain.RunCompleted
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		run.Status = domain.RunCanceled
		run.Error = runErr.Error()
	default:
		run.Status = domain.RunAborted
		run.Error = runErr.Error()
	}

	if err := d.journal.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		d.log.Warn().Err(err).Str("run_id", run.ID).Msg("journal: finish run failed")
	}
}
