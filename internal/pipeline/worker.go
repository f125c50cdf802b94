package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/andresuchdata/dwd-exporter/internal/domain"
)

// ProcessItem moves one source file through
// pending → skipped | downloading → converting → uploading → done | failed
// and returns its terminal result. It never returns an error: failures are
// part of the result.
func (d *Driver) ProcessItem(ctx context.Context, ref domain.SourceRef) ItemResult {
	res, _ := d.processItem(ctx, ref)
	return res
}

// processItem additionally reports whether the existence check hit a store
// outage, which feeds the consecutive outage counter.
func (d *Driver) processItem(ctx context.Context, ref domain.SourceRef) (res ItemResult, storeDown bool) {
	start := time.Now()
	res = ItemResult{Ref: ref, Key: d.keys.Derive(ref), Status: StatusPending}

	d.progress.begin(ref.Path)
	defer func() {
		res.Duration = time.Since(start)
		d.progress.end(res)
		d.logItem(res)
	}()

	fail := func(sentinel, err error) ItemResult {
		res.Status = StatusFailed
		res.Err = classifyStageError(ctx, sentinel, err)
		res.Kind = domain.Classify(res.Err)
		return res
	}

	if !d.cfg.Force {
		exists, err := d.checkExists(ctx, res.Key)
		switch {
		case err != nil && ctx.Err() != nil:
			return fail(domain.ErrStoreUnavailable, err), false
		case err != nil && d.cfg.StoreUnavailablePolicy == PolicyProcess:
			storeDown = true
			d.log.Warn().
				Err(err).
				Str("ref", ref.Path).
				Str("key", res.Key.String()).
				Msg("existence check failed, processing anyway")
		case err != nil:
			return fail(domain.ErrStoreUnavailable, err), true
		case exists:
			res.Status = StatusSkipped
			return res, false
		}
	}

	if d.cfg.DryRun {
		res.Status = StatusPlanned
		return res, storeDown
	}

	var cleanup []string
	if !d.cfg.KeepLocal {
		defer func() {
			for _, p := range cleanup {
				if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
					d.log.Warn().Err(err).Str("path", p).Msg("failed to remove local file")
				}
			}
		}()
	}

	res.Status = StatusDownloading
	payload, err := d.fetcher.Download(ctx, ref)
	if err != nil {
		return fail(domain.ErrDownload, err), storeDown
	}
	cleanup = append(cleanup, payload.Path)

	res.Status = StatusConverting
	artifact, err := d.converter.Convert(ctx, payload)
	if err != nil {
		return fail(domain.ErrConversion, err), storeDown
	}
	if artifact.Path != payload.Path {
		cleanup = append(cleanup, artifact.Path)
	}

	res.Status = StatusUploading
	if err := d.store.Put(ctx, res.Key, artifact.Path); err != nil {
		return fail(domain.ErrUpload, err), storeDown
	}

	res.Status = StatusDone
	return res, storeDown
}

// classifyStageError tags err with the sentinel of the stage it came from,
// unless the run itself was canceled.
func classifyStageError(ctx context.Context, sentinel, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// checkExists retries store outages with exponential backoff. Any other
// error is returned immediately.
func (d *Driver) checkExists(ctx context.Context, key domain.DestinationKey) (bool, error) {
	var exists bool
	op := func() error {
		ok, err := d.store.Exists(ctx, key)
		if err != nil {
			if errors.Is(err, domain.ErrStoreUnavailable) {
				return err
			}
			return backoff.Permanent(err)
		}
		exists = ok
		return nil
	}

	notify := func(err error, wait time.Duration) {
		d.log.Debug().Err(err).Str("key", key.String()).Dur("backoff", wait).Msg("retrying existence check")
	}

	err := backoff.RetryNotify(op, d.newBackOff(ctx), notify)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (d *Driver) newBackOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if d.cfg.StoreRetryBackoff > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = d.cfg.StoreRetryBackoff
		exp.MaxElapsedTime = 0
		b = exp
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.cfg.StoreRetries)), ctx)
}

func (d *Driver) logItem(res ItemResult) {
	ev := d.log.Info()
	msg := "item exported"
	switch res.Status {
	case StatusSkipped:
		msg = "item skipped, already exported"
	case StatusPlanned:
		msg = "item planned (dry run)"
	case StatusFailed:
		ev = d.log.Error().Err(res.Err)
		msg = "item failed"
	}
	ev.Str("ref", res.Ref.Path).
		Str("key", res.Key.String()).
		Str("status", string(res.Status)).
		Str("kind", string(res.Kind)).
		Dur("duration", res.Duration).
		Msg(msg)
}
