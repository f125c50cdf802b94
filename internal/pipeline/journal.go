package pipeline

import (
	"context"

	"github.com/andresuchdata/dwd-exporter/internal/domain"
)

// Journal persists run history. Implementations must be safe for
// concurrent RecordItem calls.
type Journal interface {
	StartRun(ctx context.Context, run domain.RunRecord) error
	RecordItem(ctx context.Context, item domain.ItemRecord) error
	FinishRun(ctx context.Context, run domain.RunRecord) error
}

// NopJournal discards everything.
type NopJournal struct{}

func (NopJournal) StartRun(context.Context, domain.RunRecord) error   { return nil }
func (NopJournal) RecordItem(context.Context, domain.ItemRecord) error { return nil }
func (NopJournal) FinishRun(context.Context, domain.RunRecord) error  { return nil }

func itemRecord(runID string, r ItemResult) domain.ItemRecord {
	rec := domain.ItemRecord{
		RunID:      runID,
		Ref:        r.Ref.Path,
		Key:        r.Key.String(),
		Status:     string(r.Status),
		Kind:       r.Kind,
		DurationMS: r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}
