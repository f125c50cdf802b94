package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/andresuchdata/dwd-exporter/internal/config"
	"github.com/andresuchdata/dwd-exporter/internal/domain"
)

const (
	keyPrefix  = "dwd-exporter"
	lastRunKey = keyPrefix + ":last_run"
	runsKey    = keyPrefix + ":runs"
)

func runKey(id string) string   { return fmt.Sprintf("%s:run:%s", keyPrefix, id) }
func itemsKey(id string) string { return runKey(id) + ":items" }

// RunJournal keeps run history in Redis. Every key expires after the
// configured TTL, which is refreshed on each write.
type RunJournal struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRunJournal(cfg config.JournalConfig) (*RunJournal, error) {
	client, ttl, err := newRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	return &RunJournal{client: client, ttl: ttl}, nil
}

func newRunJournalWithClient(client *redis.Client, ttl time.Duration) *RunJournal {
	if ttl <= 0 {
		ttl = defaultJournalTTL
	}
	return &RunJournal{client: client, ttl: ttl}
}

// runHash is the flat hash layout of a run.
type runHash struct {
	ID         string `redis:"id"`
	Status     string `redis:"status"`
	DryRun     bool   `redis:"dry_run"`
	Force      bool   `redis:"force"`
	Total      int    `redis:"total"`
	Processed  int    `redis:"processed"`
	Skipped    int    `redis:"skipped"`
	Failed     int    `redis:"failed"`
	Planned    int    `redis:"planned"`
	Error      string `redis:"error"`
	StartedAt  int64  `redis:"started_at"`
	FinishedAt int64  `redis:"finished_at"`
}

func toHash(run domain.RunRecord) map[string]any {
	h := map[string]any{
		"id":         run.ID,
		"status":     string(run.Status),
		"dry_run":    run.DryRun,
		"force":      run.Force,
		"total":      run.Total,
		"processed":  run.Processed,
		"skipped":    run.Skipped,
		"failed":     run.Failed,
		"planned":    run.Planned,
		"error":      run.Error,
		"started_at": run.StartedAt.UnixMilli(),
	}
	if run.FinishedAt != nil {
		h["finished_at"] = run.FinishedAt.UnixMilli()
	}
	return h
}

func (h runHash) record() domain.RunRecord {
	run := domain.RunRecord{
		ID:        h.ID,
		Status:    domain.RunStatus(h.Status),
		DryRun:    h.DryRun,
		Force:     h.Force,
		Total:     h.Total,
		Processed: h.Processed,
		Skipped:   h.Skipped,
		Failed:    h.Failed,
		Planned:   h.Planned,
		Error:     h.Error,
		StartedAt: time.UnixMilli(h.StartedAt).UTC(),
	}
	if h.FinishedAt > 0 {
		t := time.UnixMilli(h.FinishedAt).UTC()
		run.FinishedAt = &t
	}
	return run
}

func (j *RunJournal) StartRun(ctx context.Context, run domain.RunRecord) error {
	_, err := j.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, runKey(run.ID), toHash(run))
		pipe.Expire(ctx, runKey(run.ID), j.ttl)
		pipe.Set(ctx, lastRunKey, run.ID, j.ttl)
		pipe.ZAdd(ctx, runsKey, redis.Z{Score: float64(run.StartedAt.UnixMilli()), Member: run.ID})
		pipe.Expire(ctx, runsKey, j.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis start run failed: %w", err)
	}
	return nil
}

func (j *RunJournal) RecordItem(ctx context.Context, item domain.ItemRecord) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	_, err = j.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, itemsKey(item.RunID), payload)
		pipe.Expire(ctx, itemsKey(item.RunID), j.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis record item failed: %w", err)
	}
	return nil
}

func (j *RunJournal) FinishRun(ctx context.Context, run domain.RunRecord) error {
	_, err := j.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, runKey(run.ID), toHash(run))
		pipe.Expire(ctx, runKey(run.ID), j.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis finish run failed: %w", err)
	}
	return nil
}

// GetRun returns nil when the run is unknown or expired.
func (j *RunJournal) GetRun(ctx context.Context, id string) (*domain.RunRecord, error) {
	res := j.client.HGetAll(ctx, runKey(id))
	fields, err := res.Result()
	if err != nil {
		return nil, fmt.Errorf("redis get run failed: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	var h runHash
	if err := res.Scan(&h); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", id, err)
	}
	run := h.record()
	return &run, nil
}

// LastRun returns the most recently started run, or nil.
func (j *RunJournal) LastRun(ctx context.Context) (*domain.RunRecord, error) {
	id, err := j.client.Get(ctx, lastRunKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return j.GetRun(ctx, id)
}

// ListRuns returns the most recent runs first. Runs whose hash has already
// expired are dropped from the index.
func (j *RunJournal) ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	ids, err := j.client.ZRevRange(ctx, runsKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrevrange failed: %w", err)
	}

	runs := make([]domain.RunRecord, 0, len(ids))
	for _, id := range ids {
		run, err := j.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		if run == nil {
			j.client.ZRem(ctx, runsKey, id)
			continue
		}
		runs = append(runs, *run)
	}
	return runs, nil
}

func (j *RunJournal) Items(ctx context.Context, runID string) ([]domain.ItemRecord, error) {
	raw, err := j.client.LRange(ctx, itemsKey(runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange failed: %w", err)
	}

	items := make([]domain.ItemRecord, 0, len(raw))
	for _, payload := range raw {
		var item domain.ItemRecord
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal item: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}

func (j *RunJournal) Close() error {
	return j.client.Close()
}
