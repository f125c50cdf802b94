package domain

import "time"

// RunStatus is the lifecycle state of one exporter run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunAborted   RunStatus = "aborted"
	RunCanceled  RunStatus = "canceled"
)

// RunRecord is the journal view of a run. Counters are only final once
// FinishedAt is set.
type RunRecord struct {
	ID         string     `json:"id" db:"id"`
	Status     RunStatus  `json:"status" db:"status"`
	DryRun     bool       `json:"dry_run" db:"dry_run"`
	Force      bool       `json:"force" db:"force"`
	Total      int        `json:"total" db:"total"`
	Processed  int        `json:"processed" db:"processed"`
	Skipped    int        `json:"skipped" db:"skipped"`
	Failed     int        `json:"failed" db:"failed"`
	Planned    int        `json:"planned" db:"planned"`
	Error      string     `json:"error,omitempty" db:"error_message"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

// ItemRecord is the journal view of one finished item.
type ItemRecord struct {
	RunID      string    `json:"run_id" db:"run_id"`
	Ref        string    `json:"ref" db:"ref"`
	Key        string    `json:"key" db:"dest_key"`
	Status     string    `json:"status" db:"status"`
	Kind       ErrorKind `json:"kind,omitempty" db:"error_kind"`
	Error      string    `json:"error,omitempty" db:"error_message"`
	DurationMS int64     `json:"duration_ms" db:"duration_ms"`
	FinishedAt time.Time `json:"finished_at" db:"finished_at"`
}
