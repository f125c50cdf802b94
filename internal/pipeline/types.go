package pipeline

import (
	"context"
	"time"

	"github.com/andresuchdata/dwd-exporter/internal/domain"
)

// Lister enumerates the source files of one run.
type Lister interface {
	ListSources(ctx context.Context) ([]domain.SourceRef, error)
}

// Fetcher downloads one source file to local disk.
type Fetcher interface {
	Download(ctx context.Context, ref domain.SourceRef) (domain.LocalPayload, error)
}

// Converter produces the artifact that gets uploaded.
type Converter interface {
	Convert(ctx context.Context, payload domain.LocalPayload) (domain.ExportedArtifact, error)
}

// Store is the destination object store.
type Store interface {
	Exists(ctx context.Context, key domain.DestinationKey) (bool, error)
	Put(ctx context.Context, key domain.DestinationKey, localPath string) error
}

// Store unavailable policies.
const (
	PolicyFail    = "fail"
	PolicyProcess = "process"
)

// Config holds the knobs of one Driver.
type Config struct {
	Force                       bool          // skip the existence check
	DryRun                      bool          // check existence only, never download
	KeepLocal                   bool          // keep payloads and artifacts after each item
	Workers                     int           // concurrent items, 1 means sequential
	StoreRetries                int           // extra Exists attempts on store outages
	StoreRetryBackoff           time.Duration // initial backoff between Exists attempts
	MaxConsecutiveStoreFailures int           // abort threshold, 0 disables
	StoreUnavailablePolicy      string        // fail or process
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Workers:                     1,
		StoreRetries:                2,
		StoreRetryBackoff:           500 * time.Millisecond,
		MaxConsecutiveStoreFailures: 3,
		StoreUnavailablePolicy:      PolicyFail,
	}
}

// ItemStatus is the state of one item in the per-item state machine.
type ItemStatus string

const (
	StatusPending     ItemStatus = "pending"
	StatusSkipped     ItemStatus = "skipped"
	StatusDownloading ItemStatus = "downloading"
	StatusConverting  ItemStatus = "converting"
	StatusUploading   ItemStatus = "uploading"
	StatusDone        ItemStatus = "done"
	StatusFailed      ItemStatus = "failed"
	StatusPlanned     ItemStatus = "planned"
)

// ItemResult is the terminal outcome of one item.
type ItemResult struct {
	Ref      domain.SourceRef
	Key      domain.DestinationKey
	Status   ItemStatus
	Kind     domain.ErrorKind
	Err      error
	Duration time.Duration
}

// Summary is reduced from the item results of a run, in source order.
type Summary struct {
	RunID     string
	Total     int
	Processed int
	Skipped   int
	Failed    int
	Planned   int
	Results   []ItemResult
	Failures  []ItemResult
}

func summarize(runID string, total int, results []ItemResult) Summary {
	s := Summary{RunID: runID, Total: total, Results: results}
	for _, r := range results {
		switch r.Status {
		case StatusDone:
			s.Processed++
		case StatusSkipped:
			s.Skipped++
		case StatusPlanned:
			s.Planned++
		case StatusFailed:
			s.Failed++
			s.Failures = append(s.Failures, r)
		}
	}
	return s
}
