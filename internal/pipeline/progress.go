package pipeline

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Progress holds live counters of the current run. All methods are safe
// for concurrent use; the status API reads it while workers update it.
type Progress struct {
	total     atomic.Int64
	processed atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
	planned   atomic.Int64

	mu        sync.Mutex
	runID     string
	running   bool
	startedAt time.Time
	current   map[string]struct{}
}

// Snapshot is a point-in-time copy of Progress.
type Snapshot struct {
	RunID     string    `json:"run_id"`
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"started_at"`
	Total     int64     `json:"total"`
	Processed int64     `json:"processed"`
	Skipped   int64     `json:"skipped"`
	Failed    int64     `json:"failed"`
	Planned   int64     `json:"planned"`
	Current   []string  `json:"current"`
}

func NewProgress() *Progress {
	return &Progress{current: make(map[string]struct{})}
}

func (p *Progress) start(runID string) {
	p.total.Store(0)
	p.processed.Store(0)
	p.skipped.Store(0)
	p.failed.Store(0)
	p.planned.Store(0)

	p.mu.Lock()
	p.runID = runID
	p.running = true
	p.startedAt = time.Now().UTC()
	p.current = make(map[string]struct{})
	p.mu.Unlock()
}

func (p *Progress) setTotal(n int) { p.total.Store(int64(n)) }

func (p *Progress) begin(ref string) {
	p.mu.Lock()
	p.current[ref] = struct{}{}
	p.mu.Unlock()
}

func (p *Progress) end(r ItemResult) {
	p.mu.Lock()
	delete(p.current, r.Ref.Path)
	p.mu.Unlock()

	switch r.Status {
	case StatusDone:
		p.processed.Add(1)
	case StatusSkipped:
		p.skipped.Add(1)
	case StatusPlanned:
		p.planned.Add(1)
	case StatusFailed:
		p.failed.Add(1)
	}
}

func (p *Progress) stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
}

func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	current := make([]string, 0, len(p.current))
	for ref := range p.current {
		current = append(current, ref)
	}
	s := Snapshot{RunID: p.runID, Running: p.running, StartedAt: p.startedAt}
	p.mu.Unlock()

	sort.Strings(current)
	s.Current = current
	s.Total = p.total.Load()
	s.Processed = p.processed.Load()
	s.Skipped = p.skipped.Load()
	s.Failed = p.failed.Load()
	s.Planned = p.planned.Load()
	return s
}
