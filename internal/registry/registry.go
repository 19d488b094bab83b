// Package registry holds the in-memory job table and enforces status
// transition rules.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/markvault/markvault/internal/batch"
	"github.com/markvault/markvault/internal/clock/system"
)

// ErrNotFound signals an unknown or already-reaped job id.
var ErrNotFound = errors.New("job not found")

// ErrJobExists signals a duplicate job id on creation.
var ErrJobExists = errors.New("job already exists")

// Config controls registry behavior.
type Config struct {
	// Retention is how long a terminal job stays queryable before reaping.
	Retention time.Duration
}

const defaultRetention = 30 * time.Minute

// Registry is a concurrency-safe in-memory job store. A job's aggregate state
// and its individual items are only ever mutated under the registry lock, so
// two items completing at the same instant cannot lose updates.
type Registry struct {
	mu     sync.RWMutex
	jobs   map[string]*batch.Job
	cfg    Config
	clock  batch.Clock
	logger *zap.Logger
}

// New constructs a Registry.
func New(cfg Config, clock batch.Clock, logger *zap.Logger) *Registry {
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		jobs:   make(map[string]*batch.Job),
		cfg:    cfg,
		clock:  clock,
		logger: logger,
	}
}

// CreateJob stores a new job with all items pending.
func (r *Registry) CreateJob(_ context.Context, job batch.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; exists {
		return ErrJobExists
	}
	stored := cloneJob(job)
	stored.Status = batch.JobStatusProcessing
	stored.Stats = batch.JobStats{Total: len(stored.Items)}
	for i := range stored.Items {
		stored.Items[i].Status = batch.ItemStatusPending
	}
	r.jobs[job.ID] = &stored
	return nil
}

// UpdateItem applies one item transition. Only monotonic transitions are
// legal; a backward or post-terminal transition is a programming error, so it
// is logged and ignored rather than propagated. Aggregate stats are updated
// incrementally in the same critical section.
func (r *Registry) UpdateItem(
	_ context.Context,
	jobID string,
	index int,
	status batch.ItemStatus,
	metrics *batch.ItemMetrics,
	errText string,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if index < 0 || index >= len(job.Items) {
		return errors.New("item index out of range")
	}
	item := &job.Items[index]
	if statusRank(status) <= statusRank(item.Status) {
		r.logger.Warn("ignoring non-monotonic item transition",
			zap.String("job_id", jobID),
			zap.Int("index", index),
			zap.String("from", string(item.Status)),
			zap.String("to", string(status)),
		)
		return nil
	}

	item.Status = status
	switch status {
	case batch.ItemStatusCompleted:
		if metrics != nil {
			m := *metrics
			item.Metrics = &m
			job.Stats.TotalTimeMs += m.ElapsedMs
			job.Stats.TotalWords += m.WordCount
			job.Stats.TotalChars += m.CharCount
		}
		job.Stats.Successful++
	case batch.ItemStatusFailed:
		item.Error = errText
		if metrics != nil {
			job.Stats.TotalTimeMs += metrics.ElapsedMs
		}
		job.Stats.Failed++
	}

	r.maybeFinishLocked(job)
	return nil
}

// FailRemaining force-fails every non-terminal item of the job. It models
// job-level timeout and cancellation.
func (r *Registry) FailRemaining(_ context.Context, jobID string, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	for i := range job.Items {
		item := &job.Items[i]
		if item.Status.Terminal() {
			continue
		}
		item.Status = batch.ItemStatusFailed
		item.Error = reason
		job.Stats.Failed++
	}
	r.maybeFinishLocked(job)
	return nil
}

// MarkCollated records the collation outcome. An empty key means collation was
// attempted but the artifact write failed; the job still finishes completed.
func (r *Registry) MarkCollated(_ context.Context, jobID string, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	job.CollatedKey = key
	job.Status = batch.JobStatusCompleted
	return nil
}

// GetJob returns a consistent snapshot of the job. The copy shares no mutable
// state with the registry, so callers never observe a half-applied update.
func (r *Registry) GetJob(_ context.Context, jobID string) (batch.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return batch.Job{}, ErrNotFound
	}
	return cloneJob(*job), nil
}

// ReapExpired removes terminal jobs past the retention window and returns how
// many were dropped.
func (r *Registry) ReapExpired(_ context.Context) int {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	reaped := 0
	for id, job := range r.jobs {
		if job.CompletedAt == nil {
			continue
		}
		if now.Sub(*job.CompletedAt) > r.cfg.Retention {
			delete(r.jobs, id)
			reaped++
		}
	}
	if reaped > 0 {
		r.logger.Debug("reaped expired jobs", zap.Int("count", reaped))
	}
	return reaped
}

// maybeFinishLocked flips the job terminal exactly once. Jobs that still need
// collation park in collating; MarkCollated finishes them.
func (r *Registry) maybeFinishLocked(job *batch.Job) {
	if job.CompletedAt != nil || !job.IsTerminal() {
		return
	}
	now := r.clock.Now()
	job.CompletedAt = &now
	if job.Options.Collate {
		job.Status = batch.JobStatusCollating
		return
	}
	job.Status = batch.JobStatusCompleted
}

func statusRank(s batch.ItemStatus) int {
	switch s {
	case batch.ItemStatusPending:
		return 0
	case batch.ItemStatusProcessing:
		return 1
	case batch.ItemStatusCompleted, batch.ItemStatusFailed:
		return 2
	default:
		return -1
	}
}

func cloneJob(src batch.Job) batch.Job {
	dst := src
	dst.Items = make([]batch.WorkItem, len(src.Items))
	copy(dst.Items, src.Items)
	for i := range dst.Items {
		if m := dst.Items[i].Metrics; m != nil {
			c := *m
			dst.Items[i].Metrics = &c
		}
	}
	if src.CompletedAt != nil {
		t := *src.CompletedAt
		dst.CompletedAt = &t
	}
	if src.Options.Callback != nil {
		cb := *src.Options.Callback
		dst.Options.Callback = &cb
	}
	return dst
}
