// Package scheduler drives batch jobs: bounded item concurrency, timeouts,
// and the completion chain (collate, notify, publish, archive).
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/markvault/markvault/internal/batch"
	"github.com/markvault/markvault/internal/collate"
	"github.com/markvault/markvault/internal/keys"
	"github.com/markvault/markvault/internal/metrics"
	"github.com/markvault/markvault/internal/processor"
)

// Config controls per-job execution limits.
type Config struct {
	// MaxConcurrent caps simultaneously processing items within one job.
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// ItemTimeout bounds a single item's fetch-convert-persist pipeline.
	ItemTimeout time.Duration `mapstructure:"item_timeout"`
	// JobTimeout bounds the whole job; remaining items fail when it fires.
	JobTimeout time.Duration `mapstructure:"job_timeout"`
	// CompletionTopic receives completion events; empty disables publishing.
	CompletionTopic string `mapstructure:"completion_topic"`
	// WritePlaceholders controls pending markers at predicted keys.
	WritePlaceholders bool `mapstructure:"write_placeholders"`
	// FinalizeTimeout bounds the detached completion chain.
	FinalizeTimeout time.Duration `mapstructure:"finalize_timeout"`
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 5
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = 30 * time.Second
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 5 * time.Minute
	}
	if c.FinalizeTimeout <= 0 {
		c.FinalizeTimeout = 30 * time.Second
	}
}

// Scheduler executes jobs either inline (sync requests) or detached (async).
type Scheduler struct {
	cfg       Config
	jobs      batch.JobStore
	blobs     batch.BlobStore
	proc      *processor.Processor
	collator  *collate.Collator
	predictor *keys.Predictor
	notifier  batch.Notifier
	publisher batch.Publisher
	archiver  batch.Archiver
	logger    *zap.Logger

	wg sync.WaitGroup
}

// New constructs a Scheduler. Notifier, publisher, and archiver are optional;
// nil disables the corresponding completion step.
func New(
	cfg Config,
	jobs batch.JobStore,
	blobs batch.BlobStore,
	proc *processor.Processor,
	collator *collate.Collator,
	predictor *keys.Predictor,
	notifier batch.Notifier,
	publisher batch.Publisher,
	archiver batch.Archiver,
	logger *zap.Logger,
) *Scheduler {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:       cfg,
		jobs:      jobs,
		blobs:     blobs,
		proc:      proc,
		collator:  collator,
		predictor: predictor,
		notifier:  notifier,
		publisher: publisher,
		archiver:  archiver,
		logger:    logger,
	}
}

// Run executes the job to completion and returns its final snapshot. Sync
// requests block on this.
func (s *Scheduler) Run(ctx context.Context, job batch.Job) (batch.Job, error) {
	s.execute(ctx, job)
	return s.jobs.GetJob(ctx, job.ID)
}

// Start launches the job detached from the caller's context. Async requests
// return immediately after this.
func (s *Scheduler) Start(job batch.Job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(context.Background(), job)
	}()
}

// Wait blocks until all detached jobs finish. Used during shutdown.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) execute(ctx context.Context, job batch.Job) {
	started := time.Now()
	s.logger.Info("job started",
		zap.String("job_id", job.ID),
		zap.String("namespace", job.Namespace),
		zap.Int("items", len(job.Items)),
		zap.Bool("async", job.Options.Async),
	)

	if s.cfg.WritePlaceholders {
		s.writePlaceholders(ctx, job)
	}

	jobCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	sources := s.processItems(jobCtx, job)

	// Post-processing must run even after the job deadline fires.
	tailCtx, tailCancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FinalizeTimeout)
	defer tailCancel()

	if jobCtx.Err() != nil {
		cause := fmt.Errorf("job timeout after %s", s.cfg.JobTimeout)
		if err := ctx.Err(); err != nil {
			// The caller's context fired, not the job deadline.
			cause = fmt.Errorf("request cancelled: %w", err)
		}
		timeoutErr := &batch.ItemError{Kind: batch.KindTimeout, Err: cause}
		if err := s.jobs.FailRemaining(tailCtx, job.ID, timeoutErr.Error()); err != nil {
			s.logger.Error("fail remaining items", zap.String("job_id", job.ID), zap.Error(err))
		}
		s.logger.Warn("job deadline exceeded",
			zap.String("job_id", job.ID),
			zap.Duration("timeout", s.cfg.JobTimeout),
		)
	}

	if job.Options.Collate {
		s.collateJob(tailCtx, job, sources)
	}

	// Delivery and archival never hold up the caller; sync responses return
	// as soon as the job snapshot is terminal.
	notifyCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fctx, cancel := context.WithTimeout(notifyCtx, s.cfg.FinalizeTimeout)
		defer cancel()
		s.finalize(fctx, job.ID)
	}()

	outcome := "completed"
	if jobCtx.Err() != nil {
		outcome = "timed_out"
	}
	metrics.ObserveJob(outcome, time.Since(started))
	s.logger.Info("job finished",
		zap.String("job_id", job.ID),
		zap.Duration("elapsed", time.Since(started)),
	)
}

// processItems runs items under the concurrency cap and collects per-item
// markdown in input order for collation.
func (s *Scheduler) processItems(ctx context.Context, job batch.Job) []collate.Source {
	sources := make([]collate.Source, len(job.Items))
	done := make([]bool, len(job.Items))

	sem := make(chan struct{}, s.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i, item := range job.Items {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			// Job deadline hit while waiting for a slot. Remaining items
			// stay pending and are failed by the caller.
			wg.Wait()
			return compactSources(sources, done)
		}

		wg.Add(1)
		go func(index int, item batch.WorkItem) {
			defer wg.Done()
			defer func() { <-sem }()

			itemCtx, cancel := context.WithTimeout(ctx, s.cfg.ItemTimeout)
			defer cancel()

			res, err := s.proc.Process(itemCtx, job.ID, index, item, job.Options.Fetch)
			if err != nil {
				return
			}
			mu.Lock()
			sources[index] = collate.Source{URL: item.URL, Title: res.Title, Markdown: res.Markdown}
			done[index] = true
			mu.Unlock()
		}(i, item)
	}

	wg.Wait()
	return compactSources(sources, done)
}

func compactSources(sources []collate.Source, done []bool) []collate.Source {
	out := make([]collate.Source, 0, len(sources))
	for i, ok := range done {
		if ok {
			out = append(out, sources[i])
		}
	}
	return out
}

func (s *Scheduler) collateJob(ctx context.Context, job batch.Job, sources []collate.Source) {
	if s.collator == nil || len(sources) == 0 {
		// Nothing to merge; the job still completes, just without a key.
		if err := s.jobs.MarkCollated(ctx, job.ID, ""); err != nil {
			s.logger.Error("mark collated", zap.String("job_id", job.ID), zap.Error(err))
		}
		return
	}

	key := s.predictor.CollatedKey(job.Namespace, job.ID)
	if _, err := s.collator.Collate(ctx, key, job.Options.CollateOptions, sources); err != nil {
		// Collation failure does not fail the job; items already succeeded.
		s.logger.Error("collate job", zap.String("job_id", job.ID), zap.Error(err))
		key = ""
	}
	if err := s.jobs.MarkCollated(ctx, job.ID, key); err != nil {
		s.logger.Error("mark collated", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// finalize runs the completion chain on the job's terminal snapshot, always
// detached from the caller. Every step is best-effort and never alters job
// state.
func (s *Scheduler) finalize(ctx context.Context, jobID string) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		s.logger.Error("load job for finalize", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	payload := job.Completion()

	if s.notifier != nil && job.Options.Callback != nil {
		if err := s.notifier.Notify(ctx, *job.Options.Callback, payload); err != nil {
			s.logger.Warn("webhook delivery failed",
				zap.String("job_id", jobID),
				zap.String("url", job.Options.Callback.URL),
				zap.Error(err),
			)
		}
	}

	if s.publisher != nil && s.cfg.CompletionTopic != "" {
		if _, err := s.publisher.Publish(ctx, s.cfg.CompletionTopic, payload); err != nil {
			s.logger.Warn("publish completion event", zap.String("job_id", jobID), zap.Error(err))
		}
	}

	if s.archiver != nil {
		if err := s.archiver.ArchiveJob(ctx, job); err != nil {
			s.logger.Warn("archive job", zap.String("job_id", jobID), zap.Error(err))
		}
	}
}

// writePlaceholders drops small pending markers at every predicted artifact
// key so readers polling a key can distinguish "not yet" from "never".
func (s *Scheduler) writePlaceholders(ctx context.Context, job batch.Job) {
	for _, item := range job.Items {
		body := []byte(fmt.Sprintf("<!-- pending: %s -->\n", item.URL))
		if _, err := s.blobs.PutObject(ctx, item.Keys.ArtifactKey, "text/markdown; charset=utf-8", body); err != nil {
			s.logger.Warn("write placeholder",
				zap.String("job_id", job.ID),
				zap.String("key", item.Keys.ArtifactKey),
				zap.Error(err),
			)
		}
	}
}
