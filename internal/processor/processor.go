// Package processor runs the per-item pipeline: fetch, convert, persist.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/markvault/markvault/internal/batch"
	"github.com/markvault/markvault/internal/metrics"
)

const (
	markdownContentType   = "text/markdown; charset=utf-8"
	metadataContentType   = "application/json"
	screenshotContentType = "image/png"
)

// Result carries what downstream collation needs from a completed item.
type Result struct {
	Title    string
	Markdown string
	Metrics  batch.ItemMetrics
}

// Metadata is the sidecar document written next to each artifact.
type Metadata struct {
	URL           string `json:"url"`
	Title         string `json:"title,omitempty"`
	WordCount     int    `json:"word_count"`
	CharCount     int    `json:"char_count"`
	ElapsedMs     int64  `json:"elapsed_ms"`
	ArtifactKey   string `json:"artifact_key"`
	ScreenshotKey string `json:"screenshot_key,omitempty"`
	FetchedAt     string `json:"fetched_at"`
}

// Processor executes one work item at a time. Items are never retried;
// failures are classified and recorded on the job.
type Processor struct {
	jobs    batch.JobStore
	blobs   batch.BlobStore
	fetcher batch.Fetcher
	clock   batch.Clock
	logger  *zap.Logger
}

// New constructs a Processor.
func New(jobs batch.JobStore, blobs batch.BlobStore, fetcher batch.Fetcher, clock batch.Clock, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{jobs: jobs, blobs: blobs, fetcher: fetcher, clock: clock, logger: logger}
}

// Process handles the item at the given index: marks it processing, fetches
// and converts the page, writes the artifact, metadata, and optional
// screenshot at the item's predicted keys, then records the terminal status.
// The returned Result is only valid when err is nil.
func (p *Processor) Process(ctx context.Context, jobID string, index int, item batch.WorkItem, opts batch.FetchOptions) (Result, error) {
	if err := p.jobs.UpdateItem(ctx, jobID, index, batch.ItemStatusProcessing, nil, ""); err != nil {
		return Result{}, fmt.Errorf("mark item processing: %w", err)
	}
	metrics.IncActiveItems()
	defer metrics.DecActiveItems()
	started := p.clock.Now()

	res, err := p.run(ctx, jobID, item, opts)
	if err != nil {
		itemErr := &batch.ItemError{Kind: batch.ClassifyError(err), Err: err}
		p.logger.Warn("item failed",
			zap.String("job_id", jobID),
			zap.Int("index", index),
			zap.String("url", item.URL),
			zap.String("kind", string(itemErr.Kind)),
			zap.Error(err),
		)
		if uerr := p.jobs.UpdateItem(ctx, jobID, index, batch.ItemStatusFailed, nil, itemErr.Error()); uerr != nil {
			p.logger.Error("record item failure", zap.String("job_id", jobID), zap.Error(uerr))
		}
		metrics.ObserveItem(item.URL, string(batch.ItemStatusFailed), p.clock.Now().Sub(started))
		return Result{}, itemErr
	}

	if uerr := p.jobs.UpdateItem(ctx, jobID, index, batch.ItemStatusCompleted, &res.Metrics, ""); uerr != nil {
		return Result{}, fmt.Errorf("mark item completed: %w", uerr)
	}
	metrics.ObserveItem(item.URL, string(batch.ItemStatusCompleted), p.clock.Now().Sub(started))
	p.logger.Info("item completed",
		zap.String("job_id", jobID),
		zap.Int("index", index),
		zap.String("url", item.URL),
		zap.Int("word_count", res.Metrics.WordCount),
		zap.Int64("elapsed_ms", res.Metrics.ElapsedMs),
	)
	return res, nil
}

func (p *Processor) run(ctx context.Context, jobID string, item batch.WorkItem, opts batch.FetchOptions) (Result, error) {
	started := p.clock.Now()

	fetched, err := p.fetcher.Fetch(ctx, batch.FetchRequest{
		JobID:      jobID,
		URL:        item.URL,
		Render:     opts.Render,
		Screenshot: opts.Screenshot,
		Headers:    opts.Headers,
	})
	if err != nil {
		return Result{}, err
	}

	if _, err := p.blobs.PutObject(ctx, item.Keys.ArtifactKey, markdownContentType, []byte(fetched.Markdown)); err != nil {
		return Result{}, &batch.StorageError{Key: item.Keys.ArtifactKey, Err: err}
	}

	screenshotKey := ""
	if opts.Screenshot && len(fetched.Screenshot) > 0 && item.Keys.ScreenshotKey != "" {
		if _, err := p.blobs.PutObject(ctx, item.Keys.ScreenshotKey, screenshotContentType, fetched.Screenshot); err != nil {
			return Result{}, &batch.StorageError{Key: item.Keys.ScreenshotKey, Err: err}
		}
		screenshotKey = item.Keys.ScreenshotKey
	}

	metrics := batch.ItemMetrics{
		WordCount: fetched.WordCount,
		CharCount: fetched.CharCount,
		ElapsedMs: p.clock.Now().Sub(started).Milliseconds(),
	}

	meta := Metadata{
		URL:           item.URL,
		Title:         fetched.Title,
		WordCount:     metrics.WordCount,
		CharCount:     metrics.CharCount,
		ElapsedMs:     metrics.ElapsedMs,
		ArtifactKey:   item.Keys.ArtifactKey,
		ScreenshotKey: screenshotKey,
		FetchedAt:     started.UTC().Format(time.RFC3339),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return Result{}, fmt.Errorf("marshal item metadata: %w", err)
	}
	if _, err := p.blobs.PutObject(ctx, item.Keys.MetadataKey, metadataContentType, metaJSON); err != nil {
		return Result{}, &batch.StorageError{Key: item.Keys.MetadataKey, Err: err}
	}

	return Result{Title: fetched.Title, Markdown: fetched.Markdown, Metrics: metrics}, nil
}
