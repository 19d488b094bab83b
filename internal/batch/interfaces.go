package batch

import (
	"context"
	"time"
)

// JobStore persists jobs and applies item status transitions.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateItem(ctx context.Context, jobID string, index int, status ItemStatus, metrics *ItemMetrics, errText string) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	FailRemaining(ctx context.Context, jobID string, reason string) error
	MarkCollated(ctx context.Context, jobID string, key string) error
}

// BlobStore writes artifacts at a caller-chosen key and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, key string, contentType string, data []byte) (string, error)
}

// Fetcher retrieves one URL and returns its converted content.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResult, error)
}

// FetchRequest captures everything needed to fetch and convert a URL.
type FetchRequest struct {
	JobID      string
	URL        string
	Render     bool
	Screenshot bool
	Headers    map[string]string
}

// FetchResult is the converted page returned by a Fetcher implementation.
type FetchResult struct {
	URL        string
	Title      string
	Markdown   string
	WordCount  int
	CharCount  int
	Screenshot []byte
	Duration   time.Duration
}

// Notifier delivers a completion payload to a caller-supplied endpoint.
type Notifier interface {
	Notify(ctx context.Context, cb Callback, payload CompletionPayload) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload CompletionPayload) (string, error)
}

// Archiver records terminal job summaries in durable storage.
type Archiver interface {
	ArchiveJob(ctx context.Context, job Job) error
}

// Hasher computes digests for key disambiguation.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
