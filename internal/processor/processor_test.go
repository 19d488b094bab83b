package processor_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/markvault/markvault/internal/batch"
	"github.com/markvault/markvault/internal/processor"
	"github.com/markvault/markvault/internal/registry"
	"github.com/markvault/markvault/internal/storage/memory"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time {
	c.now = c.now.Add(250 * time.Millisecond)
	return c.now
}

type fakeFetcher struct {
	result batch.FetchResult
	err    error
	gotReq batch.FetchRequest
}

func (f *fakeFetcher) Fetch(ctx context.Context, req batch.FetchRequest) (batch.FetchResult, error) {
	f.gotReq = req
	if f.err != nil {
		return batch.FetchResult{}, f.err
	}
	return f.result, nil
}

func seedJob(t *testing.T, reg *registry.Registry, screenshot bool) batch.Job {
	t.Helper()
	job := batch.Job{
		ID:        "job-1",
		Namespace: "default",
		Items: []batch.WorkItem{{
			URL: "https://example.com/doc",
			Keys: batch.PredictedKeys{
				ArtifactKey: "a/doc.md",
				MetadataKey: "a/doc.meta.json",
			},
		}},
		Options: batch.JobOptions{Fetch: batch.FetchOptions{Screenshot: screenshot}},
	}
	if screenshot {
		job.Items[0].Keys.ScreenshotKey = "a/doc.png"
	}
	require.NoError(t, reg.CreateJob(context.Background(), job))
	return job
}

func newRegistry() *registry.Registry {
	return registry.New(registry.Config{}, nil, zap.NewNop())
}

func TestProcessWritesArtifactAndMetadata(t *testing.T) {
	t.Parallel()

	reg := newRegistry()
	blobs := memory.NewBlobStore()
	fetcher := &fakeFetcher{result: batch.FetchResult{
		URL:       "https://example.com/doc",
		Title:     "Example Doc",
		Markdown:  "# Example Doc\n\nbody text here",
		WordCount: 5,
		CharCount: 28,
	}}
	job := seedJob(t, reg, false)
	p := processor.New(reg, blobs, fetcher, &fakeClock{now: time.Unix(1700000000, 0)}, zap.NewNop())

	res, err := p.Process(context.Background(), job.ID, 0, job.Items[0], job.Options.Fetch)
	require.NoError(t, err)
	require.Equal(t, "Example Doc", res.Title)
	require.Equal(t, 5, res.Metrics.WordCount)
	require.Positive(t, res.Metrics.ElapsedMs)

	artifact, ok := blobs.GetObject("a/doc.md")
	require.True(t, ok)
	require.Equal(t, "# Example Doc\n\nbody text here", string(artifact))

	rawMeta, ok := blobs.GetObject("a/doc.meta.json")
	require.True(t, ok)
	var meta processor.Metadata
	require.NoError(t, json.Unmarshal(rawMeta, &meta))
	require.Equal(t, "https://example.com/doc", meta.URL)
	require.Equal(t, "a/doc.md", meta.ArtifactKey)
	require.Empty(t, meta.ScreenshotKey)

	stored, err := reg.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, batch.ItemStatusCompleted, stored.Items[0].Status)
	require.NotNil(t, stored.Items[0].Metrics)
	require.Equal(t, batch.JobStatusCompleted, stored.Status)
}

func TestProcessWritesScreenshotWhenRequested(t *testing.T) {
	t.Parallel()

	reg := newRegistry()
	blobs := memory.NewBlobStore()
	fetcher := &fakeFetcher{result: batch.FetchResult{
		Markdown:   "content",
		Screenshot: []byte{0x89, 'P', 'N', 'G'},
	}}
	job := seedJob(t, reg, true)
	p := processor.New(reg, blobs, fetcher, &fakeClock{now: time.Unix(1700000000, 0)}, zap.NewNop())

	_, err := p.Process(context.Background(), job.ID, 0, job.Items[0], job.Options.Fetch)
	require.NoError(t, err)
	require.True(t, fetcher.gotReq.Screenshot)

	shot, ok := blobs.GetObject("a/doc.png")
	require.True(t, ok)
	require.Equal(t, []byte{0x89, 'P', 'N', 'G'}, shot)

	rawMeta, ok := blobs.GetObject("a/doc.meta.json")
	require.True(t, ok)
	var meta processor.Metadata
	require.NoError(t, json.Unmarshal(rawMeta, &meta))
	require.Equal(t, "a/doc.png", meta.ScreenshotKey)
}

func TestProcessClassifiesFetchFailure(t *testing.T) {
	t.Parallel()

	reg := newRegistry()
	fetcher := &fakeFetcher{err: context.DeadlineExceeded}
	job := seedJob(t, reg, false)
	p := processor.New(reg, memory.NewBlobStore(), fetcher, &fakeClock{now: time.Unix(1700000000, 0)}, zap.NewNop())

	_, err := p.Process(context.Background(), job.ID, 0, job.Items[0], job.Options.Fetch)
	require.Error(t, err)
	var itemErr *batch.ItemError
	require.ErrorAs(t, err, &itemErr)
	require.Equal(t, batch.KindTimeout, itemErr.Kind)

	stored, err := reg.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, batch.ItemStatusFailed, stored.Items[0].Status)
	require.Contains(t, stored.Items[0].Error, "timeout")
}

func TestProcessClassifiesStorageFailure(t *testing.T) {
	t.Parallel()

	reg := newRegistry()
	fetcher := &fakeFetcher{result: batch.FetchResult{Markdown: "x"}}
	job := seedJob(t, reg, false)
	p := processor.New(reg, failingBlobs{}, fetcher, &fakeClock{now: time.Unix(1700000000, 0)}, zap.NewNop())

	_, err := p.Process(context.Background(), job.ID, 0, job.Items[0], job.Options.Fetch)
	require.Error(t, err)
	var itemErr *batch.ItemError
	require.ErrorAs(t, err, &itemErr)
	require.Equal(t, batch.KindStorage, itemErr.Kind)

	stored, err := reg.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, batch.ItemStatusFailed, stored.Items[0].Status)
}

type failingBlobs struct{}

func (failingBlobs) PutObject(ctx context.Context, key, contentType string, data []byte) (string, error) {
	return "", errors.New("bucket unavailable")
}
