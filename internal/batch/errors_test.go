package batch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeNetError struct {
	timeout bool
}

func (e fakeNetError) Error() string   { return "dial tcp: connection refused" }
func (e fakeNetError) Timeout() bool   { return e.timeout }
func (e fakeNetError) Temporary() bool { return false }

func TestClassifyError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"wrapped deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), KindTimeout},
		{"net timeout", fakeNetError{timeout: true}, KindTimeout},
		{"net refused", fakeNetError{}, KindNetwork},
		{"storage", &StorageError{Key: "a/b.md", Err: errors.New("bucket gone")}, KindStorage},
		{"generic", errors.New("render failed"), KindFetch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, ClassifyError(tc.err))
		})
	}
}

func TestItemError_IncludesKind(t *testing.T) {
	t.Parallel()

	cause := &StorageError{Key: "ns/x.md", Err: errors.New("denied")}
	itemErr := &ItemError{Kind: ClassifyError(cause), Err: cause}
	require.Contains(t, itemErr.Error(), "storage:")
	require.Contains(t, itemErr.Error(), "ns/x.md")
	require.ErrorIs(t, itemErr, cause)
}

func TestJobStats_AvgTimeMs(t *testing.T) {
	t.Parallel()

	require.Zero(t, JobStats{}.AvgTimeMs())
	s := JobStats{Successful: 2, Failed: 1, TotalTimeMs: 300}
	require.Equal(t, int64(100), s.AvgTimeMs())
}

func TestJob_ResultsAndCompletion(t *testing.T) {
	t.Parallel()

	job := Job{
		ID:     "job-1",
		Status: JobStatusCompleted,
		Items: []WorkItem{
			{
				URL:     "https://a.example",
				Keys:    PredictedKeys{ArtifactKey: "ns/a.md"},
				Status:  ItemStatusCompleted,
				Metrics: &ItemMetrics{WordCount: 10, CharCount: 50, ElapsedMs: 12},
			},
			{
				URL:    "https://b.example",
				Keys:   PredictedKeys{ArtifactKey: "ns/b.md"},
				Status: ItemStatusFailed,
				Error:  "network: unreachable",
			},
		},
		Stats:       JobStats{Total: 2, Successful: 1, Failed: 1, TotalTimeMs: 12, TotalWords: 10, TotalChars: 50},
		CollatedKey: "ns/merged.md",
	}

	results := job.Results()
	require.Len(t, results, 2)
	require.Equal(t, "https://a.example", results[0].URL)
	require.NotNil(t, results[0].Metrics)
	require.Empty(t, results[0].Error)
	require.Equal(t, ItemStatusFailed, results[1].Status)
	require.Nil(t, results[1].Metrics)

	payload := job.Completion()
	require.Equal(t, "job-1", payload.JobID)
	require.Equal(t, payload.Stats.Successful+payload.Stats.Failed, payload.Stats.Total)
	require.Equal(t, int64(6), payload.Stats.AvgTimePerItem)
	require.Equal(t, "ns/merged.md", payload.CollatedKey)
	require.Len(t, payload.Results, 2)
}
