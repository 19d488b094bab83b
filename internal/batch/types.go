// Package batch defines core types shared across subsystems.
package batch

import (
	"time"
)

// ItemStatus represents the lifecycle state of a single work item.
type ItemStatus string

// Item status values; transitions are monotonic and never go backward.
const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusFailed     ItemStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s ItemStatus) Terminal() bool {
	return s == ItemStatusCompleted || s == ItemStatusFailed
}

// JobStatus represents the lifecycle state of a batch job.
type JobStatus string

// Job status values persisted in the registry.
const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCollating  JobStatus = "collating"
	JobStatusCompleted  JobStatus = "completed"
)

// PredictedKeys holds the storage keys assigned to a work item before any
// fetching happens. They never change for the lifetime of the job.
type PredictedKeys struct {
	ArtifactKey   string `json:"artifact_key"`
	MetadataKey   string `json:"metadata_key"`
	ScreenshotKey string `json:"screenshot_key,omitempty"`
}

// ItemMetrics captures per-item processing measurements.
type ItemMetrics struct {
	WordCount int   `json:"word_count"`
	CharCount int   `json:"char_count"`
	ElapsedMs int64 `json:"elapsed_ms"`
}

// WorkItem is one URL plus its processing state within a job.
type WorkItem struct {
	URL     string        `json:"url"`
	Keys    PredictedKeys `json:"keys"`
	Status  ItemStatus    `json:"status"`
	Error   string        `json:"error,omitempty"`
	Metrics *ItemMetrics  `json:"metrics,omitempty"`
}

// CollateOptions tunes how completed artifacts are merged.
type CollateOptions struct {
	Title            string `json:"title"`
	AddTOC           bool   `json:"add_toc"`
	AddSourceHeaders bool   `json:"add_source_headers"`
}

// Callback is a caller-supplied completion endpoint.
type Callback struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// FetchOptions is passed through to the page fetcher per job.
type FetchOptions struct {
	Render         bool              `json:"render"`
	Screenshot     bool              `json:"screenshot"`
	Headers        map[string]string `json:"headers,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
}

// JobOptions captures the per-job knobs requested by the client.
type JobOptions struct {
	Async          bool           `json:"async"`
	Collate        bool           `json:"collate"`
	CollateOptions CollateOptions `json:"collate_options"`
	Callback       *Callback      `json:"callback,omitempty"`
	Fetch          FetchOptions   `json:"fetch_options"`
}

// JobStats aggregates item outcomes. It is updated incrementally as items
// reach terminal status.
type JobStats struct {
	Total       int   `json:"total"`
	Successful  int   `json:"successful"`
	Failed      int   `json:"failed"`
	TotalTimeMs int64 `json:"total_time"`
	TotalWords  int   `json:"total_words"`
	TotalChars  int   `json:"total_chars"`
}

// AvgTimeMs returns the mean per-item processing time across terminal items.
func (s JobStats) AvgTimeMs() int64 {
	done := s.Successful + s.Failed
	if done == 0 {
		return 0
	}
	return s.TotalTimeMs / int64(done)
}

// Job represents one tracked batch request.
type Job struct {
	ID          string     `json:"id"`
	Namespace   string     `json:"namespace"`
	Items       []WorkItem `json:"items"`
	Options     JobOptions `json:"options"`
	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CollatedKey string     `json:"collated_key,omitempty"`
	Stats       JobStats   `json:"stats"`
}

// IsTerminal reports whether every item has reached a terminal status.
func (j Job) IsTerminal() bool {
	for _, item := range j.Items {
		if !item.Status.Terminal() {
			return false
		}
	}
	return true
}

// ResultEntry is the client-facing per-item shape, returned in input order by
// API responses and webhook payloads alike.
type ResultEntry struct {
	URL         string       `json:"url"`
	Status      ItemStatus   `json:"status"`
	ArtifactKey string       `json:"artifact_key"`
	Metrics     *ItemMetrics `json:"metrics,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// Results projects the job's items into result entries, preserving input order.
func (j Job) Results() []ResultEntry {
	out := make([]ResultEntry, len(j.Items))
	for i, item := range j.Items {
		entry := ResultEntry{
			URL:         item.URL,
			Status:      item.Status,
			ArtifactKey: item.Keys.ArtifactKey,
			Error:       item.Error,
		}
		if item.Metrics != nil {
			m := *item.Metrics
			entry.Metrics = &m
		}
		out[i] = entry
	}
	return out
}

// PayloadStats is the stats block delivered to webhook consumers.
type PayloadStats struct {
	Total          int   `json:"total"`
	Successful     int   `json:"successful"`
	Failed         int   `json:"failed"`
	TotalTime      int64 `json:"total_time"`
	AvgTimePerItem int64 `json:"avg_time_per_item"`
	TotalWords     int   `json:"total_words"`
	TotalChars     int   `json:"total_chars"`
}

// CompletionPayload is the webhook delivery body for a terminal job.
type CompletionPayload struct {
	JobID       string        `json:"job_id"`
	Status      JobStatus     `json:"status"`
	Stats       PayloadStats  `json:"stats"`
	Results     []ResultEntry `json:"results"`
	CollatedKey string        `json:"collated_key,omitempty"`
}

// Completion builds the webhook payload from a terminal job snapshot.
func (j Job) Completion() CompletionPayload {
	return CompletionPayload{
		JobID:  j.ID,
		Status: j.Status,
		Stats: PayloadStats{
			Total:          j.Stats.Total,
			Successful:     j.Stats.Successful,
			Failed:         j.Stats.Failed,
			TotalTime:      j.Stats.TotalTimeMs,
			AvgTimePerItem: j.Stats.AvgTimeMs(),
			TotalWords:     j.Stats.TotalWords,
			TotalChars:     j.Stats.TotalChars,
		},
		Results:     j.Results(),
		CollatedKey: j.CollatedKey,
	}
}
