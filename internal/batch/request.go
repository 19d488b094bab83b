package batch

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultMaxURLs bounds how many URLs a single request may carry.
const DefaultMaxURLs = 50

// Request validation failures surfaced to the caller before any job exists.
var (
	ErrNoURLs      = errors.New("either url or urls is required")
	ErrEmptyURL    = errors.New("url must not be empty")
	ErrTooManyURLs = errors.New("too many urls")
)

// ConvertRequest is the inbound request body. Either URL or URLs must be
// present; URLs takes precedence when both are given.
type ConvertRequest struct {
	URL             string            `json:"url,omitempty"`
	URLs            []string          `json:"urls,omitempty"`
	Async           *bool             `json:"async,omitempty"`
	Collate         bool              `json:"collate"`
	CollateOptions  CollateOptions    `json:"collate_options"`
	CallbackURL     string            `json:"callback_url,omitempty"`
	CallbackHeaders map[string]string `json:"callback_headers,omitempty"`
	FetchOptions    FetchOptions      `json:"fetch_options"`
}

// BatchRequest is the canonical, validated form handed to orchestration.
type BatchRequest struct {
	URLs    []string
	Options JobOptions
}

// Normalize validates the request and produces the canonical ordered URL list
// plus the parsed option set. Duplicate URLs are preserved by position. It has
// no side effects.
func (r ConvertRequest) Normalize(maxURLs int) (BatchRequest, error) {
	if maxURLs <= 0 {
		maxURLs = DefaultMaxURLs
	}

	urls := r.URLs
	if len(urls) == 0 && r.URL != "" {
		urls = []string{r.URL}
	}
	if len(urls) == 0 {
		return BatchRequest{}, ErrNoURLs
	}
	if len(urls) > maxURLs {
		return BatchRequest{}, fmt.Errorf("%w: got %d, max %d", ErrTooManyURLs, len(urls), maxURLs)
	}

	normalized := make([]string, len(urls))
	for i, raw := range urls {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			return BatchRequest{}, fmt.Errorf("%w (index %d)", ErrEmptyURL, i)
		}
		normalized[i] = trimmed
	}

	// Single-URL requests run synchronously unless the caller says otherwise.
	async := len(normalized) > 1
	if r.Async != nil {
		async = *r.Async
	}

	opts := JobOptions{
		Async:          async,
		Collate:        r.Collate,
		CollateOptions: r.CollateOptions,
		Fetch:          r.FetchOptions,
	}
	if r.CallbackURL != "" {
		opts.Callback = &Callback{
			URL:     r.CallbackURL,
			Headers: cloneStringMap(r.CallbackHeaders),
		}
	}

	return BatchRequest{URLs: normalized, Options: opts}, nil
}

func cloneStringMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
