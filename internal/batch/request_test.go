package batch

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConvertRequest_Normalize_SingleURL(t *testing.T) {
	t.Parallel()

	req := ConvertRequest{URL: "https://example.com"}
	got, err := req.Normalize(0)
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com"}, got.URLs)
	require.False(t, got.Options.Async, "single url defaults to sync")
}

func TestConvertRequest_Normalize_URLsTakePrecedence(t *testing.T) {
	t.Parallel()

	req := ConvertRequest{
		URL:  "https://ignored.example",
		URLs: []string{"https://a.example", "https://b.example"},
	}
	got, err := req.Normalize(0)
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, got.URLs)
	require.True(t, got.Options.Async, "multiple urls default to async")
}

func TestConvertRequest_Normalize_AsyncOverride(t *testing.T) {
	t.Parallel()

	sync := false
	req := ConvertRequest{
		URLs:  []string{"https://a.example", "https://b.example"},
		Async: &sync,
	}
	got, err := req.Normalize(0)
	require.NoError(t, err)
	require.False(t, got.Options.Async)
}

func TestConvertRequest_Normalize_MissingURLs(t *testing.T) {
	t.Parallel()

	_, err := ConvertRequest{}.Normalize(0)
	require.ErrorIs(t, err, ErrNoURLs)
}

func TestConvertRequest_Normalize_TooMany(t *testing.T) {
	t.Parallel()

	urls := make([]string, 51)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://example.com/%d", i)
	}
	_, err := ConvertRequest{URLs: urls}.Normalize(50)
	require.ErrorIs(t, err, ErrTooManyURLs)
}

func TestConvertRequest_Normalize_PreservesDuplicates(t *testing.T) {
	t.Parallel()

	req := ConvertRequest{
		URLs: []string{"https://example.com", "https://example.com"},
	}
	got, err := req.Normalize(0)
	require.NoError(t, err)
	require.Len(t, got.URLs, 2)
}

func TestConvertRequest_Normalize_RejectsBlankEntry(t *testing.T) {
	t.Parallel()

	_, err := ConvertRequest{URLs: []string{"https://a.example", "  "}}.Normalize(0)
	require.ErrorIs(t, err, ErrEmptyURL)
}

func TestConvertRequest_Normalize_CallbackCopied(t *testing.T) {
	t.Parallel()

	headers := map[string]string{"Authorization": "Bearer tok"}
	req := ConvertRequest{
		URL:             "https://example.com",
		CallbackURL:     "https://hooks.example/done",
		CallbackHeaders: headers,
	}
	got, err := req.Normalize(0)
	require.NoError(t, err)
	require.NotNil(t, got.Options.Callback)
	require.Equal(t, "https://hooks.example/done", got.Options.Callback.URL)

	headers["Authorization"] = "mutated"
	require.Equal(t, "Bearer tok", got.Options.Callback.Headers["Authorization"])
}
