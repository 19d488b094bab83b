package collyfetcher_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/markvault/markvault/internal/fetch"
	collyfetcher "github.com/markvault/markvault/internal/fetch/colly"
)

func TestFetchPageReturnsBody(t *testing.T) {
	t.Parallel()

	var gotAgent, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.UserAgent()
		gotHeader = r.Header.Get("X-Custom")
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	f := collyfetcher.New(collyfetcher.Config{UserAgent: "markvault-test/1.0"})
	resp, err := f.FetchPage(context.Background(), fetch.PageRequest{
		URL:     srv.URL,
		Headers: map[string]string{"X-Custom": "yes"},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.HTML), "hello")
	require.Equal(t, "markvault-test/1.0", gotAgent)
	require.Equal(t, "yes", gotHeader)
	require.Positive(t, resp.Duration)
}

func TestFetchPageServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := collyfetcher.New(collyfetcher.Config{})
	_, err := f.FetchPage(context.Background(), fetch.PageRequest{URL: srv.URL})
	require.Error(t, err)
}

func TestFetchPageCanceledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	f := collyfetcher.New(collyfetcher.Config{})
	_, err := f.FetchPage(ctx, fetch.PageRequest{URL: srv.URL})
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
