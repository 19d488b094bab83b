package collate_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/markvault/markvault/internal/batch"
	"github.com/markvault/markvault/internal/collate"
	"github.com/markvault/markvault/internal/storage/memory"
)

func TestCollateWritesMergedDocument(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	c := collate.New(store, zap.NewNop())

	uri, err := c.Collate(context.Background(), "out/merged.md", batch.CollateOptions{
		Title:            "Weekly Digest",
		AddSourceHeaders: true,
	}, []collate.Source{
		{URL: "https://a.example/one", Title: "Page One", Markdown: "Alpha body.\n"},
		{URL: "https://b.example/two", Title: "Page Two", Markdown: "Beta body."},
	})
	require.NoError(t, err)
	require.Equal(t, "memory://out/merged.md", uri)

	data, ok := store.GetObject("out/merged.md")
	require.True(t, ok)
	doc := string(data)
	require.True(t, strings.HasPrefix(doc, "# Weekly Digest\n"))
	require.Contains(t, doc, "## Page One")
	require.Contains(t, doc, "> Source: https://a.example/one")
	require.Contains(t, doc, "Alpha body.")
	require.Contains(t, doc, "\n---\n")
	require.Contains(t, doc, "## Page Two")
}

func TestRenderTableOfContents(t *testing.T) {
	t.Parallel()

	doc := collate.Render(batch.CollateOptions{
		AddTOC:           true,
		AddSourceHeaders: true,
	}, []collate.Source{
		{URL: "https://a.example", Title: "Getting Started: Go!", Markdown: "a"},
		{URL: "https://b.example", Markdown: "b"},
	})

	require.Contains(t, doc, "# Collated Document")
	require.Contains(t, doc, "## Table of Contents")
	require.Contains(t, doc, "1. [Getting Started: Go!](#getting-started-go)")
	require.Contains(t, doc, "2. [Source 2](#source-2)")
	require.Contains(t, doc, "## Getting Started: Go!")
	require.Contains(t, doc, "## Source 2")
}

func TestRenderWithoutHeaders(t *testing.T) {
	t.Parallel()

	doc := collate.Render(batch.CollateOptions{AddTOC: true}, []collate.Source{
		{URL: "https://a.example", Title: "A", Markdown: "first"},
		{URL: "https://b.example", Title: "B", Markdown: "second"},
	})

	// TOC still appears, but as a plain list; no headings to anchor to.
	require.Contains(t, doc, "## Table of Contents")
	require.Contains(t, doc, "1. A\n")
	require.Contains(t, doc, "2. B\n")
	require.NotContains(t, doc, "](#")
	require.NotContains(t, doc, "## A")
	require.Contains(t, doc, "first")
	require.Contains(t, doc, "second")
}

func TestCollatePropagatesStoreFailure(t *testing.T) {
	t.Parallel()

	c := collate.New(failingStore{}, zap.NewNop())
	_, err := c.Collate(context.Background(), "k", batch.CollateOptions{}, []collate.Source{
		{URL: "https://a.example", Markdown: "x"},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "write collated artifact")
}

type failingStore struct{}

func (failingStore) PutObject(ctx context.Context, key, contentType string, data []byte) (string, error) {
	return "", &batch.StorageError{Key: key, Err: context.DeadlineExceeded}
}
