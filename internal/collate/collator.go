// Package collate merges the completed artifacts of a job into one document.
package collate

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/markvault/markvault/internal/batch"
)

const (
	defaultTitle = "Collated Document"
	contentType  = "text/markdown; charset=utf-8"
)

var anchorStripChars = regexp.MustCompile(`[^a-z0-9 _-]+`)

// Source is one completed item's contribution, in original input order.
type Source struct {
	URL      string
	Title    string
	Markdown string
}

// Collator concatenates sources into a single markdown artifact and persists
// it through the blob store.
type Collator struct {
	store  batch.BlobStore
	logger *zap.Logger
}

// New constructs a Collator.
func New(store batch.BlobStore, logger *zap.Logger) *Collator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collator{store: store, logger: logger}
}

// Collate renders the merged document and writes it at the given key. Sources
// must already exclude failed items. The returned URI is informational; the
// key is the contract.
func (c *Collator) Collate(ctx context.Context, key string, opts batch.CollateOptions, sources []Source) (string, error) {
	doc := Render(opts, sources)
	uri, err := c.store.PutObject(ctx, key, contentType, []byte(doc))
	if err != nil {
		return "", fmt.Errorf("write collated artifact: %w", err)
	}
	c.logger.Debug("collated artifact written",
		zap.String("key", key),
		zap.Int("sources", len(sources)),
	)
	return uri, nil
}

// Render builds the merged markdown document without touching storage.
func Render(opts batch.CollateOptions, sources []Source) string {
	title := opts.Title
	if title == "" {
		title = defaultTitle
	}

	var b strings.Builder
	b.WriteString("# " + title + "\n")

	if opts.AddTOC && len(sources) > 0 {
		b.WriteString("\n## Table of Contents\n\n")
		for i, src := range sources {
			heading := sourceHeading(i, src)
			if opts.AddSourceHeaders {
				fmt.Fprintf(&b, "%d. [%s](#%s)\n", i+1, heading, anchor(heading))
			} else {
				// No source headers means no anchors to link to.
				fmt.Fprintf(&b, "%d. %s\n", i+1, heading)
			}
		}
	}

	for i, src := range sources {
		b.WriteString("\n")
		if opts.AddSourceHeaders {
			heading := sourceHeading(i, src)
			b.WriteString("## " + heading + "\n\n")
			b.WriteString("> Source: " + src.URL + "\n\n")
		}
		b.WriteString(strings.TrimRight(src.Markdown, "\n"))
		b.WriteString("\n")
		if i < len(sources)-1 {
			b.WriteString("\n---\n")
		}
	}
	return b.String()
}

func sourceHeading(index int, src Source) string {
	if src.Title != "" {
		return src.Title
	}
	return fmt.Sprintf("Source %d", index+1)
}

// anchor mirrors how markdown renderers derive heading ids, so TOC links
// resolve inside the merged document.
func anchor(heading string) string {
	a := strings.ToLower(heading)
	a = anchorStripChars.ReplaceAllString(a, "")
	a = strings.ReplaceAll(a, " ", "-")
	return a
}
