// Package fetch turns a URL into a markdown artifact. It selects a page
// fetcher (static HTTP or headless browser), isolates the main content, and
// converts it to markdown.
package fetch

import (
	"context"
	"fmt"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/markvault/markvault/internal/batch"
)

// PageRequest asks a PageFetcher for one page.
type PageRequest struct {
	URL        string
	Headers    map[string]string
	Screenshot bool
}

// PageResponse is the raw outcome of a page fetch.
type PageResponse struct {
	FinalURL   string
	StatusCode int
	HTML       []byte
	Screenshot []byte
	Duration   time.Duration
}

// PageFetcher retrieves a page. Implementations: colly (static) and
// chromedp (rendered).
type PageFetcher interface {
	FetchPage(ctx context.Context, req PageRequest) (PageResponse, error)
}

// noiseSelectors are stripped before conversion; they carry no prose.
var noiseSelectors = []string{
	"script", "style", "noscript",
	"nav", "footer", "header",
	"iframe", "svg", "canvas",
	"form", "button", "input", "select", "textarea",
}

// Pipeline implements batch.Fetcher. Rendered or screenshot requests go to
// the headless fetcher; everything else uses the static one.
type Pipeline struct {
	static   PageFetcher
	headless PageFetcher
	logger   *zap.Logger
}

// NewPipeline constructs a Pipeline. The headless fetcher may be nil; render
// and screenshot requests then fall back to the static fetcher.
func NewPipeline(static, headless PageFetcher, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{static: static, headless: headless, logger: logger}
}

// Fetch retrieves and converts one page.
func (p *Pipeline) Fetch(ctx context.Context, req batch.FetchRequest) (batch.FetchResult, error) {
	fetcher := p.static
	if (req.Render || req.Screenshot) && p.headless != nil {
		fetcher = p.headless
	}

	page, err := fetcher.FetchPage(ctx, PageRequest{
		URL:        req.URL,
		Headers:    req.Headers,
		Screenshot: req.Screenshot,
	})
	if err != nil {
		return batch.FetchResult{}, err
	}
	if page.StatusCode >= 400 {
		return batch.FetchResult{}, fmt.Errorf("fetch %s: status %d", req.URL, page.StatusCode)
	}

	title, markdown, err := Convert(string(page.HTML))
	if err != nil {
		return batch.FetchResult{}, fmt.Errorf("convert %s: %w", req.URL, err)
	}

	words, chars := countText(markdown)
	p.logger.Debug("page converted",
		zap.String("job_id", req.JobID),
		zap.String("url", req.URL),
		zap.Int("words", words),
		zap.Duration("fetch", page.Duration),
	)

	return batch.FetchResult{
		URL:        page.FinalURL,
		Title:      title,
		Markdown:   markdown,
		WordCount:  words,
		CharCount:  chars,
		Screenshot: page.Screenshot,
		Duration:   page.Duration,
	}, nil
}

// Convert extracts the page title and main content and renders the content
// as markdown.
func Convert(html string) (title, markdown string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())

	for _, sel := range noiseSelectors {
		doc.Find(sel).Remove()
	}

	// Prefer the semantically narrow container when the page provides one.
	var content *goquery.Selection
	for _, tag := range []string{"main", "article", "body"} {
		if sel := doc.Find(tag); sel.Length() > 0 {
			content = sel.First()
			break
		}
	}

	fragment := html
	if content != nil {
		if frag, herr := goquery.OuterHtml(content); herr == nil {
			fragment = frag
		}
	}

	markdown, err = htmltomarkdown.ConvertString(fragment)
	if err != nil {
		return "", "", fmt.Errorf("convert to markdown: %w", err)
	}
	return title, strings.TrimSpace(markdown) + "\n", nil
}

func countText(markdown string) (words, chars int) {
	return len(strings.Fields(markdown)), len([]rune(markdown))
}
