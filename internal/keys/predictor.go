// Package keys derives storage keys for work items before any content exists.
package keys

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/markvault/markvault/internal/batch"
)

// Config controls key layout.
type Config struct {
	// Prefix is the leading key segment, e.g. "artifacts".
	Prefix string
	// MaxSlugLen caps the domain/path slug segment.
	MaxSlugLen int
}

const (
	defaultPrefix     = "artifacts"
	defaultMaxSlugLen = 80
	disambiguatorLen  = 8
)

var invalidSlugChars = regexp.MustCompile(`[^a-z0-9._-]+`)

// Predictor computes the storage keys a work item will occupy once processing
// finishes. Prediction never fails; collisions are avoided statistically via a
// hashed per-item nonce.
type Predictor struct {
	cfg    Config
	hasher batch.Hasher
	idGen  batch.IDGenerator
	clock  batch.Clock
}

// New constructs a Predictor.
func New(cfg Config, hasher batch.Hasher, idGen batch.IDGenerator, clock batch.Clock) *Predictor {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.MaxSlugLen <= 0 {
		cfg.MaxSlugLen = defaultMaxSlugLen
	}
	return &Predictor{
		cfg:    cfg,
		hasher: hasher,
		idGen:  idGen,
		clock:  clock,
	}
}

// Predict assigns the full key set for one URL under the given namespace. The
// screenshot key is populated only when the item will capture one.
func (p *Predictor) Predict(namespace, rawURL string, wantScreenshot bool) batch.PredictedKeys {
	now := p.clock.Now()
	base := fmt.Sprintf("%s/%s/%s-%s-%s",
		strings.Trim(p.cfg.Prefix, "/"),
		slugify(namespace, p.cfg.MaxSlugLen),
		slugify(domainSlug(rawURL), p.cfg.MaxSlugLen),
		now.Format("20060102"),
		p.disambiguator(rawURL, now.UnixNano()),
	)
	keys := batch.PredictedKeys{
		ArtifactKey: base + ".md",
		MetadataKey: base + ".meta.json",
	}
	if wantScreenshot {
		keys.ScreenshotKey = base + ".png"
	}
	return keys
}

// CollatedKey returns the key for a job's merged artifact. It is a pure
// function of the job id so the key can be derived before collation runs.
func (p *Predictor) CollatedKey(namespace, jobID string) string {
	return fmt.Sprintf("%s/%s/collated-%s.md",
		strings.Trim(p.cfg.Prefix, "/"),
		slugify(namespace, p.cfg.MaxSlugLen),
		slugify(jobID, p.cfg.MaxSlugLen),
	)
}

// disambiguator hashes the URL together with a fresh nonce so that repeated
// submissions of the same URL land at distinct keys.
func (p *Predictor) disambiguator(rawURL string, fallback int64) string {
	nonce, err := p.idGen.NewID()
	if err != nil {
		nonce = strconv.FormatInt(fallback, 36)
	}
	digest, err := p.hasher.Hash([]byte(rawURL + ":" + nonce))
	if err != nil || len(digest) < disambiguatorLen {
		return slugify(nonce, disambiguatorLen)
	}
	return digest[:disambiguatorLen]
}

func domainSlug(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "page"
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	path := strings.Trim(u.EscapedPath(), "/")
	if path == "" {
		return host
	}
	return host + "_" + strings.ReplaceAll(path, "/", "_")
}

func slugify(s string, maxLen int) string {
	s = invalidSlugChars.ReplaceAllString(strings.ToLower(s), "_")
	s = strings.Trim(s, "_")
	if s == "" {
		s = "x"
	}
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}
