// Package webhook delivers job completion payloads to caller-supplied URLs.
package webhook

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/markvault/markvault/internal/batch"
	"github.com/markvault/markvault/internal/metrics"
)

// Config tunes delivery retries and per-attempt timeouts.
type Config struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
}

// Notifier implements batch.Notifier over HTTP POST with jittered
// exponential backoff between attempts.
type Notifier struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New constructs a Notifier. A nil client gets a default with the
// configured request timeout.
func New(cfg Config, client *http.Client, logger *zap.Logger) *Notifier {
	cfg.applyDefaults()
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{cfg: cfg, client: client, logger: logger}
}

// Notify POSTs the payload as JSON. A non-2xx response counts as a failed
// attempt. The last error is returned after the attempt budget is spent;
// delivery failure never changes job state upstream.
func (n *Notifier) Notify(ctx context.Context, cb batch.Callback, payload batch.CompletionPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal completion payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < n.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(n.backoff(attempt - 1)):
			}
		}

		lastErr = n.deliver(ctx, cb, body)
		if lastErr == nil {
			metrics.ObserveWebhook("delivered")
			n.logger.Info("webhook delivered",
				zap.String("job_id", payload.JobID),
				zap.String("url", cb.URL),
				zap.Int("attempt", attempt+1),
			)
			return nil
		}
		if errors.Is(lastErr, context.Canceled) {
			return lastErr
		}
		metrics.ObserveWebhook("failed")
		n.logger.Warn("webhook attempt failed",
			zap.String("job_id", payload.JobID),
			zap.String("url", cb.URL),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}
	return fmt.Errorf("webhook delivery exhausted after %d attempts: %w", n.cfg.MaxAttempts, lastErr)
}

func (n *Notifier) deliver(ctx context.Context, cb batch.Callback, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cb.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cb.Headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (n *Notifier) backoff(attempt int) time.Duration {
	delay := float64(n.cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(n.cfg.MaxDelay) {
		delay = float64(n.cfg.MaxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	nn, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(nn.Int64())
}
