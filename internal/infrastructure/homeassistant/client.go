package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cartsync/backend/internal/domain"
	"github.com/cartsync/backend/internal/wait"
)

const (
	notifyPath     = "/api/services/notify/alexa_media"
	pingPath       = "/api/"
	maxAttempts    = 3
	defaultTimeout = 10 * time.Second
)

// Config holds the Home Assistant connection settings
type Config struct {
	URL     string
	Token   string
	Entity  string
	Timeout time.Duration
}

// Enabled reports whether every required setting is present.
func (c Config) Enabled() bool {
	return c.URL != "" && c.Token != "" && c.Entity != ""
}

// Client announces failed items through an Alexa device attached to Home
// Assistant (alexa_media notify service, TTS mode).
type Client struct {
	httpClient  *http.Client
	baseURL     string
	token       string
	entity      string
	rateLimiter *rate.Limiter
	backoff     time.Duration
	logger      *zap.Logger
}

// ttsRequest is the notify service call payload
type ttsRequest struct {
	Target  string         `json:"target"`
	Data    map[string]any `json:"data"`
	Message string         `json:"message"`
}

// NewClient creates a new Home Assistant client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	// Announcements are rare; the limiter only guards against a burst of
	// cycles hammering the speaker.
	limiter := rate.NewLimiter(rate.Every(2*time.Second), 3)

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:     strings.TrimRight(cfg.URL, "/"),
		token:       cfg.Token,
		entity:      cfg.Entity,
		rateLimiter: limiter,
		backoff:     500 * time.Millisecond,
		logger:      logger.Named("homeassistant"),
	}
}

// NewSink returns a Client when cfg is complete and a no-op sink otherwise.
func NewSink(cfg Config, logger *zap.Logger) domain.NotificationSink {
	if !cfg.Enabled() {
		if logger != nil {
			logger.Warn("Home Assistant notifications disabled - missing url, token or entity")
		}
		return NopSink{}
	}
	return NewClient(cfg, logger)
}

// BuildMessage renders the spoken announcement for the failed items.
func BuildMessage(names []string) string {
	var items string
	switch n := len(names); {
	case n == 0:
		return ""
	case n == 1:
		items = names[0]
	case n <= 3:
		items = strings.Join(names[:n-1], ", ") + " and " + names[n-1]
	default:
		items = fmt.Sprintf("%d items", n)
	}
	return fmt.Sprintf("Attention. I could not add %s to the Walmart cart", items)
}

// Notify announces the failed item names. An empty list sends nothing.
func (c *Client) Notify(ctx context.Context, failedItemNames []string) error {
	if len(failedItemNames) == 0 {
		return nil
	}
	message := BuildMessage(failedItemNames)
	c.logger.Info("sending notification", zap.String("entity", c.entity), zap.String("message", message))

	body, err := json.Marshal(ttsRequest{
		Target:  c.entity,
		Data:    map[string]any{"type": "tts"},
		Message: message,
	})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	// Retry up to 3 times for transient failures
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter error: %w", err)
		}

		status, respBody, err := c.do(ctx, http.MethodPost, c.baseURL+notifyPath, body)
		switch {
		case err != nil:
			c.logger.Warn("request error", zap.Int("attempt", attempt), zap.Error(err))
			lastErr = err
		case status == http.StatusOK || status == http.StatusCreated:
			c.logger.Debug("notification delivered", zap.Int("status", status))
			return nil
		case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
			c.logger.Warn("api error", zap.Int("attempt", attempt), zap.Int("status", status), zap.String("body", respBody))
			lastErr = fmt.Errorf("%w: status %d", domain.ErrNotifyFailed, status)
		default:
			// Bad token or unknown entity will not fix itself.
			return fmt.Errorf("%w: status %d: %s", domain.ErrNotifyFailed, status, respBody)
		}

		if attempt < maxAttempts {
			if err := wait.Sleep(ctx, exponentialBackoff(c.backoff, attempt)); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrNotifyFailed, err)
			}
		}
	}

	c.logger.Error("all notification attempts failed", zap.Error(lastErr))
	return lastErr
}

// Ping checks that the API is reachable and the token is accepted.
func (c *Client) Ping(ctx context.Context) error {
	status, _, err := c.do(ctx, http.MethodGet, c.baseURL+pingPath, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: status %d", domain.ErrNotifyFailed, status)
	}
	return nil
}

// do executes a request with auth headers and returns the status and body
func (c *Client) do(ctx context.Context, method, reqURL string, body []byte) (int, string, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "CartSync/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", domain.ErrNotifyFailed, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, string(respBody), nil
}

// exponentialBackoff returns base, 2*base, 4*base... for attempts 1, 2, 3...
func exponentialBackoff(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(1<<(attempt-1))
}

// NopSink drops notifications. It is used when Home Assistant is not
// configured.
type NopSink struct{}

// Notify implements domain.NotificationSink.
func (NopSink) Notify(context.Context, []string) error { return nil }
