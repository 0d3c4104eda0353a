// Package redis publishes events as JSON on a Redis pub/sub channel.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/loykin/screenguard/internal/event"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "screenguard:events"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultBackoff is the delay before the first retry; it doubles afterwards.
const DefaultBackoff = 500 * time.Millisecond

type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default screenguard:events).
	Channel string
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure.
	Retries int
	// Backoff is the initial retry delay (default 500ms).
	Backoff time.Duration
}

// Sink publishes events via Redis PUBLISH.
type Sink struct {
	config Config
	client *goredis.Client
}

// New creates a Redis sink. Returns an error if the URL is empty or invalid.
func New(cfg Config) (*Sink, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis sink requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis sink: invalid URL: %w", err)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	return &Sink{config: cfg, client: goredis.NewClient(opts)}, nil
}

// Send publishes e to the configured channel.
func (s *Sink) Send(ctx context.Context, e event.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	var lastErr error
	attempts := 1 + s.config.Retries
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis: context canceled: %w", err)
		}
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * s.config.Backoff
			select {
			case <-ctx.Done():
				return fmt.Errorf("redis: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		publishCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
		lastErr = s.client.Publish(publishCtx, s.config.Channel, body).Err()
		cancel()
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("redis: failed after %d attempts: %w", attempts, lastErr)
}

// Close releases the client.
func (s *Sink) Close() error {
	return s.client.Close()
}
