package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/screenguard/internal/event"
)

// DefaultIndex receives events when the DSN names no index.
const DefaultIndex = "screenguard-events"

// Sink indexes events into OpenSearch (or Elasticsearch) via the document API.
// Each event is written with PUT baseURL/index/_doc/<event id>, so a resend
// of the same event overwrites instead of duplicating.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
}

func New(baseURL, index string) *Sink {
	if index == "" {
		index = DefaultIndex
	}
	c := &http.Client{Timeout: 5 * time.Second}
	return &Sink{client: c, baseURL: strings.TrimRight(baseURL, "/"), index: index}
}

func (s *Sink) Send(ctx context.Context, e event.Event) error {
	u := fmt.Sprintf("%s/%s/_doc/%s", s.baseURL, s.index, e.ID)
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("opensearch: marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("opensearch sink status %d", resp.StatusCode)
	}
	return nil
}

func (s *Sink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
