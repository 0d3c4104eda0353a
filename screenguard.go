package screenguard

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/screenguard/internal/capture"
	cfg "github.com/loykin/screenguard/internal/config"
	"github.com/loykin/screenguard/internal/cycle"
	"github.com/loykin/screenguard/internal/event"
	"github.com/loykin/screenguard/internal/logger"
	"github.com/loykin/screenguard/internal/metrics"
	"github.com/loykin/screenguard/internal/provision"
	iapi "github.com/loykin/screenguard/internal/server"
	"github.com/loykin/screenguard/internal/session"
	itls "github.com/loykin/screenguard/internal/tls"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type Status = session.Status

type Event = event.Event

type EventType = event.Type

type Sink = event.Sink

type Report = cycle.Report

type Capturer = capture.Capturer

// CapturerFunc adapts a function to Capturer.
type CapturerFunc = capture.Func

type SinkFunc = event.SinkFunc

type ProvisionResult = provision.Result

const (
	ScreenshotTaken    = event.TypeScreenshotTaken
	ScreenshotAnalysis = event.TypeScreenshotAnalysis
	ScreenshotError    = event.TypeScreenshotError
	CountdownUpdate    = event.TypeCountdownUpdate
)

// ErrInFlight is returned by Capture while another cycle is running.
var ErrInFlight = cycle.ErrInFlight

type Option = session.Option

func WithLogger(l *slog.Logger) Option        { return session.WithLogger(l) }
func WithCapturer(c Capturer) Option          { return session.WithCapturer(c) }
func WithSink(name string, s Sink) Option     { return session.WithSink(name, s) }
func WithTick(d time.Duration) Option         { return session.WithTick(d) }
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }
func DefaultConfig() *Config                  { return cfg.Default() }

// Session is a thin facade over internal/session.
// It provides a stable public API for embedding.
type Session struct{ inner *session.Session }

func New(c *Config, opts ...Option) (*Session, error) {
	s, err := session.New(c, opts...)
	if err != nil {
		return nil, err
	}
	return &Session{inner: s}, nil
}

func (s *Session) Start(ctx context.Context) error             { return s.inner.Start(ctx) }
func (s *Session) Stop() error                                 { return s.inner.Stop() }
func (s *Session) Once(ctx context.Context) (Report, error)    { return s.inner.Once(ctx) }
func (s *Session) Trigger(ctx context.Context) bool            { return s.inner.Trigger(ctx) }
func (s *Session) Capture(ctx context.Context) (Report, error) { return s.inner.Capture(ctx) }
func (s *Session) Status() Status                              { return s.inner.Status() }
func (s *Session) ScreenshotDir() string                       { return s.inner.ScreenshotDir() }
func (s *Session) Subscribe(buffer int) (<-chan Event, func()) { return s.inner.Subscribe(buffer) }
func (s *Session) Provision(ctx context.Context) (ProvisionResult, error) {
	return s.inner.Provision(ctx)
}

// NewLogger builds the slog logger described by the [log] section.
// The closer releases the log file, if any.
func NewLogger(c *Config, console io.Writer) (*slog.Logger, io.Closer, error) {
	return logger.New(c.LoggerConfig(), console)
}

// NewHTTPServer starts the session API described by the [server] section,
// serving HTTPS when server.tls is enabled.
func NewHTTPServer(c *Config, s *Session) (*http.Server, error) {
	var tlsCfg *tls.Config
	if o := c.TLSOptions(); o != nil {
		var err error
		if tlsCfg, err = itls.Setup(*o); err != nil {
			return nil, fmt.Errorf("server tls: %w", err)
		}
	}
	return iapi.NewServer(c.Server.Listen, c.Server.BasePath, s.inner, c.Metrics.Enabled, tlsCfg)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
