package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/screenguard/internal/cycle"
	"github.com/loykin/screenguard/internal/event"
	"github.com/loykin/screenguard/internal/metrics"
	"github.com/loykin/screenguard/internal/session"
)

// MaxCaptureWait bounds how long POST /capture?wait=... holds the request.
const MaxCaptureWait = 2 * time.Minute

// Session is the part of a running session the API drives.
type Session interface {
	Status() session.Status
	Trigger(ctx context.Context) bool
	Capture(ctx context.Context) (cycle.Report, error)
	Subscribe(buffer int) (<-chan event.Event, func())
}

// Router provides embeddable HTTP handlers for a screenguard session.
// Endpoints:
//
//	GET  {basePath}/status           session status
//	GET  {basePath}/events           server-sent events, one per emitted event
//	POST {basePath}/capture          start a cycle; ?wait=30s waits for its report
//	GET  {basePath}/metrics          prometheus exposition (when enabled)
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sess     Session
	basePath string
	metrics  bool
}

// NewRouter constructs a Router. Example basePath "/guard" serves /guard/status.
func NewRouter(sess Session, basePath string, withMetrics bool) *Router {
	return &Router{sess: sess, basePath: sanitizeBase(basePath), metrics: withMetrics}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/events", r.handleEvents)
	group.POST("/capture", r.handleCapture)
	if r.metrics {
		h := metrics.Handler()
		group.GET("/metrics", func(c *gin.Context) { h.ServeHTTP(c.Writer, c.Request) })
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// A non-nil tlsCfg serves HTTPS with certificates supplied by tlsCfg.
func NewServer(addr, basePath string, sess Session, withMetrics bool, tlsCfg *tls.Config) (*http.Server, error) {
	if addr == "" {
		return nil, errors.New("listen address required")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	r := NewRouter(sess, basePath, withMetrics)
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if tlsCfg != nil {
			_ = server.ServeTLS(ln, "", "")
			return
		}
		_ = server.Serve(ln)
	}()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type acceptedResp struct {
	Started bool `json:"started"`
}

type reportResp struct {
	CycleID    string `json:"cycle_id"`
	Outcome    string `json:"outcome"`
	Path       string `json:"path,omitempty"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

func reportOf(rep cycle.Report) reportResp {
	out := reportResp{
		CycleID:    rep.CycleID,
		Outcome:    string(rep.Outcome),
		Path:       rep.Artifact.Path,
		ExitCode:   rep.ExitCode,
		DurationMS: rep.Duration.Milliseconds(),
	}
	if rep.Err != nil {
		out.Error = rep.Err.Error()
	}
	return out
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sess.Status())
}

func (r *Router) handleCapture(c *gin.Context) {
	wait := parseWait(c.Query("wait"), MaxCaptureWait)
	if wait == 0 {
		if !r.sess.Trigger(context.WithoutCancel(c.Request.Context())) {
			writeJSON(c, http.StatusConflict, errorResp{Error: cycle.ErrInFlight.Error()})
			return
		}
		writeJSON(c, http.StatusAccepted, acceptedResp{Started: true})
		return
	}

	type result struct {
		rep cycle.Report
		err error
	}
	done := make(chan result, 1)
	go func() {
		// the cycle outlives the request if the client goes away
		rep, err := r.sess.Capture(context.WithoutCancel(c.Request.Context()))
		done <- result{rep, err}
	}()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case res := <-done:
		if errors.Is(res.err, cycle.ErrInFlight) {
			writeJSON(c, http.StatusConflict, errorResp{Error: res.err.Error()})
			return
		}
		if res.err != nil {
			writeJSON(c, http.StatusInternalServerError, errorResp{Error: res.err.Error()})
			return
		}
		writeJSON(c, http.StatusOK, reportOf(res.rep))
	case <-timer.C:
		writeJSON(c, http.StatusAccepted, acceptedResp{Started: true})
	case <-c.Request.Context().Done():
	}
}

func (r *Router) handleEvents(c *gin.Context) {
	ch, cancel := r.sess.Subscribe(32)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent(string(e.Type), e)
			c.Writer.Flush()
		case <-keepAlive.C:
			if _, err := c.Writer.WriteString(": keep-alive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
