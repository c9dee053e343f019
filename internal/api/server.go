// Package api serves one document over HTTP: the current text, history,
// reconstruction at a revision, submissions and a websocket event stream.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/revsync/internal/engine"
	"github.com/roach88/revsync/internal/revid"
	"github.com/roach88/revsync/internal/session"
	"github.com/roach88/revsync/internal/textop"
)

// DefaultSubmitTimeout bounds POST /v1/operations.
const DefaultSubmitTimeout = 10 * time.Second

// DefaultMaxBodyBytes caps the body of POST /v1/operations.
const DefaultMaxBodyBytes = 1 << 20

// Server is the HTTP surface of a session.
type Server struct {
	session       *session.Session
	document      string
	gatherer      prometheus.Gatherer
	submitTimeout time.Duration
	maxBodyBytes  int64
	logger        *slog.Logger
	upgrader      websocket.Upgrader
	router        *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer serves gatherer on /metrics. Default: prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithSubmitTimeout bounds each submission. Default: DefaultSubmitTimeout.
func WithSubmitTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.submitTimeout = d
	}
}

// WithMaxBodyBytes caps submitted operation bodies. Default: DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		s.maxBodyBytes = n
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New creates a Server for the document served by sess.
func New(sess *session.Session, document string, opts ...Option) *Server {
	s := &Server{
		session:       sess,
		document:      document,
		gatherer:      prometheus.DefaultGatherer,
		submitTimeout: DefaultSubmitTimeout,
		maxBodyBytes:  DefaultMaxBodyBytes,
		logger:        slog.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "api", "doc", document)

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/v1")
	v1.GET("/document", s.handleGetDocument)
	v1.GET("/history", s.handleGetHistory)
	v1.POST("/operations", s.handlePostOperation)
	v1.GET("/events", s.handleEvents)

	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	if !s.session.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "loading"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "state": s.session.Engine().State().String()})
}

/////////////////////////////
/// Document Handlers
/////////////////////////////

// DocumentResponse is the body of GET /v1/document.
type DocumentResponse struct {
	Document string `json:"document"`
	Revision int64  `json:"revision"`
	Text     string `json:"text"`
}

func (s *Server) handleGetDocument(c *gin.Context) {
	if !s.requireReady(c) {
		return
	}

	raw := c.Query("rev")
	if raw == "" {
		text, err := s.session.Text()
		if err != nil {
			s.fail(c, http.StatusInternalServerError, err)
			return
		}
		c.JSON(http.StatusOK, DocumentResponse{
			Document: s.document,
			Revision: int64(s.session.Revision()),
			Text:     text,
		})
		return
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rev must be a non-negative integer"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.submitTimeout)
	defer cancel()

	text, err := s.session.DocumentAt(ctx, revid.Revision(n))
	if err != nil {
		s.fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, DocumentResponse{Document: s.document, Revision: n, Text: text})
}

// HistoryEntry is one element of GET /v1/history.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Revision  int64     `json:"revision"`
	Author    string    `json:"author"`
	WrittenAt time.Time `json:"written_at"`
}

func (s *Server) handleGetHistory(c *gin.Context) {
	if !s.requireReady(c) {
		return
	}

	since := revid.None
	if raw := c.Query("since"); raw != "" {
		rev, err := revid.DecodeRevision(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		since = rev
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.submitTimeout)
	defer cancel()

	infos, err := s.session.History(ctx, since)
	if err != nil {
		s.fail(c, statusFor(err), err)
		return
	}

	entries := make([]HistoryEntry, len(infos))
	for i, info := range infos {
		entries[i] = HistoryEntry{
			ID:        info.Key,
			Revision:  int64(info.Revision),
			Author:    info.Author,
			WrittenAt: info.WrittenAt,
		}
	}
	c.JSON(http.StatusOK, entries)
}

// SubmitResponse is the body of POST /v1/operations.
type SubmitResponse struct {
	Result   string `json:"result"`
	Revision int64  `json:"revision"`
	ID       string `json:"id,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handlePostOperation(c *gin.Context) {
	if !s.requireReady(c) {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBodyBytes)
	body, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	op, err := textop.Codec{}.Decode(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.submitTimeout)
	defer cancel()

	res, err := s.session.Submit(ctx, op)
	if err != nil {
		s.fail(c, statusFor(err), err)
		return
	}

	resp := SubmitResponse{Result: res.Outcome.String(), Revision: int64(res.Revision)}
	switch res.Outcome {
	case engine.OutcomeAck:
		resp.ID = res.Revision.Key()
		c.JSON(http.StatusOK, resp)
	case engine.OutcomeRetry:
		c.JSON(http.StatusConflict, resp)
	default:
		resp.Error = res.Err.Error()
		s.logger.Error("submission failed", "revision", res.Revision, "error", res.Err)
		c.JSON(http.StatusForbidden, resp)
	}
}

func (s *Server) requireReady(c *gin.Context) bool {
	if s.session.Ready() {
		return true
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "document loading"})
	return false
}

func (s *Server) fail(c *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "status", status, "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// statusFor maps engine and session errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case engine.IsContractViolation(err):
		return http.StatusBadRequest
	case engine.IsFatalStoreFailure(err):
		return http.StatusForbidden
	case engine.IsReconstructionFailure(err):
		return http.StatusUnprocessableEntity
	case engine.IsDisposed(err), errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
