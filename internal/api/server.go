// Package api exposes the HTTP surface: the send-email endpoint and a
// health check, behind chi middleware.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/shineum/mailgate/internal/attachment"
	"github.com/shineum/mailgate/internal/mailer"
)

// Defaults applied by New when an Option is left zero.
const (
	DefaultMaxBodySize    = 50 << 20
	DefaultRequestTimeout = 2 * time.Minute
)

// maxMemory is how much of a multipart body is held in memory before
// file parts spill to temporary files.
const maxMemory = 32 << 20

// MailSender submits a composed request. *mailer.Mailer satisfies it.
type MailSender interface {
	Send(ctx context.Context, req mailer.Request) (string, error)
}

// Options configures the HTTP layer.
type Options struct {
	MaxBodySize int64

	// RequestTimeout bounds one send request from decoding to delivery.
	RequestTimeout time.Duration
	CORSOrigins    []string

	// MaxParallel bounds concurrent attachment materialization per request.
	MaxParallel int
}

// Server holds the handler dependencies.
type Server struct {
	mailer       MailSender
	materializer *attachment.Materializer
	opts         Options
}

// New creates a Server.
func New(m MailSender, mat *attachment.Materializer, opts Options) *Server {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultMaxBodySize
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 4
	}
	return &Server{mailer: m, materializer: mat, opts: opts}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestSize(s.opts.MaxBodySize))
		r.Post("/api/send-email", s.handleSendEmail)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger logs one line per request once the response is written.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		slog.Log(r.Context(), level, "http request",
			"request_id", middleware.GetReqID(r.Context()),
			"ip", r.RemoteAddr,
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}
