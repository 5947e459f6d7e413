// Package server is the JSON HTTP surface over the timeline service.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	twerrs "github.com/xiaobinji/RSSHub/internal/errors"
	"github.com/xiaobinji/RSSHub/logger"
)

type (
	// Server is the HTTP portion serving the public API.
	Server struct {
		http.Server
	}

	// Config holds all of the different options for making a
	// server.
	Config struct {
		Port int
		// RequestTimeout bounds the work done for one request, upstream
		// calls included.
		RequestTimeout time.Duration
	}
)

// NewServer creates the server with every route attached.
func NewServer(cfg Config, svc Timelines) *Server {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := ErrRouter{mux.NewRouter()}
	r.Use(AccessLogMiddleware, timeoutMiddleware(timeout))
	attachRoutes(r, svc)

	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelError)),
	)

	return &Server{
		Server: http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: timeout + 5*time.Second,
			Handler:      recovery(handlers.CompressHandler(r)),
		},
	}
}

func WriteJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("error encoding json response: %s", err)
	}

	return nil
}

// Validator is a surface that can validate itself and return an error
// if something is wrong.
type Validator interface {
	Validate() error
}

// QueryValid parses the query string of a request and then validates it.
func QueryValid[V Validator](r *http.Request, parse func(url.Values) (V, error)) (V, error) {
	v, err := parse(r.URL.Query())
	if err != nil {
		return v, fmt.Errorf("error parsing query: %w", err)
	}
	if err := v.Validate(); err != nil {
		return v, fmt.Errorf("error validating request: %w", err)
	}

	return v, nil
}

// AccessLogMiddleware logs every request and tags the request context with
// a request id, so everything logged while serving it carries the id.
func AccessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := logger.Ctx(r.Context(),
			slog.String("request_id", reqID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		r = r.WithContext(ctx)
		w.Header().Set("X-Request-Id", reqID)

		slog.DebugContext(ctx, "request received")
		start := time.Now()

		writer := &respCodeWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(writer, r)

		slog.InfoContext(ctx, "request completed",
			"url", r.URL.String(),
			"duration", time.Since(start),
			"status_code", writer.code,
		)
	})
}

func timeoutMiddleware(timeout time.Duration) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// To trap the response status code for logging later.
type respCodeWriter struct {
	http.ResponseWriter
	code int
}

func (w *respCodeWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// HandlerFuncE is a modified type of [http.HandlerFunc] that returns an error.
type HandlerFuncE func(w http.ResponseWriter, r *http.Request) error

func (f HandlerFuncE) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := f(w, r)
	if err == nil {
		return
	}

	// Either it's already a structured error, or coerce it to one
	sErr := &twerrs.Error{}
	if !errors.As(err, &sErr) {
		slog.ErrorContext(r.Context(), "unhandled error", "error", err)
		sErr = twerrs.E(http.StatusInternalServerError, "internal server error")
	}

	if err := WriteJSON(w, sErr.Status, sErr); err != nil {
		slog.ErrorContext(r.Context(), "error writing response", "error", err)
	}
}

// ErrRouter is a newtype around a mux router that allows attaching handlers that return errors.
type ErrRouter struct {
	*mux.Router
}

func (r ErrRouter) HandleFuncE(path string, f HandlerFuncE) *mux.Route {
	return r.Handle(path, f)
}
