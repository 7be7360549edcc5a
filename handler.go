package ratecount

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nhalm/canonlog"
)

// HandlerOption configures the Handler middleware.
type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	canonlog       bool
	canonlogFields func(*http.Request) map[string]any
}

// WithCanonlog enables one canonical log line per request.
// The line carries method, path, route, status and duration_ms, every error passed to
// SetError, and the ratecount_* fields added by NewRequestCounter and the store.
func WithCanonlog() HandlerOption {
	return func(c *handlerConfig) {
		c.canonlog = true
	}
}

// WithCanonlogFields adds custom fields to each log line.
// Called at request start, before the handler executes.
func WithCanonlogFields(fn func(*http.Request) map[string]any) HandlerOption {
	return func(c *handlerConfig) {
		c.canonlogFields = fn
	}
}

// Handler returns middleware that collects the response set through SetResponse,
// SetError and SetHeader and writes it when the wrapped handler returns.
// A panic in the wrapped handler becomes a 500.
func Handler(opts ...HandlerOption) func(http.Handler) http.Handler {
	cfg := &handlerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := &responseState{}
			ctx := context.WithValue(r.Context(), stateKey, state)

			start := time.Now()
			if cfg.canonlog {
				ctx = canonlog.NewContext(ctx)
				canonlog.InfoAddMany(ctx, map[string]any{
					"method": r.Method,
					"path":   r.URL.Path,
				})
				if cfg.canonlogFields != nil {
					canonlog.InfoAddMany(ctx, cfg.canonlogFields(r))
				}
			}

			r = r.WithContext(ctx)

			defer func() {
				if rec := recover(); rec != nil {
					state.mu.Lock()
					state.err = ErrInternal
					state.mu.Unlock()

					if cfg.canonlog {
						canonlog.ErrorAdd(ctx, fmt.Errorf("panic: %v", rec))
					}
				}

				if cfg.canonlog {
					flushLog(ctx, r, state, time.Since(start))
				}

				writeResponse(w, state)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

func flushLog(ctx context.Context, r *http.Request, state *responseState, duration time.Duration) {
	state.mu.Lock()
	status := state.status
	if state.err != nil {
		status = state.err.Status
		canonlog.ErrorAdd(ctx, state.err)
	}
	state.mu.Unlock()

	route := r.URL.Path
	if rctx := chi.RouteContext(ctx); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			route = pattern
		}
	}

	canonlog.InfoAddMany(ctx, map[string]any{
		"route":       route,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	})
	canonlog.Flush(ctx)
}

func writeResponse(w http.ResponseWriter, state *responseState) {
	state.mu.Lock()
	defer state.mu.Unlock()

	for key, values := range state.headers {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}

	switch {
	case state.err != nil:
		writeJSON(w, state.err.Status, errorResponse{Error: state.err})
	case state.body != nil:
		writeJSON(w, state.status, state.body)
	case state.status != 0:
		w.WriteHeader(state.status)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal server error"))
		return
	}
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

// logFields adds fields to the canonical log line when a canonlog logger is present.
func logFields(ctx context.Context, fields map[string]any) {
	if _, ok := canonlog.TryGetLogger(ctx); ok {
		canonlog.InfoAddMany(ctx, fields)
	}
}
