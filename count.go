// Request counting middleware for Chi and standard http.Handler.
//
// Key dimensions (IP, header, endpoint, etc.) are added via options, so a counter can
// count per client, per tenant, per route or any combination. The middleware never
// rejects a request for its count: it increases the count, exposes it to downstream
// handlers through CountFromContext, and optionally reports it in response headers
// (RateCount-Count, RateCount-Window-End).
//
// Single dimension example:
//
//	counter := store.NewMemory()
//	defer counter.Close()
//	r.Use(ratecount.NewRequestCounter(counter, time.Minute, ratecount.CountWithIP()).Handler)
//
// Multi-dimensional example:
//
//	rc := ratecount.NewRequestCounter(counter, time.Minute,
//	    ratecount.CountWithName("api"),
//	    ratecount.CountWithIP(),
//	    ratecount.CountWithHeader("X-Tenant-ID"),
//	)
//	r.Use(rc.Handler)
//
// Key dimension options have *Required variants (e.g., CountWithHeaderRequired).
// When a required dimension is missing, the request is rejected with 400 Bad Request.
// When a non-required dimension is missing, the dimension is left out of the key. A
// request without any dimension value is not counted.

package ratecount

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nhalm/ratecount/store"
	"github.com/nhalm/ratecount/window"
)

// CountHeaderMode controls whether count headers are included in responses.
type CountHeaderMode int

const (
	// CountHeadersAlways sets RateCount-Count and RateCount-Window-End on counted
	// responses (default).
	CountHeadersAlways CountHeaderMode = iota

	// CountHeadersNever keeps counts out of responses.
	CountHeadersNever
)

// Response headers set by RequestCounter.
const (
	HeaderCount     = "RateCount-Count"
	HeaderWindowEnd = "RateCount-Window-End"
)

// countKeyFunc extracts a key component from an HTTP request.
// Returning an empty string indicates the value is missing.
type countKeyFunc func(*http.Request) string

type countDimension struct {
	fn       countKeyFunc
	required bool
	name     string // for error messages (e.g., "header X-API-Key")
}

// RequestCount is the result of counting one request.
type RequestCount struct {
	Key    string
	Count  int64
	Window window.Window
}

type countContextKey struct{}

// CountFromContext returns the count recorded by RequestCounter for this request.
// ok is false when the request was not counted.
func CountFromContext(ctx context.Context) (RequestCount, bool) {
	rc, ok := ctx.Value(countContextKey{}).(RequestCount)
	return rc, ok
}

// RequestCounter implements request counting middleware.
type RequestCounter struct {
	counter    store.Counter
	ttl        time.Duration
	step       int64
	name       string
	keyDims    []countDimension
	headerMode CountHeaderMode
	clock      store.Clock
}

// CountOption configures a RequestCounter.
type CountOption func(*RequestCounter)

// CountWithHeaderMode configures whether count headers are included in responses.
func CountWithHeaderMode(mode CountHeaderMode) CountOption {
	return func(c *RequestCounter) {
		c.headerMode = mode
	}
}

// CountWithName sets a prefix for count keys.
// Use to keep layered counters sharing a store apart.
func CountWithName(name string) CountOption {
	return func(c *RequestCounter) {
		c.name = name
	}
}

// CountWithStep sets how much each request adds to the count (default: 1).
func CountWithStep(step int64) CountOption {
	return func(c *RequestCounter) {
		c.step = step
	}
}

// CountWithClock sets the clock used to report the window end for counters that do not
// implement store.WindowCounter. It should be the clock the counter itself uses.
func CountWithClock(clock store.Clock) CountOption {
	return func(c *RequestCounter) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// CountWithIP adds the client IP address (from RemoteAddr) to the key.
// Use this for direct connections without a proxy. RemoteAddr is always present.
func CountWithIP() CountOption {
	return func(c *RequestCounter) {
		c.keyDims = append(c.keyDims, countDimension{
			fn: func(r *http.Request) string {
				ip, _, err := net.SplitHostPort(r.RemoteAddr)
				if err != nil {
					return r.RemoteAddr
				}
				return ip
			},
			name: "IP",
		})
	}
}

// CountWithRealIP adds the client IP from X-Forwarded-For or X-Real-IP headers.
// Use this when behind a proxy/load balancer.
// If neither header is present, the dimension is left out of the key.
//
// SECURITY: Only use this behind a trusted reverse proxy that sets these headers.
// Without a proxy, clients can spoof X-Forwarded-For and spread their count.
func CountWithRealIP() CountOption {
	return countWithRealIP(false)
}

// CountWithRealIPRequired is CountWithRealIP, but returns 400 Bad Request when
// neither header is present.
func CountWithRealIPRequired() CountOption {
	return countWithRealIP(true)
}

func countWithRealIP(required bool) CountOption {
	return func(c *RequestCounter) {
		c.keyDims = append(c.keyDims, countDimension{
			fn: func(r *http.Request) string {
				if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
					first, _, _ := strings.Cut(xff, ",")
					return strings.TrimSpace(first)
				}
				return strings.TrimSpace(r.Header.Get("X-Real-IP"))
			},
			required: required,
			name:     "X-Forwarded-For or X-Real-IP header",
		})
	}
}

// CountWithEndpoint adds the HTTP method and path to the key.
// Key component format: "<method>:<path>".
func CountWithEndpoint() CountOption {
	return func(c *RequestCounter) {
		c.keyDims = append(c.keyDims, countDimension{
			fn: func(r *http.Request) string {
				return r.Method + ":" + r.URL.Path
			},
			name: "endpoint",
		})
	}
}

// CountWithHeader adds a header value to the key.
// If the header is missing, the dimension is left out of the key.
func CountWithHeader(header string) CountOption {
	return countWithHeader(header, false)
}

// CountWithHeaderRequired adds a header value to the key.
// Returns 400 Bad Request when the header is missing.
func CountWithHeaderRequired(header string) CountOption {
	return countWithHeader(header, true)
}

func countWithHeader(header string, required bool) CountOption {
	return func(c *RequestCounter) {
		c.keyDims = append(c.keyDims, countDimension{
			fn: func(r *http.Request) string {
				return r.Header.Get(header)
			},
			required: required,
			name:     fmt.Sprintf("header %s", header),
		})
	}
}

// CountWithQueryParam adds a query parameter value to the key.
// If the parameter is missing, the dimension is left out of the key.
func CountWithQueryParam(param string) CountOption {
	return countWithQueryParam(param, false)
}

// CountWithQueryParamRequired adds a query parameter value to the key.
// Returns 400 Bad Request when the parameter is missing.
func CountWithQueryParamRequired(param string) CountOption {
	return countWithQueryParam(param, true)
}

func countWithQueryParam(param string, required bool) CountOption {
	return func(c *RequestCounter) {
		c.keyDims = append(c.keyDims, countDimension{
			fn: func(r *http.Request) string {
				return r.URL.Query().Get(param)
			},
			required: required,
			name:     fmt.Sprintf("query param %s", param),
		})
	}
}

// NewRequestCounter creates request counting middleware that counts into counter in
// windows of length ttl. Use CountWith* options to configure key dimensions.
//
// Returns 400 (Bad Request) if a *Required dimension is missing and 503 (Service
// Unavailable) if the store fails. With a fail-open counter, store failures are
// invisible here and the request is counted as 0.
//
// Panics if no key dimensions are configured or the step is less than 1.
func NewRequestCounter(counter store.Counter, ttl time.Duration, opts ...CountOption) *RequestCounter {
	c := &RequestCounter{
		counter:    counter,
		ttl:        ttl,
		step:       1,
		headerMode: CountHeadersAlways,
		clock:      store.SystemClock,
	}
	for _, opt := range opts {
		opt(c)
	}
	if len(c.keyDims) == 0 {
		panic("ratecount: must configure at least one key dimension option (CountWithIP, CountWithRealIP, CountWithEndpoint, CountWithHeader, or CountWithQueryParam)")
	}
	if c.step < 1 {
		panic("ratecount: step must be at least 1")
	}
	return c
}

// Handler returns the counting middleware.
func (c *RequestCounter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		useState := HasState(ctx)

		key, missingDim := c.buildKey(r)

		if missingDim != "" {
			msg := fmt.Sprintf("Missing required %s", missingDim)
			if useState {
				SetError(r, ErrBadRequest.With(msg))
			} else {
				http.Error(w, msg, http.StatusBadRequest)
			}
			return
		}

		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		count, win, err := store.IncreaseWindow(ctx, c.counter, c.clock, key, c.ttl, c.step)
		if err != nil {
			apiErr := StoreError(err)
			if useState {
				SetError(r, apiErr)
			} else {
				logFields(ctx, map[string]any{"ratecount_error": err.Error()})
				http.Error(w, apiErr.Message, apiErr.Status)
			}
			return
		}

		logFields(ctx, map[string]any{
			"ratecount_key":   key,
			"ratecount_count": count,
		})

		if c.headerMode == CountHeadersAlways {
			countStr := strconv.FormatInt(count, 10)
			endStr := strconv.FormatInt(win.End, 10)
			if useState {
				SetHeader(r, HeaderCount, countStr)
				SetHeader(r, HeaderWindowEnd, endStr)
			} else {
				w.Header().Set(HeaderCount, countStr)
				w.Header().Set(HeaderWindowEnd, endStr)
			}
		}

		ctx = context.WithValue(ctx, countContextKey{}, RequestCount{Key: key, Count: count, Window: win})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// buildKey builds the count key from all dimensions.
// Returns (key, missingDimName). If missingDimName is non-empty, a required dimension was missing.
func (c *RequestCounter) buildKey(r *http.Request) (string, string) {
	parts := make([]string, 0, len(c.keyDims)+1)
	if c.name != "" {
		parts = append(parts, c.name)
	}

	for _, dim := range c.keyDims {
		part := dim.fn(r)
		if part == "" {
			if dim.required {
				return "", dim.name
			}
			continue
		}
		parts = append(parts, part)
	}

	// A name alone identifies no client.
	if len(parts) == 0 || (c.name != "" && len(parts) == 1) {
		return "", ""
	}
	return strings.Join(parts, ":"), ""
}
