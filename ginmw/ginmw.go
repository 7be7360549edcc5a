// Package ginmw counts requests for Gin routers.
//
// It is the Gin counterpart of ratecount.NewRequestCounter: each request with a
// non-empty key is counted, the result is stored in the Gin context under ContextKey
// and reported in the RateCount-Count and RateCount-Window-End headers. Requests are
// never rejected for their count.
//
// Example:
//
//	router := gin.Default()
//	router.Use(ginmw.New(counter, time.Minute, ginmw.ClientIP))
//	router.GET("/", func(c *gin.Context) {
//		rc := c.MustGet(ginmw.ContextKey).(ratecount.RequestCount)
//		c.JSON(http.StatusOK, gin.H{"count": rc.Count})
//	})
package ginmw

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nhalm/ratecount"
	"github.com/nhalm/ratecount/store"
)

// ContextKey is the Gin context key holding the ratecount.RequestCount of a request.
const ContextKey = "ratecount"

// KeyFunc returns the counting key of a request. An empty key skips counting.
type KeyFunc func(*gin.Context) string

// ClientIP keys requests by gin's resolved client IP.
func ClientIP(c *gin.Context) string {
	return c.ClientIP()
}

// FullPath keys requests by method and route template, e.g. "GET:/users/:id".
func FullPath(c *gin.Context) string {
	path := c.FullPath()
	if path == "" {
		return ""
	}
	return c.Request.Method + ":" + path
}

type middleware struct {
	counter store.Counter
	ttl     time.Duration
	keyFn   KeyFunc
	step    int64
	headers bool
	clock   store.Clock
	onError func(*gin.Context, error)
}

// Option configures the middleware.
type Option func(*middleware)

// WithStep sets how much each request adds to the count (default: 1).
func WithStep(step int64) Option {
	return func(m *middleware) {
		m.step = step
	}
}

// WithoutHeaders keeps counts out of responses.
func WithoutHeaders() Option {
	return func(m *middleware) {
		m.headers = false
	}
}

// WithClock sets the clock used to report the window end for counters that do not
// report their window themselves.
func WithClock(clock store.Clock) Option {
	return func(m *middleware) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithErrorHandler replaces the store failure handler. The handler must abort the
// request or call c.Next itself.
func WithErrorHandler(fn func(*gin.Context, error)) Option {
	return func(m *middleware) {
		if fn != nil {
			m.onError = fn
		}
	}
}

// DefaultErrorHandler aborts with the status and JSON error body ratecount.StoreError
// maps err to.
func DefaultErrorHandler(c *gin.Context, err error) {
	apiErr := ratecount.StoreError(err)
	c.Error(err)
	c.AbortWithStatusJSON(apiErr.Status, gin.H{"error": apiErr})
}

// New returns middleware counting requests into counter in windows of length ttl.
// Panics if keyFn is nil or the step is less than 1.
func New(counter store.Counter, ttl time.Duration, keyFn KeyFunc, opts ...Option) gin.HandlerFunc {
	m := &middleware{
		counter: counter,
		ttl:     ttl,
		keyFn:   keyFn,
		step:    1,
		headers: true,
		clock:   store.SystemClock,
		onError: DefaultErrorHandler,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.keyFn == nil {
		panic("ginmw: key function is required")
	}
	if m.step < 1 {
		panic("ginmw: step must be at least 1")
	}
	return m.handle
}

func (m *middleware) handle(c *gin.Context) {
	key := m.keyFn(c)
	if key == "" {
		c.Next()
		return
	}

	count, win, err := store.IncreaseWindow(c.Request.Context(), m.counter, m.clock, key, m.ttl, m.step)
	if err != nil {
		m.onError(c, err)
		return
	}

	if m.headers {
		c.Header(ratecount.HeaderCount, strconv.FormatInt(count, 10))
		c.Header(ratecount.HeaderWindowEnd, strconv.FormatInt(win.End, 10))
	}
	c.Set(ContextKey, ratecount.RequestCount{Key: key, Count: count, Window: win})
	c.Next()
}
