package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nhalm/ratecount"
	"github.com/nhalm/ratecount/store"
	"github.com/nhalm/ratecount/window"
)

// TTL is clamped to one second by the counter. Zero reads as missing.
type increaseParams struct {
	TTL  time.Duration `query:"ttl" validate:"required"`
	Step int64         `query:"step" validate:"gte=1"`
}

// IncreaseResponse is the body of POST /v1/counters/{key}/increase.
type IncreaseResponse struct {
	Key       string `json:"key"`
	TTL       int64  `json:"ttl"`
	Count     int64  `json:"count"`
	WindowEnd int64  `json:"window_end"`
}

// BucketEntry is one counter of a bucket.
type BucketEntry struct {
	Key         string `json:"key"`
	WindowStart int64  `json:"window_start"`
	WindowEnd   int64  `json:"window_end"`
	TTL         int64  `json:"ttl"`
	Count       int64  `json:"count"`
}

// BucketResponse is the body of GET /v1/buckets/{day}. ExpiresInMS is omitted when
// the bucket has no expiry or does not exist.
type BucketResponse struct {
	Key         string        `json:"key"`
	Day         string        `json:"day"`
	ExpiresInMS *int64        `json:"expires_in_ms,omitempty"`
	Entries     []BucketEntry `json:"entries"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Instance string `json:"instance"`
}

func (s *Server) handleIncrease(_ http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	params := increaseParams{Step: 1}
	if !ratecount.Query(r, &params) {
		return
	}

	count, win, err := store.IncreaseWindow(r.Context(), s.counter, s.clock, key, params.TTL, params.Step)
	if err != nil {
		s.logger.Warn("Increase failed",
			zap.String("key", key),
			zap.Int64("ttl", win.TTL),
			zap.Error(err))
		ratecount.SetError(r, ratecount.StoreError(err))
		return
	}

	ratecount.SetResponse(r, http.StatusOK, IncreaseResponse{
		Key:       key,
		TTL:       win.TTL,
		Count:     count,
		WindowEnd: win.End,
	})
}

func (s *Server) handleBucket(_ http.ResponseWriter, r *http.Request) {
	reader, ok := s.counter.(BucketReader)
	if !ok {
		ratecount.SetError(r, ratecount.ErrNotImplemented.With("Bucket inspection requires the redis driver"))
		return
	}

	day := chi.URLParam(r, "day")
	if _, err := window.ParseDay(day, reader.Location()); err != nil {
		ratecount.SetError(r, ratecount.NewValidationError([]ratecount.FieldError{{
			Param:   "day",
			Code:    "format",
			Message: "must be a date formatted as YYYY-MM-DD",
		}}))
		return
	}

	b, err := reader.Bucket(r.Context(), day)
	if err != nil {
		s.logger.Warn("Bucket read failed", zap.String("day", day), zap.Error(err))
		ratecount.SetError(r, ratecount.StoreError(err))
		return
	}

	ratecount.SetResponse(r, http.StatusOK, bucketResponse(b))
}

func bucketResponse(b store.Bucket) BucketResponse {
	resp := BucketResponse{
		Key:     b.Key,
		Day:     b.Day,
		Entries: make([]BucketEntry, 0, len(b.Entries)),
	}
	if b.ExpiresIn > 0 {
		ms := b.ExpiresIn.Milliseconds()
		resp.ExpiresInMS = &ms
	}
	for _, e := range b.Entries {
		resp.Entries = append(resp.Entries, BucketEntry{
			Key:         e.Key,
			WindowStart: e.Window.Start,
			WindowEnd:   e.Window.End,
			TTL:         e.Window.TTL,
			Count:       e.Count,
		})
	}
	return resp
}

func (s *Server) handleHealth(_ http.ResponseWriter, r *http.Request) {
	if p, ok := s.counter.(Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			s.logger.Warn("Health check failed", zap.Error(err))
			ratecount.SetError(r, ratecount.StoreError(err))
			return
		}
	}
	ratecount.SetResponse(r, http.StatusOK, HealthResponse{Status: "ok", Instance: s.instance})
}
