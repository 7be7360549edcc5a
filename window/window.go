// Package window derives fixed counting windows and their day buckets from wall-clock time.
//
// A window of length ttl seconds is aligned to ttl boundaries measured from the Unix
// epoch. Every window is grouped into the bucket of the local calendar day on which it
// starts, so a single store key holds all windows of that day no matter how many
// logical keys or ttls are in use.
//
// Example:
//
//	w := window.New(time.Now(), time.Minute)
//	day := w.Day(time.Local)          // "2026-02-18"
//	field := w.Field("user:42")       // "user:42:1771380000:60"
//	expireAt := w.RequiredExpiry(time.Local)
//
// All functions are pure and safe for concurrent use.
package window

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DayLayout is the time layout of a bucket day identifier.
const DayLayout = "2006-01-02"

// ExpiryMargin is added to every required bucket expiry. Stores report remaining
// time-to-live in whole seconds, so the margin absorbs that truncation.
const ExpiryMargin int64 = 1

// Window is one fixed counting window. Start and End are Unix seconds and TTL is the
// window length in seconds. A timestamp that falls exactly on a ttl boundary closes the
// window ending there, so a window covers (Start, End].
type Window struct {
	Start int64
	End   int64
	TTL   int64
}

// Seconds converts a window length to whole seconds, clamped to a minimum of 1.
func Seconds(ttl time.Duration) int64 {
	s := int64(ttl / time.Second)
	if s < 1 {
		return 1
	}
	return s
}

// End returns the end of the ttl-aligned window containing ts: ts rounded up to the
// next multiple of ttl, or ts itself when it already is one.
func End(ts, ttl int64) int64 {
	if ttl < 1 {
		ttl = 1
	}
	r := ts % ttl
	if r < 0 {
		r += ttl
	}
	if r == 0 {
		return ts
	}
	return ts + (ttl - r)
}

// New returns the window of length ttl that contains now.
func New(now time.Time, ttl time.Duration) Window {
	t := Seconds(ttl)
	end := End(now.Unix(), t)
	return Window{Start: end - t, End: end, TTL: t}
}

// Day returns the bucket identifier of the window: the calendar date of Start in loc.
// A long window that starts late on one day and ends on the next belongs to the day it
// started on, which can be the day before now.
func (w Window) Day(loc *time.Location) string {
	return time.Unix(w.Start, 0).In(location(loc)).Format(DayLayout)
}

// RequiredExpiry returns the Unix timestamp a bucket holding this window must not expire
// before: the first ttl boundary at or after the local midnight that ends the bucket's
// day, plus ExpiryMargin. Every window that can still be written into the bucket ends
// on or before that boundary.
func (w Window) RequiredExpiry(loc *time.Location) int64 {
	next := DayStart(time.Unix(w.Start, 0), loc).AddDate(0, 0, 1)
	return End(next.Unix(), w.TTL) + ExpiryMargin
}

// Field returns the bucket field that holds the counter of key in this window.
// The window end and ttl are both encoded because two ttls can share an end.
func (w Window) Field(key string) string {
	var sb strings.Builder
	sb.Grow(len(key) + 32)
	sb.WriteString(key)
	sb.WriteByte(':')
	sb.WriteString(strconv.FormatInt(w.End, 10))
	sb.WriteByte(':')
	sb.WriteString(strconv.FormatInt(w.TTL, 10))
	return sb.String()
}

// ParseField splits a field produced by Field back into the logical key and window.
// The numeric segments are taken from the right so keys may contain ':'.
func ParseField(field string) (string, Window, error) {
	i := strings.LastIndexByte(field, ':')
	if i < 0 {
		return "", Window{}, fmt.Errorf("malformed field %q", field)
	}
	ttl, err := strconv.ParseInt(field[i+1:], 10, 64)
	if err != nil || ttl < 1 {
		return "", Window{}, fmt.Errorf("malformed ttl in field %q", field)
	}
	rest := field[:i]
	j := strings.LastIndexByte(rest, ':')
	if j < 0 {
		return "", Window{}, fmt.Errorf("malformed field %q", field)
	}
	end, err := strconv.ParseInt(rest[j+1:], 10, 64)
	if err != nil {
		return "", Window{}, fmt.Errorf("malformed window end in field %q", field)
	}
	return rest[:j], Window{Start: end - ttl, End: end, TTL: ttl}, nil
}

// DayStart returns local midnight of the calendar day containing t.
func DayStart(t time.Time, loc *time.Location) time.Time {
	lt := t.In(location(loc))
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, lt.Location())
}

// ParseDay parses a bucket day identifier in loc.
func ParseDay(day string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DayLayout, day, location(loc))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q: %w", day, err)
	}
	return t, nil
}

func location(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}
