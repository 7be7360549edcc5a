package window

import (
	"strings"
	"testing"
	"time"
)

var shanghai = time.FixedZone("CST", 8*60*60)

func TestEnd(t *testing.T) {
	tests := []struct {
		name string
		ts   int64
		ttl  int64
		want int64
	}{
		{name: "rounds up inside window", ts: 61, ttl: 60, want: 120},
		{name: "boundary stays put", ts: 120, ttl: 60, want: 120},
		{name: "one second before boundary", ts: 119, ttl: 60, want: 120},
		{name: "ttl of one", ts: 1771380001, ttl: 1, want: 1771380001},
		{name: "zero ttl clamps to one", ts: 42, ttl: 0, want: 42},
		{name: "negative ttl clamps to one", ts: 42, ttl: -5, want: 42},
		{name: "ttl longer than a day", ts: 1771344000, ttl: 70000, want: 1771350000},
		{name: "negative timestamp", ts: -5, ttl: 60, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := End(tt.ts, tt.ttl); got != tt.want {
				t.Errorf("End(%d, %d) = %d, want %d", tt.ts, tt.ttl, got, tt.want)
			}
		})
	}
}

func TestEnd_AlignedAndContainsTimestamp(t *testing.T) {
	ttls := []int64{1, 7, 60, 61, 3600, 70000, 86400, 90000}
	base := int64(1771380000)

	for _, ttl := range ttls {
		for offset := int64(-200); offset <= 200; offset += 13 {
			ts := base + offset
			end := End(ts, ttl)

			if end%ttl != 0 {
				t.Fatalf("End(%d, %d) = %d is not aligned to ttl", ts, ttl, end)
			}
			if end-ttl > ts || ts > end {
				t.Fatalf("End(%d, %d) = %d does not contain timestamp", ts, ttl, end)
			}
			if ts%ttl != 0 && ts >= end {
				t.Fatalf("End(%d, %d) = %d, want strictly after an unaligned timestamp", ts, ttl, end)
			}
		}
	}
}

func TestSeconds(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want int64
	}{
		{ttl: time.Minute, want: 60},
		{ttl: 1500 * time.Millisecond, want: 1},
		{ttl: 500 * time.Millisecond, want: 1},
		{ttl: 0, want: 1},
		{ttl: -time.Hour, want: 1},
		{ttl: 25 * time.Hour, want: 90000},
	}

	for _, tt := range tests {
		if got := Seconds(tt.ttl); got != tt.want {
			t.Errorf("Seconds(%v) = %d, want %d", tt.ttl, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	now := time.Date(2026, 2, 18, 10, 0, 30, 0, shanghai)
	w := New(now, time.Minute)

	if w.TTL != 60 {
		t.Errorf("TTL = %d, want 60", w.TTL)
	}
	if w.End != 1771380060 {
		t.Errorf("End = %d, want 1771380060", w.End)
	}
	if w.Start != w.End-60 {
		t.Errorf("Start = %d, want %d", w.Start, w.End-60)
	}
}

func TestDay_UsesWindowStart(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		ttl  time.Duration
		want string
	}{
		{
			name: "short window same day",
			now:  time.Date(2026, 2, 18, 10, 0, 0, 0, shanghai),
			ttl:  time.Minute,
			want: "2026-02-18",
		},
		{
			name: "long window crossing midnight maps to previous day",
			now:  time.Date(2026, 2, 18, 0, 0, 0, 0, shanghai),
			ttl:  70000 * time.Second,
			want: "2026-02-17",
		},
		{
			name: "window longer than a day",
			now:  time.Date(2026, 2, 18, 10, 0, 0, 0, shanghai),
			ttl:  90000 * time.Second,
			want: "2026-02-17",
		},
		{
			name: "first window after midnight",
			now:  time.Date(2026, 2, 18, 0, 0, 1, 0, shanghai),
			ttl:  time.Minute,
			want: "2026-02-18",
		},
		{
			name: "boundary at midnight closes previous day window",
			now:  time.Date(2026, 2, 18, 0, 0, 0, 0, shanghai),
			ttl:  time.Minute,
			want: "2026-02-17",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := New(tt.now, tt.ttl)
			if got := w.Day(shanghai); got != tt.want {
				t.Errorf("Day() = %s, want %s (window %+v)", got, tt.want, w)
			}
		})
	}
}

func TestRequiredExpiry(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		ttl  time.Duration
		want int64
	}{
		{
			name: "minute window expires just after next midnight",
			now:  time.Date(2026, 2, 18, 10, 0, 0, 0, shanghai),
			ttl:  time.Minute,
			want: 1771430401,
		},
		{
			name: "cross day window aligned to ttl",
			now:  time.Date(2026, 2, 18, 0, 0, 0, 0, shanghai),
			ttl:  70000 * time.Second,
			want: 1771350001,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := New(tt.now, tt.ttl)
			if got := w.RequiredExpiry(shanghai); got != tt.want {
				t.Errorf("RequiredExpiry() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRequiredExpiry_OutlivesEveryWindowOfTheDay(t *testing.T) {
	ttls := []time.Duration{time.Second, time.Minute, 7 * time.Minute, time.Hour, 70000 * time.Second, 36 * time.Hour}
	day := time.Date(2026, 2, 17, 0, 0, 0, 0, shanghai)
	nextDay := day.AddDate(0, 0, 1)

	for _, ttl := range ttls {
		var expiry int64
		for now := day; now.Before(nextDay.Add(72 * time.Hour)); now = now.Add(17 * time.Minute) {
			w := New(now, ttl)
			if w.Day(shanghai) != "2026-02-17" {
				continue
			}
			got := w.RequiredExpiry(shanghai)
			if expiry == 0 {
				expiry = got
			}
			if got != expiry {
				t.Fatalf("ttl %v: RequiredExpiry varies within one bucket: %d vs %d", ttl, got, expiry)
			}
			if got <= w.End {
				t.Fatalf("ttl %v: RequiredExpiry %d does not outlive window end %d", ttl, got, w.End)
			}
			if (got-ExpiryMargin)%w.TTL != 0 {
				t.Fatalf("ttl %v: RequiredExpiry %d is not aligned to ttl", ttl, got)
			}
			if got-ExpiryMargin < nextDay.Unix() {
				t.Fatalf("ttl %v: RequiredExpiry %d before next midnight %d", ttl, got, nextDay.Unix())
			}
		}
	}
}

func TestField(t *testing.T) {
	a := New(time.Unix(1771380000, 0), time.Minute)
	b := New(time.Unix(1771380000, 0), 2*time.Minute)

	if a.End != b.End {
		t.Fatalf("expected both ttls to share the window end, got %d and %d", a.End, b.End)
	}
	if a.Field("u1") == b.Field("u1") {
		t.Errorf("fields for different ttls collide: %s", a.Field("u1"))
	}
	if got := a.Field("u1"); got != "u1:1771380000:60" {
		t.Errorf("Field() = %s, want u1:1771380000:60", got)
	}
}

func TestParseField(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		wantKey string
		wantEnd int64
		wantTTL int64
		wantErr bool
	}{
		{name: "plain key", field: "u1:1771380000:60", wantKey: "u1", wantEnd: 1771380000, wantTTL: 60},
		{name: "key with separators", field: "ip:10.0.0.1:GET:/x:1771380000:120", wantKey: "ip:10.0.0.1:GET:/x", wantEnd: 1771380000, wantTTL: 120},
		{name: "empty key", field: ":1771380000:60", wantKey: "", wantEnd: 1771380000, wantTTL: 60},
		{name: "no separators", field: "garbage", wantErr: true},
		{name: "non numeric ttl", field: "u1:1771380000:abc", wantErr: true},
		{name: "zero ttl", field: "u1:1771380000:0", wantErr: true},
		{name: "missing end", field: "1771380000:60", wantErr: true},
		{name: "non numeric end", field: "u1:end:60", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, w, err := ParseField(tt.field)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseField() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if key != tt.wantKey || w.End != tt.wantEnd || w.TTL != tt.wantTTL {
				t.Errorf("ParseField() = (%q, %+v), want (%q, end %d, ttl %d)", key, w, tt.wantKey, tt.wantEnd, tt.wantTTL)
			}
			if w.Start != w.End-w.TTL {
				t.Errorf("Start = %d, want %d", w.Start, w.End-w.TTL)
			}
		})
	}
}

func TestParseField_RoundTrip(t *testing.T) {
	keys := []string{"u1", "a:b:c", "123:456", strings.Repeat("k", 300)}
	for _, key := range keys {
		w := New(time.Unix(1771380017, 0), 90*time.Second)
		gotKey, gotWindow, err := ParseField(w.Field(key))
		if err != nil {
			t.Fatalf("ParseField(%q) error: %v", w.Field(key), err)
		}
		if gotKey != key || gotWindow != w {
			t.Errorf("round trip of %q = (%q, %+v), want (%q, %+v)", key, gotKey, gotWindow, key, w)
		}
	}
}

func TestParseDay(t *testing.T) {
	got, err := ParseDay("2026-02-17", shanghai)
	if err != nil {
		t.Fatalf("ParseDay() error: %v", err)
	}
	if got.Unix() != 1771257600 {
		t.Errorf("ParseDay() = %d, want 1771257600", got.Unix())
	}

	if _, err := ParseDay("17/02/2026", shanghai); err == nil {
		t.Error("expected error for malformed day")
	}
}

func TestDayStart_NilLocationUsesLocal(t *testing.T) {
	now := time.Now()
	got := DayStart(now, nil)
	want := time.Date(now.In(time.Local).Year(), now.In(time.Local).Month(), now.In(time.Local).Day(), 0, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("DayStart(nil) = %v, want %v", got, want)
	}
}
