package types

import (
	"testing"
	"time"
)

func TestFormatCompact(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{-time.Second, "0s"},
		{45 * time.Second, "45s"},
		{time.Hour, "1h"},
		{26*time.Hour + 3*time.Minute + 4*time.Second, "1d 2h 3m 4s"},
		{2 * day, "2d"},
	}
	for _, tt := range tests {
		if got := FormatCompact(tt.d); got != tt.want {
			t.Errorf("FormatCompact(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatRemaining(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"past", now.Add(-time.Minute), "Expired"},
		{"now", now, "Expired"},
		{"seconds", now.Add(9 * time.Second), "9s"},
		{"minutes", now.Add(5 * time.Minute), "5m 0s"},
		{"days", now.Add(2*day + 5*time.Minute), "2d 0h 5m 0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatRemaining(tt.at, now); got != tt.want {
				t.Errorf("FormatRemaining = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatLong(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0 seconds"},
		{time.Second, "1 second"},
		{time.Hour, "1 hour"},
		{2*day + 3*time.Hour + time.Minute, "2 days 3 hours 1 minute"},
		{day + 30*time.Second, "1 day 30 seconds"},
	}
	for _, tt := range tests {
		if got := FormatLong(tt.d); got != tt.want {
			t.Errorf("FormatLong(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"3600", time.Hour, false},
		{"1d 2h 30m 15s", day + 2*time.Hour + 30*time.Minute + 15*time.Second, false},
		{"1d2h", day + 2*time.Hour, false},
		{"90m", 90 * time.Minute, false},
		{"2H", 2 * time.Hour, false},
		{"", 0, true},
		{"-5", 0, true},
		{"5x", 0, true},
		{"h", 0, true},
		{"10", 10 * time.Second, false},
		{"1d 5", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDuration(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDuration(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseDuration(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	for _, d := range []time.Duration{time.Second, 61 * time.Second, 3*day + 7*time.Hour} {
		got, err := ParseDuration(FormatCompact(d))
		if err != nil {
			t.Fatalf("ParseDuration(FormatCompact(%v)): %v", d, err)
		}
		if got != d {
			t.Errorf("round trip %v -> %v", d, got)
		}
	}
}
