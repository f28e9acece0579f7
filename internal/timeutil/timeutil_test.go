package timeutil

import (
	"errors"
	"testing"
	"time"

	"github.com/xonecas/seele/internal/errs"
)

func TestParseOnceTrigger(t *testing.T) {
	now := int64(1_700_000_000)

	tests := []struct {
		expr string
		want int64
	}{
		{"1700000500", 1_700_000_500},
		{"in 30 seconds", now + 30},
		{"in 5 minutes", now + 300},
		{"in 2 hours", now + 7200},
		{"in 1 day", now + 86400},
		{"tomorrow", now + 86400},
		{"next week", now + 604800},
	}
	for _, tt := range tests {
		got, err := ParseOnceTrigger(tt.expr, now, time.UTC)
		if err != nil {
			t.Errorf("ParseOnceTrigger(%q): %v", tt.expr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseOnceTrigger(%q) = %d, want %d", tt.expr, got, tt.want)
		}
	}
}

func TestParseOnceTriggerISO(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		t.Fatal(err)
	}
	got, err := ParseOnceTrigger("2026-02-01T14:30:00", 1_700_000_000, loc)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 2, 1, 14, 30, 0, 0, loc).Unix()
	if got != want {
		t.Errorf("got %d, want %d", got, want)
	}
}

func TestParseOnceTriggerBadInput(t *testing.T) {
	for _, expr := range []string{"", "whenever", "in banana minutes", "-5"} {
		_, err := ParseOnceTrigger(expr, 1_700_000_000, time.UTC)
		if !errors.Is(err, errs.New(errs.BadArgument, nil)) {
			t.Errorf("ParseOnceTrigger(%q) = %v, want BadArgument", expr, err)
		}
	}
}

func TestParseOnceTriggerRejectsPast(t *testing.T) {
	now := int64(1_700_000_000)
	for _, expr := range []string{
		"1699999999",          // epoch one second back
		"1700000000",          // exactly now
		"2020-01-01 08:00:00", // ISO in the past
	} {
		_, err := ParseOnceTrigger(expr, now, time.UTC)
		if !errors.Is(err, errs.New(errs.BadArgument, nil)) {
			t.Errorf("ParseOnceTrigger(%q) = %v, want BadArgument for a past time", expr, err)
		}
	}
}

func TestParseInterval(t *testing.T) {
	tests := []struct {
		expr string
		want int64
	}{
		{"30s", 30},
		{"5m", 300},
		{"1h", 3600},
		{"1d", 86400},
		{"1w", 604800},
		{"90", 90},
	}
	for _, tt := range tests {
		got, err := ParseInterval(tt.expr)
		if err != nil {
			t.Errorf("ParseInterval(%q): %v", tt.expr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseInterval(%q) = %d, want %d", tt.expr, got, tt.want)
		}
	}

	for _, expr := range []string{"", "0s", "-1h", "h", "soon"} {
		if _, err := ParseInterval(expr); !errs.IsKind(err, errs.BadArgument) {
			t.Errorf("ParseInterval(%q) = %v, want BadArgument", expr, err)
		}
	}
}

func TestFormatInterval(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{604800, "1w"},
		{86400, "1d"},
		{7200, "2h"},
		{300, "5m"},
		{45, "45s"},
	}
	for _, tt := range tests {
		if got := FormatInterval(tt.in); got != tt.want {
			t.Errorf("FormatInterval(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatRelative(t *testing.T) {
	now := int64(1_700_000_000)
	tests := []struct {
		ago  int64
		want string
	}{
		{10, "just now"},
		{120, "2 minutes ago"},
		{7200, "2 hours ago"},
		{86400 * 3, "3 days ago"},
	}
	for _, tt := range tests {
		if got := FormatRelative(now-tt.ago, now); got != tt.want {
			t.Errorf("FormatRelative(-%ds) = %q, want %q", tt.ago, got, tt.want)
		}
	}
}

func TestFormatRangeCollapses(t *testing.T) {
	ts := int64(1_700_000_000)
	if got, single := FormatRange(ts, ts, time.UTC), Format(ts, time.UTC); got != single {
		t.Errorf("FormatRange same endpoints = %q, want %q", got, single)
	}
}

func TestParseDateEndOfDay(t *testing.T) {
	got, err := ParseDate("2025-03-01", time.UTC, true)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2025, 3, 1, 23, 59, 59, 0, time.UTC).Unix()
	if got != want {
		t.Errorf("got %d, want %d", got, want)
	}
}
