package timestamp

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{raw: "January 5, 2024 at 9:15:00 AM GMT-8", want: "2024-01-05T09:15:00-08:00", ok: true},
		{raw: "March 1, 2023 at 12:30:00 PM GMT+2", want: "2023-03-01T12:30:00+02:00", ok: true},
		{raw: "March 1, 2023 at 12:30:00 AM GMT+2", want: "2023-03-01T00:30:00+02:00", ok: true},
		{raw: "July 14, 2022 at 11:59:59 PM GMT", want: "2022-07-14T23:59:59+00:00", ok: true},
		{raw: "Dec 31, 2021 at 1:02:03 AM GMT+14", want: "2021-12-31T01:02:03+14:00", ok: true},
		{raw: "January 5, 2024 at 9:15:00\u202fAM GMT-8", want: "2024-01-05T09:15:00-08:00", ok: true},
		{raw: "  January 5, 2024 at 9:15:00 pm GMT-8  ", want: "2024-01-05T21:15:00-08:00", ok: true},
		{raw: "yesterday", want: "yesterday", ok: false},
		{raw: "January 5, 2024 at 13:15:00 PM GMT-8", want: "January 5, 2024 at 13:15:00 PM GMT-8", ok: false},
		{raw: "January 5, 2024 at 9:15:00 AM GMT-20", want: "January 5, 2024 at 9:15:00 AM GMT-20", ok: false},
		{raw: "Smarch 5, 2024 at 9:15:00 AM GMT-8", want: "Smarch 5, 2024 at 9:15:00 AM GMT-8", ok: false},
	}

	n := NewNormalizer(nil)
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := n.Normalize(tt.raw)
			if got != tt.want || ok != tt.ok {
				t.Errorf("Normalize(%q) = %q, %v; want %q, %v", tt.raw, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestParseKeepsInstant(t *testing.T) {
	got, err := Parse("January 5, 2024 at 9:15:00 AM GMT-8")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	want := time.Date(2024, time.January, 5, 17, 15, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Parse() = %v, want instant %v", got, want)
	}
	if _, offset := got.Zone(); offset != -8*3600 {
		t.Errorf("offset = %d, want %d", offset, -8*3600)
	}
}

func TestParseErrors(t *testing.T) {
	if _, err := Parse("nonsense"); !errors.Is(err, ErrUnrecognized) {
		t.Errorf("Parse(nonsense) error = %v, want ErrUnrecognized", err)
	}
	if _, err := Parse("January 5, 2024 at 0:15:00 AM GMT"); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Parse(hour 0) error = %v, want ErrOutOfRange", err)
	}
	if _, err := Parse("January 5, 2024 at 9:60:00 AM GMT"); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Parse(minute 60) error = %v, want ErrOutOfRange", err)
	}
}

func TestNormalizeLogsFallback(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if _, ok := NewNormalizer(logger).Normalize("last week"); ok {
		t.Fatal("Normalize() ok = true, want false")
	}
	if !strings.Contains(buf.String(), "timestamp left as is") {
		t.Errorf("log output %q does not mention the fallback", buf.String())
	}
}
