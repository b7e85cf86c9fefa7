// Package timestamp converts chat export date lines such as
// "January 5, 2024 at 9:15:00 AM GMT-8" into RFC 3339 timestamps with a
// numeric offset.
package timestamp

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Layout is the canonical output form. A zero offset renders as +00:00.
const Layout = "2006-01-02T15:04:05-07:00"

var (
	ErrUnrecognized = errors.New("timestamp format not recognized")
	ErrOutOfRange   = errors.New("timestamp field out of range")

	pattern = regexp.MustCompile(`(?i)^([a-z]+\s+\d{1,2},\s+\d{4})\s+at\s+(\d{1,2}):(\d{2}):(\d{2})\s*(AM|PM)\s+GMT(?:([+-]\d{1,2}))?$`)

	dateLayouts = []string{"January 2, 2006", "Jan 2, 2006"}

	spaces = strings.NewReplacer("\u00a0", " ", "\u202f", " ")
	runs   = regexp.MustCompile(`\s+`)
)

// Parse reads a raw date line into an instant in its declared GMT offset.
func Parse(raw string) (time.Time, error) {
	text := strings.TrimSpace(spaces.Replace(raw))
	m := pattern.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, ErrUnrecognized
	}

	date, err := parseDate(runs.ReplaceAllString(m[1], " "))
	if err != nil {
		return time.Time{}, err
	}

	hour, _ := strconv.Atoi(m[2])
	minute, _ := strconv.Atoi(m[3])
	second, _ := strconv.Atoi(m[4])
	if hour < 1 || hour > 12 || minute > 59 || second > 59 {
		return time.Time{}, fmt.Errorf("%w: %s:%s:%s", ErrOutOfRange, m[2], m[3], m[4])
	}

	offset := 0
	if m[6] != "" {
		offset, _ = strconv.Atoi(m[6])
	}
	if offset < -14 || offset > 14 {
		return time.Time{}, fmt.Errorf("%w: GMT%s", ErrOutOfRange, m[6])
	}

	zone := time.FixedZone(fmt.Sprintf("GMT%+d", offset), offset*3600)
	return time.Date(date.Year(), date.Month(), date.Day(), to24(hour, m[5]), minute, second, 0, zone), nil
}

func parseDate(text string) (time.Time, error) {
	var err error
	for _, layout := range dateLayouts {
		var t time.Time
		if t, err = time.Parse(layout, text); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %v", ErrUnrecognized, err)
}

// to24 maps a 12-hour clock to 24 hours: 12 AM is 0, 12 PM is 12.
func to24(hour int, meridiem string) int {
	pm := strings.EqualFold(meridiem, "PM")
	switch {
	case hour == 12 && !pm:
		return 0
	case hour == 12 && pm:
		return 12
	case pm:
		return hour + 12
	}
	return hour
}

// Format renders t in the canonical layout.
func Format(t time.Time) string {
	return t.Format(Layout)
}

// Normalizer rewrites raw date lines into canonical form, passing
// unrecognized input through unchanged.
type Normalizer struct {
	logger *slog.Logger
}

func NewNormalizer(logger *slog.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize returns the canonical timestamp and true, or raw and false when
// raw cannot be parsed. The failure is logged, never returned.
func (n *Normalizer) Normalize(raw string) (string, bool) {
	t, err := Parse(raw)
	if err != nil {
		if n != nil && n.logger != nil {
			n.logger.Warn("timestamp left as is", "raw", raw, "err", err)
		}
		return raw, false
	}
	return Format(t), true
}
