package chat

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/dhcgn/chat-archive-extract/model"
	"github.com/dhcgn/chat-archive-extract/timestamp"
)

// NoTimestamp stands in for a message whose date line is empty or only a
// reply label.
const NoTimestamp = "No timestamp"

const (
	FieldID        = "message_id"
	FieldSender    = "sender"
	FieldTimestamp = "timestamp"
	FieldContent   = "content"
)

type fieldRule struct {
	name     string
	pattern  *regexp.Regexp
	required bool
}

// fields is evaluated in order against every fragment. A required rule that
// does not match drops the fragment.
var fields = []fieldRule{
	{name: FieldID, pattern: regexp.MustCompile(`<div data-id="([^"]+)"`), required: true},
	{name: FieldSender, pattern: regexp.MustCompile(`<span style="font-weight:700">(.*?)</span>`), required: true},
	{name: FieldTimestamp, pattern: regexp.MustCompile(`(?s)<div><span style="font-weight:700">.*?</span>(.*?)</div>`)},
	{name: FieldContent, pattern: regexp.MustCompile(`(?s)white-space:pre-wrap;width:100%">(.*?)</div>`), required: true},
}

// MissingFieldError reports the first required field a fragment lacks.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("fragment has no %s", e.Field)
}

// Extraction is the result of a successful fragment parse.
type Extraction struct {
	Message model.Message
	// RawTimestamp is set when a date line was present but could not be
	// normalized and is kept as is.
	RawTimestamp bool
}

// Extractor parses message fragments.
type Extractor struct {
	normalizer *timestamp.Normalizer
}

func NewExtractor(normalizer *timestamp.Normalizer) *Extractor {
	return &Extractor{normalizer: normalizer}
}

// Extract reads one fragment. It never panics on malformed input; a fragment
// missing a required field yields a *MissingFieldError and no message.
func (x *Extractor) Extract(fragment string) (Extraction, error) {
	values, err := capture(fragment)
	if err != nil {
		return Extraction{}, err
	}

	ts, normalized := NoTimestamp, true
	if raw := values[FieldTimestamp]; raw != "" && !IsReplyLabel(raw) {
		ts, normalized = x.normalizer.Normalize(raw)
	}

	return Extraction{
		Message: model.Message{
			ID:        values[FieldID],
			Sender:    html.UnescapeString(values[FieldSender]),
			Timestamp: ts,
			Content:   Sanitize(values[FieldContent]),
		},
		RawTimestamp: !normalized,
	}, nil
}

func capture(fragment string) (map[string]string, error) {
	values := make(map[string]string, len(fields))
	for _, rule := range fields {
		m := rule.pattern.FindStringSubmatch(fragment)
		if m == nil {
			if rule.required {
				return nil, &MissingFieldError{Field: rule.name}
			}
			continue
		}
		values[rule.name] = strings.TrimSpace(m[1])
	}
	return values, nil
}
