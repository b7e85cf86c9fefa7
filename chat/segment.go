// Package chat turns the decoded HTML of an archive entry into messages.
//
// Every message in the export opens with a div carrying a data-id attribute.
// Segment cuts the HTML at that marker, and Extractor reads the fields of one
// fragment through a fixed table of patterns.
package chat

import (
	"strings"

	"github.com/dhcgn/chat-archive-extract/model"
)

// Marker opens every message block.
const Marker = `<div data-id="`

// Segment splits html into message fragments. Each fragment starts with
// Marker; text before the first marker is dropped.
func Segment(html string) []model.RawMessage {
	parts := strings.Split(html, Marker)
	fragments := make([]model.RawMessage, 0, len(parts)-1)
	for i, part := range parts[1:] {
		fragments = append(fragments, model.RawMessage{
			Index:    i,
			Fragment: Marker + part,
		})
	}
	return fragments
}
