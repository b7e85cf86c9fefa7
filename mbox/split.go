package mbox

import (
	"strings"
	"unicode"

	"github.com/dhcgn/chat-archive-extract/model"
)

// delimiter opens every record. Split prepends a newline to the archive so a
// record starting at the very first byte is recognized too.
const delimiter = "\nFrom "

type scanState int

const (
	inHeaders scanState = iota
	inBody
)

// Split divides archive text into raw entries. Text before the first
// delimiter is a preamble and never yields an entry.
func Split(text string) []model.RawEntry {
	parts := strings.Split("\n"+text, delimiter)
	entries := make([]model.RawEntry, 0, len(parts)-1)
	for i, part := range parts[1:] {
		headers, body := splitEntry(part)
		entries = append(entries, model.RawEntry{
			Index:   i,
			Headers: headers,
			Body:    body,
		})
	}
	return entries
}

// splitEntry runs the header/body scan over one record. The first empty line
// moves the scan into the body; a record without one is all headers.
func splitEntry(segment string) (headers, body string) {
	var head, rest strings.Builder
	state := inHeaders

	for line := range strings.Lines(segment) {
		line = trimEOL(line)
		switch state {
		case inHeaders:
			if line == "" {
				state = inBody
				continue
			}
			head.WriteString(line)
			head.WriteByte('\n')
		case inBody:
			rest.WriteString(line)
			rest.WriteByte('\n')
		}
	}

	return strings.TrimRightFunc(head.String(), unicode.IsSpace), rest.String()
}

func trimEOL(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}
