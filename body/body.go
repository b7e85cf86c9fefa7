package body

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"regexp"
	"strings"

	"github.com/dhcgn/chat-archive-extract/model"
	"github.com/dhcgn/chat-archive-extract/transfer"
)

const (
	boundaryPrefix   = "--"
	htmlMarker       = "content-type: text/html"
	attachmentMarker = "content-disposition: attachment"

	headerContentType = "Content-Type:"
	headerDisposition = "Content-Disposition:"
	headerEncoding    = "Content-Transfer-Encoding:"
)

var (
	ErrUnsupportedEncoding = errors.New("unsupported attachment encoding")

	filenamePattern = regexp.MustCompile(`(?i)filename\*?=(?:"([^"]*)"|([^;\s]+))`)
)

// Parts is what Extract found in one entry body.
type Parts struct {
	HTML        string
	Attachments []model.Attachment
	Dropped     int
}

// Boundary returns the multipart boundary declared by a Content-Type header
// value, or "" when there is none.
func Boundary(contentType string) string {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return ""
	}
	return params["boundary"]
}

// Extract splits a raw body into its parts. Only lines equal to "--boundary"
// or "--boundary--" separate parts; when boundary is empty or never used, the
// first line starting with "--" declares it. The last HTML part in document
// order becomes Parts.HTML; every attachment part that declares a type, a
// filename and a non-empty payload is kept in order.
func Extract(body, boundary string) Parts {
	if boundary == "" || !usesBoundary(body, boundary) {
		boundary = firstBoundary(body)
	}

	var parts Parts
	for _, segment := range segments(body, boundary) {
		lower := strings.ToLower(segment)
		switch {
		case strings.Contains(lower, htmlMarker):
			parts.HTML = segment
		case strings.Contains(lower, attachmentMarker):
			att, ok := extractAttachment(segment)
			if !ok {
				parts.Dropped++
				continue
			}
			parts.Attachments = append(parts.Attachments, att)
		}
	}
	return parts
}

// segments cuts the body at its boundary lines, which belong to no segment.
// Without a boundary the whole body is one segment.
func segments(body, boundary string) []string {
	if boundary == "" {
		return []string{body}
	}

	var (
		out []string
		cur strings.Builder
	)
	for line := range strings.Lines(body) {
		if isBoundary(line, boundary) {
			out = append(out, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteString(line)
	}
	return append(out, cur.String())
}

func isBoundary(line, boundary string) bool {
	line = strings.TrimRight(line, " \t\r\n")
	rest, ok := strings.CutPrefix(line, boundaryPrefix+boundary)
	return ok && (rest == "" || rest == boundaryPrefix)
}

func usesBoundary(body, boundary string) bool {
	for line := range strings.Lines(body) {
		if isBoundary(line, boundary) {
			return true
		}
	}
	return false
}

func firstBoundary(body string) string {
	for line := range strings.Lines(body) {
		line = strings.TrimRight(line, " \t\r\n")
		if b, ok := strings.CutPrefix(line, boundaryPrefix); ok && b != "" {
			return strings.TrimSuffix(b, boundaryPrefix)
		}
	}
	return ""
}

// extractAttachment scans one attachment part. Once the transfer encoding is
// declared, every following line without a colon is payload.
func extractAttachment(segment string) (model.Attachment, bool) {
	var (
		att        model.Attachment
		payload    strings.Builder
		inPayload  bool
		disposited bool
	)

	for line := range strings.Lines(segment) {
		line = strings.TrimRight(line, "\r\n")
		switch {
		case hasHeader(line, headerContentType):
			value := headerValue(line, headerContentType)
			if mediaType, _, _ := strings.Cut(value, ";"); mediaType != "" {
				att.ContentType = strings.TrimSpace(mediaType)
			}
		case hasHeader(line, headerDisposition):
			disposited = true
			att.Filename = filename(line, att.Filename)
		case hasHeader(line, headerEncoding):
			att.Encoding = strings.ToLower(headerValue(line, headerEncoding))
			inPayload = true
		case inPayload && !strings.Contains(line, ":"):
			payload.WriteString(strings.TrimSpace(line))
		case !inPayload && disposited && isContinuation(line):
			att.Filename = filename(line, att.Filename)
		}
	}

	att.Content = payload.String()
	if att.ContentType == "" || att.Filename == "" || att.Content == "" {
		return model.Attachment{}, false
	}
	return att, true
}

// Payload returns the decoded bytes of an attachment.
func Payload(att model.Attachment) ([]byte, error) {
	switch att.Encoding {
	case "base64":
		data, err := base64.StdEncoding.DecodeString(att.Content)
		if err != nil {
			data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(att.Content, "="))
		}
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", att.Filename, err)
		}
		return data, nil
	case "quoted-printable":
		return transfer.DecodeBytes([]byte(att.Content)), nil
	case "7bit", "8bit", "binary", "":
		return []byte(att.Content), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, att.Encoding)
}

func hasHeader(line, name string) bool {
	return len(line) >= len(name) && strings.EqualFold(line[:len(name)], name)
}

func headerValue(line, name string) string {
	return strings.TrimSpace(line[len(name):])
}

func isContinuation(line string) bool {
	return line != "" && (line[0] == ' ' || line[0] == '\t')
}

func filename(line, current string) string {
	m := filenamePattern.FindStringSubmatch(line)
	if m == nil {
		return current
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}
