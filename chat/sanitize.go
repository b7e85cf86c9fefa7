package chat

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	stripTags = bluemonday.StrictPolicy()

	leadingReply  = regexp.MustCompile(`^\s*\d+\s+Repl(?:y|ies)\b`)
	trailingReply = regexp.MustCompile(`\s*\b\d+\s+Repl(?:y|ies)\s*$`)

	// taggedReply is a thread label that follows markup, e.g. "</b> 3 Reply".
	taggedReply = regexp.MustCompile(`>\s*\d+\s+Repl(?:y|ies)\s*$`)
	replyLabel  = regexp.MustCompile(`^(?:\d+\s+)?Repl(?:y|ies)$`)
)

// Sanitize reduces message markup to plain text: tags are removed, entities
// decoded, and the "<n> Reply" thread label is cut. A trailing label is only
// cut when it follows a tag; in plain text it is part of the message.
func Sanitize(content string) string {
	text := html.UnescapeString(stripTags.Sanitize(content))
	text = leadingReply.ReplaceAllString(text, "")
	if taggedReply.MatchString(content) {
		text = trailingReply.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

// IsReplyLabel reports whether s is only a thread reply label.
func IsReplyLabel(s string) bool {
	return replyLabel.MatchString(strings.TrimSpace(s))
}
