// Package transfer decodes quoted-printable text parts.
//
// The decoder is lenient: escapes that are not valid hex pairs are kept as
// literal text, soft line breaks may carry trailing whitespace, and the
// decoded bytes are converted to UTF-8 with invalid sequences replaced.
package transfer

import (
	"errors"
	"strings"
)

// ErrBinaryContent reports a part that carries raw NUL bytes. Such a part is
// not text and cannot be decoded as quoted-printable.
var ErrBinaryContent = errors.New("transfer: part contains raw NUL bytes")

// Decode turns a quoted-printable string into UTF-8 text.
func Decode(encoded string) (string, error) {
	if strings.IndexByte(encoded, 0) >= 0 {
		return "", ErrBinaryContent
	}
	return strings.ToValidUTF8(string(DecodeBytes([]byte(encoded))), "\uFFFD"), nil
}

// DecodeBytes decodes quoted-printable data without ever failing.
func DecodeBytes(data []byte) []byte {
	out := make([]byte, 0, len(data))

	for i := 0; i < len(data); i++ {
		c := data[i]
		if c != '=' {
			out = append(out, c)
			continue
		}

		if next, ok := softBreak(data, i+1); ok {
			i = next - 1
			continue
		}

		if i+2 < len(data) {
			if hi, ok := unhex(data[i+1]); ok {
				if lo, ok := unhex(data[i+2]); ok {
					out = append(out, hi<<4|lo)
					i += 2
					continue
				}
			}
		}

		out = append(out, c)
	}

	return out
}

// softBreak reports whether the bytes from start form the rest of a soft line
// break: optional spaces or tabs, then a line ending or the end of input. It
// returns the index just past the break.
func softBreak(data []byte, start int) (int, bool) {
	j := start
	for j < len(data) && (data[j] == ' ' || data[j] == '\t') {
		j++
	}
	switch {
	case j == len(data):
		return j, true
	case data[j] == '\n':
		return j + 1, true
	case data[j] == '\r' && j+1 < len(data) && data[j+1] == '\n':
		return j + 2, true
	}
	return 0, false
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}
