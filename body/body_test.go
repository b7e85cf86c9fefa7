package body

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/chat-archive-extract/model"
)

const twoHTMLParts = `--b
Content-Type: text/html; charset="UTF-8"

<p>first</p>
--b
Content-Type: TEXT/HTML; charset="UTF-8"

<p>second</p>
--b--
`

func TestExtractLastHTMLPartWins(t *testing.T) {
	parts := Extract(twoHTMLParts, "b")
	assert.Contains(t, parts.HTML, "<p>second</p>")
	assert.NotContains(t, parts.HTML, "<p>first</p>")
	assert.Empty(t, parts.Attachments)
}

func TestExtractNoHTML(t *testing.T) {
	parts := Extract("plain text only\n", "")
	assert.Empty(t, parts.HTML)
	assert.Empty(t, parts.Attachments)
	assert.Zero(t, parts.Dropped)
}

func TestExtractDashesInsideHTMLDoNotSplit(t *testing.T) {
	body := "--b\nContent-Type: text/html\n\n<p>a -- b</p>\n--b--\n"
	parts := Extract(body, "")
	assert.Contains(t, parts.HTML, "<p>a -- b</p>")
}

func TestExtractSplitsOnDeclaredBoundaryOnly(t *testing.T) {
	body := "--b1\n" +
		"Content-Type: text/html\n" +
		"Content-Transfer-Encoding: quoted-printable\n\n" +
		"<div>well =\n" +
		"-- signed</div>\n" +
		"--\n" +
		"--b1x\n" +
		"<div>after</div>\n" +
		"--b1--\n"

	for _, boundary := range []string{"b1", ""} {
		parts := Extract(body, boundary)
		assert.Contains(t, parts.HTML, "-- signed</div>", "boundary %q", boundary)
		assert.Contains(t, parts.HTML, "<div>after</div>", "boundary %q", boundary)
	}
}

func TestExtractFallsBackToBodyBoundary(t *testing.T) {
	body := "--real\nContent-Type: text/html\n\n<p>x</p>\n--real--\n"
	parts := Extract(body, "declared-but-unused")
	assert.Equal(t, "Content-Type: text/html\n\n<p>x</p>\n", parts.HTML)
}

func TestBoundary(t *testing.T) {
	tests := map[string]string{
		`multipart/mixed; boundary="b1"`:      "b1",
		`Multipart/Alternative; boundary=abc`: "abc",
		`text/html; charset="UTF-8"`:          "",
		`multipart/mixed`:                     "",
		``:                                    "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Boundary(in), "input %q", in)
	}
}

func TestExtractAttachments(t *testing.T) {
	body := `--b
Content-Type: text/html

<div></div>
--b
Content-Type: image/png; name="dot.png"
Content-Disposition: attachment;
	filename="dot.png"
Content-Transfer-Encoding: base64

iVBORw0K
GgoAAAAN
--b
Content-Type: text/plain
Content-Disposition: attachment; filename=empty.txt
Content-Transfer-Encoding: base64

--b
Content-Disposition: attachment; filename="untyped.bin"
Content-Transfer-Encoding: base64

AAAA
--b
Content-Type: text/plain
Content-Disposition: attachment; filename=notes.txt
Content-Transfer-Encoding: 7bit

hello
--b--
`
	parts := Extract(body, "b")

	require.Len(t, parts.Attachments, 2)
	assert.Equal(t, model.Attachment{
		ContentType: "image/png",
		Filename:    "dot.png",
		Encoding:    "base64",
		Content:     "iVBORw0KGgoAAAAN",
	}, parts.Attachments[0])
	assert.Equal(t, "notes.txt", parts.Attachments[1].Filename)
	assert.Equal(t, "hello", parts.Attachments[1].Content)
	assert.Equal(t, 2, parts.Dropped)
}

func TestPayload(t *testing.T) {
	tests := []struct {
		name string
		att  model.Attachment
		want string
	}{
		{name: "base64", att: model.Attachment{Encoding: "base64", Content: "aGVsbG8gd29ybGQ="}, want: "hello world"},
		{name: "base64 unpadded", att: model.Attachment{Encoding: "base64", Content: "aGVsbG8gd29ybGQ"}, want: "hello world"},
		{name: "quoted-printable", att: model.Attachment{Encoding: "quoted-printable", Content: "caf=C3=A9"}, want: "café"},
		{name: "7bit", att: model.Attachment{Encoding: "7bit", Content: "as is"}, want: "as is"},
		{name: "no encoding", att: model.Attachment{Content: "as is"}, want: "as is"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Payload(tt.att)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestPayloadErrors(t *testing.T) {
	_, err := Payload(model.Attachment{Encoding: "uuencode", Content: "x"})
	assert.ErrorIs(t, err, ErrUnsupportedEncoding)

	_, err = Payload(model.Attachment{Encoding: "base64", Content: "!!not base64!!"})
	assert.Error(t, err)
}
