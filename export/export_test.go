package export

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/chat-archive-extract/config"
	"github.com/dhcgn/chat-archive-extract/filter"
	"github.com/dhcgn/chat-archive-extract/model"
	"github.com/dhcgn/chat-archive-extract/runner"
	"github.com/dhcgn/chat-archive-extract/state"
	"github.com/dhcgn/chat-archive-extract/stats"
)

const pngHeader = "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00"

func TestCSVWriter(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewCSVWriter(&buf)
	require.NoError(t, err)

	require.NoError(t, w.Write(model.Message{ID: "m1", Sender: "Alice", Timestamp: "2024-01-05T09:15:00-08:00", Content: "Hello"}))
	require.NoError(t, w.Write(model.Message{ID: "m2", Sender: "Bob", Timestamp: "No timestamp", Content: "say \"hi\", then\nleave"}))
	require.NoError(t, w.Flush())

	want := "message_id,sender,timestamp,content\n" +
		"\"m1\",\"Alice\",\"2024-01-05T09:15:00-08:00\",\"Hello\"\n" +
		"\"m2\",\"Bob\",\"No timestamp\",\"say \"\"hi\"\", then\nleave\"\n"
	assert.Equal(t, want, buf.String())
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"report.pdf":          "report.pdf",
		"../../etc/passwd":    "passwd",
		`C:\Users\me\a.txt`:   "a.txt",
		"what?.png":           "what_.png",
		"tab\there.txt":       "tab_here.txt",
		"":                    fallbackName,
		"...":                 fallbackName,
		" spaced name.docx  ": "spaced name.docx",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeFilename(in), "input %q", in)
	}
}

func TestAttachmentWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), AttachmentsDir)
	w := NewAttachmentWriter(dir, state.NewMemoryLedger(), false, nil)

	first, err := w.Write(model.Attachment{ContentType: "text/plain", Filename: "notes.txt", Encoding: "base64", Content: "aGVsbG8gd29ybGQ="})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "notes.txt"), first.Path)
	assert.False(t, first.Duplicate)

	second, err := w.Write(model.Attachment{ContentType: "text/plain", Filename: "notes.txt", Content: "other"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "notes (1).txt"), second.Path)

	again, err := w.Write(model.Attachment{ContentType: "text/plain", Filename: "copy.txt", Content: "hello world"})
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Path, again.Path)

	data, err := os.ReadFile(first.Path)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	data, err = os.ReadFile(second.Path)
	require.NoError(t, err)
	assert.Equal(t, "other", string(data))

	_, err = os.Stat(filepath.Join(dir, "copy.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestAttachmentWriterAddsDetectedExtension(t *testing.T) {
	dir := t.TempDir()
	w := NewAttachmentWriter(dir, nil, false, nil)

	res, err := w.Write(model.Attachment{ContentType: "image/png", Filename: "image", Encoding: "binary", Content: pngHeader})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "image.png"), res.Path)
}

func TestAttachmentWriterSkipsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("from an earlier run"), 0o644))

	w := NewAttachmentWriter(dir, nil, false, nil)
	res, err := w.Write(model.Attachment{ContentType: "text/plain", Filename: "a.txt", Content: "new"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a (1).txt"), res.Path)
}

func TestAttachmentWriterKeepsUndecodablePayload(t *testing.T) {
	dir := t.TempDir()
	w := NewAttachmentWriter(dir, nil, false, nil)

	res, err := w.Write(model.Attachment{ContentType: "text/plain", Filename: "x.txt", Encoding: "base64", Content: "!!!"})
	require.NoError(t, err)
	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "!!!", string(data))
}

func TestAttachmentWriterDryRun(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	w := NewAttachmentWriter(dir, nil, true, nil)

	a, err := w.Write(model.Attachment{ContentType: "text/plain", Filename: "a.txt", Content: "1"})
	require.NoError(t, err)
	b, err := w.Write(model.Attachment{ContentType: "text/plain", Filename: "a.txt", Content: "2"})
	require.NoError(t, err)

	assert.NotEqual(t, a.Path, b.Path)
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func envelopes() []model.Envelope {
	return []model.Envelope{
		{Entry: model.Entry{
			Index: 0,
			Messages: []model.Message{
				{ID: "m1", Sender: "Alice", Timestamp: "2024-01-05T09:15:00-08:00", Content: "Hello"},
				{ID: "m2", Sender: "Bob", Timestamp: "No timestamp", Content: "spam"},
			},
			Attachments: []model.Attachment{
				{ContentType: "text/plain", Filename: "notes.txt", Encoding: "base64", Content: "aGVsbG8gd29ybGQ="},
			},
		}},
		{Entry: model.Entry{
			Index: 1,
			Messages: []model.Message{
				{ID: "m3", Sender: "Carol", Timestamp: "yesterday", Content: "Bye"},
			},
			Attachments: []model.Attachment{
				{ContentType: "text/plain", Filename: "notes.txt", Encoding: "base64", Content: "aGVsbG8gd29ybGQ="},
			},
		}},
	}
}

func runSink(t *testing.T, opts Options) stats.Summary {
	t.Helper()

	r := runner.NewWithLedger(config.Config{}, state.NewMemoryLedger(), nil)
	reporter := stats.NewReporter(r, nil)
	r.AddStage("feed", func(ctx context.Context) error {
		defer r.CloseResults()
		for _, env := range envelopes() {
			if err := r.Publish(ctx, env); err != nil {
				return err
			}
		}
		return nil
	})
	_, err := NewSink(opts, r, nil)
	require.NoError(t, err)
	require.NoError(t, r.Start())
	return reporter.Summary()
}

func TestSink(t *testing.T) {
	out := t.TempDir()
	f, err := filter.New(filter.Options{ExcludeSender: []string{"^Bob$"}})
	require.NoError(t, err)

	summary := runSink(t, Options{OutputDir: out, ExportAttachments: true, Filter: f})

	data, err := os.ReadFile(filepath.Join(out, MessagesFile))
	require.NoError(t, err)
	assert.Equal(t, "message_id,sender,timestamp,content\n"+
		"\"m1\",\"Alice\",\"2024-01-05T09:15:00-08:00\",\"Hello\"\n"+
		"\"m3\",\"Carol\",\"yesterday\",\"Bye\"\n", string(data))

	entries, err := os.ReadDir(filepath.Join(out, AttachmentsDir))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "notes.txt", entries[0].Name())

	assert.Equal(t, 2, summary.Written)
	assert.Equal(t, 1, summary.Filtered)
	assert.Equal(t, 1, summary.Attachments)
	assert.Equal(t, 1, summary.Duplicates)
	assert.Equal(t, 2, summary.Entries)
	assert.Equal(t, 3, summary.Messages)
}

func TestSinkDryRunWritesNothing(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")

	summary := runSink(t, Options{OutputDir: out, ExportAttachments: true, DryRun: true})

	_, err := os.Stat(out)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, 3, summary.Written)
	assert.Equal(t, 1, summary.Attachments)
	assert.Equal(t, 1, summary.Duplicates)
}

func TestNewSinkRequiresOutputDir(t *testing.T) {
	r := runner.NewWithLedger(config.Config{}, state.NewMemoryLedger(), nil)
	_, err := NewSink(Options{}, r, nil)
	assert.Error(t, err)
}
