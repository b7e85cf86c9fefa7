package export

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/gabriel-vasile/mimetype"

	"github.com/dhcgn/chat-archive-extract/body"
	"github.com/dhcgn/chat-archive-extract/model"
	"github.com/dhcgn/chat-archive-extract/state"
)

// AttachmentsDir is the name of the attachment folder inside the output directory.
const AttachmentsDir = "attachments"

const fallbackName = "attachment"

// Written describes where an attachment payload ended up.
type Written struct {
	Path      string
	Duplicate bool
}

// AttachmentWriter stores attachment payloads in one directory. Identical
// payloads are stored once; distinct payloads sharing a filename get a
// " (n)" suffix before the extension.
type AttachmentWriter struct {
	dir      string
	ledger   state.Ledger
	dryRun   bool
	logger   *slog.Logger
	reserved map[string]struct{}
	created  bool
}

func NewAttachmentWriter(dir string, ledger state.Ledger, dryRun bool, logger *slog.Logger) *AttachmentWriter {
	if ledger == nil {
		ledger = state.NewMemoryLedger()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &AttachmentWriter{
		dir:      dir,
		ledger:   ledger,
		dryRun:   dryRun,
		logger:   logger,
		reserved: make(map[string]struct{}),
	}
}

func (w *AttachmentWriter) Write(att model.Attachment) (Written, error) {
	data, err := body.Payload(att)
	if err != nil {
		w.logger.Warn("attachment payload kept encoded", "filename", att.Filename, "encoding", att.Encoding, "err", err)
		data = []byte(att.Content)
	}

	hash := state.Hash(data)
	if path, ok := w.ledger.Lookup(hash); ok {
		return Written{Path: path, Duplicate: true}, nil
	}

	name := sanitizeFilename(att.Filename)
	if filepath.Ext(name) == "" {
		name += mimetype.Detect(data).Extension()
	}

	path, err := w.uniquePath(name)
	if err != nil {
		return Written{}, err
	}

	if !w.dryRun {
		if !w.created {
			if err := os.MkdirAll(w.dir, 0o755); err != nil {
				return Written{}, fmt.Errorf("create attachment directory: %w", err)
			}
			w.created = true
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return Written{}, fmt.Errorf("write attachment %s: %w", path, err)
		}
	}

	if err := w.ledger.Record(hash, path); err != nil {
		return Written{}, fmt.Errorf("record attachment %s: %w", path, err)
	}
	return Written{Path: path}, nil
}

func (w *AttachmentWriter) uniquePath(name string) (string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	for n := 0; ; n++ {
		candidate := name
		if n > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", base, n, ext)
		}
		path := filepath.Join(w.dir, candidate)
		if _, taken := w.reserved[path]; taken {
			continue
		}
		if !w.dryRun {
			_, err := os.Stat(path)
			if err == nil {
				continue
			}
			if !errors.Is(err, os.ErrNotExist) {
				return "", fmt.Errorf("stat %s: %w", path, err)
			}
		}
		w.reserved[path] = struct{}{}
		return path, nil
	}
}

// sanitizeFilename reduces a declared filename to a safe base name.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || strings.ContainsRune(`<>:"/\|?*`, r) {
			return '_'
		}
		return r
	}, name)
	name = strings.Trim(name, " .")
	if name == "" {
		return fallbackName
	}
	return name
}
