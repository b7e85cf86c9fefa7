package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dhcgn/chat-archive-extract/filter"
	"github.com/dhcgn/chat-archive-extract/model"
	"github.com/dhcgn/chat-archive-extract/runner"
	"github.com/dhcgn/chat-archive-extract/stats"
)

type Options struct {
	OutputDir         string
	ExportAttachments bool
	DryRun            bool
	Filter            *filter.Filter
}

// Sink is the last stage of a run. It writes the messages of every
// extracted entry to messages.csv and, when enabled, their attachments to
// the attachments directory.
type Sink struct {
	opts    Options
	runner  *runner.Runner
	results <-chan model.Envelope
	logger  *slog.Logger
}

func NewSink(opts Options, r *runner.Runner, logger *slog.Logger) (*Sink, error) {
	if opts.OutputDir == "" {
		return nil, fmt.Errorf("output directory is empty")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	sink := &Sink{
		opts:    opts,
		runner:  r,
		results: r.Results(),
		logger:  logger,
	}
	r.AddStage("export", sink.run)
	return sink, nil
}

func (s *Sink) run(ctx context.Context) error {
	var messages *CSVWriter
	if !s.opts.DryRun {
		if err := os.MkdirAll(s.opts.OutputDir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
		file, err := os.Create(filepath.Join(s.opts.OutputDir, MessagesFile))
		if err != nil {
			return fmt.Errorf("create %s: %w", MessagesFile, err)
		}
		defer file.Close()

		messages, err = NewCSVWriter(file)
		if err != nil {
			return err
		}
	}

	var attachments *AttachmentWriter
	if s.opts.ExportAttachments {
		dir := filepath.Join(s.opts.OutputDir, AttachmentsDir)
		attachments = NewAttachmentWriter(dir, s.runner.Ledger(), s.opts.DryRun, s.logger)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-s.results:
			if !ok {
				return s.finish(messages)
			}
			if err := s.writeMessages(messages, env.Entry); err != nil {
				s.runner.EmitEvent(stats.Event{Stage: stats.StageExport, Type: stats.EventTypeError, Entry: env.Entry.Index, Err: err})
				return err
			}
			if attachments == nil {
				continue
			}
			if err := s.writeAttachments(attachments, env.Entry); err != nil {
				s.runner.EmitEvent(stats.Event{Stage: stats.StageExport, Type: stats.EventTypeError, Entry: env.Entry.Index, Err: err})
				return err
			}
		}
	}
}

func (s *Sink) writeMessages(w *CSVWriter, entry model.Entry) error {
	written, filtered := 0, 0
	for _, msg := range entry.Messages {
		if !s.opts.Filter.Allows(msg) {
			filtered++
			continue
		}
		if w != nil {
			if err := w.Write(msg); err != nil {
				return fmt.Errorf("write message %s: %w", msg.ID, err)
			}
		}
		written++
	}

	if filtered > 0 {
		s.runner.EmitEvent(stats.Event{Stage: stats.StageExport, Type: stats.EventTypeFiltered, Entry: entry.Index, Count: filtered})
	}
	if written > 0 {
		s.runner.EmitEvent(stats.Event{Stage: stats.StageExport, Type: stats.EventTypeWritten, Entry: entry.Index, Count: written})
	}
	return nil
}

func (s *Sink) writeAttachments(w *AttachmentWriter, entry model.Entry) error {
	for _, att := range entry.Attachments {
		res, err := w.Write(att)
		if err != nil {
			return err
		}

		typ := stats.EventTypeAttachment
		if res.Duplicate {
			typ = stats.EventTypeDuplicate
		}
		s.runner.EmitEvent(stats.Event{Stage: stats.StageExport, Type: typ, Entry: entry.Index, Detail: res.Path})
		s.logger.Debug("attachment exported", "entry", entry.Index, "filename", att.Filename, "path", res.Path, "duplicate", res.Duplicate, "dryRun", s.opts.DryRun)
	}
	return nil
}

func (s *Sink) finish(messages *CSVWriter) error {
	if s.opts.Filter.Active() {
		for pattern, hits := range s.opts.Filter.Hits() {
			s.logger.Info("filter pattern hits", "pattern", pattern, "hits", hits)
		}
	}
	if messages == nil {
		return nil
	}
	if err := messages.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", MessagesFile, err)
	}
	return nil
}
