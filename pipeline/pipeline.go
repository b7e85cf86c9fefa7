// Package pipeline composes the extraction steps for whole archives and
// single entries.
//
//	archive text -> entries -> (html, attachments) -> decoded html
//	             -> fragments -> messages
//
// Entries are independent of each other and so are the fragments of one
// entry; both are extracted in parallel and reassembled in document order.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/dhcgn/chat-archive-extract/body"
	"github.com/dhcgn/chat-archive-extract/chat"
	"github.com/dhcgn/chat-archive-extract/mbox"
	"github.com/dhcgn/chat-archive-extract/model"
	"github.com/dhcgn/chat-archive-extract/runner"
	"github.com/dhcgn/chat-archive-extract/timestamp"
	"github.com/dhcgn/chat-archive-extract/transfer"
	"github.com/dhcgn/chat-archive-extract/workpool"
)

// DecodeFunc turns the raw HTML part of an entry into text.
type DecodeFunc func(string) (string, error)

type Options struct {
	// Workers bounds parallelism at both the entry and the fragment level.
	// Zero means runtime.NumCPU().
	Workers int
	Logger  *slog.Logger
	// Decode defaults to transfer.Decode.
	Decode DecodeFunc
}

// EntryError is the reason an entry was skipped.
type EntryError struct {
	Index int
	Stage string
	Err   error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("entry %d %s: %v", e.Index, e.Stage, e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

type Pipeline struct {
	workers   int
	logger    *slog.Logger
	decode    DecodeFunc
	extractor *chat.Extractor
}

func New(opts Options) *Pipeline {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	decode := opts.Decode
	if decode == nil {
		decode = transfer.Decode
	}
	return &Pipeline{
		workers:   workers,
		logger:    logger,
		decode:    decode,
		extractor: chat.NewExtractor(timestamp.NewNormalizer(logger)),
	}
}

// Parse extracts every entry of an archive. A failing entry is returned with
// its Err set and does not affect its siblings; the error result is only
// non-nil when ctx ends the run early.
func (p *Pipeline) Parse(ctx context.Context, archive string) ([]model.Envelope, error) {
	raws := mbox.Split(archive)
	return workpool.Map(ctx, p.workers, raws, func(ctx context.Context, _ int, raw model.RawEntry) (model.Envelope, error) {
		return p.ParseEntry(ctx, raw), nil
	})
}

type fragmentResult struct {
	extraction chat.Extraction
	err        error
}

// ParseEntry extracts one raw entry.
func (p *Pipeline) ParseEntry(ctx context.Context, raw model.RawEntry) model.Envelope {
	parts := body.Extract(raw.Body, p.boundary(raw))
	entry := model.Entry{
		Index:       raw.Index,
		Source:      raw.Source,
		Headers:     raw.Headers,
		Attachments: parts.Attachments,
	}
	report := model.Report{DroppedAttachments: parts.Dropped}
	if parts.Dropped > 0 {
		p.logger.Debug("attachment parts dropped", "entry", raw.Index, "count", parts.Dropped)
	}

	decoded, err := p.decode(parts.HTML)
	if err != nil {
		return model.Envelope{Entry: entry, Report: report, Err: &EntryError{Index: raw.Index, Stage: "decode", Err: err}}
	}
	entry.HTMLBody = decoded

	fragments := chat.Segment(decoded)
	report.Fragments = len(fragments)

	results, err := workpool.Map(ctx, p.workers, fragments, func(_ context.Context, _ int, rm model.RawMessage) (fragmentResult, error) {
		ext, err := p.extractor.Extract(rm.Fragment)
		return fragmentResult{extraction: ext, err: err}, nil
	})
	if err != nil {
		return model.Envelope{Entry: entry, Report: report, Err: &EntryError{Index: raw.Index, Stage: "extract", Err: err}}
	}

	entry.Messages = make([]model.Message, 0, len(results))
	for i, res := range results {
		if res.err != nil {
			report.DroppedFragments++
			p.logger.Debug("fragment dropped", "entry", raw.Index, "fragment", i, "err", res.err)
			continue
		}
		if res.extraction.RawTimestamp {
			report.RawTimestamps++
		}
		entry.Messages = append(entry.Messages, res.extraction.Message)
	}

	return model.Envelope{Entry: entry, Report: report}
}

// boundary reads the multipart boundary an entry declares in its headers.
func (p *Pipeline) boundary(raw model.RawEntry) string {
	h, err := mbox.ParseHeaders(raw.Headers)
	if err != nil {
		p.logger.Debug("entry headers unreadable", "entry", raw.Index, "err", err)
		return ""
	}
	return body.Boundary(h.Get("Content-Type"))
}

// Stage runs a pipeline as the extract stage of a runner: raw entries from
// the reader are extracted in parallel and published in archive order.
type Stage struct {
	pipeline *Pipeline
	runner   *runner.Runner
}

func NewStage(p *Pipeline, r *runner.Runner) *Stage {
	s := &Stage{pipeline: p, runner: r}
	r.AddStage("extract", s.run)
	return s
}

func (s *Stage) run(ctx context.Context) error {
	defer s.runner.CloseResults()
	return workpool.Ordered(ctx, s.pipeline.workers, s.runner.Entries(),
		func(raw model.RawEntry) model.Envelope {
			return s.pipeline.ParseEntry(ctx, raw)
		},
		func(item workpool.Item[model.Envelope]) error {
			return s.runner.Publish(ctx, item.Value)
		},
	)
}
