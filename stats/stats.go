package stats

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Stage string

const (
	StageMbox    Stage = "mbox"
	StageExtract Stage = "extract"
	StageExport  Stage = "export"
)

type EventType string

const (
	EventTypeScanned           EventType = "scanned"
	EventTypeSkipped           EventType = "skipped"
	EventTypeExtracted         EventType = "extracted"
	EventTypeDroppedFragment   EventType = "dropped_fragment"
	EventTypeDroppedAttachment EventType = "dropped_attachment"
	EventTypeRawTimestamp      EventType = "raw_timestamp"
	EventTypeFiltered          EventType = "filtered"
	EventTypeWritten           EventType = "written"
	EventTypeAttachment        EventType = "attachment_written"
	EventTypeDuplicate         EventType = "attachment_duplicate"
	EventTypeError             EventType = "error"
)

// Event is emitted by pipeline stages. Count defaults to one when zero.
type Event struct {
	Stage  Stage
	Type   EventType
	Entry  int
	Count  int
	Err    error
	Detail string
}

type Summary struct {
	Entries            int
	SkippedEntries     int
	Messages           int
	DroppedFragments   int
	DroppedAttachments int
	RawTimestamps      int
	Filtered           int
	Written            int
	Attachments        int
	Duplicates         int
	Errors             int
	LastError          error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"entries", s.Entries,
		"skippedEntries", s.SkippedEntries,
		"messages", s.Messages,
		"droppedFragments", s.DroppedFragments,
		"droppedAttachments", s.DroppedAttachments,
		"rawTimestamps", s.RawTimestamps,
		"filtered", s.Filtered,
		"written", s.Written,
		"attachments", s.Attachments,
		"duplicates", s.Duplicates,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.Apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

func (c *Collector) Apply(evt Event) {
	n := evt.Count
	if n == 0 {
		n = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeScanned:
		c.summary.Entries += n
	case EventTypeSkipped:
		c.summary.SkippedEntries += n
	case EventTypeExtracted:
		c.summary.Messages += n
	case EventTypeDroppedFragment:
		c.summary.DroppedFragments += n
	case EventTypeDroppedAttachment:
		c.summary.DroppedAttachments += n
	case EventTypeRawTimestamp:
		c.summary.RawTimestamps += n
	case EventTypeFiltered:
		c.summary.Filtered += n
	case EventTypeWritten:
		c.summary.Written += n
	case EventTypeAttachment:
		c.summary.Attachments += n
	case EventTypeDuplicate:
		c.summary.Duplicates += n
	case EventTypeError:
		c.summary.Errors += n
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// Top returns the limit most frequent keys of m, highest count first and
// ties broken by key.
func Top(m map[string]int, limit int) []KeyCount {
	pairs := make([]KeyCount, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, KeyCount{Key: k, Count: v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Count != pairs[j].Count {
			return pairs[i].Count > pairs[j].Count
		}
		return pairs[i].Key < pairs[j].Key
	})

	if limit >= 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs
}

type KeyCount struct {
	Key   string
	Count int
}

// PrettyPrintTop prints the top N most frequent items in a map.
func PrettyPrintTop(w io.Writer, m map[string]int, limit int) {
	for i, p := range Top(m, limit) {
		fmt.Fprintf(w, "%d. %s (%d)\n", i+1, p.Key, p.Count)
	}
}
