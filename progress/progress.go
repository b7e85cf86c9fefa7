package progress

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/chat-archive-extract/stats"
)

// Bar tracks scanned archive entries on a terminal progress bar.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	current int
	mu      sync.Mutex
	enabled bool
}

// New creates a progress bar. It is only drawn at the info log level so it
// does not interleave with debug output.
func New(total int, logLevel string) *Bar {
	bar := &Bar{
		total:   total,
		enabled: logLevel == "info" && total > 0,
	}

	if bar.enabled {
		pterm.Info.Printf("Entries in archive(s): %d\n", total)
		pterm.Println()

		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Extracting entries").
			Start()
		bar.pb = pb
	}

	return bar
}

func (b *Bar) Update(evt stats.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if evt.Type == stats.EventTypeScanned {
		b.current++
	}
	if !b.enabled || b.pb == nil {
		return
	}

	switch evt.Type {
	case stats.EventTypeScanned:
		if b.pb.Current < b.total {
			b.pb.Increment()
		}
	case stats.EventTypeError:
		if evt.Err != nil {
			pterm.Error.Printf("Entry %d: %v\n", evt.Entry, evt.Err)
		}
	}
}

// Current returns the number of entries scanned so far.
func (b *Bar) Current() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *Bar) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.enabled || b.pb == nil {
		return
	}
	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}
	_, _ = b.pb.Stop()
	b.pb = nil
	pterm.Success.Println("Extraction complete!")
}

func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				b.Stop()
				return nil
			}
			b.Update(evt)
		}
	}
}

// Reporter draws the bar and prints a summary table once the run ends.
type Reporter struct {
	bar       *Bar
	collector *stats.Collector
	started   time.Time
}

func NewReporter(stream stats.EventStream, bar *Bar) *Reporter {
	reporter := &Reporter{
		bar:       bar,
		collector: stats.NewCollector(),
		started:   time.Now(),
	}

	if bar != nil && bar.enabled {
		stream.SubscribeStats("progress-bar", bar.Subscriber)
		stream.SubscribeStats("progress-summary", reporter.collect)
	}

	return reporter
}

func (r *Reporter) collect(ctx context.Context, events <-chan stats.Event) error {
	r.collector.Run(ctx, events)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	r.bar.Stop()
	PrintSummary(r.collector.Snapshot(), time.Since(r.started))
	return nil
}

// PrintSummary renders the totals of a run.
func PrintSummary(s stats.Summary, duration time.Duration) {
	pterm.Println()
	pterm.DefaultSection.Println("Summary")
	_ = pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
		{"", "Count"},
		{"Entries", strconv.Itoa(s.Entries)},
		{"Skipped entries", strconv.Itoa(s.SkippedEntries)},
		{"Messages", strconv.Itoa(s.Messages)},
		{"Dropped fragments", strconv.Itoa(s.DroppedFragments)},
		{"Dropped attachments", strconv.Itoa(s.DroppedAttachments)},
		{"Raw timestamps", strconv.Itoa(s.RawTimestamps)},
		{"Filtered", strconv.Itoa(s.Filtered)},
		{"Written", strconv.Itoa(s.Written)},
		{"Attachments", strconv.Itoa(s.Attachments)},
		{"Duplicate attachments", strconv.Itoa(s.Duplicates)},
	}).Render()
	pterm.Info.Printf("Duration: %v\n", duration.Round(time.Millisecond))
	if s.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", s.LastError)
	}
}
