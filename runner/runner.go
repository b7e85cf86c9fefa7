package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dhcgn/chat-archive-extract/config"
	"github.com/dhcgn/chat-archive-extract/model"
	"github.com/dhcgn/chat-archive-extract/state"
	"github.com/dhcgn/chat-archive-extract/stats"
	"github.com/dhcgn/chat-archive-extract/workpool"
)

type StageFunc func(context.Context) error

type stage struct {
	name string
	fn   StageFunc
}

type subscriber struct {
	name   string
	events chan stats.Event
	fn     func(context.Context, <-chan stats.Event) error
}

// Runner wires the stages of one extraction run: archive entries flow from
// the reader through extraction to the export, and every stage reports on a
// shared event stream. Entry failures are counted, not fatal; the first
// stage error cancels the run.
type Runner struct {
	cfg    config.Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	entries chan workpool.Item[model.RawEntry]
	results chan model.Envelope

	stages      []stage
	subscribers []subscriber

	ledger state.Ledger

	workWG  sync.WaitGroup
	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeEntriesOnce sync.Once
	closeResultsOnce sync.Once
	closeEventsOnce  sync.Once
	since            time.Time
}

func New(cfg config.Config, logger *slog.Logger) (*Runner, error) {
	ledger, err := state.NewFileLedger(cfg.StateDir, !cfg.DryRun)
	if err != nil {
		return nil, fmt.Errorf("state ledger: %w", err)
	}
	return NewWithLedger(cfg, ledger, logger), nil
}

// NewWithLedger builds a runner around an existing ledger.
func NewWithLedger(cfg config.Config, ledger state.Ledger, logger *slog.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{
		cfg:     cfg,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(chan workpool.Item[model.RawEntry], 32),
		results: make(chan model.Envelope, 32),
		ledger:  ledger,
	}
}

func (r *Runner) Config() config.Config {
	return r.cfg
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

func (r *Runner) Ledger() state.Ledger {
	return r.ledger
}

func (r *Runner) EntryWriter() chan<- workpool.Item[model.RawEntry] {
	return r.entries
}

func (r *Runner) Entries() <-chan workpool.Item[model.RawEntry] {
	return r.entries
}

func (r *Runner) CloseEntries() {
	r.closeEntriesOnce.Do(func() {
		close(r.entries)
	})
}

func (r *Runner) Results() <-chan model.Envelope {
	return r.results
}

func (r *Runner) CloseResults() {
	r.closeResultsOnce.Do(func() {
		close(r.results)
	})
}

// EmitEvent delivers evt to every subscriber.
func (r *Runner) EmitEvent(evt stats.Event) {
	for _, sub := range r.subscribers {
		select {
		case <-r.ctx.Done():
			return
		case sub.events <- evt:
		}
	}
}

// SubscribeStats registers fn to receive every event of the run. It must be
// called before Start.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	r.subscribers = append(r.subscribers, subscriber{
		name:   name,
		events: make(chan stats.Event, 128),
		fn:     fn,
	})
}

// AddStage registers a stage. Stages run concurrently once Start is called.
func (r *Runner) AddStage(name string, fn StageFunc) {
	r.stages = append(r.stages, stage{name: name, fn: fn})
}

// Publish reports an extracted entry on the event stream and hands it to the
// export. An entry that failed extraction is logged and skipped.
func (r *Runner) Publish(ctx context.Context, env model.Envelope) error {
	idx := env.Entry.Index
	r.EmitEvent(stats.Event{Stage: stats.StageExtract, Type: stats.EventTypeScanned, Entry: idx})

	if env.Err != nil {
		r.logger.Error("skipping entry", "entry", idx, "source", env.Entry.Source, "err", env.Err)
		r.EmitEvent(stats.Event{Stage: stats.StageExtract, Type: stats.EventTypeSkipped, Entry: idx, Err: env.Err})
		r.EmitEvent(stats.Event{Stage: stats.StageExtract, Type: stats.EventTypeError, Entry: idx, Err: env.Err})
		return nil
	}

	counts := []struct {
		typ stats.EventType
		n   int
	}{
		{stats.EventTypeExtracted, len(env.Entry.Messages)},
		{stats.EventTypeDroppedFragment, env.Report.DroppedFragments},
		{stats.EventTypeDroppedAttachment, env.Report.DroppedAttachments},
		{stats.EventTypeRawTimestamp, env.Report.RawTimestamps},
	}
	for _, c := range counts {
		if c.n > 0 {
			r.EmitEvent(stats.Event{Stage: stats.StageExtract, Type: c.typ, Entry: idx, Count: c.n})
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r.results <- env:
		return nil
	}
}

// Start runs every registered stage and subscriber and blocks until the
// stages are done and the subscribers have drained the event stream.
func (r *Runner) Start() error {
	r.since = time.Now()

	for _, sub := range r.subscribers {
		r.statsWG.Add(1)
		go func() {
			defer r.statsWG.Done()
			if err := sub.fn(r.ctx, sub.events); err != nil && !errors.Is(err, context.Canceled) {
				r.fail(fmt.Errorf("%s stats: %w", sub.name, err))
			}
		}()
	}

	for _, st := range r.stages {
		r.workWG.Add(1)
		go func() {
			defer r.workWG.Done()
			if err := st.fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.fail(fmt.Errorf("%s stage: %w", st.name, err))
			}
		}()
	}

	r.workWG.Wait()
	r.closeEvents()
	r.statsWG.Wait()

	if err := r.ledger.Close(); err != nil {
		r.fail(fmt.Errorf("close ledger: %w", err))
	}

	r.cancel()

	r.errMu.Lock()
	err := r.err
	r.errMu.Unlock()

	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("pipeline failed", "duration", duration, "err", err)
		return err
	}

	r.logger.Info("pipeline completed", "duration", duration)
	return nil
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		for _, sub := range r.subscribers {
			close(sub.events)
		}
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
