package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/chat-archive-extract/filter"
	"github.com/dhcgn/chat-archive-extract/mbox"
	"github.com/dhcgn/chat-archive-extract/model"
	"github.com/dhcgn/chat-archive-extract/pipeline"
	"github.com/dhcgn/chat-archive-extract/stats"
	"github.com/dhcgn/chat-archive-extract/timestamp"
)

const (
	categorySubject    = "Subject"
	categorySender     = "Sender"
	categoryDay        = "Day"
	categoryAttachment = "Attachment-Type"

	unknownDay = "unknown"
)

var categories = []string{categorySubject, categorySender, categoryDay, categoryAttachment}

type statsOptions struct {
	reportDir      string
	topN           int
	workers        int
	includeSender  []string
	includeContent []string
	excludeSender  []string
	excludeContent []string
}

// Report accumulates per-category counts over extracted entries.
type Report struct {
	Counts   map[string]map[string]int
	Entries  int
	Skipped  int
	Messages int
	Filtered int
}

func NewReport() *Report {
	counts := make(map[string]map[string]int, len(categories))
	for _, c := range categories {
		counts[c] = make(map[string]int)
	}
	return &Report{Counts: counts}
}

// Add counts one extracted entry. Messages rejected by f are counted as
// filtered only.
func (r *Report) Add(env model.Envelope, f *filter.Filter) {
	r.Entries++
	if env.Err != nil {
		r.Skipped++
		return
	}

	if h, err := mbox.ParseHeaders(env.Entry.Headers); err == nil {
		if subject := strings.TrimSpace(h.Get("Subject")); subject != "" {
			r.Counts[categorySubject][subject]++
		}
	}

	for _, msg := range env.Entry.Messages {
		if !f.Allows(msg) {
			r.Filtered++
			continue
		}
		r.Messages++
		r.Counts[categorySender][msg.Sender]++
		r.Counts[categoryDay][day(msg.Timestamp)]++
	}
	for _, att := range env.Entry.Attachments {
		r.Counts[categoryAttachment][att.ContentType]++
	}
}

func day(ts string) string {
	t, err := time.Parse(timestamp.Layout, ts)
	if err != nil {
		return unknownDay
	}
	return t.Format(time.DateOnly)
}

// NewStatsCommand returns the stats subcommand.
func NewStatsCommand() *cobra.Command {
	opts := statsOptions{}

	cmd := &cobra.Command{
		Use:   "stats [archive path or glob]...",
		Short: "Analyse chat archives and show per-sender and per-day statistics",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.OutOrStdout(), opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.reportDir, "output", "o", ".", "Output directory for CSV reports")
	flags.IntVarP(&opts.topN, "top", "t", 10, "Number of top items to display in statistics")
	flags.IntVar(&opts.workers, "workers", runtime.NumCPU(), "Number of entries extracted in parallel")
	flags.StringArrayVar(&opts.includeSender, "include-sender", nil, "Regex allow-list applied to message senders (mutually exclusive with exclude flags)")
	flags.StringArrayVar(&opts.includeContent, "include-content", nil, "Regex allow-list applied to message content (mutually exclusive with exclude flags)")
	flags.StringArrayVar(&opts.excludeSender, "exclude-sender", nil, "Regex block-list applied to message senders (mutually exclusive with include flags)")
	flags.StringArrayVar(&opts.excludeContent, "exclude-content", nil, "Regex block-list applied to message content (mutually exclusive with include flags)")

	return cmd
}

func runStats(out io.Writer, opts statsOptions, patterns []string) error {
	f, err := filter.New(filter.Options{
		IncludeSender:  opts.includeSender,
		IncludeContent: opts.includeContent,
		ExcludeSender:  opts.excludeSender,
		ExcludeContent: opts.excludeContent,
	})
	if err != nil {
		return fmt.Errorf("create filter: %w", err)
	}

	var paths []string
	for _, pattern := range patterns {
		matches, err := mbox.Expand(pattern)
		if err != nil {
			return err
		}
		paths = append(paths, matches...)
	}

	p := pipeline.New(pipeline.Options{Workers: opts.workers, Logger: slog.Default()})
	report := NewReport()
	ctx := context.Background()

	for _, path := range paths {
		fmt.Fprintln(out, "Analyzing archive:", path)

		text, err := mbox.ReadFile(path)
		if err != nil {
			return err
		}
		envelopes, err := p.Parse(ctx, text)
		if err != nil {
			return fmt.Errorf("extract %s: %w", path, err)
		}
		for _, env := range envelopes {
			report.Add(env, f)
		}
	}

	printReport(out, report, f, opts.topN)

	if err := saveCSVReports(report.Counts, categories, opts.reportDir, 1000); err != nil {
		return fmt.Errorf("error saving CSV reports: %w", err)
	}
	fmt.Fprintf(out, "\nReports saved to directory: %s\n", opts.reportDir)
	return nil
}

func printReport(out io.Writer, r *Report, f *filter.Filter, topN int) {
	fmt.Fprintf(out, "\nProcessed %d entries (%d skipped), %d messages (%d filtered)\n\n", r.Entries, r.Skipped, r.Messages, r.Filtered)

	if f.Active() {
		fmt.Fprintln(out, "Filter hits:")
		for _, p := range stats.Top(f.Hits(), -1) {
			fmt.Fprintf(out, "  %s: %d hits\n", p.Key, p.Count)
		}
		fmt.Fprintln(out)
	}

	for _, c := range categories {
		fmt.Fprintf(out, "Top %d %s:\n", topN, c)
		stats.PrettyPrintTop(out, r.Counts[c], topN)
		fmt.Fprintln(out)
	}
}

func saveCSVReports(counter map[string]map[string]int, names []string, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, name := range names {
		filePath := filepath.Join(dir, fmt.Sprintf("report_%s.csv", normalizeName(name)))
		if err := writeCSVReport(filePath, stats.Top(counter[name], limit)); err != nil {
			return err
		}
	}
	return nil
}

func writeCSVReport(path string, pairs []stats.KeyCount) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Value", "Count"}); err != nil {
		return err
	}
	for _, p := range pairs {
		if err := writer.Write([]string{p.Key, strconv.Itoa(p.Count)}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func normalizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}
