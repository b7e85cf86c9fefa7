package mbox

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	mboxlib "github.com/emersion/go-mbox"
	"github.com/emersion/go-message/textproto"

	"github.com/dhcgn/chat-archive-extract/model"
	"github.com/dhcgn/chat-archive-extract/runner"
	"github.com/dhcgn/chat-archive-extract/workpool"
)

var ErrNoArchives = errors.New("no archive matches pattern")

var headerLine = regexp.MustCompile(`^[^\s:]+:`)

// Expand resolves a path or doublestar glob into a sorted list of archive files.
func Expand(pattern string) ([]string, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, fmt.Errorf("archive path is empty")
	}

	if info, err := os.Stat(pattern); err == nil && !info.IsDir() {
		return []string{pattern}, nil
	}

	matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoArchives, pattern)
	}
	sort.Strings(matches)
	return matches, nil
}

// ReadFile loads an archive as text. Invalid UTF-8 is replaced rather than rejected.
func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	return strings.ToValidUTF8(string(data), "\uFFFD"), nil
}

// CountEntries counts the records of an archive file without extracting them.
func CountEntries(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()
	return countEntries(file)
}

// countEntries skips any preamble before the first "From " line, as Split
// does, and counts the records that follow.
func countEntries(r io.Reader) (int, error) {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if strings.HasPrefix(line, "From ") {
			return countRecords(io.MultiReader(strings.NewReader(line), br))
		}
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("read archive: %w", err)
		}
	}
}

func countRecords(r io.Reader) (int, error) {
	reader := mboxlib.NewReader(r)

	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return 0, err
		}

		// A truncated last message still counts as an entry.
		_, _ = io.Copy(io.Discard, msgReader)
		count++
	}
}

// ParseHeaders reads the header block of an entry. The leading envelope line
// (the rest of the "From " delimiter line) is skipped.
func ParseHeaders(headers string) (textproto.Header, error) {
	if first, rest, _ := strings.Cut(headers, "\n"); !headerLine.MatchString(first) {
		headers = rest
	}

	r := bufio.NewReader(strings.NewReader(headers + "\n\n"))
	h, err := textproto.ReadHeader(r)
	if err != nil {
		return textproto.Header{}, fmt.Errorf("read entry headers: %w", err)
	}
	return h, nil
}

// Producer reads archive files and feeds their raw entries to the runner.
type Producer struct {
	paths  []string
	runner *runner.Runner
	logger *slog.Logger
}

func NewProducer(paths []string, r *runner.Runner, logger *slog.Logger) (*Producer, error) {
	if len(paths) == 0 {
		return nil, ErrNoArchives
	}
	producer := &Producer{paths: paths, runner: r, logger: logger}
	r.AddStage("mbox", producer.run)
	return producer, nil
}

func (p *Producer) run(ctx context.Context) error {
	defer p.runner.CloseEntries()

	out := p.runner.EntryWriter()
	index := 0
	for _, path := range p.paths {
		text, err := ReadFile(path)
		if err != nil {
			return fmt.Errorf("archive %s: %w", path, err)
		}

		entries := Split(text)
		if p.logger != nil {
			p.logger.Debug("archive split", "path", path, "entries", len(entries))
		}

		for _, raw := range entries {
			raw.Index = index
			raw.Source = path
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- workpool.Item[model.RawEntry]{Index: index, Value: raw}:
			}
			index++
		}
	}
	return nil
}
