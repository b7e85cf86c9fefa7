package filter

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/dhcgn/chat-archive-extract/model"
)

// Options captures the filtering configuration.
type Options struct {
	IncludeSender  []string
	IncludeContent []string
	ExcludeSender  []string
	ExcludeContent []string
}

// Filter decides which extracted messages reach the export.
type Filter struct {
	includeMode    bool
	excludeMode    bool
	includeSender  []*regexp.Regexp
	includeContent []*regexp.Regexp
	excludeSender  []*regexp.Regexp
	excludeContent []*regexp.Regexp

	mu   sync.Mutex
	hits map[string]int
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	includeSender, err := compilePatterns(opts.IncludeSender)
	if err != nil {
		return nil, fmt.Errorf("compile include-sender pattern: %w", err)
	}
	includeContent, err := compilePatterns(opts.IncludeContent)
	if err != nil {
		return nil, fmt.Errorf("compile include-content pattern: %w", err)
	}
	excludeSender, err := compilePatterns(opts.ExcludeSender)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-sender pattern: %w", err)
	}
	excludeContent, err := compilePatterns(opts.ExcludeContent)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-content pattern: %w", err)
	}

	includeActive := len(includeSender) > 0 || len(includeContent) > 0
	excludeActive := len(excludeSender) > 0 || len(excludeContent) > 0
	if includeActive && excludeActive {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}

	return &Filter{
		includeMode:    includeActive,
		excludeMode:    excludeActive,
		includeSender:  includeSender,
		includeContent: includeContent,
		excludeSender:  excludeSender,
		excludeContent: excludeContent,
		hits:           make(map[string]int),
	}, nil
}

// Active reports whether any pattern is configured.
func (f *Filter) Active() bool {
	return f != nil && (f.includeMode || f.excludeMode)
}

// Allows returns true if the message passes the filter criteria.
func (f *Filter) Allows(msg model.Message) bool {
	if !f.Active() {
		return true
	}

	if f.includeMode {
		return f.matchAny(f.includeSender, msg.Sender) || f.matchAny(f.includeContent, msg.Content)
	}

	return !f.matchAny(f.excludeSender, msg.Sender) && !f.matchAny(f.excludeContent, msg.Content)
}

// Hits returns how often each pattern matched so far.
func (f *Filter) Hits() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.hits))
	for k, v := range f.hits {
		out[k] = v
	}
	return out
}

func (f *Filter) matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			f.mu.Lock()
			f.hits[re.String()]++
			f.mu.Unlock()
			return true
		}
	}
	return false
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
