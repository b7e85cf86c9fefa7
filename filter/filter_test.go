package filter

import (
	"testing"

	"github.com/dhcgn/chat-archive-extract/model"
)

func TestFilter_Allows_IncludeMode(t *testing.T) {
	f, err := New(Options{IncludeSender: []string{"^Alice$"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !f.Allows(model.Message{Sender: "Alice", Content: "hi"}) {
		t.Error("Expected message to be allowed (sender matches)")
	}
	if f.Allows(model.Message{Sender: "Bob", Content: "hi"}) {
		t.Error("Expected message to be filtered out (sender doesn't match)")
	}
}

func TestFilter_Allows_ExcludeMode(t *testing.T) {
	f, err := New(Options{ExcludeContent: []string{"(?i)spam"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !f.Allows(model.Message{Sender: "Alice", Content: "lunch at noon"}) {
		t.Error("Expected message to be allowed (no spam)")
	}
	if f.Allows(model.Message{Sender: "Bob", Content: "Buy SPAM now"}) {
		t.Error("Expected message to be filtered out (contains spam)")
	}
}

func TestFilter_IncludeEitherField(t *testing.T) {
	f, err := New(Options{
		IncludeSender:  []string{"^Alice$"},
		IncludeContent: []string{"release"},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !f.Allows(model.Message{Sender: "Bob", Content: "the release is out"}) {
		t.Error("Expected content match to allow the message")
	}
	if f.Allows(model.Message{Sender: "Bob", Content: "nothing"}) {
		t.Error("Expected message matching neither field to be filtered out")
	}
}

func TestFilter_MutuallyExclusive(t *testing.T) {
	_, err := New(Options{
		IncludeSender: []string{"test"},
		ExcludeSender: []string{"spam"},
	})
	if err == nil {
		t.Error("Expected error when both include and exclude are specified")
	}
}

func TestFilter_InvalidPattern(t *testing.T) {
	if _, err := New(Options{IncludeContent: []string{"("}}); err == nil {
		t.Error("Expected error for an invalid regex")
	}
}

func TestFilter_NoFilters(t *testing.T) {
	f, err := New(Options{IncludeSender: []string{"  "}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if f.Active() {
		t.Error("Expected blank patterns to leave the filter inactive")
	}
	if !f.Allows(model.Message{Sender: "anyone"}) {
		t.Error("Expected message to be allowed when no filters are set")
	}

	var nilFilter *Filter
	if !nilFilter.Allows(model.Message{}) {
		t.Error("Expected a nil filter to allow everything")
	}
}

func TestFilter_Hits(t *testing.T) {
	f, err := New(Options{ExcludeSender: []string{"^Bob$", "^Eve$"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for _, sender := range []string{"Bob", "Bob", "Eve", "Alice"} {
		f.Allows(model.Message{Sender: sender})
	}

	hits := f.Hits()
	if hits["^Bob$"] != 2 || hits["^Eve$"] != 1 {
		t.Errorf("Hits() = %v, want ^Bob$:2 ^Eve$:1", hits)
	}
}
