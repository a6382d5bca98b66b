package batch

import (
	"errors"
	"testing"
)

func TestNewOK(t *testing.T) {
	r := NewOK("docs/a.md", 4, 4, 0)
	if r.Source() != "docs/a.md" {
		t.Errorf("Source() = %q", r.Source())
	}
	if r.Status() != StatusOK {
		t.Errorf("Status() = %q, want %q", r.Status(), StatusOK)
	}
	if r.Chunks() != 4 || r.Stored() != 4 || r.Skipped() != 0 {
		t.Errorf("unexpected counts: %+v", r)
	}
	if r.Err() != nil {
		t.Errorf("Err() = %v, want nil", r.Err())
	}
}

func TestNewOK_SkippedIsPartial(t *testing.T) {
	r := NewOK("docs/a.md", 4, 2, 2)
	if r.Status() != StatusPartial {
		t.Errorf("Status() = %q, want %q", r.Status(), StatusPartial)
	}
}

func TestNewError(t *testing.T) {
	err := errors.New("something failed")
	r := NewError("docs/b.md", err)
	if r.Status() != StatusError {
		t.Errorf("Status() = %q, want %q", r.Status(), StatusError)
	}
	if !errors.Is(r.Err(), err) {
		t.Errorf("Err() = %v, want %v", r.Err(), err)
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]Result{
		NewOK("a", 3, 3, 0),
		NewOK("b", 5, 3, 2),
		NewError("c", errors.New("boom")),
	})
	want := Summary{Sources: 3, Failed: 1, Chunks: 8, Stored: 6, Skipped: 2}
	if s != want {
		t.Errorf("Summarize = %+v, want %+v", s, want)
	}
}
