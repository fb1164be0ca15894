package transcript

import (
	"testing"
)

func TestCombine_SortsByIndex(t *testing.T) {
	segments := []Segment{
		{Index: 2, Offset: 36, Text: "third"},
		{Index: 0, Offset: 0, Text: "first"},
		{Index: 1, Offset: 18, Text: "second"},
	}

	combined := Combine("vid00000001", "A Talk", segments)

	if combined.SegmentCount != 3 {
		t.Errorf("segment count = %d, want 3", combined.SegmentCount)
	}
	if combined.Text != "first\nsecond\nthird" {
		t.Errorf("text = %q, want newline-joined in index order", combined.Text)
	}
	if combined.JobKey != "vid00000001" || combined.Title != "A Talk" {
		t.Errorf("identity = %q/%q", combined.JobKey, combined.Title)
	}
}

func TestCombine_OffsetsSpans(t *testing.T) {
	segments := []Segment{
		{Index: 0, Offset: 0, Text: "a", Spans: []Span{{Start: 0, End: 2.5, Text: "a"}}},
		{Index: 1, Offset: 18, Text: "b", Spans: []Span{{Start: 1, End: 3, Text: "b"}}},
	}

	combined := Combine("k", "", segments)

	if len(combined.Spans) != 2 {
		t.Fatalf("span count = %d, want 2", len(combined.Spans))
	}
	if combined.Spans[1].Start != 19 || combined.Spans[1].End != 21 {
		t.Errorf("second span = %+v, want offset-adjusted 19..21", combined.Spans[1])
	}
}

func TestCombine_SkipsEmptyText(t *testing.T) {
	segments := []Segment{
		{Index: 0, Text: "hello"},
		{Index: 1, Text: "   "},
		{Index: 2, Text: "world"},
	}

	combined := Combine("k", "", segments)

	if combined.Text != "hello\nworld" {
		t.Errorf("text = %q, want blank segments dropped", combined.Text)
	}
	if combined.SegmentCount != 3 {
		t.Errorf("segment count = %d, want 3 (count includes blank segments)", combined.SegmentCount)
	}
}

func TestCombine_Empty(t *testing.T) {
	combined := Combine("k", "", nil)
	if combined.Text != "" || combined.SegmentCount != 0 || len(combined.Spans) != 0 {
		t.Errorf("empty combine = %+v", combined)
	}
}
