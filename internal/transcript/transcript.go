// Package transcript defines the transcription artifact shapes and the
// pure merge step that turns per-segment results into the combined
// transcript.
package transcript

import (
	"sort"
	"strings"
)

type Span struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is a transcriber's output for a single segment wav. Span times
// are relative to the segment start.
type Result struct {
	Text  string `json:"text"`
	Spans []Span `json:"spans,omitempty"`
}

// Segment is the per-shard artifact persisted as
// transcriptions/segment_NNNN.json. Offset is the segment's absolute
// start within the source audio, in seconds.
type Segment struct {
	Index  int     `json:"segment_index"`
	Offset float64 `json:"offset"`
	Text   string  `json:"text"`
	Spans  []Span  `json:"spans,omitempty"`
}

// Combined is the merged transcript.json artifact.
type Combined struct {
	JobKey       string `json:"job_key"`
	Title        string `json:"title,omitempty"`
	SegmentCount int    `json:"segment_count"`
	Text         string `json:"text"`
	Spans        []Span `json:"spans,omitempty"`
}

// Combine merges per-segment transcripts in index order regardless of the
// order they are handed in. Span times are shifted by each segment's
// offset so the combined spans are absolute within the source audio.
func Combine(jobKey, title string, segments []Segment) *Combined {
	sorted := make([]Segment, len(segments))
	copy(sorted, segments)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	var texts []string
	var spans []Span
	for _, seg := range sorted {
		if text := strings.TrimSpace(seg.Text); text != "" {
			texts = append(texts, text)
		}
		for _, sp := range seg.Spans {
			spans = append(spans, Span{
				Start: sp.Start + seg.Offset,
				End:   sp.End + seg.Offset,
				Text:  sp.Text,
			})
		}
	}

	return &Combined{
		JobKey:       jobKey,
		Title:        title,
		SegmentCount: len(sorted),
		Text:         strings.Join(texts, "\n"),
		Spans:        spans,
	}
}
