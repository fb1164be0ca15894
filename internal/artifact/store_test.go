package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEnsureWorkspace(t *testing.T) {
	store := NewStore(t.TempDir())

	if err := store.EnsureWorkspace("vid00000001"); err != nil {
		t.Fatalf("EnsureWorkspace() error = %v", err)
	}
	// calling again must not fail
	if err := store.EnsureWorkspace("vid00000001"); err != nil {
		t.Fatalf("second EnsureWorkspace() error = %v", err)
	}

	for _, dir := range []string{"audio", "segments", "transcriptions", "full_transcriptions", "processed"} {
		info, err := os.Stat(filepath.Join(store.JobDir("vid00000001"), dir))
		if err != nil || !info.IsDir() {
			t.Errorf("workspace dir %s missing: %v", dir, err)
		}
	}
}

func TestPaths(t *testing.T) {
	store := NewStore("/data/workspace")

	if got := store.AudioPath("abc"); got != "/data/workspace/abc/audio/abc.mp3" {
		t.Errorf("AudioPath = %q", got)
	}
	if got := store.SegmentPath("abc", 7); !strings.HasSuffix(got, "segments/segment_0007.wav") {
		t.Errorf("SegmentPath = %q", got)
	}
	if got := store.SegmentTranscriptPath("abc", 12); !strings.HasSuffix(got, "transcriptions/segment_0012.json") {
		t.Errorf("SegmentTranscriptPath = %q", got)
	}
	if got := store.OutputPath("abc"); !strings.HasSuffix(got, "processed/summary.html") {
		t.Errorf("OutputPath = %q", got)
	}
}

func TestExists_NonEmptyOnly(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.EnsureWorkspace("key0000001"); err != nil {
		t.Fatalf("EnsureWorkspace() error = %v", err)
	}

	path := store.AudioPath("key0000001")
	if store.Exists(path) {
		t.Error("Exists() = true for missing file")
	}

	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("write empty file: %v", err)
	}
	if store.Exists(path) {
		t.Error("Exists() = true for zero-byte file")
	}

	if err := os.WriteFile(path, []byte("audio"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if !store.Exists(path) {
		t.Error("Exists() = false for non-empty file")
	}
}

func TestListSegments_IndexOrder(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.EnsureWorkspace("key0000002"); err != nil {
		t.Fatalf("EnsureWorkspace() error = %v", err)
	}

	// write out of order, expect sorted result
	for _, i := range []int{2, 0, 1} {
		if err := os.WriteFile(store.SegmentPath("key0000002", i), []byte("wav"), 0644); err != nil {
			t.Fatalf("write segment: %v", err)
		}
	}
	// an empty shard must be excluded
	if err := os.WriteFile(store.SegmentPath("key0000002", 3), nil, 0644); err != nil {
		t.Fatalf("write empty segment: %v", err)
	}

	segments, err := store.ListSegments("key0000002")
	if err != nil {
		t.Fatalf("ListSegments() error = %v", err)
	}
	if len(segments) != 3 {
		t.Fatalf("ListSegments() = %d entries, want 3", len(segments))
	}
	for i, seg := range segments {
		want := store.SegmentPath("key0000002", i)
		if seg != want {
			t.Errorf("segment[%d] = %q, want %q", i, seg, want)
		}
	}
}

func TestCompleted(t *testing.T) {
	store := NewStore(t.TempDir())
	key := "key0000003"
	if err := store.EnsureWorkspace(key); err != nil {
		t.Fatalf("EnsureWorkspace() error = %v", err)
	}

	if store.Completed(key) {
		t.Error("Completed() = true for empty workspace")
	}

	terminal := []string{
		store.AudioPath(key),
		store.TranscriptPath(key),
		store.TranscriptTextPath(key),
		store.OutputPath(key),
	}
	for i, path := range terminal {
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatalf("write artifact: %v", err)
		}
		complete := store.Completed(key)
		if i < len(terminal)-1 && complete {
			t.Errorf("Completed() = true with %d/%d terminal artifacts", i+1, len(terminal))
		}
		if i == len(terminal)-1 && !complete {
			t.Error("Completed() = false with all terminal artifacts present")
		}
	}
}

func TestWriteFile_NoPartialVisible(t *testing.T) {
	store := NewStore(t.TempDir())
	key := "key0000004"
	if err := store.EnsureWorkspace(key); err != nil {
		t.Fatalf("EnsureWorkspace() error = %v", err)
	}

	path := store.TranscriptTextPath(key)
	if err := store.WriteFile(path, []byte("hello transcript")); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "hello transcript" {
		t.Fatalf("read back = %q, %v", data, err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after WriteFile")
	}
}
