// Package artifact lays out the per-job workspace on disk and answers the
// completion checks the orchestrator keys on. A stage (or shard) counts as
// complete exactly when its artifact file exists and is non-empty; no
// database is involved.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const (
	audioDir      = "audio"
	segmentsDir   = "segments"
	transcriptDir = "transcriptions"
	combinedDir   = "full_transcriptions"
	processedDir  = "processed"
)

type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) JobDir(jobKey string) string {
	return filepath.Join(s.root, jobKey)
}

// EnsureWorkspace creates the per-job directory tree. Safe to call on
// every run.
func (s *Store) EnsureWorkspace(jobKey string) error {
	for _, dir := range []string{audioDir, segmentsDir, transcriptDir, combinedDir, processedDir} {
		if err := os.MkdirAll(filepath.Join(s.JobDir(jobKey), dir), 0755); err != nil {
			return fmt.Errorf("failed to create workspace dir %s: %w", dir, err)
		}
	}
	return nil
}

func (s *Store) AudioPath(jobKey string) string {
	return filepath.Join(s.JobDir(jobKey), audioDir, jobKey+".mp3")
}

func (s *Store) SegmentPath(jobKey string, index int) string {
	return filepath.Join(s.JobDir(jobKey), segmentsDir, fmt.Sprintf("segment_%04d.wav", index))
}

func (s *Store) SegmentTranscriptPath(jobKey string, index int) string {
	return filepath.Join(s.JobDir(jobKey), transcriptDir, fmt.Sprintf("segment_%04d.json", index))
}

func (s *Store) TranscriptPath(jobKey string) string {
	return filepath.Join(s.JobDir(jobKey), combinedDir, "transcript.json")
}

func (s *Store) TranscriptTextPath(jobKey string) string {
	return filepath.Join(s.JobDir(jobKey), combinedDir, "full_text.txt")
}

func (s *Store) ContentPath(jobKey string) string {
	return filepath.Join(s.JobDir(jobKey), processedDir, "content.txt")
}

func (s *Store) OutputPath(jobKey string) string {
	return filepath.Join(s.JobDir(jobKey), processedDir, "summary.html")
}

// Exists reports artifact completion: present and non-empty. A zero-byte
// file left by an interrupted write never counts.
func (s *Store) Exists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Size() > 0
}

// ListSegments returns the segment wav paths in shard-index order.
func (s *Store) ListSegments(jobKey string) ([]string, error) {
	pattern := filepath.Join(s.JobDir(jobKey), segmentsDir, "segment_*.wav")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, m := range matches {
		if s.Exists(m) {
			out = append(out, m)
		}
	}
	// zero-padded names, so lexicographic order is index order
	sort.Strings(out)
	return out, nil
}

// Completed reports whether the terminal artifact set exists, which is the
// orchestrator's short-circuit condition.
func (s *Store) Completed(jobKey string) bool {
	return s.Exists(s.AudioPath(jobKey)) &&
		s.Exists(s.TranscriptPath(jobKey)) &&
		s.Exists(s.TranscriptTextPath(jobKey)) &&
		s.Exists(s.OutputPath(jobKey))
}

// WriteFile writes data to path through a temp file and rename, so a
// concurrent exists check never observes a partial artifact.
func (s *Store) WriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize %s: %w", filepath.Base(path), err)
	}
	return nil
}
