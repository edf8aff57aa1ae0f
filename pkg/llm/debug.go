package llm

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record is one LLM call as seen by the debug sink.
type Record struct {
	Method   string
	Model    string
	Request  string
	Response string
	Duration time.Duration
	Err      error
}

// DebugSink receives every LLM call. The sink is injected through the client
// factory so all call paths log consistently; there is no global flag beyond
// the LLM_DEBUG environment read at construction.
type DebugSink interface {
	Record(rec Record)
}

// NopSink discards records. Used when debugging is off.
type NopSink struct{}

// Record implements DebugSink.
func (NopSink) Record(Record) {}

// FileDebugSink writes one file per call under its directory. The sequence
// counter starts at 1 for each sink, so constructing a sink per run resets
// the numbering.
type FileDebugSink struct {
	dir     string
	mu      sync.Mutex
	counter int
}

// NewFileDebugSink creates the target directory and returns a sink.
func NewFileDebugSink(dir string) (*FileDebugSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create llm debug directory: %w", err)
	}
	return &FileDebugSink{dir: dir}, nil
}

// Record implements DebugSink. Failures are logged, never propagated: a full
// disk must not fail a run.
func (s *FileDebugSink) Record(rec Record) {
	s.mu.Lock()
	s.counter++
	seq := s.counter
	s.mu.Unlock()

	now := time.Now()
	name := fmt.Sprintf("%s-%04d.txt", now.Format("20060102-150405"), seq)

	body := fmt.Sprintf(
		"timestamp: %s\nmodel: %s\nmethod: %s\nduration: %s\n",
		now.Format(time.RFC3339), rec.Model, rec.Method, rec.Duration,
	)
	if rec.Err != nil {
		body += fmt.Sprintf("error: %v\n", rec.Err)
	}
	body += "\n## REQUEST\n" + rec.Request + "\n\n## RESPONSE\n" + rec.Response + "\n"

	if err := os.WriteFile(filepath.Join(s.dir, name), []byte(body), 0o644); err != nil {
		slog.Warn("Failed to write LLM debug file", "file", name, "error", err)
	}
}

// CleanupDebugFiles removes debug files older than maxAge from dir. Missing
// directories are fine. Returns the number of files removed.
func CleanupDebugFiles(dir string, maxAge time.Duration) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".txt" {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		slog.Info("Removed old LLM debug files", "dir", dir, "count", removed)
	}
	return removed
}
