package llm

import (
	"log/slog"
	"os"
	"path/filepath"
)

// llmDebugEnv enables the file debug sink for every client built by the
// factory.
const llmDebugEnv = "LLM_DEBUG"

// DebugDirFor returns the debug directory for a project database path:
// a sibling llm-debug directory, or ./llm-debug when there is no database.
func DebugDirFor(dbPath string) string {
	if dbPath == "" {
		return "llm-debug"
	}
	return filepath.Join(filepath.Dir(dbPath), "llm-debug")
}

// NewClient is the single construction site for LLM clients. It wires the
// debug sink when LLM_DEBUG is set; cfg.Sink is otherwise left as given.
func NewClient(cfg Config, debugDir string) Client {
	if os.Getenv(llmDebugEnv) != "" && cfg.Sink == nil {
		sink, err := NewFileDebugSink(debugDir)
		if err != nil {
			slog.Warn("LLM debug enabled but sink unavailable", "dir", debugDir, "error", err)
		} else {
			cfg.Sink = sink
		}
	}
	return NewOpenAIClient(cfg)
}
