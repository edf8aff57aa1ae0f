package llm

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileDebugSink(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileDebugSink(dir)
	require.NoError(t, err)

	sink.Record(Record{Method: "generate", Model: "m", Request: "req", Response: "resp", Duration: time.Second})
	sink.Record(Record{Method: "generate_structured", Model: "m", Request: "req2", Response: "resp2"})

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	pattern := regexp.MustCompile(`^\d{8}-\d{6}-\d{4}\.txt$`)
	for _, entry := range entries {
		assert.Regexp(t, pattern, entry.Name())
	}

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "## REQUEST")
	assert.Contains(t, string(data), "## RESPONSE")
	assert.Contains(t, string(data), "model: m")
}

func TestCleanupDebugFiles(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "20200101-000000-0001.txt")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	fresh := filepath.Join(dir, "20990101-000000-0001.txt")
	require.NoError(t, os.WriteFile(fresh, []byte("y"), 0o644))

	removed := CleanupDebugFiles(dir, 24*time.Hour)
	assert.Equal(t, 1, removed)
	_, err := os.Stat(fresh)
	assert.NoError(t, err)

	assert.Zero(t, CleanupDebugFiles(filepath.Join(dir, "missing"), time.Hour))
}
