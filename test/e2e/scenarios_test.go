package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexigen/lexigen/pkg/models"
	"github.com/lexigen/lexigen/pkg/repository"
	"github.com/lexigen/lexigen/pkg/runs"
)

func TestHappyPathFullScope(t *testing.T) {
	tok := &ScriptedTokenizer{ByContent: map[string][]string{
		"corpus": {"Alice", "Acme"},
	}}
	h := NewHarness(t, tok)
	h.LLM.Categories["Alice"] = "person_name"
	h.LLM.Categories["Acme"] = "organization"
	h.LLM.Definitions["Alice"] = "A person."
	h.LLM.Definitions["Acme"] = "A company."

	h.AddDocument("doc1.txt", "corpus part one, 500 chars of story")
	h.AddDocument("doc2.txt", "corpus part two, 500 more chars")

	ctx := context.Background()
	runID, err := h.Manager.StartRun(ctx, models.ScopeFull, "test", nil)
	require.NoError(t, err)

	_, _, ch := h.Manager.SubscribeLogs(runID)

	run := h.WaitTerminal(runID, 10*time.Second)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	require.NotNil(t, run.StartedAt)
	require.NotNil(t, run.FinishedAt)
	assert.False(t, run.CreatedAt.After(*run.StartedAt))
	assert.False(t, run.StartedAt.After(*run.FinishedAt))

	terms, err := repository.ListExtractedTerms(ctx, h.DB)
	require.NoError(t, err)
	got := map[string]models.Category{}
	for _, term := range terms {
		got[term.TermText] = term.Category
	}
	assert.Equal(t, models.CategoryPersonName, got["Alice"])
	assert.Equal(t, models.CategoryOrganization, got["Acme"])
	assert.Len(t, terms, 2)

	refined, err := repository.ListGlossaryEntries(ctx, h.DB, repository.TableRefined)
	require.NoError(t, err)
	defs := map[string]string{}
	for _, e := range refined {
		defs[e.Name] = e.Definition
	}
	assert.Equal(t, "A person.", defs["Alice"])
	assert.Equal(t, "A company.", defs["Acme"])

	// The log stream ends with the complete sentinel.
	sawComplete := false
	timeout := time.After(5 * time.Second)
	for !sawComplete {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatal("stream closed before complete sentinel")
			}
			if ev.Complete {
				sawComplete = true
				assert.Equal(t, runID, ev.RunID)
			}
		case <-timeout:
			t.Fatal("no complete sentinel within timeout")
		}
	}
}

func TestCancelDuringGeneration(t *testing.T) {
	terms := make([]string, 100)
	for i := range terms {
		terms[i] = "Term" + string(rune('A'+i%26)) + string(rune('a'+i/26))
	}
	tok := &ScriptedTokenizer{ByContent: map[string][]string{"corpus": terms}}
	h := NewHarness(t, tok)
	h.LLM.PerCallDelay = 200 * time.Millisecond

	h.AddDocument("doc.txt", "corpus with many terms")

	ctx := context.Background()
	runID, err := h.Manager.StartRun(ctx, models.ScopeFull, "test", nil)
	require.NoError(t, err)

	_, _, ch := h.Manager.SubscribeLogs(runID)

	time.Sleep(250 * time.Millisecond)
	require.NoError(t, h.Manager.CancelRun(ctx, runID))

	run := h.WaitTerminal(runID, 10*time.Second)
	assert.Equal(t, models.RunStatusCancelled, run.Status)

	prov, err := repository.ListGlossaryEntries(ctx, h.DB, repository.TableProvisional)
	require.NoError(t, err)
	assert.Empty(t, prov, "cancel before review means no provisional persistence")

	// Subscriber still receives the complete sentinel.
	sawComplete := false
	timeout := time.After(5 * time.Second)
	for !sawComplete {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatal("stream closed before complete sentinel")
			}
			sawComplete = ev.Complete
		case <-timeout:
			t.Fatal("no complete sentinel within timeout")
		}
	}
}

func TestConcurrentCancelVsCompletion(t *testing.T) {
	tok := &ScriptedTokenizer{ByContent: map[string][]string{"corpus": {"Alice"}}}
	h := NewHarness(t, tok)
	h.LLM.Categories["Alice"] = "person_name"

	h.AddDocument("doc.txt", "corpus")

	ctx := context.Background()
	runID, err := h.Manager.StartRun(ctx, models.ScopeFull, "test", nil)
	require.NoError(t, err)

	// Race the cancel against natural completion.
	_ = h.Manager.CancelRun(ctx, runID)

	run := h.WaitTerminal(runID, 10*time.Second)
	require.Contains(t, []models.RunStatus{models.RunStatusCompleted, models.RunStatusCancelled}, run.Status)
	first := run.Status

	// Whatever won, the state never changes again.
	h.Manager.Wait()
	again, err := h.Manager.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, first, again.Status)
	assert.Equal(t, run.FinishedAt, again.FinishedAt)
}

func TestIncrementalExtractAfterUpload(t *testing.T) {
	tok := &ScriptedTokenizer{ByContent: map[string][]string{"third": {"C"}}}
	h := NewHarness(t, tok)
	h.LLM.Categories["C"] = "coined"

	ctx := context.Background()
	require.NoError(t, repository.InsertExtractedTerms(ctx, h.DB, []models.ExtractedTerm{
		{TermText: "A", Category: models.CategoryTechnical},
		{TermText: "B", Category: models.CategoryTechnical},
	}))
	h.AddDocument("one.txt", "first")
	h.AddDocument("two.txt", "second")
	doc3 := h.AddDocument("three.txt", "third document")

	runID, err := h.Manager.StartRun(ctx, models.ScopeExtract, "upload", []int64{doc3})
	require.NoError(t, err)

	run := h.WaitTerminal(runID, 10*time.Second)
	require.Equal(t, models.RunStatusCompleted, run.Status)

	terms, err := repository.ListExtractedTerms(ctx, h.DB)
	require.NoError(t, err)
	texts := map[string]bool{}
	for _, term := range terms {
		texts[term.TermText] = true
	}
	assert.True(t, texts["A"] && texts["B"] && texts["C"])
	assert.Len(t, terms, 3)
}

func TestTransientLLMErrorThenSuccess(t *testing.T) {
	tok := &ScriptedTokenizer{ByContent: map[string][]string{"corpus": {"Alice"}}}
	h := NewHarness(t, tok)
	h.LLM.Categories["Alice"] = "person_name"
	h.LLM.FailuresRemaining.Store(1)

	h.AddDocument("doc.txt", "corpus")

	start := time.Now()
	runID, err := h.Manager.StartRun(context.Background(), models.ScopeFull, "test", nil)
	require.NoError(t, err)

	run := h.WaitTerminal(runID, 15*time.Second)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.GreaterOrEqual(t, time.Since(start), time.Second, "retry backoff before second attempt")
}

func TestAdmissionRejectsSecondRun(t *testing.T) {
	tok := &ScriptedTokenizer{ByContent: map[string][]string{"corpus": {"Alice"}}}
	h := NewHarness(t, tok)
	h.LLM.PerCallDelay = 100 * time.Millisecond

	h.AddDocument("doc.txt", "corpus")

	ctx := context.Background()
	runID, err := h.Manager.StartRun(ctx, models.ScopeFull, "test", nil)
	require.NoError(t, err)

	_, err = h.Manager.StartRun(ctx, models.ScopeFull, "test", nil)
	assert.ErrorIs(t, err, runs.ErrAlreadyRunning)

	require.NoError(t, h.Manager.CancelRun(ctx, runID))
	h.WaitTerminal(runID, 10*time.Second)
}

func TestCancelIsIdempotent(t *testing.T) {
	tok := &ScriptedTokenizer{ByContent: map[string][]string{"corpus": {"Alice"}}}
	h := NewHarness(t, tok)
	h.LLM.PerCallDelay = 100 * time.Millisecond

	h.AddDocument("doc.txt", "corpus")

	ctx := context.Background()
	runID, err := h.Manager.StartRun(ctx, models.ScopeFull, "test", nil)
	require.NoError(t, err)

	require.NoError(t, h.Manager.CancelRun(ctx, runID))
	first := h.WaitTerminal(runID, 10*time.Second)
	require.Equal(t, models.RunStatusCancelled, first.Status)

	// Second cancel: same terminal state, no field overwritten.
	require.NoError(t, h.Manager.CancelRun(ctx, runID))
	second, err := h.Manager.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, first.FinishedAt, second.FinishedAt)
	assert.Equal(t, first.ErrorMessage, second.ErrorMessage)

	assert.ErrorIs(t, h.Manager.CancelRun(ctx, 9999), runs.ErrNotFound)
}

func TestCancelPendingRun(t *testing.T) {
	// Cancel can land while the worker is still initializing; the
	// conditional update keeps the pending→cancelled transition safe.
	tok := &ScriptedTokenizer{}
	h := NewHarness(t, tok)

	ctx := context.Background()
	runID, err := h.Manager.StartRun(ctx, models.ScopeFull, "test", nil)
	require.NoError(t, err)
	_ = h.Manager.CancelRun(ctx, runID)

	run := h.WaitTerminal(runID, 10*time.Second)
	assert.Contains(t, []models.RunStatus{models.RunStatusCancelled, models.RunStatusCompleted}, run.Status)
}
