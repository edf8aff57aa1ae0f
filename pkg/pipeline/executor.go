package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/lexigen/lexigen/pkg/database"
	"github.com/lexigen/lexigen/pkg/events"
	"github.com/lexigen/lexigen/pkg/llm"
	"github.com/lexigen/lexigen/pkg/models"
	"github.com/lexigen/lexigen/pkg/repository"
)

// clearFn empties one downstream table before a run.
type clearFn func(ctx context.Context, q database.Querier) error

// clearPolicy maps each scope to the tables cleared before it executes, in
// order. Scope selection is table-driven; an unknown scope emits an error
// log and returns without running anything.
var clearPolicy = map[models.Scope][]clearFn{
	models.ScopeFull: {
		repository.ClearIssues,
		clearRefined,
		clearProvisional,
		repository.ClearExtractedTerms,
	},
	models.ScopeExtract: {
		repository.ClearIssues,
		clearRefined,
		clearProvisional,
		repository.ClearExtractedTerms,
	},
	models.ScopeFromTerms: {
		repository.ClearIssues,
		clearRefined,
		clearProvisional,
	},
	models.ScopeProvisionalToRefined: {
		repository.ClearIssues,
		clearRefined,
	},
}

func clearRefined(ctx context.Context, q database.Querier) error {
	return repository.ClearGlossaryEntries(ctx, q, repository.TableRefined)
}

func clearProvisional(ctx context.Context, q database.Querier) error {
	return repository.ClearGlossaryEntries(ctx, q, repository.TableProvisional)
}

// Executor drives the stage graph for one run. It owns scope dispatch,
// deduplication, progress emission, stage-boundary cancellation, and batch
// persistence. The database handle belongs to the worker goroutine that
// created the executor and is never shared.
type Executor struct {
	db        *sql.DB
	docRoot   string
	ec        ExecutionContext
	extractor *TermExtractor
	generator *GlossaryGenerator
	reviewer  *GlossaryReviewer
	refiner   *GlossaryRefiner
	logger    *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewExecutor wires the domain engines around a shared LLM client.
func NewExecutor(db *sql.DB, client llm.Client, tok Tokenizer, docRoot string, ec ExecutionContext) *Executor {
	return &Executor{
		db:        db,
		docRoot:   docRoot,
		ec:        ec,
		extractor: NewTermExtractor(tok, client),
		generator: NewGlossaryGenerator(client),
		reviewer:  NewGlossaryReviewer(client),
		refiner:   NewGlossaryRefiner(client),
		logger:    slog.With("component", "executor", "run_id", ec.RunID),
	}
}

// Close releases the executor. Always called by the run manager on every
// exit path; safe to call more than once.
func (e *Executor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}

// Execute runs the stage sub-graph selected by scope. documentIDs narrows an
// extract run to freshly uploaded documents and skips the table clears.
func (e *Executor) Execute(ctx context.Context, scope models.Scope, documentIDs []int64) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("executor is closed")
	}
	e.mu.Unlock()

	clears, known := clearPolicy[scope]
	if !known {
		e.emitLog(events.LevelError, fmt.Sprintf("unknown scope %q", scope), "")
		return nil
	}
	if err := checkCancelled(ctx); err != nil {
		return err
	}

	if len(documentIDs) == 0 {
		err := database.Transaction(ctx, e.db, func(ctx context.Context, q database.Querier) error {
			for _, clear := range clears {
				if err := clear(ctx, q); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("clear tables for scope %s: %w", scope, err)
		}
	}

	switch scope {
	case models.ScopeFull, models.ScopeExtract:
		return e.executeFull(ctx, scope, documentIDs)
	case models.ScopeFromTerms:
		return e.executeFromTerms(ctx)
	case models.ScopeProvisionalToRefined:
		return e.executeProvisionalToRefined(ctx)
	}
	return nil
}

// executeFull is the head of the full graph:
// load_documents → extract_terms → generate → review → refine → persist.
// An extract-scope run stops after extraction.
func (e *Executor) executeFull(ctx context.Context, scope models.Scope, documentIDs []int64) error {
	if err := checkCancelled(ctx); err != nil {
		return err
	}
	docs, err := e.loadDocuments(ctx, documentIDs)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		e.emitLog(events.LevelWarning, "no documents registered, nothing to do", "load")
		return nil
	}
	e.emitLog(events.LevelInfo, fmt.Sprintf("loaded %d documents", len(docs)), "load")

	terms, err := e.extractTerms(ctx, docs)
	if err != nil {
		return err
	}
	if scope == models.ScopeExtract {
		return nil
	}

	// Generation works over the whole persisted term set, not just this
	// run's additions.
	extracted, err := repository.ListExtractedTerms(ctx, e.db)
	if err != nil {
		return err
	}
	terms = termRefsFromRows(extracted)

	allDocs, err := repository.ListDocuments(ctx, e.db)
	if err != nil {
		return err
	}
	return e.generateReviewRefine(ctx, terms, allDocs)
}

// executeFromTerms re-runs the glossary stages over already-extracted terms.
func (e *Executor) executeFromTerms(ctx context.Context) error {
	if err := checkCancelled(ctx); err != nil {
		return err
	}
	docs, err := e.loadDocuments(ctx, nil)
	if err != nil {
		return err
	}
	extracted, err := repository.ListExtractedTerms(ctx, e.db)
	if err != nil {
		return err
	}
	if len(extracted) == 0 {
		e.emitLog(events.LevelWarning, "no extracted terms, nothing to do", "load")
		return nil
	}
	return e.generateReviewRefine(ctx, termRefsFromRows(extracted), docs)
}

// executeProvisionalToRefined re-reviews the provisional glossary and
// refines it without regenerating definitions.
func (e *Executor) executeProvisionalToRefined(ctx context.Context) error {
	if err := checkCancelled(ctx); err != nil {
		return err
	}
	docs, err := e.loadDocuments(ctx, nil)
	if err != nil {
		return err
	}
	entries, err := repository.ListGlossaryEntries(ctx, e.db, repository.TableProvisional)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		e.emitLog(events.LevelWarning, "no provisional entries, nothing to do", "load")
		return nil
	}

	issues, err := e.review(ctx, entries, docs)
	if err != nil {
		return err
	}
	if err := database.Transaction(ctx, e.db, func(ctx context.Context, q database.Querier) error {
		return repository.InsertIssues(ctx, q, issues)
	}); err != nil {
		return err
	}
	return e.refineAndPersist(ctx, entries, issues, docs)
}

// loadDocuments reads the corpus. The database is the source of truth; the
// filesystem is consulted only when the database holds no documents and a
// doc_root is configured, in which case the files are imported in a single
// transaction before the run continues.
func (e *Executor) loadDocuments(ctx context.Context, documentIDs []int64) ([]*models.Document, error) {
	if len(documentIDs) > 0 {
		return repository.GetDocumentsByIDs(ctx, e.db, documentIDs)
	}

	docs, err := repository.ListDocuments(ctx, e.db)
	if err != nil {
		return nil, err
	}
	if len(docs) > 0 || e.docRoot == "" {
		return docs, nil
	}

	imported, err := e.importFromDisk(ctx)
	if err != nil {
		return nil, err
	}
	if imported == 0 {
		return nil, nil
	}
	return repository.ListDocuments(ctx, e.db)
}

func (e *Executor) importFromDisk(ctx context.Context) (int, error) {
	type file struct {
		name    string
		content string
	}
	var files []file

	walkErr := filepath.WalkDir(e.docRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(e.docRoot, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		name, err := models.ValidateFileName(rel)
		if err != nil {
			e.logger.Warn("Skipping file with invalid name", "file", rel, "error", err)
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if len(data) > models.MaxDocumentBytes {
			e.logger.Warn("Skipping oversized file", "file", rel, "bytes", len(data))
			return nil
		}
		files = append(files, file{name: name, content: string(data)})
		return nil
	})
	if walkErr != nil {
		return 0, fmt.Errorf("scan doc root: %w", walkErr)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })

	err := database.Transaction(ctx, e.db, func(ctx context.Context, q database.Querier) error {
		for _, f := range files {
			if _, err := repository.CreateDocument(ctx, q, f.name, f.content); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("import documents: %w", err)
	}
	if len(files) > 0 {
		e.emitLog(events.LevelInfo,
			fmt.Sprintf("imported %d documents from %s", len(files), e.docRoot), "load")
	}
	return len(files), nil
}

// extractTerms surfaces candidates per document, deduplicates across
// documents before any LLM call, classifies, and persists the batch in one
// transaction.
func (e *Executor) extractTerms(ctx context.Context, docs []*models.Document) ([]models.TermRef, error) {
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}

	required, err := repository.ListRequiredTerms(ctx, e.db)
	if err != nil {
		return nil, err
	}
	excluded, err := repository.ListExcludedTerms(ctx, e.db)
	if err != nil {
		return nil, err
	}

	requiredTexts := make([]string, len(required))
	requiredSet := make(map[string]bool, len(required))
	for i, t := range required {
		requiredTexts[i] = t.TermText
		requiredSet[t.TermText] = true
	}
	// A required term is never filtered, even when also excluded.
	blocked := make(map[string]bool, len(excluded))
	for _, t := range excluded {
		if !requiredSet[t.TermText] {
			blocked[t.TermText] = true
		}
	}

	totalCandidates := 0
	seen := make(map[string]bool)
	var unique []string
	for _, doc := range docs {
		candidates := e.extractor.Candidates(doc.Content, requiredTexts, blocked)
		totalCandidates += len(candidates)
		for _, term := range candidates {
			if !seen[term] {
				seen[term] = true
				unique = append(unique, term)
			}
		}
	}
	e.emitLog(events.LevelInfo,
		fmt.Sprintf("deduplicated %d candidates to %d unique terms", totalCandidates, len(unique)),
		"extract")

	refs, err := e.extractor.Classify(ctx, unique, func(done, total int) {
		e.emitProgress("extract", done, total, "")
	})
	if err != nil {
		return nil, err
	}

	rows := make([]models.ExtractedTerm, len(refs))
	for i, ref := range refs {
		rows[i] = models.ExtractedTerm{TermText: ref.Text, Category: ref.Category}
	}
	err = database.Transaction(ctx, e.db, func(ctx context.Context, q database.Querier) error {
		return repository.InsertExtractedTerms(ctx, q, rows)
	})
	if err != nil {
		return nil, err
	}
	e.emitLog(events.LevelInfo, fmt.Sprintf("extracted %d terms", len(rows)), "extract")
	return refs, nil
}

// generateReviewRefine runs the glossary half of the graph. Provisional
// entries and issues are persisted together only after review completes, so
// a cancel during generation or review leaves both tables empty.
func (e *Executor) generateReviewRefine(ctx context.Context, terms []models.TermRef, docs []*models.Document) error {
	if err := checkCancelled(ctx); err != nil {
		return err
	}

	entries, err := e.generator.Generate(ctx, terms, docs, func(done, total int, term string) {
		e.emitProgress("generate", done, total, term)
	})
	if err != nil {
		return err
	}
	e.emitLog(events.LevelInfo, fmt.Sprintf("generated %d provisional entries", len(entries)), "generate")

	issues, err := e.review(ctx, entries, docs)
	if err != nil {
		return err
	}

	err = database.Transaction(ctx, e.db, func(ctx context.Context, q database.Querier) error {
		if err := repository.InsertGlossaryEntries(ctx, q, repository.TableProvisional, entries); err != nil {
			return err
		}
		return repository.InsertIssues(ctx, q, issues)
	})
	if err != nil {
		return err
	}

	return e.refineAndPersist(ctx, entries, issues, docs)
}

func (e *Executor) review(ctx context.Context, entries []models.GlossaryEntry, docs []*models.Document) ([]models.Issue, error) {
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}
	issues, err := e.reviewer.Review(ctx, entries, docs)
	if err != nil {
		return nil, err
	}
	e.emitLog(events.LevelInfo, fmt.Sprintf("review found %d issues", len(issues)), "review")
	return issues, nil
}

func (e *Executor) refineAndPersist(ctx context.Context, entries []models.GlossaryEntry, issues []models.Issue, docs []*models.Document) error {
	if err := checkCancelled(ctx); err != nil {
		return err
	}
	refined, err := e.refiner.Refine(ctx, entries, issues, docs, func(done, total int, term string) {
		e.emitProgress("refine", done, total, term)
	})
	if err != nil {
		return err
	}

	// A cancel served during the last refinement must not produce visible
	// output: re-check before anything is written.
	if err := checkCancelled(ctx); err != nil {
		return err
	}

	groups := groupSynonyms(refined)
	err = database.Transaction(ctx, e.db, func(ctx context.Context, q database.Querier) error {
		if err := repository.InsertGlossaryEntries(ctx, q, repository.TableRefined, refined); err != nil {
			return err
		}
		return repository.ReplaceSynonymGroups(ctx, q, groups)
	})
	if err != nil {
		return err
	}
	e.emitLog(events.LevelInfo, fmt.Sprintf("persisted %d refined entries", len(refined)), "refine")
	return nil
}

// groupSynonyms folds refined entries with overlapping alias sets into
// synonym groups; the entry name is the designated primary and always a
// member.
func groupSynonyms(entries []models.GlossaryEntry) []models.SynonymGroup {
	var groups []models.SynonymGroup
	memberOf := make(map[string]int)

	for _, entry := range entries {
		if len(entry.Aliases) == 0 {
			continue
		}
		members := append([]string{entry.Name}, entry.Aliases...)

		target := -1
		for _, m := range members {
			if idx, ok := memberOf[m]; ok {
				target = idx
				break
			}
		}
		if target < 0 {
			groups = append(groups, models.SynonymGroup{PrimaryTermText: entry.Name, Members: nil})
			target = len(groups) - 1
		}
		for _, m := range members {
			if _, ok := memberOf[m]; !ok {
				memberOf[m] = target
				groups[target].Members = append(groups[target].Members, m)
			}
		}
	}

	// Keep only non-empty groups that contain their primary term.
	out := groups[:0]
	for _, g := range groups {
		if len(g.Members) > 0 && containsMember(g.Members, g.PrimaryTermText) {
			out = append(out, g)
		}
	}
	return out
}

func containsMember(members []string, s string) bool {
	for _, m := range members {
		if m == s {
			return true
		}
	}
	return false
}

// termRefsFromRows normalizes persisted rows to the classified variant at
// the stage boundary.
func termRefsFromRows(rows []models.ExtractedTerm) []models.TermRef {
	refs := make([]models.TermRef, len(rows))
	for i, row := range rows {
		refs[i] = models.Classified(row.TermText, row.Category)
	}
	return refs
}

func (e *Executor) emitLog(level, message, step string) {
	ev := events.LogEvent{RunID: e.ec.RunID, Level: level, Message: message, Step: step}
	safeCallback("log", func() {
		if e.ec.Log != nil {
			e.ec.Log(ev)
		}
	})
	if level == events.LevelError {
		e.logger.Error(message, "step", step)
	} else {
		e.logger.Info(message, "step", step)
	}
}

func (e *Executor) emitProgress(step string, current, total int, term string) {
	ev := events.LogEvent{
		RunID:           e.ec.RunID,
		Level:           events.LevelInfo,
		Message:         fmt.Sprintf("%s %d/%d", step, current, total),
		Step:            step,
		ProgressCurrent: &current,
		ProgressTotal:   &total,
	}
	if term != "" {
		ev.CurrentTerm = term
	}
	safeCallback("progress", func() {
		if e.ec.Log != nil {
			e.ec.Log(ev)
		}
	})
}
