// Package models defines the domain entities shared across repositories,
// the pipeline, and the HTTP API.
package models

import "time"

// Scope selects the sub-graph of pipeline stages a run executes and the
// matching table-clear policy.
type Scope string

// Run scopes.
const (
	ScopeFull                 Scope = "full"
	ScopeExtract              Scope = "extract"
	ScopeFromTerms            Scope = "from_terms"
	ScopeProvisionalToRefined Scope = "provisional_to_refined"
)

// ValidScope reports whether s is a known scope.
func ValidScope(s Scope) bool {
	switch s {
	case ScopeFull, ScopeExtract, ScopeFromTerms, ScopeProvisionalToRefined:
		return true
	}
	return false
}

// RunStatus is the lifecycle state of a run.
type RunStatus string

// Run statuses. Completed, failed and cancelled are terminal: once a run
// reaches one of them no field of the run mutates again.
const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is one of the terminal states.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// Run is a single end-to-end or partial pipeline execution for one project.
type Run struct {
	ID           int64      `json:"id"`
	Scope        Scope      `json:"scope"`
	Status       RunStatus  `json:"status"`
	TriggeredBy  string     `json:"triggered_by"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	DocumentIDs  []int64    `json:"document_ids,omitempty"`
}

// Project is a catalog entry. Its name is the directory segment under which
// the per-project database lives.
type Project struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	DocRoot     string    `json:"doc_root"`
	LLMProvider string    `json:"llm_provider"`
	LLMModel    string    `json:"llm_model"`
	LLMBaseURL  string    `json:"llm_base_url"`
	CreatedAt   time.Time `json:"created_at"`
}

// Document is a registered corpus file.
type Document struct {
	ID          int64  `json:"id"`
	FileName    string `json:"file_name"`
	Content     string `json:"content"`
	ContentHash string `json:"content_hash"`
}

// MaxDocumentBytes caps document content size on upload.
const MaxDocumentBytes = 3 << 20

// Category classifies an extracted term.
type Category string

// Term categories assigned by the LLM classification pass.
const (
	CategoryPersonName   Category = "person_name"
	CategoryPlaceName    Category = "place_name"
	CategoryOrganization Category = "organization"
	CategoryWorkName     Category = "work_name"
	CategoryTechnical    Category = "technical"
	CategoryCoined       Category = "coined"
	CategoryCommonNoun   Category = "common_noun"
)

// Categories lists every valid category in a stable order.
func Categories() []Category {
	return []Category{
		CategoryPersonName, CategoryPlaceName, CategoryOrganization,
		CategoryWorkName, CategoryTechnical, CategoryCoined, CategoryCommonNoun,
	}
}

// ValidCategory reports whether c is a known category.
func ValidCategory(c Category) bool {
	for _, v := range Categories() {
		if c == v {
			return true
		}
	}
	return false
}

// ExtractedTerm is a candidate term surfaced by the extraction stage.
// Synthetic rows sourced from required-only terms carry negative ids.
type ExtractedTerm struct {
	ID       int64    `json:"id"`
	TermText string   `json:"term_text"`
	Category Category `json:"category,omitempty"`
}

// TermSource records whether a curated term came from the pipeline or a user.
type TermSource string

// Term sources.
const (
	TermSourceAuto   TermSource = "auto"
	TermSourceManual TermSource = "manual"
)

// CuratedTerm is an excluded or required term. Text is NFC-normalized and
// trimmed before persistence and unique per table.
type CuratedTerm struct {
	ID        int64      `json:"id"`
	TermText  string     `json:"term_text"`
	Source    TermSource `json:"source"`
	CreatedAt time.Time  `json:"created_at"`
}

// GlossaryEntry is a provisional or refined glossary row; the two tables
// share this shape.
type GlossaryEntry struct {
	ID         int64    `json:"id"`
	Name       string   `json:"name"`
	Definition string   `json:"definition"`
	Confidence float64  `json:"confidence"`
	Aliases    []string `json:"aliases"`
}

// Issue is a reviewer-identified defect attached to a provisional entry.
type Issue struct {
	ID          int64  `json:"id"`
	TermName    string `json:"term_name"`
	IssueType   string `json:"issue_type"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// SynonymGroup is an equivalence class of surface forms with one designated
// primary. Invariant: PrimaryTermText is always a member.
type SynonymGroup struct {
	ID              int64    `json:"id"`
	PrimaryTermText string   `json:"primary_term_text"`
	Members         []string `json:"members"`
}

// TermRef is the tagged term variant flowing through the executor: plain
// extraction output before classification, category-tagged afterwards.
// Stages normalize to the classified form at their boundary.
type TermRef struct {
	Text       string
	Category   Category
	Classified bool
}

// Classified tags a TermRef with its category.
func Classified(text string, category Category) TermRef {
	return TermRef{Text: text, Category: category, Classified: true}
}

// Unclassified wraps raw extraction output.
func Unclassified(text string) TermRef {
	return TermRef{Text: text}
}
