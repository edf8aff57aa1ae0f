package api

// StartRunRequest is the body of POST /api/projects/:pid/runs.
type StartRunRequest struct {
	Scope       string  `json:"scope" binding:"required"`
	DocumentIDs []int64 `json:"document_ids"`
}

// CreateProjectRequest is the body of POST /api/projects.
type CreateProjectRequest struct {
	Name        string `json:"name" binding:"required"`
	DocRoot     string `json:"doc_root"`
	LLMProvider string `json:"llm_provider"`
	LLMModel    string `json:"llm_model"`
	LLMBaseURL  string `json:"llm_base_url"`
}

// PatchProjectRequest is the body of PATCH /api/projects/:pid. Nil fields
// are left unchanged.
type PatchProjectRequest struct {
	DocRoot     *string `json:"doc_root"`
	LLMProvider *string `json:"llm_provider"`
	LLMModel    *string `json:"llm_model"`
	LLMBaseURL  *string `json:"llm_base_url"`
}

// BulkFileEntry is one file in a bulk upload.
type BulkFileEntry struct {
	FileName string `json:"file_name"`
	Content  string `json:"content"`
}

// BulkFilesRequest is the body of POST /api/projects/:pid/files/bulk.
type BulkFilesRequest struct {
	Files []BulkFileEntry `json:"files" binding:"required"`
}

// BulkFileError reports one rejected entry.
type BulkFileError struct {
	FileName string `json:"file_name"`
	Error    string `json:"error"`
}

// TermRequest is the body for adding an excluded or required term.
type TermRequest struct {
	TermText string `json:"term_text" binding:"required"`
}

// PatchDocumentRequest replaces a document's content.
type PatchDocumentRequest struct {
	Content string `json:"content" binding:"required"`
}
