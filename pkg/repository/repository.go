// Package repository holds the data-access functions, one file per
// aggregate. Repository functions execute SQL on a database.Querier and
// never commit; callers wrap calls in database.Transaction.
package repository

import "errors"

// Sentinel errors shared by all repositories.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate indicates a uniqueness violation (term text, project name).
	ErrDuplicate = errors.New("already exists")
)
