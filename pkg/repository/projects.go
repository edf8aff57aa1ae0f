package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lexigen/lexigen/pkg/database"
	"github.com/lexigen/lexigen/pkg/models"
)

const projectColumns = "id, name, doc_root, llm_provider, llm_model, llm_base_url, created_at"

// CreateProject inserts a catalog entry and returns its id. The per-project
// database file is not touched here; it is created lazily on first write.
func CreateProject(ctx context.Context, q database.Querier, p *models.Project) (int64, error) {
	createdAt, err := database.ToISO(database.NowUTC())
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx,
		`INSERT INTO projects (name, doc_root, llm_provider, llm_model, llm_base_url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.Name, p.DocRoot, p.LLMProvider, p.LLMModel, p.LLMBaseURL, createdAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("project %q: %w", p.Name, ErrDuplicate)
		}
		return 0, fmt.Errorf("insert project: %w", err)
	}
	return res.LastInsertId()
}

// GetProject returns a project by id, or ErrNotFound.
func GetProject(ctx context.Context, q database.Querier, id int64) (*models.Project, error) {
	row := q.QueryRowContext(ctx, "SELECT "+projectColumns+" FROM projects WHERE id = ?", id)
	return scanProject(row)
}

// GetProjectByName returns a project by unique name, or ErrNotFound.
func GetProjectByName(ctx context.Context, q database.Querier, name string) (*models.Project, error) {
	row := q.QueryRowContext(ctx, "SELECT "+projectColumns+" FROM projects WHERE name = ?", name)
	return scanProject(row)
}

// ListProjects returns all catalog entries ordered by name.
func ListProjects(ctx context.Context, q database.Querier) ([]*models.Project, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+projectColumns+" FROM projects ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpdateProjectSettings updates the mutable project fields.
func UpdateProjectSettings(ctx context.Context, q database.Querier, id int64, docRoot, provider, model, baseURL string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE projects SET doc_root = ?, llm_provider = ?, llm_model = ?, llm_base_url = ? WHERE id = ?`,
		docRoot, provider, model, baseURL, id,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanProject(row rowScanner) (*models.Project, error) {
	var (
		p         models.Project
		createdAt string
	)
	err := row.Scan(&p.ID, &p.Name, &p.DocRoot, &p.LLMProvider, &p.LLMModel, &p.LLMBaseURL, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}
	created, err := database.FromISO(createdAt)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = created
	return &p, nil
}
