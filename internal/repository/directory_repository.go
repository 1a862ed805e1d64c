package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-wf-approvals/internal/domain"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/database"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/errors"
)

// DirectoryRepository reads users, projects and project membership.
type DirectoryRepository struct {
	db *database.DB
}

// NewDirectoryRepository creates a new DirectoryRepository.
func NewDirectoryRepository(db *database.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// GetUser retrieves a user by ID.
func (r *DirectoryRepository) GetUser(ctx context.Context, id string) (*domain.User, error) {
	if !isUUID(id) {
		return nil, errors.NotFound("user", id)
	}

	u := &domain.User{}
	err := r.db.QueryRow(ctx, `SELECT id, name, email FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &u.Email)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get user")
	}
	return u, nil
}

// GetUsers resolves ids in one query. Unknown or malformed ids are absent
// from the result.
func (r *DirectoryRepository) GetUsers(ctx context.Context, ids []string) ([]*domain.User, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if isUUID(id) {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx, `SELECT id, name, email FROM users WHERE id = ANY($1::uuid[])`, valid)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get users")
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u := &domain.User{}
		if err := rows.Scan(&u.ID, &u.Name, &u.Email); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan user")
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read users")
	}
	return users, nil
}

// GetProject retrieves a project with its budget.
func (r *DirectoryRepository) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	if !isUUID(id) {
		return nil, errors.NotFound("project", id)
	}

	p := &domain.Project{}
	err := r.db.QueryRow(ctx,
		`SELECT id, name, total_budget, used_budget FROM projects WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.TotalBudget, &p.UsedBudget)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("project", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get project")
	}
	return p, nil
}

// IsProjectMember reports whether userID belongs to projectID.
func (r *DirectoryRepository) IsProjectMember(ctx context.Context, projectID, userID string) (bool, error) {
	if !isUUID(projectID) || !isUUID(userID) {
		return false, nil
	}

	var member bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
		    SELECT 1 FROM project_members WHERE project_id = $1 AND user_id = $2
		)`, projectID, userID).Scan(&member)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to check project membership")
	}
	return member, nil
}
