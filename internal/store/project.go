package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/rizrmd/clay-studio-sub001/internal/apperr"
	"github.com/rizrmd/clay-studio-sub001/internal/model"
)

// CreateProject inserts a new project under tenantID.
func (r *Repository) CreateProject(ctx context.Context, tenantID uuid.UUID, name string) (*model.Project, error) {
	p := &model.Project{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO projects (id, tenant_id, name, context_raw, context_compiled, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), p.ID.String(), p.TenantID.String(), p.Name, p.ContextRaw, p.ContextCompiled, p.CreatedAt)
	if err != nil {
		return nil, apperr.Internal("insert project", err)
	}
	return p, nil
}

// GetProject fetches a project scoped to a tenant.
func (r *Repository) GetProject(ctx context.Context, tenantID, id uuid.UUID) (*model.Project, error) {
	row := projectRow{}
	err := r.ro.GetContext(ctx, &row, r.ro.Rebind(`
		SELECT id, tenant_id, name, context_raw, context_compiled, created_at, deleted_at
		FROM projects WHERE tenant_id = ? AND id = ? AND deleted_at IS NULL
	`), tenantID.String(), id.String())
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("project", id.String())
	}
	if err != nil {
		return nil, apperr.Internal("query project", err)
	}
	return row.toModel()
}

// ListProjects returns all non-deleted projects for a tenant.
func (r *Repository) ListProjects(ctx context.Context, tenantID uuid.UUID) ([]*model.Project, error) {
	rows := []projectRow{}
	err := r.ro.SelectContext(ctx, &rows, r.ro.Rebind(`
		SELECT id, tenant_id, name, context_raw, context_compiled, created_at, deleted_at
		FROM projects WHERE tenant_id = ? AND deleted_at IS NULL ORDER BY created_at DESC
	`), tenantID.String())
	if err != nil {
		return nil, apperr.Internal("list projects", err)
	}
	out := make([]*model.Project, 0, len(rows))
	for _, row := range rows {
		p, err := row.toModel()
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// UpdateProjectContext writes the raw markdown context document and clears
// the compiled cache so the next agent turn recompiles it.
func (r *Repository) UpdateProjectContext(ctx context.Context, tenantID, id uuid.UUID, contextRaw string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE projects SET context_raw = ?, context_compiled = NULL
		WHERE tenant_id = ? AND id = ? AND deleted_at IS NULL
	`), contextRaw, tenantID.String(), id.String())
	if err != nil {
		return apperr.Internal("update project context", err)
	}
	return checkRowsAffected(res, "project", id.String())
}

// DeleteProject soft-deletes a project.
func (r *Repository) DeleteProject(ctx context.Context, tenantID, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE projects SET deleted_at = ? WHERE tenant_id = ? AND id = ? AND deleted_at IS NULL
	`), time.Now().UTC(), tenantID.String(), id.String())
	if err != nil {
		return apperr.Internal("delete project", err)
	}
	return checkRowsAffected(res, "project", id.String())
}

type projectRow struct {
	ID              string         `db:"id"`
	TenantID        string         `db:"tenant_id"`
	Name            string         `db:"name"`
	ContextRaw      string         `db:"context_raw"`
	ContextCompiled sql.NullString `db:"context_compiled"`
	CreatedAt       time.Time      `db:"created_at"`
	DeletedAt       sql.NullTime   `db:"deleted_at"`
}

func (row projectRow) toModel() (*model.Project, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, err
	}
	tenantID, err := uuid.Parse(row.TenantID)
	if err != nil {
		return nil, err
	}
	p := &model.Project{
		ID:         id,
		TenantID:   tenantID,
		Name:       row.Name,
		ContextRaw: row.ContextRaw,
		CreatedAt:  row.CreatedAt,
	}
	if row.ContextCompiled.Valid {
		p.ContextCompiled = &row.ContextCompiled.String
	}
	if row.DeletedAt.Valid {
		p.DeletedAt = &row.DeletedAt.Time
	}
	return p, nil
}
