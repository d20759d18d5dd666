package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rizrmd/clay-studio-sub001/internal/apperr"
	"github.com/rizrmd/clay-studio-sub001/internal/model"
)

// CreateDatasource registers a new datasource under a project.
func (r *Repository) CreateDatasource(ctx context.Context, projectID uuid.UUID, name string, sourceType model.SourceType, connConfig json.RawMessage) (*model.Datasource, error) {
	d := &model.Datasource{
		ID:               uuid.New(),
		ProjectID:        projectID,
		Name:             name,
		SourceType:       sourceType,
		ConnectionConfig: connConfig,
		IsActive:         true,
		CreatedAt:        time.Now().UTC(),
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO datasources (id, project_id, name, source_type, connection_config, schema_cache, is_active, last_tested_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), d.ID.String(), d.ProjectID.String(), d.Name, string(d.SourceType), string(d.ConnectionConfig), nil, d.IsActive, nil, d.CreatedAt)
	if err != nil {
		return nil, apperr.Internal("insert datasource", err)
	}
	return d, nil
}

// GetDatasource fetches a datasource scoped to its project.
func (r *Repository) GetDatasource(ctx context.Context, projectID, id uuid.UUID) (*model.Datasource, error) {
	row := datasourceRow{}
	err := r.ro.GetContext(ctx, &row, r.ro.Rebind(`
		SELECT id, project_id, name, source_type, connection_config, schema_cache, is_active, last_tested_at, created_at, deleted_at
		FROM datasources WHERE project_id = ? AND id = ? AND deleted_at IS NULL
	`), projectID.String(), id.String())
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("datasource", id.String())
	}
	if err != nil {
		return nil, apperr.Internal("query datasource", err)
	}
	return row.toModel()
}

// ListDatasources returns all non-deleted datasources for a project.
func (r *Repository) ListDatasources(ctx context.Context, projectID uuid.UUID) ([]*model.Datasource, error) {
	rows := []datasourceRow{}
	err := r.ro.SelectContext(ctx, &rows, r.ro.Rebind(`
		SELECT id, project_id, name, source_type, connection_config, schema_cache, is_active, last_tested_at, created_at, deleted_at
		FROM datasources WHERE project_id = ? AND deleted_at IS NULL ORDER BY created_at
	`), projectID.String())
	if err != nil {
		return nil, apperr.Internal("list datasources", err)
	}
	out := make([]*model.Datasource, 0, len(rows))
	for _, row := range rows {
		d, err := row.toModel()
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// UpdateDatasourceSchema caches the introspected schema and marks the
// connection test time, used after analyze_database/connector probing.
func (r *Repository) UpdateDatasourceSchema(ctx context.Context, id uuid.UUID, schemaCache json.RawMessage) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE datasources SET schema_cache = ?, last_tested_at = ? WHERE id = ? AND deleted_at IS NULL
	`), string(schemaCache), time.Now().UTC(), id.String())
	if err != nil {
		return apperr.Internal("update datasource schema", err)
	}
	return checkRowsAffected(res, "datasource", id.String())
}

// DeleteDatasource soft-deletes a datasource; callers must also evict any
// pooled connection for it from the connection pool registry.
func (r *Repository) DeleteDatasource(ctx context.Context, projectID, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE datasources SET deleted_at = ?, is_active = 0 WHERE project_id = ? AND id = ? AND deleted_at IS NULL
	`), time.Now().UTC(), projectID.String(), id.String())
	if err != nil {
		return apperr.Internal("delete datasource", err)
	}
	return checkRowsAffected(res, "datasource", id.String())
}

type datasourceRow struct {
	ID               string         `db:"id"`
	ProjectID        string         `db:"project_id"`
	Name             string         `db:"name"`
	SourceType       string         `db:"source_type"`
	ConnectionConfig string         `db:"connection_config"`
	SchemaCache      sql.NullString `db:"schema_cache"`
	IsActive         bool           `db:"is_active"`
	LastTestedAt     sql.NullTime   `db:"last_tested_at"`
	CreatedAt        time.Time      `db:"created_at"`
	DeletedAt        sql.NullTime   `db:"deleted_at"`
}

func (row datasourceRow) toModel() (*model.Datasource, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, err
	}
	projectID, err := uuid.Parse(row.ProjectID)
	if err != nil {
		return nil, err
	}
	d := &model.Datasource{
		ID:               id,
		ProjectID:        projectID,
		Name:             row.Name,
		SourceType:       model.SourceType(row.SourceType),
		ConnectionConfig: json.RawMessage(row.ConnectionConfig),
		IsActive:         row.IsActive,
		CreatedAt:        row.CreatedAt,
	}
	if row.SchemaCache.Valid {
		d.SchemaCache = json.RawMessage(row.SchemaCache.String)
	}
	if row.LastTestedAt.Valid {
		d.LastTestedAt = &row.LastTestedAt.Time
	}
	if row.DeletedAt.Valid {
		d.DeletedAt = &row.DeletedAt.Time
	}
	return d, nil
}
