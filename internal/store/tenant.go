package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rizrmd/clay-studio-sub001/internal/apperr"
	"github.com/rizrmd/clay-studio-sub001/internal/model"
)

// CreateTenant inserts a new tenant in TenantPending status.
func (r *Repository) CreateTenant(ctx context.Context, name string, cfg model.TenantConfig) (*model.Tenant, error) {
	t := &model.Tenant{
		ID:        uuid.New(),
		Name:      name,
		Status:    model.TenantPending,
		Config:    cfg,
		CreatedAt: time.Now().UTC(),
	}

	cfgJSON, err := json.Marshal(t.Config)
	if err != nil {
		return nil, apperr.Internal("marshal tenant config", err)
	}
	domainsJSON, _ := json.Marshal(t.Domains)

	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO tenants (id, name, status, install_path, config, agent_credential, domains, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), t.ID.String(), t.Name, t.Status, t.InstallPath, string(cfgJSON), t.AgentCredential, string(domainsJSON), t.CreatedAt)
	if err != nil {
		return nil, apperr.Internal("insert tenant", err)
	}
	return t, nil
}

// GetTenant fetches a tenant by ID, applying the status-repair invariant.
func (r *Repository) GetTenant(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	row := tenantRow{}
	err := r.ro.GetContext(ctx, &row, r.ro.Rebind(`
		SELECT id, name, status, install_path, config, agent_credential, domains, created_at, deleted_at
		FROM tenants WHERE id = ? AND deleted_at IS NULL
	`), id.String())
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("tenant", id.String())
	}
	if err != nil {
		return nil, apperr.Internal("query tenant", err)
	}
	return row.toModel()
}

// GetTenantByDomain resolves a tenant from a request Host header (§6.1).
func (r *Repository) GetTenantByDomain(ctx context.Context, domain string) (*model.Tenant, error) {
	rows := []tenantRow{}
	err := r.ro.SelectContext(ctx, &rows, r.ro.Rebind(`
		SELECT id, name, status, install_path, config, agent_credential, domains, created_at, deleted_at
		FROM tenants WHERE deleted_at IS NULL
	`))
	if err != nil {
		return nil, apperr.Internal("query tenants", err)
	}
	for _, row := range rows {
		t, err := row.toModel()
		if err != nil {
			continue
		}
		for _, d := range t.Domains {
			if strings.EqualFold(d, domain) {
				return t, nil
			}
		}
	}
	return nil, apperr.NotFound("tenant", domain)
}

// UpdateTenantInstall records a completed provisioning run (install path and
// credential), which moves status to Active per Tenant.Repair.
func (r *Repository) UpdateTenantInstall(ctx context.Context, id uuid.UUID, installPath, credential string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE tenants SET install_path = ?, agent_credential = ?, status = ? WHERE id = ? AND deleted_at IS NULL
	`), installPath, credential, model.TenantActive, id.String())
	if err != nil {
		return apperr.Internal("update tenant install", err)
	}
	return checkRowsAffected(res, "tenant", id.String())
}

// UpdateTenantStatus sets the tenant's status directly, used for
// TenantInstalling/TenantError transitions.
func (r *Repository) UpdateTenantStatus(ctx context.Context, id uuid.UUID, status model.TenantStatus) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE tenants SET status = ? WHERE id = ? AND deleted_at IS NULL
	`), status, id.String())
	if err != nil {
		return apperr.Internal("update tenant status", err)
	}
	return checkRowsAffected(res, "tenant", id.String())
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Internal(fmt.Sprintf("rows affected for %s", resource), err)
	}
	if n == 0 {
		return apperr.NotFound(resource, id)
	}
	return nil
}

// tenantRow mirrors the tenants table layout for scanning before converting
// to model.Tenant (domains/config are stored as JSON text columns).
type tenantRow struct {
	ID              string         `db:"id"`
	Name            string         `db:"name"`
	Status          string         `db:"status"`
	InstallPath     string         `db:"install_path"`
	Config          string         `db:"config"`
	AgentCredential sql.NullString `db:"agent_credential"`
	Domains         string         `db:"domains"`
	CreatedAt       time.Time      `db:"created_at"`
	DeletedAt       sql.NullTime   `db:"deleted_at"`
}

func (row tenantRow) toModel() (*model.Tenant, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, err
	}
	t := &model.Tenant{
		ID:          id,
		Name:        row.Name,
		Status:      model.TenantStatus(row.Status),
		InstallPath: row.InstallPath,
		CreatedAt:   row.CreatedAt,
	}
	if err := json.Unmarshal([]byte(row.Config), &t.Config); err != nil {
		t.Config = model.TenantConfig{}
	}
	if row.Domains != "" {
		_ = json.Unmarshal([]byte(row.Domains), &t.Domains)
	}
	if row.AgentCredential.Valid {
		cred := row.AgentCredential.String
		t.AgentCredential = &cred
	}
	if row.DeletedAt.Valid {
		t.DeletedAt = &row.DeletedAt.Time
	}
	t.Repair()
	return t, nil
}
