package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/rizrmd/clay-studio-sub001/internal/apperr"
	"github.com/rizrmd/clay-studio-sub001/internal/model"
)

// CreateUser hashes password and inserts a new user scoped to tenantID.
func (r *Repository) CreateUser(ctx context.Context, tenantID uuid.UUID, username, password string, role model.Role) (*model.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperr.Internal("hash password", err)
	}

	u := &model.User{
		ID:           uuid.New(),
		TenantID:     tenantID,
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}

	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO users (id, tenant_id, username, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), u.ID.String(), u.TenantID.String(), u.Username, u.PasswordHash, u.Role, u.CreatedAt)
	if err != nil {
		return nil, apperr.Internal("insert user", err)
	}
	return u, nil
}

// GetUserByUsername looks up a user within a tenant for login.
func (r *Repository) GetUserByUsername(ctx context.Context, tenantID uuid.UUID, username string) (*model.User, error) {
	row := userRow{}
	err := r.ro.GetContext(ctx, &row, r.ro.Rebind(`
		SELECT id, tenant_id, username, password_hash, role, created_at
		FROM users WHERE tenant_id = ? AND username = ?
	`), tenantID.String(), username)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("user", username)
	}
	if err != nil {
		return nil, apperr.Internal("query user", err)
	}
	return row.toModel()
}

// GetUser looks up a user by ID, scoped to a tenant.
func (r *Repository) GetUser(ctx context.Context, tenantID, id uuid.UUID) (*model.User, error) {
	row := userRow{}
	err := r.ro.GetContext(ctx, &row, r.ro.Rebind(`
		SELECT id, tenant_id, username, password_hash, role, created_at
		FROM users WHERE tenant_id = ? AND id = ?
	`), tenantID.String(), id.String())
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("user", id.String())
	}
	if err != nil {
		return nil, apperr.Internal("query user", err)
	}
	return row.toModel()
}

// VerifyPassword compares a plaintext password against the stored hash.
func VerifyPassword(u *model.User, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

type userRow struct {
	ID           string    `db:"id"`
	TenantID     string    `db:"tenant_id"`
	Username     string    `db:"username"`
	PasswordHash string    `db:"password_hash"`
	Role         string    `db:"role"`
	CreatedAt    time.Time `db:"created_at"`
}

func (row userRow) toModel() (*model.User, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, err
	}
	tenantID, err := uuid.Parse(row.TenantID)
	if err != nil {
		return nil, err
	}
	return &model.User{
		ID:           id,
		TenantID:     tenantID,
		Username:     row.Username,
		PasswordHash: row.PasswordHash,
		Role:         model.Role(row.Role),
		CreatedAt:    row.CreatedAt,
	}, nil
}
