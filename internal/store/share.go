package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/rizrmd/clay-studio-sub001/internal/apperr"
	"github.com/rizrmd/clay-studio-sub001/internal/model"
)

// CreateShare mints a new share token for a project.
func (r *Repository) CreateShare(ctx context.Context, projectID uuid.UUID, shareType model.ShareType, isReadOnly bool) (*model.Share, error) {
	token, err := randomShareToken()
	if err != nil {
		return nil, apperr.Internal("generate share token", err)
	}
	s := &model.Share{
		ID:         uuid.New(),
		ProjectID:  projectID,
		ShareToken: token,
		ShareType:  shareType,
		IsReadOnly: isReadOnly,
		CreatedAt:  time.Now().UTC(),
	}
	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO shares (id, project_id, share_token, share_type, settings, is_read_only, max_messages_per_session, expires_at, view_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), s.ID.String(), s.ProjectID.String(), s.ShareToken, string(s.ShareType), nil, s.IsReadOnly, nil, nil, 0, s.CreatedAt)
	if err != nil {
		return nil, apperr.Internal("insert share", err)
	}
	return s, nil
}

// GetShareByToken resolves a share from its public token, rejecting
// expired or deleted shares.
func (r *Repository) GetShareByToken(ctx context.Context, token string) (*model.Share, error) {
	row := shareRow{}
	err := r.ro.GetContext(ctx, &row, r.ro.Rebind(`
		SELECT id, project_id, share_token, share_type, settings, is_read_only, max_messages_per_session, expires_at, view_count, created_at, deleted_at
		FROM shares WHERE share_token = ? AND deleted_at IS NULL
	`), token)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("share", token)
	}
	if err != nil {
		return nil, apperr.Internal("query share", err)
	}
	s, err := row.toModel()
	if err != nil {
		return nil, err
	}
	if s.ExpiresAt != nil && time.Now().UTC().After(*s.ExpiresAt) {
		return nil, apperr.NotFound("share", token)
	}
	return s, nil
}

// IncrementShareViewCount bumps view_count for analytics.
func (r *Repository) IncrementShareViewCount(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE shares SET view_count = view_count + 1 WHERE id = ?
	`), id.String())
	if err != nil {
		return apperr.Internal("increment share view count", err)
	}
	return nil
}

// RevokeShare soft-deletes a share, invalidating its token immediately.
func (r *Repository) RevokeShare(ctx context.Context, projectID, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE shares SET deleted_at = ? WHERE project_id = ? AND id = ? AND deleted_at IS NULL
	`), time.Now().UTC(), projectID.String(), id.String())
	if err != nil {
		return apperr.Internal("revoke share", err)
	}
	return checkRowsAffected(res, "share", id.String())
}

func randomShareToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

type shareRow struct {
	ID                    string         `db:"id"`
	ProjectID             string         `db:"project_id"`
	ShareToken            string         `db:"share_token"`
	ShareType             string         `db:"share_type"`
	Settings              sql.NullString `db:"settings"`
	IsReadOnly            bool           `db:"is_read_only"`
	MaxMessagesPerSession sql.NullInt64  `db:"max_messages_per_session"`
	ExpiresAt             sql.NullTime   `db:"expires_at"`
	ViewCount             int64          `db:"view_count"`
	CreatedAt             time.Time      `db:"created_at"`
	DeletedAt             sql.NullTime   `db:"deleted_at"`
}

func (row shareRow) toModel() (*model.Share, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, err
	}
	projectID, err := uuid.Parse(row.ProjectID)
	if err != nil {
		return nil, err
	}
	s := &model.Share{
		ID:         id,
		ProjectID:  projectID,
		ShareToken: row.ShareToken,
		ShareType:  model.ShareType(row.ShareType),
		IsReadOnly: row.IsReadOnly,
		ViewCount:  row.ViewCount,
		CreatedAt:  row.CreatedAt,
	}
	if row.MaxMessagesPerSession.Valid {
		n := int(row.MaxMessagesPerSession.Int64)
		s.MaxMessagesPerSession = &n
	}
	if row.ExpiresAt.Valid {
		s.ExpiresAt = &row.ExpiresAt.Time
	}
	if row.DeletedAt.Valid {
		s.DeletedAt = &row.DeletedAt.Time
	}
	return s, nil
}
