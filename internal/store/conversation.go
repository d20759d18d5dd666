package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/rizrmd/clay-studio-sub001/internal/apperr"
	"github.com/rizrmd/clay-studio-sub001/internal/model"
)

// CreateConversation starts a new conversation under a project.
func (r *Repository) CreateConversation(ctx context.Context, projectID uuid.UUID) (*model.Conversation, error) {
	c := &model.Conversation{
		ID:         uuid.New(),
		ProjectID:  projectID,
		Visibility: model.VisibilityPrivate,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO conversations (id, project_id, title, is_title_manually_set, visibility, forgotten_after_message_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), c.ID.String(), c.ProjectID.String(), c.Title, c.IsTitleManuallySet, c.Visibility, nil, c.CreatedAt)
	if err != nil {
		return nil, apperr.Internal("insert conversation", err)
	}
	return c, nil
}

// GetConversation fetches a conversation scoped to its project.
func (r *Repository) GetConversation(ctx context.Context, projectID, id uuid.UUID) (*model.Conversation, error) {
	row := conversationRow{}
	err := r.ro.GetContext(ctx, &row, r.ro.Rebind(`
		SELECT id, project_id, title, is_title_manually_set, visibility, forgotten_after_message_id, created_at
		FROM conversations WHERE project_id = ? AND id = ?
	`), projectID.String(), id.String())
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("conversation", id.String())
	}
	if err != nil {
		return nil, apperr.Internal("query conversation", err)
	}
	return row.toModel()
}

// ListConversations returns conversations for a project, newest first.
func (r *Repository) ListConversations(ctx context.Context, projectID uuid.UUID) ([]*model.Conversation, error) {
	rows := []conversationRow{}
	err := r.ro.SelectContext(ctx, &rows, r.ro.Rebind(`
		SELECT id, project_id, title, is_title_manually_set, visibility, forgotten_after_message_id, created_at
		FROM conversations WHERE project_id = ? ORDER BY created_at DESC
	`), projectID.String())
	if err != nil {
		return nil, apperr.Internal("list conversations", err)
	}
	out := make([]*model.Conversation, 0, len(rows))
	for _, row := range rows {
		c, err := row.toModel()
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// SetConversationTitle sets the title, optionally marking it manually-set so
// the title-suggestion flow from a streaming turn won't overwrite it.
func (r *Repository) SetConversationTitle(ctx context.Context, id uuid.UUID, title string, manuallySet bool) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE conversations SET title = ?, is_title_manually_set = ? WHERE id = ?
	`), title, manuallySet, id.String())
	if err != nil {
		return apperr.Internal("set conversation title", err)
	}
	return checkRowsAffected(res, "conversation", id.String())
}

// DeleteConversation removes a conversation and its messages/tool usage
// rows (cascade is declared on the schema; see initConversationSchema).
func (r *Repository) DeleteConversation(ctx context.Context, projectID, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		DELETE FROM conversations WHERE project_id = ? AND id = ?
	`), projectID.String(), id.String())
	if err != nil {
		return apperr.Internal("delete conversation", err)
	}
	return checkRowsAffected(res, "conversation", id.String())
}

// BulkDeleteConversations removes every listed conversation under a
// project, skipping ids that don't exist rather than failing the batch.
func (r *Repository) BulkDeleteConversations(ctx context.Context, projectID uuid.UUID, ids []uuid.UUID) (int, error) {
	deleted := 0
	for _, id := range ids {
		if err := r.DeleteConversation(ctx, projectID, id); err != nil {
			if apperr.IsNotFound(err) {
				continue
			}
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// ForgetBefore sets the forgotten_after_message_id boundary: the agent
// context for this conversation excludes every message at or before it.
func (r *Repository) ForgetBefore(ctx context.Context, id, messageID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE conversations SET forgotten_after_message_id = ? WHERE id = ?
	`), messageID.String(), id.String())
	if err != nil {
		return apperr.Internal("forget before", err)
	}
	return checkRowsAffected(res, "conversation", id.String())
}

type conversationRow struct {
	ID                      string         `db:"id"`
	ProjectID               string         `db:"project_id"`
	Title                   sql.NullString `db:"title"`
	IsTitleManuallySet      bool           `db:"is_title_manually_set"`
	Visibility              string         `db:"visibility"`
	ForgottenAfterMessageID sql.NullString `db:"forgotten_after_message_id"`
	CreatedAt               time.Time      `db:"created_at"`
}

func (row conversationRow) toModel() (*model.Conversation, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, err
	}
	projectID, err := uuid.Parse(row.ProjectID)
	if err != nil {
		return nil, err
	}
	c := &model.Conversation{
		ID:                 id,
		ProjectID:          projectID,
		IsTitleManuallySet: row.IsTitleManuallySet,
		Visibility:         model.Visibility(row.Visibility),
		CreatedAt:          row.CreatedAt,
	}
	if row.Title.Valid {
		c.Title = &row.Title.String
	}
	if row.ForgottenAfterMessageID.Valid {
		if fid, err := uuid.Parse(row.ForgottenAfterMessageID.String); err == nil {
			c.ForgottenAfterMessageID = &fid
		}
	}
	return c, nil
}
