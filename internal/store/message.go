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

// CreateMessage appends a message to a conversation.
func (r *Repository) CreateMessage(ctx context.Context, conversationID uuid.UUID, role model.MessageRole, content string, attachments json.RawMessage) (*model.Message, error) {
	m := &model.Message{
		ID:              uuid.New(),
		ConversationID:  conversationID,
		Role:            role,
		Content:         content,
		FileAttachments: attachments,
		CreatedAt:       time.Now().UTC(),
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO messages (id, conversation_id, role, content, progress_content, file_attachments, processing_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), m.ID.String(), m.ConversationID.String(), string(m.Role), m.Content, nil, nullableJSON(attachments), nil, m.CreatedAt)
	if err != nil {
		return nil, apperr.Internal("insert message", err)
	}
	return m, nil
}

// UpdateMessageProgress appends streamed progress text (§4.5 Progress
// events) to the in-flight assistant message.
func (r *Repository) UpdateMessageProgress(ctx context.Context, id uuid.UUID, progress string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE messages SET progress_content = ? WHERE id = ?
	`), progress, id.String())
	if err != nil {
		return apperr.Internal("update message progress", err)
	}
	return checkRowsAffected(res, "message", id.String())
}

// FinalizeMessage sets the final content and processing duration once a
// streaming turn completes.
func (r *Repository) FinalizeMessage(ctx context.Context, id uuid.UUID, content string, processingTimeMs int64) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE messages SET content = ?, progress_content = NULL, processing_time_ms = ? WHERE id = ?
	`), content, processingTimeMs, id.String())
	if err != nil {
		return apperr.Internal("finalize message", err)
	}
	return checkRowsAffected(res, "message", id.String())
}

// ListMessages returns messages in a conversation in order, marking every
// message at or before forgottenAfterMessageID as IsForgotten (§3).
func (r *Repository) ListMessages(ctx context.Context, conversationID uuid.UUID, forgottenAfterMessageID *uuid.UUID) ([]*model.Message, error) {
	rows := []messageRow{}
	err := r.ro.SelectContext(ctx, &rows, r.ro.Rebind(`
		SELECT id, conversation_id, role, content, progress_content, file_attachments, processing_time_ms, created_at
		FROM messages WHERE conversation_id = ? ORDER BY created_at
	`), conversationID.String())
	if err != nil {
		return nil, apperr.Internal("list messages", err)
	}
	out := make([]*model.Message, 0, len(rows))
	forgetting := forgottenAfterMessageID != nil
	for _, row := range rows {
		m, err := row.toModel()
		if err != nil {
			continue
		}
		m.IsForgotten = forgetting
		out = append(out, m)
		if forgetting && forgottenAfterMessageID != nil && m.ID == *forgottenAfterMessageID {
			forgetting = false
		}
	}
	return out, nil
}

// CreateToolUsage records a completed tool call against a message.
func (r *Repository) CreateToolUsage(ctx context.Context, messageID uuid.UUID, toolName, toolUseID string, params, output json.RawMessage, executionTimeMs int64) (*model.ToolUsage, error) {
	tu := &model.ToolUsage{
		ID:              uuid.New(),
		MessageID:       messageID,
		ToolName:        toolName,
		ToolUseID:       toolUseID,
		Parameters:      params,
		Output:          output,
		ExecutionTimeMs: executionTimeMs,
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO tool_usages (id, message_id, tool_name, tool_use_id, parameters, output, execution_time_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), tu.ID.String(), tu.MessageID.String(), tu.ToolName, tu.ToolUseID, string(tu.Parameters), string(tu.Output), tu.ExecutionTimeMs)
	if err != nil {
		return nil, apperr.Internal("insert tool usage", err)
	}
	return tu, nil
}

// ListToolUsage returns every tool call recorded for a message.
func (r *Repository) ListToolUsage(ctx context.Context, messageID uuid.UUID) ([]*model.ToolUsage, error) {
	rows := []toolUsageRow{}
	err := r.ro.SelectContext(ctx, &rows, r.ro.Rebind(`
		SELECT id, message_id, tool_name, tool_use_id, parameters, output, execution_time_ms
		FROM tool_usages WHERE message_id = ?
	`), messageID.String())
	if err != nil {
		return nil, apperr.Internal("list tool usage", err)
	}
	out := make([]*model.ToolUsage, 0, len(rows))
	for _, row := range rows {
		tu, err := row.toModel()
		if err != nil {
			continue
		}
		out = append(out, tu)
	}
	return out, nil
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

type messageRow struct {
	ID               string         `db:"id"`
	ConversationID   string         `db:"conversation_id"`
	Role             string         `db:"role"`
	Content          string         `db:"content"`
	ProgressContent  sql.NullString `db:"progress_content"`
	FileAttachments  sql.NullString `db:"file_attachments"`
	ProcessingTimeMs sql.NullInt64  `db:"processing_time_ms"`
	CreatedAt        time.Time      `db:"created_at"`
}

func (row messageRow) toModel() (*model.Message, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, err
	}
	conversationID, err := uuid.Parse(row.ConversationID)
	if err != nil {
		return nil, err
	}
	m := &model.Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           model.MessageRole(row.Role),
		Content:        row.Content,
		CreatedAt:      row.CreatedAt,
	}
	if row.ProgressContent.Valid {
		m.ProgressContent = &row.ProgressContent.String
	}
	if row.FileAttachments.Valid {
		m.FileAttachments = json.RawMessage(row.FileAttachments.String)
	}
	if row.ProcessingTimeMs.Valid {
		m.ProcessingTimeMs = &row.ProcessingTimeMs.Int64
	}
	return m, nil
}

type toolUsageRow struct {
	ID              string `db:"id"`
	MessageID       string `db:"message_id"`
	ToolName        string `db:"tool_name"`
	ToolUseID       string `db:"tool_use_id"`
	Parameters      string `db:"parameters"`
	Output          string `db:"output"`
	ExecutionTimeMs int64  `db:"execution_time_ms"`
}

func (row toolUsageRow) toModel() (*model.ToolUsage, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, err
	}
	messageID, err := uuid.Parse(row.MessageID)
	if err != nil {
		return nil, err
	}
	return &model.ToolUsage{
		ID:              id,
		MessageID:       messageID,
		ToolName:        row.ToolName,
		ToolUseID:       row.ToolUseID,
		Parameters:      json.RawMessage(row.Parameters),
		Output:          json.RawMessage(row.Output),
		ExecutionTimeMs: row.ExecutionTimeMs,
	}, nil
}
