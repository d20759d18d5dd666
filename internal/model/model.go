// Package model defines the persisted entities shared across the runtime:
// tenants, users, projects, datasources, conversations, messages, tool
// usage, and shares. StreamState and PooledConnection are intentionally
// absent here — they are in-memory only and live in internal/stream and
// internal/pool respectively.
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TenantStatus is the provisioning lifecycle state of a Tenant.
type TenantStatus string

const (
	TenantPending    TenantStatus = "pending"
	TenantInstalling TenantStatus = "installing"
	TenantActive     TenantStatus = "active"
	TenantError      TenantStatus = "error"
)

// TenantConfig holds the registration policy for a Tenant.
type TenantConfig struct {
	RegistrationEnabled bool   `json:"registration_enabled"`
	RequireInviteCode   bool   `json:"require_invite_code"`
	InviteCode          string `json:"invite_code,omitempty"`
}

// Tenant is an isolated customer environment with its own users, projects,
// datasources, and provisioned agent install.
type Tenant struct {
	ID             uuid.UUID    `db:"id" json:"id"`
	Name           string       `db:"name" json:"name"`
	Status         TenantStatus `db:"status" json:"status"`
	InstallPath    string       `db:"install_path" json:"install_path"`
	Config         TenantConfig `db:"config" json:"config"`
	AgentCredential *string     `db:"agent_credential" json:"-"`
	Domains        []string     `db:"domains" json:"domains"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
	DeletedAt      *time.Time   `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Repair enforces the canonical status invariant from the data model:
// Active iff agent_credential is non-nil and install_path is populated.
// Called on every read path that surfaces Tenant.Status.
func (t *Tenant) Repair() {
	hasCredential := t.AgentCredential != nil && *t.AgentCredential != ""
	installed := t.InstallPath != ""
	switch {
	case hasCredential && installed && t.Status != TenantError:
		t.Status = TenantActive
	case t.Status == TenantActive && (!hasCredential || !installed):
		t.Status = TenantPending
	}
}

// Role is a User's authorization level within its Tenant.
type Role string

const (
	RoleRoot   Role = "root"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// User belongs to exactly one Tenant; (tenant_id, username) is unique.
type User struct {
	ID           uuid.UUID `db:"id" json:"id"`
	TenantID     uuid.UUID `db:"tenant_id" json:"tenant_id"`
	Username     string    `db:"username" json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         Role      `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Project is a workspace owned by a Tenant aggregating datasources,
// conversations, and a markdown context document the agent reads.
type Project struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	TenantID       uuid.UUID  `db:"tenant_id" json:"tenant_id"`
	Name           string     `db:"name" json:"name"`
	ContextRaw     string     `db:"context_raw" json:"context_raw"`
	ContextCompiled *string   `db:"context_compiled" json:"context_compiled,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	DeletedAt      *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// SourceType names a Datasource connector variant.
type SourceType string

const (
	SourcePostgres SourceType = "postgres"
	SourceMySQL    SourceType = "mysql"
	SourceSQLite   SourceType = "sqlite"
	SourceOracle   SourceType = "oracle"
	SourceCSV      SourceType = "csv"
	SourceExcel    SourceType = "excel"
	SourceJSON     SourceType = "json"
)

// IsSQL reports whether this source type is backed by a pooled SQL
// connection (as opposed to a file scan).
func (s SourceType) IsSQL() bool {
	switch s {
	case SourcePostgres, SourceMySQL, SourceSQLite, SourceOracle:
		return true
	default:
		return false
	}
}

// Datasource is a registered external data source scoped to a Project.
type Datasource struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	ProjectID        uuid.UUID       `db:"project_id" json:"project_id"`
	Name             string          `db:"name" json:"name"`
	SourceType       SourceType      `db:"source_type" json:"source_type"`
	ConnectionConfig json.RawMessage `db:"connection_config" json:"connection_config"`
	SchemaCache      json.RawMessage `db:"schema_cache" json:"schema_cache,omitempty"`
	IsActive         bool            `db:"is_active" json:"is_active"`
	LastTestedAt     *time.Time      `db:"last_tested_at" json:"last_tested_at,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	DeletedAt        *time.Time      `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Visibility controls who may view a Conversation.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityShared  Visibility = "shared"
)

// Conversation is an ordered sequence of messages bound to a Project.
type Conversation struct {
	ID                     uuid.UUID  `db:"id" json:"id"`
	ProjectID              uuid.UUID  `db:"project_id" json:"project_id"`
	Title                  *string    `db:"title" json:"title,omitempty"`
	IsTitleManuallySet     bool       `db:"is_title_manually_set" json:"is_title_manually_set"`
	Visibility             Visibility `db:"visibility" json:"visibility"`
	ForgottenAfterMessageID *uuid.UUID `db:"forgotten_after_message_id" json:"forgotten_after_message_id,omitempty"`
	CreatedAt              time.Time  `db:"created_at" json:"created_at"`
}

// MessageRole distinguishes the author of a Message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is one append-only turn in a Conversation.
type Message struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	ConversationID     uuid.UUID       `db:"conversation_id" json:"conversation_id"`
	Role              MessageRole     `db:"role" json:"role"`
	Content           string          `db:"content" json:"content"`
	ProgressContent   *string         `db:"progress_content" json:"progress_content,omitempty"`
	FileAttachments   json.RawMessage `db:"file_attachments" json:"file_attachments,omitempty"`
	ProcessingTimeMs  *int64          `db:"processing_time_ms" json:"processing_time_ms,omitempty"`
	IsForgotten       bool            `db:"-" json:"is_forgotten"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
}

// ToolUsage records one completed tool call made during a streaming turn.
type ToolUsage struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	MessageID       uuid.UUID       `db:"message_id" json:"message_id"`
	ToolName        string          `db:"tool_name" json:"tool_name"`
	ToolUseID       string          `db:"tool_use_id" json:"tool_use_id"`
	Parameters      json.RawMessage `db:"parameters" json:"parameters"`
	Output          json.RawMessage `db:"output" json:"output"`
	ExecutionTimeMs int64           `db:"execution_time_ms" json:"execution_time_ms"`
}

// ShareType names the access pattern a Share grants.
type ShareType string

const (
	ShareNewChat              ShareType = "new_chat"
	ShareAllHistory           ShareType = "all_history"
	ShareSpecificConversations ShareType = "specific_conversations"
)

// Share enables public or semi-public embedding of a Project.
type Share struct {
	ID                   uuid.UUID       `db:"id" json:"id"`
	ProjectID            uuid.UUID       `db:"project_id" json:"project_id"`
	ShareToken           string          `db:"share_token" json:"share_token"`
	ShareType            ShareType       `db:"share_type" json:"share_type"`
	Settings             json.RawMessage `db:"settings" json:"settings,omitempty"`
	IsReadOnly           bool            `db:"is_read_only" json:"is_read_only"`
	MaxMessagesPerSession *int           `db:"max_messages_per_session" json:"max_messages_per_session,omitempty"`
	ExpiresAt            *time.Time      `db:"expires_at" json:"expires_at,omitempty"`
	ViewCount            int64           `db:"view_count" json:"view_count"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
	DeletedAt            *time.Time      `db:"deleted_at" json:"deleted_at,omitempty"`
}
