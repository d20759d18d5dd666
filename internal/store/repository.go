package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Repository provides CRUD access to every persisted entity, split across
// writer and reader pools. Individual entity operations live in their own
// files (tenant.go, user.go, project.go, datasource.go, conversation.go,
// message.go, share.go); this file owns construction and schema setup.
type Repository struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader
}

// NewRepository wraps a Pool's writer/reader connections and ensures the
// schema exists.
func NewRepository(pool *Pool) (*Repository, error) {
	repo := &Repository{db: pool.Writer(), ro: pool.Reader()}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return repo, nil
}

func (r *Repository) initSchema() error {
	if err := r.initTenancySchema(); err != nil {
		return err
	}
	if err := r.initProjectSchema(); err != nil {
		return err
	}
	if err := r.initConversationSchema(); err != nil {
		return err
	}
	return r.initShareSchema()
}

func (r *Repository) initTenancySchema() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		install_path TEXT DEFAULT '',
		config TEXT DEFAULT '{}',
		agent_credential TEXT,
		domains TEXT DEFAULT '[]',
		created_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_tenants_status ON tenants(status);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		username TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'member',
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (tenant_id) REFERENCES tenants(id) ON DELETE CASCADE,
		UNIQUE(tenant_id, username)
	);
	CREATE INDEX IF NOT EXISTS idx_users_tenant_id ON users(tenant_id);
	`)
	return err
}

func (r *Repository) initProjectSchema() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		context_raw TEXT DEFAULT '',
		context_compiled TEXT,
		created_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP,
		FOREIGN KEY (tenant_id) REFERENCES tenants(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_projects_tenant_id ON projects(tenant_id);

	CREATE TABLE IF NOT EXISTS datasources (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		source_type TEXT NOT NULL,
		connection_config TEXT NOT NULL DEFAULT '{}',
		schema_cache TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		last_tested_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP,
		FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_datasources_project_id ON datasources(project_id);
	`)
	return err
}

func (r *Repository) initConversationSchema() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		title TEXT,
		is_title_manually_set INTEGER NOT NULL DEFAULT 0,
		visibility TEXT NOT NULL DEFAULT 'private',
		forgotten_after_message_id TEXT,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_project_id ON conversations(project_id);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		progress_content TEXT,
		file_attachments TEXT,
		processing_time_ms INTEGER,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_messages_conv_created ON messages(conversation_id, created_at);

	CREATE TABLE IF NOT EXISTS tool_usages (
		id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		tool_use_id TEXT NOT NULL,
		parameters TEXT DEFAULT '{}',
		output TEXT DEFAULT '{}',
		execution_time_ms INTEGER DEFAULT 0,
		FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_tool_usages_message_id ON tool_usages(message_id);
	`)
	return err
}

func (r *Repository) initShareSchema() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS shares (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		share_token TEXT NOT NULL UNIQUE,
		share_type TEXT NOT NULL DEFAULT 'new_chat',
		settings TEXT DEFAULT '{}',
		is_read_only INTEGER NOT NULL DEFAULT 1,
		max_messages_per_session INTEGER,
		expires_at TIMESTAMP,
		view_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP,
		FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_shares_project_id ON shares(project_id);
	CREATE INDEX IF NOT EXISTS idx_shares_token ON shares(share_token);
	`)
	return err
}
