package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rizrmd/clay-studio-sub001/internal/apperr"
	"github.com/rizrmd/clay-studio-sub001/internal/connector"
	"github.com/rizrmd/clay-studio-sub001/internal/events/bus"
	"github.com/rizrmd/clay-studio-sub001/internal/model"
	"github.com/rizrmd/clay-studio-sub001/internal/pool"
	"github.com/rizrmd/clay-studio-sub001/internal/store"
)

// askUserPollInterval is how often awaitAskUserResponse re-reads the
// conversation's messages while the agent's ask_user tool call blocks.
const askUserPollInterval = 500 * time.Millisecond

// askUserResponseEnvelope is the content shape a system message carries
// once the client answers an ask_user prompt (§4.3/§4.5): the interaction
// id it answers and the free-form response payload.
type askUserResponseEnvelope struct {
	InteractionID string          `json:"interaction_id"`
	Response      json.RawMessage `json:"response"`
}

// awaitAskUserResponse polls the conversation's message list for a System
// message carrying interactionID, the out-of-band delivery path described
// in §4.3: the client answers over its WebSocket, the answer is persisted
// as a system message, and the blocked ask_user tool call resumes once it
// sees that row. It blocks until a match appears or ctx is cancelled.
func awaitAskUserResponse(ctx context.Context, deps Deps, scope Scope, interactionID string) (json.RawMessage, error) {
	conversationID, err := uuid.Parse(scope.ConversationID)
	if err != nil {
		return nil, apperr.BadRequest("ask_user requires a conversation-scoped MCP session")
	}

	ticker := time.NewTicker(askUserPollInterval)
	defer ticker.Stop()

	for {
		messages, err := deps.Repo.ListMessages(ctx, conversationID, nil)
		if err != nil {
			return nil, err
		}
		for i := len(messages) - 1; i >= 0; i-- {
			msg := messages[i]
			if msg.Role != model.RoleSystem {
				continue
			}
			var envelope askUserResponseEnvelope
			if err := json.Unmarshal([]byte(msg.Content), &envelope); err != nil {
				continue
			}
			if envelope.InteractionID == interactionID {
				return envelope.Response, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, apperr.UpstreamFailure("ask_user cancelled", ctx.Err())
		case <-ticker.C:
		}
	}
}

// SandboxRunner runs one analysis script job to completion (C6). Declared
// here rather than depending on the sandbox package directly, since the
// sandbox bridge itself depends on this package for its own MCP dispatch —
// a direct import would cycle.
type SandboxRunner interface {
	RunScript(ctx context.Context, tenantID, projectID uuid.UUID, script string, parameters json.RawMessage, datasources []string, metadata map[string]interface{}) (json.RawMessage, error)
}

// Deps wires a Server's tool handlers to the storage layer (C1 via the
// connection pool registry C2), the file-attachment directory the
// interaction profile's file_* tools read from, and the sandbox bridge the
// operation profile's run_analysis tool delegates to.
type Deps struct {
	Repo      *store.Repository
	Pool      *pool.Registry
	Bus       bus.EventBus // publishes stream.<conversation_id>.<event_type>; nil for sandbox-bridge sessions
	AttachDir string       // directory uploaded files live under, for file_* tools
	Sandbox   SandboxRunner // nil for sandbox-bridge sessions: a script cannot launch another script
}

// publishStreamEvent emits an event on subject stream.<conversation_id>.<eventType>,
// the same subject C5 publishes stdout-parsed events on (§4.5), so C7's
// wildcard subscription renders it as a WebSocket frame without distinguishing
// whether the event originated from the stdout loop or an MCP tool call.
func publishStreamEvent(ctx context.Context, deps Deps, scope Scope, eventType string, data map[string]interface{}) {
	if deps.Bus == nil || scope.ConversationID == "" {
		return
	}
	subject := "stream." + scope.ConversationID + "." + eventType
	_ = deps.Bus.Publish(ctx, subject, bus.NewEvent(eventType, "mcp", data))
}

// resolveConnector loads a datasource scoped to (tenantID, projectID),
// decodes its connection_config, and returns a live Connector — a pooled
// *sql.DB wrapped by the connector for SQL variants, or a direct file open
// for CSV/Excel/JSON.
func resolveConnector(ctx context.Context, deps Deps, scope Scope, datasourceID string) (connector.Connector, *model.Datasource, error) {
	projectID, err := uuid.Parse(scope.ProjectID)
	if err != nil {
		return nil, nil, apperr.BadRequest("invalid project scope")
	}
	dsID, err := uuid.Parse(datasourceID)
	if err != nil {
		return nil, nil, apperr.BadRequest("invalid datasource_id")
	}

	ds, err := deps.Repo.GetDatasource(ctx, projectID, dsID)
	if err != nil {
		return nil, nil, err
	}

	var cfg connector.Config
	if len(ds.ConnectionConfig) > 0 {
		if err := json.Unmarshal(ds.ConnectionConfig, &cfg); err != nil {
			return nil, nil, apperr.Internal("decode connection_config", err)
		}
	}

	if !ds.SourceType.IsSQL() {
		conn, err := connector.New(ds.SourceType, cfg, nil)
		if err != nil {
			return nil, ds, err
		}
		return conn, ds, nil
	}

	identity := pool.Identity{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Database: cfg.Database,
		Username: cfg.Username,
		FilePath: cfg.FilePath,
	}
	sqlDB, err := deps.Pool.Get(ctx, ds.ID, ds.SourceType, identity, cfg)
	if err != nil {
		return nil, ds, err
	}
	conn, err := connector.New(ds.SourceType, cfg, sqlDB)
	if err != nil {
		return nil, ds, err
	}
	return conn, ds, nil
}

// scopedProjectID parses and validates the project id the Scope was
// constructed with.
func scopedProjectID(scope Scope) (uuid.UUID, error) {
	id, err := uuid.Parse(scope.ProjectID)
	if err != nil {
		return uuid.UUID{}, apperr.BadRequest("invalid project scope")
	}
	return id, nil
}
