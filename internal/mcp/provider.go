package mcp

import (
	"github.com/rizrmd/clay-studio-sub001/internal/common/logger"
	"go.uber.org/zap"
)

// NewAgentServer builds the combined-profile server the stream engine
// (C5) serves over one agent subprocess's embedded MCP pipe.
func NewAgentServer(scope Scope, deps Deps, log *logger.Logger) *Server {
	scoped := log.WithFields(zap.String("tenant_id", scope.TenantID), zap.String("project_id", scope.ProjectID), zap.String("conversation_id", scope.ConversationID))
	return New(Config{Scope: scope, Profile: ProfileFull, Deps: deps}, scoped)
}

// NewSandboxServer builds the interaction-only server the sandbox bridge
// (C6) serves over its job subprocess's stdin/stdout RPC channel.
func NewSandboxServer(scope Scope, deps Deps, log *logger.Logger) *Server {
	scoped := log.WithFields(zap.String("tenant_id", scope.TenantID), zap.String("project_id", scope.ProjectID))
	return New(Config{Scope: scope, Profile: ProfileInteraction, Deps: deps}, scoped)
}
