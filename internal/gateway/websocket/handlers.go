package websocket

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/rizrmd/clay-studio-sub001/internal/apperr"
	"github.com/rizrmd/clay-studio-sub001/internal/identity"
	"github.com/rizrmd/clay-studio-sub001/internal/model"
	"github.com/rizrmd/clay-studio-sub001/internal/stream"
	"github.com/rizrmd/clay-studio-sub001/internal/store"
	ws "github.com/rizrmd/clay-studio-sub001/pkg/websocket"
)

// RegisterHandlers wires every inbound WebSocket action (§6.1) to the
// repository and stream engine. The dispatcher is shared by every Client;
// per-connection identity travels through ctx (see identity.NewContext in
// client.go), never through handler state.
func RegisterHandlers(dispatcher *ws.Dispatcher, repo *store.Repository, engine *stream.Engine) {
	dispatcher.RegisterFunc(ws.ActionConversationSend, handleSendMessage(repo, engine))
	dispatcher.RegisterFunc(ws.ActionConversationStop, handleStopStreaming(engine))
	dispatcher.RegisterFunc(ws.ActionAskUserResponse, handleAskUserResponse(repo))
	dispatcher.RegisterFunc(ws.ActionConversationCreate, handleCreateConversation(repo))
	dispatcher.RegisterFunc(ws.ActionConversationList, handleListConversations(repo))
	dispatcher.RegisterFunc(ws.ActionConversationGet, handleGetConversation(repo))
	dispatcher.RegisterFunc(ws.ActionConversationUpdate, handleUpdateConversation(repo))
	dispatcher.RegisterFunc(ws.ActionConversationDelete, handleDeleteConversation(repo))
	dispatcher.RegisterFunc(ws.ActionConversationBulkDelete, handleBulkDeleteConversations(repo))
	dispatcher.RegisterFunc(ws.ActionConversationMessages, handleGetMessages(repo))
}

func errFrame(id, action string, err error) (*ws.Message, error) {
	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		return ws.NewError(id, action, appErr.Code, appErr.Message, nil)
	}
	return ws.NewError(id, action, ws.ErrorCodeInternalError, err.Error(), nil)
}

func requireIdentity(ctx context.Context) (identity.Identity, error) {
	id, ok := identity.FromContext(ctx)
	if !ok {
		return identity.Identity{}, apperr.Unauthorized("authentication required")
	}
	return id, nil
}

type sendMessageRequest struct {
	ProjectID          string   `json:"project_id"`
	ConversationID     string   `json:"conversation_id"`
	Content            string   `json:"content"`
	UploadedFilePaths  []string `json:"uploaded_file_paths,omitempty"`
}

func handleSendMessage(repo *store.Repository, engine *stream.Engine) ws.HandlerFunc {
	return func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		ident, err := requireIdentity(ctx)
		if err != nil {
			return errFrame(msg.ID, msg.Action, err)
		}
		var req sendMessageRequest
		if err := msg.ParsePayload(&req); err != nil {
			return errFrame(msg.ID, msg.Action, apperr.BadRequest("invalid payload: "+err.Error()))
		}
		projectID, err := uuid.Parse(req.ProjectID)
		if err != nil {
			return errFrame(msg.ID, msg.Action, apperr.BadRequest("invalid project_id"))
		}
		conversationID, err := uuid.Parse(req.ConversationID)
		if err != nil {
			return errFrame(msg.ID, msg.Action, apperr.BadRequest("invalid conversation_id"))
		}
		if _, err := repo.GetProject(ctx, ident.TenantID, projectID); err != nil {
			if apperr.IsNotFound(err) {
				return errFrame(msg.ID, msg.Action, apperr.Forbidden("cross-tenant access"))
			}
			return errFrame(msg.ID, msg.Action, err)
		}

		out, err := engine.SendMessage(ctx, ident.TenantID, projectID, conversationID, req.Content, req.UploadedFilePaths)
		if err != nil {
			return errFrame(msg.ID, msg.Action, err)
		}
		return ws.NewResponse(msg.ID, msg.Action, out)
	}
}

type stopStreamingRequest struct {
	ConversationID string `json:"conversation_id"`
}

func handleStopStreaming(engine *stream.Engine) ws.HandlerFunc {
	return func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		if _, err := requireIdentity(ctx); err != nil {
			return errFrame(msg.ID, msg.Action, err)
		}
		var req stopStreamingRequest
		if err := msg.ParsePayload(&req); err != nil {
			return errFrame(msg.ID, msg.Action, apperr.BadRequest("invalid payload: "+err.Error()))
		}
		conversationID, err := uuid.Parse(req.ConversationID)
		if err != nil {
			return errFrame(msg.ID, msg.Action, apperr.BadRequest("invalid conversation_id"))
		}
		if err := engine.StopStreaming(conversationID); err != nil {
			return errFrame(msg.ID, msg.Action, err)
		}
		return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
	}
}

// askUserResponseEnvelope is persisted as a system message's content; the
// MCP tool server's awaitAskUserResponse polls for exactly this shape
// (§4.3/§4.5).
type askUserResponseEnvelope struct {
	InteractionID string      `json:"interaction_id"`
	Response      interface{} `json:"response"`
}

type askUserResponseRequest struct {
	ConversationID string      `json:"conversation_id"`
	InteractionID  string      `json:"interaction_id"`
	Response       interface{} `json:"response"`
}

func handleAskUserResponse(repo *store.Repository) ws.HandlerFunc {
	return func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		if _, err := requireIdentity(ctx); err != nil {
			return errFrame(msg.ID, msg.Action, err)
		}
		var req askUserResponseRequest
		if err := msg.ParsePayload(&req); err != nil {
			return errFrame(msg.ID, msg.Action, apperr.BadRequest("invalid payload: "+err.Error()))
		}
		conversationID, err := uuid.Parse(req.ConversationID)
		if err != nil {
			return errFrame(msg.ID, msg.Action, apperr.BadRequest("invalid conversation_id"))
		}
		envelope := askUserResponseEnvelope{InteractionID: req.InteractionID, Response: req.Response}
		content, err := json.Marshal(envelope)
		if err != nil {
			return errFrame(msg.ID, msg.Action, apperr.Internal("encode ask_user response", err))
		}
		if _, err := repo.CreateMessage(ctx, conversationID, model.RoleSystem, string(content), nil); err != nil {
			return errFrame(msg.ID, msg.Action, err)
		}
		return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
	}
}

func handleCreateConversation(repo *store.Repository) ws.HandlerFunc {
	return func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		if _, err := requireIdentity(ctx); err != nil {
			return errFrame(msg.ID, msg.Action, err)
		}
		var req struct {
			ProjectID string `json:"project_id"`
		}
		if err := msg.ParsePayload(&req); err != nil {
			return errFrame(msg.ID, msg.Action, apperr.BadRequest("invalid payload: "+err.Error()))
		}
		projectID, err := uuid.Parse(req.ProjectID)
		if err != nil {
			return errFrame(msg.ID, msg.Action, apperr.BadRequest("invalid project_id"))
		}
		conv, err := repo.CreateConversation(ctx, projectID)
		if err != nil {
			return errFrame(msg.ID, msg.Action, err)
		}
		return ws.NewResponse(msg.ID, ws.ActionConversationCreated, conv)
	}
}

func handleListConversations(repo *store.Repository) ws.HandlerFunc {
	return func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		if _, err := requireIdentity(ctx); err != nil {
			return errFrame(msg.ID, msg.Action, err)
		}
		var req struct {
			ProjectID string `json:"project_id"`
		}
		if err := msg.ParsePayload(&req); err != nil {
			return errFrame(msg.ID, msg.Action, apperr.BadRequest("invalid payload: "+err.Error()))
		}
		projectID, err := uuid.Parse(req.ProjectID)
		if err != nil {
			return errFrame(msg.ID, msg.Action, apperr.BadRequest("invalid project_id"))
		}
		list, err := repo.ListConversations(ctx, projectID)
		if err != nil {
			return errFrame(msg.ID, msg.Action, err)
		}
		return ws.NewResponse(msg.ID, ws.ActionConversationListResult, map[string]interface{}{"conversations": list})
	}
}

func handleGetConversation(repo *store.Repository) ws.HandlerFunc {
	return func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		if _, err := requireIdentity(ctx); err != nil {
			return errFrame(msg.ID, msg.Action, err)
		}
		var req struct {
			ProjectID      string `json:"project_id"`
			ConversationID string `json:"conversation_id"`
		}
		if err := msg.ParsePayload(&req); err != nil {
			return errFrame(msg.ID, msg.Action, apperr.BadRequest("invalid payload: "+err.Error()))
		}
		projectID, err := uuid.Parse(req.ProjectID)
		if err != nil {
			return errFrame(msg.ID, msg.Action, apperr.BadRequest("invalid project_id"))
		}
		conversationID, err := uuid.Parse(req.ConversationID)
		if err != nil {
			return errFrame(msg.ID, msg.Action, apperr.BadRequest("invalid conversation_id"))
		}
		conv, err := repo.GetConversation(ctx, projectID, conversationID)
		if err != nil {
			return errFrame(msg.ID, msg.Action, err)
		}
		return ws.NewResponse(msg.ID, ws.ActionConversationDetails, conv)
	}
}

func handleUpdateConversation(repo *store.Repository) ws.HandlerFunc {
	return func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		if _, err := requireIdentity(ctx); err != nil {
			return errFrame(msg.ID, msg.Action, err)
		}
		var req struct {
			ConversationID string `json:"conversation_id"`
			Title          string `json:"title"`
		}
		if err := msg.ParsePayload(&req); err != nil {
			return errFrame(msg.ID, msg.Action, apperr.BadRequest("invalid payload: "+err.Error()))
		}
		conversationID, err := uuid.Parse(req.ConversationID)
		if err != nil {
			return errFrame(msg.ID, msg.Action, apperr.BadRequest("invalid conversation_id"))
		}
		if err := repo.SetConversationTitle(ctx, conversationID, req.Title, true); err != nil {
			return errFrame(msg.ID, msg.Action, err)
		}
		return ws.NewResponse(msg.ID, ws.ActionConversationUpdated, map[string]interface{}{
			"conversation_id": conversationID,
			"title":           req.Title,
		})
	}
}

func handleDeleteConversation(repo *store.Repository) ws.HandlerFunc {
	return func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		if _, err := requireIdentity(ctx); err != nil {
			return errFrame(msg.ID, msg.Action, err)
		}
		var req struct {
			ProjectID      string `json:"project_id"`
			ConversationID string `json:"conversation_id"`
		}
		if err := msg.ParsePayload(&req); err != nil {
			return errFrame(msg.ID, msg.Action, apperr.BadRequest("invalid payload: "+err.Error()))
		}
		projectID, err := uuid.Parse(req.ProjectID)
		if err != nil {
			return errFrame(msg.ID, msg.Action, apperr.BadRequest("invalid project_id"))
		}
		conversationID, err := uuid.Parse(req.ConversationID)
		if err != nil {
			return errFrame(msg.ID, msg.Action, apperr.BadRequest("invalid conversation_id"))
		}
		if err := repo.DeleteConversation(ctx, projectID, conversationID); err != nil {
			return errFrame(msg.ID, msg.Action, err)
		}
		return ws.NewResponse(msg.ID, ws.ActionConversationDeleted, map[string]interface{}{"conversation_id": conversationID})
	}
}

func handleBulkDeleteConversations(repo *store.Repository) ws.HandlerFunc {
	return func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		if _, err := requireIdentity(ctx); err != nil {
			return errFrame(msg.ID, msg.Action, err)
		}
		var req struct {
			ProjectID       string   `json:"project_id"`
			ConversationIDs []string `json:"conversation_ids"`
		}
		if err := msg.ParsePayload(&req); err != nil {
			return errFrame(msg.ID, msg.Action, apperr.BadRequest("invalid payload: "+err.Error()))
		}
		projectID, err := uuid.Parse(req.ProjectID)
		if err != nil {
			return errFrame(msg.ID, msg.Action, apperr.BadRequest("invalid project_id"))
		}
		ids := make([]uuid.UUID, 0, len(req.ConversationIDs))
		for _, raw := range req.ConversationIDs {
			id, err := uuid.Parse(raw)
			if err != nil {
				return errFrame(msg.ID, msg.Action, apperr.BadRequest("invalid conversation id: "+raw))
			}
			ids = append(ids, id)
		}
		deleted, err := repo.BulkDeleteConversations(ctx, projectID, ids)
		if err != nil {
			return errFrame(msg.ID, msg.Action, err)
		}
		return ws.NewResponse(msg.ID, ws.ActionConversationBulkDeleted, map[string]interface{}{"deleted": deleted})
	}
}

func handleGetMessages(repo *store.Repository) ws.HandlerFunc {
	return func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		if _, err := requireIdentity(ctx); err != nil {
			return errFrame(msg.ID, msg.Action, err)
		}
		var req struct {
			ConversationID string `json:"conversation_id"`
		}
		if err := msg.ParsePayload(&req); err != nil {
			return errFrame(msg.ID, msg.Action, apperr.BadRequest("invalid payload: "+err.Error()))
		}
		conversationID, err := uuid.Parse(req.ConversationID)
		if err != nil {
			return errFrame(msg.ID, msg.Action, apperr.BadRequest("invalid conversation_id"))
		}
		list, err := repo.ListMessages(ctx, conversationID, nil)
		if err != nil {
			return errFrame(msg.ID, msg.Action, err)
		}
		return ws.NewResponse(msg.ID, ws.ActionConversationMessagesResult, map[string]interface{}{"messages": list})
	}
}
