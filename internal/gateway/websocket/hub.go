// Package websocket implements the subscription hub (C7): the in-process
// registry of live connections, their (project, conversation) subscriptions,
// and the event-bus bridge that turns stream/provisioning events into
// WebSocket frames.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rizrmd/clay-studio-sub001/internal/common/logger"
	"github.com/rizrmd/clay-studio-sub001/internal/events/bus"
	"github.com/rizrmd/clay-studio-sub001/internal/identity"
	"github.com/rizrmd/clay-studio-sub001/internal/model"
	"github.com/rizrmd/clay-studio-sub001/internal/stream"
	ws "github.com/rizrmd/clay-studio-sub001/pkg/websocket"
)

// entry is one connection's registry row (§4.7): `{connection_id →
// {user_id, sender, project_id?, conversation_id?}}`.
type entry struct {
	userID         uuid.UUID
	tenantID       uuid.UUID
	role           model.Role
	client         *Client
	projectID      *uuid.UUID
	conversationID *uuid.UUID
}

// Hub is the process-wide singleton subscription registry.
type Hub struct {
	mu      sync.RWMutex
	entries map[string]*entry

	dispatcher *ws.Dispatcher
	busSub     bus.Subscription
	engine     *stream.Engine

	logger *logger.Logger
}

// NewHub constructs a Hub. engine is used to synthesize catch-up events for
// a connection that subscribes mid-turn (§4.5's resumable re-subscribe).
func NewHub(dispatcher *ws.Dispatcher, engine *stream.Engine, log *logger.Logger) *Hub {
	return &Hub{
		entries:    make(map[string]*entry),
		dispatcher: dispatcher,
		engine:     engine,
		logger:     log.WithFields(zap.String("component", "ws_hub")),
	}
}

// GetDispatcher returns the message dispatcher.
func (h *Hub) GetDispatcher() *ws.Dispatcher {
	return h.dispatcher
}

// Run subscribes to every stream/provisioning event (`stream.*.*`) and
// re-renders each as a WebSocket notification delivered to subscribers
// (§4.5's "C7 subscribes with a wildcard queue subscription"). It blocks
// until ctx is cancelled.
func (h *Hub) Run(ctx context.Context, eventBus bus.EventBus, queueGroup string) error {
	sub, err := eventBus.QueueSubscribe("stream.*.*", queueGroup, h.handleBusEvent)
	if err != nil {
		return err
	}
	h.busSub = sub
	h.logger.Info("subscription hub started")
	<-ctx.Done()
	_ = sub.Unsubscribe()
	h.closeAll()
	h.logger.Info("subscription hub stopped")
	return nil
}

func (h *Hub) handleBusEvent(_ context.Context, event *bus.Event) error {
	// The ids arrive as uuid.UUID from the in-process bus and as strings
	// after a NATS JSON round-trip; fmt.Sprint renders both the same way.
	conversationID := fmt.Sprint(event.Data["conversation_id"])
	projectID := fmt.Sprint(event.Data["project_id"])

	action := "stream." + event.Type
	msg, err := ws.NewNotification(action, event.Data)
	if err != nil {
		h.logger.Error("failed to encode bus event", zap.Error(err))
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal bus event", zap.Error(err))
		return nil
	}

	h.broadcastToSubscribers(projectID, conversationID, data)
	return nil
}

// add registers a connection after authentication succeeds.
func (h *Hub) add(c *Client, userID, tenantID uuid.UUID, role model.Role) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[c.ID] = &entry{userID: userID, tenantID: tenantID, role: role, client: c}
}

// subscribe updates a connection's (project, conversation) subscription.
// It is a no-op (and reports false) for an unregistered/unauthenticated
// connection id.
func (h *Hub) subscribe(connectionID string, projectID uuid.UUID, conversationID *uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[connectionID]
	if !ok {
		return false
	}
	pid := projectID
	e.projectID = &pid
	e.conversationID = conversationID
	return true
}

// unsubscribe clears a connection's subscription fields; the connection
// itself stays registered.
func (h *Hub) unsubscribe(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.entries[connectionID]; ok {
		e.projectID = nil
		e.conversationID = nil
	}
}

// remove drops a connection from the registry entirely.
func (h *Hub) remove(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.entries, connectionID)
}

// broadcastToSubscribers delivers data to every entry whose subscription
// matches: an exact conversation match, or a project-only subscription
// that covers every conversation in that project (§4.7).
func (h *Hub) broadcastToSubscribers(projectID, conversationID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, e := range h.entries {
		if e.projectID == nil {
			continue
		}
		if e.projectID.String() != projectID {
			continue
		}
		if e.conversationID != nil && e.conversationID.String() != conversationID {
			continue
		}
		e.client.deliver(data)
	}
}

// deliverCatchUp synthesizes the active turn's catch-up events (if any) for
// a connection that just subscribed to conversationID, so a client that
// reconnects mid-stream sees the turn so far instead of only future events.
func (h *Hub) deliverCatchUp(c *Client, conversationID uuid.UUID) {
	if h.engine == nil {
		return
	}
	for _, evt := range h.engine.Resubscribe(conversationID) {
		msg, err := ws.NewNotification("stream."+evt.Type, evt.Data)
		if err != nil {
			continue
		}
		data, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		c.deliver(data)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, e := range h.entries {
		e.client.closeSend()
		delete(h.entries, id)
	}
}

// identityOf returns the identity (user, tenant, role) of a connection, if
// registered and authenticated.
func (h *Hub) identityOf(connectionID string) (identity.Identity, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.entries[connectionID]
	if !ok {
		return identity.Identity{}, false
	}
	return identity.Identity{UserID: e.userID, TenantID: e.tenantID, Role: e.role}, true
}
