package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rizrmd/clay-studio-sub001/internal/common/logger"
	"github.com/rizrmd/clay-studio-sub001/internal/identity"
	ws "github.com/rizrmd/clay-studio-sub001/pkg/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024

	// sendBufferSize bounds the per-client outbound channel. Broadcasts must
	// never block the emitter (§4.7): once this many frames are queued for a
	// slow client, further sends are dropped rather than blocking the hub's
	// bus-event dispatch.
	sendBufferSize = 256
)

// Client is a single WebSocket connection.
type Client struct {
	ID       string
	conn     *websocket.Conn
	hub      *Hub
	send     chan []byte
	identity identity.Identity
	authed   bool

	mu     sync.RWMutex
	closed bool
	logger *logger.Logger
}

// NewClient wires a connection; ident/authed reflect the outcome of the
// identity extraction the HTTP upgrade handler already ran (§4.8).
func NewClient(conn *websocket.Conn, ident identity.Identity, authed bool, log *logger.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		ID:       id,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		identity: ident,
		authed:   authed,
		logger:   log.WithFields(zap.String("client_id", id)),
	}
}

// Attach registers the client with a hub and sends the initial `connected`
// (or `authentication_required`) frame.
func (c *Client) Attach(h *Hub) {
	c.hub = h
	if c.authed {
		h.add(c, c.identity.UserID, c.identity.TenantID, c.identity.Role)
		msg, _ := ws.NewNotification(ws.ActionConnected, map[string]interface{}{
			"user_id":       c.identity.UserID,
			"authenticated": true,
			"client_id":     c.ID,
			"role":          c.identity.Role,
		})
		c.sendMessage(msg)
		return
	}
	msg, _ := ws.NewNotification(ws.ActionAuthenticationRequired, nil)
	c.sendMessage(msg)
}

// ReadPump pumps inbound frames to the dispatcher until the connection
// closes.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		if c.hub != nil {
			c.hub.remove(c.ID)
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var msg ws.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("", "", ws.ErrorCodeBadRequest, "invalid message format")
			continue
		}

		go c.handleMessage(ctx, &msg)
	}
}

func (c *Client) handleMessage(ctx context.Context, msg *ws.Message) {
	if msg.Action == ws.ActionPing {
		resp, _ := ws.NewNotification(ws.ActionPong, nil)
		c.sendMessage(resp)
		return
	}

	if !c.authed {
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeUnauthorized, "authentication required")
		return
	}

	switch msg.Action {
	case ws.ActionConversationSubscribe:
		c.handleSubscribe(msg)
		return
	case ws.ActionConversationUnsubscribe:
		c.hub.unsubscribe(c.ID)
		resp, _ := ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
		c.sendMessage(resp)
		return
	}

	if c.hub.dispatcher == nil {
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeUnknownAction, "no handler registered")
		return
	}

	ctx = identity.NewContext(ctx, c.identity)
	resp, err := c.hub.dispatcher.Dispatch(ctx, msg)
	if err != nil {
		c.logger.Warn("handler error", zap.String("action", msg.Action), zap.Error(err))
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeInternalError, err.Error())
		return
	}
	if resp != nil {
		c.sendMessage(resp)
	}
}

type subscribeRequest struct {
	ProjectID      string  `json:"project_id"`
	ConversationID *string `json:"conversation_id,omitempty"`
}

func (c *Client) handleSubscribe(msg *ws.Message) {
	var req subscribeRequest
	if err := msg.ParsePayload(&req); err != nil {
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "invalid payload: "+err.Error())
		return
	}
	projectID, err := uuid.Parse(req.ProjectID)
	if err != nil {
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeValidation, "project_id is required")
		return
	}

	var conversationID *uuid.UUID
	if req.ConversationID != nil && *req.ConversationID != "" {
		cid, err := uuid.Parse(*req.ConversationID)
		if err != nil {
			c.sendError(msg.ID, msg.Action, ws.ErrorCodeValidation, "invalid conversation_id")
			return
		}
		conversationID = &cid
	}

	if !c.hub.subscribe(c.ID, projectID, conversationID) {
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeForbidden, "connection not registered")
		return
	}
	if conversationID != nil {
		c.hub.deliverCatchUp(c, *conversationID)
	}

	resp, _ := ws.NewResponse(msg.ID, ws.ActionSubscribed, map[string]interface{}{
		"project_id":      projectID,
		"conversation_id": conversationID,
	})
	c.sendMessage(resp)
}

// deliver queues a pre-encoded frame, dropping it (with a log line) if the
// client's buffer is saturated rather than blocking the caller (§4.7).
func (c *Client) deliver(data []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("client send buffer saturated, dropping frame")
	}
}

func (c *Client) sendMessage(msg *ws.Message) {
	if msg == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal message", zap.Error(err))
		return
	}
	c.deliver(data)
}

func (c *Client) sendError(id, action, code, message string) {
	msg, err := ws.NewError(id, action, code, message, nil)
	if err != nil {
		return
	}
	c.sendMessage(msg)
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// WritePump pumps queued frames to the WebSocket connection, with a
// ping/pong keepalive deadline.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
