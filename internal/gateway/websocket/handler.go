package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rizrmd/clay-studio-sub001/internal/common/logger"
	"github.com/rizrmd/clay-studio-sub001/internal/identity"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades HTTP connections to WebSocket and hands each one off to
// the hub. Identity resolution (§4.8) happens before the upgrade: an
// unresolved session still gets a connection, but its authentication state
// is fixed at upgrade time and action handlers that require an identity
// reject it for the life of the socket.
type Handler struct {
	hub      *Hub
	resolver identity.SessionResolver
	logger   *logger.Logger
}

func NewHandler(hub *Hub, resolver identity.SessionResolver, log *logger.Logger) *Handler {
	return &Handler{
		hub:      hub,
		resolver: resolver,
		logger:   log.WithFields(zap.String("component", "ws_handler")),
	}
}

func (h *Handler) HandleConnection(c *gin.Context) {
	ident, authed := identity.Extract(c.Request, h.resolver)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	client := NewClient(conn, ident, authed, h.logger)
	h.logger.Debug("websocket connection established",
		zap.String("client_id", client.ID),
		zap.Bool("authenticated", authed),
		zap.String("remote_addr", c.Request.RemoteAddr),
	)

	client.Attach(h.hub)
	go client.WritePump()
	client.ReadPump(c.Request.Context())
}
