package websocket

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/rizrmd/clay-studio-sub001/internal/common/logger"
	"github.com/rizrmd/clay-studio-sub001/internal/identity"
	"github.com/rizrmd/clay-studio-sub001/internal/model"
	ws "github.com/rizrmd/clay-studio-sub001/pkg/websocket"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}
	return log
}

// newTestClient builds a Client with no underlying network connection —
// the hub's register/subscribe/broadcast bookkeeping never touches conn,
// only the logical entry and send channel.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	return NewClient(nil, identity.Identity{UserID: uuid.New(), TenantID: uuid.New(), Role: model.RoleMember}, true, testLogger(t))
}

func TestHub_AddSubscribeBroadcast_ProjectLevelReceivesEveryConversation(t *testing.T) {
	h := NewHub(ws.NewDispatcher(), nil, testLogger(t))
	client := newTestClient(t)
	h.add(client, client.identity.UserID, client.identity.TenantID, client.identity.Role)

	projectID := uuid.New()
	if !h.subscribe(client.ID, projectID, nil) {
		t.Fatal("expected subscribe to succeed for a registered connection")
	}

	conversationID := uuid.New()
	h.broadcastToSubscribers(projectID.String(), conversationID.String(), []byte(`{"type":"test"}`))

	select {
	case msg := <-client.send:
		var decoded map[string]interface{}
		if err := json.Unmarshal(msg, &decoded); err != nil {
			t.Fatalf("expected valid JSON frame, got error: %v", err)
		}
	default:
		t.Fatal("expected the project-level subscriber to receive the conversation event")
	}
}

func TestHub_Subscribe_UnregisteredConnectionRejected(t *testing.T) {
	h := NewHub(ws.NewDispatcher(), nil, testLogger(t))
	if h.subscribe("never-registered", uuid.New(), nil) {
		t.Error("expected subscribe to fail for a connection that was never added")
	}
}

func TestHub_Broadcast_ConversationMismatchNotDelivered(t *testing.T) {
	h := NewHub(ws.NewDispatcher(), nil, testLogger(t))
	client := newTestClient(t)
	h.add(client, client.identity.UserID, client.identity.TenantID, client.identity.Role)

	projectID := uuid.New()
	subscribedConversation := uuid.New()
	otherConversation := uuid.New()
	h.subscribe(client.ID, projectID, &subscribedConversation)

	h.broadcastToSubscribers(projectID.String(), otherConversation.String(), []byte(`{}`))

	select {
	case <-client.send:
		t.Fatal("expected no delivery for a non-matching conversation_id")
	default:
	}
}

func TestHub_Broadcast_ProjectMismatchNotDelivered(t *testing.T) {
	h := NewHub(ws.NewDispatcher(), nil, testLogger(t))
	client := newTestClient(t)
	h.add(client, client.identity.UserID, client.identity.TenantID, client.identity.Role)
	h.subscribe(client.ID, uuid.New(), nil)

	h.broadcastToSubscribers(uuid.New().String(), uuid.New().String(), []byte(`{}`))

	select {
	case <-client.send:
		t.Fatal("expected no delivery for a different project_id")
	default:
	}
}

func TestHub_Unsubscribe_StopsDelivery(t *testing.T) {
	h := NewHub(ws.NewDispatcher(), nil, testLogger(t))
	client := newTestClient(t)
	h.add(client, client.identity.UserID, client.identity.TenantID, client.identity.Role)

	projectID := uuid.New()
	h.subscribe(client.ID, projectID, nil)
	h.unsubscribe(client.ID)

	h.broadcastToSubscribers(projectID.String(), uuid.New().String(), []byte(`{}`))

	select {
	case <-client.send:
		t.Fatal("expected no delivery after unsubscribe")
	default:
	}
}

func TestHub_Remove_DropsConnectionEntirely(t *testing.T) {
	h := NewHub(ws.NewDispatcher(), nil, testLogger(t))
	client := newTestClient(t)
	h.add(client, client.identity.UserID, client.identity.TenantID, client.identity.Role)
	h.remove(client.ID)

	if h.subscribe(client.ID, uuid.New(), nil) {
		t.Error("expected subscribe to fail once the connection has been removed")
	}
	if _, ok := h.identityOf(client.ID); ok {
		t.Error("expected identityOf to report false for a removed connection")
	}
}

func TestHub_IdentityOf_ReturnsRegisteredIdentity(t *testing.T) {
	h := NewHub(ws.NewDispatcher(), nil, testLogger(t))
	client := newTestClient(t)
	h.add(client, client.identity.UserID, client.identity.TenantID, client.identity.Role)

	got, ok := h.identityOf(client.ID)
	if !ok {
		t.Fatal("expected identityOf to find the registered connection")
	}
	if got.UserID != client.identity.UserID {
		t.Errorf("expected user id %v, got %v", client.identity.UserID, got.UserID)
	}
}

func TestHub_CloseAll_ClosesEverySendChannel(t *testing.T) {
	h := NewHub(ws.NewDispatcher(), nil, testLogger(t))
	a := newTestClient(t)
	b := newTestClient(t)
	h.add(a, a.identity.UserID, a.identity.TenantID, a.identity.Role)
	h.add(b, b.identity.UserID, b.identity.TenantID, b.identity.Role)

	h.closeAll()

	if _, ok := <-a.send; ok {
		t.Error("expected client a's send channel to be closed")
	}
	if _, ok := <-b.send; ok {
		t.Error("expected client b's send channel to be closed")
	}
}
