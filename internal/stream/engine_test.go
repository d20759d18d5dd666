package stream

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rizrmd/clay-studio-sub001/internal/apperr"
	"github.com/rizrmd/clay-studio-sub001/internal/common/config"
	"github.com/rizrmd/clay-studio-sub001/internal/common/logger"
	"github.com/rizrmd/clay-studio-sub001/internal/events/bus"
	"github.com/rizrmd/clay-studio-sub001/internal/model"
	"github.com/rizrmd/clay-studio-sub001/internal/provision"
	"github.com/rizrmd/clay-studio-sub001/internal/store"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}
	return log
}

func testRepository(t *testing.T) *store.Repository {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stream.db")
	writerDB, err := store.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	readerDB, err := store.OpenSQLiteReader(path)
	if err != nil {
		t.Fatalf("OpenSQLiteReader failed: %v", err)
	}
	p := store.NewPool(sqlx.NewDb(writerDB, "sqlite3"), sqlx.NewDb(readerDB, "sqlite3"))
	t.Cleanup(func() { _ = p.Close() })

	repo, err := store.NewRepository(p)
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}
	return repo
}

func newTestEngine(t *testing.T, eventBus bus.EventBus) (*Engine, *model.Tenant, *model.Conversation) {
	t.Helper()
	repo := testRepository(t)
	ctx := context.Background()

	tenant, err := repo.CreateTenant(ctx, "acme", model.TenantConfig{})
	if err != nil {
		t.Fatalf("CreateTenant failed: %v", err)
	}
	project, err := repo.CreateProject(ctx, tenant.ID, "analytics")
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	conv, err := repo.CreateConversation(ctx, project.ID)
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	prov := provision.New(config.TenancyConfig{ClientsRootDir: t.TempDir()}, repo, testLogger(t))
	engine := New(repo, nil, prov, eventBus, t.TempDir(), nil, testLogger(t))
	return engine, tenant, conv
}

func TestEngine_SendMessage_UnknownConversationReturnsNotFound(t *testing.T) {
	engine, tenant, _ := newTestEngine(t, bus.NewMemoryEventBus(testLogger(t)))
	_, err := engine.SendMessage(context.Background(), tenant.ID, uuid.New(), uuid.New(), "hello", nil)
	if !apperr.IsNotFound(err) {
		t.Errorf("expected a not-found error for an unknown conversation, got %v", err)
	}
}

func TestEngine_SendMessage_ConflictWhenAlreadyStreaming(t *testing.T) {
	engine, tenant, conv := newTestEngine(t, bus.NewMemoryEventBus(testLogger(t)))

	engine.mu.Lock()
	engine.states[conv.ID] = &StreamState{ConversationID: conv.ID, ProjectID: conv.ProjectID, StartedAt: time.Now()}
	engine.mu.Unlock()

	_, err := engine.SendMessage(context.Background(), tenant.ID, conv.ProjectID, conv.ID, "hello again", nil)
	if !apperr.IsConflict(err) {
		t.Errorf("expected a conflict error when a stream is already active, got %v", err)
	}
}

func TestEngine_StopStreaming_NoActiveStreamReturnsInvalidState(t *testing.T) {
	engine, _, conv := newTestEngine(t, bus.NewMemoryEventBus(testLogger(t)))
	err := engine.StopStreaming(conv.ID)
	if err == nil {
		t.Fatal("expected an error when no stream is active")
	}
	var appErr *apperr.AppError
	if ae, ok := err.(*apperr.AppError); ok {
		appErr = ae
	}
	if appErr == nil || appErr.Code != apperr.CodeInvalidState {
		t.Errorf("expected CodeInvalidState, got %v", err)
	}
}

func TestEngine_Resubscribe_NoActiveStreamReturnsNil(t *testing.T) {
	engine, _, conv := newTestEngine(t, bus.NewMemoryEventBus(testLogger(t)))
	if events := engine.Resubscribe(conv.ID); events != nil {
		t.Errorf("expected nil catch-up events for an inactive conversation, got %v", events)
	}
}

func TestEngine_Resubscribe_SynthesizesStartToolUseAndProgress(t *testing.T) {
	engine, _, conv := newTestEngine(t, bus.NewMemoryEventBus(testLogger(t)))
	msgID := uuid.New()

	state := &StreamState{ConversationID: conv.ID, ProjectID: conv.ProjectID, MessageID: msgID, StartedAt: time.Now()}
	state.pushTool("datasource_query")
	state.appendProgress("partial output")

	engine.mu.Lock()
	engine.states[conv.ID] = state
	engine.mu.Unlock()

	events := engine.Resubscribe(conv.ID)
	if len(events) != 3 {
		t.Fatalf("expected 3 catch-up events (start, tool_use, progress), got %d", len(events))
	}
	if events[0].Type != "start" {
		t.Errorf("expected first event to be 'start', got %s", events[0].Type)
	}
	if events[1].Type != "tool_use" || events[1].Data["tool"] != "datasource_query" {
		t.Errorf("expected a tool_use event for datasource_query, got %+v", events[1])
	}
	if events[2].Type != "progress" || events[2].Data["content"] != "partial output" {
		t.Errorf("expected a progress event carrying the partial content, got %+v", events[2])
	}
}

func TestEngine_Publish_TagsConversationAndProjectID(t *testing.T) {
	memBus := bus.NewMemoryEventBus(testLogger(t))
	engine, _, conv := newTestEngine(t, memBus)

	received := make(chan *bus.Event, 1)
	_, err := memBus.Subscribe("stream."+conv.ID.String()+".start", func(ctx context.Context, e *bus.Event) error {
		received <- e
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	engine.publish(conv.ID, conv.ProjectID, "start", map[string]interface{}{"message_id": "m1"})

	select {
	case evt := <-received:
		data := evt.Data
		if data["conversation_id"] != conv.ID {
			t.Errorf("expected conversation_id to be tagged, got %v", data["conversation_id"])
		}
		if data["project_id"] != conv.ProjectID {
			t.Errorf("expected project_id to be tagged, got %v", data["project_id"])
		}
		if data["message_id"] != "m1" {
			t.Errorf("expected original data to be preserved, got %v", data["message_id"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the published event")
	}
}
