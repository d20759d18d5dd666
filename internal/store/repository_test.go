package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rizrmd/clay-studio-sub001/internal/apperr"
	"github.com/rizrmd/clay-studio-sub001/internal/model"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")

	writerDB, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	readerDB, err := OpenSQLiteReader(path)
	if err != nil {
		t.Fatalf("OpenSQLiteReader failed: %v", err)
	}

	pool := NewPool(sqlx.NewDb(writerDB, "sqlite3"), sqlx.NewDb(readerDB, "sqlite3"))
	t.Cleanup(func() { _ = pool.Close() })

	repo, err := NewRepository(pool)
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}
	return repo
}

func TestRepository_TenantCRUD(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	tenant, err := repo.CreateTenant(ctx, "acme", model.TenantConfig{})
	if err != nil {
		t.Fatalf("CreateTenant failed: %v", err)
	}
	if tenant.Status != model.TenantPending {
		t.Errorf("expected a freshly created tenant to be pending, got %s", tenant.Status)
	}

	got, err := repo.GetTenant(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("GetTenant failed: %v", err)
	}
	if got.Name != "acme" {
		t.Errorf("expected name 'acme', got %s", got.Name)
	}

	if err := repo.UpdateTenantInstall(ctx, tenant.ID, "/opt/acme", "cred-123"); err != nil {
		t.Fatalf("UpdateTenantInstall failed: %v", err)
	}
	got, err = repo.GetTenant(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("GetTenant after install failed: %v", err)
	}
	if got.Status != model.TenantActive {
		t.Errorf("expected install to move status to active, got %s", got.Status)
	}
	if got.AgentCredential == nil || *got.AgentCredential != "cred-123" {
		t.Errorf("expected agent credential to be persisted, got %v", got.AgentCredential)
	}
}

func TestRepository_GetTenant_UnknownIDReturnsNotFound(t *testing.T) {
	repo := newTestRepository(t)
	_, err := repo.GetTenant(context.Background(), uuid.New())
	if !apperr.IsNotFound(err) {
		t.Errorf("expected a not-found error, got %v", err)
	}
}

func TestRepository_ProjectCRUD(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	tenant, err := repo.CreateTenant(ctx, "acme", model.TenantConfig{})
	if err != nil {
		t.Fatalf("CreateTenant failed: %v", err)
	}

	project, err := repo.CreateProject(ctx, tenant.ID, "analytics")
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	list, err := repo.ListProjects(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 project, got %d", len(list))
	}

	if err := repo.UpdateProjectContext(ctx, tenant.ID, project.ID, "# notes"); err != nil {
		t.Fatalf("UpdateProjectContext failed: %v", err)
	}
	got, err := repo.GetProject(ctx, tenant.ID, project.ID)
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if got.ContextRaw != "# notes" {
		t.Errorf("expected updated context, got %q", got.ContextRaw)
	}

	if err := repo.DeleteProject(ctx, tenant.ID, project.ID); err != nil {
		t.Fatalf("DeleteProject failed: %v", err)
	}
	if _, err := repo.GetProject(ctx, tenant.ID, project.ID); !apperr.IsNotFound(err) {
		t.Errorf("expected a soft-deleted project to be not-found, got %v", err)
	}
}

func TestRepository_ConversationAndMessageFlow(t *testing.T) {
	repo := newTestRepository(t)
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

	msg, err := repo.CreateMessage(ctx, conv.ID, model.RoleUser, "hello", nil)
	if err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}
	if msg.Role != model.RoleUser {
		t.Errorf("expected role user, got %s", msg.Role)
	}

	if err := repo.SetConversationTitle(ctx, conv.ID, "greeting", true); err != nil {
		t.Fatalf("SetConversationTitle failed: %v", err)
	}
	got, err := repo.GetConversation(ctx, project.ID, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.Title == nil || *got.Title != "greeting" {
		t.Errorf("expected title 'greeting', got %v", got.Title)
	}
	if !got.IsTitleManuallySet {
		t.Error("expected IsTitleManuallySet to be true")
	}
}

func TestRepository_BulkDeleteConversations_SkipsMissingIDs(t *testing.T) {
	repo := newTestRepository(t)
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

	deleted, err := repo.BulkDeleteConversations(ctx, project.ID, []uuid.UUID{conv.ID, uuid.New()})
	if err != nil {
		t.Fatalf("BulkDeleteConversations failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected exactly 1 deletion (the missing id is skipped), got %d", deleted)
	}
}
