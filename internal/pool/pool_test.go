package pool

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rizrmd/clay-studio-sub001/internal/common/logger"
	"github.com/rizrmd/clay-studio-sub001/internal/connector"
	"github.com/rizrmd/clay-studio-sub001/internal/model"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}
	return log
}

// sqliteOpener opens an in-memory sqlite database per call, counting how
// many times it was invoked so tests can assert cache-hit behavior.
func sqliteOpener(t *testing.T) (Opener, *int) {
	t.Helper()
	calls := 0
	return func(sourceType model.SourceType, cfg connector.Config) (*sql.DB, error) {
		calls++
		db, err := sql.Open("sqlite3", ":memory:")
		if err != nil {
			return nil, err
		}
		return db, db.Ping()
	}, &calls
}

func TestCacheKey_SameIdentityProducesSameKey(t *testing.T) {
	id := uuid.New()
	identity := Identity{Host: "localhost", Port: 5432, Database: "db", Username: "u"}

	a := CacheKey(id, identity)
	b := CacheKey(id, identity)
	if a != b {
		t.Errorf("expected identical identities to hash to the same key, got %s and %s", a, b)
	}
}

func TestCacheKey_DifferentIdentityProducesDifferentKey(t *testing.T) {
	id := uuid.New()
	a := CacheKey(id, Identity{Host: "host-a"})
	b := CacheKey(id, Identity{Host: "host-b"})
	if a == b {
		t.Error("expected different identities to produce different keys")
	}
}

func TestRegistry_Get_CachesConnectionAcrossCalls(t *testing.T) {
	opener, calls := sqliteOpener(t)
	r := New(Config{}, opener, testLogger(t))
	defer r.Close()

	datasourceID := uuid.New()
	identity := Identity{FilePath: ":memory:"}

	_, err := r.Get(context.Background(), datasourceID, model.SourceSQLite, identity, connector.Config{})
	if err != nil {
		t.Fatalf("first Get failed: %v", err)
	}
	_, err = r.Get(context.Background(), datasourceID, model.SourceSQLite, identity, connector.Config{})
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}

	if *calls != 1 {
		t.Errorf("expected the opener to be called once across two Get calls, got %d", *calls)
	}

	count, ok := r.UsageCount(datasourceID, identity)
	if !ok {
		t.Fatal("expected a usage count to be recorded")
	}
	if count != 2 {
		t.Errorf("expected usage count 2, got %d", count)
	}
}

func TestRegistry_Get_DistinctIdentitiesOpenDistinctConnections(t *testing.T) {
	opener, calls := sqliteOpener(t)
	r := New(Config{}, opener, testLogger(t))
	defer r.Close()

	datasourceID := uuid.New()
	_, err := r.Get(context.Background(), datasourceID, model.SourceSQLite, Identity{Host: "a"}, connector.Config{})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	_, err = r.Get(context.Background(), datasourceID, model.SourceSQLite, Identity{Host: "b"}, connector.Config{})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if *calls != 2 {
		t.Errorf("expected the opener to be called once per distinct identity, got %d", *calls)
	}
}

func TestRegistry_Remove_EvictsCachedEntry(t *testing.T) {
	opener, calls := sqliteOpener(t)
	r := New(Config{}, opener, testLogger(t))
	defer r.Close()

	datasourceID := uuid.New()
	identity := Identity{FilePath: ":memory:"}

	_, err := r.Get(context.Background(), datasourceID, model.SourceSQLite, identity, connector.Config{})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	r.Remove(datasourceID, identity)

	if _, ok := r.UsageCount(datasourceID, identity); ok {
		t.Error("expected UsageCount to report nothing after Remove")
	}

	_, err = r.Get(context.Background(), datasourceID, model.SourceSQLite, identity, connector.Config{})
	if err != nil {
		t.Fatalf("Get after Remove failed: %v", err)
	}
	if *calls != 2 {
		t.Errorf("expected Remove to force a fresh open on the next Get, got %d opener calls", *calls)
	}
}

func TestRegistry_UsageCount_UnknownIdentityReportsFalse(t *testing.T) {
	opener, _ := sqliteOpener(t)
	r := New(Config{}, opener, testLogger(t))
	defer r.Close()

	if _, ok := r.UsageCount(uuid.New(), Identity{}); ok {
		t.Error("expected UsageCount to report false for an identity never fetched")
	}
}

func TestRegistry_Close_ClosesAllPools(t *testing.T) {
	opener, _ := sqliteOpener(t)
	r := New(Config{}, opener, testLogger(t))

	datasourceID := uuid.New()
	identity := Identity{FilePath: ":memory:"}
	if _, err := r.Get(context.Background(), datasourceID, model.SourceSQLite, identity, connector.Config{}); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, ok := r.UsageCount(datasourceID, identity); ok {
		t.Error("expected the registry to be empty after Close")
	}
}

func TestNew_AppliesDefaultsForZeroConfig(t *testing.T) {
	opener, _ := sqliteOpener(t)
	r := New(Config{}, opener, testLogger(t))
	defer r.Close()

	if r.cfg.MaxConnections != 10 {
		t.Errorf("expected default MaxConnections 10, got %d", r.cfg.MaxConnections)
	}
	if r.cfg.SweepInterval != time.Minute {
		t.Errorf("expected default SweepInterval 1m, got %v", r.cfg.SweepInterval)
	}
}
