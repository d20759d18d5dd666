// Package pool implements the process-wide connection pool registry (C2): a
// cache of live *sql.DB pools keyed by (datasource_id, config hash), with
// staleness validation and a background eviction sweep. It generalizes the
// teacher's in-memory registry idiom (map + secondary indexes guarded by
// sync.RWMutex, plus a time.Ticker sweep loop) to pooled SQL connections.
package pool

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rizrmd/clay-studio-sub001/internal/apperr"
	"github.com/rizrmd/clay-studio-sub001/internal/common/logger"
	"github.com/rizrmd/clay-studio-sub001/internal/connector"
	"github.com/rizrmd/clay-studio-sub001/internal/model"
)

// Identity is the set of connection-identity fields that participate in the
// cache key — only fields that define "the same connection" hash, so
// credential rotation that preserves identity still hits the cache (§4.2).
type Identity struct {
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Database string `json:"database,omitempty"`
	Username string `json:"username,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

// entry is one cached pool plus its usage/health bookkeeping.
type entry struct {
	db                           *sql.DB
	sourceType                   model.SourceType
	createdAt                    time.Time
	lastUsed                     time.Time
	usageCount                   int64
	consecutiveValidationFailures int
	firstFailureAt               time.Time
}

// Config bounds pool sizing and the eviction sweep, mirrored from
// config.PoolConfig.
type Config struct {
	MaxConnections       int
	MinConnections       int
	IdleTimeout          time.Duration
	MaxLifetime          time.Duration
	SweepInterval        time.Duration
}

// Opener opens a fresh *sql.DB for a datasource's source type and config.
// Supplied by the caller so the registry has no direct driver dependency.
type Opener func(sourceType model.SourceType, cfg connector.Config) (*sql.DB, error)

// Registry is the process-wide pool cache.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	cfg     Config
	opener  Opener
	log     *logger.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a Registry and starts its background eviction sweeper.
func New(cfg Config, opener Opener, log *logger.Logger) *Registry {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 10
	}
	if cfg.MinConnections <= 0 {
		cfg.MinConnections = 1
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.MaxLifetime <= 0 {
		cfg.MaxLifetime = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}

	r := &Registry{
		entries: make(map[string]*entry),
		cfg:     cfg,
		opener:  opener,
		log:     log,
		stopCh:  make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// CacheKey computes datasource_id ++ stable_hash(identity) per §4.2.
func CacheKey(datasourceID uuid.UUID, identity Identity) string {
	raw, _ := json.Marshal(identity)
	sum := sha256.Sum256(raw)
	return datasourceID.String() + ":" + hex.EncodeToString(sum[:8])
}

// Get returns a cached *sql.DB for (datasourceID, identity), validating on
// hit and creating (double-checked) on miss.
func (r *Registry) Get(ctx context.Context, datasourceID uuid.UUID, sourceType model.SourceType, identity Identity, connCfg connector.Config) (*sql.DB, error) {
	key := CacheKey(datasourceID, identity)

	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()

	if ok {
		if r.validate(ctx, key, e) {
			r.mu.Lock()
			e.usageCount++
			e.lastUsed = time.Now()
			r.mu.Unlock()
			return e.db, nil
		}
	}

	return r.createOrGet(ctx, key, sourceType, connCfg)
}

// validate runs SELECT 1. On failure it still serves the stale handle for
// up to 5s after the first failure; beyond that, or after 3 consecutive
// failures, it signals the caller to recreate.
func (r *Registry) validate(ctx context.Context, key string, e *entry) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := e.db.PingContext(pingCtx); err == nil {
		r.mu.Lock()
		e.consecutiveValidationFailures = 0
		r.mu.Unlock()
		return true
	}

	r.mu.Lock()
	if e.consecutiveValidationFailures == 0 {
		e.firstFailureAt = time.Now()
	}
	e.consecutiveValidationFailures++
	failures := e.consecutiveValidationFailures
	since := time.Since(e.firstFailureAt)
	r.mu.Unlock()

	if failures < 3 && since < 5*time.Second {
		if r.log != nil {
			r.log.Warn(fmt.Sprintf("pool validation failed for %s (failure %d), serving stale handle", key, failures))
		}
		return true
	}

	r.mu.Lock()
	if cur, ok := r.entries[key]; ok && cur == e {
		delete(r.entries, key)
		_ = cur.db.Close()
	}
	r.mu.Unlock()
	return false
}

// createOrGet creates a new pool under a write lock, double-checking in
// case a concurrent caller already recreated it.
func (r *Registry) createOrGet(ctx context.Context, key string, sourceType model.SourceType, connCfg connector.Config) (*sql.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		e.usageCount++
		e.lastUsed = time.Now()
		return e.db, nil
	}

	db, err := r.opener(sourceType, connCfg)
	if err != nil {
		return nil, apperr.UpstreamFailure("failed to open connection pool", err)
	}
	db.SetMaxOpenConns(r.cfg.MaxConnections)
	db.SetMaxIdleConns(r.cfg.MinConnections)
	db.SetConnMaxLifetime(r.cfg.MaxLifetime)
	db.SetConnMaxIdleTime(r.cfg.IdleTimeout)

	now := time.Now()
	r.entries[key] = &entry{
		db:         db,
		sourceType: sourceType,
		createdAt:  now,
		lastUsed:   now,
		usageCount: 1,
	}
	return db, nil
}

// Remove evicts and closes the pool for a datasource identity, used when a
// datasource's connection_config is mutated (§3 invariant).
func (r *Registry) Remove(datasourceID uuid.UUID, identity Identity) {
	key := CacheKey(datasourceID, identity)
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		delete(r.entries, key)
		_ = e.db.Close()
	}
}

// UsageCount reports how many times a cached pool has been served, used by
// tests asserting the cache-hit invariant (§8, scenario 3).
func (r *Registry) UsageCount(datasourceID uuid.UUID, identity Identity) (int64, bool) {
	key := CacheKey(datasourceID, identity)
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	if !ok {
		return 0, false
	}
	return e.usageCount, true
}

// sweepLoop periodically evicts entries past max lifetime or idle timeout.
func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Registry) sweep() {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, e := range r.entries {
		if now.Sub(e.createdAt) > r.cfg.MaxLifetime || now.Sub(e.lastUsed) > r.cfg.IdleTimeout {
			delete(r.entries, key)
			_ = e.db.Close()
			if r.log != nil {
				r.log.Info(fmt.Sprintf("evicted stale pool %s", key))
			}
		}
	}
}

// Close stops the sweeper and closes every pooled connection.
func (r *Registry) Close() error {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.mu.Lock()
	defer r.mu.Unlock()
	var lastErr error
	for key, e := range r.entries {
		if err := e.db.Close(); err != nil {
			lastErr = err
		}
		delete(r.entries, key)
	}
	return lastErr
}
