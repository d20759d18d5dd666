package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/rizrmd/clay-studio-sub001/internal/common/config"
)

// Open opens the configured database driver and returns a Pool wired for
// that driver's read/write split.
//
// Postgres: pgx pools its own connections, so writer and reader share the
// same *sqlx.DB.
// SQLite: the writer is capped at a single connection (WAL serializes
// writes) while the reader opens several read-only connections, matching
// OpenSQLite/OpenSQLiteReader's split.
func Open(cfg config.DatabaseConfig) (*Pool, error) {
	switch cfg.Driver {
	case "postgres":
		sqlDB, err := OpenPostgres(cfg.DSN(), cfg.MaxConns, cfg.MinConns)
		if err != nil {
			return nil, err
		}
		db := sqlx.NewDb(sqlDB, "pgx")
		return NewPool(db, db), nil

	case "sqlite", "":
		writerDB, err := OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		readerDB, err := OpenSQLiteReader(cfg.Path)
		if err != nil {
			_ = writerDB.Close()
			return nil, err
		}
		return NewPool(
			sqlx.NewDb(writerDB, "sqlite3"),
			sqlx.NewDb(readerDB, "sqlite3"),
		), nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
