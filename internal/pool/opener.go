package pool

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/rizrmd/clay-studio-sub001/internal/connector"
	"github.com/rizrmd/clay-studio-sub001/internal/model"
)

// DefaultOpener opens a fresh *sql.DB for the SQL source types, reusing the
// same blank-imported drivers as internal/store (pgx/stdlib, go-sql-driver,
// mattn/go-sqlite3). Oracle and every other source type fall to the default
// case, which returns a plain error naming the source type as having no
// pooled sql driver.
func DefaultOpener(sourceType model.SourceType, cfg connector.Config) (*sql.DB, error) {
	switch sourceType {
	case model.SourcePostgres:
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database, sslModeOrDefault(cfg.SSLMode))
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, err
		}
		return db, db.Ping()

	case model.SourceMySQL:
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, err
		}
		return db, db.Ping()

	case model.SourceSQLite:
		db, err := sql.Open("sqlite3", cfg.FilePath)
		if err != nil {
			return nil, err
		}
		return db, db.Ping()

	default:
		return nil, fmt.Errorf("no pooled sql driver available for source type %q", sourceType)
	}
}

func sslModeOrDefault(mode string) string {
	if mode == "" {
		return "disable"
	}
	return mode
}
