package database

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// DB is a SQLite handle holding the posts table the backend serves and the
// key/value table the client uses for local state. Either side may open
// its own file; both tables are always created.
type DB struct {
	*sql.DB
	log *zap.Logger
}

// Open opens (or creates) the database at path and creates its tables.
func Open(path string, log *zap.Logger) (*DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	sqlDB, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB, log: log}
	if err := db.createTables(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) createTables() error {
	// likes and comments are JSON columns, always replaced whole
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS posts (
            id TEXT PRIMARY KEY,
            author TEXT NOT NULL,
            author_role TEXT NOT NULL,
            content TEXT NOT NULL,
            timestamp TEXT NOT NULL,
            likes TEXT NOT NULL DEFAULT '[]',
            comments TEXT NOT NULL DEFAULT '[]'
        );
        CREATE INDEX IF NOT EXISTS idx_posts_timestamp ON posts(timestamp);
    `)
	if err != nil {
		db.log.Error("create_table_failed", zap.String("table", "posts"), zap.Error(err))
		return fmt.Errorf("creating posts table: %w", err)
	}
	db.log.Debug("table_ready", zap.String("table", "posts"))

	_, err = db.Exec(`
        CREATE TABLE IF NOT EXISTS kv (
            key TEXT PRIMARY KEY,
            value TEXT NOT NULL,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        );
    `)
	if err != nil {
		db.log.Error("create_table_failed", zap.String("table", "kv"), zap.Error(err))
		return fmt.Errorf("creating kv table: %w", err)
	}
	db.log.Debug("table_ready", zap.String("table", "kv"))

	return nil
}
