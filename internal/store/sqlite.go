package store

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

var sqliteQueries = queries{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS chat_history (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            subject TEXT NOT NULL,
            role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
            content TEXT NOT NULL,
            created_at INTEGER NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_chat_history_subject_time ON chat_history (subject, created_at)`,
	},
	insert: "INSERT INTO chat_history (subject, role, content, created_at) VALUES (?, ?, ?, ?)",
	list: `
        SELECT id, subject, role, content, created_at
        FROM chat_history
        WHERE subject = ?
        ORDER BY id ASC
    `,
	deleteSubject: "DELETE FROM chat_history WHERE subject = ?",
	deleteStale: `
        DELETE FROM chat_history
        WHERE subject IN (
            SELECT subject
            FROM chat_history
            GROUP BY subject
            HAVING MAX(created_at) < ?
        )
    `,
}

// sqliteDSN turns a plain file path into a DSN with WAL journaling and a
// busy timeout, so concurrent readers never block the single writer.
// Values that already carry query parameters are used verbatim.
func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return "file:" + path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate"
}

func NewSQLiteDriver(path string, poolSize int) (Driver, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is required")
	}
	db, err := sql.Open("sqlite3", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if poolSize > 0 {
		db.SetMaxOpenConns(poolSize)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &sqlDriver{db: db, q: sqliteQueries}, nil
}
