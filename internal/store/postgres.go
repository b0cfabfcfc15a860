package store

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
)

var postgresQueries = queries{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS chat_history (
            id         BIGSERIAL PRIMARY KEY,
            subject    TEXT   NOT NULL,
            role       TEXT   NOT NULL CHECK (role IN ('user', 'assistant')),
            content    TEXT   NOT NULL,
            created_at BIGINT NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_chat_history_subject_time ON chat_history (subject, created_at)`,
	},
	insert: "INSERT INTO chat_history (subject, role, content, created_at) VALUES ($1, $2, $3, $4)",
	list: `
        SELECT id, subject, role, content, created_at
        FROM chat_history
        WHERE subject = $1
        ORDER BY id ASC
    `,
	deleteSubject: "DELETE FROM chat_history WHERE subject = $1",
	deleteStale: `
        DELETE FROM chat_history
        WHERE subject IN (
            SELECT subject
            FROM chat_history
            GROUP BY subject
            HAVING MAX(created_at) < $1
        )
    `,
}

func NewPostgresDriver(dsn string, poolSize int) (Driver, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres database_url is required")
	}
	db, err := sql.Open("postgres", dsn)
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
	return &sqlDriver{db: db, q: postgresQueries}, nil
}
