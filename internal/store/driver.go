package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Driver is the error-propagating storage layer beneath Transcript. Each
// implementation owns its connection pool.
type Driver interface {
	InitSchema(ctx context.Context) error
	InsertTurn(ctx context.Context, turn Turn) error
	ListTurns(ctx context.Context, subject string) ([]Turn, error)
	DeleteSubject(ctx context.Context, subject string) (int64, error)
	// DeleteStale removes, in a single statement, every subject whose most
	// recent turn was created before cutoff.
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

type Options struct {
	Driver   string // "sqlite" or "postgres"
	DSN      string
	PoolSize int
}

func Open(ctx context.Context, opts Options) (Driver, error) {
	var (
		d   Driver
		err error
	)
	switch opts.Driver {
	case "sqlite", "":
		d, err = NewSQLiteDriver(opts.DSN, opts.PoolSize)
	case "postgres":
		d, err = NewPostgresDriver(opts.DSN, opts.PoolSize)
	default:
		return nil, fmt.Errorf("unknown database driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := d.InitSchema(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return d, nil
}

// queries holds the dialect-specific statements for sqlDriver.
type queries struct {
	schema        []string
	insert        string
	list          string
	deleteSubject string
	deleteStale   string
}

// sqlDriver implements Driver over database/sql. Turns are listed in row id
// order, which is insertion order on both engines. Timestamps are stored as
// unix microseconds and only drive the stale cutoff.
type sqlDriver struct {
	db *sql.DB
	q  queries
}

func (d *sqlDriver) InitSchema(ctx context.Context) error {
	for _, stmt := range d.q.schema {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (d *sqlDriver) InsertTurn(ctx context.Context, turn Turn) error {
	_, err := d.db.ExecContext(ctx, d.q.insert, turn.Subject, string(turn.Role), turn.Content, turn.CreatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}
	return nil
}

func (d *sqlDriver) ListTurns(ctx context.Context, subject string) ([]Turn, error) {
	rows, err := d.db.QueryContext(ctx, d.q.list, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	turns := []Turn{}
	for rows.Next() {
		var (
			turn      Turn
			role      string
			createdAt int64
		)
		if err := rows.Scan(&turn.ID, &turn.Subject, &role, &turn.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		if turn.Role, err = ParseRole(role); err != nil {
			return nil, fmt.Errorf("turn %d: %w", turn.ID, err)
		}
		turn.CreatedAt = time.UnixMicro(createdAt)
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

func (d *sqlDriver) DeleteSubject(ctx context.Context, subject string) (int64, error) {
	res, err := d.db.ExecContext(ctx, d.q.deleteSubject, subject)
	if err != nil {
		return 0, fmt.Errorf("failed to delete turns: %w", err)
	}
	return res.RowsAffected()
}

func (d *sqlDriver) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, d.q.deleteStale, cutoff.UnixMicro())
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale transcripts: %w", err)
	}
	return res.RowsAffected()
}

func (d *sqlDriver) Close() error {
	return d.db.Close()
}
