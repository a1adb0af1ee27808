package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Archive persists chat lines.
type Archive interface {
	Record(ctx context.Context, l Line) error
	Recent(ctx context.Context, n int) ([]Line, error)
	Close() error
}

// SQLiteArchive is an Archive backed by a SQLite file.
type SQLiteArchive struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the archive at path.
func OpenSQLite(path string) (*SQLiteArchive, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// WAL lets the admin API read while the node writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	a := &SQLiteArchive{db: db}
	if err := a.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *SQLiteArchive) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_lines (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		sender    TEXT NOT NULL,
		body      TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		outgoing  INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_chat_lines_timestamp ON chat_lines(timestamp);
	`
	if _, err := a.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create history schema: %w", err)
	}
	return nil
}

func (a *SQLiteArchive) Record(ctx context.Context, l Line) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO chat_lines (sender, body, timestamp, outgoing) VALUES (?, ?, ?, ?)`,
		l.From, l.Text, l.Timestamp.Unix(), l.Outgoing)
	if err != nil {
		return fmt.Errorf("record chat line: %w", err)
	}
	return nil
}

// Recent returns the last n lines, oldest first.
func (a *SQLiteArchive) Recent(ctx context.Context, n int) ([]Line, error) {
	if n <= 0 {
		n = -1 // SQLite: no limit
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT sender, body, timestamp, outgoing FROM (
			SELECT id, sender, body, timestamp, outgoing FROM chat_lines
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, n)
	if err != nil {
		return nil, fmt.Errorf("query chat lines: %w", err)
	}
	defer rows.Close()

	var out []Line
	for rows.Next() {
		var (
			l  Line
			ts int64
		)
		if err := rows.Scan(&l.From, &l.Text, &ts, &l.Outgoing); err != nil {
			return nil, err
		}
		l.Timestamp = time.Unix(ts, 0)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}
