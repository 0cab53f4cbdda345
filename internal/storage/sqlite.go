package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"hoard/internal/model"
	"hoard/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// MarkArchived records a handled message. Marking the same message twice is
// a no-op so a crash between download and journal write cannot wedge a chat.
func (s *SQLite) MarkArchived(ctx context.Context, msg *model.ArchivedMessage) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO archived_messages (chat_id, message_id, media_file, archived_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(chat_id, message_id) DO NOTHING`,
		msg.ChatID, msg.MessageID, msg.MediaFile, now,
	)
	if err != nil {
		return fmt.Errorf("insert archived message: %w", err)
	}
	msg.ArchivedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// IsArchived reports whether a message has already been handled.
func (s *SQLite) IsArchived(ctx context.Context, chatID int64, messageID int) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM archived_messages WHERE chat_id = ? AND message_id = ?`,
		chatID, messageID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query archived message: %w", err)
	}
	return n > 0, nil
}

// ListArchived returns all index entries for a chat, oldest first.
func (s *SQLite) ListArchived(ctx context.Context, chatID int64) ([]model.ArchivedMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, message_id, media_file, archived_at
		 FROM archived_messages WHERE chat_id = ? ORDER BY message_id`,
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("query archived messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.ArchivedMessage
	for rows.Next() {
		var m model.ArchivedMessage
		var archivedAt string
		if err := rows.Scan(&m.ChatID, &m.MessageID, &m.MediaFile, &archivedAt); err != nil {
			return nil, fmt.Errorf("scan archived message: %w", err)
		}
		m.ArchivedAt, _ = time.Parse(timeLayout, archivedAt)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archived messages: %w", err)
	}
	return out, nil
}
