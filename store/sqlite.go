// Package store provides persistent storage for message history and peer
// display names. Uses WAL mode for crash-safe writes.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/brokemediaio-a11y/OffLink/chat"
	"github.com/brokemediaio-a11y/OffLink/identity"
)

// DB wraps a SQLite connection with WAL mode and migrations. It implements
// chat.Store.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/chat.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "chat.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id          TEXT PRIMARY KEY,
			content     TEXT NOT NULL,
			sender_id   TEXT NOT NULL,
			receiver_id TEXT NOT NULL,
			peer_id     TEXT NOT NULL,
			sent_at     INTEGER NOT NULL,
			status      TEXT NOT NULL,
			outbound    BOOLEAN NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_peer ON messages(peer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sent ON messages(sent_at)`,

		`CREATE TABLE IF NOT EXISTS display_names (
			peer_id TEXT PRIMARY KEY,
			name    TEXT NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// SaveMessage inserts or refreshes a message record.
func (d *DB) SaveMessage(m chat.Message) error {
	_, err := d.db.Exec(
		`INSERT INTO messages (id, content, sender_id, receiver_id, peer_id, sent_at, status, outbound)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status`,
		m.ID, m.Content, string(m.SenderID), string(m.ReceiverID),
		string(m.PeerID()), m.Timestamp.UnixNano(), m.Status.String(), m.IsOutbound,
	)
	return err
}

// UpdateStatus rewrites a message's delivery status.
func (d *DB) UpdateStatus(messageID string, status chat.DeliveryStatus) error {
	result, err := d.db.Exec(
		`UPDATE messages SET status = ? WHERE id = ?`,
		status.String(), messageID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("message %s not found", messageID)
	}
	return nil
}

// GetAllMessages returns the full history ordered oldest first.
func (d *DB) GetAllMessages() ([]chat.Message, error) {
	rows, err := d.db.Query(
		`SELECT id, content, sender_id, receiver_id, sent_at, status, outbound
		 FROM messages ORDER BY sent_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// GetMessagesForConversation returns the history with one identifier,
// oldest first. Callers gather across aliases themselves.
func (d *DB) GetMessagesForConversation(peer identity.PeerID) ([]chat.Message, error) {
	rows, err := d.db.Query(
		`SELECT id, content, sender_id, receiver_id, sent_at, status, outbound
		 FROM messages WHERE peer_id = ? ORDER BY sent_at ASC`,
		string(peer),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// GetDisplayName retrieves the persisted name for an identifier, empty when
// none was ever observed.
func (d *DB) GetDisplayName(peer identity.PeerID) (string, error) {
	var name string
	err := d.db.QueryRow(`SELECT name FROM display_names WHERE peer_id = ?`, string(peer)).Scan(&name)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return name, err
}

// SetDisplayName stores the name observed for an identifier.
func (d *DB) SetDisplayName(peer identity.PeerID, name string) error {
	_, err := d.db.Exec(
		`INSERT INTO display_names (peer_id, name) VALUES (?, ?)
		 ON CONFLICT(peer_id) DO UPDATE SET name=excluded.name`,
		string(peer), name,
	)
	return err
}

func scanMessages(rows *sql.Rows) ([]chat.Message, error) {
	var msgs []chat.Message
	for rows.Next() {
		var m chat.Message
		var sender, receiver, status string
		var sentAt int64
		if err := rows.Scan(&m.ID, &m.Content, &sender, &receiver, &sentAt, &status, &m.IsOutbound); err != nil {
			return nil, err
		}
		m.SenderID = identity.PeerID(sender)
		m.ReceiverID = identity.PeerID(receiver)
		m.Timestamp = time.Unix(0, sentAt)
		m.Status = chat.ParseStatus(status)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
