// Package store is the Postgres persistence layer behind every
// ports.*Repository interface. Grounded on npezzotti-gochat's
// NewPgGoChatRepository: sql.Open + Ping at construction, raw
// QueryRow/Query/Exec with $N placeholders, no ORM.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT UNIQUE NOT NULL,
	name TEXT NOT NULL,
	avatar_url TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS meetings (
	id TEXT PRIMARY KEY,
	code TEXT UNIQUE NOT NULL,
	title TEXT NOT NULL,
	host_user_id TEXT NOT NULL,
	lobby_enabled BOOLEAN NOT NULL DEFAULT true,
	status TEXT NOT NULL,
	scheduled_at TIMESTAMPTZ,
	started_at TIMESTAMPTZ,
	ended_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS participants (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	meeting_id TEXT NOT NULL,
	role TEXT NOT NULL,
	status TEXT NOT NULL,
	breakout_room_id TEXT,
	joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	left_at TIMESTAMPTZ,
	UNIQUE(user_id, meeting_id)
);

CREATE TABLE IF NOT EXISTS breakout_rooms (
	id TEXT PRIMARY KEY,
	meeting_id TEXT NOT NULL,
	name TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	ends_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS questions (
	id TEXT PRIMARY KEY,
	meeting_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	content TEXT NOT NULL,
	answered BOOLEAN NOT NULL DEFAULT false,
	pinned BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS upvotes (
	id SERIAL PRIMARY KEY,
	question_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	UNIQUE(question_id, user_id)
);

CREATE TABLE IF NOT EXISTS chat_messages (
	id TEXT PRIMARY KEY,
	meeting_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	user_name TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS reminders (
	id TEXT PRIMARY KEY,
	meeting_id TEXT NOT NULL,
	type TEXT NOT NULL,
	trigger_at TIMESTAMPTZ NOT NULL,
	minutes_before INTEGER NOT NULL,
	target_email TEXT NOT NULL DEFAULT '',
	sent BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS invitations (
	id TEXT PRIMARY KEY,
	meeting_id TEXT NOT NULL,
	email TEXT NOT NULL,
	invited_by_user_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB wraps the shared *sql.DB every repository in this package embeds.
type DB struct {
	conn *sql.DB
}

func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Migrate applies the fixed schema. Idempotent — every statement is
// CREATE TABLE IF NOT EXISTS, there is no migration history table since
// this service has exactly one schema version.
func (db *DB) Migrate() error {
	_, err := db.conn.Exec(schema)
	return err
}

func (db *DB) Close() error {
	return db.conn.Close()
}
