// Package postgres implements the relay stores on the account database
// schema (chats, chat_participants, community_memberships, chat_messages,
// users).
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Store struct {
	db *sql.DB
}

// Open connects with the lib/pq driver and pings once.
func Open(ctx context.Context, dsn string, opts Options) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	log.Info().Str("module", "store.postgres").Msg("connected")
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// schema is the subset of the account schema the relay reads and writes.
const schema = `
CREATE EXTENSION IF NOT EXISTS pgcrypto;
CREATE TABLE IF NOT EXISTS users (
	user_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	username VARCHAR(50) UNIQUE NOT NULL,
	profile_picture VARCHAR(255)
);
CREATE TABLE IF NOT EXISTS chats (
	chat_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	chat_type VARCHAR(20) NOT NULL CHECK (chat_type IN ('private', 'community')),
	created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS chat_participants (
	chat_id UUID REFERENCES chats(chat_id) ON DELETE CASCADE,
	user_id UUID REFERENCES users(user_id) ON DELETE CASCADE,
	joined_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (chat_id, user_id)
);
CREATE TABLE IF NOT EXISTS community_memberships (
	membership_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	community_id UUID,
	user_id UUID REFERENCES users(user_id),
	role VARCHAR(20) NOT NULL,
	joined_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS chat_messages (
	message_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	chat_id UUID REFERENCES chats(chat_id) ON DELETE CASCADE,
	user_id UUID REFERENCES users(user_id) ON DELETE SET NULL,
	message TEXT NOT NULL,
	pinned BOOLEAN DEFAULT FALSE,
	created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_chat_id ON chat_messages(chat_id);
CREATE INDEX IF NOT EXISTS idx_chat_messages_created_at ON chat_messages(created_at);
`

// EnsureSchema creates the relay tables when they are missing. Existing
// tables are left untouched.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// validID reports whether id can be compared against a UUID column.
func validID[T ~string](id T) bool {
	return uuid.Validate(string(id)) == nil
}

func (s *Store) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
