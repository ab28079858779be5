package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dkeye/talkie/internal/core"
	"github.com/dkeye/talkie/internal/domain"
)

var _ core.MessageStore = (*Store)(nil)

const selectMessage = `
	SELECT m.message_id, m.user_id, u.username, u.profile_picture, m.message, m.pinned, m.created_at
	FROM chat_messages m
	LEFT JOIN users u ON u.user_id = m.user_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner, room domain.RoomID) (domain.ChatMessage, error) {
	var (
		m        domain.ChatMessage
		authorID sql.NullString
		username sql.NullString
		picture  sql.NullString
	)
	if err := row.Scan(&m.ID, &authorID, &username, &picture, &m.Body, &m.Pinned, &m.CreatedAt); err != nil {
		return domain.ChatMessage{}, err
	}
	m.Room = room
	m.CreatedAt = m.CreatedAt.UTC()
	m.AuthorID = domain.UserID(authorID.String)
	if authorID.Valid && username.Valid {
		m.Author = &domain.User{
			ID:             domain.UserID(authorID.String),
			Username:       username.String,
			ProfilePicture: picture.String,
		}
	}
	return m, nil
}

func (s *Store) Append(ctx context.Context, room domain.RoomID, author domain.UserID, body string) (domain.ChatMessage, error) {
	if !validID(room) {
		return domain.ChatMessage{}, core.ErrNoSuchRoom
	}
	var id string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO chat_messages (chat_id, user_id, message) VALUES ($1, $2, $3) RETURNING message_id`,
		room, author, body,
	).Scan(&id)
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("insert message: %w", err)
	}
	return s.Get(ctx, room, domain.MessageID(id))
}

func (s *Store) Get(ctx context.Context, room domain.RoomID, id domain.MessageID) (domain.ChatMessage, error) {
	if !validID(room) || !validID(id) {
		return domain.ChatMessage{}, core.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, selectMessage+` WHERE m.chat_id = $1 AND m.message_id = $2`, room, id)
	m, err := scanMessage(row, room)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ChatMessage{}, core.ErrNotFound
	}
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("get message %s: %w", id, err)
	}
	return m, nil
}

func (s *Store) MarkPinned(ctx context.Context, room domain.RoomID, id domain.MessageID, pinned bool) (domain.ChatMessage, error) {
	if !validID(room) || !validID(id) {
		return domain.ChatMessage{}, core.ErrNotFound
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_messages SET pinned = $3 WHERE message_id = $2 AND chat_id = $1`, room, id, pinned)
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("pin message %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ChatMessage{}, core.ErrNotFound
	}
	return s.Get(ctx, room, id)
}

func (s *Store) Delete(ctx context.Context, room domain.RoomID, id domain.MessageID) (bool, error) {
	if !validID(room) || !validID(id) {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_messages WHERE message_id = $2 AND chat_id = $1`, room, id)
	if err != nil {
		return false, fmt.Errorf("delete message %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) List(ctx context.Context, room domain.RoomID, limit int, before time.Time) ([]domain.ChatMessage, error) {
	out := []domain.ChatMessage{}
	if limit <= 0 || !validID(room) {
		return out, nil
	}
	var cursor sql.NullTime
	if !before.IsZero() {
		cursor = sql.NullTime{Time: before, Valid: true}
	}
	rows, err := s.db.QueryContext(ctx, selectMessage+`
		WHERE m.chat_id = $1 AND ($2::timestamptz IS NULL OR m.created_at < $2)
		ORDER BY m.created_at DESC, m.message_id DESC
		LIMIT $3`, room, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages of %s: %w", room, err)
	}
	defer rows.Close()
	for rows.Next() {
		m, err := scanMessage(rows, room)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}
