package postgres

import (
	"context"
	"fmt"

	"github.com/dkeye/talkie/internal/domain"
)

// CreateRoom inserts a chat and makes creator its first member. Chat CRUD
// normally belongs to the account service; the relay uses this for local
// setups and tests.
func (s *Store) CreateRoom(ctx context.Context, kind domain.RoomKind, creator domain.UserID) (domain.RoomID, error) {
	var id string
	if err := s.db.QueryRowContext(ctx,
		`INSERT INTO chats (chat_type) VALUES ($1) RETURNING chat_id`, string(kind)).Scan(&id); err != nil {
		return "", fmt.Errorf("insert chat: %w", err)
	}
	room := domain.RoomID(id)
	if creator == "" {
		return room, nil
	}
	role := domain.RoleMember
	if kind == domain.RoomCommunity {
		role = domain.RoleCreator
	}
	if err := s.AddMember(ctx, room, creator, role); err != nil {
		return "", err
	}
	return room, nil
}

// CreateUser inserts a display record and returns its generated id.
func (s *Store) CreateUser(ctx context.Context, username, picture string) (domain.UserID, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (username, profile_picture) VALUES ($1, NULLIF($2, '')) RETURNING user_id`,
		username, picture).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert user: %w", err)
	}
	return domain.UserID(id), nil
}
