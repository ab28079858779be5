package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dkeye/talkie/internal/core"
	"github.com/dkeye/talkie/internal/domain"
)

var _ core.MembershipStore = (*Store)(nil)

func (s *Store) RoomOf(ctx context.Context, room domain.RoomID) (domain.Room, error) {
	if !validID(room) {
		return domain.Room{}, core.ErrNoSuchRoom
	}
	out := domain.Room{ID: room}
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_type, created_at FROM chats WHERE chat_id = $1`, room,
	).Scan(&out.Kind, &out.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Room{}, core.ErrNoSuchRoom
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("get chat %s: %w", room, err)
	}
	return out, nil
}

func (s *Store) ListRoomsFor(ctx context.Context, user domain.UserID) ([]domain.RoomID, error) {
	rooms := []domain.RoomID{}
	if !validID(user) {
		return rooms, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id FROM chat_participants WHERE user_id = $1 ORDER BY joined_at`, user)
	if err != nil {
		return nil, fmt.Errorf("list chats for %s: %w", user, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		rooms = append(rooms, domain.RoomID(id))
	}
	return rooms, rows.Err()
}

func (s *Store) IsMember(ctx context.Context, room domain.RoomID, user domain.UserID) (bool, error) {
	_, ok, err := s.RoleOf(ctx, room, user)
	return ok, err
}

// RoleOf reads the community role, members of private chats and community
// participants without a membership row are plain members.
func (s *Store) RoleOf(ctx context.Context, room domain.RoomID, user domain.UserID) (domain.Role, bool, error) {
	if !validID(room) || !validID(user) {
		return "", false, nil
	}
	var role sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT CASE WHEN c.chat_type = 'community' THEN cm.role END
		FROM chat_participants p
		JOIN chats c ON c.chat_id = p.chat_id
		LEFT JOIN community_memberships cm ON cm.community_id = p.chat_id AND cm.user_id = p.user_id
		WHERE p.chat_id = $1 AND p.user_id = $2
		LIMIT 1`, room, user,
	).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("role of %s in %s: %w", user, room, err)
	}
	if !role.Valid {
		return domain.RoleMember, true, nil
	}
	r, err := domain.ParseRole(role.String)
	if err != nil {
		return "", false, fmt.Errorf("role of %s in %s: %w", user, room, err)
	}
	return r, true, nil
}

func (s *Store) AddMember(ctx context.Context, room domain.RoomID, user domain.UserID, role domain.Role) error {
	if !validID(room) {
		return core.ErrNoSuchRoom
	}
	if !validID(user) {
		return fmt.Errorf("invalid user id %q", user)
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		var kind domain.RoomKind
		err := tx.QueryRowContext(ctx, `SELECT chat_type FROM chats WHERE chat_id = $1`, room).Scan(&kind)
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrNoSuchRoom
		}
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO chat_participants (chat_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, room, user)
		if err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return core.ErrAlreadyMember
		}
		if kind != domain.RoomCommunity {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM community_memberships WHERE community_id = $1 AND user_id = $2`, room, user); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO community_memberships (community_id, user_id, role) VALUES ($1, $2, $3)`, room, user, string(role))
		return err
	})
}

func (s *Store) RemoveMember(ctx context.Context, room domain.RoomID, user domain.UserID) (bool, error) {
	if !validID(room) || !validID(user) {
		return false, nil
	}
	var existed bool
	err := s.tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM chat_participants WHERE chat_id = $1 AND user_id = $2`, room, user)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		existed = n > 0
		_, err = tx.ExecContext(ctx,
			`DELETE FROM community_memberships WHERE community_id = $1 AND user_id = $2`, room, user)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("remove %s from %s: %w", user, room, err)
	}
	return existed, nil
}

func (s *Store) SetRole(ctx context.Context, room domain.RoomID, user domain.UserID, role domain.Role) error {
	if !validID(room) || !validID(user) {
		return core.ErrNotFound
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM chat_participants WHERE chat_id = $1 AND user_id = $2`, room, user).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrNotFound
		}
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE community_memberships SET role = $3 WHERE community_id = $1 AND user_id = $2`, room, user, string(role))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO community_memberships (community_id, user_id, role) VALUES ($1, $2, $3)`, room, user, string(role))
		return err
	})
}
