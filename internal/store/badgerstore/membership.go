package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dkeye/talkie/internal/core"
	"github.com/dkeye/talkie/internal/domain"
)

var _ core.MembershipStore = (*Store)(nil)

// Keys:
//
//	room:{room}              roomRecord
//	member:{room}:{user}     role
//	rooms-of:{user}:{room}   room id
type roomRecord struct {
	Kind      domain.RoomKind `json:"kind"`
	CreatedAt time.Time       `json:"createdAt"`
}

// CreateRoom records a room and makes creator its first member.
func (s *Store) CreateRoom(ctx context.Context, room domain.Room, creator domain.UserID) error {
	if room.ID == "" || !room.Kind.Valid() {
		return fmt.Errorf("invalid room %q/%q", room.ID, room.Kind)
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		k := key("room", string(room.ID))
		if _, err := txn.Get(k); err == nil {
			return fmt.Errorf("room %s already exists", room.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		rec := roomRecord{Kind: room.Kind, CreatedAt: room.CreatedAt}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = s.now().UTC()
		}
		if err := setJSON(txn, k, rec); err != nil {
			return err
		}
		if creator == "" {
			return nil
		}
		return putMember(txn, room.ID, creator, domain.RoleCreator)
	})
}

func (s *Store) RoomOf(ctx context.Context, room domain.RoomID) (domain.Room, error) {
	var rec roomRecord
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, key("room", string(room)), &rec)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Room{}, core.ErrNoSuchRoom
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("get room %s: %w", room, err)
	}
	return domain.Room{ID: room, Kind: rec.Kind, CreatedAt: rec.CreatedAt}, nil
}

func (s *Store) ListRoomsFor(ctx context.Context, user domain.UserID) ([]domain.RoomID, error) {
	rooms := []domain.RoomID{}
	err := s.view(ctx, func(txn *badger.Txn) error {
		p := prefix("rooms-of", string(user))
		opts := badger.DefaultIteratorOptions
		opts.Prefix = p
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				rooms = append(rooms, domain.RoomID(val))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list rooms for %s: %w", user, err)
	}
	return rooms, nil
}

func (s *Store) IsMember(ctx context.Context, room domain.RoomID, user domain.UserID) (bool, error) {
	_, ok, err := s.RoleOf(ctx, room, user)
	return ok, err
}

func (s *Store) RoleOf(ctx context.Context, room domain.RoomID, user domain.UserID) (domain.Role, bool, error) {
	var role domain.Role
	err := s.view(ctx, func(txn *badger.Txn) error {
		r, err := getRole(txn, room, user)
		role = r
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("role of %s in %s: %w", user, room, err)
	}
	return role, true, nil
}

func (s *Store) AddMember(ctx context.Context, room domain.RoomID, user domain.UserID, role domain.Role) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(key("room", string(room))); errors.Is(err, badger.ErrKeyNotFound) {
			return core.ErrNoSuchRoom
		} else if err != nil {
			return err
		}
		if _, err := getRole(txn, room, user); err == nil {
			return core.ErrAlreadyMember
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return putMember(txn, room, user, role)
	})
}

func (s *Store) RemoveMember(ctx context.Context, room domain.RoomID, user domain.UserID) (bool, error) {
	var existed bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		existed = false
		k := key("member", string(room), string(user))
		if _, err := txn.Get(k); errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		} else if err != nil {
			return err
		}
		existed = true
		if err := txn.Delete(k); err != nil {
			return err
		}
		return txn.Delete(key("rooms-of", string(user), string(room)))
	})
	if err != nil {
		return false, fmt.Errorf("remove %s from %s: %w", user, room, err)
	}
	return existed, nil
}

func (s *Store) SetRole(ctx context.Context, room domain.RoomID, user domain.UserID, role domain.Role) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		k := key("member", string(room), string(user))
		if _, err := txn.Get(k); errors.Is(err, badger.ErrKeyNotFound) {
			return core.ErrNotFound
		} else if err != nil {
			return err
		}
		return txn.Set(k, []byte(role))
	})
}

func getRole(txn *badger.Txn, room domain.RoomID, user domain.UserID) (domain.Role, error) {
	item, err := txn.Get(key("member", string(room), string(user)))
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return domain.Role(val), nil
}

func putMember(txn *badger.Txn, room domain.RoomID, user domain.UserID, role domain.Role) error {
	if err := txn.Set(key("member", string(room), string(user)), []byte(role)); err != nil {
		return err
	}
	return txn.Set(key("rooms-of", string(user), string(room)), []byte(room))
}
