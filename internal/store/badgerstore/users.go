package badgerstore

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/dkeye/talkie/internal/domain"
)

// PutUser upserts the display record used as message author.
func (s *Store) PutUser(ctx context.Context, u domain.User) error {
	if err := u.ID.Validate(); err != nil {
		return err
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, key("user", string(u.ID)), u)
	})
}

// DeleteUser removes the display record. Messages keep their author id and
// render with a null author afterwards.
func (s *Store) DeleteUser(ctx context.Context, id domain.UserID) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete(key("user", string(id)))
	})
}

// author resolves the display record of id, nil when it no longer exists.
func author(txn *badger.Txn, id domain.UserID) (*domain.User, error) {
	var u domain.User
	err := getJSON(txn, key("user", string(id)), &u)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
