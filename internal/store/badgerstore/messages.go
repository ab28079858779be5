package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dkeye/talkie/internal/core"
	"github.com/dkeye/talkie/internal/domain"
)

var _ core.MessageStore = (*Store)(nil)

// Messages live under "msg:{room}:{unixnano padded to 19}:{id}" so a prefix
// scan yields them in creation order. "msgid:{room}:{id}" points at the
// message key.
const tsDigits = 19

var maxTS = []byte("9999999999999999999")

type diskMessage struct {
	ID        domain.MessageID `json:"id"`
	Author    domain.UserID    `json:"author"`
	Body      string           `json:"body"`
	Pinned    bool             `json:"pinned"`
	CreatedAt int64            `json:"at"`
}

func msgKey(room domain.RoomID, at int64, id domain.MessageID) []byte {
	return append(prefix("msg", string(room)), fmt.Sprintf("%0*d:%s", tsDigits, at, id)...)
}

func (s *Store) Append(ctx context.Context, room domain.RoomID, authorID domain.UserID, body string) (domain.ChatMessage, error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	var out domain.ChatMessage
	err := s.update(ctx, func(txn *badger.Txn) error {
		last, err := lastTimestamp(txn, room)
		if err != nil {
			return err
		}
		at := s.now().UnixNano()
		if at <= last {
			at = last + 1
		}
		dm := diskMessage{
			ID:        domain.NewMessageID(),
			Author:    authorID,
			Body:      body,
			CreatedAt: at,
		}
		k := msgKey(room, at, dm.ID)
		if err := setJSON(txn, k, dm); err != nil {
			return err
		}
		if err := txn.Set(key("msgid", string(room), string(dm.ID)), k); err != nil {
			return err
		}
		out, err = toChatMessage(txn, room, dm)
		return err
	})
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("append message to %s: %w", room, err)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, room domain.RoomID, id domain.MessageID) (domain.ChatMessage, error) {
	var out domain.ChatMessage
	err := s.view(ctx, func(txn *badger.Txn) error {
		dm, _, err := getMessage(txn, room, id)
		if err != nil {
			return err
		}
		out, err = toChatMessage(txn, room, dm)
		return err
	})
	if err != nil {
		return domain.ChatMessage{}, wrapNotFound(err, "get message %s", id)
	}
	return out, nil
}

func (s *Store) MarkPinned(ctx context.Context, room domain.RoomID, id domain.MessageID, pinned bool) (domain.ChatMessage, error) {
	var out domain.ChatMessage
	err := s.update(ctx, func(txn *badger.Txn) error {
		dm, k, err := getMessage(txn, room, id)
		if err != nil {
			return err
		}
		dm.Pinned = pinned
		if err := setJSON(txn, k, dm); err != nil {
			return err
		}
		out, err = toChatMessage(txn, room, dm)
		return err
	})
	if err != nil {
		return domain.ChatMessage{}, wrapNotFound(err, "pin message %s", id)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, room domain.RoomID, id domain.MessageID) (bool, error) {
	var deleted bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		deleted = false
		_, k, err := getMessage(txn, room, id)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := txn.Delete(k); err != nil {
			return err
		}
		deleted = true
		return txn.Delete(key("msgid", string(room), string(id)))
	})
	if err != nil {
		return false, fmt.Errorf("delete message %s: %w", id, err)
	}
	return deleted, nil
}

func (s *Store) List(ctx context.Context, room domain.RoomID, limit int, before time.Time) ([]domain.ChatMessage, error) {
	out := []domain.ChatMessage{}
	if limit <= 0 {
		return out, nil
	}
	err := s.view(ctx, func(txn *badger.Txn) error {
		p := prefix("msg", string(room))
		opts := badger.DefaultIteratorOptions
		opts.Prefix = p
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(slices.Clone(p), maxTS...)
		if !before.IsZero() {
			seek = append(slices.Clone(p), fmt.Sprintf("%0*d", tsDigits, before.UnixNano())...)
		}
		for it.Seek(seek); it.Valid() && len(out) < limit; it.Next() {
			var dm diskMessage
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &dm)
			}); err != nil {
				return err
			}
			m, err := toChatMessage(txn, room, dm)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list messages of %s: %w", room, err)
	}
	slices.Reverse(out)
	return out, nil
}

func getMessage(txn *badger.Txn, room domain.RoomID, id domain.MessageID) (diskMessage, []byte, error) {
	item, err := txn.Get(key("msgid", string(room), string(id)))
	if err != nil {
		return diskMessage{}, nil, err
	}
	k, err := item.ValueCopy(nil)
	if err != nil {
		return diskMessage{}, nil, err
	}
	var dm diskMessage
	if err := getJSON(txn, k, &dm); err != nil {
		return diskMessage{}, nil, err
	}
	return dm, k, nil
}

// lastTimestamp returns the creation time of the newest message in room,
// zero when the room has none.
func lastTimestamp(txn *badger.Txn, room domain.RoomID) (int64, error) {
	p := prefix("msg", string(room))
	opts := badger.DefaultIteratorOptions
	opts.Prefix = p
	opts.Reverse = true
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	it.Seek(append(slices.Clone(p), maxTS...))
	if !it.Valid() {
		return 0, nil
	}
	k := it.Item().Key()
	if len(k) < len(p)+tsDigits {
		return 0, fmt.Errorf("corrupt message key %q", k)
	}
	return strconv.ParseInt(string(k[len(p):len(p)+tsDigits]), 10, 64)
}

func toChatMessage(txn *badger.Txn, room domain.RoomID, dm diskMessage) (domain.ChatMessage, error) {
	a, err := author(txn, dm.Author)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	return domain.ChatMessage{
		ID:        dm.ID,
		Room:      room,
		AuthorID:  dm.Author,
		Author:    a,
		Body:      dm.Body,
		Pinned:    dm.Pinned,
		CreatedAt: time.Unix(0, dm.CreatedAt).UTC(),
	}, nil
}

func wrapNotFound(err error, format string, args ...any) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return core.ErrNotFound
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
