// Package badgerstore is the embedded durable store for memberships, rooms,
// user display records and chat messages.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"
)

const maxConflictRetries = 5

// Store implements core.MembershipStore and core.MessageStore on BadgerDB.
type Store struct {
	db  *badger.DB
	now func() time.Time

	// appendMu serializes Append so per-room timestamps stay monotonic.
	appendMu sync.Mutex
}

// Open opens (or creates) the database under path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(badgerLogger{})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %q: %w", path, err)
	}
	return New(db), nil
}

// New wraps an already opened database.
func New(db *badger.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for range maxConflictRetries {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

// key joins escaped id parts so that ids containing ':' cannot collide
// with a prefix scan.
func key(kind string, parts ...string) []byte {
	var b strings.Builder
	b.WriteString(kind)
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(url.QueryEscape(p))
	}
	return []byte(b.String())
}

func prefix(kind string, parts ...string) []byte {
	return append(key(kind, parts...), ':')
}

func getJSON(txn *badger.Txn, k []byte, v any) error {
	item, err := txn.Get(k)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, k []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", k, err)
	}
	return txn.Set(k, data)
}

// badgerLogger routes badger's own logging to zerolog.
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, a ...any) {
	log.Error().Str("module", "store.badger").Msgf(strings.TrimSpace(f), a...)
}

func (badgerLogger) Warningf(f string, a ...any) {
	log.Warn().Str("module", "store.badger").Msgf(strings.TrimSpace(f), a...)
}

func (badgerLogger) Infof(f string, a ...any) {
	log.Debug().Str("module", "store.badger").Msgf(strings.TrimSpace(f), a...)
}

func (badgerLogger) Debugf(f string, a ...any) {
	log.Trace().Str("module", "store.badger").Msgf(strings.TrimSpace(f), a...)
}
