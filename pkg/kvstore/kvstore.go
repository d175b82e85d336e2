// Package kvstore is the shared key-value cache that sits next to the SQLite
// mirror. It holds short-lived state: per-user write leases, OAuth
// authorization state and sessions, and cached profiles.
package kvstore

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("key not found")

// ErrExists is returned by SetIfAbsent when the key is already present.
var ErrExists = errors.New("key already exists")

type Store struct {
	db *badger.DB
}

// Open opens the store at dir. An empty dir opens an in-memory store, which
// is what tests use.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(&badgerLogger{log: logger.New()})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open kv store")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return errors.WithStack(s.db.Close())
}

// Get returns the raw value for key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return val, errors.WithStack(err)
}

// Set writes key. A zero ttl means the entry never expires.
func (s *Store) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(newEntry(key, val, ttl))
	})
	return errors.WithStack(err)
}

// SetIfAbsent writes key only when it is absent (or expired). The check and
// the write happen in one transaction, so two racing callers can't both win:
// the loser gets ErrExists either from the check or from badger's conflict
// detection at commit.
func (s *Store) SetIfAbsent(_ context.Context, key string, val []byte, ttl time.Duration) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			return ErrExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.SetEntry(newEntry(key, val, ttl))
	})
	if errors.Is(err, badger.ErrConflict) {
		return ErrExists
	}
	if errors.Is(err, ErrExists) {
		return ErrExists
	}
	return errors.WithStack(err)
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(_ context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	return errors.WithStack(err)
}

// CompareAndDelete removes key only if it still holds expected. It reports
// whether the key was deleted.
func (s *Store) CompareAndDelete(_ context.Context, key string, expected []byte) (bool, error) {
	deleted := false
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if !bytes.Equal(val, expected) {
			return nil
		}
		deleted = true
		return txn.Delete([]byte(key))
	})
	if errors.Is(err, badger.ErrConflict) {
		return false, nil
	}
	return deleted, errors.WithStack(err)
}

// GetJSON decodes the value at key into v.
func (s *Store) GetJSON(ctx context.Context, key string, v interface{}) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return errors.WithStack(json.Unmarshal(data, v))
}

// SetJSON encodes v and stores it at key.
func (s *Store) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.WithStack(err)
	}
	return s.Set(ctx, key, data, ttl)
}

// Entry is a live key-value pair as seen by Scan.
type Entry struct {
	Key       string
	Value     []byte
	ExpiresAt time.Time
}

// Scan calls fn for every live entry whose key starts with prefix. An empty
// prefix visits everything.
func (s *Store) Scan(_ context.Context, prefix string, fn func(Entry) error) error {
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			e := Entry{Key: string(item.KeyCopy(nil)), Value: val}
			if exp := item.ExpiresAt(); exp > 0 {
				e.ExpiresAt = time.Unix(int64(exp), 0).UTC()
			}
			if err := fn(e); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.WithStack(err)
}

// RunGC reclaims value log space. It is safe to call periodically.
func (s *Store) RunGC() {
	for {
		if err := s.db.RunValueLogGC(0.5); err != nil {
			return
		}
	}
}

func newEntry(key string, val []byte, ttl time.Duration) *badger.Entry {
	e := badger.NewEntry([]byte(key), val)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return e
}

// badgerLogger routes badger's printf-style logging through golib. Info and
// debug chatter is dropped.
type badgerLogger struct {
	log logger.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...), logger.Data{"component": "badger"})
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...), logger.Data{"component": "badger"})
}

func (*badgerLogger) Infof(string, ...interface{}) {}

func (*badgerLogger) Debugf(string, ...interface{}) {}
