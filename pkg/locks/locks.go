// Package locks implements the per-user write lease that serializes a user's
// book writes against their PDS and the local mirror.
package locks

import (
	"context"
	"strings"
	"time"

	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/bookhive/bookhive/pkg/kvstore"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
)

const keyPrefix = "book_lock:"

// DefaultTTL bounds how long a crashed holder can block a user.
const DefaultTTL = 30 * time.Second

type Locker struct {
	kv  *kvstore.Store
	ttl time.Duration
}

func NewLocker(kv *kvstore.Store, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Locker{kv: kv, ttl: ttl}
}

type leaseValue struct {
	Token      string    `json:"token"`
	Book       string    `json:"book"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lease is a held lock. It expires on its own after the locker's TTL.
type Lease struct {
	key    string
	value  []byte
	Book   string
	locker *Locker
}

func Key(did string) string {
	return keyPrefix + did
}

// IsLockKey reports whether a KV key holds a lease.
func IsLockKey(key string) bool {
	return strings.HasPrefix(key, keyPrefix)
}

// Acquire takes the lease for did. book names what is being written and is
// echoed back to anyone who contends. When the lease is held, the returned
// error is errcodes.BookLocked naming the holder's book.
func (l *Locker) Acquire(ctx context.Context, did, book string) (*Lease, error) {
	val, err := json.Marshal(leaseValue{
		Token:      uuid.NewString(),
		Book:       book,
		AcquiredAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	key := Key(did)
	err = l.kv.SetIfAbsent(ctx, key, val, l.ttl)
	if err == nil {
		return &Lease{key: key, value: val, Book: book, locker: l}, nil
	}
	if !errors.Is(err, kvstore.ErrExists) {
		return nil, err
	}

	held := leaseValue{Book: book}
	if err := l.kv.GetJSON(ctx, key, &held); err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		logger.FromContext(ctx).Err(err).Warn("failed to read lock holder", logger.Data{"did": did})
	}
	return nil, errcodes.BookLocked(held.Book)
}

// Release gives the lease back. If it already expired and someone else took
// it, their lease is left alone.
func (lease *Lease) Release(ctx context.Context) error {
	if lease == nil {
		return nil
	}
	_, err := lease.locker.kv.CompareAndDelete(ctx, lease.key, lease.value)
	return err
}

// WithLease runs fn while holding did's lease, releasing it afterwards
// whatever fn returns.
func (l *Locker) WithLease(ctx context.Context, did, book string, fn func(context.Context) error) error {
	lease, err := l.Acquire(ctx, did, book)
	if err != nil {
		return err
	}
	defer func() {
		if err := lease.Release(ctx); err != nil {
			logger.FromContext(ctx).Err(err).Error("failed to release book lock", logger.Data{"did": did})
		}
	}()
	return fn(ctx)
}
