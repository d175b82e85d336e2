package kvstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetSetDelete(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "profile:did:plc:abc", []byte("v1"), 0))
	val, err := s.Get(ctx, "profile:did:plc:abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), val)

	require.NoError(t, s.Delete(ctx, "profile:did:plc:abc"))
	_, err = s.Get(ctx, "profile:did:plc:abc")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSetIfAbsent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetIfAbsent(ctx, "book_lock:did:plc:abc", []byte("a"), time.Minute))
	err := s.SetIfAbsent(ctx, "book_lock:did:plc:abc", []byte("b"), time.Minute)
	require.ErrorIs(t, err, ErrExists)

	val, err := s.Get(ctx, "book_lock:did:plc:abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), val)
}

func TestSetIfAbsent_OneWinnerUnderContention(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.SetIfAbsent(ctx, "book_lock:did:plc:race", []byte("x"), time.Minute); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestCompareAndDelete(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("mine"), 0))

	deleted, err := s.CompareAndDelete(ctx, "k", []byte("theirs"))
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = s.CompareAndDelete(ctx, "k", []byte("mine"))
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.CompareAndDelete(ctx, "k", []byte("mine"))
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestJSONAndScan(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	type cached struct {
		Handle string `json:"handle"`
	}
	require.NoError(t, s.SetJSON(ctx, "profile:a", cached{Handle: "alice.test"}, time.Hour))
	require.NoError(t, s.SetJSON(ctx, "profile:b", cached{Handle: "bob.test"}, 0))
	require.NoError(t, s.Set(ctx, "other:c", []byte("x"), 0))

	var got cached
	require.NoError(t, s.GetJSON(ctx, "profile:a", &got))
	assert.Equal(t, "alice.test", got.Handle)

	var keys []string
	err := s.Scan(ctx, "profile:", func(e Entry) error {
		keys = append(keys, e.Key)
		if e.Key == "profile:a" {
			assert.False(t, e.ExpiresAt.IsZero())
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"profile:a", "profile:b"}, keys)
}
