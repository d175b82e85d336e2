// Package profiles caches public Bluesky profiles in the KV store.
package profiles

import (
	"context"
	"strings"
	"time"

	"github.com/bookhive/bookhive/pkg/atproto"
	"github.com/bookhive/bookhive/pkg/kvstore"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

const keyPrefix = "profile:"

// Fetcher loads a profile by DID or handle.
type Fetcher interface {
	GetProfile(ctx context.Context, actor string) (*atproto.Profile, error)
}

type Cache struct {
	kv      *kvstore.Store
	fetcher Fetcher
	ttl     time.Duration
}

func NewCache(kv *kvstore.Store, fetcher Fetcher, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{kv: kv, fetcher: fetcher, ttl: ttl}
}

func key(actor string) string {
	return keyPrefix + strings.ToLower(strings.TrimPrefix(actor, "@"))
}

// Get returns the cached profile for actor, fetching it on a miss. A profile
// is cached under both its DID and its handle.
func (c *Cache) Get(ctx context.Context, actor string) (*atproto.Profile, error) {
	p := &atproto.Profile{}
	err := c.kv.GetJSON(ctx, key(actor), p)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, kvstore.ErrNotFound) {
		return nil, err
	}

	p, err = c.fetcher.GetProfile(ctx, actor)
	if err != nil {
		return nil, err
	}
	for _, k := range []string{p.DID, p.Handle} {
		if k == "" {
			continue
		}
		if err := c.kv.SetJSON(ctx, key(k), p, c.ttl); err != nil {
			logger.FromContext(ctx).Err(err).Warn("failed to cache profile", logger.Data{"actor": k})
		}
	}
	return p, nil
}

// Invalidate drops a cached profile.
func (c *Cache) Invalidate(ctx context.Context, actor string) error {
	return c.kv.Delete(ctx, key(actor))
}
