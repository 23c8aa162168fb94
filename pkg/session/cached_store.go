package session

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrymomot/sessionkit/pkg/cache"
)

// CachedStore keeps recently read sessions in a local LRU in front of another
// Store. Writes through this instance update the cache immediately; writes made
// by other instances become visible once the TTL passes.
type CachedStore struct {
	Store
	lru *cache.LRU[string, *Session]
}

// NewCachedStore wraps store with a cache of at most size sessions.
func NewCachedStore(store Store, size int, ttl time.Duration, opts ...cache.Option) *CachedStore {
	if store == nil {
		panic("session: store is required")
	}
	return &CachedStore{
		Store: store,
		lru:   cache.New[string, *Session](size, ttl, opts...),
	}
}

// FindByID serves from cache when possible. Misses are not cached.
func (c *CachedStore) FindByID(ctx context.Context, id string) (*Session, error) {
	if s, ok := c.lru.Get(id); ok {
		return s.Clone(), nil
	}

	s, err := c.Store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.lru.Put(id, s.Clone())
	return s, nil
}

// Save writes through and refreshes the cached copy.
func (c *CachedStore) Save(ctx context.Context, session *Session) error {
	if session == nil || session.ID == "" {
		return ErrInvalidSession
	}
	if err := c.Store.Save(ctx, session); err != nil {
		c.lru.Remove(session.ID)
		return err
	}
	c.lru.Put(session.ID, session.Clone())
	return nil
}

// Update writes through the wrapped store's Updater, or checks existence
// before saving when it has none.
func (c *CachedStore) Update(ctx context.Context, session *Session) error {
	if session == nil || session.ID == "" {
		return ErrInvalidSession
	}

	var err error
	if updater, ok := c.Store.(Updater); ok {
		err = updater.Update(ctx, session)
	} else if _, err = c.Store.FindByID(ctx, session.ID); err == nil {
		err = c.Store.Save(ctx, session)
	}
	if err != nil {
		c.lru.Remove(session.ID)
		return err
	}
	c.lru.Put(session.ID, session.Clone())
	return nil
}

// Insert uses the wrapped store's atomic insert when it has one.
func (c *CachedStore) Insert(ctx context.Context, session *Session) error {
	if session == nil || session.ID == "" {
		return ErrInvalidSession
	}

	if inserter, ok := c.Store.(Inserter); ok {
		if err := inserter.Insert(ctx, session); err != nil {
			return err
		}
	} else {
		if _, err := c.Store.FindByID(ctx, session.ID); err == nil {
			return ErrDuplicateID
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := c.Store.Save(ctx, session); err != nil {
			return err
		}
	}

	c.lru.Put(session.ID, session.Clone())
	return nil
}

// Delete removes the session from both layers.
func (c *CachedStore) Delete(ctx context.Context, id string) error {
	c.lru.Remove(id)
	return c.Store.Delete(ctx, id)
}

// DeleteByUserID drops the user's cached sessions along with the stored ones.
func (c *CachedStore) DeleteByUserID(ctx context.Context, userID int64) error {
	sessions, err := c.Store.FindByUserID(ctx, userID)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		c.lru.Remove(s.ID)
	}

	if deleter, ok := c.Store.(UserSessionDeleter); ok {
		return deleter.DeleteByUserID(ctx, userID)
	}
	for _, s := range sessions {
		if err := c.Store.Delete(ctx, s.ID); err != nil {
			return err
		}
	}
	return nil
}

// DeleteExpired sweeps the wrapped store. Cached entries are left alone since
// expired sessions are rejected on read anyway.
func (c *CachedStore) DeleteExpired(ctx context.Context) (int64, error) {
	return c.Store.DeleteExpired(ctx)
}

// Purge empties the cache.
func (c *CachedStore) Purge() {
	c.lru.Purge()
}
