package session_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sessionkit/pkg/session"
)

func newStoredSession(id string, created, expires int64, userID *int64) *session.Session {
	return &session.Session{
		ID:        id,
		UserID:    userID,
		Payload:   "{}",
		CreatedAt: created,
		UpdatedAt: created,
		ExpiresAt: expires,
	}
}

func TestMemoryStore_SaveAndFind(t *testing.T) {
	t.Parallel()

	store := session.NewMemoryStore()
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		_, err := store.FindByID(ctx, "missing")
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("invalid session", func(t *testing.T) {
		assert.ErrorIs(t, store.Save(ctx, nil), session.ErrInvalidSession)
		assert.ErrorIs(t, store.Save(ctx, &session.Session{}), session.ErrInvalidSession)
	})

	t.Run("data isolation", func(t *testing.T) {
		uid := int64(1)
		sess := newStoredSession("iso", 10, 100, &uid)
		require.NoError(t, store.Save(ctx, sess))

		*sess.UserID = 2
		sess.Payload = "modified"

		got, err := store.FindByID(ctx, "iso")
		require.NoError(t, err)
		assert.Equal(t, int64(1), *got.UserID)
		assert.Equal(t, "{}", got.Payload)

		got.Payload = "changed by reader"
		again, err := store.FindByID(ctx, "iso")
		require.NoError(t, err)
		assert.Equal(t, "{}", again.Payload)
	})

	t.Run("save replaces", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, newStoredSession("rep", 10, 100, nil)))
		updated := newStoredSession("rep", 10, 200, nil)
		require.NoError(t, store.Save(ctx, updated))

		got, err := store.FindByID(ctx, "rep")
		require.NoError(t, err)
		assert.Equal(t, int64(200), got.ExpiresAt)
	})
}

func TestMemoryStore_Insert(t *testing.T) {
	t.Parallel()

	store := session.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, newStoredSession("dup", 1, 100, nil)))
	assert.ErrorIs(t, store.Insert(ctx, newStoredSession("dup", 2, 100, nil)), session.ErrDuplicateID)

	got, err := store.FindByID(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.CreatedAt)
}

func TestMemoryStore_Update(t *testing.T) {
	t.Parallel()

	store := session.NewMemoryStore()
	ctx := context.Background()

	assert.ErrorIs(t, store.Update(ctx, nil), session.ErrInvalidSession)
	assert.ErrorIs(t, store.Update(ctx, newStoredSession("absent", 1, 100, nil)), session.ErrNotFound)
	assert.Equal(t, 0, store.Len())

	require.NoError(t, store.Save(ctx, newStoredSession("present", 1, 100, nil)))
	require.NoError(t, store.Update(ctx, newStoredSession("present", 1, 200, nil)))

	got, err := store.FindByID(ctx, "present")
	require.NoError(t, err)
	assert.Equal(t, int64(200), got.ExpiresAt)
}

func TestMemoryStore_FindByUserIDAndAll(t *testing.T) {
	t.Parallel()

	store := session.NewMemoryStore()
	ctx := context.Background()
	alice, bob := int64(1), int64(2)

	require.NoError(t, store.Save(ctx, newStoredSession("a2", 20, 100, &alice)))
	require.NoError(t, store.Save(ctx, newStoredSession("a1", 10, 100, &alice)))
	require.NoError(t, store.Save(ctx, newStoredSession("b1", 15, 100, &bob)))
	require.NoError(t, store.Save(ctx, newStoredSession("anon", 5, 100, nil)))

	sessions, err := store.FindByUserID(ctx, alice)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "a1", sessions[0].ID)
	assert.Equal(t, "a2", sessions[1].ID)

	all, err := store.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "anon", all[0].ID)

	total, authenticated, anonymous := store.Stats()
	assert.Equal(t, 4, total)
	assert.Equal(t, 3, authenticated)
	assert.Equal(t, 1, anonymous)

	require.NoError(t, store.DeleteByUserID(ctx, alice))
	assert.Equal(t, 2, store.Len())
}

func TestMemoryStore_DeleteExpired(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	store := session.NewMemoryStore(session.WithMemoryClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, newStoredSession("expired", 1, 999, nil)))
	require.NoError(t, store.Save(ctx, newStoredSession("boundary", 1, 1000, nil)))
	require.NoError(t, store.Save(ctx, newStoredSession("alive", 1, 1001, nil)))

	n, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = store.FindByID(ctx, "alive")
	assert.NoError(t, err)

	// deleting a missing session is not an error
	assert.NoError(t, store.Delete(ctx, "expired"))
}

func TestMemoryStore_Concurrent(t *testing.T) {
	t.Parallel()

	store := session.NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i)
			_ = store.Insert(ctx, newStoredSession(id, int64(i), 100, nil))
			_, _ = store.FindByID(ctx, id)
			_, _ = store.FindAll(ctx)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, store.Len())
}
