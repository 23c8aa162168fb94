package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sessionkit/pkg/session"
)

func newTestService(t *testing.T, store session.Store, clock *fakeClock, opts ...session.ServiceOption) *session.Service {
	t.Helper()
	opts = append([]session.ServiceOption{session.WithClock(clock.Now)}, opts...)
	return session.NewService(store, session.DefaultConfig(), opts...)
}

func TestService_Create(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("fresh anonymous session", func(t *testing.T) {
		clock := newFakeClock(1_000)
		store := session.NewMemoryStore(session.WithMemoryClock(clock.Now))
		svc := newTestService(t, store, clock)

		sess, err := svc.Create(ctx, `{"ip":"1.2.3.4"}`)
		require.NoError(t, err)

		assert.NotEmpty(t, sess.ID)
		assert.Nil(t, sess.UserID)
		assert.Equal(t, `{"ip":"1.2.3.4"}`, sess.Payload)
		assert.Equal(t, int64(1_000), sess.CreatedAt)
		assert.Equal(t, int64(1_000), sess.UpdatedAt)
		assert.Equal(t, int64(1_000+3600), sess.ExpiresAt)
		assert.Equal(t, 1, store.Len())
	})

	t.Run("regenerates on collision", func(t *testing.T) {
		clock := newFakeClock(1_000)
		store := session.NewMemoryStore()
		require.NoError(t, store.Save(ctx, newStoredSession("taken", 1, 5_000, nil)))

		svc := newTestService(t, store, clock, session.WithIDGenerator(sequenceIDs("taken", "free")))
		sess, err := svc.Create(ctx, "{}")
		require.NoError(t, err)
		assert.Equal(t, "free", sess.ID)
	})

	t.Run("collision check without inserter", func(t *testing.T) {
		clock := newFakeClock(1_000)
		inner := session.NewMemoryStore()
		require.NoError(t, inner.Save(ctx, newStoredSession("taken", 1, 5_000, nil)))

		svc := newTestService(t, plainStore{inner: inner}, clock, session.WithIDGenerator(sequenceIDs("taken", "free")))
		sess, err := svc.Create(ctx, "{}")
		require.NoError(t, err)
		assert.Equal(t, "free", sess.ID)
		assert.Equal(t, 2, inner.Len())
	})

	t.Run("gives up after repeated collisions", func(t *testing.T) {
		clock := newFakeClock(1_000)
		store := session.NewMemoryStore()
		require.NoError(t, store.Save(ctx, newStoredSession("taken", 1, 5_000, nil)))

		svc := newTestService(t, store, clock, session.WithIDGenerator(sequenceIDs("taken", "taken", "taken")))
		_, err := svc.Create(ctx, "{}")
		assert.ErrorIs(t, err, session.ErrIDExhausted)
		assert.ErrorIs(t, err, session.ErrStorage)
	})

	t.Run("storage failure", func(t *testing.T) {
		svc := newTestService(t, brokenStore{}, newFakeClock(1_000))
		_, err := svc.Create(ctx, "{}")
		assert.ErrorIs(t, err, session.ErrStorage)
		assert.NotErrorIs(t, err, session.ErrNotFound)
	})
}

func TestService_FindValid(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock(1_000)
	store := session.NewMemoryStore(session.WithMemoryClock(clock.Now))
	svc := newTestService(t, store, clock)

	require.NoError(t, store.Save(ctx, newStoredSession("alive", 1, 2_000, nil)))
	require.NoError(t, store.Save(ctx, newStoredSession("expired", 1, 1_000, nil)))

	t.Run("valid", func(t *testing.T) {
		sess, err := svc.FindValid(ctx, "alive")
		require.NoError(t, err)
		assert.Equal(t, "alive", sess.ID)
	})

	t.Run("expired is not found and not deleted", func(t *testing.T) {
		_, err := svc.FindValid(ctx, "expired")
		assert.ErrorIs(t, err, session.ErrNotFound)

		_, err = store.FindByID(ctx, "expired")
		assert.NoError(t, err)
	})

	t.Run("missing and empty", func(t *testing.T) {
		_, err := svc.FindValid(ctx, "missing")
		assert.ErrorIs(t, err, session.ErrNotFound)
		_, err = svc.FindValid(ctx, "")
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("storage failure is distinct from not found", func(t *testing.T) {
		broken := newTestService(t, brokenStore{}, clock)
		_, err := broken.FindValid(ctx, "alive")
		assert.True(t, session.IsStorageError(err))
		assert.NotErrorIs(t, err, session.ErrNotFound)
	})
}

func TestService_Touch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock(10_000)
	store := &countingStore{MemoryStore: session.NewMemoryStore()}
	svc := newTestService(t, store, clock)

	sess, err := svc.Create(ctx, "{}")
	require.NoError(t, err)

	t.Run("throttled within interval", func(t *testing.T) {
		clock.Advance(time.Minute)
		got, err := svc.Touch(ctx, sess)
		require.NoError(t, err)
		assert.Equal(t, sess.UpdatedAt, got.UpdatedAt)
		assert.Equal(t, int32(0), store.writes.Load())
	})

	t.Run("refreshes after interval", func(t *testing.T) {
		clock.Advance(5 * time.Minute)
		got, err := svc.Touch(ctx, sess)
		require.NoError(t, err)
		assert.Equal(t, clock.Now().Unix(), got.UpdatedAt)
		assert.Equal(t, clock.Now().Unix()+3600, got.ExpiresAt)
		assert.Equal(t, int32(1), store.writes.Load())
		// caller's copy is untouched
		assert.NotEqual(t, got.UpdatedAt, sess.UpdatedAt)
	})

	t.Run("never shortens expiry", func(t *testing.T) {
		long := newStoredSession("long", 1, clock.Now().Unix()+100_000, nil)
		require.NoError(t, store.MemoryStore.Save(ctx, long))

		got, err := svc.Touch(ctx, long)
		require.NoError(t, err)
		assert.Equal(t, long.ExpiresAt, got.ExpiresAt)
	})

	t.Run("nil session", func(t *testing.T) {
		_, err := svc.Touch(ctx, nil)
		assert.ErrorIs(t, err, session.ErrInvalidSession)
	})
}

func TestService_UserSessions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock(1_000)
	store := session.NewMemoryStore(session.WithMemoryClock(clock.Now))
	svc := newTestService(t, store, clock)

	first, err := svc.Create(ctx, "{}")
	require.NoError(t, err)
	second, err := svc.Create(ctx, "{}")
	require.NoError(t, err)

	first, err = svc.AssignUser(ctx, first, 42)
	require.NoError(t, err)
	require.True(t, first.IsAuthenticated())
	_, err = svc.AssignUser(ctx, second, 42)
	require.NoError(t, err)

	uid := int64(42)
	require.NoError(t, store.Save(ctx, newStoredSession("stale", 1, 500, &uid)))

	sessions, err := svc.FindByUserID(ctx, 42)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	require.NoError(t, svc.DeleteByUserID(ctx, 42))
	assert.Equal(t, 0, store.Len())
}

func TestService_DeleteByUserIDWithoutBulkDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	inner := session.NewMemoryStore()
	svc := newTestService(t, plainStore{inner: inner}, newFakeClock(1_000))

	uid := int64(7)
	require.NoError(t, inner.Save(ctx, newStoredSession("a", 1, 5_000, &uid)))
	require.NoError(t, inner.Save(ctx, newStoredSession("b", 1, 5_000, nil)))

	require.NoError(t, svc.DeleteByUserID(ctx, 7))
	assert.Equal(t, 1, inner.Len())
}

func TestService_DeleteExpired(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock(1_000)
	store := session.NewMemoryStore(session.WithMemoryClock(clock.Now))
	svc := newTestService(t, store, clock)

	require.NoError(t, store.Save(ctx, newStoredSession("old", 1, 900, nil)))
	require.NoError(t, store.Save(ctx, newStoredSession("new", 1, 1_100, nil)))

	n, err := svc.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, svc.Delete(ctx, "new"))
	assert.Equal(t, 0, store.Len())

	_, err = newTestService(t, brokenStore{}, clock).DeleteExpired(ctx)
	assert.ErrorIs(t, err, session.ErrStorage)
}

func TestService_UpdateAfterConcurrentDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock(10_000)

	t.Run("store with update support", func(t *testing.T) {
		store := &logoutOnReadStore{MemoryStore: session.NewMemoryStore(session.WithMemoryClock(clock.Now)), target: "s1"}
		require.NoError(t, store.MemoryStore.Save(ctx, newStoredSession("s1", 1, clock.Now().Unix()+600, nil)))
		svc := newTestService(t, store, clock)

		sess, err := svc.FindValid(ctx, "s1")
		require.NoError(t, err)

		clock.Advance(10 * time.Minute)
		_, err = svc.Touch(ctx, sess)
		assert.ErrorIs(t, err, session.ErrNotFound)
		assert.False(t, session.IsStorageError(err))

		_, err = svc.AssignUser(ctx, sess, 42)
		assert.ErrorIs(t, err, session.ErrNotFound)

		_, err = store.MemoryStore.FindByID(ctx, "s1")
		assert.ErrorIs(t, err, session.ErrNotFound, "deleted session must stay deleted")
	})

	t.Run("store without update support", func(t *testing.T) {
		inner := session.NewMemoryStore(session.WithMemoryClock(clock.Now))
		require.NoError(t, inner.Save(ctx, newStoredSession("s2", 1, clock.Now().Unix()+600, nil)))
		svc := newTestService(t, plainStore{inner: inner}, clock)

		sess, err := svc.FindValid(ctx, "s2")
		require.NoError(t, err)
		require.NoError(t, inner.Delete(ctx, "s2"))

		clock.Advance(10 * time.Minute)
		_, err = svc.Touch(ctx, sess)
		assert.ErrorIs(t, err, session.ErrNotFound)
		assert.Equal(t, 0, inner.Len())
	})
}

type mockClientUpdater struct {
	mock.Mock
}

func (m *mockClientUpdater) UpdateClient(ctx context.Context, s *session.Session) error {
	return m.Called(ctx, s).Error(0)
}

func TestService_AssignUserUpdatesClientIndex(t *testing.T) {
	t.Parallel()

	ownedBy := func(id string, uid int64) any {
		return mock.MatchedBy(func(s *session.Session) bool {
			return s.ID == id && s.UserID != nil && *s.UserID == uid
		})
	}

	t.Run("index follows the login", func(t *testing.T) {
		clock := newFakeClock(1_700_000_000)
		updater := &mockClientUpdater{}
		svc := newTestService(t, session.NewMemoryStore(), clock, session.WithClientUpdater(updater))

		created, err := svc.Create(context.Background(), "{}")
		require.NoError(t, err)

		updater.On("UpdateClient", mock.Anything, ownedBy(created.ID, 9)).Return(nil).Once()
		_, err = svc.AssignUser(context.Background(), created, 9)
		require.NoError(t, err)
		updater.AssertExpectations(t)
	})

	t.Run("index failure keeps the assignment", func(t *testing.T) {
		clock := newFakeClock(1_700_000_000)
		store := session.NewMemoryStore()
		updater := &mockClientUpdater{}
		svc := newTestService(t, store, clock, session.WithClientUpdater(updater))

		created, err := svc.Create(context.Background(), "{}")
		require.NoError(t, err)

		updater.On("UpdateClient", mock.Anything, mock.Anything).Return(errors.New("cluster unavailable")).Once()
		assigned, err := svc.AssignUser(context.Background(), created, 9)
		require.NoError(t, err)
		assert.True(t, assigned.IsAuthenticated())

		stored, err := store.FindByID(context.Background(), created.ID)
		require.NoError(t, err)
		assert.True(t, stored.IsAuthenticated())
	})

	t.Run("not called when the session is gone", func(t *testing.T) {
		clock := newFakeClock(1_700_000_000)
		store := session.NewMemoryStore()
		updater := &mockClientUpdater{}
		svc := newTestService(t, store, clock, session.WithClientUpdater(updater))

		created, err := svc.Create(context.Background(), "{}")
		require.NoError(t, err)
		require.NoError(t, store.Delete(context.Background(), created.ID))

		_, err = svc.AssignUser(context.Background(), created, 9)
		assert.ErrorIs(t, err, session.ErrNotFound)
		updater.AssertNotCalled(t, "UpdateClient", mock.Anything, mock.Anything)
	})
}
