package session_test

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/sessionkit/pkg/session"
)

var errBackendDown = errors.New("backend down")

// brokenStore fails every call.
type brokenStore struct{}

func (brokenStore) FindByID(context.Context, string) (*session.Session, error) {
	return nil, errBackendDown
}

func (brokenStore) FindByUserID(context.Context, int64) ([]*session.Session, error) {
	return nil, errBackendDown
}

func (brokenStore) FindAll(context.Context) ([]*session.Session, error) {
	return nil, errBackendDown
}

func (brokenStore) Save(context.Context, *session.Session) error { return errBackendDown }

func (brokenStore) Delete(context.Context, string) error { return errBackendDown }

func (brokenStore) DeleteExpired(context.Context) (int64, error) { return 0, errBackendDown }

// countingStore records writes made to the wrapped store.
type countingStore struct {
	*session.MemoryStore
	writes  atomic.Int32
	inserts atomic.Int32
}

func (s *countingStore) Save(ctx context.Context, sess *session.Session) error {
	s.writes.Add(1)
	return s.MemoryStore.Save(ctx, sess)
}

func (s *countingStore) Update(ctx context.Context, sess *session.Session) error {
	s.writes.Add(1)
	return s.MemoryStore.Update(ctx, sess)
}

func (s *countingStore) Insert(ctx context.Context, sess *session.Session) error {
	s.inserts.Add(1)
	return s.MemoryStore.Insert(ctx, sess)
}

// plainStore hides the optional interfaces of MemoryStore.
type plainStore struct {
	inner *session.MemoryStore
}

func (s plainStore) FindByID(ctx context.Context, id string) (*session.Session, error) {
	return s.inner.FindByID(ctx, id)
}

func (s plainStore) FindByUserID(ctx context.Context, uid int64) ([]*session.Session, error) {
	return s.inner.FindByUserID(ctx, uid)
}

func (s plainStore) FindAll(ctx context.Context) ([]*session.Session, error) {
	return s.inner.FindAll(ctx)
}

func (s plainStore) Save(ctx context.Context, sess *session.Session) error {
	return s.inner.Save(ctx, sess)
}

func (s plainStore) Delete(ctx context.Context, id string) error {
	return s.inner.Delete(ctx, id)
}

func (s plainStore) DeleteExpired(ctx context.Context) (int64, error) {
	return s.inner.DeleteExpired(ctx)
}

// fakeClock is a settable time source shared by store and service.
type fakeClock struct {
	now atomic.Int64
}

func newFakeClock(unix int64) *fakeClock {
	c := &fakeClock{}
	c.now.Store(unix)
	return c
}

func (c *fakeClock) Now() time.Time { return time.Unix(c.now.Load(), 0) }

func (c *fakeClock) Advance(d time.Duration) { c.now.Add(int64(d / time.Second)) }

// sequenceIDs returns the given ids in order, then fails.
func sequenceIDs(ids ...string) func() (string, error) {
	var i atomic.Int32
	return func() (string, error) {
		n := int(i.Add(1)) - 1
		if n >= len(ids) {
			return "", errors.New("no more ids")
		}
		return ids[n], nil
	}
}

// logoutOnReadStore deletes a session right after it has been read, as a
// logout racing with the request would.
type logoutOnReadStore struct {
	*session.MemoryStore
	target string
}

func (s *logoutOnReadStore) FindByID(ctx context.Context, id string) (*session.Session, error) {
	sess, err := s.MemoryStore.FindByID(ctx, id)
	if err == nil && id == s.target {
		_ = s.MemoryStore.Delete(ctx, id)
	}
	return sess, err
}
