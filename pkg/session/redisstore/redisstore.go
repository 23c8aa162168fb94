// Package redisstore persists sessions in Redis.
//
// Each session is a JSON value under "<prefix>:<id>". A sorted set
// "<prefix>:expiry" scores ids by expiry and drives FindAll and
// DeleteExpired, while "<prefix>:user:<uid>" sets index sessions by user.
// Keys carry no TTL: expired rows stay readable until swept.
package redisstore

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/sessionkit/pkg/session"
)

// DefaultPrefix namespaces keys when no prefix is given
const DefaultPrefix = "sess"

// Store implements session.Store, session.Inserter and session.UserSessionDeleter.
type Store struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithPrefix sets the key namespace
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithClock overrides the time source used by DeleteExpired
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a store on top of client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	if client == nil {
		panic("redisstore: client is required")
	}
	s := &Store{client: client, prefix: DefaultPrefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(id string) string {
	return s.prefix + ":" + id
}

func (s *Store) expiryKey() string {
	return s.prefix + ":expiry"
}

func (s *Store) userKey(uid int64) string {
	return s.prefix + ":user:" + strconv.FormatInt(uid, 10)
}

func wrap(op string, err error) error {
	return errors.Join(session.ErrStorage, fmt.Errorf("redisstore: %s: %w", op, err))
}

// FindByID retrieves a session by id
func (s *Store) FindByID(ctx context.Context, id string) (*session.Session, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, wrap("get", err)
	}
	return decode(data)
}

// FindByUserID returns all sessions of the user ordered by creation time
func (s *Store) FindByUserID(ctx context.Context, userID int64) ([]*session.Session, error) {
	ids, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, wrap("user members", err)
	}
	sessions, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	// rows may have moved to another user since the set was written
	return slices.DeleteFunc(sessions, func(sess *session.Session) bool {
		return sess.UserID == nil || *sess.UserID != userID
	}), nil
}

// FindAll returns every stored session ordered by creation time
func (s *Store) FindAll(ctx context.Context) ([]*session.Session, error) {
	ids, err := s.client.ZRange(ctx, s.expiryKey(), 0, -1).Result()
	if err != nil {
		return nil, wrap("expiry range", err)
	}
	return s.load(ctx, ids)
}

func (s *Store) load(ctx context.Context, ids []string) ([]*session.Session, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, wrap("mget", err)
	}

	out := make([]*session.Session, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		sess, err := decode([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}

	slices.SortFunc(out, func(a, b *session.Session) int {
		return cmp.Or(cmp.Compare(a.CreatedAt, b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// Save inserts or replaces a session, keeping the user index in sync
func (s *Store) Save(ctx context.Context, sess *session.Session) error {
	if sess == nil || sess.ID == "" {
		return session.ErrInvalidSession
	}

	old, err := s.FindByID(ctx, sess.ID)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return err
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return wrap("encode", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.ID), data, 0)
		s.reindex(ctx, pipe, old, sess)
		return nil
	})
	if err != nil {
		return wrap("save", err)
	}
	return nil
}

// Update replaces a session only while its key exists (SET XX), returning
// session.ErrNotFound once it has been deleted.
func (s *Store) Update(ctx context.Context, sess *session.Session) error {
	if sess == nil || sess.ID == "" {
		return session.ErrInvalidSession
	}

	old, err := s.FindByID(ctx, sess.ID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return wrap("encode", err)
	}

	err = s.client.SetArgs(ctx, s.key(sess.ID), data, redis.SetArgs{Mode: "XX"}).Err()
	if errors.Is(err, redis.Nil) {
		return session.ErrNotFound
	}
	if err != nil {
		return wrap("update", err)
	}

	// index entries of a row deleted meanwhile are skipped by load
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		s.reindex(ctx, pipe, old, sess)
		return nil
	})
	if err != nil {
		return wrap("index", err)
	}
	return nil
}

func (s *Store) reindex(ctx context.Context, pipe redis.Pipeliner, old, sess *session.Session) {
	s.index(ctx, pipe, sess)
	if old != nil && old.UserID != nil && (sess.UserID == nil || *sess.UserID != *old.UserID) {
		pipe.SRem(ctx, s.userKey(*old.UserID), sess.ID)
	}
}

// Insert stores a new session, returning session.ErrDuplicateID when the id is taken
func (s *Store) Insert(ctx context.Context, sess *session.Session) error {
	if sess == nil || sess.ID == "" {
		return session.ErrInvalidSession
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return wrap("encode", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(sess.ID), data, 0).Result()
	if err != nil {
		return wrap("insert", err)
	}
	if !ok {
		return session.ErrDuplicateID
	}

	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		s.index(ctx, pipe, sess)
		return nil
	})
	if err != nil {
		return wrap("index", err)
	}
	return nil
}

func (s *Store) index(ctx context.Context, pipe redis.Pipeliner, sess *session.Session) {
	pipe.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(sess.ExpiresAt), Member: sess.ID})
	if sess.UserID != nil {
		pipe.SAdd(ctx, s.userKey(*sess.UserID), sess.ID)
	}
}

// Delete removes a session by id
func (s *Store) Delete(ctx context.Context, id string) error {
	old, err := s.FindByID(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.remove(ctx, "delete", old)
}

// DeleteByUserID removes all sessions of the user
func (s *Store) DeleteByUserID(ctx context.Context, userID int64) error {
	sessions, err := s.FindByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.remove(ctx, "delete by user", sessions...); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.userKey(userID)).Err(); err != nil {
		return wrap("delete by user", err)
	}
	return nil
}

// DeleteExpired removes sessions whose expiry has passed
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(s.now().Unix(), 10),
	}).Result()
	if err != nil {
		return 0, wrap("expiry range", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	sessions, err := s.load(ctx, ids)
	if err != nil {
		return 0, err
	}
	if err := s.remove(ctx, "delete expired", sessions...); err != nil {
		return 0, err
	}

	// members whose value vanished still need dropping from the index
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	if err := s.client.ZRem(ctx, s.expiryKey(), members...).Err(); err != nil {
		return 0, wrap("delete expired", err)
	}
	return int64(len(sessions)), nil
}

func (s *Store) remove(ctx context.Context, op string, sessions ...*session.Session) error {
	if len(sessions) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, sess := range sessions {
			pipe.Del(ctx, s.key(sess.ID))
			pipe.ZRem(ctx, s.expiryKey(), sess.ID)
			if sess.UserID != nil {
				pipe.SRem(ctx, s.userKey(*sess.UserID), sess.ID)
			}
		}
		return nil
	})
	if err != nil {
		return wrap(op, err)
	}
	return nil
}

func decode(data []byte) (*session.Session, error) {
	var sess session.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, wrap("decode", err)
	}
	return &sess, nil
}
