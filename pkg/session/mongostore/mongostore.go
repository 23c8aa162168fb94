// Package mongostore persists sessions in a MongoDB collection.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/sessionkit/pkg/session"
)

// DefaultCollection is used when no collection name is given
const DefaultCollection = "sessions"

// Store implements session.Store, session.Inserter and session.UserSessionDeleter.
type Store struct {
	coll *mongo.Collection
	now  func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source used by DeleteExpired
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a store over the named collection of db.
func New(db *mongo.Database, collection string, opts ...Option) *Store {
	if db == nil {
		panic("mongostore: database is required")
	}
	if collection == "" {
		collection = DefaultCollection
	}
	s := &Store{coll: db.Collection(collection), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type document struct {
	ID        string `bson:"_id"`
	UserID    *int64 `bson:"user_id,omitempty"`
	Payload   string `bson:"payload"`
	ExpiresAt int64  `bson:"expires_at"`
	CreatedAt int64  `bson:"created_at"`
	UpdatedAt int64  `bson:"updated_at"`
}

func toDocument(s *session.Session) document {
	return document{
		ID:        s.ID,
		UserID:    s.UserID,
		Payload:   s.Payload,
		ExpiresAt: s.ExpiresAt,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func (d document) session() *session.Session {
	return &session.Session{
		ID:        d.ID,
		UserID:    d.UserID,
		Payload:   d.Payload,
		ExpiresAt: d.ExpiresAt,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func wrap(op string, err error) error {
	return errors.Join(session.ErrStorage, fmt.Errorf("mongostore: %s: %w", op, err))
}

// EnsureIndexes creates the user and expiry indexes. It is idempotent.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetSparse(true)},
		{Keys: bson.D{{Key: "expires_at", Value: 1}}},
	})
	if err != nil {
		return wrap("ensure indexes", err)
	}
	return nil
}

// FindByID retrieves a session by id
func (s *Store) FindByID(ctx context.Context, id string) (*session.Session, error) {
	var doc document
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, wrap("find by id", err)
	}
	return doc.session(), nil
}

// FindByUserID returns all sessions of the user ordered by creation time
func (s *Store) FindByUserID(ctx context.Context, userID int64) ([]*session.Session, error) {
	return s.find(ctx, "find by user", bson.D{{Key: "user_id", Value: userID}})
}

// FindAll returns every stored session ordered by creation time
func (s *Store) FindAll(ctx context.Context) ([]*session.Session, error) {
	return s.find(ctx, "find all", bson.D{})
}

func (s *Store) find(ctx context.Context, op string, filter bson.D) ([]*session.Session, error) {
	cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "_id", Value: 1},
	}))
	if err != nil {
		return nil, wrap(op, err)
	}

	var docs []document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, wrap(op, err)
	}

	out := make([]*session.Session, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.session())
	}
	return out, nil
}

// Save inserts or replaces a session
func (s *Store) Save(ctx context.Context, sess *session.Session) error {
	if sess == nil || sess.ID == "" {
		return session.ErrInvalidSession
	}
	_, err := s.coll.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: sess.ID}},
		toDocument(sess),
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return wrap("save", err)
	}
	return nil
}

// Update replaces an existing document without upserting, returning
// session.ErrNotFound when it is gone
func (s *Store) Update(ctx context.Context, sess *session.Session) error {
	if sess == nil || sess.ID == "" {
		return session.ErrInvalidSession
	}
	res, err := s.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: sess.ID}}, toDocument(sess))
	if err != nil {
		return wrap("update", err)
	}
	if res.MatchedCount == 0 {
		return session.ErrNotFound
	}
	return nil
}

// Insert stores a new session, returning session.ErrDuplicateID when the id is taken
func (s *Store) Insert(ctx context.Context, sess *session.Session) error {
	if sess == nil || sess.ID == "" {
		return session.ErrInvalidSession
	}
	if _, err := s.coll.InsertOne(ctx, toDocument(sess)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return session.ErrDuplicateID
		}
		return wrap("insert", err)
	}
	return nil
}

// Delete removes a session by id
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}}); err != nil {
		return wrap("delete", err)
	}
	return nil
}

// DeleteByUserID removes all sessions of the user
func (s *Store) DeleteByUserID(ctx context.Context, userID int64) error {
	if _, err := s.coll.DeleteMany(ctx, bson.D{{Key: "user_id", Value: userID}}); err != nil {
		return wrap("delete by user", err)
	}
	return nil
}

// DeleteExpired removes sessions whose expiry has passed
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.D{
		{Key: "expires_at", Value: bson.D{{Key: "$lte", Value: s.now().Unix()}}},
	})
	if err != nil {
		return 0, wrap("delete expired", err)
	}
	return res.DeletedCount, nil
}
