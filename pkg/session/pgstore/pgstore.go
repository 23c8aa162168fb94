// Package pgstore persists sessions in PostgreSQL.
package pgstore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/sessionkit/pkg/pg"
	"github.com/dmitrymomot/sessionkit/pkg/session"
)

// Migrations holds the schema, to be applied with pg.Migrate(ctx, pool, Migrations, MigrationsDir, ...).
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory of Migrations containing the SQL files.
const MigrationsDir = "migrations"

// Migrate applies the session schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool, cfg pg.Config, log *slog.Logger) error {
	return pg.Migrate(ctx, pool, Migrations, MigrationsDir, cfg, log)
}

// DB is the subset of pgxpool.Pool used by the store.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements session.Store, session.Inserter and session.UserSessionDeleter.
type Store struct {
	db  DB
	now func() time.Time
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

// New creates a store over db (usually a *pgxpool.Pool).
func New(db DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const columns = "id, user_id, payload, expires_at, created_at, updated_at"

type row struct {
	ID        string
	UserID    *int64
	Payload   string
	ExpiresAt int64
	CreatedAt int64
	UpdatedAt int64
}

func (r row) session() *session.Session {
	return &session.Session{
		ID:        r.ID,
		UserID:    r.UserID,
		Payload:   r.Payload,
		ExpiresAt: r.ExpiresAt,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func wrap(op string, err error) error {
	return errors.Join(session.ErrStorage, fmt.Errorf("pgstore: %s: %w", op, err))
}

// FindByID retrieves a session by id
func (s *Store) FindByID(ctx context.Context, id string) (*session.Session, error) {
	rows, err := s.db.Query(ctx, "SELECT "+columns+" FROM sessions WHERE id = $1", id)
	if err != nil {
		return nil, wrap("find by id", err)
	}
	r, err := pgx.CollectOneRow(rows, pgx.RowToStructByPos[row])
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, session.ErrNotFound
		}
		return nil, wrap("find by id", err)
	}
	return r.session(), nil
}

// FindByUserID returns all sessions of the user ordered by creation time
func (s *Store) FindByUserID(ctx context.Context, userID int64) ([]*session.Session, error) {
	return s.list(ctx, "find by user", "SELECT "+columns+" FROM sessions WHERE user_id = $1 ORDER BY created_at, id", userID)
}

// FindAll returns every stored session ordered by creation time
func (s *Store) FindAll(ctx context.Context) ([]*session.Session, error) {
	return s.list(ctx, "find all", "SELECT "+columns+" FROM sessions ORDER BY created_at, id")
}

func (s *Store) list(ctx context.Context, op, query string, args ...any) ([]*session.Session, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByPos[row])
	if err != nil {
		return nil, wrap(op, err)
	}
	out := make([]*session.Session, 0, len(collected))
	for _, r := range collected {
		out = append(out, r.session())
	}
	return out, nil
}

// Save inserts or replaces a session
func (s *Store) Save(ctx context.Context, sess *session.Session) error {
	if sess == nil || sess.ID == "" {
		return session.ErrInvalidSession
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO sessions (`+columns+`) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			payload = EXCLUDED.payload,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`,
		sess.ID, sess.UserID, sess.Payload, sess.ExpiresAt, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return wrap("save", err)
	}
	return nil
}

// Update rewrites an existing row, returning session.ErrNotFound when it is gone
func (s *Store) Update(ctx context.Context, sess *session.Session) error {
	if sess == nil || sess.ID == "" {
		return session.ErrInvalidSession
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE sessions SET user_id = $2, payload = $3, expires_at = $4, updated_at = $5
		WHERE id = $1`,
		sess.ID, sess.UserID, sess.Payload, sess.ExpiresAt, sess.UpdatedAt,
	)
	if err != nil {
		return wrap("update", err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrNotFound
	}
	return nil
}

// Insert stores a new session, returning session.ErrDuplicateID when the id is taken
func (s *Store) Insert(ctx context.Context, sess *session.Session) error {
	if sess == nil || sess.ID == "" {
		return session.ErrInvalidSession
	}
	tag, err := s.db.Exec(ctx,
		`INSERT INTO sessions (`+columns+`) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
		sess.ID, sess.UserID, sess.Payload, sess.ExpiresAt, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return session.ErrDuplicateID
		}
		return wrap("insert", err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrDuplicateID
	}
	return nil
}

// Delete removes a session by id
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, "DELETE FROM sessions WHERE id = $1", id); err != nil {
		return wrap("delete", err)
	}
	return nil
}

// DeleteByUserID removes all sessions of the user
func (s *Store) DeleteByUserID(ctx context.Context, userID int64) error {
	if _, err := s.db.Exec(ctx, "DELETE FROM sessions WHERE user_id = $1", userID); err != nil {
		return wrap("delete by user", err)
	}
	return nil
}

// DeleteExpired removes sessions whose expiry has passed
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, "DELETE FROM sessions WHERE expires_at <= $1", s.now().Unix())
	if err != nil {
		return 0, wrap("delete expired", err)
	}
	return tag.RowsAffected(), nil
}
