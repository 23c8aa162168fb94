package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/sessionkit/pkg/logger"
)

// maxCreateAttempts bounds id regeneration on collisions.
const maxCreateAttempts = 3

// Service applies lifecycle rules (validity, creation, refresh, sweeping) on top of a Store.
// It holds no I/O details of its own.
type Service struct {
	store  Store
	config Config
	now    func() time.Time
	newID  func() (string, error)
	logger *slog.Logger
	// clients learns about ownership changes, may be nil
	clients ClientUpdater
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithServiceLogger sets the logger used for lifecycle events
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides session id generation
func WithIDGenerator(fn func() (string, error)) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithClientUpdater forwards user assignments to a detector index so searches
// restricted to anonymous sessions stop returning sessions that logged in.
func WithClientUpdater(u ClientUpdater) ServiceOption {
	return func(s *Service) {
		s.clients = u
	}
}

// NewService creates a lifecycle service backed by store.
func NewService(store Store, cfg Config, opts ...ServiceOption) *Service {
	if store == nil {
		panic("session: store is required")
	}

	s := &Service{
		store:  store,
		config: cfg,
		now:    time.Now,
		newID:  GenerateID,
		logger: logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the configuration the service was built with
func (s *Service) Config() Config {
	return s.config
}

// Now returns the service clock reading
func (s *Service) Now() time.Time {
	return s.now()
}

// FindValid returns the stored session only while it is unexpired.
// Expired rows are reported as ErrNotFound and left in place for the sweeper.
func (s *Service) FindValid(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}

	session, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, storageError(err)
	}

	if !session.IsValid(s.now()) {
		return nil, ErrNotFound
	}

	return session, nil
}

// Create persists a fresh anonymous session carrying payload.
func (s *Service) Create(ctx context.Context, payload string) (*Session, error) {
	inserter, canInsert := s.store.(Inserter)

	for range maxCreateAttempts {
		id, err := s.newID()
		if err != nil {
			return nil, errors.Join(ErrStorage, ErrIDGeneration, err)
		}

		session := newSession(id, payload, s.now(), s.config.SessionLifetime())

		if canInsert {
			err = inserter.Insert(ctx, session)
			if errors.Is(err, ErrDuplicateID) {
				s.logger.WarnContext(ctx, "Session id collision, regenerating")
				continue
			}
			if err != nil {
				return nil, storageError(err)
			}
			return session, nil
		}

		if _, err := s.store.FindByID(ctx, id); err == nil {
			s.logger.WarnContext(ctx, "Session id collision, regenerating")
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return nil, storageError(err)
		}

		if err := s.store.Save(ctx, session); err != nil {
			return nil, storageError(err)
		}
		return session, nil
	}

	return nil, errors.Join(ErrStorage, ErrIDExhausted)
}

// Touch refreshes a resolved session once TouchInterval has elapsed since its
// last update and returns the up-to-date value. Expiry is never shortened.
// ErrNotFound means the session was deleted after it was read.
func (s *Service) Touch(ctx context.Context, session *Session) (*Session, error) {
	if session == nil {
		return nil, ErrInvalidSession
	}

	now := s.now()
	if now.Sub(time.Unix(session.UpdatedAt, 0)) < s.config.TouchInterval {
		return session, nil
	}

	touched := session.Clone()
	touched.touch(now, s.config.SessionLifetime())
	if err := s.update(ctx, touched); err != nil {
		return nil, err
	}
	return touched, nil
}

// AssignUser binds the session to an authenticated user.
func (s *Service) AssignUser(ctx context.Context, session *Session, userID int64) (*Session, error) {
	if session == nil {
		return nil, ErrInvalidSession
	}

	updated := session.Clone()
	updated.UserID = &userID
	updated.touch(s.now(), s.config.SessionLifetime())
	if err := s.update(ctx, updated); err != nil {
		return nil, err
	}

	if s.clients != nil {
		if err := s.clients.UpdateClient(ctx, updated); err != nil {
			// the store row is authoritative; the index catches up on the next assignment
			s.logger.ErrorContext(ctx, "Failed to update client index",
				logger.SessionID(updated.ID),
				logger.UserID(updated.UserID),
				logger.Error(err),
			)
		}
	}
	return updated, nil
}

// update rewrites an existing session. A session deleted since it was read
// yields ErrNotFound and is not written back.
func (s *Service) update(ctx context.Context, session *Session) error {
	if updater, ok := s.store.(Updater); ok {
		err := updater.Update(ctx, session)
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return storageError(err)
	}

	if _, err := s.store.FindByID(ctx, session.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return storageError(err)
	}
	return storageError(s.store.Save(ctx, session))
}

// FindByUserID returns the user's sessions that are still valid.
func (s *Service) FindByUserID(ctx context.Context, userID int64) ([]*Session, error) {
	sessions, err := s.store.FindByUserID(ctx, userID)
	if err != nil {
		return nil, storageError(err)
	}

	now := s.now()
	valid := sessions[:0]
	for _, session := range sessions {
		if session.IsValid(now) {
			valid = append(valid, session)
		}
	}
	return valid, nil
}

// Delete removes a session.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return storageError(err)
	}
	return nil
}

// DeleteByUserID removes every session of the user.
func (s *Service) DeleteByUserID(ctx context.Context, userID int64) error {
	if deleter, ok := s.store.(UserSessionDeleter); ok {
		return storageError(deleter.DeleteByUserID(ctx, userID))
	}

	sessions, err := s.store.FindByUserID(ctx, userID)
	if err != nil {
		return storageError(err)
	}
	for _, session := range sessions {
		if err := s.store.Delete(ctx, session.ID); err != nil {
			return storageError(err)
		}
	}
	return nil
}

// DeleteExpired sweeps expired sessions from the store.
func (s *Service) DeleteExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpired(ctx)
	if err != nil {
		return 0, storageError(err)
	}
	return n, nil
}
