package session

import "context"

// Store defines the interface for session persistence.
// Implementations must be safe for concurrent use and must not hand out
// pointers to their internal state.
type Store interface {
	// FindByID retrieves a session by id, expired or not.
	// Returns ErrNotFound when no row exists.
	FindByID(ctx context.Context, id string) (*Session, error)

	// FindByUserID returns every session assigned to the user
	FindByUserID(ctx context.Context, userID int64) ([]*Session, error)

	// FindAll returns every stored session
	FindAll(ctx context.Context) ([]*Session, error)

	// Save inserts or replaces a session
	Save(ctx context.Context, session *Session) error

	// Delete removes a session by id. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error

	// DeleteExpired removes all expired sessions and returns how many were removed
	DeleteExpired(ctx context.Context) (int64, error)
}

// Inserter is an optional interface for stores that can atomically insert
// a session only when its id is not taken yet.
type Inserter interface {
	// Insert stores a new session, returning ErrDuplicateID when the id exists
	Insert(ctx context.Context, session *Session) error
}

// Updater is an optional interface for stores that can rewrite a session
// without resurrecting it after a concurrent delete.
type Updater interface {
	// Update replaces an existing session, returning ErrNotFound when it no longer exists
	Update(ctx context.Context, session *Session) error
}

// UserSessionDeleter is an optional interface for stores that support bulk user cleanup
type UserSessionDeleter interface {
	// DeleteByUserID removes all sessions for a specific user
	DeleteByUserID(ctx context.Context, userID int64) error
}
