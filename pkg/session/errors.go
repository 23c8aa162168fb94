package session

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates no valid session exists for the given id.
	// Absent and expired sessions are reported the same way.
	ErrNotFound = errors.New("session.not_found")

	// ErrStorage wraps every failure of the underlying store.
	// It is never returned for a plain miss.
	ErrStorage = errors.New("session.storage_failure")

	// ErrDuplicateID is returned by Inserter implementations when the id is already taken
	ErrDuplicateID = errors.New("session.duplicate_id")

	// ErrIDGeneration indicates the random source failed
	ErrIDGeneration = errors.New("session.id_generation_failed")

	// ErrIDExhausted indicates no unique id could be allocated after several attempts
	ErrIDExhausted = errors.New("session.id_exhausted")

	// ErrInvalidSession indicates a nil session or one without id was passed to a store
	ErrInvalidSession = errors.New("session.invalid")

	// ErrInvalidConfig indicates the session configuration cannot be used
	ErrInvalidConfig = errors.New("session.invalid_config")

	// ErrNoCredential indicates the request carries no session credential
	ErrNoCredential = errors.New("session.no_credential")

	// ErrDecode indicates a payload could not be deserialized
	ErrDecode = errors.New("session.decode_failed")

	// ErrDetection wraps failures of the client detector
	ErrDetection = errors.New("session.detection_failed")

	// ErrCreationLimited indicates the client created too many sessions recently
	ErrCreationLimited = errors.New("session.creation_limited")
)

// LimitError carries how long a throttled client should wait before retrying.
type LimitError struct {
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return ErrCreationLimited.Error()
}

func (e *LimitError) Is(target error) bool {
	return target == ErrCreationLimited
}

// IsStorageError reports whether err originates from the session store.
func IsStorageError(err error) bool {
	return errors.Is(err, ErrStorage)
}

// storageError joins err with ErrStorage unless it already carries it.
func storageError(err error) error {
	if err == nil || errors.Is(err, ErrStorage) {
		return err
	}
	return errors.Join(ErrStorage, err)
}
