package session

import (
	"errors"
	"net/http"
)

// ReaderChain looks a credential up in several places and keeps the first hit.
type ReaderChain []TokenReader

// GetToken returns the first non-empty credential in chain order. A reader
// failing with anything other than ErrNoCredential stops the lookup.
func (c ReaderChain) GetToken(r *http.Request) (string, error) {
	for _, reader := range c {
		token, err := reader.GetToken(r)
		switch {
		case err == nil && token != "":
			return token, nil
		case err != nil && !errors.Is(err, ErrNoCredential):
			return "", err
		}
	}
	return "", ErrNoCredential
}
