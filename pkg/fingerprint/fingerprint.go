// Package fingerprint derives a deterministic device/browser digest from the
// relatively stable attributes of an HTTP request: User-Agent, Accept
// headers, client hints, client IP and the set of common headers present.
//
// The digest is a 128-bit BLAKE2b hash encoded as 32 hex characters. It is
// one signal among several; two requests with the same digest are likely but
// not certainly the same client.
package fingerprint

import (
	"encoding/hex"
	"net/http"
	"slices"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/dmitrymomot/sessionkit/pkg/clientip"
)

// Size is the digest length in bytes.
const Size = 16

// components read from the request, in hashing order
var headerComponents = []string{
	"Accept-Language",
	"Accept-Encoding",
	"Accept",
	"Sec-CH-UA",
	"Sec-CH-UA-Platform",
	"Sec-CH-UA-Mobile",
}

// stableHeaders are recorded by presence only
var stableHeaders = map[string]struct{}{
	"user-agent":                {},
	"accept":                    {},
	"accept-language":           {},
	"accept-encoding":           {},
	"connection":                {},
	"upgrade-insecure-requests": {},
	"sec-fetch-dest":            {},
	"sec-fetch-mode":            {},
	"sec-fetch-site":            {},
	"cache-control":             {},
	"dnt":                       {},
}

// Generate returns the request digest as a 32-character hex string.
func Generate(r *http.Request) string {
	parts := make([]string, 0, len(headerComponents)+3)
	parts = append(parts, r.UserAgent())
	for _, h := range headerComponents {
		parts = append(parts, r.Header.Get(h))
	}
	parts = append(parts, clientip.GetIP(r), headerSet(r))

	// blake2b.New only fails for invalid sizes or oversized keys
	h, _ := blake2b.New(Size, nil)
	for _, p := range parts {
		if p == "" {
			continue
		}
		h.Write([]byte(p))
		h.Write([]byte{'|'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// headerSet lists which stable headers are present, sorted.
func headerSet(r *http.Request) string {
	names := make([]string, 0, len(stableHeaders))
	for name := range r.Header {
		lower := strings.ToLower(name)
		if _, ok := stableHeaders[lower]; ok {
			names = append(names, lower)
		}
	}
	slices.Sort(names)
	return strings.Join(names, ",")
}
