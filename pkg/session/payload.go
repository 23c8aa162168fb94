package session

import (
	"net/http"

	"github.com/dmitrymomot/sessionkit/pkg/clientip"
	"github.com/dmitrymomot/sessionkit/pkg/fingerprint"
)

// Payload is the fingerprint snapshot stored in Session.Payload.
type Payload struct {
	IP              string `json:"ip"`
	UserAgent       string `json:"userAgent,omitempty"`
	AcceptLanguage  string `json:"acceptLanguage,omitempty"`
	AcceptEncoding  string `json:"acceptEncoding,omitempty"`
	XForwardedFor   string `json:"xForwardedFor,omitempty"`
	Referer         string `json:"referer,omitempty"`
	Origin          string `json:"origin,omitempty"`
	SecChUa         string `json:"secChUa,omitempty"`
	SecChUaPlatform string `json:"secChUaPlatform,omitempty"`
	SecChUaMobile   string `json:"secChUaMobile,omitempty"`
	DNT             string `json:"dnt,omitempty"`
	SecFetchDest    string `json:"secFetchDest,omitempty"`
	SecFetchMode    string `json:"secFetchMode,omitempty"`
	SecFetchSite    string `json:"secFetchSite,omitempty"`

	// Fingerprint is the header-set digest of the request
	Fingerprint string `json:"fingerprint,omitempty"`
}

// IsZero reports whether nothing was captured.
func (p Payload) IsZero() bool {
	return p == Payload{}
}

// PayloadFactory captures a Payload from a request.
type PayloadFactory interface {
	FromRequest(r *http.Request) Payload
	Default() Payload
}

// RequestPayloadFactory reads the payload attributes from request headers.
type RequestPayloadFactory struct {
	defaultIP string
}

// NewRequestPayloadFactory creates a factory. defaultIP is reported by Default
// and used when the client address cannot be determined.
func NewRequestPayloadFactory(defaultIP string) *RequestPayloadFactory {
	if defaultIP == "" {
		defaultIP = "0.0.0.0"
	}
	return &RequestPayloadFactory{defaultIP: defaultIP}
}

// FromRequest snapshots the request
func (f *RequestPayloadFactory) FromRequest(r *http.Request) Payload {
	ip := clientip.GetIP(r)
	if ip == "" {
		ip = f.defaultIP
	}

	h := r.Header
	return Payload{
		IP:              ip,
		UserAgent:       r.UserAgent(),
		AcceptLanguage:  h.Get("Accept-Language"),
		AcceptEncoding:  h.Get("Accept-Encoding"),
		XForwardedFor:   h.Get("X-Forwarded-For"),
		Referer:         h.Get("Referer"),
		Origin:          h.Get("Origin"),
		SecChUa:         h.Get("Sec-CH-UA"),
		SecChUaPlatform: h.Get("Sec-CH-UA-Platform"),
		SecChUaMobile:   h.Get("Sec-CH-UA-Mobile"),
		DNT:             h.Get("DNT"),
		SecFetchDest:    h.Get("Sec-Fetch-Dest"),
		SecFetchMode:    h.Get("Sec-Fetch-Mode"),
		SecFetchSite:    h.Get("Sec-Fetch-Site"),
		Fingerprint:     fingerprint.Generate(r),
	}
}

// Default returns the payload used when a request snapshot cannot be serialized
func (f *RequestPayloadFactory) Default() Payload {
	return Payload{IP: f.defaultIP}
}
