package clientdetect

import (
	"context"
	"net"
	"net/http"

	"github.com/dmitrymomot/sessionkit/pkg/session"
	"github.com/dmitrymomot/sessionkit/pkg/useragent"
)

// Weights of the attributes compared by Scored. They sum to 1.
type Weights struct {
	IP             float64
	UserAgent      float64
	AcceptLanguage float64
	AcceptEncoding float64
	ClientHints    float64
	Fingerprint    float64
}

// DefaultWeights favours network location and browser identity.
var DefaultWeights = Weights{
	IP:             0.4,
	UserAgent:      0.3,
	AcceptLanguage: 0.1,
	AcceptEncoding: 0.05,
	ClientHints:    0.05,
	Fingerprint:    0.1,
}

// DefaultThreshold is the minimum score of a candidate.
const DefaultThreshold = 0.7

// Scored ranks sessions by a weighted similarity score.
type Scored struct {
	scan
	weights   Weights
	threshold float64
}

// ScoredOption configures a Scored detector
type ScoredOption func(*Scored)

// WithWeights overrides the attribute weights
func WithWeights(w Weights) ScoredOption {
	return func(d *Scored) {
		d.weights = w
	}
}

// WithThreshold sets the minimum accepted score
func WithThreshold(t float64) ScoredOption {
	return func(d *Scored) {
		if t > 0 && t <= 1 {
			d.threshold = t
		}
	}
}

// NewScored creates a scored detector over store.
func NewScored(store session.Store, scoredOpts []ScoredOption, opts ...Option) *Scored {
	d := &Scored{
		scan:      newScan(store, opts),
		weights:   DefaultWeights,
		threshold: DefaultThreshold,
	}
	for _, opt := range scoredOpts {
		opt(d)
	}
	return d
}

// FindSimilarClients returns candidates scoring at least the threshold, highest first
func (d *Scored) FindSimilarClients(ctx context.Context, r *http.Request, includeCurrent bool) ([]session.ClientIdentity, error) {
	return d.run(ctx, r, includeCurrent, func(current, stored session.Payload) (float64, bool) {
		s := d.Score(current, stored)
		return s, s >= d.threshold
	})
}

// Score compares two payloads. Same-subnet IPs and same browser family earn partial credit.
func (d *Scored) Score(current, stored session.Payload) float64 {
	w := d.weights
	var score float64

	score += w.IP * ipSimilarity(current.IP, stored.IP)
	score += w.UserAgent * uaSimilarity(current.UserAgent, stored.UserAgent)
	score += w.AcceptLanguage * equal(current.AcceptLanguage, stored.AcceptLanguage)
	score += w.AcceptEncoding * equal(current.AcceptEncoding, stored.AcceptEncoding)
	score += w.ClientHints * hintSimilarity(current, stored)
	score += w.Fingerprint * equal(current.Fingerprint, stored.Fingerprint)

	return min(score, 1)
}

func equal(a, b string) float64 {
	if a != "" && a == b {
		return 1
	}
	return 0
}

func ipSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	ipA, ipB := net.ParseIP(a), net.ParseIP(b)
	if ipA == nil || ipB == nil {
		return 0
	}
	// same /24 (IPv4) or /64 (IPv6)
	if v4a, v4b := ipA.To4(), ipB.To4(); v4a != nil && v4b != nil {
		if v4a.Mask(net.CIDRMask(24, 32)).Equal(v4b.Mask(net.CIDRMask(24, 32))) {
			return 0.5
		}
		return 0
	}
	if ipA.Mask(net.CIDRMask(64, 128)).Equal(ipB.Mask(net.CIDRMask(64, 128))) {
		return 0.5
	}
	return 0
}

func uaSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	// a browser auto-update keeps family, OS and device
	uaA, errA := useragent.Parse(a)
	uaB, errB := useragent.Parse(b)
	if errA != nil || errB != nil {
		return 0
	}
	if uaA.Browser == uaB.Browser && uaA.OS == uaB.OS && uaA.Device == uaB.Device && uaA.Browser != useragent.Unknown {
		return 0.6
	}
	return 0
}

func hintSimilarity(a, b session.Payload) float64 {
	pairs := [][2]string{
		{a.SecChUa, b.SecChUa},
		{a.SecChUaPlatform, b.SecChUaPlatform},
		{a.SecChUaMobile, b.SecChUaMobile},
	}
	var present, same float64
	for _, p := range pairs {
		if p[0] == "" && p[1] == "" {
			continue
		}
		present++
		if p[0] == p[1] {
			same++
		}
	}
	// neither side sends hints (Firefox, Safari): agreement
	if present == 0 {
		return 1
	}
	return same / present
}
