package session

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds session configuration.
// It is built once at startup and passed to constructors; nothing mutates it afterwards.
type Config struct {
	// CookieName is the name of the session cookie (default: "session")
	CookieName string `env:"SESSION_COOKIE_NAME" envDefault:"session" yaml:"cookie_name"`

	// CookieTTL is how many seconds the browser keeps the cookie
	CookieTTL int `env:"SESSION_COOKIE_TTL" envDefault:"86400" yaml:"cookie_ttl"`

	// SessionTTL is how many seconds a session stays valid after creation or refresh
	SessionTTL int `env:"SESSION_TTL" envDefault:"3600" yaml:"session_ttl"`

	// UseFingerprint enables fingerprint-based recovery of anonymous sessions
	UseFingerprint bool `env:"SESSION_USE_FINGERPRINT" envDefault:"false" yaml:"use_fingerprint"`

	// TouchInterval is the minimum time between expiry refresh writes (0 refreshes on every request)
	TouchInterval time.Duration `env:"SESSION_TOUCH_INTERVAL" envDefault:"5m" yaml:"touch_interval"`

	CookiePath    string `env:"SESSION_COOKIE_PATH" envDefault:"/" yaml:"cookie_path"`
	CookieDomain  string `env:"SESSION_COOKIE_DOMAIN" envDefault:"" yaml:"cookie_domain"`
	SecureCookies bool   `env:"SESSION_SECURE_COOKIES" envDefault:"false" yaml:"secure_cookies"`

	// SameSite is one of "lax", "strict", "none" or "default"
	SameSite string `env:"SESSION_COOKIE_SAME_SITE" envDefault:"lax" yaml:"same_site"`

	// SweepInterval for expired sessions (0 to disable)
	SweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"5m" yaml:"sweep_interval"`
}

// DefaultConfig returns default session configuration
func DefaultConfig() Config {
	return Config{
		CookieName:     "session",
		CookieTTL:      86400,
		SessionTTL:     3600,
		UseFingerprint: false,
		TouchInterval:  5 * time.Minute,
		CookiePath:     "/",
		SameSite:       "lax",
		SweepInterval:  5 * time.Minute,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.CookieName) == "":
		return errors.Join(ErrInvalidConfig, errors.New("cookie name is empty"))
	case c.CookieTTL <= 0:
		return errors.Join(ErrInvalidConfig, fmt.Errorf("cookie ttl must be positive, got %d", c.CookieTTL))
	case c.SessionTTL <= 0:
		return errors.Join(ErrInvalidConfig, fmt.Errorf("session ttl must be positive, got %d", c.SessionTTL))
	case c.TouchInterval < 0:
		return errors.Join(ErrInvalidConfig, errors.New("touch interval must not be negative"))
	case c.SweepInterval < 0:
		return errors.Join(ErrInvalidConfig, errors.New("sweep interval must not be negative"))
	}

	switch strings.ToLower(c.SameSite) {
	case "", "lax", "strict", "none", "default":
	default:
		return errors.Join(ErrInvalidConfig, fmt.Errorf("unknown same_site mode %q", c.SameSite))
	}

	return nil
}

// SessionLifetime returns SessionTTL as a duration.
func (c Config) SessionLifetime() time.Duration {
	return time.Duration(c.SessionTTL) * time.Second
}

// CookieLifetime returns CookieTTL as a duration.
func (c Config) CookieLifetime() time.Duration {
	return time.Duration(c.CookieTTL) * time.Second
}

// SameSiteMode maps the configured SameSite string to net/http.
func (c Config) SameSiteMode() http.SameSite {
	switch strings.ToLower(c.SameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteLaxMode
	}
}

// ParseConfigYAML decodes a YAML document on top of DefaultConfig.
// Keys that are absent keep their defaults.
func ParseConfigYAML(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Join(ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfigFile reads session configuration from a YAML file.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Join(ErrInvalidConfig, err)
	}
	return ParseConfigYAML(data)
}

// ConfigFromMap builds a Config from loosely typed options keyed like the YAML form
// (cookie_name, cookie_ttl, session_ttl, use_fingerprint, ...).
func ConfigFromMap(opts map[string]any) (Config, error) {
	data, err := yaml.Marshal(opts)
	if err != nil {
		return Config{}, errors.Join(ErrInvalidConfig, err)
	}
	return ParseConfigYAML(data)
}
