// Package useragent classifies HTTP User-Agent strings into browser family,
// operating system and device class, and recognises automated clients.
package useragent

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Device classes
const (
	DeviceBot     = "bot"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
	DeviceUnknown = "unknown"
)

// Unknown is reported for attributes that could not be recognised.
const Unknown = "unknown"

// UserAgent is a classified User-Agent string.
type UserAgent struct {
	Raw     string
	Browser string
	Version string
	OS      string
	Device  string
	// BotName is set for automated clients only
	BotName string
}

// IsBot reports whether the client is a crawler, a headless browser or an HTTP library.
func (ua UserAgent) IsBot() bool { return ua.Device == DeviceBot }

// IsMobile reports whether the client is a phone.
func (ua UserAgent) IsMobile() bool { return ua.Device == DeviceMobile }

// Family returns "browser/major" or the bot name, suitable for coarse matching.
func (ua UserAgent) Family() string {
	if ua.IsBot() {
		return ua.BotName
	}
	major, _, _ := strings.Cut(ua.Version, ".")
	if major == "" {
		return ua.Browser
	}
	return ua.Browser + "/" + major
}

type pattern struct {
	name   string
	token  string
	before []string // tokens that must be absent
}

// ordered most specific first; Chrome-based browsers also carry "chrome" and "safari"
var browserPatterns = []pattern{
	{name: "edge", token: "edg/"},
	{name: "opera", token: "opr/"},
	{name: "samsung", token: "samsungbrowser/"},
	{name: "yandex", token: "yabrowser/"},
	{name: "firefox", token: "firefox/"},
	{name: "firefox", token: "fxios/"},
	{name: "chrome", token: "crios/"},
	{name: "chrome", token: "chrome/"},
	{name: "safari", token: "version/", before: []string{"chrome/", "android"}},
}

var osPatterns = []struct {
	name  string
	token string
}{
	{"ios", "iphone"},
	{"ios", "ipad"},
	{"android", "android"},
	{"windows", "windows"},
	{"macos", "mac os x"},
	{"chromeos", "cros "},
	{"linux", "linux"},
}

// tokens of automated clients in lowercase
var botTokens = []string{
	"bot", "spider", "crawler", "slurp", "headlesschrome", "phantomjs",
	"curl/", "wget/", "python-requests", "python-urllib", "go-http-client",
	"okhttp", "java/", "libwww", "httpclient", "scrapy", "axios/", "node-fetch",
}

var (
	botNamePattern = regexp.MustCompile(`(?i)([a-z0-9\-_]*(?:bot|spider|crawler))`)
	toolPattern    = regexp.MustCompile(`(?i)^([a-z0-9\-_.]+)/`)
	// a plausible UA starts with a product token
	productPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9\-_.]*(/\S+)?`)
	title          = cases.Title(language.English)
)

// Parse classifies ua. Bots are recognised even when otherwise malformed.
func Parse(ua string) (UserAgent, error) {
	ua = strings.TrimSpace(ua)
	if ua == "" {
		return UserAgent{Browser: Unknown, OS: Unknown, Device: DeviceUnknown}, ErrEmptyUserAgent
	}

	lower := strings.ToLower(ua)
	res := UserAgent{
		Raw:     ua,
		Browser: Unknown,
		OS:      parseOS(lower),
		Device:  DeviceUnknown,
	}

	if isBot(lower) {
		res.Device = DeviceBot
		res.BotName = botName(ua)
		return res, nil
	}

	if !productPattern.MatchString(ua) {
		return res, ErrMalformedUserAgent
	}

	res.Browser, res.Version = parseBrowser(lower)
	res.Device = parseDevice(lower, res.OS)

	if res.Browser == Unknown && res.OS == Unknown {
		return res, ErrMalformedUserAgent
	}
	return res, nil
}

func isBot(lower string) bool {
	for _, t := range botTokens {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

func botName(ua string) string {
	if strings.Contains(strings.ToLower(ua), "headless") {
		return "Headless Browser"
	}
	if m := botNamePattern.FindStringSubmatch(ua); len(m) > 1 && m[1] != "" {
		return title.String(strings.ToLower(m[1]))
	}
	if m := toolPattern.FindStringSubmatch(ua); len(m) > 1 {
		return title.String(strings.ToLower(m[1]))
	}
	return "Unknown Bot"
}

func parseBrowser(lower string) (string, string) {
	for _, p := range browserPatterns {
		idx := strings.Index(lower, p.token)
		if idx < 0 {
			continue
		}
		excluded := false
		for _, b := range p.before {
			if strings.Contains(lower, b) {
				excluded = true
				break
			}
		}
		if excluded {
			continue
		}
		rest := lower[idx+len(p.token):]
		if end := strings.IndexAny(rest, " ;)"); end >= 0 {
			rest = rest[:end]
		}
		return p.name, rest
	}
	return Unknown, ""
}

func parseOS(lower string) string {
	for _, p := range osPatterns {
		if strings.Contains(lower, p.token) {
			return p.name
		}
	}
	return Unknown
}

func parseDevice(lower, os string) string {
	switch {
	case strings.Contains(lower, "ipad"), strings.Contains(lower, "tablet"),
		os == "android" && !strings.Contains(lower, "mobile"):
		return DeviceTablet
	case strings.Contains(lower, "mobile"), strings.Contains(lower, "iphone"):
		return DeviceMobile
	case os == "windows", os == "macos", os == "linux", os == "chromeos":
		return DeviceDesktop
	default:
		return DeviceUnknown
	}
}
