package client

import (
	"net/url"
	"os"
	"time"
)

// Timer is a pending reconnect. *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

// Config controls how the client connects.
type Config struct {
	URL              string
	Origin           string // derived from URL when empty
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	NameFile         string
	UpdateBuffer     int

	// AfterFunc schedules reconnects; nil means time.AfterFunc.
	AfterFunc func(time.Duration, func()) Timer
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:              "ws://localhost:3000",
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		NameFile:         DefaultNameFile(),
		UpdateBuffer:     64,
	}
}

// ConfigFromEnv applies CHAT_SERVER_URL and CHAT_NAME_FILE over the defaults.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if u := os.Getenv("CHAT_SERVER_URL"); u != "" {
		cfg.URL = u
	}
	if f := os.Getenv("CHAT_NAME_FILE"); f != "" {
		cfg.NameFile = f
	}
	return cfg
}

func (c Config) afterFunc() func(time.Duration, func()) Timer {
	if c.AfterFunc != nil {
		return c.AfterFunc
	}
	return func(d time.Duration, f func()) Timer {
		return time.AfterFunc(d, f)
	}
}

// originFor maps ws://host to http://host and wss://host to https://host.
func originFor(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := "http"
	if u.Scheme == "wss" || u.Scheme == "https" {
		scheme = "https"
	}
	return scheme + "://" + u.Host
}

// targetURL attaches the requested name as the "name" query parameter.
func targetURL(rawURL, name string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("name", name)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
