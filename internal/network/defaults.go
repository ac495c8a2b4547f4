// internal/network/defaults.go
package network

import (
	"crypto/tls"
	"time"

	"github.com/xkilldash9x/harvest-cli/internal/config"
)

// Header names the engine treats specially.
const (
	HeaderAccept             = "Accept"
	HeaderAcceptEncoding     = "Accept-Encoding"
	HeaderAcceptLanguage     = "Accept-Language"
	HeaderUserAgent          = "User-Agent"
	HeaderContentType        = "Content-Type"
	HeaderContentLength      = "Content-Length"
	HeaderCookie             = "Cookie"
	HeaderReferer            = "Referer"
	HeaderLocation           = "Location"
	HeaderSetCookie          = "Set-Cookie"
	HeaderProxyAuthorization = "Proxy-Authorization"
)

// Content types chosen for POST/PUT when the caller sets none.
const (
	ContentTypeJSON = "application/json; charset="
	ContentTypeForm = "application/x-www-form-urlencoded; charset="
)

const (
	// MaxRedirects caps the tracked redirect chain.
	MaxRedirects = 8

	DefaultDialTimeout         = 15 * time.Second
	DefaultKeepAliveInterval   = 30 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
)

// Default header values sent when a request does not override them.
const (
	DefaultAccept         = "text/html,application/xhtml+xml,application/xml,application/json;q=0.9,*/*;q=0.8"
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/68.0.3440.84 Safari/537.36 shaines.cn"
	DefaultAcceptEncoding = "gzip"
	DefaultAcceptLanguage = "zh-CN,zh;q=0.8"
)

// SecureMinTLSVersion is the lowest protocol version negotiated by default.
const SecureMinTLSVersion = tls.VersionTLS12

// Defaults is the process-wide configuration of the engine. Build one at startup
// and hand it to NewEngine; nothing in this package reads global state.
type Defaults struct {
	// Headers is the baseline header set. Request and session headers win on conflict.
	Headers map[string]string

	// TLSConfig carries the trust material used when a session supplies none.
	TLSConfig *tls.Config

	// InsecureTLS accepts any certificate chain on HTTPS exchanges whose session
	// has HTTPS handling enabled. Hostname checks still follow the session flags.
	InsecureTLS bool

	DialTimeout         time.Duration
	KeepAlive           time.Duration
	TLSHandshakeTimeout time.Duration

	// RateLimit paces every outgoing hop, in requests per second. Zero disables it.
	RateLimit float64
	Burst     int

	// MaxRedirects bounds the tracked redirect chain. Zero means MaxRedirects.
	MaxRedirects int
}

// DefaultHeaders returns a fresh copy of the stock header set.
func DefaultHeaders() map[string]string {
	return map[string]string{
		HeaderAccept:         DefaultAccept,
		HeaderUserAgent:      DefaultUserAgent,
		HeaderAcceptEncoding: DefaultAcceptEncoding,
		HeaderAcceptLanguage: DefaultAcceptLanguage,
	}
}

// NewDefaults returns the stock engine configuration with verified TLS.
func NewDefaults() *Defaults {
	return &Defaults{
		Headers:             DefaultHeaders(),
		TLSConfig:           NewSecureTLSConfig(),
		DialTimeout:         DefaultDialTimeout,
		KeepAlive:           DefaultKeepAliveInterval,
		TLSHandshakeTimeout: DefaultTLSHandshakeTimeout,
		MaxRedirects:        MaxRedirects,
	}
}

// NewDefaultsFromConfig layers cfg over the stock configuration. Configured
// headers replace stock values of the same name.
func NewDefaultsFromConfig(cfg config.NetworkConfig) *Defaults {
	d := NewDefaults()
	for name, value := range cfg.Headers {
		setHeader(d.Headers, name, value)
	}
	d.InsecureTLS = cfg.InsecureTLS
	if cfg.DialTimeout > 0 {
		d.DialTimeout = cfg.DialTimeout
	}
	if cfg.KeepAlive > 0 {
		d.KeepAlive = cfg.KeepAlive
	}
	if cfg.TLSHandshakeTimeout > 0 {
		d.TLSHandshakeTimeout = cfg.TLSHandshakeTimeout
	}
	d.RateLimit = cfg.RateLimit
	d.Burst = cfg.Burst
	if cfg.MaxRedirects > 0 {
		d.MaxRedirects = cfg.MaxRedirects
	}
	return d
}

// normalize fills zero fields so an Engine never sees a partial configuration.
func (d *Defaults) normalize() *Defaults {
	out := *d
	if out.Headers == nil {
		out.Headers = DefaultHeaders()
	} else {
		out.Headers = copyHeaders(out.Headers)
	}
	if out.TLSConfig == nil {
		out.TLSConfig = NewSecureTLSConfig()
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = DefaultDialTimeout
	}
	if out.KeepAlive <= 0 {
		out.KeepAlive = DefaultKeepAliveInterval
	}
	if out.TLSHandshakeTimeout <= 0 {
		out.TLSHandshakeTimeout = DefaultTLSHandshakeTimeout
	}
	if out.MaxRedirects <= 0 {
		out.MaxRedirects = MaxRedirects
	}
	if out.Burst <= 0 {
		out.Burst = 1
	}
	return &out
}
