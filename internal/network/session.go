// internal/network/session.go
package network

import (
	"crypto/tls"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Settings is an immutable snapshot of session state. Requests execute against a
// Settings value, so later session mutation never reaches an in-flight exchange.
type Settings struct {
	Referer           string
	Headers           map[string]string
	Cookie            string
	Context           map[string]any
	Proxy             *Proxy
	Charset           string
	EncodeURL         bool
	Cache             bool
	Timeout           time.Duration
	StableRedirect    bool
	HandleHTTPS       bool
	TrustAllHostnames bool
	HostnameVerifier  HostnameVerifier
	TLSConfig         *tls.Config
}

// DefaultSettings is the state of a fresh session.
func DefaultSettings() Settings {
	return Settings{
		Headers:        map[string]string{},
		Context:        map[string]any{},
		Charset:        DefaultCharset,
		StableRedirect: true,
		HandleHTTPS:    true,
	}
}

func (s Settings) clone() Settings {
	out := s
	out.Headers = copyHeaders(s.Headers)
	out.Context = copyContext(s.Context)
	if s.Proxy != nil {
		p := *s.Proxy
		out.Proxy = &p
	}
	return out
}

// Delta is what one exchange hands back to its session. Headers, Cookie and
// Context hold only what the call added on top of its snapshot, so a request
// that finishes late never restores values the session has since replaced.
type Delta struct {
	Headers           map[string]string
	Cookie            string
	ResponseCookie    string
	Referer           string
	Context           map[string]any
	Proxy             *Proxy
	Charset           string
	EncodeURL         bool
	Cache             bool
	Timeout           time.Duration
	StableRedirect    bool
	HandleHTTPS       bool
	TrustAllHostnames bool
	HostnameVerifier  HostnameVerifier
	TLSConfig         *tls.Config
}

// Session accumulates cookies, headers, proxy and TLS state across the requests
// built from it. It is safe for concurrent use: reads snapshot under a read lock
// and fold-backs are serialized.
type Session struct {
	engine *Engine
	logger *zap.Logger

	mu    sync.RWMutex
	state Settings
	// cookies is kept carded; state.Cookie is rendered from it on snapshot.
	cookies *CookieSet
}

// NewSession returns an empty session bound to the engine.
func (e *Engine) NewSession() *Session {
	return &Session{
		engine:  e,
		logger:  e.logger.With(zap.String("component", "session")),
		state:   DefaultSettings(),
		cookies: &CookieSet{},
	}
}

// Build starts a request primed with a snapshot of the session.
func (s *Session) Build(rawURL string) *Request {
	return newRequest(s.engine, s, s.Snapshot(), rawURL)
}

// Snapshot returns a defensive copy of the current state.
func (s *Session) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.state.clone()
	out.Cookie = s.cookies.String()
	return out
}

// Apply folds the outcome of one exchange back into the session.
func (s *Session) Apply(d *Delta) {
	if d == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(d.Headers) > 0 {
		mergeHeaders(s.state.Headers, d.Headers)
		stripSessionScoped(s.state.Headers)
	}
	s.cookies.Merge(d.Cookie)
	s.cookies.Merge(d.ResponseCookie)
	for k, v := range d.Context {
		if k != "" && v != nil {
			s.state.Context[k] = v
		}
	}
	if d.Proxy != nil {
		p := *d.Proxy
		s.state.Proxy = &p
	}
	if d.Charset != "" {
		s.state.Charset = d.Charset
	}
	if d.Referer != "" {
		s.state.Referer = d.Referer
	}
	s.state.EncodeURL = d.EncodeURL
	s.state.Cache = d.Cache
	s.state.Timeout = d.Timeout
	s.state.StableRedirect = d.StableRedirect
	s.state.HandleHTTPS = d.HandleHTTPS
	s.state.TrustAllHostnames = d.TrustAllHostnames
	if d.HostnameVerifier != nil {
		s.state.HostnameVerifier = d.HostnameVerifier
	}
	if d.TLSConfig != nil {
		s.state.TLSConfig = d.TLSConfig
	}
}

// Cookie returns the carded cookie string.
func (s *Session) Cookie() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cookies.String()
}

// Cookies returns an independent ordered view of the session cookies.
func (s *Session) Cookies() *CookieSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cookies.Clone()
}

// AddCookie merges a "; " separated cookie string into the session.
func (s *Session) AddCookie(raw string) *Session {
	s.mu.Lock()
	s.cookies.Merge(raw)
	s.mu.Unlock()
	return s
}

// Headers returns a copy of the session headers.
func (s *Session) Headers() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyHeaders(s.state.Headers)
}

// SetHeader records a session-wide header. Per-request headers such as Cookie or
// Content-Type are ignored here.
func (s *Session) SetHeader(name, value string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	mergeHeaders(s.state.Headers, map[string]string{name: value})
	stripSessionScoped(s.state.Headers)
	return s
}

// Referer is the final URL of the most recent exchange.
func (s *Session) Referer() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Referer
}

func (s *Session) SetReferer(referer string) *Session {
	s.mu.Lock()
	s.state.Referer = referer
	s.mu.Unlock()
	return s
}

// Context returns a copy of the auxiliary values carried across requests.
func (s *Session) Context() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyContext(s.state.Context)
}

func (s *Session) SetContextValue(key string, value any) *Session {
	s.mu.Lock()
	s.state.Context[key] = value
	s.mu.Unlock()
	return s
}

func (s *Session) Proxy() *Proxy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.Proxy == nil {
		return nil
	}
	p := *s.state.Proxy
	return &p
}

func (s *Session) SetProxy(p Proxy) *Session {
	s.mu.Lock()
	s.state.Proxy = &p
	s.mu.Unlock()
	return s
}

func (s *Session) Charset() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Charset
}

// SetCharset changes the session charset. Unsupported names are ignored.
func (s *Session) SetCharset(name string) *Session {
	if !IsSupportedCharset(name) {
		s.logger.Debug("Ignoring unsupported charset", zap.String("charset", name))
		return s
	}
	s.mu.Lock()
	s.state.Charset = name
	s.mu.Unlock()
	return s
}

func (s *Session) SetTimeout(d time.Duration) *Session {
	s.mu.Lock()
	s.state.Timeout = d
	s.mu.Unlock()
	return s
}

func (s *Session) SetEncodeURL(on bool) *Session {
	s.mu.Lock()
	s.state.EncodeURL = on
	s.mu.Unlock()
	return s
}

func (s *Session) SetCache(on bool) *Session {
	s.mu.Lock()
	s.state.Cache = on
	s.mu.Unlock()
	return s
}

func (s *Session) SetStableRedirect(on bool) *Session {
	s.mu.Lock()
	s.state.StableRedirect = on
	s.mu.Unlock()
	return s
}

func (s *Session) SetHandleHTTPS(on bool) *Session {
	s.mu.Lock()
	s.state.HandleHTTPS = on
	s.mu.Unlock()
	return s
}

func (s *Session) SetTrustAllHostnames(on bool) *Session {
	s.mu.Lock()
	s.state.TrustAllHostnames = on
	s.mu.Unlock()
	return s
}

func (s *Session) SetHostnameVerifier(v HostnameVerifier) *Session {
	s.mu.Lock()
	s.state.HostnameVerifier = v
	s.mu.Unlock()
	return s
}

// SetTLSConfig installs session trust material. The config is cloned per exchange.
func (s *Session) SetTLSConfig(cfg *tls.Config) *Session {
	s.mu.Lock()
	s.state.TLSConfig = cfg
	s.mu.Unlock()
	return s
}
