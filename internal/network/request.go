// internal/network/request.go
package network

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Supported request methods.
const (
	MethodGet    = "GET"
	MethodPost   = "POST"
	MethodPut    = "PUT"
	MethodDelete = "DELETE"
)

// RequestSpec is everything a single exchange adds on top of session state.
type RequestSpec struct {
	URL     string
	Method  string
	Headers map[string]string
	Params  []Param
	Context map[string]any
	// JSON is sent verbatim when the resolved content type mentions json.
	JSON string
	// Cookie is joined after the session cookie and carded.
	Cookie string
	// ResponseCharset forces the charset used to decode the response text.
	ResponseCharset string
}

// Request is a one-shot builder. It holds its own copy of the session state, so
// flag changes made here affect this exchange and are then folded back into the
// originating session.
type Request struct {
	engine   *Engine
	session  *Session
	settings Settings
	spec     RequestSpec
}

func newRequest(e *Engine, s *Session, settings Settings, rawURL string) *Request {
	return &Request{
		engine:   e,
		session:  s,
		settings: settings,
		spec: RequestSpec{
			URL:     rawURL,
			Method:  MethodGet,
			Headers: map[string]string{},
			Context: map[string]any{},
		},
	}
}

// Method sets the HTTP method. Empty keeps the current one.
func (r *Request) Method(method string) *Request {
	if method != "" {
		r.spec.Method = strings.ToUpper(method)
	}
	return r
}

func (r *Request) Header(name, value string) *Request {
	if name != "" && value != "" {
		setHeader(r.spec.Headers, name, value)
	}
	return r
}

func (r *Request) Headers(h map[string]string) *Request {
	mergeHeaders(r.spec.Headers, h)
	return r
}

func (r *Request) ContentType(value string) *Request {
	return r.Header(HeaderContentType, value)
}

func (r *Request) Referer(value string) *Request {
	return r.Header(HeaderReferer, value)
}

func (r *Request) Param(key, value string) *Request {
	if key != "" {
		r.spec.Params = append(r.spec.Params, Param{Key: key, Value: value})
	}
	return r
}

func (r *Request) Params(params ...Param) *Request {
	for _, p := range params {
		r.Param(p.Key, p.Value)
	}
	return r
}

func (r *Request) JSON(text string) *Request {
	r.spec.JSON = text
	return r
}

// Cookie adds cookies for this exchange; they take precedence over session cookies.
func (r *Request) Cookie(raw string) *Request {
	r.spec.Cookie = CardCookies(joinCookies(r.spec.Cookie, raw))
	return r
}

func (r *Request) ContextValue(key string, value any) *Request {
	if key != "" {
		r.spec.Context[key] = value
	}
	return r
}

func (r *Request) Proxy(p Proxy) *Request {
	r.settings.Proxy = &p
	return r
}

// Charset sets the charset used for URL, form and JSON encoding. Unsupported names
// are ignored.
func (r *Request) Charset(name string) *Request {
	if IsSupportedCharset(name) {
		r.settings.Charset = name
	} else {
		r.engine.logger.Debug("Ignoring unsupported request charset", zap.String("charset", name))
	}
	return r
}

// ResponseCharset overrides charset detection when the response is decoded.
func (r *Request) ResponseCharset(name string) *Request {
	r.spec.ResponseCharset = name
	return r
}

func (r *Request) EncodeURL(on bool) *Request {
	r.settings.EncodeURL = on
	return r
}

func (r *Request) Cache(on bool) *Request {
	r.settings.Cache = on
	return r
}

func (r *Request) Timeout(d time.Duration) *Request {
	r.settings.Timeout = d
	return r
}

func (r *Request) StableRedirect(on bool) *Request {
	r.settings.StableRedirect = on
	return r
}

func (r *Request) HandleHTTPS(on bool) *Request {
	r.settings.HandleHTTPS = on
	return r
}

func (r *Request) TrustAllHostnames(on bool) *Request {
	r.settings.TrustAllHostnames = on
	return r
}

func (r *Request) HostnameVerifier(v HostnameVerifier) *Request {
	r.settings.HostnameVerifier = v
	return r
}

func (r *Request) TLSConfig(cfg *tls.Config) *Request {
	r.settings.TLSConfig = cfg
	return r
}

// Spec returns the per-call part of the request.
func (r *Request) Spec() RequestSpec { return r.spec }

// Settings returns the session snapshot this request runs with.
func (r *Request) Settings() Settings { return r.settings }

// Execute performs the exchange and, for session-derived requests, folds the result
// back into the session before returning.
func (r *Request) Execute(ctx context.Context) (*Response, error) {
	resp, delta, err := r.engine.Execute(ctx, r.settings, r.spec)
	if err != nil {
		return nil, err
	}
	if r.session != nil {
		r.session.Apply(delta)
	}
	return resp, nil
}
