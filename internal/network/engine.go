// internal/network/engine.go
package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// drainLimit bounds how much of a redirect body is read before the hop is dropped.
const drainLimit = 64 << 10

// Engine executes exchanges. It owns the injected Defaults and an optional pacing
// limiter shared by every session built from it.
type Engine struct {
	defaults *Defaults
	logger   *zap.Logger
	limiter  *rate.Limiter
}

// NewEngine builds an engine. A nil defaults means NewDefaults().
func NewEngine(defaults *Defaults, logger *zap.Logger) *Engine {
	if defaults == nil {
		defaults = NewDefaults()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := defaults.normalize()
	e := &Engine{
		defaults: d,
		logger:   logger.With(zap.String("component", "http_engine")),
	}
	if d.RateLimit > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(d.RateLimit), d.Burst)
	}
	return e
}

// Build starts a request that is not attached to any session.
func (e *Engine) Build(rawURL string) *Request {
	return newRequest(e, nil, DefaultSettings(), rawURL)
}

// Execute runs one logical exchange for spec under settings. It never mutates
// either argument; the state the caller should fold back is returned as a Delta.
//
// With StableRedirect set, 301/302/303 responses are followed here. Each Location
// is appended to the chain and followed while the chain is shorter than the cap,
// so a server that always redirects sees exactly MaxRedirects requests and the
// last redirect response is returned as-is.
func (e *Engine) Execute(ctx context.Context, settings Settings, spec RequestSpec) (*Response, *Delta, error) {
	method := spec.Method
	if method == "" {
		method = MethodGet
	}
	method = strings.ToUpper(method)
	switch method {
	case MethodGet, MethodPost, MethodPut, MethodDelete:
	default:
		return nil, nil, &ConfigurationError{Op: "execute", URL: spec.URL, Err: fmt.Errorf("unsupported method %q", method)}
	}
	if strings.TrimSpace(spec.URL) == "" {
		return nil, nil, &ConfigurationError{Op: "execute", Err: errors.New("target URL is empty")}
	}
	if settings.Proxy != nil {
		if err := settings.Proxy.Validate(); err != nil {
			return nil, nil, &ConfigurationError{Op: "proxy", URL: spec.URL, Err: err}
		}
	}

	charsetName := settings.Charset
	if !IsSupportedCharset(charsetName) {
		charsetName = DefaultCharset
	}

	headers, callCookie := e.prepareHeaders(settings, spec)
	var body []byte
	if method == MethodPost || method == MethodPut {
		body = resolveBody(headers, spec, charsetName)
	}

	logger := e.logger.With(zap.String("method", method))
	target := spec.URL
	var chain []string
	var resp *http.Response
	for {
		site := assembleURL(target, method, spec.Params, settings.EncodeURL, charsetName)
		var err error
		resp, err = e.roundTrip(ctx, settings, method, site, headers, body)
		if err != nil {
			return nil, nil, err
		}
		if !settings.StableRedirect || !isTrackedRedirect(resp.StatusCode) {
			break
		}
		location := resp.Header.Get(HeaderLocation)
		if location == "" {
			logger.Debug("Redirect without Location, stopping", zap.String("url", site), zap.Int("status", resp.StatusCode))
			break
		}
		next := resolveLocation(resp.Request.URL, location)
		chain = append(chain, next)
		if len(chain) >= e.defaults.MaxRedirects {
			logger.Debug("Redirect cap reached, returning last response",
				zap.String("url", site), zap.Int("hops", len(chain)))
			break
		}
		logger.Debug("Following redirect", zap.String("from", site), zap.String("to", next), zap.Int("status", resp.StatusCode))
		discardBody(resp.Body, logger)
		target = next
	}

	ctxValues := copyContext(settings.Context)
	for k, v := range spec.Context {
		ctxValues[k] = v
	}

	out, err := newResponse(resp, chain, ctxValues, spec.ResponseCharset, e.logger)
	if err != nil {
		return nil, nil, err
	}

	delta := &Delta{
		Headers:           copyHeaders(spec.Headers),
		Cookie:            callCookie,
		ResponseCookie:    out.Cookie(),
		Referer:           out.URL(),
		Context:           copyContext(spec.Context),
		Proxy:             settings.Proxy,
		Charset:           charsetName,
		EncodeURL:         settings.EncodeURL,
		Cache:             settings.Cache,
		Timeout:           settings.Timeout,
		StableRedirect:    settings.StableRedirect,
		HandleHTTPS:       settings.HandleHTTPS,
		TrustAllHostnames: settings.TrustAllHostnames,
		HostnameVerifier:  settings.HostnameVerifier,
		TLSConfig:         settings.TLSConfig,
	}
	logger.Debug("Exchange complete", zap.String("url", out.URL()), zap.Int("status", out.StatusCode()), zap.Int("redirects", len(chain)))
	return out, delta, nil
}

// prepareHeaders layers defaults, session headers, the session referer and the
// per-call headers, then consolidates every cookie source into one carded
// Cookie header. It also returns the cookies this call added on top of the
// session, which is all the session needs back.
func (e *Engine) prepareHeaders(settings Settings, spec RequestSpec) (map[string]string, string) {
	headers := copyHeaders(e.defaults.Headers)
	mergeHeaders(headers, settings.Headers)
	if settings.Referer != "" {
		setHeader(headers, HeaderReferer, settings.Referer)
	}
	mergeHeaders(headers, spec.Headers)

	callCookie := spec.Cookie
	if v, ok := getHeader(spec.Headers, HeaderCookie); ok {
		callCookie = joinCookies(v, callCookie)
	}

	cookie := joinCookies(settings.Cookie, spec.Cookie)
	for _, fromHeader := range removeHeader(headers, HeaderCookie) {
		cookie = joinCookies(fromHeader, cookie)
	}
	cookie = CardCookies(cookie)
	if cookie != "" {
		headers[HeaderCookie] = cookie
	}
	return headers, CardCookies(callCookie)
}

// resolveBody settles Content-Type for POST/PUT and returns the bytes to send. A
// json content type without JSON text sends an empty body; params are not
// converted to JSON.
func resolveBody(headers map[string]string, spec RequestSpec, charsetName string) []byte {
	contentType := ""
	if values := removeHeader(headers, HeaderContentType); len(values) > 0 {
		contentType = values[0]
	}
	switch {
	case contentType == "" && spec.JSON != "":
		contentType = ContentTypeJSON + charsetName
	case contentType == "":
		contentType = ContentTypeForm + charsetName
	case !strings.Contains(contentType, "charset"):
		contentType += "; " + charsetToken + charsetName
	}
	headers[HeaderContentType] = contentType

	if strings.Contains(contentType, "json") {
		if spec.JSON == "" {
			return []byte{}
		}
		raw, err := encodeString(spec.JSON, charsetName)
		if err != nil {
			return []byte(spec.JSON)
		}
		return raw
	}
	form := encodeParams(spec.Params, charsetName)
	raw, err := encodeString(form, charsetName)
	if err != nil {
		return []byte(form)
	}
	return raw
}

// roundTrip sends a single hop over a transport built for this exchange alone.
func (e *Engine) roundTrip(ctx context.Context, settings Settings, method, site string, headers map[string]string, body []byte) (*http.Response, error) {
	u, err := url.Parse(site)
	if err != nil {
		return nil, &ConfigurationError{Op: "parse url", URL: site, Err: err}
	}
	if u.Host == "" {
		return nil, &ConfigurationError{Op: "parse url", URL: site, Err: errors.New("missing host")}
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Op: "rate limit", URL: site, Err: err}
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, &ConfigurationError{Op: "build request", URL: site, Err: err}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if p := settings.Proxy; p != nil && p.HasAuth() && u.Scheme == "http" {
		req.Header.Set(HeaderProxyAuthorization, p.Authorization(settings.Charset))
	}

	client := &http.Client{
		Transport: e.newTransport(settings, u.Hostname()),
		Timeout:   positive(settings.Timeout),
	}
	if settings.StableRedirect {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: strings.ToLower(method), URL: site, Err: err}
	}
	return resp, nil
}

// newTransport builds a transport scoped to one exchange. Keep-alives are off, so
// the connection is released as soon as the response body is closed.
func (e *Engine) newTransport(settings Settings, host string) *http.Transport {
	dialTimeout := e.defaults.DialTimeout
	if settings.Timeout > 0 {
		dialTimeout = settings.Timeout
	}
	dialer := &net.Dialer{
		Timeout:       dialTimeout,
		KeepAlive:     e.defaults.KeepAlive,
		FallbackDelay: 300 * time.Millisecond,
	}
	policy := tlsPolicy{
		handleHTTPS:       settings.HandleHTTPS,
		insecure:          e.defaults.InsecureTLS,
		trustAllHostnames: settings.TrustAllHostnames,
		verifier:          settings.HostnameVerifier,
		sessionConfig:     settings.TLSConfig,
		defaultConfig:     e.defaults.TLSConfig,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSClientConfig:     policy.build(host, e.logger),
		TLSHandshakeTimeout: e.defaults.TLSHandshakeTimeout,
		DisableKeepAlives:   true,
		// Bodies are decoded by the response reader, never by the transport.
		DisableCompression: true,
		ForceAttemptHTTP2:  true,
	}
	if p := settings.Proxy; p != nil {
		transport.Proxy = http.ProxyURL(p.URL())
		if p.HasAuth() {
			transport.ProxyConnectHeader = http.Header{
				HeaderProxyAuthorization: []string{p.Authorization(settings.Charset)},
			}
		}
	}
	return transport
}

func isTrackedRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther:
		return true
	}
	return false
}

// resolveLocation resolves a possibly relative Location against the hop URL.
func resolveLocation(base *url.URL, location string) string {
	if base == nil {
		return location
	}
	ref, err := base.Parse(location)
	if err != nil {
		return location
	}
	return ref.String()
}

func discardBody(body io.ReadCloser, logger *zap.Logger) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, drainLimit))
	if err := body.Close(); err != nil {
		logger.Debug("Closing redirect body failed", zap.Error(err))
	}
}

func positive(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return 0
}
