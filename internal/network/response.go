// internal/network/response.go
package network

import (
	"errors"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

// Response is the normalized result of one exchange. The body is fully read and
// decoded at construction, and the connection is released by then.
type Response struct {
	status    int
	header    http.Header
	body      []byte
	url       string
	redirects []string
	charset   string
	override  string
	context   map[string]any
	logger    *zap.Logger

	cookieOnce sync.Once
	cookie     string
}

// newResponse consumes resp. The body is closed on every path.
func newResponse(resp *http.Response, redirects []string, ctxValues map[string]any, override string, logger *zap.Logger) (*Response, error) {
	finalURL := ""
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	r := &Response{
		status:    resp.StatusCode,
		header:    resp.Header.Clone(),
		url:       finalURL,
		redirects: redirects,
		charset:   DetectCharset(resp.Header.Get(HeaderContentType)),
		override:  override,
		context:   ctxValues,
		logger:    logger,
	}
	if r.header == nil {
		r.header = http.Header{}
	}

	body, err := readBody(resp, logger)
	if err != nil {
		return nil, &ProtocolError{Op: "read body", URL: finalURL, Err: err}
	}
	r.body = body
	return r, nil
}

func readBody(resp *http.Response, logger *zap.Logger) ([]byte, error) {
	if resp.Body == nil {
		return []byte{}, nil
	}
	reader, err := decodingBody(resp)
	if err != nil {
		closeQuietly(resp.Body, logger)
		// An empty compressed body has no header to read.
		if errors.Is(err, io.EOF) {
			return []byte{}, nil
		}
		return nil, err
	}
	defer closeQuietly(reader, logger)
	return io.ReadAll(reader)
}

func closeQuietly(c io.Closer, logger *zap.Logger) {
	if err := c.Close(); err != nil {
		logger.Debug("Closing response stream failed", zap.Error(err))
	}
}

// StatusCode is the status of the final hop.
func (r *Response) StatusCode() int { return r.status }

// Header returns a copy of the response headers.
func (r *Response) Header() http.Header { return r.header.Clone() }

// Body returns the decoded body bytes.
func (r *Response) Body() []byte { return r.body }

// URL is the final URL after redirects.
func (r *Response) URL() string { return r.url }

// Redirects lists every Location that was followed or, for the last entry at the
// cap, observed.
func (r *Response) Redirects() []string {
	out := make([]string, len(r.redirects))
	copy(out, r.redirects)
	return out
}

// Context returns the values carried through the exchange.
func (r *Response) Context() map[string]any { return copyContext(r.context) }

// DetectedCharset is the charset derived from Content-Type.
func (r *Response) DetectedCharset() string { return r.charset }

// Charset is the charset Text decodes with: a supported override, else the
// detected one.
func (r *Response) Charset() string {
	if r.override != "" && IsSupportedCharset(r.override) {
		return r.override
	}
	return r.charset
}

// Cookie flattens Set-Cookie into "name=value; name=value".
func (r *Response) Cookie() string {
	r.cookieOnce.Do(func() {
		r.cookie = flattenSetCookie(r.header.Values(HeaderSetCookie))
	})
	return r.cookie
}

// CookieMap returns the response cookies carded by name.
func (r *Response) CookieMap() *CookieSet {
	return ParseCookies(r.Cookie())
}

// Text decodes the body with Charset.
func (r *Response) Text() (string, error) {
	return decodeBytes(r.body, r.Charset())
}

// TextAs decodes the body with an explicit charset.
func (r *Response) TextAs(charsetName string) (string, error) {
	return decodeBytes(r.body, charsetName)
}

// BodyString is Text for callers that treat an undecodable body as absent. The
// failure is logged and "" returned.
func (r *Response) BodyString() string {
	text, err := r.Text()
	if err != nil {
		r.logger.Warn("Response body could not be decoded", zap.String("url", r.url), zap.Error(err))
		return ""
	}
	return text
}
