// internal/network/charset.go
package network

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
)

// DefaultCharset is used whenever nothing better is known.
const DefaultCharset = "UTF-8"

const charsetToken = "charset="

// charsetPattern recovers a charset from headers where the simple split failed,
// e.g. quoted values or trailing parameters.
var charsetPattern = regexp.MustCompile(`(?i)charset\s*=\s*['"]*([^\s;'"]*)`)

// lookupEncoding resolves a charset label using the WHATWG label table.
func lookupEncoding(name string) (encoding.Encoding, bool) {
	if strings.TrimSpace(name) == "" {
		return nil, false
	}
	enc, _ := charset.Lookup(name)
	if enc == nil {
		return nil, false
	}
	return enc, true
}

// IsSupportedCharset reports whether bodies in the named charset can be decoded.
func IsSupportedCharset(name string) bool {
	_, ok := lookupEncoding(name)
	return ok
}

// DetectCharset extracts the charset of a Content-Type header value. The value after
// "charset=" is used when it names a supported charset; otherwise the header is
// searched with a looser pattern. Anything else yields UTF-8.
func DetectCharset(contentType string) string {
	idx := strings.Index(contentType, charsetToken)
	if idx <= 0 {
		return DefaultCharset
	}
	candidate := strings.TrimSpace(contentType[idx+len(charsetToken):])
	if IsSupportedCharset(candidate) {
		return candidate
	}
	if m := charsetPattern.FindStringSubmatch(contentType); m != nil && IsSupportedCharset(m[1]) {
		return m[1]
	}
	return DefaultCharset
}

// decodeBytes converts body bytes in the named charset to a Go string.
func decodeBytes(body []byte, name string) (string, error) {
	enc, ok := lookupEncoding(name)
	if !ok {
		return "", &EncodingError{Charset: name}
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return "", &EncodingError{Charset: name, Err: err}
	}
	return string(out), nil
}

// encodeString converts s into the named charset. Runes the charset cannot
// represent are replaced rather than failing the whole string.
func encodeString(s, name string) ([]byte, error) {
	enc, ok := lookupEncoding(name)
	if !ok {
		return nil, &EncodingError{Charset: name}
	}
	out, err := encoding.ReplaceUnsupported(enc.NewEncoder()).Bytes([]byte(s))
	if err != nil {
		return nil, &EncodingError{Charset: name, Err: err}
	}
	return out, nil
}

// urlEncode form-encodes text using the byte representation of the named charset.
// Text is returned unchanged when it is empty or the charset is unknown.
func urlEncode(text, name string) string {
	if text == "" || name == "" {
		return text
	}
	raw, err := encodeString(text, name)
	if err != nil {
		return text
	}
	escaped := url.QueryEscape(string(raw))
	// Align with the classic form encoder: '*' stays literal and '~' is escaped.
	escaped = strings.ReplaceAll(escaped, "%2A", "*")
	return strings.ReplaceAll(escaped, "~", "%7E")
}
