// internal/network/errors.go
package network

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Every typed error below reports itself as one of these through
// errors.Is, so callers can branch on the category without type switches.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrTransport     = errors.New("transport error")
	ErrProtocol      = errors.New("protocol error")
	ErrEncoding      = errors.New("encoding error")
)

// ConfigurationError reports a request that could not be built, such as a malformed
// target URL or an invalid proxy. It is never retried.
type ConfigurationError struct {
	Op  string
	URL string
	Err error
}

func (e *ConfigurationError) Error() string {
	return formatError("configuration", e.Op, e.URL, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// TransportError wraps a failure to connect, negotiate TLS, send the body, or
// receive the response headers.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return formatError("transport", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ProtocolError reports a response whose body could not be read or decoded.
type ProtocolError struct {
	Op  string
	URL string
	Err error
}

func (e *ProtocolError) Error() string {
	return formatError("protocol", e.Op, e.URL, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// EncodingError reports a charset name that this process cannot decode.
type EncodingError struct {
	Charset string
	Err     error
}

func (e *EncodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("encoding: unsupported charset %q: %v", e.Charset, e.Err)
	}
	return fmt.Sprintf("encoding: unsupported charset %q", e.Charset)
}

func (e *EncodingError) Unwrap() error { return e.Err }

func (e *EncodingError) Is(target error) bool { return target == ErrEncoding }

func formatError(kind, op, url string, err error) string {
	msg := kind
	if op != "" {
		msg += ": " + op
	}
	if url != "" {
		msg += " " + url
	}
	if err != nil {
		msg += ": " + err.Error()
	}
	return msg
}
