// internal/network/proxy.go
package network

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Proxy describes an upstream HTTP proxy. It is a plain value; copying it is safe
// and nothing in this package mutates one after construction.
type Proxy struct {
	Host     string
	Port     int
	Username string
	Password string
}

// NewProxy builds an unauthenticated proxy descriptor.
func NewProxy(host string, port int) Proxy {
	return Proxy{Host: host, Port: port}
}

// NewAuthProxy builds a proxy descriptor carrying Basic credentials.
func NewAuthProxy(host string, port int, username, password string) Proxy {
	return Proxy{Host: host, Port: port, Username: username, Password: password}
}

// ParseProxy accepts "host:port", "user:pass@host:port" or a full http:// URL.
func ParseProxy(raw string) (Proxy, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Proxy{}, errors.New("proxy address is empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Proxy{}, fmt.Errorf("invalid proxy address: %w", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return Proxy{}, fmt.Errorf("invalid proxy address %q: %w", u.Host, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Proxy{}, fmt.Errorf("invalid proxy port %q: %w", portStr, err)
	}
	p := Proxy{Host: host, Port: port}
	if u.User != nil {
		p.Username = u.User.Username()
		p.Password, _ = u.User.Password()
	}
	return p, p.Validate()
}

// Validate rejects descriptors that cannot be dialed.
func (p Proxy) Validate() error {
	if p.Host == "" {
		return errors.New("proxy host is required")
	}
	if p.Port <= 0 || p.Port > 65535 {
		return fmt.Errorf("proxy port %d out of range", p.Port)
	}
	return nil
}

// Address returns host:port.
func (p Proxy) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// URL is the proxy endpoint without credentials. Credentials are sent through
// explicit headers so the transport never adds a second Proxy-Authorization.
func (p Proxy) URL() *url.URL {
	return &url.URL{Scheme: "http", Host: p.Address()}
}

// HasAuth reports whether credentials should be presented to the proxy.
func (p Proxy) HasAuth() bool {
	return p.Username != ""
}

// Authorization derives the Proxy-Authorization value. The credential bytes are
// produced in the given charset, falling back to UTF-8 when it is unsupported.
func (p Proxy) Authorization(charsetName string) string {
	plain := p.Username + ":" + p.Password
	raw, err := encodeString(plain, charsetName)
	if err != nil {
		raw = []byte(plain)
	}
	return "Basic " + base64.StdEncoding.EncodeToString(raw)
}

func (p Proxy) String() string {
	if p.HasAuth() {
		return p.Username + "@" + p.Address()
	}
	return p.Address()
}
