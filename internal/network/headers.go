// internal/network/headers.go
package network

import "strings"

// Header maps in this package preserve the caller's spelling of each name, but a
// name is unique case-insensitively: setting "user-agent" replaces "User-Agent".

// sessionScopedExclusions are computed per request and never carried by a session.
var sessionScopedExclusions = []string{
	HeaderContentLength,
	HeaderCookie,
	HeaderReferer,
	HeaderContentType,
}

func copyHeaders(src map[string]string) map[string]string {
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func setHeader(h map[string]string, name, value string) {
	for k := range h {
		if k != name && strings.EqualFold(k, name) {
			delete(h, k)
		}
	}
	h[name] = value
}

func getHeader(h map[string]string, name string) (string, bool) {
	if v, ok := h[name]; ok {
		return v, true
	}
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// removeHeader deletes every spelling of name and returns the removed values.
func removeHeader(h map[string]string, name string) []string {
	var removed []string
	if v, ok := h[name]; ok {
		removed = append(removed, v)
		delete(h, name)
	}
	for k, v := range h {
		if strings.EqualFold(k, name) {
			removed = append(removed, v)
			delete(h, k)
		}
	}
	return removed
}

// mergeHeaders overlays src onto dst. Empty names and values are skipped.
func mergeHeaders(dst, src map[string]string) {
	for k, v := range src {
		if k == "" || v == "" {
			continue
		}
		setHeader(dst, k, v)
	}
}

func stripSessionScoped(h map[string]string) {
	for _, name := range sessionScopedExclusions {
		removeHeader(h, name)
	}
}

func copyContext(src map[string]any) map[string]any {
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
