// internal/network/cookie.go
package network

import (
	"strings"
)

// cookieSeparator joins name=value pairs in a Cookie header.
const cookieSeparator = "; "

// CookieSet is an insertion-ordered set of cookies keyed by name. A later value for
// an existing name replaces the value in place; the name keeps its first-seen slot.
// The zero value is ready to use. It is not safe for concurrent use on its own;
// Session guards its instance.
type CookieSet struct {
	names  []string
	values map[string]string
}

// ParseCookies cards a raw cookie string into a new set.
func ParseCookies(raw string) *CookieSet {
	cs := &CookieSet{}
	cs.Merge(raw)
	return cs
}

// Merge folds a "; " separated cookie string into the set. Pairs without "=" are
// dropped. Only the first "=" splits name from value.
func (cs *CookieSet) Merge(raw string) {
	if raw == "" {
		return
	}
	for _, pair := range strings.Split(raw, cookieSeparator) {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		cs.Set(name, value)
	}
}

// Set records a single cookie.
func (cs *CookieSet) Set(name, value string) {
	if cs.values == nil {
		cs.values = make(map[string]string)
	}
	if _, exists := cs.values[name]; !exists {
		cs.names = append(cs.names, name)
	}
	cs.values[name] = value
}

// Get returns the value for name.
func (cs *CookieSet) Get(name string) (string, bool) {
	if cs == nil || cs.values == nil {
		return "", false
	}
	v, ok := cs.values[name]
	return v, ok
}

// Len is the number of distinct names.
func (cs *CookieSet) Len() int {
	if cs == nil {
		return 0
	}
	return len(cs.names)
}

// Names returns the cookie names in first-seen order.
func (cs *CookieSet) Names() []string {
	if cs == nil {
		return nil
	}
	out := make([]string, len(cs.names))
	copy(out, cs.names)
	return out
}

// Clone returns an independent copy.
func (cs *CookieSet) Clone() *CookieSet {
	out := &CookieSet{}
	if cs == nil {
		return out
	}
	for _, name := range cs.names {
		out.Set(name, cs.values[name])
	}
	return out
}

// String serializes the set back to header form.
func (cs *CookieSet) String() string {
	if cs == nil || len(cs.names) == 0 {
		return ""
	}
	var b strings.Builder
	for i, name := range cs.names {
		if i > 0 {
			b.WriteString(cookieSeparator)
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(cs.values[name])
	}
	return b.String()
}

// CardCookies deduplicates a cookie string by name. The latest value wins and the
// first-seen order is kept, so "a=1; b=2; a=3" becomes "a=3; b=2".
func CardCookies(raw string) string {
	return ParseCookies(raw).String()
}

// joinCookies concatenates two cookie strings, skipping empty sides.
func joinCookies(first, second string) string {
	switch {
	case first == "":
		return second
	case second == "":
		return first
	default:
		return first + cookieSeparator + second
	}
}

// flattenSetCookie keeps only the name=value segment of each Set-Cookie value.
func flattenSetCookie(values []string) string {
	pairs := make([]string, 0, len(values))
	for _, v := range values {
		pair, _, _ := strings.Cut(v, ";")
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		pairs = append(pairs, pair)
	}
	return strings.Join(pairs, cookieSeparator)
}
