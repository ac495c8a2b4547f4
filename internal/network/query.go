// internal/network/query.go
package network

import (
	"strings"
)

// Param is one query or form parameter. Params keep their insertion order on the wire.
type Param struct {
	Key   string
	Value string
}

// reservedRestorer undoes the escaping of the characters servers expect to see
// literally inside an already-formed query.
var reservedRestorer = strings.NewReplacer(
	"%3F", "?",
	"%2F", "/",
	"%3A", ":",
	"%3D", "=",
	"%26", "&",
	"%23", "#",
)

// assembleURL applies the GET query rules to site:
//   - a missing http/https prefix becomes "http://"
//   - with encode set, an existing query is form-encoded in charsetName, then the
//     reserved delimiters are restored
//   - for GET, params are appended after "&" or "?" as appropriate
func assembleURL(site, method string, params []Param, encode bool, charsetName string) string {
	if !strings.HasPrefix(strings.ToLower(site), "http") {
		site = "http://" + site
	}
	if encode {
		if i := strings.Index(site, "?"); i > -1 {
			query := reservedRestorer.Replace(urlEncode(site[i:], charsetName))
			site = site[:i] + query
		}
	}
	if method == MethodGet && len(params) > 0 {
		cs := ""
		if encode {
			cs = charsetName
		}
		query := encodeParams(params, cs)
		if strings.Contains(site, "?") {
			site += "&" + query
		} else {
			site += "?" + query
		}
	}
	return site
}

// encodeParams renders params as k=v pairs joined by "&". An empty charset inserts
// keys and values literally.
func encodeParams(params []Param, charsetName string) string {
	var b strings.Builder
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		if charsetName == "" {
			b.WriteString(p.Key)
			b.WriteByte('=')
			b.WriteString(p.Value)
			continue
		}
		b.WriteString(urlEncode(p.Key, charsetName))
		b.WriteByte('=')
		b.WriteString(urlEncode(p.Value, charsetName))
	}
	return b.String()
}
