// internal/network/query_test.go
package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssembleURL(t *testing.T) {
	tests := []struct {
		name   string
		site   string
		method string
		params []Param
		encode bool
		want   string
	}{
		{
			name:   "scheme defaults to http",
			site:   "example.com/path",
			method: MethodGet,
			want:   "http://example.com/path",
		},
		{
			name:   "https kept",
			site:   "https://example.com",
			method: MethodGet,
			want:   "https://example.com",
		},
		{
			name:   "params appended with question mark",
			site:   "http://example.com/s",
			method: MethodGet,
			params: []Param{{"a", "1"}, {"b", "2"}},
			want:   "http://example.com/s?a=1&b=2",
		},
		{
			name:   "params appended with ampersand",
			site:   "http://example.com/s?x=0",
			method: MethodGet,
			params: []Param{{"a", "1"}},
			want:   "http://example.com/s?x=0&a=1",
		},
		{
			name:   "params encoded when enabled",
			site:   "http://example.com/s",
			method: MethodGet,
			params: []Param{{"q", "a b"}, {"w", "唐"}},
			encode: true,
			want:   "http://example.com/s?q=a+b&w=%E5%94%90",
		},
		{
			name:   "existing query encoded with reserved characters restored",
			site:   "http://example.com/s?word=唐嫣&next=/a:b#frag",
			method: MethodGet,
			encode: true,
			want:   "http://example.com/s?word=%E5%94%90%E5%AB%A3&next=/a:b#frag",
		},
		{
			name:   "post params stay out of the URL",
			site:   "http://example.com/s",
			method: MethodPost,
			params: []Param{{"a", "1"}},
			want:   "http://example.com/s",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, assembleURL(tt.site, tt.method, tt.params, tt.encode, DefaultCharset))
		})
	}
}

// TestAssembleURL_ReservedCharactersStable runs assembly twice over a query that
// only contains reserved delimiters; the second pass must not escape them.
func TestAssembleURL_ReservedCharactersStable(t *testing.T) {
	site := "http://example.com/p?a=1&b=/x:y?z=2#top"
	once := assembleURL(site, MethodGet, nil, true, DefaultCharset)
	twice := assembleURL(once, MethodGet, nil, true, DefaultCharset)

	assert.Equal(t, site, once)
	assert.Equal(t, once, twice)
}

func TestEncodeParams(t *testing.T) {
	params := []Param{{"name", "张三"}, {"q", "a b"}}
	assert.Equal(t, "name=张三&q=a b", encodeParams(params, ""))
	assert.Equal(t, "name=%E5%BC%A0%E4%B8%89&q=a+b", encodeParams(params, "UTF-8"))
	assert.Equal(t, "name=%D5%C5%C8%FD&q=a+b", encodeParams(params, "GBK"))
	assert.Equal(t, "", encodeParams(nil, "UTF-8"))
}
