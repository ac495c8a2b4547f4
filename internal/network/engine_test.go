// internal/network/engine_test.go
package network

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// -- Test Helpers --

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(NewDefaults(), zaptest.NewLogger(t))
}

// echoServer reflects interesting request details back in the response body.
func echoServer(t *testing.T, field func(r *http.Request) string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, field(r))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func mustText(t *testing.T, resp *Response) string {
	t.Helper()
	text, err := resp.Text()
	require.NoError(t, err)
	return text
}

// -- Redirects --

func TestExecute_RedirectCap(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		http.Redirect(w, r, fmt.Sprintf("/hop/%d", n), http.StatusFound)
	}))
	defer srv.Close()

	resp, err := newTestEngine(t).NewSession().Build(srv.URL).Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(MaxRedirects), hits.Load(), "exactly eight requests must be issued")
	assert.Equal(t, http.StatusFound, resp.StatusCode(), "the last redirect response is returned verbatim")
	require.Len(t, resp.Redirects(), MaxRedirects)
	assert.Equal(t, srv.URL+"/hop/8", resp.Redirects()[MaxRedirects-1])
	assert.Equal(t, srv.URL+"/hop/7", resp.URL())
}

func TestExecute_FollowsRelativeRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/middle")
		w.WriteHeader(http.StatusMovedPermanently)
	})
	mux.HandleFunc("/middle", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusSeeOther)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "done")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := newTestEngine(t).Build(srv.URL + "/start").Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, "done", mustText(t, resp))
	assert.Equal(t, srv.URL+"/final", resp.URL())
	if diff := cmp.Diff([]string{srv.URL + "/middle", srv.URL + "/final"}, resp.Redirects()); diff != "" {
		t.Errorf("redirect chain mismatch (-want +got):\n%s", diff)
	}
}

func TestExecute_TemporaryRedirectNotTracked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/moved" {
			_, _ = io.WriteString(w, "moved")
			return
		}
		http.Redirect(w, r, "/moved", http.StatusTemporaryRedirect)
	}))
	defer srv.Close()

	resp, err := newTestEngine(t).Build(srv.URL).Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode())
	assert.Empty(t, resp.Redirects())
}

func TestExecute_TransportFollowsWhenNotStable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/b" {
			_, _ = io.WriteString(w, "landed")
			return
		}
		http.Redirect(w, r, "/b", http.StatusFound)
	}))
	defer srv.Close()

	resp, err := newTestEngine(t).Build(srv.URL + "/a").StableRedirect(false).Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, "landed", mustText(t, resp))
	assert.Equal(t, srv.URL+"/b", resp.URL())
	assert.Empty(t, resp.Redirects(), "transport-handled redirects are not tracked")
}

// -- Headers and Cookies --

func TestExecute_DefaultHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	_, err := newTestEngine(t).Build(srv.URL).Header("accept-language", "en-US").Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, DefaultAccept, got.Get("Accept"))
	assert.Equal(t, DefaultUserAgent, got.Get("User-Agent"))
	assert.Equal(t, DefaultAcceptEncoding, got.Get("Accept-Encoding"))
	assert.Equal(t, []string{"en-US"}, got.Values("Accept-Language"), "request value wins without duplicating the header")
}

func TestExecute_CookieConsolidation(t *testing.T) {
	srv := echoServer(t, func(r *http.Request) string {
		return strings.Join(r.Header.Values("Cookie"), "|")
	})
	sess := newTestEngine(t).NewSession().AddCookie("a=1; b=2")

	resp, err := sess.Build(srv.URL).
		Header("Cookie", "a=0; c=3").
		Cookie("b=9").
		Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "a=1; c=3; b=9", mustText(t, resp))
}

func TestExecute_NoCookieHeaderWhenEmpty(t *testing.T) {
	srv := echoServer(t, func(r *http.Request) string {
		_, present := r.Header["Cookie"]
		return fmt.Sprint(present)
	})
	resp, err := newTestEngine(t).Build(srv.URL).Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "false", mustText(t, resp))
}

// -- Request Bodies --

func TestExecute_PostBodies(t *testing.T) {
	type seen struct {
		contentType string
		body        string
	}
	var last atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		last.Store(seen{r.Header.Get("Content-Type"), string(body)})
	}))
	defer srv.Close()
	eng := newTestEngine(t)

	tests := []struct {
		name     string
		build    func() *Request
		wantType string
		wantBody string
	}{
		{
			name: "form by default",
			build: func() *Request {
				return eng.Build(srv.URL).Method(MethodPost).Param("name", "张三").Param("q", "a b")
			},
			wantType: "application/x-www-form-urlencoded; charset=UTF-8",
			wantBody: "name=%E5%BC%A0%E4%B8%89&q=a+b",
		},
		{
			name: "form in GBK",
			build: func() *Request {
				return eng.Build(srv.URL).Method(MethodPost).Charset("GBK").Param("name", "张三")
			},
			wantType: "application/x-www-form-urlencoded; charset=GBK",
			wantBody: "name=%D5%C5%C8%FD",
		},
		{
			name: "json text selects json",
			build: func() *Request {
				return eng.Build(srv.URL).Method(MethodPut).JSON(`{"a":1}`)
			},
			wantType: "application/json; charset=UTF-8",
			wantBody: `{"a":1}`,
		},
		{
			name: "json content type without json text sends nothing",
			build: func() *Request {
				return eng.Build(srv.URL).Method(MethodPost).ContentType("application/json").Param("a", "1")
			},
			wantType: "application/json; charset=UTF-8",
			wantBody: "",
		},
		{
			name: "caller content type gains charset",
			build: func() *Request {
				return eng.Build(srv.URL).Method(MethodPost).Header("content-type", "text/plain").Param("a", "1")
			},
			wantType: "text/plain; charset=UTF-8",
			wantBody: "a=1",
		},
		{
			name: "caller charset kept",
			build: func() *Request {
				return eng.Build(srv.URL).Method(MethodPost).ContentType("text/plain; charset=ascii").Param("a", "1")
			},
			wantType: "text/plain; charset=ascii",
			wantBody: "a=1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build().Execute(context.Background())
			require.NoError(t, err)
			got := last.Load().(seen)
			assert.Equal(t, tt.wantType, got.contentType)
			assert.Equal(t, tt.wantBody, got.body)
		})
	}
}

func TestExecute_GetParamsAndEncoding(t *testing.T) {
	srv := echoServer(t, func(r *http.Request) string { return r.URL.RawQuery })

	resp, err := newTestEngine(t).Build(srv.URL + "/s?word=唐嫣&pn=0").
		EncodeURL(true).
		Param("rn", "10").
		Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "word=%E5%94%90%E5%AB%A3&pn=0&rn=10", mustText(t, resp))
}

func TestExecute_DefaultScheme(t *testing.T) {
	srv := echoServer(t, func(r *http.Request) string { return r.URL.Path })
	resp, err := newTestEngine(t).Build(strings.TrimPrefix(srv.URL, "http://") + "/bare").Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/bare", mustText(t, resp))
}

// -- Response Decoding --

func TestExecute_GzipRoundTrip(t *testing.T) {
	const plain = "the quick brown fox jumps over the lazy dog"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "GZIP")
		zw := gzip.NewWriter(w)
		_, _ = io.WriteString(zw, plain)
		_ = zw.Close()
	}))
	defer srv.Close()

	resp, err := newTestEngine(t).Build(srv.URL).Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, plain, string(resp.Body()))
}

func TestExecute_BrotliBody(t *testing.T) {
	const plain = "brotli payload"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "br")
		bw := brotli.NewWriter(w)
		_, _ = io.WriteString(bw, plain)
		_ = bw.Close()
	}))
	defer srv.Close()

	resp, err := newTestEngine(t).Build(srv.URL).Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, plain, string(resp.Body()))
}

func TestExecute_UnknownEncodingReadRaw(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "identity")
		_, _ = io.WriteString(w, "raw")
	}))
	defer srv.Close()

	resp, err := newTestEngine(t).Build(srv.URL).Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "raw", string(resp.Body()))
}

func TestExecute_CorruptGzipIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = io.WriteString(w, "definitely not gzip")
	}))
	defer srv.Close()

	_, err := newTestEngine(t).Build(srv.URL).Execute(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProtocol))
}

func TestExecute_ErrorStatusBodyIsRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	}))
	defer srv.Close()

	resp, err := newTestEngine(t).Build(srv.URL).Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode())
	assert.Equal(t, "missing\n", mustText(t, resp))
}

func TestExecute_CharsetDecoding(t *testing.T) {
	gbk, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("你好"))
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=GBK")
		_, _ = w.Write(gbk)
	}))
	defer srv.Close()
	eng := newTestEngine(t)

	resp, err := eng.Build(srv.URL).Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "GBK", resp.Charset())
	assert.Equal(t, "你好", resp.BodyString())

	_, err = resp.TextAs("klingon")
	assert.True(t, errors.Is(err, ErrEncoding))

	overridden, err := eng.Build(srv.URL).ResponseCharset("UTF-8").Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "UTF-8", overridden.Charset())
	assert.Equal(t, "GBK", overridden.DetectedCharset())

	ignored, err := eng.Build(srv.URL).ResponseCharset("klingon").Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "GBK", ignored.Charset(), "unsupported override falls back to detection")
}

func TestExecute_ContextPassThrough(t *testing.T) {
	srv := echoServer(t, func(r *http.Request) string { return "" })
	sess := newTestEngine(t).NewSession().SetContextValue("keyword", "cats")

	resp, err := sess.Build(srv.URL).ContextValue("page", 3).Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"keyword": "cats", "page": 3}, resp.Context())
	assert.Equal(t, 3, sess.Context()["page"])
}

// -- Failures --

func TestExecute_ConfigurationErrors(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.Build("").Execute(context.Background())
	assert.True(t, errors.Is(err, ErrConfiguration))

	_, err = eng.Build("http://").Execute(context.Background())
	assert.True(t, errors.Is(err, ErrConfiguration))

	_, err = eng.Build("http://example.com").Method("PATCH").Execute(context.Background())
	assert.True(t, errors.Is(err, ErrConfiguration))

	_, err = eng.Build("http://example.com").Proxy(Proxy{Host: "proxy", Port: 0}).Execute(context.Background())
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestExecute_TransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	_, err := newTestEngine(t).Build(addr).Execute(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, addr, te.URL)
}

func TestExecute_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := newTestEngine(t).Build(srv.URL).Timeout(50 * time.Millisecond).Execute(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))
}

func TestExecute_ContextCancelled(t *testing.T) {
	srv := echoServer(t, func(r *http.Request) string { return "ok" })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestEngine(t).Build(srv.URL).Execute(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

// -- Engine Construction --

func TestNewEngine_Defaults(t *testing.T) {
	eng := NewEngine(nil, nil)
	assert.Nil(t, eng.limiter)
	assert.Equal(t, MaxRedirects, eng.defaults.MaxRedirects)
	assert.Equal(t, DefaultHeaders(), eng.defaults.Headers)

	custom := NewDefaults()
	custom.RateLimit = 50
	custom.Headers = map[string]string{"X-Only": "1"}
	paced := NewEngine(custom, nil)
	require.NotNil(t, paced.limiter)
	assert.Equal(t, map[string]string{"X-Only": "1"}, paced.defaults.Headers)

	custom.Headers["X-Only"] = "2"
	assert.Equal(t, "1", paced.defaults.Headers["X-Only"], "engine must not alias caller defaults")
}

func TestExecute_RateLimitedHopsStillComplete(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Redirect(w, r, "/next", http.StatusFound)
			return
		}
		_, _ = w.Write(bytes.Repeat([]byte("x"), 4))
	}))
	defer srv.Close()

	d := NewDefaults()
	d.RateLimit = 100
	d.Burst = 1
	resp, err := NewEngine(d, zaptest.NewLogger(t)).Build(srv.URL).Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "xxxx", string(resp.Body()))
	assert.Equal(t, int32(2), hits.Load())
}
