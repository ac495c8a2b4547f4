// internal/network/session_test.go
package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_FoldsResponseCookiesAndReferer(t *testing.T) {
	var seenCookie, seenReferer string
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Set-Cookie", "sid=abc; Path=/; HttpOnly")
		w.Header().Add("Set-Cookie", "theme=dark")
	})
	mux.HandleFunc("/next", func(w http.ResponseWriter, r *http.Request) {
		seenCookie = r.Header.Get("Cookie")
		seenReferer = r.Header.Get("Referer")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sess := newTestEngine(t).NewSession()
	first, err := sess.Build(srv.URL + "/login").Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sid=abc; theme=dark", first.Cookie())
	assert.Equal(t, "dark", func() string { v, _ := first.CookieMap().Get("theme"); return v }())

	assert.Equal(t, "sid=abc; theme=dark", sess.Cookie())
	assert.Equal(t, srv.URL+"/login", sess.Referer())

	_, err = sess.Build(srv.URL + "/next").Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sid=abc; theme=dark", seenCookie)
	assert.Equal(t, srv.URL+"/login", seenReferer)
}

func TestSession_ResponseCookieOverridesInPlace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Set-Cookie", "a=fresh")
	}))
	defer srv.Close()

	sess := newTestEngine(t).NewSession().AddCookie("a=stale; b=2")
	_, err := sess.Build(srv.URL).Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a=fresh; b=2", sess.Cookie())
}

func TestSession_HeaderFoldStripsRequestScoped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	sess := newTestEngine(t).NewSession()
	_, err := sess.Build(srv.URL).
		Method(MethodPost).
		Header("X-Trace", "1").
		Header("cookie", "k=v").
		Referer("http://elsewhere.example").
		ContentType("text/plain").
		Execute(context.Background())
	require.NoError(t, err)

	headers := sess.Headers()
	assert.Equal(t, "1", headers["X-Trace"])
	_, hasDefault := getHeader(headers, HeaderUserAgent)
	assert.False(t, hasDefault, "engine defaults stay with the engine")
	for name := range headers {
		for _, banned := range sessionScopedExclusions {
			assert.NotEqualf(t, http.CanonicalHeaderKey(banned), http.CanonicalHeaderKey(name),
				"%s must not be carried by the session", name)
		}
	}
	assert.Equal(t, "k=v", sess.Cookie())
}

func TestSession_SetHeaderIgnoresRequestScoped(t *testing.T) {
	sess := NewEngine(nil, nil).NewSession()
	sess.SetHeader("content-type", "text/plain").SetHeader("X-A", "1")
	assert.Equal(t, map[string]string{"X-A": "1"}, sess.Headers())
}

func TestSession_RequestFlagsFoldBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	sess := newTestEngine(t).NewSession()
	require.False(t, sess.Snapshot().EncodeURL)

	proxyless := sess.Build(srv.URL).EncodeURL(true).Timeout(3 * time.Second).Charset("GBK")
	_, err := proxyless.Execute(context.Background())
	require.NoError(t, err)

	snap := sess.Snapshot()
	assert.True(t, snap.EncodeURL)
	assert.Equal(t, 3*time.Second, snap.Timeout)
	assert.Equal(t, "GBK", snap.Charset)
	assert.True(t, snap.StableRedirect)
	assert.True(t, snap.HandleHTTPS)
}

func TestSession_SnapshotIsolation(t *testing.T) {
	srv := echoServer(t, func(r *http.Request) string { return r.Header.Get("Cookie") })
	sess := newTestEngine(t).NewSession().AddCookie("early=1")

	req := sess.Build(srv.URL)
	sess.AddCookie("late=1")

	resp, err := req.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "early=1", mustText(t, resp), "a built request must not see later session mutation")
	assert.Equal(t, "early=1; late=1", sess.Cookie())
}

func TestSession_LateFoldBackKeepsNewerState(t *testing.T) {
	var refreshes int
	mux := http.NewServeMux()
	mux.HandleFunc("/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshes++
		w.Header().Add("Set-Cookie", fmt.Sprintf("BAIDUID=new%d", refreshes))
	})
	mux.HandleFunc("/image", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, r.Header.Get("Cookie"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sess := newTestEngine(t).NewSession().AddCookie("BAIDUID=old; lang=zh")
	sess.SetHeader("X-Mode", "old")

	// Built before the refresh, executed after it.
	slow := sess.Build(srv.URL + "/image").Cookie("seen=1")
	_, err := sess.Build(srv.URL + "/refresh").Execute(context.Background())
	require.NoError(t, err)
	sess.SetHeader("X-Mode", "new")
	require.Equal(t, "BAIDUID=new1; lang=zh", sess.Cookie())

	resp, err := slow.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "BAIDUID=old; lang=zh; seen=1", mustText(t, resp), "the request still runs with its snapshot")

	assert.Equal(t, "BAIDUID=new1; lang=zh; seen=1", sess.Cookie(), "only the call's own cookie is folded back")
	assert.Equal(t, "new", sess.Headers()["X-Mode"])
}

func TestSession_ConcurrentFoldBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Set-Cookie", r.URL.Query().Get("c")+"=v")
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	sess := newTestEngine(t).NewSession()
	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := sess.Build(srv.URL).Param("c", fmt.Sprintf("k%d", i)).Execute(context.Background())
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	cookies := sess.Cookies()
	assert.Equal(t, workers, cookies.Len())
	for i := 0; i < workers; i++ {
		v, ok := cookies.Get(fmt.Sprintf("k%d", i))
		assert.True(t, ok)
		assert.Equal(t, "v", v)
	}
}

func TestSession_SetCharsetRejectsUnknown(t *testing.T) {
	sess := NewEngine(nil, nil).NewSession()
	sess.SetCharset("klingon")
	assert.Equal(t, DefaultCharset, sess.Charset())
	sess.SetCharset("GBK")
	assert.Equal(t, "GBK", sess.Charset())
}

func TestSession_ProxyCopy(t *testing.T) {
	sess := NewEngine(nil, nil).NewSession()
	assert.Nil(t, sess.Proxy())

	sess.SetProxy(NewProxy("10.0.0.1", 8080))
	p := sess.Proxy()
	require.NotNil(t, p)
	p.Host = "mutated"
	assert.Equal(t, "10.0.0.1", sess.Proxy().Host)
}
