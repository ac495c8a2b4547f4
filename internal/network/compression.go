// internal/network/compression.go
package network

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// Pooled decoders. Image downloads run dozens at a time, so reusing the reader
// state keeps allocation flat.
var (
	gzipReaderPool = sync.Pool{
		New: func() interface{} {
			return new(gzip.Reader)
		},
	}

	brotliReaderPool = sync.Pool{
		New: func() interface{} {
			return brotli.NewReader(nil)
		},
	}
)

var emptyReader = strings.NewReader("")

func getGzipReader(r io.Reader) (*gzip.Reader, error) {
	zr := gzipReaderPool.Get().(*gzip.Reader)
	if err := zr.Reset(r); err != nil {
		gzipReaderPool.Put(zr)
		return nil, err
	}
	return zr, nil
}

func putGzipReader(zr *gzip.Reader) {
	if zr == nil {
		return
	}
	// Reset against an empty reader drops the reference to the old body.
	_ = zr.Reset(emptyReader)
	gzipReaderPool.Put(zr)
}

func getBrotliReader(r io.Reader) (*brotli.Reader, error) {
	br := brotliReaderPool.Get().(*brotli.Reader)
	if err := br.Reset(r); err != nil {
		brotliReaderPool.Put(br)
		return nil, err
	}
	return br, nil
}

func putBrotliReader(br *brotli.Reader) {
	if br == nil {
		return
	}
	_ = br.Reset(emptyReader)
	brotliReaderPool.Put(br)
}

// closeWrapper closes the decoder and the original body together, and hands a
// pooled decoder back exactly once.
type closeWrapper struct {
	io.ReadCloser
	originalBody io.ReadCloser
	poolCallback func()
}

func (w *closeWrapper) Close() error {
	err1 := w.ReadCloser.Close()
	err2 := w.originalBody.Close()
	// The decoder must not be touched after it is back in the pool.
	if w.poolCallback != nil {
		w.poolCallback()
		w.poolCallback = nil
	}
	return errors.Join(err1, err2)
}

// contentCoding returns the first Content-Encoding value, lowercased. Only the
// first value decides how the body is read.
func contentCoding(h http.Header) string {
	values := h.Values("Content-Encoding")
	if len(values) == 0 {
		return ""
	}
	first, _, _ := strings.Cut(values[0], ",")
	return strings.ToLower(strings.TrimSpace(first))
}

// decodingBody wraps resp.Body with a decoder selected by the first
// Content-Encoding value. gzip, br and deflate are decoded; anything else,
// including identity, is read raw. On error the caller still owns resp.Body.
func decodingBody(resp *http.Response) (io.ReadCloser, error) {
	body := resp.Body
	switch contentCoding(resp.Header) {
	case "gzip", "x-gzip":
		zr, err := getGzipReader(body)
		if err != nil {
			return nil, fmt.Errorf("gzip initialization error: %w", err)
		}
		return &closeWrapper{ReadCloser: zr, originalBody: body, poolCallback: func() { putGzipReader(zr) }}, nil

	case "br":
		br, err := getBrotliReader(body)
		if err != nil {
			return nil, fmt.Errorf("brotli initialization error: %w", err)
		}
		return &closeWrapper{ReadCloser: io.NopCloser(br), originalBody: body, poolCallback: func() { putBrotliReader(br) }}, nil

	case "deflate":
		fr, err := tryDeflate(body)
		if err != nil {
			return nil, fmt.Errorf("deflate initialization error: %w", err)
		}
		return &closeWrapper{ReadCloser: fr, originalBody: body}, nil

	default:
		return body, nil
	}
}

// resettableReader buffers the head of a stream so a failed zlib probe can be
// replayed as raw deflate.
type resettableReader struct {
	r      io.Reader
	buf    *bytes.Buffer
	source io.Reader
}

func newResettableReader(r io.Reader) *resettableReader {
	buf := bytes.NewBuffer(make([]byte, 0, 128))
	return &resettableReader{
		r:      io.TeeReader(r, buf),
		buf:    buf,
		source: r,
	}
}

func (rr *resettableReader) Read(p []byte) (int, error) {
	return rr.r.Read(p)
}

func (rr *resettableReader) Reset() {
	rr.r = io.MultiReader(bytes.NewReader(rr.buf.Bytes()), rr.source)
}

// Settle stops buffering once the probe succeeded.
func (rr *resettableReader) Settle() {
	rr.r = rr.source
	rr.buf = nil
}

// tryDeflate decodes zlib-wrapped deflate, falling back to a raw stream.
func tryDeflate(r io.Reader) (io.ReadCloser, error) {
	rr := newResettableReader(r)
	zlibReader, err := zlib.NewReader(rr)
	if err == nil {
		rr.Settle()
		return zlibReader, nil
	}
	rr.Reset()
	return flate.NewReader(rr), nil
}
