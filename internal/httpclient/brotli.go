package httpclient

import (
	"io"
	"net/http"

	"github.com/andybalholm/brotli"
)

// BrotliDecodingTransport wraps a RoundTripper and transparently
// decodes bodies sent with Content-Encoding: br. Some endpoints polled
// by the Channel Watcher serve brotli-compressed JSON regardless of
// whether the request advertised support for it; net/http only
// auto-decodes gzip, so brotli needs this explicit wrapper.
type BrotliDecodingTransport struct {
	Base http.RoundTripper
}

func (t *BrotliDecodingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Accept-Encoding", "br, gzip")
	}
	resp, err := base.RoundTrip(req)
	if err != nil || resp == nil {
		return resp, err
	}
	if resp.Header.Get("Content-Encoding") != "br" {
		return resp, nil
	}
	resp.Body = &brotliReadCloser{br: brotli.NewReader(resp.Body), underlying: resp.Body}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	return resp, nil
}

type brotliReadCloser struct {
	br         io.Reader
	underlying io.ReadCloser
}

func (r *brotliReadCloser) Read(p []byte) (int, error) { return r.br.Read(p) }
func (r *brotliReadCloser) Close() error                { return r.underlying.Close() }

// ForPolling returns a client tuned for JSON polling endpoints (bounded
// overall timeout, brotli-aware) used by the Channel Watcher's poll()
// and the Room Watcher's room-info fetch.
func ForPolling() *http.Client {
	base := Default()
	base.Transport = &BrotliDecodingTransport{Base: base.Transport}
	return base
}
