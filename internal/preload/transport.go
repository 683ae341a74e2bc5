// internal/preload/transport.go
package preload

import (
	"bufio"
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

// Image servers and CDNs in front of them sometimes compress responses even
// for binary content. The decoder needs the raw bytes.

var (
	gzipReaderPool = sync.Pool{
		New: func() interface{} { return new(gzip.Reader) },
	}
	brotliReaderPool = sync.Pool{
		New: func() interface{} { return brotli.NewReader(nil) },
	}
)

var emptyReader = strings.NewReader("")

// decompressingTransport advertises compression support and transparently
// decodes br, gzip and deflate response bodies.
type decompressingTransport struct {
	base http.RoundTripper
}

func newDecompressingTransport(base http.RoundTripper) *decompressingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &decompressingTransport{base: base}
}

// RoundTrip implements http.RoundTripper.
func (t *decompressingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Accept-Encoding", "br, gzip, deflate, identity")
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if err := decompressBody(resp); err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to initialize response decompression: %w", err)
	}
	return resp, nil
}

// layeredBody closes the decoder and the body it wraps, then hands pooled
// decoder state back. The decoder is not touched after release.
type layeredBody struct {
	io.ReadCloser
	inner   io.ReadCloser
	release func()
	closed  bool
}

func (b *layeredBody) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	err := errors.Join(b.ReadCloser.Close(), b.inner.Close())
	if b.release != nil {
		b.release()
		b.release = nil
	}
	return err
}

// decompressBody unwraps every Content-Encoding layer, last applied first.
func decompressBody(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}
	encodings := resp.Header.Values("Content-Encoding")
	if len(encodings) == 0 {
		return nil
	}

	for i := len(encodings) - 1; i >= 0; i-- {
		for _, enc := range splitEncodings(encodings[i]) {
			var (
				reader  io.ReadCloser
				release func()
			)
			switch enc {
			case "gzip", "x-gzip":
				zr := gzipReaderPool.Get().(*gzip.Reader)
				if err := zr.Reset(resp.Body); err != nil {
					gzipReaderPool.Put(zr)
					return fmt.Errorf("gzip initialization error: %w", err)
				}
				reader = zr
				release = func() {
					_ = zr.Reset(emptyReader)
					gzipReaderPool.Put(zr)
				}
			case "br":
				br := brotliReaderPool.Get().(*brotli.Reader)
				if err := br.Reset(resp.Body); err != nil {
					brotliReaderPool.Put(br)
					return fmt.Errorf("brotli initialization error: %w", err)
				}
				reader = io.NopCloser(br)
				release = func() {
					_ = br.Reset(emptyReader)
					brotliReaderPool.Put(br)
				}
			case "deflate":
				r, err := newDeflateReader(resp.Body)
				if err != nil {
					return fmt.Errorf("deflate initialization error: %w", err)
				}
				reader = r
			case "identity", "":
				continue
			default:
				return fmt.Errorf("unsupported Content-Encoding layer: %s", enc)
			}
			resp.Body = &layeredBody{ReadCloser: reader, inner: resp.Body, release: release}
		}
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// splitEncodings splits a single header value such as "gzip, br" and
// returns the layers in decode order.
func splitEncodings(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for i := len(parts) - 1; i >= 0; i-- {
		out = append(out, strings.ToLower(strings.TrimSpace(parts[i])))
	}
	return out
}

// newDeflateReader accepts both zlib wrapped and raw deflate streams, since
// servers disagree on what "deflate" means.
func newDeflateReader(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(2)
	if err == nil && isZlibHeader(head[0], head[1]) {
		return zlib.NewReader(br)
	}
	return flate.NewReader(br), nil
}

func isZlibHeader(cmf, flg byte) bool {
	return cmf&0x0f == 8 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}
