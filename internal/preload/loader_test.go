// internal/preload/loader_test.go
package preload

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/thumbor-attrs/internal/config"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testConfig() config.PreloadConfig {
	return config.PreloadConfig{
		Enabled:     true,
		Concurrency: 2,
		Timeout:     5 * time.Second,
		MaxBytes:    1 << 20,
		UserAgent:   "thumbor-attrs-test",
	}
}

func newTestLoader(t *testing.T, srv *httptest.Server) *HTTPLoader {
	t.Helper()
	return NewHTTPLoader(testConfig(), srv.Client(), zaptest.NewLogger(t))
}

func TestHTTPLoader_Load(t *testing.T) {
	img := pngBytes(t, 30, 20)

	mux := http.NewServeMux()
	mux.HandleFunc("/plain.png", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "thumbor-attrs-test", r.UserAgent())
		_, _ = w.Write(img)
	})
	mux.HandleFunc("/gzip.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		_, _ = zw.Write(img)
		_ = zw.Close()
	})
	mux.HandleFunc("/br.png", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept-Encoding"), "br")
		w.Header().Set("Content-Encoding", "br")
		bw := brotli.NewWriter(w)
		_, _ = bw.Write(img)
		_ = bw.Close()
	})
	mux.HandleFunc("/deflate.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "deflate")
		zw := zlib.NewWriter(w)
		_, _ = zw.Write(img)
		_ = zw.Close()
	})
	mux.HandleFunc("/missing.png", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/garbage.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not an image</html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	loader := newTestLoader(t, srv)
	ctx := context.Background()

	for _, path := range []string{"/plain.png", "/gzip.png", "/br.png", "/deflate.png"} {
		t.Run(path, func(t *testing.T) {
			res := loader.Load(ctx, srv.URL+path)
			require.NoError(t, res.Err)
			assert.True(t, res.OK())
			assert.Equal(t, 30, res.Width)
			assert.Equal(t, 20, res.Height)
			assert.Equal(t, "png", res.Format)
		})
	}

	t.Run("non 2xx status fails", func(t *testing.T) {
		res := loader.Load(ctx, srv.URL+"/missing.png")
		assert.ErrorIs(t, res.Err, ErrStatus)
		assert.False(t, res.OK())
	})

	t.Run("undecodable body fails", func(t *testing.T) {
		res := loader.Load(ctx, srv.URL+"/garbage.png")
		assert.ErrorIs(t, res.Err, image.ErrFormat)
	})
}

func TestHTTPLoader_Start(t *testing.T) {
	img := pngBytes(t, 4, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(img)
	}))
	defer srv.Close()

	ch := newTestLoader(t, srv).Start(context.Background(), srv.URL+"/a.png")
	res, ok := <-ch
	require.True(t, ok)
	assert.NoError(t, res.Err)
	assert.Equal(t, srv.URL+"/a.png", res.URL)

	_, ok = <-ch
	assert.False(t, ok, "the channel is closed after the single result")
}

func TestHTTPLoader_BoundedConcurrency(t *testing.T) {
	img := pngBytes(t, 2, 2)
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		_, _ = w.Write(img)
	}))
	defer srv.Close()

	loader := newTestLoader(t, srv)
	var chans []<-chan Result
	for i := 0; i < 6; i++ {
		chans = append(chans, loader.Start(context.Background(), srv.URL))
	}
	for _, ch := range chans {
		assert.NoError(t, (<-ch).Err)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestHTTPLoader_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not be sent")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := newTestLoader(t, srv).Load(ctx, srv.URL)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestSplitEncodings(t *testing.T) {
	assert.Equal(t, []string{"br", "gzip"}, splitEncodings("gzip, BR"))
	assert.True(t, isZlibHeader(0x78, 0x9c))
	assert.False(t, isZlibHeader(0x1f, 0x8b))
}

type recordingCloser struct {
	name  string
	calls *[]string
}

func (r recordingCloser) Read([]byte) (int, error) { return 0, io.EOF }

func (r recordingCloser) Close() error {
	*r.calls = append(*r.calls, r.name)
	return nil
}

func TestLayeredBody_ReleasesAfterClose(t *testing.T) {
	var calls []string
	body := &layeredBody{
		ReadCloser: recordingCloser{name: "decoder", calls: &calls},
		inner:      recordingCloser{name: "inner", calls: &calls},
		release:    func() { calls = append(calls, "release") },
	}

	require.NoError(t, body.Close())
	assert.Equal(t, []string{"decoder", "inner", "release"}, calls)

	// -- a second close must not reach the pooled decoder again --
	require.NoError(t, body.Close())
	assert.Equal(t, []string{"decoder", "inner", "release"}, calls)
}
