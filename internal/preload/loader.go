// internal/preload/loader.go
package preload

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	_ "golang.org/x/image/webp" // register WebP decoder
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/thumbor-attrs/internal/config"
)

// ErrStatus is returned when the image server answers with a non 2xx status.
var ErrStatus = errors.New("unexpected status")

// Result is the outcome of loading one image.
type Result struct {
	URL    string
	Width  int
	Height int
	Format string
	Err    error
}

// OK reports whether the image loaded.
func (r Result) OK() bool { return r.Err == nil }

// Loader fetches final image URLs ahead of the swap. Start returns at once;
// the channel receives exactly one Result and is then closed.
type Loader interface {
	Start(ctx context.Context, url string) <-chan Result
}

// HTTPLoader loads images over HTTP and verifies that the body decodes as an
// image. Loads are bounded by a semaphore and a token bucket.
type HTTPLoader struct {
	client    *http.Client
	sem       *semaphore.Weighted
	limiter   *rate.Limiter
	maxBytes  int64
	userAgent string
	logger    *zap.Logger
}

// NewHTTPLoader builds a loader from cfg. A nil client uses a default
// client with cfg.Timeout.
func NewHTTPLoader(cfg config.PreloadConfig, client *http.Client, logger *zap.Logger) *HTTPLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	// Wrap a copy so callers keep their own client untouched.
	wrapped := *client
	wrapped.Transport = newDecompressingTransport(client.Transport)

	concurrency := int64(cfg.Concurrency)
	if concurrency <= 0 {
		concurrency = 1
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &HTTPLoader{
		client:    &wrapped,
		sem:       semaphore.NewWeighted(concurrency),
		limiter:   rate.NewLimiter(limit, burst),
		maxBytes:  cfg.MaxBytes,
		userAgent: cfg.UserAgent,
		logger:    logger.Named("preload"),
	}
}

// Start implements Loader.
func (l *HTTPLoader) Start(ctx context.Context, url string) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		out <- l.Load(ctx, url)
	}()
	return out
}

// Load fetches url synchronously.
func (l *HTTPLoader) Load(ctx context.Context, url string) Result {
	res := Result{URL: url}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		res.Err = fmt.Errorf("waiting for preload slot: %w", err)
		return res
	}
	defer l.sem.Release(1)

	if err := l.limiter.Wait(ctx); err != nil {
		res.Err = fmt.Errorf("waiting for rate limiter: %w", err)
		return res
	}

	start := time.Now()
	res.Width, res.Height, res.Format, res.Err = l.fetch(ctx, url)
	if res.Err != nil {
		l.logger.Debug("Image preload failed", zap.String("url", url), zap.Error(res.Err))
		return res
	}
	l.logger.Debug("Image preloaded",
		zap.String("url", url),
		zap.String("format", res.Format),
		zap.Int("width", res.Width),
		zap.Int("height", res.Height),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res
}

func (l *HTTPLoader) fetch(ctx context.Context, url string) (int, int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, 0, "", fmt.Errorf("building request: %w", err)
	}
	if l.userAgent != "" {
		req.Header.Set("User-Agent", l.userAgent)
	}
	req.Header.Set("Accept", "image/webp,image/png,image/jpeg,image/gif,*/*;q=0.8")

	resp, err := l.client.Do(req)
	if err != nil {
		return 0, 0, "", fmt.Errorf("fetching image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, 0, "", fmt.Errorf("%w: %s", ErrStatus, resp.Status)
	}

	var body io.Reader = resp.Body
	if l.maxBytes > 0 {
		body = io.LimitReader(body, l.maxBytes)
	}
	cfg, format, err := image.DecodeConfig(body)
	if err != nil {
		return 0, 0, "", fmt.Errorf("decoding image header: %w", err)
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, body)
	return cfg.Width, cfg.Height, format, nil
}
