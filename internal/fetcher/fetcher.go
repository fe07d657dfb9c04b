// Package fetcher downloads report and label documents from remote HTTPS URLs.
package fetcher

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/diet-analysis/internal/resilience"
)

const (
	// DefaultMaxBytes caps a single document.
	DefaultMaxBytes int64 = 5 << 20

	// DefaultTimeout bounds one request, body included.
	DefaultTimeout = 10 * time.Second
)

var (
	// ErrInsecureURL is returned for anything but an absolute https URL.
	ErrInsecureURL = eris.New("fetcher: only https urls are allowed")

	// ErrSizeExceeded is returned when a document is larger than the cap.
	ErrSizeExceeded = eris.New("fetcher: document exceeds size limit")
)

// Options configures the HTTP fetcher.
type Options struct {
	UserAgent  string
	Timeout    time.Duration
	MaxBytes   int64
	MaxRetries int

	// RequestsPerSecond limits requests per host. Zero means unlimited.
	RequestsPerSecond float64

	// Client overrides the HTTP client. Timeout still applies per request.
	Client *http.Client

	// Sleep overrides the wait between retries.
	Sleep func(ctx context.Context, d time.Duration) error
}

// HTTPFetcher downloads documents over HTTPS with a size cap, per-host rate
// limiting and retry of transient failures.
type HTTPFetcher struct {
	client *http.Client
	opts   Options

	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
}

// New creates an HTTPFetcher.
func New(opts Options) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 2
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "diet-analysis/1.0"
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Transport: &http.Transport{
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		}}
	}
	return &HTTPFetcher{
		client:   client,
		opts:     opts,
		limiters: make(map[string]*AdaptiveLimiter),
	}
}

// Fetch downloads rawURL into memory and returns a seekable reader over it.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*bytes.Reader, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return nil, eris.Wrapf(ErrInsecureURL, "fetcher: %q", rawURL)
	}

	data, err := resilience.DoVal(ctx, resilience.RetryConfig{
		MaxAttempts:    f.opts.MaxRetries,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2,
		Jitter:         250 * time.Millisecond,
		OnRetry:        resilience.RetryLogger("fetcher", u.Host),
		Sleep:          f.opts.Sleep,
	}, func(ctx context.Context) ([]byte, error) {
		return f.get(ctx, u)
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("fetched remote document",
		zap.String("host", u.Host),
		zap.Int("bytes", len(data)),
	)
	return bytes.NewReader(data), nil
}

// get performs one request. Errors that a retry cannot fix are permanent.
func (f *HTTPFetcher) get(ctx context.Context, u *url.URL) ([]byte, error) {
	if lim := f.limiterFor(u.Host); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, resilience.Permanent(eris.Wrap(err, "fetcher: rate limiter wait"))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, resilience.Permanent(eris.Wrap(err, "fetcher: create request"))
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		if resilience.IsTransient(err) {
			return nil, eris.Wrap(err, "fetcher: request")
		}
		return nil, resilience.Permanent(eris.Wrap(err, "fetcher: request"))
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("fetcher: unexpected status %d from %s", resp.StatusCode, u.Host)
		if resp.StatusCode == http.StatusTooManyRequests {
			if lim := f.limiterFor(u.Host); lim != nil {
				lim.OnRateLimit()
			}
		}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, err
		}
		return nil, resilience.Permanent(err)
	}

	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > f.opts.MaxBytes {
			return nil, resilience.Permanent(eris.Wrapf(ErrSizeExceeded, "fetcher: content-length %d", n))
		}
	}

	// Read one byte past the cap to detect oversized bodies without a length.
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBytes+1))
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: read body")
	}
	if int64(len(data)) > f.opts.MaxBytes {
		return nil, resilience.Permanent(eris.Wrapf(ErrSizeExceeded, "fetcher: more than %d bytes", f.opts.MaxBytes))
	}

	if lim := f.limiterFor(u.Host); lim != nil {
		lim.OnSuccess()
	}
	return data, nil
}

func (f *HTTPFetcher) limiterFor(host string) *AdaptiveLimiter {
	if f.opts.RequestsPerSecond <= 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		burst := max(int(f.opts.RequestsPerSecond), 1)
		lim = NewAdaptiveLimiter(rate.Limit(f.opts.RequestsPerSecond), burst)
		f.limiters[host] = lim
	}
	return lim
}
