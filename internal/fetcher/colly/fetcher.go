// Package collyfetcher implements crawler.Fetcher using gocolly, with a shared
// courtesy limiter, a bounded retry policy and an on-disk page cache.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/thesis-harvester/internal/crawler"
	"github.com/JakeFAU/thesis-harvester/internal/metrics"
	"github.com/JakeFAU/thesis-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/thesis-harvester/internal/storage/local"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// MaxBodyBytes caps response bodies. Zero keeps colly's default. A body
	// that reaches the cap fails with crawler.ErrBodyTooLarge.
	MaxBodyBytes int
}

// Sleeper pauses between retry attempts.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	maxBodyBytes  int
	limiter       *ratelimit.Limiter
	retry         crawler.RetryPolicy
	sleeper       Sleeper
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// response carries what the collector hooks observed for one request.
type response struct {
	statusCode int
	body       []byte
	err        error
}

// New builds a Fetcher. The limiter is shared state: every request issued through
// this Fetcher waits on it.
func New(cfg Config, limiter *ratelimit.Limiter, retry crawler.RetryPolicy, sleeper Sleeper, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retry == nil {
		retry = crawler.NewFixedRetryPolicy(1, 0)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		maxBodyBytes:  c.MaxBodySize,
		limiter:       limiter,
		retry:         retry,
		sleeper:       sleeper,
		logger:        logger,
	}
}

// Fetch performs a rate-limited GET, retrying per the retry policy. Once the
// policy gives up the last failure is returned as *crawler.NetworkError.
// Cancellation is returned as the context error.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	for attempt := 1; ; attempt++ {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("fetch %s: %w", url, err)
			}
			f.limiter.Record()
		}

		resp, err := f.get(ctx, url)
		if err == nil {
			metrics.ObserveFetch(metrics.OutcomeSuccess)
			return resp.body, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("fetch %s: %w", url, ctxErr)
		}
		metrics.ObserveFetch(metrics.OutcomeError)

		if !f.retry.ShouldRetry(err, attempt) {
			return nil, &crawler.NetworkError{URL: url, Attempts: attempt, StatusCode: resp.statusCode, Err: err}
		}
		backoff := f.retry.Backoff(attempt)
		metrics.ObserveRetry()
		f.logger.Warn("fetch failed; retrying",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Int("status", resp.statusCode),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if err := f.pause(ctx, backoff); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", url, err)
		}
	}
}

// FetchOrCached returns the contents of path when it exists, otherwise fetches url
// and stores the body at path. An empty path disables the cache.
func (f *Fetcher) FetchOrCached(ctx context.Context, url, path string) ([]byte, bool, error) {
	if path != "" {
		// #nosec G304 -- cache paths are derived from the configured cache directory.
		body, err := os.ReadFile(path)
		switch {
		case err == nil:
			metrics.ObserveFetch(metrics.OutcomeCached)
			return body, true, nil
		case !errors.Is(err, os.ErrNotExist):
			f.logger.Warn("unreadable cache entry; refetching", zap.String("path", path), zap.Error(err))
		}
	}

	body, err := f.Fetch(ctx, url)
	if err != nil {
		return nil, false, err
	}
	if path != "" {
		if err := local.WriteBytesAtomic(path, body); err != nil {
			f.logger.Warn("failed to cache page", zap.String("url", url), zap.String("path", path), zap.Error(err))
		}
	}
	return body, false, nil
}

// Download fetches url and writes the body into w. The collector buffers the
// whole response, so nothing reaches w unless the fetch succeeded.
func (f *Fetcher) Download(ctx context.Context, url string, w io.Writer) (int64, error) {
	body, err := f.Fetch(ctx, url)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(body)
	if err != nil {
		return int64(n), fmt.Errorf("write body of %s: %w", url, err)
	}
	return int64(n), nil
}

func (f *Fetcher) get(ctx context.Context, url string) (*response, error) {
	resp := &response{}
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, resp)
	err := f.runCollector(ctx, collector, url, resp)
	return resp, err
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, resp *response) {
	hooks.OnResponse(func(r *colly.Response) {
		resp.statusCode = r.StatusCode
		if f.truncated(r) {
			resp.err = fmt.Errorf("%w: %d byte cap", crawler.ErrBodyTooLarge, f.maxBodyBytes)
			return
		}
		resp.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			resp.statusCode = r.StatusCode
		}
		resp.err = err
	})
}

// truncated reports whether colly's body limit cut r short. colly applies the
// limit silently, so a body that fills the cap or falls short of the declared
// Content-Length is treated as incomplete.
func (f *Fetcher) truncated(r *colly.Response) bool {
	if f.maxBodyBytes > 0 && len(r.Body) >= f.maxBodyBytes {
		return true
	}
	if r.Headers == nil {
		return false
	}
	declared, err := strconv.ParseInt(r.Headers.Get("Content-Length"), 10, 64)
	return err == nil && declared > int64(len(r.Body))
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, resp *response) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if resp.err != nil {
			return fmt.Errorf("colly response failed: %w", resp.err)
		}
		if resp.statusCode < http.StatusOK || resp.statusCode >= http.StatusMultipleChoices {
			return fmt.Errorf("unexpected status %d", resp.statusCode)
		}
		return nil
	}
}

func (f *Fetcher) pause(ctx context.Context, d time.Duration) error {
	if f.sleeper != nil {
		return f.sleeper.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
