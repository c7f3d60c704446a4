// Package fetch performs HTTP GETs with a per-attempt timeout and linear backoff.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultBaseDelay = time.Second
)

// StatusError is a non-2xx response.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, http.StatusText(e.Code))
}

// NetworkError is returned once every attempt has failed. It unwraps to the
// last attempt's error.
type NetworkError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("failed to fetch after %d attempts: %v", e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Observer is told about every attempt. ok is false for failed attempts.
type Observer func(url string, attempt int, ok bool)

// Fetcher issues GET requests with retries.
type Fetcher struct {
	client    *http.Client
	clock     clockwork.Clock
	timeout   time.Duration
	baseDelay time.Duration
	observe   Observer
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets the HTTP client used for requests.
func WithClient(c *http.Client) Option { return func(f *Fetcher) { f.client = c } }

// WithClock sets the clock used for backoff waits.
func WithClock(c clockwork.Clock) Option { return func(f *Fetcher) { f.clock = c } }

// WithTimeout bounds each individual attempt.
func WithTimeout(d time.Duration) Option { return func(f *Fetcher) { f.timeout = d } }

// WithBaseDelay sets the backoff base; attempt n waits base*n before retrying.
func WithBaseDelay(d time.Duration) Option { return func(f *Fetcher) { f.baseDelay = d } }

// WithObserver registers a per-attempt callback.
func WithObserver(o Observer) Option { return func(f *Fetcher) { f.observe = o } }

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:    http.DefaultClient,
		clock:     clockwork.NewRealClock(),
		timeout:   defaultTimeout,
		baseDelay: defaultBaseDelay,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch GETs url, retrying up to maxAttempts times. On success the caller owns
// the response body. The body is never parsed here.
func (f *Fetcher) Fetch(ctx context.Context, url string, maxAttempts int) (*http.Response, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := f.attempt(ctx, url)
		if f.observe != nil {
			f.observe(url, attempt, err == nil)
		}
		if err == nil {
			return resp, nil
		}
		lastErr = err

		log.Warn().
			Err(err).
			Str("url", url).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Msg("fetch attempt failed")

		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, &NetworkError{URL: url, Attempts: attempt, Err: ctx.Err()}
		case <-f.clock.After(f.baseDelay * time.Duration(attempt)):
		}
	}

	return nil, &NetworkError{URL: url, Attempts: maxAttempts, Err: lastErr}
}

func (f *Fetcher) attempt(ctx context.Context, url string) (*http.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		cancel()
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	// The timeout keeps covering the body read; release it when the caller closes.
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
