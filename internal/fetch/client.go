// Package fetch downloads every page of a scheme's submissions from the
// Find a Grant open-data API and merges them into one document.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"grantcsv/internal/config"
	grerrors "grantcsv/internal/errors"
	"grantcsv/internal/flatten"
	"grantcsv/internal/version"
)

// MaxBodySize caps a single page response.
const MaxBodySize = 64 << 20

// snippetLen is how much of an unparseable body ends up in the error.
const snippetLen = 300

// Options tunes the client. Zero values are replaced by the defaults of
// config.DefaultConfig.
type Options struct {
	MaxConcurrency  int
	Timeout         time.Duration
	MaxAttempts     int
	BackoffBase     time.Duration
	BackoffCap      time.Duration
	RequestInterval time.Duration
	PageParam       string
	UserAgent       string
}

// OptionsFromConfig converts the fetch and api config sections.
func OptionsFromConfig(cfg *config.Config) Options {
	ua := cfg.API.UserAgent
	if ua == "" || ua == "grantcsv" {
		ua = version.UserAgent()
	}
	return Options{
		MaxConcurrency:  cfg.Fetch.MaxConcurrency,
		Timeout:         time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
		MaxAttempts:     cfg.Fetch.MaxAttempts,
		BackoffBase:     time.Duration(cfg.Fetch.BackoffBaseMs) * time.Millisecond,
		BackoffCap:      time.Duration(cfg.Fetch.BackoffCapMs) * time.Millisecond,
		RequestInterval: time.Duration(cfg.Fetch.RequestIntervalMs) * time.Millisecond,
		PageParam:       cfg.API.PageParam,
		UserAgent:       ua,
	}
}

func (o Options) withDefaults() Options {
	d := OptionsFromConfig(config.DefaultConfig())
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = d.MaxConcurrency
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = d.BackoffBase
	}
	if o.BackoffCap < o.BackoffBase {
		o.BackoffCap = o.BackoffBase
	}
	if o.PageParam == "" {
		o.PageParam = d.PageParam
	}
	if o.UserAgent == "" {
		o.UserAgent = d.UserAgent
	}
	return o
}

// PageCache stores raw page bodies by URL.
type PageCache interface {
	Get(ctx context.Context, url string) ([]byte, bool, error)
	Put(ctx context.Context, url string, body []byte) error
}

// Observer receives one call per HTTP attempt and per retry.
type Observer interface {
	// ObserveRequest reports an attempt's outcome: "ok", "cached",
	// "unauthorized", "malformed" or "error".
	ObserveRequest(outcome string, elapsed time.Duration)
	ObserveRetry()
}

// Client fetches JSON pages with retries and throttling.
type Client struct {
	apiKey   string
	opts     Options
	http     *http.Client
	limiter  *rate.Limiter
	cache    PageCache
	observer Observer
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithCache serves pages from cache when present and stores fresh ones.
func WithCache(c PageCache) Option { return func(cl *Client) { cl.cache = c } }

// WithObserver reports attempts to o.
func WithObserver(o Observer) Option { return func(cl *Client) { cl.observer = o } }

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(h *http.Client) Option { return func(cl *Client) { cl.http = h } }

// NewClient creates a client. The API key is trimmed of surrounding
// whitespace before use.
func NewClient(apiKey string, opts Options, logger *slog.Logger, options ...Option) *Client {
	opts = opts.withDefaults()

	limit := rate.Inf
	if opts.RequestInterval > 0 {
		limit = rate.Every(opts.RequestInterval)
	}

	c := &Client{
		apiKey:  strings.TrimSpace(apiKey),
		opts:    opts,
		http:    &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(limit, opts.MaxConcurrency),
		logger:  logger,
	}
	for _, o := range options {
		o(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// GetJSON fetches url and returns its top-level JSON object.
//
// Failures that errors.IsRetryable accepts are retried until MaxAttempts
// attempts have been made, waiting min(base*2^(n-1), cap) plus up to base/2
// of jitter between attempts. The returned error carries the code of the last failure.
func (c *Client) GetJSON(ctx context.Context, url string) (flatten.Value, error) {
	if c.cache != nil {
		body, ok, err := c.cache.Get(ctx, url)
		if err != nil {
			c.logger.Warn("Page cache read failed", "url", url, "error", err)
		} else if ok {
			if doc, err := parseBody(body); err == nil {
				c.observe("cached", 0)
				c.logger.Debug("Page served from cache", "url", url)
				return doc, nil
			}
			c.logger.Warn("Discarding unreadable cached page", "url", url)
		}
	}

	var (
		doc     flatten.Value
		body    []byte
		attempt int
	)
	op := func() error {
		attempt++
		c.logger.Debug("HTTP attempt", "attempt", attempt, "url", url)

		var err error
		doc, body, err = c.attempt(ctx, url)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err != nil && !grerrors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		if c.observer != nil {
			c.observer.ObserveRetry()
		}
		c.logger.Info("Retrying request", "url", url, "attempt", attempt, "wait", wait, "error", err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newRetryPolicy(c.opts.BackoffBase, c.opts.BackoffCap), uint64(c.opts.MaxAttempts-1)),
		ctx,
	)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if ctx.Err() != nil {
			return flatten.Value{}, ctx.Err()
		}
		return flatten.Value{}, grerrors.New(grerrors.CodeOf(err),
			fmt.Sprintf("HTTP failed after %d attempts", attempt), err)
	}

	if c.cache != nil {
		if err := c.cache.Put(ctx, url, body); err != nil {
			c.logger.Warn("Page cache write failed", "url", url, "error", err)
		}
	}
	return doc, nil
}

// attempt performs one throttled request.
func (c *Client) attempt(ctx context.Context, url string) (flatten.Value, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return flatten.Value{}, nil, err
	}

	start := time.Now()
	doc, body, err := c.do(ctx, url)
	elapsed := time.Since(start)

	outcome := "ok"
	if err != nil {
		switch grerrors.CodeOf(err) {
		case grerrors.Unauthorized:
			outcome = "unauthorized"
		case grerrors.MalformedResponse:
			outcome = "malformed"
		default:
			outcome = "error"
		}
	}
	c.observe(outcome, elapsed)
	if err != nil {
		c.logger.Debug("HTTP error", "url", url, "error", err)
	}
	return doc, body, err
}

func (c *Client) do(ctx context.Context, url string) (flatten.Value, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return flatten.Value{}, nil, grerrors.New(grerrors.ConfigInvalid, "invalid request URL", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return flatten.Value{}, nil, grerrors.New(grerrors.TransportFailed, "request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize+1))
	if err != nil {
		return flatten.Value{}, nil, grerrors.New(grerrors.TransportFailed, "failed to read response", err)
	}
	if len(body) > MaxBodySize {
		return flatten.Value{}, nil, grerrors.Newf(grerrors.MalformedResponse, "response exceeds %d bytes", MaxBodySize)
	}

	if resp.StatusCode == http.StatusForbidden {
		return flatten.Value{}, nil, grerrors.Newf(grerrors.Unauthorized, "HTTP 403: Forbidden")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return flatten.Value{}, nil, grerrors.Newf(grerrors.TransportFailed, "HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	doc, err := parseBody(body)
	if err != nil {
		return flatten.Value{}, nil, err
	}
	return doc, body, nil
}

// parseBody decodes a page and applies the response checks.
func parseBody(body []byte) (flatten.Value, error) {
	doc, err := flatten.Decode(body)
	if err != nil {
		return flatten.Value{}, grerrors.New(grerrors.MalformedResponse,
			fmt.Sprintf("HTTP returned non-JSON response (len=%d). Snippet: %s", len(body), snippet(body)), err)
	}
	if doc.Kind() != flatten.KindObject {
		return flatten.Value{}, grerrors.Newf(grerrors.MalformedResponse,
			"HTTP returned JSON that is not an object (len=%d). Snippet: %s", len(body), snippet(body))
	}
	if msg := doc.Field("Message"); msg.Kind() == flatten.KindString &&
		strings.Contains(strings.ToLower(msg.Str()), "not authorized") {
		return flatten.Value{}, grerrors.Newf(grerrors.Unauthorized, "API responded with error: %s", flatten.Canonical(doc))
	}
	return doc, nil
}

func snippet(body []byte) string {
	s := []rune(string(bytes.ToValidUTF8(body, []byte("?"))))
	if len(s) > snippetLen {
		return string(s[:snippetLen]) + "…"
	}
	return string(s)
}

func (c *Client) observe(outcome string, elapsed time.Duration) {
	if c.observer != nil {
		c.observer.ObserveRequest(outcome, elapsed)
	}
}

// retryPolicy is exponential backoff with additive jitter: the n-th retry
// waits min(base*2^(n-1), cap) + U(0, base/2).
type retryPolicy struct {
	exp    *backoff.ExponentialBackOff
	jitter time.Duration
}

func newRetryPolicy(base, maxDelay time.Duration) *retryPolicy {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = base
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = maxDelay
	exp.MaxElapsedTime = 0
	exp.Reset()
	return &retryPolicy{exp: exp, jitter: base / 2}
}

func (p *retryPolicy) NextBackOff() time.Duration {
	d := p.exp.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	if p.jitter > 0 {
		d += rand.N(p.jitter)
	}
	return d
}

func (p *retryPolicy) Reset() { p.exp.Reset() }
