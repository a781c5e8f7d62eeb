package fetch

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/source-vetting/internal/config"
	"github.com/source-vetting/pkg/logger"
	"github.com/source-vetting/pkg/ratelimit"
)

// ContentFetcher retrieves a URL's content
type ContentFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Result, error)
}

// Result is a fetched response
type Result struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Header      http.Header
	Body        []byte
	Truncated   bool
	Latency     time.Duration
}

// UnreachableError reports a URL that could not be fetched.
// Transient errors (timeouts, 5xx, 429) may succeed on a later attempt.
type UnreachableError struct {
	URL        string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *UnreachableError) Error() string {
	kind := "permanently"
	if e.Transient {
		kind = "transiently"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s unreachable: status %d", e.URL, kind, e.StatusCode)
	}
	return fmt.Sprintf("%s %s unreachable: %v", e.URL, kind, e.Err)
}

func (e *UnreachableError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err is an UnreachableError that retrying will not fix
func IsPermanent(err error) bool {
	var ue *UnreachableError
	return errors.As(err, &ue) && !ue.Transient
}

// HTTPFetcher fetches URLs with a timeout, bounded retries and a shared rate limit
type HTTPFetcher struct {
	client  *http.Client
	cfg     config.FetcherConfig
	limiter *ratelimit.MultiLimiter
	log     *logger.Logger
}

// NewHTTPFetcher creates a fetcher. limiter may be nil.
func NewHTTPFetcher(cfg config.FetcherConfig, limiter *ratelimit.MultiLimiter, log *logger.Logger) *HTTPFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4 << 20
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "SourceVetting/1.0"
	}
	return &HTTPFetcher{
		client:  &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		limiter: limiter,
		log:     log.WithComponent("fetcher"),
	}
}

// UserAgent returns the agent string sent with every request
func (f *HTTPFetcher) UserAgent() string {
	return f.cfg.UserAgent
}

// Fetch retrieves a URL and requires a 2xx response
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	return f.retrieve(ctx, rawURL, ratelimit.LimiterFetch, false)
}

// FetchAny retrieves a URL and returns whatever final status it answered with.
// Transient statuses are still retried.
func (f *HTTPFetcher) FetchAny(ctx context.Context, rawURL string) (*Result, error) {
	return f.retrieve(ctx, rawURL, ratelimit.LimiterRobots, true)
}

func (f *HTTPFetcher) retrieve(ctx context.Context, rawURL, limiterName string, anyStatus bool) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &UnreachableError{URL: rawURL, Err: fmt.Errorf("invalid url")}
	}

	policy := backoff.NewExponentialBackOff()
	if f.cfg.RetryBackoff > 0 {
		policy.InitialInterval = f.cfg.RetryBackoff
	}
	policy.MaxElapsedTime = 0
	retries := f.cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}

	var last *Result
	op := func() error {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, limiterName); err != nil {
				return backoff.Permanent(&UnreachableError{URL: rawURL, Transient: true, Err: err})
			}
		}

		res, err := f.do(ctx, rawURL)
		if err != nil {
			uerr := classify(rawURL, err)
			if !uerr.Transient {
				return backoff.Permanent(uerr)
			}
			return uerr
		}
		last = res

		switch {
		case res.StatusCode >= 200 && res.StatusCode < 300:
			return nil
		case transientStatus(res.StatusCode):
			return &UnreachableError{URL: rawURL, StatusCode: res.StatusCode, Transient: true}
		case anyStatus:
			return nil
		default:
			return backoff.Permanent(&UnreachableError{URL: rawURL, StatusCode: res.StatusCode})
		}
	}

	notify := func(err error, wait time.Duration) {
		f.log.Debug().Err(err).Str("url", rawURL).Dur("retry_in", wait).Msg("Fetch failed, retrying")
	}

	err = backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retries)), ctx), notify)
	if err != nil {
		if anyStatus && last != nil {
			return last, nil
		}
		var uerr *UnreachableError
		if errors.As(err, &uerr) {
			return last, uerr
		}
		return last, &UnreachableError{URL: rawURL, Transient: true, Err: err}
	}
	return last, nil
}

func (f *HTTPFetcher) do(ctx context.Context, rawURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/rss+xml,application/atom+xml,application/json;q=0.9,*/*;q=0.8")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	truncated := int64(len(body)) > f.cfg.MaxBodyBytes
	if truncated {
		body = body[:f.cfg.MaxBodyBytes]
	}

	return &Result{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: strings.ToLower(resp.Header.Get("Content-Type")),
		Header:      resp.Header,
		Body:        body,
		Truncated:   truncated,
		Latency:     time.Since(start),
	}, nil
}

func transientStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

// classify decides whether a transport error is worth retrying
func classify(rawURL string, err error) *UnreachableError {
	uerr := &UnreachableError{URL: rawURL, Err: err, Transient: true}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		uerr.Transient = false
		return uerr
	}

	var certErr *x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	var invalidErr x509.CertificateInvalidError
	if errors.As(err, &certErr) || errors.As(err, &hostErr) || errors.As(err, &invalidErr) {
		uerr.Transient = false
		return uerr
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil && strings.Contains(urlErr.Err.Error(), "unsupported protocol scheme") {
		uerr.Transient = false
	}
	return uerr
}

var _ ContentFetcher = (*HTTPFetcher)(nil)
