package fetch

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/source-vetting/pkg/logger"
)

// PolicyDecision is whether automated access to a URL is permitted
type PolicyDecision struct {
	Allowed    bool
	RobotsURL  string
	StatusCode int
	CrawlDelay time.Duration
	Reason     string
}

// PolicyChecker decides whether a URL may be monitored automatically
type PolicyChecker interface {
	Check(ctx context.Context, rawURL string) (*PolicyDecision, error)
}

// robotsCacheTTL bounds how long a host's robots.txt is reused
const robotsCacheTTL = time.Hour

type robotsEntry struct {
	data    *robotstxt.RobotsData
	status  int
	fetched time.Time
}

// RobotsPolicy evaluates robots.txt for the fetcher's user agent
type RobotsPolicy struct {
	fetcher *HTTPFetcher
	agent   string
	log     *logger.Logger

	mu    sync.Mutex
	cache map[string]robotsEntry
}

// NewRobotsPolicy creates a robots.txt policy checker
func NewRobotsPolicy(fetcher *HTTPFetcher, log *logger.Logger) *RobotsPolicy {
	return &RobotsPolicy{
		fetcher: fetcher,
		agent:   fetcher.UserAgent(),
		log:     log.WithComponent("robots"),
		cache:   make(map[string]robotsEntry),
	}
}

// Check fetches (or reuses) the host's robots.txt and tests the URL path against it.
// A missing robots.txt allows everything; a failing one disallows everything.
func (p *RobotsPolicy) Check(ctx context.Context, rawURL string) (*PolicyDecision, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q", rawURL)
	}
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host)

	entry, err := p.load(ctx, robotsURL)
	if err != nil {
		return nil, err
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	decision := &PolicyDecision{
		Allowed:    entry.data.TestAgent(path, p.agent),
		RobotsURL:  robotsURL,
		StatusCode: entry.status,
	}
	if group := entry.data.FindGroup(p.agent); group != nil {
		decision.CrawlDelay = group.CrawlDelay
	}
	switch {
	case entry.status >= 500:
		decision.Reason = fmt.Sprintf("robots.txt answered %d, treated as disallow all", entry.status)
	case entry.status >= 400:
		decision.Reason = "no robots.txt published"
	case !decision.Allowed:
		decision.Reason = fmt.Sprintf("robots.txt disallows %s for %s", path, p.agent)
	default:
		decision.Reason = "allowed by robots.txt"
	}

	p.log.Debug().
		Str("url", rawURL).
		Bool("allowed", decision.Allowed).
		Int("robots_status", entry.status).
		Msg("Crawl policy evaluated")

	return decision, nil
}

func (p *RobotsPolicy) load(ctx context.Context, robotsURL string) (robotsEntry, error) {
	p.mu.Lock()
	entry, ok := p.cache[robotsURL]
	p.mu.Unlock()
	if ok && time.Since(entry.fetched) < robotsCacheTTL {
		return entry, nil
	}

	res, err := p.fetcher.FetchAny(ctx, robotsURL)
	if err != nil {
		return robotsEntry{}, fmt.Errorf("fetch robots.txt: %w", err)
	}

	data, err := robotstxt.FromStatusAndBytes(res.StatusCode, res.Body)
	if err != nil {
		// Unparseable robots.txt is treated as absent
		data, _ = robotstxt.FromStatusAndBytes(404, nil)
	}

	entry = robotsEntry{data: data, status: res.StatusCode, fetched: time.Now()}
	p.mu.Lock()
	p.cache[robotsURL] = entry
	p.mu.Unlock()
	return entry, nil
}

var _ PolicyChecker = (*RobotsPolicy)(nil)
