package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/source-vetting/internal/config"
	"github.com/source-vetting/pkg/logger"
)

func newTestFetcher(retries int) *HTTPFetcher {
	return NewHTTPFetcher(config.FetcherConfig{
		Timeout:      2 * time.Second,
		MaxRetries:   retries,
		RetryBackoff: time.Millisecond,
		UserAgent:    "VettingTest/1.0",
		MaxBodyBytes: 1 << 16,
	}, nil, logger.Nop())
}

func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "VettingTest/1.0" {
			t.Errorf("user agent=%q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><head><title>Grants</title></head><body><p>Open calls</p></body></html>"))
	}))
	defer srv.Close()

	res, err := newTestFetcher(0).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.StatusCode != http.StatusOK || res.ContentType != "text/html; charset=utf-8" {
		t.Fatalf("unexpected result: %d %q", res.StatusCode, res.ContentType)
	}
}

func TestFetchRetriesTransient(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	if _, err := newTestFetcher(3).Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("calls=%d want 3", got)
	}
}

func TestFetchPermanentStatus(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestFetcher(3).Fetch(context.Background(), srv.URL)
	var uerr *UnreachableError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UnreachableError, got %v", err)
	}
	if uerr.Transient || uerr.StatusCode != http.StatusNotFound {
		t.Fatalf("got transient=%v status=%d", uerr.Transient, uerr.StatusCode)
	}
	if !IsPermanent(err) {
		t.Fatalf("IsPermanent=false")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("permanent failure retried: calls=%d", got)
	}
}

func TestFetchExhaustedIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestFetcher(1).Fetch(context.Background(), srv.URL)
	var uerr *UnreachableError
	if !errors.As(err, &uerr) || !uerr.Transient {
		t.Fatalf("expected transient UnreachableError, got %v", err)
	}
}

func TestFetchInvalidURL(t *testing.T) {
	t.Parallel()

	_, err := newTestFetcher(0).Fetch(context.Background(), "ftp://example.org/file")
	if !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestRobotsPolicy(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\nCrawl-delay: 2\n"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	policy := NewRobotsPolicy(newTestFetcher(0), logger.Nop())

	allowed, err := policy.Check(context.Background(), srv.URL+"/grants")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !allowed.Allowed {
		t.Fatalf("expected /grants allowed: %s", allowed.Reason)
	}

	denied, err := policy.Check(context.Background(), srv.URL+"/private/list")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if denied.Allowed {
		t.Fatalf("expected /private denied")
	}
}

func TestRobotsMissingAllowsAll(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	decision, err := NewRobotsPolicy(newTestFetcher(0), logger.Nop()).Check(context.Background(), srv.URL+"/anything")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !decision.Allowed || decision.StatusCode != http.StatusNotFound {
		t.Fatalf("decision=%+v", decision)
	}
}

const sampleRSS = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Funding News</title><description>Open calls</description>
<item><title>Research grant for rural water</title><description>&lt;p&gt;Apply by June&lt;/p&gt;</description><category>grants</category></item>
<item><title>Fellowship programme</title><description>Two year fellowship</description></item>
</channel></rss>`

func TestExtractFeed(t *testing.T) {
	t.Parallel()

	c := Extract(&Result{ContentType: "application/rss+xml", Body: []byte(sampleRSS)})
	if c.Kind != KindFeed {
		t.Fatalf("kind=%s", c.Kind)
	}
	if len(c.Items) != 2 {
		t.Fatalf("items=%d", len(c.Items))
	}
	if c.Items[0] != "Research grant for rural water Apply by June grants" {
		t.Fatalf("item text=%q", c.Items[0])
	}
}

func TestExtractHTMLDropsScripts(t *testing.T) {
	t.Parallel()

	page := `<html><head><title>Calls</title><script>var x = "hidden";</script></head>
<body>
<h1>Open   calls</h1>
<p>Scholarships for students</p>
</body></html>`
	c := Extract(&Result{ContentType: "text/html", Body: []byte(page)})
	if c.Kind != KindHTML || c.Title != "Calls" {
		t.Fatalf("kind=%s title=%q", c.Kind, c.Title)
	}
	if c.Text != "Calls Open calls Scholarships for students" {
		t.Fatalf("text=%q", c.Text)
	}
}

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	c := Extract(&Result{ContentType: "application/json", Body: []byte(`{"items":[{"title":"Grant A"}]}`)})
	if c.Kind != KindJSON || c.Text != "Grant A" {
		t.Fatalf("kind=%s text=%q", c.Kind, c.Text)
	}
}
