package admission

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/source-vetting/internal/config"
	"github.com/source-vetting/internal/dedup"
	"github.com/source-vetting/internal/fetch"
	"github.com/source-vetting/internal/models"
	"github.com/source-vetting/pkg/logger"
)

type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]*fetch.Result
	errs    map[string]error
	delay   time.Duration
	fetched []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) (*fetch.Result, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, rawURL)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, &fetch.UnreachableError{URL: rawURL, Transient: true, Err: ctx.Err()}
		}
	}
	if err, ok := f.errs[rawURL]; ok {
		return nil, err
	}
	if res, ok := f.pages[rawURL]; ok {
		out := *res
		out.URL, out.FinalURL = rawURL, rawURL
		return &out, nil
	}
	return nil, &fetch.UnreachableError{URL: rawURL, StatusCode: 404}
}

type fakePolicy struct {
	allowed bool
	err     error
}

func (p *fakePolicy) Check(context.Context, string) (*fetch.PolicyDecision, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &fetch.PolicyDecision{Allowed: p.allowed, Reason: "test policy"}, nil
}

type fakeRegistry struct {
	known []models.KnownSource
}

func (r *fakeRegistry) FindKnownSources(_ context.Context, normalizedURL, domain, excludeID string, limit int) ([]models.KnownSource, error) {
	var out []models.KnownSource
	for _, k := range r.known {
		if k.ID != excludeID && (k.NormalizedURL == normalizedURL || k.Domain == domain) {
			out = append(out, k)
		}
	}
	return out, nil
}

const grantsFeed = `<?xml version="1.0"?><rss version="2.0"><channel><title>Foundation grants</title>
<description>Funding and grant opportunities</description>
<item><title>Community grant round open</title><description>Funding for local projects, apply now before the deadline</description></item>
<item><title>Scholarship programme for students</title><description>Tuition scholarship and stipend, application deadline in May</description></item>
</channel></rss>`

const grantPage = `<html><head><title>Water grant</title></head><body><p>This grant offers funding for rural water projects. Eligibility and application deadline below.</p></body></html>`

func goodSubmission() *models.Submission {
	return &models.Submission{
		ID: "sub-good",
		SourceSubmission: models.SourceSubmission{
			Name:             "Example Foundation Grants",
			URL:              "https://example.org/grants/feed",
			ContactName:      "Ada",
			ContactEmail:     "ada@example.org",
			ContactRole:      "Communications Director",
			ClaimedType:      "rss",
			ClaimedFrequency: "weekly",
			SampleURLs:       models.StringSlice{"https://example.org/grants/water", "https://example.org/grants/arts"},
			ClaimedRelevance: map[string]float64{"grants": 0.9},
			HasPermission:    true,
			ExpectedVolume:   30,
		},
	}
}

func newFixture(registry KnownSourceRegistry, policy fetch.PolicyChecker) (*Validator, *fakeFetcher) {
	f := &fakeFetcher{
		pages: map[string]*fetch.Result{
			"https://example.org/grants/feed":  {StatusCode: 200, ContentType: "application/rss+xml", Body: []byte(grantsFeed)},
			"https://example.org/grants/water": {StatusCode: 200, ContentType: "text/html", Body: []byte(grantPage)},
			"https://example.org/grants/arts":  {StatusCode: 200, ContentType: "text/html", Body: []byte(grantPage)},
		},
		errs: map[string]error{},
	}
	vocab, err := LoadVocabulary("")
	if err != nil {
		panic(err)
	}
	cfg := config.Default()
	engine := dedup.NewEngine(cfg.Dedup, nil, nil, logger.Nop())
	if registry == nil {
		registry = &fakeRegistry{}
	}
	if policy == nil {
		policy = &fakePolicy{allowed: true}
	}
	return NewValidator(cfg.Admission, f, policy, registry, engine, vocab, logger.Nop()), f
}

func TestValidateAcceptsStrongSource(t *testing.T) {
	t.Parallel()

	v, f := newFixture(nil, nil)
	result, err := v.Validate(context.Background(), goodSubmission())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Recommendation != models.RecommendationAccept {
		for _, c := range result.Checks {
			t.Logf("%s score=%.2f issues=%v", c.Name, c.Score, c.Issues)
		}
		t.Fatalf("recommendation=%s score=%.3f", result.Recommendation, result.Score)
	}
	if len(result.Checks) != 7 {
		t.Fatalf("checks=%d want 7", len(result.Checks))
	}

	// The submitted url is fetched once and shared between reachability and relevance
	count := 0
	for _, u := range f.fetched {
		if u == "https://example.org/grants/feed" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("source fetched %d times", count)
	}
}

func TestValidateMalformedRunsNoChecks(t *testing.T) {
	t.Parallel()

	v, f := newFixture(nil, nil)
	sub := goodSubmission()
	sub.ContactEmail = "not-an-email"
	sub.URL = "example"

	_, err := v.Validate(context.Background(), sub)
	if !errors.Is(err, ErrMalformedSubmission) {
		t.Fatalf("expected ErrMalformedSubmission, got %v", err)
	}
	if len(f.fetched) != 0 {
		t.Fatalf("checks ran for malformed submission: %v", f.fetched)
	}
}

func TestValidatePermanentlyUnreachableHardFails(t *testing.T) {
	t.Parallel()

	v, f := newFixture(nil, nil)
	f.errs["https://example.org/grants/feed"] = &fetch.UnreachableError{URL: "https://example.org/grants/feed", StatusCode: 410}

	result, err := v.Validate(context.Background(), goodSubmission())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Recommendation != models.RecommendationReject || result.HardFail == "" {
		t.Fatalf("recommendation=%s hard_fail=%q", result.Recommendation, result.HardFail)
	}
	if len(result.Issues) == 0 || len(result.Suggestions) == 0 {
		t.Fatalf("reject must carry issues and suggestions")
	}
}

func TestValidateTransientDegradesWithoutHardFail(t *testing.T) {
	t.Parallel()

	v, f := newFixture(nil, nil)
	f.errs["https://example.org/grants/feed"] = &fetch.UnreachableError{URL: "x", Transient: true, Err: errors.New("timeout")}

	result, err := v.Validate(context.Background(), goodSubmission())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.HardFail != "" {
		t.Fatalf("transient failure must not hard fail: %q", result.HardFail)
	}
	reach := result.Check(models.CheckReachability)
	if reach == nil || !reach.Degraded || reach.Score != 0 {
		t.Fatalf("reachability=%+v", reach)
	}
	if result.Recommendation == models.RecommendationAccept {
		t.Fatalf("score %.2f should not be accepted without reachability and relevance", result.Score)
	}
}

func TestValidatePolicyDenied(t *testing.T) {
	t.Parallel()

	v, _ := newFixture(nil, &fakePolicy{allowed: false})
	result, err := v.Validate(context.Background(), goodSubmission())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Recommendation != models.RecommendationReject || !strings.Contains(result.HardFail, "crawl policy") {
		t.Fatalf("recommendation=%s hard_fail=%q", result.Recommendation, result.HardFail)
	}
}

func TestValidateDuplicateSourceHardFails(t *testing.T) {
	t.Parallel()

	registry := &fakeRegistry{known: []models.KnownSource{{
		ID:            "existing",
		Name:          "Foundation feed",
		URL:           "http://www.example.org/grants/feed/",
		NormalizedURL: "https://example.org/grants/feed",
		Domain:        "example.org",
		Status:        models.StatusProductionActive,
	}}}
	v, _ := newFixture(registry, nil)

	result, err := v.Validate(context.Background(), goodSubmission())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	dup := result.Check(models.CheckDuplicate)
	if dup == nil || !dup.HardFail {
		t.Fatalf("duplicate check=%+v", dup)
	}
	if result.Recommendation != models.RecommendationReject {
		t.Fatalf("recommendation=%s", result.Recommendation)
	}
}

func TestValidateManualReviewPriority(t *testing.T) {
	t.Parallel()

	v, _ := newFixture(nil, nil)
	sub := goodSubmission()
	sub.ContactEmail = "someone@gmail.com"
	sub.HasPermission = false
	sub.ContactRole = ""
	sub.SampleURLs = nil
	sub.ClaimedType = "webpage_dynamic"

	result, err := v.Validate(context.Background(), sub)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Recommendation != models.RecommendationManualReview {
		t.Fatalf("recommendation=%s score=%.3f", result.Recommendation, result.Score)
	}
	if result.ReviewPriority == "" {
		t.Fatalf("manual review must carry a priority")
	}
	if len(result.Issues) == 0 || len(result.Suggestions) == 0 {
		t.Fatalf("manual review must carry issues and suggestions")
	}
}

func TestDecisionThresholds(t *testing.T) {
	t.Parallel()

	v, _ := newFixture(nil, nil)
	tests := []struct {
		score    float64
		want     models.Recommendation
		priority string
	}{
		{0.85, models.RecommendationAccept, ""},
		{0.80, models.RecommendationAccept, ""},
		{0.70, models.RecommendationManualReview, models.PriorityHigh},
		{0.50, models.RecommendationManualReview, models.PriorityLow},
		{0.40, models.RecommendationManualReview, models.PriorityLow},
		{0.39, models.RecommendationReject, ""},
	}
	for _, tt := range tests {
		r := &models.ValidationResult{Score: tt.score}
		v.decide(r)
		if r.Recommendation != tt.want || r.ReviewPriority != tt.priority {
			t.Fatalf("score %.2f: got %s/%q want %s/%q", tt.score, r.Recommendation, r.ReviewPriority, tt.want, tt.priority)
		}
		if r.Recommendation != models.RecommendationAccept && (len(r.Issues) == 0 || len(r.Suggestions) == 0) {
			t.Fatalf("score %.2f: non-accept without reasons", tt.score)
		}
	}
}

func TestVocabularyScore(t *testing.T) {
	t.Parallel()

	vocab, err := LoadVocabulary("")
	if err != nil {
		t.Fatalf("LoadVocabulary: %v", err)
	}
	best, scores := vocab.Score("Apply now: research fellowship and postdoctoral residency")
	if scores["fellowships"] < 0.7 {
		t.Fatalf("fellowships=%v", scores["fellowships"])
	}
	if best < scores["fellowships"] {
		t.Fatalf("best=%v below category score", best)
	}
	if vocab.Relevant("Weather forecast for the weekend") {
		t.Fatalf("unrelated text scored relevant")
	}
}
