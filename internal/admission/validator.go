package admission

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/source-vetting/internal/config"
	"github.com/source-vetting/internal/dedup"
	"github.com/source-vetting/internal/fetch"
	"github.com/source-vetting/internal/models"
	"github.com/source-vetting/pkg/logger"
)

// ErrMalformedSubmission is returned before any check runs when required fields are missing or invalid
var ErrMalformedSubmission = errors.New("malformed submission")

// errHardFail cancels sibling checks once a check has decided the outcome
var errHardFail = errors.New("hard fail")

// KnownSourceRegistry looks up sources already tracked by the platform
type KnownSourceRegistry interface {
	FindKnownSources(ctx context.Context, normalizedURL, domain, excludeID string, limit int) ([]models.KnownSource, error)
}

// Validator runs the admission checks for a submission
type Validator struct {
	cfg      config.AdmissionConfig
	fetcher  fetch.ContentFetcher
	policy   fetch.PolicyChecker
	registry KnownSourceRegistry
	engine   *dedup.Engine
	vocab    *Vocabulary
	log      *logger.Logger
}

// NewValidator creates an admission validator. engine is used for the duplicate-source check.
func NewValidator(
	cfg config.AdmissionConfig,
	fetcher fetch.ContentFetcher,
	policy fetch.PolicyChecker,
	registry KnownSourceRegistry,
	engine *dedup.Engine,
	vocab *Vocabulary,
	log *logger.Logger,
) *Validator {
	return &Validator{
		cfg:      cfg,
		fetcher:  fetcher,
		policy:   policy,
		registry: registry,
		engine:   engine,
		vocab:    vocab,
		log:      log.WithComponent("admission"),
	}
}

// Malformed lists the problems that make a submission unfit for validation
func Malformed(s *models.SourceSubmission) []string {
	var problems []string
	if strings.TrimSpace(s.Name) == "" {
		problems = append(problems, "name is required")
	}
	if u, err := url.Parse(strings.TrimSpace(s.URL)); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		problems = append(problems, fmt.Sprintf("url %q is not an absolute http(s) url", s.URL))
	}
	if addr, err := mail.ParseAddress(strings.TrimSpace(s.ContactEmail)); err != nil || !strings.Contains(addr.Address, "@") {
		problems = append(problems, fmt.Sprintf("contact email %q is invalid", s.ContactEmail))
	}
	for category, v := range s.ClaimedRelevance {
		if v < 0 || v > 1 {
			problems = append(problems, fmt.Sprintf("claimed relevance for %q must be within [0,1]", category))
		}
	}
	for _, sample := range s.SampleURLs {
		if u, err := url.Parse(sample); err != nil || u.Host == "" {
			problems = append(problems, fmt.Sprintf("sample url %q is invalid", sample))
		}
	}
	if s.ExpectedVolume < 0 {
		problems = append(problems, "expected volume cannot be negative")
	}
	return problems
}

type checkFunc func(ctx context.Context, sub *models.Submission, page *pageLoader) (models.CheckResult, error)

// Validate runs every check concurrently and composes the weighted result.
// A hard-failing check cancels the remaining ones and forces a reject.
func (v *Validator) Validate(ctx context.Context, sub *models.Submission) (*models.ValidationResult, error) {
	if problems := Malformed(&sub.SourceSubmission); len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMalformedSubmission, strings.Join(problems, "; "))
	}

	log := v.log.WithSubmission(sub.ID)
	log.Info().Str("url", sub.URL).Msg("Starting admission checks")

	checks := []struct {
		name   string
		weight float64
		run    checkFunc
	}{
		{models.CheckReachability, v.cfg.Weights.Reachability, v.checkReachability},
		{models.CheckRelevance, v.cfg.Weights.Relevance, v.checkRelevance},
		{models.CheckAuthority, v.cfg.Weights.Authority, v.checkAuthority},
		{models.CheckPolicy, v.cfg.Weights.Policy, v.checkPolicy},
		{models.CheckDuplicate, v.cfg.Weights.Duplicate, v.checkDuplicate},
		{models.CheckFeasibility, v.cfg.Weights.Feasibility, v.checkFeasibility},
		{models.CheckSamples, v.cfg.Weights.Samples, v.checkSamples},
	}

	page := &pageLoader{fetcher: v.fetcher, url: sub.URL}
	results := make([]models.CheckResult, len(checks))
	done := make([]bool, len(checks))

	g, gctx := errgroup.WithContext(ctx)
	limit := v.cfg.MaxInFlight
	if limit <= 0 {
		limit = len(checks)
	}
	g.SetLimit(limit)

	for i, c := range checks {
		i, c := i, c
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			cctx := gctx
			if v.cfg.CheckTimeout > 0 {
				var cancel context.CancelFunc
				cctx, cancel = context.WithTimeout(gctx, v.cfg.CheckTimeout)
				defer cancel()
			}

			start := time.Now()
			res, err := c.run(cctx, sub, page)
			res.Name = c.name
			res.Weight = c.weight
			res.Duration = time.Since(start)
			results[i] = res
			done[i] = true

			log.Debug().
				Str("check", c.name).
				Float64("score", res.Score).
				Bool("hard_fail", res.HardFail).
				Dur("duration", res.Duration).
				Msg("Check finished")
			return err
		})
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, errHardFail) {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	result := &models.ValidationResult{SubmissionID: sub.ID}
	for i, c := range checks {
		if !done[i] || (results[i].Degraded && !results[i].HardFail && errors.Is(err, errHardFail)) {
			results[i] = models.CheckResult{
				Name:     c.name,
				Weight:   c.weight,
				Degraded: true,
				Details:  map[string]string{"skipped": "cancelled after hard fail"},
			}
		}
		res := results[i]
		result.Score += res.Weight * res.Score
		result.Issues = append(result.Issues, res.Issues...)
		result.Suggestions = append(result.Suggestions, res.Suggestions...)
		if res.HardFail && result.HardFail == "" {
			result.HardFail = hardFailReason(res)
		}
		result.Checks = append(result.Checks, res)
	}
	result.Score = models.Clamp01(result.Score)
	v.decide(result)

	log.Info().
		Float64("score", result.Score).
		Str("recommendation", string(result.Recommendation)).
		Str("hard_fail", result.HardFail).
		Int("issues", len(result.Issues)).
		Msg("Admission checks complete")

	return result, nil
}

func hardFailReason(res models.CheckResult) string {
	if len(res.Issues) > 0 {
		return res.Issues[0]
	}
	return res.Name + " check failed"
}

// decide applies thresholds and guarantees reasons on every non-accept outcome
func (v *Validator) decide(result *models.ValidationResult) {
	switch {
	case result.HardFail != "":
		result.Recommendation = models.RecommendationReject
	case result.Score >= v.cfg.AcceptThreshold:
		result.Recommendation = models.RecommendationAccept
	case result.Score >= v.cfg.RejectThreshold:
		result.Recommendation = models.RecommendationManualReview
		result.ReviewPriority = models.PriorityLow
		if result.Score >= v.cfg.ManualReviewThreshold {
			result.ReviewPriority = models.PriorityHigh
		}
	default:
		result.Recommendation = models.RecommendationReject
	}

	if result.Recommendation == models.RecommendationAccept {
		return
	}
	if len(result.Issues) == 0 {
		result.Issues = append(result.Issues, fmt.Sprintf("admission score %.2f is below the acceptance threshold %.2f",
			result.Score, v.cfg.AcceptThreshold))
	}
	if len(result.Suggestions) == 0 {
		result.Suggestions = append(result.Suggestions, "provide sample urls of relevant items and a contact address on the source's domain")
	}
}

// pageLoader fetches the submitted url once for every check that needs it
type pageLoader struct {
	fetcher fetch.ContentFetcher
	url     string

	once    sync.Once
	res     *fetch.Result
	content *fetch.Content
	err     error
}

func (p *pageLoader) load(ctx context.Context) (*fetch.Result, *fetch.Content, error) {
	p.once.Do(func() {
		p.res, p.err = p.fetcher.Fetch(ctx, p.url)
		if p.err == nil {
			p.content = fetch.Extract(p.res)
		}
	})
	return p.res, p.content, p.err
}
