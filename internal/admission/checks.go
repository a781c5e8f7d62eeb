package admission

import (
	"context"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/source-vetting/internal/classifier"
	"github.com/source-vetting/internal/dedup"
	"github.com/source-vetting/internal/fetch"
	"github.com/source-vetting/internal/models"
)

// knownSourceCandidates caps registry lookups for the duplicate check
const knownSourceCandidates = 50

// overstatedRelevance is how far a claimed relevance may exceed the measured one before it is flagged
const overstatedRelevance = 0.4

var freeMailDomains = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
	"yahoo.com":      true,
	"outlook.com":    true,
	"hotmail.com":    true,
	"live.com":       true,
	"aol.com":        true,
	"icloud.com":     true,
	"proton.me":      true,
	"protonmail.com": true,
	"gmx.com":        true,
	"mail.com":       true,
	"yandex.com":     true,
}

var authoritativeRole = regexp.MustCompile(`(?i)\b(owner|founder|director|editor|manager|head|lead|admin|administrator|webmaster|officer|coordinator|communications|press|publisher|president|chair)\b`)

func (v *Validator) checkReachability(ctx context.Context, _ *models.Submission, page *pageLoader) (models.CheckResult, error) {
	res, _, err := page.load(ctx)
	if err != nil {
		if fetch.IsPermanent(err) {
			return models.CheckResult{
				HardFail:    true,
				Issues:      []string{fmt.Sprintf("source is permanently unreachable: %v", err)},
				Suggestions: []string{"verify the url is public and correct"},
			}, errHardFail
		}
		return models.CheckResult{
			Degraded:    true,
			Issues:      []string{fmt.Sprintf("source could not be reached after retries: %v", err)},
			Suggestions: []string{"resubmit once the source is available"},
		}, nil
	}

	result := models.CheckResult{
		Score: 1,
		Details: map[string]string{
			"status":       fmt.Sprint(res.StatusCode),
			"latency":      res.Latency.String(),
			"content_type": res.ContentType,
		},
	}
	if v.cfg.SlowResponse > 0 && res.Latency > v.cfg.SlowResponse {
		result.Score = 0.7
		result.Issues = append(result.Issues, fmt.Sprintf("source responded slowly (%s)", res.Latency.Round(time.Millisecond)))
	}
	if res.FinalURL != "" && dedup.Host(res.FinalURL) != dedup.Host(res.URL) {
		result.Details["redirected_to"] = res.FinalURL
	}
	return result, nil
}

func (v *Validator) checkRelevance(ctx context.Context, sub *models.Submission, page *pageLoader) (models.CheckResult, error) {
	_, content, err := page.load(ctx)
	if err != nil {
		return models.CheckResult{
			Degraded: true,
			Issues:   []string{"relevance could not be measured because the source was not fetched"},
		}, nil
	}

	text := content.Title + " " + content.Text
	best, scores := v.vocab.Score(text)
	if content.Kind == fetch.KindFeed && len(content.Items) > 0 {
		// Feeds are judged by the share of relevant items
		relevant := 0
		for _, item := range content.Items {
			if v.vocab.Relevant(item) {
				relevant++
			}
		}
		share := float64(relevant) / float64(len(content.Items))
		best = (best + share) / 2
		scores["relevant_items"] = share
	}

	result := models.CheckResult{
		Score:     best,
		SubScores: scores,
		Details:   map[string]string{"content_kind": content.Kind},
	}
	if best < v.vocab.RelevantThreshold {
		result.Issues = append(result.Issues, "source content does not match any relevant category")
		result.Suggestions = append(result.Suggestions, "submit the page or feed that lists opportunities directly")
	}
	for category, claimed := range sub.ClaimedRelevance {
		measured, ok := scores[category]
		if ok && claimed-measured > overstatedRelevance {
			result.Issues = append(result.Issues, fmt.Sprintf("claimed %s relevance %.2f exceeds measured %.2f", category, claimed, measured))
		}
	}
	return result, nil
}

func (v *Validator) checkAuthority(_ context.Context, sub *models.Submission, _ *pageLoader) (models.CheckResult, error) {
	sourceDomain := dedup.RegistrableDomain(sub.URL)
	emailDomain := ""
	if addr, err := mail.ParseAddress(sub.ContactEmail); err == nil {
		if at := strings.LastIndex(addr.Address, "@"); at >= 0 {
			emailDomain = strings.ToLower(addr.Address[at+1:])
		}
	}

	result := models.CheckResult{
		SubScores: make(map[string]float64, 3),
		Details:   map[string]string{"source_domain": sourceDomain, "email_domain": emailDomain},
	}

	domainScore := 0.3
	switch {
	case emailDomain != "" && dedup.RegistrableDomain(emailDomain) == sourceDomain:
		domainScore = 1
	case freeMailDomains[emailDomain]:
		domainScore = 0
		result.Issues = append(result.Issues, "contact uses a free email provider")
		result.Suggestions = append(result.Suggestions, "use an address on the source's own domain")
	default:
		result.Issues = append(result.Issues, "contact email domain differs from the source domain")
	}

	permissionScore := 0.0
	if sub.HasPermission {
		permissionScore = 1
	} else {
		result.Issues = append(result.Issues, "submitter did not confirm permission to monitor the source")
		result.Suggestions = append(result.Suggestions, "confirm permission from the source owner")
	}

	roleScore := 0.0
	switch {
	case authoritativeRole.MatchString(sub.ContactRole):
		roleScore = 1
	case strings.TrimSpace(sub.ContactRole) != "":
		roleScore = 0.5
	}

	result.SubScores["domain"] = domainScore
	result.SubScores["permission"] = permissionScore
	result.SubScores["role"] = roleScore
	result.Score = 0.5*domainScore + 0.3*permissionScore + 0.2*roleScore
	return result, nil
}

func (v *Validator) checkPolicy(ctx context.Context, sub *models.Submission, _ *pageLoader) (models.CheckResult, error) {
	if v.policy == nil {
		return models.CheckResult{Score: 1, Details: map[string]string{"policy": "not checked"}}, nil
	}

	decision, err := v.policy.Check(ctx, sub.URL)
	if err != nil {
		return models.CheckResult{
			Degraded: true,
			Issues:   []string{fmt.Sprintf("crawl policy could not be determined: %v", err)},
		}, nil
	}

	result := models.CheckResult{
		Score:   1,
		Details: map[string]string{"robots_url": decision.RobotsURL, "reason": decision.Reason},
	}
	if !decision.Allowed {
		result.Score = 0
		result.HardFail = true
		result.Issues = []string{"crawl policy denies automated access: " + decision.Reason}
		result.Suggestions = []string{"ask the source owner to allow our crawler or provide an api"}
		return result, errHardFail
	}
	if decision.CrawlDelay > time.Minute {
		result.Score = 0.7
		result.Issues = append(result.Issues, fmt.Sprintf("robots.txt requests a crawl delay of %s", decision.CrawlDelay))
	}
	return result, nil
}

func (v *Validator) checkDuplicate(ctx context.Context, sub *models.Submission, _ *pageLoader) (models.CheckResult, error) {
	if v.registry == nil || v.engine == nil {
		return models.CheckResult{Score: 1, Details: map[string]string{"registry": "not configured"}}, nil
	}

	normalized, _ := dedup.NormalizeURL(sub.URL)
	domain := dedup.RegistrableDomain(sub.URL)
	known, err := v.registry.FindKnownSources(ctx, normalized, domain, sub.ID, knownSourceCandidates)
	if err != nil {
		return models.CheckResult{
			Degraded: true,
			Issues:   []string{fmt.Sprintf("known sources could not be searched: %v", err)},
		}, nil
	}

	candidates := make([]*models.Opportunity, 0, len(known))
	byID := make(map[string]models.KnownSource, len(known))
	for _, k := range known {
		candidates = append(candidates, &models.Opportunity{ID: k.ID, Title: k.Name, URL: k.URL})
		byID[k.ID] = k
	}

	probe := &models.Opportunity{ID: sub.ID, Title: sub.Name, URL: sub.URL}
	dedup.Prepare(probe)
	match := v.engine.Match(ctx, probe, candidates)

	result := models.CheckResult{
		Score:   1,
		Details: map[string]string{"action": string(match.Action), "candidates": fmt.Sprint(match.CandidatesSeen)},
	}
	if match.MatchedID != "" {
		result.Details["matched_id"] = match.MatchedID
		result.SubScores = map[string]float64{"similarity": match.Similarity}
	}

	name := byID[match.MatchedID].Name
	switch match.Action {
	case models.ActionSkip:
		result.Score = 0
		result.HardFail = true
		result.Issues = []string{fmt.Sprintf("duplicate source: already tracked as %q (%s)", name, match.MatchedID)}
		result.Suggestions = []string{"contact the team to update the existing source instead"}
		return result, errHardFail
	case models.ActionMerge:
		result.Score = 0.3
		result.Issues = []string{fmt.Sprintf("very similar to tracked source %q", name)}
		result.Suggestions = []string{"explain how this source differs from the existing one"}
	case models.ActionFlagForReview:
		result.Score = 0.6
		result.Issues = []string{fmt.Sprintf("possibly overlaps tracked source %q", name)}
	}
	return result, nil
}

// base feasibility per source type
var feasibilityBase = map[models.SourceType]float64{
	models.SourceTypeRSSFeed:        1.0,
	models.SourceTypeAPI:            0.9,
	models.SourceTypeWebpageStatic:  0.7,
	models.SourceTypeDocument:       0.6,
	models.SourceTypeWebpageDynamic: 0.5,
	models.SourceTypeSocialMedia:    0.4,
	models.SourceTypeUnknown:        0.5,
}

var frequencyAdjustment = map[models.UpdateFrequency]float64{
	models.FrequencyRealtime:  -0.1,
	models.FrequencyHourly:    0,
	models.FrequencyDaily:     0,
	models.FrequencyWeekly:    0,
	models.FrequencyMonthly:   -0.05,
	models.FrequencyIrregular: -0.1,
}

func (v *Validator) checkFeasibility(_ context.Context, sub *models.Submission, _ *pageLoader) (models.CheckResult, error) {
	sourceType := models.ParseSourceType(sub.ClaimedType)
	origin := "claimed"
	if sourceType == models.SourceTypeUnknown {
		sourceType, _ = classifier.ClassifyURL(sub.URL)
		origin = "url_pattern"
	}
	freq := models.ParseUpdateFrequency(sub.ClaimedFrequency)

	base := feasibilityBase[sourceType]
	adjust := frequencyAdjustment[freq]
	result := models.CheckResult{
		SubScores: map[string]float64{"type": base, "frequency": adjust},
		Details:   map[string]string{"type": string(sourceType), "type_origin": origin, "frequency": string(freq)},
	}

	switch {
	case sub.ExpectedVolume == 0:
	case sub.ExpectedVolume < 2:
		adjust -= 0.15
		result.Issues = append(result.Issues, fmt.Sprintf("expected volume of %d items per month is very low", sub.ExpectedVolume))
	case sub.ExpectedVolume > 5000:
		adjust -= 0.1
		result.Issues = append(result.Issues, fmt.Sprintf("expected volume of %d items per month needs bulk ingestion", sub.ExpectedVolume))
	}

	result.Score = models.Clamp01(base + adjust)
	if base < 0.6 {
		result.Issues = append(result.Issues, fmt.Sprintf("%s sources are costly to monitor", sourceType))
		result.Suggestions = append(result.Suggestions, "provide an rss feed or api endpoint if one exists")
	}
	return result, nil
}

func (v *Validator) checkSamples(ctx context.Context, sub *models.Submission, _ *pageLoader) (models.CheckResult, error) {
	samples := sub.SampleURLs
	if len(samples) == 0 {
		return models.CheckResult{
			Score:       0.3,
			Issues:      []string{"no sample urls provided"},
			Suggestions: []string{"add links to a few relevant items published by the source"},
		}, nil
	}
	if v.cfg.MaxSampleURLs > 0 && len(samples) > v.cfg.MaxSampleURLs {
		samples = samples[:v.cfg.MaxSampleURLs]
	}

	var (
		mu          sync.Mutex
		relevant    int
		unreachable []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(3)
	for _, sample := range samples {
		sample := sample
		g.Go(func() error {
			res, err := v.fetcher.Fetch(gctx, sample)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				unreachable = append(unreachable, sample)
				return nil
			}
			c := fetch.Extract(res)
			if v.vocab.Relevant(c.Title + " " + c.Text) {
				relevant++
			}
			return nil
		})
	}
	_ = g.Wait()

	share := float64(relevant) / float64(len(samples))
	result := models.CheckResult{
		Score:     share,
		SubScores: map[string]float64{"relevant_share": share},
		Details:   map[string]string{"checked": fmt.Sprint(len(samples)), "relevant": fmt.Sprint(relevant)},
	}
	if len(unreachable) > 0 {
		result.Issues = append(result.Issues, fmt.Sprintf("%d sample urls could not be fetched", len(unreachable)))
	}
	if share < 0.5 {
		result.Issues = append(result.Issues, "most sample items are not relevant")
		result.Suggestions = append(result.Suggestions, "choose samples that show typical relevant items")
	}
	return result, nil
}
