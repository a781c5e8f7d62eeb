package classifier

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/source-vetting/internal/config"
	"github.com/source-vetting/internal/fetch"
	"github.com/source-vetting/internal/models"
	"github.com/source-vetting/pkg/logger"
)

// refined confidences
const (
	confidenceFeedParsed = 0.95
	confidenceJSON       = 0.85
	confidenceDocument   = 0.95
	confidencePage       = 0.8
	confidenceClaimBonus = 0.05
)

// appRootSelector matches the mount points of client-rendered applications
const appRootSelector = `#root, #app, #__next, #__nuxt, [data-reactroot], [ng-app], [ng-version]`

// Classifier resolves a source's technical type and monitoring plan
type Classifier struct {
	cfg     config.ClassifierConfig
	fetcher fetch.ContentFetcher
	log     *logger.Logger
}

// New creates a classifier. fetcher may be nil, in which case only URL patterns are used.
func New(cfg config.ClassifierConfig, fetcher fetch.ContentFetcher, log *logger.Logger) *Classifier {
	return &Classifier{
		cfg:     cfg,
		fetcher: fetcher,
		log:     log.WithComponent("classifier"),
	}
}

// Classify resolves the type of an accepted submission. Content-based refinement runs only when
// the URL pattern is not conclusive. A failed refinement fetch falls back to the URL result.
func (c *Classifier) Classify(ctx context.Context, sub *models.Submission) (*models.SourceClassification, error) {
	log := c.log.WithSubmission(sub.ID)

	sourceType, confidence := ClassifyURL(sub.URL)
	phase := 1
	var signals *models.StructuralSignals

	if confidence < c.cfg.RefineBelow && c.fetcher != nil {
		res, err := c.fetcher.Fetch(ctx, sub.URL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Err(err).Msg("Refinement fetch failed, keeping URL classification")
		} else {
			sourceType, confidence, signals = Refine(res, sourceType, confidence)
			phase = 2
		}
	}

	if claimed := models.ParseSourceType(sub.ClaimedType); claimed == sourceType && claimed != models.SourceTypeUnknown {
		confidence = models.Clamp01(confidence + confidenceClaimBonus)
	}

	classification := &models.SourceClassification{
		SubmissionID: sub.ID,
		Type:         sourceType,
		Confidence:   confidence,
		Phase:        phase,
		Profile:      ProfileFor(sourceType),
		Monitoring:   MonitoringFor(sourceType, models.ParseUpdateFrequency(sub.ClaimedFrequency), signals),
		Signals:      signals,
	}

	log.Info().
		Str("type", string(sourceType)).
		Float64("confidence", confidence).
		Int("phase", phase).
		Msg("Source classified")

	return classification, nil
}

// Refine reclassifies from fetched content. It returns the input type unchanged when the
// content offers no better evidence.
func Refine(res *fetch.Result, current models.SourceType, confidence float64) (models.SourceType, float64, *models.StructuralSignals) {
	signals := &models.StructuralSignals{ContentType: res.ContentType}
	ct := res.ContentType

	if fetch.LooksLikeFeed(ct, res.Body) || strings.Contains(ct, "xml") {
		if feed, err := fetch.ParseFeed(res.Body); err == nil {
			signals.FeedMarkup = true
			signals.FeedItems = len(feed.Items)
			return models.SourceTypeRSSFeed, confidenceFeedParsed, signals
		}
	}

	switch {
	case strings.Contains(ct, "json"):
		return models.SourceTypeAPI, confidenceJSON, signals
	case strings.Contains(ct, "pdf"), strings.Contains(ct, "msword"), strings.Contains(ct, "officedocument"),
		strings.Contains(ct, "opendocument"), strings.Contains(ct, "text/csv"):
		return models.SourceTypeDocument, confidenceDocument, signals
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil || (!strings.Contains(ct, "html") && doc.Find("html, body").Length() == 0) {
		return current, confidence, signals
	}

	analyzeStructure(doc, len(res.Body), signals)
	if href, ok := doc.Find(`link[rel="alternate"][type*="rss"], link[rel="alternate"][type*="atom"]`).First().Attr("href"); ok {
		signals.AlternateFeed = resolve(res.FinalURL, href)
	}

	if signals.ScriptDensity > 0.6 || (signals.AppRoot && signals.TextDensity < 0.05) {
		return models.SourceTypeWebpageDynamic, confidencePage, signals
	}
	return models.SourceTypeWebpageStatic, confidencePage, signals
}

// analyzeStructure records script and text density. Densities are byte shares of the page.
func analyzeStructure(doc *goquery.Document, pageBytes int, signals *models.StructuralSignals) {
	scripts := doc.Find("script")
	signals.ScriptCount = scripts.Length()
	scriptBytes := 0
	scripts.Each(func(_ int, s *goquery.Selection) {
		scriptBytes += len(s.Text())
		if src, ok := s.Attr("src"); ok && src != "" {
			// External bundles weigh as much as a small inline script
			scriptBytes += 512
		}
	})
	signals.AppRoot = doc.Find(appRootSelector).Length() > 0

	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	textBytes := len(strings.Join(strings.Fields(body.Text()), " "))

	if total := scriptBytes + textBytes; total > 0 {
		signals.ScriptDensity = float64(scriptBytes) / float64(total)
	}
	if pageBytes > 0 {
		signals.TextDensity = models.Clamp01(float64(textBytes) / float64(pageBytes))
	}
}

func resolve(base, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	b, err := url.Parse(base)
	if err != nil || base == "" {
		return ref.String()
	}
	return b.ResolveReference(ref).String()
}
