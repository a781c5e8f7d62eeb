package dedup

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/source-vetting/internal/config"
	"github.com/source-vetting/internal/models"
	"github.com/source-vetting/pkg/logger"
)

// SemanticScorer is the optional embedding/LLM similarity capability
type SemanticScorer interface {
	Similarity(ctx context.Context, a, b string) (float64, error)
}

// Probe carries the normalized keys a corpus uses to pre-filter candidates
type Probe struct {
	ID              string
	NormalizedURL   string
	ContentHash     string
	Domain          string
	OrganizationKey string
}

// Corpus is the existing content the engine compares against.
// Implementations return at most limit candidates, exact url/hash matches first.
type Corpus interface {
	Candidates(ctx context.Context, probe Probe, limit int) ([]*models.Opportunity, error)
}

// metadata component weights
const (
	orgWeight      = 0.4
	amountWeight   = 0.3
	deadlineWeight = 0.3
)

// signalOrder breaks ties between equal signals
var signalOrder = []models.MatchType{
	models.MatchURL,
	models.MatchContent,
	models.MatchMetadata,
	models.MatchSemantic,
}

// Engine decides whether a content record duplicates something in the corpus
type Engine struct {
	cfg      config.DedupConfig
	corpus   Corpus
	semantic SemanticScorer
	log      *logger.Logger
}

// NewEngine creates a deduplication engine. semantic may be nil.
func NewEngine(cfg config.DedupConfig, corpus Corpus, semantic SemanticScorer, log *logger.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		corpus:   corpus,
		semantic: semantic,
		log:      log.WithComponent("dedup"),
	}
}

// Prepare fills the derived comparison keys of a record in place
func Prepare(rec *models.Opportunity) {
	if rec.URL != "" {
		if normalized, err := NormalizeURL(rec.URL); err == nil {
			rec.NormalizedURL = normalized
			rec.Domain = RegistrableDomain(normalized)
		}
	}
	rec.ContentHash = ContentHash(rec.Title, rec.Description)
	rec.OrganizationKey = OrganizationKey(rec.Organization)
}

// Check compares a record against a bounded candidate set drawn from the corpus
func (e *Engine) Check(ctx context.Context, rec *models.Opportunity) (*models.DuplicateMatch, error) {
	Prepare(rec)
	if e.corpus == nil {
		return e.Match(ctx, rec, nil), nil
	}

	candidates, err := e.corpus.Candidates(ctx, Probe{
		ID:              rec.ID,
		NormalizedURL:   rec.NormalizedURL,
		ContentHash:     rec.ContentHash,
		Domain:          rec.Domain,
		OrganizationKey: rec.OrganizationKey,
	}, e.cfg.CandidateCap)
	if err != nil {
		return nil, fmt.Errorf("load dedup candidates: %w", err)
	}

	return e.Match(ctx, rec, candidates), nil
}

type scoredCandidate struct {
	cand     *models.Opportunity
	signals  map[models.MatchType]float64
	combined float64
	coverage float64
	exact    models.MatchType
}

// Match runs every signal check of rec against the given candidates and applies the decision policy
func (e *Engine) Match(ctx context.Context, rec *models.Opportunity, candidates []*models.Opportunity) *models.DuplicateMatch {
	if rec.ContentHash == "" && rec.NormalizedURL == "" {
		Prepare(rec)
	}
	if e.cfg.CandidateCap > 0 && len(candidates) > e.cfg.CandidateCap {
		candidates = candidates[:e.cfg.CandidateCap]
	}

	result := &models.DuplicateMatch{
		Action:        models.ActionProceed,
		MatchType:     models.MatchNone,
		NormalizedURL: rec.NormalizedURL,
		ContentHash:   rec.ContentHash,
	}

	scored := make([]*scoredCandidate, 0, len(candidates))
	for _, cand := range candidates {
		if cand == nil || (rec.ID != "" && cand.ID == rec.ID) {
			continue
		}
		if cand.ContentHash == "" && cand.NormalizedURL == "" {
			Prepare(cand)
		}
		scored = append(scored, &scoredCandidate{cand: cand, signals: e.compare(rec, cand)})
	}
	result.CandidatesSeen = len(scored)

	e.addSemantic(ctx, rec, scored)

	var best *scoredCandidate
	for _, sc := range scored {
		sc.combined, sc.coverage = e.combine(sc.signals)
		sc.exact = e.exactHit(sc.signals)
		if best == nil || better(sc, best) {
			best = sc
		}
	}

	if best == nil {
		result.Reasons = []string{"no comparable candidates in corpus"}
		return result
	}

	result.MatchedID = best.cand.ID
	result.Signals = best.signals
	result.MatchType = strongestSignal(best.signals)

	switch {
	case best.exact != "":
		result.Action = models.ActionSkip
		result.MatchType = best.exact
		result.Similarity = best.signals[best.exact]
		result.Confidence = result.Similarity
		result.Reasons = []string{fmt.Sprintf("%s signal %.2f reached exact-duplicate cutoff against %s",
			best.exact, result.Similarity, best.cand.ID)}
	case best.combined >= e.cfg.MergeThreshold:
		result.Action = models.ActionMerge
		result.Similarity = best.combined
		result.Confidence = best.combined * best.coverage
		result.Reasons = []string{fmt.Sprintf("combined similarity %.2f >= merge threshold %.2f", best.combined, e.cfg.MergeThreshold)}
	case best.combined >= e.cfg.ReviewThreshold:
		result.Action = models.ActionFlagForReview
		result.Similarity = best.combined
		result.Confidence = best.combined * best.coverage
		result.Reasons = []string{fmt.Sprintf("combined similarity %.2f in review band [%.2f, %.2f)",
			best.combined, e.cfg.ReviewThreshold, e.cfg.MergeThreshold)}
	default:
		result.Similarity = best.combined
		result.Confidence = best.combined * best.coverage
	}

	e.log.Debug().
		Str("action", string(result.Action)).
		Str("match_type", string(result.MatchType)).
		Float64("similarity", result.Similarity).
		Str("matched_id", result.MatchedID).
		Int("candidates", result.CandidatesSeen).
		Msg("Dedup decision")

	return result
}

// better orders candidates: exact hits first, then by decisive signal, then by combined score
func better(a, b *scoredCandidate) bool {
	if (a.exact != "") != (b.exact != "") {
		return a.exact != ""
	}
	if a.exact != "" {
		return a.signals[a.exact] > b.signals[b.exact]
	}
	return a.combined > b.combined
}

func strongestSignal(signals map[models.MatchType]float64) models.MatchType {
	best := models.MatchNone
	bestScore := 0.0
	for _, t := range signalOrder {
		if v, ok := signals[t]; ok && v > bestScore {
			best, bestScore = t, v
		}
	}
	return best
}

// compare computes the url, content and metadata signals for one pair. Absent signals are omitted.
func (e *Engine) compare(rec, cand *models.Opportunity) map[models.MatchType]float64 {
	signals := make(map[models.MatchType]float64, 4)

	if rec.NormalizedURL != "" && cand.NormalizedURL != "" {
		if rec.NormalizedURL == cand.NormalizedURL {
			signals[models.MatchURL] = 1
		} else {
			signals[models.MatchURL] = 0
		}
	}

	if rec.Title != "" && cand.Title != "" {
		signals[models.MatchContent] = contentSimilarity(rec, cand)
	}

	if v, ok := e.metadataSimilarity(rec, cand); ok {
		signals[models.MatchMetadata] = v
	}

	return signals
}

func contentSimilarity(a, b *models.Opportunity) float64 {
	if a.ContentHash != "" && a.ContentHash == b.ContentHash {
		return 1
	}
	titleRatio := EditRatio(NormalizeText(a.Title), NormalizeText(b.Title))
	if strings.TrimSpace(a.Description) == "" && strings.TrimSpace(b.Description) == "" {
		return titleRatio
	}
	body := Cosine(
		NewFingerprint(NormalizeText(a.Title+" "+a.Description)),
		NewFingerprint(NormalizeText(b.Title+" "+b.Description)),
	)
	return (titleRatio + body) / 2
}

// metadataSimilarity returns the weighted organization/amount/deadline score and whether
// any component was comparable. The score only reaches 1.0 when all three components are present.
func (e *Engine) metadataSimilarity(a, b *models.Opportunity) (float64, bool) {
	var total, weight float64
	components := 0

	if a.OrganizationKey != "" && b.OrganizationKey != "" {
		org := EditRatio(a.OrganizationKey, b.OrganizationKey)
		if cos := Cosine(NewFingerprint(a.OrganizationKey), NewFingerprint(b.OrganizationKey)); cos > org {
			org = cos
		}
		total += orgWeight * org
		weight += orgWeight
		components++
	}

	if a.Amount.Valid && b.Amount.Valid {
		total += amountWeight * amountSimilarity(a, b, e.cfg.AmountTolerance)
		weight += amountWeight
		components++
	}

	if a.Deadline != nil && b.Deadline != nil {
		total += deadlineWeight * deadlineSimilarity(*a.Deadline, *b.Deadline, e.cfg.DeadlineTolerance)
		weight += deadlineWeight
		components++
	}

	if weight == 0 {
		return 0, false
	}
	score := total / weight
	if components < 3 && score >= 1 {
		// Partial metadata can never prove an exact duplicate
		score = 0.99
	}
	return score, true
}

func amountSimilarity(a, b *models.Opportunity, tolerance float64) float64 {
	if a.Currency != "" && b.Currency != "" && !strings.EqualFold(a.Currency, b.Currency) {
		return 0
	}
	x, y := a.Amount.Decimal, b.Amount.Decimal
	if x.Equal(y) {
		return 1
	}
	larger := decimal.Max(x.Abs(), y.Abs())
	if larger.IsZero() || tolerance <= 0 {
		return 0
	}
	rel, _ := x.Sub(y).Abs().Div(larger).Float64()
	if rel > tolerance {
		return 0
	}
	return 1 - 0.5*rel/tolerance
}

func deadlineSimilarity(a, b time.Time, tolerance time.Duration) float64 {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	if diff == 0 {
		return 1
	}
	if tolerance <= 0 || diff > tolerance {
		return 0
	}
	return 1 - 0.5*float64(diff)/float64(tolerance)
}

// addSemantic scores the top candidates by content similarity with the semantic capability
func (e *Engine) addSemantic(ctx context.Context, rec *models.Opportunity, scored []*scoredCandidate) {
	if e.semantic == nil || !e.cfg.SemanticEnabled || len(scored) == 0 {
		return
	}

	ranked := make([]*scoredCandidate, len(scored))
	copy(ranked, scored)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].signals[models.MatchContent] > ranked[j].signals[models.MatchContent]
	})

	limit := e.cfg.SemanticCandidates
	if limit <= 0 || limit > len(ranked) {
		limit = len(ranked)
	}

	text := recordText(rec)
	for _, sc := range ranked[:limit] {
		sim, err := e.semantic.Similarity(ctx, text, recordText(sc.cand))
		if err != nil {
			e.log.Warn().Err(err).Str("candidate_id", sc.cand.ID).Msg("Semantic similarity unavailable, signal dropped")
			continue
		}
		sc.signals[models.MatchSemantic] = models.Clamp01(sim)
	}
}

func recordText(rec *models.Opportunity) string {
	return strings.TrimSpace(rec.Title + "\n" + rec.Description)
}

func (e *Engine) weight(t models.MatchType) float64 {
	switch t {
	case models.MatchURL:
		return e.cfg.Weights.URL
	case models.MatchContent:
		return e.cfg.Weights.Content
	case models.MatchMetadata:
		return e.cfg.Weights.Metadata
	case models.MatchSemantic:
		return e.cfg.Weights.Semantic
	}
	return 0
}

func (e *Engine) cutoff(t models.MatchType) float64 {
	switch t {
	case models.MatchURL:
		return e.cfg.Cutoffs.URL
	case models.MatchContent:
		return e.cfg.Cutoffs.Content
	case models.MatchMetadata:
		return e.cfg.Cutoffs.Metadata
	case models.MatchSemantic:
		return e.cfg.Cutoffs.Semantic
	}
	return 2
}

// combine returns the weighted score over present signals and the share of total weight they cover
func (e *Engine) combine(signals map[models.MatchType]float64) (float64, float64) {
	var sum, weight float64
	for t, v := range signals {
		w := e.weight(t)
		sum += w * v
		weight += w
	}
	if weight == 0 {
		return 0, 0
	}
	total := e.cfg.Weights.Sum()
	coverage := 1.0
	if total > 0 {
		coverage = weight / total
	}
	return sum / weight, coverage
}

func (e *Engine) exactHit(signals map[models.MatchType]float64) models.MatchType {
	hit := models.MatchType("")
	hitScore := 0.0
	for _, t := range signalOrder {
		v, ok := signals[t]
		if !ok {
			continue
		}
		if v >= e.cutoff(t) && v > hitScore {
			hit, hitScore = t, v
		}
	}
	return hit
}
