package evaluation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/source-vetting/internal/config"
	"github.com/source-vetting/internal/models"
	"github.com/source-vetting/pkg/logger"
)

// ErrInsufficientData defers an evaluation; it is never scored as zero
var ErrInsufficientData = errors.New("insufficient data for evaluation")

// targetPeriod is the window length the configured targets refer to
const targetPeriod = 30 * 24 * time.Hour

// RawMetrics are the counts and rates reported for one source over one window
type RawMetrics struct {
	SourceID        string
	WindowStart     time.Time
	WindowEnd       time.Time
	MonitoringSince time.Time
	Volume          models.VolumeMetrics
	Quality         models.QualityMetrics
	Technical       models.TechnicalMetrics
	Value           models.ValueMetrics
}

// MetricsProvider reports ingestion metrics for a source
type MetricsProvider interface {
	GetMetrics(ctx context.Context, sourceID string, start, end time.Time) (*RawMetrics, error)
}

// Evaluator scores source performance
type Evaluator struct {
	cfg      config.EvaluationConfig
	provider MetricsProvider
	log      *logger.Logger
}

// New creates a performance evaluator
func New(cfg config.EvaluationConfig, provider MetricsProvider, log *logger.Logger) *Evaluator {
	return &Evaluator{
		cfg:      cfg,
		provider: provider,
		log:      log.WithComponent("evaluator"),
	}
}

// Evaluate fetches metrics for the window and scores them against the source's history.
// history must be ordered by EvaluatedAt ascending.
func (e *Evaluator) Evaluate(ctx context.Context, sourceID string, start, end time.Time, history []*models.PerformanceMetrics) (*models.PerformanceMetrics, error) {
	raw, err := e.provider.GetMetrics(ctx, sourceID, start, end)
	if err != nil {
		return nil, fmt.Errorf("get metrics for %s: %w", sourceID, err)
	}
	if raw.SourceID == "" {
		raw.SourceID = sourceID
	}
	if raw.WindowStart.IsZero() {
		raw.WindowStart = start
	}
	if raw.WindowEnd.IsZero() {
		raw.WindowEnd = end
	}
	if raw.MonitoringSince.IsZero() {
		raw.MonitoringSince = start
	}

	m, err := e.Score(raw, history)
	if err != nil {
		return nil, err
	}
	m.EvaluatedAt = end

	e.log.Info().
		Str("source_id", sourceID).
		Float64("overall", m.OverallScore).
		Str("status", string(m.Status)).
		Bool("minimums_met", m.MinimumsMet).
		Msg("Source evaluated")

	return m, nil
}

// Score computes group scores, gates, status band and trends. It performs no I/O.
func (e *Evaluator) Score(raw *RawMetrics, history []*models.PerformanceMetrics) (*models.PerformanceMetrics, error) {
	if err := e.sufficient(raw); err != nil {
		return nil, err
	}

	volume := raw.Volume
	volume.RelevanceRate = relevanceRate(volume)

	m := &models.PerformanceMetrics{
		SourceID:    raw.SourceID,
		EvaluatedAt: raw.WindowEnd,
		WindowStart: raw.WindowStart,
		WindowEnd:   raw.WindowEnd,
		Volume:      volume,
		Quality:     raw.Quality,
		Technical:   raw.Technical,
		Value:       raw.Value,
	}

	scale := raw.WindowEnd.Sub(raw.WindowStart).Hours() / targetPeriod.Hours()
	if scale <= 0 {
		scale = 1
	}

	m.VolumeScore = 0.5*ratio(float64(volume.TotalItems), e.cfg.TargetVolume*scale) + 0.5*volume.RelevanceRate
	m.QualityScore = 0.5*clamp(raw.Quality.ApprovalRate) + 0.3*(1-clamp(raw.Quality.DuplicateRate)) + 0.2*clamp(raw.Quality.Completeness)
	m.TechnicalScore = 0.6*clamp(raw.Technical.Reliability) + 0.2*e.latencyScore(raw.Technical.AverageLatency) + 0.2*(1-clamp(raw.Technical.ErrorRate))
	m.ValueScore = 0.5*ratio(float64(raw.Value.UniqueAccepted), e.cfg.TargetUnique*scale) +
		0.3*ratio(float64(raw.Value.HighValue), e.cfg.TargetHighValue*scale) +
		0.2*ratio(float64(raw.Value.DownstreamSuccesses), e.cfg.TargetDownstream*scale)

	w := e.cfg.Weights
	m.OverallScore = clamp(w.Volume*m.VolumeScore + w.Quality*m.QualityScore + w.Technical*m.TechnicalScore + w.Value*m.ValueScore)

	m.GateBreaches, m.FailingBreaches = e.gates(raw)
	m.MinimumsMet = len(m.GateBreaches) == 0
	m.Status = e.band(m.OverallScore)
	if len(m.FailingBreaches) > 0 {
		m.Status = models.PerformanceFailing
	}

	m.Trends = e.trends(m, history)
	m.Recommendations = e.recommend(m)
	return m, nil
}

func (e *Evaluator) sufficient(raw *RawMetrics) error {
	if raw.Volume.TotalItems < e.cfg.MinContributions {
		return fmt.Errorf("%w: %d contributions, need %d", ErrInsufficientData, raw.Volume.TotalItems, e.cfg.MinContributions)
	}
	since := raw.MonitoringSince
	if since.IsZero() {
		since = raw.WindowStart
	}
	days := raw.WindowEnd.Sub(since).Hours() / 24
	if days < float64(e.cfg.MinMonitoringDays) {
		return fmt.Errorf("%w: %.1f monitoring days, need %d", ErrInsufficientData, days, e.cfg.MinMonitoringDays)
	}
	return nil
}

func relevanceRate(v models.VolumeMetrics) float64 {
	if v.TotalItems <= 0 {
		return 0
	}
	weighted := float64(v.RelevanceCounts[models.RelevanceHigh]) + 0.5*float64(v.RelevanceCounts[models.RelevanceMedium])
	return clamp(weighted / float64(v.TotalItems))
}

func (e *Evaluator) latencyScore(latency time.Duration) float64 {
	good, bad := e.cfg.LatencyGood, e.cfg.LatencyBad
	switch {
	case latency <= good:
		return 1
	case latency >= bad:
		return 0
	default:
		return float64(bad-latency) / float64(bad-good)
	}
}

// gates returns breached hard minimums and breached failing thresholds
func (e *Evaluator) gates(raw *RawMetrics) (breaches, failing models.StringSlice) {
	minimum, fail := e.cfg.Minimums, e.cfg.Failing
	q, t := raw.Quality, raw.Technical

	if q.ApprovalRate < minimum.ApprovalRate {
		breaches = append(breaches, fmt.Sprintf("approval rate %.2f below minimum %.2f", q.ApprovalRate, minimum.ApprovalRate))
	}
	if q.DuplicateRate > minimum.DuplicateRate {
		breaches = append(breaches, fmt.Sprintf("duplicate rate %.2f above maximum %.2f", q.DuplicateRate, minimum.DuplicateRate))
	}
	if t.Reliability < minimum.Reliability {
		breaches = append(breaches, fmt.Sprintf("reliability %.2f below minimum %.2f", t.Reliability, minimum.Reliability))
	}

	if q.ApprovalRate < fail.ApprovalRate {
		failing = append(failing, fmt.Sprintf("approval rate %.2f below failing threshold %.2f", q.ApprovalRate, fail.ApprovalRate))
	}
	if t.Reliability < fail.Reliability {
		failing = append(failing, fmt.Sprintf("reliability %.2f below failing threshold %.2f", t.Reliability, fail.Reliability))
	}
	if q.DuplicateRate > fail.DuplicateRate {
		failing = append(failing, fmt.Sprintf("duplicate rate %.2f above failing threshold %.2f", q.DuplicateRate, fail.DuplicateRate))
	}
	return breaches, failing
}

func (e *Evaluator) band(score float64) models.PerformanceStatus {
	switch {
	case score >= e.cfg.ExcellentBand:
		return models.PerformanceExcellent
	case score >= e.cfg.GoodBand:
		return models.PerformanceGood
	case score >= e.cfg.AcceptableBand:
		return models.PerformanceAcceptable
	default:
		return models.PerformancePoor
	}
}

// trendValues are the per-metric values trends are computed over
func trendValues(m *models.PerformanceMetrics) map[string]float64 {
	return map[string]float64{
		"overall":       m.OverallScore,
		"volume":        m.VolumeScore,
		"quality":       m.QualityScore,
		"technical":     m.TechnicalScore,
		"value":         m.ValueScore,
		"approval_rate": m.Quality.ApprovalRate,
		"reliability":   m.Technical.Reliability,
	}
}

// trends compares the current evaluation with the mean of up to TrendWindow previous ones
func (e *Evaluator) trends(current *models.PerformanceMetrics, history []*models.PerformanceMetrics) map[string]models.Trend {
	if len(history) == 0 {
		return nil
	}
	window := e.cfg.TrendWindow
	if window <= 0 || window > len(history) {
		window = len(history)
	}
	recent := history[len(history)-window:]

	means := make(map[string]float64)
	for _, h := range recent {
		for k, v := range trendValues(h) {
			means[k] += v / float64(len(recent))
		}
	}

	out := make(map[string]models.Trend, len(means))
	for k, v := range trendValues(current) {
		delta := v - means[k]
		switch {
		case delta > e.cfg.TrendDelta:
			out[k] = models.TrendImproving
		case delta < -e.cfg.TrendDelta:
			out[k] = models.TrendDeclining
		default:
			out[k] = models.TrendStable
		}
	}
	return out
}

func (e *Evaluator) recommend(m *models.PerformanceMetrics) models.StringSlice {
	var recs models.StringSlice
	for _, b := range m.FailingBreaches {
		recs = append(recs, "failing: "+b)
	}
	for _, b := range m.GateBreaches {
		recs = append(recs, "below minimum: "+b)
	}
	if m.VolumeScore < 0.5 {
		recs = append(recs, "contribution volume or relevance is low; review monitoring scope")
	}
	if m.QualityScore < 0.5 {
		recs = append(recs, "item quality is low; tighten extraction and filtering")
	}
	if m.TechnicalScore < 0.5 {
		recs = append(recs, "monitoring is unreliable; review fetch configuration")
	}
	if m.ValueScore < 0.5 {
		recs = append(recs, "few unique high-value items; consider whether the source adds coverage")
	}
	if m.Trends["overall"] == models.TrendDeclining {
		recs = append(recs, "overall performance is declining compared to previous evaluations")
	}
	if m.Trends["overall"] == models.TrendImproving {
		recs = append(recs, "overall performance is improving")
	}
	return recs
}

func ratio(v, target float64) float64 {
	if target <= 0 {
		return 1
	}
	return math.Min(v/target, 1)
}

func clamp(v float64) float64 {
	return models.Clamp01(v)
}
