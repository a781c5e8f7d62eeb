package evaluation

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/source-vetting/internal/config"
	"github.com/source-vetting/internal/models"
	"github.com/source-vetting/pkg/logger"
)

var windowStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func newEvaluator(p MetricsProvider) *Evaluator {
	return New(config.Default().Evaluation, p, logger.Nop())
}

// healthyPilot is a 30-day window with every hard minimum met
func healthyPilot() *RawMetrics {
	return &RawMetrics{
		SourceID:    "src-a",
		WindowStart: windowStart,
		WindowEnd:   windowStart.Add(30 * 24 * time.Hour),
		Volume: models.VolumeMetrics{
			TotalItems: 20,
			RelevanceCounts: map[string]int{
				models.RelevanceHigh:   12,
				models.RelevanceMedium: 6,
				models.RelevanceLow:    2,
			},
		},
		Quality:   models.QualityMetrics{ApprovalRate: 0.75, DuplicateRate: 0.10, Completeness: 0.9},
		Technical: models.TechnicalMetrics{Reliability: 0.97, AverageLatency: 4 * time.Second, ErrorRate: 0.03},
		Value:     models.ValueMetrics{UniqueAccepted: 9, HighValue: 2, DownstreamSuccesses: 1},
	}
}

// weakPilot misses the approval and reliability minimums without reaching failing levels
func weakPilot() *RawMetrics {
	return &RawMetrics{
		SourceID:    "src-b",
		WindowStart: windowStart,
		WindowEnd:   windowStart.Add(30 * 24 * time.Hour),
		Volume: models.VolumeMetrics{
			TotalItems: 10,
			RelevanceCounts: map[string]int{
				models.RelevanceHigh:   4,
				models.RelevanceMedium: 2,
				models.RelevanceLow:    4,
			},
		},
		Quality:   models.QualityMetrics{ApprovalRate: 0.55, DuplicateRate: 0.15, Completeness: 0.6},
		Technical: models.TechnicalMetrics{Reliability: 0.90, AverageLatency: 8 * time.Second, ErrorRate: 0.10},
		Value:     models.ValueMetrics{UniqueAccepted: 3},
	}
}

func approx(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestScoreHealthyPilot(t *testing.T) {
	t.Parallel()

	m, err := newEvaluator(nil).Score(healthyPilot(), nil)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if !approx(m.VolumeScore, 0.875, 1e-9) || !approx(m.QualityScore, 0.825, 1e-9) ||
		!approx(m.TechnicalScore, 0.926, 1e-9) || !approx(m.ValueScore, 0.52, 1e-9) {
		t.Fatalf("group scores volume=%v quality=%v technical=%v value=%v",
			m.VolumeScore, m.QualityScore, m.TechnicalScore, m.ValueScore)
	}
	if !approx(m.OverallScore, 0.82, 0.01) {
		t.Fatalf("overall=%v want ~0.82", m.OverallScore)
	}
	if !m.MinimumsMet || m.Status != models.PerformanceGood {
		t.Fatalf("minimums=%v status=%s breaches=%v", m.MinimumsMet, m.Status, m.GateBreaches)
	}
}

func TestScoreWeakPilot(t *testing.T) {
	t.Parallel()

	m, err := newEvaluator(nil).Score(weakPilot(), nil)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if !approx(m.OverallScore, 0.55, 0.02) || m.OverallScore < 0.4 || m.OverallScore >= 0.6 {
		t.Fatalf("overall=%v want ~0.55 inside the extend band", m.OverallScore)
	}
	if m.MinimumsMet || len(m.GateBreaches) != 2 {
		t.Fatalf("breaches=%v", m.GateBreaches)
	}
	if m.Failing() || len(m.FailingBreaches) != 0 {
		t.Fatalf("status=%s failing=%v", m.Status, m.FailingBreaches)
	}
	if len(m.Recommendations) == 0 {
		t.Fatalf("expected recommendations")
	}
}

func TestFailingOverridesBand(t *testing.T) {
	t.Parallel()

	raw := healthyPilot()
	raw.Technical.Reliability = 0.79
	m, err := newEvaluator(nil).Score(raw, nil)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if m.Status != models.PerformanceFailing {
		t.Fatalf("status=%s overall=%v", m.Status, m.OverallScore)
	}
}

func TestInsufficientData(t *testing.T) {
	t.Parallel()

	e := newEvaluator(nil)

	few := healthyPilot()
	few.Volume.TotalItems = 9
	if _, err := e.Score(few, nil); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData for 9 contributions, got %v", err)
	}

	short := healthyPilot()
	short.MonitoringSince = short.WindowEnd.Add(-3 * 24 * time.Hour)
	if _, err := e.Score(short, nil); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData for 3 monitoring days, got %v", err)
	}
}

func TestOverallMonotonicInEachInput(t *testing.T) {
	t.Parallel()

	e := newEvaluator(nil)
	improvements := map[string]func(*RawMetrics){
		"total items":     func(r *RawMetrics) { r.Volume.TotalItems += 5; r.Volume.RelevanceCounts[models.RelevanceHigh] += 5 },
		"high relevance":  func(r *RawMetrics) { r.Volume.RelevanceCounts[models.RelevanceHigh] += 2; r.Volume.RelevanceCounts[models.RelevanceLow] -= 2 },
		"approval":        func(r *RawMetrics) { r.Quality.ApprovalRate += 0.1 },
		"duplicates":      func(r *RawMetrics) { r.Quality.DuplicateRate -= 0.05 },
		"completeness":    func(r *RawMetrics) { r.Quality.Completeness += 0.05 },
		"reliability":     func(r *RawMetrics) { r.Technical.Reliability += 0.02 },
		"latency":         func(r *RawMetrics) { r.Technical.AverageLatency -= time.Second },
		"errors":          func(r *RawMetrics) { r.Technical.ErrorRate -= 0.02 },
		"unique":          func(r *RawMetrics) { r.Value.UniqueAccepted += 3 },
		"high value":      func(r *RawMetrics) { r.Value.HighValue += 1 },
		"downstream":      func(r *RawMetrics) { r.Value.DownstreamSuccesses += 1 },
		"saturated total": func(r *RawMetrics) { r.Volume.TotalItems += 100; r.Volume.RelevanceCounts[models.RelevanceHigh] += 100 },
	}

	for _, base := range []func() *RawMetrics{healthyPilot, weakPilot} {
		before, err := e.Score(base(), nil)
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		for name, improve := range improvements {
			raw := base()
			improve(raw)
			after, err := e.Score(raw, nil)
			if err != nil {
				t.Fatalf("%s: Score: %v", name, err)
			}
			if after.OverallScore < before.OverallScore {
				t.Fatalf("%s: overall decreased %v -> %v", name, before.OverallScore, after.OverallScore)
			}
		}
	}
}

func TestTrends(t *testing.T) {
	t.Parallel()

	e := newEvaluator(nil)
	history := []*models.PerformanceMetrics{
		{OverallScore: 0.50, QualityScore: 0.80},
		{OverallScore: 0.55, QualityScore: 0.82},
		{OverallScore: 0.60, QualityScore: 0.81},
	}

	m, err := e.Score(healthyPilot(), history)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if m.Trends["overall"] != models.TrendImproving {
		t.Fatalf("overall trend=%s", m.Trends["overall"])
	}
	if m.Trends["quality"] != models.TrendStable {
		t.Fatalf("quality trend=%s", m.Trends["quality"])
	}

	fresh, _ := e.Score(healthyPilot(), nil)
	if len(fresh.Trends) != 0 {
		t.Fatalf("no history must produce no trends: %v", fresh.Trends)
	}
	// Trends are advisory
	if fresh.OverallScore != m.OverallScore || fresh.Status != m.Status {
		t.Fatalf("trend changed the score or status")
	}
}

type stubProvider struct {
	raw *RawMetrics
	err error
}

func (s *stubProvider) GetMetrics(context.Context, string, time.Time, time.Time) (*RawMetrics, error) {
	return s.raw, s.err
}

func TestEvaluateUsesProviderWindow(t *testing.T) {
	t.Parallel()

	raw := healthyPilot()
	raw.SourceID, raw.WindowStart, raw.WindowEnd = "", time.Time{}, time.Time{}
	e := newEvaluator(&stubProvider{raw: raw})

	end := windowStart.Add(30 * 24 * time.Hour)
	m, err := e.Evaluate(context.Background(), "src-x", windowStart, end, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if m.SourceID != "src-x" || !m.EvaluatedAt.Equal(end) || !m.WindowStart.Equal(windowStart) {
		t.Fatalf("metrics=%+v", m)
	}

	failing := newEvaluator(&stubProvider{err: errors.New("metrics service down")})
	if _, err := failing.Evaluate(context.Background(), "src-x", windowStart, end, nil); err == nil {
		t.Fatalf("expected provider error")
	}
}
