package pilot

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/source-vetting/internal/config"
	"github.com/source-vetting/internal/dedup"
	"github.com/source-vetting/internal/evaluation"
	"github.com/source-vetting/internal/lease"
	"github.com/source-vetting/internal/models"
	"github.com/source-vetting/internal/notify"
	"github.com/source-vetting/internal/storage"
	"github.com/source-vetting/internal/storage/sqlite"
	"github.com/source-vetting/pkg/logger"
)

type fakeAdmitter struct {
	mu     sync.Mutex
	result models.ValidationResult
	err    error
	calls  int
}

func (a *fakeAdmitter) Validate(_ context.Context, sub *models.Submission) (*models.ValidationResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	out := a.result
	out.SubmissionID = sub.ID
	return &out, nil
}

type fakeClassifier struct{}

func (fakeClassifier) Classify(_ context.Context, sub *models.Submission) (*models.SourceClassification, error) {
	return &models.SourceClassification{
		SubmissionID: sub.ID,
		Type:         models.SourceTypeRSSFeed,
		Confidence:   0.95,
		Phase:        1,
		Monitoring:   models.MonitoringConfig{CheckInterval: 24 * time.Hour, RetryCount: 3},
	}, nil
}

type stubProvider struct {
	mu  sync.Mutex
	raw func() *evaluation.RawMetrics
}

func (p *stubProvider) set(raw func() *evaluation.RawMetrics) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.raw = raw
}

func (p *stubProvider) GetMetrics(context.Context, string, time.Time, time.Time) (*evaluation.RawMetrics, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.raw(), nil
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Emit(_ context.Context, e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count(t notify.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// healthy meets every minimum and scores about 0.82
func healthy() *evaluation.RawMetrics {
	return &evaluation.RawMetrics{
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

// weak misses two minimums without failing and scores about 0.55
func weak() *evaluation.RawMetrics {
	return &evaluation.RawMetrics{
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

func sparse() *evaluation.RawMetrics {
	raw := healthy()
	raw.Volume.TotalItems = 4
	return raw
}

type fixture struct {
	svc      *Service
	repo     *sqlite.Repository
	admitter *fakeAdmitter
	provider *stubProvider
	events   *recorder
	now      time.Time
}

var t0 = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo, err := sqlite.New(filepath.Join(t.TempDir(), "vetting.db"))
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	if err := repo.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	cfg := config.Default()
	log := logger.Nop()
	f := &fixture{
		repo: repo,
		admitter: &fakeAdmitter{result: models.ValidationResult{
			Score:          0.85,
			Recommendation: models.RecommendationAccept,
		}},
		provider: &stubProvider{raw: healthy},
		events:   &recorder{},
		now:      t0,
	}
	evaluator := evaluation.New(cfg.Evaluation, f.provider, log)
	engine := dedup.NewEngine(cfg.Dedup, repo, nil, log)
	f.svc = NewService(cfg, repo, f.admitter, fakeClassifier{}, evaluator, engine, lease.NewMemory(), f.events, log)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func submission(url string) models.SourceSubmission {
	return models.SourceSubmission{
		Name:             "Example Foundation Grants",
		URL:              url,
		ContactName:      "Ada",
		ContactEmail:     "ada@example.org",
		ContactRole:      "Communications Director",
		ClaimedType:      "rss",
		ClaimedFrequency: "weekly",
		HasPermission:    true,
	}
}

// admitted creates a submission and drives it to PILOT_ACTIVE at t0
func (f *fixture) admitted(t *testing.T, url string) *models.Submission {
	t.Helper()
	ctx := context.Background()

	sub, err := f.svc.CreateSubmission(ctx, submission(url))
	if err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
	sub, err = f.svc.Advance(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if sub.Status != models.StatusApprovedForPilot {
		t.Fatalf("status=%s want approved_for_pilot", sub.Status)
	}
	if _, err := f.svc.StartPilot(ctx, sub.ID); err != nil {
		t.Fatalf("StartPilot: %v", err)
	}
	return sub
}

func (f *fixture) status(t *testing.T, id string) *models.Submission {
	t.Helper()
	sub, err := f.repo.GetSubmission(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	return sub
}

func TestScenarioAcceptThenPromote(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	sub := f.admitted(t, "https://example.org/grants/feed")

	pilot, err := f.repo.GetPilot(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetPilot: %v", err)
	}
	if pilot.ExtensionCount != 0 || pilot.EndDate.Sub(pilot.StartDate) != 30*24*time.Hour {
		t.Fatalf("pilot=%+v", pilot)
	}

	f.now = t0.Add(30 * 24 * time.Hour)
	result, err := f.svc.SweepPilots(ctx)
	if err != nil {
		t.Fatalf("SweepPilots: %v", err)
	}
	if result.Succeeded != 1 || len(result.Errors) != 0 {
		t.Fatalf("sweep=%+v", result)
	}

	if got := f.status(t, sub.ID); got.Status != models.StatusProductionActive {
		t.Fatalf("status=%s reasons=%v", got.Status, got.StatusReasons)
	}
	m, err := f.repo.LatestMetrics(ctx, sub.ID)
	if err != nil {
		t.Fatalf("LatestMetrics: %v", err)
	}
	if math.Abs(m.OverallScore-0.82) > 0.01 || !m.MinimumsMet {
		t.Fatalf("overall=%v minimums=%v", m.OverallScore, m.MinimumsMet)
	}

	history, _ := f.repo.StatusHistory(ctx, sub.ID)
	var path []models.Status
	for _, h := range history {
		path = append(path, h.To)
	}
	want := []models.Status{
		models.StatusSubmitted,
		models.StatusValidating,
		models.StatusApprovedForPilot,
		models.StatusPilotActive,
		models.StatusPilotEvaluation,
		models.StatusApprovedForProduction,
		models.StatusProductionActive,
	}
	if len(path) != len(want) {
		t.Fatalf("path=%v", path)
	}
	for i := range want {
		if path[i] != want[i] {
			t.Fatalf("path=%v want %v", path, want)
		}
	}
	if f.events.count(notify.EventStatusChanged) != len(want) {
		t.Fatalf("status events=%d want %d", f.events.count(notify.EventStatusChanged), len(want))
	}
}

func TestScenarioWeakPilotExtendsOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	sub := f.admitted(t, "https://example.org/grants/feed")
	f.provider.set(weak)

	f.now = t0.Add(30 * 24 * time.Hour)
	if _, err := f.svc.TriggerEvaluation(ctx, sub.ID, false); err != nil {
		t.Fatalf("TriggerEvaluation: %v", err)
	}

	got := f.status(t, sub.ID)
	if got.Status != models.StatusPilotActive || len(got.StatusReasons) == 0 {
		t.Fatalf("status=%s reasons=%v", got.Status, got.StatusReasons)
	}
	pilot, _ := f.repo.GetPilot(ctx, sub.ID)
	if pilot.ExtensionCount != 1 || pilot.Status != models.PilotStatusExtended {
		t.Fatalf("pilot=%+v", pilot)
	}
	if !pilot.EndDate.Equal(t0.Add(60 * 24 * time.Hour)) {
		t.Fatalf("end=%s", pilot.EndDate)
	}
	m, _ := f.repo.LatestMetrics(ctx, sub.ID)
	if m.MinimumsMet || m.Failing() || m.OverallScore < 0.4 || m.OverallScore >= 0.6 {
		t.Fatalf("metrics overall=%v minimums=%v status=%s", m.OverallScore, m.MinimumsMet, m.Status)
	}
	if f.events.count(notify.EventPilotExtended) != 1 {
		t.Fatalf("expected one extension event")
	}
}

func TestExtensionLimitRejects(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	sub := f.admitted(t, "https://example.org/grants/feed")
	f.provider.set(weak)

	for i := 1; i <= 3; i++ {
		f.now = t0.Add(time.Duration(i*30) * 24 * time.Hour)
		if _, err := f.svc.TriggerEvaluation(ctx, sub.ID, false); err != nil {
			t.Fatalf("evaluation %d: %v", i, err)
		}
		pilot, _ := f.repo.GetPilot(ctx, sub.ID)
		if pilot.ExtensionCount > pilot.MaxExtensions {
			t.Fatalf("extension count %d exceeds max %d", pilot.ExtensionCount, pilot.MaxExtensions)
		}
	}

	got := f.status(t, sub.ID)
	if got.Status != models.StatusDeprecated {
		t.Fatalf("status=%s", got.Status)
	}
	if !strings.Contains(strings.Join(got.StatusReasons, " "), "extension limit reached") {
		t.Fatalf("reasons=%v", got.StatusReasons)
	}
	pilot, _ := f.repo.GetPilot(ctx, sub.ID)
	if pilot.ExtensionCount != 2 || pilot.Status != models.PilotStatusRejected {
		t.Fatalf("pilot=%+v", pilot)
	}
}

func TestScenarioDuplicateSourceNeverValidates(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	first := f.admitted(t, "https://example.org/grants/feed")
	f.now = t0.Add(30 * 24 * time.Hour)
	if _, err := f.svc.TriggerEvaluation(ctx, first.ID, false); err != nil {
		t.Fatalf("TriggerEvaluation: %v", err)
	}
	if f.status(t, first.ID).Status != models.StatusProductionActive {
		t.Fatalf("first source not in production")
	}

	calls := f.admitter.calls
	dup, err := f.svc.CreateSubmission(ctx, submission("http://www.Example.org/grants/feed/?utm_source=newsletter"))
	if !errors.Is(err, ErrDuplicateSource) {
		t.Fatalf("expected ErrDuplicateSource, got %v", err)
	}
	if dup == nil || dup.Status != models.StatusRejected {
		t.Fatalf("duplicate=%+v", dup)
	}

	stored := f.status(t, dup.ID)
	if stored.Status != models.StatusRejected || stored.StatusReasons[0] != ReasonDuplicateSource {
		t.Fatalf("stored=%s reasons=%v", stored.Status, stored.StatusReasons)
	}
	history, _ := f.repo.StatusHistory(ctx, dup.ID)
	for _, h := range history {
		if h.To == models.StatusValidating {
			t.Fatalf("duplicate entered validating")
		}
	}
	result, err := f.repo.LatestValidationResult(ctx, dup.ID)
	if err != nil || result.Issues[0] != ReasonDuplicateSource {
		t.Fatalf("validation=%+v err=%v", result, err)
	}
	if f.admitter.calls != calls {
		t.Fatalf("validator ran for a duplicate source")
	}

	// Advancing a rejected duplicate does nothing
	again, err := f.svc.Advance(ctx, dup.ID)
	if err != nil || again.Status != models.StatusRejected {
		t.Fatalf("advance duplicate: status=%v err=%v", again, err)
	}
}

func TestManualReviewApproveThenLateWithdraw(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.admitter.result = models.ValidationResult{
		Score:          0.65,
		Recommendation: models.RecommendationManualReview,
		ReviewPriority: models.PriorityHigh,
		Issues:         models.StringSlice{"authority unclear"},
		Suggestions:    models.StringSlice{"use an organizational email"},
	}

	sub, err := f.svc.CreateSubmission(ctx, submission("https://example.org/grants/feed"))
	if err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
	sub, err = f.svc.Advance(ctx, sub.ID)
	if err != nil || sub.Status != models.StatusManualReviewPending {
		t.Fatalf("status=%v err=%v", sub.Status, err)
	}

	queue, _ := f.repo.ListReviews(ctx, storage.PendingReviews(10))
	if len(queue) != 1 || queue[0].Priority != models.PriorityHigh {
		t.Fatalf("queue=%+v", queue)
	}

	sub, err = f.svc.ResolveManualReview(ctx, sub.ID, models.DecisionApprove, "known partner", "kim")
	if err != nil {
		t.Fatalf("ResolveManualReview: %v", err)
	}
	if sub.Status != models.StatusApprovedForPilot {
		t.Fatalf("status=%s", sub.Status)
	}
	if _, err := f.repo.GetPilot(ctx, sub.ID); err != nil {
		t.Fatalf("approved submission has no pilot: %v", err)
	}

	res, err := f.svc.Withdraw(ctx, sub.ID, "changed my mind")
	if err != nil {
		t.Fatalf("late withdrawal must not error: %v", err)
	}
	if res.Applied || res.Status != models.StatusApprovedForPilot {
		t.Fatalf("withdraw=%+v", res)
	}
	if _, err := f.svc.ResolveManualReview(ctx, sub.ID, models.DecisionReject, "", "kim"); !errors.Is(err, ErrNoPendingReview) {
		t.Fatalf("expected ErrNoPendingReview, got %v", err)
	}
}

func TestWithdrawPendingReview(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.admitter.result = models.ValidationResult{
		Score:          0.45,
		Recommendation: models.RecommendationManualReview,
		ReviewPriority: models.PriorityLow,
		Issues:         models.StringSlice{"low relevance"},
	}

	sub, _ := f.svc.CreateSubmission(ctx, submission("https://example.org/grants/feed"))
	if _, err := f.svc.Advance(ctx, sub.ID); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	res, err := f.svc.Withdraw(ctx, sub.ID, "")
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if !res.Applied || res.Status != models.StatusRejected {
		t.Fatalf("withdraw=%+v", res)
	}
	got := f.status(t, sub.ID)
	if got.StatusReasons[0] != ReasonWithdrawn {
		t.Fatalf("reasons=%v", got.StatusReasons)
	}
	item, _ := f.repo.LatestReview(ctx, sub.ID)
	if item.State != models.ReviewWithdrawn {
		t.Fatalf("review state=%s", item.State)
	}
}

func TestRejectedAdmissionCarriesReasons(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.admitter.result = models.ValidationResult{
		Score:          0.2,
		Recommendation: models.RecommendationReject,
		HardFail:       "crawl policy disallows monitoring",
		Issues:         models.StringSlice{"crawl policy disallows monitoring"},
	}

	sub, _ := f.svc.CreateSubmission(ctx, submission("https://example.org/grants/feed"))
	sub, err := f.svc.Advance(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if sub.Status != models.StatusRejected || len(sub.StatusReasons) == 0 {
		t.Fatalf("status=%s reasons=%v", sub.Status, sub.StatusReasons)
	}
	if _, err := f.repo.GetPilot(ctx, sub.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("rejected submission must not have a pilot")
	}
}

func TestInsufficientDataDefersThenRejects(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	sub := f.admitted(t, "https://example.org/grants/feed")
	f.provider.set(sparse)

	f.now = t0.Add(30 * 24 * time.Hour)
	if _, err := f.svc.TriggerEvaluation(ctx, sub.ID, false); err != nil {
		t.Fatalf("TriggerEvaluation: %v", err)
	}
	got := f.status(t, sub.ID)
	if got.Status != models.StatusPilotActive || !strings.HasPrefix(got.StatusReasons[0], "evaluation deferred") {
		t.Fatalf("status=%s reasons=%v", got.Status, got.StatusReasons)
	}
	if _, err := f.repo.LatestMetrics(ctx, sub.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("deferred evaluation must not be recorded as a score")
	}

	f.now = t0.Add(90 * 24 * time.Hour)
	if _, err := f.svc.TriggerEvaluation(ctx, sub.ID, false); err != nil {
		t.Fatalf("TriggerEvaluation: %v", err)
	}
	if got := f.status(t, sub.ID); got.Status != models.StatusDeprecated {
		t.Fatalf("status=%s", got.Status)
	}
}

func TestTriggerEvaluationBeforeWindowElapses(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	sub := f.admitted(t, "https://example.org/grants/feed")

	f.now = t0.Add(10 * 24 * time.Hour)
	if _, err := f.svc.TriggerEvaluation(ctx, sub.ID, false); !errors.Is(err, ErrNotDue) {
		t.Fatalf("expected ErrNotDue, got %v", err)
	}
	res, _ := f.svc.SweepPilots(ctx)
	if res.Processed != 0 {
		t.Fatalf("sweep processed %d pilots before they were due", res.Processed)
	}

	// A manual trigger evaluates early
	if _, err := f.svc.TriggerEvaluation(ctx, sub.ID, true); err != nil {
		t.Fatalf("forced TriggerEvaluation: %v", err)
	}
	if got := f.status(t, sub.ID); got.Status != models.StatusProductionActive {
		t.Fatalf("status=%s", got.Status)
	}
}

func TestProductionSuspendedWhenFailing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	sub := f.admitted(t, "https://example.org/grants/feed")
	f.now = t0.Add(30 * 24 * time.Hour)
	if _, err := f.svc.TriggerEvaluation(ctx, sub.ID, false); err != nil {
		t.Fatalf("TriggerEvaluation: %v", err)
	}

	f.now = t0.Add(60 * 24 * time.Hour)
	res, err := f.svc.ReevaluateAllProduction(ctx)
	if err != nil || res.Succeeded != 1 {
		t.Fatalf("healthy reevaluation: res=%+v err=%v", res, err)
	}
	if got := f.status(t, sub.ID); got.Status != models.StatusProductionActive {
		t.Fatalf("status=%s", got.Status)
	}

	f.provider.set(func() *evaluation.RawMetrics {
		raw := healthy()
		raw.Technical.Reliability = 0.75
		return raw
	})
	f.now = t0.Add(90 * 24 * time.Hour)
	m, err := f.svc.ReevaluateProduction(ctx, sub.ID)
	if err != nil {
		t.Fatalf("ReevaluateProduction: %v", err)
	}
	if !m.Failing() {
		t.Fatalf("status=%s", m.Status)
	}
	if got := f.status(t, sub.ID); got.Status != models.StatusSuspended {
		t.Fatalf("status=%s", got.Status)
	}

	history, _ := f.repo.ListMetrics(ctx, sub.ID, 0)
	if len(history) != 3 {
		t.Fatalf("metrics rows=%d want 3", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].EvaluatedAt.Before(history[i-1].EvaluatedAt) {
			t.Fatalf("metrics out of order")
		}
	}
}

func TestAdvanceResumesPersistedValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.svc.CreateSubmission(ctx, submission("https://example.org/grants/feed"))
	if err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
	// Simulate a crash after the validation phase persisted its result
	if err := f.repo.TransitionStatus(ctx, sub.ID, models.StatusSubmitted, models.StatusValidating, nil); err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if err := f.repo.SaveValidationResult(ctx, &models.ValidationResult{
		SubmissionID:   sub.ID,
		Score:          0.9,
		Recommendation: models.RecommendationAccept,
	}); err != nil {
		t.Fatalf("SaveValidationResult: %v", err)
	}

	sub, err = f.svc.Advance(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if sub.Status != models.StatusApprovedForPilot {
		t.Fatalf("status=%s", sub.Status)
	}
	if f.admitter.calls != 0 {
		t.Fatalf("validation re-ran %d times after resume", f.admitter.calls)
	}
}

func TestAdvanceKeepsValidatingOnValidatorError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.admitter.err = errors.New("validator crashed")

	sub, _ := f.svc.CreateSubmission(ctx, submission("https://example.org/grants/feed"))
	if _, err := f.svc.Advance(ctx, sub.ID); err == nil {
		t.Fatalf("expected error")
	}
	if got := f.status(t, sub.ID); got.Status != models.StatusValidating {
		t.Fatalf("status=%s", got.Status)
	}

	f.admitter.err = nil
	res, err := f.svc.ResumePending(ctx)
	if err != nil || res.Succeeded != 1 {
		t.Fatalf("resume=%+v err=%v", res, err)
	}
	if got := f.status(t, sub.ID); got.Status != models.StatusApprovedForPilot {
		t.Fatalf("status=%s", got.Status)
	}
}

func TestAdvanceSkipsWhenLeaseHeld(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	sub, _ := f.svc.CreateSubmission(ctx, submission("https://example.org/grants/feed"))

	held, err := f.svc.leases.Acquire(ctx, sourceKey(sub.ID), time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := f.svc.Advance(ctx, sub.ID); !errors.Is(err, lease.ErrHeld) {
		t.Fatalf("expected ErrHeld, got %v", err)
	}
	res, _ := f.svc.ResumePending(ctx)
	if res.Skipped != 1 {
		t.Fatalf("resume=%+v", res)
	}
	_ = f.svc.leases.Release(ctx, held)

	if _, err := f.svc.Advance(ctx, sub.ID); err != nil {
		t.Fatalf("Advance after release: %v", err)
	}
}

func TestCreateSubmissionRejectsMalformed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	in := submission("not a url")
	in.ContactEmail = "nobody"
	if _, err := f.svc.CreateSubmission(context.Background(), in); err == nil {
		t.Fatalf("expected malformed submission error")
	}
	subs, _ := f.repo.ListSubmissions(context.Background(), storage.DefaultSubmissionFilter())
	if len(subs) != 0 {
		t.Fatalf("malformed submission persisted")
	}
}

func TestRegisterContentSkipsDuplicates(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	first := &models.Opportunity{Title: "Rural Water Grant", URL: "https://funder.org/grants/water", Description: "Funding for rural water"}
	match, err := f.svc.RegisterContent(ctx, first)
	if err != nil {
		t.Fatalf("RegisterContent: %v", err)
	}
	if match.Action != models.ActionProceed || first.ID == "" {
		t.Fatalf("first=%+v match=%+v", first, match)
	}

	again := &models.Opportunity{Title: "Rural water grant!", URL: "http://www.funder.org/grants/water/?utm_campaign=x"}
	match, err = f.svc.RegisterContent(ctx, again)
	if err != nil {
		t.Fatalf("RegisterContent: %v", err)
	}
	if match.Action != models.ActionSkip || match.MatchedID != first.ID || match.Similarity != 1.0 {
		t.Fatalf("match=%+v", match)
	}

	check, err := f.svc.CheckContentForDuplicate(ctx, &models.Opportunity{Title: "Unrelated", URL: "https://funder.org/prizes/arts"})
	if err != nil {
		t.Fatalf("CheckContentForDuplicate: %v", err)
	}
	if check.IsDuplicate() {
		t.Fatalf("unrelated record flagged as duplicate: %+v", check)
	}
}

func TestTransitionTable(t *testing.T) {
	t.Parallel()

	for from := range transitions {
		if CanTransition(from, models.StatusSubmitted) {
			t.Fatalf("%s can re-enter submitted", from)
		}
	}

	// Walk every state reachable from SUBMITTED
	seen := map[models.Status]bool{models.StatusSubmitted: true}
	queue := []models.Status{models.StatusSubmitted}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range NextStates(cur) {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	for _, s := range models.AllStatuses {
		if !seen[s] {
			t.Fatalf("%s unreachable from submitted", s)
		}
		if len(NextStates(s)) == 0 && s != models.StatusDeprecated && s != models.StatusSuspended {
			t.Fatalf("unexpected dead end %s", s)
		}
	}

	if _, err := chain(models.StatusPilotActive, models.StatusProductionActive); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestDecide(t *testing.T) {
	t.Parallel()

	cfg := config.Default().Pilot
	fresh := &models.PilotRecord{MaxExtensions: 2}
	spent := &models.PilotRecord{MaxExtensions: 2, ExtensionCount: 2}

	tests := []struct {
		name    string
		metrics models.PerformanceMetrics
		pilot   *models.PilotRecord
		want    Outcome
	}{
		{"promote", models.PerformanceMetrics{OverallScore: 0.82, MinimumsMet: true, Status: models.PerformanceGood}, fresh, OutcomePromote},
		{"promote at threshold", models.PerformanceMetrics{OverallScore: 0.6, MinimumsMet: true, Status: models.PerformanceAcceptable}, fresh, OutcomePromote},
		{"high score minimums unmet", models.PerformanceMetrics{OverallScore: 0.7, Status: models.PerformanceAcceptable}, fresh, OutcomeExtend},
		{"extend band", models.PerformanceMetrics{OverallScore: 0.55, Status: models.PerformancePoor}, fresh, OutcomeExtend},
		{"extend band exhausted", models.PerformanceMetrics{OverallScore: 0.55, Status: models.PerformancePoor}, spent, OutcomeReject},
		{"below extend", models.PerformanceMetrics{OverallScore: 0.39, Status: models.PerformancePoor}, fresh, OutcomeReject},
		{"failing overrides score", models.PerformanceMetrics{OverallScore: 0.9, MinimumsMet: false, Status: models.PerformanceFailing}, fresh, OutcomeReject},
	}
	for _, tt := range tests {
		got, reasons := Decide(cfg, &tt.metrics, tt.pilot)
		if got != tt.want {
			t.Fatalf("%s: got %s want %s", tt.name, got, tt.want)
		}
		if len(reasons) == 0 {
			t.Fatalf("%s: outcome without reasons", tt.name)
		}
	}
}

func TestGetSubmissionStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	fresh, err := f.svc.CreateSubmission(ctx, submission("https://example.net/news"))
	if err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
	st, err := f.svc.GetSubmissionStatus(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("GetSubmissionStatus: %v", err)
	}
	if st.Validation != nil || st.Pilot != nil || st.Metrics != nil || st.Review != nil || len(st.History) != 1 {
		t.Fatalf("fresh submission status=%+v", st)
	}

	sub := f.admitted(t, "https://example.org/grants/feed")
	f.now = t0.Add(30 * 24 * time.Hour)
	if _, err := f.svc.TriggerEvaluation(ctx, sub.ID, false); err != nil {
		t.Fatalf("TriggerEvaluation: %v", err)
	}

	st, err = f.svc.GetSubmissionStatus(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetSubmissionStatus: %v", err)
	}
	if st.Validation == nil || st.Pilot == nil || st.Metrics == nil {
		t.Fatalf("status missing phase results: %+v", st)
	}
	if st.Submission.Status != models.StatusProductionActive || st.Pilot.Status != models.PilotStatusPromoted {
		t.Fatalf("status=%s pilot=%s", st.Submission.Status, st.Pilot.Status)
	}
	if len(st.History) != 7 {
		t.Fatalf("history=%d entries want 7", len(st.History))
	}

	if _, err := f.svc.GetSubmissionStatus(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
