package pilot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/source-vetting/internal/admission"
	"github.com/source-vetting/internal/config"
	"github.com/source-vetting/internal/dedup"
	"github.com/source-vetting/internal/lease"
	"github.com/source-vetting/internal/models"
	"github.com/source-vetting/internal/notify"
	"github.com/source-vetting/internal/storage"
	"github.com/source-vetting/pkg/logger"
)

var (
	// ErrDuplicateSource is returned when a submission targets a url that is already tracked.
	// The submission is still persisted, as REJECTED.
	ErrDuplicateSource = errors.New("duplicate source")
	// ErrInvalidTransition is returned when an operation does not apply to the submission's current state
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNoPendingReview is returned when resolving a submission without an open review item
	ErrNoPendingReview = errors.New("no pending manual review")
	// ErrNotDue is returned when a pilot evaluation is requested before the pilot window elapsed
	ErrNotDue = errors.New("pilot window has not elapsed")
)

// Reason texts shared with callers and tests
const (
	ReasonDuplicateSource = "duplicate source"
	ReasonWithdrawn       = "withdrawn by submitter"
)

// Admitter runs admission validation
type Admitter interface {
	Validate(ctx context.Context, sub *models.Submission) (*models.ValidationResult, error)
}

// Classifier resolves the technical type and monitoring plan of an admitted source
type Classifier interface {
	Classify(ctx context.Context, sub *models.Submission) (*models.SourceClassification, error)
}

// Evaluator scores a source's performance over a window
type Evaluator interface {
	Evaluate(ctx context.Context, sourceID string, start, end time.Time, history []*models.PerformanceMetrics) (*models.PerformanceMetrics, error)
}

// DuplicateChecker compares content records against the corpus
type DuplicateChecker interface {
	Check(ctx context.Context, rec *models.Opportunity) (*models.DuplicateMatch, error)
}

// Notifier receives lifecycle events. Delivery must not block.
type Notifier interface {
	Emit(ctx context.Context, e notify.Event)
}

// historyDepth is how many previous evaluations are passed to the evaluator for trends
const historyDepth = 12

// Service orchestrates the submission → pilot → production lifecycle
type Service struct {
	cfg              config.PilotConfig
	leaseTTL         time.Duration
	productionWindow time.Duration
	repo             storage.Repository
	admitter         Admitter
	classifier       Classifier
	evaluator        Evaluator
	dedup            DuplicateChecker
	leases           lease.Manager
	notifier         Notifier
	runner           *Runner
	log              *logger.Logger
	now              func() time.Time
}

// NewService creates the lifecycle orchestrator. notifier may be nil.
func NewService(
	cfg *config.Config,
	repo storage.Repository,
	admitter Admitter,
	classifier Classifier,
	evaluator Evaluator,
	dedup DuplicateChecker,
	leases lease.Manager,
	notifier Notifier,
	log *logger.Logger,
) *Service {
	ttl := cfg.Lease.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{
		cfg:              cfg.Pilot,
		leaseTTL:         ttl,
		productionWindow: cfg.Evaluation.ProductionWindow,
		repo:             repo,
		admitter:         admitter,
		classifier:       classifier,
		evaluator:        evaluator,
		dedup:            dedup,
		leases:           leases,
		notifier:         notifier,
		runner:           NewRunner(cfg.Pilot.Workers, log),
		log:              log.WithComponent("pilot"),
		now:              func() time.Time { return time.Now().UTC() },
	}
}

func sourceKey(id string) string { return "source:" + id }

func (s *Service) withSource(ctx context.Context, id string, fn func(ctx context.Context) error) error {
	return lease.WithLease(ctx, s.leases, sourceKey(id), s.leaseTTL, fn)
}

// apply runs the steps for a submission inside tx and returns the events to emit after commit
func (s *Service) apply(ctx context.Context, tx storage.Repository, sub *models.Submission, steps []step, reasons []string) ([]notify.Event, error) {
	events := make([]notify.Event, 0, len(steps))
	for _, st := range steps {
		if err := tx.TransitionStatus(ctx, sub.ID, st.from, st.to, reasons); err != nil {
			return nil, err
		}
		events = append(events, notify.Event{
			Type:         notify.EventStatusChanged,
			SubmissionID: sub.ID,
			Name:         sub.Name,
			URL:          sub.URL,
			From:         st.from,
			To:           st.to,
			Reasons:      reasons,
			At:           s.now(),
		})
	}
	if len(steps) > 0 {
		sub.Status = steps[len(steps)-1].to
		sub.StatusReasons = reasons
	}
	return events, nil
}

// move validates and applies a transition chain in its own transaction
func (s *Service) move(ctx context.Context, sub *models.Submission, reasons []string, to ...models.Status) error {
	steps, err := chain(sub.Status, to...)
	if err != nil {
		return err
	}
	var events []notify.Event
	err = s.repo.RunInTx(ctx, func(tx storage.Repository) error {
		events, err = s.apply(ctx, tx, sub, steps, reasons)
		return err
	})
	if err != nil {
		return err
	}
	s.emit(ctx, events...)
	return nil
}

func (s *Service) emit(ctx context.Context, events ...notify.Event) {
	if s.notifier == nil {
		return
	}
	for _, e := range events {
		s.notifier.Emit(ctx, e)
	}
}

// CreateSubmission validates the shape of a submission and persists it.
// A url that is already tracked is persisted directly as REJECTED and ErrDuplicateSource is returned
// together with the rejected submission.
func (s *Service) CreateSubmission(ctx context.Context, in models.SourceSubmission) (*models.Submission, error) {
	if problems := admission.Malformed(&in); len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", admission.ErrMalformedSubmission, strings.Join(problems, "; "))
	}
	normalized, err := dedup.NormalizeURL(in.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", admission.ErrMalformedSubmission, err)
	}

	sub := &models.Submission{
		ID:               uuid.NewString(),
		NormalizedURL:    normalized,
		Domain:           dedup.RegistrableDomain(normalized),
		Status:           models.StatusSubmitted,
		SourceSubmission: in,
	}
	log := s.log.WithSubmission(sub.ID)

	var duplicateOf *models.Submission
	err = lease.WithLease(ctx, s.leases, "url:"+normalized, s.leaseTTL, func(ctx context.Context) error {
		existing, err := s.repo.FindTrackedByURL(ctx, normalized, "")
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("lookup tracked source: %w", err)
		}
		if existing == nil {
			return s.repo.CreateSubmission(ctx, sub)
		}

		duplicateOf = existing
		reason := fmt.Sprintf("%s: %s is already tracked as %s (%s)", ReasonDuplicateSource, normalized, existing.ID, existing.Status)
		sub.Status = models.StatusRejected
		sub.StatusReasons = models.StringSlice{ReasonDuplicateSource, reason}
		return s.repo.RunInTx(ctx, func(tx storage.Repository) error {
			if err := tx.CreateSubmission(ctx, sub); err != nil {
				return err
			}
			return tx.SaveValidationResult(ctx, &models.ValidationResult{
				SubmissionID:   sub.ID,
				Recommendation: models.RecommendationReject,
				HardFail:       ReasonDuplicateSource,
				Issues:         models.StringSlice{ReasonDuplicateSource, reason},
				Suggestions:    models.StringSlice{"check the status of the existing source instead of resubmitting it"},
			})
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create submission: %w", err)
	}

	if duplicateOf != nil {
		log.Info().
			Str("url", normalized).
			Str("existing_id", duplicateOf.ID).
			Msg("Duplicate source rejected")
		s.emit(ctx, notify.Event{
			Type:         notify.EventDuplicateRejected,
			SubmissionID: sub.ID,
			Name:         sub.Name,
			URL:          sub.URL,
			To:           models.StatusRejected,
			Reasons:      sub.StatusReasons,
			At:           s.now(),
		})
		return sub, fmt.Errorf("%w: %s matches %s", ErrDuplicateSource, normalized, duplicateOf.ID)
	}

	log.Info().Str("url", normalized).Str("name", sub.Name).Msg("Submission created")
	s.emit(ctx, notify.Event{
		Type:         notify.EventStatusChanged,
		SubmissionID: sub.ID,
		Name:         sub.Name,
		URL:          sub.URL,
		To:           models.StatusSubmitted,
		At:           s.now(),
	})
	return sub, nil
}

// Advance drives a submission forward until it waits on an external event or reaches a terminal state.
// Phases already persisted are not repeated.
func (s *Service) Advance(ctx context.Context, id string) (*models.Submission, error) {
	var sub *models.Submission
	err := s.withSource(ctx, id, func(ctx context.Context) error {
		var err error
		sub, err = s.repo.GetSubmission(ctx, id)
		if err != nil {
			return err
		}
		for {
			progressed, err := s.step(ctx, sub)
			if err != nil || !progressed {
				return err
			}
		}
	})
	return sub, err
}

// step performs the next automatic transition. It returns false when the submission must wait.
func (s *Service) step(ctx context.Context, sub *models.Submission) (bool, error) {
	switch sub.Status {
	case models.StatusSubmitted:
		return true, s.move(ctx, sub, nil, models.StatusValidating)
	case models.StatusValidating:
		return true, s.validate(ctx, sub)
	case models.StatusPilotEvaluation:
		return true, s.evaluatePilot(ctx, sub)
	case models.StatusPilotExtended:
		return true, s.move(ctx, sub, sub.StatusReasons, models.StatusPilotActive)
	case models.StatusApprovedForProduction:
		return true, s.move(ctx, sub, sub.StatusReasons, models.StatusProductionActive)
	case models.StatusRejected:
		// A rejected pilot always ends deprecated
		p, err := s.repo.GetPilot(ctx, sub.ID)
		if err == nil && p.Status == models.PilotStatusRejected {
			return true, s.move(ctx, sub, sub.StatusReasons, models.StatusDeprecated)
		}
		return false, nil
	default:
		return false, nil
	}
}

// validate runs admission for a VALIDATING submission, reusing a result persisted during this phase
func (s *Service) validate(ctx context.Context, sub *models.Submission) error {
	log := s.log.WithSubmission(sub.ID)

	result, err := s.currentValidation(ctx, sub)
	if err != nil {
		return err
	}
	if result == nil {
		result, err = s.admitter.Validate(ctx, sub)
		if errors.Is(err, admission.ErrMalformedSubmission) {
			return s.move(ctx, sub, []string{err.Error()}, models.StatusRejected)
		}
		if err != nil {
			return fmt.Errorf("validate submission %s: %w", sub.ID, err)
		}
		result.SubmissionID = sub.ID
		if err := s.repo.SaveValidationResult(ctx, result); err != nil {
			return fmt.Errorf("save validation result: %w", err)
		}
	}

	log.Info().
		Float64("score", result.Score).
		Str("recommendation", string(result.Recommendation)).
		Int("attempt", result.Attempt).
		Msg("Admission decided")

	switch result.Recommendation {
	case models.RecommendationAccept:
		return s.admit(ctx, sub, nil, []string{fmt.Sprintf("admission score %.2f", result.Score)})
	case models.RecommendationManualReview:
		return s.queueReview(ctx, sub, result)
	default:
		return s.move(ctx, sub, result.Issues, models.StatusRejected)
	}
}

// currentValidation returns the validation result recorded since the submission entered VALIDATING, if any
func (s *Service) currentValidation(ctx context.Context, sub *models.Submission) (*models.ValidationResult, error) {
	result, err := s.repo.LatestValidationResult(ctx, sub.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	history, err := s.repo.StatusHistory(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	var entered time.Time
	for _, h := range history {
		if h.To == models.StatusValidating {
			entered = h.At
		}
	}
	if entered.IsZero() || result.CreatedAt.Before(entered) {
		return nil, nil
	}
	return result, nil
}

func (s *Service) queueReview(ctx context.Context, sub *models.Submission, result *models.ValidationResult) error {
	steps, err := chain(sub.Status, models.StatusManualReviewPending)
	if err != nil {
		return err
	}
	item := &models.ReviewItem{
		SubmissionID: sub.ID,
		Name:         sub.Name,
		URL:          sub.URL,
		Score:        result.Score,
		Priority:     result.ReviewPriority,
		Issues:       result.Issues,
		State:        models.ReviewPending,
	}

	var events []notify.Event
	err = s.repo.RunInTx(ctx, func(tx storage.Repository) error {
		if err := tx.EnqueueReview(ctx, item); err != nil {
			return fmt.Errorf("enqueue review: %w", err)
		}
		events, err = s.apply(ctx, tx, sub, steps, result.Issues)
		return err
	})
	if err != nil {
		return err
	}

	events = append(events, notify.Event{
		Type:         notify.EventReviewQueued,
		SubmissionID: sub.ID,
		Name:         sub.Name,
		URL:          sub.URL,
		Score:        result.Score,
		Reasons:      result.Issues,
		At:           s.now(),
	})
	s.emit(ctx, events...)
	return nil
}

// admit classifies the source and creates its pilot record. closeReview, when set, is resolved in the same transaction.
func (s *Service) admit(ctx context.Context, sub *models.Submission, closeReview *models.ReviewItem, reasons []string) error {
	steps, err := chain(sub.Status, models.StatusApprovedForPilot)
	if err != nil {
		return err
	}

	classification, err := s.classifier.Classify(ctx, sub)
	if err != nil {
		return fmt.Errorf("classify submission %s: %w", sub.ID, err)
	}
	classification.SubmissionID = sub.ID

	now := s.now()
	pilot := &models.PilotRecord{
		SubmissionID:  sub.ID,
		StartDate:     now,
		EndDate:       now.Add(s.cfg.Duration),
		MaxExtensions: s.cfg.MaxExtensions,
		Status:        models.PilotStatusPending,
	}

	var events []notify.Event
	err = s.repo.RunInTx(ctx, func(tx storage.Repository) error {
		if closeReview != nil {
			if err := tx.CloseReview(ctx, closeReview); err != nil {
				return err
			}
		}
		if err := tx.SaveClassification(ctx, classification); err != nil {
			return fmt.Errorf("save classification: %w", err)
		}
		if err := tx.CreatePilot(ctx, pilot); err != nil {
			return fmt.Errorf("create pilot: %w", err)
		}
		events, err = s.apply(ctx, tx, sub, steps, reasons)
		return err
	})
	if err != nil {
		return err
	}

	s.log.WithSubmission(sub.ID).Info().
		Str("type", string(classification.Type)).
		Float64("confidence", classification.Confidence).
		Dur("check_interval", classification.Monitoring.CheckInterval).
		Msg("Source approved for pilot")
	s.emit(ctx, events...)
	return nil
}

// ResolveManualReview records a human decision for a submission waiting in the review queue
func (s *Service) ResolveManualReview(ctx context.Context, id string, decision models.ReviewDecision, notes, reviewer string) (*models.Submission, error) {
	var sub *models.Submission
	err := s.withSource(ctx, id, func(ctx context.Context) error {
		var err error
		sub, err = s.repo.GetSubmission(ctx, id)
		if err != nil {
			return err
		}
		item, err := s.repo.GetOpenReview(ctx, id)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && sub.Status != models.StatusManualReviewPending) {
			return fmt.Errorf("%w: submission %s is %s", ErrNoPendingReview, id, sub.Status)
		}
		if err != nil {
			return err
		}

		resolved := s.now()
		item.Notes = notes
		item.Reviewer = reviewer
		item.ResolvedAt = &resolved

		var events []notify.Event
		switch decision {
		case models.DecisionApprove:
			item.State = models.ReviewApproved
			reason := "approved by reviewer"
			if notes != "" {
				reason += ": " + notes
			}
			if err := s.admit(ctx, sub, item, []string{reason}); err != nil {
				return err
			}
		case models.DecisionReject:
			item.State = models.ReviewRejected
			reason := "rejected by reviewer"
			if notes != "" {
				reason += ": " + notes
			}
			steps, err := chain(sub.Status, models.StatusRejected)
			if err != nil {
				return err
			}
			err = s.repo.RunInTx(ctx, func(tx storage.Repository) error {
				if err := tx.CloseReview(ctx, item); err != nil {
					return err
				}
				events, err = s.apply(ctx, tx, sub, steps, []string{reason})
				return err
			})
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown review decision %q", decision)
		}

		events = append(events, notify.Event{
			Type:         notify.EventReviewResolved,
			SubmissionID: sub.ID,
			Name:         sub.Name,
			URL:          sub.URL,
			To:           sub.Status,
			Reasons:      sub.StatusReasons,
			At:           resolved,
		})
		s.emit(ctx, events...)
		return nil
	})
	return sub, err
}

// SubmissionStatus is the full picture of one submission. Optional parts are nil when the
// submission has not reached the phase that creates them.
type SubmissionStatus struct {
	Submission *models.Submission
	History    []*models.StatusChange
	Validation *models.ValidationResult
	Review     *models.ReviewItem
	Pilot      *models.PilotRecord
	Metrics    *models.PerformanceMetrics
}

// GetSubmissionStatus returns a submission with its history and latest phase results
func (s *Service) GetSubmissionStatus(ctx context.Context, id string) (*SubmissionStatus, error) {
	sub, err := s.repo.GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	out := &SubmissionStatus{Submission: sub}

	if out.History, err = s.repo.StatusHistory(ctx, id); err != nil {
		return nil, fmt.Errorf("load status history: %w", err)
	}
	if out.Validation, err = optional(s.repo.LatestValidationResult(ctx, id)); err != nil {
		return nil, fmt.Errorf("load validation result: %w", err)
	}
	if out.Review, err = optional(s.repo.LatestReview(ctx, id)); err != nil {
		return nil, fmt.Errorf("load review: %w", err)
	}
	if out.Pilot, err = optional(s.repo.GetPilot(ctx, id)); err != nil {
		return nil, fmt.Errorf("load pilot: %w", err)
	}
	if out.Metrics, err = optional(s.repo.LatestMetrics(ctx, id)); err != nil {
		return nil, fmt.Errorf("load metrics: %w", err)
	}
	return out, nil
}

func optional[T any](v *T, err error) (*T, error) {
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

// WithdrawResult reports whether a withdrawal changed anything
type WithdrawResult struct {
	Applied bool
	Status  models.Status
	Message string
}

// Withdraw cancels a submission that has no admission decision yet.
// After a decision it is a no-op reported through the result, not an error.
func (s *Service) Withdraw(ctx context.Context, id, note string) (*WithdrawResult, error) {
	var out *WithdrawResult
	err := s.withSource(ctx, id, func(ctx context.Context) error {
		sub, err := s.repo.GetSubmission(ctx, id)
		if err != nil {
			return err
		}

		switch sub.Status {
		case models.StatusSubmitted, models.StatusValidating, models.StatusManualReviewPending:
		default:
			out = &WithdrawResult{
				Status:  sub.Status,
				Message: fmt.Sprintf("decision already recorded (%s); withdrawal ignored", sub.Status),
			}
			return nil
		}

		reasons := []string{ReasonWithdrawn}
		if note != "" {
			reasons = append(reasons, note)
		}
		steps, err := chain(sub.Status, models.StatusRejected)
		if err != nil {
			return err
		}

		var events []notify.Event
		err = s.repo.RunInTx(ctx, func(tx storage.Repository) error {
			if sub.Status == models.StatusManualReviewPending {
				item, err := tx.GetOpenReview(ctx, id)
				if err != nil && !errors.Is(err, storage.ErrNotFound) {
					return err
				}
				if item != nil {
					resolved := s.now()
					item.State = models.ReviewWithdrawn
					item.Notes = note
					item.ResolvedAt = &resolved
					if err := tx.CloseReview(ctx, item); err != nil {
						return err
					}
				}
			}
			events, err = s.apply(ctx, tx, sub, steps, reasons)
			return err
		})
		if errors.Is(err, storage.ErrConflict) {
			current, getErr := s.repo.GetSubmission(ctx, id)
			if getErr != nil {
				return getErr
			}
			out = &WithdrawResult{Status: current.Status, Message: "decision recorded concurrently; withdrawal ignored"}
			return nil
		}
		if err != nil {
			return err
		}

		s.emit(ctx, events...)
		out = &WithdrawResult{Applied: true, Status: sub.Status, Message: ReasonWithdrawn}
		return nil
	})
	return out, err
}

// StartPilot begins monitoring an approved source. The pilot window starts now.
func (s *Service) StartPilot(ctx context.Context, id string) (*models.PilotRecord, error) {
	var pilot *models.PilotRecord
	err := s.withSource(ctx, id, func(ctx context.Context) error {
		sub, err := s.repo.GetSubmission(ctx, id)
		if err != nil {
			return err
		}
		steps, err := chain(sub.Status, models.StatusPilotActive)
		if err != nil {
			return err
		}
		pilot, err = s.repo.GetPilot(ctx, id)
		if err != nil {
			return fmt.Errorf("load pilot: %w", err)
		}

		now := s.now()
		pilot.StartDate = now
		pilot.EndDate = now.Add(s.cfg.Duration)
		pilot.Status = models.PilotStatusActive
		reasons := []string{fmt.Sprintf("monitoring started, pilot ends %s", pilot.EndDate.Format(time.RFC3339))}

		var events []notify.Event
		err = s.repo.RunInTx(ctx, func(tx storage.Repository) error {
			if err := tx.UpdatePilot(ctx, pilot, pilot.ExtensionCount); err != nil {
				return err
			}
			events, err = s.apply(ctx, tx, sub, steps, reasons)
			return err
		})
		if err != nil {
			return err
		}
		s.emit(ctx, events...)
		return nil
	})
	return pilot, err
}

// TriggerEvaluation evaluates an active pilot. Unless force is set the pilot window must have elapsed.
func (s *Service) TriggerEvaluation(ctx context.Context, id string, force bool) (*models.Submission, error) {
	var sub *models.Submission
	err := s.withSource(ctx, id, func(ctx context.Context) error {
		var err error
		sub, err = s.repo.GetSubmission(ctx, id)
		if err != nil {
			return err
		}

		if sub.Status == models.StatusPilotActive {
			pilot, err := s.repo.GetPilot(ctx, id)
			if err != nil {
				return fmt.Errorf("load pilot: %w", err)
			}
			if !force && !pilot.Expired(s.now()) {
				return fmt.Errorf("%w: ends %s", ErrNotDue, pilot.EndDate.Format(time.RFC3339))
			}
			if err := s.move(ctx, sub, []string{"pilot evaluation started"}, models.StatusPilotEvaluation); err != nil {
				return err
			}
		}
		if sub.Status != models.StatusPilotEvaluation {
			return fmt.Errorf("%w: submission %s is %s", ErrInvalidTransition, id, sub.Status)
		}
		return s.evaluatePilot(ctx, sub)
	})
	return sub, err
}

// SweepPilots evaluates every pilot whose window has elapsed
func (s *Service) SweepPilots(ctx context.Context) (*RunResult, error) {
	due, err := s.repo.ListDuePilots(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("list due pilots: %w", err)
	}
	ids := make([]string, 0, len(due))
	for _, p := range due {
		ids = append(ids, p.SubmissionID)
	}
	return s.runner.Run(ctx, "pilot-sweep", ids, func(ctx context.Context, id string) error {
		_, err := s.TriggerEvaluation(ctx, id, false)
		return err
	}), nil
}

// ResumePending advances submissions left mid-workflow, e.g. after a restart
func (s *Service) ResumePending(ctx context.Context) (*RunResult, error) {
	subs, err := s.repo.ListSubmissions(ctx, storage.SubmissionFilter{
		Statuses: []models.Status{
			models.StatusSubmitted,
			models.StatusValidating,
			models.StatusPilotEvaluation,
			models.StatusPilotExtended,
			models.StatusApprovedForProduction,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("list pending submissions: %w", err)
	}
	ids := make([]string, 0, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.ID)
	}
	return s.runner.Run(ctx, "resume", ids, func(ctx context.Context, id string) error {
		_, err := s.Advance(ctx, id)
		return err
	}), nil
}

// ReevaluateAllProduction runs the recurring evaluation for every production source
func (s *Service) ReevaluateAllProduction(ctx context.Context) (*RunResult, error) {
	subs, err := s.repo.ListSubmissions(ctx, storage.SubmissionFilter{
		Statuses: []models.Status{models.StatusProductionActive},
	})
	if err != nil {
		return nil, fmt.Errorf("list production sources: %w", err)
	}
	ids := make([]string, 0, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.ID)
	}
	return s.runner.Run(ctx, "production-evaluation", ids, func(ctx context.Context, id string) error {
		_, err := s.ReevaluateProduction(ctx, id)
		return err
	}), nil
}

// CheckContentForDuplicate compares a content record against the corpus without storing it
func (s *Service) CheckContentForDuplicate(ctx context.Context, rec *models.Opportunity) (*models.DuplicateMatch, error) {
	return s.dedup.Check(ctx, rec)
}

// RegisterContent adds a record to the corpus unless it duplicates an existing one
func (s *Service) RegisterContent(ctx context.Context, rec *models.Opportunity) (*models.DuplicateMatch, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	match, err := s.dedup.Check(ctx, rec)
	if err != nil {
		return nil, err
	}
	if match.IsDuplicate() {
		s.log.Info().
			Str("title", rec.Title).
			Str("matched_id", match.MatchedID).
			Str("action", string(match.Action)).
			Msg("Content not registered")
		return match, nil
	}
	if err := s.repo.AddOpportunity(ctx, rec); err != nil {
		return nil, fmt.Errorf("add opportunity: %w", err)
	}
	return match, nil
}
