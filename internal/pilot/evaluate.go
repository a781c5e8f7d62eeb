package pilot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/source-vetting/internal/config"
	"github.com/source-vetting/internal/evaluation"
	"github.com/source-vetting/internal/models"
	"github.com/source-vetting/internal/notify"
	"github.com/source-vetting/internal/storage"
)

// Outcome is the binding result of a pilot evaluation
type Outcome string

const (
	OutcomePromote Outcome = "promote"
	OutcomeExtend  Outcome = "extend"
	OutcomeReject  Outcome = "reject"
)

// Decide maps an evaluation onto a pilot outcome. Failing breaches reject outright; promotion needs
// the score and every hard minimum; anything else at or above the extend threshold extends
// while extensions remain.
func Decide(cfg config.PilotConfig, m *models.PerformanceMetrics, pilot *models.PilotRecord) (Outcome, []string) {
	score := m.OverallScore
	switch {
	case m.Failing():
		reasons := []string{fmt.Sprintf("failing performance (overall %.2f)", score)}
		return OutcomeReject, append(reasons, m.FailingBreaches...)

	case score >= cfg.PromoteThreshold && m.MinimumsMet:
		return OutcomePromote, []string{fmt.Sprintf("overall score %.2f meets promotion threshold %.2f with all minimums met", score, cfg.PromoteThreshold)}

	case score >= cfg.ExtendThreshold:
		var reasons []string
		if score >= cfg.PromoteThreshold {
			reasons = append(reasons, fmt.Sprintf("overall score %.2f meets promotion threshold but hard minimums are unmet", score))
		} else {
			reasons = append(reasons, fmt.Sprintf("overall score %.2f in extension band [%.2f, %.2f)", score, cfg.ExtendThreshold, cfg.PromoteThreshold))
		}
		reasons = append(reasons, m.GateBreaches...)
		if !pilot.CanExtend() {
			reasons = append([]string{fmt.Sprintf("extension limit reached (%d of %d)", pilot.ExtensionCount, pilot.MaxExtensions)}, reasons...)
			return OutcomeReject, reasons
		}
		return OutcomeExtend, reasons

	default:
		reasons := []string{fmt.Sprintf("overall score %.2f below extension threshold %.2f", score, cfg.ExtendThreshold)}
		return OutcomeReject, append(reasons, m.GateBreaches...)
	}
}

// window returns the evaluation window for the current pilot period
func (s *Service) window(pilot *models.PilotRecord, now time.Time) (time.Time, time.Time) {
	end := now
	if end.After(pilot.EndDate) {
		end = pilot.EndDate
	}
	start := pilot.EndDate.Add(-s.cfg.Duration)
	if start.Before(pilot.StartDate) || !start.Before(end) {
		start = pilot.StartDate
	}
	return start, end
}

// evaluatePilot scores a submission in PILOT_EVALUATION and applies the outcome atomically
func (s *Service) evaluatePilot(ctx context.Context, sub *models.Submission) error {
	log := s.log.WithSubmission(sub.ID)

	pilot, err := s.repo.GetPilot(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("load pilot: %w", err)
	}
	history, err := s.repo.ListMetrics(ctx, sub.ID, historyDepth)
	if err != nil {
		return fmt.Errorf("load metrics history: %w", err)
	}

	now := s.now()
	start, end := s.window(pilot, now)
	expected := pilot.ExtensionCount

	m, err := s.evaluator.Evaluate(ctx, sub.ID, start, end, history)
	if errors.Is(err, evaluation.ErrInsufficientData) {
		return s.deferEvaluation(ctx, sub, pilot, err)
	}
	if err != nil {
		return fmt.Errorf("evaluate pilot %s: %w", sub.ID, err)
	}

	outcome, reasons := Decide(s.cfg, m, pilot)

	var to []models.Status
	pilot.EvaluationCount++
	pilot.OutcomeReasons = reasons
	switch outcome {
	case OutcomePromote:
		pilot.Status = models.PilotStatusPromoted
		to = []models.Status{models.StatusApprovedForProduction, models.StatusProductionActive}
	case OutcomeExtend:
		pilot.Status = models.PilotStatusExtended
		pilot.ExtensionCount++
		pilot.EndDate = pilot.EndDate.Add(s.cfg.Duration)
		to = []models.Status{models.StatusPilotExtended, models.StatusPilotActive}
	default:
		pilot.Status = models.PilotStatusRejected
		to = []models.Status{models.StatusRejected, models.StatusDeprecated}
	}

	steps, err := chain(sub.Status, to...)
	if err != nil {
		return err
	}

	var events []notify.Event
	err = s.repo.RunInTx(ctx, func(tx storage.Repository) error {
		if err := tx.AppendMetrics(ctx, m); err != nil {
			return fmt.Errorf("append metrics: %w", err)
		}
		if err := tx.UpdatePilot(ctx, pilot, expected); err != nil {
			return err
		}
		events, err = s.apply(ctx, tx, sub, steps, reasons)
		return err
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("outcome", string(outcome)).
		Float64("overall", m.OverallScore).
		Bool("minimums_met", m.MinimumsMet).
		Int("extensions", pilot.ExtensionCount).
		Msg("Pilot evaluated")

	events = append(events, notify.Event{
		Type:         notify.EventSourceEvaluated,
		SubmissionID: sub.ID,
		Name:         sub.Name,
		URL:          sub.URL,
		To:           sub.Status,
		Score:        m.OverallScore,
		Reasons:      reasons,
		At:           now,
	})
	if outcome == OutcomeExtend {
		events = append(events, notify.Event{
			Type:         notify.EventPilotExtended,
			SubmissionID: sub.ID,
			Name:         sub.Name,
			URL:          sub.URL,
			Score:        m.OverallScore,
			Reasons:      reasons,
			At:           now,
		})
	}
	s.emit(ctx, events...)
	return nil
}

// deferEvaluation returns the source to PILOT_ACTIVE, or rejects it once the pilot has run
// for every allowed period without enough data
func (s *Service) deferEvaluation(ctx context.Context, sub *models.Submission, pilot *models.PilotRecord, cause error) error {
	expected := pilot.ExtensionCount
	limit := time.Duration(pilot.MaxExtensions+1) * s.cfg.Duration
	age := s.now().Sub(pilot.StartDate)

	var (
		to      []models.Status
		reasons []string
	)
	pilot.EvaluationCount++
	if age >= limit {
		pilot.Status = models.PilotStatusRejected
		reasons = []string{fmt.Sprintf("insufficient evaluation data after %s of monitoring", age.Round(time.Hour)), cause.Error()}
		to = []models.Status{models.StatusRejected, models.StatusDeprecated}
	} else {
		reasons = []string{"evaluation deferred: " + cause.Error()}
		to = []models.Status{models.StatusPilotActive}
	}
	pilot.OutcomeReasons = reasons

	steps, err := chain(sub.Status, to...)
	if err != nil {
		return err
	}

	var events []notify.Event
	err = s.repo.RunInTx(ctx, func(tx storage.Repository) error {
		if err := tx.UpdatePilot(ctx, pilot, expected); err != nil {
			return err
		}
		events, err = s.apply(ctx, tx, sub, steps, reasons)
		return err
	})
	if err != nil {
		return err
	}

	s.log.WithSubmission(sub.ID).Info().
		Str("status", string(sub.Status)).
		Strs("reasons", reasons).
		Msg("Pilot evaluation deferred")
	s.emit(ctx, events...)
	return nil
}

// ReevaluateProduction runs the recurring evaluation of a production source and suspends it when failing
func (s *Service) ReevaluateProduction(ctx context.Context, id string) (*models.PerformanceMetrics, error) {
	var m *models.PerformanceMetrics
	err := s.withSource(ctx, id, func(ctx context.Context) error {
		sub, err := s.repo.GetSubmission(ctx, id)
		if err != nil {
			return err
		}
		if sub.Status != models.StatusProductionActive {
			return fmt.Errorf("%w: submission %s is %s", ErrInvalidTransition, id, sub.Status)
		}
		history, err := s.repo.ListMetrics(ctx, id, historyDepth)
		if err != nil {
			return fmt.Errorf("load metrics history: %w", err)
		}

		end := s.now()
		m, err = s.evaluator.Evaluate(ctx, id, end.Add(-s.productionWindow), end, history)
		if err != nil {
			return err
		}

		var (
			steps   []step
			reasons []string
		)
		if m.Failing() {
			reasons = append([]string{fmt.Sprintf("production performance failing (overall %.2f)", m.OverallScore)}, m.FailingBreaches...)
			if steps, err = chain(sub.Status, models.StatusSuspended); err != nil {
				return err
			}
		}

		var events []notify.Event
		err = s.repo.RunInTx(ctx, func(tx storage.Repository) error {
			if err := tx.AppendMetrics(ctx, m); err != nil {
				return fmt.Errorf("append metrics: %w", err)
			}
			events, err = s.apply(ctx, tx, sub, steps, reasons)
			return err
		})
		if err != nil {
			return err
		}

		s.log.WithSubmission(id).Info().
			Float64("overall", m.OverallScore).
			Str("status", string(m.Status)).
			Bool("suspended", len(steps) > 0).
			Msg("Production source evaluated")

		events = append(events, notify.Event{
			Type:         notify.EventSourceEvaluated,
			SubmissionID: id,
			Name:         sub.Name,
			URL:          sub.URL,
			To:           sub.Status,
			Score:        m.OverallScore,
			Reasons:      m.Recommendations,
			At:           end,
		})
		s.emit(ctx, events...)
		return nil
	})
	return m, err
}
