package storage

import (
	"context"
	"errors"
	"time"

	"github.com/source-vetting/internal/dedup"
	"github.com/source-vetting/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when an optimistic check fails because the record changed concurrently
	ErrConflict = errors.New("concurrent modification")
)

// Repository defines the interface for data persistence
type Repository interface {
	// RunInTx runs fn against a repository bound to a single transaction.
	// fn must only use the repository it is given.
	RunInTx(ctx context.Context, fn func(tx Repository) error) error

	// Submission operations
	CreateSubmission(ctx context.Context, sub *models.Submission) error
	GetSubmission(ctx context.Context, id string) (*models.Submission, error)
	ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]*models.Submission, error)
	FindTrackedByURL(ctx context.Context, normalizedURL, excludeID string) (*models.Submission, error)
	// TransitionStatus moves a submission from one status to another and records the change.
	// Returns ErrConflict if the submission is no longer in the from status.
	TransitionStatus(ctx context.Context, id string, from, to models.Status, reasons []string) error
	StatusHistory(ctx context.Context, id string) ([]*models.StatusChange, error)

	// Validation operations
	SaveValidationResult(ctx context.Context, result *models.ValidationResult) error
	LatestValidationResult(ctx context.Context, submissionID string) (*models.ValidationResult, error)

	// Classification operations
	SaveClassification(ctx context.Context, c *models.SourceClassification) error
	GetClassification(ctx context.Context, submissionID string) (*models.SourceClassification, error)

	// Pilot operations
	CreatePilot(ctx context.Context, pilot *models.PilotRecord) error
	GetPilot(ctx context.Context, submissionID string) (*models.PilotRecord, error)
	// UpdatePilot saves the pilot if its stored extension count still equals expectedExtensions,
	// otherwise returns ErrConflict.
	UpdatePilot(ctx context.Context, pilot *models.PilotRecord, expectedExtensions int) error
	ListDuePilots(ctx context.Context, now time.Time) ([]*models.PilotRecord, error)

	// Performance metrics operations (append-only)
	AppendMetrics(ctx context.Context, m *models.PerformanceMetrics) error
	// ListMetrics returns up to limit most recent evaluations ordered oldest first
	ListMetrics(ctx context.Context, sourceID string, limit int) ([]*models.PerformanceMetrics, error)
	LatestMetrics(ctx context.Context, sourceID string) (*models.PerformanceMetrics, error)

	// Manual review queue operations
	EnqueueReview(ctx context.Context, item *models.ReviewItem) error
	GetOpenReview(ctx context.Context, submissionID string) (*models.ReviewItem, error)
	LatestReview(ctx context.Context, submissionID string) (*models.ReviewItem, error)
	ListReviews(ctx context.Context, filter ReviewFilter) ([]*models.ReviewItem, error)
	// CloseReview resolves a pending item. Returns ErrConflict if it was already resolved.
	CloseReview(ctx context.Context, item *models.ReviewItem) error

	// Known source registry
	FindKnownSources(ctx context.Context, normalizedURL, domain, excludeID string, limit int) ([]models.KnownSource, error)

	// Content corpus
	AddOpportunity(ctx context.Context, o *models.Opportunity) error
	Candidates(ctx context.Context, probe dedup.Probe, limit int) ([]*models.Opportunity, error)

	// Maintenance
	Close() error
	Migrate() error
}

// SubmissionFilter defines filtering options for submissions
type SubmissionFilter struct {
	Statuses  []models.Status
	Limit     int
	Offset    int
	OrderDesc bool
}

// ReviewFilter defines filtering options for review items
type ReviewFilter struct {
	State *models.ReviewState
	Limit int
}

// DefaultSubmissionFilter returns a filter with sensible defaults
func DefaultSubmissionFilter() SubmissionFilter {
	return SubmissionFilter{
		Limit:     50,
		OrderDesc: true,
	}
}

// PendingReviews returns a filter for the open review queue
func PendingReviews(limit int) ReviewFilter {
	state := models.ReviewPending
	return ReviewFilter{State: &state, Limit: limit}
}
