package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/source-vetting/internal/dedup"
	"github.com/source-vetting/internal/models"
	"github.com/source-vetting/internal/storage"
)

// Repository implements storage.Repository using SQLite
type Repository struct {
	db *gorm.DB
}

var _ storage.Repository = (*Repository)(nil)

// New creates a new SQLite repository
func New(dsn string) (*Repository, error) {
	path := dsn
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path != ":memory:" {
		// Ensure directory exists
		dir := filepath.Dir(path)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
	}
	if !strings.Contains(dsn, "_pragma=busy_timeout") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return &Repository{db: db}, nil
}

// Migrate runs database migrations
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(
		&models.Submission{},
		&models.StatusChange{},
		&models.ValidationResult{},
		&models.SourceClassification{},
		&models.PilotRecord{},
		&models.PerformanceMetrics{},
		&models.ReviewItem{},
		&models.Opportunity{},
	)
}

// Close closes the database connection
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RunInTx runs fn inside a transaction. Nested calls reuse the outer transaction.
func (r *Repository) RunInTx(ctx context.Context, fn func(tx storage.Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotFound
	}
	return err
}

// Submission operations

func (r *Repository) CreateSubmission(ctx context.Context, sub *models.Submission) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sub).Error; err != nil {
			return fmt.Errorf("insert submission: %w", err)
		}
		change := &models.StatusChange{
			SubmissionID: sub.ID,
			To:           sub.Status,
			Reasons:      sub.StatusReasons,
			At:           sub.CreatedAt,
		}
		if err := tx.Create(change).Error; err != nil {
			return fmt.Errorf("insert status change: %w", err)
		}
		return nil
	})
}

func (r *Repository) GetSubmission(ctx context.Context, id string) (*models.Submission, error) {
	var sub models.Submission
	if err := r.db.WithContext(ctx).First(&sub, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &sub, nil
}

func (r *Repository) ListSubmissions(ctx context.Context, filter storage.SubmissionFilter) ([]*models.Submission, error) {
	var subs []*models.Submission
	query := r.db.WithContext(ctx).Model(&models.Submission{})

	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}

	if filter.OrderDesc {
		query = query.Order("created_at DESC")
	} else {
		query = query.Order("created_at ASC")
	}

	// Pagination
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	if err := query.Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func trackedStatuses() []models.Status {
	var out []models.Status
	for _, s := range models.AllStatuses {
		if s.Tracked() {
			out = append(out, s)
		}
	}
	return out
}

func (r *Repository) FindTrackedByURL(ctx context.Context, normalizedURL, excludeID string) (*models.Submission, error) {
	var sub models.Submission
	query := r.db.WithContext(ctx).
		Where("normalized_url = ? AND status IN ?", normalizedURL, trackedStatuses())
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}
	if err := query.Order("created_at ASC").First(&sub).Error; err != nil {
		return nil, notFound(err)
	}
	return &sub, nil
}

func (r *Repository) TransitionStatus(ctx context.Context, id string, from, to models.Status, reasons []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.Model(&models.Submission{}).
			Where("id = ? AND status = ?", id, from).
			Updates(map[string]interface{}{
				"status":         to,
				"status_reasons": models.StringSlice(reasons),
				"updated_at":     now,
			})
		if res.Error != nil {
			return fmt.Errorf("update status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: submission %s is not %s", storage.ErrConflict, id, from)
		}
		change := &models.StatusChange{
			SubmissionID: id,
			From:         from,
			To:           to,
			Reasons:      reasons,
			At:           now,
		}
		return tx.Create(change).Error
	})
}

func (r *Repository) StatusHistory(ctx context.Context, id string) ([]*models.StatusChange, error) {
	var changes []*models.StatusChange
	if err := r.db.WithContext(ctx).
		Where("submission_id = ?", id).
		Order("id ASC").
		Find(&changes).Error; err != nil {
		return nil, err
	}
	return changes, nil
}

// Validation operations

func (r *Repository) SaveValidationResult(ctx context.Context, result *models.ValidationResult) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.ValidationResult{}).
			Where("submission_id = ?", result.SubmissionID).
			Count(&count).Error; err != nil {
			return err
		}
		result.Attempt = int(count) + 1
		return tx.Create(result).Error
	})
}

func (r *Repository) LatestValidationResult(ctx context.Context, submissionID string) (*models.ValidationResult, error) {
	var result models.ValidationResult
	if err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("attempt DESC").
		First(&result).Error; err != nil {
		return nil, notFound(err)
	}
	return &result, nil
}

// Classification operations

func (r *Repository) SaveClassification(ctx context.Context, c *models.SourceClassification) error {
	// Upsert - one classification per submission
	var existing models.SourceClassification
	if err := r.db.WithContext(ctx).Where("submission_id = ?", c.SubmissionID).First(&existing).Error; err == nil {
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
	}
	return r.db.WithContext(ctx).Save(c).Error
}

func (r *Repository) GetClassification(ctx context.Context, submissionID string) (*models.SourceClassification, error) {
	var c models.SourceClassification
	if err := r.db.WithContext(ctx).Where("submission_id = ?", submissionID).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// Pilot operations

func (r *Repository) CreatePilot(ctx context.Context, pilot *models.PilotRecord) error {
	return r.db.WithContext(ctx).Create(pilot).Error
}

func (r *Repository) GetPilot(ctx context.Context, submissionID string) (*models.PilotRecord, error) {
	var pilot models.PilotRecord
	if err := r.db.WithContext(ctx).Where("submission_id = ?", submissionID).First(&pilot).Error; err != nil {
		return nil, notFound(err)
	}
	return &pilot, nil
}

func (r *Repository) UpdatePilot(ctx context.Context, pilot *models.PilotRecord, expectedExtensions int) error {
	res := r.db.WithContext(ctx).Model(&models.PilotRecord{}).
		Where("id = ? AND extension_count = ?", pilot.ID, expectedExtensions).
		Updates(map[string]interface{}{
			"start_date":       pilot.StartDate,
			"end_date":         pilot.EndDate,
			"extension_count":  pilot.ExtensionCount,
			"status":           pilot.Status,
			"outcome_reasons":  pilot.OutcomeReasons,
			"evaluation_count": pilot.EvaluationCount,
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("update pilot: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: pilot %d extension count is not %d", storage.ErrConflict, pilot.ID, expectedExtensions)
	}
	return nil
}

func (r *Repository) ListDuePilots(ctx context.Context, now time.Time) ([]*models.PilotRecord, error) {
	var pilots []*models.PilotRecord
	if err := r.db.WithContext(ctx).
		Where("status IN ? AND end_date <= ?",
			[]models.PilotStatus{models.PilotStatusActive, models.PilotStatusExtended}, now).
		Order("end_date ASC").
		Find(&pilots).Error; err != nil {
		return nil, err
	}
	return pilots, nil
}

// Performance metrics operations

func (r *Repository) AppendMetrics(ctx context.Context, m *models.PerformanceMetrics) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *Repository) ListMetrics(ctx context.Context, sourceID string, limit int) ([]*models.PerformanceMetrics, error) {
	var metrics []*models.PerformanceMetrics
	query := r.db.WithContext(ctx).
		Where("source_id = ?", sourceID).
		Order("evaluated_at DESC").Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&metrics).Error; err != nil {
		return nil, err
	}
	// Oldest first
	for i, j := 0, len(metrics)-1; i < j; i, j = i+1, j-1 {
		metrics[i], metrics[j] = metrics[j], metrics[i]
	}
	return metrics, nil
}

func (r *Repository) LatestMetrics(ctx context.Context, sourceID string) (*models.PerformanceMetrics, error) {
	var m models.PerformanceMetrics
	if err := r.db.WithContext(ctx).
		Where("source_id = ?", sourceID).
		Order("evaluated_at DESC").Order("id DESC").
		First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// Manual review queue operations

func (r *Repository) EnqueueReview(ctx context.Context, item *models.ReviewItem) error {
	if item.State == "" {
		item.State = models.ReviewPending
	}
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *Repository) GetOpenReview(ctx context.Context, submissionID string) (*models.ReviewItem, error) {
	var item models.ReviewItem
	if err := r.db.WithContext(ctx).
		Where("submission_id = ? AND state = ?", submissionID, models.ReviewPending).
		Order("id DESC").
		First(&item).Error; err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

func (r *Repository) LatestReview(ctx context.Context, submissionID string) (*models.ReviewItem, error) {
	var item models.ReviewItem
	if err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("id DESC").
		First(&item).Error; err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

func (r *Repository) ListReviews(ctx context.Context, filter storage.ReviewFilter) ([]*models.ReviewItem, error) {
	var items []*models.ReviewItem
	query := r.db.WithContext(ctx).Model(&models.ReviewItem{})
	if filter.State != nil {
		query = query.Where("state = ?", *filter.State)
	}
	// High priority first, then oldest first
	query = query.Order(clause.OrderBy{Expression: clause.Expr{
		SQL:                "CASE WHEN priority = ? THEN 0 ELSE 1 END, created_at ASC, id ASC",
		Vars:               []interface{}{models.PriorityHigh},
		WithoutParentheses: true,
	}})
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *Repository) CloseReview(ctx context.Context, item *models.ReviewItem) error {
	resolved := time.Now().UTC()
	if item.ResolvedAt != nil {
		resolved = *item.ResolvedAt
	}
	res := r.db.WithContext(ctx).Model(&models.ReviewItem{}).
		Where("id = ? AND state = ?", item.ID, models.ReviewPending).
		Updates(map[string]interface{}{
			"state":       item.State,
			"notes":       item.Notes,
			"reviewer":    item.Reviewer,
			"resolved_at": resolved,
		})
	if res.Error != nil {
		return fmt.Errorf("close review: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: review %d is not pending", storage.ErrConflict, item.ID)
	}
	item.ResolvedAt = &resolved
	return nil
}

// Known source registry

func (r *Repository) FindKnownSources(ctx context.Context, normalizedURL, domain, excludeID string, limit int) ([]models.KnownSource, error) {
	if normalizedURL == "" && domain == "" {
		return nil, nil
	}
	var (
		conds []string
		vars  []interface{}
	)
	if normalizedURL != "" {
		conds = append(conds, "normalized_url = ?")
		vars = append(vars, normalizedURL)
	}
	if domain != "" {
		conds = append(conds, "domain = ?")
		vars = append(vars, domain)
	}

	var subs []*models.Submission
	query := r.db.WithContext(ctx).
		Where("status IN ?", trackedStatuses()).
		Where("("+strings.Join(conds, " OR ")+")", vars...)
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}
	// Exact url matches first
	query = query.Order(clause.OrderBy{Expression: clause.Expr{
		SQL:                "CASE WHEN normalized_url = ? THEN 0 ELSE 1 END, created_at ASC",
		Vars:               []interface{}{normalizedURL},
		WithoutParentheses: true,
	}})
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&subs).Error; err != nil {
		return nil, err
	}

	out := make([]models.KnownSource, 0, len(subs))
	for _, s := range subs {
		out = append(out, models.KnownSource{
			ID:            s.ID,
			Name:          s.Name,
			URL:           s.URL,
			NormalizedURL: s.NormalizedURL,
			Domain:        s.Domain,
			Status:        s.Status,
		})
	}
	return out, nil
}

// Content corpus

func (r *Repository) AddOpportunity(ctx context.Context, o *models.Opportunity) error {
	dedup.Prepare(o)
	return r.db.WithContext(ctx).Create(o).Error
}

// Candidates returns corpus records sharing a url, content hash, domain or organization with the probe,
// strongest key first
func (r *Repository) Candidates(ctx context.Context, probe dedup.Probe, limit int) ([]*models.Opportunity, error) {
	keys := []struct {
		column string
		value  string
	}{
		{"normalized_url", probe.NormalizedURL},
		{"content_hash", probe.ContentHash},
		{"domain", probe.Domain},
		{"organization_key", probe.OrganizationKey},
	}

	var (
		conds []string
		vars  []interface{}
		order strings.Builder
		ovars []interface{}
	)
	order.WriteString("CASE")
	for i, k := range keys {
		if k.value == "" {
			continue
		}
		conds = append(conds, k.column+" = ?")
		vars = append(vars, k.value)
		fmt.Fprintf(&order, " WHEN %s = ? THEN %d", k.column, i)
		ovars = append(ovars, k.value)
	}
	if len(conds) == 0 {
		return nil, nil
	}
	order.WriteString(" ELSE 9 END, created_at ASC")

	var out []*models.Opportunity
	query := r.db.WithContext(ctx).
		Where("("+strings.Join(conds, " OR ")+")", vars...).
		Order(clause.OrderBy{Expression: clause.Expr{SQL: order.String(), Vars: ovars, WithoutParentheses: true}})
	if probe.ID != "" {
		query = query.Where("id <> ?", probe.ID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
