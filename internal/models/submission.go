package models

import (
	"strings"
	"time"
)

// SourceType is the technical kind of a content source
type SourceType string

const (
	SourceTypeRSSFeed        SourceType = "rss_feed"
	SourceTypeAPI            SourceType = "api"
	SourceTypeSocialMedia    SourceType = "social_media"
	SourceTypeDocument       SourceType = "document"
	SourceTypeWebpageStatic  SourceType = "webpage_static"
	SourceTypeWebpageDynamic SourceType = "webpage_dynamic"
	SourceTypeUnknown        SourceType = "unknown"
)

// ParseSourceType maps free-form submitter input onto a SourceType
func ParseSourceType(s string) SourceType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rss", "rss_feed", "atom", "feed":
		return SourceTypeRSSFeed
	case "api", "json", "rest":
		return SourceTypeAPI
	case "social", "social_media":
		return SourceTypeSocialMedia
	case "document", "pdf", "doc":
		return SourceTypeDocument
	case "webpage", "webpage_static", "html", "website":
		return SourceTypeWebpageStatic
	case "webpage_dynamic", "spa", "dynamic":
		return SourceTypeWebpageDynamic
	default:
		return SourceTypeUnknown
	}
}

// UpdateFrequency is how often a source claims to publish
type UpdateFrequency string

const (
	FrequencyRealtime  UpdateFrequency = "realtime"
	FrequencyHourly    UpdateFrequency = "hourly"
	FrequencyDaily     UpdateFrequency = "daily"
	FrequencyWeekly    UpdateFrequency = "weekly"
	FrequencyMonthly   UpdateFrequency = "monthly"
	FrequencyIrregular UpdateFrequency = "irregular"
)

// ParseUpdateFrequency normalizes a claimed update frequency
func ParseUpdateFrequency(s string) UpdateFrequency {
	switch f := UpdateFrequency(strings.ToLower(strings.TrimSpace(s))); f {
	case FrequencyRealtime, FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return f
	default:
		return FrequencyIrregular
	}
}

// SourceSubmission is the immutable input describing a proposed source
type SourceSubmission struct {
	Name             string             `gorm:"size:255;not null" json:"name"`
	URL              string             `gorm:"size:2048;not null" json:"url"`
	ContactName      string             `gorm:"size:255" json:"contact_name"`
	ContactEmail     string             `gorm:"size:255;not null" json:"contact_email"`
	ContactRole      string             `gorm:"size:255" json:"contact_role"`
	ClaimedType      string             `gorm:"size:50" json:"claimed_type"`
	ClaimedFrequency string             `gorm:"size:50" json:"claimed_frequency"`
	GeographicFocus  string             `gorm:"size:255" json:"geographic_focus"`
	SampleURLs       StringSlice        `gorm:"type:json" json:"sample_urls"`
	ClaimedRelevance map[string]float64 `gorm:"serializer:json" json:"claimed_relevance"`
	HasPermission    bool               `json:"has_permission"`
	ExpectedVolume   int                `json:"expected_volume"` // Items per month, 0 if unknown
}

// Status is the lifecycle state of a submission
type Status string

const (
	StatusSubmitted             Status = "submitted"
	StatusValidating            Status = "validating"
	StatusRejected              Status = "rejected"
	StatusManualReviewPending   Status = "manual_review_pending"
	StatusApprovedForPilot      Status = "approved_for_pilot"
	StatusPilotActive           Status = "pilot_active"
	StatusPilotEvaluation       Status = "pilot_evaluation"
	StatusPilotExtended         Status = "pilot_extended"
	StatusApprovedForProduction Status = "approved_for_production"
	StatusProductionActive      Status = "production_active"
	StatusDeprecated            Status = "deprecated"
	StatusSuspended             Status = "suspended"
)

// AllStatuses lists every lifecycle state
var AllStatuses = []Status{
	StatusSubmitted,
	StatusValidating,
	StatusRejected,
	StatusManualReviewPending,
	StatusApprovedForPilot,
	StatusPilotActive,
	StatusPilotEvaluation,
	StatusPilotExtended,
	StatusApprovedForProduction,
	StatusProductionActive,
	StatusDeprecated,
	StatusSuspended,
}

// Tracked reports whether a source in this state blocks a new submission for the same url
func (s Status) Tracked() bool {
	switch s {
	case StatusRejected, StatusDeprecated, StatusSuspended:
		return false
	default:
		return true
	}
}

// Submission is the persisted record for a SourceSubmission and its lifecycle state
type Submission struct {
	ID            string      `gorm:"primaryKey;size:36" json:"id"`
	NormalizedURL string      `gorm:"size:2048;index" json:"normalized_url"`
	Domain        string      `gorm:"size:255;index" json:"domain"`
	Status        Status      `gorm:"size:40;index;not null" json:"status"`
	StatusReasons StringSlice `gorm:"type:json" json:"status_reasons"`
	CreatedAt     time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time   `gorm:"autoUpdateTime" json:"updated_at"`

	SourceSubmission `gorm:"embedded"`
}

// StatusChange is the audit trail of lifecycle transitions
type StatusChange struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	SubmissionID string      `gorm:"size:36;index;not null" json:"submission_id"`
	From         Status      `gorm:"size:40" json:"from"`
	To           Status      `gorm:"size:40;not null" json:"to"`
	Reasons      StringSlice `gorm:"type:json" json:"reasons"`
	At           time.Time   `gorm:"index" json:"at"`
}

// KnownSource is a source already tracked by the platform
type KnownSource struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	URL           string `json:"url"`
	NormalizedURL string `json:"normalized_url"`
	Domain        string `json:"domain"`
	Status        Status `json:"status"`
}
