package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Opportunity is a content item in the corpus (a grant, call, prize or similar listing)
type Opportunity struct {
	ID              string              `gorm:"primaryKey;size:64" json:"id"`
	SourceID        string              `gorm:"size:36;index" json:"source_id"`
	Title           string              `gorm:"size:1024;not null" json:"title"`
	URL             string              `gorm:"size:2048" json:"url"`
	NormalizedURL   string              `gorm:"size:2048;index" json:"normalized_url"`
	Domain          string              `gorm:"size:255;index" json:"domain"`
	ContentHash     string              `gorm:"size:64;index" json:"content_hash"`
	Description     string              `gorm:"type:text" json:"description"`
	Organization    string              `gorm:"size:512" json:"organization"`
	OrganizationKey string              `gorm:"size:512;index" json:"organization_key"`
	Amount          decimal.NullDecimal `gorm:"type:numeric" json:"amount"`
	Currency        string              `gorm:"size:8" json:"currency"`
	Deadline        *time.Time          `json:"deadline"`
	CreatedAt       time.Time           `gorm:"autoCreateTime" json:"created_at"`
}

// DedupAction is what ingestion should do with a candidate record
type DedupAction string

const (
	ActionSkip          DedupAction = "skip"
	ActionMerge         DedupAction = "merge"
	ActionFlagForReview DedupAction = "flag_for_review"
	ActionProceed       DedupAction = "proceed"
)

// MatchType names the signal that produced a match
type MatchType string

const (
	MatchNone     MatchType = "none"
	MatchURL      MatchType = "url"
	MatchContent  MatchType = "content"
	MatchMetadata MatchType = "metadata"
	MatchSemantic MatchType = "semantic"
)

// DuplicateMatch is the result of comparing a candidate record against the corpus.
// The best match is reported even when the action is ActionProceed.
type DuplicateMatch struct {
	Action         DedupAction           `json:"action"`
	MatchType      MatchType             `json:"match_type"`
	Similarity     float64               `json:"similarity"`
	Confidence     float64               `json:"confidence"`
	MatchedID      string                `json:"matched_id,omitempty"`
	Signals        map[MatchType]float64 `json:"signals,omitempty"`
	CandidatesSeen int                   `json:"candidates_seen"`
	NormalizedURL  string                `json:"normalized_url"`
	ContentHash    string                `json:"content_hash"`
	Reasons        []string              `json:"reasons,omitempty"`
}

// IsDuplicate reports whether the record should not be ingested as new
func (m *DuplicateMatch) IsDuplicate() bool {
	return m.Action == ActionSkip || m.Action == ActionMerge
}
