package models

import (
	"time"
)

// Recommendation is the admission decision for a submission
type Recommendation string

const (
	RecommendationAccept       Recommendation = "accept"
	RecommendationManualReview Recommendation = "manual_review"
	RecommendationReject       Recommendation = "reject"
)

// Check names used in CheckResult.Name
const (
	CheckReachability = "reachability"
	CheckRelevance    = "relevance"
	CheckAuthority    = "authority"
	CheckPolicy       = "policy"
	CheckDuplicate    = "duplicate"
	CheckFeasibility  = "feasibility"
	CheckSamples      = "samples"
)

// CheckResult is the outcome of one independent admission check
type CheckResult struct {
	Name        string             `json:"name"`
	Score       float64            `json:"score"`
	Weight      float64            `json:"weight"`
	HardFail    bool               `json:"hard_fail,omitempty"`
	Degraded    bool               `json:"degraded,omitempty"` // Retries exhausted, worst-case score used
	SubScores   map[string]float64 `json:"sub_scores,omitempty"`
	Details     map[string]string  `json:"details,omitempty"`
	Issues      []string           `json:"issues,omitempty"`
	Suggestions []string           `json:"suggestions,omitempty"`
	Duration    time.Duration      `json:"duration"`
}

// ValidationResult is one admission validation attempt. Results are append-only per submission.
type ValidationResult struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	SubmissionID   string         `gorm:"size:36;index;not null" json:"submission_id"`
	Attempt        int            `gorm:"not null" json:"attempt"`
	Score          float64        `json:"score"`
	Recommendation Recommendation `gorm:"size:20;not null" json:"recommendation"`
	HardFail       string         `gorm:"size:255" json:"hard_fail,omitempty"`
	ReviewPriority string         `gorm:"size:20" json:"review_priority,omitempty"`
	Checks         []CheckResult  `gorm:"serializer:json" json:"checks"`
	Issues         StringSlice    `gorm:"type:json" json:"issues"`
	Suggestions    StringSlice    `gorm:"type:json" json:"suggestions"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// Check returns the named check result, or nil
func (v *ValidationResult) Check(name string) *CheckResult {
	for i := range v.Checks {
		if v.Checks[i].Name == name {
			return &v.Checks[i]
		}
	}
	return nil
}
