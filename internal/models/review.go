package models

import (
	"time"
)

// ReviewState is the state of a manual review queue item
type ReviewState string

const (
	ReviewPending   ReviewState = "pending"
	ReviewApproved  ReviewState = "approved"
	ReviewRejected  ReviewState = "rejected"
	ReviewWithdrawn ReviewState = "withdrawn"
)

// ReviewDecision is a human decision on a pending review
type ReviewDecision string

const (
	DecisionApprove ReviewDecision = "approve"
	DecisionReject  ReviewDecision = "reject"
)

// Review priorities
const (
	PriorityHigh = "high"
	PriorityLow  = "low"
)

// ReviewItem is a submission waiting for a human admission decision
type ReviewItem struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	SubmissionID string      `gorm:"size:36;index;not null" json:"submission_id"`
	Name         string      `gorm:"size:255" json:"name"`
	URL          string      `gorm:"size:2048" json:"url"`
	Score        float64     `json:"score"`
	Priority     string      `gorm:"size:20" json:"priority"`
	Issues       StringSlice `gorm:"type:json" json:"issues"`
	State        ReviewState `gorm:"size:20;index;not null" json:"state"`
	Notes        string      `gorm:"type:text" json:"notes"`
	Reviewer     string      `gorm:"size:255" json:"reviewer"`
	CreatedAt    time.Time   `gorm:"autoCreateTime" json:"created_at"`
	ResolvedAt   *time.Time  `json:"resolved_at"`
}
