package models

import (
	"time"
)

// PilotStatus is the state of a pilot record
type PilotStatus string

const (
	PilotStatusPending  PilotStatus = "pending" // Approved, monitoring not started
	PilotStatusActive   PilotStatus = "active"
	PilotStatusExtended PilotStatus = "extended"
	PilotStatusPromoted PilotStatus = "promoted"
	PilotStatusRejected PilotStatus = "rejected"
)

// PilotRecord is the trial monitoring period of an admitted source
type PilotRecord struct {
	ID              uint        `gorm:"primaryKey" json:"id"`
	SubmissionID    string      `gorm:"size:36;uniqueIndex;not null" json:"submission_id"`
	StartDate       time.Time   `json:"start_date"`
	EndDate         time.Time   `gorm:"index" json:"end_date"`
	ExtensionCount  int         `gorm:"not null;default:0" json:"extension_count"`
	MaxExtensions   int         `json:"max_extensions"`
	Status          PilotStatus `gorm:"size:20;not null" json:"status"`
	OutcomeReasons  StringSlice `gorm:"type:json" json:"outcome_reasons"`
	EvaluationCount int         `json:"evaluation_count"`
	CreatedAt       time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

// Terminal reports whether the pilot has concluded
func (p *PilotRecord) Terminal() bool {
	return p.Status == PilotStatusPromoted || p.Status == PilotStatusRejected
}

// CanExtend reports whether another extension is allowed
func (p *PilotRecord) CanExtend() bool {
	return p.ExtensionCount < p.MaxExtensions
}

// Expired reports whether the pilot window has elapsed at the given time
func (p *PilotRecord) Expired(now time.Time) bool {
	return !now.Before(p.EndDate)
}
