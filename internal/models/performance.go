package models

import (
	"time"
)

// PerformanceStatus is the status band of an evaluation
type PerformanceStatus string

const (
	PerformanceExcellent  PerformanceStatus = "excellent"
	PerformanceGood       PerformanceStatus = "good"
	PerformanceAcceptable PerformanceStatus = "acceptable"
	PerformancePoor       PerformanceStatus = "poor"
	PerformanceFailing    PerformanceStatus = "failing"
)

// Trend is the advisory direction of a metric over recent evaluations
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

// Relevance categories reported by the ingestion metrics service
const (
	RelevanceHigh       = "high"
	RelevanceMedium     = "medium"
	RelevanceLow        = "low"
	RelevanceIrrelevant = "irrelevant"
)

// VolumeMetrics describes how much a source contributed
type VolumeMetrics struct {
	TotalItems      int            `json:"total_items"`
	RelevanceCounts map[string]int `json:"relevance_counts"`
	RelevanceRate   float64        `json:"relevance_rate"`
}

// QualityMetrics describes how good the contributed items were
type QualityMetrics struct {
	ApprovalRate  float64 `json:"approval_rate"`
	DuplicateRate float64 `json:"duplicate_rate"`
	Completeness  float64 `json:"completeness"`
}

// TechnicalMetrics describes how dependable monitoring was
type TechnicalMetrics struct {
	Reliability    float64       `json:"reliability"`
	AverageLatency time.Duration `json:"average_latency"`
	ErrorRate      float64       `json:"error_rate"`
}

// ValueMetrics describes the downstream value of contributions
type ValueMetrics struct {
	UniqueAccepted      int `json:"unique_accepted"`
	HighValue           int `json:"high_value"`
	DownstreamSuccesses int `json:"downstream_successes"`
}

// PerformanceMetrics is one evaluation of a source. Rows are append-only and ordered by EvaluatedAt.
type PerformanceMetrics struct {
	ID              uint              `gorm:"primaryKey" json:"id"`
	SourceID        string            `gorm:"size:36;index:idx_metrics_source_time,priority:1;not null" json:"source_id"`
	EvaluatedAt     time.Time         `gorm:"index:idx_metrics_source_time,priority:2;not null" json:"evaluated_at"`
	WindowStart     time.Time         `json:"window_start"`
	WindowEnd       time.Time         `json:"window_end"`
	Volume          VolumeMetrics     `gorm:"serializer:json" json:"volume"`
	Quality         QualityMetrics    `gorm:"serializer:json" json:"quality"`
	Technical       TechnicalMetrics  `gorm:"serializer:json" json:"technical"`
	Value           ValueMetrics      `gorm:"serializer:json" json:"value"`
	VolumeScore     float64           `json:"volume_score"`
	QualityScore    float64           `json:"quality_score"`
	TechnicalScore  float64           `json:"technical_score"`
	ValueScore      float64           `json:"value_score"`
	OverallScore    float64           `json:"overall_score"`
	Status          PerformanceStatus `gorm:"size:20;not null" json:"status"`
	MinimumsMet     bool              `json:"minimums_met"`
	GateBreaches    StringSlice       `gorm:"type:json" json:"gate_breaches"`
	FailingBreaches StringSlice       `gorm:"type:json" json:"failing_breaches"`
	Trends          map[string]Trend  `gorm:"serializer:json" json:"trends"`
	Recommendations StringSlice       `gorm:"type:json" json:"recommendations"`
}

// Failing reports whether a failing-threshold gate was breached
func (m *PerformanceMetrics) Failing() bool {
	return m.Status == PerformanceFailing
}
