package models

import (
	"time"
)

// SourceProfile is the fixed operational profile of a source type
type SourceProfile struct {
	MonitoringStrategy string `json:"monitoring_strategy"`
	SetupDifficulty    string `json:"setup_difficulty"`
	ReliabilityTier    string `json:"reliability_tier"`
	DedupStrategy      string `json:"dedup_strategy"`
}

// ExtractionHints are default structural selectors for page-scraping source types
type ExtractionHints struct {
	Item        string `json:"item"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Link        string `json:"link"`
	Deadline    string `json:"deadline"`
}

// MonitoringConfig is how the monitoring collaborator should poll a source
type MonitoringConfig struct {
	CheckInterval   time.Duration    `json:"check_interval"`
	Timeout         time.Duration    `json:"timeout"`
	RetryCount      int              `json:"retry_count"`
	ParsingStrategy string           `json:"parsing_strategy"`
	RateLimitPerMin int              `json:"rate_limit_per_min"`
	RequiresJS      bool             `json:"requires_js,omitempty"`
	FeedURL         string           `json:"feed_url,omitempty"` // Alternate feed advertised by the page
	Extraction      *ExtractionHints `json:"extraction,omitempty"`
}

// StructuralSignals are the page features observed during content-based refinement
type StructuralSignals struct {
	ContentType   string  `json:"content_type,omitempty"`
	FeedMarkup    bool    `json:"feed_markup"`
	FeedItems     int     `json:"feed_items,omitempty"`
	ScriptDensity float64 `json:"script_density"`
	TextDensity   float64 `json:"text_density"`
	ScriptCount   int     `json:"script_count"`
	AppRoot       bool    `json:"app_root"`
	AlternateFeed string  `json:"alternate_feed,omitempty"`
}

// SourceClassification is the resolved type and monitoring plan for an accepted submission
type SourceClassification struct {
	ID           uint               `gorm:"primaryKey" json:"id"`
	SubmissionID string             `gorm:"size:36;uniqueIndex;not null" json:"submission_id"`
	Type         SourceType         `gorm:"size:40;not null" json:"type"`
	Confidence   float64            `json:"confidence"`
	Phase        int                `json:"phase"` // 1 = url pattern only, 2 = refined from content
	Profile      SourceProfile      `gorm:"serializer:json" json:"profile"`
	Monitoring   MonitoringConfig   `gorm:"serializer:json" json:"monitoring"`
	Signals      *StructuralSignals `gorm:"serializer:json" json:"signals,omitempty"`
	CreatedAt    time.Time          `gorm:"autoCreateTime" json:"created_at"`
}
