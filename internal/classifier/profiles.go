package classifier

import (
	"time"

	"github.com/source-vetting/internal/models"
)

type typeSettings struct {
	profile         models.SourceProfile
	parsing         string
	timeout         time.Duration
	rateLimitPerMin int
}

var settings = map[models.SourceType]typeSettings{
	models.SourceTypeRSSFeed: {
		profile: models.SourceProfile{
			MonitoringStrategy: "feed_polling",
			SetupDifficulty:    "easy",
			ReliabilityTier:    "high",
			DedupStrategy:      "guid_and_url",
		},
		parsing:         "feed",
		timeout:         30 * time.Second,
		rateLimitPerMin: 60,
	},
	models.SourceTypeAPI: {
		profile: models.SourceProfile{
			MonitoringStrategy: "api_polling",
			SetupDifficulty:    "medium",
			ReliabilityTier:    "high",
			DedupStrategy:      "record_id",
		},
		parsing:         "json",
		timeout:         30 * time.Second,
		rateLimitPerMin: 30,
	},
	models.SourceTypeSocialMedia: {
		profile: models.SourceProfile{
			MonitoringStrategy: "social_stream",
			SetupDifficulty:    "hard",
			ReliabilityTier:    "low",
			DedupStrategy:      "content_hash",
		},
		parsing:         "social_api",
		timeout:         30 * time.Second,
		rateLimitPerMin: 10,
	},
	models.SourceTypeDocument: {
		profile: models.SourceProfile{
			MonitoringStrategy: "document_diff",
			SetupDifficulty:    "medium",
			ReliabilityTier:    "medium",
			DedupStrategy:      "content_hash",
		},
		parsing:         "document_text",
		timeout:         60 * time.Second,
		rateLimitPerMin: 5,
	},
	models.SourceTypeWebpageStatic: {
		profile: models.SourceProfile{
			MonitoringStrategy: "html_scrape",
			SetupDifficulty:    "medium",
			ReliabilityTier:    "medium",
			DedupStrategy:      "url_and_content",
		},
		parsing:         "css_selectors",
		timeout:         30 * time.Second,
		rateLimitPerMin: 20,
	},
	models.SourceTypeWebpageDynamic: {
		profile: models.SourceProfile{
			MonitoringStrategy: "headless_render",
			SetupDifficulty:    "hard",
			ReliabilityTier:    "low",
			DedupStrategy:      "url_and_content",
		},
		parsing:         "headless_browser",
		timeout:         60 * time.Second,
		rateLimitPerMin: 10,
	},
	models.SourceTypeUnknown: {
		profile: models.SourceProfile{
			MonitoringStrategy: "manual",
			SetupDifficulty:    "hard",
			ReliabilityTier:    "low",
			DedupStrategy:      "content_hash",
		},
		parsing:         "manual",
		timeout:         30 * time.Second,
		rateLimitPerMin: 5,
	},
}

var checkIntervals = map[models.UpdateFrequency]time.Duration{
	models.FrequencyRealtime:  15 * time.Minute,
	models.FrequencyHourly:    time.Hour,
	models.FrequencyDaily:     6 * time.Hour,
	models.FrequencyWeekly:    24 * time.Hour,
	models.FrequencyMonthly:   72 * time.Hour,
	models.FrequencyIrregular: 12 * time.Hour,
}

var pageExtraction = models.ExtractionHints{
	Item:        "article, .post, .listing, .views-row, li.item",
	Title:       "h1, h2, h3, .title",
	Description: "p, .summary, .description, .excerpt",
	Link:        "a[href]",
	Deadline:    ".deadline, time[datetime], [data-deadline]",
}

// ProfileFor returns the fixed profile of a source type
func ProfileFor(t models.SourceType) models.SourceProfile {
	if s, ok := settings[t]; ok {
		return s.profile
	}
	return settings[models.SourceTypeUnknown].profile
}

// MonitoringFor builds the monitoring plan for a type and claimed update frequency
func MonitoringFor(t models.SourceType, freq models.UpdateFrequency, signals *models.StructuralSignals) models.MonitoringConfig {
	s, ok := settings[t]
	if !ok {
		s = settings[models.SourceTypeUnknown]
	}
	interval, ok := checkIntervals[freq]
	if !ok {
		interval = checkIntervals[models.FrequencyIrregular]
	}

	cfg := models.MonitoringConfig{
		CheckInterval:   interval,
		Timeout:         s.timeout,
		RetryCount:      3,
		ParsingStrategy: s.parsing,
		RateLimitPerMin: s.rateLimitPerMin,
	}

	if t == models.SourceTypeWebpageStatic || t == models.SourceTypeWebpageDynamic {
		hints := pageExtraction
		cfg.Extraction = &hints
		cfg.RequiresJS = t == models.SourceTypeWebpageDynamic
	}
	if signals != nil && signals.AlternateFeed != "" {
		cfg.FeedURL = signals.AlternateFeed
	}
	return cfg
}
