package classifier

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/source-vetting/internal/models"
)

var (
	feedPathExpr = regexp.MustCompile(`(?i)(\.(rss|atom|rdf)$|\.xml$|/(feed|feeds|rss|atom)(/|$)|[?&](format|type)=(rss|atom|feed))`)
	apiPathExpr  = regexp.MustCompile(`(?i)(/api(/|$)|/v[0-9]+(/|$)|/graphql(/|$)|\.json$|/rest(/|$))`)
	docExtExpr   = regexp.MustCompile(`(?i)\.(pdf|docx?|xlsx?|odt|ods|pptx?|csv)$`)
)

var socialHosts = map[string]bool{
	"twitter.com":     true,
	"x.com":           true,
	"facebook.com":    true,
	"fb.com":          true,
	"instagram.com":   true,
	"linkedin.com":    true,
	"youtube.com":     true,
	"tiktok.com":      true,
	"reddit.com":      true,
	"t.me":            true,
	"threads.net":     true,
	"mastodon.social": true,
	"bsky.app":        true,
}

// phase-one confidences
const (
	confidenceStrong    = 0.95
	confidenceAPI       = 0.9
	confidenceAmbiguous = 0.5
	confidenceUnknown   = 0.3
)

// ClassifyURL classifies a source from its URL shape alone
func ClassifyURL(raw string) (models.SourceType, float64) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return models.SourceTypeUnknown, confidenceUnknown
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	p := strings.ToLower(u.Path)
	target := p
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}

	switch {
	case socialHosts[host] || socialHosts[parentHost(host)]:
		return models.SourceTypeSocialMedia, confidenceStrong
	case docExtExpr.MatchString(path.Base(p)):
		return models.SourceTypeDocument, confidenceStrong
	case feedPathExpr.MatchString(target) || strings.HasPrefix(host, "feeds.") || strings.HasPrefix(host, "rss."):
		return models.SourceTypeRSSFeed, confidenceStrong
	case strings.HasPrefix(host, "api.") || apiPathExpr.MatchString(p):
		return models.SourceTypeAPI, confidenceAPI
	default:
		// Static or dynamic cannot be told apart without looking at the page
		return models.SourceTypeWebpageStatic, confidenceAmbiguous
	}
}

func parentHost(host string) string {
	if i := strings.Index(host, "."); i >= 0 {
		return host[i+1:]
	}
	return host
}
