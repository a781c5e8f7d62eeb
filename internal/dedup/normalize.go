package dedup

import (
	"crypto/sha256"
	"fmt"
	"net"
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// trackingParams are query parameters that never identify content
var trackingParams = map[string]bool{
	"fbclid":  true,
	"gclid":   true,
	"dclid":   true,
	"msclkid": true,
	"yclid":   true,
	"igshid":  true,
	"mc_cid":  true,
	"mc_eid":  true,
	"_ga":     true,
	"_gl":     true,
	"ref":     true,
	"ref_src": true,
}

func isTrackingParam(key string) bool {
	key = strings.ToLower(key)
	return strings.HasPrefix(key, "utm_") || trackingParams[key]
}

// NormalizeURL folds a URL into its canonical comparison form: lower-cased host and path,
// http and https folded together, default ports, www prefix, tracking parameters, fragment
// and trailing slash removed, remaining query sorted.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty url")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}

	scheme := strings.ToLower(u.Scheme)
	port := u.Port()
	if scheme == "http" || scheme == "https" {
		if port == "80" || port == "443" {
			port = ""
		}
		scheme = "https"
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if port != "" {
		host += ":" + port
	}

	path := strings.ToLower(u.EscapedPath())
	path = strings.TrimRight(path, "/")

	query := u.Query()
	for key := range query {
		if isTrackingParam(key) {
			query.Del(key)
		}
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(path)
	if encoded := query.Encode(); encoded != "" {
		b.WriteString("?")
		b.WriteString(encoded)
	}
	return b.String(), nil
}

// Host returns the lower-cased host of a URL without www prefix or port
func Host(raw string) string {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// RegistrableDomain returns the eTLD+1 of a host or URL (e.g. "grants.example.org" -> "example.org")
func RegistrableDomain(hostOrURL string) string {
	host := hostOrURL
	if strings.Contains(hostOrURL, "/") || strings.Contains(hostOrURL, ":") {
		host = Host(hostOrURL)
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return ""
	}
	if net.ParseIP(host) != nil {
		return host
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

// NormalizeText applies NFKC, case folding, drops punctuation and collapses whitespace
func NormalizeText(s string) string {
	// Casers are stateful, one per call
	s = cases.Fold().String(norm.NFKC.String(s))
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// ContentHash hashes the normalized title and description of a record
func ContentHash(title, description string) string {
	data := NormalizeText(title + " " + description)
	if data == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash[:])
}

// orgNoise are legal-form and filler tokens ignored when comparing organization names
var orgNoise = map[string]bool{
	"the": true, "inc": true, "llc": true, "ltd": true, "gmbh": true,
	"corp": true, "corporation": true, "co": true, "plc": true, "of": true,
}

// OrganizationKey is the comparison key for an organization name
func OrganizationKey(org string) string {
	fields := strings.Fields(NormalizeText(org))
	kept := fields[:0]
	for _, f := range fields {
		if !orgNoise[f] {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}
